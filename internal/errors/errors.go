// Package errors provides structured error types for pipeline operations,
// carrying enough context to classify failures as retryable or terminal.
package errors

import (
	"errors"
	"fmt"
	"time"
)

// Base error types
var (
	ErrNotFound         = errors.New("not found")
	ErrTimeout          = errors.New("timeout")
	ErrInvalidInput     = errors.New("invalid input")
	ErrConnectionFailed = errors.New("connection failed")
	ErrCircuitOpen      = errors.New("circuit open")
	ErrShuttingDown     = errors.New("shutting down")
)

// ErrorType represents the category of error
type ErrorType string

const (
	ErrorTypeTransient  ErrorType = "transient"  // timeouts, 5xx, 429: retry
	ErrorTypePermanent  ErrorType = "permanent"  // other 4xx, unparseable: do not retry
	ErrorTypeInput      ErrorType = "input"      // oversized/corrupt input: mark failed
	ErrorTypePolicy     ErrorType = "policy"     // unknown status/provider: log and drop
	ErrorTypeInternal   ErrorType = "internal"   // unexpected bug: fail the job
	ErrorTypeConnection ErrorType = "connection" // network-level failure: retry
)

// ScanError is a structured error for pipeline operations
type ScanError struct {
	Type       ErrorType
	Op         string // Operation that failed (e.g., "crawl_page", "download_image")
	Source     string // External service or platform involved
	Err        error  // Underlying error
	StatusCode int    // HTTP status code if applicable
	Timestamp  time.Time
	Retryable  bool
}

func (e *ScanError) Error() string {
	if e.Source != "" {
		return fmt.Sprintf("%s failed on %s: %v", e.Op, e.Source, e.Err)
	}
	return fmt.Sprintf("%s failed: %v", e.Op, e.Err)
}

func (e *ScanError) Unwrap() error {
	return e.Err
}

// Is implements errors.Is support for the base error types.
func (e *ScanError) Is(target error) bool {
	if target == nil {
		return false
	}
	switch target {
	case ErrTimeout:
		return e.Type == ErrorTypeTransient && errors.Is(e.Err, ErrTimeout)
	case ErrConnectionFailed:
		return e.Type == ErrorTypeConnection
	case ErrInvalidInput:
		return e.Type == ErrorTypeInput
	}
	return errors.Is(e.Err, target)
}

// New creates a ScanError with retryability derived from its type.
func New(errorType ErrorType, op, source string, err error) *ScanError {
	return &ScanError{
		Type:      errorType,
		Op:        op,
		Source:    source,
		Err:       err,
		Timestamp: time.Now(),
		Retryable: isRetryable(errorType),
	}
}

// WithStatusCode attaches an HTTP status code and reclassifies retryability:
// 5xx, 429 and 408 retry; other 4xx do not.
func (e *ScanError) WithStatusCode(code int) *ScanError {
	e.StatusCode = code
	if code >= 500 || code == 429 || code == 408 {
		e.Retryable = true
		e.Type = ErrorTypeTransient
	} else if code >= 400 && code < 500 {
		e.Retryable = false
		e.Type = ErrorTypePermanent
	}
	return e
}

func isRetryable(errorType ErrorType) bool {
	switch errorType {
	case ErrorTypeTransient, ErrorTypeConnection:
		return true
	default:
		return false
	}
}

// Transient wraps a transient external failure.
func Transient(op, source string, err error) error {
	return New(ErrorTypeTransient, op, source, err)
}

// Permanent wraps a permanent external failure.
func Permanent(op, source string, err error) error {
	return New(ErrorTypePermanent, op, source, err)
}

// Input wraps an input-invalid failure.
func Input(op string, err error) error {
	return New(ErrorTypeInput, op, "", err)
}

// IsRetryable checks whether an error should be retried. Circuit-open errors
// are never retryable regardless of what wraps them.
func IsRetryable(err error) bool {
	if errors.Is(err, ErrCircuitOpen) {
		return false
	}
	var scanErr *ScanError
	if errors.As(err, &scanErr) {
		return scanErr.Retryable
	}
	return errors.Is(err, ErrTimeout) || errors.Is(err, ErrConnectionFailed)
}
