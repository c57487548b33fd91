package resilience

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/puzpuzpuz/xsync/v4"
	"github.com/rs/zerolog/log"

	scanerrors "github.com/facetrace/facetrace/internal/errors"
)

// State represents the circuit breaker state
type State int

const (
	// StateClosed means the circuit is operating normally
	StateClosed State = iota
	// StateOpen means the circuit is tripped and calls fail immediately
	StateOpen
)

// String returns the state as a string
func (s State) String() string {
	if s == StateOpen {
		return "open"
	}
	return "closed"
}

// BreakerConfig configures the circuit breaker behavior
type BreakerConfig struct {
	// FailureThreshold is the number of consecutive failures before opening
	FailureThreshold int
	// RecoveryTimeout is how long the circuit stays open before the next
	// call is admitted as a probe
	RecoveryTimeout time.Duration
}

// DefaultBreakerConfig returns the default thresholds.
func DefaultBreakerConfig() BreakerConfig {
	return BreakerConfig{
		FailureThreshold: 5,
		RecoveryTimeout:  300 * time.Second,
	}
}

var breakerTrips = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "facetrace",
		Subsystem: "resilience",
		Name:      "breaker_trips_total",
		Help:      "Total circuit breaker trips per external service.",
	},
	[]string{"service"},
)

func init() {
	prometheus.MustRegister(breakerTrips)
}

// Breaker implements a two-state circuit breaker. There is no half-open
// probing beyond the first post-timeout call: once the recovery timeout
// elapses the next call is admitted, and its outcome either closes the
// circuit or re-arms it.
type Breaker struct {
	mu sync.Mutex

	config BreakerConfig
	name   string

	state               State
	consecutiveFailures int
	openedAt            time.Time
	probing             bool
}

// NewBreaker creates a breaker for a named service.
func NewBreaker(name string, config BreakerConfig) *Breaker {
	if config.FailureThreshold <= 0 {
		config.FailureThreshold = 5
	}
	if config.RecoveryTimeout <= 0 {
		config.RecoveryTimeout = 300 * time.Second
	}
	return &Breaker{config: config, name: name, state: StateClosed}
}

// Allow reports whether a call may proceed. An open circuit admits exactly
// one call after the recovery timeout; admission resets the failure counter
// so the probe's outcome decides the next state.
func (b *Breaker) Allow() bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.state == StateClosed {
		return true
	}
	if time.Since(b.openedAt) >= b.config.RecoveryTimeout && !b.probing {
		b.probing = true
		log.Info().Str("breaker", b.name).Msg("Circuit breaker admitting probe after recovery timeout")
		return true
	}
	return false
}

// RecordSuccess resets the consecutive-failure counter and closes the
// circuit if a probe succeeded.
func (b *Breaker) RecordSuccess() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.consecutiveFailures = 0
	if b.state == StateOpen {
		log.Info().Str("breaker", b.name).Msg("Circuit breaker recovered and closed")
	}
	b.state = StateClosed
	b.probing = false
}

// RecordFailure counts a failure and opens the circuit at the threshold. A
// failed probe re-arms the open state immediately.
func (b *Breaker) RecordFailure(err error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.state == StateOpen {
		// Probe failed: re-arm without waiting for the threshold again.
		b.probing = false
		b.openedAt = time.Now()
		return
	}

	b.consecutiveFailures++
	if b.consecutiveFailures < b.config.FailureThreshold {
		return
	}
	breakerTrips.WithLabelValues(b.name).Inc()
	b.state = StateOpen
	b.openedAt = time.Now()
	b.probing = false
	log.Warn().
		Str("breaker", b.name).
		Int("failures", b.consecutiveFailures).
		Err(err).
		Msg("Circuit breaker tripped")
}

// State returns the current state.
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// Execute wraps an operation with breaker logic. When the circuit is open it
// returns ErrCircuitOpen without invoking the operation.
func (b *Breaker) Execute(operation func() error) error {
	if !b.Allow() {
		return scanerrors.ErrCircuitOpen
	}
	if err := operation(); err != nil {
		b.RecordFailure(err)
		return err
	}
	b.RecordSuccess()
	return nil
}

// BreakerRegistry holds one breaker per external service.
type BreakerRegistry struct {
	breakers *xsync.Map[string, *Breaker]
	config   BreakerConfig
}

// NewBreakerRegistry creates a registry whose breakers share one config.
func NewBreakerRegistry(config BreakerConfig) *BreakerRegistry {
	return &BreakerRegistry{
		breakers: xsync.NewMap[string, *Breaker](),
		config:   config,
	}
}

// For returns the breaker for a service, creating it on first mention.
func (r *BreakerRegistry) For(service string) *Breaker {
	b, _ := r.breakers.LoadOrCompute(service, func() (*Breaker, bool) {
		return NewBreaker(service, r.config), false
	})
	return b
}
