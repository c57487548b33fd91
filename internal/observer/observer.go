// Package observer buffers feedback signals emitted by the pipeline and
// batch-flushes them to the store. Emit never fails; delivery is at least
// once with best-effort ordering.
package observer

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog/log"

	"github.com/facetrace/facetrace/internal/models"
	"github.com/facetrace/facetrace/internal/store"
)

var (
	signalsDropped = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "facetrace",
		Subsystem: "observer",
		Name:      "signals_dropped_total",
		Help:      "Signals dropped because the buffer hit its hard cap.",
	})
	signalsFlushed = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "facetrace",
		Subsystem: "observer",
		Name:      "signals_flushed_total",
		Help:      "Signals successfully written to the store.",
	})
)

func init() {
	prometheus.MustRegister(signalsDropped, signalsFlushed)
}

// SignalWriter is the slice of the store the observer flushes through.
type SignalWriter interface {
	InsertSignals(signals []models.FeedbackSignal) error
}

// Observer is the process-wide signal buffer. Flush triggers: buffer size
// reaching flushSize, the flush interval elapsing, or an explicit Flush call
// from a surface that needs synchronous availability.
type Observer struct {
	store SignalWriter

	flushSize     int
	flushInterval time.Duration
	bufferCap     int

	mu           sync.Mutex
	buffer       []models.FeedbackSignal
	flushDropped int // overflow drops since the in-flight batch was copied

	flushMu sync.Mutex // serializes flushes, held across the store write

	kick chan struct{}
	done chan struct{}
	stop sync.Once
}

// New creates an observer and starts its background flush loop.
func New(st SignalWriter, flushSize int, flushInterval time.Duration, bufferCap int) *Observer {
	if flushSize <= 0 {
		flushSize = 50
	}
	if flushInterval <= 0 {
		flushInterval = 30 * time.Second
	}
	if bufferCap < flushSize {
		bufferCap = 500
	}
	o := &Observer{
		store:         st,
		flushSize:     flushSize,
		flushInterval: flushInterval,
		bufferCap:     bufferCap,
		kick:          make(chan struct{}, 1),
		done:          make(chan struct{}),
	}
	go o.loop()
	return o
}

// Emit buffers a signal. It never returns an error: internal problems are
// logged and the pipeline continues.
func (o *Observer) Emit(sig models.FeedbackSignal) {
	if sig.ID == "" {
		sig.ID = store.NewID()
	}
	if sig.EmittedAt.IsZero() {
		sig.EmittedAt = time.Now()
	}

	o.mu.Lock()
	o.buffer = append(o.buffer, sig)
	if len(o.buffer) > o.bufferCap {
		dropped := len(o.buffer) - o.bufferCap
		o.buffer = o.buffer[dropped:]
		o.flushDropped += dropped
		signalsDropped.Add(float64(dropped))
		log.Warn().Int("dropped", dropped).Msg("Observer buffer overflow, oldest signals dropped")
	}
	full := len(o.buffer) >= o.flushSize
	o.mu.Unlock()

	if full {
		select {
		case o.kick <- struct{}{}:
		default:
		}
	}
}

// Flush writes every buffered signal in one transaction. On failure the
// buffer is retained so the next flush retries the same rows.
func (o *Observer) Flush() error {
	o.flushMu.Lock()
	defer o.flushMu.Unlock()

	o.mu.Lock()
	n := len(o.buffer)
	if n == 0 {
		o.mu.Unlock()
		return nil
	}
	batch := make([]models.FeedbackSignal, n)
	copy(batch, o.buffer)
	o.flushDropped = 0
	o.mu.Unlock()

	if err := o.store.InsertSignals(batch); err != nil {
		log.Error().Err(err).Int("signals", n).Msg("Observer flush failed, retaining buffer")
		return err
	}
	signalsFlushed.Add(float64(n))

	// Remove what is left of the flushed prefix. A cap overflow during the
	// write drops from the front, which is this same prefix, so only the
	// surviving portion gets trimmed; signals emitted during the write stay.
	o.mu.Lock()
	trim := n - o.flushDropped
	if trim < 0 {
		trim = 0
	}
	if trim > len(o.buffer) {
		trim = len(o.buffer)
	}
	o.buffer = o.buffer[trim:]
	o.mu.Unlock()
	return nil
}

// Pending returns the current buffer depth.
func (o *Observer) Pending() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return len(o.buffer)
}

// Shutdown stops the flush loop and flushes once.
func (o *Observer) Shutdown() {
	o.stop.Do(func() { close(o.done) })
	if err := o.Flush(); err != nil {
		log.Error().Err(err).Msg("Final observer flush failed")
	}
}

func (o *Observer) loop() {
	ticker := time.NewTicker(o.flushInterval)
	defer ticker.Stop()
	for {
		select {
		case <-o.done:
			return
		case <-o.kick:
		case <-ticker.C:
		}
		if err := o.Flush(); err == nil {
			ticker.Reset(o.flushInterval)
		}
	}
}
