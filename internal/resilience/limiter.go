// Package resilience provides the primitives that protect the pipeline from
// external-service failure modes: shared token-bucket rate limiters, circuit
// breakers and retry with backoff.
package resilience

import (
	"context"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/puzpuzpuz/xsync/v4"
	"golang.org/x/time/rate"
)

// Default bucket for a service no one configured explicitly: one token per
// second with a burst of five.
const (
	DefaultRate  = rate.Limit(1)
	DefaultBurst = 5
)

var limiterWaits = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "facetrace",
		Subsystem: "resilience",
		Name:      "limiter_acquires_total",
		Help:      "Total token acquisitions per external service.",
	},
	[]string{"service"},
)

func init() {
	prometheus.MustRegister(limiterWaits)
}

// LimiterRegistry hands out one shared token-bucket limiter per external
// service name. Limiters are created lazily with the default bucket.
type LimiterRegistry struct {
	limiters *xsync.Map[string, *rate.Limiter]
}

// NewLimiterRegistry creates an empty registry.
func NewLimiterRegistry() *LimiterRegistry {
	return &LimiterRegistry{limiters: xsync.NewMap[string, *rate.Limiter]()}
}

// Configure installs a limiter for a service with an explicit rate and burst,
// replacing any existing one.
func (r *LimiterRegistry) Configure(service string, limit rate.Limit, burst int) {
	r.limiters.Store(service, rate.NewLimiter(limit, burst))
}

// For returns the shared limiter for a service, creating the default bucket
// on first mention.
func (r *LimiterRegistry) For(service string) *rate.Limiter {
	lim, _ := r.limiters.LoadOrCompute(service, func() (*rate.Limiter, bool) {
		return rate.NewLimiter(DefaultRate, DefaultBurst), false
	})
	return lim
}

// Acquire blocks until n tokens are available for the service or the context
// is done. The wait happens inside the limiter, outside any registry lock.
func (r *LimiterRegistry) Acquire(ctx context.Context, service string, n int) error {
	if err := r.For(service).WaitN(ctx, n); err != nil {
		return err
	}
	limiterWaits.WithLabelValues(service).Add(float64(n))
	return nil
}
