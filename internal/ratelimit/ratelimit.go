package ratelimit

import (
	"context"
	"log/slog"
	"time"

	"golang.org/x/time/rate"

	"github.com/florinutz/deltashare/metrics"
)

// Limiter wraps a token-bucket rate limiter with per-route metrics.
type Limiter struct {
	limiter *rate.Limiter
	route   string
	logger  *slog.Logger
}

// New creates a rate limiter. If perSecond is <= 0, the limiter is a no-op
// (allows everything immediately).
func New(perSecond float64, burst int, route string, logger *slog.Logger) *Limiter {
	if logger == nil {
		logger = slog.Default()
	}
	var l *rate.Limiter
	if perSecond > 0 {
		l = rate.NewLimiter(rate.Limit(perSecond), max(burst, 1))
	}
	return &Limiter{
		limiter: l,
		route:   route,
		logger:  logger.With("component", "ratelimit", "route", route),
	}
}

// Wait blocks until the limiter allows a request, or ctx is done.
// Returns nil immediately in no-op mode.
func (l *Limiter) Wait(ctx context.Context) error {
	if l.limiter == nil {
		return nil
	}

	start := time.Now()
	err := l.limiter.Wait(ctx)
	elapsed := time.Since(start)

	if err != nil {
		l.logger.Debug("rate limit wait abandoned", "error", err)
		return err
	}
	if elapsed > time.Millisecond {
		metrics.RateLimitWaits.WithLabelValues(l.route).Inc()
		metrics.RateLimitWaitDuration.WithLabelValues(l.route).Observe(elapsed.Seconds())
	}
	return nil
}
