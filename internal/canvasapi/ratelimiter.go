package canvasapi

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// RateLimiter is an adaptive token bucket: it halves its sustained
// rate on a 429 response (floored at a minimum) and gradually grows
// back toward the configured maximum after a quiet window with no
// 429s, since Canvas does not guarantee a quota header on every
// endpoint.
type RateLimiter struct {
	limiter *rate.Limiter

	mu         sync.Mutex
	current    float64
	min        float64
	max        float64
	lastAdjust time.Time // last time the rate changed, either backoff or growth
	logger     *slog.Logger
}

// NewRateLimiter builds a RateLimiter with the given initial sustained
// rate, floor, and ceiling (requests/sec), and a burst of 1. lastAdjust
// is seeded to construction time so a limiter that has never seen a
// 429 still requires a genuine quiet minute to elapse before its first
// growth, rather than growing on its very first call.
func NewRateLimiter(initial, min, max float64, logger *slog.Logger) *RateLimiter {
	if logger == nil {
		logger = slog.Default()
	}
	return &RateLimiter{
		limiter:    rate.NewLimiter(rate.Limit(initial), 1),
		current:    initial,
		min:        min,
		max:        max,
		lastAdjust: time.Now(),
		logger:     logger,
	}
}

// Wait blocks until a token is available or ctx is done.
func (l *RateLimiter) Wait(ctx context.Context) error {
	return l.limiter.Wait(ctx)
}

// CurrentRate returns the sustained rate currently in effect.
func (l *RateLimiter) CurrentRate() float64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.current
}

// Notify429 halves the sustained rate, floored at the configured
// minimum, and records the time so RecoverIfQuiet can detect a
// subsequent quiet window.
func (l *RateLimiter) Notify429() {
	l.mu.Lock()
	defer l.mu.Unlock()

	next := l.current / 2
	if next < l.min {
		next = l.min
	}
	if next != l.current {
		l.current = next
		l.limiter.SetLimit(rate.Limit(next))
		l.logger.Warn("rate limiter backing off after 429", "rate", next)
	}
	l.lastAdjust = time.Now()
}

// RecoverIfQuiet grows the rate by 10%, capped at the configured
// maximum, if at least one minute has passed since the last rate
// change (a 429 backoff or a prior growth step). Callers invoke this
// periodically (e.g. once per request) rather than running a
// background ticker, keeping the limiter free of its own goroutine.
func (l *RateLimiter) RecoverIfQuiet(now time.Time) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.current >= l.max {
		return
	}
	if now.Sub(l.lastAdjust) < time.Minute {
		return
	}

	next := l.current * 1.1
	if next > l.max {
		next = l.max
	}
	l.current = next
	l.limiter.SetLimit(rate.Limit(next))
	l.lastAdjust = now
}
