// Package ratelimit enforces per-customer message quotas over fixed
// wall-clock windows.
//
// The gate runs before any session state is touched. Counting is atomic in
// the backing store; a store failure surfaces as an error rather than letting
// the turn through uncounted.
package ratelimit

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/partsflow/partsflow/internal/fault"
)

// Window names one quota window.
type Window string

const (
	WindowMinute Window = "minute"
	WindowDay    Window = "day"
	WindowWeek   Window = "week"
)

// windowDurations in gate evaluation order, tightest first.
var windowOrder = []struct {
	window   Window
	duration time.Duration
}{
	{WindowMinute, time.Minute},
	{WindowDay, 24 * time.Hour},
	{WindowWeek, 7 * 24 * time.Hour},
}

// Quotas is the per-window message budget. Zero disables a window.
type Quotas struct {
	PerMinute int
	PerDay    int
	PerWeek   int
}

func (q Quotas) limit(w Window) int {
	switch w {
	case WindowMinute:
		return q.PerMinute
	case WindowDay:
		return q.PerDay
	case WindowWeek:
		return q.PerWeek
	}
	return 0
}

// Decision is the outcome of one gate check.
type Decision struct {
	Allowed bool
	// Window is the exhausted window when Allowed is false.
	Window Window
	// RetryAfter is the time until the exhausted window resets.
	RetryAfter time.Duration
}

// CounterStore increments a counter that expires at the end of its window.
// Incr returns the count after incrementing and the remaining window time.
type CounterStore interface {
	Incr(ctx context.Context, key string, window time.Duration) (count int64, ttl time.Duration, err error)
}

// Limiter gates turns against all configured windows.
type Limiter struct {
	store  CounterStore
	quotas Quotas
	logger *slog.Logger
}

// NewLimiter creates a Limiter.
func NewLimiter(store CounterStore, quotas Quotas, logger *slog.Logger) *Limiter {
	if logger == nil {
		logger = slog.Default()
	}
	return &Limiter{store: store, quotas: quotas, logger: logger}
}

// Check counts one message for customerID against every window and reports
// the first exhausted one. RetryAfter is always positive on rejection.
func (l *Limiter) Check(ctx context.Context, customerID string) (Decision, error) {
	for _, w := range windowOrder {
		limit := l.quotas.limit(w.window)
		if limit <= 0 {
			continue
		}
		count, ttl, err := l.store.Incr(ctx, counterKey(customerID, w.window), w.duration)
		if err != nil {
			return Decision{}, fmt.Errorf("rate limit counter %s: %w", w.window, err)
		}
		if count > int64(limit) {
			if ttl <= 0 {
				ttl = time.Second
			}
			l.logger.Info("rate limit exceeded",
				"customer_id", customerID,
				"window", string(w.window),
				"count", count,
				"limit", limit,
			)
			return Decision{Allowed: false, Window: w.window, RetryAfter: ttl}, nil
		}
	}
	return Decision{Allowed: true}, nil
}

// Err converts a rejecting decision into the canonical fault.
func (d Decision) Err() error {
	if d.Allowed {
		return nil
	}
	return fault.New(fault.KindRateLimited, "quota exhausted for window %s, retry in %s", d.Window, d.RetryAfter)
}

func counterKey(customerID string, w Window) string {
	return "ratelimit:" + customerID + ":" + string(w)
}
