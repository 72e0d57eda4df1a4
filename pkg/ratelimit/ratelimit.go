// Package ratelimit gates calls to quota-limited external services.
package ratelimit

import (
	"context"
	"fmt"

	"golang.org/x/time/rate"

	"github.com/dtnitsch/drive-ocr/models"
)

// Limiter is a token bucket shared by all workers calling one service.
// Refill is continuous at the configured rate; Acquire blocks until the
// requested tokens are available or ctx is cancelled.
type Limiter struct {
	name    string
	limiter *rate.Limiter
}

// New builds a limiter from a configured budget.
func New(name string, cfg models.RateConfig) (*Limiter, error) {
	if cfg.Capacity < 1 || cfg.RefillPerSecond <= 0 {
		return nil, fmt.Errorf("rate budget for %s must have positive capacity and refill rate", name)
	}
	return &Limiter{
		name:    name,
		limiter: rate.NewLimiter(rate.Limit(cfg.RefillPerSecond), cfg.Capacity),
	}, nil
}

// Acquire deducts cost tokens, waiting as long as necessary. A cost larger
// than the bucket capacity can never be satisfied and is an error.
func (l *Limiter) Acquire(ctx context.Context, cost int) error {
	if cost > l.limiter.Burst() {
		return fmt.Errorf("%s: requested cost %d exceeds bucket capacity %d", l.name, cost, l.limiter.Burst())
	}
	if err := l.limiter.WaitN(ctx, cost); err != nil {
		return fmt.Errorf("%s: acquire interrupted: %w", l.name, err)
	}
	return nil
}

// Name identifies the service this limiter guards.
func (l *Limiter) Name() string { return l.name }
