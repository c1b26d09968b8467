package ingest

import (
	"context"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// pacer wraps a rate.Limiter whose rate adapts to the provider: each
// success raises it by 20% up to twice the configured rate, each throttle
// halves it down to a quarter.
type pacer struct {
	mu          sync.Mutex
	limiter     *rate.Limiter
	maxRate     rate.Limit
	minRate     rate.Limit
	currentRate rate.Limit
}

// newPacer returns nil for rps <= 0, which means unpaced.
func newPacer(rps float64, burst int) *pacer {
	if rps <= 0 {
		return nil
	}
	if burst <= 0 {
		burst = 1
	}
	r := rate.Limit(rps)
	return &pacer{
		limiter:     rate.NewLimiter(r, burst),
		maxRate:     r * 2,
		minRate:     r / 4,
		currentRate: r,
	}
}

// Wait blocks until the next call may go out.
func (p *pacer) Wait(ctx context.Context) error {
	if p == nil {
		return nil
	}
	return p.limiter.Wait(ctx)
}

func (p *pacer) OnSuccess() {
	if p == nil {
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.currentRate = min(p.currentRate*1.2, p.maxRate)
	p.limiter.SetLimit(p.currentRate)
}

func (p *pacer) OnThrottle(provider string) {
	if p == nil {
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.currentRate = max(p.currentRate*0.5, p.minRate)
	p.limiter.SetLimit(p.currentRate)
	zap.L().Warn("ingest: reducing provider rate after throttle",
		zap.String("provider", provider),
		zap.Float64("new_rate", float64(p.currentRate)),
	)
}

// Limit returns the current rate.
func (p *pacer) Limit() rate.Limit {
	if p == nil {
		return rate.Inf
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.currentRate
}
