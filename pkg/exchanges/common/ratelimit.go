package common

import (
	"context"
	"strconv"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"
)

// Pacer spaces outgoing REST calls and tracks the venue-reported request
// weight so callers back off before hitting a ban threshold.
type Pacer struct {
	limiter *rate.Limiter
	log     zerolog.Logger

	mu            sync.RWMutex
	usedWeight    int
	limit         int
	lastReset     time.Time
	resetInterval time.Duration
}

// NewPacer allows perSecond requests with the given burst.
// weightLimit is the venue's per-window weight budget (e.g. 1200/min for spot).
func NewPacer(perSecond float64, burst, weightLimit int, window time.Duration, log zerolog.Logger) *Pacer {
	return &Pacer{
		limiter:       rate.NewLimiter(rate.Limit(perSecond), burst),
		log:           log,
		limit:         weightLimit,
		resetInterval: window,
		lastReset:     time.Now(),
	}
}

// Wait blocks until a request may be sent. When the weight budget is nearly
// exhausted it additionally waits out the rest of the window.
func (p *Pacer) Wait(ctx context.Context) error {
	if p.ShouldDelay() {
		p.mu.RLock()
		remaining := p.resetInterval - time.Since(p.lastReset)
		p.mu.RUnlock()
		if remaining > 0 {
			t := time.NewTimer(remaining)
			defer t.Stop()
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-t.C:
			}
		}
	}
	return p.limiter.Wait(ctx)
}

// UpdateFromHeader records the used weight reported by the venue.
func (p *Pacer) UpdateFromHeader(headerValue string) {
	if headerValue == "" {
		return
	}
	weight, err := strconv.Atoi(headerValue)
	if err != nil {
		return
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if time.Since(p.lastReset) >= p.resetInterval {
		p.lastReset = time.Now()
	}
	p.usedWeight = weight

	if p.limit <= 0 {
		return
	}
	pct := float64(p.usedWeight) / float64(p.limit) * 100
	if pct >= 95 {
		p.log.Warn().Int("used", p.usedWeight).Int("limit", p.limit).Msg("rate limit critical")
	} else if pct >= 80 {
		p.log.Info().Int("used", p.usedWeight).Int("limit", p.limit).Msg("rate limit warning")
	}
}

// Usage returns the current weight usage.
func (p *Pacer) Usage() (used, limit int, percentage float64) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	if time.Since(p.lastReset) >= p.resetInterval || p.limit <= 0 {
		return 0, p.limit, 0
	}
	return p.usedWeight, p.limit, float64(p.usedWeight) / float64(p.limit) * 100
}

// ShouldDelay reports whether usage is at or above 90% of the budget.
func (p *Pacer) ShouldDelay() bool {
	_, _, pct := p.Usage()
	return pct >= 90
}
