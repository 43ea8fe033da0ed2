package market

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"momentum-core/internal/events"
	"momentum-core/pkg/exchanges/common"
)

// Feed forwards streamed prices to the hub as PriceTick events so open
// positions are managed between scan cycles. Ticks are throttled per symbol
// and the stream is re-dialled with backoff until ctx ends.
type Feed struct {
	Source      common.TickerSource
	Bus         *events.Bus
	Symbols     []string
	MinInterval time.Duration
	MaxBackoff  time.Duration
	Log         zerolog.Logger

	mu   sync.Mutex
	last map[string]time.Time
}

// Run blocks until ctx is cancelled.
func (f *Feed) Run(ctx context.Context) {
	if f.Source == nil || f.Bus == nil || len(f.Symbols) == 0 {
		f.Log.Info().Msg("price stream not configured; skipping")
		return
	}
	maxBackoff := f.MaxBackoff
	if maxBackoff <= 0 {
		maxBackoff = 30 * time.Second
	}
	initial := min(time.Second, maxBackoff)
	backoff := initial

	for ctx.Err() == nil {
		ch, stop, err := f.Source.SubscribeTickers(ctx, f.Symbols)
		if err != nil {
			f.Log.Warn().Err(err).Dur("retry_in", backoff).Msg("price stream subscribe failed")
		} else {
			f.Log.Info().Strs("symbols", f.Symbols).Msg("price stream connected")
			if f.drain(ch) > 0 {
				backoff = initial
			}
			stop()
			if ctx.Err() != nil {
				return
			}
			f.Log.Warn().Dur("retry_in", backoff).Msg("price stream ended")
		}

		select {
		case <-time.After(backoff):
		case <-ctx.Done():
			return
		}
		backoff = min(backoff*2, maxBackoff)
	}
}

// drain publishes ticks until ch closes and returns how many it read.
func (f *Feed) drain(ch <-chan common.Ticker) int {
	n := 0
	for t := range ch {
		n++
		if f.accept(t) {
			f.Bus.Publish(events.EventPriceTick, events.PriceTick{Symbol: t.Symbol, Price: t.Price})
		}
	}
	return n
}

func (f *Feed) accept(t common.Ticker) bool {
	if f.MinInterval <= 0 {
		return true
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.last == nil {
		f.last = make(map[string]time.Time)
	}
	if prev, ok := f.last[t.Symbol]; ok && t.Time.Sub(prev) < f.MinInterval {
		return false
	}
	f.last[t.Symbol] = t.Time
	return true
}
