package balance

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// Source reads a free asset balance; common.Exchange implements it.
type Source interface {
	Balance(ctx context.Context, asset string) (float64, error)
}

// Snapshot is the last synced quote balance.
type Snapshot struct {
	Asset     string    `json:"asset"`
	Available float64   `json:"available"`
	Reserved  float64   `json:"reserved"`
	LastSync  time.Time `json:"last_sync"`
	Err       string    `json:"error,omitempty"`
}

// Tracker keeps the quote balance fresh so the scanner can size from it.
// Reserve/Release cover entries in flight between sync passes.
type Tracker struct {
	source   Source
	asset    string
	interval time.Duration
	log      zerolog.Logger
	now      func() time.Time

	mu        sync.RWMutex
	available float64
	reserved  float64
	lastSync  time.Time
	lastErr   error
}

// NewTracker creates a tracker for asset (e.g. USDT).
func NewTracker(source Source, asset string, interval time.Duration, log zerolog.Logger) *Tracker {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	return &Tracker{
		source:   source,
		asset:    asset,
		interval: interval,
		log:      log,
		now:      time.Now,
	}
}

// Run syncs immediately and then every interval until ctx is cancelled.
func (t *Tracker) Run(ctx context.Context) {
	if err := t.Sync(ctx); err != nil {
		t.log.Warn().Err(err).Msg("initial balance sync failed")
	}
	ticker := time.NewTicker(t.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			if err := t.Sync(ctx); err != nil {
				t.log.Warn().Err(err).Msg("balance sync failed")
			}
		case <-ctx.Done():
			return
		}
	}
}

// Sync fetches the latest balance. Reservations survive a sync; the venue
// figure already excludes funds locked by resting orders.
func (t *Tracker) Sync(ctx context.Context) error {
	free, err := t.source.Balance(ctx, t.asset)
	t.mu.Lock()
	defer t.mu.Unlock()
	if err != nil {
		t.lastErr = err
		return fmt.Errorf("balance %s: %w", t.asset, err)
	}
	t.available = free
	t.lastSync = t.now()
	t.lastErr = nil
	t.log.Debug().Str("asset", t.asset).Float64("available", free).Msg("balance synced")
	return nil
}

// Equity is the available balance net of reservations, or 0 before the
// first successful sync.
func (t *Tracker) Equity() float64 {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if t.lastSync.IsZero() {
		return 0
	}
	if eq := t.available - t.reserved; eq > 0 {
		return eq
	}
	return 0
}

// Reserve sets aside amount for a pending entry.
func (t *Tracker) Reserve(amount float64) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if amount > t.available-t.reserved {
		return fmt.Errorf("insufficient balance: need %.2f, have %.2f", amount, t.available-t.reserved)
	}
	t.reserved += amount
	return nil
}

// Release returns a reservation.
func (t *Tracker) Release(amount float64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.reserved -= amount
	if t.reserved < 0 {
		t.reserved = 0
	}
}

// Snapshot returns the current view.
func (t *Tracker) Snapshot() Snapshot {
	t.mu.RLock()
	defer t.mu.RUnlock()
	s := Snapshot{
		Asset:     t.asset,
		Available: t.available,
		Reserved:  t.reserved,
		LastSync:  t.lastSync,
	}
	if t.lastErr != nil {
		s.Err = t.lastErr.Error()
	}
	return s
}
