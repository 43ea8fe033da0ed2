package common

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// TimeSync tracks the offset between local time and an exchange server clock
// so signed requests carry timestamps inside the venue's receive window.
type TimeSync struct {
	getServerTime func(ctx context.Context) (int64, error)
	log           zerolog.Logger

	mu       sync.RWMutex
	offset   int64 // milliseconds, server - local
	lastSync time.Time
	maxAge   time.Duration
}

// NewTimeSync creates a time sync that refreshes lazily once maxAge has passed.
func NewTimeSync(getServerTime func(ctx context.Context) (int64, error), maxAge time.Duration, log zerolog.Logger) *TimeSync {
	if maxAge <= 0 {
		maxAge = 30 * time.Minute
	}
	return &TimeSync{getServerTime: getServerTime, maxAge: maxAge, log: log}
}

// Sync measures the offset assuming symmetric network latency.
func (ts *TimeSync) Sync(ctx context.Context) error {
	localBefore := time.Now().UnixMilli()
	serverTime, err := ts.getServerTime(ctx)
	if err != nil {
		return err
	}
	localAfter := time.Now().UnixMilli()
	localTime := localBefore + (localAfter-localBefore)/2

	ts.mu.Lock()
	ts.offset = serverTime - localTime
	ts.lastSync = time.Now()
	offset := ts.offset
	ts.mu.Unlock()

	ts.log.Debug().Int64("offset_ms", offset).Msg("time sync")
	return nil
}

// Now returns the current server-adjusted time in milliseconds, resyncing
// first when the last measurement is stale. A failed resync keeps the old offset.
func (ts *TimeSync) Now(ctx context.Context) int64 {
	ts.mu.RLock()
	stale := time.Since(ts.lastSync) > ts.maxAge
	ts.mu.RUnlock()
	if stale {
		if err := ts.Sync(ctx); err != nil {
			ts.log.Warn().Err(err).Msg("time sync failed")
		}
	}

	ts.mu.RLock()
	defer ts.mu.RUnlock()
	return time.Now().UnixMilli() + ts.offset
}

// Offset returns the last measured offset in milliseconds.
func (ts *TimeSync) Offset() int64 {
	ts.mu.RLock()
	defer ts.mu.RUnlock()
	return ts.offset
}
