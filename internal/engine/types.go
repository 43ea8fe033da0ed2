package engine

import (
	"errors"
	"time"

	"momentum-core/internal/balance"
	"momentum-core/internal/events"
	"momentum-core/internal/persistence"
	"momentum-core/internal/reconciliation"
	"momentum-core/internal/strategy"
	"momentum-core/pkg/cache"
)

// ErrNotLive is returned when arming is requested in paper mode.
var ErrNotLive = errors.New("engine is not in live mode")

// Status is the operator overview served at /api/status.
type Status struct {
	Mode           string                      `json:"mode"`
	Exchange       string                      `json:"exchange"`
	Armed          bool                        `json:"armed"`
	Version        string                      `json:"version"`
	StartedAt      time.Time                   `json:"started_at"`
	Uptime         string                      `json:"uptime"`
	Timeframe      string                      `json:"timeframe"`
	Symbols        []string                    `json:"symbols"`
	Strictness     strategy.StrictnessSnapshot `json:"strictness"`
	OpenPositions  int                         `json:"open_positions"`
	PendingEntries int                         `json:"pending_entries"`
	LastHeartbeat  time.Time                   `json:"last_heartbeat"`
	Prices         map[string]cache.Quote      `json:"prices"`
	StalePrices    []string                    `json:"stale_prices,omitempty"`
	Balance        *balance.Snapshot           `json:"balance,omitempty"`
	Reconcile      *reconciliation.Report      `json:"reconcile,omitempty"`
	Journal        persistence.JournalMetrics  `json:"journal"`
	PositionStore  string                      `json:"position_store"`
}

// StreamEvent is one hub event as sent to websocket clients.
type StreamEvent struct {
	Topic events.Event `json:"topic"`
	Data  any          `json:"data"`
	TS    time.Time    `json:"ts"`
}
