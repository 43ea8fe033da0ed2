// Package engine wires the momentum core together and exposes it to the
// control layer through Service.
package engine

import (
	"context"
	"net/http"

	"momentum-core/internal/monitor"
	"momentum-core/internal/position"
	"momentum-core/internal/risk"
	"momentum-core/internal/strategy"
	"momentum-core/pkg/db"
)

// Service is everything the control API may query or change. The API never
// touches the scan loop, the risk gate or the position manager directly.
type Service interface {
	// Queries
	Status(ctx context.Context) Status
	Positions(ctx context.Context) []position.Position
	RecentTrades(ctx context.Context, limit int) ([]db.Trade, error)
	RiskMetrics(ctx context.Context) risk.Metrics
	Metrics() monitor.MetricsSnapshot
	MetricsHandler() http.Handler

	// Strictness
	Strictness() strategy.StrictnessSnapshot
	SetLooseness(v float64) strategy.StrictnessSnapshot
	SetStrictnessMode(mode string) (strategy.StrictnessSnapshot, error)
	SetTestSignal(on bool) strategy.StrictnessSnapshot

	// Live arming
	ArmLive() error
	DisarmLive() error

	// Subscribe streams every hub event until unsubscribe is called.
	Subscribe(buffer int) (<-chan StreamEvent, func())
}
