package reconciliation

import (
	"context"
	"errors"
	"testing"

	"github.com/rs/zerolog"

	"momentum-core/internal/position"
	"momentum-core/pkg/exchanges/common"
)

type fakeVenue struct {
	held []common.ExchangePosition
	err  error
}

func (f fakeVenue) OpenPositions(context.Context, string) ([]common.ExchangePosition, error) {
	return f.held, f.err
}

type fakeBook []position.Position

func (b fakeBook) Positions() []position.Position { return b }

func TestReconcile(t *testing.T) {
	book := fakeBook{
		{Symbol: "BTCUSDT", Remaining: 1.0},
		{Symbol: "ETHUSDT", Remaining: 2.0},
	}
	venue := fakeVenue{held: []common.ExchangePosition{
		{Symbol: "BTCUSDT", Qty: 0.999}, // fee-sized gap, ignored
		{Symbol: "ETHUSDT", Qty: 0.5},
		{Symbol: "SOLUSDT", Qty: 3},
		{Symbol: "DOGEUSDT", Qty: 100}, // not watched
	}}
	svc := NewService(venue, book, []string{"BTCUSDT", "ETHUSDT", "SOLUSDT"}, 0, 0, zerolog.Nop())

	report, err := svc.Reconcile(context.Background())
	if err != nil {
		t.Fatalf("Reconcile: %v", err)
	}
	if !report.HasDiffs || len(report.Diffs) != 2 {
		t.Fatalf("Diffs=%+v, expected 2", report.Diffs)
	}

	tests := []struct {
		symbol string
		kind   string
		diff   float64
	}{
		{"ETHUSDT", KindShort, 1.5},
		{"SOLUSDT", KindUntracked, -3},
	}
	for i, tt := range tests {
		t.Run(tt.symbol, func(t *testing.T) {
			d := report.Diffs[i]
			if d.Symbol != tt.symbol || d.Kind != tt.kind || d.Difference != tt.diff {
				t.Fatalf("diff=%+v, expected %s %s %v", d, tt.symbol, tt.kind, tt.diff)
			}
		})
	}
	if svc.Last() != report {
		t.Fatalf("Last did not return the latest report")
	}
}

func TestReconcilePropagatesVenueErrors(t *testing.T) {
	svc := NewService(fakeVenue{err: common.ErrTransient}, fakeBook{}, nil, 0, 0, zerolog.Nop())
	if _, err := svc.Reconcile(context.Background()); !errors.Is(err, common.ErrTransient) {
		t.Fatalf("err=%v, expected ErrTransient", err)
	}
	if svc.Last() != nil {
		t.Fatalf("expected no report after a failed pass")
	}
}
