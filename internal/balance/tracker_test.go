package balance

import (
	"context"
	"errors"
	"testing"

	"github.com/rs/zerolog"
)

type fakeSource struct {
	free float64
	err  error
}

func (f *fakeSource) Balance(_ context.Context, asset string) (float64, error) {
	if asset != "USDT" {
		return 0, errors.New("unexpected asset " + asset)
	}
	return f.free, f.err
}

func TestTrackerEquity(t *testing.T) {
	src := &fakeSource{free: 1000}
	tr := NewTracker(src, "USDT", 0, zerolog.Nop())

	if eq := tr.Equity(); eq != 0 {
		t.Fatalf("Equity before sync=%v, expected 0", eq)
	}
	if err := tr.Sync(context.Background()); err != nil {
		t.Fatalf("Sync: %v", err)
	}
	if eq := tr.Equity(); eq != 1000 {
		t.Fatalf("Equity=%v, expected 1000", eq)
	}

	if err := tr.Reserve(300); err != nil {
		t.Fatalf("Reserve: %v", err)
	}
	if err := tr.Reserve(800); err == nil {
		t.Fatalf("Reserve beyond available err=nil, expected error")
	}
	if eq := tr.Equity(); eq != 700 {
		t.Fatalf("Equity=%v, expected 700", eq)
	}
	tr.Release(300)
	tr.Release(300)
	if s := tr.Snapshot(); s.Reserved != 0 || s.Available != 1000 {
		t.Fatalf("Snapshot=%+v", s)
	}
}

func TestTrackerKeepsLastGoodBalanceOnError(t *testing.T) {
	src := &fakeSource{free: 500}
	tr := NewTracker(src, "USDT", 0, zerolog.Nop())
	tr.Sync(context.Background())

	src.err = errors.New("timeout")
	if err := tr.Sync(context.Background()); err == nil {
		t.Fatalf("Sync err=nil, expected error")
	}
	if eq := tr.Equity(); eq != 500 {
		t.Fatalf("Equity=%v, expected last good 500", eq)
	}
	if s := tr.Snapshot(); s.Err == "" {
		t.Fatalf("Snapshot.Err empty, expected sync error")
	}
}
