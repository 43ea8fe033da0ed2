package reconciliation

import (
	"context"
	"math"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"momentum-core/internal/position"
	"momentum-core/pkg/exchanges/common"
)

// Venue reports what the exchange holds.
type Venue interface {
	OpenPositions(ctx context.Context, symbol string) ([]common.ExchangePosition, error)
}

// Book is the local view of managed positions.
type Book interface {
	Positions() []position.Position
}

// Diff kinds.
const (
	// KindShort means the venue holds less than the local remaining quantity,
	// e.g. a manual sell or a resting exit that filled outside the monitor.
	KindShort = "venue_short"
	// KindUntracked means a watched symbol is held on the venue with no local
	// position. Spot balances predating the process land here.
	KindUntracked = "untracked"
)

// Report is the result of one reconciliation pass.
type Report struct {
	Timestamp time.Time `json:"timestamp"`
	Diffs     []Diff    `json:"diffs"`
	HasDiffs  bool      `json:"has_diffs"`
}

// Diff is one mismatch between the venue and the local book.
type Diff struct {
	Symbol      string  `json:"symbol"`
	Kind        string  `json:"kind"`
	LocalQty    float64 `json:"local_qty"`
	ExchangeQty float64 `json:"exchange_qty"`
	Difference  float64 `json:"difference"`
}

// Service periodically compares venue holdings with managed positions. It
// only reports; positions are never resized from venue data.
type Service struct {
	venue     Venue
	book      Book
	watch     []string
	interval  time.Duration
	tolerance float64
	log       zerolog.Logger
	now       func() time.Time

	mu   sync.Mutex
	last *Report
}

// NewService creates a reconciler. tolerance is the relative quantity gap
// ignored before a diff is reported (fees are charged in the base asset on
// spot buys).
func NewService(venue Venue, book Book, watch []string, interval time.Duration, tolerance float64, log zerolog.Logger) *Service {
	if interval <= 0 {
		interval = time.Minute
	}
	if tolerance <= 0 {
		tolerance = 0.01
	}
	return &Service{
		venue:     venue,
		book:      book,
		watch:     watch,
		interval:  interval,
		tolerance: tolerance,
		log:       log,
		now:       time.Now,
	}
}

// Run reconciles every interval until ctx is cancelled.
func (s *Service) Run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	s.log.Info().Dur("interval", s.interval).Msg("reconciliation started")
	for {
		select {
		case <-ticker.C:
			report, err := s.Reconcile(ctx)
			if err != nil {
				s.log.Warn().Err(err).Msg("reconciliation failed")
				continue
			}
			s.handleReport(report)
		case <-ctx.Done():
			return
		}
	}
}

// Reconcile performs one comparison and stores it as the latest report.
func (s *Service) Reconcile(ctx context.Context) (*Report, error) {
	held, err := s.venue.OpenPositions(ctx, "")
	if err != nil {
		return nil, err
	}
	venueQty := make(map[string]float64, len(held))
	for _, h := range held {
		venueQty[h.Symbol] += h.Qty
	}

	report := &Report{Timestamp: s.now()}
	local := make(map[string]bool)
	for _, p := range s.book.Positions() {
		local[p.Symbol] = true
		got := venueQty[p.Symbol]
		if got+p.Remaining*s.tolerance < p.Remaining {
			report.Diffs = append(report.Diffs, Diff{
				Symbol:      p.Symbol,
				Kind:        KindShort,
				LocalQty:    p.Remaining,
				ExchangeQty: got,
				Difference:  p.Remaining - got,
			})
		}
	}
	for _, sym := range s.watch {
		if local[sym] {
			continue
		}
		if got := venueQty[sym]; got > 0 {
			report.Diffs = append(report.Diffs, Diff{
				Symbol:      sym,
				Kind:        KindUntracked,
				ExchangeQty: got,
				Difference:  -got,
			})
		}
	}
	sort.Slice(report.Diffs, func(i, j int) bool { return report.Diffs[i].Symbol < report.Diffs[j].Symbol })
	report.HasDiffs = len(report.Diffs) > 0

	s.mu.Lock()
	s.last = report
	s.mu.Unlock()
	return report, nil
}

// Last returns the most recent report, or nil before the first pass.
func (s *Service) Last() *Report {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.last
}

func (s *Service) handleReport(report *Report) {
	if !report.HasDiffs {
		s.log.Debug().Msg("reconciliation: no differences")
		return
	}
	for _, d := range report.Diffs {
		ev := s.log.Info()
		if d.Kind == KindShort {
			ev = s.log.Warn()
		}
		ev.Str("symbol", d.Symbol).
			Str("kind", d.Kind).
			Float64("local_qty", d.LocalQty).
			Float64("exchange_qty", d.ExchangeQty).
			Float64("diff", math.Round(d.Difference*1e8)/1e8).
			Msg("reconciliation difference")
	}
}
