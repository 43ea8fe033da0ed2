package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"
)

// ErrNotFound is returned when a lookup matches no row.
var ErrNotFound = errors.New("record not found")

// Trade is a fully closed position.
type Trade struct {
	ID       string    `json:"id"`
	Symbol   string    `json:"symbol"`
	Side     string    `json:"side"`
	Entry    float64   `json:"entry"`
	Exit     float64   `json:"exit"` // quantity-weighted average over all exit fills
	Qty      float64   `json:"qty"`
	PnL      float64   `json:"pnl"`
	Reason   string    `json:"reason"`
	Mode     string    `json:"mode"`
	OrderID  string    `json:"order_id"`
	OpenedAt time.Time `json:"opened_at"`
	ClosedAt time.Time `json:"closed_at"`
}

// Order is an entry order result as placed.
type Order struct {
	ID          string
	Symbol      string
	Side        string
	Mode        string
	Status      string
	Price       float64
	Qty         float64
	Stop        *float64
	Target      *float64
	TPOrderID   string
	StopOrderID string
	Warnings    []string
	CreatedAt   time.Time
}

// RiskDay is the persisted daily loss tally. Day is YYYY-MM-DD in UTC.
type RiskDay struct {
	Day    string
	CumPnL float64
	Trades int
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

// SaveTrade inserts a closed trade.
func (d *Database) SaveTrade(ctx context.Context, t Trade) error {
	return insertTrade(ctx, d.DB, t)
}

func insertTrade(ctx context.Context, ex execer, t Trade) error {
	if t.ClosedAt.IsZero() {
		t.ClosedAt = time.Now().UTC()
	}
	_, err := ex.ExecContext(ctx, `
		INSERT INTO trades (id, symbol, side, entry, exit, qty, pnl, reason, mode, order_id, opened_at, closed_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, t.ID, t.Symbol, t.Side, t.Entry, t.Exit, t.Qty, t.PnL, t.Reason, t.Mode, nullString(t.OrderID), t.OpenedAt.UTC(), t.ClosedAt.UTC())
	if err != nil {
		return fmt.Errorf("insert trade: %w", err)
	}
	return nil
}

// RecentTrades returns up to n trades, newest first.
func (d *Database) RecentTrades(ctx context.Context, n int) ([]Trade, error) {
	if n <= 0 {
		n = 50
	}
	rows, err := d.DB.QueryContext(ctx, `
		SELECT id, symbol, side, entry, exit, qty, pnl, reason, mode,
		       COALESCE(order_id, ''), opened_at, closed_at
		FROM trades
		ORDER BY closed_at DESC
		LIMIT ?
	`, n)
	if err != nil {
		return nil, fmt.Errorf("query trades: %w", err)
	}
	defer rows.Close()

	var out []Trade
	for rows.Next() {
		var (
			t        Trade
			openedAt sql.NullTime
		)
		if err := rows.Scan(&t.ID, &t.Symbol, &t.Side, &t.Entry, &t.Exit, &t.Qty, &t.PnL, &t.Reason, &t.Mode, &t.OrderID, &openedAt, &t.ClosedAt); err != nil {
			return nil, fmt.Errorf("scan trade: %w", err)
		}
		if openedAt.Valid {
			t.OpenedAt = openedAt.Time
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

// SaveOrder upserts an order result.
func (d *Database) SaveOrder(ctx context.Context, o Order) error {
	return upsertOrder(ctx, d.DB, o)
}

func upsertOrder(ctx context.Context, ex execer, o Order) error {
	if o.CreatedAt.IsZero() {
		o.CreatedAt = time.Now().UTC()
	}
	_, err := ex.ExecContext(ctx, `
		INSERT INTO orders (id, symbol, side, mode, status, price, qty, stop, target, tp_order_id, stop_order_id, warnings, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			status = excluded.status,
			price = excluded.price,
			warnings = excluded.warnings
	`, o.ID, o.Symbol, o.Side, o.Mode, o.Status, o.Price, o.Qty, nullFloat(o.Stop), nullFloat(o.Target),
		nullString(o.TPOrderID), nullString(o.StopOrderID), strings.Join(o.Warnings, "\n"), o.CreatedAt.UTC())
	if err != nil {
		return fmt.Errorf("insert order: %w", err)
	}
	return nil
}

// SaveBatch writes orders then trades in one transaction. Orders go first
// so a trade never lands without its entry.
func (d *Database) SaveBatch(ctx context.Context, orders []Order, trades []Trade) error {
	tx, err := d.DB.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin batch: %w", err)
	}
	for _, o := range orders {
		if err := upsertOrder(ctx, tx, o); err != nil {
			tx.Rollback()
			return err
		}
	}
	for _, t := range trades {
		if err := insertTrade(ctx, tx, t); err != nil {
			tx.Rollback()
			return err
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit batch: %w", err)
	}
	return nil
}

// GetOrder loads one order by id.
func (d *Database) GetOrder(ctx context.Context, id string) (*Order, error) {
	var (
		o                  Order
		stop, target       sql.NullFloat64
		tpID, stopID, warn sql.NullString
	)
	err := d.DB.QueryRowContext(ctx, `
		SELECT id, symbol, side, mode, status, price, qty, stop, target, tp_order_id, stop_order_id, warnings, created_at
		FROM orders WHERE id = ?
	`, id).Scan(&o.ID, &o.Symbol, &o.Side, &o.Mode, &o.Status, &o.Price, &o.Qty, &stop, &target, &tpID, &stopID, &warn, &o.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get order: %w", err)
	}
	if stop.Valid {
		o.Stop = &stop.Float64
	}
	if target.Valid {
		o.Target = &target.Float64
	}
	o.TPOrderID = tpID.String
	o.StopOrderID = stopID.String
	if warn.String != "" {
		o.Warnings = strings.Split(warn.String, "\n")
	}
	return &o, nil
}

// LoadRiskDay returns the tally for day, or ErrNotFound.
func (d *Database) LoadRiskDay(ctx context.Context, day string) (RiskDay, error) {
	r := RiskDay{Day: day}
	err := d.DB.QueryRowContext(ctx, `SELECT cum_pnl, trades FROM risk_daily WHERE day = ?`, day).Scan(&r.CumPnL, &r.Trades)
	if errors.Is(err, sql.ErrNoRows) {
		return r, ErrNotFound
	}
	if err != nil {
		return r, fmt.Errorf("load risk day: %w", err)
	}
	return r, nil
}

// SaveRiskDay upserts the tally for r.Day.
func (d *Database) SaveRiskDay(ctx context.Context, r RiskDay) error {
	_, err := d.DB.ExecContext(ctx, `
		INSERT INTO risk_daily (day, cum_pnl, trades, updated_at)
		VALUES (?, ?, ?, CURRENT_TIMESTAMP)
		ON CONFLICT(day) DO UPDATE SET
			cum_pnl = excluded.cum_pnl,
			trades = excluded.trades,
			updated_at = CURRENT_TIMESTAMP
	`, r.Day, r.CumPnL, r.Trades)
	if err != nil {
		return fmt.Errorf("save risk day: %w", err)
	}
	return nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func nullFloat(f *float64) sql.NullFloat64 {
	if f == nil {
		return sql.NullFloat64{}
	}
	return sql.NullFloat64{Float64: *f, Valid: true}
}
