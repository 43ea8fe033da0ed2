package order

import (
	"momentum-core/pkg/db"
)

// Record converts a result into its persisted form.
func Record(r *Result) db.Order {
	o := db.Order{
		ID:        r.OrderID,
		Mode:      string(r.Mode),
		Status:    r.Status,
		Price:     r.FilledPrice,
		Qty:       r.FilledQty(),
		Stop:      r.Stop,
		Target:    r.Target,
		Warnings:  r.Warnings,
		CreatedAt: r.CreatedAt,
	}
	if r.Candidate != nil {
		o.Symbol = r.Candidate.Symbol
		o.Side = string(r.Candidate.Side.OrderSide())
	}
	if r.TakeProfitOrderID != nil {
		o.TPOrderID = *r.TakeProfitOrderID
	}
	if r.StopOrderID != nil {
		o.StopOrderID = *r.StopOrderID
	}
	return o
}
