// Package workorder holds the pure pricing, payment and stock rules of a
// repair work order. Nothing here touches storage.
package workorder

import (
	"github.com/shopspring/decimal"

	"repairpos/backend/internal/apperr"
	"repairpos/backend/internal/domain"
)

type Totals struct {
	PartsTotal    int64
	ServicesTotal int64
	Subtotal      int64
	Discount      int64
	Total         int64
}

// ComputeTotals recomputes the order total from its inputs. Service lines may
// carry negative prices; the total is clamped at zero.
func ComputeTotals(laborCost int64, parts []domain.PartLine, services []domain.ServiceLine, discount int64) Totals {
	var t Totals
	for _, p := range parts {
		t.PartsTotal += p.Price * int64(p.Quantity)
	}
	for _, s := range services {
		t.ServicesTotal += s.Price * int64(s.Quantity)
	}
	t.Subtotal = laborCost + t.PartsTotal + t.ServicesTotal
	t.Discount = discount
	t.Total = t.Subtotal - discount
	if t.Total < 0 {
		t.Total = 0
	}
	return t
}

// DiscountFromPercent converts a percentage of subtotal into đồng, rounding
// half away from zero.
func DiscountFromPercent(subtotal int64, percent float64) (int64, error) {
	if percent < 0 || percent > 100 {
		return 0, apperr.New(apperr.InvalidInput, map[string]any{"field": "discount_percent", "value": percent})
	}
	if subtotal <= 0 {
		return 0, nil
	}
	d := decimal.NewFromInt(subtotal).
		Mul(decimal.NewFromFloat(percent)).
		Div(decimal.NewFromInt(100)).
		Round(0)
	return d.IntPart(), nil
}

func Remaining(total, totalPaid int64) int64 {
	if r := total - totalPaid; r > 0 {
		return r
	}
	return 0
}

// DerivePaymentStatus maps amounts to a payment status. A zero-total order
// stays unpaid until a settlement explicitly marks it paid.
func DerivePaymentStatus(total, totalPaid int64) domain.PaymentStatus {
	switch {
	case totalPaid <= 0:
		return domain.PaymentUnpaid
	case totalPaid >= total:
		return domain.PaymentPaid
	default:
		return domain.PaymentPartial
	}
}

// ApplyTotals writes the recomputed money fields onto the order.
func ApplyTotals(w *domain.WorkOrder) Totals {
	t := ComputeTotals(w.LaborCost, w.PartsUsed, w.AdditionalServices, w.Discount)
	w.Total = t.Total
	w.TotalPaid = w.DepositAmount + w.AdditionalPayment
	w.RemainingAmount = Remaining(w.Total, w.TotalPaid)
	return t
}

type Margin struct {
	Revenue     int64           `json:"revenue"`
	Cost        int64           `json:"cost"`
	Profit      int64           `json:"profit"`
	MarginRatio decimal.Decimal `json:"marginRatio"`
}

// ComputeMargin reports sell minus cost over parts, services and labor.
// MarginRatio is profit/revenue rounded to four places.
func ComputeMargin(w domain.WorkOrder) Margin {
	var cost int64
	for _, p := range w.PartsUsed {
		cost += p.CostPrice * int64(p.Quantity)
	}
	for _, s := range w.AdditionalServices {
		cost += s.CostPrice * int64(s.Quantity)
	}
	m := Margin{Revenue: w.Total, Cost: cost, Profit: w.Total - cost, MarginRatio: decimal.Zero}
	if w.Total > 0 {
		m.MarginRatio = decimal.NewFromInt(m.Profit).Div(decimal.NewFromInt(w.Total)).Round(4)
	}
	return m
}
