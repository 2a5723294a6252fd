package workorder

import (
	"sort"
	"strings"

	"repairpos/backend/internal/apperr"
	"repairpos/backend/internal/domain"
)

var statuses = map[domain.WorkOrderStatus]struct{}{
	domain.StatusIntake:    {},
	domain.StatusInRepair:  {},
	domain.StatusCompleted: {},
	domain.StatusHandedOff: {},
}

// ParseStatus validates a status label. Empty means Intake.
func ParseStatus(raw string) (domain.WorkOrderStatus, error) {
	s := domain.WorkOrderStatus(strings.TrimSpace(raw))
	if s == "" {
		return domain.StatusIntake, nil
	}
	if _, ok := statuses[s]; !ok {
		return "", apperr.New(apperr.InvalidStatus, map[string]string{"status": raw})
	}
	return s, nil
}

// ParsePaymentStatus validates a payment status. Empty means unpaid.
func ParsePaymentStatus(raw string) (domain.PaymentStatus, error) {
	switch s := domain.PaymentStatus(strings.ToLower(strings.TrimSpace(raw))); s {
	case "":
		return domain.PaymentUnpaid, nil
	case domain.PaymentUnpaid, domain.PaymentPartial, domain.PaymentPaid:
		return s, nil
	default:
		return "", apperr.New(apperr.InvalidPaymentStatus, map[string]string{"paymentStatus": raw})
	}
}

// NormalizePaymentMethod maps an empty method to cash and rejects unknown ones.
func NormalizePaymentMethod(raw string) (string, error) {
	switch m := strings.ToLower(strings.TrimSpace(raw)); m {
	case "":
		return domain.PaymentMethodCash, nil
	case domain.PaymentMethodCash, domain.PaymentMethodBank:
		return m, nil
	default:
		return "", apperr.New(apperr.InvalidInput, map[string]string{"field": "payment_method", "value": raw})
	}
}

// Upper bounds on money and quantities. A single line, and the sum of all
// lines, must stay within MaxAmount so totals cannot overflow int64.
const (
	MaxAmount   int64 = 1_000_000_000_000
	MaxQuantity       = 100_000
)

type InvalidLine struct {
	Index  int    `json:"index"`
	PartID string `json:"partId,omitempty"`
	Reason string `json:"reason"`
}

// ValidateLines checks quantities and prices of parts and service lines.
// Service prices may be negative (adjustments); part prices may not.
func ValidateLines(parts []domain.PartLine, services []domain.ServiceLine) error {
	var (
		bad []InvalidLine
		sum int64
	)
	for i, p := range parts {
		switch {
		case strings.TrimSpace(p.PartID) == "":
			bad = append(bad, InvalidLine{Index: i, Reason: "missing partId"})
		case p.Quantity < 1:
			bad = append(bad, InvalidLine{Index: i, PartID: p.PartID, Reason: "quantity must be at least 1"})
		case p.Quantity > MaxQuantity:
			bad = append(bad, InvalidLine{Index: i, PartID: p.PartID, Reason: "quantity too large"})
		case p.Price < 0 || p.CostPrice < 0:
			bad = append(bad, InvalidLine{Index: i, PartID: p.PartID, Reason: "price must not be negative"})
		case p.Price > MaxAmount || p.CostPrice > MaxAmount || !fits(&sum, p.Price, p.Quantity):
			bad = append(bad, InvalidLine{Index: i, PartID: p.PartID, Reason: "amount too large"})
		}
	}
	if len(bad) > 0 {
		return apperr.New(apperr.InvalidPart, bad)
	}
	for i, s := range services {
		price := s.Price
		if price < 0 {
			price = -price
		}
		if s.Quantity < 1 || s.Quantity > MaxQuantity || s.CostPrice < 0 || s.CostPrice > MaxAmount ||
			price > MaxAmount || !fits(&sum, price, s.Quantity) {
			return apperr.New(apperr.InvalidInput, map[string]any{"field": "additional_services", "index": i})
		}
	}
	return nil
}

// fits adds price*qty to sum and reports whether the running sum is still
// within MaxAmount. Callers have already bounded price and qty.
func fits(sum *int64, price int64, qty int) bool {
	if price > 0 && int64(qty) > MaxAmount/price {
		return false
	}
	*sum += price * int64(qty)
	return *sum <= MaxAmount
}

func ValidateMoney(fields map[string]int64) error {
	names := make([]string, 0, len(fields))
	for name := range fields {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		if v := fields[name]; v < 0 || v > MaxAmount {
			return apperr.New(apperr.InvalidInput, map[string]any{"field": name, "value": v})
		}
	}
	return nil
}

// Quantities sums line quantities per part id.
func Quantities(parts []domain.PartLine) map[string]int {
	out := make(map[string]int, len(parts))
	for _, p := range parts {
		out[p.PartID] += p.Quantity
	}
	return out
}

// StockDelta returns, per part id, how many more units the new lines need
// than the old ones. Negative values are units to give back.
func StockDelta(oldParts, newParts []domain.PartLine) map[string]int {
	delta := Quantities(newParts)
	for id, qty := range Quantities(oldParts) {
		delta[id] -= qty
	}
	for id, d := range delta {
		if d == 0 {
			delete(delta, id)
		}
	}
	return delta
}

// SortedPartIDs returns map keys in lock order.
func SortedPartIDs[V any](m map[string]V) []string {
	ids := make([]string, 0, len(m))
	for id := range m {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// IsLocked reports whether line items and prices are frozen.
func IsLocked(w domain.WorkOrder) bool {
	return w.PaymentStatus == domain.PaymentPaid && w.Status == domain.StatusHandedOff
}

// PricingChanged compares everything a locked order may not change. Part
// cost prices are excluded.
func PricingChanged(stored domain.WorkOrder, next domain.WorkOrder) bool {
	if stored.LaborCost != next.LaborCost || stored.Discount != next.Discount {
		return true
	}
	if len(stored.PartsUsed) != len(next.PartsUsed) || len(stored.AdditionalServices) != len(next.AdditionalServices) {
		return true
	}
	for i := range stored.PartsUsed {
		a, b := stored.PartsUsed[i], next.PartsUsed[i]
		if a.PartID != b.PartID || a.Quantity != b.Quantity || a.Price != b.Price {
			return true
		}
	}
	for i := range stored.AdditionalServices {
		a, b := stored.AdditionalServices[i], next.AdditionalServices[i]
		if a.Description != b.Description || a.Quantity != b.Quantity || a.Price != b.Price {
			return true
		}
	}
	return false
}

// DefersStock reports whether a deposit-only order should hold off on
// committing stock until it is paid.
func DefersStock(enabled bool, status domain.PaymentStatus, deposit, additional int64) bool {
	return enabled && status == domain.PaymentPartial && deposit > 0 && additional == 0
}
