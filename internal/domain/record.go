package domain

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"
)

// Record is the flattened, lower-case form of a work order used by the
// persistence layer (customername, partsused, refund_reason, ...).
type Record map[string]any

// Record flattens the work order into persistence naming.
func (w WorkOrder) Record() Record {
	parts := w.PartsUsed
	if parts == nil {
		parts = []PartLine{}
	}
	services := w.AdditionalServices
	if services == nil {
		services = []ServiceLine{}
	}
	return Record{
		"id":                    w.ID,
		"branchid":              w.BranchID,
		"customername":          w.CustomerName,
		"customerphone":         w.CustomerPhone,
		"vehicleid":             w.VehicleID,
		"vehiclemodel":          w.VehicleModel,
		"licenseplate":          w.LicensePlate,
		"issuedescription":      w.IssueDescription,
		"technicianname":        w.TechnicianName,
		"notes":                 w.Notes,
		"status":                string(w.Status),
		"partsused":             parts,
		"additionalservices":    services,
		"laborcost":             w.LaborCost,
		"discount":              w.Discount,
		"total":                 w.Total,
		"paymentstatus":         string(w.PaymentStatus),
		"paymentmethod":         w.PaymentMethod,
		"depositamount":         w.DepositAmount,
		"depositdate":           w.DepositDate,
		"deposittransactionid":  w.DepositTransactionID,
		"additionalpayment":     w.AdditionalPayment,
		"totalpaid":             w.TotalPaid,
		"remainingamount":       w.RemainingAmount,
		"cashtransactionid":     w.CashTransactionID,
		"paymentdate":           w.PaymentDate,
		"inventory_deducted":    w.InventoryDeducted,
		"refunded":              w.Refunded,
		"refunded_at":           w.RefundedAt,
		"refund_transaction_id": w.RefundTransactionID,
		"refund_reason":         w.RefundReason,
		"createdby":             w.CreatedBy,
		"creationdate":          w.CreatedAt,
		"updatedat":             w.UpdatedAt,
	}
}

// WorkOrderFromRecord builds a work order from a flattened record. Keys are
// matched ignoring case and underscores so camelCase payloads decode too.
func WorkOrderFromRecord(rec Record) (WorkOrder, error) {
	r := normalizedRecord(rec)
	var (
		w   WorkOrder
		err error
	)
	w.ID = r.str("id")
	w.BranchID = r.str("branchid")
	w.CustomerName = r.str("customername")
	w.CustomerPhone = r.str("customerphone")
	w.VehicleID = r.str("vehicleid")
	w.VehicleModel = r.str("vehiclemodel")
	w.LicensePlate = r.str("licenseplate")
	w.IssueDescription = r.str("issuedescription")
	w.TechnicianName = r.str("technicianname")
	w.Notes = r.str("notes")
	w.Status = WorkOrderStatus(r.str("status"))
	w.PaymentStatus = PaymentStatus(r.str("paymentstatus"))
	w.PaymentMethod = r.str("paymentmethod")
	w.DepositTransactionID = r.str("deposittransactionid")
	w.CashTransactionID = r.str("cashtransactionid")
	w.RefundTransactionID = r.str("refundtransactionid")
	w.RefundReason = r.str("refundreason")
	w.CreatedBy = r.str("createdby")
	w.InventoryDeducted = r.boolean("inventorydeducted")
	w.Refunded = r.boolean("refunded")

	for key, dst := range map[string]*int64{
		"laborcost":         &w.LaborCost,
		"discount":          &w.Discount,
		"total":             &w.Total,
		"depositamount":     &w.DepositAmount,
		"additionalpayment": &w.AdditionalPayment,
		"totalpaid":         &w.TotalPaid,
		"remainingamount":   &w.RemainingAmount,
	} {
		if *dst, err = r.money(key); err != nil {
			return WorkOrder{}, err
		}
	}
	for key, dst := range map[string]**time.Time{
		"depositdate": &w.DepositDate,
		"paymentdate": &w.PaymentDate,
		"refundedat":  &w.RefundedAt,
	} {
		if *dst, err = r.timePtr(key); err != nil {
			return WorkOrder{}, err
		}
	}
	if created, err := r.timePtr("creationdate"); err != nil {
		return WorkOrder{}, err
	} else if created != nil {
		w.CreatedAt = *created
	} else if created, err = r.timePtr("createdat"); err != nil {
		return WorkOrder{}, err
	} else if created != nil {
		w.CreatedAt = *created
	}
	if updated, err := r.timePtr("updatedat"); err != nil {
		return WorkOrder{}, err
	} else if updated != nil {
		w.UpdatedAt = *updated
	}

	if err := r.decode("partsused", &w.PartsUsed); err != nil {
		return WorkOrder{}, err
	}
	if err := r.decode("additionalservices", &w.AdditionalServices); err != nil {
		return WorkOrder{}, err
	}
	if w.PartsUsed == nil {
		w.PartsUsed = []PartLine{}
	}
	if w.AdditionalServices == nil {
		w.AdditionalServices = []ServiceLine{}
	}
	return w, nil
}

type normalized map[string]any

func normalizeKey(key string) string {
	return strings.ToLower(strings.ReplaceAll(key, "_", ""))
}

func normalizedRecord(rec Record) normalized {
	out := make(normalized, len(rec))
	for k, v := range rec {
		out[normalizeKey(k)] = v
	}
	return out
}

func (r normalized) str(key string) string {
	switch v := r[key].(type) {
	case string:
		return v
	case []byte:
		return string(v)
	case nil:
		return ""
	default:
		return fmt.Sprint(v)
	}
}

func (r normalized) boolean(key string) bool {
	switch v := r[key].(type) {
	case bool:
		return v
	case string:
		b, _ := strconv.ParseBool(v)
		return b
	default:
		return false
	}
}

func (r normalized) money(key string) (int64, error) {
	switch v := r[key].(type) {
	case nil:
		return 0, nil
	case int64:
		return v, nil
	case int:
		return int64(v), nil
	case int32:
		return int64(v), nil
	case float64:
		return int64(math.Round(v)), nil
	case json.Number:
		f, err := v.Float64()
		if err != nil {
			return 0, fmt.Errorf("field %s: %w", key, err)
		}
		return int64(math.Round(f)), nil
	case string:
		if v == "" {
			return 0, nil
		}
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return 0, fmt.Errorf("field %s: %w", key, err)
		}
		return int64(math.Round(f)), nil
	default:
		return 0, fmt.Errorf("field %s: unsupported type %T", key, v)
	}
}

func (r normalized) timePtr(key string) (*time.Time, error) {
	switch v := r[key].(type) {
	case nil:
		return nil, nil
	case time.Time:
		if v.IsZero() {
			return nil, nil
		}
		return &v, nil
	case *time.Time:
		if v == nil || v.IsZero() {
			return nil, nil
		}
		t := *v
		return &t, nil
	case string:
		if v == "" {
			return nil, nil
		}
		t, err := time.Parse(time.RFC3339Nano, v)
		if err != nil {
			return nil, fmt.Errorf("field %s: %w", key, err)
		}
		return &t, nil
	default:
		return nil, fmt.Errorf("field %s: unsupported type %T", key, v)
	}
}

// decode converts nested line items, which may arrive as decoded JSON
// values, raw JSON bytes or typed slices.
func (r normalized) decode(key string, dst any) error {
	var raw []byte
	switch v := r[key].(type) {
	case nil:
		return nil
	case []byte:
		raw = v
	case string:
		raw = []byte(v)
	default:
		b, err := json.Marshal(v)
		if err != nil {
			return fmt.Errorf("field %s: %w", key, err)
		}
		raw = b
	}
	if len(raw) == 0 || string(raw) == "null" {
		return nil
	}
	if err := json.Unmarshal(raw, dst); err != nil {
		return fmt.Errorf("field %s: %w", key, err)
	}
	return nil
}
