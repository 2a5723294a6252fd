package service

import (
	"context"
	"strings"

	"go.opentelemetry.io/otel/attribute"

	"repairpos/backend/internal/apperr"
	"repairpos/backend/internal/domain"
	"repairpos/backend/internal/store"
	"repairpos/backend/internal/workorder"
)

// UpdateWorkOrder applies a full draft to a stored order. Stock moves only by
// the per-part difference, and payments book only their increment over the
// stored amounts, so replaying the same update has no further effect. A
// refunded order accepts metadata edits only. A paid, handed-off order keeps
// its status and pricing. No update may leave the order paid beyond its total.
func (e *Engine) UpdateWorkOrder(ctx context.Context, caller domain.Caller, draft domain.WorkOrderDraft) (res domain.UpdateResult, err error) {
	ctx, finish := e.begin(ctx, opUpdate, caller)
	defer func() { err = finish(err, attribute.String("order.id", draft.OrderID)) }()

	if caller.IsZero() {
		return res, apperr.New(apperr.Unauthorized, nil)
	}
	orderID := strings.TrimSpace(draft.OrderID)
	if orderID == "" {
		return res, apperr.New(apperr.InvalidInput, map[string]string{"field": "order_id"})
	}

	release, err := e.acquire(ctx, draft.SessionID, draft.IdempotencyKey)
	if err != nil {
		return res, err
	}
	defer release()

	if id, ok := e.cachedReplay(ctx, draft.IdempotencyKey, opUpdate, &res); ok {
		res.Order = domain.Reference(id)
		res.Replayed = true
		return res, nil
	}

	var (
		status    domain.WorkOrderStatus
		requested domain.PaymentStatus
		method    string
	)
	if strings.TrimSpace(draft.Status) != "" {
		if status, err = workorder.ParseStatus(draft.Status); err != nil {
			return res, err
		}
	}
	if strings.TrimSpace(draft.PaymentStatus) != "" {
		if requested, err = workorder.ParsePaymentStatus(draft.PaymentStatus); err != nil {
			return res, err
		}
	}
	if strings.TrimSpace(draft.PaymentMethod) != "" {
		if method, err = workorder.NormalizePaymentMethod(draft.PaymentMethod); err != nil {
			return res, err
		}
	}
	if err := validateAmounts(draft); err != nil {
		return res, err
	}
	var services []domain.ServiceLine
	if draft.ServicesProvided {
		services = draft.AdditionalServices
	}
	if err := workorder.ValidateLines(draft.PartsUsed, services); err != nil {
		return res, err
	}

	key := requestKey(draft.IdempotencyKey)
	var (
		out      stockOutcome
		booked   booking
		raw      []byte
		branchID string

		depositInc, additionalInc int64
	)
	err = e.repo.InTx(ctx, func(tx store.Tx) error {
		replayID, replayed, err := e.claim(ctx, tx, key, opUpdate, &res)
		if err != nil {
			return err
		}
		if replayed {
			res.Order = domain.Reference(replayID)
			res.Replayed = true
			return nil
		}

		stored, err := loadForUpdate(ctx, tx, caller, orderID)
		if err != nil {
			return err
		}
		branchID = stored.BranchID
		if b := strings.TrimSpace(draft.BranchID); b != "" && !strings.EqualFold(b, stored.BranchID) {
			return apperr.New(apperr.BranchMismatch, map[string]string{"branchId": b, "orderBranchId": stored.BranchID})
		}
		next := stored.Clone()
		applyMetadata(&next, draft)
		if status != "" {
			next.Status = status
		}
		if stored.Refunded {
			if err := refundedEdit(*stored, next.Status, draft, method); err != nil {
				return err
			}
		} else {
			if method != "" {
				next.PaymentMethod = method
			}
			next.LaborCost = draft.LaborCost
			next.PartsUsed = append([]domain.PartLine(nil), draft.PartsUsed...)
			if draft.ServicesProvided {
				next.AdditionalServices = append([]domain.ServiceLine(nil), draft.AdditionalServices...)
			}
			if next.Discount, err = resolveDiscount(next.LaborCost, next.PartsUsed, next.AdditionalServices, draft.Discount, draft.DiscountPercent); err != nil {
				return err
			}

			if workorder.IsLocked(*stored) {
				if next.Status != domain.StatusHandedOff {
					return apperr.New(apperr.OrderLocked, map[string]string{"orderId": orderID, "field": "status"})
				}
				if workorder.PricingChanged(*stored, next) {
					return apperr.New(apperr.OrderLocked, map[string]string{"orderId": orderID})
				}
			}

			if next.PartsUsed, err = resolveParts(ctx, tx, next.PartsUsed, knownParts(stored.PartsUsed)); err != nil {
				return err
			}

			if depositInc, additionalInc, err = reconcilePayments(*stored, &next, draft); err != nil {
				return err
			}
			workorder.ApplyTotals(&next)
			if next.TotalPaid > next.Total {
				return overpaid(next)
			}
			if requested == "" {
				requested = stored.PaymentStatus
			}
			next.PaymentStatus = settledStatus(requested, next.Total, next.TotalPaid)

			names := partNames(stored.PartsUsed, next.PartsUsed)
			if stored.InventoryDeducted {
				delta := workorder.StockDelta(stored.PartsUsed, next.PartsUsed)
				if err := e.applyStock(ctx, tx, branchID, orderID, delta, names, true, &out); err != nil {
					return err
				}
			} else {
				commit := next.PaymentStatus == domain.PaymentPaid || next.Status == domain.StatusHandedOff
				if err := e.applyStock(ctx, tx, branchID, orderID, workorder.Quantities(next.PartsUsed), names, commit, &out); err != nil {
					return err
				}
				next.InventoryDeducted = commit
			}

			if depositInc > 0 {
				at := e.now()
				id, err := booked.book(ctx, tx, domain.CashTransaction{
					BranchID:      branchID,
					Type:          domain.CashIncome,
					Category:      domain.CategoryServiceDeposit,
					Amount:        depositInc,
					PaymentSource: next.PaymentMethod,
					WorkOrderID:   orderID,
					Description:   "Đặt cọc thêm phiếu sửa chữa " + orderID,
					CreatedBy:     caller.UserID,
					CreatedAt:     at,
				})
				if err != nil {
					return err
				}
				next.DepositTransactionID = id
				next.DepositDate = &at
			}
			if additionalInc > 0 {
				at := e.now()
				id, err := booked.book(ctx, tx, domain.CashTransaction{
					BranchID:      branchID,
					Type:          domain.CashIncome,
					Category:      domain.CategoryServiceIncome,
					Amount:        additionalInc,
					PaymentSource: next.PaymentMethod,
					WorkOrderID:   orderID,
					Description:   "Thu tiền khi trả máy phiếu " + orderID,
					CreatedBy:     caller.UserID,
					CreatedAt:     at,
				})
				if err != nil {
					return err
				}
				next.CashTransactionID = id
				next.PaymentDate = &at
			}
		}

		next.UpdatedAt = e.now()
		if err := tx.UpdateWorkOrder(ctx, next); err != nil {
			return err
		}
		e.checkClientTotal(ctx, draft.Total, next)

		res = domain.UpdateResult{
			Order:             domain.Full(next),
			OrderID:           orderID,
			InventoryTxCount:  out.movements,
			StockWarnings:     warningsOrEmpty(out.warnings),
			InventoryDeducted: next.InventoryDeducted,
		}
		if depositInc > 0 {
			res.DepositTransactionID = next.DepositTransactionID
		}
		if additionalInc > 0 {
			res.PaymentTransactionID = next.CashTransactionID
		}
		raw, err = e.complete(ctx, tx, key, orderID, res)
		return err
	})
	if err != nil {
		return domain.UpdateResult{}, err
	}

	if !res.Replayed {
		e.remember(ctx, key, opUpdate, orderID, raw)
		e.recordStock(branchID, out)
		e.recordCash(booked.cash)
	}
	return res, nil
}

// applyMetadata copies the customer and vehicle fields. Notes and the
// vehicle id are kept when the draft leaves them empty.
func applyMetadata(next *domain.WorkOrder, draft domain.WorkOrderDraft) {
	next.CustomerName = strings.TrimSpace(draft.CustomerName)
	next.CustomerPhone = strings.TrimSpace(draft.CustomerPhone)
	next.VehicleModel = strings.TrimSpace(draft.VehicleModel)
	next.LicensePlate = strings.ToUpper(strings.TrimSpace(draft.LicensePlate))
	next.IssueDescription = strings.TrimSpace(draft.IssueDescription)
	next.TechnicianName = strings.TrimSpace(draft.TechnicianName)
	if v := strings.TrimSpace(draft.VehicleID); v != "" {
		next.VehicleID = v
	}
	if n := strings.TrimSpace(draft.Notes); n != "" {
		next.Notes = n
	}
}

// refundedEdit lets a refunded order take metadata, notes and status edits
// only. Any change to pricing, cost prices, payments, payment method or part
// quantities is refused.
func refundedEdit(stored domain.WorkOrder, status domain.WorkOrderStatus, draft domain.WorkOrderDraft, method string) error {
	priced := stored.Clone()
	priced.LaborCost = draft.LaborCost
	priced.PartsUsed = draft.PartsUsed
	if draft.ServicesProvided {
		priced.AdditionalServices = draft.AdditionalServices
	}
	discount, err := resolveDiscount(priced.LaborCost, priced.PartsUsed, priced.AdditionalServices, draft.Discount, draft.DiscountPercent)
	if err != nil {
		return err
	}
	priced.Discount = discount

	field := ""
	switch {
	case workorder.PricingChanged(stored, priced) || len(workorder.StockDelta(stored.PartsUsed, priced.PartsUsed)) > 0:
		field = "pricing"
	case costChanged(stored.PartsUsed, priced.PartsUsed):
		field = "cost_price"
	case draft.DepositAmount != stored.DepositAmount:
		field = "deposit_amount"
	case status == domain.StatusHandedOff && draft.AdditionalPayment != stored.AdditionalPayment:
		field = "additional_payment"
	case method != "" && method != stored.PaymentMethod:
		field = "payment_method"
	default:
		return nil
	}
	return apperr.New(apperr.OrderRefunded, map[string]string{"orderId": stored.ID, "field": field})
}

// costChanged expects lines already known to match on part and quantity.
func costChanged(stored, next []domain.PartLine) bool {
	for i := range stored {
		if stored[i].CostPrice != next[i].CostPrice {
			return true
		}
	}
	return false
}

// reconcilePayments compares the draft amounts with the stored ones and
// returns the increments to book. Amounts never decrease. The additional
// payment only moves once the order is handed off.
func reconcilePayments(stored domain.WorkOrder, next *domain.WorkOrder, draft domain.WorkOrderDraft) (depositInc int64, additionalInc int64, err error) {
	if draft.DepositAmount < stored.DepositAmount {
		return 0, 0, apperr.New(apperr.InvalidPaymentAmount, map[string]any{
			"field":     "deposit_amount",
			"stored":    stored.DepositAmount,
			"requested": draft.DepositAmount,
		})
	}
	depositInc = draft.DepositAmount - stored.DepositAmount
	next.DepositAmount = draft.DepositAmount

	if next.Status != domain.StatusHandedOff {
		return depositInc, 0, nil
	}
	if draft.AdditionalPayment < stored.AdditionalPayment {
		return 0, 0, apperr.New(apperr.InvalidPaymentAmount, map[string]any{
			"field":     "additional_payment",
			"stored":    stored.AdditionalPayment,
			"requested": draft.AdditionalPayment,
		})
	}
	additionalInc = draft.AdditionalPayment - stored.AdditionalPayment
	next.AdditionalPayment = draft.AdditionalPayment
	return depositInc, additionalInc, nil
}

func knownParts(lines []domain.PartLine) map[string]bool {
	known := make(map[string]bool, len(lines))
	for _, l := range lines {
		known[l.PartID] = true
	}
	return known
}
