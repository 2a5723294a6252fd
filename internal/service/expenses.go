package service

import (
	"context"
	"errors"
	"strings"

	"go.opentelemetry.io/otel/attribute"

	"repairpos/backend/internal/apperr"
	"repairpos/backend/internal/domain"
	"repairpos/backend/internal/store"
	"repairpos/backend/internal/workorder"
)

// RecordOutsourcingExpense books what the shop paid outside vendors for an
// order's additional services. At most one row exists per order.
func (e *Engine) RecordOutsourcingExpense(ctx context.Context, caller domain.Caller, req domain.ExpenseRequest) (domain.ExpenseResult, error) {
	return e.recordExpense(ctx, caller, req, opOutsourcing, domain.CategoryOutsourcing, outsourcingCost)
}

// RecordServiceAdjustmentExpense books the money handed back through
// negative-priced service lines. At most one row exists per order.
func (e *Engine) RecordServiceAdjustmentExpense(ctx context.Context, caller domain.Caller, req domain.ExpenseRequest) (domain.ExpenseResult, error) {
	return e.recordExpense(ctx, caller, req, opAdjustment, domain.CategoryServiceAdjustment, adjustmentAmount)
}

func outsourcingCost(w domain.WorkOrder) int64 {
	var cost int64
	for _, s := range w.AdditionalServices {
		cost += s.CostPrice * int64(s.Quantity)
	}
	return cost
}

func adjustmentAmount(w domain.WorkOrder) int64 {
	var amount int64
	for _, s := range w.AdditionalServices {
		if s.Price < 0 {
			amount += -s.Price * int64(s.Quantity)
		}
	}
	return amount
}

func (e *Engine) recordExpense(ctx context.Context, caller domain.Caller, req domain.ExpenseRequest, op string, category string, fromOrder func(domain.WorkOrder) int64) (res domain.ExpenseResult, err error) {
	ctx, finish := e.begin(ctx, op, caller)
	defer func() { err = finish(err, attribute.String("order.id", req.OrderID)) }()

	if caller.IsZero() {
		return res, apperr.New(apperr.Unauthorized, nil)
	}
	orderID := strings.TrimSpace(req.OrderID)
	if orderID == "" {
		return res, apperr.New(apperr.InvalidInput, map[string]string{"field": "order_id"})
	}
	if req.Amount < 0 || req.Amount > workorder.MaxAmount {
		return res, apperr.New(apperr.InvalidPaymentAmount, map[string]int64{"amount": req.Amount})
	}
	method, err := workorder.NormalizePaymentMethod(req.PaymentMethod)
	if err != nil {
		return res, err
	}

	err = e.repo.InTx(ctx, func(tx store.Tx) error {
		order, err := loadForUpdate(ctx, tx, caller, orderID)
		if err != nil {
			return err
		}
		if order.Refunded {
			return apperr.New(apperr.OrderRefunded, map[string]string{"orderId": orderID})
		}

		existing, err := tx.FindCashTransaction(ctx, orderID, category)
		if err == nil {
			res = domain.ExpenseResult{Transaction: *existing}
			return nil
		}
		if !errors.Is(err, store.ErrNotFound) {
			return err
		}

		amount := req.Amount
		if amount == 0 {
			amount = fromOrder(*order)
		}
		if amount <= 0 {
			return apperr.New(apperr.InvalidPaymentAmount, map[string]any{"amount": amount, "category": category})
		}
		description := strings.TrimSpace(req.Description)
		if description == "" {
			description = category + " " + orderID
		}

		var b booking
		if _, err := b.book(ctx, tx, domain.CashTransaction{
			BranchID:      order.BranchID,
			Type:          domain.CashExpense,
			Category:      category,
			Amount:        amount,
			PaymentSource: method,
			WorkOrderID:   orderID,
			Description:   description,
			CreatedBy:     caller.UserID,
			CreatedAt:     e.now(),
		}); err != nil {
			if errors.Is(err, store.ErrConflict) {
				return apperr.Wrap(apperr.SubmissionInFlight, err)
			}
			return err
		}
		res = domain.ExpenseResult{Transaction: b.cash[0], Created: true}
		return nil
	})
	if err != nil {
		return domain.ExpenseResult{}, err
	}
	if res.Created {
		e.recordCash([]domain.CashTransaction{res.Transaction})
	}
	return res, nil
}
