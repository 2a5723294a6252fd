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

// CompletePayment books the settlement amount and, once the order is fully
// paid, performs the stock deduction that a deposit-only order deferred.
// An amount of zero only triggers that deduction.
func (e *Engine) CompletePayment(ctx context.Context, caller domain.Caller, req domain.CompletePaymentRequest) (res domain.CompletePaymentResult, err error) {
	ctx, finish := e.begin(ctx, opCompletePayment, caller)
	defer func() {
		err = finish(err, attribute.String("order.id", req.OrderID), attribute.Int64("payment.amount", req.PaymentAmount))
	}()

	if caller.IsZero() {
		return res, apperr.New(apperr.Unauthorized, nil)
	}
	orderID := strings.TrimSpace(req.OrderID)
	if orderID == "" {
		return res, apperr.New(apperr.InvalidInput, map[string]string{"field": "order_id"})
	}
	if req.PaymentAmount < 0 || req.PaymentAmount > workorder.MaxAmount {
		return res, apperr.New(apperr.InvalidPaymentAmount, map[string]int64{"paymentAmount": req.PaymentAmount})
	}
	method, err := workorder.NormalizePaymentMethod(req.PaymentMethod)
	if err != nil {
		return res, err
	}

	release, err := e.acquire(ctx, "", req.IdempotencyKey)
	if err != nil {
		return res, err
	}
	defer release()

	if id, ok := e.cachedReplay(ctx, req.IdempotencyKey, opCompletePayment, &res); ok {
		res.Order = domain.Reference(id)
		res.Replayed = true
		return res, nil
	}

	key := requestKey(req.IdempotencyKey)
	var (
		out      stockOutcome
		booked   booking
		raw      []byte
		branchID string
	)
	err = e.repo.InTx(ctx, func(tx store.Tx) error {
		replayID, replayed, err := e.claim(ctx, tx, key, opCompletePayment, &res)
		if err != nil {
			return err
		}
		if replayed {
			res.Order = domain.Reference(replayID)
			res.Replayed = true
			return nil
		}

		order, err := loadForUpdate(ctx, tx, caller, orderID)
		if err != nil {
			return err
		}
		branchID = order.BranchID
		if order.Refunded {
			return apperr.New(apperr.OrderRefunded, map[string]string{"orderId": orderID})
		}
		if req.PaymentAmount > order.RemainingAmount {
			return apperr.New(apperr.InvalidPaymentAmount, map[string]int64{
				"paymentAmount":   req.PaymentAmount,
				"remainingAmount": order.RemainingAmount,
			})
		}

		if req.PaymentAmount > 0 {
			at := e.now()
			id, err := booked.book(ctx, tx, domain.CashTransaction{
				BranchID:      branchID,
				Type:          domain.CashIncome,
				Category:      domain.CategoryServiceIncome,
				Amount:        req.PaymentAmount,
				PaymentSource: method,
				WorkOrderID:   orderID,
				Description:   "Thanh toán phiếu sửa chữa " + orderID,
				CreatedBy:     caller.UserID,
				CreatedAt:     at,
			})
			if err != nil {
				return err
			}
			order.AdditionalPayment += req.PaymentAmount
			order.PaymentMethod = method
			order.CashTransactionID = id
			order.PaymentDate = &at
		}

		workorder.ApplyTotals(order)
		if order.TotalPaid >= order.Total {
			order.PaymentStatus = domain.PaymentPaid
		} else {
			order.PaymentStatus = workorder.DerivePaymentStatus(order.Total, order.TotalPaid)
		}

		if order.PaymentStatus == domain.PaymentPaid && !order.InventoryDeducted {
			if err := e.applyStock(ctx, tx, branchID, orderID, workorder.Quantities(order.PartsUsed), partNames(order.PartsUsed), true, &out); err != nil {
				return err
			}
			order.InventoryDeducted = true
		}

		order.UpdatedAt = e.now()
		if err := tx.UpdateWorkOrder(ctx, *order); err != nil {
			return err
		}

		res = domain.CompletePaymentResult{
			Order:             domain.Full(*order),
			OrderID:           orderID,
			NewPaymentStatus:  order.PaymentStatus,
			InventoryDeducted: order.InventoryDeducted,
			InventoryTxCount:  out.movements,
			StockWarnings:     warningsOrEmpty(out.warnings),
		}
		if req.PaymentAmount > 0 {
			res.PaymentTransactionID = order.CashTransactionID
		}
		raw, err = e.complete(ctx, tx, key, orderID, res)
		return err
	})
	if err != nil {
		return domain.CompletePaymentResult{}, err
	}

	if !res.Replayed {
		e.remember(ctx, key, opCompletePayment, orderID, raw)
		e.recordStock(branchID, out)
		e.recordCash(booked.cash)
	}
	return res, nil
}
