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

// RefundWorkOrder returns committed stock to the branch, books one refund
// expense for everything received and freezes the order.
func (e *Engine) RefundWorkOrder(ctx context.Context, caller domain.Caller, req domain.RefundRequest) (res domain.RefundResult, err error) {
	ctx, finish := e.begin(ctx, opRefund, caller)
	defer func() { err = finish(err, attribute.String("order.id", req.OrderID)) }()

	if caller.IsZero() {
		return res, apperr.New(apperr.Unauthorized, nil)
	}
	if err := requireRole(caller, domain.RoleOwner, domain.RoleManager); err != nil {
		return res, err
	}
	orderID := strings.TrimSpace(req.OrderID)
	if orderID == "" {
		return res, apperr.New(apperr.InvalidInput, map[string]string{"field": "order_id"})
	}
	reason := strings.TrimSpace(req.Reason)
	if reason == "" {
		reason = "unspecified"
	}

	release, err := e.acquire(ctx, "", req.IdempotencyKey)
	if err != nil {
		return res, err
	}
	defer release()

	if id, ok := e.cachedReplay(ctx, req.IdempotencyKey, opRefund, &res); ok {
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
		replayID, replayed, err := e.claim(ctx, tx, key, opRefund, &res)
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
			return apperr.New(apperr.AlreadyRefunded, map[string]string{"orderId": orderID})
		}

		if order.InventoryDeducted {
			give := negate(workorder.Quantities(order.PartsUsed))
			if err := e.applyStock(ctx, tx, branchID, orderID, give, partNames(order.PartsUsed), true, &out); err != nil {
				return err
			}
			order.InventoryDeducted = false
		}

		refundedAt := e.now()
		if order.TotalPaid > 0 {
			source := order.PaymentMethod
			if source == "" {
				source = domain.PaymentMethodCash
			}
			id, err := booked.book(ctx, tx, domain.CashTransaction{
				BranchID:      branchID,
				Type:          domain.CashExpense,
				Category:      domain.CategoryServiceRefund,
				Amount:        order.TotalPaid,
				PaymentSource: source,
				WorkOrderID:   orderID,
				Description:   "Hoàn tiền phiếu sửa chữa " + orderID + ": " + reason,
				CreatedBy:     caller.UserID,
				CreatedAt:     refundedAt,
			})
			if errors.Is(err, store.ErrConflict) {
				return apperr.New(apperr.AlreadyRefunded, map[string]string{"orderId": orderID})
			}
			if err != nil {
				return err
			}
			order.RefundTransactionID = id
		}

		order.Refunded = true
		order.RefundedAt = &refundedAt
		order.RefundReason = reason
		order.UpdatedAt = refundedAt
		if err := tx.UpdateWorkOrder(ctx, *order); err != nil {
			return err
		}

		res = domain.RefundResult{
			Order:               domain.Full(*order),
			OrderID:             orderID,
			RefundTransactionID: order.RefundTransactionID,
			RefundAmount:        order.TotalPaid,
		}
		raw, err = e.complete(ctx, tx, key, orderID, res)
		return err
	})
	if err != nil {
		return domain.RefundResult{}, err
	}

	if !res.Replayed {
		e.remember(ctx, key, opRefund, orderID, raw)
		e.recordStock(branchID, out)
		e.recordCash(booked.cash)
	}
	return res, nil
}
