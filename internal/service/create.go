package service

import (
	"context"
	"errors"
	"strings"

	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"repairpos/backend/internal/apperr"
	"repairpos/backend/internal/domain"
	"repairpos/backend/internal/store"
	"repairpos/backend/internal/workorder"
	"repairpos/backend/internal/xid"
)

// CreateWorkOrder validates the draft, checks stock for every part, commits
// the stock unless the order is deposit-only, inserts the order and books the
// deposit and immediate settlement rows, all in one transaction.
func (e *Engine) CreateWorkOrder(ctx context.Context, caller domain.Caller, draft domain.WorkOrderDraft) (res domain.CreateResult, err error) {
	ctx, finish := e.begin(ctx, opCreate, caller)
	defer func() { err = finish(err, attribute.String("order.id", res.OrderID)) }()

	if caller.IsZero() {
		return res, apperr.New(apperr.Unauthorized, nil)
	}
	branchID := e.branchFor(caller, draft.BranchID)
	if err := authorize(caller, branchID); err != nil {
		return res, err
	}

	release, err := e.acquire(ctx, draft.SessionID, draft.IdempotencyKey)
	if err != nil {
		return res, err
	}
	defer release()

	if orderID, ok := e.cachedReplay(ctx, draft.IdempotencyKey, opCreate, &res); ok {
		res.Order = domain.Reference(orderID)
		res.Replayed = true
		return res, nil
	}

	order, requested, err := e.buildOrder(ctx, caller, branchID, draft)
	if err != nil {
		return domain.CreateResult{}, err
	}

	key := requestKey(draft.IdempotencyKey)
	var (
		out    stockOutcome
		booked booking
		raw    []byte
	)
	err = e.repo.InTx(ctx, func(tx store.Tx) error {
		orderID, replayed, err := e.claim(ctx, tx, key, opCreate, &res)
		if err != nil {
			return err
		}
		if replayed {
			res.Order = domain.Reference(orderID)
			res.Replayed = true
			return nil
		}

		if order.ID == "" {
			seq, err := tx.NextOrderSequence(ctx, branchID)
			if err != nil {
				return err
			}
			order.ID = xid.OrderID(e.opts.OrderIDPrefix, branchID, seq)
		}

		parts, err := resolveParts(ctx, tx, order.PartsUsed, nil)
		if err != nil {
			return err
		}
		order.PartsUsed = parts

		// a handed-off order has left the shop with its parts
		deduct := order.Status == domain.StatusHandedOff ||
			!workorder.DefersStock(e.opts.DeferStockOnDeposit, requested, order.DepositAmount, order.AdditionalPayment)
		if err := e.applyStock(ctx, tx, branchID, order.ID, workorder.Quantities(parts), partNames(parts), deduct, &out); err != nil {
			return err
		}
		order.InventoryDeducted = deduct

		if order.DepositAmount > 0 {
			at := e.now()
			id, err := booked.book(ctx, tx, domain.CashTransaction{
				BranchID:      branchID,
				Type:          domain.CashIncome,
				Category:      domain.CategoryServiceDeposit,
				Amount:        order.DepositAmount,
				PaymentSource: order.PaymentMethod,
				WorkOrderID:   order.ID,
				Description:   "Đặt cọc phiếu sửa chữa " + order.ID,
				CreatedBy:     caller.UserID,
				CreatedAt:     at,
			})
			if err != nil {
				return err
			}
			order.DepositTransactionID = id
			order.DepositDate = &at
		}
		if order.AdditionalPayment > 0 {
			at := e.now()
			id, err := booked.book(ctx, tx, domain.CashTransaction{
				BranchID:      branchID,
				Type:          domain.CashIncome,
				Category:      domain.CategoryServiceIncome,
				Amount:        order.AdditionalPayment,
				PaymentSource: order.PaymentMethod,
				WorkOrderID:   order.ID,
				Description:   "Thanh toán phiếu sửa chữa " + order.ID,
				CreatedBy:     caller.UserID,
				CreatedAt:     at,
			})
			if err != nil {
				return err
			}
			order.CashTransactionID = id
			order.PaymentDate = &at
		}

		if err := tx.InsertWorkOrder(ctx, order); err != nil {
			if errors.Is(err, store.ErrConflict) {
				return apperr.New(apperr.InvalidInput, map[string]string{
					"field":   "order_id",
					"reason":  "order id already exists",
					"orderId": order.ID,
				})
			}
			return err
		}

		res = domain.CreateResult{
			Order:                domain.Full(order),
			OrderID:              order.ID,
			DepositTransactionID: order.DepositTransactionID,
			PaymentTransactionID: order.CashTransactionID,
			InventoryTxCount:     out.movements,
			StockWarnings:        warningsOrEmpty(out.warnings),
			InventoryDeducted:    order.InventoryDeducted,
		}
		raw, err = e.complete(ctx, tx, key, order.ID, res)
		return err
	})
	if err != nil {
		return domain.CreateResult{}, err
	}

	if !res.Replayed {
		e.remember(ctx, key, opCreate, res.OrderID, raw)
		e.recordStock(branchID, out)
		e.recordCash(booked.cash)
	}
	return res, nil
}

// buildOrder validates the draft and returns the new order with recomputed
// money fields, plus the payment status the caller asked for.
func (e *Engine) buildOrder(ctx context.Context, caller domain.Caller, branchID string, draft domain.WorkOrderDraft) (domain.WorkOrder, domain.PaymentStatus, error) {
	status, err := workorder.ParseStatus(draft.Status)
	if err != nil {
		return domain.WorkOrder{}, "", err
	}
	requested, err := workorder.ParsePaymentStatus(draft.PaymentStatus)
	if err != nil {
		return domain.WorkOrder{}, "", err
	}
	method, err := workorder.NormalizePaymentMethod(draft.PaymentMethod)
	if err != nil {
		return domain.WorkOrder{}, "", err
	}
	if err := validateAmounts(draft); err != nil {
		return domain.WorkOrder{}, "", err
	}
	if err := workorder.ValidateLines(draft.PartsUsed, draft.AdditionalServices); err != nil {
		return domain.WorkOrder{}, "", err
	}
	discount, err := resolveDiscount(draft.LaborCost, draft.PartsUsed, draft.AdditionalServices, draft.Discount, draft.DiscountPercent)
	if err != nil {
		return domain.WorkOrder{}, "", err
	}

	now := e.now()
	order := domain.WorkOrder{
		ID:                 strings.TrimSpace(draft.OrderID),
		BranchID:           branchID,
		CustomerName:       strings.TrimSpace(draft.CustomerName),
		CustomerPhone:      strings.TrimSpace(draft.CustomerPhone),
		VehicleID:          strings.TrimSpace(draft.VehicleID),
		VehicleModel:       strings.TrimSpace(draft.VehicleModel),
		LicensePlate:       strings.ToUpper(strings.TrimSpace(draft.LicensePlate)),
		IssueDescription:   strings.TrimSpace(draft.IssueDescription),
		TechnicianName:     strings.TrimSpace(draft.TechnicianName),
		Notes:              strings.TrimSpace(draft.Notes),
		Status:             status,
		PartsUsed:          append([]domain.PartLine(nil), draft.PartsUsed...),
		AdditionalServices: append([]domain.ServiceLine(nil), draft.AdditionalServices...),
		LaborCost:          draft.LaborCost,
		Discount:           discount,
		PaymentMethod:      method,
		DepositAmount:      draft.DepositAmount,
		AdditionalPayment:  draft.AdditionalPayment,
		CreatedBy:          caller.UserID,
		CreatedAt:          now,
		UpdatedAt:          now,
	}
	workorder.ApplyTotals(&order)
	if order.TotalPaid > order.Total {
		return domain.WorkOrder{}, "", overpaid(order)
	}
	order.PaymentStatus = settledStatus(requested, order.Total, order.TotalPaid)
	e.checkClientTotal(ctx, draft.Total, order)
	return order, requested, nil
}

func validateAmounts(draft domain.WorkOrderDraft) error {
	if draft.DepositAmount < 0 || draft.AdditionalPayment < 0 ||
		draft.DepositAmount > workorder.MaxAmount || draft.AdditionalPayment > workorder.MaxAmount {
		return apperr.New(apperr.InvalidPaymentAmount, map[string]int64{
			"depositAmount":     draft.DepositAmount,
			"additionalPayment": draft.AdditionalPayment,
		})
	}
	return workorder.ValidateMoney(map[string]int64{
		"labor_cost": draft.LaborCost,
		"discount":   draft.Discount,
	})
}

func resolveDiscount(labor int64, parts []domain.PartLine, services []domain.ServiceLine, discount int64, percent float64) (int64, error) {
	if percent == 0 {
		return discount, nil
	}
	subtotal := workorder.ComputeTotals(labor, parts, services, 0).Subtotal
	return workorder.DiscountFromPercent(subtotal, percent)
}

// settledStatus derives the payment status from amounts. A zero-total order
// is paid only when the caller says so.
func settledStatus(requested domain.PaymentStatus, total int64, totalPaid int64) domain.PaymentStatus {
	derived := workorder.DerivePaymentStatus(total, totalPaid)
	if derived == domain.PaymentUnpaid && total == 0 && requested == domain.PaymentPaid {
		return domain.PaymentPaid
	}
	return derived
}

func overpaid(order domain.WorkOrder) error {
	return apperr.New(apperr.InvalidPaymentAmount, map[string]int64{
		"total":     order.Total,
		"totalPaid": order.TotalPaid,
	})
}

// checkClientTotal logs a client total that disagrees with the recomputed
// one. The recomputed total always wins.
func (e *Engine) checkClientTotal(ctx context.Context, clientTotal int64, order domain.WorkOrder) {
	if clientTotal == 0 || clientTotal == order.Total {
		return
	}
	e.log(ctx).Warn("client total differs from recomputed total",
		zap.String("order_id", order.ID),
		zap.Int64("client_total", clientTotal),
		zap.Int64("total", order.Total))
}

func warningsOrEmpty(w []domain.StockWarning) []domain.StockWarning {
	if w == nil {
		return []domain.StockWarning{}
	}
	return w
}
