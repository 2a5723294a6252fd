package service

import (
	"context"
	"errors"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"repairpos/backend/internal/apperr"
	"repairpos/backend/internal/domain"
	"repairpos/backend/internal/report"
	"repairpos/backend/internal/store"
	"repairpos/backend/internal/workorder"
)

const maxListLimit = 500

func (e *Engine) GetWorkOrder(ctx context.Context, caller domain.Caller, id string) (domain.WorkOrder, error) {
	order, err := e.readOrder(ctx, caller, id)
	if err != nil {
		return domain.WorkOrder{}, err
	}
	return *order, nil
}

// Resolve turns a reference result into the full order.
func (e *Engine) Resolve(ctx context.Context, caller domain.Caller, ref domain.OrderRef) (domain.WorkOrder, error) {
	if order, ok := ref.Order(); ok {
		return order, nil
	}
	return e.GetWorkOrder(ctx, caller, ref.ID())
}

func (e *Engine) readOrder(ctx context.Context, caller domain.Caller, id string) (*domain.WorkOrder, error) {
	if caller.IsZero() {
		return nil, apperr.New(apperr.Unauthorized, nil)
	}
	id = strings.TrimSpace(id)
	order, err := e.repo.GetWorkOrder(ctx, id)
	if errors.Is(err, store.ErrNotFound) {
		return nil, apperr.New(apperr.OrderNotFound, map[string]string{"orderId": id})
	}
	if err != nil {
		return nil, apperr.Wrap(apperr.OperationFailed, err)
	}
	if err := authorize(caller, order.BranchID); err != nil {
		return nil, err
	}
	return order, nil
}

// ListWorkOrders lists newest first. Callers other than owners only see
// their own branch.
func (e *Engine) ListWorkOrders(ctx context.Context, caller domain.Caller, filter domain.WorkOrderFilter) ([]domain.WorkOrder, error) {
	branchID, err := e.scopeBranch(caller, filter.BranchID)
	if err != nil {
		return nil, err
	}
	filter.BranchID = branchID
	if filter.Status != "" {
		if filter.Status, err = workorder.ParseStatus(string(filter.Status)); err != nil {
			return nil, err
		}
	}
	if filter.PaymentStatus != "" {
		if filter.PaymentStatus, err = workorder.ParsePaymentStatus(string(filter.PaymentStatus)); err != nil {
			return nil, err
		}
	}
	filter.Limit = clampLimit(filter.Limit, 100)

	orders, err := e.repo.ListWorkOrders(ctx, filter)
	if err != nil {
		return nil, apperr.Wrap(apperr.OperationFailed, err)
	}
	return orders, nil
}

// DeleteWorkOrder removes an erroneous record outright. It touches neither
// stock nor cash; use RefundWorkOrder to reverse a real order.
func (e *Engine) DeleteWorkOrder(ctx context.Context, caller domain.Caller, id string) (err error) {
	ctx, finish := e.begin(ctx, opDelete, caller)
	defer func() { err = finish(err, attribute.String("order.id", id)) }()

	if err := requireRole(caller, domain.RoleOwner); err != nil {
		return err
	}
	if _, err := e.readOrder(ctx, caller, id); err != nil {
		return err
	}
	return e.repo.DeleteWorkOrder(ctx, strings.TrimSpace(id))
}

func (e *Engine) ListMovements(ctx context.Context, caller domain.Caller, orderID string) ([]domain.InventoryMovement, error) {
	order, err := e.readOrder(ctx, caller, orderID)
	if err != nil {
		return nil, err
	}
	return e.repo.ListMovements(ctx, order.ID)
}

func (e *Engine) Margin(ctx context.Context, caller domain.Caller, orderID string) (workorder.Margin, error) {
	order, err := e.readOrder(ctx, caller, orderID)
	if err != nil {
		return workorder.Margin{}, err
	}
	return workorder.ComputeMargin(*order), nil
}

// RecordDebt stores the open balance of a handed-off order. Calling it again
// for the same order returns the existing debt.
func (e *Engine) RecordDebt(ctx context.Context, caller domain.Caller, orderID string) (d *domain.Debt, created bool, err error) {
	ctx, finish := e.begin(ctx, opRecordDebt, caller)
	defer func() { err = finish(err, attribute.String("order.id", orderID)) }()

	order, err := e.readOrder(ctx, caller, orderID)
	if err != nil {
		return nil, false, err
	}
	return e.debts.RecordFromWorkOrder(ctx, *order)
}

func (e *Engine) ListDebts(ctx context.Context, caller domain.Caller, branchID string, limit int) ([]domain.Debt, error) {
	branchID, err := e.scopeBranch(caller, branchID)
	if err != nil {
		return nil, err
	}
	return e.repo.ListDebts(ctx, branchID, clampLimit(limit, 100))
}

func (e *Engine) PaymentSourceBalances(ctx context.Context, caller domain.Caller, branchID string) ([]domain.PaymentSourceBalance, error) {
	branchID, err := e.scopeBranch(caller, branchID)
	if err != nil {
		return nil, err
	}
	return e.repo.GetPaymentSourceBalances(ctx, branchID)
}

func (e *Engine) CashTransactions(ctx context.Context, caller domain.Caller, branchID string, from, to time.Time, limit int) ([]domain.CashTransaction, error) {
	branchID, err := e.scopeBranch(caller, branchID)
	if err != nil {
		return nil, err
	}
	if !from.IsZero() && !to.IsZero() && to.Before(from) {
		return nil, apperr.New(apperr.InvalidInput, map[string]string{"field": "to", "reason": "before from"})
	}
	return e.repo.ListCashTransactions(ctx, branchID, from, to, clampLimit(limit, maxListLimit))
}

// CashBook collects the ledger rows and balances of a branch for export.
// Only owners and managers may export.
func (e *Engine) CashBook(ctx context.Context, caller domain.Caller, branchID string, from, to time.Time) (report.CashBook, error) {
	if caller.IsZero() {
		return report.CashBook{}, apperr.New(apperr.Unauthorized, nil)
	}
	if err := requireRole(caller, domain.RoleOwner, domain.RoleManager); err != nil {
		return report.CashBook{}, err
	}
	branchID, err := e.scopeBranch(caller, branchID)
	if err != nil {
		return report.CashBook{}, err
	}
	txns, err := e.repo.ListCashTransactions(ctx, branchID, from, to, 0)
	if err != nil {
		return report.CashBook{}, err
	}
	balances, err := e.repo.GetPaymentSourceBalances(ctx, branchID)
	if err != nil {
		return report.CashBook{}, err
	}
	return report.CashBook{
		BranchID:     branchID,
		From:         from,
		To:           to,
		Transactions: txns,
		Balances:     balances,
	}, nil
}

// scopeBranch resolves the branch a read runs against. An owner with no
// branch reads every branch.
func (e *Engine) scopeBranch(caller domain.Caller, requested string) (string, error) {
	if caller.IsZero() {
		return "", apperr.New(apperr.Unauthorized, nil)
	}
	requested = strings.ToUpper(strings.TrimSpace(requested))
	if caller.Role == domain.RoleOwner {
		return requested, nil
	}
	if requested == "" {
		return strings.ToUpper(caller.BranchID), nil
	}
	if err := authorize(caller, requested); err != nil {
		return "", err
	}
	return requested, nil
}

func clampLimit(limit int, fallback int) int {
	if limit <= 0 {
		return fallback
	}
	if limit > maxListLimit {
		return maxListLimit
	}
	return limit
}
