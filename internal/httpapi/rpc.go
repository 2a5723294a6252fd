package httpapi

import (
	"bytes"
	"fmt"
	"net/http"
	"strings"

	"repairpos/backend/internal/apperr"
	"repairpos/backend/internal/domain"
)

// The atomic operations answer with the result fields plus workOrder, which
// is the full order or, for a replayed request, just its id.

type createResponse struct {
	WorkOrder domain.OrderRef `json:"workOrder"`
	domain.CreateResult
}

type updateResponse struct {
	WorkOrder domain.OrderRef `json:"workOrder"`
	domain.UpdateResult
}

type completePaymentResponse struct {
	WorkOrder domain.OrderRef `json:"workOrder"`
	domain.CompletePaymentResult
}

type refundResponse struct {
	WorkOrder domain.OrderRef `json:"workOrder"`
	domain.RefundResult
}

func (a *API) rpcCreate(w http.ResponseWriter, r *http.Request, caller domain.Caller) {
	p, err := decodeParams[workOrderParams](a, r)
	if err != nil {
		writeAppError(w, r, err)
		return
	}
	res, err := a.engine.CreateWorkOrder(r.Context(), caller, p.draft())
	if err != nil {
		writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, createResponse{WorkOrder: res.Order, CreateResult: res})
}

func (a *API) rpcUpdate(w http.ResponseWriter, r *http.Request, caller domain.Caller) {
	p, err := decodeParams[workOrderParams](a, r)
	if err != nil {
		writeAppError(w, r, err)
		return
	}
	if strings.TrimSpace(p.OrderID) == "" {
		writeAppError(w, r, apperr.New(apperr.InvalidInput, map[string]string{"order_id": "required"}))
		return
	}
	res, err := a.engine.UpdateWorkOrder(r.Context(), caller, p.draft())
	if err != nil {
		writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, updateResponse{WorkOrder: res.Order, UpdateResult: res})
}

func (a *API) rpcCompletePayment(w http.ResponseWriter, r *http.Request, caller domain.Caller) {
	p, err := decodeParams[completePaymentParams](a, r)
	if err != nil {
		writeAppError(w, r, err)
		return
	}
	res, err := a.engine.CompletePayment(r.Context(), caller, domain.CompletePaymentRequest{
		OrderID:        p.OrderID,
		PaymentMethod:  p.PaymentMethod,
		PaymentAmount:  p.PaymentAmount,
		IdempotencyKey: p.IdempotencyKey,
	})
	if err != nil {
		writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, completePaymentResponse{WorkOrder: res.Order, CompletePaymentResult: res})
}

func (a *API) rpcRefund(w http.ResponseWriter, r *http.Request, caller domain.Caller) {
	p, err := decodeParams[refundParams](a, r)
	if err != nil {
		writeAppError(w, r, err)
		return
	}
	// the token decides who refunds; a differing user_id is refused
	if p.UserID != "" && !strings.EqualFold(p.UserID, caller.UserID) {
		writeAppError(w, r, apperr.New(apperr.Unauthorized, map[string]string{"user_id": p.UserID}))
		return
	}
	res, err := a.engine.RefundWorkOrder(r.Context(), caller, domain.RefundRequest{
		OrderID:        p.OrderID,
		Reason:         p.RefundReason,
		IdempotencyKey: p.IdempotencyKey,
	})
	if err != nil {
		writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, refundResponse{WorkOrder: res.Order, RefundResult: res})
}

func (a *API) rpcGet(w http.ResponseWriter, r *http.Request, caller domain.Caller) {
	p, err := decodeParams[orderIDParams](a, r)
	if err != nil {
		writeAppError(w, r, err)
		return
	}
	order, err := a.engine.GetWorkOrder(r.Context(), caller, p.OrderID)
	if err != nil {
		writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"workOrder": order})
}

func (a *API) rpcList(w http.ResponseWriter, r *http.Request, caller domain.Caller) {
	p, err := decodeParams[listParams](a, r)
	if err != nil {
		writeAppError(w, r, err)
		return
	}
	orders, err := a.engine.ListWorkOrders(r.Context(), caller, domain.WorkOrderFilter{
		BranchID:      p.BranchID,
		Status:        domain.WorkOrderStatus(p.Status),
		PaymentStatus: domain.PaymentStatus(p.PaymentStatus),
		CustomerPhone: p.CustomerPhone,
		Limit:         p.Limit,
	})
	if err != nil {
		writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"workOrders": orders})
}

func (a *API) rpcDelete(w http.ResponseWriter, r *http.Request, caller domain.Caller) {
	p, err := decodeParams[orderIDParams](a, r)
	if err != nil {
		writeAppError(w, r, err)
		return
	}
	if err := a.engine.DeleteWorkOrder(r.Context(), caller, p.OrderID); err != nil {
		writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"deleted": true, "orderId": p.OrderID})
}

func (a *API) rpcMovements(w http.ResponseWriter, r *http.Request, caller domain.Caller) {
	p, err := decodeParams[orderIDParams](a, r)
	if err != nil {
		writeAppError(w, r, err)
		return
	}
	movements, err := a.engine.ListMovements(r.Context(), caller, p.OrderID)
	if err != nil {
		writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"movements": movements})
}

func (a *API) rpcMargin(w http.ResponseWriter, r *http.Request, caller domain.Caller) {
	p, err := decodeParams[orderIDParams](a, r)
	if err != nil {
		writeAppError(w, r, err)
		return
	}
	margin, err := a.engine.Margin(r.Context(), caller, p.OrderID)
	if err != nil {
		writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"orderId": p.OrderID, "margin": margin})
}

func (a *API) rpcRecordDebt(w http.ResponseWriter, r *http.Request, caller domain.Caller) {
	p, err := decodeParams[orderIDParams](a, r)
	if err != nil {
		writeAppError(w, r, err)
		return
	}
	d, created, err := a.engine.RecordDebt(r.Context(), caller, p.OrderID)
	if err != nil {
		writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"debt": d, "created": created})
}

func (a *API) rpcOutsourcingExpense(w http.ResponseWriter, r *http.Request, caller domain.Caller) {
	p, err := decodeParams[expenseParams](a, r)
	if err != nil {
		writeAppError(w, r, err)
		return
	}
	res, err := a.engine.RecordOutsourcingExpense(r.Context(), caller, p.request())
	if err != nil {
		writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (a *API) rpcAdjustmentExpense(w http.ResponseWriter, r *http.Request, caller domain.Caller) {
	p, err := decodeParams[expenseParams](a, r)
	if err != nil {
		writeAppError(w, r, err)
		return
	}
	res, err := a.engine.RecordServiceAdjustmentExpense(r.Context(), caller, p.request())
	if err != nil {
		writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (p expenseParams) request() domain.ExpenseRequest {
	return domain.ExpenseRequest{
		OrderID:       p.OrderID,
		Amount:        p.Amount,
		PaymentMethod: p.PaymentMethod,
		Description:   p.Description,
	}
}

func (a *API) rpcCashBalances(w http.ResponseWriter, r *http.Request, caller domain.Caller) {
	p, err := decodeParams[cashParams](a, r)
	if err != nil {
		writeAppError(w, r, err)
		return
	}
	balances, err := a.engine.PaymentSourceBalances(r.Context(), caller, p.BranchID)
	if err != nil {
		writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"balances": balances})
}

func (a *API) rpcCashTransactions(w http.ResponseWriter, r *http.Request, caller domain.Caller) {
	p, err := decodeParams[cashParams](a, r)
	if err != nil {
		writeAppError(w, r, err)
		return
	}
	from, to := p.window(a.location)
	txns, err := a.engine.CashTransactions(r.Context(), caller, p.BranchID, from, to, p.Limit)
	if err != nil {
		writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"transactions": txns})
}

const xlsxContentType = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"

func (a *API) rpcCashBookExport(w http.ResponseWriter, r *http.Request, caller domain.Caller) {
	p, err := decodeParams[cashParams](a, r)
	if err != nil {
		writeAppError(w, r, err)
		return
	}
	from, to := p.window(a.location)
	book, err := a.engine.CashBook(r.Context(), caller, p.BranchID, from, to)
	if err != nil {
		writeAppError(w, r, err)
		return
	}
	book.Location = a.location

	var buf bytes.Buffer
	if err := book.WriteXLSX(&buf); err != nil {
		writeAppError(w, r, apperr.Wrap(apperr.OperationFailed, err))
		return
	}
	w.Header().Set("Content-Type", xlsxContentType)
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", book.Filename()))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(buf.Bytes())
}

func (a *API) rpcDebts(w http.ResponseWriter, r *http.Request, caller domain.Caller) {
	p, err := decodeParams[debtListParams](a, r)
	if err != nil {
		writeAppError(w, r, err)
		return
	}
	debts, err := a.engine.ListDebts(r.Context(), caller, p.BranchID, p.Limit)
	if err != nil {
		writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"debts": debts})
}

func (a *API) rpcUserCreate(w http.ResponseWriter, r *http.Request, caller domain.Caller) {
	var req domain.UserCreateRequest
	if err := decodeJSON(r, &req); err != nil {
		writeAppError(w, r, apperr.Wrap(apperr.InvalidInput, err))
		return
	}
	user, err := a.auth.CreateUser(r.Context(), caller, req)
	if err != nil {
		writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"user": user})
}

func (a *API) rpcUserList(w http.ResponseWriter, r *http.Request, caller domain.Caller) {
	users, err := a.auth.ListUsers(r.Context(), caller)
	if err != nil {
		writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"users": users})
}
