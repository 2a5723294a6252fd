package memory

import (
	"context"
	"fmt"
	"slices"
	"time"

	"repairpos/backend/internal/domain"
	"repairpos/backend/internal/store"
)

// memTx mutates the live state; the caller holds the store lock.
type memTx struct {
	st *state
}

func (t *memTx) ClaimRequest(_ context.Context, key string, operation string) (*store.RequestRecord, error) {
	if key == "" {
		return nil, store.ErrInvalidTransaction
	}
	if existing, ok := t.st.requests[key]; ok {
		out := existing
		out.Result = slices.Clone(existing.Result)
		return &out, nil
	}
	t.st.requests[key] = store.RequestRecord{Key: key, Operation: operation, CreatedAt: time.Now().UTC()}
	return nil, nil
}

func (t *memTx) CompleteRequest(_ context.Context, key string, orderID string, result []byte) error {
	rec, ok := t.st.requests[key]
	if !ok {
		return store.ErrNotFound
	}
	rec.OrderID = orderID
	rec.Result = slices.Clone(result)
	t.st.requests[key] = rec
	return nil
}

func (t *memTx) GetParts(_ context.Context, partIDs []string) (map[string]domain.Part, error) {
	out := make(map[string]domain.Part, len(partIDs))
	for _, id := range partIDs {
		if p, ok := t.st.parts[id]; ok && p.Active {
			out[id] = p
		}
	}
	return out, nil
}

func (t *memTx) LockStock(_ context.Context, branchID string, partIDs []string) (map[string]int, error) {
	out := make(map[string]int, len(partIDs))
	for _, id := range partIDs {
		out[id] = t.st.inventory[branchID][id]
	}
	return out, nil
}

func (t *memTx) AdjustStock(_ context.Context, branchID string, partID string, delta int) (int, error) {
	branchStock, ok := t.st.inventory[branchID]
	if !ok {
		branchStock = make(map[string]int)
		t.st.inventory[branchID] = branchStock
	}
	next := branchStock[partID] + delta
	if next < 0 {
		return branchStock[partID], store.ErrInsufficientStock
	}
	branchStock[partID] = next
	return next, nil
}

func (t *memTx) InsertMovement(_ context.Context, movement domain.InventoryMovement) error {
	if movement.ID == "" || movement.Quantity < 1 {
		return store.ErrInvalidTransaction
	}
	t.st.movements = append(t.st.movements, movement)
	return nil
}

func (t *memTx) NextOrderSequence(_ context.Context, branchID string) (int64, error) {
	t.st.sequences[branchID]++
	return t.st.sequences[branchID], nil
}

func (t *memTx) GetWorkOrderForUpdate(_ context.Context, id string) (*domain.WorkOrder, error) {
	w, ok := t.st.workOrders[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	out := w.Clone()
	return &out, nil
}

func (t *memTx) InsertWorkOrder(_ context.Context, order domain.WorkOrder) error {
	if order.ID == "" {
		return store.ErrInvalidTransaction
	}
	if _, exists := t.st.workOrders[order.ID]; exists {
		return fmt.Errorf("work order %s: %w", order.ID, store.ErrConflict)
	}
	t.st.workOrders[order.ID] = order.Clone()
	return nil
}

func (t *memTx) UpdateWorkOrder(_ context.Context, order domain.WorkOrder) error {
	if _, exists := t.st.workOrders[order.ID]; !exists {
		return store.ErrNotFound
	}
	t.st.workOrders[order.ID] = order.Clone()
	return nil
}

func (t *memTx) InsertCashTransaction(_ context.Context, cash domain.CashTransaction) error {
	if cash.ID == "" || cash.Amount <= 0 {
		return store.ErrInvalidTransaction
	}
	t.st.cash = append(t.st.cash, cash)
	return nil
}

func (t *memTx) FindCashTransaction(_ context.Context, workOrderID string, category string) (*domain.CashTransaction, error) {
	for _, c := range t.st.cash {
		if c.WorkOrderID == workOrderID && c.Category == category {
			out := c
			return &out, nil
		}
	}
	return nil, store.ErrNotFound
}
