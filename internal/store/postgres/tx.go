package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"repairpos/backend/internal/domain"
	"repairpos/backend/internal/store"
)

type pgTx struct {
	tx *sql.Tx
}

func (t *pgTx) ClaimRequest(ctx context.Context, key string, operation string) (*store.RequestRecord, error) {
	if key == "" {
		return nil, store.ErrInvalidTransaction
	}
	// Blocks on the unique index while another transaction holds the same
	// key, then either claims it (that one rolled back) or sees its row.
	res, err := t.tx.ExecContext(ctx, `
		INSERT INTO work_order_requests (idempotency_key, operation, created_at)
		VALUES ($1,$2,now())
		ON CONFLICT (idempotency_key) DO NOTHING
	`, key, operation)
	if err != nil {
		return nil, err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return nil, err
	}
	if affected == 1 {
		return nil, nil
	}

	var rec store.RequestRecord
	var result []byte
	err = t.tx.QueryRowContext(ctx, `
		SELECT idempotency_key, operation, order_id, result, created_at
		FROM work_order_requests
		WHERE idempotency_key = $1
	`, key).Scan(&rec.Key, &rec.Operation, &rec.OrderID, &result, &rec.CreatedAt)
	if err != nil {
		return nil, err
	}
	rec.Result = result
	return &rec, nil
}

func (t *pgTx) CompleteRequest(ctx context.Context, key string, orderID string, result []byte) error {
	res, err := t.tx.ExecContext(ctx, `
		UPDATE work_order_requests
		SET order_id = $2, result = $3
		WHERE idempotency_key = $1
	`, key, orderID, string(result))
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return store.ErrNotFound
	}
	return nil
}

func (t *pgTx) GetParts(ctx context.Context, partIDs []string) (map[string]domain.Part, error) {
	result := make(map[string]domain.Part, len(partIDs))
	if len(partIDs) == 0 {
		return result, nil
	}

	rows, err := t.tx.QueryContext(ctx, `
		SELECT id, name, sku, price, cost_price, active
		FROM parts
		WHERE active = true AND id = ANY($1)
	`, partIDs)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		var p domain.Part
		if err := rows.Scan(&p.ID, &p.Name, &p.SKU, &p.Price, &p.CostPrice, &p.Active); err != nil {
			return nil, err
		}
		result[p.ID] = p
	}
	return result, rows.Err()
}

func (t *pgTx) LockStock(ctx context.Context, branchID string, partIDs []string) (map[string]int, error) {
	stock := make(map[string]int, len(partIDs))
	if len(partIDs) == 0 {
		return stock, nil
	}

	rows, err := t.tx.QueryContext(ctx, `
		SELECT part_id, qty
		FROM part_stocks
		WHERE branch_id = $1 AND part_id = ANY($2)
		ORDER BY part_id
		FOR UPDATE
	`, branchID, partIDs)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		var partID string
		var qty int
		if err := rows.Scan(&partID, &qty); err != nil {
			return nil, err
		}
		stock[partID] = qty
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	for _, id := range partIDs {
		if _, ok := stock[id]; !ok {
			stock[id] = 0
		}
	}
	return stock, nil
}

func (t *pgTx) AdjustStock(ctx context.Context, branchID string, partID string, delta int) (int, error) {
	var qty int
	if delta >= 0 {
		err := t.tx.QueryRowContext(ctx, `
			INSERT INTO part_stocks (branch_id, part_id, qty, updated_at)
			VALUES ($1,$2,$3,now())
			ON CONFLICT (branch_id, part_id)
			DO UPDATE SET qty = part_stocks.qty + EXCLUDED.qty, updated_at = now()
			RETURNING qty
		`, branchID, partID, delta).Scan(&qty)
		return qty, err
	}

	err := t.tx.QueryRowContext(ctx, `
		UPDATE part_stocks
		SET qty = qty + $3, updated_at = now()
		WHERE branch_id = $1 AND part_id = $2 AND qty + $3 >= 0
		RETURNING qty
	`, branchID, partID, delta).Scan(&qty)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, fmt.Errorf("part %s: %w", partID, store.ErrInsufficientStock)
	}
	return qty, err
}

func (t *pgTx) InsertMovement(ctx context.Context, m domain.InventoryMovement) error {
	if m.ID == "" || m.Quantity < 1 {
		return store.ErrInvalidTransaction
	}
	_, err := t.tx.ExecContext(ctx, `
		INSERT INTO inventory_movements (id, branch_id, part_id, type, quantity, work_order_id, note, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
	`, m.ID, m.BranchID, m.PartID, m.Type, m.Quantity, m.WorkOrderID, m.Note, m.CreatedAt)
	return err
}

func (t *pgTx) NextOrderSequence(ctx context.Context, branchID string) (int64, error) {
	var seq int64
	err := t.tx.QueryRowContext(ctx, `
		INSERT INTO work_order_sequences (branch_id, last_value)
		VALUES ($1, 1)
		ON CONFLICT (branch_id)
		DO UPDATE SET last_value = work_order_sequences.last_value + 1
		RETURNING last_value
	`, branchID).Scan(&seq)
	return seq, err
}

func (t *pgTx) GetWorkOrderForUpdate(ctx context.Context, id string) (*domain.WorkOrder, error) {
	rows, err := t.tx.QueryContext(ctx, selectWorkOrderSQL+` WHERE id = $1 FOR UPDATE`, id)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	orders, err := scanWorkOrders(rows)
	if err != nil {
		return nil, err
	}
	if len(orders) == 0 {
		return nil, store.ErrNotFound
	}
	return &orders[0], nil
}

func (t *pgTx) InsertWorkOrder(ctx context.Context, order domain.WorkOrder) error {
	if order.ID == "" {
		return store.ErrInvalidTransaction
	}
	args, err := workOrderArgs(order)
	if err != nil {
		return err
	}
	if _, err := t.tx.ExecContext(ctx, insertWorkOrderSQL, args...); err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("work order %s: %w", order.ID, store.ErrConflict)
		}
		return err
	}
	return nil
}

func (t *pgTx) UpdateWorkOrder(ctx context.Context, order domain.WorkOrder) error {
	args, err := updateWorkOrderArgs(order)
	if err != nil {
		return err
	}
	res, err := t.tx.ExecContext(ctx, updateWorkOrderSQL, args...)
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return store.ErrNotFound
	}
	return nil
}

func (t *pgTx) InsertCashTransaction(ctx context.Context, c domain.CashTransaction) error {
	if c.ID == "" || c.Amount <= 0 {
		return store.ErrInvalidTransaction
	}
	_, err := t.tx.ExecContext(ctx, `
		INSERT INTO cash_transactions (
			id, branch_id, type, category, amount, payment_source, work_order_id, description, created_by, created_at
		)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)
	`, c.ID, c.BranchID, c.Type, c.Category, c.Amount, c.PaymentSource,
		nullIfEmpty(c.WorkOrderID), nullIfEmpty(c.Description), nullIfEmpty(c.CreatedBy), c.CreatedAt)
	if isUniqueViolation(err) {
		return fmt.Errorf("cash transaction %s/%s: %w", c.WorkOrderID, c.Category, store.ErrConflict)
	}
	return err
}

func (t *pgTx) FindCashTransaction(ctx context.Context, workOrderID string, category string) (*domain.CashTransaction, error) {
	return scanCash(t.tx.QueryRowContext(ctx, selectCashSQL+`
		WHERE work_order_id = $1 AND category = $2
		ORDER BY created_at ASC
		LIMIT 1
	`, workOrderID, category))
}
