package postgres

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"repairpos/backend/internal/domain"
	"repairpos/backend/internal/store"
)

// workOrderColumns follows the flattened persistence naming produced by
// domain.WorkOrder.Record.
var workOrderColumns = []string{
	"id", "branchid", "customername", "customerphone", "vehicleid", "vehiclemodel",
	"licenseplate", "issuedescription", "technicianname", "notes", "status",
	"partsused", "additionalservices", "laborcost", "discount", "total",
	"paymentstatus", "paymentmethod", "depositamount", "depositdate", "deposittransactionid",
	"additionalpayment", "totalpaid", "remainingamount", "cashtransactionid", "paymentdate",
	"inventory_deducted", "refunded", "refunded_at", "refund_transaction_id", "refund_reason",
	"createdby", "creationdate", "updatedat",
}

var (
	selectWorkOrderSQL = `SELECT ` + strings.Join(workOrderColumns, ", ") + ` FROM work_orders`
	insertWorkOrderSQL = buildInsertWorkOrderSQL()
	updateWorkOrderSQL = buildUpdateWorkOrderSQL()
)

func buildInsertWorkOrderSQL() string {
	placeholders := make([]string, len(workOrderColumns))
	for i := range workOrderColumns {
		placeholders[i] = fmt.Sprintf("$%d", i+1)
	}
	return fmt.Sprintf(`INSERT INTO work_orders (%s) VALUES (%s)`,
		strings.Join(workOrderColumns, ", "), strings.Join(placeholders, ","))
}

func isUpdatable(col string) bool {
	return col != "id" && col != "creationdate"
}

// buildUpdateWorkOrderSQL sets every updatable column; id is $1.
func buildUpdateWorkOrderSQL() string {
	sets := make([]string, 0, len(workOrderColumns))
	for _, col := range workOrderColumns {
		if !isUpdatable(col) {
			continue
		}
		sets = append(sets, fmt.Sprintf("%s = $%d", col, len(sets)+2))
	}
	return fmt.Sprintf(`UPDATE work_orders SET %s WHERE id = $1`, strings.Join(sets, ", "))
}

// updateWorkOrderArgs matches the placeholders of updateWorkOrderSQL.
func updateWorkOrderArgs(order domain.WorkOrder) ([]any, error) {
	args, err := workOrderArgs(order)
	if err != nil {
		return nil, err
	}
	out := make([]any, 0, len(args))
	out = append(out, order.ID)
	for i, col := range workOrderColumns {
		if isUpdatable(col) {
			out = append(out, args[i])
		}
	}
	return out, nil
}

// workOrderArgs returns one argument per workOrderColumns entry.
func workOrderArgs(order domain.WorkOrder) ([]any, error) {
	rec := order.Record()
	args := make([]any, len(workOrderColumns))
	for i, col := range workOrderColumns {
		switch v := rec[col].(type) {
		case *time.Time:
			args[i] = nullTime(v)
		case []domain.PartLine, []domain.ServiceLine:
			b, err := json.Marshal(v)
			if err != nil {
				return nil, err
			}
			args[i] = string(b)
		default:
			args[i] = v
		}
	}
	return args, nil
}

func scanWorkOrders(rows *sql.Rows) ([]domain.WorkOrder, error) {
	cols, err := rows.Columns()
	if err != nil {
		return nil, err
	}
	out := make([]domain.WorkOrder, 0, 16)
	for rows.Next() {
		values := make([]any, len(cols))
		ptrs := make([]any, len(cols))
		for i := range values {
			ptrs[i] = &values[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, err
		}
		rec := make(domain.Record, len(cols))
		for i, col := range cols {
			rec[col] = values[i]
		}
		w, err := domain.WorkOrderFromRecord(rec)
		if err != nil {
			return nil, err
		}
		out = append(out, w)
	}
	return out, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

const selectCashSQL = `
	SELECT id, branch_id, type, category, amount, payment_source, work_order_id, description, created_by, created_at
	FROM cash_transactions`

func scanCash(row rowScanner) (*domain.CashTransaction, error) {
	var c domain.CashTransaction
	var workOrderID, description, createdBy sql.NullString
	if err := row.Scan(&c.ID, &c.BranchID, &c.Type, &c.Category, &c.Amount, &c.PaymentSource,
		&workOrderID, &description, &createdBy, &c.CreatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	c.WorkOrderID = workOrderID.String
	c.Description = description.String
	c.CreatedBy = createdBy.String
	c.CreatedAt = c.CreatedAt.UTC()
	return &c, nil
}

const selectDebtSQL = `
	SELECT id, branch_id, customer_id, customer_name, customer_phone, description,
		total_amount, paid_amount, remaining_amount, work_order_id, created_at
	FROM customer_debts`

func scanDebt(row rowScanner) (*domain.Debt, error) {
	var d domain.Debt
	if err := row.Scan(&d.ID, &d.BranchID, &d.CustomerID, &d.CustomerName, &d.CustomerPhone, &d.Description,
		&d.TotalAmount, &d.PaidAmount, &d.RemainingAmount, &d.WorkOrderID, &d.CreatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	d.CreatedAt = d.CreatedAt.UTC()
	return &d, nil
}

func nullIfEmpty(val string) any {
	if val == "" {
		return nil
	}
	return val
}
