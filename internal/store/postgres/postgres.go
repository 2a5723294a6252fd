package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"

	"repairpos/backend/internal/domain"
	"repairpos/backend/internal/store"
)

type Store struct {
	db *sql.DB
}

func New(ctx context.Context, databaseURL string) (*Store, error) {
	db, err := sql.Open("pgx", databaseURL)
	if err != nil {
		return nil, err
	}

	db.SetMaxIdleConns(8)
	db.SetMaxOpenConns(30)
	db.SetConnMaxLifetime(30 * time.Minute)

	pingCtx, cancel := context.WithTimeout(ctx, 6*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, err
	}

	return &Store{db: db}, nil
}

// NewWithDB wraps an already opened handle.
func NewWithDB(db *sql.DB) *Store {
	return &Store{db: db}
}

func (s *Store) DB() *sql.DB {
	return s.db
}

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// InTx runs fn at READ COMMITTED. Row locks taken by the Tx primitives
// serialize concurrent operations on the same order and stock rows.
func (s *Store) InTx(ctx context.Context, fn func(tx store.Tx) error) error {
	sqlTx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelReadCommitted})
	if err != nil {
		return err
	}
	defer func() { _ = sqlTx.Rollback() }()

	if err := fn(&pgTx{tx: sqlTx}); err != nil {
		return err
	}
	return sqlTx.Commit()
}

func (s *Store) GetWorkOrder(ctx context.Context, id string) (*domain.WorkOrder, error) {
	rows, err := s.db.QueryContext(ctx, selectWorkOrderSQL+` WHERE id = $1`, id)
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

func (s *Store) ListWorkOrders(ctx context.Context, filter domain.WorkOrderFilter) ([]domain.WorkOrder, error) {
	clauses := make([]string, 0, 4)
	args := make([]any, 0, 5)
	add := func(column string, value string) {
		if value == "" {
			return
		}
		args = append(args, value)
		clauses = append(clauses, fmt.Sprintf("%s = $%d", column, len(args)))
	}
	add("branchid", filter.BranchID)
	add("status", string(filter.Status))
	add("paymentstatus", string(filter.PaymentStatus))
	add("customerphone", filter.CustomerPhone)

	query := selectWorkOrderSQL
	if len(clauses) > 0 {
		query += " WHERE " + strings.Join(clauses, " AND ")
	}
	query += " ORDER BY creationdate DESC, id DESC"
	limit := filter.Limit
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	args = append(args, limit)
	query += fmt.Sprintf(" LIMIT $%d", len(args))

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanWorkOrders(rows)
}

func (s *Store) DeleteWorkOrder(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM work_orders WHERE id = $1`, id)
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

func (s *Store) ListMovements(ctx context.Context, workOrderID string) ([]domain.InventoryMovement, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, branch_id, part_id, type, quantity, work_order_id, note, created_at
		FROM inventory_movements
		WHERE work_order_id = $1
		ORDER BY created_at, id
	`, workOrderID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]domain.InventoryMovement, 0, 8)
	for rows.Next() {
		var m domain.InventoryMovement
		if err := rows.Scan(&m.ID, &m.BranchID, &m.PartID, &m.Type, &m.Quantity, &m.WorkOrderID, &m.Note, &m.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

func (s *Store) UpsertPart(ctx context.Context, part domain.Part) error {
	if strings.TrimSpace(part.ID) == "" || part.Price < 0 || part.CostPrice < 0 {
		return store.ErrInvalidTransaction
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO parts (id, name, sku, price, cost_price, active, created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6,now(),now())
		ON CONFLICT (id)
		DO UPDATE SET name = EXCLUDED.name, sku = EXCLUDED.sku, price = EXCLUDED.price,
			cost_price = EXCLUDED.cost_price, active = EXCLUDED.active, updated_at = now()
	`, part.ID, part.Name, part.SKU, part.Price, part.CostPrice, part.Active)
	return err
}

func (s *Store) GetStockMap(ctx context.Context, branchID string, partIDs []string) (map[string]int, error) {
	stockMap := make(map[string]int, len(partIDs))
	if len(partIDs) == 0 {
		return stockMap, nil
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT part_id, qty
		FROM part_stocks
		WHERE branch_id = $1 AND part_id = ANY($2)
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
		stockMap[partID] = qty
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	for _, id := range partIDs {
		if _, ok := stockMap[id]; !ok {
			stockMap[id] = 0
		}
	}
	return stockMap, nil
}

func (s *Store) SetStock(ctx context.Context, branchID string, partID string, qty int) error {
	if partID == "" || qty < 0 {
		return store.ErrInvalidTransaction
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO part_stocks (branch_id, part_id, qty, updated_at)
		VALUES ($1,$2,$3,now())
		ON CONFLICT (branch_id, part_id)
		DO UPDATE SET qty = EXCLUDED.qty, updated_at = now()
	`, branchID, partID, qty)
	if isForeignKeyViolation(err) {
		return store.ErrNotFound
	}
	return err
}

func (s *Store) ListCashTransactions(ctx context.Context, branchID string, from time.Time, to time.Time, limit int) ([]domain.CashTransaction, error) {
	clauses := []string{"1 = 1"}
	args := make([]any, 0, 4)
	if branchID != "" {
		args = append(args, branchID)
		clauses = append(clauses, fmt.Sprintf("branch_id = $%d", len(args)))
	}
	if !from.IsZero() {
		args = append(args, from)
		clauses = append(clauses, fmt.Sprintf("created_at >= $%d", len(args)))
	}
	if !to.IsZero() {
		args = append(args, to)
		clauses = append(clauses, fmt.Sprintf("created_at < $%d", len(args)))
	}
	if limit <= 0 || limit > 5000 {
		limit = 1000
	}
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, fmt.Sprintf(selectCashSQL+`
		WHERE %s
		ORDER BY created_at ASC, id ASC
		LIMIT $%d
	`, strings.Join(clauses, " AND "), len(args)), args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]domain.CashTransaction, 0, 64)
	for rows.Next() {
		c, err := scanCash(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *c)
	}
	return out, rows.Err()
}

func (s *Store) GetPaymentSourceBalances(ctx context.Context, branchID string) ([]domain.PaymentSourceBalance, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT payment_source,
			COALESCE(SUM(CASE WHEN type = 'income' THEN amount ELSE 0 END), 0) AS income,
			COALESCE(SUM(CASE WHEN type = 'expense' THEN amount ELSE 0 END), 0) AS expense
		FROM cash_transactions
		WHERE ($1 = '' OR branch_id = $1)
		GROUP BY payment_source
		ORDER BY payment_source
	`, branchID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]domain.PaymentSourceBalance, 0, 2)
	for rows.Next() {
		var b domain.PaymentSourceBalance
		if err := rows.Scan(&b.PaymentSource, &b.Income, &b.Expense); err != nil {
			return nil, err
		}
		b.Balance = b.Income - b.Expense
		out = append(out, b)
	}
	return out, rows.Err()
}

func (s *Store) CreateDebtIfAbsent(ctx context.Context, debt domain.Debt) (*domain.Debt, bool, error) {
	if debt.WorkOrderID == "" || debt.ID == "" {
		return nil, false, store.ErrInvalidTransaction
	}
	if debt.CreatedAt.IsZero() {
		debt.CreatedAt = time.Now().UTC()
	}

	res, err := s.db.ExecContext(ctx, `
		INSERT INTO customer_debts (
			id, branch_id, customer_id, customer_name, customer_phone, description,
			total_amount, paid_amount, remaining_amount, work_order_id, created_at
		)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)
		ON CONFLICT (work_order_id) DO NOTHING
	`, debt.ID, debt.BranchID, debt.CustomerID, debt.CustomerName, debt.CustomerPhone, debt.Description,
		debt.TotalAmount, debt.PaidAmount, debt.RemainingAmount, debt.WorkOrderID, debt.CreatedAt)
	if err != nil {
		return nil, false, err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return nil, false, err
	}
	if affected == 1 {
		return &debt, true, nil
	}

	existing, err := scanDebt(s.db.QueryRowContext(ctx, selectDebtSQL+` WHERE work_order_id = $1`, debt.WorkOrderID))
	if err != nil {
		return nil, false, err
	}
	return existing, false, nil
}

func (s *Store) ListDebts(ctx context.Context, branchID string, limit int) ([]domain.Debt, error) {
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx, selectDebtSQL+`
		WHERE ($1 = '' OR branch_id = $1)
		ORDER BY created_at DESC
		LIMIT $2
	`, branchID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]domain.Debt, 0, 16)
	for rows.Next() {
		d, err := scanDebt(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *d)
	}
	return out, rows.Err()
}

func (s *Store) CreateUser(ctx context.Context, user domain.UserAccount) error {
	user.Username = strings.ToLower(strings.TrimSpace(user.Username))
	if user.Username == "" || strings.TrimSpace(user.Password) == "" {
		return store.ErrInvalidTransaction
	}
	if user.Role == "" {
		user.Role = domain.RoleStaff
	}
	if user.CreatedAt.IsZero() {
		user.CreatedAt = time.Now().UTC()
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO app_users (username, password, role, branch_id, active, created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6,now())
	`, user.Username, user.Password, user.Role, user.BranchID, user.Active, user.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return store.ErrInvalidTransaction
		}
		return err
	}
	return nil
}

func (s *Store) ListUsers(ctx context.Context) ([]domain.UserAccount, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT username, password, role, branch_id, active, created_at
		FROM app_users
		ORDER BY username ASC
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	users := make([]domain.UserAccount, 0, 16)
	for rows.Next() {
		var user domain.UserAccount
		if err := rows.Scan(&user.Username, &user.Password, &user.Role, &user.BranchID, &user.Active, &user.CreatedAt); err != nil {
			return nil, err
		}
		user.CreatedAt = user.CreatedAt.UTC()
		users = append(users, user)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return users, nil
}

func (s *Store) UpdateUserPassword(ctx context.Context, username string, password string) error {
	username = strings.ToLower(strings.TrimSpace(username))
	if username == "" || strings.TrimSpace(password) == "" {
		return store.ErrInvalidTransaction
	}

	res, err := s.db.ExecContext(ctx, `
		UPDATE app_users
		SET password = $2, updated_at = now()
		WHERE username = $1
	`, username, password)
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

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505"
	}
	return false
}

func isForeignKeyViolation(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23503"
	}
	return false
}

func nullTime(val *time.Time) any {
	if val == nil {
		return nil
	}
	return *val
}
