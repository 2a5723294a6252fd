package postgres

import (
	"context"
	"database/sql/driver"
	"errors"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"repairpos/backend/internal/domain"
	"repairpos/backend/internal/store"
)

// passThrough lets slice arguments reach the mock the way pgx accepts them.
type passThrough struct{}

func (passThrough) ConvertValue(v any) (driver.Value, error) {
	return v, nil
}

func newMockStore(t *testing.T) (*Store, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New(sqlmock.ValueConverterOption(passThrough{}))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return NewWithDB(db), mock
}

func q(sql string) string {
	return regexp.QuoteMeta(sql)
}

func TestAdjustStockGuardsAgainstNegativeQuantity(t *testing.T) {
	s, mock := newMockStore(t)
	ctx := context.Background()

	mock.ExpectBegin()
	mock.ExpectQuery(q("UPDATE part_stocks")).
		WithArgs("HN", "P1", -10).
		WillReturnRows(sqlmock.NewRows([]string{"qty"}))
	mock.ExpectRollback()

	err := s.InTx(ctx, func(tx store.Tx) error {
		_, err := tx.AdjustStock(ctx, "HN", "P1", -10)
		return err
	})
	require.ErrorIs(t, err, store.ErrInsufficientStock)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestAdjustStockRestoresWithUpsert(t *testing.T) {
	s, mock := newMockStore(t)
	ctx := context.Background()

	mock.ExpectBegin()
	mock.ExpectQuery(q("INSERT INTO part_stocks")).
		WithArgs("HN", "P1", 2).
		WillReturnRows(sqlmock.NewRows([]string{"qty"}).AddRow(5))
	mock.ExpectCommit()

	var qty int
	err := s.InTx(ctx, func(tx store.Tx) error {
		var err error
		qty, err = tx.AdjustStock(ctx, "HN", "P1", 2)
		return err
	})
	require.NoError(t, err)
	assert.Equal(t, 5, qty)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestLockStockFillsMissingRowsWithZero(t *testing.T) {
	s, mock := newMockStore(t)
	ctx := context.Background()

	mock.ExpectBegin()
	mock.ExpectQuery(q("FROM part_stocks")).
		WithArgs("HN", []string{"P1", "P2"}).
		WillReturnRows(sqlmock.NewRows([]string{"part_id", "qty"}).AddRow("P1", 5))
	mock.ExpectCommit()

	var stock map[string]int
	require.NoError(t, s.InTx(ctx, func(tx store.Tx) error {
		var err error
		stock, err = tx.LockStock(ctx, "HN", []string{"P1", "P2"})
		return err
	}))
	assert.Equal(t, map[string]int{"P1": 5, "P2": 0}, stock)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestClaimRequestReturnsExistingRecord(t *testing.T) {
	s, mock := newMockStore(t)
	ctx := context.Background()
	created := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)

	mock.ExpectBegin()
	mock.ExpectExec(q("INSERT INTO work_order_requests")).
		WithArgs("idem-1", "create").
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery(q("FROM work_order_requests")).
		WithArgs("idem-1").
		WillReturnRows(sqlmock.NewRows([]string{"idempotency_key", "operation", "order_id", "result", "created_at"}).
			AddRow("idem-1", "create", "SC-HN-000001", []byte(`{"orderId":"SC-HN-000001"}`), created))
	mock.ExpectCommit()

	var rec *store.RequestRecord
	require.NoError(t, s.InTx(ctx, func(tx store.Tx) error {
		var err error
		rec, err = tx.ClaimRequest(ctx, "idem-1", "create")
		return err
	}))
	require.NotNil(t, rec)
	assert.Equal(t, "SC-HN-000001", rec.OrderID)
	assert.JSONEq(t, `{"orderId":"SC-HN-000001"}`, string(rec.Result))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestClaimRequestClaimsNewKey(t *testing.T) {
	s, mock := newMockStore(t)
	ctx := context.Background()

	mock.ExpectBegin()
	mock.ExpectExec(q("INSERT INTO work_order_requests")).
		WithArgs("idem-2", "refund").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	require.NoError(t, s.InTx(ctx, func(tx store.Tx) error {
		rec, err := tx.ClaimRequest(ctx, "idem-2", "refund")
		assert.Nil(t, rec)
		return err
	}))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestInsertWorkOrderMapsUniqueViolationToConflict(t *testing.T) {
	s, mock := newMockStore(t)
	ctx := context.Background()

	mock.ExpectBegin()
	mock.ExpectExec(q("INSERT INTO work_orders")).
		WillReturnError(&pgconn.PgError{Code: "23505"})
	mock.ExpectRollback()

	err := s.InTx(ctx, func(tx store.Tx) error {
		return tx.InsertWorkOrder(ctx, domain.WorkOrder{ID: "SC-HN-000001", BranchID: "HN", Status: domain.StatusIntake})
	})
	require.ErrorIs(t, err, store.ErrConflict)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestUpdateWorkOrderArgsMatchPlaceholders(t *testing.T) {
	args, err := updateWorkOrderArgs(domain.WorkOrder{ID: "SC-1"})
	require.NoError(t, err)
	assert.Len(t, args, len(workOrderColumns)-1)
	assert.Equal(t, "SC-1", args[0])
	assert.Contains(t, updateWorkOrderSQL, "WHERE id = $1")
	assert.NotContains(t, updateWorkOrderSQL, "creationdate")
}

func TestGetWorkOrderDecodesFlattenedRow(t *testing.T) {
	s, mock := newMockStore(t)
	ctx := context.Background()
	now := time.Date(2026, 4, 5, 6, 7, 8, 0, time.UTC)

	values := map[string]driver.Value{
		"id": "SC-HN-000007", "branchid": "HN", "customername": "Lê C", "customerphone": "0987654321",
		"status": string(domain.StatusHandedOff), "paymentstatus": string(domain.PaymentPartial),
		"partsused":          []byte(`[{"partId":"P1","partName":"Lốp","quantity":2,"price":50000,"costPrice":30000}]`),
		"additionalservices": []byte(`[]`),
		"laborcost":          int64(30000), "total": int64(130000), "depositamount": int64(50000),
		"totalpaid": int64(50000), "remainingamount": int64(80000), "inventory_deducted": true,
		"creationdate": now, "updatedat": now,
	}
	row := make([]driver.Value, len(workOrderColumns))
	for i, col := range workOrderColumns {
		row[i] = values[col]
	}

	mock.ExpectQuery(q("FROM work_orders WHERE id = $1")).
		WithArgs("SC-HN-000007").
		WillReturnRows(sqlmock.NewRows(workOrderColumns).AddRow(row...))

	order, err := s.GetWorkOrder(ctx, "SC-HN-000007")
	require.NoError(t, err)
	assert.Equal(t, "Lê C", order.CustomerName)
	assert.Equal(t, domain.StatusHandedOff, order.Status)
	assert.EqualValues(t, 80000, order.RemainingAmount)
	assert.True(t, order.InventoryDeducted)
	require.Len(t, order.PartsUsed, 1)
	assert.Equal(t, 2, order.PartsUsed[0].Quantity)
	assert.Nil(t, order.DepositDate)
	assert.True(t, now.Equal(order.CreatedAt))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestGetWorkOrderNotFound(t *testing.T) {
	s, mock := newMockStore(t)
	mock.ExpectQuery(q("FROM work_orders")).WillReturnRows(sqlmock.NewRows(workOrderColumns))

	_, err := s.GetWorkOrder(context.Background(), "missing")
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestCreateDebtIfAbsentReturnsExistingDebt(t *testing.T) {
	s, mock := newMockStore(t)
	ctx := context.Background()
	created := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	mock.ExpectExec(q("INSERT INTO customer_debts")).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery(q("FROM customer_debts")).
		WithArgs("SC-1").
		WillReturnRows(sqlmock.NewRows([]string{
			"id", "branch_id", "customer_id", "customer_name", "customer_phone", "description",
			"total_amount", "paid_amount", "remaining_amount", "work_order_id", "created_at",
		}).AddRow("debt-old", "HN", "+84912345678", "A", "0912345678", "Lốp x2", 130000, 50000, 80000, "SC-1", created))

	debt, createdNow, err := s.CreateDebtIfAbsent(ctx, domain.Debt{ID: "debt-new", WorkOrderID: "SC-1", BranchID: "HN"})
	require.NoError(t, err)
	assert.False(t, createdNow)
	assert.Equal(t, "debt-old", debt.ID)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestSetStockUnknownPart(t *testing.T) {
	s, mock := newMockStore(t)
	mock.ExpectExec(q("INSERT INTO part_stocks")).
		WithArgs("HN", "nope", 3).
		WillReturnError(&pgconn.PgError{Code: "23503"})

	err := s.SetStock(context.Background(), "HN", "nope", 3)
	assert.ErrorIs(t, err, store.ErrNotFound)
	assert.ErrorIs(t, s.SetStock(context.Background(), "HN", "", 3), store.ErrInvalidTransaction)
}

func TestInTxPropagatesCallbackError(t *testing.T) {
	s, mock := newMockStore(t)
	boom := errors.New("boom")
	mock.ExpectBegin()
	mock.ExpectRollback()

	err := s.InTx(context.Background(), func(store.Tx) error { return boom })
	assert.ErrorIs(t, err, boom)
	require.NoError(t, mock.ExpectationsWereMet())
}
