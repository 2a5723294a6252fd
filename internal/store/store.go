package store

import (
	"context"
	"errors"
	"time"

	"repairpos/backend/internal/domain"
)

var (
	ErrNotFound           = errors.New("not found")
	ErrInsufficientStock  = errors.New("insufficient stock")
	ErrInvalidTransaction = errors.New("invalid transaction")
	ErrConflict           = errors.New("conflict")
)

// RequestRecord is a claimed idempotency key and, once the owning
// transaction committed, the serialized result it produced.
type RequestRecord struct {
	Key       string
	Operation string
	OrderID   string
	Result    []byte
	CreatedAt time.Time
}

// Tx is the set of primitives an atomic work-order operation runs against.
// Every call participates in the enclosing transaction.
type Tx interface {
	// ClaimRequest records key for operation. When the key was already
	// claimed by a committed transaction the existing record is returned.
	ClaimRequest(ctx context.Context, key string, operation string) (*RequestRecord, error)
	CompleteRequest(ctx context.Context, key string, orderID string, result []byte) error

	GetParts(ctx context.Context, partIDs []string) (map[string]domain.Part, error)
	// LockStock locks the stock rows of partIDs in id order and returns
	// their quantities. Missing rows read as zero.
	LockStock(ctx context.Context, branchID string, partIDs []string) (map[string]int, error)
	// AdjustStock adds delta to a stock row and returns the new quantity.
	// A result below zero fails with ErrInsufficientStock.
	AdjustStock(ctx context.Context, branchID string, partID string, delta int) (int, error)
	InsertMovement(ctx context.Context, movement domain.InventoryMovement) error

	NextOrderSequence(ctx context.Context, branchID string) (int64, error)
	GetWorkOrderForUpdate(ctx context.Context, id string) (*domain.WorkOrder, error)
	InsertWorkOrder(ctx context.Context, order domain.WorkOrder) error
	UpdateWorkOrder(ctx context.Context, order domain.WorkOrder) error

	InsertCashTransaction(ctx context.Context, cash domain.CashTransaction) error
	FindCashTransaction(ctx context.Context, workOrderID string, category string) (*domain.CashTransaction, error)
}

type Repository interface {
	// InTx runs fn in one transaction. Any error rolls every effect back.
	InTx(ctx context.Context, fn func(tx Tx) error) error

	GetWorkOrder(ctx context.Context, id string) (*domain.WorkOrder, error)
	ListWorkOrders(ctx context.Context, filter domain.WorkOrderFilter) ([]domain.WorkOrder, error)
	DeleteWorkOrder(ctx context.Context, id string) error
	ListMovements(ctx context.Context, workOrderID string) ([]domain.InventoryMovement, error)

	UpsertPart(ctx context.Context, part domain.Part) error
	GetStockMap(ctx context.Context, branchID string, partIDs []string) (map[string]int, error)
	SetStock(ctx context.Context, branchID string, partID string, qty int) error

	ListCashTransactions(ctx context.Context, branchID string, from time.Time, to time.Time, limit int) ([]domain.CashTransaction, error)
	GetPaymentSourceBalances(ctx context.Context, branchID string) ([]domain.PaymentSourceBalance, error)

	// CreateDebtIfAbsent stores debt unless one already exists for its work
	// order; the stored debt is returned either way.
	CreateDebtIfAbsent(ctx context.Context, debt domain.Debt) (*domain.Debt, bool, error)
	ListDebts(ctx context.Context, branchID string, limit int) ([]domain.Debt, error)

	CreateUser(ctx context.Context, user domain.UserAccount) error
	ListUsers(ctx context.Context) ([]domain.UserAccount, error)
	UpdateUserPassword(ctx context.Context, username string, password string) error
}
