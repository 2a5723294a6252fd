package debt

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"repairpos/backend/internal/apperr"
	"repairpos/backend/internal/domain"
	"repairpos/backend/internal/store/memory"
)

func handedOff() domain.WorkOrder {
	return domain.WorkOrder{
		ID:               "SC-HN-000007",
		BranchID:         "HN",
		CustomerName:     "Nguyễn Văn A",
		CustomerPhone:    "0912 345 678",
		VehicleModel:     "Honda Wave",
		IssueDescription: "Thay nhớt [MK: 1234]",
		Status:           domain.StatusHandedOff,
		PartsUsed:        []domain.PartLine{{PartID: "P1", PartName: "Nhớt", Quantity: 2, Price: 50000}},
		AdditionalServices: []domain.ServiceLine{
			{Description: "Rửa xe", Quantity: 1, Price: 20000},
		},
		Total:           130000,
		TotalPaid:       50000,
		RemainingAmount: 80000,
	}
}

func TestRecordFromWorkOrderIsIdempotentPerOrder(t *testing.T) {
	repo := memory.New()
	svc := NewService(repo, "VN", zaptest.NewLogger(t))
	ctx := context.Background()

	first, created, err := svc.RecordFromWorkOrder(ctx, handedOff())
	require.NoError(t, err)
	assert.True(t, created)
	assert.Equal(t, "+84912345678", first.CustomerID)
	assert.Equal(t, int64(80000), first.RemainingAmount)
	assert.Equal(t, int64(50000), first.PaidAmount)
	assert.Equal(t, "SC-HN-000007", first.WorkOrderID)

	second, created, err := svc.RecordFromWorkOrder(ctx, handedOff())
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, first.ID, second.ID)

	debts, err := repo.ListDebts(ctx, "HN", 0)
	require.NoError(t, err)
	assert.Len(t, debts, 1)
}

func TestRecordRejectsOrdersWithoutBalance(t *testing.T) {
	svc := NewService(memory.New(), "VN", nil)

	w := handedOff()
	w.RemainingAmount = 0
	_, _, err := svc.RecordFromWorkOrder(context.Background(), w)
	assert.Equal(t, apperr.InvalidInput, apperr.CodeOf(err))

	w = handedOff()
	w.Status = domain.StatusCompleted
	_, _, err = svc.RecordFromWorkOrder(context.Background(), w)
	assert.Equal(t, apperr.InvalidInput, apperr.CodeOf(err))
}

func TestCustomerIDFallsBackToWalkIn(t *testing.T) {
	svc := NewService(nil, "", nil)
	assert.Equal(t, "walkin-SC-1", svc.CustomerID("", "SC-1"))
	assert.Equal(t, "walkin-SC-1", svc.CustomerID("abc", "SC-1"))
}

func TestDescribeStripsUnlockCode(t *testing.T) {
	desc := Describe(handedOff())
	assert.NotContains(t, desc, "1234")
	assert.NotContains(t, desc, "MK")
	assert.Equal(t, "Honda Wave: Thay nhớt; Phụ tùng: Nhớt x2; Dịch vụ: Rửa xe x1", desc)

	assert.Equal(t, "Phiếu sửa chữa X", Describe(domain.WorkOrder{ID: "X"}))
}
