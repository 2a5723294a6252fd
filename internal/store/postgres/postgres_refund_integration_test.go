package postgres

import (
	"context"
	"fmt"
	"os"
	"testing"
	"time"

	"go.uber.org/zap/zaptest"

	"repairpos/backend/internal/domain"
	"repairpos/backend/internal/service"
)

func TestRefundRestocksPartsAndBooksOneExpense(t *testing.T) {
	databaseURL := os.Getenv("REPAIRPOS_TEST_DATABASE_URL")
	if databaseURL == "" {
		t.Skip("set REPAIRPOS_TEST_DATABASE_URL to run postgres integration test")
	}

	ctx := context.Background()
	if err := Migrate(databaseURL, zaptest.NewLogger(t)); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	s, err := New(ctx, databaseURL)
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	t.Cleanup(func() {
		_ = s.Close()
	})

	stamp := time.Now().UnixNano()
	branchID := fmt.Sprintf("IT%d", stamp%1_000_000)
	partID := fmt.Sprintf("PT-IT-%d", stamp)

	t.Cleanup(func() {
		_, _ = s.db.ExecContext(ctx, `DELETE FROM inventory_movements WHERE branch_id = $1`, branchID)
		_, _ = s.db.ExecContext(ctx, `DELETE FROM cash_transactions WHERE branch_id = $1`, branchID)
		_, _ = s.db.ExecContext(ctx, `DELETE FROM work_orders WHERE branchid = $1`, branchID)
		_, _ = s.db.ExecContext(ctx, `DELETE FROM work_order_sequences WHERE branch_id = $1`, branchID)
		_, _ = s.db.ExecContext(ctx, `DELETE FROM part_stocks WHERE branch_id = $1`, branchID)
		_, _ = s.db.ExecContext(ctx, `DELETE FROM parts WHERE id = $1`, partID)
	})

	if err := s.UpsertPart(ctx, domain.Part{ID: partID, Name: "Nhớt thử nghiệm", Price: 120000, CostPrice: 85000, Active: true}); err != nil {
		t.Fatalf("upsert part: %v", err)
	}
	if err := s.SetStock(ctx, branchID, partID, 10); err != nil {
		t.Fatalf("seed stock: %v", err)
	}

	engine := service.New(s, service.Options{DefaultBranchID: branchID, Logger: zaptest.NewLogger(t)})
	manager := domain.Caller{UserID: "manager", Role: domain.RoleManager, BranchID: branchID}

	created, err := engine.CreateWorkOrder(ctx, manager, domain.WorkOrderDraft{
		CustomerName:      "Khách tích hợp",
		CustomerPhone:     "0912345678",
		LaborCost:         30000,
		PartsUsed:         []domain.PartLine{{PartID: partID, Quantity: 3, Price: 120000}},
		PaymentMethod:     domain.PaymentMethodCash,
		AdditionalPayment: 390000,
	})
	if err != nil {
		t.Fatalf("create work order: %v", err)
	}
	if !created.InventoryDeducted {
		t.Fatalf("expected stock to be deducted for a paid order")
	}
	assertStock(t, s, branchID, partID, 7)

	key := fmt.Sprintf("refund-it-%d", stamp)
	refund, err := engine.RefundWorkOrder(ctx, manager, domain.RefundRequest{OrderID: created.OrderID, Reason: "khách đổi ý", IdempotencyKey: key})
	if err != nil {
		t.Fatalf("refund: %v", err)
	}
	if refund.RefundAmount != 390000 {
		t.Fatalf("expected refund of 390000, got %d", refund.RefundAmount)
	}
	assertStock(t, s, branchID, partID, 10)

	replay, err := engine.RefundWorkOrder(ctx, manager, domain.RefundRequest{OrderID: created.OrderID, IdempotencyKey: key})
	if err != nil {
		t.Fatalf("replayed refund: %v", err)
	}
	if !replay.Replayed || replay.RefundTransactionID != refund.RefundTransactionID {
		t.Fatalf("expected replay of the first refund, got %+v", replay)
	}

	var refunds int
	if err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM cash_transactions WHERE work_order_id = $1 AND category = $2`,
		created.OrderID, domain.CategoryServiceRefund,
	).Scan(&refunds); err != nil {
		t.Fatalf("count refunds: %v", err)
	}
	if refunds != 1 {
		t.Fatalf("expected exactly 1 refund row, got %d", refunds)
	}
	assertStock(t, s, branchID, partID, 10)
}

func assertStock(t *testing.T, s *Store, branchID string, partID string, want int) {
	t.Helper()
	stock, err := s.GetStockMap(context.Background(), branchID, []string{partID})
	if err != nil {
		t.Fatalf("stock map: %v", err)
	}
	if stock[partID] != want {
		t.Fatalf("expected stock %d, got %d", want, stock[partID])
	}
}
