// Package debt records the balance a customer still owes when a work order
// is handed off unpaid.
package debt

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/ttacon/libphonenumber"
	"go.uber.org/zap"

	"repairpos/backend/internal/apperr"
	"repairpos/backend/internal/domain"
	"repairpos/backend/internal/workorder"
	"repairpos/backend/internal/xid"
)

type Repository interface {
	CreateDebtIfAbsent(ctx context.Context, debt domain.Debt) (*domain.Debt, bool, error)
}

type Service struct {
	repo   Repository
	region string
	logger *zap.Logger
	now    func() time.Time
}

func NewService(repo Repository, region string, logger *zap.Logger) *Service {
	if region == "" {
		region = "VN"
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{repo: repo, region: region, logger: logger, now: time.Now}
}

// Qualifies reports whether the order leaves an open balance at hand-off.
func Qualifies(w domain.WorkOrder) bool {
	return w.Status == domain.StatusHandedOff && w.RemainingAmount > 0 && !w.Refunded
}

// RecordFromWorkOrder is safe to call more than once for the same order: the
// existing debt is returned with created=false.
func (s *Service) RecordFromWorkOrder(ctx context.Context, w domain.WorkOrder) (*domain.Debt, bool, error) {
	if !Qualifies(w) {
		return nil, false, apperr.New(apperr.InvalidInput, map[string]any{
			"orderId":         w.ID,
			"status":          w.Status,
			"remainingAmount": w.RemainingAmount,
		})
	}

	d := domain.Debt{
		ID:              xid.New("debt"),
		BranchID:        w.BranchID,
		CustomerID:      s.CustomerID(w.CustomerPhone, w.ID),
		CustomerName:    strings.TrimSpace(w.CustomerName),
		CustomerPhone:   strings.TrimSpace(w.CustomerPhone),
		Description:     Describe(w),
		TotalAmount:     w.Total,
		PaidAmount:      w.TotalPaid,
		RemainingAmount: w.RemainingAmount,
		WorkOrderID:     w.ID,
		CreatedAt:       s.now().UTC(),
	}
	if d.CustomerName == "" {
		d.CustomerName = "Khách lẻ"
	}

	stored, created, err := s.repo.CreateDebtIfAbsent(ctx, d)
	if err != nil {
		return nil, false, apperr.Wrap(apperr.OperationFailed, err)
	}
	if created {
		s.logger.Info("debt recorded",
			zap.String("order_id", w.ID),
			zap.String("customer_id", stored.CustomerID),
			zap.Int64("remaining", stored.RemainingAmount))
	}
	return stored, created, nil
}

// CustomerID is the phone number in E.164 form, or a synthesized walk-in id
// when the phone is missing or unparseable.
func (s *Service) CustomerID(phone string, orderID string) string {
	phone = strings.TrimSpace(phone)
	if phone != "" {
		num, err := libphonenumber.Parse(phone, s.region)
		if err == nil && libphonenumber.IsValidNumber(num) {
			return libphonenumber.Format(num, libphonenumber.E164)
		}
	}
	return "walkin-" + orderID
}

func Describe(w domain.WorkOrder) string {
	var sections []string

	head := strings.TrimSpace(w.VehicleModel)
	if issue := workorder.StripUnlockCode(w.IssueDescription); issue != "" {
		if head != "" {
			head += ": "
		}
		head += issue
	}
	if head != "" {
		sections = append(sections, head)
	}

	if len(w.PartsUsed) > 0 {
		items := make([]string, 0, len(w.PartsUsed))
		for _, p := range w.PartsUsed {
			items = append(items, fmt.Sprintf("%s x%d", p.PartName, p.Quantity))
		}
		sections = append(sections, "Phụ tùng: "+strings.Join(items, ", "))
	}
	if len(w.AdditionalServices) > 0 {
		items := make([]string, 0, len(w.AdditionalServices))
		for _, svc := range w.AdditionalServices {
			items = append(items, fmt.Sprintf("%s x%d", svc.Description, svc.Quantity))
		}
		sections = append(sections, "Dịch vụ: "+strings.Join(items, ", "))
	}
	if notes := workorder.StripUnlockCode(w.Notes); notes != "" {
		sections = append(sections, "Ghi chú: "+notes)
	}

	desc := strings.Join(sections, "; ")
	if desc == "" {
		desc = "Phiếu sửa chữa " + w.ID
	}
	return desc
}
