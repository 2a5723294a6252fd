package httpapi

import (
	"errors"
	"reflect"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"

	"repairpos/backend/internal/apperr"
	"repairpos/backend/internal/domain"
)

// RPC parameters use snake_case names. Line items keep the camelCase keys
// the work-order JSON already uses.

type workOrderParams struct {
	OrderID            string                `json:"order_id" validate:"max=64"`
	CustomerName       string                `json:"customer_name" validate:"max=200"`
	CustomerPhone      string                `json:"customer_phone" validate:"max=32"`
	VehicleID          string                `json:"vehicle_id" validate:"max=64"`
	VehicleModel       string                `json:"vehicle_model" validate:"max=200"`
	LicensePlate       string                `json:"license_plate" validate:"max=20"`
	IssueDescription   string                `json:"issue_description" validate:"max=4000"`
	TechnicianName     string                `json:"technician_name" validate:"max=200"`
	Notes              string                `json:"notes" validate:"max=4000"`
	Status             string                `json:"status"`
	LaborCost          int64                 `json:"labor_cost"`
	Discount           int64                 `json:"discount"`
	DiscountPercent    float64               `json:"discount_percent" validate:"gte=0,lte=100"`
	PartsUsed          []domain.PartLine     `json:"parts_used" validate:"max=200"`
	AdditionalServices *[]domain.ServiceLine `json:"additional_services"`
	Total              int64                 `json:"total"`
	BranchID           string                `json:"branch_id" validate:"max=32"`
	PaymentStatus      string                `json:"payment_status"`
	PaymentMethod      string                `json:"payment_method"`
	DepositAmount      int64                 `json:"deposit_amount"`
	AdditionalPayment  int64                 `json:"additional_payment"`
	IdempotencyKey     string                `json:"idempotency_key" validate:"max=128"`
	SessionID          string                `json:"session_id" validate:"max=128"`
}

func (p workOrderParams) draft() domain.WorkOrderDraft {
	d := domain.WorkOrderDraft{
		OrderID:           p.OrderID,
		CustomerName:      p.CustomerName,
		CustomerPhone:     p.CustomerPhone,
		VehicleID:         p.VehicleID,
		VehicleModel:      p.VehicleModel,
		LicensePlate:      p.LicensePlate,
		IssueDescription:  p.IssueDescription,
		TechnicianName:    p.TechnicianName,
		Notes:             p.Notes,
		Status:            p.Status,
		LaborCost:         p.LaborCost,
		Discount:          p.Discount,
		DiscountPercent:   p.DiscountPercent,
		PartsUsed:         p.PartsUsed,
		Total:             p.Total,
		BranchID:          p.BranchID,
		PaymentStatus:     p.PaymentStatus,
		PaymentMethod:     p.PaymentMethod,
		DepositAmount:     p.DepositAmount,
		AdditionalPayment: p.AdditionalPayment,
		IdempotencyKey:    p.IdempotencyKey,
		SessionID:         p.SessionID,
	}
	if p.AdditionalServices != nil {
		d.AdditionalServices = *p.AdditionalServices
		d.ServicesProvided = true
	}
	return d
}

type completePaymentParams struct {
	OrderID        string `json:"order_id" validate:"required,max=64"`
	PaymentMethod  string `json:"payment_method"`
	PaymentAmount  int64  `json:"payment_amount"`
	IdempotencyKey string `json:"idempotency_key" validate:"max=128"`
}

type refundParams struct {
	OrderID        string `json:"order_id" validate:"required,max=64"`
	RefundReason   string `json:"refund_reason" validate:"max=1000"`
	UserID         string `json:"user_id"`
	IdempotencyKey string `json:"idempotency_key" validate:"max=128"`
}

type orderIDParams struct {
	OrderID string `json:"order_id" validate:"required,max=64"`
}

type listParams struct {
	BranchID      string `json:"branch_id" validate:"max=32"`
	Status        string `json:"status"`
	PaymentStatus string `json:"payment_status"`
	CustomerPhone string `json:"customer_phone" validate:"max=32"`
	Limit         int    `json:"limit" validate:"gte=0,lte=500"`
}

type expenseParams struct {
	OrderID       string `json:"order_id" validate:"required,max=64"`
	Amount        int64  `json:"amount" validate:"gte=0"`
	PaymentMethod string `json:"payment_method"`
	Description   string `json:"description" validate:"max=1000"`
}

type cashParams struct {
	BranchID string `json:"branch_id" validate:"max=32"`
	From     string `json:"from" validate:"omitempty,datetime=2006-01-02"`
	To       string `json:"to" validate:"omitempty,datetime=2006-01-02"`
	Limit    int    `json:"limit" validate:"gte=0,lte=500"`
}

// window parses the inclusive day range. The returned upper bound is the
// start of the day after To.
func (p cashParams) window(loc *time.Location) (from time.Time, to time.Time) {
	if p.From != "" {
		from, _ = time.ParseInLocation(time.DateOnly, p.From, loc)
	}
	if p.To != "" {
		day, _ := time.ParseInLocation(time.DateOnly, p.To, loc)
		to = day.AddDate(0, 0, 1)
	}
	return from, to
}

type debtListParams struct {
	BranchID string `json:"branch_id" validate:"max=32"`
	Limit    int    `json:"limit" validate:"gte=0,lte=500"`
}

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// validate checks params and reports every failing field as INVALID_INPUT
// with a field to tag map.
func (a *API) validate(params any) error {
	err := a.validator.Struct(params)
	if err == nil {
		return nil
	}
	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) {
		return apperr.Wrap(apperr.InvalidInput, err)
	}
	detail := make(map[string]string, len(fieldErrs))
	for _, fe := range fieldErrs {
		detail[fe.Field()] = fe.Tag()
	}
	return apperr.New(apperr.InvalidInput, detail)
}
