package domain

import "time"

type WorkOrderStatus string

const (
	StatusIntake    WorkOrderStatus = "Tiếp nhận"
	StatusInRepair  WorkOrderStatus = "Đang sửa"
	StatusCompleted WorkOrderStatus = "Đã sửa xong"
	StatusHandedOff WorkOrderStatus = "Trả máy"
)

type PaymentStatus string

const (
	PaymentUnpaid  PaymentStatus = "unpaid"
	PaymentPartial PaymentStatus = "partial"
	PaymentPaid    PaymentStatus = "paid"
)

const (
	PaymentMethodCash = "cash"
	PaymentMethodBank = "bank"
)

const (
	CashIncome  = "income"
	CashExpense = "expense"
)

// Cash ledger categories booked by the work-order engine.
const (
	CategoryServiceDeposit    = "service_deposit"
	CategoryServiceIncome     = "service_income"
	CategoryServiceRefund     = "service_refund"
	CategoryOutsourcing       = "outsourcing_expense"
	CategoryServiceAdjustment = "service_adjustment_expense"
)

const (
	MovementExport = "export"
	MovementImport = "import"
)

const (
	RoleOwner      = "owner"
	RoleManager    = "manager"
	RoleStaff      = "staff"
	RoleTechnician = "technician"
)

// Caller is the identity every engine operation runs on behalf of.
type Caller struct {
	UserID   string `json:"user_id"`
	Role     string `json:"role"`
	BranchID string `json:"branch_id"`
}

func (c Caller) IsZero() bool {
	return c.UserID == ""
}

func (c Caller) CanManage() bool {
	return c.Role == RoleOwner || c.Role == RoleManager
}

type PartLine struct {
	PartID    string `json:"partId"`
	PartName  string `json:"partName"`
	Quantity  int    `json:"quantity"`
	Price     int64  `json:"price"`
	CostPrice int64  `json:"costPrice"`
}

type ServiceLine struct {
	ID          string `json:"id,omitempty"`
	Description string `json:"description"`
	Quantity    int    `json:"quantity"`
	Price       int64  `json:"price"`
	CostPrice   int64  `json:"costPrice"`
}

type WorkOrder struct {
	ID                   string          `json:"id"`
	BranchID             string          `json:"branchId"`
	CustomerName         string          `json:"customerName"`
	CustomerPhone        string          `json:"customerPhone"`
	VehicleID            string          `json:"vehicleId,omitempty"`
	VehicleModel         string          `json:"vehicleModel,omitempty"`
	LicensePlate         string          `json:"licensePlate,omitempty"`
	IssueDescription     string          `json:"issueDescription,omitempty"`
	TechnicianName       string          `json:"technicianName,omitempty"`
	Notes                string          `json:"notes,omitempty"`
	Status               WorkOrderStatus `json:"status"`
	PartsUsed            []PartLine      `json:"partsUsed"`
	AdditionalServices   []ServiceLine   `json:"additionalServices"`
	LaborCost            int64           `json:"laborCost"`
	Discount             int64           `json:"discount"`
	Total                int64           `json:"total"`
	PaymentStatus        PaymentStatus   `json:"paymentStatus"`
	PaymentMethod        string          `json:"paymentMethod,omitempty"`
	DepositAmount        int64           `json:"depositAmount"`
	DepositDate          *time.Time      `json:"depositDate,omitempty"`
	DepositTransactionID string          `json:"depositTransactionId,omitempty"`
	AdditionalPayment    int64           `json:"additionalPayment"`
	TotalPaid            int64           `json:"totalPaid"`
	RemainingAmount      int64           `json:"remainingAmount"`
	CashTransactionID    string          `json:"cashTransactionId,omitempty"`
	PaymentDate          *time.Time      `json:"paymentDate,omitempty"`
	InventoryDeducted    bool            `json:"inventoryDeducted"`
	Refunded             bool            `json:"refunded"`
	RefundedAt           *time.Time      `json:"refunded_at,omitempty"`
	RefundTransactionID  string          `json:"refund_transaction_id,omitempty"`
	RefundReason         string          `json:"refund_reason,omitempty"`
	CreatedBy            string          `json:"createdBy,omitempty"`
	CreatedAt            time.Time       `json:"createdAt"`
	UpdatedAt            time.Time       `json:"updatedAt"`
}

// Clone returns a deep copy so callers can mutate line items freely.
func (w WorkOrder) Clone() WorkOrder {
	out := w
	out.PartsUsed = append([]PartLine(nil), w.PartsUsed...)
	out.AdditionalServices = append([]ServiceLine(nil), w.AdditionalServices...)
	return out
}

type Part struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	SKU       string `json:"sku,omitempty"`
	Price     int64  `json:"price"`
	CostPrice int64  `json:"costPrice"`
	Active    bool   `json:"active"`
}

type CashTransaction struct {
	ID            string    `json:"id"`
	BranchID      string    `json:"branchId"`
	Type          string    `json:"type"`
	Category      string    `json:"category"`
	Amount        int64     `json:"amount"`
	PaymentSource string    `json:"paymentSource"`
	WorkOrderID   string    `json:"workOrderId,omitempty"`
	Description   string    `json:"description,omitempty"`
	CreatedBy     string    `json:"createdBy,omitempty"`
	CreatedAt     time.Time `json:"createdAt"`
}

type InventoryMovement struct {
	ID          string    `json:"id"`
	BranchID    string    `json:"branchId"`
	PartID      string    `json:"partId"`
	Type        string    `json:"type"`
	Quantity    int       `json:"quantity"`
	WorkOrderID string    `json:"workOrderId,omitempty"`
	Note        string    `json:"note,omitempty"`
	CreatedAt   time.Time `json:"createdAt"`
}

type Debt struct {
	ID              string    `json:"id"`
	BranchID        string    `json:"branchId"`
	CustomerID      string    `json:"customerId"`
	CustomerName    string    `json:"customerName"`
	CustomerPhone   string    `json:"customerPhone,omitempty"`
	Description     string    `json:"description"`
	TotalAmount     int64     `json:"totalAmount"`
	PaidAmount      int64     `json:"paidAmount"`
	RemainingAmount int64     `json:"remainingAmount"`
	WorkOrderID     string    `json:"workOrderId"`
	CreatedAt       time.Time `json:"createdAt"`
}

type StockShortage struct {
	PartID    string `json:"partId"`
	PartName  string `json:"partName"`
	Available int    `json:"available"`
	Requested int    `json:"requested"`
}

// StockWarning is advisory: stock was sufficient but is running low.
type StockWarning struct {
	PartID    string `json:"partId"`
	PartName  string `json:"partName"`
	Remaining int    `json:"remaining"`
	Message   string `json:"message"`
}

type PaymentSourceBalance struct {
	PaymentSource string `json:"paymentSource"`
	Income        int64  `json:"income"`
	Expense       int64  `json:"expense"`
	Balance       int64  `json:"balance"`
}

type WorkOrderFilter struct {
	BranchID      string
	Status        WorkOrderStatus
	PaymentStatus PaymentStatus
	CustomerPhone string
	Limit         int
}

type UserAccount struct {
	Username  string
	Password  string
	Role      string
	BranchID  string
	Active    bool
	CreatedAt time.Time
}

type LoginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type LoginResponse struct {
	AccessToken string `json:"access_token"`
	Role        string `json:"role"`
	BranchID    string `json:"branch_id"`
	ExpiresAt   string `json:"expires_at"`
}

type UserCreateRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
	Role     string `json:"role"`
	BranchID string `json:"branch_id"`
}

type StaffUser struct {
	Username  string    `json:"username"`
	Role      string    `json:"role"`
	BranchID  string    `json:"branch_id"`
	Active    bool      `json:"active"`
	CreatedAt time.Time `json:"created_at"`
}
