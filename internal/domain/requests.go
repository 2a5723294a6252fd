package domain

// WorkOrderDraft carries the line items, pricing and payment fields shared by
// the create and update operations.
type WorkOrderDraft struct {
	OrderID            string
	CustomerName       string
	CustomerPhone      string
	VehicleID          string
	VehicleModel       string
	LicensePlate       string
	IssueDescription   string
	TechnicianName     string
	Notes              string
	Status             string
	LaborCost          int64
	Discount           int64
	DiscountPercent    float64
	PartsUsed          []PartLine
	AdditionalServices []ServiceLine
	// ServicesProvided is false when the caller sent null for additional
	// services, meaning "keep the stored ones".
	ServicesProvided  bool
	Total             int64
	BranchID          string
	PaymentStatus     string
	PaymentMethod     string
	DepositAmount     int64
	AdditionalPayment int64
	IdempotencyKey    string
	SessionID         string
}

type CreateResult struct {
	Order                OrderRef       `json:"-"`
	OrderID              string         `json:"orderId"`
	DepositTransactionID string         `json:"depositTransactionId,omitempty"`
	PaymentTransactionID string         `json:"paymentTransactionId,omitempty"`
	InventoryTxCount     int            `json:"inventoryTxCount"`
	StockWarnings        []StockWarning `json:"stockWarnings"`
	InventoryDeducted    bool           `json:"inventoryDeducted"`
	Replayed             bool           `json:"replayed,omitempty"`
}

type UpdateResult struct {
	Order                OrderRef       `json:"-"`
	OrderID              string         `json:"orderId"`
	DepositTransactionID string         `json:"depositTransactionId,omitempty"`
	PaymentTransactionID string         `json:"paymentTransactionId,omitempty"`
	InventoryTxCount     int            `json:"inventoryTxCount"`
	StockWarnings        []StockWarning `json:"stockWarnings"`
	InventoryDeducted    bool           `json:"inventoryDeducted"`
	Replayed             bool           `json:"replayed,omitempty"`
}

type CompletePaymentRequest struct {
	OrderID        string
	PaymentMethod  string
	PaymentAmount  int64
	IdempotencyKey string
}

type CompletePaymentResult struct {
	Order                OrderRef       `json:"-"`
	OrderID              string         `json:"orderId"`
	PaymentTransactionID string         `json:"paymentTransactionId,omitempty"`
	NewPaymentStatus     PaymentStatus  `json:"newPaymentStatus"`
	InventoryDeducted    bool           `json:"inventoryDeducted"`
	InventoryTxCount     int            `json:"inventoryTxCount"`
	StockWarnings        []StockWarning `json:"stockWarnings"`
	Replayed             bool           `json:"replayed,omitempty"`
}

type RefundRequest struct {
	OrderID        string
	Reason         string
	IdempotencyKey string
}

type RefundResult struct {
	Order               OrderRef `json:"-"`
	OrderID             string   `json:"orderId"`
	RefundTransactionID string   `json:"refund_transaction_id,omitempty"`
	RefundAmount        int64    `json:"refundAmount"`
	Replayed            bool     `json:"replayed,omitempty"`
}

type ExpenseResult struct {
	Transaction CashTransaction `json:"transaction"`
	Created     bool            `json:"created"`
}

// ExpenseRequest books a work-order related expense. A zero Amount takes the
// figure from the order's own service lines.
type ExpenseRequest struct {
	OrderID       string
	Amount        int64
	PaymentMethod string
	Description   string
}
