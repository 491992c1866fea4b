package domain

import "github.com/shopspring/decimal"

// Request types double as HTTP binding targets: mapstructure tags name the
// form/JSON keys and validate tags are checked before any lock is taken.

type MaterialLine struct {
	MaterialID   string          `json:"material_id" mapstructure:"material_id" validate:"required"`
	QuantityUsed decimal.Decimal `json:"quantity_used" mapstructure:"quantity_used"`
}

type CreateBatchRequest struct {
	ProductID      string         `json:"product_id" mapstructure:"product_id" validate:"required"`
	Quantity       int            `json:"quantity" mapstructure:"quantity" validate:"gte=0"`
	Materials      []MaterialLine `json:"materials" mapstructure:"materials" validate:"dive"`
	Notes          string         `json:"notes" mapstructure:"notes" validate:"max=500"`
	IdempotencyKey string         `json:"idempotency_key" mapstructure:"idempotency_key"`
}

type RecordCostRequest struct {
	BatchID        string          `json:"batch_id" mapstructure:"batch_id" validate:"required"`
	CostType       string          `json:"cost_type" mapstructure:"cost_type" validate:"required,max=64"`
	Amount         decimal.Decimal `json:"amount" mapstructure:"amount"`
	FundID         string          `json:"fund_id" mapstructure:"fund_id"`
	IdempotencyKey string          `json:"idempotency_key" mapstructure:"idempotency_key"`
}

type AdvanceStatusRequest struct {
	BatchID        string      `json:"batch_id" mapstructure:"batch_id" validate:"required"`
	Status         BatchStatus `json:"status" mapstructure:"status" validate:"required"`
	IdempotencyKey string      `json:"idempotency_key" mapstructure:"idempotency_key"`
}

type AdjustQuantityRequest struct {
	BatchID        string `json:"batch_id" mapstructure:"batch_id" validate:"required"`
	NewQuantity    int    `json:"new_quantity" mapstructure:"new_quantity" validate:"gt=0"`
	Reason         string `json:"reason" mapstructure:"reason" validate:"required,max=500"`
	IdempotencyKey string `json:"idempotency_key" mapstructure:"idempotency_key"`
}

type QualityCheckRequest struct {
	BatchID          string `json:"batch_id" mapstructure:"batch_id" validate:"required"`
	PassedQuantity   int    `json:"passed_quantity" mapstructure:"passed_quantity" validate:"gte=0"`
	RejectedQuantity int    `json:"rejected_quantity" mapstructure:"rejected_quantity" validate:"gte=0"`
	Notes            string `json:"notes" mapstructure:"notes" validate:"max=500"`
	IdempotencyKey   string `json:"idempotency_key" mapstructure:"idempotency_key"`
}

type InitiateTransferRequest struct {
	ProductID      string   `json:"product_id" mapstructure:"product_id" validate:"required"`
	Quantity       int      `json:"quantity" mapstructure:"quantity" validate:"gt=0"`
	From           Location `json:"from_location" mapstructure:"from_location" validate:"required"`
	To             Location `json:"to_location" mapstructure:"to_location" validate:"required"`
	ShopkeeperID   string   `json:"shopkeeper_id" mapstructure:"shopkeeper_id"`
	ReceiverID     string   `json:"receiver_id" mapstructure:"receiver_id"`
	IdempotencyKey string   `json:"idempotency_key" mapstructure:"idempotency_key"`
}

type ConfirmTransferRequest struct {
	TransferID     string `json:"transfer_id" mapstructure:"transfer_id" validate:"required"`
	IdempotencyKey string `json:"idempotency_key" mapstructure:"idempotency_key"`
}

type AllocateFundRequest struct {
	AllocatedTo    string          `json:"allocated_to" mapstructure:"allocated_to" validate:"required"`
	Amount         decimal.Decimal `json:"amount" mapstructure:"amount"`
	Note           string          `json:"note" mapstructure:"note" validate:"max=500"`
	IdempotencyKey string          `json:"idempotency_key" mapstructure:"idempotency_key"`
}

type RecordUsageRequest struct {
	FundID         string          `json:"fund_id" mapstructure:"fund_id" validate:"required"`
	Amount         decimal.Decimal `json:"amount" mapstructure:"amount"`
	Type           FundUsageType   `json:"type" mapstructure:"type" validate:"required"`
	ReferenceID    string          `json:"reference_id" mapstructure:"reference_id"`
	Note           string          `json:"note" mapstructure:"note" validate:"max=500"`
	IdempotencyKey string          `json:"idempotency_key" mapstructure:"idempotency_key"`
}

type ReturnFundsRequest struct {
	FundID         string          `json:"fund_id" mapstructure:"fund_id" validate:"required"`
	Amount         decimal.Decimal `json:"amount" mapstructure:"amount"`
	SaleID         string          `json:"sale_id" mapstructure:"sale_id"`
	Note           string          `json:"note" mapstructure:"note" validate:"max=500"`
	IdempotencyKey string          `json:"idempotency_key" mapstructure:"idempotency_key"`
}

type ApproveReturnRequest struct {
	ReturnID       string `json:"return_id" mapstructure:"return_id" validate:"required"`
	IdempotencyKey string `json:"idempotency_key" mapstructure:"idempotency_key"`
}

type SaleItemInput struct {
	ProductID string          `json:"product_id" mapstructure:"product_id" validate:"required"`
	Quantity  int             `json:"quantity" mapstructure:"quantity" validate:"gt=0"`
	UnitPrice decimal.Decimal `json:"unit_price" mapstructure:"unit_price"`
}

// SaleRequest creates a sale when SaleID is empty and edits it otherwise.
type SaleRequest struct {
	SaleID         string          `json:"sale_id" mapstructure:"sale_id"`
	CustomerID     string          `json:"customer_id" mapstructure:"customer_id" validate:"required"`
	Items          []SaleItemInput `json:"items" mapstructure:"items" validate:"required,min=1,dive"`
	Discount       decimal.Decimal `json:"discount" mapstructure:"discount"`
	Tax            decimal.Decimal `json:"tax" mapstructure:"tax"`
	Shipping       decimal.Decimal `json:"shipping" mapstructure:"shipping"`
	IdempotencyKey string          `json:"idempotency_key" mapstructure:"idempotency_key"`
}

type RecordPaymentRequest struct {
	SaleID         string          `json:"sale_id" mapstructure:"sale_id" validate:"required"`
	Amount         decimal.Decimal `json:"amount" mapstructure:"amount"`
	Method         string          `json:"method" mapstructure:"method" validate:"max=32"`
	Reference      string          `json:"reference" mapstructure:"reference" validate:"max=128"`
	IdempotencyKey string          `json:"idempotency_key" mapstructure:"idempotency_key"`
}

type VoidPaymentRequest struct {
	PaymentID      string `json:"payment_id" mapstructure:"payment_id" validate:"required"`
	Reason         string `json:"reason" mapstructure:"reason" validate:"max=500"`
	IdempotencyKey string `json:"idempotency_key" mapstructure:"idempotency_key"`
}

type DeleteRequest struct {
	ID             string `json:"id" mapstructure:"id" validate:"required"`
	Reason         string `json:"reason" mapstructure:"reason" validate:"max=500"`
	IdempotencyKey string `json:"idempotency_key" mapstructure:"idempotency_key"`
}

type CreatePurchaseRequest struct {
	MaterialID     string          `json:"material_id" mapstructure:"material_id" validate:"required"`
	Quantity       decimal.Decimal `json:"quantity" mapstructure:"quantity"`
	UnitPrice      decimal.Decimal `json:"unit_price" mapstructure:"unit_price"`
	FundID         string          `json:"fund_id" mapstructure:"fund_id"`
	IdempotencyKey string          `json:"idempotency_key" mapstructure:"idempotency_key"`
}

type CreateMaterialRequest struct {
	Name           string          `json:"name" mapstructure:"name" validate:"required,max=120"`
	Unit           string          `json:"unit" mapstructure:"unit" validate:"required,max=16"`
	MinStockLevel  decimal.Decimal `json:"min_stock_level" mapstructure:"min_stock_level"`
	IdempotencyKey string          `json:"idempotency_key" mapstructure:"idempotency_key"`
}

type CreateProductRequest struct {
	SKU            string          `json:"sku" mapstructure:"sku" validate:"required,max=64"`
	Name           string          `json:"name" mapstructure:"name" validate:"required,max=120"`
	UnitPrice      decimal.Decimal `json:"unit_price" mapstructure:"unit_price"`
	IdempotencyKey string          `json:"idempotency_key" mapstructure:"idempotency_key"`
}

type CreateCustomerRequest struct {
	Name           string       `json:"name" mapstructure:"name" validate:"required,max=120"`
	Phone          string       `json:"phone" mapstructure:"phone" validate:"max=32"`
	Kind           CustomerKind `json:"kind" mapstructure:"kind" validate:"omitempty,oneof=retail shopkeeper"`
	IdempotencyKey string       `json:"idempotency_key" mapstructure:"idempotency_key"`
}

type CreateUserRequest struct {
	Username       string `json:"username" mapstructure:"username" validate:"required,min=3,max=64"`
	Password       string `json:"password" mapstructure:"password" validate:"required,min=8,max=128"`
	Role           Role   `json:"role" mapstructure:"role" validate:"required"`
	IdempotencyKey string `json:"idempotency_key" mapstructure:"idempotency_key"`
}

type LoginRequest struct {
	Username string `json:"username" mapstructure:"username" validate:"required"`
	Password string `json:"password" mapstructure:"password" validate:"required"`
}

type LoginResponse struct {
	Token     string `json:"token"`
	ExpiresAt string `json:"expires_at"`
	User      User   `json:"user"`
}
