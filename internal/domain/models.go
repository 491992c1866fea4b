package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

type Actor struct {
	UserID string
	Role   Role
	Origin string
}

type User struct {
	ID           string    `json:"id"`
	Username     string    `json:"username"`
	PasswordHash string    `json:"-"`
	Role         Role      `json:"role"`
	Active       bool      `json:"active"`
	CreatedAt    time.Time `json:"created_at"`
}

type Product struct {
	ID        string          `json:"id"`
	SKU       string          `json:"sku"`
	Name      string          `json:"name"`
	UnitPrice decimal.Decimal `json:"unit_price"`
	CreatedAt time.Time       `json:"created_at"`
}

type Customer struct {
	ID        string       `json:"id"`
	Name      string       `json:"name"`
	Phone     string       `json:"phone,omitempty"`
	Kind      CustomerKind `json:"kind"`
	CreatedAt time.Time    `json:"created_at"`
}

type RawMaterial struct {
	ID            string          `json:"id"`
	Name          string          `json:"name"`
	Unit          string          `json:"unit"`
	StockQuantity decimal.Decimal `json:"stock_quantity"`
	MinStockLevel decimal.Decimal `json:"min_stock_level"`
	CreatedAt     time.Time       `json:"created_at"`
	UpdatedAt     time.Time       `json:"updated_at"`
}

type Purchase struct {
	ID          string          `json:"id"`
	MaterialID  string          `json:"material_id"`
	Quantity    decimal.Decimal `json:"quantity"`
	UnitPrice   decimal.Decimal `json:"unit_price"`
	TotalAmount decimal.Decimal `json:"total_amount"`
	FundID      string          `json:"fund_id,omitempty"`
	CreatedBy   string          `json:"created_by"`
	CreatedAt   time.Time       `json:"created_at"`
}

type ManufacturingBatch struct {
	ID               string      `json:"id"`
	ProductID        string      `json:"product_id"`
	Status           BatchStatus `json:"status"`
	QuantityProduced int         `json:"quantity_produced"`
	// Flagged marks a batch created without any material lines.
	Flagged     bool   `json:"flagged"`
	GoodsRouted bool   `json:"goods_routed"`
	TransferID  string `json:"transfer_id,omitempty"`
	Notes       string `json:"notes,omitempty"`
	CreatedBy   string `json:"created_by"`

	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

type MaterialUsage struct {
	ID           string          `json:"id"`
	BatchID      string          `json:"batch_id"`
	MaterialID   string          `json:"material_id"`
	QuantityUsed decimal.Decimal `json:"quantity_used"`
	UnitCost     decimal.Decimal `json:"unit_cost"`
	CreatedAt    time.Time       `json:"created_at"`
}

type ManufacturingCost struct {
	ID        string          `json:"id"`
	BatchID   string          `json:"batch_id"`
	CostType  string          `json:"cost_type"`
	Amount    decimal.Decimal `json:"amount"`
	FundID    string          `json:"fund_id,omitempty"`
	CreatedBy string          `json:"created_by"`
	CreatedAt time.Time       `json:"created_at"`
}

type QualityCheck struct {
	ID               string    `json:"id"`
	BatchID          string    `json:"batch_id"`
	PassedQuantity   int       `json:"passed_quantity"`
	RejectedQuantity int       `json:"rejected_quantity"`
	Notes            string    `json:"notes,omitempty"`
	CheckedBy        string    `json:"checked_by"`
	CreatedAt        time.Time `json:"created_at"`
}

type ProductAdjustment struct {
	ID               string    `json:"id"`
	BatchID          string    `json:"batch_id"`
	ProductID        string    `json:"product_id"`
	OriginalQuantity int       `json:"original_quantity"`
	AdjustedQuantity int       `json:"adjusted_quantity"`
	Reason           string    `json:"reason"`
	AdjustedBy       string    `json:"adjusted_by"`
	CreatedAt        time.Time `json:"created_at"`
}

// FinishedGoodsKey identifies one finished-goods row. ShopkeeperID is only
// meaningful at the transit location and is normalized away elsewhere.
type FinishedGoodsKey struct {
	ProductID    string
	Location     Location
	ShopkeeperID string
}

func NewFinishedGoodsKey(productID string, location Location, shopkeeperID string) FinishedGoodsKey {
	if location != LocationTransit {
		shopkeeperID = ""
	}
	return FinishedGoodsKey{ProductID: productID, Location: location, ShopkeeperID: shopkeeperID}
}

type FinishedGoodsEntry struct {
	ID           string    `json:"id"`
	ProductID    string    `json:"product_id"`
	Location     Location  `json:"location"`
	ShopkeeperID string    `json:"shopkeeper_id,omitempty"`
	Quantity     int       `json:"quantity"`
	UpdatedAt    time.Time `json:"updated_at"`
}

func (e FinishedGoodsEntry) Key() FinishedGoodsKey {
	return NewFinishedGoodsKey(e.ProductID, e.Location, e.ShopkeeperID)
}

type InventoryTransfer struct {
	ID           string         `json:"id"`
	ProductID    string         `json:"product_id"`
	Quantity     int            `json:"quantity"`
	FromLocation Location       `json:"from_location"`
	ToLocation   Location       `json:"to_location"`
	ShopkeeperID string         `json:"shopkeeper_id,omitempty"`
	ReceiverID   string         `json:"receiver_id,omitempty"`
	BatchID      string         `json:"batch_id,omitempty"`
	Status       TransferStatus `json:"status"`
	InitiatedBy  string         `json:"initiated_by"`
	ConfirmedBy  string         `json:"confirmed_by,omitempty"`
	CreatedAt    time.Time      `json:"created_at"`
	ConfirmedAt  *time.Time     `json:"confirmed_at,omitempty"`
}

type Fund struct {
	ID     string          `json:"id"`
	Type   FundType        `json:"type"`
	Amount decimal.Decimal `json:"amount"`
	// Balance is a projection of Amount minus the fund's usages.
	Balance     decimal.Decimal `json:"balance"`
	Status      FundStatus      `json:"status"`
	AllocatedBy string          `json:"allocated_by"`
	AllocatedTo string          `json:"allocated_to"`

	SourceFundID   string         `json:"source_fund_id,omitempty"`
	SaleID         string         `json:"sale_id,omitempty"`
	ApprovalStatus ReturnApproval `json:"approval_status,omitempty"`
	ApprovedBy     string         `json:"approved_by,omitempty"`

	Note      string    `json:"note,omitempty"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

type FundUsage struct {
	ID          string          `json:"id"`
	FundID      string          `json:"fund_id"`
	Amount      decimal.Decimal `json:"amount"`
	Type        FundUsageType   `json:"type"`
	ReferenceID string          `json:"reference_id,omitempty"`
	Note        string          `json:"note,omitempty"`
	CreatedBy   string          `json:"created_by"`
	CreatedAt   time.Time       `json:"created_at"`
}

type Sale struct {
	ID            string          `json:"id"`
	CustomerID    string          `json:"customer_id"`
	Subtotal      decimal.Decimal `json:"subtotal"`
	Discount      decimal.Decimal `json:"discount"`
	Tax           decimal.Decimal `json:"tax"`
	Shipping      decimal.Decimal `json:"shipping"`
	NetAmount     decimal.Decimal `json:"net_amount"`
	PaymentStatus PaymentStatus   `json:"payment_status"`
	CreatedBy     string          `json:"created_by"`
	CreatedAt     time.Time       `json:"created_at"`
	UpdatedAt     time.Time       `json:"updated_at"`
}

type SaleItem struct {
	ID        string          `json:"id"`
	SaleID    string          `json:"sale_id"`
	ProductID string          `json:"product_id"`
	Quantity  int             `json:"quantity"`
	UnitPrice decimal.Decimal `json:"unit_price"`
}

type Payment struct {
	ID         string          `json:"id"`
	SaleID     string          `json:"sale_id"`
	Amount     decimal.Decimal `json:"amount"`
	Method     string          `json:"method,omitempty"`
	Reference  string          `json:"reference,omitempty"`
	RecordedBy string          `json:"recorded_by"`
	CreatedAt  time.Time       `json:"created_at"`
}

type Notification struct {
	ID            string    `json:"id"`
	RecipientID   string    `json:"recipient_id,omitempty"`
	RecipientRole Role      `json:"recipient_role,omitempty"`
	Kind          string    `json:"kind"`
	Message       string    `json:"message"`
	EntityType    string    `json:"entity_type"`
	EntityID      string    `json:"entity_id"`
	CreatedAt     time.Time `json:"created_at"`
}

type AuditLog struct {
	ID          string    `json:"id"`
	ActorID     string    `json:"actor_id,omitempty"`
	ActorRole   Role      `json:"actor_role,omitempty"`
	Action      string    `json:"action"`
	Module      string    `json:"module"`
	EntityType  string    `json:"entity_type,omitempty"`
	EntityID    string    `json:"entity_id,omitempty"`
	Description string    `json:"description"`
	Success     bool      `json:"success"`
	Origin      string    `json:"origin,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
}

// IdempotencyRecord is an internal persistence model holding the stored
// result of a mutating request.
type IdempotencyRecord struct {
	Key       string
	Operation string
	ActorID   string
	Response  []byte
	CreatedAt time.Time
}
