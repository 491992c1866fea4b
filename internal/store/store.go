package store

import (
	"context"

	"github.com/shopspring/decimal"

	"garmentledger/backend/internal/domain"
)

// Repository is the unit-of-work boundary. Every ledger mutation runs inside
// WithinTx: either all of its writes commit or none do.
type Repository interface {
	WithinTx(ctx context.Context, fn func(tx Tx) error) error
	View(ctx context.Context, fn func(r Reader) error) error
	// CreateAuditLog writes outside any transaction. It is used for failure
	// records after a rollback.
	CreateAuditLog(ctx context.Context, entry domain.AuditLog) error
	Close() error
}

// Reader holds non-locking reads. Inside a Tx they observe the
// transaction's own writes.
type Reader interface {
	GetUser(ctx context.Context, id string) (*domain.User, error)
	GetUserByUsername(ctx context.Context, username string) (*domain.User, error)
	ListUsers(ctx context.Context) ([]domain.User, error)

	GetProduct(ctx context.Context, id string) (*domain.Product, error)
	ListProducts(ctx context.Context) ([]domain.Product, error)
	GetCustomer(ctx context.Context, id string) (*domain.Customer, error)
	ListCustomers(ctx context.Context) ([]domain.Customer, error)

	GetMaterial(ctx context.Context, id string) (*domain.RawMaterial, error)
	ListMaterials(ctx context.Context) ([]domain.RawMaterial, error)
	GetPurchase(ctx context.Context, id string) (*domain.Purchase, error)
	// RecentPurchasePrices returns unit prices of the newest purchases first.
	RecentPurchasePrices(ctx context.Context, materialID string, limit int) ([]decimal.Decimal, error)

	GetBatch(ctx context.Context, id string) (*domain.ManufacturingBatch, error)
	ListMaterialUsages(ctx context.Context, batchID string) ([]domain.MaterialUsage, error)
	ListBatchCosts(ctx context.Context, batchID string) ([]domain.ManufacturingCost, error)
	ListQualityChecks(ctx context.Context, batchID string) ([]domain.QualityCheck, error)
	ListProductAdjustments(ctx context.Context, batchID string) ([]domain.ProductAdjustment, error)

	GetFinishedGoods(ctx context.Context, key domain.FinishedGoodsKey) (*domain.FinishedGoodsEntry, error)
	ListFinishedGoods(ctx context.Context, productID string) ([]domain.FinishedGoodsEntry, error)
	GetTransfer(ctx context.Context, id string) (*domain.InventoryTransfer, error)
	ListPendingTransfers(ctx context.Context, receiverID string) ([]domain.InventoryTransfer, error)

	GetFund(ctx context.Context, id string) (*domain.Fund, error)
	ListFundUsages(ctx context.Context, fundID string) ([]domain.FundUsage, error)
	CountFundReturnsForSale(ctx context.Context, saleID string) (int, error)

	GetSale(ctx context.Context, id string) (*domain.Sale, error)
	ListSaleItems(ctx context.Context, saleID string) ([]domain.SaleItem, error)
	ListPayments(ctx context.Context, saleID string) ([]domain.Payment, error)
	GetPayment(ctx context.Context, id string) (*domain.Payment, error)

	CountReferences(ctx context.Context, kind RefKind, id string) (int, error)
	ListAuditLogs(ctx context.Context, limit int) ([]domain.AuditLog, error)
	ListNotifications(ctx context.Context, userID string, role domain.Role, limit int) ([]domain.Notification, error)
	FindIdempotencyRecord(ctx context.Context, key string) (*domain.IdempotencyRecord, error)
}

// Tx is a single atomic unit of work. Lock* methods take a row lock that
// is held until the transaction ends. Callers lock in a fixed order: batch
// or purchase, materials by id, transfer, sale, finished goods by product
// then location, funds.
type Tx interface {
	Reader

	CreateUser(ctx context.Context, user domain.User) error
	DeleteUser(ctx context.Context, id string) error

	CreateProduct(ctx context.Context, product domain.Product) error
	DeleteProduct(ctx context.Context, id string) error
	CreateCustomer(ctx context.Context, customer domain.Customer) error
	DeleteCustomer(ctx context.Context, id string) error

	CreateMaterial(ctx context.Context, material domain.RawMaterial) error
	LockMaterial(ctx context.Context, id string) (*domain.RawMaterial, error)
	UpdateMaterialStock(ctx context.Context, id string, stock decimal.Decimal) error
	DeleteMaterial(ctx context.Context, id string) error

	CreatePurchase(ctx context.Context, purchase domain.Purchase) error
	LockPurchase(ctx context.Context, id string) (*domain.Purchase, error)
	// SetPurchaseFund records the fund paying for a purchase after the fact.
	SetPurchaseFund(ctx context.Context, id, fundID string) error
	DeletePurchase(ctx context.Context, id string) error

	CreateBatch(ctx context.Context, batch domain.ManufacturingBatch) error
	LockBatch(ctx context.Context, id string) (*domain.ManufacturingBatch, error)
	UpdateBatch(ctx context.Context, batch domain.ManufacturingBatch) error
	DeleteBatch(ctx context.Context, id string) error
	CreateMaterialUsage(ctx context.Context, usage domain.MaterialUsage) error
	DeleteMaterialUsages(ctx context.Context, batchID string) error
	CreateBatchCost(ctx context.Context, cost domain.ManufacturingCost) error
	LockBatchCost(ctx context.Context, id string) (*domain.ManufacturingCost, error)
	SetBatchCostFund(ctx context.Context, id, fundID string) error
	DeleteBatchCosts(ctx context.Context, batchID string) error
	CreateQualityCheck(ctx context.Context, check domain.QualityCheck) error
	DeleteQualityChecks(ctx context.Context, batchID string) error
	CreateProductAdjustment(ctx context.Context, adj domain.ProductAdjustment) error
	DeleteProductAdjustments(ctx context.Context, batchID string) error

	// LockFinishedGoods returns ErrNotFound when no row exists for key.
	LockFinishedGoods(ctx context.Context, key domain.FinishedGoodsKey) (*domain.FinishedGoodsEntry, error)
	// GetOrCreateFinishedGoods inserts a zero row if missing and returns it
	// locked.
	GetOrCreateFinishedGoods(ctx context.Context, key domain.FinishedGoodsKey) (*domain.FinishedGoodsEntry, error)
	// SetFinishedGoodsQuantity writes next only if the row still holds
	// expected; otherwise it returns ErrConsistency.
	SetFinishedGoodsQuantity(ctx context.Context, id string, expected, next int) error

	CreateTransfer(ctx context.Context, transfer domain.InventoryTransfer) error
	LockTransfer(ctx context.Context, id string) (*domain.InventoryTransfer, error)
	UpdateTransfer(ctx context.Context, transfer domain.InventoryTransfer) error
	DeleteTransfer(ctx context.Context, id string) error

	CreateFund(ctx context.Context, fund domain.Fund) error
	LockFund(ctx context.Context, id string) (*domain.Fund, error)
	UpdateFund(ctx context.Context, fund domain.Fund) error
	CreateFundUsage(ctx context.Context, usage domain.FundUsage) error
	FindFundUsage(ctx context.Context, fundID string, usageType domain.FundUsageType, referenceID string) (*domain.FundUsage, error)
	DeleteFundUsage(ctx context.Context, id string) error

	CreateSale(ctx context.Context, sale domain.Sale) error
	LockSale(ctx context.Context, id string) (*domain.Sale, error)
	UpdateSale(ctx context.Context, sale domain.Sale) error
	DeleteSale(ctx context.Context, id string) error
	CreateSaleItems(ctx context.Context, items []domain.SaleItem) error
	DeleteSaleItems(ctx context.Context, saleID string) error
	CreatePayment(ctx context.Context, payment domain.Payment) error
	DeletePayment(ctx context.Context, id string) error

	CreateNotification(ctx context.Context, n domain.Notification) error
	CreateAuditLog(ctx context.Context, entry domain.AuditLog) error
	SaveIdempotencyRecord(ctx context.Context, rec domain.IdempotencyRecord) error
}

// RefKind names an entity whose deletion is blocked while other rows point
// at it.
type RefKind string

const (
	RefUser     RefKind = "user"
	RefProduct  RefKind = "product"
	RefCustomer RefKind = "customer"
	RefMaterial RefKind = "material"
)
