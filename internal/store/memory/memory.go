package memory

import (
	"context"
	"maps"
	"os"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"garmentledger/backend/internal/domain"
	"garmentledger/backend/internal/store"
)

// Store keeps the whole ledger in process memory. A transaction runs
// against a private copy of the state which replaces the live state only
// when the callback returns nil.
type Store struct {
	mu sync.RWMutex
	st *state
}

type state struct {
	users         map[string]domain.User
	products      map[string]domain.Product
	customers     map[string]domain.Customer
	materials     map[string]domain.RawMaterial
	purchases     map[string]domain.Purchase
	purchaseOrder []string
	batches       map[string]domain.ManufacturingBatch
	usages        map[string]domain.MaterialUsage
	costs         map[string]domain.ManufacturingCost
	checks        map[string]domain.QualityCheck
	adjustments   map[string]domain.ProductAdjustment
	goods         map[domain.FinishedGoodsKey]domain.FinishedGoodsEntry
	goodsByID     map[string]domain.FinishedGoodsKey
	transfers     map[string]domain.InventoryTransfer
	funds         map[string]domain.Fund
	fundUsages    map[string]domain.FundUsage
	sales         map[string]domain.Sale
	saleItems     map[string]domain.SaleItem
	payments      map[string]domain.Payment
	notifications []domain.Notification
	auditLogs     []domain.AuditLog
	idempotency   map[string]domain.IdempotencyRecord
}

var _ store.Repository = (*Store)(nil)
var _ store.Tx = (*state)(nil)

func New() *Store {
	return &Store{st: newState()}
}

func newState() *state {
	return &state{
		users:         make(map[string]domain.User),
		products:      make(map[string]domain.Product),
		customers:     make(map[string]domain.Customer),
		materials:     make(map[string]domain.RawMaterial),
		purchases:     make(map[string]domain.Purchase),
		batches:       make(map[string]domain.ManufacturingBatch),
		usages:        make(map[string]domain.MaterialUsage),
		costs:         make(map[string]domain.ManufacturingCost),
		checks:        make(map[string]domain.QualityCheck),
		adjustments:   make(map[string]domain.ProductAdjustment),
		goods:         make(map[domain.FinishedGoodsKey]domain.FinishedGoodsEntry),
		goodsByID:     make(map[string]domain.FinishedGoodsKey),
		transfers:     make(map[string]domain.InventoryTransfer),
		funds:         make(map[string]domain.Fund),
		fundUsages:    make(map[string]domain.FundUsage),
		sales:         make(map[string]domain.Sale),
		saleItems:     make(map[string]domain.SaleItem),
		payments:      make(map[string]domain.Payment),
		notifications: make([]domain.Notification, 0, 64),
		auditLogs:     make([]domain.AuditLog, 0, 128),
		idempotency:   make(map[string]domain.IdempotencyRecord),
	}
}

func (st *state) clone() *state {
	return &state{
		users:         maps.Clone(st.users),
		products:      maps.Clone(st.products),
		customers:     maps.Clone(st.customers),
		materials:     maps.Clone(st.materials),
		purchases:     maps.Clone(st.purchases),
		purchaseOrder: slices.Clone(st.purchaseOrder),
		batches:       maps.Clone(st.batches),
		usages:        maps.Clone(st.usages),
		costs:         maps.Clone(st.costs),
		checks:        maps.Clone(st.checks),
		adjustments:   maps.Clone(st.adjustments),
		goods:         maps.Clone(st.goods),
		goodsByID:     maps.Clone(st.goodsByID),
		transfers:     maps.Clone(st.transfers),
		funds:         maps.Clone(st.funds),
		fundUsages:    maps.Clone(st.fundUsages),
		sales:         maps.Clone(st.sales),
		saleItems:     maps.Clone(st.saleItems),
		payments:      maps.Clone(st.payments),
		notifications: slices.Clone(st.notifications),
		auditLogs:     slices.Clone(st.auditLogs),
		idempotency:   maps.Clone(st.idempotency),
	}
}

func (s *Store) WithinTx(ctx context.Context, fn func(tx store.Tx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	work := s.st.clone()
	if err := fn(work); err != nil {
		return err
	}
	s.st = work
	return nil
}

func (s *Store) View(ctx context.Context, fn func(r store.Reader) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return fn(s.st)
}

func (s *Store) CreateAuditLog(ctx context.Context, entry domain.AuditLog) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.st.CreateAuditLog(ctx, entry)
}

func (s *Store) Close() error { return nil }

// Seed identifiers used by the demo data set.
const (
	SeedOwnerID       = "user-owner"
	SeedManagerID     = "user-manager"
	SeedDistributorID = "user-distributor"

	SeedShirtID   = "prod-shirt"
	SeedTrouserID = "prod-trouser"

	SeedCottonID = "mat-cotton"
	SeedThreadID = "mat-thread"
	SeedButtonID = "mat-button"

	SeedWalkInID     = "cust-walkin"
	SeedShopkeeperID = "cust-shop"
)

// NewSeeded builds a store with demo users, catalog rows and opening
// purchases. Passwords come from SEED_OWNER_PASSWORD,
// SEED_MANAGER_PASSWORD and SEED_DISTRIBUTOR_PASSWORD; unset values fall
// back to dev defaults.
func NewSeeded(logger *zap.Logger) *Store {
	if logger == nil {
		logger = zap.NewNop()
	}
	st := newState()
	now := time.Now().UTC()

	if os.Getenv("SEED_OWNER_PASSWORD") == "" || os.Getenv("SEED_MANAGER_PASSWORD") == "" || os.Getenv("SEED_DISTRIBUTOR_PASSWORD") == "" {
		logger.Warn("memory store is using default dev credentials; set SEED_*_PASSWORD to override")
	}
	for _, u := range []struct {
		id       string
		username string
		password string
		role     domain.Role
	}{
		{SeedOwnerID, "owner", envOr("SEED_OWNER_PASSWORD", "owner12345"), domain.RoleOwner},
		{SeedManagerID, "manager", envOr("SEED_MANAGER_PASSWORD", "manager12345"), domain.RoleProductionManager},
		{SeedDistributorID, "distributor", envOr("SEED_DISTRIBUTOR_PASSWORD", "distributor12345"), domain.RoleDistributor},
	} {
		hash, err := bcrypt.GenerateFromPassword([]byte(u.password), bcrypt.DefaultCost)
		if err != nil {
			logger.Fatal("hash seed password", zap.String("username", u.username), zap.Error(err))
		}
		st.users[u.id] = domain.User{
			ID:           u.id,
			Username:     u.username,
			PasswordHash: string(hash),
			Role:         u.role,
			Active:       true,
			CreatedAt:    now,
		}
	}

	for _, p := range []domain.Product{
		{ID: SeedShirtID, SKU: "SKU-SHIRT-01", Name: "Cotton Shirt", UnitPrice: decimal.RequireFromString("450.00")},
		{ID: SeedTrouserID, SKU: "SKU-TROUSER-01", Name: "Chino Trouser", UnitPrice: decimal.RequireFromString("780.00")},
	} {
		p.CreatedAt = now
		st.products[p.ID] = p
	}

	for _, c := range []domain.Customer{
		{ID: SeedWalkInID, Name: "Walk-in Customer", Kind: domain.CustomerRetail},
		{ID: SeedShopkeeperID, Name: "Corner Garments", Phone: "+10000000000", Kind: domain.CustomerShopkeeper},
	} {
		c.CreatedAt = now
		st.customers[c.ID] = c
	}

	for _, m := range []struct {
		id, name, unit    string
		stock, min, price string
	}{
		{SeedCottonID, "Cotton Fabric", "meter", "200", "20", "120.00"},
		{SeedThreadID, "Polyester Thread", "spool", "50", "5", "35.00"},
		{SeedButtonID, "Shirt Button", "piece", "1000", "100", "2.00"},
	} {
		stock := decimal.RequireFromString(m.stock)
		price := decimal.RequireFromString(m.price)
		st.materials[m.id] = domain.RawMaterial{
			ID:            m.id,
			Name:          m.name,
			Unit:          m.unit,
			StockQuantity: stock,
			MinStockLevel: decimal.RequireFromString(m.min),
			CreatedAt:     now,
			UpdatedAt:     now,
		}
		purchaseID := "pur-seed-" + m.id
		st.purchases[purchaseID] = domain.Purchase{
			ID:          purchaseID,
			MaterialID:  m.id,
			Quantity:    stock,
			UnitPrice:   price,
			TotalAmount: stock.Mul(price),
			CreatedBy:   SeedOwnerID,
			CreatedAt:   now,
		}
		st.purchaseOrder = append(st.purchaseOrder, purchaseID)
	}

	return &Store{st: st}
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func byCreated[T any](items []T, created func(T) time.Time, id func(T) string) {
	slices.SortFunc(items, func(a, b T) int {
		ca, cb := created(a), created(b)
		if ca.Equal(cb) {
			return strings.Compare(id(a), id(b))
		}
		if ca.Before(cb) {
			return -1
		}
		return 1
	})
}
