package memory

import (
	"context"
	"slices"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"garmentledger/backend/internal/domain"
	"garmentledger/backend/internal/store"
	"garmentledger/backend/internal/xid"
)

func (st *state) CreateUser(ctx context.Context, user domain.User) error {
	user.Username = strings.ToLower(strings.TrimSpace(user.Username))
	if _, err := st.GetUserByUsername(ctx, user.Username); err == nil {
		return store.Wrapf(store.ErrDuplicate, "username %s already exists", user.Username)
	}
	if _, exists := st.users[user.ID]; exists {
		return store.Wrapf(store.ErrDuplicate, "user %s", user.ID)
	}
	st.users[user.ID] = user
	return nil
}

func (st *state) DeleteUser(_ context.Context, id string) error {
	if _, ok := st.users[id]; !ok {
		return store.NotFoundf("user %s", id)
	}
	delete(st.users, id)
	return nil
}

func (st *state) CreateProduct(_ context.Context, product domain.Product) error {
	for _, p := range st.products {
		if strings.EqualFold(p.SKU, product.SKU) {
			return store.Wrapf(store.ErrDuplicate, "sku %s already exists", product.SKU)
		}
	}
	st.products[product.ID] = product
	return nil
}

func (st *state) DeleteProduct(_ context.Context, id string) error {
	if _, ok := st.products[id]; !ok {
		return store.NotFoundf("product %s", id)
	}
	for key, e := range st.goods {
		if e.ProductID == id && e.Quantity == 0 {
			delete(st.goods, key)
			delete(st.goodsByID, e.ID)
		}
	}
	delete(st.products, id)
	return nil
}

func (st *state) CreateCustomer(_ context.Context, customer domain.Customer) error {
	if _, exists := st.customers[customer.ID]; exists {
		return store.Wrapf(store.ErrDuplicate, "customer %s", customer.ID)
	}
	st.customers[customer.ID] = customer
	return nil
}

func (st *state) DeleteCustomer(_ context.Context, id string) error {
	if _, ok := st.customers[id]; !ok {
		return store.NotFoundf("customer %s", id)
	}
	for key, e := range st.goods {
		if e.ShopkeeperID == id && e.Quantity == 0 {
			delete(st.goods, key)
			delete(st.goodsByID, e.ID)
		}
	}
	delete(st.customers, id)
	return nil
}

func (st *state) CreateMaterial(_ context.Context, material domain.RawMaterial) error {
	for _, m := range st.materials {
		if strings.EqualFold(m.Name, material.Name) {
			return store.Wrapf(store.ErrDuplicate, "material %s already exists", material.Name)
		}
	}
	st.materials[material.ID] = material
	return nil
}

func (st *state) LockMaterial(ctx context.Context, id string) (*domain.RawMaterial, error) {
	return st.GetMaterial(ctx, id)
}

func (st *state) UpdateMaterialStock(_ context.Context, id string, stock decimal.Decimal) error {
	m, ok := st.materials[id]
	if !ok {
		return store.NotFoundf("material %s", id)
	}
	if stock.IsNegative() {
		return store.Wrapf(store.ErrInsufficientStock, "material %s would go negative", id)
	}
	m.StockQuantity = stock
	st.materials[id] = m
	return nil
}

func (st *state) DeleteMaterial(_ context.Context, id string) error {
	if _, ok := st.materials[id]; !ok {
		return store.NotFoundf("material %s", id)
	}
	delete(st.materials, id)
	return nil
}

func (st *state) CreatePurchase(_ context.Context, purchase domain.Purchase) error {
	if _, ok := st.materials[purchase.MaterialID]; !ok {
		return store.NotFoundf("material %s", purchase.MaterialID)
	}
	st.purchases[purchase.ID] = purchase
	st.purchaseOrder = append(st.purchaseOrder, purchase.ID)
	return nil
}

func (st *state) LockPurchase(ctx context.Context, id string) (*domain.Purchase, error) {
	return st.GetPurchase(ctx, id)
}

func (st *state) SetPurchaseFund(_ context.Context, id, fundID string) error {
	p, ok := st.purchases[id]
	if !ok {
		return store.NotFoundf("purchase %s", id)
	}
	p.FundID = fundID
	st.purchases[id] = p
	return nil
}

func (st *state) DeletePurchase(_ context.Context, id string) error {
	if _, ok := st.purchases[id]; !ok {
		return store.NotFoundf("purchase %s", id)
	}
	delete(st.purchases, id)
	st.purchaseOrder = slices.DeleteFunc(st.purchaseOrder, func(v string) bool { return v == id })
	return nil
}

func (st *state) CreateBatch(_ context.Context, batch domain.ManufacturingBatch) error {
	if _, ok := st.products[batch.ProductID]; !ok {
		return store.NotFoundf("product %s", batch.ProductID)
	}
	st.batches[batch.ID] = batch
	return nil
}

func (st *state) LockBatch(ctx context.Context, id string) (*domain.ManufacturingBatch, error) {
	return st.GetBatch(ctx, id)
}

func (st *state) UpdateBatch(_ context.Context, batch domain.ManufacturingBatch) error {
	if _, ok := st.batches[batch.ID]; !ok {
		return store.NotFoundf("batch %s", batch.ID)
	}
	st.batches[batch.ID] = batch
	return nil
}

func (st *state) DeleteBatch(_ context.Context, id string) error {
	if _, ok := st.batches[id]; !ok {
		return store.NotFoundf("batch %s", id)
	}
	for _, t := range st.transfers {
		if t.BatchID == id {
			return store.Wrapf(store.ErrReferenced, "batch %s has transfer %s", id, t.ID)
		}
	}
	delete(st.batches, id)
	return nil
}

func (st *state) CreateMaterialUsage(_ context.Context, usage domain.MaterialUsage) error {
	st.usages[usage.ID] = usage
	return nil
}

func (st *state) DeleteMaterialUsages(_ context.Context, batchID string) error {
	deleteWhere(st.usages, func(u domain.MaterialUsage) bool { return u.BatchID == batchID })
	return nil
}

func (st *state) CreateBatchCost(_ context.Context, cost domain.ManufacturingCost) error {
	st.costs[cost.ID] = cost
	return nil
}

func (st *state) LockBatchCost(_ context.Context, id string) (*domain.ManufacturingCost, error) {
	c, ok := st.costs[id]
	if !ok {
		return nil, store.NotFoundf("cost %s", id)
	}
	return &c, nil
}

func (st *state) SetBatchCostFund(_ context.Context, id, fundID string) error {
	c, ok := st.costs[id]
	if !ok {
		return store.NotFoundf("cost %s", id)
	}
	c.FundID = fundID
	st.costs[id] = c
	return nil
}

func (st *state) DeleteBatchCosts(_ context.Context, batchID string) error {
	deleteWhere(st.costs, func(c domain.ManufacturingCost) bool { return c.BatchID == batchID })
	return nil
}

func (st *state) CreateQualityCheck(_ context.Context, check domain.QualityCheck) error {
	st.checks[check.ID] = check
	return nil
}

func (st *state) DeleteQualityChecks(_ context.Context, batchID string) error {
	deleteWhere(st.checks, func(c domain.QualityCheck) bool { return c.BatchID == batchID })
	return nil
}

func (st *state) CreateProductAdjustment(_ context.Context, adj domain.ProductAdjustment) error {
	st.adjustments[adj.ID] = adj
	return nil
}

func (st *state) DeleteProductAdjustments(_ context.Context, batchID string) error {
	deleteWhere(st.adjustments, func(a domain.ProductAdjustment) bool { return a.BatchID == batchID })
	return nil
}

func (st *state) LockFinishedGoods(ctx context.Context, key domain.FinishedGoodsKey) (*domain.FinishedGoodsEntry, error) {
	return st.GetFinishedGoods(ctx, key)
}

func (st *state) GetOrCreateFinishedGoods(ctx context.Context, key domain.FinishedGoodsKey) (*domain.FinishedGoodsEntry, error) {
	key = domain.NewFinishedGoodsKey(key.ProductID, key.Location, key.ShopkeeperID)
	if e, ok := st.goods[key]; ok {
		return &e, nil
	}
	if _, ok := st.products[key.ProductID]; !ok {
		return nil, store.NotFoundf("product %s", key.ProductID)
	}
	e := domain.FinishedGoodsEntry{
		ID:           xid.New("fg"),
		ProductID:    key.ProductID,
		Location:     key.Location,
		ShopkeeperID: key.ShopkeeperID,
	}
	st.goods[key] = e
	st.goodsByID[e.ID] = key
	return &e, nil
}

func (st *state) SetFinishedGoodsQuantity(_ context.Context, id string, expected, next int) error {
	key, ok := st.goodsByID[id]
	if !ok {
		return store.NotFoundf("finished goods %s", id)
	}
	e := st.goods[key]
	if e.Quantity != expected {
		return store.Wrapf(store.ErrConsistency, "finished goods %s changed concurrently", id)
	}
	if next < 0 {
		return store.Wrapf(store.ErrInsufficientStock, "finished goods %s would go negative", id)
	}
	e.Quantity = next
	e.UpdatedAt = time.Now().UTC()
	st.goods[key] = e
	return nil
}

func (st *state) CreateTransfer(_ context.Context, transfer domain.InventoryTransfer) error {
	st.transfers[transfer.ID] = transfer
	return nil
}

func (st *state) LockTransfer(ctx context.Context, id string) (*domain.InventoryTransfer, error) {
	return st.GetTransfer(ctx, id)
}

func (st *state) UpdateTransfer(_ context.Context, transfer domain.InventoryTransfer) error {
	if _, ok := st.transfers[transfer.ID]; !ok {
		return store.NotFoundf("transfer %s", transfer.ID)
	}
	st.transfers[transfer.ID] = transfer
	return nil
}

func (st *state) DeleteTransfer(_ context.Context, id string) error {
	if _, ok := st.transfers[id]; !ok {
		return store.NotFoundf("transfer %s", id)
	}
	delete(st.transfers, id)
	return nil
}

func (st *state) CreateFund(_ context.Context, fund domain.Fund) error {
	st.funds[fund.ID] = fund
	return nil
}

func (st *state) LockFund(ctx context.Context, id string) (*domain.Fund, error) {
	return st.GetFund(ctx, id)
}

func (st *state) UpdateFund(_ context.Context, fund domain.Fund) error {
	if _, ok := st.funds[fund.ID]; !ok {
		return store.NotFoundf("fund %s", fund.ID)
	}
	st.funds[fund.ID] = fund
	return nil
}

func (st *state) CreateFundUsage(_ context.Context, usage domain.FundUsage) error {
	st.fundUsages[usage.ID] = usage
	return nil
}

func (st *state) FindFundUsage(_ context.Context, fundID string, usageType domain.FundUsageType, referenceID string) (*domain.FundUsage, error) {
	for _, u := range st.fundUsages {
		if u.FundID == fundID && u.Type == usageType && u.ReferenceID == referenceID {
			return &u, nil
		}
	}
	return nil, store.NotFoundf("fund usage %s/%s on %s", usageType, referenceID, fundID)
}

func (st *state) DeleteFundUsage(_ context.Context, id string) error {
	if _, ok := st.fundUsages[id]; !ok {
		return store.NotFoundf("fund usage %s", id)
	}
	delete(st.fundUsages, id)
	return nil
}

func (st *state) CreateSale(_ context.Context, sale domain.Sale) error {
	st.sales[sale.ID] = sale
	return nil
}

func (st *state) LockSale(ctx context.Context, id string) (*domain.Sale, error) {
	return st.GetSale(ctx, id)
}

func (st *state) UpdateSale(_ context.Context, sale domain.Sale) error {
	if _, ok := st.sales[sale.ID]; !ok {
		return store.NotFoundf("sale %s", sale.ID)
	}
	st.sales[sale.ID] = sale
	return nil
}

func (st *state) DeleteSale(_ context.Context, id string) error {
	if _, ok := st.sales[id]; !ok {
		return store.NotFoundf("sale %s", id)
	}
	delete(st.sales, id)
	return nil
}

func (st *state) CreateSaleItems(_ context.Context, items []domain.SaleItem) error {
	for _, it := range items {
		st.saleItems[it.ID] = it
	}
	return nil
}

func (st *state) DeleteSaleItems(_ context.Context, saleID string) error {
	deleteWhere(st.saleItems, func(it domain.SaleItem) bool { return it.SaleID == saleID })
	return nil
}

func (st *state) CreatePayment(_ context.Context, payment domain.Payment) error {
	st.payments[payment.ID] = payment
	return nil
}

func (st *state) DeletePayment(_ context.Context, id string) error {
	if _, ok := st.payments[id]; !ok {
		return store.NotFoundf("payment %s", id)
	}
	delete(st.payments, id)
	return nil
}

func (st *state) CreateNotification(_ context.Context, n domain.Notification) error {
	if n.ID == "" {
		n.ID = xid.New("ntf")
	}
	st.notifications = append(st.notifications, n)
	return nil
}

func (st *state) CreateAuditLog(_ context.Context, entry domain.AuditLog) error {
	if entry.ID == "" {
		entry.ID = xid.New("audit")
	}
	st.auditLogs = append(st.auditLogs, entry)
	return nil
}

func (st *state) SaveIdempotencyRecord(_ context.Context, rec domain.IdempotencyRecord) error {
	if _, exists := st.idempotency[rec.Key]; exists {
		return store.Wrapf(store.ErrDuplicate, "idempotency key %s", rec.Key)
	}
	st.idempotency[rec.Key] = rec
	return nil
}

func deleteWhere[T any](m map[string]T, match func(T) bool) {
	for k, v := range m {
		if match(v) {
			delete(m, k)
		}
	}
}
