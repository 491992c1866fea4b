package memory

import (
	"context"
	"slices"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"garmentledger/backend/internal/domain"
	"garmentledger/backend/internal/store"
)

func (st *state) GetUser(_ context.Context, id string) (*domain.User, error) {
	u, ok := st.users[id]
	if !ok {
		return nil, store.NotFoundf("user %s", id)
	}
	return &u, nil
}

func (st *state) GetUserByUsername(_ context.Context, username string) (*domain.User, error) {
	username = strings.ToLower(strings.TrimSpace(username))
	for _, u := range st.users {
		if u.Username == username {
			return &u, nil
		}
	}
	return nil, store.NotFoundf("user %s", username)
}

func (st *state) ListUsers(_ context.Context) ([]domain.User, error) {
	users := make([]domain.User, 0, len(st.users))
	for _, u := range st.users {
		users = append(users, u)
	}
	slices.SortFunc(users, func(a, b domain.User) int { return strings.Compare(a.Username, b.Username) })
	return users, nil
}

func (st *state) GetProduct(_ context.Context, id string) (*domain.Product, error) {
	p, ok := st.products[id]
	if !ok {
		return nil, store.NotFoundf("product %s", id)
	}
	return &p, nil
}

func (st *state) ListProducts(_ context.Context) ([]domain.Product, error) {
	products := make([]domain.Product, 0, len(st.products))
	for _, p := range st.products {
		products = append(products, p)
	}
	slices.SortFunc(products, func(a, b domain.Product) int { return strings.Compare(a.SKU, b.SKU) })
	return products, nil
}

func (st *state) GetCustomer(_ context.Context, id string) (*domain.Customer, error) {
	c, ok := st.customers[id]
	if !ok {
		return nil, store.NotFoundf("customer %s", id)
	}
	return &c, nil
}

func (st *state) ListCustomers(_ context.Context) ([]domain.Customer, error) {
	customers := make([]domain.Customer, 0, len(st.customers))
	for _, c := range st.customers {
		customers = append(customers, c)
	}
	slices.SortFunc(customers, func(a, b domain.Customer) int { return strings.Compare(a.Name, b.Name) })
	return customers, nil
}

func (st *state) GetMaterial(_ context.Context, id string) (*domain.RawMaterial, error) {
	m, ok := st.materials[id]
	if !ok {
		return nil, store.NotFoundf("material %s", id)
	}
	return &m, nil
}

func (st *state) ListMaterials(_ context.Context) ([]domain.RawMaterial, error) {
	materials := make([]domain.RawMaterial, 0, len(st.materials))
	for _, m := range st.materials {
		materials = append(materials, m)
	}
	slices.SortFunc(materials, func(a, b domain.RawMaterial) int { return strings.Compare(a.Name, b.Name) })
	return materials, nil
}

func (st *state) GetPurchase(_ context.Context, id string) (*domain.Purchase, error) {
	p, ok := st.purchases[id]
	if !ok {
		return nil, store.NotFoundf("purchase %s", id)
	}
	return &p, nil
}

func (st *state) RecentPurchasePrices(_ context.Context, materialID string, limit int) ([]decimal.Decimal, error) {
	prices := make([]decimal.Decimal, 0, limit)
	for i := len(st.purchaseOrder) - 1; i >= 0; i-- {
		p := st.purchases[st.purchaseOrder[i]]
		if p.MaterialID != materialID {
			continue
		}
		prices = append(prices, p.UnitPrice)
		if limit > 0 && len(prices) == limit {
			break
		}
	}
	return prices, nil
}

func (st *state) GetBatch(_ context.Context, id string) (*domain.ManufacturingBatch, error) {
	b, ok := st.batches[id]
	if !ok {
		return nil, store.NotFoundf("batch %s", id)
	}
	return &b, nil
}

func (st *state) ListMaterialUsages(_ context.Context, batchID string) ([]domain.MaterialUsage, error) {
	return collect(st.usages, func(u domain.MaterialUsage) bool { return u.BatchID == batchID },
		func(u domain.MaterialUsage) time.Time { return u.CreatedAt },
		func(u domain.MaterialUsage) string { return u.ID }), nil
}

func (st *state) ListBatchCosts(_ context.Context, batchID string) ([]domain.ManufacturingCost, error) {
	return collect(st.costs, func(c domain.ManufacturingCost) bool { return c.BatchID == batchID },
		func(c domain.ManufacturingCost) time.Time { return c.CreatedAt },
		func(c domain.ManufacturingCost) string { return c.ID }), nil
}

func (st *state) ListQualityChecks(_ context.Context, batchID string) ([]domain.QualityCheck, error) {
	return collect(st.checks, func(c domain.QualityCheck) bool { return c.BatchID == batchID },
		func(c domain.QualityCheck) time.Time { return c.CreatedAt },
		func(c domain.QualityCheck) string { return c.ID }), nil
}

func (st *state) ListProductAdjustments(_ context.Context, batchID string) ([]domain.ProductAdjustment, error) {
	return collect(st.adjustments, func(a domain.ProductAdjustment) bool { return a.BatchID == batchID },
		func(a domain.ProductAdjustment) time.Time { return a.CreatedAt },
		func(a domain.ProductAdjustment) string { return a.ID }), nil
}

func (st *state) GetFinishedGoods(_ context.Context, key domain.FinishedGoodsKey) (*domain.FinishedGoodsEntry, error) {
	key = domain.NewFinishedGoodsKey(key.ProductID, key.Location, key.ShopkeeperID)
	e, ok := st.goods[key]
	if !ok {
		return nil, store.NotFoundf("finished goods %s at %s", key.ProductID, key.Location)
	}
	return &e, nil
}

func (st *state) ListFinishedGoods(_ context.Context, productID string) ([]domain.FinishedGoodsEntry, error) {
	entries := make([]domain.FinishedGoodsEntry, 0, 8)
	for _, e := range st.goods {
		if productID != "" && e.ProductID != productID {
			continue
		}
		entries = append(entries, e)
	}
	slices.SortFunc(entries, func(a, b domain.FinishedGoodsEntry) int {
		if c := strings.Compare(a.ProductID, b.ProductID); c != 0 {
			return c
		}
		if c := strings.Compare(string(a.Location), string(b.Location)); c != 0 {
			return c
		}
		return strings.Compare(a.ShopkeeperID, b.ShopkeeperID)
	})
	return entries, nil
}

func (st *state) GetTransfer(_ context.Context, id string) (*domain.InventoryTransfer, error) {
	t, ok := st.transfers[id]
	if !ok {
		return nil, store.NotFoundf("transfer %s", id)
	}
	return &t, nil
}

func (st *state) ListPendingTransfers(_ context.Context, receiverID string) ([]domain.InventoryTransfer, error) {
	return collect(st.transfers, func(t domain.InventoryTransfer) bool {
		return t.Status == domain.TransferPending && (receiverID == "" || t.ReceiverID == receiverID)
	},
		func(t domain.InventoryTransfer) time.Time { return t.CreatedAt },
		func(t domain.InventoryTransfer) string { return t.ID }), nil
}

func (st *state) GetFund(_ context.Context, id string) (*domain.Fund, error) {
	f, ok := st.funds[id]
	if !ok {
		return nil, store.NotFoundf("fund %s", id)
	}
	return &f, nil
}

func (st *state) ListFundUsages(_ context.Context, fundID string) ([]domain.FundUsage, error) {
	return collect(st.fundUsages, func(u domain.FundUsage) bool { return u.FundID == fundID },
		func(u domain.FundUsage) time.Time { return u.CreatedAt },
		func(u domain.FundUsage) string { return u.ID }), nil
}

func (st *state) CountFundReturnsForSale(_ context.Context, saleID string) (int, error) {
	n := 0
	for _, f := range st.funds {
		if f.Type == domain.FundReturn && f.SaleID == saleID {
			n++
		}
	}
	return n, nil
}

func (st *state) GetSale(_ context.Context, id string) (*domain.Sale, error) {
	s, ok := st.sales[id]
	if !ok {
		return nil, store.NotFoundf("sale %s", id)
	}
	return &s, nil
}

func (st *state) ListSaleItems(_ context.Context, saleID string) ([]domain.SaleItem, error) {
	items := make([]domain.SaleItem, 0, 4)
	for _, it := range st.saleItems {
		if it.SaleID == saleID {
			items = append(items, it)
		}
	}
	slices.SortFunc(items, func(a, b domain.SaleItem) int { return strings.Compare(a.ID, b.ID) })
	return items, nil
}

func (st *state) ListPayments(_ context.Context, saleID string) ([]domain.Payment, error) {
	return collect(st.payments, func(p domain.Payment) bool { return p.SaleID == saleID },
		func(p domain.Payment) time.Time { return p.CreatedAt },
		func(p domain.Payment) string { return p.ID }), nil
}

func (st *state) GetPayment(_ context.Context, id string) (*domain.Payment, error) {
	p, ok := st.payments[id]
	if !ok {
		return nil, store.NotFoundf("payment %s", id)
	}
	return &p, nil
}

func (st *state) CountReferences(_ context.Context, kind store.RefKind, id string) (int, error) {
	n := 0
	switch kind {
	case store.RefUser:
		for _, b := range st.batches {
			n += hit(b.CreatedBy == id)
		}
		for _, p := range st.purchases {
			n += hit(p.CreatedBy == id)
		}
		for _, c := range st.costs {
			n += hit(c.CreatedBy == id)
		}
		for _, c := range st.checks {
			n += hit(c.CheckedBy == id)
		}
		for _, a := range st.adjustments {
			n += hit(a.AdjustedBy == id)
		}
		for _, t := range st.transfers {
			n += hit(t.InitiatedBy == id || t.ReceiverID == id || t.ConfirmedBy == id)
		}
		for _, f := range st.funds {
			n += hit(f.AllocatedBy == id || f.AllocatedTo == id || f.ApprovedBy == id)
		}
		for _, u := range st.fundUsages {
			n += hit(u.CreatedBy == id)
		}
		for _, s := range st.sales {
			n += hit(s.CreatedBy == id)
		}
		for _, p := range st.payments {
			n += hit(p.RecordedBy == id)
		}
	case store.RefProduct:
		for _, b := range st.batches {
			n += hit(b.ProductID == id)
		}
		for _, e := range st.goods {
			n += hit(e.ProductID == id && e.Quantity != 0)
		}
		for _, t := range st.transfers {
			n += hit(t.ProductID == id)
		}
		for _, it := range st.saleItems {
			n += hit(it.ProductID == id)
		}
	case store.RefCustomer:
		for _, s := range st.sales {
			n += hit(s.CustomerID == id)
		}
		for _, t := range st.transfers {
			n += hit(t.ShopkeeperID == id)
		}
		for _, e := range st.goods {
			n += hit(e.ShopkeeperID == id && e.Quantity != 0)
		}
	case store.RefMaterial:
		for _, p := range st.purchases {
			n += hit(p.MaterialID == id)
		}
		for _, u := range st.usages {
			n += hit(u.MaterialID == id)
		}
	default:
		return 0, store.Validationf("unknown reference kind %q", kind)
	}
	return n, nil
}

func (st *state) ListAuditLogs(_ context.Context, limit int) ([]domain.AuditLog, error) {
	result := make([]domain.AuditLog, 0, len(st.auditLogs))
	for i := len(st.auditLogs) - 1; i >= 0; i-- {
		result = append(result, st.auditLogs[i])
		if limit > 0 && len(result) == limit {
			break
		}
	}
	return result, nil
}

func (st *state) ListNotifications(_ context.Context, userID string, role domain.Role, limit int) ([]domain.Notification, error) {
	result := make([]domain.Notification, 0, 16)
	for i := len(st.notifications) - 1; i >= 0; i-- {
		n := st.notifications[i]
		if n.RecipientID != userID && (n.RecipientID != "" || n.RecipientRole != role) {
			continue
		}
		result = append(result, n)
		if limit > 0 && len(result) == limit {
			break
		}
	}
	return result, nil
}

func (st *state) FindIdempotencyRecord(_ context.Context, key string) (*domain.IdempotencyRecord, error) {
	rec, ok := st.idempotency[key]
	if !ok {
		return nil, store.ErrNotFound
	}
	return &rec, nil
}

func collect[T any](src map[string]T, keep func(T) bool, created func(T) time.Time, id func(T) string) []T {
	out := make([]T, 0, 4)
	for _, v := range src {
		if keep(v) {
			out = append(out, v)
		}
	}
	byCreated(out, created, id)
	return out
}

func hit(ok bool) int {
	if ok {
		return 1
	}
	return 0
}
