package postgres

import (
	"context"
	"database/sql"
	"errors"
	"strings"

	"github.com/shopspring/decimal"

	"garmentledger/backend/internal/domain"
	"garmentledger/backend/internal/store"
)

const (
	userColumns         = `id, username, password_hash, role, active, created_at`
	productColumns      = `id, sku, name, unit_price, created_at`
	customerColumns     = `id, name, COALESCE(phone, ''), kind, created_at`
	materialColumns     = `id, name, unit, stock_quantity, min_stock_level, created_at, updated_at`
	purchaseColumns     = `id, material_id, quantity, unit_price, total_amount, COALESCE(fund_id, ''), created_by, created_at`
	batchColumns        = `id, product_id, status, quantity_produced, flagged, goods_routed, COALESCE(transfer_id, ''), COALESCE(notes, ''), created_by, created_at, updated_at, completed_at`
	usageColumns        = `id, batch_id, material_id, quantity_used, unit_cost, created_at`
	costColumns         = `id, batch_id, cost_type, amount, COALESCE(fund_id, ''), created_by, created_at`
	checkColumns        = `id, batch_id, passed_quantity, rejected_quantity, COALESCE(notes, ''), checked_by, created_at`
	adjustmentColumns   = `id, batch_id, product_id, original_quantity, adjusted_quantity, reason, adjusted_by, created_at`
	goodsColumns        = `id, product_id, location, shopkeeper_id, quantity, updated_at`
	transferColumns     = `id, product_id, quantity, from_location, to_location, COALESCE(shopkeeper_id, ''), COALESCE(receiver_id, ''), COALESCE(batch_id, ''), status, initiated_by, COALESCE(confirmed_by, ''), created_at, confirmed_at`
	fundColumns         = `id, type, amount, balance, status, allocated_by, allocated_to, COALESCE(source_fund_id, ''), COALESCE(sale_id, ''), COALESCE(approval_status, ''), COALESCE(approved_by, ''), COALESCE(note, ''), created_at, updated_at`
	fundUsageColumns    = `id, fund_id, amount, type, COALESCE(reference_id, ''), COALESCE(note, ''), created_by, created_at`
	saleColumns         = `id, customer_id, subtotal, discount, tax, shipping, net_amount, payment_status, created_by, created_at, updated_at`
	saleItemColumns     = `id, sale_id, product_id, quantity, unit_price`
	paymentColumns      = `id, sale_id, amount, COALESCE(method, ''), COALESCE(reference, ''), recorded_by, created_at`
	notificationColumns = `id, COALESCE(recipient_id, ''), COALESCE(recipient_role, ''), kind, message, entity_type, entity_id, created_at`
	auditColumns        = `id, COALESCE(actor_id, ''), COALESCE(actor_role, ''), action, module, COALESCE(entity_type, ''), COALESCE(entity_id, ''), description, success, COALESCE(origin, ''), created_at`
)

func scanUser(row scanner) (domain.User, error) {
	var u domain.User
	err := row.Scan(&u.ID, &u.Username, &u.PasswordHash, &u.Role, &u.Active, &u.CreatedAt)
	return u, err
}

func scanProduct(row scanner) (domain.Product, error) {
	var p domain.Product
	err := row.Scan(&p.ID, &p.SKU, &p.Name, &p.UnitPrice, &p.CreatedAt)
	return p, err
}

func scanCustomer(row scanner) (domain.Customer, error) {
	var c domain.Customer
	err := row.Scan(&c.ID, &c.Name, &c.Phone, &c.Kind, &c.CreatedAt)
	return c, err
}

func scanMaterial(row scanner) (domain.RawMaterial, error) {
	var m domain.RawMaterial
	err := row.Scan(&m.ID, &m.Name, &m.Unit, &m.StockQuantity, &m.MinStockLevel, &m.CreatedAt, &m.UpdatedAt)
	return m, err
}

func scanPurchase(row scanner) (domain.Purchase, error) {
	var p domain.Purchase
	err := row.Scan(&p.ID, &p.MaterialID, &p.Quantity, &p.UnitPrice, &p.TotalAmount, &p.FundID, &p.CreatedBy, &p.CreatedAt)
	return p, err
}

func scanBatch(row scanner) (domain.ManufacturingBatch, error) {
	var (
		b         domain.ManufacturingBatch
		completed sql.NullTime
	)
	err := row.Scan(&b.ID, &b.ProductID, &b.Status, &b.QuantityProduced, &b.Flagged, &b.GoodsRouted,
		&b.TransferID, &b.Notes, &b.CreatedBy, &b.CreatedAt, &b.UpdatedAt, &completed)
	b.CompletedAt = timePtr(completed)
	return b, err
}

func scanUsage(row scanner) (domain.MaterialUsage, error) {
	var u domain.MaterialUsage
	err := row.Scan(&u.ID, &u.BatchID, &u.MaterialID, &u.QuantityUsed, &u.UnitCost, &u.CreatedAt)
	return u, err
}

func scanCost(row scanner) (domain.ManufacturingCost, error) {
	var c domain.ManufacturingCost
	err := row.Scan(&c.ID, &c.BatchID, &c.CostType, &c.Amount, &c.FundID, &c.CreatedBy, &c.CreatedAt)
	return c, err
}

func scanCheck(row scanner) (domain.QualityCheck, error) {
	var c domain.QualityCheck
	err := row.Scan(&c.ID, &c.BatchID, &c.PassedQuantity, &c.RejectedQuantity, &c.Notes, &c.CheckedBy, &c.CreatedAt)
	return c, err
}

func scanAdjustment(row scanner) (domain.ProductAdjustment, error) {
	var a domain.ProductAdjustment
	err := row.Scan(&a.ID, &a.BatchID, &a.ProductID, &a.OriginalQuantity, &a.AdjustedQuantity, &a.Reason, &a.AdjustedBy, &a.CreatedAt)
	return a, err
}

func scanGoods(row scanner) (domain.FinishedGoodsEntry, error) {
	var e domain.FinishedGoodsEntry
	err := row.Scan(&e.ID, &e.ProductID, &e.Location, &e.ShopkeeperID, &e.Quantity, &e.UpdatedAt)
	return e, err
}

func scanTransfer(row scanner) (domain.InventoryTransfer, error) {
	var (
		t         domain.InventoryTransfer
		confirmed sql.NullTime
	)
	err := row.Scan(&t.ID, &t.ProductID, &t.Quantity, &t.FromLocation, &t.ToLocation, &t.ShopkeeperID,
		&t.ReceiverID, &t.BatchID, &t.Status, &t.InitiatedBy, &t.ConfirmedBy, &t.CreatedAt, &confirmed)
	t.ConfirmedAt = timePtr(confirmed)
	return t, err
}

func scanFund(row scanner) (domain.Fund, error) {
	var f domain.Fund
	err := row.Scan(&f.ID, &f.Type, &f.Amount, &f.Balance, &f.Status, &f.AllocatedBy, &f.AllocatedTo,
		&f.SourceFundID, &f.SaleID, &f.ApprovalStatus, &f.ApprovedBy, &f.Note, &f.CreatedAt, &f.UpdatedAt)
	return f, err
}

func scanFundUsage(row scanner) (domain.FundUsage, error) {
	var u domain.FundUsage
	err := row.Scan(&u.ID, &u.FundID, &u.Amount, &u.Type, &u.ReferenceID, &u.Note, &u.CreatedBy, &u.CreatedAt)
	return u, err
}

func scanSale(row scanner) (domain.Sale, error) {
	var s domain.Sale
	err := row.Scan(&s.ID, &s.CustomerID, &s.Subtotal, &s.Discount, &s.Tax, &s.Shipping, &s.NetAmount,
		&s.PaymentStatus, &s.CreatedBy, &s.CreatedAt, &s.UpdatedAt)
	return s, err
}

func scanSaleItem(row scanner) (domain.SaleItem, error) {
	var it domain.SaleItem
	err := row.Scan(&it.ID, &it.SaleID, &it.ProductID, &it.Quantity, &it.UnitPrice)
	return it, err
}

func scanPayment(row scanner) (domain.Payment, error) {
	var p domain.Payment
	err := row.Scan(&p.ID, &p.SaleID, &p.Amount, &p.Method, &p.Reference, &p.RecordedBy, &p.CreatedAt)
	return p, err
}

func scanNotification(row scanner) (domain.Notification, error) {
	var n domain.Notification
	err := row.Scan(&n.ID, &n.RecipientID, &n.RecipientRole, &n.Kind, &n.Message, &n.EntityType, &n.EntityID, &n.CreatedAt)
	return n, err
}

func scanAudit(row scanner) (domain.AuditLog, error) {
	var a domain.AuditLog
	err := row.Scan(&a.ID, &a.ActorID, &a.ActorRole, &a.Action, &a.Module, &a.EntityType, &a.EntityID,
		&a.Description, &a.Success, &a.Origin, &a.CreatedAt)
	return a, err
}

func (r queries) GetUser(ctx context.Context, id string) (*domain.User, error) {
	return queryOne(ctx, r.q, scanUser, "user "+id, `SELECT `+userColumns+` FROM users WHERE id = $1`, id)
}

func (r queries) GetUserByUsername(ctx context.Context, username string) (*domain.User, error) {
	username = strings.ToLower(strings.TrimSpace(username))
	return queryOne(ctx, r.q, scanUser, "user "+username, `SELECT `+userColumns+` FROM users WHERE username = $1`, username)
}

func (r queries) ListUsers(ctx context.Context) ([]domain.User, error) {
	return queryList(ctx, r.q, scanUser, `SELECT `+userColumns+` FROM users ORDER BY username`)
}

func (r queries) GetProduct(ctx context.Context, id string) (*domain.Product, error) {
	return queryOne(ctx, r.q, scanProduct, "product "+id, `SELECT `+productColumns+` FROM products WHERE id = $1`, id)
}

func (r queries) ListProducts(ctx context.Context) ([]domain.Product, error) {
	return queryList(ctx, r.q, scanProduct, `SELECT `+productColumns+` FROM products ORDER BY sku`)
}

func (r queries) GetCustomer(ctx context.Context, id string) (*domain.Customer, error) {
	return queryOne(ctx, r.q, scanCustomer, "customer "+id, `SELECT `+customerColumns+` FROM customers WHERE id = $1`, id)
}

func (r queries) ListCustomers(ctx context.Context) ([]domain.Customer, error) {
	return queryList(ctx, r.q, scanCustomer, `SELECT `+customerColumns+` FROM customers ORDER BY name`)
}

func (r queries) GetMaterial(ctx context.Context, id string) (*domain.RawMaterial, error) {
	return queryOne(ctx, r.q, scanMaterial, "material "+id, `SELECT `+materialColumns+` FROM raw_materials WHERE id = $1`, id)
}

func (r queries) ListMaterials(ctx context.Context) ([]domain.RawMaterial, error) {
	return queryList(ctx, r.q, scanMaterial, `SELECT `+materialColumns+` FROM raw_materials ORDER BY name`)
}

func (r queries) GetPurchase(ctx context.Context, id string) (*domain.Purchase, error) {
	return queryOne(ctx, r.q, scanPurchase, "purchase "+id, `SELECT `+purchaseColumns+` FROM purchases WHERE id = $1`, id)
}

func (r queries) RecentPurchasePrices(ctx context.Context, materialID string, limit int) ([]decimal.Decimal, error) {
	return queryList(ctx, r.q, func(row scanner) (decimal.Decimal, error) {
		var d decimal.Decimal
		err := row.Scan(&d)
		return d, err
	}, `
		SELECT unit_price
		FROM purchases
		WHERE material_id = $1
		ORDER BY created_at DESC, id DESC
		LIMIT NULLIF($2::int, 0)
	`, materialID, limit)
}

func (r queries) GetBatch(ctx context.Context, id string) (*domain.ManufacturingBatch, error) {
	return queryOne(ctx, r.q, scanBatch, "batch "+id, `SELECT `+batchColumns+` FROM manufacturing_batches WHERE id = $1`, id)
}

func (r queries) ListMaterialUsages(ctx context.Context, batchID string) ([]domain.MaterialUsage, error) {
	return queryList(ctx, r.q, scanUsage, `SELECT `+usageColumns+` FROM material_usages WHERE batch_id = $1 ORDER BY created_at, id`, batchID)
}

func (r queries) ListBatchCosts(ctx context.Context, batchID string) ([]domain.ManufacturingCost, error) {
	return queryList(ctx, r.q, scanCost, `SELECT `+costColumns+` FROM manufacturing_costs WHERE batch_id = $1 ORDER BY created_at, id`, batchID)
}

func (r queries) ListQualityChecks(ctx context.Context, batchID string) ([]domain.QualityCheck, error) {
	return queryList(ctx, r.q, scanCheck, `SELECT `+checkColumns+` FROM quality_checks WHERE batch_id = $1 ORDER BY created_at, id`, batchID)
}

func (r queries) ListProductAdjustments(ctx context.Context, batchID string) ([]domain.ProductAdjustment, error) {
	return queryList(ctx, r.q, scanAdjustment, `SELECT `+adjustmentColumns+` FROM product_adjustments WHERE batch_id = $1 ORDER BY created_at, id`, batchID)
}

func (r queries) GetFinishedGoods(ctx context.Context, key domain.FinishedGoodsKey) (*domain.FinishedGoodsEntry, error) {
	key = domain.NewFinishedGoodsKey(key.ProductID, key.Location, key.ShopkeeperID)
	return queryOne(ctx, r.q, scanGoods, "finished goods "+key.ProductID+" at "+string(key.Location), `
		SELECT `+goodsColumns+`
		FROM finished_goods
		WHERE product_id = $1 AND location = $2 AND shopkeeper_id = $3
	`, key.ProductID, string(key.Location), key.ShopkeeperID)
}

func (r queries) ListFinishedGoods(ctx context.Context, productID string) ([]domain.FinishedGoodsEntry, error) {
	return queryList(ctx, r.q, scanGoods, `
		SELECT `+goodsColumns+`
		FROM finished_goods
		WHERE $1 = '' OR product_id = $1
		ORDER BY product_id, location, shopkeeper_id
	`, productID)
}

func (r queries) GetTransfer(ctx context.Context, id string) (*domain.InventoryTransfer, error) {
	return queryOne(ctx, r.q, scanTransfer, "transfer "+id, `SELECT `+transferColumns+` FROM inventory_transfers WHERE id = $1`, id)
}

func (r queries) ListPendingTransfers(ctx context.Context, receiverID string) ([]domain.InventoryTransfer, error) {
	return queryList(ctx, r.q, scanTransfer, `
		SELECT `+transferColumns+`
		FROM inventory_transfers
		WHERE status = 'pending' AND ($1 = '' OR receiver_id = $1)
		ORDER BY created_at, id
	`, receiverID)
}

func (r queries) GetFund(ctx context.Context, id string) (*domain.Fund, error) {
	return queryOne(ctx, r.q, scanFund, "fund "+id, `SELECT `+fundColumns+` FROM funds WHERE id = $1`, id)
}

func (r queries) ListFundUsages(ctx context.Context, fundID string) ([]domain.FundUsage, error) {
	return queryList(ctx, r.q, scanFundUsage, `SELECT `+fundUsageColumns+` FROM fund_usages WHERE fund_id = $1 ORDER BY created_at, id`, fundID)
}

func (r queries) CountFundReturnsForSale(ctx context.Context, saleID string) (int, error) {
	var n int
	err := r.q.QueryRowContext(ctx, `SELECT count(*) FROM funds WHERE type = 'return' AND sale_id = $1`, saleID).Scan(&n)
	return n, err
}

func (r queries) GetSale(ctx context.Context, id string) (*domain.Sale, error) {
	return queryOne(ctx, r.q, scanSale, "sale "+id, `SELECT `+saleColumns+` FROM sales WHERE id = $1`, id)
}

func (r queries) ListSaleItems(ctx context.Context, saleID string) ([]domain.SaleItem, error) {
	return queryList(ctx, r.q, scanSaleItem, `SELECT `+saleItemColumns+` FROM sale_items WHERE sale_id = $1 ORDER BY id`, saleID)
}

func (r queries) ListPayments(ctx context.Context, saleID string) ([]domain.Payment, error) {
	return queryList(ctx, r.q, scanPayment, `SELECT `+paymentColumns+` FROM payments WHERE sale_id = $1 ORDER BY created_at, id`, saleID)
}

func (r queries) GetPayment(ctx context.Context, id string) (*domain.Payment, error) {
	return queryOne(ctx, r.q, scanPayment, "payment "+id, `SELECT `+paymentColumns+` FROM payments WHERE id = $1`, id)
}

var referenceQueries = map[store.RefKind]string{
	store.RefUser: `
		SELECT
			(SELECT count(*) FROM manufacturing_batches WHERE created_by = $1) +
			(SELECT count(*) FROM purchases WHERE created_by = $1) +
			(SELECT count(*) FROM manufacturing_costs WHERE created_by = $1) +
			(SELECT count(*) FROM quality_checks WHERE checked_by = $1) +
			(SELECT count(*) FROM product_adjustments WHERE adjusted_by = $1) +
			(SELECT count(*) FROM inventory_transfers WHERE initiated_by = $1 OR receiver_id = $1 OR confirmed_by = $1) +
			(SELECT count(*) FROM funds WHERE allocated_by = $1 OR allocated_to = $1 OR approved_by = $1) +
			(SELECT count(*) FROM fund_usages WHERE created_by = $1) +
			(SELECT count(*) FROM sales WHERE created_by = $1) +
			(SELECT count(*) FROM payments WHERE recorded_by = $1)
	`,
	store.RefProduct: `
		SELECT
			(SELECT count(*) FROM manufacturing_batches WHERE product_id = $1) +
			(SELECT count(*) FROM finished_goods WHERE product_id = $1 AND quantity <> 0) +
			(SELECT count(*) FROM inventory_transfers WHERE product_id = $1) +
			(SELECT count(*) FROM sale_items WHERE product_id = $1)
	`,
	store.RefCustomer: `
		SELECT
			(SELECT count(*) FROM sales WHERE customer_id = $1) +
			(SELECT count(*) FROM inventory_transfers WHERE shopkeeper_id = $1) +
			(SELECT count(*) FROM finished_goods WHERE shopkeeper_id = $1 AND quantity <> 0)
	`,
	store.RefMaterial: `
		SELECT
			(SELECT count(*) FROM purchases WHERE material_id = $1) +
			(SELECT count(*) FROM material_usages WHERE material_id = $1)
	`,
}

func (r queries) CountReferences(ctx context.Context, kind store.RefKind, id string) (int, error) {
	query, ok := referenceQueries[kind]
	if !ok {
		return 0, store.Validationf("unknown reference kind %q", kind)
	}
	var n int
	if err := r.q.QueryRowContext(ctx, query, id).Scan(&n); err != nil {
		return 0, err
	}
	return n, nil
}

func (r queries) ListAuditLogs(ctx context.Context, limit int) ([]domain.AuditLog, error) {
	return queryList(ctx, r.q, scanAudit, `
		SELECT `+auditColumns+`
		FROM audit_logs
		ORDER BY seq DESC
		LIMIT NULLIF($1::int, 0)
	`, limit)
}

func (r queries) ListNotifications(ctx context.Context, userID string, role domain.Role, limit int) ([]domain.Notification, error) {
	return queryList(ctx, r.q, scanNotification, `
		SELECT `+notificationColumns+`
		FROM notifications
		WHERE recipient_id = $1 OR (recipient_id IS NULL AND recipient_role = $2)
		ORDER BY created_at DESC, id DESC
		LIMIT NULLIF($3::int, 0)
	`, userID, string(role), limit)
}

func (r queries) FindIdempotencyRecord(ctx context.Context, key string) (*domain.IdempotencyRecord, error) {
	var rec domain.IdempotencyRecord
	err := r.q.QueryRowContext(ctx, `
		SELECT key, operation, actor_id, response, created_at
		FROM idempotency_records
		WHERE key = $1
	`, key).Scan(&rec.Key, &rec.Operation, &rec.ActorID, &rec.Response, &rec.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	return &rec, nil
}
