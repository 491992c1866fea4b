package postgres

import (
	"context"
	"database/sql"
	"errors"
	"strings"

	"github.com/shopspring/decimal"

	"garmentledger/backend/internal/domain"
	"garmentledger/backend/internal/store"
	"garmentledger/backend/internal/xid"
)

func (r queries) CreateUser(ctx context.Context, user domain.User) error {
	user.Username = strings.ToLower(strings.TrimSpace(user.Username))
	_, err := r.q.ExecContext(ctx, `
		INSERT INTO users (id, username, password_hash, role, active, created_at)
		VALUES ($1,$2,$3,$4,$5,$6)
	`, user.ID, user.Username, user.PasswordHash, string(user.Role), user.Active, orNow(user.CreatedAt))
	return insertErr(err, "username "+user.Username)
}

func (r queries) DeleteUser(ctx context.Context, id string) error {
	err := execOne(ctx, r.q, "user "+id, `DELETE FROM users WHERE id = $1`, id)
	return deleteErr(err, "user "+id)
}

func (r queries) CreateProduct(ctx context.Context, product domain.Product) error {
	_, err := r.q.ExecContext(ctx, `
		INSERT INTO products (id, sku, name, unit_price, created_at)
		VALUES ($1,$2,$3,$4,$5)
	`, product.ID, product.SKU, product.Name, product.UnitPrice, orNow(product.CreatedAt))
	return insertErr(err, "sku "+product.SKU)
}

// DeleteProduct drops the product together with its empty finished-goods
// rows.
func (r queries) DeleteProduct(ctx context.Context, id string) error {
	if _, err := r.q.ExecContext(ctx, `DELETE FROM finished_goods WHERE product_id = $1 AND quantity = 0`, id); err != nil {
		return err
	}
	err := execOne(ctx, r.q, "product "+id, `DELETE FROM products WHERE id = $1`, id)
	return deleteErr(err, "product "+id)
}

func (r queries) CreateCustomer(ctx context.Context, customer domain.Customer) error {
	_, err := r.q.ExecContext(ctx, `
		INSERT INTO customers (id, name, phone, kind, created_at)
		VALUES ($1,$2,$3,$4,$5)
	`, customer.ID, customer.Name, nullIfEmpty(customer.Phone), string(customer.Kind), orNow(customer.CreatedAt))
	return insertErr(err, "customer "+customer.ID)
}

func (r queries) DeleteCustomer(ctx context.Context, id string) error {
	if _, err := r.q.ExecContext(ctx, `DELETE FROM finished_goods WHERE shopkeeper_id = $1 AND quantity = 0`, id); err != nil {
		return err
	}
	err := execOne(ctx, r.q, "customer "+id, `DELETE FROM customers WHERE id = $1`, id)
	return deleteErr(err, "customer "+id)
}

func (r queries) CreateMaterial(ctx context.Context, material domain.RawMaterial) error {
	now := orNow(material.CreatedAt)
	_, err := r.q.ExecContext(ctx, `
		INSERT INTO raw_materials (id, name, unit, stock_quantity, min_stock_level, created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7)
	`, material.ID, material.Name, material.Unit, material.StockQuantity, material.MinStockLevel, now, orNow(material.UpdatedAt))
	return insertErr(err, "material "+material.Name)
}

func (r queries) LockMaterial(ctx context.Context, id string) (*domain.RawMaterial, error) {
	return queryOne(ctx, r.q, scanMaterial, "material "+id, `SELECT `+materialColumns+` FROM raw_materials WHERE id = $1 FOR UPDATE`, id)
}

func (r queries) UpdateMaterialStock(ctx context.Context, id string, stock decimal.Decimal) error {
	if stock.IsNegative() {
		return store.Wrapf(store.ErrInsufficientStock, "material %s would go negative", id)
	}
	err := execOne(ctx, r.q, "material "+id, `
		UPDATE raw_materials SET stock_quantity = $2, updated_at = now() WHERE id = $1
	`, id, stock)
	if isCheckViolation(err) {
		return store.Wrapf(store.ErrInsufficientStock, "material %s would go negative", id)
	}
	return err
}

func (r queries) DeleteMaterial(ctx context.Context, id string) error {
	err := execOne(ctx, r.q, "material "+id, `DELETE FROM raw_materials WHERE id = $1`, id)
	return deleteErr(err, "material "+id)
}

func (r queries) CreatePurchase(ctx context.Context, purchase domain.Purchase) error {
	_, err := r.q.ExecContext(ctx, `
		INSERT INTO purchases (id, material_id, quantity, unit_price, total_amount, fund_id, created_by, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
	`, purchase.ID, purchase.MaterialID, purchase.Quantity, purchase.UnitPrice, purchase.TotalAmount,
		nullIfEmpty(purchase.FundID), purchase.CreatedBy, orNow(purchase.CreatedAt))
	return insertErr(err, "purchase of material "+purchase.MaterialID)
}

func (r queries) LockPurchase(ctx context.Context, id string) (*domain.Purchase, error) {
	return queryOne(ctx, r.q, scanPurchase, "purchase "+id, `SELECT `+purchaseColumns+` FROM purchases WHERE id = $1 FOR UPDATE`, id)
}

func (r queries) SetPurchaseFund(ctx context.Context, id, fundID string) error {
	return execOne(ctx, r.q, "purchase "+id, `UPDATE purchases SET fund_id = $2 WHERE id = $1`, id, nullIfEmpty(fundID))
}

func (r queries) DeletePurchase(ctx context.Context, id string) error {
	err := execOne(ctx, r.q, "purchase "+id, `DELETE FROM purchases WHERE id = $1`, id)
	return deleteErr(err, "purchase "+id)
}

func (r queries) CreateBatch(ctx context.Context, batch domain.ManufacturingBatch) error {
	_, err := r.q.ExecContext(ctx, `
		INSERT INTO manufacturing_batches (
			id, product_id, status, quantity_produced, flagged, goods_routed, transfer_id, notes,
			created_by, created_at, updated_at, completed_at
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12)
	`, batch.ID, batch.ProductID, string(batch.Status), batch.QuantityProduced, batch.Flagged, batch.GoodsRouted,
		nullIfEmpty(batch.TransferID), nullIfEmpty(batch.Notes), batch.CreatedBy,
		orNow(batch.CreatedAt), orNow(batch.UpdatedAt), nullTime(batch.CompletedAt))
	return insertErr(err, "batch for product "+batch.ProductID)
}

func (r queries) LockBatch(ctx context.Context, id string) (*domain.ManufacturingBatch, error) {
	return queryOne(ctx, r.q, scanBatch, "batch "+id, `SELECT `+batchColumns+` FROM manufacturing_batches WHERE id = $1 FOR UPDATE`, id)
}

func (r queries) UpdateBatch(ctx context.Context, batch domain.ManufacturingBatch) error {
	return execOne(ctx, r.q, "batch "+batch.ID, `
		UPDATE manufacturing_batches
		SET status = $2, quantity_produced = $3, flagged = $4, goods_routed = $5, transfer_id = $6,
			notes = $7, updated_at = $8, completed_at = $9
		WHERE id = $1
	`, batch.ID, string(batch.Status), batch.QuantityProduced, batch.Flagged, batch.GoodsRouted,
		nullIfEmpty(batch.TransferID), nullIfEmpty(batch.Notes), orNow(batch.UpdatedAt), nullTime(batch.CompletedAt))
}

// DeleteBatch refuses while any transfer still points at the batch.
func (r queries) DeleteBatch(ctx context.Context, id string) error {
	var transferID string
	err := r.q.QueryRowContext(ctx, `SELECT id FROM inventory_transfers WHERE batch_id = $1 LIMIT 1`, id).Scan(&transferID)
	switch {
	case err == nil:
		return store.Wrapf(store.ErrReferenced, "batch %s has transfer %s", id, transferID)
	case !errors.Is(err, sql.ErrNoRows):
		return err
	}
	err = execOne(ctx, r.q, "batch "+id, `DELETE FROM manufacturing_batches WHERE id = $1`, id)
	return deleteErr(err, "batch "+id)
}

func (r queries) CreateMaterialUsage(ctx context.Context, usage domain.MaterialUsage) error {
	_, err := r.q.ExecContext(ctx, `
		INSERT INTO material_usages (id, batch_id, material_id, quantity_used, unit_cost, created_at)
		VALUES ($1,$2,$3,$4,$5,$6)
	`, usage.ID, usage.BatchID, usage.MaterialID, usage.QuantityUsed, usage.UnitCost, orNow(usage.CreatedAt))
	return insertErr(err, "material usage "+usage.ID)
}

func (r queries) DeleteMaterialUsages(ctx context.Context, batchID string) error {
	_, err := r.q.ExecContext(ctx, `DELETE FROM material_usages WHERE batch_id = $1`, batchID)
	return err
}

func (r queries) CreateBatchCost(ctx context.Context, cost domain.ManufacturingCost) error {
	_, err := r.q.ExecContext(ctx, `
		INSERT INTO manufacturing_costs (id, batch_id, cost_type, amount, fund_id, created_by, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7)
	`, cost.ID, cost.BatchID, cost.CostType, cost.Amount, nullIfEmpty(cost.FundID), cost.CreatedBy, orNow(cost.CreatedAt))
	return insertErr(err, "cost "+cost.ID)
}

func (r queries) LockBatchCost(ctx context.Context, id string) (*domain.ManufacturingCost, error) {
	return queryOne(ctx, r.q, scanCost, "cost "+id, `SELECT `+costColumns+` FROM manufacturing_costs WHERE id = $1 FOR UPDATE`, id)
}

func (r queries) SetBatchCostFund(ctx context.Context, id, fundID string) error {
	return execOne(ctx, r.q, "cost "+id, `UPDATE manufacturing_costs SET fund_id = $2 WHERE id = $1`, id, nullIfEmpty(fundID))
}

func (r queries) DeleteBatchCosts(ctx context.Context, batchID string) error {
	_, err := r.q.ExecContext(ctx, `DELETE FROM manufacturing_costs WHERE batch_id = $1`, batchID)
	return err
}

func (r queries) CreateQualityCheck(ctx context.Context, check domain.QualityCheck) error {
	_, err := r.q.ExecContext(ctx, `
		INSERT INTO quality_checks (id, batch_id, passed_quantity, rejected_quantity, notes, checked_by, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7)
	`, check.ID, check.BatchID, check.PassedQuantity, check.RejectedQuantity, nullIfEmpty(check.Notes), check.CheckedBy, orNow(check.CreatedAt))
	return insertErr(err, "quality check "+check.ID)
}

func (r queries) DeleteQualityChecks(ctx context.Context, batchID string) error {
	_, err := r.q.ExecContext(ctx, `DELETE FROM quality_checks WHERE batch_id = $1`, batchID)
	return err
}

func (r queries) CreateProductAdjustment(ctx context.Context, adj domain.ProductAdjustment) error {
	_, err := r.q.ExecContext(ctx, `
		INSERT INTO product_adjustments (id, batch_id, product_id, original_quantity, adjusted_quantity, reason, adjusted_by, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
	`, adj.ID, adj.BatchID, adj.ProductID, adj.OriginalQuantity, adj.AdjustedQuantity, adj.Reason, adj.AdjustedBy, orNow(adj.CreatedAt))
	return insertErr(err, "adjustment "+adj.ID)
}

func (r queries) DeleteProductAdjustments(ctx context.Context, batchID string) error {
	_, err := r.q.ExecContext(ctx, `DELETE FROM product_adjustments WHERE batch_id = $1`, batchID)
	return err
}

func (r queries) LockFinishedGoods(ctx context.Context, key domain.FinishedGoodsKey) (*domain.FinishedGoodsEntry, error) {
	key = domain.NewFinishedGoodsKey(key.ProductID, key.Location, key.ShopkeeperID)
	return queryOne(ctx, r.q, scanGoods, "finished goods "+key.ProductID+" at "+string(key.Location), `
		SELECT `+goodsColumns+`
		FROM finished_goods
		WHERE product_id = $1 AND location = $2 AND shopkeeper_id = $3
		FOR UPDATE
	`, key.ProductID, string(key.Location), key.ShopkeeperID)
}

func (r queries) GetOrCreateFinishedGoods(ctx context.Context, key domain.FinishedGoodsKey) (*domain.FinishedGoodsEntry, error) {
	key = domain.NewFinishedGoodsKey(key.ProductID, key.Location, key.ShopkeeperID)
	_, err := r.q.ExecContext(ctx, `
		INSERT INTO finished_goods (id, product_id, location, shopkeeper_id, quantity, updated_at)
		VALUES ($1,$2,$3,$4,0,now())
		ON CONFLICT (product_id, location, shopkeeper_id) DO NOTHING
	`, xid.New("fg"), key.ProductID, string(key.Location), key.ShopkeeperID)
	if err != nil {
		if isForeignKeyViolation(err) {
			return nil, store.NotFoundf("product %s", key.ProductID)
		}
		return nil, err
	}
	return r.LockFinishedGoods(ctx, key)
}

func (r queries) SetFinishedGoodsQuantity(ctx context.Context, id string, expected, next int) error {
	if next < 0 {
		return store.Wrapf(store.ErrInsufficientStock, "finished goods %s would go negative", id)
	}
	err := execOne(ctx, r.q, "finished goods "+id, `
		UPDATE finished_goods SET quantity = $3, updated_at = now() WHERE id = $1 AND quantity = $2
	`, id, expected, next)
	if !errors.Is(err, store.ErrNotFound) {
		return err
	}

	var exists bool
	if err := r.q.QueryRowContext(ctx, `SELECT EXISTS (SELECT 1 FROM finished_goods WHERE id = $1)`, id).Scan(&exists); err != nil {
		return err
	}
	if !exists {
		return store.NotFoundf("finished goods %s", id)
	}
	return store.Wrapf(store.ErrConsistency, "finished goods %s changed concurrently", id)
}

func (r queries) CreateTransfer(ctx context.Context, t domain.InventoryTransfer) error {
	_, err := r.q.ExecContext(ctx, `
		INSERT INTO inventory_transfers (
			id, product_id, quantity, from_location, to_location, shopkeeper_id, receiver_id, batch_id,
			status, initiated_by, confirmed_by, created_at, confirmed_at
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13)
	`, t.ID, t.ProductID, t.Quantity, string(t.FromLocation), string(t.ToLocation), nullIfEmpty(t.ShopkeeperID),
		nullIfEmpty(t.ReceiverID), nullIfEmpty(t.BatchID), string(t.Status), t.InitiatedBy, nullIfEmpty(t.ConfirmedBy),
		orNow(t.CreatedAt), nullTime(t.ConfirmedAt))
	return insertErr(err, "transfer "+t.ID)
}

func (r queries) LockTransfer(ctx context.Context, id string) (*domain.InventoryTransfer, error) {
	return queryOne(ctx, r.q, scanTransfer, "transfer "+id, `SELECT `+transferColumns+` FROM inventory_transfers WHERE id = $1 FOR UPDATE`, id)
}

func (r queries) UpdateTransfer(ctx context.Context, t domain.InventoryTransfer) error {
	return execOne(ctx, r.q, "transfer "+t.ID, `
		UPDATE inventory_transfers
		SET quantity = $2, status = $3, receiver_id = $4, confirmed_by = $5, confirmed_at = $6
		WHERE id = $1
	`, t.ID, t.Quantity, string(t.Status), nullIfEmpty(t.ReceiverID), nullIfEmpty(t.ConfirmedBy), nullTime(t.ConfirmedAt))
}

func (r queries) DeleteTransfer(ctx context.Context, id string) error {
	return execOne(ctx, r.q, "transfer "+id, `DELETE FROM inventory_transfers WHERE id = $1`, id)
}

func (r queries) CreateFund(ctx context.Context, f domain.Fund) error {
	_, err := r.q.ExecContext(ctx, `
		INSERT INTO funds (
			id, type, amount, balance, status, allocated_by, allocated_to, source_fund_id, sale_id,
			approval_status, approved_by, note, created_at, updated_at
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14)
	`, f.ID, string(f.Type), f.Amount, f.Balance, string(f.Status), f.AllocatedBy, f.AllocatedTo,
		nullIfEmpty(f.SourceFundID), nullIfEmpty(f.SaleID), nullIfEmpty(string(f.ApprovalStatus)),
		nullIfEmpty(f.ApprovedBy), nullIfEmpty(f.Note), orNow(f.CreatedAt), orNow(f.UpdatedAt))
	return insertErr(err, "fund "+f.ID)
}

func (r queries) LockFund(ctx context.Context, id string) (*domain.Fund, error) {
	return queryOne(ctx, r.q, scanFund, "fund "+id, `SELECT `+fundColumns+` FROM funds WHERE id = $1 FOR UPDATE`, id)
}

func (r queries) UpdateFund(ctx context.Context, f domain.Fund) error {
	err := execOne(ctx, r.q, "fund "+f.ID, `
		UPDATE funds
		SET balance = $2, status = $3, approval_status = $4, approved_by = $5, note = $6, updated_at = $7
		WHERE id = $1
	`, f.ID, f.Balance, string(f.Status), nullIfEmpty(string(f.ApprovalStatus)), nullIfEmpty(f.ApprovedBy),
		nullIfEmpty(f.Note), orNow(f.UpdatedAt))
	if isCheckViolation(err) {
		return store.Wrapf(store.ErrInsufficientFunds, "fund %s balance would go negative", f.ID)
	}
	return err
}

func (r queries) CreateFundUsage(ctx context.Context, u domain.FundUsage) error {
	_, err := r.q.ExecContext(ctx, `
		INSERT INTO fund_usages (id, fund_id, amount, type, reference_id, note, created_by, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
	`, u.ID, u.FundID, u.Amount, string(u.Type), nullIfEmpty(u.ReferenceID), nullIfEmpty(u.Note), u.CreatedBy, orNow(u.CreatedAt))
	return insertErr(err, "fund usage "+u.ID)
}

func (r queries) FindFundUsage(ctx context.Context, fundID string, usageType domain.FundUsageType, referenceID string) (*domain.FundUsage, error) {
	return queryOne(ctx, r.q, scanFundUsage, "fund usage "+string(usageType)+"/"+referenceID+" on "+fundID, `
		SELECT `+fundUsageColumns+`
		FROM fund_usages
		WHERE fund_id = $1 AND type = $2 AND COALESCE(reference_id, '') = $3
		ORDER BY created_at, id
		LIMIT 1
	`, fundID, string(usageType), referenceID)
}

func (r queries) DeleteFundUsage(ctx context.Context, id string) error {
	return execOne(ctx, r.q, "fund usage "+id, `DELETE FROM fund_usages WHERE id = $1`, id)
}

func (r queries) CreateSale(ctx context.Context, s domain.Sale) error {
	_, err := r.q.ExecContext(ctx, `
		INSERT INTO sales (
			id, customer_id, subtotal, discount, tax, shipping, net_amount, payment_status,
			created_by, created_at, updated_at
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)
	`, s.ID, s.CustomerID, s.Subtotal, s.Discount, s.Tax, s.Shipping, s.NetAmount, string(s.PaymentStatus),
		s.CreatedBy, orNow(s.CreatedAt), orNow(s.UpdatedAt))
	return insertErr(err, "sale "+s.ID)
}

func (r queries) LockSale(ctx context.Context, id string) (*domain.Sale, error) {
	return queryOne(ctx, r.q, scanSale, "sale "+id, `SELECT `+saleColumns+` FROM sales WHERE id = $1 FOR UPDATE`, id)
}

func (r queries) UpdateSale(ctx context.Context, s domain.Sale) error {
	err := execOne(ctx, r.q, "sale "+s.ID, `
		UPDATE sales
		SET customer_id = $2, subtotal = $3, discount = $4, tax = $5, shipping = $6, net_amount = $7,
			payment_status = $8, updated_at = $9
		WHERE id = $1
	`, s.ID, s.CustomerID, s.Subtotal, s.Discount, s.Tax, s.Shipping, s.NetAmount, string(s.PaymentStatus), orNow(s.UpdatedAt))
	return insertErr(err, "sale "+s.ID)
}

func (r queries) DeleteSale(ctx context.Context, id string) error {
	err := execOne(ctx, r.q, "sale "+id, `DELETE FROM sales WHERE id = $1`, id)
	return deleteErr(err, "sale "+id)
}

func (r queries) CreateSaleItems(ctx context.Context, items []domain.SaleItem) error {
	for _, it := range items {
		_, err := r.q.ExecContext(ctx, `
			INSERT INTO sale_items (id, sale_id, product_id, quantity, unit_price)
			VALUES ($1,$2,$3,$4,$5)
		`, it.ID, it.SaleID, it.ProductID, it.Quantity, it.UnitPrice)
		if err != nil {
			return insertErr(err, "sale item "+it.ID)
		}
	}
	return nil
}

func (r queries) DeleteSaleItems(ctx context.Context, saleID string) error {
	_, err := r.q.ExecContext(ctx, `DELETE FROM sale_items WHERE sale_id = $1`, saleID)
	return err
}

func (r queries) CreatePayment(ctx context.Context, p domain.Payment) error {
	_, err := r.q.ExecContext(ctx, `
		INSERT INTO payments (id, sale_id, amount, method, reference, recorded_by, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7)
	`, p.ID, p.SaleID, p.Amount, nullIfEmpty(p.Method), nullIfEmpty(p.Reference), p.RecordedBy, orNow(p.CreatedAt))
	return insertErr(err, "payment "+p.ID)
}

func (r queries) DeletePayment(ctx context.Context, id string) error {
	return execOne(ctx, r.q, "payment "+id, `DELETE FROM payments WHERE id = $1`, id)
}

func (r queries) CreateNotification(ctx context.Context, n domain.Notification) error {
	_, err := r.q.ExecContext(ctx, `
		INSERT INTO notifications (id, recipient_id, recipient_role, kind, message, entity_type, entity_id, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
	`, newID(n.ID, "ntf"), nullIfEmpty(n.RecipientID), nullIfEmpty(string(n.RecipientRole)), n.Kind, n.Message,
		n.EntityType, n.EntityID, orNow(n.CreatedAt))
	return err
}

func (r queries) CreateAuditLog(ctx context.Context, entry domain.AuditLog) error {
	_, err := r.q.ExecContext(ctx, `
		INSERT INTO audit_logs (id, actor_id, actor_role, action, module, entity_type, entity_id, description, success, origin, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)
	`, newID(entry.ID, "audit"), nullIfEmpty(entry.ActorID), nullIfEmpty(string(entry.ActorRole)), entry.Action, entry.Module,
		nullIfEmpty(entry.EntityType), nullIfEmpty(entry.EntityID), entry.Description, entry.Success,
		nullIfEmpty(entry.Origin), orNow(entry.CreatedAt))
	return err
}

func (r queries) SaveIdempotencyRecord(ctx context.Context, rec domain.IdempotencyRecord) error {
	_, err := r.q.ExecContext(ctx, `
		INSERT INTO idempotency_records (key, operation, actor_id, response, created_at)
		VALUES ($1,$2,$3,$4,$5)
	`, rec.Key, rec.Operation, rec.ActorID, rec.Response, orNow(rec.CreatedAt))
	if isUniqueViolation(err) {
		return store.Wrapf(store.ErrDuplicate, "idempotency key %s", rec.Key)
	}
	return err
}
