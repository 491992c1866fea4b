package service

import (
	"context"
	"errors"
	"slices"
	"strings"

	"github.com/shopspring/decimal"

	"garmentledger/backend/internal/domain"
	"garmentledger/backend/internal/store"
	"garmentledger/backend/internal/xid"
)

// SaveSale creates a sale, or replaces the items and adjustments of an
// unpaid one when req.SaleID is set. Wholesale stock moves by the net
// difference per product.
func (s *Service) SaveSale(ctx context.Context, actor domain.Actor, req domain.SaleRequest) (domain.SaleDetail, error) {
	req.SaleID = strings.TrimSpace(req.SaleID)
	req.CustomerID = strings.TrimSpace(req.CustomerID)
	for i := range req.Items {
		req.Items[i].ProductID = strings.TrimSpace(req.Items[i].ProductID)
	}
	subtotal := domain.Subtotal(req.Items)
	net := domain.NetAmount(subtotal, req.Discount, req.Tax, req.Shipping)

	action := "sale_create"
	if req.SaleID != "" {
		action = "sale_edit"
	}
	op := operation{
		action:   action,
		module:   "sales",
		entity:   "sale",
		entityID: req.SaleID,
		key:      req.IdempotencyKey,
		roles:    salesRoles,
		validate: func() error {
			if req.CustomerID == "" {
				return store.Validationf("customer_id is required")
			}
			if len(req.Items) == 0 {
				return store.Validationf("a sale needs at least one item")
			}
			for i, it := range req.Items {
				if it.ProductID == "" {
					return store.Validationf("items[%d].product_id is required", i)
				}
				if it.Quantity <= 0 {
					return store.Validationf("items[%d].quantity must be positive", i)
				}
				if it.UnitPrice.IsNegative() {
					return store.Validationf("items[%d].unit_price must not be negative", i)
				}
			}
			if req.Discount.IsNegative() || req.Tax.IsNegative() || req.Shipping.IsNegative() {
				return store.Validationf("discount, tax and shipping must not be negative")
			}
			if net.IsNegative() {
				return store.Validationf("net amount %s is negative", net.StringFixed(2))
			}
			return nil
		},
	}
	return run(ctx, s, actor, op, func(tx store.Tx, note *auditNote) (domain.SaleDetail, error) {
		if _, err := tx.GetCustomer(ctx, req.CustomerID); err != nil {
			return domain.SaleDetail{}, err
		}
		newQty := quantitiesByProduct(req.Items)
		for productID := range newQty {
			if _, err := tx.GetProduct(ctx, productID); err != nil {
				return domain.SaleDetail{}, err
			}
		}

		now := s.now()
		var sale *domain.Sale
		oldQty := map[string]int{}
		if req.SaleID == "" {
			sale = &domain.Sale{
				ID:            xid.New("sale"),
				PaymentStatus: domain.PaymentUnpaid,
				CreatedBy:     actor.UserID,
				CreatedAt:     now,
			}
		} else {
			var err error
			sale, err = tx.LockSale(ctx, req.SaleID)
			if err != nil {
				return domain.SaleDetail{}, err
			}
			if actor.Role != domain.RoleOwner && sale.CreatedBy != actor.UserID {
				return domain.SaleDetail{}, store.Permissionf("sale %s belongs to another distributor", sale.ID)
			}
			payments, err := tx.ListPayments(ctx, sale.ID)
			if err != nil {
				return domain.SaleDetail{}, err
			}
			if len(payments) > 0 {
				return domain.SaleDetail{}, store.Statef("sale %s already has payments and cannot be edited", sale.ID)
			}
			items, err := tx.ListSaleItems(ctx, sale.ID)
			if err != nil {
				return domain.SaleDetail{}, err
			}
			for _, it := range items {
				oldQty[it.ProductID] += it.Quantity
			}
		}

		if err := s.applySaleStock(ctx, tx, oldQty, newQty); err != nil {
			return domain.SaleDetail{}, err
		}

		sale.CustomerID = req.CustomerID
		sale.Subtotal = subtotal
		sale.Discount = req.Discount
		sale.Tax = req.Tax
		sale.Shipping = req.Shipping
		sale.NetAmount = net
		sale.PaymentStatus = domain.DerivePaymentStatus(decimal.Zero, net)
		sale.UpdatedAt = now

		if req.SaleID == "" {
			if err := tx.CreateSale(ctx, *sale); err != nil {
				return domain.SaleDetail{}, err
			}
		} else {
			if err := tx.DeleteSaleItems(ctx, sale.ID); err != nil {
				return domain.SaleDetail{}, err
			}
			if err := tx.UpdateSale(ctx, *sale); err != nil {
				return domain.SaleDetail{}, err
			}
		}

		items := make([]domain.SaleItem, 0, len(req.Items))
		for _, it := range req.Items {
			items = append(items, domain.SaleItem{
				ID:        xid.New("si"),
				SaleID:    sale.ID,
				ProductID: it.ProductID,
				Quantity:  it.Quantity,
				UnitPrice: it.UnitPrice,
			})
		}
		if err := tx.CreateSaleItems(ctx, items); err != nil {
			return domain.SaleDetail{}, err
		}

		note.set(sale.ID, "%d items, net %s", len(items), sale.NetAmount.StringFixed(2))
		return saleDetail(ctx, tx, sale.ID)
	})
}

func quantitiesByProduct(items []domain.SaleItemInput) map[string]int {
	out := make(map[string]int, len(items))
	for _, it := range items {
		out[it.ProductID] += it.Quantity
	}
	return out
}

// applySaleStock moves wholesale stock by old-new for every product the
// sale touches, in product id order. Returning units is the same as
// reverting the old items before applying the new ones.
func (s *Service) applySaleStock(ctx context.Context, tx store.Tx, oldQty, newQty map[string]int) error {
	products := make([]string, 0, len(oldQty)+len(newQty))
	for id := range oldQty {
		products = append(products, id)
	}
	for id := range newQty {
		if _, ok := oldQty[id]; !ok {
			products = append(products, id)
		}
	}
	slices.Sort(products)

	for _, productID := range products {
		delta := newQty[productID] - oldQty[productID]
		switch {
		case delta < 0:
			if _, err := s.credit(ctx, tx, domain.NewFinishedGoodsKey(productID, domain.LocationWholesale, ""), -delta); err != nil {
				return err
			}
		case delta > 0:
			if err := s.debitWholesale(ctx, tx, productID, delta); err != nil {
				return err
			}
		}
	}
	return nil
}

func (s *Service) debitWholesale(ctx context.Context, tx store.Tx, productID string, qty int) error {
	entry, err := tx.LockFinishedGoods(ctx, domain.NewFinishedGoodsKey(productID, domain.LocationWholesale, ""))
	if errors.Is(err, store.ErrNotFound) {
		return store.Wrapf(store.ErrInsufficientStock, "no wholesale stock of %s", productID)
	}
	if err != nil {
		return err
	}
	if entry.Quantity < qty {
		return store.Wrapf(store.ErrInsufficientStock, "wholesale holds %d of %s, sale needs %d more", entry.Quantity, productID, qty)
	}
	return tx.SetFinishedGoodsQuantity(ctx, entry.ID, entry.Quantity, entry.Quantity-qty)
}

func (s *Service) RecordPayment(ctx context.Context, actor domain.Actor, req domain.RecordPaymentRequest) (domain.PaymentResult, error) {
	op := operation{
		action:   "payment_record",
		module:   "sales",
		entity:   "sale",
		entityID: req.SaleID,
		key:      req.IdempotencyKey,
		roles:    salesRoles,
		validate: func() error {
			if strings.TrimSpace(req.SaleID) == "" {
				return store.Validationf("sale_id is required")
			}
			if !req.Amount.IsPositive() {
				return store.Validationf("amount must be positive")
			}
			return nil
		},
	}
	return run(ctx, s, actor, op, func(tx store.Tx, note *auditNote) (domain.PaymentResult, error) {
		sale, err := tx.LockSale(ctx, req.SaleID)
		if err != nil {
			return domain.PaymentResult{}, err
		}
		if actor.Role != domain.RoleOwner && sale.CreatedBy != actor.UserID {
			return domain.PaymentResult{}, store.Permissionf("sale %s belongs to another distributor", sale.ID)
		}
		payments, err := tx.ListPayments(ctx, sale.ID)
		if err != nil {
			return domain.PaymentResult{}, err
		}
		paid := domain.SumPayments(payments)
		if domain.DerivePaymentStatus(paid, sale.NetAmount) == domain.PaymentPaid {
			return domain.PaymentResult{}, store.Statef("sale %s is already fully paid", sale.ID)
		}
		if paid.Add(req.Amount).GreaterThan(sale.NetAmount.Add(domain.Epsilon)) {
			return domain.PaymentResult{}, store.Wrapf(store.ErrConsistency, "payment of %s exceeds the %s still due on sale %s",
				req.Amount.StringFixed(2), sale.NetAmount.Sub(paid).StringFixed(2), sale.ID)
		}

		payment := domain.Payment{
			ID:         xid.New("pay"),
			SaleID:     sale.ID,
			Amount:     req.Amount,
			Method:     strings.TrimSpace(req.Method),
			Reference:  strings.TrimSpace(req.Reference),
			RecordedBy: actor.UserID,
			CreatedAt:  s.now(),
		}
		if err := tx.CreatePayment(ctx, payment); err != nil {
			return domain.PaymentResult{}, err
		}
		if err := s.refreshPaymentStatus(ctx, tx, sale); err != nil {
			return domain.PaymentResult{}, err
		}

		note.set(sale.ID, "payment %s, status %s", payment.Amount.StringFixed(2), sale.PaymentStatus)
		return domain.PaymentResult{Sale: *sale, Payment: payment}, nil
	})
}

// VoidPayment deletes the payment row outright and recomputes the sale's
// status from what remains.
func (s *Service) VoidPayment(ctx context.Context, actor domain.Actor, req domain.VoidPaymentRequest) (domain.SaleDetail, error) {
	op := operation{
		action:   "payment_void",
		module:   "sales",
		entity:   "payment",
		entityID: req.PaymentID,
		key:      req.IdempotencyKey,
		roles:    salesRoles,
		validate: func() error {
			if strings.TrimSpace(req.PaymentID) == "" {
				return store.Validationf("payment_id is required")
			}
			return nil
		},
	}
	return run(ctx, s, actor, op, func(tx store.Tx, note *auditNote) (domain.SaleDetail, error) {
		payment, err := tx.GetPayment(ctx, req.PaymentID)
		if err != nil {
			return domain.SaleDetail{}, err
		}
		sale, err := tx.LockSale(ctx, payment.SaleID)
		if err != nil {
			return domain.SaleDetail{}, err
		}
		if actor.Role != domain.RoleOwner && sale.CreatedBy != actor.UserID {
			return domain.SaleDetail{}, store.Permissionf("sale %s belongs to another distributor", sale.ID)
		}
		if err := tx.DeletePayment(ctx, payment.ID); err != nil {
			return domain.SaleDetail{}, err
		}
		if err := s.refreshPaymentStatus(ctx, tx, sale); err != nil {
			return domain.SaleDetail{}, err
		}

		reason := strings.TrimSpace(req.Reason)
		if reason == "" {
			reason = "no reason given"
		}
		note.set(payment.ID, "voided %s on sale %s (%s), status %s", payment.Amount.StringFixed(2), sale.ID, reason, sale.PaymentStatus)
		return saleDetail(ctx, tx, sale.ID)
	})
}

func (s *Service) refreshPaymentStatus(ctx context.Context, tx store.Tx, sale *domain.Sale) error {
	payments, err := tx.ListPayments(ctx, sale.ID)
	if err != nil {
		return err
	}
	sale.PaymentStatus = domain.DerivePaymentStatus(domain.SumPayments(payments), sale.NetAmount)
	sale.UpdatedAt = s.now()
	return tx.UpdateSale(ctx, *sale)
}

func (s *Service) GetSale(ctx context.Context, actor domain.Actor, saleID string) (domain.SaleDetail, error) {
	var detail domain.SaleDetail
	err := s.view(ctx, actor, salesRoles, func(r store.Reader) error {
		var err error
		detail, err = saleDetail(ctx, r, saleID)
		if err != nil {
			return err
		}
		if actor.Role != domain.RoleOwner && detail.Sale.CreatedBy != actor.UserID {
			return store.Permissionf("sale %s belongs to another distributor", saleID)
		}
		return nil
	})
	return detail, err
}

func saleDetail(ctx context.Context, r store.Reader, saleID string) (domain.SaleDetail, error) {
	sale, err := r.GetSale(ctx, saleID)
	if err != nil {
		return domain.SaleDetail{}, err
	}
	detail := domain.SaleDetail{Sale: *sale}
	if detail.Items, err = r.ListSaleItems(ctx, saleID); err != nil {
		return domain.SaleDetail{}, err
	}
	if detail.Payments, err = r.ListPayments(ctx, saleID); err != nil {
		return domain.SaleDetail{}, err
	}
	detail.PaidAmount = domain.SumPayments(detail.Payments)
	detail.Balance = sale.NetAmount.Sub(detail.PaidAmount)
	return detail, nil
}
