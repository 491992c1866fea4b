package service

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"maps"
	"slices"
	"strings"

	"garmentledger/backend/internal/domain"
	"garmentledger/backend/internal/store"
)

func deleteOperation(action, module, entity string, roles []domain.Role, req domain.DeleteRequest) operation {
	return operation{
		action:   action,
		module:   module,
		entity:   entity,
		entityID: req.ID,
		key:      req.IdempotencyKey,
		roles:    roles,
		validate: func() error {
			if strings.TrimSpace(req.ID) == "" {
				return store.Validationf("id is required")
			}
			return nil
		},
	}
}

func deletionNote(note *auditNote, res domain.DeletionResult, reason string) {
	reason = strings.TrimSpace(reason)
	if reason == "" {
		reason = "no reason given"
	}
	note.set(res.EntityID, "deleted %s (%s); %d reversals", res.EntityType, reason, len(res.Reversals))
}

// DeleteBatch undoes every ledger effect of a batch before removing it:
// material stock is restored, routed goods are taken back from wherever
// they sit, fund-backed costs are released, and dependent rows go last.
func (s *Service) DeleteBatch(ctx context.Context, actor domain.Actor, req domain.DeleteRequest) (domain.DeletionResult, error) {
	op := deleteOperation("batch_delete", "manufacturing", "batch", ownerOnly, req)
	return run(ctx, s, actor, op, func(tx store.Tx, note *auditNote) (domain.DeletionResult, error) {
		batch, err := tx.LockBatch(ctx, strings.TrimSpace(req.ID))
		if err != nil {
			return domain.DeletionResult{}, err
		}
		res := domain.DeletionResult{EntityType: "batch", EntityID: batch.ID}

		usages, err := tx.ListMaterialUsages(ctx, batch.ID)
		if err != nil {
			return domain.DeletionResult{}, err
		}
		slices.SortFunc(usages, func(a, b domain.MaterialUsage) int {
			return cmp.Or(cmp.Compare(a.MaterialID, b.MaterialID), cmp.Compare(a.ID, b.ID))
		})
		for _, u := range usages {
			material, err := tx.LockMaterial(ctx, u.MaterialID)
			if err != nil {
				return domain.DeletionResult{}, err
			}
			if err := tx.UpdateMaterialStock(ctx, material.ID, material.StockQuantity.Add(u.QuantityUsed)); err != nil {
				return domain.DeletionResult{}, err
			}
			res.Reversals = append(res.Reversals, fmt.Sprintf("restored %s %s of %s", u.QuantityUsed, material.Unit, material.Name))
		}

		if batch.GoodsRouted {
			reversal, err := s.reclaimBatchGoods(ctx, tx, batch)
			if err != nil {
				return domain.DeletionResult{}, err
			}
			res.Reversals = append(res.Reversals, reversal)
		}

		costs, err := tx.ListBatchCosts(ctx, batch.ID)
		if err != nil {
			return domain.DeletionResult{}, err
		}
		funded := slices.DeleteFunc(costs, func(c domain.ManufacturingCost) bool { return c.FundID == "" })
		slices.SortFunc(funded, func(a, b domain.ManufacturingCost) int {
			return cmp.Or(cmp.Compare(a.FundID, b.FundID), cmp.Compare(a.ID, b.ID))
		})
		for _, c := range funded {
			if _, err := s.releaseFundUsage(ctx, tx, c.FundID, domain.UsageManufacturingCost, c.ID); err != nil {
				return domain.DeletionResult{}, err
			}
			res.Reversals = append(res.Reversals, fmt.Sprintf("returned %s to fund %s", c.Amount.StringFixed(2), c.FundID))
		}

		for _, del := range []func(context.Context, string) error{
			tx.DeleteMaterialUsages,
			tx.DeleteBatchCosts,
			tx.DeleteQualityChecks,
			tx.DeleteProductAdjustments,
			tx.DeleteBatch,
		} {
			if err := del(ctx, batch.ID); err != nil {
				return domain.DeletionResult{}, err
			}
		}

		deletionNote(note, res, req.Reason)
		return res, nil
	})
}

// reclaimBatchGoods removes a routed batch's output. A pending completion
// transfer already took the units out of manufacturing, so dropping it is
// enough; after confirmation the units are debited from the first location
// that still holds them all.
func (s *Service) reclaimBatchGoods(ctx context.Context, tx store.Tx, batch *domain.ManufacturingBatch) (string, error) {
	if batch.TransferID != "" {
		transfer, err := tx.LockTransfer(ctx, batch.TransferID)
		if err != nil && !errors.Is(err, store.ErrNotFound) {
			return "", err
		}
		if err == nil {
			if err := tx.DeleteTransfer(ctx, transfer.ID); err != nil {
				return "", err
			}
			if transfer.Status == domain.TransferPending {
				return fmt.Sprintf("cancelled pending transfer %s of %d units", transfer.ID, transfer.Quantity), nil
			}
		}
	}

	qty := batch.QuantityProduced
	keys, err := holderKeys(ctx, tx, batch.ProductID, domain.LocationManufacturing, domain.LocationWholesale, domain.LocationTransit)
	if err != nil {
		return "", err
	}
	for _, key := range keys {
		entry, err := tx.LockFinishedGoods(ctx, key)
		if errors.Is(err, store.ErrNotFound) {
			continue
		}
		if err != nil {
			return "", err
		}
		if entry.Quantity < qty {
			continue
		}
		if err := tx.SetFinishedGoodsQuantity(ctx, entry.ID, entry.Quantity, entry.Quantity-qty); err != nil {
			return "", err
		}
		return fmt.Sprintf("debited %d units of %s from %s", qty, batch.ProductID, describeKey(key)), nil
	}
	return "", store.Wrapf(store.ErrInsufficientStock, "no location still holds the %d units of %s produced by batch %s", qty, batch.ProductID, batch.ID)
}

func describeKey(key domain.FinishedGoodsKey) string {
	if key.ShopkeeperID != "" {
		return fmt.Sprintf("%s for %s", key.Location, key.ShopkeeperID)
	}
	return string(key.Location)
}

// DeletePurchase is refused once the purchased material has been consumed
// below the purchased quantity.
func (s *Service) DeletePurchase(ctx context.Context, actor domain.Actor, req domain.DeleteRequest) (domain.DeletionResult, error) {
	op := deleteOperation("purchase_delete", "inventory", "purchase", ownerOnly, req)
	return run(ctx, s, actor, op, func(tx store.Tx, note *auditNote) (domain.DeletionResult, error) {
		purchase, err := tx.LockPurchase(ctx, strings.TrimSpace(req.ID))
		if err != nil {
			return domain.DeletionResult{}, err
		}
		res := domain.DeletionResult{EntityType: "purchase", EntityID: purchase.ID}

		material, err := tx.LockMaterial(ctx, purchase.MaterialID)
		if err != nil {
			return domain.DeletionResult{}, err
		}
		if material.StockQuantity.LessThan(purchase.Quantity) {
			return domain.DeletionResult{}, store.Wrapf(store.ErrInsufficientStock,
				"%s has %s %s left, below the %s purchased; it has already been consumed",
				material.Name, material.StockQuantity, material.Unit, purchase.Quantity)
		}
		if err := tx.UpdateMaterialStock(ctx, material.ID, material.StockQuantity.Sub(purchase.Quantity)); err != nil {
			return domain.DeletionResult{}, err
		}
		res.Reversals = append(res.Reversals, fmt.Sprintf("removed %s %s of %s", purchase.Quantity, material.Unit, material.Name))

		if purchase.FundID != "" && purchase.TotalAmount.IsPositive() {
			if _, err := s.releaseFundUsage(ctx, tx, purchase.FundID, domain.UsagePurchase, purchase.ID); err != nil {
				return domain.DeletionResult{}, err
			}
			res.Reversals = append(res.Reversals, fmt.Sprintf("returned %s to fund %s", purchase.TotalAmount.StringFixed(2), purchase.FundID))
		}

		if err := tx.DeletePurchase(ctx, purchase.ID); err != nil {
			return domain.DeletionResult{}, err
		}
		deletionNote(note, res, req.Reason)
		return res, nil
	})
}

// DeleteSale returns the sold units to wholesale. Sales with payments or
// fund returns are kept.
func (s *Service) DeleteSale(ctx context.Context, actor domain.Actor, req domain.DeleteRequest) (domain.DeletionResult, error) {
	op := deleteOperation("sale_delete", "sales", "sale", salesRoles, req)
	return run(ctx, s, actor, op, func(tx store.Tx, note *auditNote) (domain.DeletionResult, error) {
		sale, err := tx.LockSale(ctx, strings.TrimSpace(req.ID))
		if err != nil {
			return domain.DeletionResult{}, err
		}
		if actor.Role != domain.RoleOwner && sale.CreatedBy != actor.UserID {
			return domain.DeletionResult{}, store.Permissionf("sale %s belongs to another distributor", sale.ID)
		}
		payments, err := tx.ListPayments(ctx, sale.ID)
		if err != nil {
			return domain.DeletionResult{}, err
		}
		if len(payments) > 0 {
			return domain.DeletionResult{}, store.Wrapf(store.ErrReferenced, "sale %s has %d payments", sale.ID, len(payments))
		}
		returns, err := tx.CountFundReturnsForSale(ctx, sale.ID)
		if err != nil {
			return domain.DeletionResult{}, err
		}
		if returns > 0 {
			return domain.DeletionResult{}, store.Wrapf(store.ErrReferenced, "sale %s has %d fund returns", sale.ID, returns)
		}

		items, err := tx.ListSaleItems(ctx, sale.ID)
		if err != nil {
			return domain.DeletionResult{}, err
		}
		sold := map[string]int{}
		for _, it := range items {
			sold[it.ProductID] += it.Quantity
		}
		if err := s.applySaleStock(ctx, tx, sold, nil); err != nil {
			return domain.DeletionResult{}, err
		}
		res := domain.DeletionResult{EntityType: "sale", EntityID: sale.ID}
		for _, productID := range slices.Sorted(maps.Keys(sold)) {
			res.Reversals = append(res.Reversals, fmt.Sprintf("returned %d units of %s to wholesale", sold[productID], productID))
		}

		if err := tx.DeleteSaleItems(ctx, sale.ID); err != nil {
			return domain.DeletionResult{}, err
		}
		if err := tx.DeleteSale(ctx, sale.ID); err != nil {
			return domain.DeletionResult{}, err
		}
		deletionNote(note, res, req.Reason)
		return res, nil
	})
}
