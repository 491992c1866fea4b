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

func (s *Service) CreateBatch(ctx context.Context, actor domain.Actor, req domain.CreateBatchRequest) (domain.BatchDetail, error) {
	req.ProductID = strings.TrimSpace(req.ProductID)
	lines, linesErr := mergeMaterialLines(req.Materials)

	op := operation{
		action: "batch_create",
		module: "manufacturing",
		entity: "batch",
		key:    req.IdempotencyKey,
		roles:  productionRoles,
		validate: func() error {
			if req.ProductID == "" {
				return store.Validationf("product_id is required")
			}
			if req.Quantity < 0 {
				return store.Validationf("quantity must not be negative")
			}
			return linesErr
		},
	}
	return run(ctx, s, actor, op, func(tx store.Tx, note *auditNote) (domain.BatchDetail, error) {
		if _, err := tx.GetProduct(ctx, req.ProductID); err != nil {
			return domain.BatchDetail{}, err
		}

		now := s.now()
		batch := domain.ManufacturingBatch{
			ID:               xid.New("bat"),
			ProductID:        req.ProductID,
			Status:           domain.BatchPending,
			QuantityProduced: req.Quantity,
			Flagged:          len(lines) == 0,
			Notes:            strings.TrimSpace(req.Notes),
			CreatedBy:        actor.UserID,
			CreatedAt:        now,
			UpdatedAt:        now,
		}
		if err := tx.CreateBatch(ctx, batch); err != nil {
			return domain.BatchDetail{}, err
		}

		for _, line := range lines {
			if err := s.consumeMaterial(ctx, tx, batch.ID, line); err != nil {
				return domain.BatchDetail{}, err
			}
		}

		if batch.Flagged {
			if err := s.notify(ctx, tx, domain.Notification{
				RecipientRole: domain.RoleOwner,
				Kind:          "batch_without_materials",
				Message:       "batch " + batch.ID + " was created without any material lines",
				EntityType:    "batch",
				EntityID:      batch.ID,
			}); err != nil {
				return domain.BatchDetail{}, err
			}
		}

		note.set(batch.ID, "created batch of %d x %s with %d material lines", batch.QuantityProduced, batch.ProductID, len(lines))
		return s.batchDetail(ctx, tx, batch.ID)
	})
}

// mergeMaterialLines folds repeated materials into one line each and
// orders them by material id, which is also the lock order.
func mergeMaterialLines(lines []domain.MaterialLine) ([]domain.MaterialLine, error) {
	byID := make(map[string]decimal.Decimal, len(lines))
	for i, line := range lines {
		id := strings.TrimSpace(line.MaterialID)
		if id == "" {
			return nil, store.Validationf("materials[%d].material_id is required", i)
		}
		if !line.QuantityUsed.IsPositive() {
			return nil, store.Validationf("materials[%d].quantity_used must be positive", i)
		}
		byID[id] = byID[id].Add(line.QuantityUsed)
	}
	merged := make([]domain.MaterialLine, 0, len(byID))
	for id, qty := range byID {
		merged = append(merged, domain.MaterialLine{MaterialID: id, QuantityUsed: qty})
	}
	slices.SortFunc(merged, func(a, b domain.MaterialLine) int { return strings.Compare(a.MaterialID, b.MaterialID) })
	return merged, nil
}

func (s *Service) consumeMaterial(ctx context.Context, tx store.Tx, batchID string, line domain.MaterialLine) error {
	material, err := tx.LockMaterial(ctx, line.MaterialID)
	if err != nil {
		return err
	}
	if material.StockQuantity.LessThan(line.QuantityUsed) {
		return store.Wrapf(store.ErrInsufficientStock, "material %s has %s %s, batch needs %s",
			material.Name, material.StockQuantity, material.Unit, line.QuantityUsed)
	}
	remaining := material.StockQuantity.Sub(line.QuantityUsed)
	if err := tx.UpdateMaterialStock(ctx, material.ID, remaining); err != nil {
		return err
	}

	unitCost, err := s.costs.UnitCost(ctx, tx, material.ID)
	if err != nil {
		return err
	}
	if err := tx.CreateMaterialUsage(ctx, domain.MaterialUsage{
		ID:           xid.New("mu"),
		BatchID:      batchID,
		MaterialID:   material.ID,
		QuantityUsed: line.QuantityUsed,
		UnitCost:     unitCost,
		CreatedAt:    s.now(),
	}); err != nil {
		return err
	}

	floor := material.MinStockLevel
	if floor.IsPositive() && remaining.LessThan(floor) && !material.StockQuantity.LessThan(floor) {
		return s.notify(ctx, tx, domain.Notification{
			RecipientRole: domain.RoleProductionManager,
			Kind:          "low_stock",
			Message:       material.Name + " fell below its minimum stock level (" + remaining.String() + " " + material.Unit + " left)",
			EntityType:    "material",
			EntityID:      material.ID,
		})
	}
	return nil
}

func (s *Service) RecordCost(ctx context.Context, actor domain.Actor, req domain.RecordCostRequest) (domain.BatchDetail, error) {
	op := operation{
		action:   "batch_cost",
		module:   "manufacturing",
		entity:   "batch",
		entityID: req.BatchID,
		key:      req.IdempotencyKey,
		roles:    productionRoles,
		validate: func() error {
			if strings.TrimSpace(req.BatchID) == "" || strings.TrimSpace(req.CostType) == "" {
				return store.Validationf("batch_id and cost_type are required")
			}
			if !req.Amount.IsPositive() {
				return store.Validationf("amount must be positive")
			}
			return nil
		},
	}
	return run(ctx, s, actor, op, func(tx store.Tx, note *auditNote) (domain.BatchDetail, error) {
		batch, err := tx.LockBatch(ctx, req.BatchID)
		if err != nil {
			return domain.BatchDetail{}, err
		}
		if batch.Status.Terminal() {
			return domain.BatchDetail{}, store.Statef("batch %s is completed; costs can no longer be recorded", batch.ID)
		}

		cost := domain.ManufacturingCost{
			ID:        xid.New("cost"),
			BatchID:   batch.ID,
			CostType:  strings.TrimSpace(req.CostType),
			Amount:    req.Amount,
			FundID:    strings.TrimSpace(req.FundID),
			CreatedBy: actor.UserID,
			CreatedAt: s.now(),
		}
		if err := tx.CreateBatchCost(ctx, cost); err != nil {
			return domain.BatchDetail{}, err
		}
		if cost.FundID != "" {
			if _, _, err := s.drawFund(ctx, tx, actor, cost.FundID, cost.Amount, domain.UsageManufacturingCost, cost.ID, cost.CostType); err != nil {
				return domain.BatchDetail{}, err
			}
		}

		note.set(batch.ID, "recorded %s cost %s", cost.CostType, cost.Amount)
		return s.batchDetail(ctx, tx, batch.ID)
	})
}

func (s *Service) AdvanceStatus(ctx context.Context, actor domain.Actor, req domain.AdvanceStatusRequest) (domain.BatchDetail, error) {
	op := operation{
		action:   "batch_status",
		module:   "manufacturing",
		entity:   "batch",
		entityID: req.BatchID,
		key:      req.IdempotencyKey,
		roles:    productionRoles,
		validate: func() error {
			if strings.TrimSpace(req.BatchID) == "" {
				return store.Validationf("batch_id is required")
			}
			if !req.Status.Valid() {
				return store.Validationf("unknown batch status %q", req.Status)
			}
			return nil
		},
	}
	return run(ctx, s, actor, op, func(tx store.Tx, note *auditNote) (domain.BatchDetail, error) {
		batch, err := tx.LockBatch(ctx, req.BatchID)
		if err != nil {
			return domain.BatchDetail{}, err
		}
		if batch.Status == req.Status {
			note.set(batch.ID, "status already %s", batch.Status)
			return s.batchDetail(ctx, tx, batch.ID)
		}
		if actor.Role != domain.RoleOwner && !batch.Status.CanAdvanceTo(req.Status) {
			return domain.BatchDetail{}, store.Wrapf(store.ErrInvalidTransition, "batch %s cannot move from %s to %s", batch.ID, batch.Status, req.Status)
		}

		from := batch.Status
		now := s.now()
		if req.Status == domain.BatchCompleted {
			if batch.QuantityProduced <= 0 {
				return domain.BatchDetail{}, store.Statef("batch %s has no produced quantity to complete", batch.ID)
			}
			if !batch.GoodsRouted {
				if err := s.routeCompletedBatch(ctx, tx, actor, batch); err != nil {
					return domain.BatchDetail{}, err
				}
			}
			batch.CompletedAt = &now
		}
		batch.Status = req.Status
		batch.UpdatedAt = now
		if err := tx.UpdateBatch(ctx, *batch); err != nil {
			return domain.BatchDetail{}, err
		}

		note.set(batch.ID, "status %s -> %s", from, batch.Status)
		return s.batchDetail(ctx, tx, batch.ID)
	})
}

// routeCompletedBatch credits the batch output to manufacturing and then
// dispatches it towards wholesale as a pending transfer. A batch is routed
// at most once, even if an owner re-completes it.
func (s *Service) routeCompletedBatch(ctx context.Context, tx store.Tx, actor domain.Actor, batch *domain.ManufacturingBatch) error {
	if _, err := s.credit(ctx, tx, domain.NewFinishedGoodsKey(batch.ProductID, domain.LocationManufacturing, ""), batch.QuantityProduced); err != nil {
		return err
	}

	receiver := s.wholesaleReceiver
	if receiver != "" {
		if _, err := tx.GetUser(ctx, receiver); errors.Is(err, store.ErrNotFound) {
			s.log.Warn("configured wholesale receiver does not exist; owner confirmation required")
			receiver = ""
		} else if err != nil {
			return err
		}
	}

	transfer, _, err := s.dispatch(ctx, tx, actor, shipment{
		productID:  batch.ProductID,
		quantity:   batch.QuantityProduced,
		from:       domain.LocationManufacturing,
		to:         domain.LocationWholesale,
		receiverID: receiver,
		batchID:    batch.ID,
	})
	if err != nil {
		return err
	}
	batch.GoodsRouted = true
	batch.TransferID = transfer.ID
	return nil
}

func (s *Service) AdjustFinalQuantity(ctx context.Context, actor domain.Actor, req domain.AdjustQuantityRequest) (domain.BatchDetail, error) {
	req.Reason = strings.TrimSpace(req.Reason)
	op := operation{
		action:   "batch_adjust",
		module:   "manufacturing",
		entity:   "batch",
		entityID: req.BatchID,
		key:      req.IdempotencyKey,
		roles:    productionRoles,
		validate: func() error {
			if strings.TrimSpace(req.BatchID) == "" || req.Reason == "" {
				return store.Validationf("batch_id and reason are required")
			}
			if req.NewQuantity <= 0 {
				return store.Validationf("new_quantity must be positive")
			}
			return nil
		},
	}
	return run(ctx, s, actor, op, func(tx store.Tx, note *auditNote) (domain.BatchDetail, error) {
		batch, err := tx.LockBatch(ctx, req.BatchID)
		if err != nil {
			return domain.BatchDetail{}, err
		}
		if batch.Status != domain.BatchCompleted || !batch.GoodsRouted {
			return domain.BatchDetail{}, store.Statef("batch %s is not completed", batch.ID)
		}

		original := batch.QuantityProduced
		delta := req.NewQuantity - original
		if delta == 0 {
			note.set(batch.ID, "quantity unchanged at %d", original)
			return s.batchDetail(ctx, tx, batch.ID)
		}

		adjusted, err := s.adjustPendingCompletion(ctx, tx, batch, delta)
		if err != nil {
			return domain.BatchDetail{}, err
		}
		if !adjusted {
			if err := s.adjustHolder(ctx, tx, batch.ProductID, delta); err != nil {
				return domain.BatchDetail{}, err
			}
		}

		now := s.now()
		if err := tx.CreateProductAdjustment(ctx, domain.ProductAdjustment{
			ID:               xid.New("adj"),
			BatchID:          batch.ID,
			ProductID:        batch.ProductID,
			OriginalQuantity: original,
			AdjustedQuantity: req.NewQuantity,
			Reason:           req.Reason,
			AdjustedBy:       actor.UserID,
			CreatedAt:        now,
		}); err != nil {
			return domain.BatchDetail{}, err
		}
		batch.QuantityProduced = req.NewQuantity
		batch.UpdatedAt = now
		if err := tx.UpdateBatch(ctx, *batch); err != nil {
			return domain.BatchDetail{}, err
		}

		note.set(batch.ID, "quantity %d -> %d: %s", original, req.NewQuantity, req.Reason)
		return s.batchDetail(ctx, tx, batch.ID)
	})
}

// adjustPendingCompletion resizes the completion transfer while it is still
// in flight. It reports false when the goods have already been received.
func (s *Service) adjustPendingCompletion(ctx context.Context, tx store.Tx, batch *domain.ManufacturingBatch, delta int) (bool, error) {
	if batch.TransferID == "" {
		return false, nil
	}
	transfer, err := tx.LockTransfer(ctx, batch.TransferID)
	if err != nil {
		return false, err
	}
	if transfer.Status != domain.TransferPending {
		return false, nil
	}
	if transfer.Quantity+delta <= 0 {
		return false, store.Wrapf(store.ErrInsufficientStock, "transfer %s would carry %d units", transfer.ID, transfer.Quantity+delta)
	}
	transfer.Quantity += delta
	return true, tx.UpdateTransfer(ctx, *transfer)
}

// adjustHolder applies delta to the first wholesale or transit row, any
// shopkeeper scope included, that can absorb it.
func (s *Service) adjustHolder(ctx context.Context, tx store.Tx, productID string, delta int) error {
	keys, err := holderKeys(ctx, tx, productID, domain.LocationWholesale, domain.LocationTransit)
	if err != nil {
		return err
	}
	found := false
	for _, key := range keys {
		entry, err := tx.LockFinishedGoods(ctx, key)
		if errors.Is(err, store.ErrNotFound) {
			continue
		}
		if err != nil {
			return err
		}
		found = true
		if entry.Quantity+delta < 0 {
			continue
		}
		return tx.SetFinishedGoodsQuantity(ctx, entry.ID, entry.Quantity, entry.Quantity+delta)
	}
	if !found {
		return store.NotFoundf("no wholesale or transit stock holds product %s", productID)
	}
	return store.Wrapf(store.ErrInsufficientStock, "adjusting product %s by %d would leave negative stock", productID, delta)
}

func (s *Service) RecordQualityCheck(ctx context.Context, actor domain.Actor, req domain.QualityCheckRequest) (domain.BatchDetail, error) {
	op := operation{
		action:   "batch_quality_check",
		module:   "manufacturing",
		entity:   "batch",
		entityID: req.BatchID,
		key:      req.IdempotencyKey,
		roles:    productionRoles,
		validate: func() error {
			if strings.TrimSpace(req.BatchID) == "" {
				return store.Validationf("batch_id is required")
			}
			if req.PassedQuantity < 0 || req.RejectedQuantity < 0 || req.PassedQuantity+req.RejectedQuantity == 0 {
				return store.Validationf("passed and rejected quantities must be non-negative and not both zero")
			}
			return nil
		},
	}
	return run(ctx, s, actor, op, func(tx store.Tx, note *auditNote) (domain.BatchDetail, error) {
		batch, err := tx.LockBatch(ctx, req.BatchID)
		if err != nil {
			return domain.BatchDetail{}, err
		}
		checks, err := tx.ListQualityChecks(ctx, batch.ID)
		if err != nil {
			return domain.BatchDetail{}, err
		}
		inspected := req.PassedQuantity + req.RejectedQuantity
		for _, c := range checks {
			inspected += c.PassedQuantity + c.RejectedQuantity
		}
		if batch.QuantityProduced > 0 && inspected > batch.QuantityProduced {
			return domain.BatchDetail{}, store.Wrapf(store.ErrConsistency, "batch %s would have %d inspected units out of %d", batch.ID, inspected, batch.QuantityProduced)
		}

		if err := tx.CreateQualityCheck(ctx, domain.QualityCheck{
			ID:               xid.New("qc"),
			BatchID:          batch.ID,
			PassedQuantity:   req.PassedQuantity,
			RejectedQuantity: req.RejectedQuantity,
			Notes:            strings.TrimSpace(req.Notes),
			CheckedBy:        actor.UserID,
			CreatedAt:        s.now(),
		}); err != nil {
			return domain.BatchDetail{}, err
		}

		note.set(batch.ID, "quality check passed=%d rejected=%d", req.PassedQuantity, req.RejectedQuantity)
		return s.batchDetail(ctx, tx, batch.ID)
	})
}

func (s *Service) GetBatch(ctx context.Context, actor domain.Actor, batchID string) (domain.BatchDetail, error) {
	var detail domain.BatchDetail
	err := s.view(ctx, actor, anyAuthenticated, func(r store.Reader) error {
		var err error
		detail, err = s.batchDetail(ctx, r, batchID)
		return err
	})
	return detail, err
}

func (s *Service) batchDetail(ctx context.Context, r store.Reader, batchID string) (domain.BatchDetail, error) {
	batch, err := r.GetBatch(ctx, batchID)
	if err != nil {
		return domain.BatchDetail{}, err
	}
	detail := domain.BatchDetail{Batch: *batch}
	if detail.Usages, err = r.ListMaterialUsages(ctx, batchID); err != nil {
		return domain.BatchDetail{}, err
	}
	if detail.Costs, err = r.ListBatchCosts(ctx, batchID); err != nil {
		return domain.BatchDetail{}, err
	}
	if detail.QualityChecks, err = r.ListQualityChecks(ctx, batchID); err != nil {
		return domain.BatchDetail{}, err
	}
	if detail.Adjustments, err = r.ListProductAdjustments(ctx, batchID); err != nil {
		return domain.BatchDetail{}, err
	}
	if batch.TransferID != "" {
		transfer, err := r.GetTransfer(ctx, batch.TransferID)
		if err != nil {
			return domain.BatchDetail{}, err
		}
		detail.Transfer = transfer
	}

	detail.MaterialCost = domain.MaterialCost(detail.Usages)
	detail.TotalCost = detail.MaterialCost
	for _, c := range detail.Costs {
		detail.TotalCost = detail.TotalCost.Add(c.Amount)
	}
	return detail, nil
}
