package service

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"

	"garmentledger/backend/internal/domain"
	"garmentledger/backend/internal/store"
	"garmentledger/backend/internal/xid"
)

type shipment struct {
	productID    string
	quantity     int
	from         domain.Location
	to           domain.Location
	shopkeeperID string
	receiverID   string
	batchID      string
}

func (s *Service) InitiateTransfer(ctx context.Context, actor domain.Actor, req domain.InitiateTransferRequest) (domain.TransferResult, error) {
	req.ProductID = strings.TrimSpace(req.ProductID)
	req.ShopkeeperID = strings.TrimSpace(req.ShopkeeperID)
	req.ReceiverID = strings.TrimSpace(req.ReceiverID)

	op := operation{
		action: "transfer_initiate",
		module: "inventory",
		entity: "transfer",
		key:    req.IdempotencyKey,
		roles:  productionRoles,
		validate: func() error {
			if req.ProductID == "" {
				return store.Validationf("product_id is required")
			}
			if req.Quantity <= 0 {
				return store.Validationf("quantity must be positive")
			}
			if !req.From.Valid() || !req.To.Valid() {
				return store.Validationf("from_location and to_location must be one of manufacturing, wholesale, transit")
			}
			if req.From == req.To {
				return store.Validationf("from_location and to_location must differ")
			}
			if req.ShopkeeperID != "" && req.From != domain.LocationTransit && req.To != domain.LocationTransit {
				return store.Validationf("shopkeeper_id only applies to transfers through transit")
			}
			return nil
		},
	}
	return run(ctx, s, actor, op, func(tx store.Tx, note *auditNote) (domain.TransferResult, error) {
		if _, err := tx.GetProduct(ctx, req.ProductID); err != nil {
			return domain.TransferResult{}, err
		}
		if req.ShopkeeperID != "" {
			customer, err := tx.GetCustomer(ctx, req.ShopkeeperID)
			if err != nil {
				return domain.TransferResult{}, err
			}
			if customer.Kind != domain.CustomerShopkeeper {
				return domain.TransferResult{}, store.Validationf("customer %s is not a shopkeeper", customer.ID)
			}
		}
		if req.ReceiverID != "" {
			receiver, err := tx.GetUser(ctx, req.ReceiverID)
			if err != nil {
				return domain.TransferResult{}, err
			}
			if !receiver.Active {
				return domain.TransferResult{}, store.Statef("receiver %s is inactive", receiver.ID)
			}
		}

		transfer, source, err := s.dispatch(ctx, tx, actor, shipment{
			productID:    req.ProductID,
			quantity:     req.Quantity,
			from:         req.From,
			to:           req.To,
			shopkeeperID: req.ShopkeeperID,
			receiverID:   req.ReceiverID,
		})
		if err != nil {
			return domain.TransferResult{}, err
		}

		note.set(transfer.ID, "dispatched %d x %s from %s to %s", transfer.Quantity, transfer.ProductID, transfer.FromLocation, transfer.ToLocation)
		return domain.TransferResult{Transfer: transfer, Source: source}, nil
	})
}

// dispatch debits the source location and records a pending transfer.
// Nothing is credited until the transfer is confirmed.
func (s *Service) dispatch(ctx context.Context, tx store.Tx, actor domain.Actor, sh shipment) (domain.InventoryTransfer, *domain.FinishedGoodsEntry, error) {
	source, err := tx.LockFinishedGoods(ctx, domain.NewFinishedGoodsKey(sh.productID, sh.from, sh.shopkeeperID))
	if errors.Is(err, store.ErrNotFound) {
		return domain.InventoryTransfer{}, nil, store.Wrapf(store.ErrInsufficientStock, "no %s stock of %s", sh.from, sh.productID)
	}
	if err != nil {
		return domain.InventoryTransfer{}, nil, err
	}
	if source.Quantity < sh.quantity {
		return domain.InventoryTransfer{}, nil, store.Wrapf(store.ErrInsufficientStock, "%s holds %d of %s, transfer needs %d", sh.from, source.Quantity, sh.productID, sh.quantity)
	}
	if err := tx.SetFinishedGoodsQuantity(ctx, source.ID, source.Quantity, source.Quantity-sh.quantity); err != nil {
		return domain.InventoryTransfer{}, nil, err
	}
	source.Quantity -= sh.quantity

	transfer := domain.InventoryTransfer{
		ID:           xid.New("trf"),
		ProductID:    sh.productID,
		Quantity:     sh.quantity,
		FromLocation: sh.from,
		ToLocation:   sh.to,
		ShopkeeperID: sh.shopkeeperID,
		ReceiverID:   sh.receiverID,
		BatchID:      sh.batchID,
		Status:       domain.TransferPending,
		InitiatedBy:  actor.UserID,
		CreatedAt:    s.now(),
	}
	if err := tx.CreateTransfer(ctx, transfer); err != nil {
		return domain.InventoryTransfer{}, nil, err
	}

	n := domain.Notification{
		Kind:       "transfer_pending",
		Message:    fmt.Sprintf("%d x %s are on the way from %s to %s", transfer.Quantity, transfer.ProductID, transfer.FromLocation, transfer.ToLocation),
		EntityType: "transfer",
		EntityID:   transfer.ID,
	}
	if transfer.ReceiverID != "" {
		n.RecipientID = transfer.ReceiverID
	} else {
		n.RecipientRole = domain.RoleOwner
	}
	if err := s.notify(ctx, tx, n); err != nil {
		return domain.InventoryTransfer{}, nil, err
	}
	return transfer, source, nil
}

func (s *Service) ConfirmTransfer(ctx context.Context, actor domain.Actor, req domain.ConfirmTransferRequest) (domain.TransferResult, error) {
	op := operation{
		action:   "transfer_confirm",
		module:   "inventory",
		entity:   "transfer",
		entityID: req.TransferID,
		key:      req.IdempotencyKey,
		roles:    anyAuthenticated,
		validate: func() error {
			if strings.TrimSpace(req.TransferID) == "" {
				return store.Validationf("transfer_id is required")
			}
			return nil
		},
	}
	return run(ctx, s, actor, op, func(tx store.Tx, note *auditNote) (domain.TransferResult, error) {
		transfer, err := tx.LockTransfer(ctx, req.TransferID)
		if err != nil {
			return domain.TransferResult{}, err
		}
		if transfer.Status != domain.TransferPending {
			return domain.TransferResult{}, store.Wrapf(store.ErrInvalidTransition, "transfer %s is already %s", transfer.ID, transfer.Status)
		}
		if err := canConfirm(actor, transfer); err != nil {
			return domain.TransferResult{}, err
		}

		dest, err := s.credit(ctx, tx, domain.NewFinishedGoodsKey(transfer.ProductID, transfer.ToLocation, transfer.ShopkeeperID), transfer.Quantity)
		if err != nil {
			return domain.TransferResult{}, err
		}

		now := s.now()
		transfer.Status = domain.TransferConfirmed
		transfer.ConfirmedBy = actor.UserID
		transfer.ConfirmedAt = &now
		if err := tx.UpdateTransfer(ctx, *transfer); err != nil {
			return domain.TransferResult{}, err
		}

		note.set(transfer.ID, "received %d x %s at %s", transfer.Quantity, transfer.ProductID, transfer.ToLocation)
		return domain.TransferResult{Transfer: *transfer, Dest: dest}, nil
	})
}

// canConfirm allows only the designated receiver, or an owner when the
// transfer has none.
func canConfirm(actor domain.Actor, transfer *domain.InventoryTransfer) error {
	if transfer.ReceiverID != "" {
		if actor.UserID != transfer.ReceiverID {
			return store.Permissionf("only the designated receiver can confirm transfer %s", transfer.ID)
		}
		return nil
	}
	if actor.Role != domain.RoleOwner {
		return store.Permissionf("transfer %s has no designated receiver; only an owner can confirm it", transfer.ID)
	}
	return nil
}

// credit merges qty into the row for key, creating it first when needed.
func (s *Service) credit(ctx context.Context, tx store.Tx, key domain.FinishedGoodsKey, qty int) (*domain.FinishedGoodsEntry, error) {
	entry, err := tx.GetOrCreateFinishedGoods(ctx, key)
	if err != nil {
		return nil, err
	}
	next := entry.Quantity + qty
	if next < 0 {
		return nil, store.Wrapf(store.ErrInsufficientStock, "%s holds %d of %s", key.Location, entry.Quantity, key.ProductID)
	}
	if err := tx.SetFinishedGoodsQuantity(ctx, entry.ID, entry.Quantity, next); err != nil {
		return nil, err
	}
	entry.Quantity = next
	entry.UpdatedAt = s.now()
	return entry, nil
}

// holderKeys lists a product's finished goods rows at locs, in lock order.
// Transit can hold one row per shopkeeper.
func holderKeys(ctx context.Context, tx store.Tx, productID string, locs ...domain.Location) ([]domain.FinishedGoodsKey, error) {
	entries, err := tx.ListFinishedGoods(ctx, productID)
	if err != nil {
		return nil, err
	}
	keys := make([]domain.FinishedGoodsKey, 0, len(entries))
	for _, loc := range locs {
		at := make([]domain.FinishedGoodsKey, 0, 1)
		for _, e := range entries {
			if e.ProductID == productID && e.Location == loc {
				at = append(at, domain.NewFinishedGoodsKey(productID, loc, e.ShopkeeperID))
			}
		}
		slices.SortFunc(at, func(a, b domain.FinishedGoodsKey) int { return strings.Compare(a.ShopkeeperID, b.ShopkeeperID) })
		keys = append(keys, at...)
	}
	return keys, nil
}

func (s *Service) GetTransfer(ctx context.Context, actor domain.Actor, transferID string) (domain.InventoryTransfer, error) {
	var transfer domain.InventoryTransfer
	err := s.view(ctx, actor, anyAuthenticated, func(r store.Reader) error {
		t, err := r.GetTransfer(ctx, transferID)
		if err != nil {
			return err
		}
		transfer = *t
		return nil
	})
	return transfer, err
}

// ListPendingTransfers returns what the actor is expected to confirm. Owners
// see every pending transfer.
func (s *Service) ListPendingTransfers(ctx context.Context, actor domain.Actor) ([]domain.InventoryTransfer, error) {
	var transfers []domain.InventoryTransfer
	err := s.view(ctx, actor, anyAuthenticated, func(r store.Reader) error {
		receiver := actor.UserID
		if actor.Role == domain.RoleOwner {
			receiver = ""
		}
		var err error
		transfers, err = r.ListPendingTransfers(ctx, receiver)
		return err
	})
	return transfers, err
}

func (s *Service) ListFinishedGoods(ctx context.Context, actor domain.Actor, productID string) ([]domain.FinishedGoodsEntry, error) {
	var entries []domain.FinishedGoodsEntry
	err := s.view(ctx, actor, anyAuthenticated, func(r store.Reader) error {
		var err error
		entries, err = r.ListFinishedGoods(ctx, strings.TrimSpace(productID))
		return err
	})
	return entries, err
}
