package service

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"garmentledger/backend/internal/domain"
	"garmentledger/backend/internal/store"
	"garmentledger/backend/internal/xid"
)

func (s *Service) CreateUser(ctx context.Context, actor domain.Actor, req domain.CreateUserRequest) (domain.UserResult, error) {
	req.Username = strings.ToLower(strings.TrimSpace(req.Username))
	op := operation{
		action: "user_create",
		module: "users",
		entity: "user",
		key:    req.IdempotencyKey,
		roles:  ownerOnly,
		validate: func() error {
			if len(req.Username) < 3 {
				return store.Validationf("username must be at least 3 characters")
			}
			if len(req.Password) < 8 {
				return store.Validationf("password must be at least 8 characters")
			}
			if !req.Role.Valid() {
				return store.Validationf("role must be one of owner, production_manager, distributor")
			}
			return nil
		},
	}
	return run(ctx, s, actor, op, func(tx store.Tx, note *auditNote) (domain.UserResult, error) {
		hash, err := bcrypt.GenerateFromPassword([]byte(req.Password), bcrypt.DefaultCost)
		if err != nil {
			return domain.UserResult{}, fmt.Errorf("hash password: %w", err)
		}
		user := domain.User{
			ID:           xid.New("user"),
			Username:     req.Username,
			PasswordHash: string(hash),
			Role:         req.Role,
			Active:       true,
			CreatedAt:    s.now(),
		}
		if err := tx.CreateUser(ctx, user); err != nil {
			return domain.UserResult{}, err
		}
		note.set(user.ID, "created %s %s", user.Role, user.Username)
		return domain.UserResult{User: user}, nil
	})
}

func (s *Service) DeleteUser(ctx context.Context, actor domain.Actor, req domain.DeleteRequest) (domain.DeletionResult, error) {
	op := deleteOperation("user_delete", "users", "user", ownerOnly, req)
	return run(ctx, s, actor, op, func(tx store.Tx, note *auditNote) (domain.DeletionResult, error) {
		id := strings.TrimSpace(req.ID)
		if id == actor.UserID {
			return domain.DeletionResult{}, store.Statef("you cannot delete your own account")
		}
		return s.deleteUnreferenced(ctx, tx, note, store.RefUser, id, req.Reason, tx.DeleteUser)
	})
}

func (s *Service) CreateProduct(ctx context.Context, actor domain.Actor, req domain.CreateProductRequest) (domain.ProductResult, error) {
	req.SKU = strings.TrimSpace(req.SKU)
	req.Name = strings.TrimSpace(req.Name)
	op := operation{
		action: "product_create",
		module: "catalog",
		entity: "product",
		key:    req.IdempotencyKey,
		roles:  ownerOnly,
		validate: func() error {
			if req.SKU == "" || req.Name == "" {
				return store.Validationf("sku and name are required")
			}
			if req.UnitPrice.IsNegative() {
				return store.Validationf("unit_price must not be negative")
			}
			if req.FundID != "" && !req.Quantity.Mul(req.UnitPrice).Round(2).IsPositive() {
				return store.Validationf("a purchase paid from a fund must have a positive total")
			}
			return nil
		},
	}
	return run(ctx, s, actor, op, func(tx store.Tx, note *auditNote) (domain.ProductResult, error) {
		product := domain.Product{
			ID:        xid.New("prod"),
			SKU:       req.SKU,
			Name:      req.Name,
			UnitPrice: req.UnitPrice,
			CreatedAt: s.now(),
		}
		if err := tx.CreateProduct(ctx, product); err != nil {
			return domain.ProductResult{}, err
		}
		note.set(product.ID, "created product %s (%s)", product.Name, product.SKU)
		return domain.ProductResult{Product: product}, nil
	})
}

func (s *Service) DeleteProduct(ctx context.Context, actor domain.Actor, req domain.DeleteRequest) (domain.DeletionResult, error) {
	op := deleteOperation("product_delete", "catalog", "product", ownerOnly, req)
	return run(ctx, s, actor, op, func(tx store.Tx, note *auditNote) (domain.DeletionResult, error) {
		return s.deleteUnreferenced(ctx, tx, note, store.RefProduct, strings.TrimSpace(req.ID), req.Reason, tx.DeleteProduct)
	})
}

func (s *Service) CreateCustomer(ctx context.Context, actor domain.Actor, req domain.CreateCustomerRequest) (domain.CustomerResult, error) {
	req.Name = strings.TrimSpace(req.Name)
	if req.Kind == "" {
		req.Kind = domain.CustomerRetail
	}
	op := operation{
		action: "customer_create",
		module: "customers",
		entity: "customer",
		key:    req.IdempotencyKey,
		roles:  salesRoles,
		validate: func() error {
			if req.Name == "" {
				return store.Validationf("name is required")
			}
			if !req.Kind.Valid() {
				return store.Validationf("kind must be retail or shopkeeper")
			}
			return nil
		},
	}
	return run(ctx, s, actor, op, func(tx store.Tx, note *auditNote) (domain.CustomerResult, error) {
		customer := domain.Customer{
			ID:        xid.New("cust"),
			Name:      req.Name,
			Phone:     strings.TrimSpace(req.Phone),
			Kind:      req.Kind,
			CreatedAt: s.now(),
		}
		if err := tx.CreateCustomer(ctx, customer); err != nil {
			return domain.CustomerResult{}, err
		}
		note.set(customer.ID, "created %s customer %s", customer.Kind, customer.Name)
		return domain.CustomerResult{Customer: customer}, nil
	})
}

func (s *Service) DeleteCustomer(ctx context.Context, actor domain.Actor, req domain.DeleteRequest) (domain.DeletionResult, error) {
	op := deleteOperation("customer_delete", "customers", "customer", ownerOnly, req)
	return run(ctx, s, actor, op, func(tx store.Tx, note *auditNote) (domain.DeletionResult, error) {
		return s.deleteUnreferenced(ctx, tx, note, store.RefCustomer, strings.TrimSpace(req.ID), req.Reason, tx.DeleteCustomer)
	})
}

func (s *Service) CreateMaterial(ctx context.Context, actor domain.Actor, req domain.CreateMaterialRequest) (domain.MaterialResult, error) {
	req.Name = strings.TrimSpace(req.Name)
	req.Unit = strings.TrimSpace(req.Unit)
	op := operation{
		action: "material_create",
		module: "inventory",
		entity: "material",
		key:    req.IdempotencyKey,
		roles:  productionRoles,
		validate: func() error {
			if req.Name == "" || req.Unit == "" {
				return store.Validationf("name and unit are required")
			}
			if req.MinStockLevel.IsNegative() {
				return store.Validationf("min_stock_level must not be negative")
			}
			return nil
		},
	}
	return run(ctx, s, actor, op, func(tx store.Tx, note *auditNote) (domain.MaterialResult, error) {
		now := s.now()
		material := domain.RawMaterial{
			ID:            xid.New("mat"),
			Name:          req.Name,
			Unit:          req.Unit,
			MinStockLevel: req.MinStockLevel,
			CreatedAt:     now,
			UpdatedAt:     now,
		}
		if err := tx.CreateMaterial(ctx, material); err != nil {
			return domain.MaterialResult{}, err
		}
		note.set(material.ID, "created material %s (%s)", material.Name, material.Unit)
		return domain.MaterialResult{Material: material}, nil
	})
}

func (s *Service) DeleteMaterial(ctx context.Context, actor domain.Actor, req domain.DeleteRequest) (domain.DeletionResult, error) {
	op := deleteOperation("material_delete", "inventory", "material", ownerOnly, req)
	return run(ctx, s, actor, op, func(tx store.Tx, note *auditNote) (domain.DeletionResult, error) {
		return s.deleteUnreferenced(ctx, tx, note, store.RefMaterial, strings.TrimSpace(req.ID), req.Reason, tx.DeleteMaterial)
	})
}

// deleteUnreferenced removes a reference row only when nothing in the
// ledger points at it. Nothing is reversed.
func (s *Service) deleteUnreferenced(ctx context.Context, tx store.Tx, note *auditNote, kind store.RefKind, id string, reason string, del func(context.Context, string) error) (domain.DeletionResult, error) {
	refs, err := tx.CountReferences(ctx, kind, id)
	if err != nil {
		return domain.DeletionResult{}, err
	}
	if refs > 0 {
		return domain.DeletionResult{}, store.Wrapf(store.ErrReferenced, "%s %s is referenced by %d records", kind, id, refs)
	}
	if err := del(ctx, id); err != nil {
		return domain.DeletionResult{}, err
	}
	res := domain.DeletionResult{EntityType: string(kind), EntityID: id, Reversals: []string{}}
	deletionNote(note, res, reason)
	return res, nil
}

// CreatePurchase adds stock and, when a fund pays for it, draws the total
// from that fund in the same transaction.
func (s *Service) CreatePurchase(ctx context.Context, actor domain.Actor, req domain.CreatePurchaseRequest) (domain.PurchaseResult, error) {
	req.MaterialID = strings.TrimSpace(req.MaterialID)
	req.FundID = strings.TrimSpace(req.FundID)
	op := operation{
		action: "purchase_create",
		module: "inventory",
		entity: "purchase",
		key:    req.IdempotencyKey,
		roles:  productionRoles,
		validate: func() error {
			if req.MaterialID == "" {
				return store.Validationf("material_id is required")
			}
			if !req.Quantity.IsPositive() {
				return store.Validationf("quantity must be positive")
			}
			if req.UnitPrice.IsNegative() {
				return store.Validationf("unit_price must not be negative")
			}
			return nil
		},
	}
	return run(ctx, s, actor, op, func(tx store.Tx, note *auditNote) (domain.PurchaseResult, error) {
		material, err := tx.LockMaterial(ctx, req.MaterialID)
		if err != nil {
			return domain.PurchaseResult{}, err
		}
		material.StockQuantity = material.StockQuantity.Add(req.Quantity)
		if err := tx.UpdateMaterialStock(ctx, material.ID, material.StockQuantity); err != nil {
			return domain.PurchaseResult{}, err
		}

		purchase := domain.Purchase{
			ID:          xid.New("pur"),
			MaterialID:  material.ID,
			Quantity:    req.Quantity,
			UnitPrice:   req.UnitPrice,
			TotalAmount: req.Quantity.Mul(req.UnitPrice).Round(2),
			FundID:      req.FundID,
			CreatedBy:   actor.UserID,
			CreatedAt:   s.now(),
		}
		if err := tx.CreatePurchase(ctx, purchase); err != nil {
			return domain.PurchaseResult{}, err
		}

		res := domain.PurchaseResult{Purchase: purchase, Material: *material}
		if purchase.FundID != "" && purchase.TotalAmount.IsPositive() {
			fund, _, err := s.drawFund(ctx, tx, actor, purchase.FundID, purchase.TotalAmount, domain.UsagePurchase, purchase.ID, "purchase of "+material.Name)
			if err != nil {
				return domain.PurchaseResult{}, err
			}
			res.Fund = &fund
		}

		note.set(purchase.ID, "bought %s %s of %s for %s", purchase.Quantity, material.Unit, material.Name, purchase.TotalAmount.StringFixed(2))
		return res, nil
	})
}

func (s *Service) GetPurchase(ctx context.Context, actor domain.Actor, purchaseID string) (domain.Purchase, error) {
	var purchase domain.Purchase
	err := s.view(ctx, actor, productionRoles, func(r store.Reader) error {
		p, err := r.GetPurchase(ctx, purchaseID)
		if err != nil {
			return err
		}
		purchase = *p
		return nil
	})
	return purchase, err
}

func (s *Service) ListUsers(ctx context.Context, actor domain.Actor) ([]domain.User, error) {
	var users []domain.User
	err := s.view(ctx, actor, ownerOnly, func(r store.Reader) error {
		var err error
		users, err = r.ListUsers(ctx)
		return err
	})
	return users, err
}

func (s *Service) ListProducts(ctx context.Context, actor domain.Actor) ([]domain.Product, error) {
	var products []domain.Product
	err := s.view(ctx, actor, anyAuthenticated, func(r store.Reader) error {
		var err error
		products, err = r.ListProducts(ctx)
		return err
	})
	return products, err
}

func (s *Service) ListCustomers(ctx context.Context, actor domain.Actor) ([]domain.Customer, error) {
	var customers []domain.Customer
	err := s.view(ctx, actor, anyAuthenticated, func(r store.Reader) error {
		var err error
		customers, err = r.ListCustomers(ctx)
		return err
	})
	return customers, err
}

func (s *Service) ListMaterials(ctx context.Context, actor domain.Actor) ([]domain.RawMaterial, error) {
	var materials []domain.RawMaterial
	err := s.view(ctx, actor, productionRoles, func(r store.Reader) error {
		var err error
		materials, err = r.ListMaterials(ctx)
		return err
	})
	return materials, err
}

// Authenticate checks a username and password pair. Unknown users and
// wrong passwords produce the same error.
func (s *Service) Authenticate(ctx context.Context, username, password string) (domain.User, error) {
	var user domain.User
	err := s.repo.View(ctx, func(r store.Reader) error {
		u, err := r.GetUserByUsername(ctx, strings.ToLower(strings.TrimSpace(username)))
		if err != nil {
			return err
		}
		user = *u
		return nil
	})
	if err != nil || !user.Active {
		return domain.User{}, store.Permissionf("invalid username or password")
	}
	if bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)) != nil {
		return domain.User{}, store.Permissionf("invalid username or password")
	}
	return user, nil
}

// UserByID resolves a token subject to the current user row.
func (s *Service) UserByID(ctx context.Context, id string) (domain.User, error) {
	var user domain.User
	err := s.repo.View(ctx, func(r store.Reader) error {
		u, err := r.GetUser(ctx, id)
		if err != nil {
			return err
		}
		user = *u
		return nil
	})
	return user, err
}

// EnsureOwner creates an owner account when no active owner exists and
// reports whether it did. It runs at startup, before any actor exists.
func (s *Service) EnsureOwner(ctx context.Context, username, password string) (bool, error) {
	username = strings.ToLower(strings.TrimSpace(username))
	if len(username) < 3 || len(password) < 8 {
		return false, store.Validationf("bootstrap owner needs a username of 3+ and a password of 8+ characters")
	}

	created := false
	err := s.repo.WithinTx(ctx, func(tx store.Tx) error {
		users, err := tx.ListUsers(ctx)
		if err != nil {
			return err
		}
		for _, u := range users {
			if u.Role == domain.RoleOwner && u.Active {
				return nil
			}
		}

		hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
		if err != nil {
			return fmt.Errorf("hash password: %w", err)
		}
		user := domain.User{
			ID:           xid.New("user"),
			Username:     username,
			PasswordHash: string(hash),
			Role:         domain.RoleOwner,
			Active:       true,
			CreatedAt:    s.now(),
		}
		if err := tx.CreateUser(ctx, user); err != nil {
			return err
		}
		created = true
		return tx.CreateAuditLog(ctx, domain.AuditLog{
			ID:          xid.New("audit"),
			Action:      "owner_bootstrap",
			Module:      "users",
			EntityType:  "user",
			EntityID:    user.ID,
			Description: "created bootstrap owner " + user.Username,
			Success:     true,
			Origin:      "startup",
			CreatedAt:   s.now(),
		})
	})
	if err != nil {
		return false, err
	}
	if created {
		s.log.Info("bootstrap owner created", zap.String("username", username))
	}
	return created, nil
}
