package service

import (
	"context"
	"strings"

	"github.com/shopspring/decimal"

	"garmentledger/backend/internal/domain"
	"garmentledger/backend/internal/store"
	"garmentledger/backend/internal/xid"
)

// AllocateFund injects capital for a user. It does not deduct from any
// other balance.
func (s *Service) AllocateFund(ctx context.Context, actor domain.Actor, req domain.AllocateFundRequest) (domain.FundDetail, error) {
	req.AllocatedTo = strings.TrimSpace(req.AllocatedTo)
	op := operation{
		action: "fund_allocate",
		module: "finance",
		entity: "fund",
		key:    req.IdempotencyKey,
		roles:  ownerOnly,
		validate: func() error {
			if req.AllocatedTo == "" {
				return store.Validationf("allocated_to is required")
			}
			if !req.Amount.IsPositive() {
				return store.Validationf("amount must be positive")
			}
			return nil
		},
	}
	return run(ctx, s, actor, op, func(tx store.Tx, note *auditNote) (domain.FundDetail, error) {
		holder, err := tx.GetUser(ctx, req.AllocatedTo)
		if err != nil {
			return domain.FundDetail{}, err
		}
		now := s.now()
		fund := domain.Fund{
			ID:          xid.New("fund"),
			Type:        domain.FundInvestment,
			Amount:      req.Amount,
			Balance:     req.Amount,
			Status:      domain.FundActive,
			AllocatedBy: actor.UserID,
			AllocatedTo: holder.ID,
			Note:        strings.TrimSpace(req.Note),
			CreatedAt:   now,
			UpdatedAt:   now,
		}
		if err := tx.CreateFund(ctx, fund); err != nil {
			return domain.FundDetail{}, err
		}
		if err := s.notify(ctx, tx, domain.Notification{
			RecipientID: holder.ID,
			Kind:        "fund_allocated",
			Message:     "a fund of " + fund.Amount.StringFixed(2) + " was allocated to you",
			EntityType:  "fund",
			EntityID:    fund.ID,
		}); err != nil {
			return domain.FundDetail{}, err
		}

		note.set(fund.ID, "allocated %s to %s", fund.Amount.StringFixed(2), holder.Username)
		return fundDetail(ctx, tx, fund.ID)
	})
}

func (s *Service) RecordUsage(ctx context.Context, actor domain.Actor, req domain.RecordUsageRequest) (domain.FundUsageResult, error) {
	op := operation{
		action:   "fund_usage",
		module:   "finance",
		entity:   "fund",
		entityID: req.FundID,
		key:      req.IdempotencyKey,
		roles:    productionRoles,
		validate: func() error {
			if strings.TrimSpace(req.FundID) == "" {
				return store.Validationf("fund_id is required")
			}
			if !req.Amount.IsPositive() {
				return store.Validationf("amount must be positive")
			}
			if !req.Type.Valid() {
				return store.Validationf("type must be one of purchase, manufacturing_cost, other")
			}
			if req.Type != domain.UsageOther && strings.TrimSpace(req.ReferenceID) == "" {
				return store.Validationf("reference_id is required for %s usage", req.Type)
			}
			return nil
		},
	}
	return run(ctx, s, actor, op, func(tx store.Tx, note *auditNote) (domain.FundUsageResult, error) {
		if err := s.attachFund(ctx, tx, req); err != nil {
			return domain.FundUsageResult{}, err
		}
		fund, usage, err := s.drawFund(ctx, tx, actor, req.FundID, req.Amount, req.Type, strings.TrimSpace(req.ReferenceID), strings.TrimSpace(req.Note))
		if err != nil {
			return domain.FundUsageResult{}, err
		}
		note.set(fund.ID, "used %s for %s, balance %s", usage.Amount.StringFixed(2), usage.Type, fund.Balance.StringFixed(2))
		return domain.FundUsageResult{Fund: fund, Usage: usage}, nil
	})
}

// attachFund makes the fund the payer of the purchase or cost a usage
// names. The row must exist, be unpaid so far and cost exactly the amount
// drawn, so deleting it later releases this usage.
func (s *Service) attachFund(ctx context.Context, tx store.Tx, req domain.RecordUsageRequest) error {
	ref := strings.TrimSpace(req.ReferenceID)
	switch req.Type {
	case domain.UsagePurchase:
		purchase, err := tx.LockPurchase(ctx, ref)
		if err != nil {
			return err
		}
		if purchase.FundID != "" {
			return store.Statef("purchase %s is already paid from fund %s", purchase.ID, purchase.FundID)
		}
		if !purchase.TotalAmount.Equal(req.Amount) {
			return store.Validationf("amount %s does not match purchase total %s", req.Amount.StringFixed(2), purchase.TotalAmount.StringFixed(2))
		}
		return tx.SetPurchaseFund(ctx, purchase.ID, req.FundID)
	case domain.UsageManufacturingCost:
		cost, err := tx.LockBatchCost(ctx, ref)
		if err != nil {
			return err
		}
		if cost.FundID != "" {
			return store.Statef("cost %s is already paid from fund %s", cost.ID, cost.FundID)
		}
		if !cost.Amount.Equal(req.Amount) {
			return store.Validationf("amount %s does not match cost amount %s", req.Amount.StringFixed(2), cost.Amount.StringFixed(2))
		}
		return tx.SetBatchCostFund(ctx, cost.ID, req.FundID)
	}
	return nil
}

// drawFund records a usage against an investment fund and refreshes its
// balance and status.
func (s *Service) drawFund(ctx context.Context, tx store.Tx, actor domain.Actor, fundID string, amount decimal.Decimal, usageType domain.FundUsageType, referenceID string, memo string) (domain.Fund, domain.FundUsage, error) {
	fund, err := tx.LockFund(ctx, fundID)
	if err != nil {
		return domain.Fund{}, domain.FundUsage{}, err
	}
	if fund.Type != domain.FundInvestment {
		return domain.Fund{}, domain.FundUsage{}, store.Statef("fund %s is a return record and cannot be drawn", fund.ID)
	}
	if actor.Role != domain.RoleOwner && fund.AllocatedTo != actor.UserID {
		return domain.Fund{}, domain.FundUsage{}, store.Permissionf("fund %s is not allocated to you", fund.ID)
	}
	if fund.Balance.LessThan(amount) {
		return domain.Fund{}, domain.FundUsage{}, store.Wrapf(store.ErrInsufficientFunds, "fund %s has %s, requested %s", fund.ID, fund.Balance.StringFixed(2), amount.StringFixed(2))
	}

	usage := domain.FundUsage{
		ID:          xid.New("fu"),
		FundID:      fund.ID,
		Amount:      amount,
		Type:        usageType,
		ReferenceID: referenceID,
		Note:        memo,
		CreatedBy:   actor.UserID,
		CreatedAt:   s.now(),
	}
	if err := tx.CreateFundUsage(ctx, usage); err != nil {
		return domain.Fund{}, domain.FundUsage{}, err
	}

	expected := fund.Balance.Sub(amount)
	if err := s.refreshFund(ctx, tx, fund); err != nil {
		return domain.Fund{}, domain.FundUsage{}, err
	}
	if !fund.Balance.Equal(expected) {
		return domain.Fund{}, domain.FundUsage{}, store.Wrapf(store.ErrConsistency, "fund %s balance %s does not match its usages", fund.ID, fund.Balance)
	}
	return *fund, usage, nil
}

// releaseFundUsage removes the usage created for referenceID and restores
// the fund balance.
func (s *Service) releaseFundUsage(ctx context.Context, tx store.Tx, fundID string, usageType domain.FundUsageType, referenceID string) (*domain.Fund, error) {
	fund, err := tx.LockFund(ctx, fundID)
	if err != nil {
		return nil, err
	}
	usage, err := tx.FindFundUsage(ctx, fund.ID, usageType, referenceID)
	if err != nil {
		return nil, store.Wrapf(store.ErrConsistency, "fund %s has no %s usage for %s", fund.ID, usageType, referenceID)
	}
	if err := tx.DeleteFundUsage(ctx, usage.ID); err != nil {
		return nil, err
	}
	if err := s.refreshFund(ctx, tx, fund); err != nil {
		return nil, err
	}
	return fund, nil
}

// refreshFund recomputes balance and status from the usage rows. The
// stored values are a projection and are never adjusted in place.
func (s *Service) refreshFund(ctx context.Context, tx store.Tx, fund *domain.Fund) error {
	usages, err := tx.ListFundUsages(ctx, fund.ID)
	if err != nil {
		return err
	}
	balance := fund.Amount.Sub(domain.SumFundUsages(usages))
	if balance.IsNegative() {
		return store.Wrapf(store.ErrInsufficientFunds, "fund %s would go negative", fund.ID)
	}
	fund.Balance = balance
	if fund.Type == domain.FundInvestment {
		fund.Status = domain.DeriveFundStatus(balance)
	}
	fund.UpdatedAt = s.now()
	return tx.UpdateFund(ctx, *fund)
}

// ReturnFunds records capital handed back to the allocator as a separate
// return row. The original fund's balance is not changed.
func (s *Service) ReturnFunds(ctx context.Context, actor domain.Actor, req domain.ReturnFundsRequest) (domain.FundDetail, error) {
	req.SaleID = strings.TrimSpace(req.SaleID)
	op := operation{
		action:   "fund_return",
		module:   "finance",
		entity:   "fund",
		entityID: req.FundID,
		key:      req.IdempotencyKey,
		roles:    anyAuthenticated,
		validate: func() error {
			if strings.TrimSpace(req.FundID) == "" {
				return store.Validationf("fund_id is required")
			}
			if !req.Amount.IsPositive() {
				return store.Validationf("amount must be positive")
			}
			return nil
		},
	}
	return run(ctx, s, actor, op, func(tx store.Tx, note *auditNote) (domain.FundDetail, error) {
		source, err := tx.LockFund(ctx, req.FundID)
		if err != nil {
			return domain.FundDetail{}, err
		}
		if source.Type != domain.FundInvestment {
			return domain.FundDetail{}, store.Statef("fund %s is itself a return record", source.ID)
		}
		if actor.Role != domain.RoleOwner && source.AllocatedTo != actor.UserID {
			return domain.FundDetail{}, store.Permissionf("fund %s is not allocated to you", source.ID)
		}
		if req.SaleID != "" {
			if _, err := tx.GetSale(ctx, req.SaleID); err != nil {
				return domain.FundDetail{}, err
			}
		}

		now := s.now()
		ret := domain.Fund{
			ID:             xid.New("fret"),
			Type:           domain.FundReturn,
			Amount:         req.Amount,
			Balance:        req.Amount,
			Status:         domain.FundReturned,
			AllocatedBy:    actor.UserID,
			AllocatedTo:    source.AllocatedBy,
			SourceFundID:   source.ID,
			SaleID:         req.SaleID,
			ApprovalStatus: domain.ReturnPending,
			Note:           strings.TrimSpace(req.Note),
			CreatedAt:      now,
			UpdatedAt:      now,
		}
		if err := tx.CreateFund(ctx, ret); err != nil {
			return domain.FundDetail{}, err
		}
		if err := s.notify(ctx, tx, domain.Notification{
			RecipientRole: domain.RoleOwner,
			Kind:          "fund_return_pending",
			Message:       "a return of " + ret.Amount.StringFixed(2) + " against fund " + source.ID + " awaits approval",
			EntityType:    "fund",
			EntityID:      ret.ID,
		}); err != nil {
			return domain.FundDetail{}, err
		}

		note.set(ret.ID, "returned %s from fund %s", ret.Amount.StringFixed(2), source.ID)
		return fundDetail(ctx, tx, ret.ID)
	})
}

func (s *Service) ApproveFundReturn(ctx context.Context, actor domain.Actor, req domain.ApproveReturnRequest) (domain.FundDetail, error) {
	op := operation{
		action:   "fund_return_approve",
		module:   "finance",
		entity:   "fund",
		entityID: req.ReturnID,
		key:      req.IdempotencyKey,
		roles:    ownerOnly,
		validate: func() error {
			if strings.TrimSpace(req.ReturnID) == "" {
				return store.Validationf("return_id is required")
			}
			return nil
		},
	}
	return run(ctx, s, actor, op, func(tx store.Tx, note *auditNote) (domain.FundDetail, error) {
		ret, err := tx.LockFund(ctx, req.ReturnID)
		if err != nil {
			return domain.FundDetail{}, err
		}
		if ret.Type != domain.FundReturn {
			return domain.FundDetail{}, store.Validationf("fund %s is not a return", ret.ID)
		}
		if ret.ApprovalStatus != domain.ReturnPending {
			return domain.FundDetail{}, store.Wrapf(store.ErrInvalidTransition, "return %s is already %s", ret.ID, ret.ApprovalStatus)
		}
		ret.ApprovalStatus = domain.ReturnApproved
		ret.ApprovedBy = actor.UserID
		ret.UpdatedAt = s.now()
		if err := tx.UpdateFund(ctx, *ret); err != nil {
			return domain.FundDetail{}, err
		}

		note.set(ret.ID, "approved return of %s", ret.Amount.StringFixed(2))
		return fundDetail(ctx, tx, ret.ID)
	})
}

func (s *Service) GetFund(ctx context.Context, actor domain.Actor, fundID string) (domain.FundDetail, error) {
	var detail domain.FundDetail
	err := s.view(ctx, actor, anyAuthenticated, func(r store.Reader) error {
		var err error
		detail, err = fundDetail(ctx, r, fundID)
		if err != nil {
			return err
		}
		if actor.Role != domain.RoleOwner && detail.Fund.AllocatedTo != actor.UserID && detail.Fund.AllocatedBy != actor.UserID {
			return store.Permissionf("fund %s is not visible to you", fundID)
		}
		return nil
	})
	return detail, err
}

func fundDetail(ctx context.Context, r store.Reader, fundID string) (domain.FundDetail, error) {
	fund, err := r.GetFund(ctx, fundID)
	if err != nil {
		return domain.FundDetail{}, err
	}
	usages, err := r.ListFundUsages(ctx, fundID)
	if err != nil {
		return domain.FundDetail{}, err
	}
	return domain.FundDetail{Fund: *fund, Usages: usages}, nil
}
