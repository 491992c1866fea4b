package service

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"garmentledger/backend/internal/domain"
	"garmentledger/backend/internal/store"
	"garmentledger/backend/internal/store/memory"
)

func (f *fixture) allocate(to string, amount string) domain.Fund {
	f.t.Helper()
	detail, err := f.svc.AllocateFund(f.ctx, owner, domain.AllocateFundRequest{AllocatedTo: to, Amount: dec(amount)})
	require.NoError(f.t, err)
	return detail.Fund
}

// assertConserved checks balance = amount - sum(usages) and the derived status.
func (f *fixture) assertConserved(fundID string) domain.FundDetail {
	f.t.Helper()
	detail, err := f.svc.GetFund(f.ctx, owner, fundID)
	require.NoError(f.t, err)
	expected := detail.Fund.Amount.Sub(domain.SumFundUsages(detail.Usages))
	assert.True(f.t, detail.Fund.Balance.Equal(expected), "balance %s, expected %s", detail.Fund.Balance, expected)
	assert.False(f.t, detail.Fund.Balance.IsNegative())
	assert.Equal(f.t, domain.DeriveFundStatus(detail.Fund.Balance), detail.Fund.Status)
	return detail
}

func TestFundDepletesAndRejectsFurtherUsage(t *testing.T) {
	f := newFixture(t)
	fund := f.allocate(memory.SeedManagerID, "1000")
	assert.Equal(t, domain.FundActive, fund.Status)
	assert.True(t, fund.Balance.Equal(dec("1000")))

	purchase, err := f.svc.CreatePurchase(f.ctx, manager, domain.CreatePurchaseRequest{MaterialID: memory.SeedCottonID, Quantity: dec("100"), UnitPrice: dec("10")})
	require.NoError(t, err)

	used, err := f.svc.RecordUsage(f.ctx, manager, domain.RecordUsageRequest{FundID: fund.ID, Amount: dec("1000"), Type: domain.UsagePurchase, ReferenceID: purchase.Purchase.ID})
	require.NoError(t, err)
	assert.True(t, used.Fund.Balance.IsZero())
	assert.Equal(t, domain.FundDepleted, used.Fund.Status)

	_, err = f.svc.RecordUsage(f.ctx, manager, domain.RecordUsageRequest{FundID: fund.ID, Amount: dec("1"), Type: domain.UsageOther})
	require.ErrorIs(t, err, store.ErrInsufficientFunds)
	assert.ErrorIs(t, err, store.ErrConsistency)

	detail := f.assertConserved(fund.ID)
	assert.True(t, detail.Fund.Balance.IsZero())
	assert.Len(t, detail.Usages, 1)
}

func TestFundBalanceTracksUsagesAcrossOperations(t *testing.T) {
	f := newFixture(t)
	fund := f.allocate(memory.SeedManagerID, "500")

	batch, err := f.svc.CreateBatch(f.ctx, manager, domain.CreateBatchRequest{ProductID: memory.SeedShirtID, Quantity: 10})
	require.NoError(t, err)
	_, err = f.svc.RecordCost(f.ctx, manager, domain.RecordCostRequest{BatchID: batch.Batch.ID, CostType: "stitching", Amount: dec("120.25"), FundID: fund.ID})
	require.NoError(t, err)
	f.assertConserved(fund.ID)

	purchase, err := f.svc.CreatePurchase(f.ctx, manager, domain.CreatePurchaseRequest{
		MaterialID: memory.SeedButtonID, Quantity: dec("100"), UnitPrice: dec("2.5"), FundID: fund.ID,
	})
	require.NoError(t, err)
	require.NotNil(t, purchase.Fund)
	assert.True(t, purchase.Fund.Balance.Equal(dec("129.75")))
	f.assertConserved(fund.ID)

	_, err = f.svc.DeletePurchase(f.ctx, owner, domain.DeleteRequest{ID: purchase.Purchase.ID, Reason: "entered twice"})
	require.NoError(t, err)
	detail := f.assertConserved(fund.ID)
	assert.True(t, detail.Fund.Balance.Equal(dec("379.75")))

	_, err = f.svc.DeleteBatch(f.ctx, owner, domain.DeleteRequest{ID: batch.Batch.ID})
	require.NoError(t, err)
	detail = f.assertConserved(fund.ID)
	assert.True(t, detail.Fund.Balance.Equal(dec("500")))
	assert.Empty(t, detail.Usages)
}

func TestFundUsageFailureLeavesNoCostRow(t *testing.T) {
	f := newFixture(t)
	fund := f.allocate(memory.SeedManagerID, "50")
	batch, err := f.svc.CreateBatch(f.ctx, manager, domain.CreateBatchRequest{ProductID: memory.SeedShirtID, Quantity: 2})
	require.NoError(t, err)

	_, err = f.svc.RecordCost(f.ctx, manager, domain.RecordCostRequest{BatchID: batch.Batch.ID, CostType: "dyeing", Amount: dec("75"), FundID: fund.ID})
	require.ErrorIs(t, err, store.ErrInsufficientFunds)

	detail, err := f.svc.GetBatch(f.ctx, owner, batch.Batch.ID)
	require.NoError(t, err)
	assert.Empty(t, detail.Costs)
	f.assertConserved(fund.ID)
}

func TestOnlyFundHolderOrOwnerMayDraw(t *testing.T) {
	f := newFixture(t)
	fund := f.allocate(memory.SeedOwnerID, "300")

	_, err := f.svc.RecordUsage(f.ctx, manager, domain.RecordUsageRequest{FundID: fund.ID, Amount: dec("10"), Type: domain.UsageOther})
	assert.ErrorIs(t, err, store.ErrPermission)

	_, err = f.svc.RecordUsage(f.ctx, owner, domain.RecordUsageRequest{FundID: fund.ID, Amount: dec("10"), Type: domain.UsageOther})
	assert.NoError(t, err)
}

func TestRecordUsageValidatesType(t *testing.T) {
	f := newFixture(t)
	fund := f.allocate(memory.SeedManagerID, "300")

	_, err := f.svc.RecordUsage(f.ctx, manager, domain.RecordUsageRequest{FundID: fund.ID, Amount: dec("10"), Type: "bribe"})
	assert.ErrorIs(t, err, store.ErrValidation)

	_, err = f.svc.RecordUsage(f.ctx, manager, domain.RecordUsageRequest{FundID: fund.ID, Amount: dec("10"), Type: domain.UsagePurchase})
	assert.ErrorIs(t, err, store.ErrValidation)
}

func TestPurchaseUsageAttachesFundToTheRow(t *testing.T) {
	f := newFixture(t)
	fund := f.allocate(memory.SeedManagerID, "500")

	_, err := f.svc.RecordUsage(f.ctx, manager, domain.RecordUsageRequest{FundID: fund.ID, Amount: dec("50"), Type: domain.UsagePurchase, ReferenceID: "pur-missing"})
	assert.ErrorIs(t, err, store.ErrNotFound)

	unpaid, err := f.svc.CreatePurchase(f.ctx, manager, domain.CreatePurchaseRequest{MaterialID: memory.SeedButtonID, Quantity: dec("100"), UnitPrice: dec("0.5")})
	require.NoError(t, err)

	_, err = f.svc.RecordUsage(f.ctx, manager, domain.RecordUsageRequest{FundID: fund.ID, Amount: dec("49"), Type: domain.UsagePurchase, ReferenceID: unpaid.Purchase.ID})
	assert.ErrorIs(t, err, store.ErrValidation)

	_, err = f.svc.RecordUsage(f.ctx, manager, domain.RecordUsageRequest{FundID: fund.ID, Amount: dec("50"), Type: domain.UsagePurchase, ReferenceID: unpaid.Purchase.ID})
	require.NoError(t, err)

	purchase, err := f.svc.GetPurchase(f.ctx, manager, unpaid.Purchase.ID)
	require.NoError(t, err)
	assert.Equal(t, fund.ID, purchase.FundID)

	_, err = f.svc.RecordUsage(f.ctx, manager, domain.RecordUsageRequest{FundID: fund.ID, Amount: dec("50"), Type: domain.UsagePurchase, ReferenceID: unpaid.Purchase.ID})
	assert.ErrorIs(t, err, store.ErrState)
	assert.Len(t, f.assertConserved(fund.ID).Usages, 1)

	_, err = f.svc.DeletePurchase(f.ctx, owner, domain.DeleteRequest{ID: unpaid.Purchase.ID, Reason: "returned to supplier"})
	require.NoError(t, err)
	detail := f.assertConserved(fund.ID)
	assert.Empty(t, detail.Usages)
	assert.True(t, detail.Fund.Balance.Equal(dec("500")))
}

func TestFundedPurchaseCannotBeDrawnTwice(t *testing.T) {
	f := newFixture(t)
	fund := f.allocate(memory.SeedManagerID, "500")

	funded, err := f.svc.CreatePurchase(f.ctx, manager, domain.CreatePurchaseRequest{MaterialID: memory.SeedCottonID, Quantity: dec("10"), UnitPrice: dec("4"), FundID: fund.ID})
	require.NoError(t, err)

	_, err = f.svc.RecordUsage(f.ctx, manager, domain.RecordUsageRequest{FundID: fund.ID, Amount: dec("40"), Type: domain.UsagePurchase, ReferenceID: funded.Purchase.ID})
	assert.ErrorIs(t, err, store.ErrState)

	detail := f.assertConserved(fund.ID)
	assert.Len(t, detail.Usages, 1)
	assert.True(t, detail.Fund.Balance.Equal(dec("460")))
}

func TestCostUsageIsReleasedWithItsBatch(t *testing.T) {
	f := newFixture(t)
	fund := f.allocate(memory.SeedManagerID, "300")

	batch, err := f.svc.CreateBatch(f.ctx, manager, domain.CreateBatchRequest{ProductID: memory.SeedShirtID, Quantity: 5})
	require.NoError(t, err)
	withCost, err := f.svc.RecordCost(f.ctx, manager, domain.RecordCostRequest{BatchID: batch.Batch.ID, CostType: "ironing", Amount: dec("75")})
	require.NoError(t, err)
	require.Len(t, withCost.Costs, 1)

	_, err = f.svc.RecordUsage(f.ctx, manager, domain.RecordUsageRequest{FundID: fund.ID, Amount: dec("75"), Type: domain.UsageManufacturingCost, ReferenceID: "cost-missing"})
	assert.ErrorIs(t, err, store.ErrNotFound)

	_, err = f.svc.RecordUsage(f.ctx, manager, domain.RecordUsageRequest{FundID: fund.ID, Amount: dec("75"), Type: domain.UsageManufacturingCost, ReferenceID: withCost.Costs[0].ID})
	require.NoError(t, err)
	assert.True(t, f.assertConserved(fund.ID).Fund.Balance.Equal(dec("225")))

	_, err = f.svc.DeleteBatch(f.ctx, owner, domain.DeleteRequest{ID: batch.Batch.ID, Reason: "cancelled order"})
	require.NoError(t, err)
	assert.True(t, f.assertConserved(fund.ID).Fund.Balance.Equal(dec("300")))
}

func TestReturnFundsRecordsSeparateRowAndApprovesOnce(t *testing.T) {
	f := newFixture(t)
	fund := f.allocate(memory.SeedDistributorID, "800")

	ret, err := f.svc.ReturnFunds(f.ctx, distributor, domain.ReturnFundsRequest{FundID: fund.ID, Amount: dec("200"), Note: "weekly settlement"})
	require.NoError(t, err)
	assert.Equal(t, domain.FundReturn, ret.Fund.Type)
	assert.Equal(t, domain.ReturnPending, ret.Fund.ApprovalStatus)
	assert.Equal(t, fund.ID, ret.Fund.SourceFundID)
	assert.Equal(t, memory.SeedOwnerID, ret.Fund.AllocatedTo)

	original := f.assertConserved(fund.ID)
	assert.True(t, original.Fund.Balance.Equal(dec("800")))

	_, err = f.svc.ApproveFundReturn(f.ctx, distributor, domain.ApproveReturnRequest{ReturnID: ret.Fund.ID})
	assert.ErrorIs(t, err, store.ErrPermission)

	approved, err := f.svc.ApproveFundReturn(f.ctx, owner, domain.ApproveReturnRequest{ReturnID: ret.Fund.ID})
	require.NoError(t, err)
	assert.Equal(t, domain.ReturnApproved, approved.Fund.ApprovalStatus)
	assert.Equal(t, memory.SeedOwnerID, approved.Fund.ApprovedBy)

	_, err = f.svc.ApproveFundReturn(f.ctx, owner, domain.ApproveReturnRequest{ReturnID: ret.Fund.ID})
	assert.ErrorIs(t, err, store.ErrInvalidTransition)

	_, err = f.svc.RecordUsage(f.ctx, owner, domain.RecordUsageRequest{FundID: ret.Fund.ID, Amount: dec("1"), Type: domain.UsageOther})
	assert.ErrorIs(t, err, store.ErrState)
}

func TestReturnFundsRequiresHolder(t *testing.T) {
	f := newFixture(t)
	fund := f.allocate(memory.SeedDistributorID, "100")

	_, err := f.svc.ReturnFunds(f.ctx, manager, domain.ReturnFundsRequest{FundID: fund.ID, Amount: dec("10")})
	assert.ErrorIs(t, err, store.ErrPermission)
}

func TestAllocateRequiresKnownRecipient(t *testing.T) {
	f := newFixture(t)

	_, err := f.svc.AllocateFund(f.ctx, owner, domain.AllocateFundRequest{AllocatedTo: "user-ghost", Amount: dec("10")})
	assert.ErrorIs(t, err, store.ErrNotFound)

	_, err = f.svc.AllocateFund(f.ctx, owner, domain.AllocateFundRequest{AllocatedTo: memory.SeedManagerID, Amount: dec("0")})
	assert.ErrorIs(t, err, store.ErrValidation)
}
