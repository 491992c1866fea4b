package service

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"garmentledger/backend/internal/domain"
	"garmentledger/backend/internal/idempotency"
	"garmentledger/backend/internal/store"
	"garmentledger/backend/internal/store/memory"
)

var (
	owner       = domain.Actor{UserID: memory.SeedOwnerID, Role: domain.RoleOwner, Origin: "10.0.0.1"}
	manager     = domain.Actor{UserID: memory.SeedManagerID, Role: domain.RoleProductionManager, Origin: "10.0.0.2"}
	distributor = domain.Actor{UserID: memory.SeedDistributorID, Role: domain.RoleDistributor, Origin: "10.0.0.3"}
)

type fixture struct {
	t    *testing.T
	ctx  context.Context
	repo *memory.Store
	svc  *Service
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	repo := memory.NewSeeded(nil)
	svc := New(repo, zap.NewNop(), Options{
		WholesaleReceiverID: memory.SeedDistributorID,
		Guard:               idempotency.NewLocalGuard(),
	})
	return &fixture{t: t, ctx: context.Background(), repo: repo, svc: svc}
}

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func (f *fixture) materialStock(id string) decimal.Decimal {
	f.t.Helper()
	materials, err := f.svc.ListMaterials(f.ctx, owner)
	require.NoError(f.t, err)
	for _, m := range materials {
		if m.ID == id {
			return m.StockQuantity
		}
	}
	f.t.Fatalf("material %s not listed", id)
	return decimal.Zero
}

func (f *fixture) goodsAt(productID string, loc domain.Location) int {
	f.t.Helper()
	entries, err := f.svc.ListFinishedGoods(f.ctx, owner, productID)
	require.NoError(f.t, err)
	total := 0
	for _, e := range entries {
		if e.Location == loc {
			total += e.Quantity
		}
	}
	return total
}

// produce runs a batch to completion and has the wholesale receiver accept
// it, leaving qty units of productID in wholesale.
func (f *fixture) produce(productID string, qty int) domain.BatchDetail {
	f.t.Helper()
	created, err := f.svc.CreateBatch(f.ctx, manager, domain.CreateBatchRequest{
		ProductID: productID,
		Quantity:  qty,
		Materials: []domain.MaterialLine{{MaterialID: memory.SeedButtonID, QuantityUsed: dec("1")}},
	})
	require.NoError(f.t, err)

	completed, err := f.svc.AdvanceStatus(f.ctx, owner, domain.AdvanceStatusRequest{BatchID: created.Batch.ID, Status: domain.BatchCompleted})
	require.NoError(f.t, err)
	require.NotEmpty(f.t, completed.Batch.TransferID)

	_, err = f.svc.ConfirmTransfer(f.ctx, distributor, domain.ConfirmTransferRequest{TransferID: completed.Batch.TransferID})
	require.NoError(f.t, err)

	detail, err := f.svc.GetBatch(f.ctx, owner, created.Batch.ID)
	require.NoError(f.t, err)
	return detail
}

func (f *fixture) auditLogs() []domain.AuditLog {
	f.t.Helper()
	logs, err := f.svc.ListAuditLogs(f.ctx, owner, 500)
	require.NoError(f.t, err)
	return logs
}

func TestOperationsRequireAnAllowedRole(t *testing.T) {
	f := newFixture(t)

	_, err := f.svc.CreateBatch(f.ctx, distributor, domain.CreateBatchRequest{ProductID: memory.SeedShirtID, Quantity: 1})
	assert.ErrorIs(t, err, store.ErrPermission)

	_, err = f.svc.AllocateFund(f.ctx, manager, domain.AllocateFundRequest{AllocatedTo: memory.SeedManagerID, Amount: dec("10")})
	assert.ErrorIs(t, err, store.ErrPermission)

	_, err = f.svc.SaveSale(f.ctx, manager, domain.SaleRequest{
		CustomerID: memory.SeedWalkInID,
		Items:      []domain.SaleItemInput{{ProductID: memory.SeedShirtID, Quantity: 1, UnitPrice: dec("1")}},
	})
	assert.ErrorIs(t, err, store.ErrPermission)

	_, err = f.svc.CreateBatch(f.ctx, domain.Actor{}, domain.CreateBatchRequest{ProductID: memory.SeedShirtID, Quantity: 1})
	assert.ErrorIs(t, err, store.ErrPermission)
}

func TestValidationFailsBeforeAnyWrite(t *testing.T) {
	f := newFixture(t)

	_, err := f.svc.CreateBatch(f.ctx, manager, domain.CreateBatchRequest{
		ProductID: memory.SeedShirtID,
		Quantity:  5,
		Materials: []domain.MaterialLine{{MaterialID: memory.SeedCottonID, QuantityUsed: dec("-2")}},
	})
	require.ErrorIs(t, err, store.ErrValidation)
	assert.True(t, f.materialStock(memory.SeedCottonID).Equal(dec("200")))
}

func TestEveryOperationWritesOneAuditRow(t *testing.T) {
	f := newFixture(t)

	created, err := f.svc.CreateBatch(f.ctx, manager, domain.CreateBatchRequest{ProductID: memory.SeedShirtID, Quantity: 4})
	require.NoError(t, err)

	_, err = f.svc.CreateBatch(f.ctx, manager, domain.CreateBatchRequest{
		ProductID: memory.SeedShirtID,
		Quantity:  4,
		Materials: []domain.MaterialLine{{MaterialID: memory.SeedCottonID, QuantityUsed: dec("5000")}},
	})
	require.ErrorIs(t, err, store.ErrInsufficientStock)

	logs := f.auditLogs()
	require.Len(t, logs, 2)

	failed, ok := findAudit(logs, false)
	require.True(t, ok)
	assert.Equal(t, "batch_create", failed.Action)
	assert.Equal(t, memory.SeedManagerID, failed.ActorID)
	assert.Equal(t, "10.0.0.2", failed.Origin)
	assert.Contains(t, failed.Description, "insufficient stock")

	succeeded, ok := findAudit(logs, true)
	require.True(t, ok)
	assert.Equal(t, created.Batch.ID, succeeded.EntityID)
	assert.Equal(t, "manufacturing", succeeded.Module)
}

func TestUnauthenticatedFailuresAreAudited(t *testing.T) {
	f := newFixture(t)
	f.svc.AuditUnauthenticated(f.ctx, "203.0.113.9", "login", "invalid credentials")

	logs := f.auditLogs()
	require.Len(t, logs, 1)
	assert.Empty(t, logs[0].ActorID)
	assert.Equal(t, "203.0.113.9", logs[0].Origin)
	assert.False(t, logs[0].Success)
}

func findAudit(logs []domain.AuditLog, success bool) (domain.AuditLog, bool) {
	for _, l := range logs {
		if l.Success == success {
			return l, true
		}
	}
	return domain.AuditLog{}, false
}

func TestIdempotencyKeyReplaysWithoutSecondEffect(t *testing.T) {
	f := newFixture(t)
	req := domain.CreateBatchRequest{
		ProductID:      memory.SeedShirtID,
		Quantity:       10,
		Materials:      []domain.MaterialLine{{MaterialID: memory.SeedCottonID, QuantityUsed: dec("12.5")}},
		IdempotencyKey: "batch-retry-1",
	}

	first, err := f.svc.CreateBatch(f.ctx, manager, req)
	require.NoError(t, err)
	assert.False(t, first.Duplicate)

	second, err := f.svc.CreateBatch(f.ctx, manager, req)
	require.NoError(t, err)
	assert.True(t, second.Duplicate)
	assert.Equal(t, first.Batch.ID, second.Batch.ID)

	assert.True(t, f.materialStock(memory.SeedCottonID).Equal(dec("187.5")))
}

func TestIdempotencyKeyCannotBeReusedForAnotherOperation(t *testing.T) {
	f := newFixture(t)

	_, err := f.svc.CreateBatch(f.ctx, owner, domain.CreateBatchRequest{ProductID: memory.SeedShirtID, Quantity: 1, IdempotencyKey: "shared"})
	require.NoError(t, err)

	_, err = f.svc.AllocateFund(f.ctx, owner, domain.AllocateFundRequest{AllocatedTo: memory.SeedManagerID, Amount: dec("10"), IdempotencyKey: "shared"})
	assert.ErrorIs(t, err, store.ErrValidation)
}

func TestIdempotencyKeysAreScopedPerUser(t *testing.T) {
	f := newFixture(t)
	fundA := f.allocate(memory.SeedManagerID, "100")
	fundB := f.allocate(memory.SeedManagerID, "100")

	first, err := f.svc.RecordUsage(f.ctx, manager, domain.RecordUsageRequest{FundID: fundA.ID, Amount: dec("10"), Type: domain.UsageOther, IdempotencyKey: "k1"})
	require.NoError(t, err)
	assert.False(t, first.Duplicate)

	second, err := f.svc.RecordUsage(f.ctx, owner, domain.RecordUsageRequest{FundID: fundB.ID, Amount: dec("30"), Type: domain.UsageOther, IdempotencyKey: "k1"})
	require.NoError(t, err)
	assert.False(t, second.Duplicate)
	assert.Equal(t, fundB.ID, second.Fund.ID)

	assert.True(t, f.fund(fundA.ID).Balance.Equal(dec("90")))
	assert.True(t, f.fund(fundB.ID).Balance.Equal(dec("70")))

	replay, err := f.svc.RecordUsage(f.ctx, owner, domain.RecordUsageRequest{FundID: fundB.ID, Amount: dec("30"), Type: domain.UsageOther, IdempotencyKey: "k1"})
	require.NoError(t, err)
	assert.True(t, replay.Duplicate)
	assert.Equal(t, second.Usage.ID, replay.Usage.ID)
	assert.True(t, f.fund(fundB.ID).Balance.Equal(dec("70")))
}

func TestIdempotencyKeyInFlightIsRejected(t *testing.T) {
	f := newFixture(t)
	guard := idempotency.NewLocalGuard()
	f.svc.guard = guard

	release, err := guard.Acquire(f.ctx, scopedKey(manager, "busy"))
	require.NoError(t, err)
	defer release(f.ctx)

	_, err = f.svc.CreateBatch(f.ctx, manager, domain.CreateBatchRequest{ProductID: memory.SeedShirtID, Quantity: 1, IdempotencyKey: "busy"})
	assert.ErrorIs(t, err, store.ErrDuplicate)
}

func TestFailedOperationDoesNotConsumeIdempotencyKey(t *testing.T) {
	f := newFixture(t)
	req := domain.CreateBatchRequest{
		ProductID:      memory.SeedShirtID,
		Quantity:       3,
		Materials:      []domain.MaterialLine{{MaterialID: memory.SeedThreadID, QuantityUsed: dec("60")}},
		IdempotencyKey: "retry-after-restock",
	}
	_, err := f.svc.CreateBatch(f.ctx, manager, req)
	require.ErrorIs(t, err, store.ErrInsufficientStock)

	_, err = f.svc.CreatePurchase(f.ctx, manager, domain.CreatePurchaseRequest{MaterialID: memory.SeedThreadID, Quantity: dec("20"), UnitPrice: dec("30")})
	require.NoError(t, err)

	detail, err := f.svc.CreateBatch(f.ctx, manager, req)
	require.NoError(t, err)
	assert.False(t, detail.Duplicate)
	assert.True(t, f.materialStock(memory.SeedThreadID).Equal(dec("10")))
}

func TestNotificationsAreAddressedByUserOrRole(t *testing.T) {
	f := newFixture(t)

	_, err := f.svc.CreateBatch(f.ctx, manager, domain.CreateBatchRequest{ProductID: memory.SeedShirtID, Quantity: 2})
	require.NoError(t, err)

	ownerInbox, err := f.svc.ListNotifications(f.ctx, owner, 0)
	require.NoError(t, err)
	require.Len(t, ownerInbox, 1)
	assert.Equal(t, "batch_without_materials", ownerInbox[0].Kind)

	managerInbox, err := f.svc.ListNotifications(f.ctx, manager, 0)
	require.NoError(t, err)
	assert.Empty(t, managerInbox)
}

func TestInjectedClockStampsRows(t *testing.T) {
	repo := memory.NewSeeded(nil)
	fixed := time.Date(2026, 3, 1, 9, 30, 0, 0, time.UTC)
	svc := New(repo, nil, Options{Now: func() time.Time { return fixed }})

	detail, err := svc.CreateBatch(context.Background(), manager, domain.CreateBatchRequest{ProductID: memory.SeedShirtID, Quantity: 1})
	require.NoError(t, err)
	assert.Equal(t, fixed, detail.Batch.CreatedAt)
}
