package service

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"garmentledger/backend/internal/domain"
	"garmentledger/backend/internal/store"
	"garmentledger/backend/internal/store/memory"
)

func TestTransferDebitsOnDispatchAndCreditsOnConfirm(t *testing.T) {
	f := newFixture(t)
	f.produce(memory.SeedShirtID, 20)

	started, err := f.svc.InitiateTransfer(f.ctx, manager, domain.InitiateTransferRequest{
		ProductID:    memory.SeedShirtID,
		Quantity:     12,
		From:         domain.LocationWholesale,
		To:           domain.LocationTransit,
		ShopkeeperID: memory.SeedShopkeeperID,
		ReceiverID:   memory.SeedDistributorID,
	})
	require.NoError(t, err)
	assert.Equal(t, domain.TransferPending, started.Transfer.Status)
	require.NotNil(t, started.Source)
	assert.Equal(t, 8, started.Source.Quantity)
	assert.Equal(t, 8, f.goodsAt(memory.SeedShirtID, domain.LocationWholesale))
	assert.Zero(t, f.goodsAt(memory.SeedShirtID, domain.LocationTransit))

	confirmed, err := f.svc.ConfirmTransfer(f.ctx, distributor, domain.ConfirmTransferRequest{TransferID: started.Transfer.ID})
	require.NoError(t, err)
	require.NotNil(t, confirmed.Dest)
	assert.Equal(t, memory.SeedShopkeeperID, confirmed.Dest.ShopkeeperID)
	assert.Equal(t, 12, f.goodsAt(memory.SeedShirtID, domain.LocationTransit))
}

func TestTransferConfirmsExactlyOnce(t *testing.T) {
	f := newFixture(t)
	f.produce(memory.SeedShirtID, 5)

	started, err := f.svc.InitiateTransfer(f.ctx, owner, domain.InitiateTransferRequest{
		ProductID: memory.SeedShirtID, Quantity: 5, From: domain.LocationWholesale, To: domain.LocationManufacturing,
	})
	require.NoError(t, err)

	_, err = f.svc.ConfirmTransfer(f.ctx, distributor, domain.ConfirmTransferRequest{TransferID: started.Transfer.ID})
	assert.ErrorIs(t, err, store.ErrPermission)

	_, err = f.svc.ConfirmTransfer(f.ctx, owner, domain.ConfirmTransferRequest{TransferID: started.Transfer.ID})
	require.NoError(t, err)
	assert.Equal(t, 5, f.goodsAt(memory.SeedShirtID, domain.LocationManufacturing))

	_, err = f.svc.ConfirmTransfer(f.ctx, owner, domain.ConfirmTransferRequest{TransferID: started.Transfer.ID})
	require.ErrorIs(t, err, store.ErrInvalidTransition)
	assert.ErrorIs(t, err, store.ErrState)
	assert.Equal(t, 5, f.goodsAt(memory.SeedShirtID, domain.LocationManufacturing))
}

func TestConcurrentConfirmationsCreditOnce(t *testing.T) {
	f := newFixture(t)
	created, err := f.svc.CreateBatch(f.ctx, manager, domain.CreateBatchRequest{ProductID: memory.SeedShirtID, Quantity: 50})
	require.NoError(t, err)
	completed, err := f.svc.AdvanceStatus(f.ctx, owner, domain.AdvanceStatusRequest{BatchID: created.Batch.ID, Status: domain.BatchCompleted})
	require.NoError(t, err)

	var wg sync.WaitGroup
	errs := make([]error, 8)
	for i := range errs {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = f.svc.ConfirmTransfer(f.ctx, distributor, domain.ConfirmTransferRequest{TransferID: completed.Batch.TransferID})
		}(i)
	}
	wg.Wait()

	succeeded := 0
	for _, err := range errs {
		if err == nil {
			succeeded++
			continue
		}
		assert.ErrorIs(t, err, store.ErrInvalidTransition)
	}
	assert.Equal(t, 1, succeeded)
	assert.Equal(t, 50, f.goodsAt(memory.SeedShirtID, domain.LocationWholesale))
}

func TestTransferRejectsOversizedDispatch(t *testing.T) {
	f := newFixture(t)
	f.produce(memory.SeedShirtID, 3)

	_, err := f.svc.InitiateTransfer(f.ctx, manager, domain.InitiateTransferRequest{
		ProductID: memory.SeedShirtID, Quantity: 4, From: domain.LocationWholesale, To: domain.LocationTransit,
	})
	require.ErrorIs(t, err, store.ErrInsufficientStock)
	assert.Equal(t, 3, f.goodsAt(memory.SeedShirtID, domain.LocationWholesale))

	_, err = f.svc.InitiateTransfer(f.ctx, manager, domain.InitiateTransferRequest{
		ProductID: memory.SeedTrouserID, Quantity: 1, From: domain.LocationWholesale, To: domain.LocationTransit,
	})
	assert.ErrorIs(t, err, store.ErrInsufficientStock)
}

func TestTransferValidation(t *testing.T) {
	f := newFixture(t)

	cases := map[string]domain.InitiateTransferRequest{
		"same location":    {ProductID: memory.SeedShirtID, Quantity: 1, From: domain.LocationWholesale, To: domain.LocationWholesale},
		"unknown location": {ProductID: memory.SeedShirtID, Quantity: 1, From: "warehouse", To: domain.LocationWholesale},
		"zero quantity":    {ProductID: memory.SeedShirtID, From: domain.LocationManufacturing, To: domain.LocationWholesale},
		"shopkeeper scope": {ProductID: memory.SeedShirtID, Quantity: 1, From: domain.LocationManufacturing, To: domain.LocationWholesale, ShopkeeperID: memory.SeedShopkeeperID},
	}
	for name, req := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := f.svc.InitiateTransfer(f.ctx, manager, req)
			assert.ErrorIs(t, err, store.ErrValidation)
		})
	}

	f.produce(memory.SeedShirtID, 2)
	_, err := f.svc.InitiateTransfer(f.ctx, manager, domain.InitiateTransferRequest{
		ProductID: memory.SeedShirtID, Quantity: 1, From: domain.LocationWholesale, To: domain.LocationTransit, ShopkeeperID: memory.SeedWalkInID,
	})
	assert.ErrorIs(t, err, store.ErrValidation)
}

func TestMissingWholesaleReceiverFallsBackToOwner(t *testing.T) {
	f := newFixture(t)
	f.svc.wholesaleReceiver = "user-retired"

	created, err := f.svc.CreateBatch(f.ctx, manager, domain.CreateBatchRequest{ProductID: memory.SeedShirtID, Quantity: 6})
	require.NoError(t, err)
	completed, err := f.svc.AdvanceStatus(f.ctx, owner, domain.AdvanceStatusRequest{BatchID: created.Batch.ID, Status: domain.BatchCompleted})
	require.NoError(t, err)
	require.NotNil(t, completed.Transfer)
	assert.Empty(t, completed.Transfer.ReceiverID)

	pending, err := f.svc.ListPendingTransfers(f.ctx, owner)
	require.NoError(t, err)
	require.Len(t, pending, 1)

	_, err = f.svc.ConfirmTransfer(f.ctx, distributor, domain.ConfirmTransferRequest{TransferID: completed.Transfer.ID})
	assert.ErrorIs(t, err, store.ErrPermission)
	_, err = f.svc.ConfirmTransfer(f.ctx, owner, domain.ConfirmTransferRequest{TransferID: completed.Transfer.ID})
	assert.NoError(t, err)
}
