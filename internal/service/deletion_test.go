package service

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"garmentledger/backend/internal/domain"
	"garmentledger/backend/internal/store"
	"garmentledger/backend/internal/store/memory"
)

func TestDeleteBatchRestoresMaterialExactly(t *testing.T) {
	f := newFixture(t)
	before := f.materialStock(memory.SeedThreadID)

	created, err := f.svc.CreateBatch(f.ctx, manager, domain.CreateBatchRequest{
		ProductID: memory.SeedShirtID,
		Quantity:  12,
		Materials: []domain.MaterialLine{{MaterialID: memory.SeedThreadID, QuantityUsed: dec("10")}},
	})
	require.NoError(t, err)
	_, err = f.svc.RecordQualityCheck(f.ctx, manager, domain.QualityCheckRequest{BatchID: created.Batch.ID, PassedQuantity: 12})
	require.NoError(t, err)
	assert.True(t, f.materialStock(memory.SeedThreadID).Equal(before.Sub(dec("10"))))

	res, err := f.svc.DeleteBatch(f.ctx, owner, domain.DeleteRequest{ID: created.Batch.ID, Reason: "cancelled order"})
	require.NoError(t, err)
	assert.Equal(t, "batch", res.EntityType)
	assert.Len(t, res.Reversals, 1)
	assert.True(t, f.materialStock(memory.SeedThreadID).Equal(before))

	_, err = f.svc.GetBatch(f.ctx, owner, created.Batch.ID)
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestDeleteCompletedBatchTakesGoodsBack(t *testing.T) {
	f := newFixture(t)
	detail := f.produce(memory.SeedShirtID, 25)
	assert.Equal(t, 25, f.goodsAt(memory.SeedShirtID, domain.LocationWholesale))

	_, err := f.svc.DeleteBatch(f.ctx, owner, domain.DeleteRequest{ID: detail.Batch.ID})
	require.NoError(t, err)
	assert.Zero(t, f.goodsAt(memory.SeedShirtID, domain.LocationWholesale))
	assert.True(t, f.materialStock(memory.SeedButtonID).Equal(dec("1000")))

	_, err = f.svc.GetTransfer(f.ctx, owner, detail.Batch.TransferID)
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestDeleteBatchWithPendingTransferCancelsIt(t *testing.T) {
	f := newFixture(t)
	created, err := f.svc.CreateBatch(f.ctx, manager, domain.CreateBatchRequest{ProductID: memory.SeedTrouserID, Quantity: 8})
	require.NoError(t, err)
	completed, err := f.svc.AdvanceStatus(f.ctx, owner, domain.AdvanceStatusRequest{BatchID: created.Batch.ID, Status: domain.BatchCompleted})
	require.NoError(t, err)

	_, err = f.svc.DeleteBatch(f.ctx, owner, domain.DeleteRequest{ID: created.Batch.ID})
	require.NoError(t, err)

	pending, err := f.svc.ListPendingTransfers(f.ctx, owner)
	require.NoError(t, err)
	assert.Empty(t, pending)
	_, err = f.svc.ConfirmTransfer(f.ctx, distributor, domain.ConfirmTransferRequest{TransferID: completed.Batch.TransferID})
	assert.ErrorIs(t, err, store.ErrNotFound)
	assert.Zero(t, f.goodsAt(memory.SeedTrouserID, domain.LocationManufacturing))
	assert.Zero(t, f.goodsAt(memory.SeedTrouserID, domain.LocationWholesale))
}

func TestDeleteCompletedBatchFailsWhenGoodsWereSold(t *testing.T) {
	f := newFixture(t)
	detail := f.produce(memory.SeedShirtID, 10)
	f.sell(distributor, memory.SeedShirtID, 4, "450")

	_, err := f.svc.DeleteBatch(f.ctx, owner, domain.DeleteRequest{ID: detail.Batch.ID})
	require.ErrorIs(t, err, store.ErrInsufficientStock)
	assert.Equal(t, 6, f.goodsAt(memory.SeedShirtID, domain.LocationWholesale))
	assert.True(t, f.materialStock(memory.SeedButtonID).Equal(dec("999")))
}

func TestDeletePurchaseRefusedOnceConsumed(t *testing.T) {
	f := newFixture(t)
	purchase, err := f.svc.CreatePurchase(f.ctx, manager, domain.CreatePurchaseRequest{MaterialID: memory.SeedThreadID, Quantity: dec("30"), UnitPrice: dec("36")})
	require.NoError(t, err)
	assert.True(t, purchase.Material.StockQuantity.Equal(dec("80")))

	_, err = f.svc.CreateBatch(f.ctx, manager, domain.CreateBatchRequest{
		ProductID: memory.SeedShirtID,
		Quantity:  1,
		Materials: []domain.MaterialLine{{MaterialID: memory.SeedThreadID, QuantityUsed: dec("55")}},
	})
	require.NoError(t, err)

	_, err = f.svc.DeletePurchase(f.ctx, owner, domain.DeleteRequest{ID: purchase.Purchase.ID})
	require.ErrorIs(t, err, store.ErrInsufficientStock)
	assert.True(t, f.materialStock(memory.SeedThreadID).Equal(dec("25")))
}

func TestZeroTotalPurchaseCannotNameAFund(t *testing.T) {
	f := newFixture(t)
	fund := f.allocate(memory.SeedManagerID, "100")

	_, err := f.svc.CreatePurchase(f.ctx, manager, domain.CreatePurchaseRequest{MaterialID: memory.SeedCottonID, Quantity: dec("5"), UnitPrice: dec("0"), FundID: fund.ID})
	require.ErrorIs(t, err, store.ErrValidation)

	free, err := f.svc.CreatePurchase(f.ctx, manager, domain.CreatePurchaseRequest{MaterialID: memory.SeedCottonID, Quantity: dec("5"), UnitPrice: dec("0")})
	require.NoError(t, err)
	_, err = f.svc.DeletePurchase(f.ctx, owner, domain.DeleteRequest{ID: free.Purchase.ID, Reason: "sample returned"})
	require.NoError(t, err)
	assert.True(t, f.materialStock(memory.SeedCottonID).Equal(dec("200")))
}

func TestDeleteSaleReturnsGoodsToWholesale(t *testing.T) {
	f := newFixture(t)
	f.produce(memory.SeedShirtID, 10)
	sale := f.sell(distributor, memory.SeedShirtID, 7, "450")
	assert.Equal(t, 3, f.goodsAt(memory.SeedShirtID, domain.LocationWholesale))

	res, err := f.svc.DeleteSale(f.ctx, distributor, domain.DeleteRequest{ID: sale.Sale.ID, Reason: "customer cancelled"})
	require.NoError(t, err)
	assert.Len(t, res.Reversals, 1)
	assert.Equal(t, 10, f.goodsAt(memory.SeedShirtID, domain.LocationWholesale))

	_, err = f.svc.GetSale(f.ctx, owner, sale.Sale.ID)
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestDeleteSaleRefusedWhileReferenced(t *testing.T) {
	f := newFixture(t)
	f.produce(memory.SeedShirtID, 10)

	paid := f.sell(distributor, memory.SeedShirtID, 1, "450")
	_, err := f.svc.RecordPayment(f.ctx, distributor, domain.RecordPaymentRequest{SaleID: paid.Sale.ID, Amount: dec("100")})
	require.NoError(t, err)
	_, err = f.svc.DeleteSale(f.ctx, owner, domain.DeleteRequest{ID: paid.Sale.ID})
	assert.ErrorIs(t, err, store.ErrReferenced)

	returned := f.sell(distributor, memory.SeedShirtID, 1, "450")
	fund := f.allocate(memory.SeedDistributorID, "1000")
	_, err = f.svc.ReturnFunds(f.ctx, distributor, domain.ReturnFundsRequest{FundID: fund.ID, Amount: dec("450"), SaleID: returned.Sale.ID})
	require.NoError(t, err)
	_, err = f.svc.DeleteSale(f.ctx, owner, domain.DeleteRequest{ID: returned.Sale.ID})
	assert.ErrorIs(t, err, store.ErrReferenced)
	assert.ErrorIs(t, err, store.ErrState)

	assert.Equal(t, 8, f.goodsAt(memory.SeedShirtID, domain.LocationWholesale))
}

func TestReferenceDataDeletionRequiresNoDependents(t *testing.T) {
	f := newFixture(t)

	_, err := f.svc.DeleteMaterial(f.ctx, owner, domain.DeleteRequest{ID: memory.SeedCottonID})
	assert.ErrorIs(t, err, store.ErrReferenced)

	created, err := f.svc.CreateMaterial(f.ctx, manager, domain.CreateMaterialRequest{Name: "Zipper", Unit: "piece", MinStockLevel: dec("10")})
	require.NoError(t, err)
	_, err = f.svc.DeleteMaterial(f.ctx, owner, domain.DeleteRequest{ID: created.Material.ID})
	assert.NoError(t, err)

	f.produce(memory.SeedShirtID, 3)
	_, err = f.svc.DeleteProduct(f.ctx, owner, domain.DeleteRequest{ID: memory.SeedShirtID})
	assert.ErrorIs(t, err, store.ErrReferenced)

	product, err := f.svc.CreateProduct(f.ctx, owner, domain.CreateProductRequest{SKU: "SKU-SCARF-01", Name: "Scarf", UnitPrice: dec("120")})
	require.NoError(t, err)
	_, err = f.svc.DeleteProduct(f.ctx, owner, domain.DeleteRequest{ID: product.Product.ID})
	assert.NoError(t, err)

	_, err = f.svc.DeleteUser(f.ctx, owner, domain.DeleteRequest{ID: memory.SeedOwnerID})
	assert.ErrorIs(t, err, store.ErrState)

	_, err = f.svc.DeleteUser(f.ctx, owner, domain.DeleteRequest{ID: memory.SeedManagerID})
	assert.ErrorIs(t, err, store.ErrReferenced)

	customer, err := f.svc.CreateCustomer(f.ctx, distributor, domain.CreateCustomerRequest{Name: "Market Stall", Kind: domain.CustomerShopkeeper})
	require.NoError(t, err)
	_, err = f.svc.DeleteCustomer(f.ctx, owner, domain.DeleteRequest{ID: customer.Customer.ID})
	assert.NoError(t, err)
}

func TestDuplicateReferenceKeysAreConsistencyErrors(t *testing.T) {
	f := newFixture(t)

	_, err := f.svc.CreateProduct(f.ctx, owner, domain.CreateProductRequest{SKU: "sku-shirt-01", Name: "Copy", UnitPrice: dec("1")})
	assert.ErrorIs(t, err, store.ErrDuplicate)

	_, err = f.svc.CreateUser(f.ctx, owner, domain.CreateUserRequest{Username: "Owner", Password: "longenough", Role: domain.RoleOwner})
	assert.ErrorIs(t, err, store.ErrDuplicate)
}

func (f *fixture) shipToShopkeeper(productID string, qty int) {
	f.t.Helper()
	started, err := f.svc.InitiateTransfer(f.ctx, manager, domain.InitiateTransferRequest{
		ProductID:    productID,
		Quantity:     qty,
		From:         domain.LocationWholesale,
		To:           domain.LocationTransit,
		ShopkeeperID: memory.SeedShopkeeperID,
		ReceiverID:   memory.SeedDistributorID,
	})
	require.NoError(f.t, err)
	_, err = f.svc.ConfirmTransfer(f.ctx, distributor, domain.ConfirmTransferRequest{TransferID: started.Transfer.ID})
	require.NoError(f.t, err)
}

func TestDeleteCompletedBatchReclaimsShopkeeperTransitStock(t *testing.T) {
	f := newFixture(t)
	detail := f.produce(memory.SeedShirtID, 10)
	f.shipToShopkeeper(memory.SeedShirtID, 10)
	require.Zero(t, f.goodsAt(memory.SeedShirtID, domain.LocationWholesale))

	res, err := f.svc.DeleteBatch(f.ctx, owner, domain.DeleteRequest{ID: detail.Batch.ID, Reason: "recalled"})
	require.NoError(t, err)
	assert.Contains(t, res.Reversals, "debited 10 units of "+memory.SeedShirtID+" from transit for "+memory.SeedShopkeeperID)
	assert.Zero(t, f.goodsAt(memory.SeedShirtID, domain.LocationTransit))
}
