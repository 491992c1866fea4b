package service

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"garmentledger/backend/internal/domain"
	"garmentledger/backend/internal/store"
	"garmentledger/backend/internal/store/memory"
)

func (f *fixture) sell(actor domain.Actor, productID string, qty int, price string) domain.SaleDetail {
	f.t.Helper()
	detail, err := f.svc.SaveSale(f.ctx, actor, domain.SaleRequest{
		CustomerID: memory.SeedWalkInID,
		Items:      []domain.SaleItemInput{{ProductID: productID, Quantity: qty, UnitPrice: dec(price)}},
	})
	require.NoError(f.t, err)
	return detail
}

func TestSaleEditBeyondWholesaleStockChangesNothing(t *testing.T) {
	f := newFixture(t)
	f.produce(memory.SeedShirtID, 10)

	sale := f.sell(distributor, memory.SeedShirtID, 10, "450")
	assert.Zero(t, f.goodsAt(memory.SeedShirtID, domain.LocationWholesale))

	_, err := f.svc.SaveSale(f.ctx, distributor, domain.SaleRequest{
		SaleID:     sale.Sale.ID,
		CustomerID: memory.SeedWalkInID,
		Items:      []domain.SaleItemInput{{ProductID: memory.SeedShirtID, Quantity: 15, UnitPrice: dec("450")}},
	})
	require.ErrorIs(t, err, store.ErrInsufficientStock)
	assert.ErrorIs(t, err, store.ErrConsistency)

	after, err := f.svc.GetSale(f.ctx, owner, sale.Sale.ID)
	require.NoError(t, err)
	require.Len(t, after.Items, 1)
	assert.Equal(t, 10, after.Items[0].Quantity)
	assert.True(t, after.Sale.NetAmount.Equal(dec("4500")))
	assert.Zero(t, f.goodsAt(memory.SeedShirtID, domain.LocationWholesale))
}

func TestSaleEditCreditsBackBeforeDebiting(t *testing.T) {
	f := newFixture(t)
	f.produce(memory.SeedShirtID, 10)
	f.produce(memory.SeedTrouserID, 5)

	sale := f.sell(distributor, memory.SeedShirtID, 6, "450")
	assert.Equal(t, 4, f.goodsAt(memory.SeedShirtID, domain.LocationWholesale))

	edited, err := f.svc.SaveSale(f.ctx, distributor, domain.SaleRequest{
		SaleID:     sale.Sale.ID,
		CustomerID: memory.SeedShopkeeperID,
		Items: []domain.SaleItemInput{
			{ProductID: memory.SeedShirtID, Quantity: 2, UnitPrice: dec("450")},
			{ProductID: memory.SeedTrouserID, Quantity: 5, UnitPrice: dec("780")},
		},
		Discount: dec("100"),
		Tax:      dec("50"),
		Shipping: dec("25"),
	})
	require.NoError(t, err)
	assert.Equal(t, sale.Sale.ID, edited.Sale.ID)
	assert.Equal(t, memory.SeedShopkeeperID, edited.Sale.CustomerID)
	assert.Len(t, edited.Items, 2)
	assert.True(t, edited.Sale.Subtotal.Equal(dec("4800")))
	assert.True(t, edited.Sale.NetAmount.Equal(dec("4775")))
	assert.Equal(t, 8, f.goodsAt(memory.SeedShirtID, domain.LocationWholesale))
	assert.Zero(t, f.goodsAt(memory.SeedTrouserID, domain.LocationWholesale))
}

func TestSaleRejectsNegativeNetAmount(t *testing.T) {
	f := newFixture(t)
	f.produce(memory.SeedShirtID, 1)

	_, err := f.svc.SaveSale(f.ctx, distributor, domain.SaleRequest{
		CustomerID: memory.SeedWalkInID,
		Items:      []domain.SaleItemInput{{ProductID: memory.SeedShirtID, Quantity: 1, UnitPrice: dec("10")}},
		Discount:   dec("11"),
	})
	require.ErrorIs(t, err, store.ErrValidation)
	assert.Equal(t, 1, f.goodsAt(memory.SeedShirtID, domain.LocationWholesale))
}

func TestSaleWithPaymentsCannotBeEdited(t *testing.T) {
	f := newFixture(t)
	f.produce(memory.SeedShirtID, 5)
	sale := f.sell(distributor, memory.SeedShirtID, 2, "100")

	_, err := f.svc.RecordPayment(f.ctx, distributor, domain.RecordPaymentRequest{SaleID: sale.Sale.ID, Amount: dec("20")})
	require.NoError(t, err)

	_, err = f.svc.SaveSale(f.ctx, distributor, domain.SaleRequest{
		SaleID:     sale.Sale.ID,
		CustomerID: memory.SeedWalkInID,
		Items:      []domain.SaleItemInput{{ProductID: memory.SeedShirtID, Quantity: 1, UnitPrice: dec("100")}},
	})
	assert.ErrorIs(t, err, store.ErrState)
}

func TestPaymentThenVoidRestoresPriorState(t *testing.T) {
	f := newFixture(t)
	f.produce(memory.SeedShirtID, 1)
	sale := f.sell(distributor, memory.SeedShirtID, 1, "50")
	assert.Equal(t, domain.PaymentUnpaid, sale.Sale.PaymentStatus)

	paid, err := f.svc.RecordPayment(f.ctx, distributor, domain.RecordPaymentRequest{SaleID: sale.Sale.ID, Amount: dec("50"), Method: "cash"})
	require.NoError(t, err)
	assert.Equal(t, domain.PaymentPaid, paid.Sale.PaymentStatus)

	voided, err := f.svc.VoidPayment(f.ctx, distributor, domain.VoidPaymentRequest{PaymentID: paid.Payment.ID, Reason: "bounced"})
	require.NoError(t, err)
	assert.Equal(t, domain.PaymentUnpaid, voided.Sale.PaymentStatus)
	assert.Empty(t, voided.Payments)
	assert.True(t, voided.PaidAmount.IsZero())
	assert.True(t, voided.Balance.Equal(sale.Balance))
	assert.Equal(t, sale.Items, voided.Items)
	assert.True(t, voided.Sale.NetAmount.Equal(sale.Sale.NetAmount))
}

func TestPaymentStatusIsDerivedFromPaymentSum(t *testing.T) {
	f := newFixture(t)
	f.produce(memory.SeedShirtID, 1)
	sale := f.sell(distributor, memory.SeedShirtID, 1, "100")

	first, err := f.svc.RecordPayment(f.ctx, distributor, domain.RecordPaymentRequest{SaleID: sale.Sale.ID, Amount: dec("30")})
	require.NoError(t, err)
	assert.Equal(t, domain.PaymentPartial, first.Sale.PaymentStatus)

	_, err = f.svc.RecordPayment(f.ctx, distributor, domain.RecordPaymentRequest{SaleID: sale.Sale.ID, Amount: dec("80")})
	require.ErrorIs(t, err, store.ErrConsistency)

	second, err := f.svc.RecordPayment(f.ctx, distributor, domain.RecordPaymentRequest{SaleID: sale.Sale.ID, Amount: dec("69.995")})
	require.NoError(t, err)
	assert.Equal(t, domain.PaymentPaid, second.Sale.PaymentStatus)

	_, err = f.svc.RecordPayment(f.ctx, distributor, domain.RecordPaymentRequest{SaleID: sale.Sale.ID, Amount: dec("0.01")})
	assert.ErrorIs(t, err, store.ErrState)

	afterVoid, err := f.svc.VoidPayment(f.ctx, owner, domain.VoidPaymentRequest{PaymentID: first.Payment.ID})
	require.NoError(t, err)
	assert.Equal(t, domain.PaymentPartial, afterVoid.Sale.PaymentStatus)
	assert.Equal(t, domain.DerivePaymentStatus(afterVoid.PaidAmount, afterVoid.Sale.NetAmount), afterVoid.Sale.PaymentStatus)
}

func TestDistributorCannotSettleAnotherDistributorsSale(t *testing.T) {
	f := newFixture(t)
	f.produce(memory.SeedShirtID, 2)
	sale := f.sell(owner, memory.SeedShirtID, 1, "100")

	_, err := f.svc.RecordPayment(f.ctx, distributor, domain.RecordPaymentRequest{SaleID: sale.Sale.ID, Amount: dec("10")})
	assert.ErrorIs(t, err, store.ErrPermission)

	_, err = f.svc.DeleteSale(f.ctx, distributor, domain.DeleteRequest{ID: sale.Sale.ID})
	assert.ErrorIs(t, err, store.ErrPermission)
}
