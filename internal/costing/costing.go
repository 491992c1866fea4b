// Package costing prices material consumption from recent purchase history.
package costing

import (
	"context"

	"github.com/shopspring/decimal"
)

type PriceSource interface {
	RecentPurchasePrices(ctx context.Context, materialID string, limit int) ([]decimal.Decimal, error)
}

// Averager values a material at the mean unit price of its last Window
// purchases.
type Averager struct {
	Window int
}

func NewAverager(window int) Averager {
	if window < 1 {
		window = 5
	}
	return Averager{Window: window}
}

func (a Averager) UnitCost(ctx context.Context, src PriceSource, materialID string) (decimal.Decimal, error) {
	prices, err := src.RecentPurchasePrices(ctx, materialID, a.Window)
	if err != nil {
		return decimal.Zero, err
	}
	return Mean(prices), nil
}

// Mean returns zero for an empty history.
func Mean(prices []decimal.Decimal) decimal.Decimal {
	if len(prices) == 0 {
		return decimal.Zero
	}
	total := decimal.Zero
	for _, p := range prices {
		total = total.Add(p)
	}
	return total.Div(decimal.NewFromInt(int64(len(prices)))).Round(4)
}
