package domain

import "github.com/shopspring/decimal"

// Epsilon is the tolerance applied to money comparisons.
var Epsilon = decimal.RequireFromString("0.01")

// DerivePaymentStatus is recomputed from the payment sum on every change.
func DerivePaymentStatus(paid, net decimal.Decimal) PaymentStatus {
	if paid.GreaterThanOrEqual(net.Sub(Epsilon)) {
		return PaymentPaid
	}
	if paid.IsPositive() {
		return PaymentPartial
	}
	return PaymentUnpaid
}

func DeriveFundStatus(balance decimal.Decimal) FundStatus {
	if balance.LessThanOrEqual(decimal.Zero) {
		return FundDepleted
	}
	return FundActive
}

func SumPayments(payments []Payment) decimal.Decimal {
	total := decimal.Zero
	for _, p := range payments {
		total = total.Add(p.Amount)
	}
	return total
}

func SumFundUsages(usages []FundUsage) decimal.Decimal {
	total := decimal.Zero
	for _, u := range usages {
		total = total.Add(u.Amount)
	}
	return total
}

func Subtotal(items []SaleItemInput) decimal.Decimal {
	total := decimal.Zero
	for _, it := range items {
		total = total.Add(it.UnitPrice.Mul(decimal.NewFromInt(int64(it.Quantity))))
	}
	return total
}

// NetAmount is subtotal - discount + tax + shipping.
func NetAmount(subtotal, discount, tax, shipping decimal.Decimal) decimal.Decimal {
	return subtotal.Sub(discount).Add(tax).Add(shipping)
}

func MaterialCost(usages []MaterialUsage) decimal.Decimal {
	total := decimal.Zero
	for _, u := range usages {
		total = total.Add(u.QuantityUsed.Mul(u.UnitCost))
	}
	return total.Round(2)
}
