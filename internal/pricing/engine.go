package pricing

import "github.com/shopspring/decimal"

// Item describes a line item used for pricing calculation.
type Item struct {
	Qty       int
	UnitPrice decimal.Decimal
}

// Summary aggregates computed pricing components.
type Summary struct {
	Subtotal decimal.Decimal `json:"subtotal"`
	Discount decimal.Decimal `json:"discount"`
	Tax      decimal.Decimal `json:"tax"`
	Shipping decimal.Decimal `json:"shipping"`
	Total    decimal.Decimal `json:"total"`
}

// Compute calculates order totals from tax inclusive unit prices. The tax
// component is the share of the discounted subtotal attributable to taxBps.
func Compute(items []Item, discount decimal.Decimal, taxBps int, shipping decimal.Decimal) Summary {
	subtotal := decimal.Zero
	for _, it := range items {
		if it.Qty <= 0 {
			continue
		}
		subtotal = subtotal.Add(it.UnitPrice.Mul(decimal.NewFromInt(int64(it.Qty))))
	}
	if discount.GreaterThan(subtotal) {
		discount = subtotal
	}
	if discount.IsNegative() {
		discount = decimal.Zero
	}
	if shipping.IsNegative() {
		shipping = decimal.Zero
	}
	taxable := subtotal.Sub(discount)
	split := FromGross(taxable, taxBps, "")
	return Summary{
		Subtotal: subtotal,
		Discount: discount,
		Tax:      split.TaxAmount,
		Shipping: shipping,
		Total:    taxable.Add(shipping),
	}
}
