package pricing

import (
	"github.com/shopspring/decimal"
)

// Discount describes a reduction applied to a monetary amount.
type Discount struct {
	Percent decimal.Decimal `json:"percent"`
	Amount  decimal.Decimal `json:"amount"`
}

// Money is a monetary amount split into its gross, net and tax components.
// Gross equals Net plus TaxAmount.
type Money struct {
	Gross     decimal.Decimal `json:"gross"`
	Net       decimal.Decimal `json:"net"`
	TaxAmount decimal.Decimal `json:"taxAmount"`
	Currency  string          `json:"currency"`
	Discounts []Discount      `json:"discounts"`
}

var bpsBase = decimal.NewFromInt(10000)

// FromGross splits a tax inclusive amount into net and tax using the rate in basis points.
func FromGross(gross decimal.Decimal, taxBps int, currency string) Money {
	if taxBps <= 0 {
		return Money{Gross: gross, Net: gross, TaxAmount: decimal.Zero, Currency: currency}
	}
	divisor := bpsBase.Add(decimal.NewFromInt(int64(taxBps)))
	net := gross.Mul(bpsBase).Div(divisor).Round(2)
	return Money{
		Gross:     gross,
		Net:       net,
		TaxAmount: gross.Sub(net),
		Currency:  currency,
	}
}

// Scale multiplies the numeric components of a unit price by quantity.
// Currency and discounts pass through untouched; discount amounts are not rescaled.
func Scale(unit Money, quantity int) Money {
	q := decimal.NewFromInt(int64(quantity))
	return Money{
		Gross:     unit.Gross.Mul(q),
		Net:       unit.Net.Mul(q),
		TaxAmount: unit.TaxAmount.Mul(q),
		Currency:  unit.Currency,
		Discounts: cloneDiscounts(unit.Discounts),
	}
}

// Aggregate sums the numeric components of prices. The result keeps the
// currency and discounts of previous, so metadata of an existing total
// survives recomputation.
func Aggregate(previous Money, prices ...Money) Money {
	total := Money{
		Gross:     decimal.Zero,
		Net:       decimal.Zero,
		TaxAmount: decimal.Zero,
		Currency:  previous.Currency,
		Discounts: cloneDiscounts(previous.Discounts),
	}
	for _, p := range prices {
		total.Gross = total.Gross.Add(p.Gross)
		total.Net = total.Net.Add(p.Net)
		total.TaxAmount = total.TaxAmount.Add(p.TaxAmount)
		if total.Currency == "" {
			total.Currency = p.Currency
		}
	}
	return total
}

// Clone returns a deep copy of m.
func (m Money) Clone() Money {
	m.Discounts = cloneDiscounts(m.Discounts)
	return m
}

// IsZero reports whether every numeric component is zero.
func (m Money) IsZero() bool {
	return m.Gross.IsZero() && m.Net.IsZero() && m.TaxAmount.IsZero()
}

func cloneDiscounts(in []Discount) []Discount {
	if in == nil {
		return nil
	}
	out := make([]Discount, len(in))
	copy(out, in)
	return out
}
