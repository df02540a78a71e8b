package pricing

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

func d(v string) decimal.Decimal {
	return decimal.RequireFromString(v)
}

func TestScaleMultipliesNumericComponents(t *testing.T) {
	unit := Money{
		Gross:     d("100"),
		Net:       d("90.91"),
		TaxAmount: d("9.09"),
		Currency:  "IDR",
		Discounts: []Discount{{Percent: d("10"), Amount: d("10")}},
	}
	line := Scale(unit, 3)

	require.True(t, line.Gross.Equal(d("300")))
	require.True(t, line.Net.Equal(d("272.73")))
	require.True(t, line.TaxAmount.Equal(d("27.27")))
	require.Equal(t, "IDR", line.Currency)
	require.Len(t, line.Discounts, 1)
	require.True(t, line.Discounts[0].Amount.Equal(d("10")), "discount amounts are not rescaled")

	line.Discounts[0].Amount = d("99")
	require.True(t, unit.Discounts[0].Amount.Equal(d("10")), "scale must not alias the unit discounts")
}

func TestAggregateKeepsPreviousMetadata(t *testing.T) {
	prev := Money{Gross: d("999"), Currency: "IDR", Discounts: []Discount{{Amount: d("5")}}}
	total := Aggregate(prev,
		Money{Gross: d("100"), Net: d("90"), TaxAmount: d("10")},
		Money{Gross: d("30"), Net: d("27"), TaxAmount: d("3")},
	)
	require.True(t, total.Gross.Equal(d("130")))
	require.True(t, total.Net.Equal(d("117")))
	require.True(t, total.TaxAmount.Equal(d("13")))
	require.Equal(t, "IDR", total.Currency)
	require.Len(t, total.Discounts, 1)
}

func TestAggregateEmptyIsZero(t *testing.T) {
	total := Aggregate(Money{Currency: "USD"})
	require.True(t, total.IsZero())
	require.Equal(t, "USD", total.Currency)
}

func TestFromGrossSplitsTax(t *testing.T) {
	m := FromGross(d("111"), 1100, "IDR")
	require.True(t, m.Net.Equal(d("100")))
	require.True(t, m.TaxAmount.Equal(d("11")))
	require.True(t, m.Net.Add(m.TaxAmount).Equal(m.Gross))

	untaxed := FromGross(d("50"), 0, "IDR")
	require.True(t, untaxed.Net.Equal(d("50")))
	require.True(t, untaxed.TaxAmount.IsZero())
}

func TestComputeClampsDiscount(t *testing.T) {
	items := []Item{{Qty: 2, UnitPrice: d("50")}, {Qty: 0, UnitPrice: d("1000")}}
	summary := Compute(items, d("500"), 0, d("10"))
	require.True(t, summary.Subtotal.Equal(d("100")))
	require.True(t, summary.Discount.Equal(d("100")))
	require.True(t, summary.Total.Equal(d("10")))
}
