package voucher

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
)

func dec(v string) decimal.Decimal {
	return decimal.RequireFromString(v)
}

func TestComputePercent(t *testing.T) {
	rule := Rule{Kind: KindPercent, PercentBps: 2000}
	discount := Compute(dec("100000"), rule)
	if !discount.Equal(dec("20000")) {
		t.Fatalf("expected 20000 discount, got %s", discount)
	}
}

func TestComputeFixedCappedAtEligible(t *testing.T) {
	rule := Rule{Kind: KindFixed, Value: dec("75")}
	if got := Compute(dec("50"), rule); !got.Equal(dec("50")) {
		t.Fatalf("expected discount capped at 50, got %s", got)
	}
	if got := Compute(decimal.Zero, rule); !got.IsZero() {
		t.Fatalf("expected zero discount for empty subtotal, got %s", got)
	}
}

func TestEligibleSubtotalScoped(t *testing.T) {
	rule := Rule{SKUs: []string{"HEATER-1"}}
	items := []Item{
		{SKU: "HEATER-1", Subtotal: dec("50000")},
		{SKU: "MUG-1", Subtotal: dec("70000")},
	}
	eligible := EligibleSubtotal(items, rule)
	if !eligible.Equal(dec("50000")) {
		t.Fatalf("expected eligible subtotal 50000, got %s", eligible)
	}
}

func TestValidate(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	before := now.Add(-time.Hour)
	after := now.Add(time.Hour)
	limit := int32(5)

	cases := []struct {
		name string
		rule Rule
		want error
	}{
		{"ok", Rule{MinSpend: dec("10"), ValidFrom: &before, ValidTo: &after}, nil},
		{"min spend", Rule{MinSpend: dec("1000")}, ErrMinimumSpendUnmet},
		{"not started", Rule{ValidFrom: &after}, ErrVoucherInactive},
		{"expired", Rule{ValidTo: &before}, ErrVoucherExpired},
		{"exhausted", Rule{UsageLimit: &limit, UsedCount: 5}, ErrUsageLimitReached},
	}
	for _, tc := range cases {
		if err := tc.rule.Validate(now, dec("100")); err != tc.want {
			t.Fatalf("%s: expected %v, got %v", tc.name, tc.want, err)
		}
	}
}

func TestAllocateSumsToDiscount(t *testing.T) {
	rule := Rule{SKUs: []string{"A", "C"}}
	items := []Item{
		{SKU: "A", Subtotal: dec("100")},
		{SKU: "B", Subtotal: dec("80")},
		{SKU: "C", Subtotal: dec("200")},
	}
	shares := Allocate(items, rule, dec("10"))
	if !shares[1].IsZero() {
		t.Fatalf("expected ineligible line to get nothing, got %s", shares[1])
	}
	if !shares[0].Equal(dec("3.33")) {
		t.Fatalf("expected 3.33 on first line, got %s", shares[0])
	}
	sum := shares[0].Add(shares[1]).Add(shares[2])
	if !sum.Equal(dec("10")) {
		t.Fatalf("expected shares to sum to 10, got %s", sum)
	}
}
