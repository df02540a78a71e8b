package voucher

import (
	"errors"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

var (
	// ErrNotEligible is returned when the voucher cannot be applied to the provided cart.
	ErrNotEligible = errors.New("voucher not eligible")
	// ErrUsageLimitReached indicates the voucher has exhausted the global usage quota.
	ErrUsageLimitReached = errors.New("voucher usage limit reached")
	// ErrVoucherInactive is returned when attempting to use a voucher outside of its active window.
	ErrVoucherInactive = errors.New("voucher not active")
	// ErrVoucherExpired is returned when the voucher has already expired.
	ErrVoucherExpired = errors.New("voucher expired")
	// ErrMinimumSpendUnmet indicates the cart total did not meet the voucher requirement.
	ErrMinimumSpendUnmet = errors.New("voucher minimum spend not met")
)

// Kinds of voucher value.
const (
	KindPercent = "percent"
	KindFixed   = "fixed"
)

// Rule captures the runtime constraints of a voucher.
type Rule struct {
	Code       string
	Name       string
	Kind       string
	Value      decimal.Decimal
	PercentBps int32
	MinSpend   decimal.Decimal
	UsageLimit *int32
	UsedCount  int32
	ValidFrom  *time.Time
	ValidTo    *time.Time
	SKUs       []string
}

// Item represents a cart line considered for voucher calculation. Subtotal is gross.
type Item struct {
	SKU      string
	Subtotal decimal.Decimal
}

// Validate ensures the rule can be applied at the provided instant and cart total.
func (r Rule) Validate(now time.Time, cartTotal decimal.Decimal) error {
	if cartTotal.LessThan(r.MinSpend) {
		return ErrMinimumSpendUnmet
	}
	if r.ValidFrom != nil && now.Before(*r.ValidFrom) {
		return ErrVoucherInactive
	}
	if r.ValidTo != nil && now.After(*r.ValidTo) {
		return ErrVoucherExpired
	}
	if r.UsageLimit != nil && *r.UsageLimit >= 0 && r.UsedCount >= *r.UsageLimit {
		return ErrUsageLimitReached
	}
	return nil
}

// Applies reports whether the rule covers sku. Unscoped rules cover every line.
func (r Rule) Applies(sku string) bool {
	if len(r.SKUs) == 0 {
		return true
	}
	for _, s := range r.SKUs {
		if strings.EqualFold(s, sku) {
			return true
		}
	}
	return false
}

// EligibleSubtotal calculates the portion of the cart total that is affected by the voucher rule.
func EligibleSubtotal(items []Item, r Rule) decimal.Decimal {
	total := decimal.Zero
	for _, it := range items {
		if !it.Subtotal.IsPositive() {
			continue
		}
		if r.Applies(it.SKU) {
			total = total.Add(it.Subtotal)
		}
	}
	return total
}

// Compute determines the discount amount based on the rule and eligible subtotal.
func Compute(eligible decimal.Decimal, r Rule) decimal.Decimal {
	if !eligible.IsPositive() {
		return decimal.Zero
	}
	discount := r.Value
	if strings.EqualFold(r.Kind, KindPercent) {
		if r.PercentBps <= 0 {
			return decimal.Zero
		}
		discount = eligible.Mul(decimal.NewFromInt32(r.PercentBps)).Div(decimal.NewFromInt(10000)).Round(2)
	}
	if discount.GreaterThan(eligible) {
		discount = eligible
	}
	if discount.IsNegative() {
		return decimal.Zero
	}
	return discount
}

// Allocate spreads discount over items in proportion to their eligible
// subtotal. Ineligible lines get zero and the rounding remainder lands on
// the last eligible line, so the shares always sum to discount.
func Allocate(items []Item, r Rule, discount decimal.Decimal) []decimal.Decimal {
	shares := make([]decimal.Decimal, len(items))
	for i := range shares {
		shares[i] = decimal.Zero
	}
	eligible := EligibleSubtotal(items, r)
	if !eligible.IsPositive() || !discount.IsPositive() {
		return shares
	}
	last := -1
	allocated := decimal.Zero
	for i, it := range items {
		if !it.Subtotal.IsPositive() || !r.Applies(it.SKU) {
			continue
		}
		shares[i] = discount.Mul(it.Subtotal).Div(eligible).Round(2)
		allocated = allocated.Add(shares[i])
		last = i
	}
	if last >= 0 {
		shares[last] = shares[last].Add(discount.Sub(allocated))
	}
	return shares
}
