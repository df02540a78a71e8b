package payment

import (
	"errors"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/noah-isme/toko-storefront/internal/cart"
	"github.com/noah-isme/toko-storefront/internal/pricing"
)

// ErrEmptyCart is returned when an order is requested for a cart without lines.
var ErrEmptyCart = errors.New("payment: cart has no lines")

// orderNamespace seeds deterministic order ids derived from cart revisions.
var orderNamespace = uuid.MustParse("5b0e6f0a-3c1d-4b7e-9a53-2f4c8d1e6a90")

// OrderLine is one purchased variant in an order payload.
type OrderLine struct {
	SKU       string          `json:"sku"`
	Name      string          `json:"name"`
	Variant   string          `json:"variant,omitempty"`
	Quantity  int             `json:"quantity"`
	UnitGross decimal.Decimal `json:"unitGross"`
	LineGross decimal.Decimal `json:"lineGross"`
	Discount  decimal.Decimal `json:"discount"`
}

// OrderPayload is what the payment integration needs to open an order for a cart.
type OrderPayload struct {
	OrderID     string          `json:"orderId"`
	CartID      string          `json:"cartId"`
	Currency    string          `json:"currency"`
	VoucherCode string          `json:"voucherCode,omitempty"`
	Lines       []OrderLine     `json:"lines"`
	Summary     pricing.Summary `json:"summary"`
}

// OrderIDFor derives the order id for the current revision of c. The same
// revision always maps to the same order.
func OrderIDFor(c *cart.Cart) string {
	return uuid.NewSHA1(orderNamespace, []byte(c.ID+"@"+c.UpdatedAt.UTC().Format("20060102T150405.000000000"))).String()
}

// OrderIntent maps a cart to the payload submitted to the payment provider.
// Line discounts come from the voucher allocation recorded on each line.
func OrderIntent(c *cart.Cart, taxBps int) (OrderPayload, error) {
	if c == nil || len(c.Items) == 0 {
		return OrderPayload{}, ErrEmptyCart
	}
	payload := OrderPayload{
		OrderID:     OrderIDFor(c),
		CartID:      c.ID,
		Currency:    c.Total.Currency,
		VoucherCode: c.VoucherCode,
		Lines:       make([]OrderLine, 0, len(c.Items)),
	}
	items := make([]pricing.Item, 0, len(c.Items))
	discount := decimal.Zero
	for _, it := range c.Items {
		line := OrderLine{
			SKU:       it.Variant.SKU,
			Name:      it.Name,
			Variant:   it.Variant.Name,
			Quantity:  it.Quantity,
			UnitGross: it.Variant.Price.Gross,
			LineGross: it.Price.Gross,
			Discount:  decimal.Zero,
		}
		for _, d := range it.Price.Discounts {
			line.Discount = line.Discount.Add(d.Amount)
		}
		discount = discount.Add(line.Discount)
		payload.Lines = append(payload.Lines, line)
		items = append(items, pricing.Item{Qty: it.Quantity, UnitPrice: it.Variant.Price.Gross})
	}
	payload.Summary = pricing.Compute(items, discount, taxBps, decimal.Zero)
	return payload, nil
}
