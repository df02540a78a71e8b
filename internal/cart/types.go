package cart

import (
	"time"

	"github.com/noah-isme/toko-storefront/internal/pricing"
)

// Status is the lifecycle state of a cart.
type Status string

const (
	StatusCart      Status = "cart"
	StatusPlaced    Status = "placed"
	StatusOrdered   Status = "ordered"
	StatusAbandoned Status = "abandoned"
)

// Editable reports whether line items may still change. An empty status is
// treated as a fresh cart.
func (s Status) Editable() bool {
	return s == "" || s == StatusCart
}

// Final reports whether the cart can never become editable again.
func (s Status) Final() bool {
	return s == StatusOrdered || s == StatusAbandoned
}

// Image references a product image shown next to a line.
type Image struct {
	URL string `json:"url"`
	Alt string `json:"alt,omitempty"`
}

// Product is the parent product of a variant.
type Product struct {
	Name string `json:"name"`
}

// Variant is the purchasable unit identified by SKU. Price is the unit price.
type Variant struct {
	SKU            string         `json:"sku"`
	Name           string         `json:"name"`
	Price          pricing.Money  `json:"price"`
	Product        Product        `json:"product"`
	CompareAtPrice *pricing.Money `json:"compareAtPrice,omitempty"`
}

// Item is a cart line. Price is always the variant unit price scaled by Quantity.
type Item struct {
	Name     string        `json:"name"`
	Quantity int           `json:"quantity"`
	Price    pricing.Money `json:"price"`
	Variant  Variant       `json:"variant"`
	Images   []Image       `json:"images"`
}

// Promotion is a voucher or automatic promotion applied by the backend.
type Promotion struct {
	Code   string        `json:"code"`
	Name   string        `json:"name"`
	Amount pricing.Money `json:"amount"`
}

// Cart is the shopper's pre-checkout collection of lines. ID stays empty
// until the authoritative backend assigns one.
type Cart struct {
	ID                string        `json:"id,omitempty"`
	Items             []Item        `json:"items"`
	Total             pricing.Money `json:"total"`
	AppliedPromotions []Promotion   `json:"appliedPromotions"`
	LastItemAdded     *Item         `json:"lastItemAdded,omitempty"`
	Status            Status        `json:"status,omitempty"`
	VoucherCode       string        `json:"voucherCode,omitempty"`
	UpdatedAt         time.Time     `json:"updatedAt,omitempty"`
}

// ItemInput carries what the storefront already knows about a variant when
// the shopper adds it. Price is the unit price.
type ItemInput struct {
	SKU         string        `json:"sku"`
	VariantName string        `json:"variantName"`
	ProductName string        `json:"productName"`
	Quantity    int           `json:"quantity,omitempty"`
	Image       *Image        `json:"image,omitempty"`
	Price       pricing.Money `json:"price"`
}

// Clone returns a deep copy of the item.
func (it Item) Clone() Item {
	out := it
	out.Price = it.Price.Clone()
	out.Variant.Price = it.Variant.Price.Clone()
	if it.Variant.CompareAtPrice != nil {
		cp := it.Variant.CompareAtPrice.Clone()
		out.Variant.CompareAtPrice = &cp
	}
	if it.Images != nil {
		out.Images = make([]Image, len(it.Images))
		copy(out.Images, it.Images)
	}
	return out
}

// Clone returns a deep copy of the cart. A nil cart clones to nil.
func (c *Cart) Clone() *Cart {
	if c == nil {
		return nil
	}
	out := *c
	if c.Items != nil {
		out.Items = make([]Item, len(c.Items))
		for i, it := range c.Items {
			out.Items[i] = it.Clone()
		}
	}
	out.Total = c.Total.Clone()
	if c.AppliedPromotions != nil {
		out.AppliedPromotions = make([]Promotion, len(c.AppliedPromotions))
		for i, p := range c.AppliedPromotions {
			p.Amount = p.Amount.Clone()
			out.AppliedPromotions[i] = p
		}
	}
	if c.LastItemAdded != nil {
		last := c.LastItemAdded.Clone()
		out.LastItemAdded = &last
	}
	return &out
}

// Recalculate recomputes the cart total from its line prices, keeping the
// currency and discounts of the previous total.
func (c *Cart) Recalculate() {
	if c == nil {
		return
	}
	prices := make([]pricing.Money, 0, len(c.Items))
	for _, it := range c.Items {
		prices = append(prices, it.Price)
	}
	c.Total = pricing.Aggregate(c.Total, prices...)
}

// Quantity returns the number of units across all lines.
func (c *Cart) Quantity() int {
	if c == nil {
		return 0
	}
	n := 0
	for _, it := range c.Items {
		n += it.Quantity
	}
	return n
}
