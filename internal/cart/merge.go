package cart

// Line is a SKU and quantity pair as submitted to the authoritative backend.
type Line struct {
	SKU      string `json:"sku" validate:"required,max=64"`
	Quantity int    `json:"quantity" validate:"gte=1,lte=999"`
}

// Merge collapses lines to one entry per SKU, summing quantities. Entries
// keep the order in which their SKU first appeared. The input is not modified.
func Merge(lines []Line) []Line {
	out := make([]Line, 0, len(lines))
	pos := make(map[string]int, len(lines))
	for _, l := range lines {
		if i, ok := pos[l.SKU]; ok {
			out[i].Quantity += l.Quantity
			continue
		}
		pos[l.SKU] = len(out)
		out = append(out, l)
	}
	return out
}

// Lines returns the merged SKU lines of c. A nil cart has no lines.
func Lines(c *Cart) []Line {
	if c == nil {
		return []Line{}
	}
	raw := make([]Line, 0, len(c.Items))
	for _, it := range c.Items {
		raw = append(raw, Line{SKU: it.Variant.SKU, Quantity: it.Quantity})
	}
	return Merge(raw)
}

// PriceContext carries pricing hints for a hydrate request.
type PriceContext struct {
	VoucherCode string   `json:"voucherCode,omitempty" validate:"omitempty,max=64"`
	Markets     []string `json:"markets,omitempty"`
}

// HydrateContext wraps the request context sent with a hydrate.
type HydrateContext struct {
	Price PriceContext `json:"price"`
}

// HydrateInput is the full desired cart state. It always carries every line,
// never a delta, so resubmitting it is safe.
type HydrateInput struct {
	ID      string         `json:"id,omitempty" validate:"omitempty,uuid"`
	Items   []Line         `json:"items" validate:"dive"`
	Context HydrateContext `json:"context"`
}

// NewHydrateInput builds the submission for c with voucher attached.
func NewHydrateInput(c *Cart, voucher string) HydrateInput {
	in := HydrateInput{Items: Lines(c)}
	if c != nil {
		in.ID = c.ID
	}
	in.Context.Price.VoucherCode = voucher
	return in
}
