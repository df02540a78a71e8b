package cart

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/noah-isme/toko-storefront/internal/pricing"
)

var (
	// ErrCartNotFound is returned when an action needs an existing cart.
	ErrCartNotFound = errors.New("cart not found")
	// ErrItemIndex is returned when an action points past the cart lines.
	ErrItemIndex = errors.New("item index out of range")
	// ErrInvalidInput is returned when an action payload is malformed.
	ErrInvalidInput = errors.New("invalid input")
)

// ActionKind enumerates the cart mutations a shopper can trigger.
type ActionKind string

const (
	ActionIncrease ActionKind = "increase"
	ActionDecrease ActionKind = "decrease"
	ActionAdd      ActionKind = "add"
	ActionRemove   ActionKind = "remove"
	ActionReset    ActionKind = "reset"
)

// Action is a single cart mutation. ItemIndex addresses Items for
// increase, decrease and remove; Input is required for add.
type Action struct {
	Kind      ActionKind
	ItemIndex int
	Input     *ItemInput
}

// Increase builds an increase action for the line at index.
func Increase(index int) Action { return Action{Kind: ActionIncrease, ItemIndex: index} }

// Decrease builds a decrease action for the line at index.
func Decrease(index int) Action { return Action{Kind: ActionDecrease, ItemIndex: index} }

// Remove builds a remove action for the line at index.
func Remove(index int) Action { return Action{Kind: ActionRemove, ItemIndex: index} }

// Add builds an add action for input.
func Add(input ItemInput) Action { return Action{Kind: ActionAdd, Input: &input} }

// Reset builds a reset action.
func Reset() Action { return Action{Kind: ActionReset} }

// Transition computes the next cart for action without touching current.
// Reset yields a nil cart. Errors are caller bugs and must not be submitted
// to the backend.
func Transition(ctx context.Context, current *Cart, action Action) (*Cart, error) {
	switch action.Kind {
	case ActionReset:
		return nil, nil
	case ActionAdd:
		if action.Input == nil {
			return nil, fmt.Errorf("add: %w", ErrInvalidInput)
		}
		if action.Input.SKU == "" {
			return nil, fmt.Errorf("add: sku required: %w", ErrInvalidInput)
		}
		if action.Input.Quantity < 0 {
			return nil, fmt.Errorf("add: negative quantity: %w", ErrInvalidInput)
		}
	case ActionIncrease, ActionDecrease, ActionRemove:
		if current == nil {
			return nil, fmt.Errorf("%s: %w", action.Kind, ErrCartNotFound)
		}
		if action.ItemIndex < 0 || action.ItemIndex >= len(current.Items) {
			return nil, fmt.Errorf("%s index %d of %d: %w", action.Kind, action.ItemIndex, len(current.Items), ErrItemIndex)
		}
	default:
		zerolog.Ctx(ctx).Warn().Str("action", string(action.Kind)).Msg("cart: unknown action ignored")
		return current.Clone(), nil
	}

	next := current.Clone()
	if next == nil {
		next = &Cart{Status: StatusCart}
	}

	switch action.Kind {
	case ActionIncrease:
		item := next.Items[action.ItemIndex]
		item.Quantity++
		item.Price = pricing.Scale(item.Variant.Price, item.Quantity)
		next.Items[action.ItemIndex] = item
		last := item.Clone()
		next.LastItemAdded = &last
	case ActionDecrease:
		item := next.Items[action.ItemIndex]
		if item.Quantity <= 1 {
			next.Items = append(next.Items[:action.ItemIndex], next.Items[action.ItemIndex+1:]...)
			break
		}
		item.Quantity--
		item.Price = pricing.Scale(item.Variant.Price, item.Quantity)
		next.Items[action.ItemIndex] = item
	case ActionAdd:
		item := provisionalItem(*action.Input)
		next.Items = append(next.Items, item)
		last := item.Clone()
		next.LastItemAdded = &last
	case ActionRemove:
		next.Items = append(next.Items[:action.ItemIndex], next.Items[action.ItemIndex+1:]...)
	}

	next.Recalculate()
	return next, nil
}

// provisionalItem builds the optimistic line for an add. It is not merged
// with an existing line of the same SKU; the backend collapses duplicates.
func provisionalItem(in ItemInput) Item {
	qty := in.Quantity
	if qty == 0 {
		qty = 1
	}
	unit := in.Price.Clone()
	compareAt := pricing.Money{
		Gross:     unit.Gross,
		Net:       unit.Net,
		TaxAmount: unit.TaxAmount,
		Currency:  unit.Currency,
	}
	item := Item{
		Name:     in.ProductName,
		Quantity: qty,
		Price:    pricing.Scale(unit, qty),
		Variant: Variant{
			SKU:            in.SKU,
			Name:           in.VariantName,
			Price:          unit,
			Product:        Product{Name: in.ProductName},
			CompareAtPrice: &compareAt,
		},
		Images: []Image{},
	}
	if in.Image != nil {
		item.Images = append(item.Images, *in.Image)
	}
	return item
}
