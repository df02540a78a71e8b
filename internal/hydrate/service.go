package hydrate

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	validator "github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"golang.org/x/sync/singleflight"

	"github.com/noah-isme/toko-storefront/internal/cart"
	"github.com/noah-isme/toko-storefront/internal/catalog"
	"github.com/noah-isme/toko-storefront/internal/events"
	"github.com/noah-isme/toko-storefront/internal/lock"
	"github.com/noah-isme/toko-storefront/internal/obs"
	"github.com/noah-isme/toko-storefront/internal/pricing"
	"github.com/noah-isme/toko-storefront/internal/voucher"
)

var (
	// ErrNotFound indicates the requested cart could not be located.
	ErrNotFound = errors.New("cart not found")
	// ErrInvalidInput is returned when the hydrate payload is invalid.
	ErrInvalidInput = errors.New("invalid input")
	// ErrNotEditable is returned when lines change on a cart that left the editable state.
	ErrNotEditable = errors.New("cart is not editable")
	// ErrEmptyCart is returned when placing a cart without lines.
	ErrEmptyCart = errors.New("cart is empty")
	// ErrNotPlaced is returned when fulfilling a cart that was never placed.
	ErrNotPlaced = errors.New("cart is not placed")
	// ErrAlreadyOrdered is returned when a cart is fulfilled twice with different orders.
	ErrAlreadyOrdered = errors.New("cart already ordered")
	// ErrUnknownSKU is returned when a line references a variant that does not exist.
	ErrUnknownSKU = errors.New("unknown sku")
	// ErrOutOfStock is returned when a line asks for more units than are available.
	ErrOutOfStock = errors.New("insufficient stock")
	// ErrVoucherRejected wraps voucher rule failures.
	ErrVoucherRejected = errors.New("voucher rejected")
)

const maxLineQuantity = 999

// LineError reports which lines failed availability checks.
type LineError struct {
	Err   error
	Lines []LineIssue
}

// LineIssue describes one unavailable line.
type LineIssue struct {
	SKU       string `json:"sku"`
	Requested int    `json:"requested"`
	Available int    `json:"available"`
}

func (e *LineError) Error() string {
	skus := make([]string, 0, len(e.Lines))
	for _, l := range e.Lines {
		skus = append(skus, l.SKU)
	}
	return fmt.Sprintf("%v: %s", e.Err, strings.Join(skus, ", "))
}

func (e *LineError) Unwrap() error { return e.Err }

// Locker serialises writes of one cart.
type Locker interface {
	WithLock(ctx context.Context, key string, ttl time.Duration, fn func(context.Context) error) error
}

// AbandonScheduler arranges a later abandonment check for a cart revision.
type AbandonScheduler interface {
	ScheduleAbandon(ctx context.Context, cartID string, seenAt time.Time) error
}

// EventEmitter publishes cart lifecycle events.
type EventEmitter interface {
	Emit(ctx context.Context, topic, aggregateID string, payload any) (events.Event, error)
}

// Service is the authoritative cart backend. It prices lines against the
// catalog, applies vouchers and owns the cart lifecycle.
type Service struct {
	Store     Store
	Catalog   catalog.Source
	Vouchers  voucher.Source
	Redeemer  voucher.Redeemer
	Locker    Locker
	LockTTL   time.Duration
	Scheduler AbandonScheduler
	Events    EventEmitter
	TaxBps    int
	Currency  string
	Now       func() time.Time
	NewID     func() string

	validateOnce sync.Once
	validate     *validator.Validate
	reads        singleflight.Group
}

func (s *Service) now() time.Time {
	if s != nil && s.Now != nil {
		return s.Now().UTC()
	}
	return time.Now().UTC()
}

func (s *Service) newID() string {
	if s.NewID != nil {
		return s.NewID()
	}
	return uuid.NewString()
}

func (s *Service) currency() string {
	if s.Currency == "" {
		return "IDR"
	}
	return s.Currency
}

func (s *Service) validation() *validator.Validate {
	s.validateOnce.Do(func() {
		s.validate = validator.New(validator.WithRequiredStructEnabled())
	})
	return s.validate
}

func (s *Service) withLock(ctx context.Context, id string, fn func(context.Context) error) error {
	if s.Locker == nil {
		return fn(ctx)
	}
	ttl := s.LockTTL
	if ttl <= 0 {
		ttl = 10 * time.Second
	}
	return s.Locker.WithLock(ctx, lock.CartKey(id), ttl, fn)
}

// Hydrate replaces the cart's lines with in and returns the repriced cart.
// A missing id creates a cart. Submitting the same input twice yields the
// same cart.
func (s *Service) Hydrate(ctx context.Context, in cart.HydrateInput) (*cart.Cart, error) {
	if s == nil || s.Store == nil || s.Catalog == nil {
		return nil, errors.New("hydrate service not configured")
	}
	ctx, span := otel.Tracer("hydrate.Service").Start(ctx, "Service.Hydrate")
	defer span.End()
	started := time.Now()

	result, err := s.hydrate(ctx, in)
	if obs.CartHydrateLatency != nil {
		obs.CartHydrateLatency.Observe(obs.DurationMillis(time.Since(started)))
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		obs.Count(obs.CartHydrateTotal, hydrateOutcome(err))
		return nil, err
	}
	span.SetAttributes(
		attribute.String("cart.id", result.ID),
		attribute.Int("cart.lines", len(result.Items)),
	)
	obs.Count(obs.CartHydrateTotal, "ok")
	return result, nil
}

func (s *Service) hydrate(ctx context.Context, in cart.HydrateInput) (*cart.Cart, error) {
	if in.Items == nil {
		in.Items = []cart.Line{}
	}
	in.Context.Price.VoucherCode = strings.TrimSpace(in.Context.Price.VoucherCode)
	if err := s.validation().Struct(in); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}
	lines := cart.Merge(in.Items)
	for _, l := range lines {
		if l.Quantity > maxLineQuantity {
			return nil, fmt.Errorf("%w: quantity of %s exceeds %d", ErrInvalidInput, l.SKU, maxLineQuantity)
		}
	}

	id := in.ID
	create := id == ""
	if create {
		id = s.newID()
	}

	var result *cart.Cart
	err := s.withLock(ctx, id, func(ctx context.Context) error {
		var prev *cart.Cart
		if !create {
			rec, err := s.Store.Get(ctx, id)
			if err != nil {
				return err
			}
			if !rec.Cart.Status.Editable() {
				return fmt.Errorf("%s is %s: %w", id, rec.Cart.Status, ErrNotEditable)
			}
			prev = rec.Cart
		}
		next, err := s.price(ctx, id, lines, in.Context.Price.VoucherCode)
		if err != nil {
			return err
		}
		if prev != nil && sameContents(prev, next) {
			result = prev
			return nil
		}
		next.UpdatedAt = s.now()
		if err := s.Store.Put(ctx, Record{Cart: next}); err != nil {
			return err
		}
		result = next
		return nil
	})
	if err != nil {
		return nil, err
	}

	if s.Scheduler != nil {
		if err := s.Scheduler.ScheduleAbandon(ctx, result.ID, result.UpdatedAt); err != nil {
			zerolog.Ctx(ctx).Warn().Err(err).Str("cart_id", result.ID).Msg("schedule abandonment failed")
		}
	}
	return result, nil
}

// price builds the authoritative cart for lines from current catalog data.
func (s *Service) price(ctx context.Context, id string, lines []cart.Line, code string) (*cart.Cart, error) {
	skus := make([]string, 0, len(lines))
	for _, l := range lines {
		skus = append(skus, l.SKU)
	}
	variants, err := s.Catalog.Variants(ctx, skus)
	if err != nil {
		return nil, fmt.Errorf("load variants: %w", err)
	}

	var unknown, short []LineIssue
	for _, l := range lines {
		v, ok := variants[l.SKU]
		switch {
		case !ok:
			unknown = append(unknown, LineIssue{SKU: l.SKU, Requested: l.Quantity})
		case v.Stock < l.Quantity:
			short = append(short, LineIssue{SKU: l.SKU, Requested: l.Quantity, Available: v.Stock})
		}
	}
	if len(unknown) > 0 {
		return nil, &LineError{Err: ErrUnknownSKU, Lines: unknown}
	}
	if len(short) > 0 {
		return nil, &LineError{Err: ErrOutOfStock, Lines: short}
	}

	currency := s.currency()
	c := &cart.Cart{
		ID:                id,
		Items:             make([]cart.Item, 0, len(lines)),
		Total:             pricing.Money{Currency: currency},
		AppliedPromotions: []cart.Promotion{},
		Status:            cart.StatusCart,
		VoucherCode:       code,
	}
	for _, l := range lines {
		v := variants[l.SKU]
		unit := pricing.FromGross(v.UnitGross, s.TaxBps, currency)
		var compareAt *pricing.Money
		if v.CompareAtGross != nil {
			m := pricing.FromGross(*v.CompareAtGross, s.TaxBps, currency)
			compareAt = &m
		}
		item := cart.Item{
			Name:     v.ProductName,
			Quantity: l.Quantity,
			Price:    pricing.Scale(unit, l.Quantity),
			Variant: cart.Variant{
				SKU:            v.SKU,
				Name:           v.Name,
				Price:          unit,
				Product:        cart.Product{Name: v.ProductName},
				CompareAtPrice: compareAt,
			},
			Images: []cart.Image{},
		}
		if v.ImageURL != "" {
			item.Images = append(item.Images, cart.Image{URL: v.ImageURL, Alt: v.ProductName})
		}
		c.Items = append(c.Items, item)
	}

	if code != "" && len(c.Items) > 0 {
		if err := s.applyVoucher(ctx, c, code); err != nil {
			return nil, err
		}
	}
	c.Recalculate()
	return c, nil
}

func (s *Service) applyVoucher(ctx context.Context, c *cart.Cart, code string) error {
	if s.Vouchers == nil {
		return fmt.Errorf("%w: vouchers unavailable", ErrVoucherRejected)
	}
	rule, err := s.Vouchers.Lookup(ctx, code)
	if err != nil {
		if errors.Is(err, voucher.ErrNotEligible) {
			return fmt.Errorf("%w: %w", ErrVoucherRejected, err)
		}
		return fmt.Errorf("lookup voucher: %w", err)
	}

	items := make([]voucher.Item, len(c.Items))
	subtotal := decimal.Zero
	for i, it := range c.Items {
		items[i] = voucher.Item{SKU: it.Variant.SKU, Subtotal: it.Price.Gross}
		subtotal = subtotal.Add(it.Price.Gross)
	}
	if err := rule.Validate(s.now(), subtotal); err != nil {
		return fmt.Errorf("%w: %w", ErrVoucherRejected, err)
	}
	discount := voucher.Compute(voucher.EligibleSubtotal(items, rule), rule)
	if !discount.IsPositive() {
		return fmt.Errorf("%w: %w", ErrVoucherRejected, voucher.ErrNotEligible)
	}

	hundred := decimal.NewFromInt(100)
	for i, share := range voucher.Allocate(items, rule, discount) {
		if !share.IsPositive() {
			continue
		}
		line := c.Items[i].Price
		discounted := pricing.FromGross(line.Gross.Sub(share), s.TaxBps, line.Currency)
		discounted.Discounts = []pricing.Discount{{
			Percent: share.Mul(hundred).Div(line.Gross).Round(2),
			Amount:  share,
		}}
		c.Items[i].Price = discounted
	}
	c.Total.Discounts = []pricing.Discount{{
		Percent: discount.Mul(hundred).Div(subtotal).Round(2),
		Amount:  discount,
	}}
	name := rule.Name
	if name == "" {
		name = rule.Code
	}
	c.AppliedPromotions = append(c.AppliedPromotions, cart.Promotion{
		Code:   rule.Code,
		Name:   name,
		Amount: pricing.FromGross(discount, s.TaxBps, s.currency()),
	})
	return nil
}

// GetCart loads a cart. Concurrent reads of the same id share one lookup.
func (s *Service) GetCart(ctx context.Context, id string) (*cart.Cart, error) {
	if s == nil || s.Store == nil {
		return nil, errors.New("hydrate service not configured")
	}
	if strings.TrimSpace(id) == "" {
		return nil, ErrNotFound
	}
	v, err, _ := s.reads.Do(id, func() (any, error) {
		rec, err := s.Store.Get(ctx, id)
		if err != nil {
			return nil, err
		}
		return rec.Cart, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*cart.Cart).Clone(), nil
}

// Place freezes an editable cart for checkout after repricing it. Placing
// an already placed cart returns it unchanged.
func (s *Service) Place(ctx context.Context, id string) (*cart.Cart, error) {
	var result *cart.Cart
	changed := false
	err := s.withLock(ctx, id, func(ctx context.Context) error {
		rec, err := s.Store.Get(ctx, id)
		if err != nil {
			return err
		}
		switch rec.Cart.Status {
		case cart.StatusPlaced:
			result = rec.Cart
			return nil
		case cart.StatusCart, "":
		default:
			return fmt.Errorf("place %s cart: %w", rec.Cart.Status, ErrNotEditable)
		}
		if len(rec.Cart.Items) == 0 {
			return ErrEmptyCart
		}
		next, err := s.price(ctx, id, cart.Lines(rec.Cart), rec.Cart.VoucherCode)
		if err != nil {
			return err
		}
		next.Status = cart.StatusPlaced
		next.UpdatedAt = s.now()
		if err := s.Store.Put(ctx, Record{Cart: next}); err != nil {
			return err
		}
		result = next
		changed = true
		return nil
	})
	if err != nil {
		obs.Count(obs.CartLifecycleTotal, "place", "error")
		return nil, err
	}
	if changed {
		obs.Count(obs.CartLifecycleTotal, "place", "ok")
		s.emit(ctx, events.TopicCartPlaced, result, map[string]any{
			"total":    result.Total.Gross,
			"currency": result.Total.Currency,
			"lines":    len(result.Items),
		})
	}
	return result, nil
}

// Fulfill associates a placed cart with the order created for it. Repeating
// the call with the same order id is a no-op.
func (s *Service) Fulfill(ctx context.Context, id, orderID string) (*cart.Cart, error) {
	if strings.TrimSpace(orderID) == "" {
		return nil, fmt.Errorf("%w: order id required", ErrInvalidInput)
	}
	var (
		result  *cart.Cart
		changed bool
	)
	err := s.withLock(ctx, id, func(ctx context.Context) error {
		rec, err := s.Store.Get(ctx, id)
		if err != nil {
			return err
		}
		switch rec.Cart.Status {
		case cart.StatusOrdered:
			if rec.OrderID != orderID {
				return fmt.Errorf("%s has order %s: %w", id, rec.OrderID, ErrAlreadyOrdered)
			}
			result = rec.Cart
			return nil
		case cart.StatusPlaced:
		default:
			return fmt.Errorf("fulfill %s: %w", id, ErrNotPlaced)
		}
		rec.Cart.Status = cart.StatusOrdered
		rec.Cart.UpdatedAt = s.now()
		rec.OrderID = orderID
		if err := s.Store.Put(ctx, rec); err != nil {
			return err
		}
		result = rec.Cart
		changed = true
		return nil
	})
	if err != nil {
		obs.Count(obs.CartLifecycleTotal, "fulfill", "error")
		return nil, err
	}
	if changed {
		obs.Count(obs.CartLifecycleTotal, "fulfill", "ok")
		if result.VoucherCode != "" && s.Redeemer != nil {
			if err := s.Redeemer.Redeem(ctx, result.VoucherCode); err != nil {
				zerolog.Ctx(ctx).Warn().Err(err).Str("cart_id", id).Str("voucher", result.VoucherCode).Msg("redeem voucher failed")
			}
		}
		s.emit(ctx, events.TopicCartFulfilled, result, map[string]any{"orderId": orderID})
	}
	return result, nil
}

// Reopen returns a placed cart to the editable state, typically after a
// failed or expired payment.
func (s *Service) Reopen(ctx context.Context, id string) (*cart.Cart, error) {
	var (
		result  *cart.Cart
		changed bool
	)
	err := s.withLock(ctx, id, func(ctx context.Context) error {
		rec, err := s.Store.Get(ctx, id)
		if err != nil {
			return err
		}
		switch rec.Cart.Status {
		case cart.StatusCart, "":
			result = rec.Cart
			return nil
		case cart.StatusPlaced:
		default:
			return fmt.Errorf("reopen %s cart: %w", rec.Cart.Status, ErrNotEditable)
		}
		rec.Cart.Status = cart.StatusCart
		rec.Cart.UpdatedAt = s.now()
		if err := s.Store.Put(ctx, rec); err != nil {
			return err
		}
		result = rec.Cart
		changed = true
		return nil
	})
	if err != nil {
		obs.Count(obs.CartLifecycleTotal, "reopen", "error")
		return nil, err
	}
	if changed {
		obs.Count(obs.CartLifecycleTotal, "reopen", "ok")
		s.emit(ctx, events.TopicCartReopened, result, nil)
		if s.Scheduler != nil {
			if err := s.Scheduler.ScheduleAbandon(ctx, result.ID, result.UpdatedAt); err != nil {
				zerolog.Ctx(ctx).Warn().Err(err).Str("cart_id", result.ID).Msg("schedule abandonment failed")
			}
		}
	}
	return result, nil
}

// Abandon marks an editable cart abandoned when it has not changed since
// seenAt. Missing, newer or non-editable carts are left alone.
func (s *Service) Abandon(ctx context.Context, id string, seenAt time.Time) error {
	var abandoned *cart.Cart
	err := s.withLock(ctx, id, func(ctx context.Context) error {
		rec, err := s.Store.Get(ctx, id)
		if err != nil {
			if errors.Is(err, ErrNotFound) {
				return nil
			}
			return err
		}
		if !rec.Cart.Status.Editable() || rec.Cart.UpdatedAt.After(seenAt) {
			return nil
		}
		rec.Cart.Status = cart.StatusAbandoned
		rec.Cart.UpdatedAt = s.now()
		if err := s.Store.Put(ctx, rec); err != nil {
			return err
		}
		abandoned = rec.Cart
		return nil
	})
	if err != nil {
		obs.Count(obs.CartLifecycleTotal, "abandon", "error")
		return err
	}
	if abandoned != nil {
		obs.Count(obs.CartLifecycleTotal, "abandon", "ok")
		s.emit(ctx, events.TopicCartAbandoned, abandoned, map[string]any{"lines": len(abandoned.Items)})
	}
	return nil
}

func (s *Service) emit(ctx context.Context, topic string, c *cart.Cart, payload map[string]any) {
	if s.Events == nil || c == nil {
		return
	}
	if _, err := s.Events.Emit(ctx, topic, c.ID, payload); err != nil {
		zerolog.Ctx(ctx).Warn().Err(err).Str("topic", topic).Str("cart_id", c.ID).Msg("emit cart event failed")
	}
}

// sameContents reports whether two carts differ only in their timestamp.
func sameContents(a, b *cart.Cart) bool {
	ac, bc := *a, *b
	ac.UpdatedAt, bc.UpdatedAt = time.Time{}, time.Time{}
	ab, err := json.Marshal(ac)
	if err != nil {
		return false
	}
	bb, err := json.Marshal(bc)
	if err != nil {
		return false
	}
	return bytes.Equal(ab, bb)
}

func hydrateOutcome(err error) string {
	switch {
	case errors.Is(err, ErrInvalidInput):
		return "invalid"
	case errors.Is(err, ErrNotFound):
		return "not_found"
	case errors.Is(err, ErrNotEditable):
		return "not_editable"
	case errors.Is(err, ErrUnknownSKU), errors.Is(err, ErrOutOfStock):
		return "unavailable"
	case errors.Is(err, ErrVoucherRejected):
		return "voucher_rejected"
	case errors.Is(err, lock.ErrNotAcquired):
		return "busy"
	default:
		return "error"
	}
}
