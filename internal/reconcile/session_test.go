package reconcile

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/toko-storefront/internal/cart"
	"github.com/noah-isme/toko-storefront/internal/pricing"
)

type reply struct {
	cart *cart.Cart
	err  error
}

type call struct {
	in    cart.HydrateInput
	reply chan reply
}

// gatedBackend hands every hydrate to the test, which answers it explicitly.
type gatedBackend struct {
	calls chan call
	carts map[string]*cart.Cart
}

func newGatedBackend() *gatedBackend {
	return &gatedBackend{calls: make(chan call, 8), carts: map[string]*cart.Cart{}}
}

func (g *gatedBackend) Hydrate(ctx context.Context, in cart.HydrateInput) (*cart.Cart, error) {
	c := call{in: in, reply: make(chan reply, 1)}
	g.calls <- c
	select {
	case r := <-c.reply:
		return r.cart, r.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (g *gatedBackend) GetCart(_ context.Context, id string) (*cart.Cart, error) {
	c, ok := g.carts[id]
	if !ok {
		return nil, errors.New("not found")
	}
	return c.Clone(), nil
}

func (g *gatedBackend) next(t *testing.T) call {
	t.Helper()
	select {
	case c := <-g.calls:
		return c
	case <-time.After(2 * time.Second):
		t.Fatal("no hydrate submitted")
	}
	return call{}
}

// pricingBackend answers synchronously, pricing every sku at a fixed unit gross.
type pricingBackend struct {
	mu     sync.Mutex
	unit   map[string]string
	inputs []cart.HydrateInput
	err    error
}

func (p *pricingBackend) Hydrate(_ context.Context, in cart.HydrateInput) (*cart.Cart, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.inputs = append(p.inputs, in)
	if p.err != nil {
		return nil, p.err
	}
	id := in.ID
	if id == "" {
		id = "11111111-1111-4111-8111-111111111111"
	}
	lines := make([]lineSpec, 0, len(in.Items))
	for _, l := range in.Items {
		lines = append(lines, lineSpec{l.SKU, l.Quantity, p.unit[l.SKU]})
	}
	c := authCart(id, lines...)
	c.VoucherCode = in.Context.Price.VoucherCode
	return c, nil
}

func (p *pricingBackend) GetCart(context.Context, string) (*cart.Cart, error) {
	return nil, errors.New("unused")
}

type memIDs struct {
	id  string
	set int
}

func (m *memIDs) CartID() (string, bool) { return m.id, m.id != "" }
func (m *memIDs) SetCartID(id string) error {
	m.id = id
	m.set++
	return nil
}

type lineSpec struct {
	sku   string
	qty   int
	gross string
}

func unitMoney(gross string) pricing.Money {
	return pricing.FromGross(decimal.RequireFromString(gross), 0, "IDR")
}

func authCart(id string, lines ...lineSpec) *cart.Cart {
	c := &cart.Cart{ID: id, Items: []cart.Item{}, Status: cart.StatusCart, Total: pricing.Money{Currency: "IDR"}}
	for _, l := range lines {
		unit := unitMoney(l.gross)
		c.Items = append(c.Items, cart.Item{
			Name:     l.sku,
			Quantity: l.qty,
			Price:    pricing.Scale(unit, l.qty),
			Variant:  cart.Variant{SKU: l.sku, Price: unit},
		})
	}
	c.Recalculate()
	return c
}

func heater() cart.ItemInput {
	return cart.ItemInput{SKU: "HEATER-1", ProductName: "Heater", VariantName: "Default", Price: unitMoney("500")}
}

func gross(c *cart.Cart) string {
	return c.Total.Gross.String()
}

func TestSubmitRendersOptimisticThenAuthoritative(t *testing.T) {
	be := newGatedBackend()
	s := NewSession(be)
	snaps, stop := s.Subscribe()
	defer stop()

	type result struct {
		c   *cart.Cart
		err error
	}
	done := make(chan result, 1)
	go func() {
		c, err := s.Submit(context.Background(), cart.Add(heater()))
		done <- result{c, err}
	}()

	c := be.next(t)
	require.Equal(t, []cart.Line{{SKU: "HEATER-1", Quantity: 1}}, c.in.Items)

	optimistic := <-snaps
	require.True(t, optimistic.Loading)
	require.Equal(t, "500", gross(optimistic.Cart))
	require.Equal(t, "500", gross(s.Cart()))
	require.True(t, s.Loading())

	discounted := authCart("cart-1", lineSpec{"HEATER-1", 1, "450"})
	c.reply <- reply{cart: discounted}

	r := <-done
	require.NoError(t, r.err)
	require.Equal(t, "450", gross(r.c))
	require.NotNil(t, r.c.LastItemAdded)
	require.Equal(t, "HEATER-1", r.c.LastItemAdded.Variant.SKU)
	require.Equal(t, "450", gross(s.Cart()))
	require.Nil(t, s.Confirmed().LastItemAdded)
	require.False(t, s.Loading())

	final := <-snaps
	require.False(t, final.Loading)
	require.Equal(t, "450", gross(final.Cart))
}

func TestSubmitSendsFullMergedState(t *testing.T) {
	be := &pricingBackend{unit: map[string]string{"A": "50", "B": "30"}}
	s := NewSession(be)
	ctx := context.Background()

	_, err := s.Submit(ctx, cart.Add(cart.ItemInput{SKU: "A", Quantity: 2, Price: unitMoney("50")}))
	require.NoError(t, err)
	_, err = s.Submit(ctx, cart.Add(cart.ItemInput{SKU: "B", Price: unitMoney("30")}))
	require.NoError(t, err)
	c, err := s.Submit(ctx, cart.Increase(0))
	require.NoError(t, err)

	require.Len(t, be.inputs, 3)
	last := be.inputs[2]
	require.Equal(t, "11111111-1111-4111-8111-111111111111", last.ID)
	require.Equal(t, []cart.Line{{SKU: "A", Quantity: 3}, {SKU: "B", Quantity: 1}}, last.Items)
	require.Equal(t, "180", gross(c))
	require.Equal(t, "A", c.LastItemAdded.Variant.SKU)
}

func TestSubmitDuplicateAddCollapsesAuthoritatively(t *testing.T) {
	be := &pricingBackend{unit: map[string]string{"A": "50"}}
	s := NewSession(be)
	ctx := context.Background()

	_, err := s.Submit(ctx, cart.Add(cart.ItemInput{SKU: "A", Price: unitMoney("50")}))
	require.NoError(t, err)
	c, err := s.Submit(ctx, cart.Add(cart.ItemInput{SKU: "A", Price: unitMoney("50")}))
	require.NoError(t, err)

	require.Equal(t, []cart.Line{{SKU: "A", Quantity: 2}}, be.inputs[1].Items)
	require.Len(t, c.Items, 1)
	require.Equal(t, 2, c.Items[0].Quantity)
}

func TestSubmitFailureRevertsToConfirmed(t *testing.T) {
	be := &pricingBackend{unit: map[string]string{"A": "50"}}
	s := NewSession(be)
	ctx := context.Background()

	confirmed, err := s.Submit(ctx, cart.Add(cart.ItemInput{SKU: "A", Price: unitMoney("50")}))
	require.NoError(t, err)

	be.err = errors.New("out of stock")
	c, err := s.Submit(ctx, cart.Increase(0))
	require.ErrorIs(t, err, ErrBackend)
	require.ErrorContains(t, err, "out of stock")
	require.Equal(t, "50", gross(c))
	require.Equal(t, "50", gross(s.Cart()))
	require.Equal(t, confirmed.ID, s.Cart().ID)
	require.False(t, s.Loading())
}

func TestSubmitFailureOnFirstAddRendersNothing(t *testing.T) {
	be := &pricingBackend{err: errors.New("offline")}
	s := NewSession(be)

	c, err := s.Submit(context.Background(), cart.Add(heater()))
	require.ErrorIs(t, err, ErrBackend)
	require.Nil(t, c)
	require.Nil(t, s.Cart())
}

func TestSubmitValidationErrorSkipsBackend(t *testing.T) {
	be := &pricingBackend{}
	s := NewSession(be)

	_, err := s.Submit(context.Background(), cart.Increase(0))
	require.ErrorIs(t, err, cart.ErrCartNotFound)
	require.Empty(t, be.inputs)
	require.False(t, s.Loading())
}

func TestSubmitRefusesPlacedCart(t *testing.T) {
	be := newGatedBackend()
	placed := authCart("cart-1", lineSpec{"A", 1, "10"})
	placed.Status = cart.StatusPlaced
	be.carts["cart-1"] = placed
	s := NewSession(be, WithIDStore(&memIDs{id: "cart-1"}))

	_, err := s.Load(context.Background())
	require.NoError(t, err)

	_, err = s.Submit(context.Background(), cart.Increase(0))
	require.ErrorIs(t, err, ErrNotEditable)
	_, err = s.ApplyVoucher(context.Background(), "X")
	require.ErrorIs(t, err, ErrNotEditable)
}

func TestStaleResponseIsDiscarded(t *testing.T) {
	be := newGatedBackend()
	s := NewSession(be)
	ctx := context.Background()

	first := make(chan error, 1)
	go func() {
		_, err := s.Submit(ctx, cart.Add(cart.ItemInput{SKU: "A", Price: unitMoney("10")}))
		first <- err
	}()
	c1 := be.next(t)

	second := make(chan error, 1)
	go func() {
		_, err := s.Submit(ctx, cart.Add(cart.ItemInput{SKU: "B", Price: unitMoney("20")}))
		second <- err
	}()
	c2 := be.next(t)
	require.Equal(t, []cart.Line{{SKU: "A", Quantity: 1}, {SKU: "B", Quantity: 1}}, c2.in.Items)

	c2.reply <- reply{cart: authCart("cart-1", lineSpec{"A", 1, "10"}, lineSpec{"B", 1, "20"})}
	require.NoError(t, <-second)

	c1.reply <- reply{cart: authCart("cart-1", lineSpec{"A", 1, "10"})}
	require.NoError(t, <-first)

	require.Equal(t, "30", gross(s.Cart()))
	require.Equal(t, "30", gross(s.Confirmed()))
	require.Equal(t, "B", s.Cart().LastItemAdded.Variant.SKU)
}

func TestOlderResponseKeepsNewerOptimisticRender(t *testing.T) {
	be := newGatedBackend()
	s := NewSession(be)
	ctx := context.Background()

	first := make(chan error, 1)
	go func() {
		_, err := s.Submit(ctx, cart.Add(cart.ItemInput{SKU: "A", Price: unitMoney("10")}))
		first <- err
	}()
	c1 := be.next(t)
	second := make(chan error, 1)
	go func() {
		_, err := s.Submit(ctx, cart.Add(cart.ItemInput{SKU: "B", Price: unitMoney("20")}))
		second <- err
	}()
	c2 := be.next(t)

	c1.reply <- reply{cart: authCart("cart-1", lineSpec{"A", 1, "9"})}
	require.NoError(t, <-first)
	require.Equal(t, "9", gross(s.Confirmed()))
	require.Equal(t, "30", gross(s.Cart()), "newer optimistic render must survive")
	require.True(t, s.Loading())

	c2.reply <- reply{cart: authCart("cart-1", lineSpec{"A", 1, "9"}, lineSpec{"B", 1, "20"})}
	require.NoError(t, <-second)
	require.Equal(t, "29", gross(s.Cart()))
}

func TestWithoutFencingLastToLandWins(t *testing.T) {
	be := newGatedBackend()
	s := NewSession(be, WithoutFencing())
	ctx := context.Background()

	first := make(chan error, 1)
	go func() {
		_, err := s.Submit(ctx, cart.Add(cart.ItemInput{SKU: "A", Price: unitMoney("10")}))
		first <- err
	}()
	c1 := be.next(t)
	second := make(chan error, 1)
	go func() {
		_, err := s.Submit(ctx, cart.Add(cart.ItemInput{SKU: "B", Price: unitMoney("20")}))
		second <- err
	}()
	c2 := be.next(t)

	c2.reply <- reply{cart: authCart("cart-1", lineSpec{"A", 1, "10"}, lineSpec{"B", 1, "20"})}
	require.NoError(t, <-second)
	c1.reply <- reply{cart: authCart("cart-1", lineSpec{"A", 1, "10"})}
	require.NoError(t, <-first)

	require.Equal(t, "10", gross(s.Cart()))
}

func TestFailureOfOlderRequestDoesNotRevertNewer(t *testing.T) {
	be := newGatedBackend()
	s := NewSession(be)
	ctx := context.Background()

	first := make(chan error, 1)
	go func() {
		_, err := s.Submit(ctx, cart.Add(cart.ItemInput{SKU: "A", Price: unitMoney("10")}))
		first <- err
	}()
	c1 := be.next(t)
	second := make(chan error, 1)
	go func() {
		_, err := s.Submit(ctx, cart.Add(cart.ItemInput{SKU: "B", Price: unitMoney("20")}))
		second <- err
	}()
	c2 := be.next(t)

	c1.reply <- reply{err: errors.New("timeout")}
	require.ErrorIs(t, <-first, ErrBackend)
	require.Equal(t, "30", gross(s.Cart()))

	c2.reply <- reply{cart: authCart("cart-1", lineSpec{"A", 1, "10"}, lineSpec{"B", 1, "20"})}
	require.NoError(t, <-second)
	require.Equal(t, "30", gross(s.Cart()))
}

func TestLateFailureKeepsNewerLastItemAdded(t *testing.T) {
	be := newGatedBackend()
	s := NewSession(be)
	ctx := context.Background()

	first := make(chan error, 1)
	go func() {
		_, err := s.Submit(ctx, cart.Add(cart.ItemInput{SKU: "A", Price: unitMoney("10")}))
		first <- err
	}()
	c1 := be.next(t)
	second := make(chan error, 1)
	go func() {
		_, err := s.Submit(ctx, cart.Add(cart.ItemInput{SKU: "B", Price: unitMoney("20")}))
		second <- err
	}()
	c2 := be.next(t)

	c2.reply <- reply{cart: authCart("cart-1", lineSpec{"A", 1, "10"}, lineSpec{"B", 1, "20"})}
	require.NoError(t, <-second)
	require.Equal(t, "B", s.Cart().LastItemAdded.Variant.SKU)

	c1.reply <- reply{err: errors.New("timeout")}
	require.ErrorIs(t, <-first, ErrBackend)
	require.Equal(t, "30", gross(s.Cart()))
	require.NotNil(t, s.Cart().LastItemAdded)
	require.Equal(t, "B", s.Cart().LastItemAdded.Variant.SKU)
}

func TestRejectedVoucherRestoresPreviousCode(t *testing.T) {
	be := &pricingBackend{unit: map[string]string{"A": "50"}}
	s := NewSession(be)
	ctx := context.Background()

	_, err := s.Submit(ctx, cart.Add(cart.ItemInput{SKU: "A", Price: unitMoney("50")}))
	require.NoError(t, err)
	_, err = s.ApplyVoucher(ctx, "HEMAT10")
	require.NoError(t, err)

	be.err = errors.New("voucher not found")
	_, err = s.ApplyVoucher(ctx, "BOGUS")
	require.ErrorIs(t, err, ErrBackend)
	require.Equal(t, "HEMAT10", s.VoucherCode())
	require.Equal(t, "HEMAT10", s.Cart().VoucherCode)

	be.err = nil
	c, err := s.Submit(ctx, cart.Increase(0))
	require.NoError(t, err)
	require.Equal(t, "HEMAT10", be.inputs[len(be.inputs)-1].Context.Price.VoucherCode)
	require.Equal(t, "100", gross(c))
}

func TestRejectedFirstVoucherClearsCode(t *testing.T) {
	be := &pricingBackend{unit: map[string]string{"A": "50"}}
	s := NewSession(be)
	ctx := context.Background()

	_, err := s.Submit(ctx, cart.Add(cart.ItemInput{SKU: "A", Price: unitMoney("50")}))
	require.NoError(t, err)

	be.err = errors.New("voucher not found")
	_, err = s.ApplyVoucher(ctx, "BOGUS")
	require.ErrorIs(t, err, ErrBackend)
	require.Empty(t, s.VoucherCode())

	be.err = nil
	_, err = s.Submit(ctx, cart.Increase(0))
	require.NoError(t, err)
	require.Empty(t, be.inputs[len(be.inputs)-1].Context.Price.VoucherCode)
}

func TestApplyVoucherResubmitsCurrentLines(t *testing.T) {
	be := &pricingBackend{unit: map[string]string{"A": "50"}}
	s := NewSession(be)
	ctx := context.Background()

	_, err := s.Submit(ctx, cart.Add(cart.ItemInput{SKU: "A", Quantity: 2, Price: unitMoney("50")}))
	require.NoError(t, err)
	c, err := s.ApplyVoucher(ctx, "HEMAT10")
	require.NoError(t, err)

	in := be.inputs[1]
	require.Equal(t, "HEMAT10", in.Context.Price.VoucherCode)
	require.Equal(t, []cart.Line{{SKU: "A", Quantity: 2}}, in.Items)
	require.Equal(t, "HEMAT10", c.VoucherCode)

	_, err = s.Submit(ctx, cart.Increase(0))
	require.NoError(t, err)
	require.Equal(t, "HEMAT10", be.inputs[2].Context.Price.VoucherCode)
}

func TestResetSubmitsExplicitClear(t *testing.T) {
	be := &pricingBackend{unit: map[string]string{"A": "50"}}
	s := NewSession(be)
	ctx := context.Background()

	added, err := s.Submit(ctx, cart.Add(cart.ItemInput{SKU: "A", Price: unitMoney("50")}))
	require.NoError(t, err)

	c, err := s.Submit(ctx, cart.Reset())
	require.NoError(t, err)
	last := be.inputs[len(be.inputs)-1]
	require.Equal(t, added.ID, last.ID)
	require.NotNil(t, last.Items)
	require.Empty(t, last.Items)
	require.Empty(t, c.Items)
	require.Equal(t, "0", gross(c))
}

func TestResetWithoutCartSkipsBackend(t *testing.T) {
	be := &pricingBackend{}
	s := NewSession(be)

	c, err := s.Reset(context.Background())
	require.NoError(t, err)
	require.Nil(t, c)
	require.Empty(t, be.inputs)
	require.False(t, s.Loading())
}

func TestAssignedIDIsPersisted(t *testing.T) {
	be := &pricingBackend{unit: map[string]string{"A": "5"}}
	ids := &memIDs{}
	s := NewSession(be, WithIDStore(ids))
	ctx := context.Background()

	_, err := s.Submit(ctx, cart.Add(cart.ItemInput{SKU: "A", Price: unitMoney("5")}))
	require.NoError(t, err)
	_, err = s.Submit(ctx, cart.Increase(0))
	require.NoError(t, err)

	require.Equal(t, "11111111-1111-4111-8111-111111111111", ids.id)
	require.Equal(t, 1, ids.set)
}

func TestLoadSeedsFromPersistedID(t *testing.T) {
	be := newGatedBackend()
	stored := authCart("cart-9", lineSpec{"A", 2, "15"})
	stored.VoucherCode = "HEMAT"
	be.carts["cart-9"] = stored
	s := NewSession(be, WithIDStore(&memIDs{id: "cart-9"}))

	c, err := s.Load(context.Background())
	require.NoError(t, err)
	require.Equal(t, "30", gross(c))
	require.Equal(t, "30", gross(s.Cart()))
	require.Equal(t, "HEMAT", s.VoucherCode())

	empty := NewSession(be)
	c, err = empty.Load(context.Background())
	require.NoError(t, err)
	require.Nil(t, c)

	missing := NewSession(be, WithIDStore(&memIDs{id: "gone"}))
	_, err = missing.Load(context.Background())
	require.ErrorIs(t, err, ErrBackend)
}

func TestForgetDropsCartAndDiscardsInFlight(t *testing.T) {
	be := newGatedBackend()
	ids := &memIDs{id: "cart-1"}
	s := NewSession(be, WithIDStore(ids))
	ctx := context.Background()

	done := make(chan error, 1)
	go func() {
		_, err := s.Submit(ctx, cart.Add(cart.ItemInput{SKU: "A", Price: unitMoney("10")}))
		done <- err
	}()
	c := be.next(t)

	require.NoError(t, s.Forget())
	require.Nil(t, s.Cart())
	require.Empty(t, ids.id)

	c.reply <- reply{cart: authCart("cart-1", lineSpec{"A", 1, "10"})}
	require.NoError(t, <-done)
	require.Nil(t, s.Cart())
	require.Nil(t, s.Confirmed())
}
