package reconcile

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/rs/zerolog"

	"github.com/noah-isme/toko-storefront/internal/cart"
	"github.com/noah-isme/toko-storefront/internal/obs"
)

var (
	// ErrBackend wraps failures of the authoritative backend. The session has
	// already reverted to the last confirmed cart when it is returned.
	ErrBackend = errors.New("cart backend failed")
	// ErrNotEditable is returned when the rendered cart has left the editable state.
	ErrNotEditable = errors.New("cart is not editable")
)

// Backend is the authoritative cart system of record.
type Backend interface {
	Hydrate(ctx context.Context, in cart.HydrateInput) (*cart.Cart, error)
	GetCart(ctx context.Context, id string) (*cart.Cart, error)
}

// IDStore persists the identity of the shopper's cart between sessions.
type IDStore interface {
	CartID() (string, bool)
	SetCartID(id string) error
}

// Snapshot is what subscribers render.
type Snapshot struct {
	Cart    *cart.Cart
	Loading bool
	Seq     uint64
}

// Option configures a Session.
type Option func(*Session)

// WithIDStore persists backend assigned cart ids through ids.
func WithIDStore(ids IDStore) Option {
	return func(s *Session) { s.ids = ids }
}

// WithLogger sets the logger used when a context carries none.
func WithLogger(l zerolog.Logger) Option {
	return func(s *Session) { s.logger = l }
}

// WithoutFencing lets whichever authoritative response lands last win, even
// when it answers an older submission.
func WithoutFencing() Option {
	return func(s *Session) { s.fencing = false }
}

// Session owns the cart shown to one shopper. Mutations are applied
// optimistically and then confirmed or reverted by the backend.
type Session struct {
	backend Backend
	ids     IDStore
	logger  zerolog.Logger
	fencing bool

	mu        sync.Mutex
	rendered  *cart.Cart
	confirmed *cart.Cart
	voucher   string
	seq       uint64
	applied   uint64
	pending   map[uint64]struct{}
	subs      map[int]chan Snapshot
	nextSub   int
}

// NewSession builds a session with an empty cart.
func NewSession(backend Backend, opts ...Option) *Session {
	s := &Session{
		backend: backend,
		logger:  zerolog.Nop(),
		fencing: true,
		pending: make(map[uint64]struct{}),
		subs:    make(map[int]chan Snapshot),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Cart returns a copy of the cart currently rendered.
func (s *Session) Cart() *cart.Cart {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.rendered.Clone()
}

// Confirmed returns a copy of the last cart the backend returned.
func (s *Session) Confirmed() *cart.Cart {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.confirmed.Clone()
}

// Loading reports whether any submission awaits its authoritative response.
func (s *Session) Loading() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.pending) > 0
}

// VoucherCode returns the voucher attached to submissions.
func (s *Session) VoucherCode() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.voucher
}

// Subscribe streams snapshots after every change. Slow subscribers only see
// the most recent snapshots. The returned func stops the stream.
func (s *Session) Subscribe() (<-chan Snapshot, func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id := s.nextSub
	s.nextSub++
	ch := make(chan Snapshot, 8)
	s.subs[id] = ch
	var once sync.Once
	return ch, func() {
		once.Do(func() {
			s.mu.Lock()
			defer s.mu.Unlock()
			delete(s.subs, id)
			close(ch)
		})
	}
}

// Load seeds the session from the persisted cart id, if any.
func (s *Session) Load(ctx context.Context) (*cart.Cart, error) {
	id, ok := s.cartID()
	if !ok {
		return nil, nil
	}
	c, err := s.backend.GetCart(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("%w: load cart %s: %w", ErrBackend, id, err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.confirmed = c.Clone()
	s.rendered = c.Clone()
	if c != nil {
		s.voucher = c.VoucherCode
	}
	s.publishLocked()
	return c.Clone(), nil
}

// Forget drops the local cart and the persisted cart id so the next change
// starts a new cart. Responses still in flight are discarded.
func (s *Session) Forget() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.seq++
	s.applied = s.seq
	clear(s.pending)
	s.rendered = nil
	s.confirmed = nil
	s.voucher = ""
	s.publishLocked()
	if s.ids == nil {
		return nil
	}
	return s.ids.SetCartID("")
}

// Submit applies action optimistically and reconciles it with the backend.
// Validation errors return before anything is rendered or submitted. On a
// backend failure the confirmed cart is restored and returned alongside an
// error wrapping ErrBackend.
func (s *Session) Submit(ctx context.Context, action cart.Action) (*cart.Cart, error) {
	if action.Kind == cart.ActionReset {
		return s.Reset(ctx)
	}
	s.mu.Lock()
	if s.rendered != nil && !s.rendered.Status.Editable() {
		s.mu.Unlock()
		return nil, fmt.Errorf("%s on %s cart: %w", action.Kind, s.rendered.Status, ErrNotEditable)
	}
	next, err := cart.Transition(s.ctx(ctx), s.rendered, action)
	if err != nil {
		s.mu.Unlock()
		return nil, err
	}
	in := cart.NewHydrateInput(next, s.voucher)
	seq := s.beginLocked(next, &in)
	s.mu.Unlock()

	return s.commit(ctx, seq, in, next.LastItemAdded)
}

// ApplyVoucher resubmits the current lines with code attached. An empty
// code removes the voucher.
func (s *Session) ApplyVoucher(ctx context.Context, code string) (*cart.Cart, error) {
	s.mu.Lock()
	if s.rendered != nil && !s.rendered.Status.Editable() {
		s.mu.Unlock()
		return nil, fmt.Errorf("voucher on %s cart: %w", s.rendered.Status, ErrNotEditable)
	}
	s.voucher = code
	next := s.rendered.Clone()
	var last *cart.Item
	if next != nil {
		next.VoucherCode = code
		last = next.LastItemAdded
	}
	in := cart.NewHydrateInput(next, code)
	seq := s.beginLocked(next, &in)
	s.mu.Unlock()

	return s.commit(ctx, seq, in, last)
}

// Reset clears the cart. It renders nothing immediately and submits an
// empty line list for the known cart id.
func (s *Session) Reset(ctx context.Context) (*cart.Cart, error) {
	s.mu.Lock()
	s.voucher = ""
	in := cart.HydrateInput{Items: []cart.Line{}}
	seq := s.beginLocked(nil, &in)
	if in.ID == "" {
		// Nothing was ever persisted, so there is nothing to clear remotely.
		delete(s.pending, seq)
		s.applied = seq
		s.confirmed = nil
		s.publishLocked()
		s.mu.Unlock()
		return nil, nil
	}
	s.mu.Unlock()

	return s.commit(ctx, seq, in, nil)
}

// beginLocked renders the optimistic cart and registers a new submission.
func (s *Session) beginLocked(optimistic *cart.Cart, in *cart.HydrateInput) uint64 {
	if in.ID == "" {
		if s.confirmed != nil && s.confirmed.ID != "" {
			in.ID = s.confirmed.ID
		} else if id, ok := s.cartIDLocked(); ok {
			in.ID = id
		}
	}
	s.seq++
	s.pending[s.seq] = struct{}{}
	s.rendered = optimistic
	s.publishLocked()
	return s.seq
}

func (s *Session) commit(ctx context.Context, seq uint64, in cart.HydrateInput, last *cart.Item) (*cart.Cart, error) {
	log := zerolog.Ctx(s.ctx(ctx))
	res, err := s.backend.Hydrate(ctx, in)

	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.pending, seq)

	if err != nil {
		switch {
		case s.fencing && seq < s.applied:
			// A newer response already landed; rendered is authoritative.
			obs.Count(obs.CartReconcileTotal, "failed_stale")
		case s.fencing && s.hasNewerLocked(seq):
			obs.Count(obs.CartReconcileTotal, "failed_superseded")
		default:
			s.rendered = s.confirmed.Clone()
			s.voucher = ""
			if s.confirmed != nil {
				s.voucher = s.confirmed.VoucherCode
			}
			obs.Count(obs.CartReconcileTotal, "reverted")
		}
		log.Warn().Err(err).Uint64("seq", seq).Str("cart_id", in.ID).Msg("cart: authoritative hydrate failed")
		s.publishLocked()
		return s.confirmed.Clone(), fmt.Errorf("%w: %w", ErrBackend, err)
	}

	if s.fencing && seq <= s.applied {
		obs.Count(obs.CartReconcileTotal, "stale")
		log.Debug().Uint64("seq", seq).Uint64("applied", s.applied).Msg("cart: stale response discarded")
		s.publishLocked()
		return s.rendered.Clone(), nil
	}
	s.applied = seq
	s.confirmed = res.Clone()
	if res != nil && res.ID != "" {
		s.persistIDLocked(log, res.ID)
	}

	if s.fencing && s.hasNewerLocked(seq) {
		obs.Count(obs.CartReconcileTotal, "superseded")
		s.publishLocked()
		return s.rendered.Clone(), nil
	}

	rendered := res.Clone()
	if rendered != nil && last != nil {
		keep := last.Clone()
		rendered.LastItemAdded = &keep
	}
	s.rendered = rendered
	obs.Count(obs.CartReconcileTotal, "applied")
	s.publishLocked()
	return s.rendered.Clone(), nil
}

func (s *Session) hasNewerLocked(seq uint64) bool {
	for p := range s.pending {
		if p > seq {
			return true
		}
	}
	return false
}

func (s *Session) publishLocked() {
	snap := Snapshot{Cart: s.rendered.Clone(), Loading: len(s.pending) > 0, Seq: s.seq}
	for _, ch := range s.subs {
		select {
		case ch <- snap:
			continue
		default:
		}
		select {
		case <-ch:
		default:
		}
		select {
		case ch <- snap:
		default:
		}
	}
}

func (s *Session) cartID() (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cartIDLocked()
}

func (s *Session) cartIDLocked() (string, bool) {
	if s.confirmed != nil && s.confirmed.ID != "" {
		return s.confirmed.ID, true
	}
	if s.ids == nil {
		return "", false
	}
	return s.ids.CartID()
}

func (s *Session) persistIDLocked(log *zerolog.Logger, id string) {
	if s.ids == nil {
		return
	}
	if cur, ok := s.ids.CartID(); ok && cur == id {
		return
	}
	if err := s.ids.SetCartID(id); err != nil {
		log.Warn().Err(err).Str("cart_id", id).Msg("cart: persist cart id failed")
	}
}

func (s *Session) ctx(ctx context.Context) context.Context {
	if zerolog.Ctx(ctx).GetLevel() == zerolog.Disabled {
		return s.logger.WithContext(ctx)
	}
	return ctx
}
