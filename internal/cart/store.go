package cart

import (
	"context"
	"errors"
	"slices"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/drstein77/farmcare/internal/models"
	"github.com/drstein77/farmcare/internal/pricing"
	"github.com/drstein77/farmcare/internal/storage"
)

// DefaultKey is the storage key the cart is saved under.
const DefaultKey = "@farmcare:cart"

const saveTimeout = 5 * time.Second

// Log is the logger the store reports through.
type Log interface {
	Debug(string, ...zap.Field)
	Info(string, ...zap.Field)
	Error(string, ...zap.Field)
}

// Config names the storage key and the cart currency. Empty fields take
// DefaultKey and pricing.DefaultCurrency.
type Config struct {
	Key      string
	Currency string
}

// Snapshot is an immutable view of one committed cart state.
type Snapshot struct {
	Version   uint64
	Items     []models.CartItem
	Count     int
	Total     pricing.Money
	Hydrating bool
}

// Listener is called with every committed snapshot.
type Listener func(Snapshot)

type subscription struct {
	id uint64
	fn Listener
}

// Store is the single source of truth for the in-progress order.
//
// Mutations never fail. Each one is applied under the store lock to the
// latest committed items, listeners are notified in commit order before the
// call returns, and a background writer persists the newest state.
type Store struct {
	key      string
	currency string
	keeper   storage.Keeper
	log      Log

	// notifyMu is held across commit and notification.
	notifyMu sync.Mutex

	mu        sync.RWMutex
	items     []models.CartItem
	version   uint64
	hydrating bool
	subs      []subscription
	nextSub   uint64

	pendingMu      sync.Mutex
	pendingItems   []models.CartItem
	pendingVersion uint64
	writtenVersion uint64
	written        chan struct{}

	wake      chan struct{}
	quit      chan struct{}
	done      chan struct{}
	closeOnce sync.Once
	closed    bool
}

// NewStore creates an empty store in the hydrating state and starts its
// writer. A nil keeper disables persistence.
func NewStore(keeper storage.Keeper, cfg Config, log Log) *Store {
	if cfg.Key == "" {
		cfg.Key = DefaultKey
	}
	if cfg.Currency == "" {
		cfg.Currency = pricing.DefaultCurrency
	}

	s := &Store{
		key:       cfg.Key,
		currency:  cfg.Currency,
		keeper:    keeper,
		log:       log,
		items:     []models.CartItem{},
		hydrating: true,
		written:   make(chan struct{}),
		wake:      make(chan struct{}, 1),
		quit:      make(chan struct{}),
		done:      make(chan struct{}),
	}

	if keeper == nil {
		close(s.done)
	} else {
		go s.run()
	}
	return s
}

// Currency is the currency every line item is priced in.
func (s *Store) Currency() string {
	return s.currency
}

// AddItem adds one unit of product, merging with an existing line of the
// same id. A line already at models.MaxQuantity stays there.
func (s *Store) AddItem(product models.Product) {
	s.apply("add item", zap.String("id", product.ID), func(items []models.CartItem) []models.CartItem {
		out := make([]models.CartItem, 0, len(items)+1)
		found := false
		for _, item := range items {
			if item.ID == product.ID {
				if item.Quantity < models.MaxQuantity {
					item.Quantity++
				}
				found = true
			}
			out = append(out, item)
		}
		if !found {
			out = append(out, models.CartItem{Product: product, Quantity: 1})
		}
		return out
	})
}

// UpdateQuantity sets the quantity of a line. A quantity <= 0 removes it,
// one above models.MaxQuantity is capped.
func (s *Store) UpdateQuantity(id string, quantity int) {
	if quantity <= 0 {
		s.RemoveItem(id)
		return
	}
	quantity = min(quantity, models.MaxQuantity)

	s.apply("update quantity", zap.String("id", id), func(items []models.CartItem) []models.CartItem {
		out := make([]models.CartItem, 0, len(items))
		for _, item := range items {
			if item.ID == id {
				item.Quantity = quantity
			}
			out = append(out, item)
		}
		return out
	})
}

// RemoveItem drops a line regardless of quantity.
func (s *Store) RemoveItem(id string) {
	s.apply("remove item", zap.String("id", id), func(items []models.CartItem) []models.CartItem {
		out := make([]models.CartItem, 0, len(items))
		for _, item := range items {
			if item.ID != id {
				out = append(out, item)
			}
		}
		return out
	})
}

// DecreaseQuantity takes one unit off a line, removing it at zero.
func (s *Store) DecreaseQuantity(id string) {
	s.apply("decrease quantity", zap.String("id", id), func(items []models.CartItem) []models.CartItem {
		out := make([]models.CartItem, 0, len(items))
		for _, item := range items {
			if item.ID == id {
				item.Quantity--
			}
			if item.Quantity > 0 {
				out = append(out, item)
			}
		}
		return out
	})
}

// Clear empties the cart.
func (s *Store) Clear() {
	s.apply("clear cart", zap.Skip(), func([]models.CartItem) []models.CartItem {
		return []models.CartItem{}
	})
}

// RemoveOrdered takes the quantities of a placed order off the cart. Units
// added after the order snapshot was taken stay in the cart.
func (s *Store) RemoveOrdered(ordered []models.CartItem) {
	placed := make(map[string]int, len(ordered))
	for _, item := range ordered {
		placed[item.ID] += item.Quantity
	}

	s.apply("remove ordered items", zap.Int("lines", len(ordered)), func(items []models.CartItem) []models.CartItem {
		out := make([]models.CartItem, 0, len(items))
		for _, item := range items {
			item.Quantity -= placed[item.ID]
			if item.Quantity > 0 {
				out = append(out, item)
			}
		}
		return out
	})
}

// Items returns a copy of the current line items.
func (s *Store) Items() []models.CartItem {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return slices.Clone(s.items)
}

// Count is the sum of quantities.
func (s *Store) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return count(s.items)
}

// Total is the sum of price times quantity.
func (s *Store) Total() pricing.Money {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return total(s.items, s.currency)
}

// Hydrating reports whether the initial load is still in progress.
func (s *Store) Hydrating() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.hydrating
}

// Snapshot returns the current committed state.
func (s *Store) Snapshot() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.snapshotLocked()
}

// Subscribe registers a listener and returns a function that removes it.
// Listeners run synchronously inside the mutating call and must not call
// mutating methods themselves.
func (s *Store) Subscribe(fn Listener) (cancel func()) {
	s.mu.Lock()
	s.nextSub++
	id := s.nextSub
	s.subs = append(s.subs, subscription{id: id, fn: fn})
	s.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			s.mu.Lock()
			defer s.mu.Unlock()
			s.subs = slices.DeleteFunc(s.subs, func(sub subscription) bool { return sub.id == id })
		})
	}
}

// Hydrate performs the one-time load of the saved cart. If a mutation has
// already been committed, the loaded items are discarded since the
// in-memory state is newer. Load and decode failures leave the cart empty.
func (s *Store) Hydrate(ctx context.Context) {
	if !s.Hydrating() {
		return
	}

	loaded := s.load(ctx)

	s.notifyMu.Lock()
	defer s.notifyMu.Unlock()

	s.mu.Lock()
	if !s.hydrating {
		s.mu.Unlock()
		return
	}
	s.hydrating = false
	switch {
	case s.version > 0:
		s.log.Info("discarding saved cart, cart changed during hydration",
			zap.Int("saved_items", len(loaded)), zap.Uint64("version", s.version))
	case len(loaded) > 0:
		s.items = loaded
		s.log.Info("cart hydrated", zap.Int("items", len(loaded)))
	}
	snap := s.snapshotLocked()
	subs := slices.Clone(s.subs)
	s.mu.Unlock()

	notify(subs, snap)
}

func (s *Store) load(ctx context.Context) []models.CartItem {
	if s.keeper == nil {
		return nil
	}

	data, err := s.keeper.Load(ctx, s.key)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			s.log.Info("no saved cart", zap.String("key", s.key))
		} else {
			s.log.Error("Error loading cart", zap.String("key", s.key), zap.Error(err))
		}
		return nil
	}

	items, err := storage.DecodeCart(data, s.currency)
	if err != nil {
		s.log.Error("discarding malformed saved cart", zap.String("key", s.key), zap.Error(err))
		return nil
	}
	return items
}

// Flush blocks until the state committed before the call has been handed
// to the keeper, or ctx is done.
func (s *Store) Flush(ctx context.Context) error {
	s.mu.RLock()
	target := s.version
	s.mu.RUnlock()

	for {
		s.pendingMu.Lock()
		if s.keeper == nil || s.closed || s.writtenVersion >= target {
			s.pendingMu.Unlock()
			return nil
		}
		written := s.written
		s.pendingMu.Unlock()

		select {
		case <-written:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// Close writes any pending state and stops the writer.
func (s *Store) Close(ctx context.Context) error {
	s.closeOnce.Do(func() {
		close(s.quit)
	})

	select {
	case <-s.done:
	case <-ctx.Done():
		return ctx.Err()
	}
	return nil
}

func (s *Store) apply(op string, field zap.Field, fn func([]models.CartItem) []models.CartItem) {
	s.notifyMu.Lock()
	defer s.notifyMu.Unlock()

	s.mu.Lock()
	s.items = fn(s.items)
	s.version++
	snap := s.snapshotLocked()
	subs := slices.Clone(s.subs)
	s.mu.Unlock()

	s.log.Debug(op, field, zap.Uint64("version", snap.Version), zap.Int("count", snap.Count))
	s.schedule(snap)
	notify(subs, snap)
}

func (s *Store) snapshotLocked() Snapshot {
	return Snapshot{
		Version:   s.version,
		Items:     slices.Clone(s.items),
		Count:     count(s.items),
		Total:     total(s.items, s.currency),
		Hydrating: s.hydrating,
	}
}

func notify(subs []subscription, snap Snapshot) {
	for _, sub := range subs {
		sub.fn(snap)
	}
}

func count(items []models.CartItem) int {
	n := 0
	for _, item := range items {
		n += item.Quantity
	}
	return n
}

func total(items []models.CartItem, currency string) pricing.Money {
	sum := pricing.Zero(currency)
	for _, item := range items {
		sum = sum.Add(item.LineTotal())
	}
	return sum
}
