package commerce

import (
	"context"
	"slices"
	"sync"

	"go.uber.org/zap"

	"storefront-service/internal/domain"
	"storefront-service/internal/metrics"
	"storefront-service/internal/persist"
)

// SetSnapshot is a copy of a ProductSet. Count is derived from Items and is not persisted.
type SetSnapshot struct {
	Items []domain.Product `json:"items"`
	Count int              `json:"count"`
}

// ProductSet is an ordered set of products keyed by product id. The favorites and
// comparison lists are both ProductSets, each with its own slot.
type ProductSet struct {
	name string
	slot string

	mu    sync.RWMutex
	state SetSnapshot

	persister Persister
	logger    *zap.Logger
	metrics   *metrics.Metrics
	observers observers[SetSnapshot]
}

// NewFavorites returns the restored favorites list.
func NewFavorites(ctx context.Context, opts Options) *ProductSet {
	return newProductSet(ctx, "favorites", persist.KeyFavorites, opts)
}

// NewComparison returns the restored comparison list.
func NewComparison(ctx context.Context, opts Options) *ProductSet {
	return newProductSet(ctx, "comparison", persist.KeyComparison, opts)
}

func newProductSet(ctx context.Context, name, slot string, opts Options) *ProductSet {
	s := &ProductSet{
		name:      name,
		slot:      slot,
		state:     SetSnapshot{Items: []domain.Product{}},
		persister: opts.Persister,
		logger:    opts.logger().With(zap.String("store", name)),
		metrics:   opts.Metrics,
	}
	s.restore(ctx)
	return s
}

func (s *ProductSet) restore(ctx context.Context) {
	if s.persister == nil {
		return
	}
	var saved SetSnapshot
	if !s.persister.Load(ctx, s.slot, &saved) {
		return
	}
	s.hydrate(saved.Items)
	s.logger.Info("Product set restored", zap.Int("count", s.state.Count))
}

// hydrate keeps the first occurrence of every id and drops products without one.
func (s *ProductSet) hydrate(items []domain.Product) {
	normalized := make([]domain.Product, 0, len(items))
	for _, p := range items {
		if p.ID == "" || indexOfProduct(normalized, p.ID) >= 0 {
			continue
		}
		normalized = append(normalized, p)
	}
	s.state.Items = normalized
	s.recompute()
}

func (s *ProductSet) recompute() {
	s.state.Count = len(s.state.Items)
}

// mutate runs fn under the write lock. fn returns the name of the operation it
// applied, or "" when it changed nothing.
func (s *ProductSet) mutate(fn func() string) {
	s.mu.Lock()
	op := fn()
	if op == "" {
		s.mu.Unlock()
		return
	}
	s.recompute()
	if s.persister != nil {
		s.persister.Save(context.Background(), s.slot, s.state, "items")
	}
	snapshot := s.snapshotLocked()
	s.mu.Unlock()

	s.metrics.StoreMutated(s.name, op, snapshot.Count)
	s.observers.notify(snapshot)
}

// Name identifies the set ("favorites" or "comparison").
func (s *ProductSet) Name() string { return s.name }

// Toggle removes product when it is in the set and adds it otherwise.
// It returns whether the product is in the set afterwards.
func (s *ProductSet) Toggle(product domain.Product) bool {
	if product.ID == "" {
		return false
	}
	member := false
	s.mutate(func() string {
		if i := indexOfProduct(s.state.Items, product.ID); i >= 0 {
			s.state.Items = slices.Delete(s.state.Items, i, i+1)
			return "toggle_remove"
		}
		s.state.Items = append(s.state.Items, product)
		member = true
		return "toggle_add"
	})
	return member
}

// Add puts product in the set; a product already present is left as is.
func (s *ProductSet) Add(product domain.Product) {
	if product.ID == "" {
		return
	}
	s.mutate(func() string {
		if indexOfProduct(s.state.Items, product.ID) >= 0 {
			return ""
		}
		s.state.Items = append(s.state.Items, product)
		return "add"
	})
}

// Remove deletes productID from the set if present.
func (s *ProductSet) Remove(productID string) {
	s.mutate(func() string {
		i := indexOfProduct(s.state.Items, productID)
		if i < 0 {
			return ""
		}
		s.state.Items = slices.Delete(s.state.Items, i, i+1)
		return "remove"
	})
}

// Clear empties the set.
func (s *ProductSet) Clear() {
	s.mutate(func() string {
		if len(s.state.Items) == 0 {
			return ""
		}
		s.state.Items = []domain.Product{}
		return "clear"
	})
}

// Contains reports whether productID is in the set.
func (s *ProductSet) Contains(productID string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return indexOfProduct(s.state.Items, productID) >= 0
}

func (s *ProductSet) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state.Count
}

// Snapshot returns a copy of the current state.
func (s *ProductSet) Snapshot() SetSnapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.snapshotLocked()
}

func (s *ProductSet) snapshotLocked() SetSnapshot {
	return SetSnapshot{Items: slices.Clone(s.state.Items), Count: s.state.Count}
}

// Subscribe registers fn to receive a snapshot after every effective mutation.
func (s *ProductSet) Subscribe(fn func(SetSnapshot)) func() {
	return s.observers.subscribe(fn)
}

func indexOfProduct(items []domain.Product, productID string) int {
	if productID == "" {
		return -1
	}
	return slices.IndexFunc(items, func(p domain.Product) bool {
		return p.ID == productID
	})
}
