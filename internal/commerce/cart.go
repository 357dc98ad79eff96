package commerce

import (
	"context"
	"slices"
	"sync"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"storefront-service/internal/domain"
	"storefront-service/internal/metrics"
	"storefront-service/internal/persist"
)

const cartStoreName = "cart"

// MaxQuantity caps a single cart line. Adds and increments past it are clamped.
const MaxQuantity = 999

// CartItem is one cart line. Quantity stays within 1..MaxQuantity; a line that
// would drop to 0 is removed instead.
type CartItem struct {
	Product  domain.Product `json:"product"`
	Quantity int            `json:"quantity"`
}

// CartSnapshot is a copy of the cart state. Total and TotalItems are derived from
// Items and are not persisted.
type CartSnapshot struct {
	Items      []CartItem      `json:"items"`
	Total      decimal.Decimal `json:"total"`
	TotalItems int             `json:"totalItems"`
}

// Cart is the shopping cart store.
type Cart struct {
	mu    sync.RWMutex
	state CartSnapshot

	persister Persister
	logger    *zap.Logger
	metrics   *metrics.Metrics
	observers observers[CartSnapshot]
}

// NewCart restores the persisted cart, recomputes its totals and returns it ready
// for use. A missing or corrupt slot yields an empty cart.
func NewCart(ctx context.Context, opts Options) *Cart {
	c := &Cart{
		state:     CartSnapshot{Items: []CartItem{}},
		persister: opts.Persister,
		logger:    opts.logger(),
		metrics:   opts.Metrics,
	}
	c.restore(ctx)
	return c
}

func (c *Cart) restore(ctx context.Context) {
	if c.persister == nil {
		return
	}
	var saved CartSnapshot
	if !c.persister.Load(ctx, persist.KeyCart, &saved) {
		return
	}
	c.hydrate(saved.Items)
	c.logger.Info("Cart restored",
		zap.Int("items", len(c.state.Items)),
		zap.Int("total_items", c.state.TotalItems),
		zap.String("total", c.state.Total.String()))
}

// hydrate replaces the items with a normalized copy of items and recomputes the
// derived fields. Lines without an id or with a quantity below 1 are dropped,
// duplicate ids are merged by summing their quantities and every line is
// clamped to MaxQuantity.
func (c *Cart) hydrate(items []CartItem) {
	normalized := make([]CartItem, 0, len(items))
	for _, item := range items {
		if item.Product.ID == "" || item.Quantity < 1 {
			continue
		}
		item.Quantity = min(item.Quantity, MaxQuantity)
		if i := indexOfItem(normalized, item.Product.ID); i >= 0 {
			normalized[i].Quantity = min(normalized[i].Quantity+item.Quantity, MaxQuantity)
			continue
		}
		normalized = append(normalized, item)
	}
	c.state.Items = normalized
	c.recompute()
}

func (c *Cart) recompute() {
	total := decimal.Zero
	count := 0
	for _, item := range c.state.Items {
		total = total.Add(item.Product.Price.Mul(decimal.NewFromInt(int64(item.Quantity))))
		count += item.Quantity
	}
	c.state.Total = total
	c.state.TotalItems = count
}

// mutate runs fn under the write lock. fn returns the name of the operation it
// applied, or "" when it changed nothing. After a change the derived fields are
// recomputed and the items persisted in the same transition, then observers get
// the new snapshot.
func (c *Cart) mutate(fn func() string) {
	c.mu.Lock()
	op := fn()
	if op == "" {
		c.mu.Unlock()
		return
	}
	c.recompute()
	if c.persister != nil {
		c.persister.Save(context.Background(), persist.KeyCart, c.state, "items")
	}
	snapshot := c.snapshotLocked()
	c.mu.Unlock()

	c.metrics.StoreMutated(cartStoreName, op, len(snapshot.Items))
	c.observers.notify(snapshot)
}

// AddItem adds quantity units of product. An existing line grows by quantity,
// up to MaxQuantity; adding to a full line changes nothing. A product without
// an id or a quantity below 1 is ignored.
func (c *Cart) AddItem(product domain.Product, quantity int) {
	if product.ID == "" || quantity < 1 {
		return
	}
	quantity = min(quantity, MaxQuantity)
	c.mutate(func() string {
		if i := indexOfItem(c.state.Items, product.ID); i >= 0 {
			if c.state.Items[i].Quantity >= MaxQuantity {
				return ""
			}
			c.state.Items[i].Quantity = min(c.state.Items[i].Quantity+quantity, MaxQuantity)
			return "add"
		}
		c.state.Items = append(c.state.Items, CartItem{Product: product, Quantity: quantity})
		return "add"
	})
}

// RemoveItem deletes the line for productID if there is one.
func (c *Cart) RemoveItem(productID string) {
	c.mutate(func() string {
		i := indexOfItem(c.state.Items, productID)
		if i < 0 {
			return ""
		}
		c.state.Items = slices.Delete(c.state.Items, i, i+1)
		return "remove"
	})
}

// IncrementItem adds one unit to an existing line. Unknown ids are ignored so a
// stale view cannot resurrect a removed line; a line at MaxQuantity stays put.
func (c *Cart) IncrementItem(productID string) {
	c.mutate(func() string {
		i := indexOfItem(c.state.Items, productID)
		if i < 0 || c.state.Items[i].Quantity >= MaxQuantity {
			return ""
		}
		c.state.Items[i].Quantity++
		return "increment"
	})
}

// DecrementItem removes one unit from a line; a line at quantity 1 is removed.
func (c *Cart) DecrementItem(productID string) {
	c.mutate(func() string {
		i := indexOfItem(c.state.Items, productID)
		if i < 0 {
			return ""
		}
		if c.state.Items[i].Quantity <= 1 {
			c.state.Items = slices.Delete(c.state.Items, i, i+1)
			return "decrement"
		}
		c.state.Items[i].Quantity--
		return "decrement"
	})
}

// Clear empties the cart.
func (c *Cart) Clear() {
	c.mutate(func() string {
		if len(c.state.Items) == 0 {
			return ""
		}
		c.state.Items = []CartItem{}
		return "clear"
	})
}

// Contains reports whether the cart has a line for productID.
func (c *Cart) Contains(productID string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return productID != "" && indexOfItem(c.state.Items, productID) >= 0
}

// Quantity returns the quantity on the line for productID, 0 when absent.
func (c *Cart) Quantity(productID string) int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if i := indexOfItem(c.state.Items, productID); i >= 0 {
		return c.state.Items[i].Quantity
	}
	return 0
}

func (c *Cart) Total() decimal.Decimal {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.state.Total
}

func (c *Cart) TotalItems() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.state.TotalItems
}

// Snapshot returns a copy of the current state.
func (c *Cart) Snapshot() CartSnapshot {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.snapshotLocked()
}

func (c *Cart) snapshotLocked() CartSnapshot {
	return CartSnapshot{
		Items:      slices.Clone(c.state.Items),
		Total:      c.state.Total,
		TotalItems: c.state.TotalItems,
	}
}

// Subscribe registers fn to receive a snapshot after every effective mutation.
// The returned function unsubscribes.
func (c *Cart) Subscribe(fn func(CartSnapshot)) func() {
	return c.observers.subscribe(fn)
}

func indexOfItem(items []CartItem, productID string) int {
	if productID == "" {
		return -1
	}
	return slices.IndexFunc(items, func(item CartItem) bool {
		return item.Product.ID == productID
	})
}
