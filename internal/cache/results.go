// Package cache is the time-boxed results cache the catalog engine reads through.
// Entries older than the expiry are treated as absent; they are dropped lazily on
// read or in bulk by Sweep. Writes only mark the cache dirty; Flush persists it.
package cache

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"storefront-service/internal/domain"
	"storefront-service/internal/metrics"
	"storefront-service/internal/persist"
)

// DefaultExpiry is how long a cached result stays fresh.
const DefaultExpiry = 5 * time.Minute

// SingleKey is the key used by regions that hold exactly one value.
const SingleKey = "all"

// Region names, also used as metric labels.
const (
	RegionCategories       = "categories"
	RegionCategoriesTree   = "categories-tree"
	RegionCategoryProducts = "category-products"
	RegionFilteredProducts = "filtered-products"
	RegionProductsBySlug   = "products-by-slug"
)

// Persister saves, restores and drops the cache slot. *persist.Adapter and
// *persist.Writer implement it.
type Persister interface {
	Save(ctx context.Context, key string, state any, fields ...string)
	Load(ctx context.Context, key string, dest any) bool
	Drop(ctx context.Context, key string)
}

// Options configures a Results cache. Zero values select defaults.
type Options struct {
	Expiry    time.Duration
	Now       func() time.Time
	Persister Persister
	Logger    *zap.Logger
	Metrics   *metrics.Metrics
}

// Results is the process-wide results cache.
type Results struct {
	Categories       *Region[[]domain.Category]
	CategoriesTree   *Region[[]domain.Category]
	CategoryProducts *Region[[]domain.Product]
	FilteredProducts *Region[[]domain.Product]
	ProductsBySlug   *Region[domain.Product]

	expiry    time.Duration
	now       func() time.Time
	persister Persister
	logger    *zap.Logger
	metrics   *metrics.Metrics

	saveMu sync.Mutex
	dirty  atomic.Bool
}

// state is the persisted form of the cache.
type state struct {
	Categories       map[string]Entry[[]domain.Category] `json:"categories"`
	CategoriesTree   map[string]Entry[[]domain.Category] `json:"categoriesTree"`
	CategoryProducts map[string]Entry[[]domain.Product]  `json:"categoryProducts"`
	FilteredProducts map[string]Entry[[]domain.Product]  `json:"filteredProducts"`
	ProductsBySlug   map[string]Entry[domain.Product]    `json:"productsBySlug"`
}

var persistedFields = []string{"categories", "categoriesTree", "categoryProducts", "filteredProducts", "productsBySlug"}

// New builds the cache and restores any persisted entries that are still fresh.
func New(ctx context.Context, opts Options) *Results {
	c := &Results{
		expiry:    opts.Expiry,
		now:       opts.Now,
		persister: opts.Persister,
		logger:    opts.Logger,
		metrics:   opts.Metrics,
	}
	if c.expiry <= 0 {
		c.expiry = DefaultExpiry
	}
	if c.now == nil {
		c.now = time.Now
	}
	if c.logger == nil {
		c.logger = zap.NewNop()
	}
	c.Categories = newRegion[[]domain.Category](RegionCategories, c)
	c.CategoriesTree = newRegion[[]domain.Category](RegionCategoriesTree, c)
	c.CategoryProducts = newRegion[[]domain.Product](RegionCategoryProducts, c)
	c.FilteredProducts = newRegion[[]domain.Product](RegionFilteredProducts, c)
	c.ProductsBySlug = newRegion[domain.Product](RegionProductsBySlug, c)

	c.restore(ctx)
	return c
}

func (c *Results) restore(ctx context.Context) {
	if c.persister == nil {
		return
	}
	var saved state
	if !c.persister.Load(ctx, persist.KeyResultsCache, &saved) {
		return
	}
	c.Categories.load(saved.Categories)
	c.CategoriesTree.load(saved.CategoriesTree)
	c.CategoryProducts.load(saved.CategoryProducts)
	c.FilteredProducts.load(saved.FilteredProducts)
	c.ProductsBySlug.load(saved.ProductsBySlug)

	dropped := c.sweep()
	if dropped > 0 {
		c.dirty.Store(true)
	}
	c.logger.Info("Results cache restored", zap.Int("entries", c.Len()), zap.Int("expired_dropped", dropped))
}

// Expiry returns the freshness window.
func (c *Results) Expiry() time.Duration { return c.expiry }

func (c *Results) fresh(writtenAt, now time.Time) bool {
	return now.Sub(writtenAt) < c.expiry
}

// Sweep removes every expired entry from every region and returns how many were removed.
func (c *Results) Sweep() int {
	removed := c.sweep()
	if removed > 0 {
		c.dirty.Store(true)
	}
	return removed
}

func (c *Results) sweep() int {
	now := c.now()
	removed := c.Categories.sweep(now) +
		c.CategoriesTree.sweep(now) +
		c.CategoryProducts.sweep(now) +
		c.FilteredProducts.sweep(now) +
		c.ProductsBySlug.sweep(now)
	c.metrics.CacheEvicted(removed)
	return removed
}

// Clear drops every entry and the persisted slot.
func (c *Results) Clear(ctx context.Context) {
	c.saveMu.Lock()
	defer c.saveMu.Unlock()
	c.Categories.reset()
	c.CategoriesTree.reset()
	c.CategoryProducts.reset()
	c.FilteredProducts.reset()
	c.ProductsBySlug.reset()
	c.dirty.Store(false)
	if c.persister != nil {
		c.persister.Drop(ctx, persist.KeyResultsCache)
	}
	c.logger.Info("Results cache cleared")
}

// Len returns the number of stored entries across regions, fresh or not.
func (c *Results) Len() int {
	return c.Categories.Len() + c.CategoriesTree.Len() + c.CategoryProducts.Len() +
		c.FilteredProducts.Len() + c.ProductsBySlug.Len()
}

// Flush writes the whole cache to its slot if anything changed since the last
// Flush, and reports whether it wrote.
func (c *Results) Flush(ctx context.Context) bool {
	if c.persister == nil {
		return false
	}
	c.saveMu.Lock()
	defer c.saveMu.Unlock()
	if !c.dirty.Swap(false) {
		return false
	}
	snapshot := state{
		Categories:       c.Categories.snapshot(),
		CategoriesTree:   c.CategoriesTree.snapshot(),
		CategoryProducts: c.CategoryProducts.snapshot(),
		FilteredProducts: c.FilteredProducts.snapshot(),
		ProductsBySlug:   c.ProductsBySlug.snapshot(),
	}
	c.persister.Save(ctx, persist.KeyResultsCache, snapshot, persistedFields...)
	return true
}

// FilterKey builds the FilteredProducts key for a curated list request.
func FilterKey(mode domain.FilterMode, limit int) string {
	return fmt.Sprintf("%s:%d", mode, limit)
}

// CategoryKey builds the CategoryProducts key for a category, optionally narrowed to a subcategory.
func CategoryKey(categorySlug, subcategorySlug string) string {
	if subcategorySlug == "" {
		return categorySlug
	}
	return categorySlug + "/" + subcategorySlug
}
