// Package catalog turns a CatalogQuery into the page of products a shopper sees:
// category resolution, base set acquisition, membership and price filtering,
// discovery shuffle and pagination.
package catalog

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"slices"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"storefront-service/internal/cache"
	"storefront-service/internal/domain"
	"storefront-service/internal/metrics"
	"storefront-service/internal/store"
)

const (
	DefaultPageSize = 12
	CuratedPageSize = 20
	// CuratedLimit is how many items a curated list request asks for.
	CuratedLimit = 100
	// FetchLimit is the page size requested from the generic listing so the
	// remaining stages can run locally.
	FetchLimit     = 1000
	DefaultTimeout = 8 * time.Second
)

// Shuffler produces a uniform random permutation. *rand.Rand satisfies it.
type Shuffler interface {
	Shuffle(n int, swap func(i, j int))
}

// Options configures an Engine. Zero values select defaults.
type Options struct {
	Timeout      time.Duration
	CuratedLimit int
	Shuffler     Shuffler
	Logger       *zap.Logger
	Metrics      *metrics.Metrics
}

// Result is one page of a catalog query.
type Result struct {
	Items      []domain.Product `json:"items"`
	Total      int              `json:"total"`
	Page       int              `json:"page"`
	PageSize   int              `json:"page_size"`
	TotalPages int              `json:"total_pages"`
}

// Engine answers catalog queries from the results cache, falling back to the
// product source on a miss.
type Engine struct {
	source       store.ProductSource
	results      *cache.Results
	group        singleflight.Group
	timeout      time.Duration
	curatedLimit int
	logger       *zap.Logger
	metrics      *metrics.Metrics

	shuffleMu sync.Mutex
	shuffler  Shuffler
}

func New(source store.ProductSource, results *cache.Results, opts Options) *Engine {
	e := &Engine{
		source:       source,
		results:      results,
		timeout:      opts.Timeout,
		curatedLimit: opts.CuratedLimit,
		shuffler:     opts.Shuffler,
		logger:       opts.Logger,
		metrics:      opts.Metrics,
	}
	if e.timeout <= 0 {
		e.timeout = DefaultTimeout
	}
	if e.curatedLimit <= 0 {
		e.curatedLimit = CuratedLimit
	}
	if e.shuffler == nil {
		e.shuffler = rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64()))
	}
	if e.logger == nil {
		e.logger = zap.NewNop()
	}
	return e
}

// Query runs the full pipeline. Remote failures degrade to an empty result; the
// only error returned is the context's, when ctx ends before the result is ready.
func (e *Engine) Query(ctx context.Context, q domain.CatalogQuery) (Result, error) {
	e.metrics.CatalogQueried(string(q.Mode))

	var parent, sub *domain.Category
	if q.CategorySlug != "" {
		tree, err := e.CategoryTree(ctx)
		if err != nil {
			return Result{}, err
		}
		if node, ok := domain.FindCategory(tree, q.CategorySlug); ok {
			parent = &node
			if q.SubcategorySlug != "" {
				if child, ok := node.FindChild(q.SubcategorySlug); ok {
					sub = &child
				}
			}
		}
	}

	var items []domain.Product
	var err error
	if q.Mode.IsCurated() {
		items, err = e.curated(ctx, q.Mode)
	} else {
		items, err = e.generic(ctx, q, parent, sub)
		if err == nil && parent != nil {
			items = filterMembership(items, parent, sub)
		}
	}
	if err != nil {
		return Result{}, err
	}

	items = filterPrice(items, q.PriceMin, q.PriceMax)

	if q.Mode.IsCurated() && q.CategorySlug == "" {
		items = slices.Clone(items)
		e.shuffleMu.Lock()
		e.shuffler.Shuffle(len(items), func(i, j int) { items[i], items[j] = items[j], items[i] })
		e.shuffleMu.Unlock()
	}

	return paginate(items, q.Page, pageSize(q)), nil
}

func (e *Engine) curated(ctx context.Context, mode domain.FilterMode) ([]domain.Product, error) {
	key := cache.FilterKey(mode, e.curatedLimit)
	return cached(ctx, e, e.results.FilteredProducts, key, "curated_list", func(ctx context.Context) ([]domain.Product, error) {
		return e.source.CuratedList(ctx, mode, e.curatedLimit)
	})
}

func (e *Engine) generic(ctx context.Context, q domain.CatalogQuery, parent, sub *domain.Category) ([]domain.Product, error) {
	pq := domain.ProductQuery{
		Search:   q.Search,
		MinPrice: q.PriceMin,
		MaxPrice: q.PriceMax,
		Limit:    FetchLimit,
	}
	if q.Mode == domain.FilterNew {
		pq.Sort = domain.SortNewest
	}
	if parent != nil {
		pq.CategorySlug = parent.Slug
		if sub != nil {
			pq.SubcategorySlug = sub.Slug
		}
	}
	list := func(ctx context.Context) ([]domain.Product, error) {
		page, err := e.source.ListProducts(ctx, pq)
		return page.Items, err
	}

	categoryOnly := parent != nil && q.Mode == domain.FilterNone && q.Search == "" && q.PriceMin == nil && q.PriceMax == nil
	if categoryOnly {
		return cached(ctx, e, e.results.CategoryProducts, cache.CategoryKey(pq.CategorySlug, pq.SubcategorySlug), "list_products", list)
	}
	key := fmt.Sprintf("list:%s|%s|%s|%s|%v|%v", pq.CategorySlug, pq.SubcategorySlug, pq.Search, pq.Sort, pq.MinPrice, pq.MaxPrice)
	return fetch(ctx, e, key, "list_products", list)
}

// CategoryTree returns the cached category hierarchy, fetching it on a miss.
func (e *Engine) CategoryTree(ctx context.Context) ([]domain.Category, error) {
	return cached(ctx, e, e.results.CategoriesTree, cache.SingleKey, "category_tree", e.source.CategoryTree)
}

// Categories returns the flattened category list.
func (e *Engine) Categories(ctx context.Context) ([]domain.Category, error) {
	if flat, ok := e.results.Categories.Get(cache.SingleKey); ok {
		return flat, nil
	}
	tree, err := e.CategoryTree(ctx)
	if err != nil {
		return nil, err
	}
	flat := domain.Flatten(tree)
	if len(flat) > 0 {
		e.results.Categories.Set(cache.SingleKey, flat)
	}
	return flat, nil
}

// ProductBySlug reports false for unknown slugs and for remote failures.
func (e *Engine) ProductBySlug(ctx context.Context, slug string) (domain.Product, bool) {
	if slug == "" {
		return domain.Product{}, false
	}
	if p, ok := e.results.ProductsBySlug.Get(slug); ok {
		return p, true
	}
	v, err, _ := e.group.Do("slug:"+slug, func() (any, error) {
		callCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), e.timeout)
		defer cancel()
		return e.source.ProductBySlug(callCtx, slug)
	})
	if err != nil {
		if errors.Is(err, store.ErrProductNotFound) {
			e.logger.Debug("Product not found", zap.String("slug", slug))
		} else {
			e.remoteFailed("product_by_slug", err)
		}
		return domain.Product{}, false
	}
	p, ok := v.(*domain.Product)
	if !ok || p == nil {
		return domain.Product{}, false
	}
	e.results.ProductsBySlug.Set(slug, *p)
	return *p, true
}

// Refresh drops every cached result.
func (e *Engine) Refresh(ctx context.Context) {
	e.results.Clear(ctx)
}

func (e *Engine) remoteFailed(op string, err error) {
	e.metrics.RemoteFailed(op)
	e.logger.Warn("Remote catalog call failed, serving empty result", zap.String("operation", op), zap.Error(err))
}

// cached reads key from region, fetching and storing it on a miss. Failures are
// not cached.
func cached[T any](ctx context.Context, e *Engine, region *cache.Region[T], key, op string, load func(context.Context) (T, error)) (T, error) {
	if v, ok := region.Get(key); ok {
		return v, nil
	}
	v, err := fetch(ctx, e, region.Name()+":"+key, op, load)
	if err != nil {
		return v, err
	}
	if !isEmpty(v) {
		region.Set(key, v)
	}
	return v, nil
}

// fetch runs load once per key across concurrent callers under the engine timeout.
// A remote failure is logged and yields the zero value; ctx ending first yields ctx.Err().
func fetch[T any](ctx context.Context, e *Engine, key, op string, load func(context.Context) (T, error)) (T, error) {
	var zero T
	if err := ctx.Err(); err != nil {
		return zero, err
	}
	ch := e.group.DoChan(key, func() (any, error) {
		callCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), e.timeout)
		defer cancel()
		return load(callCtx)
	})
	select {
	case <-ctx.Done():
		return zero, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			e.remoteFailed(op, res.Err)
			return zero, nil
		}
		v, ok := res.Val.(T)
		if !ok {
			return zero, nil
		}
		return v, nil
	}
}

func isEmpty(v any) bool {
	switch t := v.(type) {
	case []domain.Product:
		return len(t) == 0
	case []domain.Category:
		return len(t) == 0
	}
	return false
}

// matchesCategory accepts a product whose reference carries c as its id or slug,
// or names c as its parent.
func matchesCategory(ref *domain.CategoryRef, c *domain.Category) bool {
	if ref == nil {
		return false
	}
	return (ref.ID != "" && ref.ID == c.ID) ||
		(ref.Slug != "" && ref.Slug == c.Slug) ||
		(ref.ParentID != "" && ref.ParentID == c.ID)
}

func filterMembership(items []domain.Product, parent, sub *domain.Category) []domain.Product {
	scope := []*domain.Category{sub}
	if sub == nil {
		scope = []*domain.Category{parent}
		for i := range parent.Children {
			scope = append(scope, &parent.Children[i])
		}
	}
	kept := make([]domain.Product, 0, len(items))
	for _, p := range items {
		for _, c := range scope {
			if matchesCategory(p.Category, c) {
				kept = append(kept, p)
				break
			}
		}
	}
	return kept
}

func filterPrice(items []domain.Product, minPrice, maxPrice *decimal.Decimal) []domain.Product {
	if minPrice == nil && maxPrice == nil {
		return items
	}
	kept := make([]domain.Product, 0, len(items))
	for _, p := range items {
		if minPrice != nil && p.Price.LessThan(*minPrice) {
			continue
		}
		if maxPrice != nil && p.Price.GreaterThan(*maxPrice) {
			continue
		}
		kept = append(kept, p)
	}
	return kept
}

func pageSize(q domain.CatalogQuery) int {
	if q.PageSize > 0 {
		return q.PageSize
	}
	if q.Mode.IsCurated() {
		return CuratedPageSize
	}
	return DefaultPageSize
}

func paginate(items []domain.Product, page, size int) Result {
	if page < 1 {
		page = 1
	}
	total := len(items)
	totalPages := total / size
	if total%size != 0 {
		totalPages++
	}
	res := Result{
		Total:      total,
		Page:       page,
		PageSize:   size,
		TotalPages: totalPages,
		Items:      []domain.Product{},
	}
	// page is client supplied; compare before multiplying so it cannot overflow.
	if page > totalPages {
		return res
	}
	start := (page - 1) * size
	end := start + min(size, total-start)
	res.Items = slices.Clone(items[start:end])
	return res
}
