package catalogapi

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"storefront-service/internal/domain"
	"storefront-service/internal/store"
)

func newTestServer(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return NewClient(srv.URL+"/api/", time.Second)
}

func TestClient_ListProducts_SendsQuery(t *testing.T) {
	var got *http.Request
	client := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		got = r
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"results":[{"id":"p1","price":"99.50"},{"id":"p2","price":10}],"count":7}`))
	})
	minPrice := decimal.RequireFromString("10.5")

	page, err := client.ListProducts(context.Background(), domain.ProductQuery{
		CategorySlug: "phones",
		Search:       "  pixel ",
		MinPrice:     &minPrice,
		Sort:         domain.SortNewest,
		Limit:        1000,
	})

	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "/api/products", got.URL.Path)
	q := got.URL.Query()
	assert.Equal(t, "phones", q.Get("category"))
	assert.Equal(t, "pixel", q.Get("search"))
	assert.Equal(t, "10.5", q.Get("min_price"))
	assert.Equal(t, "-created_at", q.Get("ordering"))
	assert.Equal(t, "1000", q.Get("limit"))
	assert.False(t, q.Has("subcategory"))
	assert.False(t, q.Has("max_price"))

	assert.Equal(t, 7, page.Total)
	require.Len(t, page.Items, 2)
	assert.True(t, page.Items[0].Price.Equal(decimal.RequireFromString("99.50")))
	assert.True(t, page.Items[1].Price.Equal(decimal.NewFromInt(10)))
}

func TestClient_ListProducts_ItemsShape(t *testing.T) {
	client := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"items":[{"id":"p1"}]}`))
	})

	page, err := client.ListProducts(context.Background(), domain.ProductQuery{})

	require.NoError(t, err)
	assert.Equal(t, 1, page.Total)
	assert.True(t, page.Items[0].Price.IsZero(), "a missing price decodes as zero")
}

func TestClient_CategoryTree(t *testing.T) {
	client := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/categories/tree", r.URL.Path)
		_, _ = w.Write([]byte(`[{"id":"c1","slug":"phones","name":"Phones","children":[{"id":"c2","slug":"android","parent":"c1"}]}]`))
	})

	tree, err := client.CategoryTree(context.Background())

	require.NoError(t, err)
	require.Len(t, tree, 1)
	child, ok := tree[0].FindChild("android")
	require.True(t, ok)
	assert.Equal(t, "c1", child.ParentID)
}

func TestClient_CuratedList(t *testing.T) {
	client := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/products/curated/hits", r.URL.Path)
		assert.Equal(t, "100", r.URL.Query().Get("limit"))
		_, _ = w.Write([]byte(`{"items":[{"id":"h1","is_hit":true}],"total":1}`))
	})

	products, err := client.CuratedList(context.Background(), domain.FilterHits, 100)

	require.NoError(t, err)
	require.Len(t, products, 1)
	assert.True(t, products[0].IsHit)

	_, err = client.CuratedList(context.Background(), domain.FilterSearch, 100)
	assert.ErrorIs(t, err, store.ErrUnsupportedMode)
}

func TestClient_ProductBySlug(t *testing.T) {
	client := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/api/products/missing" {
			http.Error(w, `{"detail":"not found"}`, http.StatusNotFound)
			return
		}
		_, _ = w.Write([]byte(`{"id":"p1","slug":"phone-x","old_price":"120.00","price":"99.99"}`))
	})

	p, err := client.ProductBySlug(context.Background(), "phone-x")
	require.NoError(t, err)
	require.NotNil(t, p.OldPrice)
	assert.Equal(t, "phone-x", p.Slug)

	_, err = client.ProductBySlug(context.Background(), "missing")
	assert.True(t, errors.Is(err, store.ErrProductNotFound))

	_, err = client.ProductBySlug(context.Background(), " ")
	assert.True(t, errors.Is(err, store.ErrProductNotFound))
}

func TestClient_ServerErrorIsReported(t *testing.T) {
	client := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "upstream down", http.StatusBadGateway)
	})

	_, err := client.ListProducts(context.Background(), domain.ProductQuery{})

	require.Error(t, err)
	assert.Contains(t, err.Error(), "status 502")
	assert.Contains(t, err.Error(), "upstream down")
}

func TestClient_NotFoundOnListingIsNotProductNotFound(t *testing.T) {
	client := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "no such route", http.StatusNotFound)
	})
	ctx := context.Background()

	_, err := client.ListProducts(ctx, domain.ProductQuery{})
	require.Error(t, err)
	assert.False(t, errors.Is(err, store.ErrProductNotFound))
	assert.Contains(t, err.Error(), "status 404")

	_, err = client.CategoryTree(ctx)
	require.Error(t, err)
	assert.False(t, errors.Is(err, store.ErrProductNotFound))

	_, err = client.CuratedList(ctx, domain.FilterSale, 100)
	require.Error(t, err)
	assert.False(t, errors.Is(err, store.ErrProductNotFound))
}

func TestClient_MalformedBody(t *testing.T) {
	client := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"items":[`))
	})

	_, err := client.CategoryTree(context.Background())

	require.Error(t, err)
	assert.Contains(t, err.Error(), "decode")
}

func TestClient_HonoursContextCancellation(t *testing.T) {
	release := make(chan struct{})
	client := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	})
	defer close(release)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err := client.CategoryTree(ctx)

	require.Error(t, err)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestClient_NotConfigured(t *testing.T) {
	client := NewClient("  ", 0)

	_, err := client.CategoryTree(context.Background())

	assert.ErrorIs(t, err, ErrNotConfigured)
	assert.Equal(t, DefaultTimeout, client.HTTPClient().Timeout)
}
