// Package catalogapi reads products and categories from the remote catalog JSON API.
package catalogapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"storefront-service/internal/domain"
	"storefront-service/internal/store"
)

// DefaultTimeout bounds every remote catalog call.
const DefaultTimeout = 8 * time.Second

// ErrNotConfigured is returned when the client has no base URL.
var ErrNotConfigured = errors.New("catalogapi: base url not configured")

// Client issues catalog calls against the remote API.
type Client struct {
	baseURL string
	http    *http.Client
}

var _ store.ProductSource = (*Client)(nil)

// NewClient constructs an API client. A timeout <= 0 selects DefaultTimeout.
func NewClient(baseURL string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Client{
		baseURL: strings.TrimRight(strings.TrimSpace(baseURL), "/"),
		http:    &http.Client{Timeout: timeout},
	}
}

// listPayload accepts both {"items","total"} and the paginated {"results","count"} shape.
type listPayload struct {
	Items   []domain.Product `json:"items"`
	Results []domain.Product `json:"results"`
	Total   *int             `json:"total"`
	Count   *int             `json:"count"`
}

func (p listPayload) toPage() domain.ProductPage {
	items := p.Items
	if items == nil {
		items = p.Results
	}
	if items == nil {
		items = []domain.Product{}
	}
	total := len(items)
	switch {
	case p.Total != nil:
		total = *p.Total
	case p.Count != nil:
		total = *p.Count
	}
	return domain.ProductPage{Items: items, Total: total}
}

func (c *Client) ListProducts(ctx context.Context, query domain.ProductQuery) (domain.ProductPage, error) {
	params := url.Values{}
	setIf(params, "category", query.CategorySlug)
	setIf(params, "subcategory", query.SubcategorySlug)
	setIf(params, "search", strings.TrimSpace(query.Search))
	if query.MinPrice != nil {
		params.Set("min_price", query.MinPrice.String())
	}
	if query.MaxPrice != nil {
		params.Set("max_price", query.MaxPrice.String())
	}
	if query.Sort == domain.SortNewest {
		params.Set("ordering", "-created_at")
	}
	if query.Limit > 0 {
		params.Set("limit", strconv.Itoa(query.Limit))
	}
	if query.Offset > 0 {
		params.Set("offset", strconv.Itoa(query.Offset))
	}

	var payload listPayload
	if err := c.getJSON(ctx, "products", params, &payload, nil, "products"); err != nil {
		return domain.ProductPage{}, err
	}
	return payload.toPage(), nil
}

func (c *Client) CategoryTree(ctx context.Context) ([]domain.Category, error) {
	var tree []domain.Category
	if err := c.getJSON(ctx, "categories", nil, &tree, nil, "categories", "tree"); err != nil {
		return nil, err
	}
	if tree == nil {
		tree = []domain.Category{}
	}
	return tree, nil
}

func (c *Client) CuratedList(ctx context.Context, mode domain.FilterMode, limit int) ([]domain.Product, error) {
	if !mode.IsCurated() {
		return nil, fmt.Errorf("%w: %q", store.ErrUnsupportedMode, mode)
	}
	params := url.Values{}
	if limit > 0 {
		params.Set("limit", strconv.Itoa(limit))
	}
	var payload listPayload
	if err := c.getJSON(ctx, "curated "+string(mode), params, &payload, nil, "products", "curated", string(mode)); err != nil {
		return nil, err
	}
	return payload.toPage().Items, nil
}

func (c *Client) ProductBySlug(ctx context.Context, slug string) (*domain.Product, error) {
	slug = strings.TrimSpace(slug)
	if slug == "" {
		return nil, store.ErrProductNotFound
	}
	var p domain.Product
	if err := c.getJSON(ctx, "product", nil, &p, store.ErrProductNotFound, "products", slug); err != nil {
		return nil, err
	}
	if p.ID == "" {
		return nil, store.ErrProductNotFound
	}
	return &p, nil
}

func (c *Client) getJSON(ctx context.Context, op string, params url.Values, dest any, notFound error, elem ...string) error {
	if c == nil || c.baseURL == "" {
		return ErrNotConfigured
	}
	endpoint, err := url.JoinPath(c.baseURL, elem...)
	if err != nil {
		return err
	}
	if len(params) > 0 {
		endpoint += "?" + params.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("catalogapi: %s: %w", op, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode == http.StatusNotFound && notFound != nil {
		return notFound
	}
	if resp.StatusCode >= 400 {
		return fmt.Errorf("catalogapi: %s status %d: %s", op, resp.StatusCode, drainError(resp.Body))
	}
	if err := json.NewDecoder(resp.Body).Decode(dest); err != nil {
		return fmt.Errorf("catalogapi: %s decode: %w", op, err)
	}
	return nil
}

// HTTPClient exposes the underlying client, mainly for tests.
func (c *Client) HTTPClient() *http.Client {
	return c.http
}

func setIf(params url.Values, key, value string) {
	if value != "" {
		params.Set(key, value)
	}
}

func drainError(r io.Reader) string {
	if r == nil {
		return ""
	}
	b, _ := io.ReadAll(io.LimitReader(r, 256))
	return strings.TrimSpace(string(b))
}
