package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"storefront-service/internal/catalog"
	"storefront-service/internal/commerce"
	"storefront-service/internal/domain"
	"storefront-service/internal/store"
)

// SessionHeader names the client session whose in-flight catalog query a new one supersedes.
const SessionHeader = "X-Session-ID"

const maxPageSize = 100

// Catalog is the read side of the catalog the handlers serve. *catalog.Engine implements it.
type Catalog interface {
	Query(ctx context.Context, q domain.CatalogQuery) (catalog.Result, error)
	CategoryTree(ctx context.Context) ([]domain.Category, error)
	Categories(ctx context.Context) ([]domain.Category, error)
	ProductBySlug(ctx context.Context, slug string) (domain.Product, bool)
	Refresh(ctx context.Context)
}

// HTTPHandler holds dependencies for HTTP handlers.
type HTTPHandler struct {
	catalog  Catalog
	sessions *catalog.Sessions
	stores   *commerce.Registry
	validate *validator.Validate
	logger   *zap.Logger
}

// NewHTTPHandler creates a new HTTPHandler with dependencies. sessions may be nil,
// in which case the session header is ignored.
func NewHTTPHandler(c Catalog, sessions *catalog.Sessions, stores *commerce.Registry, logger *zap.Logger) *HTTPHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &HTTPHandler{
		catalog:  c,
		sessions: sessions,
		stores:   stores,
		validate: validator.New(),
		logger:   logger,
	}
}

// --- Helpers ---

// ErrorResponse defines the structure for JSON error responses.
type ErrorResponse struct {
	Error string `json:"error"`
}

// PaginationInfo describes the page returned in a paginated response.
type PaginationInfo struct {
	Page       int `json:"page"`
	Limit      int `json:"limit"`
	TotalItems int `json:"total_items"`
	TotalPages int `json:"total_pages"`
}

// ProductListResponse is the paginated product listing payload.
type ProductListResponse struct {
	Data       []domain.Product `json:"data"`
	Pagination PaginationInfo   `json:"pagination"`
}

func (h *HTTPHandler) respondWithError(w http.ResponseWriter, code int, message string) {
	h.respondWithJSON(w, code, ErrorResponse{Error: message})
}

func (h *HTTPHandler) respondWithJSON(w http.ResponseWriter, code int, payload any) {
	if payload == nil {
		w.WriteHeader(code)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		h.logger.Error("Failed to encode JSON response", zap.Error(err))
	}
}

// --- Catalog Handlers ---

// parseCatalogQuery maps the navigation query parameters onto a CatalogQuery.
// A non-empty second result describes why the parameters were rejected.
func parseCatalogQuery(qParams url.Values) (domain.CatalogQuery, string) {
	q := domain.CatalogQuery{
		CategorySlug:    strings.TrimSpace(qParams.Get("category")),
		SubcategorySlug: strings.TrimSpace(qParams.Get("subcategory")),
		Search:          strings.TrimSpace(qParams.Get("search")),
	}

	mode, ok := domain.ParseFilterMode(qParams.Get("filter"))
	if !ok {
		return q, "Invalid filter value. Allowed: new, sale, promo, hits, search"
	}
	q.Mode = mode
	if q.SubcategorySlug != "" && q.CategorySlug == "" {
		return q, "subcategory requires category"
	}

	for _, bound := range []struct {
		name string
		dest **decimal.Decimal
	}{{"min_price", &q.PriceMin}, {"max_price", &q.PriceMax}} {
		raw := qParams.Get(bound.name)
		if raw == "" {
			continue
		}
		price, err := decimal.NewFromString(raw)
		if err != nil || price.IsNegative() {
			return q, "Invalid " + bound.name + " format"
		}
		*bound.dest = &price
	}
	if q.PriceMin != nil && q.PriceMax != nil && q.PriceMin.GreaterThan(*q.PriceMax) {
		return q, "min_price cannot exceed max_price"
	}

	page, err := strconv.Atoi(qParams.Get("page"))
	if err != nil || page <= 0 {
		page = 1
	}
	q.Page = page

	if sizeStr := qParams.Get("page_size"); sizeStr != "" {
		size, err := strconv.Atoi(sizeStr)
		if err != nil || size <= 0 {
			return q, "Invalid page_size format"
		}
		q.PageSize = min(size, maxPageSize)
	}
	return q, ""
}

func (h *HTTPHandler) ListProducts(w http.ResponseWriter, r *http.Request) {
	q, problem := parseCatalogQuery(r.URL.Query())
	if problem != "" {
		h.respondWithError(w, http.StatusBadRequest, problem)
		return
	}

	var res catalog.Result
	if session := strings.TrimSpace(r.Header.Get(SessionHeader)); session != "" && h.sessions != nil {
		var ok bool
		res, ok = h.sessions.For(session).Query(r.Context(), q)
		if !ok {
			h.logger.Debug("Catalog query superseded", zap.String("session", session))
			h.respondWithJSON(w, http.StatusNoContent, nil)
			return
		}
	} else {
		var err error
		res, err = h.catalog.Query(r.Context(), q)
		if err != nil {
			h.logger.Warn("Catalog query aborted", zap.Error(err))
			h.respondWithError(w, http.StatusServiceUnavailable, "Request cancelled")
			return
		}
	}

	h.respondWithJSON(w, http.StatusOK, ProductListResponse{
		Data: res.Items,
		Pagination: PaginationInfo{
			Page:       res.Page,
			Limit:      res.PageSize,
			TotalItems: res.Total,
			TotalPages: res.TotalPages,
		},
	})
}

func (h *HTTPHandler) GetProductBySlug(w http.ResponseWriter, r *http.Request) {
	slug := strings.TrimSpace(chi.URLParam(r, "slug"))
	if slug == "" {
		h.respondWithError(w, http.StatusBadRequest, "Invalid product slug")
		return
	}
	product, ok := h.catalog.ProductBySlug(r.Context(), slug)
	if !ok {
		h.respondWithError(w, http.StatusNotFound, store.ErrProductNotFound.Error())
		return
	}
	h.respondWithJSON(w, http.StatusOK, product)
}

func (h *HTTPHandler) ListCategories(w http.ResponseWriter, r *http.Request) {
	categories, err := h.catalog.Categories(r.Context())
	if err != nil {
		h.respondWithError(w, http.StatusServiceUnavailable, "Request cancelled")
		return
	}
	if categories == nil {
		categories = []domain.Category{}
	}
	h.respondWithJSON(w, http.StatusOK, categories)
}

func (h *HTTPHandler) GetCategoryTree(w http.ResponseWriter, r *http.Request) {
	tree, err := h.catalog.CategoryTree(r.Context())
	if err != nil {
		h.respondWithError(w, http.StatusServiceUnavailable, "Request cancelled")
		return
	}
	if tree == nil {
		tree = []domain.Category{}
	}
	h.respondWithJSON(w, http.StatusOK, tree)
}

func (h *HTTPHandler) RefreshCache(w http.ResponseWriter, r *http.Request) {
	h.catalog.Refresh(r.Context())
	h.logger.Info("Results cache refreshed on request")
	h.respondWithJSON(w, http.StatusNoContent, nil)
}

// --- Route Registration ---

// RegisterRoutes sets up the HTTP routes for the service.
func (h *HTTPHandler) RegisterRoutes(r chi.Router) {
	r.Route("/api/v1/catalog", func(r chi.Router) {
		r.Get("/products", h.ListProducts)
		r.Get("/products/{slug}", h.GetProductBySlug)
		r.Get("/categories", h.ListCategories)
		r.Get("/categories/tree", h.GetCategoryTree)
		r.Post("/cache/refresh", h.RefreshCache)
	})

	r.Route("/api/v1/cart", func(r chi.Router) {
		r.Get("/", h.GetCart)
		r.Delete("/", h.ClearCart)
		r.Post("/items", h.AddCartItem)
		r.Route("/items/{productId}", func(r chi.Router) {
			r.Get("/", h.GetCartItem)
			r.Delete("/", h.RemoveCartItem)
			r.Post("/increment", h.IncrementCartItem)
			r.Post("/decrement", h.DecrementCartItem)
		})
	})

	r.Route("/api/v1/favorites", func(r chi.Router) { h.registerSetRoutes(r, h.stores.Favorites) })
	r.Route("/api/v1/comparison", func(r chi.Router) { h.registerSetRoutes(r, h.stores.Comparison) })
}
