package domain

import (
	"strings"

	"github.com/shopspring/decimal"
)

// FilterMode selects which product set a catalog view is built from.
type FilterMode string

const (
	FilterNone   FilterMode = ""
	FilterNew    FilterMode = "new"
	FilterSale   FilterMode = "sale"
	FilterPromo  FilterMode = "promo"
	FilterHits   FilterMode = "hits"
	FilterSearch FilterMode = "search"
)

// ParseFilterMode maps a query parameter onto a FilterMode.
// Unknown values report false.
func ParseFilterMode(s string) (FilterMode, bool) {
	switch mode := FilterMode(strings.ToLower(strings.TrimSpace(s))); mode {
	case FilterNone, FilterNew, FilterSale, FilterPromo, FilterHits, FilterSearch:
		return mode, true
	default:
		return FilterNone, false
	}
}

// IsCurated reports whether the mode is served from a server-curated list
// instead of the generic product query.
func (m FilterMode) IsCurated() bool {
	return m == FilterSale || m == FilterPromo || m == FilterHits
}

// CatalogQuery is what a catalog page asks for. It is rebuilt from the navigation
// query parameters on every request and never persisted.
type CatalogQuery struct {
	CategorySlug    string
	SubcategorySlug string
	Mode            FilterMode
	Search          string
	PriceMin        *decimal.Decimal
	PriceMax        *decimal.Decimal
	Page            int
	PageSize        int // 0 selects the default size for Mode.
}

// Sort orders accepted by ProductQuery.
const (
	SortDefault = ""
	SortNewest  = "newest"
)

// ProductQuery is the generic product listing request sent to a ProductSource.
// Every field is optional.
type ProductQuery struct {
	CategorySlug    string
	SubcategorySlug string
	Search          string
	MinPrice        *decimal.Decimal
	MaxPrice        *decimal.Decimal
	Sort            string
	Limit           int
	Offset          int
}

// ProductPage is one page of a generic product listing.
type ProductPage struct {
	Items []Product `json:"items"`
	Total int       `json:"total"`
}
