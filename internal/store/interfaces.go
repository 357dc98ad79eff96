package store

import (
	"context"

	"storefront-service/internal/domain"
)

// ProductSource is the remote product and category collaborator the catalog engine
// reads from. Implementations: PostgresStore here and catalogapi.Client.
type ProductSource interface {
	// ListProducts runs a generic product listing. Every ProductQuery field is optional.
	ListProducts(ctx context.Context, query domain.ProductQuery) (domain.ProductPage, error)
	// CategoryTree returns the full category hierarchy.
	CategoryTree(ctx context.Context) ([]domain.Category, error)
	// CuratedList returns the server-curated list for a sale, promo or hits mode.
	CuratedList(ctx context.Context, mode domain.FilterMode, limit int) ([]domain.Product, error)
	// ProductBySlug returns ErrProductNotFound for unknown slugs.
	ProductBySlug(ctx context.Context, slug string) (*domain.Product, error)
}
