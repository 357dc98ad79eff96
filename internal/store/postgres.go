package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/lib/pq"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"storefront-service/internal/domain"
)

// Predefined errors for store operations
var (
	ErrProductNotFound = errors.New("store: product not found")
	ErrUnsupportedMode = errors.New("store: filter mode has no curated list")
)

// productColumns is shared by every product query; scanProduct reads them in this order.
const productColumns = `
	SELECT p.id, p.slug, p.name, p.price, p.old_price, p.in_stock, p.images,
		c.id, c.slug, c.parent_id, b.id, b.slug, b.name, p.is_hit, p.created_at`

const productFrom = `
	FROM catalog.products p
	LEFT JOIN catalog.categories c ON c.id = p.category_id
	LEFT JOIN catalog.brands b ON b.id = p.brand_id`

// PostgresStore implements ProductSource over the catalog schema.
type PostgresStore struct {
	db     *sql.DB
	logger *zap.Logger
}

// NewPostgresStore creates a new PostgresStore instance.
func NewPostgresStore(db *sql.DB, logger *zap.Logger) *PostgresStore {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &PostgresStore{db: db, logger: logger}
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanProduct(row rowScanner) (domain.Product, error) {
	var (
		p                            domain.Product
		oldPrice                     decimal.NullDecimal
		images                       pq.StringArray
		catID, catSlug, catParent    sql.NullString
		brandID, brandSlug, brandNam sql.NullString
	)
	err := row.Scan(
		&p.ID, &p.Slug, &p.Name, &p.Price, &oldPrice, &p.InStock, &images,
		&catID, &catSlug, &catParent, &brandID, &brandSlug, &brandNam,
		&p.IsHit, &p.CreatedAt,
	)
	if err != nil {
		return domain.Product{}, err
	}
	if oldPrice.Valid {
		p.OldPrice = &oldPrice.Decimal
	}
	if len(images) > 0 {
		p.Images = []string(images)
	}
	if catID.Valid || catSlug.Valid {
		p.Category = &domain.CategoryRef{ID: catID.String, Slug: catSlug.String, ParentID: catParent.String}
	}
	if brandID.Valid {
		p.Brand = &domain.BrandRef{ID: brandID.String, Slug: brandSlug.String, Name: brandNam.String}
	}
	return p, nil
}

func (s *PostgresStore) queryProducts(ctx context.Context, op, query string, args ...any) ([]domain.Product, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("store: %s failed to query products: %w", op, err)
	}
	defer rows.Close()

	products := make([]domain.Product, 0)
	for rows.Next() {
		p, err := scanProduct(rows)
		if err != nil {
			return nil, fmt.Errorf("store: %s failed to scan product row: %w", op, err)
		}
		products = append(products, p)
	}
	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("store: %s iteration error: %w", op, err)
	}
	return products, nil
}

func (s *PostgresStore) ListProducts(ctx context.Context, params domain.ProductQuery) (domain.ProductPage, error) {
	var queryArgs []any
	var whereClauses []string
	argID := 1

	if search := strings.TrimSpace(params.Search); search != "" {
		whereClauses = append(whereClauses, fmt.Sprintf("(p.name ILIKE $%d OR p.slug ILIKE $%d)", argID, argID))
		queryArgs = append(queryArgs, "%"+search+"%")
		argID++
	}
	switch {
	case params.SubcategorySlug != "":
		whereClauses = append(whereClauses, fmt.Sprintf("c.slug = $%d", argID))
		queryArgs = append(queryArgs, params.SubcategorySlug)
		argID++
	case params.CategorySlug != "":
		// The parent itself or any of its direct children.
		whereClauses = append(whereClauses, fmt.Sprintf(
			"(c.slug = $%d OR c.parent_id = (SELECT id FROM catalog.categories WHERE slug = $%d))", argID, argID))
		queryArgs = append(queryArgs, params.CategorySlug)
		argID++
	}
	if params.MinPrice != nil {
		whereClauses = append(whereClauses, fmt.Sprintf("p.price >= $%d", argID))
		queryArgs = append(queryArgs, *params.MinPrice)
		argID++
	}
	if params.MaxPrice != nil {
		whereClauses = append(whereClauses, fmt.Sprintf("p.price <= $%d", argID))
		queryArgs = append(queryArgs, *params.MaxPrice)
		argID++
	}

	whereCondition := ""
	if len(whereClauses) > 0 {
		whereCondition = " WHERE " + strings.Join(whereClauses, " AND ")
	}

	countQuery := "SELECT COUNT(*)" + productFrom + whereCondition
	var totalCount int
	if err := s.db.QueryRowContext(ctx, countQuery, queryArgs...).Scan(&totalCount); err != nil {
		return domain.ProductPage{}, fmt.Errorf("store: ListProducts failed to count products: %w", err)
	}
	if totalCount == 0 {
		return domain.ProductPage{Items: []domain.Product{}}, nil
	}

	orderBy := "p.name ASC, p.id ASC"
	if params.Sort == domain.SortNewest {
		orderBy = "p.created_at DESC, p.id ASC"
	}
	limit := params.Limit
	if limit <= 0 {
		limit = totalCount
	}

	dataQuery := fmt.Sprintf("%s%s%s ORDER BY %s LIMIT $%d OFFSET $%d",
		productColumns, productFrom, whereCondition, orderBy, argID, argID+1)
	finalQueryArgs := append(queryArgs, limit, max(params.Offset, 0))

	products, err := s.queryProducts(ctx, "ListProducts", dataQuery, finalQueryArgs...)
	if err != nil {
		return domain.ProductPage{}, err
	}
	return domain.ProductPage{Items: products, Total: totalCount}, nil
}

// CuratedList serves sale and promo from discounted products (old_price above price)
// and hits from products flagged is_hit.
func (s *PostgresStore) CuratedList(ctx context.Context, mode domain.FilterMode, limit int) ([]domain.Product, error) {
	var condition string
	switch mode {
	case domain.FilterSale, domain.FilterPromo:
		condition = "p.old_price IS NOT NULL AND p.old_price > p.price"
	case domain.FilterHits:
		condition = "p.is_hit = TRUE"
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedMode, mode)
	}
	if limit <= 0 {
		return []domain.Product{}, nil
	}
	query := fmt.Sprintf("%s%s WHERE %s ORDER BY p.created_at DESC, p.id ASC LIMIT $1;", productColumns, productFrom, condition)
	return s.queryProducts(ctx, "CuratedList", query, limit)
}

func (s *PostgresStore) ProductBySlug(ctx context.Context, slug string) (*domain.Product, error) {
	query := productColumns + productFrom + " WHERE p.slug = $1;"
	p, err := scanProduct(s.db.QueryRowContext(ctx, query, slug))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrProductNotFound
		}
		return nil, fmt.Errorf("store: ProductBySlug failed to scan row: %w", err)
	}
	return &p, nil
}

func (s *PostgresStore) CategoryTree(ctx context.Context) ([]domain.Category, error) {
	query := `
		SELECT id, slug, name, parent_id
		FROM catalog.categories
		ORDER BY name ASC;
	`
	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("store: CategoryTree failed to query categories: %w", err)
	}
	defer rows.Close()

	var flat []domain.Category
	for rows.Next() {
		var c domain.Category
		var parentID sql.NullString
		if err := rows.Scan(&c.ID, &c.Slug, &c.Name, &parentID); err != nil {
			return nil, fmt.Errorf("store: CategoryTree failed to scan category row: %w", err)
		}
		c.ParentID = parentID.String
		flat = append(flat, c)
	}
	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("store: CategoryTree iteration error: %w", err)
	}
	return domain.BuildTree(flat), nil
}

func (s *PostgresStore) Close() error {
	if s.db == nil {
		return nil
	}
	s.logger.Info("Closing catalog database connection pool")
	if err := s.db.Close(); err != nil {
		s.logger.Error("Failed to close catalog database connection pool", zap.Error(err))
		return err
	}
	return nil
}
