package store

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"storefront-service/internal/domain"
)

// Helper function to create a mock DB and PostgresStore for testing
func newMockDBAndStore(t *testing.T) (*sql.DB, sqlmock.Sqlmock, *PostgresStore) {
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err, "Failed to create sqlmock")

	store := NewPostgresStore(db, nil)
	require.NotNil(t, store, "Store should not be nil")

	return db, mock, store
}

var productRowColumns = []string{
	"id", "slug", "name", "price", "old_price", "in_stock", "images",
	"category_id", "category_slug", "category_parent", "brand_id", "brand_slug", "brand_name",
	"is_hit", "created_at",
}

func TestPostgresStore_ListProducts_Filtered(t *testing.T) {
	db, mock, store := newMockDBAndStore(t)
	defer db.Close()

	now := time.Now().Truncate(time.Millisecond)
	minPrice := decimal.NewFromInt(100)

	mock.ExpectQuery(`SELECT COUNT\(\*\)\s+FROM catalog.products p.+WHERE \(p.name ILIKE \$1 OR p.slug ILIKE \$1\) AND \(c.slug = \$2 OR c.parent_id = .+\) AND p.price >= \$3`).
		WithArgs("%phone%", "electronics", minPrice).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(2))

	rows := sqlmock.NewRows(productRowColumns).
		AddRow("p1", "phone-x", "Phone X", "499.90", "599.90", true, "{a.jpg,b.jpg}",
			"c2", "phones", "c1", "b1", "acme", "Acme", false, now).
		AddRow("p2", "phone-y", "Phone Y", "150", nil, false, nil,
			nil, nil, nil, nil, nil, nil, true, now)
	mock.ExpectQuery(`SELECT p.id, p.slug.+ORDER BY p.created_at DESC, p.id ASC LIMIT \$4 OFFSET \$5`).
		WithArgs("%phone%", "electronics", minPrice, 1000, 0).
		WillReturnRows(rows)

	page, err := store.ListProducts(context.Background(), domain.ProductQuery{
		CategorySlug: "electronics",
		Search:       " phone ",
		MinPrice:     &minPrice,
		Sort:         domain.SortNewest,
		Limit:        1000,
	})

	require.NoError(t, err)
	assert.Equal(t, 2, page.Total)
	require.Len(t, page.Items, 2)

	first := page.Items[0]
	assert.Equal(t, "p1", first.ID)
	assert.True(t, first.Price.Equal(decimal.RequireFromString("499.90")))
	require.NotNil(t, first.OldPrice)
	assert.True(t, first.OldPrice.Equal(decimal.RequireFromString("599.90")))
	assert.Equal(t, []string{"a.jpg", "b.jpg"}, first.Images)
	require.NotNil(t, first.Category)
	assert.Equal(t, domain.CategoryRef{ID: "c2", Slug: "phones", ParentID: "c1"}, *first.Category)
	require.NotNil(t, first.Brand)
	assert.Equal(t, "Acme", first.Brand.Name)

	second := page.Items[1]
	assert.Nil(t, second.OldPrice)
	assert.Nil(t, second.Images)
	assert.Nil(t, second.Category)
	assert.Nil(t, second.Brand)
	assert.True(t, second.IsHit)

	require.NoError(t, mock.ExpectationsWereMet(), "SQLmock expectations were not met")
}

func TestPostgresStore_ListProducts_SubcategoryWins(t *testing.T) {
	db, mock, store := newMockDBAndStore(t)
	defer db.Close()

	mock.ExpectQuery(`SELECT COUNT\(\*\).+WHERE c.slug = \$1$`).
		WithArgs("android").
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(0))

	page, err := store.ListProducts(context.Background(), domain.ProductQuery{
		CategorySlug:    "phones",
		SubcategorySlug: "android",
	})

	require.NoError(t, err)
	assert.Equal(t, 0, page.Total)
	assert.NotNil(t, page.Items)
	assert.Empty(t, page.Items)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_ListProducts_CountError(t *testing.T) {
	db, mock, store := newMockDBAndStore(t)
	defer db.Close()

	dbErr := errors.New("connection reset")
	mock.ExpectQuery(`SELECT COUNT\(\*\)`).WillReturnError(dbErr)

	_, err := store.ListProducts(context.Background(), domain.ProductQuery{})

	require.Error(t, err)
	assert.ErrorIs(t, err, dbErr)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_CuratedList(t *testing.T) {
	tests := []struct {
		name      string
		mode      domain.FilterMode
		condition string
	}{
		{"sale", domain.FilterSale, `WHERE p.old_price IS NOT NULL AND p.old_price > p.price`},
		{"promo", domain.FilterPromo, `WHERE p.old_price IS NOT NULL AND p.old_price > p.price`},
		{"hits", domain.FilterHits, `WHERE p.is_hit = TRUE`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			db, mock, store := newMockDBAndStore(t)
			defer db.Close()

			rows := sqlmock.NewRows(productRowColumns).
				AddRow("p1", "p1", "P1", "10", "12", true, nil, nil, nil, nil, nil, nil, nil, true, time.Now())
			mock.ExpectQuery(tt.condition + `.+LIMIT \$1`).
				WithArgs(100).
				WillReturnRows(rows)

			products, err := store.CuratedList(context.Background(), tt.mode, 100)

			require.NoError(t, err)
			require.Len(t, products, 1)
			assert.Equal(t, "p1", products[0].ID)
			require.NoError(t, mock.ExpectationsWereMet())
		})
	}
}

func TestPostgresStore_CuratedList_UnsupportedMode(t *testing.T) {
	db, mock, store := newMockDBAndStore(t)
	defer db.Close()

	products, err := store.CuratedList(context.Background(), domain.FilterNew, 10)

	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrUnsupportedMode))
	assert.Nil(t, products)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_ProductBySlug_Found(t *testing.T) {
	db, mock, store := newMockDBAndStore(t)
	defer db.Close()

	rows := sqlmock.NewRows(productRowColumns).
		AddRow("p1", "phone-x", "Phone X", "499.90", nil, true, "{}", "c2", "phones", nil, nil, nil, nil, false, time.Now())
	mock.ExpectQuery(`WHERE p.slug = \$1`).WithArgs("phone-x").WillReturnRows(rows)

	p, err := store.ProductBySlug(context.Background(), "phone-x")

	require.NoError(t, err)
	require.NotNil(t, p)
	assert.Equal(t, "Phone X", p.Name)
	assert.Nil(t, p.Images)
	require.NotNil(t, p.Category)
	assert.Empty(t, p.Category.ParentID)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_ProductBySlug_NotFound(t *testing.T) {
	db, mock, store := newMockDBAndStore(t)
	defer db.Close()

	mock.ExpectQuery(`WHERE p.slug = \$1`).WithArgs("missing").WillReturnError(sql.ErrNoRows)

	p, err := store.ProductBySlug(context.Background(), "missing")

	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrProductNotFound), "Error should be ErrProductNotFound")
	assert.Nil(t, p)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_CategoryTree(t *testing.T) {
	db, mock, store := newMockDBAndStore(t)
	defer db.Close()

	rows := sqlmock.NewRows([]string{"id", "slug", "name", "parent_id"}).
		AddRow("c3", "android", "Android", "c2").
		AddRow("c1", "electronics", "Electronics", nil).
		AddRow("c2", "phones", "Phones", "c1").
		AddRow("c4", "orphan", "Orphan", "gone")
	mock.ExpectQuery(`SELECT id, slug, name, parent_id\s+FROM catalog.categories`).WillReturnRows(rows)

	tree, err := store.CategoryTree(context.Background())

	require.NoError(t, err)
	require.Len(t, tree, 2)
	assert.Equal(t, "electronics", tree[0].Slug)
	assert.Equal(t, "orphan", tree[1].Slug)
	require.Len(t, tree[0].Children, 1)
	assert.Equal(t, "phones", tree[0].Children[0].Slug)
	require.Len(t, tree[0].Children[0].Children, 1)
	assert.Equal(t, "android", tree[0].Children[0].Children[0].Slug)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_CategoryTree_QueryError(t *testing.T) {
	db, mock, store := newMockDBAndStore(t)
	defer db.Close()

	mock.ExpectQuery(`FROM catalog.categories`).WillReturnError(errors.New("boom"))

	tree, err := store.CategoryTree(context.Background())

	require.Error(t, err)
	assert.Nil(t, tree)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_Close(t *testing.T) {
	_, mock, store := newMockDBAndStore(t)
	mock.ExpectClose()

	require.NoError(t, store.Close())
	require.NoError(t, mock.ExpectationsWereMet())
}
