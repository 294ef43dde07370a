package postgres

import (
	"context"
	"testing"
	"time"

	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/require"

	"github.com/bling0390/vivbliss/internal/catalog"
)

func TestSaveCategoryInsertsRow(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	store, err := NewCatalogStoreWithPool(mock, "categories", "products")
	require.NoError(t, err)

	now := time.Unix(1700000000, 0).UTC()
	cat := catalog.Category{
		Name:         "Phones",
		URL:          "https://shop.example.com/electronics/phones",
		Path:         "/electronics/phones",
		ParentPath:   "/electronics",
		Level:        2,
		ProductCount: 12,
		DiscoveredAt: now,
	}

	mock.ExpectExec("INSERT INTO categories").
		WithArgs(
			cat.Path,
			cat.Name,
			cat.URL,
			cat.ParentPath,
			cat.Level,
			cat.ProductCount,
			cat.DiscoveredAt,
		).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	require.NoError(t, store.SaveCategory(context.Background(), cat))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestSaveProductInsertsRow(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	store, err := NewCatalogStoreWithPool(mock, "", "")
	require.NoError(t, err)

	now := time.Unix(1700000000, 0).UTC()
	product := catalog.Product{
		Name:         "Ceramic Mug",
		URL:          "https://shop.example.com/product/mug",
		SKU:          "VB-1042",
		CategoryPath: "/home/kitchen",
		Price:        "$18.00",
		StockStatus:  "in_stock",
		ImageURLs:    []string{"https://shop.example.com/images/mug.jpg"},
		BlobURI:      "gs://bucket/pages/mug.html",
		ContentHash:  "abc123",
		ExtractedAt:  now,
	}

	mock.ExpectExec("INSERT INTO products").
		WithArgs(
			product.URL,
			product.Name,
			product.SKU,
			product.Brand,
			product.CategoryPath,
			product.Price,
			product.OriginalPrice,
			product.Currency,
			product.StockStatus,
			product.Description,
			[]byte(`["https://shop.example.com/images/mug.jpg"]`),
			product.BlobURI,
			product.ContentHash,
			product.ExtractedAt,
		).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	require.NoError(t, store.SaveProduct(context.Background(), product))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestSaveProductRequiresURL(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	store, err := NewCatalogStoreWithPool(mock, "", "")
	require.NoError(t, err)

	require.Error(t, store.SaveProduct(context.Background(), catalog.Product{Name: "no url"}))
}

func TestInvalidTableNameRejected(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	_, err = NewCatalogStoreWithPool(mock, "categories; drop table", "products")
	require.Error(t, err)
}
