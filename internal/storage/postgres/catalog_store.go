// Package postgres provides Postgres-backed persistence implementations.
package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/bling0390/vivbliss/internal/catalog"
)

var validTableName = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

// CatalogStoreConfig controls the Postgres connection pool used for
// category and product rows.
type CatalogStoreConfig struct {
	DSN             string
	CategoriesTable string
	ProductsTable   string
	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
}

type execCloser interface {
	Exec(context.Context, string, ...any) (pgconn.CommandTag, error)
	Close()
}

// CatalogStore writes extracted categories and products into Postgres.
type CatalogStore struct {
	pool       execCloser
	categories string
	products   string
}

// NewCatalogStore creates a Postgres-backed CatalogStore using the provided config.
func NewCatalogStore(ctx context.Context, cfg CatalogStoreConfig) (*CatalogStore, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("db.dsn is required")
	}
	categories, products, err := tableNames(cfg.CategoriesTable, cfg.ProductsTable)
	if err != nil {
		return nil, err
	}
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}
	if cfg.MinConns > 0 {
		poolCfg.MinConns = cfg.MinConns
	}
	if cfg.MaxConnLifetime > 0 {
		poolCfg.MaxConnLifetime = cfg.MaxConnLifetime
	}
	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	return &CatalogStore{
		pool:       pool,
		categories: categories,
		products:   products,
	}, nil
}

// NewCatalogStoreWithPool constructs a store from an existing pool (primarily for testing).
func NewCatalogStoreWithPool(pool execCloser, categoriesTable, productsTable string) (*CatalogStore, error) {
	if pool == nil {
		return nil, fmt.Errorf("pool is required")
	}
	categories, products, err := tableNames(categoriesTable, productsTable)
	if err != nil {
		return nil, err
	}
	return &CatalogStore{pool: pool, categories: categories, products: products}, nil
}

func tableNames(categories, products string) (string, string, error) {
	if categories == "" {
		categories = "categories"
	}
	if products == "" {
		products = "products"
	}
	if !validTableName.MatchString(categories) {
		return "", "", fmt.Errorf("invalid table name %q", categories)
	}
	if !validTableName.MatchString(products) {
		return "", "", fmt.Errorf("invalid table name %q", products)
	}
	return categories, products, nil
}

// Close releases the underlying pool resources.
func (s *CatalogStore) Close() {
	if s == nil || s.pool == nil {
		return
	}
	s.pool.Close()
}

// SaveCategory upserts one category row keyed by its directory path.
func (s *CatalogStore) SaveCategory(ctx context.Context, category catalog.Category) error {
	if s == nil || s.pool == nil {
		return fmt.Errorf("catalog store is not configured")
	}
	if category.Path == "" {
		return fmt.Errorf("category path is required")
	}
	query := fmt.Sprintf(`
INSERT INTO %s (
	path,
	name,
	url,
	parent_path,
	level,
	product_count,
	discovered_at
) VALUES (
	$1,$2,$3,$4,$5,$6,$7
)
ON CONFLICT (path) DO UPDATE SET
	name = EXCLUDED.name,
	url = EXCLUDED.url,
	product_count = EXCLUDED.product_count`, s.categories)

	args := []any{
		category.Path,
		category.Name,
		category.URL,
		category.ParentPath,
		category.Level,
		category.ProductCount,
		category.DiscoveredAt,
	}
	if _, err := s.pool.Exec(ctx, query, args...); err != nil {
		return fmt.Errorf("insert category: %w", err)
	}
	return nil
}

// SaveProduct upserts one product row keyed by its URL.
func (s *CatalogStore) SaveProduct(ctx context.Context, product catalog.Product) error {
	if s == nil || s.pool == nil {
		return fmt.Errorf("catalog store is not configured")
	}
	if product.URL == "" {
		return fmt.Errorf("product url is required")
	}
	imagesJSON, err := json.Marshal(normalizeImages(product.ImageURLs))
	if err != nil {
		return fmt.Errorf("marshal image urls: %w", err)
	}
	query := fmt.Sprintf(`
INSERT INTO %s (
	url,
	name,
	sku,
	brand,
	category_path,
	price,
	original_price,
	currency,
	stock_status,
	description,
	image_urls,
	blob_uri,
	content_hash,
	extracted_at
) VALUES (
	$1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14
)
ON CONFLICT (url) DO UPDATE SET
	name = EXCLUDED.name,
	price = EXCLUDED.price,
	original_price = EXCLUDED.original_price,
	stock_status = EXCLUDED.stock_status,
	blob_uri = EXCLUDED.blob_uri,
	content_hash = EXCLUDED.content_hash,
	extracted_at = EXCLUDED.extracted_at`, s.products)

	args := []any{
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
		imagesJSON,
		product.BlobURI,
		product.ContentHash,
		product.ExtractedAt,
	}
	if _, err := s.pool.Exec(ctx, query, args...); err != nil {
		return fmt.Errorf("insert product: %w", err)
	}
	return nil
}

func normalizeImages(urls []string) []string {
	if len(urls) == 0 {
		return []string{}
	}
	return append([]string(nil), urls...)
}
