// Package memory stores catalog rows and blob content in-memory for
// development and tests.
package memory

import (
	"context"
	"fmt"
	"io"
	"sync"

	"github.com/bling0390/vivbliss/internal/catalog"
)

// CatalogStore keeps categories and products in maps keyed the same way
// the Postgres store keys its rows.
type CatalogStore struct {
	mu         sync.RWMutex
	categories map[string]catalog.Category
	products   map[string]catalog.Product
}

// NewCatalogStore creates an empty in-memory catalog store.
func NewCatalogStore() *CatalogStore {
	return &CatalogStore{
		categories: make(map[string]catalog.Category),
		products:   make(map[string]catalog.Product),
	}
}

// SaveCategory upserts a category keyed by directory path.
func (s *CatalogStore) SaveCategory(_ context.Context, category catalog.Category) error {
	if category.Path == "" {
		return fmt.Errorf("category path is required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.categories[category.Path] = category
	return nil
}

// SaveProduct upserts a product keyed by URL.
func (s *CatalogStore) SaveProduct(_ context.Context, product catalog.Product) error {
	if product.URL == "" {
		return fmt.Errorf("product url is required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.products[product.URL] = product
	return nil
}

// Category returns a stored category by path.
func (s *CatalogStore) Category(path string) (catalog.Category, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	category, ok := s.categories[path]
	return category, ok
}

// Product returns a stored product by URL.
func (s *CatalogStore) Product(url string) (catalog.Product, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	product, ok := s.products[url]
	return product, ok
}

// Counts reports how many categories and products are stored.
func (s *CatalogStore) Counts() (categories, products int) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.categories), len(s.products)
}

// BlobStore stores artifacts in-memory and returns pseudo URIs.
type BlobStore struct {
	mu   sync.RWMutex
	data map[string][]byte
}

// NewBlobStore creates a new in-memory blob store.
func NewBlobStore() *BlobStore {
	return &BlobStore{data: make(map[string][]byte)}
}

// PutObject persists the content and returns a memory:// URI.
func (s *BlobStore) PutObject(_ context.Context, path string, _ string, data io.Reader) (string, error) {
	if path == "" {
		return "", fmt.Errorf("path is required")
	}
	byteData, err := io.ReadAll(data)
	if err != nil {
		return "", fmt.Errorf("read blob data: %w", err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data[path] = append([]byte(nil), byteData...)
	return fmt.Sprintf("memory://%s", path), nil
}

// Object returns previously stored content.
func (s *BlobStore) Object(path string) ([]byte, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	data, ok := s.data[path]
	return data, ok
}
