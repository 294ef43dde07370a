// Package catalog defines core types shared across subsystems.
package catalog

import (
	"time"
)

// DirectoryStatus represents the lifecycle state of a catalog directory.
type DirectoryStatus string

// Directory status values. Transitions are monotonic: discovered -> active ->
// completed, never backward.
const (
	DirectoryDiscovered DirectoryStatus = "discovered"
	DirectoryActive     DirectoryStatus = "active"
	DirectoryCompleted  DirectoryStatus = "completed"
)

// ProductStatus represents the lifecycle state of one unit of product work.
type ProductStatus string

// Product work status values.
const (
	ProductPending   ProductStatus = "pending"
	ProductCompleted ProductStatus = "completed"
	ProductFailed    ProductStatus = "failed"
)

// DirectoryNode is the registry's record for one category or subcategory in
// the crawl target's hierarchy. Level 1 is the shallowest; ParentPath is a
// reference only, not ownership.
type DirectoryNode struct {
	Path         string          `json:"path"`
	Level        int             `json:"level"`
	ParentPath   string          `json:"parent_path,omitempty"`
	DiscoveredAt time.Time       `json:"discovered_at"`
	Status       DirectoryStatus `json:"status"`
}

// WorkKind tags the variant of a WorkItem.
type WorkKind string

// Work item kinds.
const (
	WorkCategory WorkKind = "category"
	WorkProduct  WorkKind = "product"
	WorkOther    WorkKind = "other"
)

// WorkItem is one unit of crawl work. Product items carry the owning
// directory path; Payload is opaque to the scheduler and only interpreted by
// the crawl workers. Fingerprint is the deterministic admission identifier
// and must be retained by the consumer to report a terminal outcome.
type WorkItem struct {
	Kind          WorkKind
	Fingerprint   string
	DirectoryPath string
	Payload       any
}

// IsZero reports whether the item is the empty sentinel returned when no
// work is ready.
func (w WorkItem) IsZero() bool {
	return w.Kind == "" && w.Fingerprint == ""
}

// CategoryPage is the payload of category-discovery work.
type CategoryPage struct {
	URL        string
	Path       string
	Level      int
	ParentPath string
}

// ProductPage is the payload of product-fetch work.
type ProductPage struct {
	URL           string
	DirectoryPath string
}

// DirectoryProgress is a point-in-time snapshot of one directory's
// completion bookkeeping. CompletionRate is (completed+failed)/max(total,1)
// and stays within [0,1].
type DirectoryProgress struct {
	Path           string          `json:"path"`
	Total          int             `json:"total_products"`
	Completed      int             `json:"completed_products"`
	Failed         int             `json:"failed_products"`
	Remaining      int             `json:"remaining_products"`
	CompletionRate float64         `json:"completion_rate"`
	Status         DirectoryStatus `json:"status"`
	Level          int             `json:"level"`
}

// DirectoryStats aggregates registry-wide counters.
type DirectoryStats struct {
	DirectoriesDiscovered int `json:"directories_discovered"`
	DirectoriesActive     int `json:"directories_active"`
	DirectoriesCompleted  int `json:"directories_completed"`
	DirectoriesRemaining  int `json:"directories_remaining"`
	ProductsDiscovered    int `json:"products_discovered"`
	ProductsCompleted     int `json:"products_completed"`
	ProductsFailed        int `json:"products_failed"`
}

// QueueStats aggregates work-queue depths per lane.
type QueueStats struct {
	Category           int            `json:"category_requests"`
	ProductByDirectory map[string]int `json:"product_requests_by_directory"`
	ProductTotal       int            `json:"total_product_requests"`
	Other              int            `json:"other_requests"`
	Total              int            `json:"total_requests"`
}

// SchedulerStats combines registry and queue views for observability.
type SchedulerStats struct {
	Enabled              bool           `json:"scheduler_enabled"`
	CurrentDirectory     string         `json:"current_priority_directory,omitempty"`
	Directories          DirectoryStats `json:"directory_stats"`
	Queue                QueueStats     `json:"queue_stats"`
	ActiveDirectories    []string       `json:"active_directories"`
	CompletedDirectories []string       `json:"completed_directories"`
}

// Category is an extracted catalog category persisted by the store.
type Category struct {
	Name         string    `json:"name"`
	URL          string    `json:"url"`
	Path         string    `json:"path"`
	ParentPath   string    `json:"parent_path,omitempty"`
	Level        int       `json:"level"`
	ProductCount int       `json:"product_count"`
	DiscoveredAt time.Time `json:"discovered_at"`
}

// Product is an extracted product persisted by the store.
type Product struct {
	Name          string    `json:"name"`
	URL           string    `json:"url"`
	SKU           string    `json:"sku,omitempty"`
	Brand         string    `json:"brand,omitempty"`
	CategoryPath  string    `json:"category_path"`
	Price         string    `json:"price,omitempty"`
	OriginalPrice string    `json:"original_price,omitempty"`
	Currency      string    `json:"currency,omitempty"`
	StockStatus   string    `json:"stock_status,omitempty"`
	Description   string    `json:"description,omitempty"`
	ImageURLs     []string  `json:"image_urls,omitempty"`
	BlobURI       string    `json:"blob_uri,omitempty"`
	ContentHash   string    `json:"content_hash,omitempty"`
	ExtractedAt   time.Time `json:"extracted_at"`
}

// FetchRequest captures everything needed to fetch one page.
type FetchRequest struct {
	URL         string
	UseHeadless bool
}

// FetchResponse is the result returned by a Fetcher implementation.
type FetchResponse struct {
	URL          string
	StatusCode   int
	Body         []byte
	Duration     time.Duration
	UsedHeadless bool
}
