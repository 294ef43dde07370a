// Package worker drives the crawl pipeline: it pulls scheduled work,
// fetches and parses pages, feeds discoveries back into the scheduler,
// and persists what it extracts.
package worker

import (
	"bytes"
	"context"
	"fmt"
	"net/url"
	"strings"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/bling0390/vivbliss/internal/catalog"
	"github.com/bling0390/vivbliss/internal/extract"
	"github.com/bling0390/vivbliss/internal/metrics"
	"github.com/bling0390/vivbliss/internal/progress"
	"github.com/bling0390/vivbliss/internal/schedule"
)

// Options carries the collaborators and knobs shared by all workers of a
// crawl session.
type Options struct {
	SessionID    string
	Scheduler    *schedule.Scheduler
	Fetcher      catalog.Fetcher
	Store        catalog.CatalogStore
	Blobs        catalog.BlobStore
	Publisher    catalog.Publisher
	Progress     progress.Emitter
	Hasher       catalog.Hasher
	Clock        catalog.Clock
	Logger       *zap.Logger
	Topic        string
	ContentType  string
	PollInterval time.Duration
	MaxDepth     int
}

// Worker processes one stream of scheduled work items.
type Worker struct {
	id   int
	opts Options
	log  *zap.Logger

	// lastActivity is shared across the session's workers so the
	// dispatcher can detect a drained crawl.
	lastActivity *atomic.Int64
}

// New builds a worker. lastActivity may be shared between workers.
func New(id int, opts Options, lastActivity *atomic.Int64) *Worker {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Worker{
		id:           id,
		opts:         opts,
		log:          logger.With(zap.Int("worker", id)),
		lastActivity: lastActivity,
	}
}

// Run polls the scheduler until the context is canceled.
func (w *Worker) Run(ctx context.Context) error {
	metrics.IncActiveWorkers()
	defer metrics.DecActiveWorkers()

	ticker := time.NewTicker(w.opts.PollInterval)
	defer ticker.Stop()

	for {
		item := w.opts.Scheduler.Next()
		if item.IsZero() {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-ticker.C:
				continue
			}
		}

		w.touch()
		w.process(ctx, item)
		w.touch()

		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}
	}
}

func (w *Worker) touch() {
	if w.lastActivity != nil {
		w.lastActivity.Store(w.opts.Clock.Now().UnixNano())
	}
}

func (w *Worker) process(ctx context.Context, item catalog.WorkItem) {
	switch item.Kind {
	case catalog.WorkCategory:
		page, ok := item.Payload.(catalog.CategoryPage)
		if !ok {
			w.log.Warn("category work with unexpected payload",
				zap.String("fingerprint", item.Fingerprint))
			return
		}
		w.processCategory(ctx, page)
	case catalog.WorkProduct:
		page, ok := item.Payload.(catalog.ProductPage)
		if !ok {
			w.log.Warn("product work with unexpected payload",
				zap.String("fingerprint", item.Fingerprint))
			w.opts.Scheduler.ReportFailed(item.Fingerprint)
			return
		}
		w.processProduct(ctx, item.Fingerprint, page)
	case catalog.WorkOther:
		page, ok := item.Payload.(catalog.CategoryPage)
		if !ok {
			w.log.Debug("skipping other work with unexpected payload",
				zap.String("fingerprint", item.Fingerprint))
			return
		}
		w.processCategory(ctx, page)
	default:
		w.log.Warn("unknown work kind", zap.String("kind", string(item.Kind)))
	}
}

func (w *Worker) processCategory(ctx context.Context, pageWork catalog.CategoryPage) {
	resp, err := w.fetch(ctx, pageWork.URL)
	if err != nil {
		w.log.Warn("category fetch failed",
			zap.String("url", pageWork.URL),
			zap.Error(err))
		metrics.ObservePage(pageWork.URL, "category_error", resp.Duration)
		w.closeIfEmpty(pageWork.Path)
		return
	}
	metrics.ObservePage(pageWork.URL, "category", resp.Duration)

	page, err := extract.Parse(resp.URL, resp.Body)
	if err != nil {
		w.log.Warn("category parse failed",
			zap.String("url", pageWork.URL),
			zap.Error(err))
		w.closeIfEmpty(pageWork.Path)
		return
	}

	w.discoverSubcategories(page, pageWork)
	productCount := w.discoverProducts(page, pageWork)

	if err := w.opts.Store.SaveCategory(ctx, catalog.Category{
		Name:         categoryName(pageWork.Path),
		URL:          pageWork.URL,
		Path:         pageWork.Path,
		ParentPath:   pageWork.ParentPath,
		Level:        pageWork.Level,
		ProductCount: productCount,
		DiscoveredAt: w.opts.Clock.Now(),
	}); err != nil {
		w.log.Error("save category failed",
			zap.String("path", pageWork.Path),
			zap.Error(err))
	}

	hasNext := w.enqueueNextPage(page, pageWork)

	if !hasNext {
		w.closeIfEmpty(pageWork.Path)
	}

	w.emit(progress.Event{
		SessionID:  w.opts.SessionID,
		TS:         w.opts.Clock.Now(),
		Stage:      progress.StageFetchDone,
		Directory:  pageWork.Path,
		Level:      pageWork.Level,
		URL:        pageWork.URL,
		StatusCode: resp.StatusCode,
		Dur:        resp.Duration,
	})
}

// closeIfEmpty completes a directory that will never see product reports:
// one whose listing drained, or died, with nothing registered. Left open
// it would pin the priority pointer for the rest of the session.
func (w *Worker) closeIfEmpty(path string) {
	prog, ok := w.opts.Scheduler.Progress(path)
	if !ok || prog.Total > 0 {
		return
	}
	if w.opts.Scheduler.CloseDirectory(path) {
		w.log.Info("closed empty directory", zap.String("path", path))
	}
}

func categoryName(path string) string {
	trimmed := strings.Trim(path, "/")
	if trimmed == "" {
		return "root"
	}
	segments := strings.Split(trimmed, "/")
	return segments[len(segments)-1]
}

func (w *Worker) discoverSubcategories(page *extract.Page, parent catalog.CategoryPage) {
	for _, link := range page.CategoryLinks() {
		normalized, err := catalog.NormalizeURL(link.URL)
		if err != nil {
			continue
		}
		path, level, parentPath, err := extract.DirectoryPath(normalized)
		if err != nil || path == parent.Path {
			continue
		}
		if w.opts.MaxDepth > 0 && level > w.opts.MaxDepth {
			continue
		}
		w.opts.Scheduler.DiscoverDirectory(path, level, parentPath)
		metrics.ObserveDirectory("discovered")
		w.emit(progress.Event{
			SessionID: w.opts.SessionID,
			TS:        w.opts.Clock.Now(),
			Stage:     progress.StageDirectoryFound,
			Directory: path,
			Level:     level,
			URL:       normalized,
		})
		fp, err := w.fingerprint(normalized)
		if err != nil {
			continue
		}
		w.opts.Scheduler.AddCategoryWork(fp, catalog.CategoryPage{
			URL:        normalized,
			Path:       path,
			Level:      level,
			ParentPath: parentPath,
		})
	}
}

func (w *Worker) discoverProducts(page *extract.Page, parent catalog.CategoryPage) int {
	count := 0
	for _, productURL := range page.ProductLinks() {
		normalized, err := catalog.NormalizeURL(productURL)
		if err != nil {
			continue
		}
		fp, err := w.fingerprint(normalized)
		if err != nil {
			continue
		}
		if w.opts.Scheduler.AddProductWork(fp, parent.Path, catalog.ProductPage{
			URL:           normalized,
			DirectoryPath: parent.Path,
		}) {
			count++
		}
	}
	return count
}

func (w *Worker) enqueueNextPage(page *extract.Page, current catalog.CategoryPage) bool {
	next, ok := page.NextPageURL()
	if !ok {
		return false
	}
	normalized, err := catalog.NormalizeURL(next)
	if err != nil {
		return false
	}
	fp, err := w.fingerprint(normalized)
	if err != nil {
		return false
	}
	// Pagination stays in the same directory.
	return w.opts.Scheduler.AddCategoryWork(fp, catalog.CategoryPage{
		URL:        normalized,
		Path:       current.Path,
		Level:      current.Level,
		ParentPath: current.ParentPath,
	})
}

func (w *Worker) processProduct(ctx context.Context, fingerprint string, pageWork catalog.ProductPage) {
	resp, err := w.fetch(ctx, pageWork.URL)
	if err != nil {
		w.log.Warn("product fetch failed",
			zap.String("url", pageWork.URL),
			zap.Error(err))
		w.failProduct(fingerprint, pageWork, err)
		return
	}
	metrics.ObservePage(pageWork.URL, "product", resp.Duration)

	page, err := extract.Parse(resp.URL, resp.Body)
	if err != nil {
		w.failProduct(fingerprint, pageWork, err)
		return
	}
	product, err := page.Product()
	if err != nil {
		w.failProduct(fingerprint, pageWork, err)
		return
	}

	hash, err := w.opts.Hasher.Hash(resp.Body)
	if err != nil {
		w.failProduct(fingerprint, pageWork, err)
		return
	}

	blobURI, err := w.storeSnapshot(ctx, pageWork.URL, hash, resp.Body)
	if err != nil {
		w.log.Warn("snapshot store failed",
			zap.String("url", pageWork.URL),
			zap.Error(err))
		// The extracted row is still worth keeping without the blob.
	}

	product.CategoryPath = pageWork.DirectoryPath
	product.BlobURI = blobURI
	product.ContentHash = hash
	product.ExtractedAt = w.opts.Clock.Now()

	if err := w.opts.Store.SaveProduct(ctx, product); err != nil {
		w.failProduct(fingerprint, pageWork, err)
		return
	}

	if w.opts.Publisher != nil && w.opts.Topic != "" {
		if _, err := w.opts.Publisher.Publish(ctx, w.opts.Topic, map[string]string{
			"event":     "product_saved",
			"url":       product.URL,
			"directory": product.CategoryPath,
			"hash":      product.ContentHash,
		}); err != nil {
			w.log.Warn("publish product event failed", zap.Error(err))
		}
	}

	w.opts.Scheduler.ReportCompleted(fingerprint)
	metrics.ObserveProduct("completed")
	w.emit(progress.Event{
		SessionID:  w.opts.SessionID,
		TS:         w.opts.Clock.Now(),
		Stage:      progress.StageProductSaved,
		Directory:  pageWork.DirectoryPath,
		URL:        pageWork.URL,
		StatusCode: resp.StatusCode,
		Dur:        resp.Duration,
	})
}

func (w *Worker) failProduct(fingerprint string, pageWork catalog.ProductPage, cause error) {
	w.opts.Scheduler.ReportFailed(fingerprint)
	metrics.ObserveProduct("failed")
	w.emit(progress.Event{
		SessionID: w.opts.SessionID,
		TS:        w.opts.Clock.Now(),
		Stage:     progress.StageProductFailed,
		Directory: pageWork.DirectoryPath,
		URL:       pageWork.URL,
		Note:      cause.Error(),
	})
}

func (w *Worker) fetch(ctx context.Context, rawURL string) (catalog.FetchResponse, error) {
	resp, err := w.opts.Fetcher.Fetch(ctx, catalog.FetchRequest{URL: rawURL})
	if err != nil {
		return catalog.FetchResponse{}, err
	}
	if resp.StatusCode >= 400 {
		return resp, fmt.Errorf("fetch %s: status %d", rawURL, resp.StatusCode)
	}
	return resp, nil
}

func (w *Worker) storeSnapshot(ctx context.Context, rawURL, hash string, body []byte) (string, error) {
	if w.opts.Blobs == nil {
		return "", nil
	}
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return "", fmt.Errorf("parse snapshot url: %w", err)
	}
	name := hash
	if len(name) > 16 {
		name = name[:16]
	}
	objectPath := fmt.Sprintf("%s/%s.html", parsed.Hostname(), name)
	return w.opts.Blobs.PutObject(ctx, objectPath, w.opts.ContentType, bytes.NewReader(body))
}

func (w *Worker) fingerprint(normalizedURL string) (string, error) {
	return w.opts.Hasher.Hash([]byte(normalizedURL))
}

func (w *Worker) emit(evt progress.Event) {
	if w.opts.Progress != nil {
		w.opts.Progress.Emit(evt)
	}
}
