package dispatcher

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/bling0390/vivbliss/internal/catalog"
	"github.com/bling0390/vivbliss/internal/clock/system"
	"github.com/bling0390/vivbliss/internal/hash/sha256"
	memorypub "github.com/bling0390/vivbliss/internal/publisher/memory"
	"github.com/bling0390/vivbliss/internal/schedule"
	memorystore "github.com/bling0390/vivbliss/internal/storage/memory"
	"github.com/bling0390/vivbliss/internal/worker"
)

type siteFetcher struct {
	pages map[string]string
}

func (f *siteFetcher) Fetch(_ context.Context, request catalog.FetchRequest) (catalog.FetchResponse, error) {
	body, ok := f.pages[request.URL]
	if !ok {
		return catalog.FetchResponse{URL: request.URL, StatusCode: 404}, fmt.Errorf("no page for %s", request.URL)
	}
	return catalog.FetchResponse{URL: request.URL, StatusCode: 200, Body: []byte(body)}, nil
}

func TestRunDrainsAndStops(t *testing.T) {
	logger := zap.NewNop()
	registry := schedule.NewRegistry(system.New(), logger)
	queue := schedule.NewWorkQueue(logger)
	scheduler := schedule.NewScheduler(registry, queue, logger)
	store := memorystore.NewCatalogStore()

	pages := map[string]string{
		"https://shop.test/toys": `<html><body>
<div class="product-item"><a href="/product/bear">Bear</a></div>
</body></html>`,
		"https://shop.test/product/bear": `<html><body><h1 class="product-title">Bear</h1></body></html>`,
	}

	opts := worker.Options{
		SessionID:    "session",
		Scheduler:    scheduler,
		Fetcher:      &siteFetcher{pages: pages},
		Store:        store,
		Blobs:        memorystore.NewBlobStore(),
		Publisher:    memorypub.New(),
		Hasher:       sha256.New(),
		Clock:        system.New(),
		Logger:       logger,
		Topic:        "catalog-events",
		ContentType:  "text/html",
		PollInterval: time.Millisecond,
		MaxDepth:     4,
	}

	scheduler.DiscoverDirectory("/toys", 1, "")
	fp, err := sha256.New().Hash([]byte("https://shop.test/toys"))
	require.NoError(t, err)
	scheduler.AddCategoryWork(fp, catalog.CategoryPage{URL: "https://shop.test/toys", Path: "/toys", Level: 1})

	d := New(Config{Concurrency: 3, IdleShutdown: 100 * time.Millisecond}, opts, scheduler, system.New(), logger)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	require.NoError(t, d.Run(ctx))

	prog, ok := scheduler.Progress("/toys")
	require.True(t, ok)
	require.Equal(t, catalog.DirectoryCompleted, prog.Status)

	_, ok = store.Product("https://shop.test/product/bear")
	require.True(t, ok)
}

func TestRunHonorsExternalCancel(t *testing.T) {
	logger := zap.NewNop()
	registry := schedule.NewRegistry(system.New(), logger)
	queue := schedule.NewWorkQueue(logger)
	scheduler := schedule.NewScheduler(registry, queue, logger)

	opts := worker.Options{
		SessionID:    "session",
		Scheduler:    scheduler,
		Fetcher:      &siteFetcher{pages: map[string]string{}},
		Store:        memorystore.NewCatalogStore(),
		Hasher:       sha256.New(),
		Clock:        system.New(),
		Logger:       logger,
		PollInterval: time.Millisecond,
	}

	d := New(Config{Concurrency: 2, IdleShutdown: time.Hour}, opts, scheduler, system.New(), logger)

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(30 * time.Millisecond)
		cancel()
	}()

	err := d.Run(ctx)
	require.ErrorIs(t, err, context.Canceled)
}
