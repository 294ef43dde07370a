package schedule

import (
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/bling0390/vivbliss/internal/catalog"
)

func categoryWork(fp string) catalog.WorkItem {
	return catalog.WorkItem{Kind: catalog.WorkCategory, Fingerprint: fp, Payload: fp}
}

func productWork(fp, dir string) catalog.WorkItem {
	return catalog.WorkItem{Kind: catalog.WorkProduct, Fingerprint: fp, DirectoryPath: dir, Payload: fp}
}

func otherWork(fp string) catalog.WorkItem {
	return catalog.WorkItem{Kind: catalog.WorkOther, Fingerprint: fp, Payload: fp}
}

func TestWorkQueueDeduplicatesAdmission(t *testing.T) {
	t.Parallel()

	q := NewWorkQueue(zap.NewNop())
	require.True(t, q.Enqueue(productWork("fp-1", "/a")))
	require.False(t, q.Enqueue(productWork("fp-1", "/a")))
	require.False(t, q.Enqueue(categoryWork("fp-1")))

	stats := q.Stats()
	require.Equal(t, 1, stats.Total)
	require.Equal(t, 1, stats.ProductByDirectory["/a"])

	_, ok := q.Dequeue("")
	require.True(t, ok)
	_, ok = q.Dequeue("")
	require.False(t, ok)
}

func TestWorkQueueDedupSurvivesDequeue(t *testing.T) {
	t.Parallel()

	q := NewWorkQueue(zap.NewNop())
	require.True(t, q.Enqueue(categoryWork("fp-1")))
	_, ok := q.Dequeue("")
	require.True(t, ok)

	// Admission is at-most-once per session, not per residence in the queue.
	require.False(t, q.Enqueue(categoryWork("fp-1")))
	require.Equal(t, 0, q.Len())
}

func TestWorkQueueConcurrentAdmissionAdmitsOnce(t *testing.T) {
	t.Parallel()

	q := NewWorkQueue(zap.NewNop())
	const goroutines = 32
	admitted := make(chan bool, goroutines)
	var wg sync.WaitGroup
	for i := 0; i < goroutines; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			admitted <- q.Enqueue(productWork("fp-race", "/a"))
		}()
	}
	wg.Wait()
	close(admitted)

	count := 0
	for ok := range admitted {
		if ok {
			count++
		}
	}
	require.Equal(t, 1, count)
	require.Equal(t, 1, q.Len())
}

func TestWorkQueuePreferredDirectoryPopOrder(t *testing.T) {
	t.Parallel()

	q := NewWorkQueue(zap.NewNop())
	q.Enqueue(otherWork("fp-other"))
	q.Enqueue(productWork("fp-b1", "/b"))
	q.Enqueue(categoryWork("fp-cat"))
	q.Enqueue(productWork("fp-a1", "/a"))

	item, ok := q.Dequeue("/a")
	require.True(t, ok)
	require.Equal(t, "fp-a1", item.Fingerprint)

	// Preferred lane drained: category work comes next.
	item, ok = q.Dequeue("/a")
	require.True(t, ok)
	require.Equal(t, "fp-cat", item.Fingerprint)

	// Then remaining product lanes, then the catch-all lane.
	item, ok = q.Dequeue("/a")
	require.True(t, ok)
	require.Equal(t, "fp-b1", item.Fingerprint)

	item, ok = q.Dequeue("/a")
	require.True(t, ok)
	require.Equal(t, "fp-other", item.Fingerprint)

	_, ok = q.Dequeue("/a")
	require.False(t, ok)
}

func TestWorkQueueSecondaryProductLanesInInsertionOrder(t *testing.T) {
	t.Parallel()

	q := NewWorkQueue(zap.NewNop())
	q.Enqueue(productWork("fp-z1", "/z"))
	q.Enqueue(productWork("fp-m1", "/m"))
	q.Enqueue(productWork("fp-z2", "/z"))

	// The earliest-registered lane drains fully before the next one is
	// touched; lanes are walked in insertion order, not round-robin.
	item, _ := q.Dequeue("/missing")
	require.Equal(t, "fp-z1", item.Fingerprint)
	item, _ = q.Dequeue("/missing")
	require.Equal(t, "fp-z2", item.Fingerprint)
	item, _ = q.Dequeue("/missing")
	require.Equal(t, "fp-m1", item.Fingerprint)
}

func TestWorkQueueGlobalFIFOWithoutPreference(t *testing.T) {
	t.Parallel()

	q := NewWorkQueue(zap.NewNop())
	q.Enqueue(productWork("fp-a1", "/a"))
	q.Enqueue(categoryWork("fp-cat"))
	q.Enqueue(productWork("fp-b1", "/b"))
	q.Enqueue(productWork("fp-a2", "/a"))

	var got []string
	for {
		item, ok := q.Dequeue("")
		if !ok {
			break
		}
		got = append(got, item.Fingerprint)
	}
	require.Equal(t, []string{"fp-a1", "fp-cat", "fp-b1", "fp-a2"}, got)
}

func TestWorkQueueMixedDequeueModesStayConsistent(t *testing.T) {
	t.Parallel()

	q := NewWorkQueue(zap.NewNop())
	q.Enqueue(productWork("fp-a1", "/a"))
	q.Enqueue(productWork("fp-a2", "/a"))
	q.Enqueue(categoryWork("fp-cat"))

	// FIFO pop takes the oldest product; a later priority pop must skip it.
	item, _ := q.Dequeue("")
	require.Equal(t, "fp-a1", item.Fingerprint)

	item, _ = q.Dequeue("/a")
	require.Equal(t, "fp-a2", item.Fingerprint)

	item, _ = q.Dequeue("/a")
	require.Equal(t, "fp-cat", item.Fingerprint)

	require.Equal(t, 0, q.Len())
	require.Equal(t, 0, q.Stats().Total)
}

func TestWorkQueueStats(t *testing.T) {
	t.Parallel()

	q := NewWorkQueue(zap.NewNop())
	for i := 0; i < 3; i++ {
		q.Enqueue(productWork(fmt.Sprintf("fp-a%d", i), "/a"))
	}
	q.Enqueue(productWork("fp-b0", "/b"))
	q.Enqueue(categoryWork("fp-cat"))
	q.Enqueue(otherWork("fp-other"))

	stats := q.Stats()
	require.Equal(t, 1, stats.Category)
	require.Equal(t, 1, stats.Other)
	require.Equal(t, 4, stats.ProductTotal)
	require.Equal(t, 3, stats.ProductByDirectory["/a"])
	require.Equal(t, 1, stats.ProductByDirectory["/b"])
	require.Equal(t, 6, stats.Total)
}

func TestWorkQueueRejectsEmptyIdentifiers(t *testing.T) {
	t.Parallel()

	q := NewWorkQueue(zap.NewNop())
	require.Panics(t, func() { q.Enqueue(catalog.WorkItem{Kind: catalog.WorkCategory}) })
	require.Panics(t, func() {
		q.Enqueue(catalog.WorkItem{Kind: catalog.WorkProduct, Fingerprint: "fp"})
	})
}
