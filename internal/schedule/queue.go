package schedule

import (
	"sync"

	"go.uber.org/zap"

	"github.com/bling0390/vivbliss/internal/catalog"
)

// WorkQueue is an admission-controlled multi-lane FIFO: one global lane for
// category-discovery work, one FIFO per directory for product work, and a
// catch-all lane. A fingerprint is admitted at most once for the lifetime of
// the queue; the duplicate check and the append happen under one lock so
// racing discoveries cannot double-admit. It is safe for concurrent use.
//
// Every admitted item is tracked twice: in its lane and in a global
// admission-order list. Priority dequeues walk the lanes; FIFO dequeues walk
// the global list. Whichever side pops an item leaves a tombstone the other
// side skips, so both views stay consistent with amortized O(1) pops.
type WorkQueue struct {
	logger *zap.Logger

	mu           sync.Mutex
	category     []catalog.WorkItem
	product      map[string][]catalog.WorkItem
	productOrder []string
	other        []catalog.WorkItem

	fifo     []catalog.WorkItem
	fifoHead int

	seen  map[string]struct{}
	taken map[string]struct{}

	categoryCount int
	otherCount    int
	productCounts map[string]int
}

// NewWorkQueue constructs an empty WorkQueue.
func NewWorkQueue(logger *zap.Logger) *WorkQueue {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &WorkQueue{
		logger:        logger,
		product:       make(map[string][]catalog.WorkItem),
		seen:          make(map[string]struct{}),
		taken:         make(map[string]struct{}),
		productCounts: make(map[string]int),
	}
}

// Enqueue admits an item into the lane selected by its Kind. Product items
// are appended to the FIFO of item.DirectoryPath. It returns false when the
// fingerprint was already admitted this session; duplicate admission is not
// an error.
func (q *WorkQueue) Enqueue(item catalog.WorkItem) bool {
	mustNonEmpty("work item fingerprint", item.Fingerprint)
	if item.Kind == catalog.WorkProduct {
		mustNonEmpty("product work directory path", item.DirectoryPath)
	}

	q.mu.Lock()
	defer q.mu.Unlock()

	if _, dup := q.seen[item.Fingerprint]; dup {
		return false
	}
	q.seen[item.Fingerprint] = struct{}{}

	switch item.Kind {
	case catalog.WorkCategory:
		q.category = append(q.category, item)
		q.categoryCount++
	case catalog.WorkProduct:
		if _, ok := q.product[item.DirectoryPath]; !ok {
			q.productOrder = append(q.productOrder, item.DirectoryPath)
		}
		q.product[item.DirectoryPath] = append(q.product[item.DirectoryPath], item)
		q.productCounts[item.DirectoryPath]++
	default:
		q.other = append(q.other, item)
		q.otherCount++
	}
	q.fifo = append(q.fifo, item)

	q.logger.Debug("work admitted",
		zap.String("kind", string(item.Kind)),
		zap.String("fingerprint", item.Fingerprint),
		zap.String("directory", item.DirectoryPath),
	)
	return true
}

// Dequeue pops the next item. With a preferred directory the pop order is:
// that directory's product lane, the category lane, the remaining product
// lanes in directory insertion order, then the catch-all lane. Without one,
// items come back in plain global admission order. The zero WorkItem and
// false are returned when the queue is empty; Dequeue never blocks.
func (q *WorkQueue) Dequeue(preferredDirectory string) (catalog.WorkItem, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if preferredDirectory == "" {
		return q.popFIFOLocked()
	}

	if item, ok := q.popProductLocked(preferredDirectory); ok {
		return item, true
	}
	if item, ok := q.popLaneLocked(&q.category); ok {
		return item, true
	}
	for _, path := range q.productOrder {
		if path == preferredDirectory {
			continue
		}
		if item, ok := q.popProductLocked(path); ok {
			return item, true
		}
	}
	return q.popLaneLocked(&q.other)
}

func (q *WorkQueue) popFIFOLocked() (catalog.WorkItem, bool) {
	for q.fifoHead < len(q.fifo) {
		item := q.fifo[q.fifoHead]
		q.fifoHead++
		if _, gone := q.taken[item.Fingerprint]; gone {
			continue
		}
		q.markTakenLocked(item)
		return item, true
	}
	return catalog.WorkItem{}, false
}

func (q *WorkQueue) popProductLocked(path string) (catalog.WorkItem, bool) {
	lane := q.product[path]
	for len(lane) > 0 {
		item := lane[0]
		lane = lane[1:]
		if _, gone := q.taken[item.Fingerprint]; gone {
			continue
		}
		q.product[path] = lane
		q.markTakenLocked(item)
		return item, true
	}
	q.product[path] = lane
	return catalog.WorkItem{}, false
}

func (q *WorkQueue) popLaneLocked(lane *[]catalog.WorkItem) (catalog.WorkItem, bool) {
	for len(*lane) > 0 {
		item := (*lane)[0]
		*lane = (*lane)[1:]
		if _, gone := q.taken[item.Fingerprint]; gone {
			continue
		}
		q.markTakenLocked(item)
		return item, true
	}
	return catalog.WorkItem{}, false
}

func (q *WorkQueue) markTakenLocked(item catalog.WorkItem) {
	q.taken[item.Fingerprint] = struct{}{}
	switch item.Kind {
	case catalog.WorkCategory:
		q.categoryCount--
	case catalog.WorkProduct:
		q.productCounts[item.DirectoryPath]--
	default:
		q.otherCount--
	}
}

// Len returns the number of queued items across all lanes.
func (q *WorkQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.lenLocked()
}

func (q *WorkQueue) lenLocked() int {
	n := q.categoryCount + q.otherCount
	for _, c := range q.productCounts {
		n += c
	}
	return n
}

// Stats returns per-lane and per-directory depths plus the grand total.
// Drained directory lanes are omitted from the per-directory map.
func (q *WorkQueue) Stats() catalog.QueueStats {
	q.mu.Lock()
	defer q.mu.Unlock()

	perDirectory := make(map[string]int)
	productTotal := 0
	for path, c := range q.productCounts {
		if c == 0 {
			continue
		}
		perDirectory[path] = c
		productTotal += c
	}
	return catalog.QueueStats{
		Category:           q.categoryCount,
		ProductByDirectory: perDirectory,
		ProductTotal:       productTotal,
		Other:              q.otherCount,
		Total:              q.lenLocked(),
	}
}
