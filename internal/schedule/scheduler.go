package schedule

import (
	"sync"

	"go.uber.org/zap"

	"github.com/bling0390/vivbliss/internal/catalog"
)

// Scheduler ties the registry's priority decisions to the work queue's
// dequeue preference behind a pull-based API. One instance is shared by all
// crawl workers of a session; every operation is CPU-only and non-blocking
// so lock hold times stay short. Construct one per crawl session -- the
// scheduler is never a process-wide singleton.
//
// Consumers must report a terminal outcome exactly once for every item
// returned by Next. The scheduler has no timers and no timeout machinery: an
// item dequeued and never reported stalls its directory's completion, and
// with it priority advancement, until an external watchdog intervenes.
type Scheduler struct {
	registry *Registry
	queue    *WorkQueue
	logger   *zap.Logger

	mu      sync.Mutex
	current string
	enabled bool

	onDirectoryCompleted func(path string)
	onDirectoryActivated func(path string)
}

// NewScheduler composes a registry and a queue into a priority scheduler.
// Priority-aware dequeue starts enabled.
func NewScheduler(registry *Registry, queue *WorkQueue, logger *zap.Logger) *Scheduler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Scheduler{
		registry: registry,
		queue:    queue,
		logger:   logger,
		enabled:  true,
	}
}

// SetDirectoryCompletedFunc registers a callback invoked whenever a terminal
// report completes a directory. The callback runs on the reporting worker's
// goroutine after scheduler locks are released; it is where the surrounding
// engine hooks notifications and persistence, keeping the scheduler itself
// free of I/O.
func (s *Scheduler) SetDirectoryCompletedFunc(fn func(path string)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onDirectoryCompleted = fn
}

// SetDirectoryActivatedFunc registers a callback invoked whenever a
// directory is promoted to the priority slot. Like the completion callback
// it runs after scheduler locks are released, on the polling worker's
// goroutine.
func (s *Scheduler) SetDirectoryActivatedFunc(fn func(path string)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onDirectoryActivated = fn
}

// DiscoverDirectory records a category page discovery.
func (s *Scheduler) DiscoverDirectory(path string, level int, parentPath string) {
	s.registry.RegisterDirectory(path, level, parentPath)
}

// DiscoverProduct records a product discovery for bookkeeping only; it does
// not enqueue work.
func (s *Scheduler) DiscoverProduct(fingerprint, path string) {
	s.registry.RegisterProduct(path, fingerprint)
}

// AddCategoryWork admits category-discovery work. The returned boolean
// reports admission; false means the fingerprint was already seen.
func (s *Scheduler) AddCategoryWork(fingerprint string, payload any) bool {
	return s.queue.Enqueue(catalog.WorkItem{
		Kind:        catalog.WorkCategory,
		Fingerprint: fingerprint,
		Payload:     payload,
	})
}

// AddProductWork registers the product under its directory, then admits the
// fetch work into that directory's lane.
func (s *Scheduler) AddProductWork(fingerprint, directoryPath string, payload any) bool {
	s.registry.RegisterProduct(directoryPath, fingerprint)
	return s.queue.Enqueue(catalog.WorkItem{
		Kind:          catalog.WorkProduct,
		Fingerprint:   fingerprint,
		DirectoryPath: directoryPath,
		Payload:       payload,
	})
}

// AddOtherWork admits catch-all work.
func (s *Scheduler) AddOtherWork(fingerprint string, payload any) bool {
	return s.queue.Enqueue(catalog.WorkItem{
		Kind:        catalog.WorkOther,
		Fingerprint: fingerprint,
		Payload:     payload,
	})
}

// Next returns the next unit of work, or the zero WorkItem when nothing is
// ready; it never blocks and leaves polling cadence to the caller. With
// priority scheduling enabled the current priority directory is recomputed
// lazily here; disabled, Next degrades to plain FIFO admission order.
func (s *Scheduler) Next() catalog.WorkItem {
	s.mu.Lock()
	if !s.enabled {
		s.mu.Unlock()
		item, _ := s.queue.Dequeue("")
		return item
	}
	activated := s.updatePriorityLocked()
	preferred := s.current
	onActivated := s.onDirectoryActivated
	s.mu.Unlock()

	if activated != "" && onActivated != nil {
		onActivated(activated)
	}

	item, ok := s.queue.Dequeue(preferred)
	if ok {
		s.logger.Debug("work dequeued",
			zap.String("kind", string(item.Kind)),
			zap.String("fingerprint", item.Fingerprint),
			zap.String("priority_directory", preferred),
		)
	}
	return item
}

// updatePriorityLocked returns the newly promoted path, or "" when the
// sticky directory is unchanged.
func (s *Scheduler) updatePriorityLocked() string {
	if s.current != "" && s.registry.IsCompleted(s.current) {
		s.current = ""
	}
	if s.current == "" {
		if path, ok := s.registry.NextPriorityDirectory(); ok {
			s.current = path
			s.logger.Info("switched priority directory", zap.String("path", path))
			return path
		}
	}
	return ""
}

// ReportCompleted forwards a successful terminal outcome to the registry.
// Together with ReportFailed it is the only path by which directory status
// advances. Unknown fingerprints are tolerated no-ops.
func (s *Scheduler) ReportCompleted(fingerprint string) {
	_, completedDir := s.registry.CompleteProduct(fingerprint)
	s.notifyCompleted(completedDir)
}

// ReportFailed forwards a failed terminal outcome to the registry. Failed
// products count toward directory completion the same as successes.
func (s *Scheduler) ReportFailed(fingerprint string) {
	_, completedDir := s.registry.FailProduct(fingerprint)
	s.notifyCompleted(completedDir)
}

func (s *Scheduler) notifyCompleted(path string) {
	if path == "" {
		return
	}
	s.mu.Lock()
	fn := s.onDirectoryCompleted
	s.mu.Unlock()
	if fn != nil {
		fn(path)
	}
}

// CloseDirectory explicitly completes a directory; required for directories
// whose discovery finished with zero products.
func (s *Scheduler) CloseDirectory(path string) bool {
	return s.registry.CloseDirectory(path)
}

// Enable turns priority-aware dequeue on.
func (s *Scheduler) Enable() {
	s.setEnabled(true)
}

// Disable falls back to plain FIFO dequeue.
func (s *Scheduler) Disable() {
	s.setEnabled(false)
}

func (s *Scheduler) setEnabled(enabled bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.enabled == enabled {
		return
	}
	s.enabled = enabled
	if !enabled {
		s.current = ""
	}
	s.logger.Info("priority scheduling toggled", zap.Bool("enabled", enabled))
}

// Enabled reports whether priority-aware dequeue is on.
func (s *Scheduler) Enabled() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.enabled
}

// Progress returns the completion snapshot for one directory.
func (s *Scheduler) Progress(path string) (catalog.DirectoryProgress, bool) {
	return s.registry.Progress(path)
}

// ProgressReport returns progress for every directory, sorted by level then
// completion rate.
func (s *Scheduler) ProgressReport() []catalog.DirectoryProgress {
	return s.registry.ProgressReport()
}

// Stats combines the registry and queue views.
func (s *Scheduler) Stats() catalog.SchedulerStats {
	s.mu.Lock()
	enabled := s.enabled
	current := s.current
	s.mu.Unlock()

	return catalog.SchedulerStats{
		Enabled:              enabled,
		CurrentDirectory:     current,
		Directories:          s.registry.Stats(),
		Queue:                s.queue.Stats(),
		ActiveDirectories:    s.registry.ActiveDirectories(),
		CompletedDirectories: s.registry.CompletedDirectories(),
	}
}
