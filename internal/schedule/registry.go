// Package schedule implements directory-priority work scheduling for the
// catalog crawler: a crawl session must finish extracting every product in a
// directory before advancing to the next one, even though directories and
// products are discovered incrementally and processed concurrently.
package schedule

import (
	"sort"
	"sync"

	"go.uber.org/zap"

	"github.com/bling0390/vivbliss/internal/catalog"
)

// directoryEntry is the registry's internal bookkeeping for one directory.
type directoryEntry struct {
	node         catalog.DirectoryNode
	seq          int
	fingerprints map[string]struct{}
	completed    int
	failed       int
}

func (e *directoryEntry) total() int {
	return len(e.fingerprints)
}

// Registry is the source of truth for the directory tree and per-directory
// completion bookkeeping. It is safe for concurrent use.
type Registry struct {
	clock  catalog.Clock
	logger *zap.Logger

	mu       sync.Mutex
	dirs     map[string]*directoryEntry
	order    []string
	products map[string]string // fingerprint -> owning directory path
	status   map[string]catalog.ProductStatus
	nextSeq  int

	productsDiscovered int
	productsCompleted  int
	productsFailed     int
}

// NewRegistry constructs an empty Registry scoped to one crawl session.
func NewRegistry(clock catalog.Clock, logger *zap.Logger) *Registry {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Registry{
		clock:    clock,
		logger:   logger,
		dirs:     make(map[string]*directoryEntry),
		products: make(map[string]string),
		status:   make(map[string]catalog.ProductStatus),
	}
}

// RegisterDirectory records a newly discovered directory. It is idempotent:
// a second call for an existing path is a no-op and never downgrades status.
func (r *Registry) RegisterDirectory(path string, level int, parentPath string) {
	mustNonEmpty("directory path", path)

	r.mu.Lock()
	defer r.mu.Unlock()
	r.registerDirectoryLocked(path, level, parentPath)
}

func (r *Registry) registerDirectoryLocked(path string, level int, parentPath string) *directoryEntry {
	if entry, ok := r.dirs[path]; ok {
		return entry
	}
	if level < 1 {
		level = 1
	}
	entry := &directoryEntry{
		node: catalog.DirectoryNode{
			Path:         path,
			Level:        level,
			ParentPath:   parentPath,
			DiscoveredAt: r.clock.Now(),
			Status:       catalog.DirectoryDiscovered,
		},
		seq:          r.nextSeq,
		fingerprints: make(map[string]struct{}),
	}
	r.nextSeq++
	r.dirs[path] = entry
	r.order = append(r.order, path)
	r.logger.Info("directory discovered",
		zap.String("path", path),
		zap.Int("level", entry.node.Level),
	)
	return entry
}

// RegisterProduct records a product fingerprint under a directory,
// auto-registering the directory at level 1 when unknown so discovery never
// fails. It returns whether the fingerprint was newly seen for that
// directory; the work queue, not this call, is the authoritative dedup gate.
func (r *Registry) RegisterProduct(path, fingerprint string) bool {
	mustNonEmpty("directory path", path)
	mustNonEmpty("fingerprint", fingerprint)

	r.mu.Lock()
	defer r.mu.Unlock()

	entry := r.registerDirectoryLocked(path, 1, "")
	if _, seen := entry.fingerprints[fingerprint]; seen {
		return false
	}
	entry.fingerprints[fingerprint] = struct{}{}
	r.products[fingerprint] = path
	r.status[fingerprint] = catalog.ProductPending
	r.productsDiscovered++
	r.logger.Debug("product discovered",
		zap.String("directory", path),
		zap.String("fingerprint", fingerprint),
	)
	return true
}

// CompleteProduct marks a product's work as successfully finished. Unknown
// or already terminal fingerprints are tolerated no-ops returning false, so
// duplicate signals from retried fetches never corrupt counters. The second
// return value names the directory that transitioned to Completed as a
// result, or "" when none did.
func (r *Registry) CompleteProduct(fingerprint string) (bool, string) {
	return r.resolveProduct(fingerprint, catalog.ProductCompleted)
}

// FailProduct marks a product's work as terminally failed. It shares
// CompleteProduct's tolerance of unknown and duplicate fingerprints.
func (r *Registry) FailProduct(fingerprint string) (bool, string) {
	return r.resolveProduct(fingerprint, catalog.ProductFailed)
}

func (r *Registry) resolveProduct(fingerprint string, terminal catalog.ProductStatus) (bool, string) {
	mustNonEmpty("fingerprint", fingerprint)

	r.mu.Lock()
	defer r.mu.Unlock()

	path, known := r.products[fingerprint]
	if !known {
		r.logger.Debug("terminal report for unknown fingerprint",
			zap.String("fingerprint", fingerprint),
		)
		return false, ""
	}
	if r.status[fingerprint] != catalog.ProductPending {
		r.logger.Debug("duplicate terminal report",
			zap.String("fingerprint", fingerprint),
			zap.String("status", string(r.status[fingerprint])),
		)
		return false, ""
	}

	entry := r.dirs[path]
	if entry.completed+entry.failed >= entry.total() {
		// Counters are clamped so the completion rate never exceeds 1.0.
		r.logger.Warn("directory counters already at total, skipping increment",
			zap.String("directory", path),
			zap.Int("total", entry.total()),
		)
		r.status[fingerprint] = terminal
		return true, ""
	}

	r.status[fingerprint] = terminal
	switch terminal {
	case catalog.ProductCompleted:
		entry.completed++
		r.productsCompleted++
	case catalog.ProductFailed:
		entry.failed++
		r.productsFailed++
	}

	if r.checkCompletionLocked(entry) {
		return true, path
	}
	return true, ""
}

// checkCompletionLocked flips the directory to Completed when the invariant
// holds: completed+failed >= total and total > 0. Directories with zero
// discovered products are only completed through CloseDirectory.
func (r *Registry) checkCompletionLocked(entry *directoryEntry) bool {
	if entry.node.Status == catalog.DirectoryCompleted {
		return false
	}
	total := entry.total()
	if total == 0 || entry.completed+entry.failed < total {
		return false
	}
	entry.node.Status = catalog.DirectoryCompleted
	r.logger.Info("directory completed",
		zap.String("path", entry.node.Path),
		zap.Int("completed", entry.completed),
		zap.Int("failed", entry.failed),
		zap.Int("total", total),
	)
	return true
}

// CloseDirectory explicitly completes a directory. It exists for directories
// whose discovery finished with zero products, which are never auto-completed;
// it returns false for unknown paths and is a no-op on completed ones.
func (r *Registry) CloseDirectory(path string) bool {
	mustNonEmpty("directory path", path)

	r.mu.Lock()
	defer r.mu.Unlock()

	entry, ok := r.dirs[path]
	if !ok {
		return false
	}
	if entry.node.Status == catalog.DirectoryCompleted {
		return true
	}
	entry.node.Status = catalog.DirectoryCompleted
	r.logger.Info("directory closed",
		zap.String("path", path),
		zap.Int("total", entry.total()),
	)
	return true
}

// IsCompleted reports whether the directory has reached Completed status.
func (r *Registry) IsCompleted(path string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	entry, ok := r.dirs[path]
	return ok && entry.node.Status == catalog.DirectoryCompleted
}

// NextPriorityDirectory returns the directory product work should currently
// favor. An already Active, non-completed directory is returned unchanged to
// avoid thrashing; otherwise the best candidate by (level asc, discovery
// order asc) is promoted to Active. The second return value is false when
// every known directory is completed.
func (r *Registry) NextPriorityDirectory() (string, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, path := range r.order {
		entry := r.dirs[path]
		if entry.node.Status == catalog.DirectoryActive {
			return path, true
		}
	}

	var best *directoryEntry
	for _, path := range r.order {
		entry := r.dirs[path]
		if entry.node.Status == catalog.DirectoryCompleted {
			continue
		}
		if best == nil || entry.node.Level < best.node.Level ||
			(entry.node.Level == best.node.Level && entry.seq < best.seq) {
			best = entry
		}
	}
	if best == nil {
		return "", false
	}
	best.node.Status = catalog.DirectoryActive
	r.logger.Info("directory promoted to priority",
		zap.String("path", best.node.Path),
		zap.Int("level", best.node.Level),
	)
	return best.node.Path, true
}

// Progress returns a snapshot of one directory's completion bookkeeping.
func (r *Registry) Progress(path string) (catalog.DirectoryProgress, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	entry, ok := r.dirs[path]
	if !ok {
		return catalog.DirectoryProgress{}, false
	}
	return r.progressLocked(entry), true
}

func (r *Registry) progressLocked(entry *directoryEntry) catalog.DirectoryProgress {
	total := entry.total()
	resolved := entry.completed + entry.failed
	if resolved > total {
		resolved = total
	}
	remaining := total - resolved
	denom := total
	if denom < 1 {
		denom = 1
	}
	return catalog.DirectoryProgress{
		Path:           entry.node.Path,
		Total:          total,
		Completed:      entry.completed,
		Failed:         entry.failed,
		Remaining:      remaining,
		CompletionRate: float64(resolved) / float64(denom),
		Status:         entry.node.Status,
		Level:          entry.node.Level,
	}
}

// ProgressReport returns progress for every known directory, sorted by
// level ascending then completion rate descending.
func (r *Registry) ProgressReport() []catalog.DirectoryProgress {
	r.mu.Lock()
	defer r.mu.Unlock()

	report := make([]catalog.DirectoryProgress, 0, len(r.order))
	for _, path := range r.order {
		report = append(report, r.progressLocked(r.dirs[path]))
	}
	sort.SliceStable(report, func(i, j int) bool {
		if report[i].Level != report[j].Level {
			return report[i].Level < report[j].Level
		}
		return report[i].CompletionRate > report[j].CompletionRate
	})
	return report
}

// ActiveDirectories returns the Active directory paths in discovery order.
func (r *Registry) ActiveDirectories() []string {
	return r.pathsWithStatus(catalog.DirectoryActive)
}

// CompletedDirectories returns the Completed directory paths in discovery order.
func (r *Registry) CompletedDirectories() []string {
	return r.pathsWithStatus(catalog.DirectoryCompleted)
}

func (r *Registry) pathsWithStatus(status catalog.DirectoryStatus) []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	var out []string
	for _, path := range r.order {
		if r.dirs[path].node.Status == status {
			out = append(out, path)
		}
	}
	return out
}

// Stats returns registry-wide counters.
func (r *Registry) Stats() catalog.DirectoryStats {
	r.mu.Lock()
	defer r.mu.Unlock()

	stats := catalog.DirectoryStats{
		DirectoriesDiscovered: len(r.dirs),
		ProductsDiscovered:    r.productsDiscovered,
		ProductsCompleted:     r.productsCompleted,
		ProductsFailed:        r.productsFailed,
	}
	for _, entry := range r.dirs {
		switch entry.node.Status {
		case catalog.DirectoryActive:
			stats.DirectoriesActive++
		case catalog.DirectoryCompleted:
			stats.DirectoriesCompleted++
		}
	}
	stats.DirectoriesRemaining = stats.DirectoriesDiscovered - stats.DirectoriesCompleted
	return stats
}

func mustNonEmpty(name, value string) {
	if value == "" {
		panic("schedule: " + name + " must not be empty")
	}
}
