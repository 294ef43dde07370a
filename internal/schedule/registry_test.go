package schedule

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/bling0390/vivbliss/internal/catalog"
)

// fakeClock hands out strictly increasing timestamps so discovery order is
// observable in tests.
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Unix(1700000000, 0).UTC()}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(time.Second)
	return c.now
}

func newTestRegistry() *Registry {
	return NewRegistry(newFakeClock(), zap.NewNop())
}

func TestRegistryRegisterDirectoryIdempotent(t *testing.T) {
	t.Parallel()

	r := newTestRegistry()
	r.RegisterDirectory("/clothing", 1, "")
	r.RegisterDirectory("/clothing", 2, "/other")

	progress, ok := r.Progress("/clothing")
	require.True(t, ok)
	require.Equal(t, 1, progress.Level)
	require.Equal(t, catalog.DirectoryDiscovered, progress.Status)
	require.Equal(t, 1, r.Stats().DirectoriesDiscovered)
}

func TestRegistryRegisterProductAutoRegistersDirectory(t *testing.T) {
	t.Parallel()

	r := newTestRegistry()
	require.True(t, r.RegisterProduct("/shoes", "fp-1"))
	require.False(t, r.RegisterProduct("/shoes", "fp-1"))

	progress, ok := r.Progress("/shoes")
	require.True(t, ok)
	require.Equal(t, 1, progress.Level)
	require.Equal(t, 1, progress.Total)
}

func TestRegistryCompletionGate(t *testing.T) {
	t.Parallel()

	r := newTestRegistry()
	r.RegisterDirectory("/electronics", 1, "")
	fingerprints := []string{"fp-1", "fp-2", "fp-3"}
	for _, fp := range fingerprints {
		r.RegisterProduct("/electronics", fp)
	}

	lastRate := 0.0
	known, completedDir := r.CompleteProduct("fp-1")
	require.True(t, known)
	require.Empty(t, completedDir)

	progress, _ := r.Progress("/electronics")
	require.GreaterOrEqual(t, progress.CompletionRate, lastRate)
	lastRate = progress.CompletionRate

	known, completedDir = r.FailProduct("fp-2")
	require.True(t, known)
	require.Empty(t, completedDir)

	progress, _ = r.Progress("/electronics")
	require.GreaterOrEqual(t, progress.CompletionRate, lastRate)
	require.NotEqual(t, catalog.DirectoryCompleted, progress.Status)

	known, completedDir = r.CompleteProduct("fp-3")
	require.True(t, known)
	require.Equal(t, "/electronics", completedDir)

	progress, _ = r.Progress("/electronics")
	require.Equal(t, catalog.DirectoryCompleted, progress.Status)
	require.InDelta(t, 1.0, progress.CompletionRate, 1e-9)
	require.Equal(t, 0, progress.Remaining)
}

func TestRegistryUnknownFingerprintIsNoOp(t *testing.T) {
	t.Parallel()

	r := newTestRegistry()
	known, completedDir := r.CompleteProduct("never-admitted")
	require.False(t, known)
	require.Empty(t, completedDir)

	known, _ = r.FailProduct("never-admitted")
	require.False(t, known)
	require.Equal(t, catalog.DirectoryStats{}, r.Stats())
}

func TestRegistryDuplicateTerminalReportDoesNotCorruptCounters(t *testing.T) {
	t.Parallel()

	r := newTestRegistry()
	r.RegisterProduct("/books", "fp-1")
	r.RegisterProduct("/books", "fp-2")

	known, _ := r.CompleteProduct("fp-1")
	require.True(t, known)
	known, _ = r.CompleteProduct("fp-1")
	require.False(t, known)
	known, _ = r.FailProduct("fp-1")
	require.False(t, known)

	progress, _ := r.Progress("/books")
	require.Equal(t, 1, progress.Completed)
	require.Equal(t, 0, progress.Failed)
	require.LessOrEqual(t, progress.CompletionRate, 1.0)
	require.NotEqual(t, catalog.DirectoryCompleted, progress.Status)
}

func TestRegistryPrioritySelection(t *testing.T) {
	t.Parallel()

	r := newTestRegistry()
	r.RegisterDirectory("/deep/sub", 3, "/deep")
	r.RegisterDirectory("/shallow", 1, "")
	r.RegisterDirectory("/mid", 2, "")

	path, ok := r.NextPriorityDirectory()
	require.True(t, ok)
	require.Equal(t, "/shallow", path)

	// Sticky: the active directory wins until it completes.
	path, ok = r.NextPriorityDirectory()
	require.True(t, ok)
	require.Equal(t, "/shallow", path)

	r.RegisterProduct("/shallow", "fp-1")
	_, completedDir := r.CompleteProduct("fp-1")
	require.Equal(t, "/shallow", completedDir)

	path, ok = r.NextPriorityDirectory()
	require.True(t, ok)
	require.Equal(t, "/mid", path)
}

func TestRegistryPriorityTieBrokenByDiscoveryOrder(t *testing.T) {
	t.Parallel()

	r := newTestRegistry()
	r.RegisterDirectory("/second", 2, "")
	r.RegisterDirectory("/first", 2, "")

	path, ok := r.NextPriorityDirectory()
	require.True(t, ok)
	require.Equal(t, "/second", path)
}

func TestRegistryNoneSentinelWhenAllCompleted(t *testing.T) {
	t.Parallel()

	r := newTestRegistry()
	r.RegisterProduct("/only", "fp-1")
	_, completedDir := r.CompleteProduct("fp-1")
	require.Equal(t, "/only", completedDir)

	path, ok := r.NextPriorityDirectory()
	require.False(t, ok)
	require.Empty(t, path)
}

func TestRegistryCompletedDirectoryNeverReverts(t *testing.T) {
	t.Parallel()

	r := newTestRegistry()
	r.RegisterProduct("/toys", "fp-1")
	_, completedDir := r.CompleteProduct("fp-1")
	require.Equal(t, "/toys", completedDir)

	// Late discovery still updates bookkeeping but must not revert status,
	// and the registry must never re-select the directory for priority.
	require.True(t, r.RegisterProduct("/toys", "fp-late"))
	progress, _ := r.Progress("/toys")
	require.Equal(t, catalog.DirectoryCompleted, progress.Status)
	require.Equal(t, 2, progress.Total)

	path, ok := r.NextPriorityDirectory()
	require.False(t, ok)
	require.Empty(t, path)
}

func TestRegistryCloseDirectoryCompletesEmptyDirectory(t *testing.T) {
	t.Parallel()

	r := newTestRegistry()
	r.RegisterDirectory("/empty", 1, "")

	// Zero-product directories are never auto-completed.
	path, ok := r.NextPriorityDirectory()
	require.True(t, ok)
	require.Equal(t, "/empty", path)

	require.True(t, r.CloseDirectory("/empty"))
	require.True(t, r.IsCompleted("/empty"))
	require.False(t, r.CloseDirectory("/unknown"))

	_, ok = r.NextPriorityDirectory()
	require.False(t, ok)
}

func TestRegistryProgressReportOrder(t *testing.T) {
	t.Parallel()

	r := newTestRegistry()
	r.RegisterDirectory("/a", 2, "")
	r.RegisterDirectory("/b", 1, "")
	r.RegisterProduct("/b", "fp-b1")
	r.RegisterProduct("/a", "fp-a1")
	r.RegisterProduct("/a", "fp-a2")
	_, _ = r.CompleteProduct("fp-a1")

	report := r.ProgressReport()
	require.Len(t, report, 2)
	require.Equal(t, "/b", report[0].Path)
	require.Equal(t, "/a", report[1].Path)
	require.InDelta(t, 0.5, report[1].CompletionRate, 1e-9)
}

func TestRegistryEmptyIdentifiersPanic(t *testing.T) {
	t.Parallel()

	r := newTestRegistry()
	require.Panics(t, func() { r.RegisterDirectory("", 1, "") })
	require.Panics(t, func() { r.RegisterProduct("/x", "") })
	require.Panics(t, func() { r.CompleteProduct("") })
}
