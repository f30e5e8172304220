package watcher

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/brightframe/filesearch/internal/ignore"
	"github.com/brightframe/filesearch/internal/scanner"
	"github.com/brightframe/filesearch/internal/store"
)

func newTestStore(t *testing.T) *store.Store {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "index.db")
	db, err := store.Open(dbPath, store.DefaultConfig())
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return store.NewStore(db)
}

// waitFor polls cond every 10ms until it returns true or the deadline passes,
// failing the test on timeout. Watcher application is asynchronous (debounce
// timer + event loop goroutine), so tests observe it by polling rather than
// sleeping a fixed guess.
func waitFor(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	if !cond() {
		t.Fatalf("condition not met within %s", timeout)
	}
}

func startTestWatcher(t *testing.T, st *store.Store, ignores *ignore.Registry, root string) *Watcher {
	t.Helper()
	return startTestWatcherWithConfig(t, st, ignores, root, Config{Debounce: 20 * time.Millisecond})
}

func startTestWatcherWithConfig(t *testing.T, st *store.Store, ignores *ignore.Registry, root string, cfg Config) *Watcher {
	t.Helper()
	sc := scanner.New(st, ignores, scanner.Config{Workers: 2, QueueSize: 16, BatchSize: 4})
	w, err := New(st, ignores, sc, root, cfg)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	if err := w.Start(ctx); err != nil {
		cancel()
		t.Fatalf("Start() error = %v", err)
	}
	t.Cleanup(func() {
		cancel()
		_ = w.Stop()
	})
	return w
}

// TestWatcherIndexesNewFile covers scenario 3 (Incremental create) of §8.
func TestWatcherIndexesNewFile(t *testing.T) {
	t.Parallel()
	root := t.TempDir()
	st := newTestStore(t)
	ignores := ignore.NewRegistry(nil)
	startTestWatcher(t, st, ignores, root)

	if err := os.WriteFile(filepath.Join(root, "new.log"), []byte("hi"), 0o644); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}

	waitFor(t, time.Second, func() bool {
		result, err := st.Search(context.Background(), store.SearchQuery{Query: "new", Limit: 10})
		return err == nil && len(result.Entries) == 1
	})
}

// TestWatcherRemovesDeletedFile applies a delete event through the same
// path as create, verifying the entry disappears from the index.
func TestWatcherRemovesDeletedFile(t *testing.T) {
	t.Parallel()
	root := t.TempDir()
	target := filepath.Join(root, "gone.txt")
	if err := os.WriteFile(target, []byte("x"), 0o644); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}

	st := newTestStore(t)
	ctx := context.Background()
	if err := st.UpsertMany(ctx, []store.FileEntry{
		{Name: "gone.txt", Path: target, Kind: store.KindFile, Size: 1, MTime: 1, ParentPath: root},
	}); err != nil {
		t.Fatalf("UpsertMany() error = %v", err)
	}

	ignores := ignore.NewRegistry(nil)
	startTestWatcher(t, st, ignores, root)

	if err := os.Remove(target); err != nil {
		t.Fatalf("Remove() error = %v", err)
	}

	waitFor(t, time.Second, func() bool {
		_, err := st.Count(ctx)
		if err != nil {
			return false
		}
		result, err := st.Search(ctx, store.SearchQuery{Query: "gone", Limit: 10})
		return err == nil && len(result.Entries) == 0
	})
}

// TestWatcherIgnoresMatchingNewFile covers the event half of scenario 5
// (Ignore): an ignored leaf name is dropped even on create.
func TestWatcherIgnoresMatchingNewFile(t *testing.T) {
	t.Parallel()
	root := t.TempDir()
	st := newTestStore(t)
	ignores := ignore.NewRegistry([]string{"*.tmp"})
	startTestWatcher(t, st, ignores, root)

	if err := os.WriteFile(filepath.Join(root, "scratch.tmp"), []byte("x"), 0o644); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}
	// Give the debounce window and event loop a chance to process the event
	// before asserting the negative — there is no positive signal to wait on.
	time.Sleep(150 * time.Millisecond)

	result, err := st.Search(context.Background(), store.SearchQuery{Query: "scratch", Limit: 10})
	if err != nil {
		t.Fatalf("Search() error = %v", err)
	}
	if len(result.Entries) != 0 {
		t.Fatalf("Search(\"scratch\") = %+v, want no hits for an ignored file", result.Entries)
	}
}

// TestWatcherDebouncesRapidWrites ensures multiple quick writes to the same
// path coalesce into the debounce window rather than each firing its own
// apply (§4.3 Debouncing): the final size on disk is what gets indexed.
func TestWatcherDebouncesRapidWrites(t *testing.T) {
	t.Parallel()
	root := t.TempDir()
	target := filepath.Join(root, "hot.txt")
	if err := os.WriteFile(target, []byte("1"), 0o644); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}

	st := newTestStore(t)
	ignores := ignore.NewRegistry(nil)
	startTestWatcher(t, st, ignores, root)

	for i := 0; i < 5; i++ {
		if err := os.WriteFile(target, []byte("12345"), 0o644); err != nil {
			t.Fatalf("WriteFile() error = %v", err)
		}
		time.Sleep(5 * time.Millisecond)
	}

	waitFor(t, time.Second, func() bool {
		result, err := st.Search(context.Background(), store.SearchQuery{Query: "hot", Limit: 10})
		return err == nil && len(result.Entries) == 1 && result.Entries[0].Size == 5
	})
}

// TestWatcherRenameCascadesDescendants covers the §4.3 "move src->dst both
// inside a root" row: renaming a populated directory must preserve its
// descendants at their new paths, not delete and re-create only the
// top-level entry.
func TestWatcherRenameCascadesDescendants(t *testing.T) {
	t.Parallel()
	root := t.TempDir()
	oldDir := filepath.Join(root, "old")
	newDir := filepath.Join(root, "new")
	if err := os.MkdirAll(oldDir, 0o755); err != nil {
		t.Fatalf("MkdirAll() error = %v", err)
	}
	child := filepath.Join(oldDir, "child.txt")
	if err := os.WriteFile(child, []byte("hello"), 0o644); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}

	st := newTestStore(t)
	ctx := context.Background()
	if err := st.UpsertMany(ctx, []store.FileEntry{
		{Name: "old", Path: oldDir, Kind: store.KindDirectory, MTime: 1, ParentPath: root},
		{Name: "child.txt", Path: child, Kind: store.KindFile, Size: 5, MTime: 1, ParentPath: oldDir},
	}); err != nil {
		t.Fatalf("UpsertMany() error = %v", err)
	}

	ignores := ignore.NewRegistry(nil)
	startTestWatcherWithConfig(t, st, ignores, root, Config{Debounce: 20 * time.Millisecond, RenameWindow: 200 * time.Millisecond})

	if err := os.Rename(oldDir, newDir); err != nil {
		t.Fatalf("Rename() error = %v", err)
	}

	newChild := filepath.Join(newDir, "child.txt")
	waitFor(t, 2*time.Second, func() bool {
		result, err := st.Search(ctx, store.SearchQuery{Query: "child", Limit: 10})
		if err != nil || len(result.Entries) != 1 {
			return false
		}
		return result.Entries[0].Path == newChild
	})

	result, err := st.Search(ctx, store.SearchQuery{Query: "old", Limit: 10})
	if err != nil {
		t.Fatalf("Search() error = %v", err)
	}
	for _, e := range result.Entries {
		if e.Path == oldDir || e.Path == child {
			t.Fatalf("found stale entry %+v after rename, want descendants moved to new paths only", e)
		}
	}
}

// TestWatcherCreateDirectoryRescansDescendants covers the §4.3
// "create (directory)" and "move into a root from outside" rows: a populated
// directory appearing inside a watched root gets its pre-existing contents
// indexed via a shallow rescan, not just its top-level row.
func TestWatcherCreateDirectoryRescansDescendants(t *testing.T) {
	t.Parallel()
	root := t.TempDir()
	staging := t.TempDir()

	populated := filepath.Join(staging, "incoming")
	if err := os.MkdirAll(filepath.Join(populated, "nested"), 0o755); err != nil {
		t.Fatalf("MkdirAll() error = %v", err)
	}
	if err := os.WriteFile(filepath.Join(populated, "top.txt"), []byte("a"), 0o644); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}
	if err := os.WriteFile(filepath.Join(populated, "nested", "deep.txt"), []byte("b"), 0o644); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}

	st := newTestStore(t)
	ignores := ignore.NewRegistry(nil)
	startTestWatcher(t, st, ignores, root)

	dest := filepath.Join(root, "incoming")
	if err := os.Rename(populated, dest); err != nil {
		t.Fatalf("Rename() error = %v", err)
	}

	waitFor(t, 2*time.Second, func() bool {
		result, err := st.Search(context.Background(), store.SearchQuery{Query: "deep", Limit: 10})
		return err == nil && len(result.Entries) == 1
	})

	result, err := st.Search(context.Background(), store.SearchQuery{Query: "top.txt", Limit: 10})
	if err != nil {
		t.Fatalf("Search() error = %v", err)
	}
	if len(result.Entries) != 1 {
		t.Fatalf("Search(\"top.txt\") = %+v, want the pre-existing top-level file indexed", result.Entries)
	}
}
