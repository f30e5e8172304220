package scanner

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/brightframe/filesearch/internal/ignore"
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

func mustMkdir(t *testing.T, path string) {
	t.Helper()
	if err := os.MkdirAll(path, 0o755); err != nil {
		t.Fatalf("MkdirAll(%q) error = %v", path, err)
	}
}

func mustWriteFile(t *testing.T, path string, contents string) {
	t.Helper()
	if err := os.WriteFile(path, []byte(contents), 0o644); err != nil {
		t.Fatalf("WriteFile(%q) error = %v", path, err)
	}
}

func TestScanIndexesFilesAndDirectories(t *testing.T) {
	t.Parallel()
	root := t.TempDir()
	mustMkdir(t, filepath.Join(root, "sub"))
	mustWriteFile(t, filepath.Join(root, "a.txt"), "hello")
	mustWriteFile(t, filepath.Join(root, "sub", "b.txt"), "world")

	st := newTestStore(t)
	ignores := ignore.NewRegistry(nil)
	s := New(st, ignores, Config{Workers: 2, QueueSize: 16, BatchSize: 2})

	progress, err := s.Scan(context.Background(), root)
	if err != nil {
		t.Fatalf("Scan() error = %v", err)
	}
	_, indexed, errCount := progress.Snapshot()
	if errCount != 0 {
		t.Errorf("errorCount = %d, want 0", errCount)
	}
	// root + sub + a.txt + b.txt = 4 entries.
	if indexed != 4 {
		t.Errorf("indexed = %d, want 4", indexed)
	}

	n, err := st.Count(context.Background())
	if err != nil {
		t.Fatalf("Count() error = %v", err)
	}
	if n != 4 {
		t.Fatalf("Count() = %d, want 4", n)
	}
}

func TestScanSkipsIgnoredDirectories(t *testing.T) {
	t.Parallel()
	root := t.TempDir()
	mustMkdir(t, filepath.Join(root, "node_modules"))
	mustWriteFile(t, filepath.Join(root, "node_modules", "pkg.json"), "{}")
	mustWriteFile(t, filepath.Join(root, "keep.txt"), "data")

	st := newTestStore(t)
	ignores := ignore.NewRegistry([]string{"node_modules"})
	s := New(st, ignores, Config{Workers: 2, QueueSize: 16, BatchSize: 2})

	if _, err := s.Scan(context.Background(), root); err != nil {
		t.Fatalf("Scan() error = %v", err)
	}

	result, err := st.Search(context.Background(), store.SearchQuery{Query: "", Limit: 100})
	if err != nil {
		t.Fatalf("Search() error = %v", err)
	}
	for _, e := range result.Entries {
		if filepath.Base(filepath.Dir(e.Path)) == "node_modules" || e.Name == "node_modules" {
			t.Errorf("ignored path indexed: %s", e.Path)
		}
	}
	if len(result.Entries) != 2 { // root + keep.txt
		t.Errorf("got %d entries, want 2 (root, keep.txt): %+v", len(result.Entries), result.Entries)
	}
}
