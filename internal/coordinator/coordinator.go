// Package coordinator implements the WatchRoot registry and state machine
// (§4.4): the component callers actually talk to, sitting above the Store,
// Scanner, and Watcher and sequencing them per root.
package coordinator

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/rs/zerolog"

	"github.com/brightframe/filesearch/internal/constants"
	"github.com/brightframe/filesearch/internal/ignore"
	"github.com/brightframe/filesearch/internal/logx"
	"github.com/brightframe/filesearch/internal/scanner"
	"github.com/brightframe/filesearch/internal/store"
	"github.com/brightframe/filesearch/internal/watcher"
)

// Status is the aggregate, point-in-time projection returned by Status().
type Status struct {
	Ready bool
	Roots []store.WatchRoot
}

// rootHandle tracks the live goroutines backing one WatchRoot.
type rootHandle struct {
	watchRoot store.WatchRoot
	cancel    context.CancelFunc
	watcher   *watcher.Watcher
}

// Coordinator owns every watched root's lifecycle and is the only component
// that mutates WatchRoot state transitions.
type Coordinator struct {
	store      *store.Store
	ignores    *ignore.Registry
	scanner    *scanner.Scanner
	scannerCfg scanner.Config
	watcherCfg watcher.Config
	logger     zerolog.Logger

	mu     sync.Mutex
	active map[string]*rootHandle // path -> handle
}

// New builds a Coordinator over an already-opened Store. A single Scanner is
// shared across every root's initial scans, rebuilds, and the shallow
// rescans Watchers enqueue for newly created or moved-in directories.
func New(st *store.Store, ignores *ignore.Registry, scannerCfg scanner.Config, watcherCfg watcher.Config) *Coordinator {
	return &Coordinator{
		store:      st,
		ignores:    ignores,
		scanner:    scanner.New(st, ignores, scannerCfg),
		scannerCfg: scannerCfg,
		watcherCfg: watcherCfg,
		logger:     logx.WithComponent("coordinator"),
		active:     make(map[string]*rootHandle),
	}
}

// AddRoot validates path, persists a new WatchRoot in the scanning state,
// runs an initial scan, and on success attaches a Watcher and transitions to
// watching (§4.4). It returns once the root reaches watching or error.
func (c *Coordinator) AddRoot(ctx context.Context, path string) error {
	abs, err := filepath.Abs(path)
	if err != nil {
		return fmt.Errorf("resolve root path %q: %w", path, err)
	}

	info, err := os.Stat(abs)
	if err != nil {
		return fmt.Errorf("root %q is not accessible: %w", abs, err)
	}
	if !info.IsDir() {
		return fmt.Errorf("root %q is not a directory", abs)
	}

	c.mu.Lock()
	for existing := range c.active {
		if existing == abs || isNestedRoot(existing, abs) {
			c.mu.Unlock()
			return fmt.Errorf("root %q overlaps already-watched root %q", abs, existing)
		}
	}
	c.mu.Unlock()

	wr, err := c.store.InsertWatchRoot(ctx, abs)
	if err != nil {
		return fmt.Errorf("register root %q: %w", abs, err)
	}
	if err := c.store.UpdateWatchRootStatus(ctx, wr.ID, store.StatusScanning, nil); err != nil {
		return fmt.Errorf("mark root %q scanning: %w", abs, err)
	}
	wr.Status = store.StatusScanning

	rootCtx, cancel := context.WithCancel(context.Background())
	handle := &rootHandle{watchRoot: *wr, cancel: cancel}

	c.mu.Lock()
	c.active[abs] = handle
	c.mu.Unlock()

	return c.runInitialScan(ctx, rootCtx, abs, wr.ID)
}

func isNestedRoot(a, b string) bool {
	return strings.HasPrefix(a, b+string(filepath.Separator)) || strings.HasPrefix(b, a+string(filepath.Separator))
}

func (c *Coordinator) runInitialScan(ctx, rootCtx context.Context, abs string, id int64) error {
	logger := logx.WithRoot(c.logger, abs)

	progress, scanErr := c.scanner.Scan(rootCtx, abs)
	if progress != nil {
		total, indexed, _ := progress.Snapshot()
		_ = c.store.UpdateWatchRootCounters(ctx, id, total, indexed)
	}
	if scanErr != nil {
		msg := scanErr.Error()
		_ = c.store.UpdateWatchRootStatus(ctx, id, store.StatusError, &msg)
		logger.Error().Err(scanErr).Msg("initial scan failed")
		return fmt.Errorf("scan root %q: %w", abs, scanErr)
	}
	_ = c.store.MarkWatchRootScanned(ctx, id)

	w, err := watcher.New(c.store, c.ignores, c.scanner, abs, c.watcherCfg)
	if err != nil {
		msg := err.Error()
		_ = c.store.UpdateWatchRootStatus(ctx, id, store.StatusError, &msg)
		return fmt.Errorf("create watcher for %q: %w", abs, err)
	}
	if err := w.Start(rootCtx); err != nil {
		msg := err.Error()
		_ = c.store.UpdateWatchRootStatus(ctx, id, store.StatusError, &msg)
		return fmt.Errorf("start watcher for %q: %w", abs, err)
	}

	c.mu.Lock()
	if handle, ok := c.active[abs]; ok {
		handle.watcher = w
	}
	c.mu.Unlock()

	if err := c.store.UpdateWatchRootStatus(ctx, id, store.StatusWatching, nil); err != nil {
		return fmt.Errorf("finalize root %q status: %w", abs, err)
	}

	go c.watchRescans(w, abs)

	logger.Info().Msg("root watching")
	return nil
}

// watchRescans forwards the Watcher's overflow-triggered rescan requests
// into a full Rebuild of the affected root.
func (c *Coordinator) watchRescans(w *watcher.Watcher, abs string) {
	for req := range w.Rescans {
		c.logger.Warn().Err(req.Reason).Str("root", abs).Msg("rescan requested")
		if err := c.Rebuild(context.Background(), abs); err != nil {
			c.logger.Error().Err(err).Str("root", abs).Msg("rescan failed")
		}
	}
}

// RemoveRoot stops the Watcher, cancels any in-flight scan, clears the
// Store of every entry under path, and drops the WatchRoot row.
func (c *Coordinator) RemoveRoot(ctx context.Context, path string) error {
	abs, err := filepath.Abs(path)
	if err != nil {
		return fmt.Errorf("resolve root path %q: %w", path, err)
	}

	c.mu.Lock()
	handle, ok := c.active[abs]
	delete(c.active, abs)
	c.mu.Unlock()
	if !ok {
		return store.ErrNotFound
	}

	handle.cancel()
	if handle.watcher != nil {
		if err := handle.watcher.Stop(); err != nil {
			c.logger.Warn().Err(err).Str("root", abs).Msg("watcher stop failed")
		}
	}

	if err := c.store.ClearRoot(ctx, abs); err != nil {
		return fmt.Errorf("clear root %q: %w", abs, err)
	}
	if err := c.store.DeleteWatchRoot(ctx, handle.watchRoot.ID); err != nil {
		return fmt.Errorf("delete root %q: %w", abs, err)
	}
	return nil
}

// Rebuild transitions path back to scanning, clears its entries, re-scans,
// and re-attaches a Watcher, exactly mirroring the AddRoot sequence.
func (c *Coordinator) Rebuild(ctx context.Context, path string) error {
	abs, err := filepath.Abs(path)
	if err != nil {
		return fmt.Errorf("resolve root path %q: %w", path, err)
	}

	c.mu.Lock()
	handle, ok := c.active[abs]
	c.mu.Unlock()
	if !ok {
		return store.ErrNotFound
	}

	if handle.watcher != nil {
		if err := handle.watcher.Stop(); err != nil {
			c.logger.Warn().Err(err).Str("root", abs).Msg("watcher stop failed during rebuild")
		}
	}
	handle.cancel()

	if err := c.store.ClearRoot(ctx, abs); err != nil {
		return fmt.Errorf("clear root %q for rebuild: %w", abs, err)
	}
	if err := c.store.UpdateWatchRootStatus(ctx, handle.watchRoot.ID, store.StatusScanning, nil); err != nil {
		return fmt.Errorf("mark root %q scanning: %w", abs, err)
	}

	rootCtx, cancel := context.WithCancel(context.Background())
	newHandle := &rootHandle{watchRoot: handle.watchRoot, cancel: cancel}
	c.mu.Lock()
	c.active[abs] = newHandle
	c.mu.Unlock()

	return c.runInitialScan(ctx, rootCtx, abs, handle.watchRoot.ID)
}

// ListRoots returns every persisted WatchRoot, independent of the in-memory
// active map (§6 list_roots()).
func (c *Coordinator) ListRoots(ctx context.Context) ([]store.WatchRoot, error) {
	roots, err := c.store.ListWatchRoots(ctx)
	if err != nil {
		return nil, fmt.Errorf("list roots: %w", err)
	}
	return roots, nil
}

// Status returns the aggregate readiness projection: ready iff at least one
// root is registered and none is currently scanning (§4.4).
func (c *Coordinator) Status(ctx context.Context) (Status, error) {
	roots, err := c.store.ListWatchRoots(ctx)
	if err != nil {
		return Status{}, fmt.Errorf("list roots: %w", err)
	}
	ready := len(roots) > 0
	for _, r := range roots {
		if r.Status == store.StatusScanning {
			ready = false
			break
		}
	}
	return Status{Ready: ready, Roots: roots}, nil
}

// Search passes q through to the Store after filling in the defaults the
// external interface specifies: count 100 (capped at 10000), sorted by name
// ascending, all kinds (§6).
func (c *Coordinator) Search(ctx context.Context, q store.SearchQuery) (store.SearchResult, error) {
	if q.Limit <= 0 {
		q.Limit = constants.DefaultSearchCount
	}
	if q.Limit > constants.MaxSearchCount {
		q.Limit = constants.MaxSearchCount
	}
	if q.Sort == "" {
		q.Sort = store.SortName
		q.Ascending = true
	}
	if q.Kind == "" {
		q.Kind = store.KindFilterAll
	}
	return c.store.Search(ctx, q)
}

// AddIgnore validates and persists a new ignore pattern, publishing it to
// the live Registry immediately.
func (c *Coordinator) AddIgnore(ctx context.Context, pattern string) error {
	if err := c.ignores.Add(pattern); err != nil {
		return err
	}
	return c.store.InsertIgnorePattern(ctx, pattern)
}

// RemoveIgnore retracts a previously added pattern.
func (c *Coordinator) RemoveIgnore(ctx context.Context, pattern string) error {
	c.ignores.Remove(pattern)
	return c.store.DeleteIgnorePattern(ctx, pattern)
}

// ListIgnores returns the currently active pattern set, in order.
func (c *Coordinator) ListIgnores() []string {
	return c.ignores.Current().Patterns()
}

// AddDefaultIgnores seeds the registry with every pattern in defaults not
// already present, persisting each one (§6 add_default_ignores()).
func (c *Coordinator) AddDefaultIgnores(ctx context.Context, defaults []string) error {
	for _, p := range defaults {
		if err := c.AddIgnore(ctx, p); err != nil {
			return err
		}
	}
	return nil
}
