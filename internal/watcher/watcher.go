// Package watcher implements the incremental, event-driven half of index
// maintenance (§4.3): once a root has been fully scanned, a Watcher
// subscribes to filesystem change notifications for it and applies each
// event to the Store directly, without re-walking the tree.
package watcher

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/cespare/xxhash/v2"
	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"github.com/brightframe/filesearch/internal/ignore"
	"github.com/brightframe/filesearch/internal/logx"
	"github.com/brightframe/filesearch/internal/scanner"
	"github.com/brightframe/filesearch/internal/store"
)

// lockStripes is the number of mutexes a Watcher stripes per-path ordering
// across. Events for the same path always hash to the same stripe, so they
// are applied in the order fsnotify delivered them; events for different
// paths can proceed concurrently.
const lockStripes = 64

// RescanRequest is sent to the Coordinator when a watched root needs a full
// re-scan because incremental updates can no longer be trusted (§7
// NotificationOverflow).
type RescanRequest struct {
	Root   string
	Reason error
}

// Config controls debounce timing and rescan-request throttling.
type Config struct {
	Debounce        time.Duration
	RescanPerSecond float64
	RescanBurst     int

	// RenameWindow bounds how long a Rename-op event (the "moved from" half
	// of a move/rename fsnotify can't otherwise correlate) waits for a
	// paired Create event at the destination before it is applied as a
	// plain delete. Zero uses a multiple of Debounce.
	RenameWindow time.Duration
}

func (c Config) withDefaults() Config {
	if c.Debounce <= 0 {
		c.Debounce = 100 * time.Millisecond
	}
	if c.RescanPerSecond <= 0 {
		c.RescanPerSecond = 0.2
	}
	if c.RescanBurst <= 0 {
		c.RescanBurst = 1
	}
	if c.RenameWindow <= 0 {
		c.RenameWindow = 4 * c.Debounce
	}
	return c
}

// renamePending is a rename-op event awaiting a paired Create at its
// destination. See claimRenameAway.
type renamePending struct {
	path  string
	timer *time.Timer
}

// Watcher maintains the index for one root after its initial scan, applying
// fsnotify events as they arrive.
type Watcher struct {
	store   *store.Store
	ignores *ignore.Registry
	scanner *scanner.Scanner
	cfg     Config
	logger  zerolog.Logger

	fsw *fsnotify.Watcher

	stripes [lockStripes]sync.Mutex
	pending sync.Map // path -> *time.Timer, for debounce

	renameMu    sync.Mutex
	renameQueue []*renamePending

	rescanLimiter *rate.Limiter
	Rescans       chan RescanRequest

	root string

	stop chan struct{}
	done chan struct{}
}

// New builds a Watcher for root. sc performs the shallow rescans triggered by
// directory creates and moves-in (§4.3); it is typically the same Scanner
// the Coordinator uses for full-root scans. Call Start to begin subscribing.
func New(st *store.Store, ignores *ignore.Registry, sc *scanner.Scanner, root string, cfg Config) (*Watcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create fsnotify watcher: %w", err)
	}
	cfg = cfg.withDefaults()
	return &Watcher{
		store:         st,
		ignores:       ignores,
		scanner:       sc,
		cfg:           cfg,
		logger:        logx.WithRoot(logx.WithComponent("watcher"), root),
		fsw:           fsw,
		rescanLimiter: rate.NewLimiter(rate.Limit(cfg.RescanPerSecond), cfg.RescanBurst),
		Rescans:       make(chan RescanRequest, 1),
		root:          root,
		stop:          make(chan struct{}),
		done:          make(chan struct{}),
	}, nil
}

// Start registers root and every non-ignored subdirectory with fsnotify and
// begins the event loop. It returns once the initial subscription walk
// completes; the event loop continues in the background until Stop.
func (w *Watcher) Start(ctx context.Context) error {
	snapshot := w.ignores.Current()
	if err := w.addTree(w.root, snapshot); err != nil {
		return fmt.Errorf("subscribe %q: %w", w.root, err)
	}
	go w.loop(ctx)
	return nil
}

// addTree registers dir and all its non-ignored subdirectories with fsnotify.
// It never touches the index; populating the Store is the Scanner's job.
func (w *Watcher) addTree(dir string, snapshot *ignore.Set) error {
	if err := w.fsw.Add(dir); err != nil {
		return err
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil // a directory that vanished mid-walk isn't fatal here
	}
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		if snapshot.Match(entry.Name()) {
			continue
		}
		if err := w.addTree(filepath.Join(dir, entry.Name()), snapshot); err != nil {
			w.logger.Warn().Err(err).Str("dir", dir).Msg("subscribe subtree failed")
		}
	}
	return nil
}

// Stop tears down the fsnotify subscription and waits for the event loop to
// exit.
func (w *Watcher) Stop() error {
	close(w.stop)
	<-w.done
	return w.fsw.Close()
}

func (w *Watcher) loop(ctx context.Context) {
	defer close(w.done)
	for {
		select {
		case <-ctx.Done():
			return
		case <-w.stop:
			return
		case event, ok := <-w.fsw.Events:
			if !ok {
				return
			}
			w.debounce(ctx, event)
		case err, ok := <-w.fsw.Errors:
			if !ok {
				return
			}
			w.requestRescan(fmt.Errorf("notification overflow: %w", err))
		}
	}
}

// debounce coalesces rapid-fire events on the same path into a single apply,
// per the ~100ms window (§4.3). Each path gets its own timer in pending;
// a new event for the same path resets it.
func (w *Watcher) debounce(ctx context.Context, event fsnotify.Event) {
	path := event.Name
	if v, ok := w.pending.Load(path); ok {
		v.(*time.Timer).Stop()
	}
	timer := time.AfterFunc(w.cfg.Debounce, func() {
		w.pending.Delete(path)
		w.apply(ctx, event)
	})
	w.pending.Store(path, timer)
}

// apply dispatches one coalesced event under the path's lock stripe,
// guaranteeing FIFO ordering of updates to that path (§5).
func (w *Watcher) apply(ctx context.Context, event fsnotify.Event) {
	stripe := &w.stripes[xxhash.Sum64String(event.Name)%lockStripes]
	stripe.Lock()
	defer stripe.Unlock()

	snapshot := w.ignores.Current()
	if snapshot.Match(filepath.Base(event.Name)) {
		return
	}

	switch {
	case event.Op&fsnotify.Rename != 0:
		// fsnotify reports a rename/move as two uncorrelated events: a
		// Rename op at the old path, then (if the destination is also
		// watched) a Create op at the new one. There's no cookie linking
		// them, so track this as the most recent move-away and give a
		// paired Create a window to claim it before treating it as a
		// plain delete (§4.3 "move out of all roots").
		w.trackRenameAway(ctx, event.Name)
	case event.Op&fsnotify.Remove != 0:
		w.handleRemoval(ctx, event.Name)
	case event.Op&fsnotify.Create != 0:
		w.handleCreate(ctx, event.Name, snapshot)
	case event.Op&fsnotify.Write != 0:
		w.handleWrite(ctx, event.Name)
	}
}

// trackRenameAway records path as having just been moved away from. If no
// Create event claims it as a destination within cfg.RenameWindow, it is
// applied as a delete.
func (w *Watcher) trackRenameAway(ctx context.Context, path string) {
	rp := &renamePending{path: path}
	rp.timer = time.AfterFunc(w.cfg.RenameWindow, func() {
		if w.dropRenameAway(rp) {
			w.handleRemoval(ctx, path)
		}
	})

	w.renameMu.Lock()
	w.renameQueue = append(w.renameQueue, rp)
	w.renameMu.Unlock()
}

// dropRenameAway removes rp from the pending queue if it is still there
// (i.e. it timed out unclaimed), reporting whether it did so.
func (w *Watcher) dropRenameAway(rp *renamePending) bool {
	w.renameMu.Lock()
	defer w.renameMu.Unlock()
	for i, e := range w.renameQueue {
		if e == rp {
			w.renameQueue = append(w.renameQueue[:i], w.renameQueue[i+1:]...)
			return true
		}
	}
	return false
}

// claimRenameAway pops the oldest pending move-away path, if one is still
// waiting, to pair with a Create event arriving at a new path.
func (w *Watcher) claimRenameAway() (string, bool) {
	w.renameMu.Lock()
	defer w.renameMu.Unlock()
	if len(w.renameQueue) == 0 {
		return "", false
	}
	rp := w.renameQueue[0]
	w.renameQueue = w.renameQueue[1:]
	rp.timer.Stop()
	return rp.path, true
}

func (w *Watcher) handleRemoval(ctx context.Context, path string) {
	if err := w.store.DeleteSubtree(ctx, path); err != nil {
		w.logger.Warn().Err(err).Str("path", path).Msg("remove failed")
		w.requestRescan(err)
	}
}

func (w *Watcher) handleCreate(ctx context.Context, path string, snapshot *ignore.Set) {
	if oldPath, ok := w.claimRenameAway(); ok {
		w.handleRenameInto(ctx, oldPath, path, snapshot)
		return
	}

	info, err := os.Lstat(path)
	if err != nil {
		return // raced with a fast delete; nothing to index
	}
	if info.Mode()&os.ModeSymlink != 0 {
		return
	}

	entry := store.FileEntry{
		Name:       filepath.Base(path),
		Path:       path,
		ParentPath: filepath.Dir(path),
		MTime:      mtimeSeconds(info),
	}
	if info.IsDir() {
		entry.Kind = store.KindDirectory
	} else {
		entry.Kind = store.KindFile
		entry.Size = info.Size()
	}

	if err := w.store.UpsertMany(ctx, []store.FileEntry{entry}); err != nil {
		w.logger.Warn().Err(err).Str("path", path).Msg("index create failed")
		w.requestRescan(err)
		return
	}

	if info.IsDir() {
		if err := w.fsw.Add(path); err != nil {
			w.logger.Warn().Err(err).Str("path", path).Msg("subscribe new directory failed")
		}
		// §4.3: a newly created (or moved-in) directory is not enumerated
		// here. Its contents are handed to the Scanner pool as a shallow
		// rescan of just this subtree, and fsnotify subscriptions for its
		// descendants follow once that rescan has populated them.
		go w.rescanSubtree(ctx, path, snapshot)
	}
}

// handleRenameInto applies a move/rename whose destination just appeared as
// oldPath -> newPath, cascading the path change to every descendant already
// indexed under oldPath (§4.3 "move src->dst both inside a root").
func (w *Watcher) handleRenameInto(ctx context.Context, oldPath, newPath string, snapshot *ignore.Set) {
	info, err := os.Lstat(newPath)
	if err != nil {
		// The destination is already gone; nothing to rename into, so the
		// source is simply gone too.
		w.handleRemoval(ctx, oldPath)
		return
	}

	if err := w.store.Rename(ctx, oldPath, newPath); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			// oldPath was never indexed (e.g. it matched an ignore
			// pattern); treat the destination as a fresh create instead.
			w.handleCreate(ctx, newPath, snapshot)
			return
		}
		w.logger.Warn().Err(err).Str("old_path", oldPath).Str("new_path", newPath).Msg("rename failed")
		w.requestRescan(err)
		return
	}

	if info.IsDir() {
		_ = w.fsw.Remove(oldPath)
		if err := w.addTree(newPath, snapshot); err != nil {
			w.logger.Warn().Err(err).Str("path", newPath).Msg("resubscribe renamed subtree failed")
		}
	}
}

// rescanSubtree indexes a newly created or moved-in directory's contents via
// the Scanner pool, then subscribes fsnotify to whatever it finds.
func (w *Watcher) rescanSubtree(ctx context.Context, path string, snapshot *ignore.Set) {
	if _, err := w.scanner.Scan(ctx, path); err != nil {
		w.logger.Warn().Err(err).Str("path", path).Msg("shallow rescan failed")
		w.requestRescan(err)
		return
	}
	if err := w.addTree(path, snapshot); err != nil {
		w.logger.Warn().Err(err).Str("path", path).Msg("subscribe rescanned subtree failed")
	}
}

func (w *Watcher) handleWrite(ctx context.Context, path string) {
	info, err := os.Lstat(path)
	if err != nil || info.IsDir() {
		return
	}
	entry := store.FileEntry{
		Name:       filepath.Base(path),
		Path:       path,
		ParentPath: filepath.Dir(path),
		Kind:       store.KindFile,
		Size:       info.Size(),
		MTime:      mtimeSeconds(info),
	}
	if err := w.store.UpsertMany(ctx, []store.FileEntry{entry}); err != nil {
		w.logger.Warn().Err(err).Str("path", path).Msg("index write failed")
		w.requestRescan(err)
	}
}

func mtimeSeconds(info os.FileInfo) float64 {
	return float64(info.ModTime().Unix()) + float64(info.ModTime().Nanosecond())/1e9
}

// requestRescan signals the Coordinator that this root needs a full re-scan,
// throttled so a storm of errors can't flood it with duplicate requests.
func (w *Watcher) requestRescan(reason error) {
	if !w.rescanLimiter.Allow() {
		return
	}
	select {
	case w.Rescans <- RescanRequest{Root: w.root, Reason: reason}:
	default:
	}
}
