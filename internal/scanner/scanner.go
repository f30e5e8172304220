// Package scanner implements the full-tree crawl that seeds and rebuilds the
// index for one watched root (§4.2): a bounded work queue of directories,
// drained by a small pool of workers that each read one directory at a time,
// push its subdirectories back onto the queue, and batch file/directory
// records up to the Store.
package scanner

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/brightframe/filesearch/internal/constants"
	"github.com/brightframe/filesearch/internal/ignore"
	"github.com/brightframe/filesearch/internal/logx"
	"github.com/brightframe/filesearch/internal/store"
)

// Progress is a lock-free snapshot of an in-flight scan's counters, safe for
// a Coordinator to poll from another goroutine while the scan runs.
type Progress struct {
	totalSeen  atomic.Int64
	indexed    atomic.Int64
	errorCount atomic.Int64
}

// Snapshot returns the current counter values.
func (p *Progress) Snapshot() (totalSeen, indexed, errorCount int64) {
	return p.totalSeen.Load(), p.indexed.Load(), p.errorCount.Load()
}

// Config controls worker and batching behavior; zero-value fields fall back
// to package defaults.
type Config struct {
	Workers   int
	QueueSize int
	BatchSize int
}

func (c Config) withDefaults() Config {
	if c.Workers <= 0 {
		c.Workers = constants.DefaultWorkerCount
	}
	if c.QueueSize <= 0 {
		c.QueueSize = constants.DefaultQueueSize
	}
	if c.BatchSize <= 0 {
		c.BatchSize = constants.DefaultBatchSize
	}
	return c
}

// Scanner crawls one root directory into the Store, honoring the ignore
// snapshot that is current when Scan starts; patterns added or removed during
// a scan take effect from the next scan.
type Scanner struct {
	store   *store.Store
	ignores *ignore.Registry
	cfg     Config
}

// New builds a Scanner over st, consulting ignores for prune decisions.
func New(st *store.Store, ignores *ignore.Registry, cfg Config) *Scanner {
	return &Scanner{store: st, ignores: ignores, cfg: cfg.withDefaults()}
}

// dirJob is one unit of queue work: a directory to read, along with the
// parent path recorded on its own row. The worker that visits it stats the
// directory itself to fill in the rest of that row.
type dirJob struct {
	path       string
	parentPath string
}

// Scan walks root to completion, upserting every non-ignored file and
// directory it finds. It returns once the queue has fully drained: every
// worker is idle and no directory remains pending (§4.2 termination
// condition — in-flight counter at zero with an empty queue).
func (s *Scanner) Scan(ctx context.Context, root string) (*Progress, error) {
	info, err := os.Lstat(root)
	if err != nil {
		return nil, fmt.Errorf("stat root %q: %w", root, err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("root %q is not a directory", root)
	}

	scanID := uuid.NewString()
	logger := logx.WithScanID(logx.WithRoot(logx.WithComponent("scanner"), root), scanID)
	logger.Info().Msg("scan starting")

	progress := &Progress{}
	snapshot := s.ignores.Current()

	queue := make(chan dirJob, s.cfg.QueueSize)
	var inFlight atomic.Int64
	var wg sync.WaitGroup

	inFlight.Add(1)
	queue <- dirJob{path: root, parentPath: ""}

	batches := make([]*batchAccumulator, s.cfg.Workers)
	for i := range batches {
		batches[i] = newBatchAccumulator(s.store, s.cfg.BatchSize)
	}

	drain := make(chan struct{})
	go func() {
		for {
			if inFlight.Load() == 0 && len(queue) == 0 {
				close(drain)
				return
			}
			select {
			case <-ctx.Done():
				return
			case <-time.After(5 * time.Millisecond):
			}
		}
	}()

	for i := 0; i < s.cfg.Workers; i++ {
		wg.Add(1)
		go s.runWorker(ctx, i, queue, &inFlight, batches[i], snapshot, progress, logger, &wg)
	}

	select {
	case <-drain:
	case <-ctx.Done():
	}
	close(queue)
	wg.Wait()

	for _, b := range batches {
		if err := b.flush(ctx); err != nil {
			logger.Error().Err(err).Msg("final batch flush failed")
			return progress, err
		}
	}

	if err := ctx.Err(); err != nil {
		logger.Warn().Err(err).Msg("scan cancelled")
		return progress, err
	}

	logger.Info().Int64("indexed", progress.indexed.Load()).Msg("scan complete")
	return progress, nil
}

func (s *Scanner) runWorker(
	ctx context.Context,
	id int,
	queue chan dirJob,
	inFlight *atomic.Int64,
	batch *batchAccumulator,
	snapshot *ignore.Set,
	progress *Progress,
	logger zerolog.Logger,
	wg *sync.WaitGroup,
) {
	defer wg.Done()

	for {
		select {
		case <-ctx.Done():
			return
		case job, ok := <-queue:
			if !ok {
				return
			}
			s.visitDir(ctx, job, queue, inFlight, batch, snapshot, progress, logger)
			inFlight.Add(-1)
		}
	}
}

// visitDir reads one directory, records its own entry (the traversal root
// included), enqueues non-ignored subdirectories, and batches non-ignored
// files.
func (s *Scanner) visitDir(
	ctx context.Context,
	job dirJob,
	queue chan dirJob,
	inFlight *atomic.Int64,
	batch *batchAccumulator,
	snapshot *ignore.Set,
	progress *Progress,
	logger zerolog.Logger,
) {
	entries, err := os.ReadDir(job.path)
	if err != nil {
		progress.errorCount.Add(1)
		logger.Warn().Err(err).Str("dir", job.path).Msg("readdir failed")
		return
	}

	if info, err := os.Lstat(job.path); err == nil {
		progress.totalSeen.Add(1)
		if err := batch.add(ctx, store.FileEntry{
			Name:       filepath.Base(job.path),
			Path:       job.path,
			Kind:       store.KindDirectory,
			Size:       0,
			MTime:      mtimeSeconds(info),
			ParentPath: job.parentPath,
		}); err != nil {
			progress.errorCount.Add(1)
			logger.Warn().Err(err).Str("path", job.path).Msg("index directory failed")
		} else {
			progress.indexed.Add(1)
		}
	}

	for _, entry := range entries {
		select {
		case <-ctx.Done():
			return
		default:
		}

		name := entry.Name()
		if snapshot.Match(name) {
			continue
		}

		childPath := filepath.Join(job.path, name)

		if entry.Type()&os.ModeSymlink != 0 {
			continue
		}

		if entry.IsDir() {
			inFlight.Add(1)
			select {
			case queue <- dirJob{path: childPath, parentPath: job.path}:
			case <-ctx.Done():
				inFlight.Add(-1)
				return
			}
			continue
		}

		info, err := entry.Info()
		if err != nil {
			progress.errorCount.Add(1)
			logger.Warn().Err(err).Str("path", childPath).Msg("stat failed")
			continue
		}

		progress.totalSeen.Add(1)
		if err := batch.add(ctx, store.FileEntry{
			Name:       name,
			Path:       childPath,
			Kind:       store.KindFile,
			Size:       info.Size(),
			MTime:      mtimeSeconds(info),
			ParentPath: job.path,
		}); err != nil {
			progress.errorCount.Add(1)
			logger.Warn().Err(err).Str("path", childPath).Msg("index file failed")
			continue
		}
		progress.indexed.Add(1)
	}
}

func mtimeSeconds(info os.FileInfo) float64 {
	t := info.ModTime()
	return float64(t.Unix()) + float64(t.Nanosecond())/1e9
}
