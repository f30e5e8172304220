package scanner

import (
	"context"

	"github.com/brightframe/filesearch/internal/store"
)

// batchAccumulator buffers FileEntry records for one worker and flushes them
// to the Store once the buffer reaches size, or on an explicit final flush.
// Keeping one accumulator per worker (rather than a single shared one) avoids
// lock contention on the hot per-directory path.
type batchAccumulator struct {
	store *store.Store
	size  int
	buf   []store.FileEntry
}

func newBatchAccumulator(st *store.Store, size int) *batchAccumulator {
	return &batchAccumulator{store: st, size: size, buf: make([]store.FileEntry, 0, size)}
}

// add appends entry to the buffer, then flushes once the buffer holds size
// entries.
func (b *batchAccumulator) add(ctx context.Context, entry store.FileEntry) error {
	b.buf = append(b.buf, entry)
	if len(b.buf) >= b.size {
		return b.flush(ctx)
	}
	return nil
}

// flush writes any buffered entries to the Store and clears the buffer.
func (b *batchAccumulator) flush(ctx context.Context) error {
	if len(b.buf) == 0 {
		return nil
	}
	if err := b.store.UpsertMany(ctx, b.buf); err != nil {
		return err
	}
	b.buf = b.buf[:0]
	return nil
}
