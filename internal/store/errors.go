package store

import "errors"

// Sentinel errors for the Store's error taxonomy (§7). Callers should use
// errors.Is rather than matching on message text.
var (
	// ErrStoreCorrupt signals a fatal, unrecoverable problem with the index
	// file itself (StoreCorruption / FatalIO). The Coordinator must stop
	// serving search and surface this as root/service status.
	ErrStoreCorrupt = errors.New("store: index file corrupt or unreachable")

	// ErrNotFound is returned when a path-keyed lookup finds no row.
	ErrNotFound = errors.New("store: no such entry")

	// ErrInvalidQuery is returned for malformed search input (e.g. a
	// negative offset or an unknown sort key) — an InvalidInput condition.
	ErrInvalidQuery = errors.New("store: invalid query")
)
