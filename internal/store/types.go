package store

// Kind distinguishes a FileEntry's filesystem type.
type Kind string

const (
	KindFile      Kind = "file"
	KindDirectory Kind = "directory"
)

// FileEntry is one row of the index: a filesystem object observed under some
// watched root.
type FileEntry struct {
	ID         int64
	Name       string
	Path       string
	Kind       Kind
	Size       int64
	MTime      float64 // seconds since epoch, fractional
	ParentPath string  // empty for a root entry
}

// SortKey is a column the search results may be ordered by.
type SortKey string

const (
	SortName         SortKey = "name"
	SortPath         SortKey = "path"
	SortSize         SortKey = "size"
	SortDateModified SortKey = "date_modified"
)

// KindFilter narrows a search to files, directories, or both.
type KindFilter string

const (
	KindFilterAll       KindFilter = "all"
	KindFilterFile      KindFilter = "file"
	KindFilterDirectory KindFilter = "directory"
)

// SearchQuery is the Store's query-planner input (§4.1).
type SearchQuery struct {
	Query      string
	RootPrefix string
	Kind       KindFilter
	Sort       SortKey
	Ascending  bool
	Offset     int
	Limit      int
}

// SearchResult is one page of matches plus the total candidate count.
type SearchResult struct {
	Total   int
	Entries []FileEntry
}

// WatchRootStatus is the per-root state-machine value (§4.4).
type WatchRootStatus string

const (
	StatusIdle     WatchRootStatus = "idle"
	StatusScanning WatchRootStatus = "scanning"
	StatusWatching WatchRootStatus = "watching"
	StatusError    WatchRootStatus = "error"
)

// WatchRoot is a user-declared monitored directory and its current state.
type WatchRoot struct {
	ID           int64
	Path         string
	Enabled      bool
	Status       WatchRootStatus
	TotalFiles   int64
	IndexedFiles int64
	LastFullScan *int64 // unix seconds, nil if never scanned
	LastUpdated  *int64
	ErrorMessage *string
}

var validSortKeys = map[SortKey]string{
	SortName:         "name",
	SortPath:         "path",
	SortSize:         "size",
	SortDateModified: "mtime",
}

// ValidateSort checks that key is one of the allowed sort columns and
// returns the underlying SQL column name. This allowlist is what keeps
// dynamic ORDER BY construction free of injection risk.
func ValidateSort(key SortKey) (string, error) {
	col, ok := validSortKeys[key]
	if !ok {
		return "", ErrInvalidQuery
	}
	return col, nil
}
