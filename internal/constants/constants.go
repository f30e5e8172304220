package constants

// Scanner defaults
const (
	// DefaultWorkerCount is the default number of directory-walking workers.
	DefaultWorkerCount = 4

	// DefaultQueueSize is the default capacity of the directory work queue.
	DefaultQueueSize = 4096

	// DefaultBatchSize is the default number of FileEntry rows accumulated
	// before a worker flushes its buffer to the Store.
	DefaultBatchSize = 200
)

// Watcher defaults
const (
	// DefaultDebounce is the coalescing window for duplicate modify events
	// on the same path.
	DefaultDebounce = 100 // milliseconds

	// DefaultRescanBurst and DefaultRescanPerSecond bound the rate at which
	// the Watcher may enqueue full-root rescans in response to a
	// notification overflow.
	DefaultRescanPerSecond = 0.2
	DefaultRescanBurst     = 1
)

// Search defaults
const (
	// DefaultSearchCount is the default page size for a search with no
	// explicit count.
	DefaultSearchCount = 100

	// MaxSearchCount is the maximum page size a caller may request.
	MaxSearchCount = 10000
)
