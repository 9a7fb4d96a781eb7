package bptree

// SyncMode controls when the WAL is fsynced after a commit.
type SyncMode int

const (
	// SyncEveryCommit fsyncs the WAL after every commit (default).
	SyncEveryCommit SyncMode = iota
	// SyncBytes fsyncs once SyncBytesLimit bytes have been written
	// since the last sync.
	SyncBytes
	// SyncOff never fsyncs explicitly, relying on the OS to flush
	// eventually. Durability across a crash is not guaranteed.
	SyncOff
)

const (
	defaultPageSize       = 4096
	defaultBranching      = 64
	defaultPageCacheSize  = 4096
	defaultSyncBytesLimit = 1 << 20
)

// Options holds the configuration a Tree is opened with, populated by
// applying a sequence of Option functions over the defaults.
type Options struct {
	PageSize       uint32
	Branching      int
	SyncMode       SyncMode
	SyncBytesLimit int
	PageCacheSize  int
	Logger         Logger
}

func defaultOptions() Options {
	return Options{
		PageSize:       defaultPageSize,
		Branching:      defaultBranching,
		SyncMode:       SyncEveryCommit,
		SyncBytesLimit: defaultSyncBytesLimit,
		PageCacheSize:  defaultPageCacheSize,
		Logger:         DiscardLogger{},
	}
}

// Option mutates an Options value during Open.
type Option func(*Options)

// WithPageSize overrides the on-disk page size. Only meaningful when
// creating a new file; ignored (and validated against the stored value) when
// opening an existing one.
func WithPageSize(size uint32) Option {
	return func(o *Options) { o.PageSize = size }
}

// WithBranchingFactor overrides the maximum fan-out of branch nodes.
func WithBranchingFactor(n int) Option {
	return func(o *Options) { o.Branching = n }
}

// WithSyncMode selects when the WAL is fsynced.
func WithSyncMode(mode SyncMode) Option {
	return func(o *Options) { o.SyncMode = mode }
}

// WithSyncBytesLimit sets the byte threshold used by SyncBytes mode.
func WithSyncBytesLimit(n int) Option {
	return func(o *Options) { o.SyncBytesLimit = n }
}

// WithPageCacheSize sets the capacity, in pages, of the clean-page cache.
func WithPageCacheSize(n int) Option {
	return func(o *Options) { o.PageCacheSize = n }
}

// WithLogger installs a Logger; the default is DiscardLogger.
func WithLogger(l Logger) Option {
	return func(o *Options) {
		if l != nil {
			o.Logger = l
		}
	}
}
