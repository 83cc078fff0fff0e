package grovekv

import "grovekv/internal/cache"

// Options configures a DB handle.
type Options struct {
	maxCacheBytes int64
	readCacheSize uint32
	logger        Logger
	syncOnClose   bool
}

func defaultOptions() Options {
	return Options{
		maxCacheBytes: cache.DefaultMaxBytes,
		logger:        DiscardLogger{},
	}
}

// Option configures database behavior using the functional options pattern.
type Option func(*Options)

// WithCacheSize sets the block cache ceiling in bytes. The ceiling bounds
// resident mapped bytes, pinned plus unpinned; zero or negative keeps the
// 50 MiB default.
func WithCacheSize(bytes int64) Option {
	return func(o *Options) {
		o.maxCacheBytes = bytes
	}
}

// WithReadCache enables a record-level read-through cache with room for n
// entries. Reads served from it skip the tree descent entirely; Put and
// Delete invalidate the affected key.
func WithReadCache(n uint32) Option {
	return func(o *Options) {
		o.readCacheSize = n
	}
}

// WithLogger routes database log output to l.
func WithLogger(l Logger) Option {
	return func(o *Options) {
		o.logger = l
	}
}

// WithSyncOnClose msyncs every resident block and fsyncs the file during
// Close. Without it, durability is whatever the operating system's
// write-back provides.
func WithSyncOnClose() Option {
	return func(o *Options) {
		o.syncOnClose = true
	}
}
