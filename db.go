package grovekv

import (
	"sync"

	"github.com/cespare/xxhash/v2"
	"github.com/elastic/go-freelru"

	"grovekv/internal/base"
)

// KV is one key-value pair returned by Range.
type KV struct {
	Key   []byte
	Value []byte
}

// Stats reports block cache counters for one handle.
type Stats struct {
	CacheHits      uint64
	CacheMisses    uint64
	CacheEvictions uint64
}

// DB is a single-process, embeddable, persistent ordered key-value store.
// Keys are bounded by MaxKeySize bytes and values by MaxValueSize bytes;
// longer inputs are truncated to those widths before comparison and
// storage. A DB is safe for use by multiple goroutines: writes are
// exclusive, reads are shared.
type DB struct {
	mu     sync.RWMutex
	tree   *btree
	reads  *freelru.SyncedLRU[string, []byte]
	logger Logger
	opts   Options
	path   string
	closed bool
}

// MaxKeySize and MaxValueSize are the fixed widths of stored keys and
// values. A file written with one set of widths cannot be read with
// another.
const (
	MaxKeySize   = base.MaxKeySize
	MaxValueSize = base.MaxValueSize
)

func hashKey(s string) uint32 {
	return uint32(xxhash.Sum64String(s))
}

// Open opens or creates the database file at path. A new file is
// initialized with a single empty root leaf; an existing file must carry a
// valid meta record for this build's layout constants.
func Open(path string, options ...Option) (*DB, error) {
	opts := defaultOptions()
	for _, opt := range options {
		opt(&opts)
	}

	tree, err := openTree(path, opts.maxCacheBytes)
	if err != nil {
		return nil, err
	}
	db := &DB{
		tree:   tree,
		logger: opts.logger,
		opts:   opts,
		path:   path,
	}
	if opts.readCacheSize > 0 {
		lru, err := freelru.NewSynced[string, []byte](opts.readCacheSize, hashKey)
		if err != nil {
			_ = tree.close(false)
			return nil, err
		}
		db.reads = lru
	}
	db.logger.Info("opened database",
		"path", path, "height", tree.meta.Height, "size", tree.meta.Size)
	return db, nil
}

// Close flushes the meta record, releases every cached block, and closes
// the file. Close is idempotent.
func (db *DB) Close() error {
	db.mu.Lock()
	defer db.mu.Unlock()
	if db.closed {
		return nil
	}
	db.closed = true
	if db.reads != nil {
		db.reads.Purge()
	}
	err := db.tree.close(db.opts.syncOnClose)
	if err != nil {
		db.logger.Error("close failed", "path", db.path, "error", err)
		return err
	}
	db.logger.Info("closed database", "path", db.path)
	return nil
}

// Put inserts or updates. Overwriting an existing key does not change
// Size.
func (db *DB) Put(key, value []byte) error {
	if len(key) == 0 {
		return ErrKeyEmpty
	}
	db.mu.Lock()
	defer db.mu.Unlock()
	if db.closed {
		return ErrDatabaseClosed
	}
	k := base.FixKey(key)
	v := base.FixValue(value)
	if err := db.tree.put(&k, &v); err != nil {
		return err
	}
	if db.reads != nil {
		db.reads.Remove(string(k[:]))
	}
	return nil
}

// Get returns the stored value, or ErrKeyNotFound. The returned slice
// must not be modified by the caller.
func (db *DB) Get(key []byte) ([]byte, error) {
	if len(key) == 0 {
		return nil, ErrKeyEmpty
	}
	db.mu.RLock()
	defer db.mu.RUnlock()
	if db.closed {
		return nil, ErrDatabaseClosed
	}
	k := base.FixKey(key)
	ck := string(k[:])
	if db.reads != nil {
		if v, ok := db.reads.Get(ck); ok {
			return v, nil
		}
	}
	v, err := db.tree.get(&k)
	if err != nil {
		return nil, err
	}
	if v == nil {
		return nil, ErrKeyNotFound
	}
	if db.reads != nil {
		db.reads.Add(ck, v)
	}
	return v, nil
}

// Delete removes key, reporting whether a record was removed. Deleting an
// absent key is not an error.
func (db *DB) Delete(key []byte) (bool, error) {
	if len(key) == 0 {
		return false, ErrKeyEmpty
	}
	db.mu.Lock()
	defer db.mu.Unlock()
	if db.closed {
		return false, ErrDatabaseClosed
	}
	k := base.FixKey(key)
	removed, err := db.tree.delete(&k)
	if err != nil {
		return false, err
	}
	if removed && db.reads != nil {
		db.reads.Remove(string(k[:]))
	}
	return removed, nil
}

// Range returns every pair with lo <= key <= hi in ascending key order.
// A nil lo scans from the smallest key; a nil hi scans to the largest.
func (db *DB) Range(lo, hi []byte) ([]KV, error) {
	db.mu.RLock()
	defer db.mu.RUnlock()
	if db.closed {
		return nil, ErrDatabaseClosed
	}
	l := base.FixKey(lo)
	var h [base.MaxKeySize]byte
	if hi == nil {
		for i := range h {
			h[i] = 0xff
		}
	} else {
		h = base.FixKey(hi)
	}
	return db.tree.scan(&l, &h)
}

// Size returns the number of stored keys.
func (db *DB) Size() uint64 {
	db.mu.RLock()
	defer db.mu.RUnlock()
	if db.closed {
		return 0
	}
	return db.tree.meta.Size
}

// Empty reports whether the store holds no keys.
func (db *DB) Empty() bool {
	return db.Size() == 0
}

// Sync flushes every resident block and the file itself to disk. The
// engine otherwise leaves durability to the operating system's write-back.
func (db *DB) Sync() error {
	db.mu.RLock()
	defer db.mu.RUnlock()
	if db.closed {
		return ErrDatabaseClosed
	}
	if err := db.tree.cache.Sync(); err != nil {
		return err
	}
	if err := db.tree.file.Sync(db.tree.metaMap); err != nil {
		return err
	}
	return db.tree.file.SyncFile()
}

// Stats returns block cache counters.
func (db *DB) Stats() Stats {
	db.mu.RLock()
	defer db.mu.RUnlock()
	if db.closed {
		return Stats{}
	}
	s := db.tree.cache.Stats()
	return Stats{
		CacheHits:      s.Hits,
		CacheMisses:    s.Misses,
		CacheEvictions: s.Evictions,
	}
}
