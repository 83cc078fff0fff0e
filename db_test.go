package grovekv

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"grovekv/internal/base"
)

// setup creates a temporary database that is closed and removed with the
// test.
func setup(t *testing.T, options ...Option) (*DB, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.db")
	db, err := Open(path, options...)
	require.NoError(t, err, "failed to open DB")
	t.Cleanup(func() {
		_ = db.Close()
	})
	return db, path
}

func TestPutGetDelete(t *testing.T) {
	t.Parallel()

	db, _ := setup(t)
	require.NoError(t, db.Put([]byte("a"), []byte("1")))
	require.NoError(t, db.Put([]byte("b"), []byte("2")))

	v, err := db.Get([]byte("a"))
	require.NoError(t, err)
	assert.Equal(t, []byte("1"), v)

	removed, err := db.Delete([]byte("a"))
	require.NoError(t, err)
	assert.True(t, removed)

	_, err = db.Get([]byte("a"))
	assert.ErrorIs(t, err, ErrKeyNotFound)

	v, err = db.Get([]byte("b"))
	require.NoError(t, err)
	assert.Equal(t, []byte("2"), v)
}

func TestOverwrite(t *testing.T) {
	t.Parallel()

	db, _ := setup(t)
	require.NoError(t, db.Put([]byte("k"), []byte("v1")))
	require.NoError(t, db.Put([]byte("k"), []byte("v2")))

	v, err := db.Get([]byte("k"))
	require.NoError(t, err)
	assert.Equal(t, []byte("v2"), v)
	assert.Equal(t, uint64(1), db.Size())
}

func TestPersistenceRoundTrip(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "persist.db")
	db, err := Open(path)
	require.NoError(t, err)
	require.NoError(t, db.Put([]byte("a"), []byte("1")))
	require.NoError(t, db.Put([]byte("b"), []byte("2")))
	require.NoError(t, db.Close())

	db2, err := Open(path)
	require.NoError(t, err)
	defer db2.Close()

	v, err := db2.Get([]byte("a"))
	require.NoError(t, err)
	assert.Equal(t, []byte("1"), v)
	v, err = db2.Get([]byte("b"))
	require.NoError(t, err)
	assert.Equal(t, []byte("2"), v)
	assert.Equal(t, uint64(2), db2.Size())
}

func TestPersistenceLargeTree(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "persist_large.db")
	db, err := Open(path)
	require.NoError(t, err)
	const n = 5_000
	for i := 0; i < n; i++ {
		require.NoError(t, db.Put(key(i), val(i)))
	}
	height := db.tree.meta.Height
	require.Greater(t, height, uint64(1))
	require.NoError(t, db.Close())

	db2, err := Open(path)
	require.NoError(t, err)
	defer db2.Close()
	assert.Equal(t, height, db2.tree.meta.Height)
	assert.Equal(t, uint64(n), db2.Size())
	for i := 0; i < n; i += 97 {
		v, err := db2.Get(key(i))
		require.NoError(t, err)
		assert.Equal(t, val(i), v)
	}
	checkInvariants(t, db2)
}

func TestEmptyKeyRejected(t *testing.T) {
	t.Parallel()

	db, _ := setup(t)
	assert.ErrorIs(t, db.Put(nil, []byte("v")), ErrKeyEmpty)
	_, err := db.Get([]byte{})
	assert.ErrorIs(t, err, ErrKeyEmpty)
	_, err = db.Delete(nil)
	assert.ErrorIs(t, err, ErrKeyEmpty)
}

func TestClosedHandle(t *testing.T) {
	t.Parallel()

	db, _ := setup(t)
	require.NoError(t, db.Close())
	require.NoError(t, db.Close(), "close is idempotent")

	assert.ErrorIs(t, db.Put([]byte("k"), []byte("v")), ErrDatabaseClosed)
	_, err := db.Get([]byte("k"))
	assert.ErrorIs(t, err, ErrDatabaseClosed)
	_, err = db.Delete([]byte("k"))
	assert.ErrorIs(t, err, ErrDatabaseClosed)
	_, err = db.Range(nil, nil)
	assert.ErrorIs(t, err, ErrDatabaseClosed)
	assert.ErrorIs(t, db.Sync(), ErrDatabaseClosed)
	assert.Zero(t, db.Size())
}

func TestWideInputsTruncated(t *testing.T) {
	t.Parallel()

	db, _ := setup(t)
	longKey := []byte(strings.Repeat("k", MaxKeySize+8))
	longVal := []byte(strings.Repeat("v", MaxValueSize+100))
	require.NoError(t, db.Put(longKey, longVal))

	// The key behaves as its fixed-width prefix.
	v, err := db.Get(longKey[:MaxKeySize])
	require.NoError(t, err)
	assert.Equal(t, longVal[:MaxValueSize], v)

	// A key differing only past the width is the same key.
	other := append([]byte{}, longKey...)
	other[len(other)-1] = 'x'
	require.NoError(t, db.Put(other, []byte("short")))
	assert.Equal(t, uint64(1), db.Size())
}

func TestBinaryKeysAndValues(t *testing.T) {
	t.Parallel()

	db, _ := setup(t)
	k := []byte{0x01, 0x00, 0xfe, 0x7f}
	v := []byte{0x00, 0xff, 0x00, 0x10}
	require.NoError(t, db.Put(k, v))

	got, err := db.Get(k)
	require.NoError(t, err)
	// Trailing NULs are padding; interior ones survive.
	assert.Equal(t, []byte{0x00, 0xff, 0x00, 0x10}, got)
}

func TestReopenRejectsCorruptMagic(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "corrupt.db")
	db, err := Open(path)
	require.NoError(t, err)
	require.NoError(t, db.Put([]byte("a"), []byte("1")))
	require.NoError(t, db.Close())

	f, err := os.OpenFile(path, os.O_RDWR, 0600)
	require.NoError(t, err)
	_, err = f.WriteAt([]byte{0xde, 0xad, 0xbe, 0xef}, 0)
	require.NoError(t, err)
	require.NoError(t, f.Close())

	_, err = Open(path)
	assert.ErrorIs(t, err, ErrInvalidMagicNumber)
}

func TestReopenRejectsStaleChecksum(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "stale.db")
	db, err := Open(path)
	require.NoError(t, err)
	require.NoError(t, db.Put([]byte("a"), []byte("1")))
	require.NoError(t, db.Close())

	// Flip a byte in the meta size field; the stored checksum no longer
	// matches, as after a torn shutdown.
	f, err := os.OpenFile(path, os.O_RDWR, 0600)
	require.NoError(t, err)
	_, err = f.WriteAt([]byte{0x09}, 32)
	require.NoError(t, err)
	require.NoError(t, f.Close())

	_, err = Open(path)
	assert.ErrorIs(t, err, ErrInvalidChecksum)
}

func TestSmallCacheStillCorrect(t *testing.T) {
	t.Parallel()

	// A ceiling of ~2 MiB holds a few dozen leaf blocks; a 5k-key tree
	// forces steady eviction.
	db, _ := setup(t, WithCacheSize(2<<20))
	const n = 5_000
	for i := 0; i < n; i++ {
		require.NoError(t, db.Put(key(i), val(i)))
	}
	for i := 0; i < n; i += 31 {
		v, err := db.Get(key(i))
		require.NoError(t, err)
		assert.Equal(t, val(i), v)
	}
	s := db.Stats()
	assert.Positive(t, s.CacheEvictions)
	assert.Positive(t, s.CacheHits)
	checkInvariants(t, db)
}

func TestReadCacheCoherence(t *testing.T) {
	t.Parallel()

	db, _ := setup(t, WithReadCache(128))
	require.NoError(t, db.Put([]byte("k"), []byte("v1")))

	v, err := db.Get([]byte("k"))
	require.NoError(t, err)
	assert.Equal(t, []byte("v1"), v)

	// The cached entry must not outlive an overwrite or a delete.
	require.NoError(t, db.Put([]byte("k"), []byte("v2")))
	v, err = db.Get([]byte("k"))
	require.NoError(t, err)
	assert.Equal(t, []byte("v2"), v)

	removed, err := db.Delete([]byte("k"))
	require.NoError(t, err)
	require.True(t, removed)
	_, err = db.Get([]byte("k"))
	assert.ErrorIs(t, err, ErrKeyNotFound)
}

func TestSyncFlushes(t *testing.T) {
	t.Parallel()

	db, _ := setup(t)
	require.NoError(t, db.Put([]byte("a"), []byte("1")))
	require.NoError(t, db.Sync())

	v, err := db.Get([]byte("a"))
	require.NoError(t, err)
	assert.Equal(t, []byte("1"), v)
}

func TestSyncOnClose(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "synced.db")
	db, err := Open(path, WithSyncOnClose())
	require.NoError(t, err)
	require.NoError(t, db.Put([]byte("a"), []byte("1")))
	require.NoError(t, db.Close())

	db2, err := Open(path)
	require.NoError(t, err)
	defer db2.Close()
	v, err := db2.Get([]byte("a"))
	require.NoError(t, err)
	assert.Equal(t, []byte("1"), v)
}

func TestConcurrentReaders(t *testing.T) {
	t.Parallel()

	db, _ := setup(t)
	const n = 2_000
	for i := 0; i < n; i++ {
		require.NoError(t, db.Put(key(i), val(i)))
	}

	var wg sync.WaitGroup
	errc := make(chan error, 8)
	for r := 0; r < 8; r++ {
		wg.Add(1)
		go func(r int) {
			defer wg.Done()
			for i := r; i < n; i += 8 {
				v, err := db.Get(key(i))
				if err != nil {
					errc <- err
					return
				}
				if string(v) != string(val(i)) {
					errc <- fmt.Errorf("key %d: got %q", i, v)
					return
				}
			}
		}(r)
	}
	wg.Wait()
	close(errc)
	for err := range errc {
		t.Fatal(err)
	}
}

func TestDumpTo(t *testing.T) {
	t.Parallel()

	db, _ := setup(t)
	for _, k := range []string{"a", "b", "c"} {
		require.NoError(t, db.Put([]byte(k), []byte("v")))
	}
	var sb strings.Builder
	require.NoError(t, db.DumpTo(&sb))
	out := sb.String()
	for _, k := range []string{"a", "b", "c"} {
		assert.Contains(t, out, fmt.Sprintf("%q", k))
	}
}

func TestFileLayoutGrowth(t *testing.T) {
	t.Parallel()

	db, path := setup(t)
	require.NoError(t, db.Put([]byte("a"), []byte("1")))
	info, err := os.Stat(path)
	require.NoError(t, err)
	// Meta plus the root leaf, at minimum.
	assert.GreaterOrEqual(t, info.Size(), int64(base.MetaSize+base.LeafNodeSize))
}
