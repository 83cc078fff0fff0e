package grovekv

import (
	"fmt"
	"math/rand"
	"path/filepath"
	"testing"
)

func benchDB(b *testing.B, options ...Option) *DB {
	b.Helper()
	path := filepath.Join(b.TempDir(), "bench.db")
	db, err := Open(path, options...)
	if err != nil {
		b.Fatal(err)
	}
	b.Cleanup(func() { _ = db.Close() })
	return db
}

func BenchmarkPutSequential(b *testing.B) {
	db := benchDB(b)
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if err := db.Put(key(i), val(i)); err != nil {
			b.Fatal(err)
		}
	}
}

func BenchmarkPutRandom(b *testing.B) {
	db := benchDB(b)
	rng := rand.New(rand.NewSource(1))
	keys := make([][]byte, b.N)
	for i := range keys {
		keys[i] = []byte(fmt.Sprintf("k%012d", rng.Int63()))
	}
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if err := db.Put(keys[i], val(i)); err != nil {
			b.Fatal(err)
		}
	}
}

func BenchmarkGet(b *testing.B) {
	db := benchDB(b)
	const n = 10_000
	for i := 0; i < n; i++ {
		if err := db.Put(key(i), val(i)); err != nil {
			b.Fatal(err)
		}
	}
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if _, err := db.Get(key(i % n)); err != nil {
			b.Fatal(err)
		}
	}
}

func BenchmarkGetWithReadCache(b *testing.B) {
	db := benchDB(b, WithReadCache(16_384))
	const n = 10_000
	for i := 0; i < n; i++ {
		if err := db.Put(key(i), val(i)); err != nil {
			b.Fatal(err)
		}
	}
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if _, err := db.Get(key(i % n)); err != nil {
			b.Fatal(err)
		}
	}
}

func BenchmarkRange(b *testing.B) {
	db := benchDB(b)
	const n = 10_000
	for i := 0; i < n; i++ {
		if err := db.Put(key(i), val(i)); err != nil {
			b.Fatal(err)
		}
	}
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		lo := (i * 97) % (n - 100)
		if _, err := db.Range(key(lo), key(lo+99)); err != nil {
			b.Fatal(err)
		}
	}
}
