// Package cache keeps memory-mapped blocks resident, keyed by file offset.
// A block is pinned while loaded; only unpinned blocks are eligible for
// eviction, least recently released first, once resident bytes exceed the
// ceiling.
package cache

import (
	"container/list"
	"fmt"
	"sync"
	"sync/atomic"

	"grovekv/internal/storage"
)

// DefaultMaxBytes caps resident mapped bytes at 50 MiB.
const DefaultMaxBytes = 50 << 20

// frame is one resident block.
type frame struct {
	mapping *storage.Mapping
	offset  int64
	size    int
	pins    int
	elem    *list.Element // non-nil iff pins == 0
}

// Stats are cumulative counters since the cache was created.
type Stats struct {
	Hits      uint64
	Misses    uint64
	Evictions uint64
}

// BlockCache is an address-keyed cache of fixed-size mapped blocks.
type BlockCache struct {
	mu       sync.Mutex
	file     *storage.File
	maxBytes int64
	resident int64
	frames   map[int64]*frame
	lru      *list.List // front = most recently released

	hits      atomic.Uint64
	misses    atomic.Uint64
	evictions atomic.Uint64
}

// New creates a cache over file with the given byte ceiling; zero or
// negative means DefaultMaxBytes. The ceiling is advisory when the pinned
// working set alone exceeds it.
func New(file *storage.File, maxBytes int64) *BlockCache {
	if maxBytes <= 0 {
		maxBytes = DefaultMaxBytes
	}
	return &BlockCache{
		file:     file,
		maxBytes: maxBytes,
		frames:   make(map[int64]*frame),
		lru:      list.New(),
	}
}

// Load returns a pinned, writable block covering [offset, offset+size),
// mapping it if not resident and growing the file as needed. Every Load
// must be paired with a Release; a leaked pin disables eviction of the
// block for the cache's lifetime.
func (c *BlockCache) Load(offset int64, size int) ([]byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if fr, ok := c.frames[offset]; ok {
		c.hits.Add(1)
		if fr.pins == 0 {
			c.lru.Remove(fr.elem)
			fr.elem = nil
		}
		fr.pins++
		return fr.mapping.Block, nil
	}

	c.misses.Add(1)
	m, err := c.file.Map(offset, size)
	if err != nil {
		return nil, err
	}
	fr := &frame{mapping: m, offset: offset, size: size, pins: 1}
	c.frames[offset] = fr
	c.resident += int64(size)
	if err := c.evict(); err != nil {
		return nil, err
	}
	return m.Block, nil
}

// Release unpins the block at offset. At pin count zero the frame becomes
// eligible for eviction and joins the head of the LRU list.
func (c *BlockCache) Release(offset int64) {
	c.mu.Lock()
	defer c.mu.Unlock()

	fr, ok := c.frames[offset]
	if !ok || fr.pins == 0 {
		panic(fmt.Sprintf("grovekv: release of unpinned block at offset %d", offset))
	}
	fr.pins--
	if fr.pins == 0 {
		fr.elem = c.lru.PushFront(fr)
	}
}

// evict unmaps frames from the LRU tail until resident bytes fit the
// ceiling. Pinned frames are never in the list, so a fully pinned cache
// simply stays over the ceiling. Caller holds c.mu.
func (c *BlockCache) evict() error {
	for c.resident > c.maxBytes {
		back := c.lru.Back()
		if back == nil {
			return nil
		}
		fr := back.Value.(*frame)
		c.lru.Remove(back)
		delete(c.frames, fr.offset)
		c.resident -= int64(fr.size)
		c.evictions.Add(1)
		if err := c.file.Unmap(fr.mapping); err != nil {
			return err
		}
	}
	return nil
}

// Sync msyncs every resident mapping.
func (c *BlockCache) Sync() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	var err error
	for _, fr := range c.frames {
		if e := c.file.Sync(fr.mapping); e != nil && err == nil {
			err = e
		}
	}
	return err
}

// Close unmaps every resident frame, pinned or not. The kernel writes back
// whatever is dirty. Returns the first error but attempts all frames.
func (c *BlockCache) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	var err error
	for _, fr := range c.frames {
		if e := c.file.Unmap(fr.mapping); e != nil && err == nil {
			err = e
		}
	}
	c.frames = make(map[int64]*frame)
	c.lru.Init()
	c.resident = 0
	return err
}

// Stats returns cumulative hit/miss/eviction counters.
func (c *BlockCache) Stats() Stats {
	return Stats{
		Hits:      c.hits.Load(),
		Misses:    c.misses.Load(),
		Evictions: c.evictions.Load(),
	}
}

// Resident returns the current resident byte count.
func (c *BlockCache) Resident() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.resident
}

// Len returns the number of resident frames.
func (c *BlockCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.frames)
}

// Pinned returns the number of frames with a nonzero pin count. Outside a
// running operation it must be zero; anything else is a leaked pin.
func (c *BlockCache) Pinned() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for _, fr := range c.frames {
		if fr.pins > 0 {
			n++
		}
	}
	return n
}
