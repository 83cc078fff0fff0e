package grovekv

import (
	"bytes"
	"fmt"

	"grovekv/internal/base"
	"grovekv/internal/cache"
	"grovekv/internal/storage"
)

// btree is the disk-resident tree engine. It owns the file, the block
// cache, and the mapped meta record. It is not safe for concurrent
// mutation; DB serializes access to it.
//
// Nodes reference each other by file offset. Every access pins the block
// through the cache for the duration of the step that needs it and
// releases it before returning; pointers into a block are never held
// across a release.
type btree struct {
	file    *storage.File
	cache   *cache.BlockCache
	meta    *base.Meta
	metaMap *storage.Mapping
}

// openTree maps the meta record and either initializes a fresh tree (a
// single empty leaf as the root) or validates the existing one.
func openTree(path string, cacheBytes int64) (*btree, error) {
	f, err := storage.Open(path)
	if err != nil {
		return nil, err
	}
	mm, err := f.Map(0, base.MetaSize)
	if err != nil {
		_ = f.Close()
		return nil, err
	}
	t := &btree{
		file:    f,
		cache:   cache.New(f, cacheBytes),
		meta:    base.MetaAt(mm.Block),
		metaMap: mm,
	}
	if t.meta.Magic == 0 && t.meta.Height == 0 {
		err = t.init()
	} else if err = t.meta.Validate(); err != nil {
		err = fmt.Errorf("open %s: %w", path, err)
	}
	if err != nil {
		_ = f.Unmap(mm)
		_ = f.Close()
		return nil, err
	}
	return t, nil
}

// init writes the meta record and the empty root leaf of a new file.
func (t *btree) init() error {
	rootOff := int64(base.MetaSize)
	b, err := t.cache.Load(rootOff, base.LeafNodeSize)
	if err != nil {
		return err
	}
	leaf := base.LeafAt(b)
	leaf.NodeHeader = base.NodeHeader{Offset: rootOff}
	t.cache.Release(rootOff)

	m := t.meta
	m.Magic = base.MagicNumber
	m.Version = base.FormatVersion
	m.Root = rootOff
	m.NextBlock = rootOff + int64(base.LeafNodeSize)
	m.Height = 1
	m.Size = 0
	m.Checksum = m.Sum()
	return nil
}

// close stamps the meta checksum, flushes it, and tears everything down.
// Dirty node blocks are handed back to the kernel on unmap.
func (t *btree) close(syncAll bool) error {
	var err error
	if syncAll {
		if e := t.cache.Sync(); e != nil {
			err = e
		}
		if e := t.file.SyncFile(); e != nil && err == nil {
			err = e
		}
	}
	t.meta.Checksum = t.meta.Sum()
	if e := t.file.Sync(t.metaMap); e != nil && err == nil {
		err = e
	}
	t.meta = nil
	if e := t.cache.Close(); e != nil && err == nil {
		err = e
	}
	if e := t.file.Unmap(t.metaMap); e != nil && err == nil {
		err = e
	}
	if e := t.file.Close(); e != nil && err == nil {
		err = e
	}
	return err
}

// loadLeaf pins the leaf block at off.
func (t *btree) loadLeaf(off int64) (*base.LeafNode, error) {
	b, err := t.cache.Load(off, base.LeafNodeSize)
	if err != nil {
		return nil, err
	}
	return base.LeafAt(b), nil
}

// loadIndex pins the index block at off.
func (t *btree) loadIndex(off int64) (*base.IndexNode, error) {
	b, err := t.cache.Load(off, base.IndexNodeSize)
	if err != nil {
		return nil, err
	}
	return base.IndexAt(b), nil
}

// loadHeader pins the block at off for header-only access. The block's
// kind decides its mapped size, so callers say which they are touching.
func (t *btree) loadHeader(off int64, leaf bool) (*base.NodeHeader, error) {
	size := base.IndexNodeSize
	if leaf {
		size = base.LeafNodeSize
	}
	b, err := t.cache.Load(off, size)
	if err != nil {
		return nil, err
	}
	return base.HeaderAt(b), nil
}

func (t *btree) release(off int64) {
	t.cache.Release(off)
}

// allocLeaf hands out the next block as a pinned, zeroed leaf. Freed nodes
// are never reused, so the file region is still zero-filled from growth;
// only the header needs stamping.
func (t *btree) allocLeaf() (*base.LeafNode, error) {
	off := t.meta.NextBlock
	b, err := t.cache.Load(off, base.LeafNodeSize)
	if err != nil {
		return nil, err
	}
	leaf := base.LeafAt(b)
	leaf.NodeHeader = base.NodeHeader{Offset: off}
	t.meta.NextBlock = off + int64(base.LeafNodeSize)
	return leaf, nil
}

// allocIndex hands out the next block as a pinned, zeroed index node.
func (t *btree) allocIndex() (*base.IndexNode, error) {
	off := t.meta.NextBlock
	b, err := t.cache.Load(off, base.IndexNodeSize)
	if err != nil {
		return nil, err
	}
	x := base.IndexAt(b)
	x.NodeHeader = base.NodeHeader{Offset: off}
	t.meta.NextBlock = off + int64(base.IndexNodeSize)
	return x, nil
}

// leafFor descends from the root to the offset of the unique leaf that
// would contain key. Each parent is released before its child is loaded.
func (t *btree) leafFor(key *[base.MaxKeySize]byte) (int64, error) {
	off := t.meta.Root
	for h := t.meta.Height; h > 1; h-- {
		x, err := t.loadIndex(off)
		if err != nil {
			return 0, err
		}
		child := x.Indexes[x.UpperBound(key)].Child
		t.release(off)
		off = child
	}
	return off, nil
}

// get returns a copy of the stored value, or nil when the key is absent.
func (t *btree) get(key *[base.MaxKeySize]byte) ([]byte, error) {
	off, err := t.leafFor(key)
	if err != nil {
		return nil, err
	}
	leaf, err := t.loadLeaf(off)
	if err != nil {
		return nil, err
	}
	i := leaf.Find(key)
	if i < 0 {
		t.release(off)
		return nil, nil
	}
	v := base.Trim(leaf.Records[i].Value[:])
	out := make([]byte, len(v))
	copy(out, v)
	t.release(off)
	return out, nil
}

// put inserts or overwrites. Size changes only on genuine insertion.
func (t *btree) put(key *[base.MaxKeySize]byte, value *[base.MaxValueSize]byte) error {
	off, err := t.leafFor(key)
	if err != nil {
		return err
	}
	leaf, err := t.loadLeaf(off)
	if err != nil {
		return err
	}

	i := leaf.UpperBound(key)
	if i > 0 && leaf.Records[i-1].Key == *key {
		leaf.Records[i-1].Value = *value
		t.release(off)
		return nil
	}
	leaf.InsertAt(i, key, value)
	t.meta.Size++
	if int(leaf.Count) <= base.MaxKeys {
		t.release(off)
		return nil
	}

	// The leaf overflowed: split it and push the separator up, splitting
	// index nodes until a level absorbs the insert or a new root is made.
	right, err := t.splitLeaf(leaf)
	if err != nil {
		t.release(off)
		return err
	}
	sep := right.Records[0].Key
	parent, err := t.parentOf(&leaf.NodeHeader)
	if err != nil {
		t.release(right.Offset)
		t.release(off)
		return err
	}
	right.Parent = leaf.Parent
	insertSeparator(parent, &sep, leaf.Offset, right.Offset)
	t.release(right.Offset)
	t.release(off)

	childLeaf := true
	node := parent
	for int(node.Count) > base.MaxKeys {
		right, err := t.splitIndex(node, childLeaf)
		if err != nil {
			t.release(node.Offset)
			return err
		}
		// The promoted key still sits in the split node's array one past
		// its reduced Count.
		sep := node.Indexes[node.Count].Key
		parent, err := t.parentOf(&node.NodeHeader)
		if err != nil {
			t.release(right.Offset)
			t.release(node.Offset)
			return err
		}
		right.Parent = node.Parent
		insertSeparator(parent, &sep, node.Offset, right.Offset)
		t.release(right.Offset)
		t.release(node.Offset)
		node = parent
		childLeaf = false
	}
	t.release(node.Offset)
	return nil
}

// insertSeparator routes sep into p between the two halves of a split.
func insertSeparator(p *base.IndexNode, sep *[base.MaxKeySize]byte, left, right int64) {
	i := p.UpperBound(sep)
	p.InsertEntryAt(i, sep, left)
	p.Indexes[i+1].Child = right
}

// splitLeaf allocates a right sibling, moves the upper records into it,
// and links it into the leaf chain. The split is right-biased: the new
// sibling receives records [mid, Order) and its first key becomes the
// separator promoted to the parent.
func (t *btree) splitLeaf(leaf *base.LeafNode) (*base.LeafNode, error) {
	mid := (base.Order - 1) / 2
	right, err := t.allocLeaf()
	if err != nil {
		return nil, err
	}
	copy(right.Records[:base.Order-mid], leaf.Records[mid:base.Order])
	leaf.Count = uint64(mid)
	right.Count = uint64(base.Order - mid)

	right.Left = leaf.Offset
	right.Right = leaf.Right
	leaf.Right = right.Offset
	if right.Right != 0 {
		sib, err := t.loadLeaf(right.Right)
		if err != nil {
			t.release(right.Offset)
			return nil, err
		}
		sib.Left = right.Offset
		t.release(right.Right)
	}
	return right, nil
}

// splitIndex splits a full index node, center-extracting: the new right
// sibling receives keys [mid+1, Order) with their children, the key at mid
// is left in place past Count for the caller to promote. Moved children
// are reparented; childLeaf says what kind they are.
func (t *btree) splitIndex(x *base.IndexNode, childLeaf bool) (*base.IndexNode, error) {
	mid := (base.Order - 1) / 2
	right, err := t.allocIndex()
	if err != nil {
		return nil, err
	}
	copy(right.Indexes[:base.Order-mid], x.Indexes[mid+1:base.Order+1])
	x.Count = uint64(mid)
	right.Count = uint64(base.Order - mid - 1)

	for i := 0; i <= int(right.Count); i++ {
		childOff := right.Indexes[i].Child
		h, err := t.loadHeader(childOff, childLeaf)
		if err != nil {
			t.release(right.Offset)
			return nil, err
		}
		h.Parent = right.Offset
		t.release(childOff)
	}

	right.Left = x.Offset
	right.Right = x.Right
	x.Right = right.Offset
	if right.Right != 0 {
		sib, err := t.loadIndex(right.Right)
		if err != nil {
			t.release(right.Offset)
			return nil, err
		}
		sib.Left = right.Offset
		t.release(right.Right)
	}
	return right, nil
}

// parentOf loads a node's parent, or allocates a new index root when the
// node is the root. The new root becomes current immediately and the
// height grows by one.
func (t *btree) parentOf(h *base.NodeHeader) (*base.IndexNode, error) {
	if h.Parent == 0 {
		root, err := t.allocIndex()
		if err != nil {
			return nil, err
		}
		h.Parent = root.Offset
		t.meta.Root = root.Offset
		t.meta.Height++
		return root, nil
	}
	return t.loadIndex(h.Parent)
}

// scan walks leaves from lo through the right-sibling chain, collecting
// every record with lo <= key <= hi.
func (t *btree) scan(lo, hi *[base.MaxKeySize]byte) ([]KV, error) {
	var out []KV
	off, err := t.leafFor(lo)
	if err != nil {
		return nil, err
	}
	leaf, err := t.loadLeaf(off)
	if err != nil {
		return nil, err
	}
	for i := leaf.LowerBound(lo); i < int(leaf.Count); i++ {
		r := &leaf.Records[i]
		if bytes.Compare(r.Key[:], hi[:]) > 0 {
			t.release(off)
			return out, nil
		}
		out = append(out, copyRecord(r))
	}
	next := leaf.Right
	t.release(off)

	for next != 0 {
		leaf, err := t.loadLeaf(next)
		if err != nil {
			return nil, err
		}
		for i := 0; i < int(leaf.Count); i++ {
			r := &leaf.Records[i]
			if bytes.Compare(r.Key[:], hi[:]) > 0 {
				t.release(next)
				return out, nil
			}
			out = append(out, copyRecord(r))
		}
		cur := next
		next = leaf.Right
		t.release(cur)
	}
	return out, nil
}

// copyRecord copies a record out of mapped memory, stripping the fixed-
// width padding.
func copyRecord(r *base.Record) KV {
	k := base.Trim(r.Key[:])
	v := base.Trim(r.Value[:])
	kv := KV{Key: make([]byte, len(k)), Value: make([]byte, len(v))}
	copy(kv.Key, k)
	copy(kv.Value, v)
	return kv
}
