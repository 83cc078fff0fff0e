// Package base defines the on-disk block layout of the tree. The structs
// here are plain old data: their memory image is exactly their disk image,
// so blocks are read and written by casting mapped memory, never by
// encoding.
package base

import (
	"unsafe"

	"github.com/cespare/xxhash/v2"
)

const (
	// Order is the maximum number of children an index node may have,
	// equivalently one more than the maximum number of keys per node.
	Order = 128

	// MaxKeySize and MaxValueSize are the fixed widths of stored keys and
	// values. Shorter inputs are NUL-padded, longer inputs truncated.
	MaxKeySize   = 32
	MaxValueSize = 256

	// MaxKeys is the upper bound on Count before a node must split.
	MaxKeys = Order - 1

	// MinKeys is the lower bound on Count for non-root nodes. The floor
	// form keeps post-split leaves legal and index merges within MaxKeys
	// for even orders; for odd orders it equals the ceiling form.
	MinKeys = (Order+1)/2 - 1

	// MagicNumber identifies a grovekv file ("grkv" in hex).
	MagicNumber uint32 = 0x67726b76

	FormatVersion uint32 = 1
)

// Order below 3 breaks the split arithmetic; fail the build rather than
// the tree.
const _ = uint(Order - 3)

// Meta is the fixed record at offset 0 of every file.
type Meta struct {
	Magic     uint32
	Version   uint32
	Root      int64  // offset of the current root node
	NextBlock int64  // bump pointer: next unallocated byte offset
	Height    uint64 // 1 when the root is a leaf
	Size      uint64 // total number of stored keys
	Checksum  uint64 // xxhash over the preceding fields
}

// NodeHeader is the shared prefix of index and leaf nodes.
type NodeHeader struct {
	Offset int64 // the block's own file offset
	Parent int64 // 0 iff this node is the root
	Left   int64 // same-level sibling, 0 at the ends
	Right  int64
	Count  uint64 // keys in an index node, records in a leaf
}

// Record is one leaf entry.
type Record struct {
	Key   [MaxKeySize]byte
	Value [MaxValueSize]byte
}

// IndexEntry pairs a separator key with a child pointer. For an index node
// with Count == n, entries 0..n-1 hold separator keys and entries 0..n hold
// child offsets; the key at slot n is unused except transiently during a
// split.
type IndexEntry struct {
	Child int64
	Key   [MaxKeySize]byte
}

// LeafNode holds up to Order records; Count may reach Order only in the
// instant before a split.
type LeafNode struct {
	NodeHeader
	Records [Order]Record
}

// IndexNode holds up to Order keys (one past MaxKeys, split pending) and
// Order+1 children.
type IndexNode struct {
	NodeHeader
	Indexes [Order + 1]IndexEntry
}

const (
	MetaSize      = int(unsafe.Sizeof(Meta{}))
	HeaderSize    = int(unsafe.Sizeof(NodeHeader{}))
	LeafNodeSize  = int(unsafe.Sizeof(LeafNode{}))
	IndexNodeSize = int(unsafe.Sizeof(IndexNode{}))
)

// MetaAt casts a mapped block to its Meta view.
func MetaAt(b []byte) *Meta { return (*Meta)(unsafe.Pointer(&b[0])) }

// HeaderAt casts a mapped block to the header shared by both node kinds.
func HeaderAt(b []byte) *NodeHeader { return (*NodeHeader)(unsafe.Pointer(&b[0])) }

// LeafAt casts a mapped block to a leaf node.
func LeafAt(b []byte) *LeafNode { return (*LeafNode)(unsafe.Pointer(&b[0])) }

// IndexAt casts a mapped block to an index node.
func IndexAt(b []byte) *IndexNode { return (*IndexNode)(unsafe.Pointer(&b[0])) }

// Sum computes the meta checksum over every field before Checksum.
func (m *Meta) Sum() uint64 {
	data := unsafe.Slice((*byte)(unsafe.Pointer(m)), MetaSize-8)
	return xxhash.Sum64(data)
}

// Validate checks that a reopened file carries a meta record this build can
// use. The checksum is stamped on clean close, so a torn file is rejected
// here instead of served.
func (m *Meta) Validate() error {
	if m.Magic != MagicNumber {
		return ErrInvalidMagicNumber
	}
	if m.Version != FormatVersion {
		return ErrInvalidVersion
	}
	if m.Checksum != m.Sum() {
		return ErrInvalidChecksum
	}
	if m.Height == 0 {
		return ErrInvalidMeta
	}
	return nil
}
