package base

import "bytes"

// FixKey normalizes a key to its fixed stored width: truncated to
// MaxKeySize, NUL-padded below it. Comparison of two fixed keys with
// bytes.Compare then matches comparison of the originals bounded by the
// key width.
func FixKey(k []byte) (out [MaxKeySize]byte) {
	copy(out[:], k)
	return out
}

// FixValue normalizes a value to its fixed stored width.
func FixValue(v []byte) (out [MaxValueSize]byte) {
	copy(out[:], v)
	return out
}

// Trim strips the NUL padding a fixed-width buffer carries on disk.
// Values that legitimately end in NUL bytes are not distinguishable from
// padding in this format.
func Trim(b []byte) []byte {
	return bytes.TrimRight(b, "\x00")
}

// upperBound returns the smallest i in [0, n) with key < keyAt(i), or n.
func upperBound(n int, key *[MaxKeySize]byte, keyAt func(int) *[MaxKeySize]byte) int {
	lo, hi := 0, n-1
	for lo <= hi {
		mid := (lo + hi) >> 1
		if bytes.Compare(keyAt(mid)[:], key[:]) <= 0 {
			lo = mid + 1
		} else {
			hi = mid - 1
		}
	}
	return lo
}

// lowerBound returns the smallest i in [0, n) with key <= keyAt(i), or n.
func lowerBound(n int, key *[MaxKeySize]byte, keyAt func(int) *[MaxKeySize]byte) int {
	lo, hi := 0, n-1
	for lo <= hi {
		mid := (lo + hi) >> 1
		if bytes.Compare(keyAt(mid)[:], key[:]) < 0 {
			lo = mid + 1
		} else {
			hi = mid - 1
		}
	}
	return lo
}

// UpperBound locates the insertion point for key among the leaf's records.
func (l *LeafNode) UpperBound(key *[MaxKeySize]byte) int {
	return upperBound(int(l.Count), key, func(i int) *[MaxKeySize]byte { return &l.Records[i].Key })
}

// LowerBound locates the first record with key <= its key.
func (l *LeafNode) LowerBound(key *[MaxKeySize]byte) int {
	return lowerBound(int(l.Count), key, func(i int) *[MaxKeySize]byte { return &l.Records[i].Key })
}

// Find returns the position of key in the leaf, or -1.
func (l *LeafNode) Find(key *[MaxKeySize]byte) int {
	i := l.LowerBound(key)
	if i < int(l.Count) && l.Records[i].Key == *key {
		return i
	}
	return -1
}

// First and Last require Count > 0.
func (l *LeafNode) First() *Record { return &l.Records[0] }
func (l *LeafNode) Last() *Record  { return &l.Records[l.Count-1] }

// InsertAt shifts records [i, Count) right by one and writes the pair at i.
func (l *LeafNode) InsertAt(i int, key *[MaxKeySize]byte, value *[MaxValueSize]byte) {
	n := int(l.Count)
	copy(l.Records[i+1:n+1], l.Records[i:n])
	l.Records[i].Key = *key
	l.Records[i].Value = *value
	l.Count++
}

// DeleteAt removes the record at i, shifting the tail left.
func (l *LeafNode) DeleteAt(i int) {
	n := int(l.Count)
	copy(l.Records[i:n-1], l.Records[i+1:n])
	l.Count--
}

// MergeLeft prepends the left sibling's records.
func (l *LeafNode) MergeLeft(s *LeafNode) {
	n, sc := int(l.Count), int(s.Count)
	copy(l.Records[sc:sc+n], l.Records[:n])
	copy(l.Records[:sc], s.Records[:sc])
	l.Count += s.Count
}

// MergeRight appends the right sibling's records.
func (l *LeafNode) MergeRight(s *LeafNode) {
	copy(l.Records[l.Count:], s.Records[:s.Count])
	l.Count += s.Count
}

// UpperBound locates the child slot routing key: the smallest i with
// key < Indexes[i].Key, which is also the slot of the child whose subtree
// would hold key.
func (x *IndexNode) UpperBound(key *[MaxKeySize]byte) int {
	return upperBound(int(x.Count), key, func(i int) *[MaxKeySize]byte { return &x.Indexes[i].Key })
}

// FirstKey and LastKey require Count > 0.
func (x *IndexNode) FirstKey() *[MaxKeySize]byte { return &x.Indexes[0].Key }
func (x *IndexNode) LastKey() *[MaxKeySize]byte  { return &x.Indexes[x.Count-1].Key }

// InsertKeyAt shifts entries [i, Count] right by one and writes key at i.
// The child at slot i is duplicated into slot i+1 by the shift; callers
// overwrite whichever copy they mean to replace.
func (x *IndexNode) InsertKeyAt(i int, key *[MaxKeySize]byte) {
	n := int(x.Count)
	copy(x.Indexes[i+1:n+2], x.Indexes[i:n+1])
	x.Indexes[i].Key = *key
	x.Count++
}

// InsertEntryAt inserts a separator key with its left child at slot i.
func (x *IndexNode) InsertEntryAt(i int, key *[MaxKeySize]byte, child int64) {
	x.InsertKeyAt(i, key)
	x.Indexes[i].Child = child
}

// DeleteAt removes the key at slot i together with the child at slot i.
func (x *IndexNode) DeleteAt(i int) {
	n := int(x.Count)
	copy(x.Indexes[i:n], x.Indexes[i+1:n+1])
	x.Count--
}

// MergeLeft prepends the left sibling's entries, reserving the slot between
// the two runs for the separator pulled down from the parent. The caller
// writes that key at slot s.Count afterwards.
func (x *IndexNode) MergeLeft(s *IndexNode) {
	n, sc := int(x.Count), int(s.Count)
	copy(x.Indexes[sc+1:sc+1+n+1], x.Indexes[:n+1])
	copy(x.Indexes[:sc+1], s.Indexes[:sc+1])
	x.Count += s.Count + 1
}

// MergeRight appends the right sibling's entries. The caller has already
// appended the pulled-down separator, so slot Count is the first unused
// child slot; the sibling's entries are copied in starting there.
func (x *IndexNode) MergeRight(s *IndexNode) {
	n, sc := int(x.Count), int(s.Count)
	copy(x.Indexes[n:n+sc+1], s.Indexes[:sc+1])
	x.Count += s.Count
}
