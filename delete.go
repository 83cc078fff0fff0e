package grovekv

import (
	"fmt"

	"grovekv/internal/base"
)

// delete removes key from the tree, rebalancing leaves and index nodes
// back within their fill bounds. Returns false when the key was absent.
//
// Borrow and merge both require a sibling sharing the node's parent; the
// separator between two such siblings is located through the parent's own
// keys, never through chain adjacency. After a leaf borrow the separator
// between the two siblings is the first key of the right one. A merge
// removes the separator between the merged pair and leaves the
// neighbouring separators as they were.
func (t *btree) delete(key *[base.MaxKeySize]byte) (bool, error) {
	off, err := t.leafFor(key)
	if err != nil {
		return false, err
	}
	leaf, err := t.loadLeaf(off)
	if err != nil {
		return false, err
	}
	i := leaf.Find(key)
	if i < 0 {
		t.release(off)
		return false, nil
	}
	leaf.DeleteAt(i)
	t.meta.Size--

	// A root leaf may run empty; any other leaf at MinKeys or above is
	// still legal.
	if leaf.Parent == 0 || int(leaf.Count) >= base.MinKeys {
		t.release(off)
		return true, nil
	}

	ok, err := t.borrowLeaf(leaf)
	if err != nil {
		t.release(off)
		return false, err
	}
	if ok {
		t.release(off)
		return true, nil
	}
	if err := t.mergeLeaf(leaf); err != nil {
		t.release(off)
		return false, err
	}
	parentOff := leaf.Parent
	t.release(off)

	// The merge removed a separator from the parent; ascend while index
	// nodes underflow, borrowing where a sibling has surplus and merging
	// otherwise.
	x, err := t.loadIndex(parentOff)
	if err != nil {
		return false, err
	}
	childLeaf := true
	for x.Parent != 0 && int(x.Count) < base.MinKeys {
		ok, err := t.borrowIndex(x, childLeaf)
		if err != nil {
			t.release(x.Offset)
			return false, err
		}
		if ok {
			break
		}
		if err := t.mergeIndex(x, childLeaf); err != nil {
			t.release(x.Offset)
			return false, err
		}
		next := x.Parent
		t.release(x.Offset)
		if x, err = t.loadIndex(next); err != nil {
			return false, err
		}
		childLeaf = false
	}

	if x.Parent == 0 && x.Count == 0 {
		// The root lost its last separator: promote its only child and
		// abandon the old root block.
		childOff := x.Indexes[0].Child
		h, err := t.loadHeader(childOff, t.meta.Height == 2)
		if err != nil {
			t.release(x.Offset)
			return false, err
		}
		h.Parent = 0
		t.meta.Root = childOff
		t.meta.Height--
		t.release(childOff)
	}
	t.release(x.Offset)
	return true, nil
}

// borrowLeaf moves one record from a same-parent sibling with surplus,
// left first.
func (t *btree) borrowLeaf(leaf *base.LeafNode) (bool, error) {
	ok, err := t.borrowLeafLeft(leaf)
	if ok || err != nil {
		return ok, err
	}
	return t.borrowLeafRight(leaf)
}

func (t *btree) borrowLeafLeft(leaf *base.LeafNode) (bool, error) {
	if leaf.Left == 0 {
		return false, nil
	}
	sib, err := t.loadLeaf(leaf.Left)
	if err != nil {
		return false, err
	}
	if sib.Parent != leaf.Parent || int(sib.Count) <= base.MinKeys {
		t.release(leaf.Left)
		return false, nil
	}

	last := sib.Last()
	leaf.InsertAt(0, &last.Key, &last.Value)
	sib.Count--

	// The separator routing between sibling and leaf becomes leaf's new
	// first key.
	p, err := t.loadIndex(leaf.Parent)
	if err != nil {
		t.release(leaf.Left)
		return false, err
	}
	i := p.UpperBound(&sib.Last().Key)
	p.Indexes[i].Key = leaf.Records[0].Key
	t.release(leaf.Parent)
	t.release(leaf.Left)
	return true, nil
}

func (t *btree) borrowLeafRight(leaf *base.LeafNode) (bool, error) {
	if leaf.Right == 0 {
		return false, nil
	}
	sib, err := t.loadLeaf(leaf.Right)
	if err != nil {
		return false, err
	}
	if sib.Parent != leaf.Parent || int(sib.Count) <= base.MinKeys {
		t.release(leaf.Right)
		return false, nil
	}

	first := sib.First()
	leaf.Records[leaf.Count] = *first
	leaf.Count++
	sib.DeleteAt(0)

	// The separator routing between leaf and sibling becomes sibling's
	// new first key.
	p, err := t.loadIndex(leaf.Parent)
	if err != nil {
		t.release(leaf.Right)
		return false, err
	}
	i := p.UpperBound(&sib.Last().Key)
	p.Indexes[i-1].Key = sib.Records[0].Key
	t.release(leaf.Parent)
	t.release(leaf.Right)
	return true, nil
}

// mergeLeaf concatenates leaf with a same-parent sibling, left preferred,
// and removes the intervening separator from the parent. A non-root node
// always has at least one same-parent adjacent sibling; anything else is a
// corrupted tree.
func (t *btree) mergeLeaf(leaf *base.LeafNode) error {
	ok, err := t.mergeLeafLeft(leaf)
	if ok || err != nil {
		return err
	}
	ok, err = t.mergeLeafRight(leaf)
	if err != nil {
		return err
	}
	if !ok {
		panic(fmt.Sprintf("grovekv: leaf %d underflowed with no viable sibling", leaf.Offset))
	}
	return nil
}

func (t *btree) mergeLeafLeft(leaf *base.LeafNode) (bool, error) {
	if leaf.Left == 0 {
		return false, nil
	}
	sib, err := t.loadLeaf(leaf.Left)
	if err != nil {
		return false, err
	}
	if sib.Parent != leaf.Parent {
		t.release(leaf.Left)
		return false, nil
	}

	p, err := t.loadIndex(leaf.Parent)
	if err != nil {
		t.release(leaf.Left)
		return false, err
	}
	i := p.UpperBound(&sib.Last().Key)
	p.DeleteAt(i)
	t.release(leaf.Parent)

	leaf.MergeLeft(sib)

	leaf.Left = sib.Left
	if sib.Left != 0 {
		far, err := t.loadLeaf(sib.Left)
		if err != nil {
			t.release(sib.Offset)
			return false, err
		}
		far.Right = leaf.Offset
		t.release(sib.Left)
	}
	t.release(sib.Offset)
	return true, nil
}

func (t *btree) mergeLeafRight(leaf *base.LeafNode) (bool, error) {
	if leaf.Right == 0 {
		return false, nil
	}
	sib, err := t.loadLeaf(leaf.Right)
	if err != nil {
		return false, err
	}
	if sib.Parent != leaf.Parent {
		t.release(leaf.Right)
		return false, nil
	}

	// Drop the separator between leaf and sibling; leaf keeps its child
	// slot, the sibling's goes.
	p, err := t.loadIndex(leaf.Parent)
	if err != nil {
		t.release(leaf.Right)
		return false, err
	}
	i := p.UpperBound(&sib.Last().Key)
	p.Indexes[i-1].Key = p.Indexes[i].Key
	p.DeleteAt(i)
	t.release(leaf.Parent)

	leaf.MergeRight(sib)

	leaf.Right = sib.Right
	if sib.Right != 0 {
		far, err := t.loadLeaf(sib.Right)
		if err != nil {
			t.release(sib.Offset)
			return false, err
		}
		far.Left = leaf.Offset
		t.release(sib.Right)
	}
	t.release(sib.Offset)
	return true, nil
}

// borrowIndex rotates one key through the parent from a same-parent index
// sibling with surplus, left first. childLeaf says what kind of node the
// moved child pointer names.
func (t *btree) borrowIndex(x *base.IndexNode, childLeaf bool) (bool, error) {
	ok, err := t.borrowIndexLeft(x, childLeaf)
	if ok || err != nil {
		return ok, err
	}
	return t.borrowIndexRight(x, childLeaf)
}

func (t *btree) borrowIndexLeft(x *base.IndexNode, childLeaf bool) (bool, error) {
	if x.Left == 0 {
		return false, nil
	}
	sib, err := t.loadIndex(x.Left)
	if err != nil {
		return false, err
	}
	if sib.Parent != x.Parent || int(sib.Count) <= base.MinKeys {
		t.release(x.Left)
		return false, nil
	}

	// Rotate through the parent: the separator drops into x, the
	// sibling's last key replaces it, the sibling's last child crosses
	// over.
	p, err := t.loadIndex(x.Parent)
	if err != nil {
		t.release(x.Left)
		return false, err
	}
	i := p.UpperBound(sib.LastKey())
	x.InsertKeyAt(0, &p.Indexes[i].Key)
	p.Indexes[i].Key = *sib.LastKey()

	childOff := sib.Indexes[sib.Count].Child
	sib.Count--
	x.Indexes[0].Child = childOff
	h, err := t.loadHeader(childOff, childLeaf)
	if err != nil {
		t.release(x.Parent)
		t.release(x.Left)
		return false, err
	}
	h.Parent = x.Offset
	t.release(childOff)
	t.release(x.Parent)
	t.release(x.Left)
	return true, nil
}

func (t *btree) borrowIndexRight(x *base.IndexNode, childLeaf bool) (bool, error) {
	if x.Right == 0 {
		return false, nil
	}
	sib, err := t.loadIndex(x.Right)
	if err != nil {
		return false, err
	}
	if sib.Parent != x.Parent || int(sib.Count) <= base.MinKeys {
		t.release(x.Right)
		return false, nil
	}

	p, err := t.loadIndex(x.Parent)
	if err != nil {
		t.release(x.Right)
		return false, err
	}
	i := p.UpperBound(sib.LastKey())
	x.Indexes[x.Count].Key = p.Indexes[i-1].Key
	x.Count++
	p.Indexes[i-1].Key = *sib.FirstKey()

	childOff := sib.Indexes[0].Child
	x.Indexes[x.Count].Child = childOff
	h, err := t.loadHeader(childOff, childLeaf)
	if err != nil {
		t.release(x.Parent)
		t.release(x.Right)
		return false, err
	}
	h.Parent = x.Offset
	t.release(childOff)
	sib.DeleteAt(0)
	t.release(x.Parent)
	t.release(x.Right)
	return true, nil
}

// mergeIndex concatenates x with a same-parent index sibling, pulling the
// intervening separator down between the two runs of keys, left preferred.
func (t *btree) mergeIndex(x *base.IndexNode, childLeaf bool) error {
	ok, err := t.mergeIndexLeft(x, childLeaf)
	if ok || err != nil {
		return err
	}
	ok, err = t.mergeIndexRight(x, childLeaf)
	if err != nil {
		return err
	}
	if !ok {
		panic(fmt.Sprintf("grovekv: index node %d underflowed with no viable sibling", x.Offset))
	}
	return nil
}

func (t *btree) mergeIndexLeft(x *base.IndexNode, childLeaf bool) (bool, error) {
	if x.Left == 0 {
		return false, nil
	}
	sib, err := t.loadIndex(x.Left)
	if err != nil {
		return false, err
	}
	if sib.Parent != x.Parent {
		t.release(x.Left)
		return false, nil
	}

	x.MergeLeft(sib)

	// Everything that moved in now answers to x.
	for i := 0; i <= int(sib.Count); i++ {
		childOff := x.Indexes[i].Child
		h, err := t.loadHeader(childOff, childLeaf)
		if err != nil {
			t.release(x.Left)
			return false, err
		}
		h.Parent = x.Offset
		t.release(childOff)
	}

	x.Left = sib.Left
	if sib.Left != 0 {
		far, err := t.loadIndex(sib.Left)
		if err != nil {
			t.release(sib.Offset)
			return false, err
		}
		far.Right = x.Offset
		t.release(sib.Left)
	}

	// Pull the separator down into the reserved slot, then drop it and
	// the sibling's child pointer from the parent.
	p, err := t.loadIndex(x.Parent)
	if err != nil {
		t.release(sib.Offset)
		return false, err
	}
	i := p.UpperBound(sib.LastKey())
	x.Indexes[sib.Count].Key = p.Indexes[i].Key
	p.DeleteAt(i)
	t.release(x.Parent)
	t.release(sib.Offset)
	return true, nil
}

func (t *btree) mergeIndexRight(x *base.IndexNode, childLeaf bool) (bool, error) {
	if x.Right == 0 {
		return false, nil
	}
	sib, err := t.loadIndex(x.Right)
	if err != nil {
		return false, err
	}
	if sib.Parent != x.Parent {
		t.release(x.Right)
		return false, nil
	}

	p, err := t.loadIndex(x.Parent)
	if err != nil {
		t.release(x.Right)
		return false, err
	}
	i := p.UpperBound(sib.LastKey())
	x.Indexes[x.Count].Key = p.Indexes[i-1].Key
	x.Count++

	x.MergeRight(sib)

	for j := 0; j <= int(sib.Count); j++ {
		childOff := sib.Indexes[j].Child
		h, err := t.loadHeader(childOff, childLeaf)
		if err != nil {
			t.release(x.Parent)
			t.release(x.Right)
			return false, err
		}
		h.Parent = x.Offset
		t.release(childOff)
	}

	x.Right = sib.Right
	if sib.Right != 0 {
		far, err := t.loadIndex(sib.Right)
		if err != nil {
			t.release(x.Parent)
			t.release(sib.Offset)
			return false, err
		}
		far.Left = x.Offset
		t.release(sib.Right)
	}

	p.Indexes[i-1].Key = p.Indexes[i].Key
	p.DeleteAt(i)
	t.release(x.Parent)
	t.release(sib.Offset)
	return true, nil
}
