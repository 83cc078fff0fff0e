package grovekv

import (
	"fmt"
	"io"

	"grovekv/internal/base"
)

// DumpTo writes a level-order rendering of the tree to w, one line per
// level, nodes separated by double spaces. Intended for debugging small
// trees; it walks every block.
func (db *DB) DumpTo(w io.Writer) error {
	db.mu.RLock()
	defer db.mu.RUnlock()
	if db.closed {
		return ErrDatabaseClosed
	}
	t := db.tree

	type item struct {
		off   int64
		depth uint64
	}
	queue := []item{{t.meta.Root, 1}}
	depth := uint64(0)
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		if cur.depth != depth {
			depth = cur.depth
			if depth > 1 {
				if _, err := fmt.Fprintln(w); err != nil {
					return err
				}
			}
		}
		if cur.depth < t.meta.Height {
			x, err := t.loadIndex(cur.off)
			if err != nil {
				return err
			}
			for i := 0; i <= int(x.Count); i++ {
				if i < int(x.Count) {
					if _, err := fmt.Fprintf(w, "%q,", base.Trim(x.Indexes[i].Key[:])); err != nil {
						t.release(cur.off)
						return err
					}
				}
				queue = append(queue, item{x.Indexes[i].Child, cur.depth + 1})
			}
			t.release(cur.off)
		} else {
			leaf, err := t.loadLeaf(cur.off)
			if err != nil {
				return err
			}
			for i := 0; i < int(leaf.Count); i++ {
				if _, err := fmt.Fprintf(w, "%q,", base.Trim(leaf.Records[i].Key[:])); err != nil {
					t.release(cur.off)
					return err
				}
			}
			t.release(cur.off)
		}
		if _, err := fmt.Fprint(w, "  "); err != nil {
			return err
		}
	}
	_, err := fmt.Fprintln(w)
	return err
}
