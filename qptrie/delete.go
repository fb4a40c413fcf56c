package qptrie

import "unsafe"

// deleteAt implements spec §4.4 Delete. cur must be a branch (the leaf-root
// case is handled directly in Trie.DeleteByKey). It returns the twig that
// should occupy cur's former position, the deleted leaf's (pointer, ival),
// and an error.
func (t *Trie) deleteAt(cur twig, key Key) (twig, unsafe.Pointer, uint32, error) {
	idx := cur.branchIndex()
	s := key.symbolAt(idx)
	if !cur.branchHasSymbol(s) {
		return cur, nil, 0, ErrNotFound
	}

	n := cur.branchCount()
	off := cur.branchOffset(s)
	children := t.alloc.deref(cur.childRef, n)
	child := children[off]

	if child.isLeaf() {
		existingKey := t.methods.MakeKey(t.uctx, child.leafPtr, child.leafIval())
		if key.compare(existingKey) != 0 {
			return cur, nil, 0, ErrNotFound
		}
		pval, ival := child.leafPtr, child.leafIval()

		if n == 2 {
			// Collapse: the sole remaining sibling takes cur's place in
			// the grandparent (spec §4.4 Delete).
			other := children[1-off]
			t.alloc.reclaim(cur.childRef, n)
			return other, pval, ival, nil
		}

		newRef := t.alloc.alloc(n - 1)
		newChildren := t.alloc.deref(newRef, n-1)
		copy(newChildren[:off], children[:off])
		copy(newChildren[off:], children[off+1:])
		t.alloc.reclaim(cur.childRef, n)
		newBitmap := cur.branchBitmap() &^ (uint64(1) << s)
		return newBranch(idx, newBitmap, newRef), pval, ival, nil
	}

	replacement, pval, ival, err := t.deleteAt(child, key)
	if err != nil {
		return cur, nil, 0, err
	}

	if t.alloc.isMutable(cur.childRef) {
		children[off] = replacement
		return cur, pval, ival, nil
	}

	newRef := t.alloc.alloc(n)
	newChildren := t.alloc.deref(newRef, n)
	copy(newChildren, children)
	newChildren[off] = replacement
	t.alloc.reclaim(cur.childRef, n)
	return newBranch(idx, cur.branchBitmap(), newRef), pval, ival, nil
}
