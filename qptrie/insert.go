package qptrie

import "unsafe"

// insertAt implements spec §4.4 Insert's descent. It returns the twig
// value that should occupy cur's former position — unchanged, mutated in
// place, or a freshly copy-on-written replacement — which the caller
// (insertAt itself, one level up, or Trie.Insert at the root) is
// responsible for storing.
func (t *Trie) insertAt(cur twig, key Key, pval unsafe.Pointer, ival uint32) (twig, error) {
	if cur.isLeaf() {
		return t.splitLeaf(cur, key, pval, ival)
	}

	idx := cur.branchIndex()
	s := key.symbolAt(idx)
	n := cur.branchCount()

	if !cur.branchHasSymbol(s) {
		// New-child insertion (spec §4.4 case a): widen the child array.
		newRef := t.alloc.alloc(n + 1)
		newChildren := t.alloc.deref(newRef, n+1)
		oldChildren := t.alloc.deref(cur.childRef, n)
		off := cur.branchOffset(s)
		copy(newChildren[:off], oldChildren[:off])
		newChildren[off] = newLeaf(pval, ival)
		copy(newChildren[off+1:], oldChildren[off:])
		t.alloc.reclaim(cur.childRef, n)
		newBitmap := cur.branchBitmap() | (uint64(1) << s)
		return newBranch(idx, newBitmap, newRef), nil
	}

	// Descend (spec §4.4 case b continuation): recurse, then splice the
	// result back into this branch's child array, cloning the array only
	// if it is shared with another version.
	off := cur.branchOffset(s)
	n2 := n
	children := t.alloc.deref(cur.childRef, n2)
	child := children[off]

	replacement, err := t.insertAt(child, key, pval, ival)
	if err != nil {
		return cur, err
	}

	if t.alloc.isMutable(cur.childRef) {
		children[off] = replacement
		return cur, nil
	}

	newRef := t.alloc.alloc(n2)
	newChildren := t.alloc.deref(newRef, n2)
	copy(newChildren, children)
	newChildren[off] = replacement
	t.alloc.reclaim(cur.childRef, n2)
	return newBranch(idx, cur.branchBitmap(), newRef), nil
}

// splitLeaf handles spec §4.4 Insert case (b): cur is a leaf. Compare keys
// byte-by-byte to find the first differing index d. Equal keys fail with
// ErrExists; otherwise allocate a new branch at index d holding both
// leaves, in symbol order, with the terminator symbol standing in for
// whichever key ran out first.
func (t *Trie) splitLeaf(cur twig, key Key, pval unsafe.Pointer, ival uint32) (twig, error) {
	existingKey := t.methods.MakeKey(t.uctx, cur.leafPtr, cur.leafIval())

	d, differs := key.firstDiff(existingKey)
	if !differs {
		return cur, ErrExists
	}

	sNew := key.symbolAt(d)
	sOld := existingKey.symbolAt(d)

	newLeafTwig := newLeaf(pval, ival)
	bitmap := uint64(1)<<sNew | uint64(1)<<sOld

	childRef := t.alloc.alloc(2)
	children := t.alloc.deref(childRef, 2)
	if sNew < sOld {
		children[0] = newLeafTwig
		children[1] = cur
	} else {
		children[0] = cur
		children[1] = newLeafTwig
	}

	return newBranch(d, bitmap, childRef), nil
}
