package qptrie

import "unsafe"

// iterFrame is one level of the explicit DFS stack: the children array of
// a branch we're descending, and the index of the next child to try.
type iterFrame struct {
	children []twig
	idx      int
}

// Iterator yields a trie's leaves in ascending key order (spec §4.4). Its
// maximum stack depth is bounded by MaxKeyLen, since a branch's index
// strictly increases along any root-to-leaf path.
type Iterator struct {
	alloc   *allocator
	methods Methods
	uctx    any
	stack   []iterFrame
	pending twig
	done    bool
}

func newIterator(alloc *allocator, methods Methods, uctx any, root twig, empty bool) *Iterator {
	it := &Iterator{alloc: alloc, methods: methods, uctx: uctx}
	if empty {
		it.done = true
		return it
	}
	it.descendLeftmost(root)
	return it
}

// descendLeftmost pushes a frame for every branch on the way down to t's
// leftmost leaf, leaving that leaf in it.pending.
func (it *Iterator) descendLeftmost(t twig) {
	for !t.isLeaf() {
		children := it.alloc.deref(t.childRef, t.branchCount())
		it.stack = append(it.stack, iterFrame{children: children, idx: 1})
		t = children[0]
	}
	it.pending = t
}

// Next returns the next leaf's (pointer, uint32) pair in ascending key
// order, or ok=false once the iteration is exhausted.
func (it *Iterator) Next() (pval unsafe.Pointer, ival uint32, ok bool) {
	if it.done {
		return nil, 0, false
	}
	pval, ival = it.pending.leafPtr, it.pending.leafIval()
	it.advance()
	return pval, ival, true
}

func (it *Iterator) advance() {
	for len(it.stack) > 0 {
		top := &it.stack[len(it.stack)-1]
		if top.idx < len(top.children) {
			next := top.children[top.idx]
			top.idx++
			it.descendLeftmost(next)
			return
		}
		it.stack = it.stack[:len(it.stack)-1]
	}
	it.done = true
}

// newResumedIterator rebuilds iteration state to continue strictly after
// `from`, per spec §4.4's "restartable by rebuilding the stack from a
// resume key".
func newResumedIterator(alloc *allocator, methods Methods, uctx any, root twig, empty bool, from Key) *Iterator {
	it := &Iterator{alloc: alloc, methods: methods, uctx: uctx}
	if empty || !it.seek(root, from, methods, uctx) {
		it.done = true
	}
	return it
}

// seek descends toward the first leaf whose key sorts strictly after
// from, pushing frames as it goes. It returns false if every leaf in t's
// subtree sorts at or before from.
func (it *Iterator) seek(t twig, from Key, methods Methods, uctx any) bool {
	if t.isLeaf() {
		leafKey := methods.MakeKey(uctx, t.leafPtr, t.leafIval())
		if leafKey.compare(from) > 0 {
			it.pending = t
			return true
		}
		return false
	}

	idx := t.branchIndex()
	// Every key under t shares its first idx bytes; if from leaves that
	// shared prefix before idx, the whole subtree sorts on one side of it.
	leftmost := t
	for !leftmost.isLeaf() {
		leftmost = it.alloc.deref(leftmost.childRef, leftmost.branchCount())[0]
	}
	lk := methods.MakeKey(uctx, leftmost.leafPtr, leftmost.leafIval())
	if d, differs := lk.firstDiff(from); differs && d < idx {
		if lk.symbolAt(d) < from.symbolAt(d) {
			return false
		}
		it.descendLeftmost(t)
		return true
	}
	start := from.symbolAt(idx)
	bitmap := t.branchBitmap()
	children := it.alloc.deref(t.childRef, t.branchCount())

	frameIdx := len(it.stack)
	it.stack = append(it.stack, iterFrame{children: children})

	for sym := int(start); sym < SymbolCount; sym++ {
		if bitmap&(uint64(1)<<uint(sym)) == 0 {
			continue
		}
		off := rankPopcount(bitmap, sym)
		it.stack[frameIdx].idx = off + 1
		if it.seek(children[off], from, methods, uctx) {
			return true
		}
	}

	it.stack = it.stack[:frameIdx]
	return false
}
