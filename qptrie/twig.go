package qptrie

import (
	"math/bits"
	"unsafe"
)

// Bit layout of word0, conceptually following spec §4.2:
//
//	branch: [ 1:63 tag=0 ] [ 9:62-54 index ] [ 47:53-7 bitmap ] [ 7:6-0 unused ]
//	leaf:   [ 1:63 tag=1 ] [ 32:62-31 ival  ] [ 31:30-0 unused ]
const (
	twigTagLeaf uint64 = 1 << 63

	branchIndexShift = 54
	branchIndexBits  = 9
	branchIndexMask  = uint64(1<<branchIndexBits-1) << branchIndexShift

	branchBitmapShift = 7
	branchBitmapBits  = SymbolCount
	branchBitmapMask  = uint64(1<<branchBitmapBits-1) << branchBitmapShift

	leafIvalShift = 31
	leafIvalMask  = uint64(0xFFFFFFFF) << leafIvalShift
)

// twig is a single node of the trie: either a branch or a leaf, always the
// same Go struct so that allocation is uniform and CoW copies are a plain
// value copy (spec §3/§4.2). See doc.go for why this is three words rather
// than the original's two.
type twig struct {
	word0    uint64
	childRef ref
	leafPtr  unsafe.Pointer
}

func (t *twig) isLeaf() bool { return t.word0&twigTagLeaf != 0 }

// --- branch accessors ---

func (t *twig) branchIndex() int {
	return int((t.word0 & branchIndexMask) >> branchIndexShift)
}

func (t *twig) branchBitmap() uint64 {
	return (t.word0 & branchBitmapMask) >> branchBitmapShift
}

func (t *twig) branchCount() int {
	return bits.OnesCount64(t.branchBitmap())
}

// branchOffset returns the offset into the child array for symbol s,
// assuming the caller has already checked the bit is set.
func (t *twig) branchOffset(s byte) int {
	bitmap := t.branchBitmap()
	return rankPopcount(bitmap, int(s))
}

func (t *twig) branchHasSymbol(s byte) bool {
	return t.branchBitmap()&(uint64(1)<<s) != 0
}

func makeBranchWord0(index int, bitmap uint64) uint64 {
	if index < 0 || index >= 1<<branchIndexBits {
		invariant("branch index %d out of range", index)
	}
	return (uint64(index)<<branchIndexShift)&branchIndexMask |
		(bitmap<<branchBitmapShift)&branchBitmapMask
}

func newBranch(index int, bitmap uint64, children ref) twig {
	return twig{
		word0:    makeBranchWord0(index, bitmap),
		childRef: children,
	}
}

// --- leaf accessors ---

func (t *twig) leafIval() uint32 {
	return uint32((t.word0 & leafIvalMask) >> leafIvalShift)
}

func newLeaf(pval unsafe.Pointer, ival uint32) twig {
	return twig{
		word0:    twigTagLeaf | (uint64(ival)<<leafIvalShift)&leafIvalMask,
		childRef: refNone,
		leafPtr:  pval,
	}
}
