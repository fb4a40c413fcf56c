package qptrie

import (
	"math/bits"

	"github.com/hideo55/go-popcount"
)

// ref is a chunk-relative reference to a run of twigs: a (chunk-index,
// slot-index) pair packed into one word, per spec §3's "Allocator" note
// that twig-to-twig links should be chunk-relative rather than raw
// pointers, so that cloning a trie's metadata for a snapshot is O(#chunks)
// instead of requiring a walk of the trie to fix up pointers.
type ref uint64

// refNone is the sentinel for "no reference": an empty trie's root, or a
// leaf twig's unused childRef field.
const refNone ref = ^ref(0)

func makeRef(chunkIdx, slot uint32) ref {
	return ref(uint64(chunkIdx)<<32 | uint64(slot))
}

func (r ref) chunkIdx() uint32 { return uint32(r >> 32) }
func (r ref) slot() uint32     { return uint32(r) }
func (r ref) valid() bool      { return r != refNone }

// defaultChunkSize is the number of twigs per chunk. A power of two, as
// spec §3 requires, chosen so a chunk is a convenient page-sized unit of
// allocation and reclamation.
const defaultChunkSize = 1024

// chunk is a contiguous block of twigs plus the bookkeeping spec §3
// describes: used (ever allocated), free (reclaimable now), hold (still
// visible to an older reader), and an immutable flag that is set exactly
// once, when the chunk is published to readers, and never cleared again.
type chunk struct {
	twigs     []twig
	used      int
	free      int
	hold      int
	immutable bool
	pins      int // snapshot pin count; mutated only under the writer mutex
}

func newChunk(size int) *chunk {
	return &chunk{twigs: make([]twig, 0, size)}
}

func (c *chunk) live() int { return c.used - c.free - c.hold }
func (c *chunk) cap() int  { return cap(c.twigs) }

// fragmented reports whether this chunk is individually more than half
// dead, one of the two fragmentation triggers in spec §4.3.
func (c *chunk) fragmented() bool {
	if c.used == 0 {
		return false
	}
	return float64(c.used-c.live())/float64(c.used) > 0.5
}

// allocator is an ordered list of chunks plus the index of the chunk that
// currently accepts new allocations. It never removes chunks from the
// list itself — reclamation is the GC's job (gc.go); the allocator only
// grows, bump-allocates, and tracks per-chunk counters.
type allocator struct {
	chunks     []*chunk
	active     int
	chunkSize  int
}

func newAllocator(chunkSize int) *allocator {
	if chunkSize <= 0 {
		chunkSize = defaultChunkSize
	}
	a := &allocator{chunkSize: chunkSize}
	a.chunks = append(a.chunks, newChunk(chunkSize))
	return a
}

// alloc returns a run of n twigs, all in the same chunk, starting a new
// chunk if the active one cannot fit n or has already been published (spec
// §4.3). A published chunk's immutable flag is set once, at commit, and
// never cleared (spec §5) — bump-allocating into it afterward would mutate
// a chunk concurrent readers of the prior version are dereferencing
// through their version's own allocator (see version.alloc in multi.go),
// so the active chunk is always sealed off, never reused, the moment it
// becomes immutable.
func (a *allocator) alloc(n int) ref {
	if n <= 0 || n > a.chunkSize {
		invariant("alloc: invalid run length %d", n)
	}
	c := a.chunks[a.active]
	if c.immutable || len(c.twigs)+n > cap(c.twigs) {
		a.chunks = append(a.chunks, newChunk(a.chunkSize))
		a.active = len(a.chunks) - 1
		c = a.chunks[a.active]
	}
	slot := uint32(len(c.twigs))
	c.twigs = c.twigs[:len(c.twigs)+n]
	c.used += n
	return makeRef(uint32(a.active), slot)
}

// deref resolves a ref into the backing slice of n twigs it names.
func (a *allocator) deref(r ref, n int) []twig {
	c := a.chunks[r.chunkIdx()]
	s := r.slot()
	return c.twigs[s : s+uint32(n)]
}

func (a *allocator) chunkAt(idx uint32) *chunk { return a.chunks[idx] }

// markShared flips a chunk's immutable flag when its contents are
// published to readers. The flag is monotonic: cleared, then set, never
// cleared again (spec §5).
func (a *allocator) markShared(chunkIdx uint32) {
	a.chunks[chunkIdx].immutable = true
}

// markAllShared publishes every chunk currently known to this allocator.
// Called once at commit time.
func (a *allocator) markAllShared() {
	for _, c := range a.chunks {
		c.immutable = true
	}
}

// isMutable reports whether r's containing chunk has not yet been
// published — i.e. it was allocated by the current writer and can still
// be modified in place rather than copy-on-written.
func (a *allocator) isMutable(r ref) bool {
	if !r.valid() {
		return true
	}
	return !a.chunks[r.chunkIdx()].immutable
}

// reclaim moves n twigs to the free pool for their chunk. If the chunk is
// shared and still pinned by a snapshot, the twigs are counted as hold
// instead, so reclamation never happens out from under a live reader;
// SnapshotDestroy turns that hold into free once the pins reach zero.
func (a *allocator) reclaim(r ref, n int) {
	if !r.valid() {
		return
	}
	c := a.chunks[r.chunkIdx()]
	if c.immutable && c.pins > 0 {
		c.hold += n
		return
	}
	c.free += n
}

// shrinkLast reallocates the active chunk's backing array down to exactly
// its live length, releasing whatever spare capacity up to chunkSize it
// was carrying (spec §4.3: "after compaction, the final partial chunk is
// reallocated to exactly its live size"). Only called right after a
// compaction, when the active chunk has no free/hold twigs to account for
// and every twig in it really is live.
func (a *allocator) shrinkLast() {
	c := a.chunks[a.active]
	if len(c.twigs) == cap(c.twigs) {
		return
	}
	shrunk := make([]twig, len(c.twigs))
	copy(shrunk, c.twigs)
	c.twigs = shrunk
}

// rankPopcount counts set bits below position s in a 47-bit bitmap using
// the teacher's bitmap-rank idiom (see veb/set in the retrieval pack),
// with a single math/bits.OnesCount64 call.
func rankPopcount(bitmap uint64, s int) int {
	mask := uint64(1)<<uint(s) - 1
	if s >= 64 {
		mask = ^uint64(0)
	}
	return bits.OnesCount64(bitmap & mask)
}

// chunkLiveRank counts the set bits below position upTo in a multi-word
// liveness bitmap, for chunks larger than 64 twigs; full words go through
// go-popcount and the final partial word through math/bits. Nothing in
// this package calls it: the compactor (gc.go) copies every reachable twig
// without consulting a liveness bitmap.
func chunkLiveRank(liveBits []uint64, upTo int) int {
	total := 0
	for i, word := range liveBits {
		lo := i * 64
		if lo >= upTo {
			break
		}
		hi := lo + 64
		if hi <= upTo {
			total += int(popcount.Count(word))
			continue
		}
		mask := uint64(1)<<uint(upTo-lo) - 1
		total += bits.OnesCount64(word & mask)
	}
	return total
}
