package qptrie

// fragmentationThreshold is spec §4.3's "≈0.75" global live/used ratio
// below which the trie is considered fragmented. The exact value is an
// Open Question the spec leaves to implementations; see DESIGN.md.
const fragmentationThreshold = 0.75

// needsCompaction decides whether a compaction pass should run at all.
// all=true always triggers one; all=false (a "light" compaction, spec
// §4.5) only triggers when the allocator is actually fragmented, either
// globally or because some individual chunk is more than half dead.
func needsCompaction(a *allocator, all bool) bool {
	if all {
		return true
	}
	var live, used int
	anyChunkBad := false
	for _, c := range a.chunks {
		live += c.live()
		used += c.used
		if c.fragmented() {
			anyChunkBad = true
		}
	}
	if used == 0 {
		return false
	}
	return anyChunkBad || float64(live)/float64(used) < fragmentationThreshold
}

// compactCopy walks t recursively, allocating a fresh copy of every
// reachable twig into dst, and returns the twig to use as the new root (or
// sub-root) in dst. Leaves are copied by value — the user pointer and
// ival move across unchanged, since the trie never owns leaf memory.
func compactCopy(src, dst *allocator, t twig) twig {
	if t.isLeaf() {
		return t
	}
	n := t.branchCount()
	children := src.deref(t.childRef, n)
	newRef := dst.alloc(n)
	newChildren := dst.deref(newRef, n)
	for i := 0; i < n; i++ {
		newChildren[i] = compactCopy(src, dst, children[i])
	}
	return newBranch(t.branchIndex(), t.branchBitmap(), newRef)
}

// compactTrie runs spec §4.5's compaction pass on t if needsCompaction
// says it should, replacing t's allocator and root with a freshly packed
// copy. It returns the allocator t used before compaction (nil if no
// compaction ran) so a caller that needs to keep old chunks alive for
// pinned readers — the multi-version wrapper — can do so; Trie.Compact
// itself just lets the old allocator become garbage, since a
// single-threaded trie never has concurrent readers to worry about.
func compactTrie(t *Trie, all bool) (old *allocator, did bool) {
	if t.empty || !needsCompaction(t.alloc, all) {
		return nil, false
	}
	old = t.alloc
	dst := newAllocator(old.chunkSize)
	t.root = compactCopy(old, dst, t.root)
	t.alloc = dst
	return old, true
}

func compact(t *Trie, all bool) {
	compactTrie(t, all)
}
