package qptrie

import (
	"fmt"
	"unsafe"
)

// Trie is a single-threaded, mutable qp-trie (spec §1, the "basic dns_qp_t"
// in the original). It is also what a Multi hands out as the writer view
// during Write/Update — the same type, operated on exclusively under the
// wrapper's mutex.
type Trie struct {
	alloc   *allocator
	root    twig
	empty   bool
	leaves  int
	methods Methods
	uctx    any
	codec   NameCodec
}

// New creates an empty, single-threaded Trie. methods must not be nil.
// codec may be nil if the caller never uses the *ByName operations and
// only ever looks things up by an already-encoded Key (package namekey
// provides a NameCodec implementation).
func New(methods Methods, uctx any, codec NameCodec) *Trie {
	if methods == nil {
		invariant("New: methods must not be nil")
	}
	return &Trie{
		alloc:   newAllocator(defaultChunkSize),
		empty:   true,
		methods: methods,
		uctx:    uctx,
		codec:   codec,
	}
}

// Close destroys the trie, detaching every live leaf. It must not be
// called while any iterator over this trie is still in use.
func (t *Trie) Close() {
	if !t.empty {
		it := newIterator(t.alloc, t.methods, t.uctx, t.root, t.empty)
		for {
			pval, ival, ok := it.Next()
			if !ok {
				break
			}
			t.methods.Detach(t.uctx, pval, ival)
		}
	}
	t.empty = true
	t.root = twig{}
	t.leaves = 0
	t.alloc = newAllocator(t.alloc.chunkSize)
}

// Insert adds pval/ival under the key MakeKey derives for it. It returns
// ErrExists if an equal key is already present.
func (t *Trie) Insert(pval unsafe.Pointer, ival uint32) error {
	key := t.methods.MakeKey(t.uctx, pval, ival)
	if err := key.validate(); err != nil {
		return err
	}
	if t.empty {
		t.root = newLeaf(pval, ival)
		t.empty = false
		t.leaves++
		t.methods.Attach(t.uctx, pval, ival)
		return nil
	}
	newRoot, err := t.insertAt(t.root, key, pval, ival)
	if err != nil {
		return err
	}
	t.root = newRoot
	t.leaves++
	t.methods.Attach(t.uctx, pval, ival)
	return nil
}

// GetByKey looks up key, returning the leaf's (pointer, uint32) pair.
func (t *Trie) GetByKey(key Key) (unsafe.Pointer, uint32, bool) {
	if t.empty {
		return nil, 0, false
	}
	return t.getAt(t.root, key)
}

// GetByName encodes name via the trie's NameCodec and looks it up. It
// panics if the trie was created without a codec.
func (t *Trie) GetByName(name string) (unsafe.Pointer, uint32, bool, error) {
	key, err := t.encodeName(name)
	if err != nil {
		return nil, 0, false, err
	}
	pval, ival, ok := t.GetByKey(key)
	return pval, ival, ok, nil
}

// DeleteByKey removes key, returning ErrNotFound if it is absent.
func (t *Trie) DeleteByKey(key Key) error {
	if t.empty {
		return ErrNotFound
	}
	if t.root.isLeaf() {
		existing := t.methods.MakeKey(t.uctx, t.root.leafPtr, t.root.leafIval())
		if key.compare(existing) != 0 {
			return ErrNotFound
		}
		pval, ival := t.root.leafPtr, t.root.leafIval()
		t.empty = true
		t.root = twig{}
		t.leaves--
		t.methods.Detach(t.uctx, pval, ival)
		return nil
	}
	newRoot, pval, ival, err := t.deleteAt(t.root, key)
	if err != nil {
		return err
	}
	t.root = newRoot
	t.leaves--
	t.methods.Detach(t.uctx, pval, ival)
	return nil
}

// DeleteByName encodes name and deletes it.
func (t *Trie) DeleteByName(name string) error {
	key, err := t.encodeName(name)
	if err != nil {
		return err
	}
	return t.DeleteByKey(key)
}

func (t *Trie) encodeName(name string) (Key, error) {
	if t.codec == nil {
		invariant("*ByName called without a NameCodec configured")
	}
	return t.codec.EncodeName(name)
}

// Iterate returns an Iterator over the trie's leaves in ascending key
// order (spec §4.4).
func (t *Trie) Iterate() *Iterator {
	return newIterator(t.alloc, t.methods, t.uctx, t.root, t.empty)
}

// Resume returns an Iterator continuing strictly after from.
func (t *Trie) Resume(from Key) *Iterator {
	return newResumedIterator(t.alloc, t.methods, t.uctx, t.root, t.empty, from)
}

// Compact runs the garbage collector/compactor (spec §4.5). all=true
// always rebuilds the trie into fresh chunks. all=false rebuilds only when
// the allocator is fragmented (global live/used below
// fragmentationThreshold, or some chunk more than half dead), and then
// rebuilds every chunk; unfragmented chunks are not skipped individually.
func (t *Trie) Compact(all bool) {
	compact(t, all)
}

// MemUsage reports the current memory-usage snapshot (spec §6).
func (t *Trie) MemUsage() MemUsage {
	return memUsage(t.alloc, t.leaves)
}

// Leaves reports the number of live leaves, kept as a running count so it
// needs no recomputation.
func (t *Trie) Leaves() int { return t.leaves }

// String renders the trie's diagnostic label via Methods.TrieName (spec
// §4.7) alongside its memory usage, for log lines and debuggers.
func (t *Trie) String() string {
	buf := make([]byte, 128)
	n := t.methods.TrieName(t.uctx, buf)
	return fmt.Sprintf("qptrie(%s) %s", buf[:n], t.MemUsage())
}
