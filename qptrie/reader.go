package qptrie

import "unsafe"

// EphemeralReader and Snapshot both give read-only access to one committed
// version of a Multi. The original C API tells them apart with a
// transparent union; here they are two small, distinct types that happen
// to share their read methods by building a throwaway Trie view over the
// version they were handed — cheap, since a Trie value is just a handful
// of fields and every read it performs only ever touches chunks that were
// already immutable by the time this version was published.
func viewTrie(v *version, alloc *allocator, methods Methods, uctx any, codec NameCodec) *Trie {
	return &Trie{alloc: alloc, root: v.root, empty: v.empty, leaves: v.leaves, methods: methods, uctx: uctx, codec: codec}
}

// EphemeralReader is the view returned by Multi.Query: cheap to obtain,
// never blocks, and meant to be released with ReadDestroy before the
// calling worker's event-loop tick advances again.
type EphemeralReader struct {
	multi  *Multi
	ver    *version
	worker int
}

func (r *EphemeralReader) trie() *Trie {
	return viewTrie(r.ver, r.ver.alloc, r.multi.methods, r.multi.uctx, r.multi.codec)
}

func (r *EphemeralReader) GetByKey(key Key) (unsafe.Pointer, uint32, bool) {
	return r.trie().GetByKey(key)
}

func (r *EphemeralReader) GetByName(name string) (unsafe.Pointer, uint32, bool, error) {
	return r.trie().GetByName(name)
}

func (r *EphemeralReader) Iterate() *Iterator {
	return r.trie().Iterate()
}

func (r *EphemeralReader) Leaves() int { return r.ver.leaves }

// Snapshot is a long-lived, cross-thread read view (spec §4.6): it pins
// the chunks its version can reach until SnapshotDestroy releases them, so
// it stays valid regardless of how many commits happen in the meantime.
type Snapshot struct {
	multi     *Multi
	ver       *version
	watermark int
	released  bool
}

func (s *Snapshot) trie() *Trie {
	if s.released {
		invariant("Snapshot: use after SnapshotDestroy")
	}
	return viewTrie(s.ver, s.ver.alloc, s.multi.methods, s.multi.uctx, s.multi.codec)
}

func (s *Snapshot) GetByKey(key Key) (unsafe.Pointer, uint32, bool) {
	return s.trie().GetByKey(key)
}

func (s *Snapshot) GetByName(name string) (unsafe.Pointer, uint32, bool, error) {
	return s.trie().GetByName(name)
}

func (s *Snapshot) Iterate() *Iterator {
	return s.trie().Iterate()
}

func (s *Snapshot) Leaves() int { return s.ver.leaves }
