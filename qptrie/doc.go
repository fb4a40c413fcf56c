// Package qptrie implements a qp-trie: an ordered key->value map specialised
// for DNS-name lookups, with two operating modes.
//
// A Trie is a single-threaded, mutable qp-trie. A Multi wraps a Trie with a
// multi-version concurrency protocol: many wait-free readers (Query,
// Snapshot) alongside one transactional writer (Write, Update) at a time.
//
// A qp-trie is a popcount-compressed radix trie over a fan-out of 47
// byte-symbols. Interior nodes ("branches") pack their children into a
// dynamically sized, contiguous array; the array is addressed by a 47-bit
// bitmap of which symbols are present, so the child for symbol s lives at
// offset popcount(bitmap & ((1<<s)-1)).
//
// Twigs (nodes) are laid out as:
//
//	word0    uint64          tag bit | branch(index:9, bitmap:47) | leaf(ival:32)
//	childRef ref             branch: child-array reference; leaf: refNone
//	leafPtr  unsafe.Pointer  leaf: user pointer; branch: nil
//
// The original C implementation packs a branch's child-array pointer and a
// leaf's value pointer into the same machine word via pointer tagging; Go's
// unsafe.Pointer rules don't allow storing a non-pointer integer disguised
// as a pointer, so this port keeps the numeric child reference and the
// user pointer in separate fields. The twig is three words instead of two,
// but externally observable behavior — lookup, insert, delete, iteration
// order, memory-usage accounting — is unchanged.
//
// Keys are not stored in leaves. A leaf's key is rederived on demand by
// calling the user-supplied Methods.MakeKey, which is why every Methods
// implementation must be a pure, allocation-free function of the leaf
// value: it runs on every lookup's final comparison and on every
// split-insert.
package qptrie
