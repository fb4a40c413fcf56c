package qptrie_test

import (
	"sort"
	"testing"

	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"
)

var wordGen = rapid.StringMatching(`[a-z]{1,12}`)

func distinctWords(t *rapid.T, n int) []string {
	seen := map[string]bool{}
	var out []string
	for len(out) < n {
		w := wordGen.Draw(t, "word")
		if seen[w] {
			continue
		}
		seen[w] = true
		out = append(out, w)
	}
	return out
}

// Property 1: round-trip — any set of distinct keys, inserted in any
// order, iterates back out sorted ascending.
func TestPropertyRoundTrip(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		n := rapid.IntRange(0, 40).Draw(rt, "n")
		words := distinctWords(rt, n)
		perm := rapid.Permutation(words).Draw(rt, "perm")

		tr, m := newTrie()
		defer tr.Close()
		for i, w := range perm {
			mustInsert(tr, m, w, uint32(i))
		}

		want := append([]string(nil), words...)
		sort.Strings(want)
		require.Equal(rt, want, collect(tr.Iterate()))
	})
}

// Property 2: insert-delete inverse.
func TestPropertyInsertDeleteInverse(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		words := distinctWords(rt, rapid.IntRange(1, 30).Draw(rt, "n"))
		tr, m := newTrie()
		defer tr.Close()
		for i, w := range words {
			mustInsert(tr, m, w, uint32(i))
		}

		deleted := map[string]bool{}
		for _, w := range words {
			if rapid.Bool().Draw(rt, "delete-"+w) {
				require.NoError(rt, tr.DeleteByKey(testKey(w)))
				deleted[w] = true
			}
		}

		var want []string
		for _, w := range words {
			if !deleted[w] {
				want = append(want, w)
			}
		}
		sort.Strings(want)
		require.Equal(rt, want, collect(tr.Iterate()))

		for _, w := range words {
			_, _, ok := tr.GetByKey(testKey(w))
			require.Equal(rt, !deleted[w], ok, w)
		}
	})
}

// Property 3: structure is deterministic modulo insert order — two tries
// built from different permutations of the same key multiset agree on
// iteration output and leaf count.
func TestPropertyOrderIndependence(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		words := distinctWords(rt, rapid.IntRange(1, 25).Draw(rt, "n"))
		permA := rapid.Permutation(words).Draw(rt, "permA")
		permB := rapid.Permutation(words).Draw(rt, "permB")

		trA, mA := newTrie()
		defer trA.Close()
		trB, mB := newTrie()
		defer trB.Close()

		for i, w := range permA {
			mustInsert(trA, mA, w, uint32(i))
		}
		for i, w := range permB {
			mustInsert(trB, mB, w, uint32(i))
		}

		require.Equal(rt, collect(trA.Iterate()), collect(trB.Iterate()))
		require.Equal(rt, trA.Leaves(), trB.Leaves())
	})
}

// Property 6: fragmentation shrinks under compaction.
func TestPropertyCompactionShrinksFragmentation(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		words := distinctWords(rt, rapid.IntRange(5, 60).Draw(rt, "n"))
		tr, m := newTrie()
		defer tr.Close()
		for i, w := range words {
			mustInsert(tr, m, w, uint32(i))
		}
		for i, w := range words {
			if i%3 == 0 {
				require.NoError(rt, tr.DeleteByKey(testKey(w)))
			}
		}

		tr.Compact(true)
		usage := tr.MemUsage()
		require.Equal(rt, usage.Used, usage.Live)
		require.Equal(rt, 0, usage.Hold+usage.Free)
	})
}

// Property 7: prefix order — a < b (byte-lex) iff a precedes b in
// iteration.
func TestPropertyPrefixOrder(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		words := distinctWords(rt, rapid.IntRange(2, 30).Draw(rt, "n"))
		tr, m := newTrie()
		defer tr.Close()
		for i, w := range words {
			mustInsert(tr, m, w, uint32(i))
		}

		got := collect(tr.Iterate())
		for i := 1; i < len(got); i++ {
			require.Less(rt, got[i-1], got[i])
		}
	})
}

// Property 5: no leaf leaks — attach/detach balance exactly when the
// trie is destroyed with no outstanding snapshots.
func TestPropertyNoLeafLeaks(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		words := distinctWords(rt, rapid.IntRange(0, 40).Draw(rt, "n"))
		tr, m := newTrie()
		for i, w := range words {
			mustInsert(tr, m, w, uint32(i))
		}
		for _, w := range words {
			if rapid.Bool().Draw(rt, "delete-"+w) {
				require.NoError(rt, tr.DeleteByKey(testKey(w)))
			}
		}
		tr.Close()
		require.True(rt, m.balanced())
	})
}
