package qptrie_test

import (
	"sync"
	"unsafe"

	"github.com/dnsqp/qptrie/qptrie"
)

// testLeaf is the user-owned leaf value the tests hang a Key off of, since
// the trie itself never stores keys.
type testLeaf struct {
	key qptrie.Key
	val uint32
}

// testMethods is a Methods implementation that records every attach/detach
// call, so tests can assert property 5 ("no leaf leaks") directly instead
// of just trusting the implementation.
type testMethods struct {
	mu       sync.Mutex
	attached map[*testLeaf]int
	detached map[*testLeaf]int
}

func newTestMethods() *testMethods {
	return &testMethods{attached: map[*testLeaf]int{}, detached: map[*testLeaf]int{}}
}

func (m *testMethods) Attach(uctx any, pval unsafe.Pointer, ival uint32) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.attached[(*testLeaf)(pval)]++
}

func (m *testMethods) Detach(uctx any, pval unsafe.Pointer, ival uint32) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.detached[(*testLeaf)(pval)]++
}

func (m *testMethods) MakeKey(uctx any, pval unsafe.Pointer, ival uint32) qptrie.Key {
	return (*testLeaf)(pval).key
}

func (m *testMethods) TrieName(uctx any, buf []byte) int {
	return copy(buf, "test-trie")
}

// balanced reports whether every attach so far has a matching detach,
// i.e. property 5 holds at this point in time.
func (m *testMethods) balanced() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	for l, a := range m.attached {
		if a != m.detached[l] {
			return false
		}
	}
	return true
}

// testKey maps a lowercase-letter-only string onto the trie's symbol
// alphabet by a simple affine shift, which keeps byte-lexicographic order
// identical to string order — good enough for tests that don't exercise
// the DNS name codec (package namekey) directly.
func testKey(s string) qptrie.Key {
	k := make(qptrie.Key, len(s))
	for i := 0; i < len(s); i++ {
		k[i] = 2 + (s[i] - 'a')
	}
	return k
}

func mustInsert(tr *qptrie.Trie, m *testMethods, key string, val uint32) *testLeaf {
	l := &testLeaf{key: testKey(key), val: val}
	if err := tr.Insert(unsafe.Pointer(l), val); err != nil {
		panic(err)
	}
	return l
}

func collect(it *qptrie.Iterator) []string {
	var out []string
	for {
		pval, _, ok := it.Next()
		if !ok {
			break
		}
		l := (*testLeaf)(pval)
		s := make([]byte, len(l.key))
		for i, sym := range l.key {
			s[i] = 'a' + sym - 2
		}
		out = append(out, string(s))
	}
	return out
}
