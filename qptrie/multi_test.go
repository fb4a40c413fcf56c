package qptrie_test

import (
	"errors"
	"testing"
	"unsafe"

	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"

	"github.com/dnsqp/qptrie/qptrie"
)

var errNotStable = errors.New("stable key mutated unexpectedly")

func newMulti() (*qptrie.Multi, *testMethods) {
	m := newTestMethods()
	return qptrie.NewMulti(m, nil, nil, nil), m
}

func insertMulti(t *qptrie.Trie, key string, val uint32) *testLeaf {
	l := &testLeaf{key: testKey(key), val: val}
	if err := t.Insert(unsafe.Pointer(l), val); err != nil {
		panic(err)
	}
	return l
}

// S3 (snapshot isolation): with trie = {"x"->1}, take snapshot P; writer
// inserts "y"->2 and commits; new query finds "y"->2, but P still sees
// only "x"->1.
func TestS3SnapshotIsolation(t *testing.T) {
	mt, tm := newMulti()
	defer mt.Close()

	w := mt.Write()
	insertMulti(w, "x", 1)
	require.NoError(t, mt.Commit())

	p := mt.Snapshot()
	defer mt.SnapshotDestroy(p)

	w = mt.Write()
	insertMulti(w, "y", 2)
	require.NoError(t, mt.Commit())

	q := mt.Query(0)
	_, ival, ok := q.GetByKey(testKey("y"))
	require.True(t, ok)
	require.EqualValues(t, 2, ival)
	mt.ReadDestroy(q)

	_, _, ok = p.GetByKey(testKey("y"))
	require.False(t, ok)
	_, ival, ok = p.GetByKey(testKey("x"))
	require.True(t, ok)
	require.EqualValues(t, 1, ival)

	_ = tm
}

// S4 (CoW, no reader mutation): with snapshot P pinning version V, the
// writer deletes "x" and commits; P still yields "x"->1; destroy P and
// verify detach for the old "x" leaf then fires exactly once.
func TestS4CoWDeferredDetach(t *testing.T) {
	mt, tm := newMulti()
	defer mt.Close()

	w := mt.Write()
	insertMulti(w, "x", 1)
	require.NoError(t, mt.Commit())

	p := mt.Snapshot()

	w = mt.Write()
	require.NoError(t, w.DeleteByKey(testKey("x")))
	require.NoError(t, mt.Commit())

	require.False(t, tm.balanced(), "detach must not fire while the snapshot still pins the old version")

	_, ival, ok := p.GetByKey(testKey("x"))
	require.True(t, ok)
	require.EqualValues(t, 1, ival)

	mt.SnapshotDestroy(p)
	require.True(t, tm.balanced(), "detach must fire once the pinning snapshot is destroyed")
}

func TestMultiStringUsesTrieName(t *testing.T) {
	mt, _ := newMulti()
	defer mt.Close()

	w := mt.Write()
	insertMulti(w, "x", 1)
	require.NoError(t, mt.Commit())

	s := mt.String()
	require.Contains(t, s, "test-trie")
	require.Contains(t, s, "leaves=1")
}

// S5 (rollback): an update transaction inserts many keys, then rolls
// back; the leaf count returns to its pre-transaction value and the
// rolled-back leaves' attach/detach calls balance.
func TestS5Rollback(t *testing.T) {
	mt, tm := newMulti()
	defer mt.Close()

	w := mt.Write()
	insertMulti(w, "seed", 0)
	require.NoError(t, mt.Commit())

	before := mt.MemUsage().Leaves

	u := mt.Update()
	var rolledBack []*testLeaf
	for i := 0; i < 1000; i++ {
		rolledBack = append(rolledBack, insertMulti(u, indexToWord(i+1000), uint32(i)))
	}
	require.NoError(t, mt.Rollback())

	require.Equal(t, before, mt.MemUsage().Leaves)
	for _, l := range rolledBack {
		require.Equal(t, tm.attached[l], tm.detached[l])
	}

	q := mt.Query(0)
	_, _, ok := q.GetByKey(testKey(indexToWord(1000)))
	mt.ReadDestroy(q)
	require.False(t, ok)
}

// A writer and several concurrent ephemeral readers should never see a
// torn root: every read observes either the pre- or post-commit version.
func TestConcurrentReadersDuringCommit(t *testing.T) {
	mt, _ := newMulti()
	defer mt.Close()

	w := mt.Write()
	insertMulti(w, "stable", 1)
	require.NoError(t, mt.Commit())

	var g errgroup.Group
	for worker := 0; worker < 8; worker++ {
		worker := worker
		g.Go(func() error {
			for i := 0; i < 200; i++ {
				q := mt.Query(worker)
				_, ival, ok := q.GetByKey(testKey("stable"))
				mt.ReadDestroy(q)
				if !ok || ival != 1 {
					return errNotStable
				}
			}
			return nil
		})
	}
	g.Go(func() error {
		for i := 0; i < 50; i++ {
			w := mt.Write()
			insertMulti(w, indexToWord(i+1), uint32(i))
			if err := mt.Commit(); err != nil {
				return err
			}
		}
		return nil
	})
	require.NoError(t, g.Wait())
}
