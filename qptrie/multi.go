package qptrie

import (
	"fmt"
	"sync"
	"sync/atomic"
	"unsafe"

	deadlock "github.com/sasha-s/go-deadlock"
)

// noActiveQuery is the sentinel workerSeen cell value for "this worker
// currently holds no ephemeral view", used instead of absence so a
// worker's cell, once allocated, never needs removing from the map (spec
// §5: "a per-worker single-writer slot with atomic publication").
const noActiveQuery = ^uint64(0)

// version is one committed state of a Multi: an immutable root plus the
// bookkeeping needed to answer queries against it without touching the
// trie that superseded it.
type version struct {
	seq    uint64
	root   twig
	empty  bool
	leaves int

	// alloc is the allocator this version's root was committed against.
	// Chunk-relative refs inside root are only meaningful relative to this
	// allocator, not necessarily the Multi's current one: a later
	// compaction replaces Multi.alloc with a fresh allocator object while
	// this version (and any reader still holding it) keeps referring to
	// the old one, which Go's GC keeps alive exactly as long as some
	// version still points to it.
	alloc *allocator
}

type removedLeaf struct {
	pval unsafe.Pointer
	ival uint32
}

// retirement is the set of leaves that stopped being reachable when
// version seq was superseded. Detach for them is deferred until no
// reader can still observe seq — see reapLocked.
type retirement struct {
	seq     uint64
	removed []removedLeaf
}

// deferredMethods wraps the caller's real Methods for use inside an open
// transaction. Attach and Detach are batched onto the transaction instead
// of firing immediately: an aborted update must never have told the
// caller about leaves it is about to make disappear again, and a
// committed transaction's deletions must not reach Detach before the
// wrapper knows no snapshot still needs them (spec §4.7, S4).
type deferredMethods struct {
	real Methods
	txn  *transaction
}

func (d *deferredMethods) Attach(uctx any, pval unsafe.Pointer, ival uint32) {
	d.txn.added = append(d.txn.added, removedLeaf{pval, ival})
}

func (d *deferredMethods) Detach(uctx any, pval unsafe.Pointer, ival uint32) {
	d.txn.removed = append(d.txn.removed, removedLeaf{pval, ival})
}

func (d *deferredMethods) MakeKey(uctx any, pval unsafe.Pointer, ival uint32) Key {
	return d.real.MakeKey(uctx, pval, ival)
}

func (d *deferredMethods) TrieName(uctx any, buf []byte) int {
	return d.real.TrieName(uctx, buf)
}

// transaction is the state of an open write/update, held on Multi between
// Write/Update and the matching Commit/Rollback.
type transaction struct {
	isUpdate   bool
	trie       *Trie
	oldVersion *version
	added      []removedLeaf
	removed    []removedLeaf

	// savedChunks/savedActive are update's rollback point: a shallow copy
	// of the chunk list as it stood before the transaction touched
	// anything. Cloning this slice header is the O(#chunks) metadata copy
	// spec §4.6 describes — the chunks themselves are never deep-copied.
	savedChunks []*chunk
	savedActive int
}

// Multi is the concurrent, multi-version wrapper around the single-
// threaded Trie (spec §4.6, component F): one writer under a mutex, many
// wait-free readers via an atomically published root pointer.
type Multi struct {
	mu      deadlock.Mutex
	alloc   *allocator
	current atomic.Pointer[version]
	methods Methods
	uctx    any
	codec   NameCodec
	epoch   EpochSource

	nextSeq uint64
	// workerSeen maps worker id (int) -> *atomic.Uint64, the seq of the
	// version that worker's outstanding Query currently pins, or
	// noActiveQuery if it holds no view right now. Published without the
	// writer mutex so Query/ReadDestroy never block on it (spec §5/§4.6).
	workerSeen  sync.Map
	snapshots   map[*Snapshot]struct{}
	retirements []retirement

	txn *transaction
}

// NewMulti creates an empty Multi. epoch may be nil. Either way, ephemeral
// readers are reaped purely on the ReadDestroy/Snapshot bookkeeping below;
// a non-nil epoch source is only read advisorily and never decides what
// is reclaimed.
func NewMulti(methods Methods, uctx any, codec NameCodec, epoch EpochSource) *Multi {
	if methods == nil {
		invariant("NewMulti: methods must not be nil")
	}
	m := &Multi{
		alloc:     newAllocator(defaultChunkSize),
		methods:   methods,
		uctx:      uctx,
		codec:     codec,
		epoch:     epoch,
		snapshots: make(map[*Snapshot]struct{}),
	}
	m.current.Store(&version{empty: true, alloc: m.alloc})
	return m
}

// Close destroys the wrapper. It must not be called while any reader or
// snapshot is still outstanding, or while a transaction is open.
func (m *Multi) Close() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.txn != nil {
		invariant("Close: a transaction is still open")
	}
	if len(m.snapshots) != 0 {
		invariant("Close: %d snapshot(s) still outstanding", len(m.snapshots))
	}
	cur := m.current.Load()
	if !cur.empty {
		t := &Trie{alloc: cur.alloc, root: cur.root, empty: cur.empty, leaves: cur.leaves, methods: m.methods, uctx: m.uctx}
		t.Close()
	}
	for _, r := range m.retirements {
		for _, lf := range r.removed {
			m.methods.Detach(m.uctx, lf.pval, lf.ival)
		}
	}
	m.retirements = nil
}

// workerCell returns worker's published-seq cell, allocating it the first
// time this worker id is seen. Safe for concurrent use by any number of
// workers and the writer without taking the writer mutex.
func (m *Multi) workerCell(worker int) *atomic.Uint64 {
	if v, ok := m.workerSeen.Load(worker); ok {
		return v.(*atomic.Uint64)
	}
	cell := new(atomic.Uint64)
	cell.Store(noActiveQuery)
	actual, _ := m.workerSeen.LoadOrStore(worker, cell)
	return actual.(*atomic.Uint64)
}

// Query atomically reads the current root, tagged with the calling
// worker's id for later reclamation bookkeeping. It never blocks on the
// writer: no mutex is taken.
//
// The worker's cell is published in two steps, floor first: a conservative
// zero is stored before the version is even loaded, then refined to the
// version's real seq once it's known. This closes the race where a
// concurrent Commit's reap could run in the gap between loading the
// current version and publishing which one was loaded — seeing the
// floor-zero in that gap instead makes the reap skip every retirement
// this round rather than risk detaching a leaf this query can still see
// (spec §5: readers never block; §4.6 S4's deferred-detach guarantee).
func (m *Multi) Query(worker int) *EphemeralReader {
	cell := m.workerCell(worker)
	cell.Store(0)
	cur := m.current.Load()
	cell.Store(cur.seq)
	return &EphemeralReader{multi: m, ver: cur, worker: worker}
}

// ReadDestroy releases an ephemeral view: it only publishes that the
// worker no longer pins any version. It never blocks on the writer mutex —
// reclaiming anything this unblocks is the writer's job, done opportunistically
// on its next Commit or SnapshotDestroy (spec §4.5: "the writer clears hold
// entries...").
func (m *Multi) ReadDestroy(r *EphemeralReader) {
	if r.multi != m {
		invariant("ReadDestroy: view belongs to a different Multi")
	}
	m.workerCell(r.worker).Store(noActiveQuery)
}

// Snapshot clones the current root reference and pins every chunk that
// exists as of this moment, so later commits cannot reclaim anything this
// snapshot might still read (spec §4.6).
func (m *Multi) Snapshot() *Snapshot {
	m.mu.Lock()
	defer m.mu.Unlock()
	cur := m.current.Load()
	watermark := len(m.alloc.chunks)
	for _, c := range m.alloc.chunks[:watermark] {
		c.pins++
	}
	s := &Snapshot{multi: m, ver: cur, watermark: watermark}
	m.snapshots[s] = struct{}{}
	return s
}

// SnapshotDestroy releases a snapshot's chunk pins and reaps anything
// that becomes eligible as a result.
func (m *Multi) SnapshotDestroy(s *Snapshot) {
	if s.multi != m {
		invariant("SnapshotDestroy: snapshot belongs to a different Multi")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if s.released {
		invariant("SnapshotDestroy: snapshot already destroyed")
	}
	for _, c := range m.alloc.chunks[:s.watermark] {
		c.pins--
		if c.pins == 0 && c.immutable {
			c.free += c.hold
			c.hold = 0
		}
	}
	s.released = true
	delete(m.snapshots, s)
	m.reapLocked()
}

// Write opens a lightweight transaction: the returned Trie shares the
// wrapper's allocator directly, with no metadata clone, matching spec
// §4.6's "no allocation of a metadata copy; intended for frequent small
// edits". It locks the writer mutex until Commit is called; Write
// transactions cannot be rolled back.
func (m *Multi) Write() *Trie {
	m.mu.Lock()
	return m.beginLocked(false)
}

// Update opens a transaction that clones the allocator's chunk list
// (O(#chunks), not O(#twigs)) so that Rollback can restore it.
func (m *Multi) Update() *Trie {
	m.mu.Lock()
	txn := m.beginTxnLocked(true)
	txn.savedChunks = append([]*chunk(nil), m.alloc.chunks...)
	txn.savedActive = m.alloc.active
	return txn.trie
}

func (m *Multi) beginLocked(isUpdate bool) *Trie {
	return m.beginTxnLocked(isUpdate).trie
}

func (m *Multi) beginTxnLocked(isUpdate bool) *transaction {
	if m.txn != nil {
		invariant("Write/Update: a transaction is already open")
	}
	cur := m.current.Load()
	txn := &transaction{isUpdate: isUpdate, oldVersion: cur}
	trie := &Trie{
		alloc:   m.alloc,
		root:    cur.root,
		empty:   cur.empty,
		leaves:  cur.leaves,
		codec:   m.codec,
		uctx:    m.uctx,
		methods: &deferredMethods{real: m.methods, txn: txn},
	}
	txn.trie = trie
	m.txn = txn
	return txn
}

// Commit publishes the transaction's trie as the new current version.
// Any leaves the transaction deleted are detached once no snapshot or
// ephemeral reader can still see the version they vanished from; leaves
// it inserted are attached right away.
func (m *Multi) Commit() error {
	txn := m.txn
	if txn == nil {
		invariant("Commit: no transaction in progress")
	}
	m.alloc.markAllShared()
	// Compaction rebuilds the allocator from scratch rather than relocating
	// individual runs, which would invalidate the chunk-list indices any
	// outstanding Snapshot has pinned — so it only runs here when there is
	// nothing else pinning the old layout (see DESIGN.md).
	if txn.isUpdate && len(m.snapshots) == 0 {
		if _, did := compactTrie(txn.trie, false); did {
			m.alloc = txn.trie.alloc
			m.alloc.shrinkLast()
			m.alloc.markAllShared()
		}
	}
	m.nextSeq++
	nv := &version{seq: m.nextSeq, root: txn.trie.root, empty: txn.trie.empty, leaves: txn.trie.leaves, alloc: m.alloc}
	m.current.Store(nv)
	for _, a := range txn.added {
		m.methods.Attach(m.uctx, a.pval, a.ival)
	}
	if len(txn.removed) > 0 {
		m.retirements = append(m.retirements, retirement{seq: txn.oldVersion.seq, removed: txn.removed})
	}
	m.txn = nil
	m.reapLocked()
	m.mu.Unlock()
	return nil
}

// Rollback discards every allocation the transaction made and restores
// the allocator's chunk list to its pre-transaction state. Only valid for
// a transaction opened with Update.
func (m *Multi) Rollback() error {
	txn := m.txn
	if txn == nil {
		invariant("Rollback: no transaction in progress")
	}
	if !txn.isUpdate {
		invariant("Rollback: only an Update transaction can be rolled back")
	}
	m.alloc.chunks = txn.savedChunks
	m.alloc.active = txn.savedActive
	m.txn = nil
	m.mu.Unlock()
	return nil
}

// reapLocked flushes every retirement that no live reader can still need,
// and finalizes hold->free for any chunk whose pins happen to have
// already reached zero. Must be called with mu held.
func (m *Multi) reapLocked() {
	minSeen := m.minObservedSeqLocked()
	i := 0
	for ; i < len(m.retirements); i++ {
		r := m.retirements[i]
		if r.seq >= minSeen {
			break
		}
		for _, lf := range r.removed {
			m.methods.Detach(m.uctx, lf.pval, lf.ival)
		}
	}
	m.retirements = m.retirements[i:]
}

// minObservedSeqLocked returns the lowest version sequence any live
// reader might still be depending on: the oldest outstanding snapshot, or
// the oldest worker's currently-published ephemeral view, or the current
// version if nothing is outstanding at all. Workers with no active query
// publish noActiveQuery, which is never the minimum, so they don't
// constrain reclamation.
func (m *Multi) minObservedSeqLocked() uint64 {
	min := m.current.Load().seq
	for s := range m.snapshots {
		if s.ver.seq < min {
			min = s.ver.seq
		}
	}
	m.workerSeen.Range(func(_, value any) bool {
		if seen := value.(*atomic.Uint64).Load(); seen < min {
			min = seen
		}
		return true
	})
	if m.epoch != nil {
		_ = m.epoch.Current() // ticks are advisory diagnostics only; see DESIGN.md
	}
	return min
}

// MemUsage reports the allocator's current accounting, same shape as a
// standalone Trie's.
func (m *Multi) MemUsage() MemUsage {
	m.mu.Lock()
	defer m.mu.Unlock()
	return memUsage(m.alloc, int(m.current.Load().leaves))
}

// String renders the wrapper's diagnostic label via Methods.TrieName (spec
// §4.7) alongside its current memory usage.
func (m *Multi) String() string {
	buf := make([]byte, 128)
	n := m.methods.TrieName(m.uctx, buf)
	return fmt.Sprintf("qptrie.Multi(%s) %s", buf[:n], m.MemUsage())
}
