package qptrie

import (
	"errors"

	pkgerrors "github.com/pkg/errors"
)

// ErrNotFound is returned by a lookup or delete of an absent key.
var ErrNotFound = errors.New("qptrie: not found")

// ErrExists is returned by an insert of a key that is already present.
var ErrExists = errors.New("qptrie: key already exists")

// ErrKeyTooLong is returned when a Key exceeds MaxKeyLen bytes.
var ErrKeyTooLong = errors.New("qptrie: key exceeds maximum length")

// ErrKeySymbolRange is returned when a Key byte falls outside the
// 47-symbol alphabet.
var ErrKeySymbolRange = errors.New("qptrie: key byte outside symbol alphabet")

// ErrKeyTerminatorMisplaced is returned when the terminator symbol appears
// anywhere but the last byte of a Key.
var ErrKeyTerminatorMisplaced = errors.New("qptrie: terminator symbol not at end of key")

// invariant panics with a stack trace attached. It is used for conditions
// the spec classifies as programmer errors: a failed structural invariant,
// releasing a view or snapshot on a Multi it does not belong to, using a
// Snapshot after SnapshotDestroy, committing or rolling back with no open
// transaction, closing a Multi while a transaction or snapshot is still
// outstanding. An EphemeralReader released from a different worker than
// the one that obtained it is not detected. Callbacks and allocation
// never fail in this design, so there is nothing else left to report this
// way except a precondition violation.
func invariant(format string, args ...any) {
	panic(pkgerrors.Errorf("qptrie: invariant violated: "+format, args...))
}
