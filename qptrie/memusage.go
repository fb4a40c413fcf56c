package qptrie

import (
	"fmt"
	"unsafe"

	"github.com/c2h5oh/datasize"
)

var twigSize = int(unsafe.Sizeof(twig{}))

// MemUsage reports the allocator-level memory accounting spec §6 asks for:
// how many twigs are actually live versus merely allocated, how many are
// waiting on a reader to release them, and whether the trie is due for a
// compaction pass.
type MemUsage struct {
	Leaves     int
	Live       int
	Used       int
	Hold       int
	Free       int
	NodeSize   int
	ChunkSize  int
	ChunkCount int
	Bytes      int64
	Fragmented bool
}

func (m MemUsage) String() string {
	return fmt.Sprintf(
		"leaves=%d live=%d used=%d hold=%d free=%d chunks=%d size=%s fragmented=%v",
		m.Leaves, m.Live, m.Used, m.Hold, m.Free, m.ChunkCount,
		datasize.ByteSize(m.Bytes), m.Fragmented,
	)
}

func memUsage(a *allocator, leaves int) MemUsage {
	var live, used, hold, free int
	var capTwigs int64
	fragmented := false
	for _, c := range a.chunks {
		live += c.live()
		used += c.used
		hold += c.hold
		free += c.free
		capTwigs += int64(c.cap())
		if c.fragmented() {
			fragmented = true
		}
	}
	if used > 0 && float64(live)/float64(used) < fragmentationThreshold {
		fragmented = true
	}
	return MemUsage{
		Leaves:     leaves,
		Live:       live,
		Used:       used,
		Hold:       hold,
		Free:       free,
		NodeSize:   twigSize,
		ChunkSize:  a.chunkSize,
		ChunkCount: len(a.chunks),
		// Bytes sums each chunk's actual backing capacity rather than
		// assuming every chunk is a full chunkSize: shrinkLast (chunk.go)
		// reallocates an update-commit's final chunk down to exactly its
		// live twig count, so a uniform chunkSize*count estimate would
		// overcount after a shrink.
		Bytes:      capTwigs * int64(twigSize),
		Fragmented: fragmented,
	}
}
