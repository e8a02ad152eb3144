// Package seqspan implements the flow-coverage index: a set of closed
// integer intervals over 32-bit sequence space that answers "have I ever
// seen payload bytes covering this range?".
//
// Sequence wraparound is intentionally unhandled, matching the reference
// implementation: endpoints are treated as ordinary unsigned integers, not
// as positions on a modular ring. A flow that runs long enough for its
// sequence numbers to wrap will see spurious "unique" or "covered" results
// around the wrap point.
package seqspan

import "github.com/google/btree"

const treeDegree = 32

// Index tracks the covered ranges for a single flow.
//
// Internally it stores intervals ordered by their low endpoint in a
// google/btree.BTree. Add is only ever called (by pennyflow) once IsUnique
// has confirmed the incoming range does not overlap anything already
// stored, so the stored intervals are pairwise disjoint; sorted by lo, their
// hi values are therefore strictly increasing too. That invariant is what
// lets IsUnique do its overlap check by inspecting a single predecessor
// interval instead of walking the whole tree.
type Index struct {
	tree *btree.BTree
}

type span struct {
	lo, hi uint32
}

func (s span) Less(than btree.Item) bool {
	return s.lo < than.(span).lo
}

// New returns an empty flow-coverage index.
func New() *Index {
	return &Index{tree: btree.New(treeDegree)}
}

// IsUnique reports whether [seq, seq+size-1] does not overlap any interval
// previously passed to Add. A zero-size payload must never be queried.
func (idx *Index) IsUnique(seq, size uint32) bool {
	lo, hi := normalize(seq, size)

	unique := true
	// The only interval that can possibly overlap [lo, hi] is the one with
	// the largest lo' <= hi: since stored intervals are disjoint and sorted
	// by lo with strictly increasing hi, any interval with a smaller lo has
	// an even smaller hi, and any interval with lo' > hi starts after our
	// range ends.
	idx.tree.DescendLessOrEqual(span{lo: hi}, func(i btree.Item) bool {
		candidate := i.(span)
		if candidate.hi >= lo {
			unique = false
		}
		return false
	})
	return unique
}

// Add inserts [seq, seq+size-1] into the index. Zero-size payloads must
// never be inserted. Re-adding an already-covered range is a no-op for the
// overlap relation (the caller may still call this more than once for the
// same range; see pennyflow's out-of-order/unique branches).
func (idx *Index) Add(seq, size uint32) {
	if size == 0 {
		return
	}
	lo, hi := normalize(seq, size)
	if !idx.IsUnique(lo, hi-lo+1) {
		return
	}
	idx.tree.ReplaceOrInsert(span{lo: lo, hi: hi})
}

func normalize(seq, size uint32) (lo, hi uint32) {
	lo = seq
	hi = seq + size - 1
	if lo > hi {
		lo, hi = hi, lo
	}
	return lo, hi
}
