package dbuf

import (
	"sort"
	"sync"

	"github.com/google/uuid"

	"github.com/marmos91/dbufcache/pkg/dbuf/arc"
)

// WriteRange is a half-open byte interval [Start, End) known valid in a
// leaf dirty record's buffer. Ranges in a single record's list are kept
// sorted, disjoint and coalesced (spec.md §3 "Dirty record (leaf)",
// §8 "adjacent write ranges").
//
// Open Question decision (SPEC_FULL.md §5): the original truncation helper
// computed `new_size = end - size`, ambiguous between "end - start" and a
// stale `size` field. This type carries no redundant Size field at all —
// Start/End fully determine the range — which removes the ambiguity by
// construction. truncateRanges below implements the explicit `end - start`
// contract.
type WriteRange struct {
	Start, End uint32
}

func (r WriteRange) len() uint32 { return r.End - r.Start }

// overlapsOrAdjacent reports whether r and o touch or overlap, i.e. should
// coalesce into one range.
func (r WriteRange) overlapsOrAdjacent(o WriteRange) bool {
	return r.Start <= o.End && o.Start <= r.End
}

// Record is a per-TXG dirty record. Leaf records carry write-range and
// fill-buffer content; indirect records carry a child list instead. Both
// use this one struct; the owning dbuf's coordinates tell them apart (spec.md
// §3 "Dirty record (leaf)" / "(indirect)").
type Record struct {
	TXG uint64

	owner *Dbuf

	// Leaf fields.
	Data        arc.Buf      // dr_data: this TXG's write content
	Ranges      []WriteRange // sorted, disjoint write ranges
	Override    *OverrideInfo
	deferredIO  func() error // a prepared write I/O stashed until RMW resolves

	// Indirect fields.
	childMu  sync.Mutex
	children []*Record // child dirty records naming this as parent

	// writeIssued is set once the sync path's backing write for this
	// (leaf) record has completed without error.
	writeIssued bool
}

// OverrideInfo captures an immediate (synchronous) write's pre-committed
// block pointer, recognized by the sync path (spec.md §4.5 "Override"). ID
// tags the override for tracing/log correlation across the async write
// that produced it and the sync pass that later finds it already done.
type OverrideInfo struct {
	ID           uuid.UUID
	BlockPointer arc.BlockPointer
	Nopwrite     bool
}

// NewOverride builds an OverrideInfo for an immediate write to bp, stamped
// with a fresh ID for trace correlation.
func NewOverride(bp arc.BlockPointer, nopwrite bool) *OverrideInfo {
	return &OverrideInfo{ID: uuid.New(), BlockPointer: bp, Nopwrite: nopwrite}
}

func newLeafRecord(owner *Dbuf, txgNum uint64) *Record {
	return &Record{TXG: txgNum, owner: owner}
}

func newIndirectRecord(owner *Dbuf, txgNum uint64) *Record {
	return &Record{TXG: txgNum, owner: owner}
}

// addChild links a child dirty record into this (indirect) record's child
// list. Guarded by this record's own mutex (spec.md §4.4 "Dirty parent";
// lock order §5: "parent indirect dirty-record mutex > dbuf mutex").
func (r *Record) addChild(child *Record) {
	r.childMu.Lock()
	defer r.childMu.Unlock()
	r.children = append(r.children, child)
}

func (r *Record) childCount() int {
	r.childMu.Lock()
	defer r.childMu.Unlock()
	return len(r.children)
}

// mergeRange inserts [start, end) into r.Ranges, coalescing overlapping or
// adjacent ranges (spec.md §4.4 "Range accumulation"). Returns the updated
// list and whether the union now spans the whole block.
func mergeRange(ranges []WriteRange, start, end uint32, blockSize uint32) ([]WriteRange, bool) {
	merged := WriteRange{Start: start, End: end}

	out := ranges[:0:0]
	inserted := false
	for _, r := range ranges {
		if !inserted && merged.overlapsOrAdjacent(r) {
			if r.Start < merged.Start {
				merged.Start = r.Start
			}
			if r.End > merged.End {
				merged.End = r.End
			}
			continue
		}
		if !inserted && r.Start > merged.End {
			out = append(out, merged)
			inserted = true
		}
		out = append(out, r)
	}
	if !inserted {
		out = append(out, merged)
	}

	sort.Slice(out, func(i, j int) bool { return out[i].Start < out[j].Start })
	out = coalesceSorted(out)

	full := len(out) == 1 && out[0].Start == 0 && out[0].End == blockSize
	return out, full
}

// coalesceSorted merges overlapping/adjacent ranges in an already
// start-sorted slice.
func coalesceSorted(ranges []WriteRange) []WriteRange {
	if len(ranges) < 2 {
		return ranges
	}
	out := ranges[:1]
	for _, r := range ranges[1:] {
		last := &out[len(out)-1]
		if r.Start <= last.End {
			if r.End > last.End {
				last.End = r.End
			}
			continue
		}
		out = append(out, r)
	}
	return out
}

// truncateRanges drops/clips ranges beyond newSize, implementing the
// explicit `new_size = end - start` contract decided in SPEC_FULL.md §5
// for the ambiguous original truncation helper.
func truncateRanges(ranges []WriteRange, newSize uint32) []WriteRange {
	out := ranges[:0:0]
	for _, r := range ranges {
		if r.Start >= newSize {
			continue
		}
		if r.End > newSize {
			r.End = newSize
		}
		if r.len() > 0 {
			out = append(out, r)
		}
	}
	return out
}

// isFullRange reports whether ranges cover exactly [0, blockSize).
func isFullRange(ranges []WriteRange, blockSize uint32) bool {
	return len(ranges) == 1 && ranges[0].Start == 0 && ranges[0].End == blockSize
}
