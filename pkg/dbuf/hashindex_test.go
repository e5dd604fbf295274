package dbuf

import (
	"sync"
	"testing"
)

func newTestDbuf(c Coord) *Dbuf {
	d := &Dbuf{coord: c, state: StateUncached}
	d.cond = sync.NewCond(&d.mu)
	return d
}

func TestHashIndexInsertFindRemove(t *testing.T) {
	h := newHashIndex(4)
	c := Coord{Dataset: "tank", Object: 1, Level: 0, BlockID: 7}
	d := newTestDbuf(c)

	existing := h.insert(d)
	if existing != d {
		t.Fatalf("expected insert to return the candidate on first insert")
	}
	d.mu.Unlock()

	found := h.find(c)
	if found != d {
		t.Fatalf("expected find to return the inserted dbuf")
	}
	found.mu.Unlock()

	d.mu.Lock()
	d.state = StateEvicting
	d.mu.Unlock()

	if h.find(c) != nil {
		t.Fatalf("find must never return an EVICTING entry")
	}

	d.mu.Lock()
	h.remove(d)
	d.mu.Unlock()

	if h.find(c) != nil {
		t.Fatalf("removed entry should no longer be found")
	}
}

func TestHashIndexInsertIdempotent(t *testing.T) {
	h := newHashIndex(4)
	c := Coord{Dataset: "tank", Object: 2, Level: 0, BlockID: 1}
	first := newTestDbuf(c)
	existing := h.insert(first)
	existing.mu.Unlock()

	second := newTestDbuf(c)
	got := h.insert(second)
	if got != first {
		t.Fatalf("insert should return the pre-existing entry, not the new candidate")
	}
	got.mu.Unlock()
}
