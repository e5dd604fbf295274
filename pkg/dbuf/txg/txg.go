// Package txg is the minimal transaction-group stand-in the dbuf layer
// needs from dmu_tx_* (spec.md §6). The machinery that opens, quiesces and
// syncs transaction groups is out of scope; dbuf only needs to know which
// TXG a caller is operating under and whether it is currently the one
// being synced.
package txg

import "sync/atomic"

// MaxConcurrent is TXG_CONCURRENT_STATES from spec.md §3 invariant 1: the
// bounded number of transaction groups that may have open dirty records on
// a single dbuf at once.
const MaxConcurrent = 3

// Handle is the per-operation transaction-group context passed to every
// dirtying call, mirroring dmu_tx_t.
type Handle struct {
	txg       uint64
	syncingTXG *atomic.Uint64 // shared with the pool driving sync
}

// New creates a handle for txg, associated with a pool-wide syncing marker.
func New(txg uint64, syncingTXG *atomic.Uint64) *Handle {
	return &Handle{txg: txg, syncingTXG: syncingTXG}
}

// TXG returns the transaction group number this handle operates under.
func (h *Handle) TXG() uint64 { return h.txg }

// IsSyncing reports whether this handle's TXG is the one currently being
// synced by the pool's syncing context.
func (h *Handle) IsSyncing() bool {
	if h.syncingTXG == nil {
		return false
	}
	return h.syncingTXG.Load() == h.txg
}

// Pool tracks which TXG is currently syncing, shared across all Handles
// issued for it. A real pool drives this; tests and dbuftest construct one
// directly.
type Pool struct {
	syncing atomic.Uint64
}

// NewPool creates a Pool with no TXG currently syncing.
func NewPool() *Pool { return &Pool{} }

// Open returns a Handle for txg under this pool.
func (p *Pool) Open(txg uint64) *Handle { return New(txg, &p.syncing) }

// BeginSync marks txg as the pool's currently syncing TXG.
func (p *Pool) BeginSync(txg uint64) { p.syncing.Store(txg) }

// EndSync clears the currently syncing marker.
func (p *Pool) EndSync() { p.syncing.Store(0) }
