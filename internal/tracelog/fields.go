package tracelog

// Standard field keys for structured dbuf logging. Use these consistently
// across state-machine transitions, dirty-path decisions and sync-path
// events so traces can be aggregated and queried by block identity.
const (
	// Block identity
	KeyDataset = "dataset"
	KeyObject  = "object"
	KeyLevel   = "level"
	KeyBlockID = "blkid"
	KeyTXG     = "txg"

	// State machine (C4)
	KeyStateFrom = "state_from"
	KeyStateTo   = "state_to"
	KeyEvent     = "event"

	// Dirty path / dirty records (C3, C5)
	KeyRangeStart  = "range_start"
	KeyRangeEnd    = "range_end"
	KeyDirtyCount  = "dirty_count"
	KeyFreedInFlight = "freed_in_flight"

	// Sync path (C6)
	KeyBytesLost  = "bytes_lost"
	KeyOverride   = "override"
	KeyDurationMs = "duration_ms"

	// Hold/eviction (C7)
	KeyHoldCount = "hold_count"
	KeyTag       = "tag"
	KeyEvicted   = "evicted"

	// Generic
	KeyError = "error"
)
