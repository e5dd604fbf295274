// Package dbuf implements the DMU buffer cache: a per-block, hash-keyed
// in-memory cache mediating between the object layer (dnodes, logical
// block addresses) and the underlying checksum-verified adaptive block
// cache (pkg/dbuf/arc).
//
// It presents a stable per-TXG snapshot of each logical block to readers
// and writers, coalesces partial overwrites with in-flight read-modify-
// write fills, hands finalized per-TXG buffers to a syncing thread for
// write-out, and recycles buffers via hold reference counts and an
// eviction callback bound to the underlying cache.
//
// See DESIGN.md and SPEC_FULL.md for the full design and its grounding.
package dbuf
