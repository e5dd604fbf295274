package dbuf

import "time"

// CacheMetrics provides observability for dbuf operations. Implementations
// can wire it to Prometheus (pkg/dbuf/metrics/prometheus), StatsD, or an
// in-memory counter for tests. A Cache built without WithMetrics uses a
// no-op implementation; WithMetrics(nil) is not checked for — grounded on
// the teacher's pkg/cache.CacheMetrics, which follows the same
// optional-interface pattern.
type CacheMetrics interface {
	// ObserveHold/ObserveRelease record hold/rele traffic through C7.
	ObserveHold(cacheHit bool)
	ObserveRelease()

	// ObserveStateTransition records a C4 state-machine transition.
	ObserveStateTransition(from, to State)

	// ObserveDirty records a new dirty record being opened for a TXG.
	ObserveDirty(dirtyCount int)

	// ObserveResolve records a read-modify-write resolve and its latency.
	ObserveResolve(d time.Duration)

	// ObserveDirtyWritesLost increments the durability-loss counter
	// (spec.md §7.3 "dirty_writes_lost").
	ObserveDirtyWritesLost(bytes int)

	// ObserveSyncWrite records a sync-path write issuance and its latency.
	ObserveSyncWrite(bytes int, d time.Duration)
}

// noopMetrics discards everything. Used when a Cache is constructed
// without a CacheMetrics implementation.
type noopMetrics struct{}

func (noopMetrics) ObserveHold(bool)                  {}
func (noopMetrics) ObserveRelease()                   {}
func (noopMetrics) ObserveStateTransition(State, State) {}
func (noopMetrics) ObserveDirty(int)                  {}
func (noopMetrics) ObserveResolve(time.Duration)      {}
func (noopMetrics) ObserveDirtyWritesLost(int)        {}
func (noopMetrics) ObserveSyncWrite(int, time.Duration) {}
