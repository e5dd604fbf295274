package tracelog

import "context"

// contextKey is a private type for context keys to avoid collisions.
type contextKey struct{}

var traceContextKey = contextKey{}

// TraceContext carries the block identity that every dbuf trace event is
// keyed by: (dataset, object, level, block-id), plus the TXG the caller is
// currently operating under, if any. This is what spec.md §9 calls a
// "structured trace event keyed by the dbuf identity".
type TraceContext struct {
	Dataset string
	Object  uint64
	Level   int
	BlockID uint64
	TXG     uint64
}

// WithContext returns a new context carrying the given TraceContext.
func WithContext(ctx context.Context, tc *TraceContext) context.Context {
	return context.WithValue(ctx, traceContextKey, tc)
}

// FromContext retrieves the TraceContext from ctx, or nil if not present.
func FromContext(ctx context.Context) *TraceContext {
	if ctx == nil {
		return nil
	}
	tc, _ := ctx.Value(traceContextKey).(*TraceContext)
	return tc
}

// ForBlock builds a TraceContext for the given block coordinates.
func ForBlock(dataset string, object uint64, level int, blockID uint64) *TraceContext {
	return &TraceContext{Dataset: dataset, Object: object, Level: level, BlockID: blockID}
}

// WithTXG returns a copy of the TraceContext with TXG set.
func (tc *TraceContext) WithTXG(txg uint64) *TraceContext {
	if tc == nil {
		return nil
	}
	clone := *tc
	clone.TXG = txg
	return &clone
}
