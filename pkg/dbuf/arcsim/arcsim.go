// Package arcsim is a test double for the ARC contract the dbuf layer
// consumes (pkg/dbuf/arc). It keeps block content in memory, pooled
// through pkg/bufpool the way the teacher pools connection buffers, and
// can optionally persist every write to an mmap-backed durability log
// (mmaplog.go) so a test can simulate a process restart and recover what
// the real pool would have kept on disk.
//
// Grounded on the teacher's pkg/cache/memory.MemoryCache (an in-memory
// cache.Cache implementation used the same way: a real backend's
// behavior, minus the backing store, for tests) generalized from the
// teacher's chunk/slice model to arc.Cache's Alloc/Read/Write/Release
// contract.
package arcsim

import (
	"context"
	"sync"

	"github.com/marmos91/dbufcache/pkg/bufpool"
	"github.com/marmos91/dbufcache/pkg/dbuf/arc"
)

// buf is arcsim's arc.Buf implementation: a pooled byte slice plus a
// reference count and frozen flag.
type buf struct {
	mu      sync.Mutex
	data    []byte
	pool    *bufpool.Pool
	refs    map[string]struct{}
	frozen  bool
	size    int
}

func (b *buf) Bytes() []byte { return b.data }
func (b *buf) Size() int     { return b.size }
func (b *buf) Frozen() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.frozen
}

// Cache is an in-memory arc.Cache implementation for tests.
type Cache struct {
	pool *bufpool.Pool
	log  *MmapLog // nil unless persistence was requested

	mu      sync.Mutex
	content map[key][]byte // simulated durable backing store, by coord
}

type key struct {
	dataset string
	object  uint64
	level   int
	blkid   uint64
}

// Option configures a Cache at construction.
type Option func(*Cache)

// WithDurabilityLog enables an mmap-backed log at dir; content survives
// Close+New across the same directory.
func WithDurabilityLog(dir string) Option {
	return func(c *Cache) {
		l, err := OpenMmapLog(dir)
		if err != nil {
			panic(err)
		}
		c.log = l
	}
}

// New constructs an arcsim.Cache.
func New(opts ...Option) *Cache {
	c := &Cache{
		pool:    bufpool.NewPool(nil),
		content: make(map[key][]byte),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.log != nil {
		c.replay()
	}
	return c
}

func (c *Cache) replay() {
	entries, err := c.log.Recover()
	if err != nil {
		panic(err)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, e := range entries {
		c.content[key{e.Dataset, e.Object, e.Level, e.BlockID}] = e.Data
	}
}

// Alloc returns a pooled buffer of size bytes for owner, tagged with
// contentType for bookkeeping parity with the real ARC (unused by the
// simulator beyond that).
func (c *Cache) Alloc(size int, owner string, contentType arc.ContentType) arc.Buf {
	_ = owner
	_ = contentType
	return &buf{data: c.pool.Get(size)[:size], pool: c.pool, size: size, refs: make(map[string]struct{})}
}

// Read looks up bp's simulated content synchronously; arcsim never
// issues a real asynchronous read, so found is always true once content
// exists and false only for an unknown (never-written) pointer that
// isn't a hole, which is treated as a miss rather than a hole read —
// hole synthesis is the dbuf layer's job (pkg/dbuf/read.go), not the
// backend's.
func (c *Cache) Read(_ context.Context, bp arc.BlockPointer, _ arc.Priority, _ arc.ReadDoneFunc) (arc.Buf, bool, error) {
	sp, ok := bp.(simPointer)
	if !ok {
		return nil, false, nil
	}
	c.mu.Lock()
	data, ok := c.content[sp.key]
	c.mu.Unlock()
	if !ok {
		return nil, false, nil
	}
	out := c.pool.Get(len(data))[:len(data)]
	copy(out, data)
	return &buf{data: out, pool: c.pool, size: len(out), refs: make(map[string]struct{})}, true, nil
}

// Write simulates a durable write, synchronously, optionally appending
// to the mmap log before acknowledging completion.
func (c *Cache) Write(_ context.Context, txgNum uint64, bp arc.BlockPointer, data []byte, ready arc.WriteReadyFunc, done arc.WriteDoneFunc) error {
	sp, ok := bp.(simPointer)
	if !ok {
		sp = simPointer{}
	}
	cp := make([]byte, len(data))
	copy(cp, data)

	if c.log != nil {
		if err := c.log.Append(WriteEntry{
			Dataset: sp.key.dataset, Object: sp.key.object, Level: sp.key.level, BlockID: sp.key.blkid,
			TXG: txgNum, Data: cp,
		}); err != nil {
			done(err)
			return nil
		}
	}

	c.mu.Lock()
	c.content[sp.key] = cp
	c.mu.Unlock()

	if ready != nil {
		ready(len(cp))
	}
	if done != nil {
		done(nil)
	}
	return nil
}

// Release returns buf's backing array to the pool once nothing else
// references it.
func (c *Cache) Release(b arc.Buf, owner string) {
	sb, ok := b.(*buf)
	if !ok {
		return
	}
	sb.mu.Lock()
	delete(sb.refs, owner)
	empty := len(sb.refs) == 0
	data := sb.data
	sb.mu.Unlock()
	if empty {
		c.pool.Put(data)
	}
}

func (c *Cache) Freeze(b arc.Buf) {
	sb, ok := b.(*buf)
	if !ok {
		return
	}
	sb.mu.Lock()
	sb.frozen = true
	sb.mu.Unlock()
}

func (c *Cache) Thaw(b arc.Buf) {
	sb, ok := b.(*buf)
	if !ok {
		return
	}
	sb.mu.Lock()
	sb.frozen = false
	sb.mu.Unlock()
}

func (c *Cache) RemoveRef(b arc.Buf, owner string) bool {
	sb, ok := b.(*buf)
	if !ok {
		return true
	}
	sb.mu.Lock()
	defer sb.mu.Unlock()
	delete(sb.refs, owner)
	return len(sb.refs) == 0
}

func (c *Cache) Released(b arc.Buf) bool {
	sb, ok := b.(*buf)
	if !ok {
		return true
	}
	sb.mu.Lock()
	defer sb.mu.Unlock()
	return len(sb.refs) == 0
}

// IsDuplicate never reports a duplicate; arcsim has no content-addressed
// dedup index (SPEC_FULL.md §2's dedup concern belongs to the real ARC,
// out of scope for this test double).
func (c *Cache) IsDuplicate(arc.Buf) bool { return false }

// Close releases the durability log, if any.
func (c *Cache) Close() error {
	if c.log != nil {
		return c.log.Close()
	}
	return nil
}

// simPointer is the concrete arc.BlockPointer arcsim expects callers to
// use; NewPointer constructs one for a given coordinate.
type simPointer struct {
	key  key
	hole bool
}

func (p simPointer) IsHole() bool { return p.hole }

// NewPointer returns a non-hole block pointer addressing (dataset,
// object, level, blkid) within this simulator instance.
func NewPointer(dataset string, object uint64, level int, blkid uint64) arc.BlockPointer {
	return simPointer{key: key{dataset, object, level, blkid}}
}
