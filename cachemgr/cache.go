// Package cachemgr implements the cache manager (L2) described by the
// specification: it composes the three kvstore partitions (pinned,
// regular, volatile) into one logical cache with a single size cap, and
// owns the open-handle table and the pin-on-open/demote-on-close
// invariant. Everything here is explicit state hung off a *Cache value —
// there is no process-wide global, mirroring the "arena + index" handle
// model the specification calls for instead of pointer identity.
package cachemgr

import (
	"sync"

	"github.com/ramcached/ramcache/cachestats"
	"github.com/ramcached/ramcache/cachestatus"
	"github.com/ramcached/ramcache/kvstore"
	"github.com/ramcached/ramcache/objectid"
)

// DefaultMaxHandles is the hard cap on simultaneously open handles.
const DefaultMaxHandles = 8192

// DefaultTxnPage is the starting size for a staging buffer whose final
// size is not known in advance.
const DefaultTxnPage = 4 << 10

// Cache is the single per-process cache instance: three kvstore
// partitions plus the open-handle table, guarded by one reader/writer
// lock exactly as the specification's locking table describes.
type Cache struct {
	mu sync.RWMutex

	maxSize int64

	pinned   *kvstore.Partition
	regular  *kvstore.Partition
	volatile *kvstore.Partition

	handles *handleTable
	dedup   stagingDedup
	stats   cachestats.Counters
}

// Option configures a Cache at construction time.
type Option func(*Cache)

// WithMaxHandles overrides DefaultMaxHandles.
func WithMaxHandles(n int) Option {
	return func(c *Cache) {
		c.handles = newHandleTable(n)
	}
}

// WithPartitionCapacities overrides the individual byte capacities given
// to each kvstore.Partition. Only the global eviction cascade in CommitTxn
// bounds cache size: a partition records its capacity but does not check
// it on Commit, so a capacity smaller than maxSize does not stop that
// partition from growing past it. The default gives every partition a
// capacity equal to maxSize.
func WithPartitionCapacities(pinned, regular, volatile int64) Option {
	return func(c *Cache) {
		c.pinned = kvstore.NewPartition(pinned)
		c.regular = kvstore.NewPartition(regular)
		c.volatile = kvstore.NewPartition(volatile)
	}
}

// New creates an empty Cache with the given global byte budget.
func New(maxSize int64, opts ...Option) *Cache {
	c := &Cache{
		maxSize:  maxSize,
		pinned:   kvstore.NewPartition(maxSize),
		regular:  kvstore.NewPartition(maxSize),
		volatile: kvstore.NewPartition(maxSize),
		handles:  newHandleTable(DefaultMaxHandles),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// invariant panics with a diagnostic identifying a corrupted cache. The
// specification treats invariant violations — a handle→id lookup failing
// after a successful Open, a partition Pop failing after a successful
// Lookup — as programmer errors that must abort the process rather than
// attempt local recovery.
func invariant(cond bool, msg string) {
	if !cond {
		panic("cachemgr: invariant violation: " + msg)
	}
}

// Open pins the object at id and returns a handle for reading it. If the
// object is cold (regular or volatile), it is promoted into the pinned
// partition without copying. Opening an already-pinned object reuses its
// entry and increments its refcount.
func (c *Cache) Open(id objectid.ID) (Handle, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	fd, ok := c.handles.alloc(id)
	if !ok {
		return 0, cachestatus.ErrTooManyHandles
	}

	if c.pinned.Incref(id) {
		c.stats.IncOpens()
		return fd, nil
	}

	if buf, ok := c.regular.Pop(id); ok {
		c.promote(id, buf)
		c.stats.IncOpens()
		return fd, nil
	}
	if buf, ok := c.volatile.Pop(id); ok {
		c.promote(id, buf)
		c.stats.IncOpens()
		return fd, nil
	}

	ok = c.handles.release(fd)
	invariant(ok, "Open: could not release handle slot allocated moments ago")
	return 0, cachestatus.ErrNoEntry
}

// promote moves buf into the pinned partition and takes the first
// reference for the caller that is about to receive a handle to it.
func (c *Cache) promote(id objectid.ID, buf kvstore.Buffer) {
	ok := c.pinned.Commit(id, buf)
	invariant(ok, "promote: target id already present in pinned partition")
	ok = c.pinned.Incref(id)
	invariant(ok, "promote: entry vanished immediately after commit")
}

// Close releases the handle. If this was the last reference to the
// object, regular and volatile objects are demoted back to their cold
// partition; pinned and catalog objects stay in the pinned partition
// indefinitely.
func (c *Cache) Close(fd Handle) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	id, ok := c.handles.lookup(fd)
	if !ok {
		return cachestatus.ErrBadHandle
	}

	ok = c.pinned.Unref(id)
	invariant(ok, "Close: handle does not reference a pinned entry")

	rc, found := c.pinned.GetRefcount(id)
	invariant(found, "Close: entry vanished after Unref")

	if rc == 0 {
		buf, found := c.pinned.Lookup(id)
		invariant(found, "Close: entry vanished before demotion check")
		if buf.ObjectType.Evictable() {
			popped, ok := c.pinned.Pop(id)
			invariant(ok, "Close: entry vanished before demotion pop")
			target := c.regular
			if popped.ObjectType == kvstore.Volatile {
				target = c.volatile
			}
			ok = target.Commit(id, popped)
			invariant(ok, "Close: demotion target already holds this id")
		}
	}

	ok = c.handles.release(fd)
	invariant(ok, "Close: handle vanished under lock")
	c.stats.IncCloses()
	return nil
}

// Dup increments the refcount of the object behind fd and returns a new
// handle pointing at the same id.
func (c *Cache) Dup(fd Handle) (Handle, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	id, ok := c.handles.lookup(fd)
	if !ok {
		return 0, cachestatus.ErrBadHandle
	}
	newFd, ok := c.handles.alloc(id)
	if !ok {
		return 0, cachestatus.ErrTooManyHandles
	}
	ok = c.pinned.Incref(id)
	invariant(ok, "Dup: handle's id is not pinned")
	return newFd, nil
}

// GetSize returns the size of the object behind fd.
func (c *Cache) GetSize(fd Handle) (int64, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	id, ok := c.handles.lookup(fd)
	if !ok {
		return 0, cachestatus.ErrBadHandle
	}
	size, ok := c.pinned.GetSize(id)
	invariant(ok, "GetSize: handle's id is not pinned")
	return size, nil
}

// Pread copies up to len(dst) bytes starting at off from the object
// behind fd. A read exactly at end-of-object returns 0 bytes, not an
// error; a read starting beyond the object's size returns OutOfBounds.
func (c *Cache) Pread(fd Handle, dst []byte, off int64) (int, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	id, ok := c.handles.lookup(fd)
	if !ok {
		return 0, cachestatus.ErrBadHandle
	}
	n, found := c.pinned.Read(id, dst, off)
	invariant(found, "Pread: handle's id is not pinned")
	if n < 0 {
		return 0, cachestatus.ErrOutOfBounds
	}
	return n, nil
}

// Readahead validates the handle. This is a RAM cache, so there is
// nothing to prefetch — it exists only so clients that call it
// unconditionally get a well-defined BadHandle outcome.
func (c *Cache) Readahead(fd Handle) error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if _, ok := c.handles.lookup(fd); !ok {
		return cachestatus.ErrBadHandle
	}
	return nil
}

// Chrefcnt adjusts the refcount of the object at id by delta, regardless
// of which partition currently holds it. This resolves an ambiguity the
// distilled specification leaves implicit: a positive delta landing on a
// cold (regular/volatile) object promotes it into the pinned partition —
// the same move Open performs — since a cold entry's refcount must stay
// at zero by partition invariant. See DESIGN.md for the full reasoning.
func (c *Cache) Chrefcnt(id objectid.ID, delta int32) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if rc, ok := c.pinned.GetRefcount(id); ok {
		if int64(rc)+int64(delta) < 0 {
			return cachestatus.ErrBadCount
		}
		_, ok = c.pinned.AddRefcount(id, int64(delta))
		invariant(ok, "Chrefcnt: pinned entry vanished under lock")
		return nil
	}

	for _, part := range [2]*kvstore.Partition{c.regular, c.volatile} {
		rc, ok := part.GetRefcount(id)
		if !ok {
			continue
		}
		newRC := int64(rc) + int64(delta)
		if newRC < 0 {
			return cachestatus.ErrBadCount
		}
		if newRC == 0 {
			return nil
		}
		buf, ok := part.Pop(id)
		invariant(ok, "Chrefcnt: cold entry vanished under lock")
		ok = c.pinned.Commit(id, buf)
		invariant(ok, "Chrefcnt: promotion target already pinned")
		_, ok = c.pinned.AddRefcount(id, newRC)
		invariant(ok, "Chrefcnt: just-promoted entry vanished")
		return nil
	}

	return cachestatus.ErrNoEntry
}

// ObjInfo describes an object without requiring an open handle.
type ObjInfo struct {
	Size        int64
	ObjectType  kvstore.ObjectType
	Pinned      bool
	Description string
}

// ObjInfo returns metadata for id, wherever it currently resides.
func (c *Cache) ObjInfo(id objectid.ID) (ObjInfo, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	for _, part := range [3]*kvstore.Partition{c.pinned, c.regular, c.volatile} {
		if buf, ok := part.Lookup(id); ok {
			return ObjInfo{
				Size:        buf.Size,
				ObjectType:  buf.ObjectType,
				Pinned:      buf.Refcount > 0,
				Description: buf.Description,
			}, nil
		}
	}
	return ObjInfo{}, cachestatus.ErrNoEntry
}

// PreadByID reads from id directly, without requiring a handle — the
// access pattern the plugin façade's pread callback needs.
func (c *Cache) PreadByID(id objectid.ID, dst []byte, off int64) (int, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	for _, part := range [3]*kvstore.Partition{c.pinned, c.regular, c.volatile} {
		if n, found := part.Read(id, dst, off); found {
			if n < 0 {
				return 0, cachestatus.ErrOutOfBounds
			}
			return n, nil
		}
	}
	return 0, cachestatus.ErrNoEntry
}

// Info summarizes the cache's current size and occupancy.
type Info struct {
	SizeBytes   int64
	UsedBytes   int64
	PinnedBytes int64
	NoShrink    bool
}

// Info reports the cache's size cap and current occupancy. NoShrink is
// always false: this cache always supports Shrink.
func (c *Cache) Info() Info {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return Info{
		SizeBytes:   c.maxSize,
		UsedBytes:   c.pinned.UsedBytes() + c.regular.UsedBytes() + c.volatile.UsedBytes(),
		PinnedBytes: c.pinned.UsedBytes(),
		NoShrink:    false,
	}
}

// Shrink evicts cold entries, volatile first and then regular, until
// total usage is at or below target or no further evictable bytes
// remain. Pinned-partition entries are never touched. It returns the
// resulting used-byte total and whether target was reached.
func (c *Cache) Shrink(target int64) (usedAfter int64, reachedTarget bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	total := func() int64 {
		return c.pinned.UsedBytes() + c.regular.UsedBytes() + c.volatile.UsedBytes()
	}
	before := c.volatile.Len() + c.regular.Len()

	if total() > target {
		over := total() - target
		vTarget := c.volatile.UsedBytes() - over
		if vTarget < 0 {
			vTarget = 0
		}
		c.volatile.ShrinkTo(vTarget)
	}
	if total() > target {
		over := total() - target
		rTarget := c.regular.UsedBytes() - over
		if rTarget < 0 {
			rTarget = 0
		}
		c.regular.ShrinkTo(rTarget)
	}

	after := c.volatile.Len() + c.regular.Len()
	c.stats.AddEvictions(int64(before - after))

	used := total()
	return used, used <= target
}

// MaxSize returns the cache's configured global byte budget.
func (c *Cache) MaxSize() int64 {
	return c.maxSize
}

// Stats returns the running activity counters for this cache, suitable
// for periodic logging or for plugin.info diagnostics.
func (c *Cache) Stats() *cachestats.Counters {
	return &c.stats
}

// Listing returns a snapshot of every object currently held across all
// three partitions, most-recently-used first within each partition. The
// snapshot is taken under the cache's own lock, so it is unaffected by
// any commit, open, or eviction that happens after Listing returns —
// exactly the guarantee the plugin façade's listing cursors need.
func (c *Cache) Listing() []kvstore.IDBuffer {
	c.mu.RLock()
	defer c.mu.RUnlock()

	var all []kvstore.IDBuffer
	all = append(all, c.pinned.Entries()...)
	all = append(all, c.regular.Entries()...)
	all = append(all, c.volatile.Entries()...)
	return all
}
