// Package kvstore implements the tiered key/value layer (L1) described by
// the cache specification: a bounded LRU mapping from object id to buffer,
// with refcount discipline and used-byte accounting. A Partition knows
// nothing about pinned/regular/volatile semantics — that composition lives
// one layer up, in cachemgr. Each Partition is just one bounded, refcount-
// aware LRU pool.
//
// The LRU ordering is built on container/list, the same approach
// groupcache's lru package uses internally — an intrusive doubly linked
// list for O(1) move-to-front plus a map for O(1) lookup.
package kvstore

import (
	"container/list"
	"sync"

	"github.com/ramcached/ramcache/objectid"
)

type entry struct {
	id  objectid.ID
	buf Buffer
}

// Partition is a bounded, LRU-ordered id→Buffer store with its own
// capacity and used-byte total. It carries its own mutex, mirroring the
// reference implementation's per-KvStore pthread_rwlock_t: promotion on
// Lookup/Read is therefore safe to run concurrently with the cache
// manager's own read lock (see cachemgr's locking table), rather than
// requiring every read to take cachemgr's write lock.
type Partition struct {
	mu       sync.Mutex
	capacity int64
	used     int64
	ll       *list.List
	index    map[objectid.ID]*list.Element
}

// NewPartition creates an empty partition with the given byte capacity.
func NewPartition(capacity int64) *Partition {
	return &Partition{
		capacity: capacity,
		ll:       list.New(),
		index:    make(map[objectid.ID]*list.Element),
	}
}

// UsedBytes returns the sum of buffer sizes currently resident.
func (p *Partition) UsedBytes() int64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.used
}

// Capacity returns the byte budget given to NewPartition. The partition
// only records it: Commit accepts a buffer whatever the capacity.
func (p *Partition) Capacity() int64 { return p.capacity }

// Len returns the number of resident entries.
func (p *Partition) Len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.ll.Len()
}

// Lookup returns the buffer for id, promoting it to most-recently-used.
// The returned Buffer is a copy of the bookkeeping fields; Data aliases
// the stored slice and must not be mutated by the caller.
func (p *Partition) Lookup(id objectid.ID) (Buffer, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	el, ok := p.index[id]
	if !ok {
		return Buffer{}, false
	}
	p.ll.MoveToFront(el)
	return el.Value.(*entry).buf, true
}

// Has reports whether id is present, without promoting it in the LRU
// order or otherwise mutating partition state. Used to peek for a
// duplicate id before running an eviction cascade that must not touch
// state if the commit is going to fail with AlreadyExists anyway.
func (p *Partition) Has(id objectid.ID) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	_, ok := p.index[id]
	return ok
}

// GetSize returns the size of the entry at id.
func (p *Partition) GetSize(id objectid.ID) (int64, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	el, ok := p.index[id]
	if !ok {
		return 0, false
	}
	return el.Value.(*entry).buf.Size, true
}

// GetRefcount returns the refcount of the entry at id.
func (p *Partition) GetRefcount(id objectid.ID) (uint32, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	el, ok := p.index[id]
	if !ok {
		return 0, false
	}
	return el.Value.(*entry).buf.Refcount, true
}

// Incref increments the refcount of the entry at id. It reports false if
// the entry is absent.
func (p *Partition) Incref(id objectid.ID) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	el, ok := p.index[id]
	if !ok {
		return false
	}
	el.Value.(*entry).buf.Refcount++
	return true
}

// Unref decrements the refcount of the entry at id. It reports false if
// the entry is absent or already at refcount zero.
func (p *Partition) Unref(id objectid.ID) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	el, ok := p.index[id]
	if !ok {
		return false
	}
	e := el.Value.(*entry)
	if e.buf.Refcount == 0 {
		return false
	}
	e.buf.Refcount--
	return true
}

// AddRefcount adds delta (positive or negative) to the refcount of the
// entry at id and returns the resulting value. It reports false if the
// entry is absent. Callers must check that the result would not go
// negative before calling — AddRefcount does not clamp or validate.
func (p *Partition) AddRefcount(id objectid.ID, delta int64) (int64, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	el, ok := p.index[id]
	if !ok {
		return 0, false
	}
	e := el.Value.(*entry)
	newRC := int64(e.buf.Refcount) + delta
	e.buf.Refcount = uint32(newRC)
	return newRC, true
}

// Read copies up to len(dst) bytes from the entry at id, starting at off,
// into dst, promoting the entry to most-recently-used. It returns the
// number of bytes copied and whether the entry was found.
func (p *Partition) Read(id objectid.ID, dst []byte, off int64) (int, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	el, ok := p.index[id]
	if !ok {
		return 0, false
	}
	p.ll.MoveToFront(el)
	e := el.Value.(*entry)
	if off > e.buf.Size {
		return -1, true // caller maps to OutOfBounds; size found, offset invalid
	}
	n := copy(dst, e.buf.Data[off:])
	return n, true
}

// Commit inserts buf under id with refcount 0, accounting its size into
// UsedBytes. It reports false (without mutating state) if id is already
// present — callers are responsible for idempotence.
func (p *Partition) Commit(id objectid.ID, buf Buffer) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, exists := p.index[id]; exists {
		return false
	}
	buf.Refcount = 0
	el := p.ll.PushFront(&entry{id: id, buf: buf})
	p.index[id] = el
	p.used += buf.Size
	return true
}

// Delete removes the entry at id unconditionally, freeing its accounted
// bytes. Deleting a live (refcount>0) entry is a policy violation the
// partition does not itself prevent — callers in cachemgr never delete
// pinned buffers, and the partition never evicts one on its own.
func (p *Partition) Delete(id objectid.ID) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	el, ok := p.index[id]
	if !ok {
		return false
	}
	p.removeElement(el)
	return true
}

// Pop removes the entry at id and returns its buffer without discarding
// the payload, transferring ownership to the caller. Used to move a
// buffer between partitions without copying.
func (p *Partition) Pop(id objectid.ID) (Buffer, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	el, ok := p.index[id]
	if !ok {
		return Buffer{}, false
	}
	e := el.Value.(*entry)
	buf := e.buf
	p.removeElement(el)
	return buf, true
}

func (p *Partition) removeElement(el *list.Element) {
	e := el.Value.(*entry)
	p.ll.Remove(el)
	delete(p.index, e.id)
	p.used -= e.buf.Size
}

// ShrinkTo evicts least-recently-used entries with refcount 0 until
// UsedBytes <= target or no evictable entries remain. Entries with
// refcount > 0 are skipped, not counted as a failure. It reports whether
// the target was reached.
func (p *Partition) ShrinkTo(target int64) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if target < 0 {
		target = 0
	}
	for p.used > target {
		el := p.oldestEvictable()
		if el == nil {
			return false
		}
		p.removeElement(el)
	}
	return true
}

// oldestEvictable scans from the back (least-recently-used) for the first
// entry with refcount 0, skipping pinned (refcount>0) entries along the
// way without disturbing their position.
func (p *Partition) oldestEvictable() *list.Element {
	for el := p.ll.Back(); el != nil; el = el.Prev() {
		if el.Value.(*entry).buf.Refcount == 0 {
			return el
		}
	}
	return nil
}

// Entries returns a snapshot slice of (id, Buffer) pairs in MRU→LRU order,
// used by listing cursors. The slice is independent of subsequent
// mutations to the partition.
func (p *Partition) Entries() []IDBuffer {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]IDBuffer, 0, p.ll.Len())
	for el := p.ll.Front(); el != nil; el = el.Next() {
		e := el.Value.(*entry)
		out = append(out, IDBuffer{ID: e.id, Buffer: e.buf})
	}
	return out
}

// IDBuffer pairs an id with its buffer for snapshot iteration.
type IDBuffer struct {
	ID     objectid.ID
	Buffer Buffer
}
