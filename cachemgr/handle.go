package cachemgr

import "github.com/ramcached/ramcache/objectid"

// Handle is a small integer naming an open, pinned object for read access —
// the cache's file-descriptor-like contract with its clients.
type Handle int32

// handleTable is an append-with-reuse vector: freed slots are reused, and
// the trailing run of free slots is truncated on release so the table
// stays compact (testable property: no tail of free slots after close).
type handleTable struct {
	ids  []objectid.ID
	free []bool
	max  int
}

func newHandleTable(max int) *handleTable {
	return &handleTable{max: max}
}

// alloc returns a handle bound to id, reusing the first free slot if one
// exists, or growing the table if under the hard cap.
func (t *handleTable) alloc(id objectid.ID) (Handle, bool) {
	for i, free := range t.free {
		if free {
			t.free[i] = false
			t.ids[i] = id
			return Handle(i), true
		}
	}
	if len(t.ids) >= t.max {
		return 0, false
	}
	t.ids = append(t.ids, id)
	t.free = append(t.free, false)
	return Handle(len(t.ids) - 1), true
}

// lookup returns the id bound to fd.
func (t *handleTable) lookup(fd Handle) (objectid.ID, bool) {
	i := int(fd)
	if i < 0 || i >= len(t.ids) || t.free[i] {
		return objectid.ID{}, false
	}
	return t.ids[i], true
}

// release frees fd's slot and truncates any trailing run of free slots.
func (t *handleTable) release(fd Handle) bool {
	i := int(fd)
	if i < 0 || i >= len(t.ids) || t.free[i] {
		return false
	}
	t.free[i] = true
	t.ids[i] = objectid.ID{}
	for len(t.free) > 0 && t.free[len(t.free)-1] {
		t.free = t.free[:len(t.free)-1]
		t.ids = t.ids[:len(t.ids)-1]
	}
	return true
}

// len reports the current table length (including free slots below any
// still-occupied trailing slot).
func (t *handleTable) len() int { return len(t.ids) }
