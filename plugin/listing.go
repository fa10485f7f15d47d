package plugin

import (
	"github.com/ramcached/ramcache/cachestatus"
	"github.com/ramcached/ramcache/kvstore"
	"github.com/ramcached/ramcache/objectid"
)

// cursor is the server-side state behind one caller-chosen ListingID: a
// frozen snapshot of matching entries plus a read position. Freezing the
// snapshot at ListingBegin is what gives listing_next its "independent of
// concurrent commits" guarantee — it walks a copy, not the live store.
type cursor struct {
	items []kvstore.IDBuffer
	pos   int
}

// ListingItem is one entry returned by ListingNext.
type ListingItem struct {
	ID          objectid.ID
	Size        int64
	ObjectType  kvstore.ObjectType
	Description string
}

// ListingBegin snapshots every object of objectType currently in the
// cache under lstID. A second ListingBegin on the same lstID replaces any
// prior snapshot.
func (f *Facade) ListingBegin(lstID ListingID, objectType kvstore.ObjectType) cachestatus.Code {
	all := f.cache.Listing()
	var matched []kvstore.IDBuffer
	for _, e := range all {
		if e.Buffer.ObjectType == objectType {
			matched = append(matched, e)
		}
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	f.listings[lstID] = &cursor{items: matched}
	return cachestatus.Ok
}

// ListingNext returns the next item in lstID's snapshot. ok is false once
// the snapshot is exhausted, matching the original ram_listing_next's
// CVMCACHE_STATUS_OUTOFBOUNDS on exhaustion rather than Ok.
func (f *Facade) ListingNext(lstID ListingID) (item ListingItem, ok bool, code cachestatus.Code) {
	f.mu.Lock()
	defer f.mu.Unlock()

	cur, found := f.listings[lstID]
	if !found {
		return ListingItem{}, false, cachestatus.BadHandle
	}
	if cur.pos >= len(cur.items) {
		return ListingItem{}, false, cachestatus.OutOfBounds
	}
	e := cur.items[cur.pos]
	cur.pos++
	return ListingItem{
		ID:          e.ID,
		Size:        e.Buffer.Size,
		ObjectType:  e.Buffer.ObjectType,
		Description: e.Buffer.Description,
	}, true, cachestatus.Ok
}

// ListingEnd discards lstID's snapshot.
func (f *Facade) ListingEnd(lstID ListingID) cachestatus.Code {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, found := f.listings[lstID]; !found {
		return cachestatus.BadHandle
	}
	delete(f.listings, lstID)
	return cachestatus.Ok
}
