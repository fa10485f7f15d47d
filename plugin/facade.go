// Package plugin implements the external-plugin protocol surface (L3): a
// flat callback vocabulary — chrefcnt, obj_info, pread, the txn
// lifecycle, info, shrink, and the listing_* family — layered over a
// *cachemgr.Cache. The façade is a thin shim: it owns only the state L2
// does not need to know about (transient listing cursors and the
// caller-chosen txn-id → *cachemgr.Txn mapping a wire client expects),
// and otherwise delegates straight through to the cache manager.
//
// Every callback here returns a cachestatus.Code rather than an error:
// this is the actual callback boundary the specification requires no
// error to be thrown across.
package plugin

import (
	"sync"

	"github.com/ramcached/ramcache/cachemgr"
	"github.com/ramcached/ramcache/cachestatus"
	"github.com/ramcached/ramcache/kvstore"
	"github.com/ramcached/ramcache/objectid"
)

// TxnID and ListingID are the caller-chosen identifiers the wire protocol
// uses in place of cachemgr's language-level handles — a remote client
// has no Go pointer to hold, only integers it minted itself.
type TxnID uint64
type ListingID uint64

// Capabilities is the capability mask the specification requires the
// plugin to advertise. This façade implements all of them, unconditionally.
type Capabilities struct {
	Refcount   bool
	ObjectInfo bool
	Shrink     bool
	Info       bool
	Listing    bool
}

// Facade exposes a *cachemgr.Cache to external, wire-protocol clients.
type Facade struct {
	cache *cachemgr.Cache

	mu       sync.Mutex
	txns     map[TxnID]*cachemgr.Txn
	listings map[ListingID]*cursor
}

// New wraps cache for external-plugin access.
func New(cache *cachemgr.Cache) *Facade {
	return &Facade{
		cache:    cache,
		txns:     make(map[TxnID]*cachemgr.Txn),
		listings: make(map[ListingID]*cursor),
	}
}

// Capabilities reports the capability mask this façade advertises. All
// bits are set: a demo plugin that only wants a subset would omit the
// corresponding callbacks entirely rather than ask this façade to
// pretend a capability is missing.
func (f *Facade) Capabilities() Capabilities {
	return Capabilities{
		Refcount:   true,
		ObjectInfo: true,
		Shrink:     true,
		Info:       true,
		Listing:    true,
	}
}

// Chrefcnt adds delta to the refcount of id.
func (f *Facade) Chrefcnt(id objectid.ID, delta int32) cachestatus.Code {
	return cachestatus.ToCode(f.cache.Chrefcnt(id, delta))
}

// ObjInfoResult is the wire-shaped response to ObjInfo.
type ObjInfoResult struct {
	Size        int64
	ObjectType  kvstore.ObjectType
	Pinned      bool
	Description string
}

// ObjInfo reports metadata for id.
func (f *Facade) ObjInfo(id objectid.ID) (ObjInfoResult, cachestatus.Code) {
	info, err := f.cache.ObjInfo(id)
	if err != nil {
		return ObjInfoResult{}, cachestatus.ToCode(err)
	}
	return ObjInfoResult{
		Size:        info.Size,
		ObjectType:  info.ObjectType,
		Pinned:      info.Pinned,
		Description: info.Description,
	}, cachestatus.Ok
}

// Pread reads up to len(dst) bytes from id starting at off. A read
// exactly at end-of-object returns (0, Ok); a read starting past the end
// of the object returns OutOfBounds.
func (f *Facade) Pread(id objectid.ID, off int64, dst []byte) (int, cachestatus.Code) {
	n, err := f.cache.PreadByID(id, dst, off)
	return n, cachestatus.ToCode(err)
}

// StartTxn begins staging id's bytes under txnID. A second StartTxn with
// the same txnID silently replaces the first, matching the external
// plugin's single flat transaction table — callers are expected not to
// reuse an in-flight txnID. Concurrent StartTxn calls for the same id
// under different txnIDs are collapsed by the cache's staging dedup, so
// two clients racing to stage the same object share one staging buffer
// rather than allocating two.
func (f *Facade) StartTxn(txnID TxnID, id objectid.ID, expectedSize int64) cachestatus.Code {
	txn := f.cache.DedupStartTxn(id, expectedSize)

	f.mu.Lock()
	defer f.mu.Unlock()
	f.txns[txnID] = txn
	return cachestatus.Ok
}

// CtrlTxn sets the description and object type that CommitTxn will use.
func (f *Facade) CtrlTxn(txnID TxnID, description string, objectType kvstore.ObjectType) cachestatus.Code {
	txn, ok := f.lookupTxn(txnID)
	if !ok {
		return cachestatus.BadHandle
	}
	txn.CtrlTxn(description, objectType)
	return cachestatus.Ok
}

// WriteTxn appends data to the transaction's staging buffer.
func (f *Facade) WriteTxn(txnID TxnID, data []byte) (int, cachestatus.Code) {
	txn, ok := f.lookupTxn(txnID)
	if !ok {
		return 0, cachestatus.BadHandle
	}
	n, err := txn.Write(data)
	return n, cachestatus.ToCode(err)
}

// CommitTxn commits the staged bytes into the store and forgets the
// transaction regardless of outcome — a failed commit still needs its
// staging buffer released.
func (f *Facade) CommitTxn(txnID TxnID) cachestatus.Code {
	txn, ok := f.takeTxn(txnID)
	if !ok {
		return cachestatus.BadHandle
	}
	return cachestatus.ToCode(f.cache.CommitTxn(txn))
}

// AbortTxn discards a transaction's staging buffer. It never fails.
func (f *Facade) AbortTxn(txnID TxnID) cachestatus.Code {
	txn, ok := f.takeTxn(txnID)
	if !ok {
		return cachestatus.Ok
	}
	txn.AbortTxn()
	return cachestatus.Ok
}

func (f *Facade) lookupTxn(txnID TxnID) (*cachemgr.Txn, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	txn, ok := f.txns[txnID]
	return txn, ok
}

func (f *Facade) takeTxn(txnID TxnID) (*cachemgr.Txn, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	txn, ok := f.txns[txnID]
	if ok {
		delete(f.txns, txnID)
	}
	return txn, ok
}

// InfoResult is the wire-shaped response to Info.
type InfoResult struct {
	SizeBytes   int64
	UsedBytes   int64
	PinnedBytes int64
	NoShrink    bool
}

// Info reports the cache's size cap and current occupancy.
func (f *Facade) Info() InfoResult {
	info := f.cache.Info()
	return InfoResult{
		SizeBytes:   info.SizeBytes,
		UsedBytes:   info.UsedBytes,
		PinnedBytes: info.PinnedBytes,
		NoShrink:    info.NoShrink,
	}
}

// Shrink evicts cold entries until the cache is at or below target,
// volatile first. It returns the resulting used-byte total and Partial
// if target could not be reached.
func (f *Facade) Shrink(target int64) (used int64, code cachestatus.Code) {
	used, reached := f.cache.Shrink(target)
	if !reached {
		return used, cachestatus.Partial
	}
	return used, cachestatus.Ok
}
