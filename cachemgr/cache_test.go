package cachemgr

import (
	"bytes"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ramcached/ramcache/cachestatus"
	"github.com/ramcached/ramcache/kvstore"
	"github.com/ramcached/ramcache/objectid"
)

func objID(t *testing.T, n byte) objectid.ID {
	t.Helper()
	raw := make([]byte, 32)
	raw[0] = n
	return objectid.FromBytes("sha256", raw)
}

func commitBytes(t *testing.T, c *Cache, id objectid.ID, data []byte, ot kvstore.ObjectType) {
	t.Helper()
	txn := c.StartTxn(id, int64(len(data)))
	txn.CtrlTxn("", ot)
	n, err := txn.Write(data)
	require.NoError(t, err)
	require.Equal(t, len(data), n)
	require.NoError(t, c.CommitTxn(txn))
}

// Scenario 1: promote on open.
func TestScenarioPromoteOnOpen(t *testing.T) {
	c := New(1000)
	a := objID(t, 1)
	payload := bytes.Repeat([]byte{0x41}, 500)

	commitBytes(t, c, a, payload, kvstore.Regular)
	assert.EqualValues(t, 500, c.regular.UsedBytes())
	assert.EqualValues(t, 0, c.pinned.UsedBytes())

	fd, err := c.Open(a)
	require.NoError(t, err)
	assert.EqualValues(t, 0, c.regular.UsedBytes())
	assert.EqualValues(t, 500, c.pinned.UsedBytes())
	rc, ok := c.pinned.GetRefcount(a)
	require.True(t, ok)
	assert.EqualValues(t, 1, rc)

	dst := make([]byte, 500)
	n, err := c.Pread(fd, dst, 0)
	require.NoError(t, err)
	assert.Equal(t, payload, dst[:n])

	require.NoError(t, c.Close(fd))
	assert.EqualValues(t, 500, c.regular.UsedBytes())
	assert.EqualValues(t, 0, c.pinned.UsedBytes())
}

// Scenario 2: eviction cascade drops volatile before regular.
func TestScenarioEvictionCascade(t *testing.T) {
	c := New(1000)
	r1 := objID(t, 1)
	v1 := objID(t, 2)
	v2 := objID(t, 3)
	r2 := objID(t, 4)
	v3 := objID(t, 5)

	commitBytes(t, c, r1, make([]byte, 400), kvstore.Regular)
	commitBytes(t, c, v1, make([]byte, 300), kvstore.Volatile)
	commitBytes(t, c, v2, make([]byte, 200), kvstore.Volatile)
	commitBytes(t, c, r2, make([]byte, 50), kvstore.Regular)

	commitBytes(t, c, v3, make([]byte, 200), kvstore.Volatile)

	_, ok := c.volatile.Lookup(v1)
	assert.False(t, ok, "v1 (oldest volatile) was evicted")
	_, ok = c.volatile.Lookup(v2)
	assert.True(t, ok)
	_, ok = c.regular.Lookup(r1)
	assert.True(t, ok)
	_, ok = c.regular.Lookup(r2)
	assert.True(t, ok)
	_, ok = c.volatile.Lookup(v3)
	assert.True(t, ok)

	total := c.pinned.UsedBytes() + c.regular.UsedBytes() + c.volatile.UsedBytes()
	assert.EqualValues(t, 850, total)
}

// Scenario 3: a pinned entry survives a shrink attempt and blocks a
// commit that would otherwise require evicting it.
func TestScenarioPinSurvivesShrink(t *testing.T) {
	c := New(1000)
	r1 := objID(t, 1)

	commitBytes(t, c, r1, make([]byte, 400), kvstore.Regular)
	fd, err := c.Open(r1)
	require.NoError(t, err)
	defer c.Close(fd)

	r2 := objID(t, 2)
	txn := c.StartTxn(r2, 700)
	txn.CtrlTxn("", kvstore.Regular)
	_, err = txn.Write(make([]byte, 700))
	require.NoError(t, err)

	err = c.CommitTxn(txn)
	assert.ErrorIs(t, err, cachestatus.ErrNoSpace)

	_, ok := c.pinned.Lookup(r1)
	assert.True(t, ok, "pinned entry was not evicted")
}

// Scenario 4: chrefcnt underflow protection.
func TestScenarioChrefcntUnderflow(t *testing.T) {
	c := New(1000)
	x := objID(t, 1)

	err := c.Chrefcnt(x, 1)
	assert.ErrorIs(t, err, cachestatus.ErrNoEntry)

	commitBytes(t, c, x, make([]byte, 10), kvstore.Regular)

	err = c.Chrefcnt(x, -1)
	assert.ErrorIs(t, err, cachestatus.ErrBadCount)

	rc, ok := c.regular.GetRefcount(x)
	require.True(t, ok)
	assert.EqualValues(t, 0, rc, "refcount unchanged after rejected decrement")
}

// Scenario 5: reads past end of object.
func TestScenarioReadPastEnd(t *testing.T) {
	c := New(1000)
	y := objID(t, 1)
	commitBytes(t, c, y, make([]byte, 10), kvstore.Regular)

	dst := make([]byte, 100)
	n, err := c.PreadByID(y, dst, 10)
	require.NoError(t, err)
	assert.Equal(t, 0, n)

	_, err = c.PreadByID(y, dst, 11)
	assert.ErrorIs(t, err, cachestatus.ErrOutOfBounds)
}

func TestOpenOpenCloseCloseIsIdempotentToOpenClose(t *testing.T) {
	c := New(1000)
	x := objID(t, 1)
	commitBytes(t, c, x, make([]byte, 10), kvstore.Regular)

	fd1, err := c.Open(x)
	require.NoError(t, err)
	fd2, err := c.Open(x)
	require.NoError(t, err)

	rc, _ := c.pinned.GetRefcount(x)
	assert.EqualValues(t, 2, rc)

	require.NoError(t, c.Close(fd1))
	require.NoError(t, c.Close(fd2))

	_, ok := c.pinned.Lookup(x)
	assert.False(t, ok)
	_, ok = c.regular.Lookup(x)
	assert.True(t, ok)
}

func TestHandleTableTruncatesTrailingFreeRun(t *testing.T) {
	c := New(1000)
	a := objID(t, 1)
	b := objID(t, 2)
	commitBytes(t, c, a, []byte("a"), kvstore.Regular)
	commitBytes(t, c, b, []byte("b"), kvstore.Regular)

	fd1, err := c.Open(a)
	require.NoError(t, err)
	fd2, err := c.Open(b)
	require.NoError(t, err)

	require.NoError(t, c.Close(fd2))
	assert.Equal(t, 1, c.handles.len(), "trailing free slot truncated")

	require.NoError(t, c.Close(fd1))
	assert.Equal(t, 0, c.handles.len())
}

func TestTooManyHandles(t *testing.T) {
	c := New(1000, WithMaxHandles(1))
	a := objID(t, 1)
	commitBytes(t, c, a, []byte("a"), kvstore.Regular)

	fd, err := c.Open(a)
	require.NoError(t, err)

	_, err = c.Dup(fd)
	assert.ErrorIs(t, err, cachestatus.ErrTooManyHandles)
}

func TestWriteTxnUnknownSizeGrows(t *testing.T) {
	c := New(1 << 20)
	a := objID(t, 1)
	txn := c.StartTxn(a, -1)
	txn.CtrlTxn("", kvstore.Regular)

	big := bytes.Repeat([]byte{0x42}, DefaultTxnPage*3)
	n, err := txn.Write(big)
	require.NoError(t, err)
	assert.Equal(t, len(big), n)

	require.NoError(t, c.CommitTxn(txn))
	info, err := c.ObjInfo(a)
	require.NoError(t, err)
	assert.EqualValues(t, len(big), info.Size)
}

func TestWriteTxnKnownSizeFailsOnOverflow(t *testing.T) {
	c := New(1000)
	a := objID(t, 1)
	txn := c.StartTxn(a, 10)
	_, err := txn.Write(make([]byte, 20))
	assert.ErrorIs(t, err, cachestatus.ErrNoSpace)
}

func TestAbortTxnNeverFails(t *testing.T) {
	c := New(1000)
	a := objID(t, 1)
	txn := c.StartTxn(a, 10)
	_, _ = txn.Write([]byte("hi"))
	txn.AbortTxn()
	txn.AbortTxn()
}

func TestCommitDuplicateIsAlreadyExists(t *testing.T) {
	c := New(1000)
	a := objID(t, 1)
	commitBytes(t, c, a, []byte("x"), kvstore.Regular)

	txn := c.StartTxn(a, 1)
	_, err := txn.Write([]byte("y"))
	require.NoError(t, err)
	err = c.CommitTxn(txn)
	assert.ErrorIs(t, err, cachestatus.ErrAlreadyExists)
}

func TestCommitDuplicateAtCapacityDoesNotEvict(t *testing.T) {
	c := New(100)
	a := objID(t, 1)
	b := objID(t, 2)
	commitBytes(t, c, a, bytes.Repeat([]byte{0x41}, 50), kvstore.Regular)
	commitBytes(t, c, b, bytes.Repeat([]byte{0x42}, 50), kvstore.Regular)
	require.EqualValues(t, 2, c.regular.Len())

	txn := c.StartTxn(a, 50)
	_, err := txn.Write(bytes.Repeat([]byte{0x43}, 50))
	require.NoError(t, err)
	err = c.CommitTxn(txn)
	assert.ErrorIs(t, err, cachestatus.ErrAlreadyExists)

	assert.EqualValues(t, 2, c.regular.Len(), "duplicate-id commit against a full cache must not evict unrelated entries")
	buf, ok := c.regular.Lookup(a)
	require.True(t, ok)
	assert.Equal(t, bytes.Repeat([]byte{0x41}, 50), buf.Data, "original bytes at a must survive the rejected duplicate commit")
}

func TestOpenFromTxn(t *testing.T) {
	c := New(1000)
	a := objID(t, 1)
	txn := c.StartTxn(a, 5)
	txn.CtrlTxn("", kvstore.Regular)
	_, err := txn.Write([]byte("hello"))
	require.NoError(t, err)

	fd, err := c.OpenFromTxn(txn)
	require.NoError(t, err)

	dst := make([]byte, 5)
	n, err := c.Pread(fd, dst, 0)
	require.NoError(t, err)
	assert.Equal(t, "hello", string(dst[:n]))
}

func TestShrinkDropsVolatileBeforeRegular(t *testing.T) {
	c := New(1000)
	r := objID(t, 1)
	v := objID(t, 2)
	commitBytes(t, c, r, make([]byte, 300), kvstore.Regular)
	commitBytes(t, c, v, make([]byte, 300), kvstore.Volatile)

	used, reached := c.Shrink(300)
	assert.True(t, reached)
	assert.EqualValues(t, 300, used)

	_, ok := c.volatile.Lookup(v)
	assert.False(t, ok, "volatile evicted first")
	_, ok = c.regular.Lookup(r)
	assert.True(t, ok, "regular left untouched once target reached")
}

func TestShrinkNeverTouchesPinned(t *testing.T) {
	c := New(1000)
	a := objID(t, 1)
	commitBytes(t, c, a, make([]byte, 500), kvstore.Regular)
	fd, err := c.Open(a)
	require.NoError(t, err)
	defer c.Close(fd)

	used, reached := c.Shrink(0)
	assert.False(t, reached)
	assert.EqualValues(t, 500, used)
}

func TestDedupStartTxnCollapsesConcurrentCallsForSameID(t *testing.T) {
	c := New(1 << 30)
	id := objID(t, 1)

	const n = 64
	start := make(chan struct{})
	results := make([]*Txn, n)
	var wg sync.WaitGroup
	wg.Add(n)
	for i := 0; i < n; i++ {
		go func(i int) {
			defer wg.Done()
			<-start
			results[i] = c.DedupStartTxn(id, 1<<20)
		}(i)
	}
	close(start)
	wg.Wait()

	seen := map[*Txn]bool{}
	for _, r := range results {
		require.NotNil(t, r)
		seen[r] = true
	}
	assert.Less(t, len(seen), n, "concurrent StartTxn calls for the same id should share at least one staging buffer")
}

func TestDedupStartTxnDoesNotCollapseSequentialCalls(t *testing.T) {
	c := New(1 << 30)
	id := objID(t, 1)

	first := c.DedupStartTxn(id, 10)
	second := c.DedupStartTxn(id, 10)
	assert.NotSame(t, first, second, "dedup only shares a Txn across truly concurrent callers")
}

func TestStatsTrackOpensClosesCommitsAndEvictions(t *testing.T) {
	c := New(1000)
	a := objID(t, 1)
	b := objID(t, 2)
	commitBytes(t, c, a, make([]byte, 400), kvstore.Regular)
	commitBytes(t, c, b, make([]byte, 700), kvstore.Volatile)

	snap := c.Stats().Snapshot()
	assert.EqualValues(t, 2, snap.CommitsOK)
	assert.EqualValues(t, 1, snap.Evictions, "committing b evicted a to make room")

	fd, err := c.Open(b)
	require.NoError(t, err)
	require.NoError(t, c.Close(fd))

	snap = c.Stats().Snapshot()
	assert.EqualValues(t, 1, snap.Opens)
	assert.EqualValues(t, 1, snap.Closes)

	r2 := objID(t, 3)
	txn := c.StartTxn(r2, 2000)
	txn.CtrlTxn("", kvstore.Regular)
	_, err = txn.Write(make([]byte, 2000))
	require.NoError(t, err)
	err = c.CommitTxn(txn)
	assert.ErrorIs(t, err, cachestatus.ErrNoSpace)

	snap = c.Stats().Snapshot()
	assert.EqualValues(t, 1, snap.CommitsNoSpace)
}

func TestListingSnapshotIndependentOfLaterCommits(t *testing.T) {
	c := New(1000)
	a := objID(t, 1)
	b := objID(t, 2)
	cc := objID(t, 3)
	commitBytes(t, c, a, []byte("a"), kvstore.Regular)
	commitBytes(t, c, b, []byte("b"), kvstore.Volatile)
	commitBytes(t, c, cc, []byte("c"), kvstore.Regular)

	snapshot := c.Listing()

	d := objID(t, 4)
	commitBytes(t, c, d, []byte("d"), kvstore.Regular)

	ids := map[objectid.ID]bool{}
	for _, e := range snapshot {
		ids[e.ID] = true
	}
	assert.True(t, ids[a])
	assert.True(t, ids[b])
	assert.True(t, ids[cc])
	assert.False(t, ids[d], "snapshot predates d's commit")
}
