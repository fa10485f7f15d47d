// Package cachestats holds the running activity counters a cachemgr.Cache
// keeps about itself. The teacher's own progress-callback idiom has no
// equivalent for them directly, but they follow the same "small struct of
// atomically-updated counters" shape the corpus reaches for when a caller
// needs cheap, read-mostly diagnostics (see dustin/go-humanize's use in
// Snapshot.String for a human-readable eviction count).
package cachestats

import (
	"fmt"
	"sync/atomic"

	"github.com/dustin/go-humanize"
)

// Counters tracks cumulative cache activity since process start. Every
// field is updated with atomic operations so callers never need their own
// lock just to bump a counter from a hot path.
type Counters struct {
	opens          atomic.Int64
	closes         atomic.Int64
	commitsOK      atomic.Int64
	commitsNoSpace atomic.Int64
	evictions      atomic.Int64
}

// IncOpens records a successful Open.
func (c *Counters) IncOpens() { c.opens.Add(1) }

// IncCloses records a successful Close.
func (c *Counters) IncCloses() { c.closes.Add(1) }

// IncCommitsOK records a CommitTxn that succeeded.
func (c *Counters) IncCommitsOK() { c.commitsOK.Add(1) }

// IncCommitsNoSpace records a CommitTxn that failed with NoSpace.
func (c *Counters) IncCommitsNoSpace() { c.commitsNoSpace.Add(1) }

// AddEvictions records n entries evicted by a shrink or commit cascade.
func (c *Counters) AddEvictions(n int64) { c.evictions.Add(n) }

// Snapshot is a point-in-time read of Counters, safe to pass by value.
type Snapshot struct {
	Opens          int64
	Closes         int64
	CommitsOK      int64
	CommitsNoSpace int64
	Evictions      int64
}

// Snapshot reads every counter's current value.
func (c *Counters) Snapshot() Snapshot {
	return Snapshot{
		Opens:          c.opens.Load(),
		Closes:         c.closes.Load(),
		CommitsOK:      c.commitsOK.Load(),
		CommitsNoSpace: c.commitsNoSpace.Load(),
		Evictions:      c.evictions.Load(),
	}
}

// String renders a snapshot for log lines, using humanize for the
// eviction count so a long-running process's diagnostics stay readable
// (e.g. "evictions=1,234,567" rather than a bare seven-digit integer).
func (s Snapshot) String() string {
	return fmt.Sprintf(
		"opens=%d closes=%d commits_ok=%d commits_no_space=%d evictions=%s",
		s.Opens, s.Closes, s.CommitsOK, s.CommitsNoSpace, humanize.Comma(s.Evictions),
	)
}
