package cache

import "sync/atomic"

// EventKind tells acquisitions from releases in a trace.
type EventKind uint8

const (
	Acquire EventKind = iota
	Release
)

func (kind EventKind) String() string {
	if kind == Acquire {
		return "acquire"
	}
	return "release"
}

// Event is one lock transition observed through Options.Trace.
type Event struct {
	Tx    uint64
	Block BlockID
	Mode  Mode
	Kind  EventKind
	// Held is the number of locks the transaction holds after the event.
	Held int
}

// Stats is a snapshot of the cache counters.
type Stats struct {
	Transactions int64 // open transactions
	Locks        int64 // lock handles not yet released
	Commits      int64
	Aborts       int64
	Reads        int64 // device reads
	Writes       int64 // device writes
	Hits         int64 // clean cache hits
}

type stats struct {
	transactions atomic.Int64
	locks        atomic.Int64
	commits      atomic.Int64
	aborts       atomic.Int64
	reads        atomic.Int64
	writes       atomic.Int64
	hits         atomic.Int64
}

// Stats returns the current counters. It may be called from any goroutine.
func (c *Cache) Stats() Stats {
	return Stats{
		Transactions: c.stats.transactions.Load(),
		Locks:        c.stats.locks.Load(),
		Commits:      c.stats.commits.Load(),
		Aborts:       c.stats.aborts.Load(),
		Reads:        c.stats.reads.Load(),
		Writes:       c.stats.writes.Load(),
		Hits:         c.stats.hits.Load(),
	}
}
