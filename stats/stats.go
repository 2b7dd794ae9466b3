// Package stats implements the daemon's Statistics accumulator (§4.2,
// C4): a per-connection counter set that is folded into a single
// process-wide counter set, under a mutex, when each connection closes.
//
// Grounded on original_source/server/loop.c's J_MESSAGE_STATISTICS case
// and the jd_statistics/jd_statistics_mutex global it reads, plus
// original_source/lib/core (JStatistics's eight named counters).
package stats

import "sync/atomic"

// Counters is a lock-free set of the eight counters §4.2 names. A
// connection's handler owns one Counters value outright (no sharing, no
// atomics needed for correctness, but atomic.Int64 is used anyway so the
// same type doubles as the daemon-wide, concurrently-read aggregate).
type Counters struct {
	FilesCreated   atomic.Int64
	FilesDeleted   atomic.Int64
	FilesStated    atomic.Int64
	Sync           atomic.Int64
	BytesRead      atomic.Int64
	BytesWritten   atomic.Int64
	BytesReceived  atomic.Int64
	BytesSent      atomic.Int64
}

// Snapshot is a point-in-time copy of Counters, ordered exactly as
// J_MESSAGE_STATISTICS's reply (§8 scenario list / original loop.c).
type Snapshot struct {
	FilesCreated  uint64
	FilesDeleted  uint64
	FilesStated   uint64
	Sync          uint64
	BytesRead     uint64
	BytesWritten  uint64
	BytesReceived uint64
	BytesSent     uint64
}

// Snapshot reads every counter into a Snapshot.
func (c *Counters) Snapshot() Snapshot {
	return Snapshot{
		FilesCreated:  uint64(c.FilesCreated.Load()),
		FilesDeleted:  uint64(c.FilesDeleted.Load()),
		FilesStated:   uint64(c.FilesStated.Load()),
		Sync:          uint64(c.Sync.Load()),
		BytesRead:     uint64(c.BytesRead.Load()),
		BytesWritten:  uint64(c.BytesWritten.Load()),
		BytesReceived: uint64(c.BytesReceived.Load()),
		BytesSent:     uint64(c.BytesSent.Load()),
	}
}

// AddTo folds c's counters into dst, the way a connection handler folds
// its per-connection Counters into the daemon-wide total at close
// (jd_statistics under jd_statistics_mutex). Callers are responsible for
// serialising concurrent calls to AddTo on the same dst (package
// daemoncontext's FoldStatistics does this with a sync.Mutex around the
// daemon-wide value).
func (c *Counters) AddTo(dst *Counters) {
	dst.FilesCreated.Add(c.FilesCreated.Load())
	dst.FilesDeleted.Add(c.FilesDeleted.Load())
	dst.FilesStated.Add(c.FilesStated.Load())
	dst.Sync.Add(c.Sync.Load())
	dst.BytesRead.Add(c.BytesRead.Load())
	dst.BytesWritten.Add(c.BytesWritten.Load())
	dst.BytesReceived.Add(c.BytesReceived.Load())
	dst.BytesSent.Add(c.BytesSent.Load())
}
