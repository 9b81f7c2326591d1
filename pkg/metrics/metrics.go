package metrics

import (
	"sync/atomic"
	"time"
)

// Collector gathers per-node operation counters. All methods are safe for
// concurrent use and safe on a nil receiver, so components can be wired
// with or without metrics.
type Collector struct {
	// Entity operation counters (external requests)
	gets          uint64
	getsFailed    uint64
	puts          uint64
	putsFailed    uint64
	deletes       uint64
	deletesFailed uint64

	// Replication counters
	quorumFailures uint64
	replicaErrors  uint64

	// Engine counters
	flushes     uint64
	compactions uint64

	startTime time.Time
}

// NewCollector creates a new metrics collector
func NewCollector() *Collector {
	return &Collector{startTime: time.Now()}
}

// RecordGet records an external GET
func (c *Collector) RecordGet(success bool) {
	if c == nil {
		return
	}
	atomic.AddUint64(&c.gets, 1)
	if !success {
		atomic.AddUint64(&c.getsFailed, 1)
	}
}

// RecordPut records an external PUT
func (c *Collector) RecordPut(success bool) {
	if c == nil {
		return
	}
	atomic.AddUint64(&c.puts, 1)
	if !success {
		atomic.AddUint64(&c.putsFailed, 1)
	}
}

// RecordDelete records an external DELETE
func (c *Collector) RecordDelete(success bool) {
	if c == nil {
		return
	}
	atomic.AddUint64(&c.deletes, 1)
	if !success {
		atomic.AddUint64(&c.deletesFailed, 1)
	}
}

// RecordQuorumFailure records a request that missed its quorum
func (c *Collector) RecordQuorumFailure() {
	if c == nil {
		return
	}
	atomic.AddUint64(&c.quorumFailures, 1)
}

// RecordReplicaError records a failed replica attempt
func (c *Collector) RecordReplicaError() {
	if c == nil {
		return
	}
	atomic.AddUint64(&c.replicaErrors, 1)
}

// RecordFlush records a memtable flush
func (c *Collector) RecordFlush() {
	if c == nil {
		return
	}
	atomic.AddUint64(&c.flushes, 1)
}

// RecordCompaction records a completed compaction
func (c *Collector) RecordCompaction() {
	if c == nil {
		return
	}
	atomic.AddUint64(&c.compactions, 1)
}

// Snapshot is a point-in-time copy of all counters
type Snapshot struct {
	Gets           uint64
	GetsFailed     uint64
	Puts           uint64
	PutsFailed     uint64
	Deletes        uint64
	DeletesFailed  uint64
	QuorumFailures uint64
	ReplicaErrors  uint64
	Flushes        uint64
	Compactions    uint64
	Uptime         time.Duration
}

// Snapshot returns a consistent-enough copy of the counters
func (c *Collector) Snapshot() Snapshot {
	if c == nil {
		return Snapshot{}
	}
	return Snapshot{
		Gets:           atomic.LoadUint64(&c.gets),
		GetsFailed:     atomic.LoadUint64(&c.getsFailed),
		Puts:           atomic.LoadUint64(&c.puts),
		PutsFailed:     atomic.LoadUint64(&c.putsFailed),
		Deletes:        atomic.LoadUint64(&c.deletes),
		DeletesFailed:  atomic.LoadUint64(&c.deletesFailed),
		QuorumFailures: atomic.LoadUint64(&c.quorumFailures),
		ReplicaErrors:  atomic.LoadUint64(&c.replicaErrors),
		Flushes:        atomic.LoadUint64(&c.flushes),
		Compactions:    atomic.LoadUint64(&c.compactions),
		Uptime:         time.Since(c.startTime),
	}
}
