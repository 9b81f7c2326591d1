package cluster

import (
	"context"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/mnohosten/shardkv/pkg/lsm"
	"github.com/mnohosten/shardkv/pkg/metrics"
)

// maxDeadline caps the per-request fan-out deadline regardless of
// configuration.
const maxDeadline = time.Minute

// Coordinator fans a request out to the key's replica set and enforces
// ack/from quorum semantics. The local replica is served straight from the
// engine; remote replicas get internal HTTP hops. Conflicting replica
// answers are merged last-write-wins with tombstones winning timestamp
// ties.
type Coordinator struct {
	topology *Topology
	engine   *lsm.Engine
	peers    *peerClient
	log      *logrus.Logger
	stats    *metrics.Collector
	deadline time.Duration

	// Write timestamps from one coordinator never repeat or go backwards,
	// so sequential same-millisecond writes through this node stay ordered.
	tsMu   sync.Mutex
	lastTS uint64
}

// Options configures a coordinator
type Options struct {
	// RequestTimeout is the client-facing request budget; the fan-out
	// deadline is half of it, capped at one minute.
	RequestTimeout time.Duration
	Logger         *logrus.Logger
	Metrics        *metrics.Collector
}

// NewCoordinator creates a coordinator for the local engine within topology
func NewCoordinator(topology *Topology, engine *lsm.Engine, opts Options) *Coordinator {
	deadline := opts.RequestTimeout / 2
	if deadline <= 0 || deadline > maxDeadline {
		deadline = maxDeadline
	}
	logger := opts.Logger
	if logger == nil {
		logger = logrus.StandardLogger()
	}

	return &Coordinator{
		topology: topology,
		engine:   engine,
		peers:    newPeerClient(),
		log:      logger,
		stats:    opts.Metrics,
		deadline: deadline,
	}
}

// ClusterSize returns the number of nodes in the topology
func (c *Coordinator) ClusterSize() int { return c.topology.Size() }

// nextTimestamp hands out the write timestamp for one external request:
// wall-clock milliseconds, bumped past the previous one if the clock has
// not advanced.
func (c *Coordinator) nextTimestamp() uint64 {
	c.tsMu.Lock()
	defer c.tsMu.Unlock()

	ts := uint64(time.Now().UnixMilli())
	if ts <= c.lastTS {
		ts = c.lastTS + 1
	}
	c.lastTS = ts
	return ts
}

// Get resolves a quorum read: it gathers ack replica states for key and
// returns the newest one. A Found=false or tombstone result means the key
// has no live value at quorum.
func (c *Coordinator) Get(ctx context.Context, key []byte, q Quorum) (ReplicaState, error) {
	ctx, cancel := context.WithTimeout(ctx, c.deadline)
	defer cancel()

	type result struct {
		state ReplicaState
		err   error
	}

	replicas := c.topology.ReplicasFor(key, q.From)
	results := make(chan result, len(replicas))
	for _, node := range replicas {
		go func(node string) {
			if c.topology.IsSelf(node) {
				rec, err := c.engine.Get(key)
				if err != nil {
					results <- result{err: err}
					return
				}
				results <- result{state: stateFromRecord(rec)}
				return
			}
			state, err := c.peers.get(ctx, node, key)
			results <- result{state: state, err: err}
		}(node)
	}

	var (
		winner         ReplicaState
		acks, failures int
	)
	maxFailures := q.From - q.Ack + 1
	for acks < q.Ack && failures < maxFailures {
		select {
		case <-ctx.Done():
			c.stats.RecordQuorumFailure()
			return ReplicaState{}, ErrQuorumUnmet
		case r := <-results:
			if r.err != nil {
				failures++
				c.stats.RecordReplicaError()
				c.log.WithError(r.err).Warn("replica read failed")
				continue
			}
			acks++
			if r.state.Newer(winner) {
				winner = r.state
			}
		}
	}
	if acks < q.Ack {
		c.stats.RecordQuorumFailure()
		return ReplicaState{}, ErrQuorumUnmet
	}
	return winner, nil
}

// Put replicates value under key. The timestamp is assigned here, exactly
// once, and travels with every internal hop so replicas converge.
func (c *Coordinator) Put(ctx context.Context, key, value []byte, q Quorum) error {
	ts := c.nextTimestamp()
	return c.write(ctx, key, q, func(ctx context.Context, node string) error {
		if c.topology.IsSelf(node) {
			return c.engine.Upsert(lsm.NewRecord(key, value, ts))
		}
		return c.peers.put(ctx, node, key, value, ts)
	})
}

// Delete replicates a tombstone under key at a coordinator-assigned
// timestamp.
func (c *Coordinator) Delete(ctx context.Context, key []byte, q Quorum) error {
	ts := c.nextTimestamp()
	return c.write(ctx, key, q, func(ctx context.Context, node string) error {
		if c.topology.IsSelf(node) {
			return c.engine.Upsert(lsm.NewTombstone(key, ts))
		}
		return c.peers.delete(ctx, node, key, ts)
	})
}

// write fans op out to the replica set and waits for the quorum to settle:
// ack successes, or from-ack+1 failures, whichever comes first. Remaining
// attempts are cancelled and their results ignored.
func (c *Coordinator) write(ctx context.Context, key []byte, q Quorum, op func(context.Context, string) error) error {
	ctx, cancel := context.WithTimeout(ctx, c.deadline)
	defer cancel()

	replicas := c.topology.ReplicasFor(key, q.From)
	errs := make(chan error, len(replicas))
	for _, node := range replicas {
		go func(node string) {
			errs <- op(ctx, node)
		}(node)
	}

	acks, failures := 0, 0
	maxFailures := q.From - q.Ack + 1
	for acks < q.Ack && failures < maxFailures {
		select {
		case <-ctx.Done():
			c.stats.RecordQuorumFailure()
			return ErrQuorumUnmet
		case err := <-errs:
			if err != nil {
				failures++
				c.stats.RecordReplicaError()
				c.log.WithError(err).Warn("replica write failed")
				continue
			}
			acks++
		}
	}
	if acks < q.Ack {
		c.stats.RecordQuorumFailure()
		return ErrQuorumUnmet
	}
	return nil
}

// stateFromRecord converts a local engine read into a replica state
func stateFromRecord(rec *lsm.Record) ReplicaState {
	if rec == nil {
		return ReplicaState{}
	}
	return ReplicaState{
		Found:     true,
		Tombstone: rec.Tombstone,
		Timestamp: rec.Timestamp,
		Value:     rec.Value,
	}
}
