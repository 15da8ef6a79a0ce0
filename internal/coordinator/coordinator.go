// Package coordinator composes the cluster's control plane: membership
// tracking, load-based placement, the async replication worker, and
// the leader-elected metadata log, behind the upload/download/delete/
// search/list/status flows spec §4.7 names as the coordinator's
// external interface.
package coordinator

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/dreamware/shardvault/internal/clustererr"
	"github.com/dreamware/shardvault/internal/config"
	"github.com/dreamware/shardvault/internal/membership"
	"github.com/dreamware/shardvault/internal/metadatalog"
	"github.com/dreamware/shardvault/internal/metrics"
	"github.com/dreamware/shardvault/internal/placement"
)

// Coordinator is the cluster's single control-plane process. Exactly
// one coordinator instance is the metadata log's leader at a time;
// every coordinator instance runs membership and placement regardless,
// since those are local observations, not replicated state.
type Coordinator struct {
	cfg    config.Cluster
	logger *zap.Logger
	metric metrics.Sink

	membership *membership.Monitor
	log        *metadatalog.Log
	repl       *placement.Worker

	nextShardID atomic.Int64

	mu sync.Mutex
}

// Options bundles the constructed collaborators a Coordinator wires
// together; callers (cmd/coordinator) are responsible for actually
// building the membership Monitor and metadatalog Log since those in
// turn need network addresses and on-disk paths the coordinator
// package itself has no opinion about.
type Options struct {
	Config     config.Cluster
	Membership *membership.Monitor
	Log        *metadatalog.Log
	Logger     *zap.Logger
	Metrics    metrics.Sink
}

// New constructs a Coordinator and its replication worker, wired
// against the given membership monitor and metadata log.
func New(opts Options) *Coordinator {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	metric := opts.Metrics
	if metric == nil {
		metric = metrics.NewSink("coordinator", nil)
	}

	c := &Coordinator{
		cfg:        opts.Config,
		logger:     logger,
		metric:     metric,
		membership: opts.Membership,
		log:        opts.Log,
	}

	view := &repairView{c: c}
	replicator := &logReplicator{c: c}
	interval := opts.Config.HeartbeatInterval
	if interval <= 0 {
		interval = time.Second
	}
	c.repl = placement.NewWorker(view, replicator, interval, logger)
	return c
}

// Start runs the coordinator's background loops: membership polling,
// the metadata log's election/replication state machine, and the
// replication repair worker.
func (c *Coordinator) Start(ctx context.Context) {
	if c.membership != nil {
		go c.membership.Start(ctx)
	}
	if c.log != nil {
		c.log.Start(ctx)
	}
	go c.repl.Start(ctx)
}

// Stop halts every background loop, in the reverse order Start used.
func (c *Coordinator) Stop() {
	c.repl.Stop()
	if c.log != nil {
		c.log.Stop()
	}
	if c.membership != nil {
		c.membership.Stop()
	}
}

// placementCandidates converts the membership monitor's active node
// snapshot into placement.Candidate values.
func (c *Coordinator) placementCandidates() []placement.Candidate {
	if c.membership == nil {
		return nil
	}
	nodes := c.membership.ActiveNodes()
	out := make([]placement.Candidate, 0, len(nodes))
	for _, n := range nodes {
		out = append(out, placement.Candidate{
			NodeID:        n.ID,
			CPU:           n.Load.CPU,
			DiskUsed:      n.Load.DiskUsed,
			DiskCapacity:  n.Load.DiskCapacity,
			ShardCount:    n.Load.ShardCount,
			MaxShardCount: c.cfg.WorkerPoolSize, // placeholder ceiling until per-node reports carry their own max
		})
	}
	return out
}

// nodeAddr resolves a node id to its base address via the membership
// snapshot, for building request URLs.
func (c *Coordinator) nodeAddr(nodeID string) (string, error) {
	if c.membership == nil {
		return "", clustererr.ErrNotFound
	}
	for _, n := range c.membership.Snapshot() {
		if n.ID == nodeID {
			return n.Addr, nil
		}
	}
	return "", clustererr.ErrNotFound
}

// assignShardID hands out the next coordinator-assigned, monotone
// shard id for a newly uploaded chunk (spec §3).
func (c *Coordinator) assignShardID() int64 {
	return c.nextShardID.Add(1)
}

// newIdempotencyKey mints a fresh key for one logical upload/delete
// operation. A caller that retries after clustererr.ErrLeaderChanged
// must reuse the same key so the log's apply loop dedups the replay.
func newIdempotencyKey() string {
	return uuid.NewString()
}
