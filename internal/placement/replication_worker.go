package placement

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"
)

var errNoHealthySource = errors.New("placement: no healthy source replica available")

const (
	backoffBase = time.Second
	backoffCap  = 60 * time.Second
)

// ShardRepairCandidate describes a shard whose live replica count has
// fallen below R.
type ShardRepairCandidate struct {
	ShardID       int64
	ReplicaNodes  []string // current replica set, any subset may be dead
	LiveReplicas  []string // subset of ReplicaNodes known to be Active
	TargetCount   int      // R
	MinLive       int      // R_min
}

// RepairView supplies the worker with the shards needing repair and the
// placement candidates available this pass — an immutable snapshot, not
// a live handle back into the coordinator's state.
type RepairView interface {
	ShardsNeedingRepair() []ShardRepairCandidate
	PlacementCandidates() []Candidate
}

// Replicator performs the actual data movement and metadata append.
type Replicator interface {
	// ReplicateFrom instructs target to pull shardID from source.
	ReplicateFrom(ctx context.Context, shardID int64, source, target string) error
	// RecordReplicaAdded appends a ShardReplicaAdd metadata record. It
	// must be a no-op (success) if the replica is already recorded.
	RecordReplicaAdded(ctx context.Context, shardID int64, nodeID string) error
}

// Worker is the coordinator's single long-running replication worker
// (spec §4.4): each pass, for every under-replicated shard, it picks a
// healthy source and a fresh target, replicates, and records the
// addition, backing off exponentially per shard on failure.
type Worker struct {
	view       RepairView
	replicator Replicator
	logger     *zap.Logger
	interval   time.Duration

	mu      sync.Mutex
	backoff map[int64]time.Duration
	nextRun map[int64]time.Time

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewWorker constructs a replication worker polling view every interval.
func NewWorker(view RepairView, replicator Replicator, interval time.Duration, logger *zap.Logger) *Worker {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Worker{
		view:       view,
		replicator: replicator,
		logger:     logger,
		interval:   interval,
		backoff:    make(map[int64]time.Duration),
		nextRun:    make(map[int64]time.Time),
	}
}

// Start runs the poll loop until ctx is cancelled.
func (w *Worker) Start(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	w.cancel = cancel
	w.wg.Add(1)
	defer w.wg.Done()

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			w.RunOnce(ctx)
		case <-ctx.Done():
			return
		}
	}
}

// Stop cancels the poll loop and waits for it to exit.
func (w *Worker) Stop() {
	if w.cancel != nil {
		w.cancel()
	}
	w.wg.Wait()
}

// RunOnce performs a single repair pass. Idempotent: repeated calls
// against the same state are safe, and a ShardReplicaAdd for an
// existing replica is a no-op at the Replicator layer.
func (w *Worker) RunOnce(ctx context.Context) {
	candidates := w.view.PlacementCandidates()

	for _, shard := range w.view.ShardsNeedingRepair() {
		select {
		case <-ctx.Done():
			return
		default:
		}

		if !w.due(shard.ShardID) {
			continue
		}
		if err := w.repairOne(ctx, shard, candidates); err != nil {
			w.recordFailure(shard.ShardID)
			w.logger.Warn("shard repair failed",
				zap.Int64("shard_id", shard.ShardID), zap.Error(err))
			continue
		}
		w.recordSuccess(shard.ShardID)
	}
}

func (w *Worker) repairOne(ctx context.Context, shard ShardRepairCandidate, candidates []Candidate) error {
	if len(shard.LiveReplicas) == 0 {
		return errNoHealthySource
	}
	source := shard.LiveReplicas[0]

	exclude := make(map[string]bool, len(shard.ReplicaNodes))
	for _, id := range shard.ReplicaNodes {
		exclude[id] = true
	}
	targets, err := SelectReplicas(candidates, 1, 1, exclude)
	if err != nil {
		return err
	}
	target := targets[0]

	if err := w.replicator.ReplicateFrom(ctx, shard.ShardID, source, target); err != nil {
		return err
	}
	return w.replicator.RecordReplicaAdded(ctx, shard.ShardID, target)
}

func (w *Worker) due(shardID int64) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	next, ok := w.nextRun[shardID]
	return !ok || !time.Now().Before(next)
}

func (w *Worker) recordSuccess(shardID int64) {
	w.mu.Lock()
	defer w.mu.Unlock()
	delete(w.backoff, shardID)
	delete(w.nextRun, shardID)
}

func (w *Worker) recordFailure(shardID int64) {
	w.mu.Lock()
	defer w.mu.Unlock()
	cur := w.backoff[shardID]
	if cur == 0 {
		cur = backoffBase
	} else {
		cur *= 2
		if cur > backoffCap {
			cur = backoffCap
		}
	}
	w.backoff[shardID] = cur
	w.nextRun[shardID] = time.Now().Add(cur)
}
