package coordinator

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/dreamware/shardvault/internal/cluster"
	"github.com/dreamware/shardvault/internal/placement"
	"github.com/dreamware/shardvault/internal/rpc"
)

// repairView adapts the coordinator's membership+view state into the
// immutable snapshot placement.Worker consumes each pass, per the
// spec's note that cyclic references between the worker and the
// coordinator's live state should be arbitrated through one owning
// component handing out copies, not shared pointers.
type repairView struct {
	c *Coordinator
}

func (r *repairView) PlacementCandidates() []placement.Candidate {
	return r.c.placementCandidates()
}

func (r *repairView) ShardsNeedingRepair() []placement.ShardRepairCandidate {
	if r.c.log == nil || r.c.log.View() == nil || r.c.membership == nil {
		return nil
	}
	active := make(map[string]bool)
	for _, n := range r.c.membership.ActiveNodes() {
		active[n.ID] = true
	}

	target := r.c.cfg.ReplicationFactor
	minLive := r.c.cfg.MinReplicas
	if target <= 0 {
		target = 3
	}
	if minLive <= 0 {
		minLive = 2
	}

	var out []placement.ShardRepairCandidate
	for shardID, replicas := range r.c.log.View().AllShardReplicas() {
		var live []string
		for _, id := range replicas {
			if active[id] {
				live = append(live, id)
			}
		}
		if len(live) < target {
			out = append(out, placement.ShardRepairCandidate{
				ShardID:      shardID,
				ReplicaNodes: replicas,
				LiveReplicas: live,
				TargetCount:  target,
				MinLive:      minLive,
			})
		}
	}
	return out
}

// logReplicator implements placement.Replicator against the real
// node RPC surface (ReplicateFrom) and the metadata log (for recording
// the new replica membership once data movement succeeds).
type logReplicator struct {
	c *Coordinator
}

func (l *logReplicator) ReplicateFrom(ctx context.Context, shardID int64, source, target string) error {
	sourceAddr, err := l.c.nodeAddr(source)
	if err != nil {
		return err
	}
	targetAddr, err := l.c.nodeAddr(target)
	if err != nil {
		return err
	}

	req := rpc.ReplicateFromRequest{ShardID: shardID, SourceNode: sourceAddr}
	var resp rpc.ReplicateFromResponse
	return cluster.PostJSON(ctx, targetAddr+"/replicate", req, &resp)
}

func (l *logReplicator) RecordReplicaAdded(ctx context.Context, shardID int64, nodeID string) error {
	if l.c.log == nil {
		return fmt.Errorf("coordinator: no metadata log configured")
	}
	payload, err := json.Marshal(rpc.ShardReplicaAddPayload{ShardID: shardID, NodeID: nodeID})
	if err != nil {
		return err
	}
	_, err = l.c.log.Propose(ctx, rpc.EntryShardReplicaAdd, newIdempotencyKey(), payload)
	return err
}
