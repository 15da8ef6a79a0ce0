// Package placement implements load-based replica selection (spec
// §4.3) and the async replication worker that keeps each shard's live
// replica count at R (spec §4.4). Scoring and selection are pure
// functions over a caller-supplied candidate list; the worker owns no
// cluster state of its own — it reads cluster state only through the
// RepairView interface, per the spec's "single owning component" design
// note.
package placement

import (
	"sort"

	"github.com/dreamware/shardvault/internal/clustererr"
)

// Candidate is the load information placement scores a node on.
type Candidate struct {
	NodeID        string
	CPU           float64
	DiskUsed      int64
	DiskCapacity  int64
	ShardCount    int
	MaxShardCount int
}

// Score computes load_score = 0.5*cpu + 0.3*(disk_used/disk_capacity) +
// 0.2*(shard_count/max_shard_count). Lower is better. Degenerate
// denominators (zero capacity/max) are treated as fully loaded (1.0) on
// that term rather than dividing by zero.
func Score(c Candidate) float64 {
	diskFrac := 1.0
	if c.DiskCapacity > 0 {
		diskFrac = float64(c.DiskUsed) / float64(c.DiskCapacity)
	}
	shardFrac := 1.0
	if c.MaxShardCount > 0 {
		shardFrac = float64(c.ShardCount) / float64(c.MaxShardCount)
	}
	return 0.5*c.CPU + 0.3*diskFrac + 0.2*shardFrac
}

// SelectReplicas picks up to r candidates with the lowest load score,
// excluding any node id in exclude, breaking ties by node id for a
// deterministic result. It fails with clustererr.ErrInsufficientCapacity
// if fewer than rMin eligible candidates remain.
func SelectReplicas(candidates []Candidate, r, rMin int, exclude map[string]bool) ([]string, error) {
	eligible := make([]Candidate, 0, len(candidates))
	for _, c := range candidates {
		if exclude != nil && exclude[c.NodeID] {
			continue
		}
		eligible = append(eligible, c)
	}

	if len(eligible) < rMin {
		return nil, clustererr.ErrInsufficientCapacity
	}

	sort.Slice(eligible, func(i, j int) bool {
		si, sj := Score(eligible[i]), Score(eligible[j])
		if si != sj {
			return si < sj
		}
		return eligible[i].NodeID < eligible[j].NodeID
	})

	n := r
	if n > len(eligible) {
		n = len(eligible)
	}
	out := make([]string, n)
	for i := 0; i < n; i++ {
		out[i] = eligible[i].NodeID
	}
	return out, nil
}
