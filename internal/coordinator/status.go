package coordinator

import (
	"context"

	"github.com/dreamware/shardvault/internal/cluster"
)

// StatusView is the coordinator's external status document (spec
// §4.10), piggybacking cache-hit-rate onto the load vectors membership
// already collects each poll instead of running a second sampling
// pass.
type StatusView struct {
	Nodes        []cluster.NodeInfo
	CacheHitRate float64
	LeaderID     string
	LeaderTerm   uint64
}

// Status materializes the spec §4.10 status view: node snapshot,
// aggregate cache hit rate, and current leader/term.
func (c *Coordinator) Status(ctx context.Context) (StatusView, error) {
	var nodes []cluster.NodeInfo
	if c.membership != nil {
		nodes = c.membership.Snapshot()
	}

	var sum float64
	for _, n := range nodes {
		sum += n.Load.CacheHitRate
	}
	avgHitRate := 0.0
	if len(nodes) > 0 {
		avgHitRate = sum / float64(len(nodes))
	}

	var leaderID string
	var term uint64
	if c.log != nil {
		leaderID, term = c.log.LeaderID()
	}

	return StatusView{
		Nodes:        nodes,
		CacheHitRate: avgHitRate,
		LeaderID:     leaderID,
		LeaderTerm:   term,
	}, nil
}
