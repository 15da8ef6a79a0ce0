package coordinator

import (
	"context"
	"fmt"

	"golang.org/x/sync/errgroup"

	"github.com/dreamware/shardvault/internal/clustererr"
	"github.com/dreamware/shardvault/internal/cluster"
	"github.com/dreamware/shardvault/internal/rpc"
)

// Download reassembles owner/name by reading all of its shards in
// parallel, each from a currently live member of the shard's current
// replica set in the view, falling back to the next live replica on
// failure and returning clustererr.ErrDataUnavailable once every live
// replica of some shard has failed or none is live (spec §4.7).
func (c *Coordinator) Download(ctx context.Context, owner, name string) ([]byte, error) {
	if c.log == nil || c.log.View() == nil {
		return nil, fmt.Errorf("coordinator: no metadata log configured")
	}
	rec, ok := c.log.View().File(owner, name)
	if !ok {
		return nil, clustererr.ErrNotFound
	}

	active := c.activeNodeSet()
	view := c.log.View()

	parts := make([][]byte, len(rec.ShardIDs))
	g, gctx := errgroup.WithContext(ctx)
	for i, shardID := range rec.ShardIDs {
		i, shardID := i, shardID
		g.Go(func() error {
			data, err := c.fetchShard(gctx, shardID, view.ShardReplicas(shardID), active)
			if err != nil {
				return err
			}
			parts[i] = data
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	var out []byte
	for _, data := range parts {
		out = append(out, data...)
	}
	return out, nil
}

func (c *Coordinator) activeNodeSet() map[string]bool {
	active := make(map[string]bool)
	if c.membership == nil {
		return active
	}
	for _, n := range c.membership.ActiveNodes() {
		active[n.ID] = true
	}
	return active
}

// fetchShard tries every live replica of shardID in turn, returning
// the first successful read.
func (c *Coordinator) fetchShard(ctx context.Context, shardID int64, replicas []string, active map[string]bool) ([]byte, error) {
	var lastErr error
	tried := false
	for _, nodeID := range replicas {
		if !active[nodeID] {
			continue
		}
		tried = true
		addr, err := c.nodeAddr(nodeID)
		if err != nil {
			lastErr = err
			continue
		}
		var resp rpc.GetChunkResponse
		url := fmt.Sprintf("%s/shard/%d", addr, shardID)
		if err := cluster.GetJSON(ctx, url, &resp); err != nil {
			lastErr = err
			continue
		}
		return resp.Bytes, nil
	}
	if !tried {
		return nil, clustererr.ErrDataUnavailable
	}
	_ = lastErr
	return nil, clustererr.ErrDataUnavailable
}
