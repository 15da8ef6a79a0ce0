package coordinator

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/dreamware/shardvault/internal/clustererr"
	"github.com/dreamware/shardvault/internal/cluster"
	"github.com/dreamware/shardvault/internal/rpc"
)

// Delete removes owner/name: it best-effort sends DeleteChunk to every
// node in each shard's current replica set, whatever that node's
// membership status, then commits a FileDelete record to the metadata
// log unconditionally — the record is authoritative even if some
// replica's delete never lands. A chunk whose delete fails stays on its
// node's disk; nothing retries the delete later.
func (c *Coordinator) Delete(ctx context.Context, owner, name string) error {
	if c.log == nil || c.log.View() == nil {
		return fmt.Errorf("coordinator: no metadata log configured")
	}
	view := c.log.View()
	rec, ok := view.File(owner, name)
	if !ok {
		return clustererr.ErrNotFound
	}

	for shardID := range rec.Replicas {
		for _, nodeID := range view.ShardReplicas(shardID) {
			addr, err := c.nodeAddr(nodeID)
			if err != nil {
				continue
			}
			url := fmt.Sprintf("%s/shard/%d", addr, shardID)
			_ = cluster.DeleteJSON(ctx, url, nil)
		}
	}

	payload, err := json.Marshal(rpc.FileDeletePayload{Owner: owner, Name: name})
	if err != nil {
		return err
	}
	_, err = c.proposeWithRetry(ctx, rpc.EntryFileDelete, newIdempotencyKey(), payload)
	return err
}
