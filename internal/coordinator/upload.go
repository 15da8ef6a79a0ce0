package coordinator

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/dreamware/shardvault/internal/cluster"
	"github.com/dreamware/shardvault/internal/clustererr"
	"github.com/dreamware/shardvault/internal/digest"
	"github.com/dreamware/shardvault/internal/placement"
	"github.com/dreamware/shardvault/internal/rpc"
)

// Upload splits data into chunks of at most c.cfg.UploadShardSize
// bytes, places each chunk onto a fresh replica set, writes it to
// every replica in parallel, and commits the resulting file record to
// the metadata log before acknowledging the caller (spec §4.7). On any
// failure it best-effort cleans up whatever chunks it already wrote
// and returns the error without committing a partial file.
func (c *Coordinator) Upload(ctx context.Context, owner, name string, data []byte) (UploadResult, error) {
	if len(data) == 0 {
		return UploadResult{}, fmt.Errorf("coordinator: empty file rejected: %w", clustererr.ErrInvalidRequest)
	}

	shardSize := c.cfg.UploadShardSize
	if shardSize <= 0 {
		shardSize = 50 << 20
	}

	chunks := splitChunks(data, shardSize)
	shardIDs := make([]int64, len(chunks))
	replicas := make(map[int64][]string, len(chunks))

	for i := range chunks {
		shardIDs[i] = c.assignShardID()
	}

	if err := c.writeAllChunks(ctx, shardIDs, chunks, replicas); err != nil {
		c.cleanupChunks(shardIDs, replicas)
		return UploadResult{}, fmt.Errorf("coordinator: upload failed: %w", err)
	}

	payload, err := json.Marshal(rpc.FilePutPayload{
		Owner: owner, Name: name, SizeBytes: int64(len(data)),
		ChunkSize: shardSize, ShardIDs: shardIDs, Replicas: replicas,
		CreatedAt: time.Now(),
	})
	if err != nil {
		c.cleanupChunks(shardIDs, replicas)
		return UploadResult{}, err
	}

	key := newIdempotencyKey()
	if _, err := c.proposeWithRetry(ctx, rpc.EntryFilePut, key, payload); err != nil {
		c.cleanupChunks(shardIDs, replicas)
		return UploadResult{}, fmt.Errorf("coordinator: committing file record: %w", err)
	}

	return UploadResult{Owner: owner, Name: name, SizeBytes: int64(len(data)), ShardIDs: shardIDs}, nil
}

// UploadResult is what Upload hands back to its caller on success.
type UploadResult struct {
	Owner     string
	Name      string
	SizeBytes int64
	ShardIDs  []int64
}

func splitChunks(data []byte, shardSize int64) [][]byte {
	var chunks [][]byte
	for start := 0; start < len(data); start += int(shardSize) {
		end := start + int(shardSize)
		if end > len(data) {
			end = len(data)
		}
		chunks = append(chunks, data[start:end])
	}
	return chunks
}

// writeAllChunks places and writes every chunk concurrently, recording
// each chunk's replica set into replicas before its writes start, so
// cleanup after a failed upload also reaches a partly written chunk.
func (c *Coordinator) writeAllChunks(ctx context.Context, shardIDs []int64, chunks [][]byte, replicas map[int64][]string) error {
	candidates := c.placementCandidates()
	replicationFactor := c.cfg.ReplicationFactor
	minReplicas := c.cfg.MinReplicas
	if replicationFactor <= 0 {
		replicationFactor = 3
	}
	if minReplicas <= 0 {
		minReplicas = 2
	}

	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	for i := range chunks {
		i := i
		g.Go(func() error {
			targets, err := placement.SelectReplicas(candidates, replicationFactor, minReplicas, nil)
			if err != nil {
				return err
			}
			mu.Lock()
			replicas[shardIDs[i]] = targets
			mu.Unlock()
			return c.putChunkToReplicas(gctx, shardIDs[i], chunks[i], targets)
		})
	}
	return g.Wait()
}

func (c *Coordinator) putChunkToReplicas(ctx context.Context, shardID int64, data []byte, targets []string) error {
	d := digest.Compute(data)
	g, gctx := errgroup.WithContext(ctx)
	for _, nodeID := range targets {
		nodeID := nodeID
		g.Go(func() error {
			addr, err := c.nodeAddr(nodeID)
			if err != nil {
				return err
			}
			req := rpc.PutChunkRequest{ShardID: shardID, Bytes: data, Expected: d}
			var resp rpc.PutChunkResponse
			url := fmt.Sprintf("%s/shard/%d", addr, shardID)
			return cluster.PostJSON(gctx, url, req, &resp)
		})
	}
	return g.Wait()
}

// cleanupChunks best-effort deletes any chunks already written when an
// upload aborts partway through. Failures here are neither surfaced nor
// retried: a chunk whose delete fails stays on its node's disk. The
// file record was never committed, so these shards are not reachable
// from any client's perspective.
func (c *Coordinator) cleanupChunks(shardIDs []int64, replicas map[int64][]string) {
	for _, shardID := range shardIDs {
		for _, nodeID := range replicas[shardID] {
			addr, err := c.nodeAddr(nodeID)
			if err != nil {
				continue
			}
			func() {
				ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				url := fmt.Sprintf("%s/shard/%d", addr, shardID)
				_ = cluster.DeleteJSON(ctx, url, nil)
			}()
		}
	}
}

// proposeWithRetry submits an entry to this coordinator's own log,
// re-proposing with the same idempotency key after any error (spec
// §4.10's retry-with-same-idempotency-key contract), 50ms apart, and
// gives up after a handful of attempts. It does not forward the entry
// to another peer: while this node is a follower every attempt fails
// with ErrLeaderChanged, unless this node itself becomes leader in the
// meantime.
func (c *Coordinator) proposeWithRetry(ctx context.Context, kind rpc.EntryKind, key string, payload []byte) (uint64, error) {
	const maxAttempts = 5
	var lastErr error
	for attempt := 0; attempt < maxAttempts; attempt++ {
		if c.log == nil {
			return 0, fmt.Errorf("coordinator: no metadata log configured")
		}
		idx, err := c.log.Propose(ctx, kind, key, payload)
		if err == nil {
			return idx, nil
		}
		lastErr = err
		select {
		case <-ctx.Done():
			return 0, ctx.Err()
		case <-time.After(50 * time.Millisecond):
		}
	}
	return 0, lastErr
}
