// Package node composes a storage node's runtime: its on-disk chunk
// store, its hybrid cache, the shards it currently hosts, and the HTTP
// surface the coordinator and peer nodes call against (spec §4.1,
// §4.4, §4.5).
package node

import (
	"context"
	"runtime"
	"sync"

	"go.uber.org/zap"

	"github.com/dreamware/shardvault/internal/cache"
	"github.com/dreamware/shardvault/internal/chunkstore"
	"github.com/dreamware/shardvault/internal/cluster"
	"github.com/dreamware/shardvault/internal/clustererr"
	"github.com/dreamware/shardvault/internal/digest"
	"github.com/dreamware/shardvault/internal/metrics"
	"github.com/dreamware/shardvault/internal/shard"
)

// Node manages the set of shards a single storage process currently
// hosts, backed by one chunkstore.Store and one cache.Cache shared
// across all of them.
type Node struct {
	ID     string
	store  *chunkstore.Store
	cache  *cache.Cache
	metric metrics.Sink
	logger *zap.Logger

	mu     sync.RWMutex
	shards map[int64]*shard.Shard

	maxShardCount int
}

// New constructs a Node. store and cache are shared by every shard
// this node hosts; cache may be nil if caching is disabled.
func New(id string, store *chunkstore.Store, c *cache.Cache, maxShardCount int, metric metrics.Sink, logger *zap.Logger) *Node {
	if metric == nil {
		metric = metrics.NewSink(id, nil)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Node{
		ID:            id,
		store:         store,
		cache:         c,
		metric:        metric,
		logger:        logger,
		shards:        make(map[int64]*shard.Shard),
		maxShardCount: maxShardCount,
	}
}

// shardFor returns the shard for id, creating a primary one on demand
// if it does not already exist — the coordinator is the authority on
// which node should host which shard, but a node that has never seen
// shard id before (e.g. freshly promoted to hold a replica) still
// needs somewhere to land the first PutChunk/ReplicateFrom.
func (n *Node) shardFor(id int64) *shard.Shard {
	n.mu.RLock()
	s, ok := n.shards[id]
	n.mu.RUnlock()
	if ok {
		return s
	}

	n.mu.Lock()
	defer n.mu.Unlock()
	if s, ok := n.shards[id]; ok {
		return s
	}
	var cp shard.CachePutter
	if n.cache != nil {
		cp = n.cache
	}
	s = shard.New(id, true, n.store, cp)
	n.shards[id] = s
	return s
}

// PutChunk stores bytes under shardID, verifying expectedDigest first.
func (n *Node) PutChunk(shardID int64, bytes []byte, expected digest.Digest) error {
	return n.shardFor(shardID).Put(bytes, expected)
}

// GetChunk retrieves the bytes for shardID.
func (n *Node) GetChunk(shardID int64) ([]byte, error) {
	n.mu.RLock()
	s, ok := n.shards[shardID]
	n.mu.RUnlock()
	if !ok {
		if n.metric != nil {
			n.metric.IncCacheMiss()
		}
		return nil, clustererr.ErrNotFound
	}
	b, err := s.Get()
	if n.metric != nil {
		if err == nil {
			n.metric.IncCacheHit()
		} else {
			n.metric.IncCacheMiss()
		}
	}
	return b, err
}

// DeleteChunk removes shardID from this node.
func (n *Node) DeleteChunk(shardID int64) error {
	n.mu.RLock()
	s, ok := n.shards[shardID]
	n.mu.RUnlock()
	if !ok {
		return nil
	}
	return s.Delete()
}

// ReplicateFrom pulls shardID's bytes from source and admits them
// locally, for use when the coordinator's replication worker has
// selected this node as a repair target.
func (n *Node) ReplicateFrom(shardID int64, fetch func() ([]byte, digest.Digest, error)) error {
	return n.shardFor(shardID).ReplicateFrom(fetch)
}

// ShardInfos reports every shard's metadata, for the node's /info
// endpoint.
func (n *Node) ShardInfos() []shard.Info {
	n.mu.RLock()
	defer n.mu.RUnlock()
	out := make([]shard.Info, 0, len(n.shards))
	for _, s := range n.shards {
		out = append(out, s.Info())
	}
	return out
}

// LoadVector reports this node's current load for the coordinator's
// heartbeat and placement-scoring flows (spec §4.3/§4.5).
func (n *Node) LoadVector(ctx context.Context) (cluster.LoadVector, error) {
	n.mu.RLock()
	shardCount := len(n.shards)
	n.mu.RUnlock()

	var diskUsed, diskCapacity int64
	if n.store != nil {
		stats, _ := n.store.Stats()
		diskUsed = stats.Bytes
		if free, total, err := n.store.DiskFree(); err == nil {
			diskCapacity = int64(total)
			_ = free
		}
	}

	cacheHitRate := 0.0
	if n.cache != nil {
		stats := n.cache.Stats()
		total := stats.Hits + stats.Misses
		if total > 0 {
			cacheHitRate = float64(stats.Hits) / float64(total)
		}
	}

	return cluster.LoadVector{
		CPU:          cpuLoadEstimate(),
		DiskUsed:     diskUsed,
		DiskCapacity: diskCapacity,
		ShardCount:   shardCount,
		CacheHitRate: cacheHitRate,
	}, nil
}

// cpuLoadEstimate returns a coarse [0,1] load figure derived from the
// current goroutine count relative to GOMAXPROCS, standing in for a
// real OS-level CPU sample until one is wired from a platform-specific
// source.
func cpuLoadEstimate() float64 {
	procs := runtime.GOMAXPROCS(0)
	if procs <= 0 {
		procs = 1
	}
	load := float64(runtime.NumGoroutine()) / float64(procs*50)
	if load > 1 {
		load = 1
	}
	return load
}

// Close releases the node's cache writeback worker.
func (n *Node) Close() {
	if n.cache != nil {
		n.cache.Close()
	}
}
