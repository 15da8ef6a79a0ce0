// Package shard tracks per-node operational state for a single stored
// chunk: its lifecycle state and operation counters. The chunk's bytes
// live in chunkstore; the hot path for reads is internal/cache. A Shard
// value is this node's local record of a chunk it holds; the
// coordinator tracks which nodes hold a shard in the metadata log's
// view, not through this package.
package shard

import (
	"sync"
	"sync/atomic"

	"github.com/dreamware/shardvault/internal/chunkstore"
	"github.com/dreamware/shardvault/internal/clustererr"
	"github.com/dreamware/shardvault/internal/digest"
)

// State is the operational state of a shard replica hosted on this node.
type State string

const (
	// StateActive serves reads and accepts ReplicateFrom pulls.
	StateActive State = "active"

	// StateMigrating is being moved off this node; still serves reads.
	StateMigrating State = "migrating"

	// StateDeleted is marked for removal. The state is only recorded:
	// no Shard method checks it, so a deleted shard still accepts
	// operations.
	StateDeleted State = "deleted"
)

// OperationStats are monotonically increasing, atomically updated
// operation counters for a shard.
type OperationStats struct {
	Gets     uint64
	Puts     uint64
	Deletes  uint64
	Replicas uint64 // successful ReplicateFrom pulls landed for this shard
}

// Info is a point-in-time, serializable snapshot of a shard's state.
type Info struct {
	ID      int64
	Primary bool
	State   State
	Bytes   int64
	Ops     OperationStats
}

// Shard is this node's view of one chunk: its lifecycle state plus
// delegation to the chunk store and cache for the bytes themselves.
type Shard struct {
	ID      int64
	Primary bool

	store *chunkstore.Store
	cache CachePutter

	mu    sync.RWMutex
	state State
	ops   OperationStats
}

// CachePutter is the subset of *cache.Cache a Shard needs. Accepting an
// interface here (rather than importing internal/cache directly) keeps
// this package testable without a real cache and avoids a dependency
// cycle should the cache ever need shard-level metadata.
type CachePutter interface {
	Get(shardID int64) ([]byte, bool)
	AdmitClean(shardID int64, bytes []byte)
	AdmitFromReadMiss(shardID int64, bytes []byte) bool
	Delete(shardID int64)
}

// New constructs a shard record backed by store and cache. primary
// indicates whether this node holds the primary (synchronously written)
// replica or a secondary one populated by the replication worker.
func New(id int64, primary bool, store *chunkstore.Store, cache CachePutter) *Shard {
	return &Shard{
		ID:      id,
		Primary: primary,
		store:   store,
		cache:   cache,
		state:   StateActive,
	}
}

// Put writes bytes durably (temp-file + fsync + atomic rename) before
// admitting them to the cache as clean — the synchronous path spec's
// cache design requires acknowledged writes never to ride the async
// writeback queue.
func (s *Shard) Put(b []byte, expectedDigest digest.Digest) error {
	if err := s.store.Put(s.ID, b, expectedDigest); err != nil {
		return err
	}
	atomic.AddUint64(&s.ops.Puts, 1)
	s.cache.AdmitClean(s.ID, b)
	return nil
}

// Get returns the shard's bytes, preferring the cache and falling back
// to disk with cache admission on miss.
func (s *Shard) Get() ([]byte, error) {
	atomic.AddUint64(&s.ops.Gets, 1)

	if b, ok := s.cache.Get(s.ID); ok {
		return b, nil
	}

	b, err := s.store.Get(s.ID)
	if err != nil {
		return nil, err
	}
	s.cache.AdmitFromReadMiss(s.ID, b)
	return b, nil
}

// Delete removes the shard's cache entry and disk file. Idempotent.
func (s *Shard) Delete() error {
	atomic.AddUint64(&s.ops.Deletes, 1)
	s.cache.Delete(s.ID)
	return s.store.Delete(s.ID)
}

// ReplicateFrom pulls this shard's bytes from a peer fetcher (typically
// an RPC client's GetChunk), stores them locally and admits them to the
// cache as clean. The shard's Primary flag is left unchanged.
func (s *Shard) ReplicateFrom(fetch func() ([]byte, digest.Digest, error)) error {
	b, d, err := fetch()
	if err != nil {
		return err
	}
	if !digest.Verify(b, d) {
		return clustererr.ErrDigestMismatch
	}
	if err := s.store.Put(s.ID, b, d); err != nil {
		return err
	}
	atomic.AddUint64(&s.ops.Replicas, 1)
	s.cache.AdmitClean(s.ID, b)
	return nil
}

// SetState transitions the shard's lifecycle state.
func (s *Shard) SetState(state State) {
	s.mu.Lock()
	s.state = state
	s.mu.Unlock()
}

// State returns the shard's current lifecycle state.
func (s *Shard) State() State {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}

// Stats returns a consistent snapshot of operation counters.
func (s *Shard) Stats() OperationStats {
	return OperationStats{
		Gets:     atomic.LoadUint64(&s.ops.Gets),
		Puts:     atomic.LoadUint64(&s.ops.Puts),
		Deletes:  atomic.LoadUint64(&s.ops.Deletes),
		Replicas: atomic.LoadUint64(&s.ops.Replicas),
	}
}

// Info returns a serializable snapshot of the shard, including its disk
// footprint. Safe to call concurrently with any other method.
func (s *Shard) Info() Info {
	size, _ := s.store.Size(s.ID) // 0 if not yet written or already deleted
	return Info{
		ID:      s.ID,
		Primary: s.Primary,
		State:   s.State(),
		Bytes:   size,
		Ops:     s.Stats(),
	}
}
