// Package cache implements the per-node hybrid LRU+LFU cache: bounded
// capacity, heap-based scored eviction with lazy invalidation, and a
// non-blocking writeback queue for cache-line admission that requires a
// disk write (read-miss refill, speculative prefetch). Acknowledged
// durable writes never ride this path — see Shard.Put in internal/shard,
// which writes through chunkstore's Store.Put synchronously before a
// chunk is ever admitted here.
package cache

import (
	"container/heap"
	"math"
	"sync"
	"time"
)

// ShardID identifies a cached chunk. It is an alias for int64 (rather
// than a distinct defined type) so callers can pass shard ids from
// internal/shard and internal/chunkstore without conversions.
type ShardID = int64

const (
	// defaultFreqCeiling is the F_max value at which all frequency
	// counters (and F_max itself) are halved, per the "epoch reset"
	// option in the score-freshness design note.
	defaultFreqCeiling = 1 << 20

	recencyFullWindow   = 5 * time.Minute
	recencyLinearWindow = 30 * time.Minute
	recencyTau          = 60 * time.Minute
)

type entry struct {
	shardID   ShardID
	bytes     []byte
	freq      uint64
	lastAccNS int64
	insertNS  int64
	pinned    int
	version   uint64 // bumped on every access; used for lazy heap invalidation
	heapIndex int
}

// WritebackFunc durably persists bytes for shardID. It is invoked from the
// single background writeback worker, never from a caller's goroutine.
type WritebackFunc func(shardID ShardID, bytes []byte) error

// Stats is a point-in-time snapshot of cache counters.
type Stats struct {
	Size         int
	Capacity     int
	Hits         uint64
	Misses       uint64
	Evictions    uint64
	QueueBacklog int
}

// Cache is a fixed-capacity, thread-safe hybrid LRU+LFU cache keyed by
// shard id.
type Cache struct {
	mu       sync.Mutex
	capacity int
	items    map[ShardID]*entry
	scores   scoreHeap
	fMax     uint64
	now      func() time.Time

	hits, misses, evictions uint64

	wb           WritebackFunc
	wbMu         sync.Mutex
	wbCond       *sync.Cond
	wbQueue      []writebackJob
	wbHighWater  int
	wbClosed     bool
	wbWorkerDone chan struct{}
}

type writebackJob struct {
	shardID ShardID
	bytes   []byte
}

// New constructs a cache with the given entry capacity. wb may be nil if
// the caller never admits entries that require a disk writeback (e.g. a
// cache that only ever receives AdmitClean).
func New(capacity int, wb WritebackFunc) *Cache {
	if capacity <= 0 {
		capacity = 1
	}
	c := &Cache{
		capacity:     capacity,
		items:        make(map[ShardID]*entry, capacity),
		now:          time.Now,
		wb:           wb,
		wbHighWater:  capacity * 4,
		wbWorkerDone: make(chan struct{}),
	}
	c.wbCond = sync.NewCond(&c.wbMu)
	heap.Init(&c.scores)
	go c.writebackLoop()
	return c
}

// Close stops the background writeback worker, flushing any queued jobs
// first.
func (c *Cache) Close() {
	c.wbMu.Lock()
	c.wbClosed = true
	c.wbCond.Signal()
	c.wbMu.Unlock()
	<-c.wbWorkerDone
}

// Get returns the cached bytes for shardID, bumping its frequency and
// recency. The returned slice must not be mutated by the caller.
func (c *Cache) Get(shardID ShardID) ([]byte, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.items[shardID]
	if !ok {
		c.misses++
		return nil, false
	}
	c.hits++
	c.touch(e)
	return e.bytes, true
}

// AdmitClean inserts shardID into the cache without any writeback — used
// right after a synchronous, already-durable PutChunk.
func (c *Cache) AdmitClean(shardID ShardID, bytes []byte) {
	c.mu.Lock()
	c.admitLocked(shardID, bytes)
	c.mu.Unlock()
}

// AdmitFromReadMiss inserts shardID after a disk read-miss refill,
// queuing the bytes for asynchronous writeback so the in-memory critical
// section stays O(log C). Returns false if the writeback queue is past
// its high-water mark, in which case the caller should serve this read
// directly from disk without populating the cache.
func (c *Cache) AdmitFromReadMiss(shardID ShardID, bytes []byte) bool {
	if c.Backpressured() {
		return false
	}
	c.mu.Lock()
	c.admitLocked(shardID, bytes)
	c.mu.Unlock()

	if c.wb != nil {
		c.enqueueWriteback(shardID, bytes)
	}
	return true
}

// Backpressured reports whether the writeback queue has grown past its
// high-water mark.
func (c *Cache) Backpressured() bool {
	c.wbMu.Lock()
	defer c.wbMu.Unlock()
	return len(c.wbQueue) > c.wbHighWater
}

func (c *Cache) enqueueWriteback(shardID ShardID, bytes []byte) {
	c.wbMu.Lock()
	c.wbQueue = append(c.wbQueue, writebackJob{shardID: shardID, bytes: bytes})
	c.wbCond.Signal()
	c.wbMu.Unlock()
}

func (c *Cache) writebackLoop() {
	defer close(c.wbWorkerDone)
	for {
		c.wbMu.Lock()
		for len(c.wbQueue) == 0 && !c.wbClosed {
			c.wbCond.Wait()
		}
		if len(c.wbQueue) == 0 && c.wbClosed {
			c.wbMu.Unlock()
			return
		}
		job := c.wbQueue[0]
		c.wbQueue = c.wbQueue[1:]
		c.wbMu.Unlock()

		if c.wb != nil {
			_ = c.wb(job.shardID, job.bytes)
		}
	}
}

// Pin marks shardID as ineligible for eviction for the duration of an
// in-flight read. Unpin must be called exactly once per Pin.
func (c *Cache) Pin(shardID ShardID) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if e, ok := c.items[shardID]; ok {
		e.pinned++
	}
}

// Unpin releases a pin taken by Pin.
func (c *Cache) Unpin(shardID ShardID) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if e, ok := c.items[shardID]; ok && e.pinned > 0 {
		e.pinned--
	}
}

// Delete removes shardID from the cache, if present.
func (c *Cache) Delete(shardID ShardID) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if e, ok := c.items[shardID]; ok {
		delete(c.items, shardID)
		if e.heapIndex >= 0 {
			heap.Remove(&c.scores, e.heapIndex)
		}
	}
}

// Stats returns a point-in-time snapshot of cache counters.
func (c *Cache) Stats() Stats {
	c.mu.Lock()
	size := len(c.items)
	hits, misses, evictions := c.hits, c.misses, c.evictions
	c.mu.Unlock()

	c.wbMu.Lock()
	backlog := len(c.wbQueue)
	c.wbMu.Unlock()

	return Stats{
		Size:         size,
		Capacity:     c.capacity,
		Hits:         hits,
		Misses:       misses,
		Evictions:    evictions,
		QueueBacklog: backlog,
	}
}

func (c *Cache) admitLocked(shardID ShardID, bytes []byte) {
	if e, ok := c.items[shardID]; ok {
		e.bytes = bytes
		c.touch(e)
		return
	}

	if len(c.items) >= c.capacity {
		c.evictOneLocked()
	}

	now := c.now().UnixNano()
	e := &entry{
		shardID:   shardID,
		bytes:     bytes,
		freq:      1,
		lastAccNS: now,
		insertNS:  now,
		heapIndex: -1,
	}
	c.bumpFMax(e.freq)
	c.items[shardID] = e
	item := &heapItem{entry: e, version: e.version, score: c.score(e, now)}
	heap.Push(&c.scores, item)
}

func (c *Cache) touch(e *entry) {
	e.freq++
	e.lastAccNS = c.now().UnixNano()
	e.version++
	c.bumpFMax(e.freq)
	// The heap entry for e is now stale; it will be recomputed lazily
	// the next time it reaches the top of the heap during eviction.
}

func (c *Cache) bumpFMax(freq uint64) {
	if freq > c.fMax {
		c.fMax = freq
	}
	if c.fMax >= defaultFreqCeiling {
		c.fMax /= 2
		for _, e := range c.items {
			e.freq /= 2
			e.version++
		}
	}
}

// evictOneLocked removes the non-pinned entry with the lowest current
// score. Stale heap entries (whose version no longer matches the live
// entry) are recomputed and re-pushed rather than trusted.
func (c *Cache) evictOneLocked() {
	now := c.now().UnixNano()
	var skipped []*heapItem

	for c.scores.Len() > 0 {
		item := heap.Pop(&c.scores).(*heapItem)
		e, live := c.items[item.entry.shardID]
		if !live {
			continue // entry was deleted since being pushed
		}
		if item.version != e.version {
			// Stale: recompute and push back.
			fresh := &heapItem{entry: e, version: e.version, score: c.score(e, now)}
			heap.Push(&c.scores, fresh)
			continue
		}
		if e.pinned > 0 {
			skipped = append(skipped, item)
			continue
		}

		delete(c.items, e.shardID)
		e.heapIndex = -1
		c.evictions++
		for _, s := range skipped {
			heap.Push(&c.scores, s)
		}
		return
	}

	for _, s := range skipped {
		heap.Push(&c.scores, s)
	}
}

func (c *Cache) score(e *entry, nowNS int64) float64 {
	freqNorm := 0.0
	if c.fMax > 0 {
		freqNorm = math.Log(1+float64(e.freq)) / math.Log(1+float64(c.fMax))
	}

	age := time.Duration(nowNS - e.lastAccNS)
	recencyNorm := recencyNormFor(age)

	return 0.6*freqNorm + 0.4*recencyNorm
}

func recencyNormFor(age time.Duration) float64 {
	switch {
	case age <= recencyFullWindow:
		return 1.0
	case age <= recencyLinearWindow:
		span := recencyLinearWindow - recencyFullWindow
		frac := float64(age-recencyFullWindow) / float64(span)
		return 1.0 - frac*0.3
	default:
		over := age - recencyLinearWindow
		return 0.7 * math.Exp(-float64(over)/float64(recencyTau))
	}
}
