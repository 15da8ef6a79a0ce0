package cache

// heapItem is a lazily-invalidated entry in the eviction heap: it
// carries the score and entry version observed at push time, so a stale
// item (superseded by a later access) can be detected and recomputed on
// pop instead of trusted.
type heapItem struct {
	entry   *entry
	version uint64
	score   float64
	index   int
}

// scoreHeap is a container/heap min-heap ordered by score, lowest first
// (the eviction victim).
type scoreHeap []*heapItem

func (h scoreHeap) Len() int { return len(h) }

// Less orders by score ascending (the lowest score is the eviction
// victim); entries with an equal score break ties by older last-access
// time, then by shard id, so eviction choice is deterministic.
func (h scoreHeap) Less(i, j int) bool {
	if h[i].score != h[j].score {
		return h[i].score < h[j].score
	}
	if h[i].entry.lastAccNS != h[j].entry.lastAccNS {
		return h[i].entry.lastAccNS < h[j].entry.lastAccNS
	}
	return h[i].entry.shardID < h[j].entry.shardID
}

func (h scoreHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].index = i
	h[j].index = j
	h[i].entry.heapIndex = i
	h[j].entry.heapIndex = j
}

func (h *scoreHeap) Push(x any) {
	item := x.(*heapItem)
	item.index = len(*h)
	item.entry.heapIndex = item.index
	*h = append(*h, item)
}

func (h *scoreHeap) Pop() any {
	old := *h
	n := len(old)
	item := old[n-1]
	old[n-1] = nil
	*h = old[:n-1]
	return item
}
