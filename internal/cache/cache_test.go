package cache

import (
	"math"
	"testing"
	"time"
)

// fakeClock lets tests control "now" deterministically.
type fakeClock struct{ t time.Time }

func (f *fakeClock) now() time.Time { return f.t }

func (f *fakeClock) advance(d time.Duration) { f.t = f.t.Add(d) }

func newTestCache(capacity int) (*Cache, *fakeClock) {
	c := New(capacity, nil)
	fc := &fakeClock{t: time.Unix(1_700_000_000, 0)}
	c.now = fc.now
	return c, fc
}

func TestCacheNeverExceedsCapacity(t *testing.T) {
	c, fc := newTestCache(3)
	defer c.Close()

	for i := ShardID(1); i <= 10; i++ {
		c.AdmitClean(i, []byte("x"))
		fc.advance(time.Second)
		if s := c.Stats().Size; s > 3 {
			t.Fatalf("cache size %d exceeds capacity 3", s)
		}
	}
}

func TestFMaxZeroNoNaN(t *testing.T) {
	c, fc := newTestCache(3)
	defer c.Close()

	// An empty cache has F_max = 0: scoring against it must not produce
	// NaN, and the first admit into it must still succeed.
	if s := c.score(&entry{}, fc.now().UnixNano()); math.IsNaN(s) {
		t.Fatal("score with F_max = 0 is NaN")
	}
	c.AdmitClean(1, []byte("a"))
	if _, ok := c.Get(1); !ok {
		t.Fatal("expected hit after admit")
	}
}

// TestScoredEvictionScenario reproduces the spec's worked example: with
// capacity 3, reading shards s1..s5 once in order, then s1 twice more,
// leaves the cache holding {s1, s4, s5}.
func TestScoredEvictionScenario(t *testing.T) {
	c, fc := newTestCache(3)
	defer c.Close()

	read := func(id ShardID) {
		if _, ok := c.Get(id); !ok {
			c.AdmitFromReadMiss(id, []byte("data"))
		}
		fc.advance(time.Millisecond)
	}

	for _, id := range []ShardID{1, 2, 3, 4, 5} {
		read(id)
	}
	read(1)
	read(1)

	want := map[ShardID]bool{1: true, 4: true, 5: true}
	c.mu.Lock()
	got := make(map[ShardID]bool, len(c.items))
	for id := range c.items {
		got[id] = true
	}
	c.mu.Unlock()

	if len(got) != len(want) {
		t.Fatalf("cache contents = %v, want %v", got, want)
	}
	for id := range want {
		if !got[id] {
			t.Fatalf("cache contents = %v, want %v", got, want)
		}
	}
}

func TestPinnedEntrySurvivesEviction(t *testing.T) {
	c, fc := newTestCache(2)
	defer c.Close()

	c.AdmitClean(1, []byte("a"))
	fc.advance(time.Millisecond)
	c.Pin(1)

	c.AdmitClean(2, []byte("b"))
	fc.advance(time.Millisecond)
	c.AdmitClean(3, []byte("c"))
	fc.advance(time.Millisecond)

	if _, ok := c.Get(1); !ok {
		t.Fatal("pinned entry 1 was evicted")
	}
}

func TestRecencyNormPiecewise(t *testing.T) {
	tests := []struct {
		age  time.Duration
		want float64
	}{
		{0, 1.0},
		{5 * time.Minute, 1.0},
		{30 * time.Minute, 0.7},
	}
	for _, tt := range tests {
		if got := recencyNormFor(tt.age); got != tt.want {
			t.Errorf("recencyNormFor(%v) = %v, want %v", tt.age, got, tt.want)
		}
	}

	// Beyond the linear window, the value must strictly decay and stay
	// within (0, 0.7).
	got := recencyNormFor(90 * time.Minute)
	if got <= 0 || got >= 0.7 {
		t.Errorf("recencyNormFor(90m) = %v, want in (0, 0.7)", got)
	}
}
