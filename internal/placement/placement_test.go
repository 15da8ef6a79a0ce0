package placement

import (
	"errors"
	"testing"

	"github.com/dreamware/shardvault/internal/clustererr"
)

func TestScoreWeights(t *testing.T) {
	c := Candidate{CPU: 1.0, DiskUsed: 100, DiskCapacity: 100, ShardCount: 10, MaxShardCount: 10}
	got := Score(c)
	want := 0.5 + 0.3 + 0.2 // all terms maxed out
	if got != want {
		t.Errorf("Score() = %v, want %v", got, want)
	}
}

func TestSelectReplicasDeterministicTieBreak(t *testing.T) {
	candidates := []Candidate{
		{NodeID: "b", CPU: 0.1},
		{NodeID: "a", CPU: 0.1},
		{NodeID: "c", CPU: 0.1},
	}
	got, err := SelectReplicas(candidates, 2, 1, nil)
	if err != nil {
		t.Fatalf("SelectReplicas: %v", err)
	}
	want := []string{"a", "b"}
	if len(got) != 2 || got[0] != want[0] || got[1] != want[1] {
		t.Errorf("SelectReplicas() = %v, want %v", got, want)
	}
}

func TestSelectReplicasExcludesExisting(t *testing.T) {
	candidates := []Candidate{{NodeID: "a"}, {NodeID: "b"}, {NodeID: "c"}}
	got, err := SelectReplicas(candidates, 2, 1, map[string]bool{"a": true})
	if err != nil {
		t.Fatalf("SelectReplicas: %v", err)
	}
	for _, id := range got {
		if id == "a" {
			t.Errorf("excluded node a was selected: %v", got)
		}
	}
}

func TestSelectReplicasInsufficientCapacity(t *testing.T) {
	candidates := []Candidate{{NodeID: "a"}}
	_, err := SelectReplicas(candidates, 3, 2, nil)
	if !errors.Is(err, clustererr.ErrInsufficientCapacity) {
		t.Fatalf("err = %v, want ErrInsufficientCapacity", err)
	}
}

func TestSelectReplicasNoDuplicates(t *testing.T) {
	candidates := []Candidate{{NodeID: "a"}, {NodeID: "b"}, {NodeID: "c"}}
	got, err := SelectReplicas(candidates, 3, 1, nil)
	if err != nil {
		t.Fatalf("SelectReplicas: %v", err)
	}
	seen := map[string]bool{}
	for _, id := range got {
		if seen[id] {
			t.Fatalf("duplicate node in replica set: %v", got)
		}
		seen[id] = true
	}
}
