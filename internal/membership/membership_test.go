package membership

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dreamware/shardvault/internal/cluster"
)

func alwaysFail(ctx context.Context, addr string) (cluster.LoadVector, error) {
	return cluster.LoadVector{}, errors.New("unreachable")
}

func alwaysOK(ctx context.Context, addr string) (cluster.LoadVector, error) {
	return cluster.LoadVector{CPU: 0.1}, nil
}

func TestNodeBecomesActiveAfterFirstHeartbeat(t *testing.T) {
	m := New(alwaysOK, nil)
	m.Register(cluster.NodeInfo{ID: "n1", Addr: "n1:8080"})

	m.pollOnce(context.Background())

	nodes := m.Snapshot()
	require.Len(t, nodes, 1)
	assert.Equal(t, cluster.StatusActive, nodes[0].Status)
}

func TestMissingTMissMinusOneStaysActive(t *testing.T) {
	m := New(alwaysFail, nil)
	m.SetThresholds(3, time.Hour)
	m.Register(cluster.NodeInfo{ID: "n1", Addr: "n1:8080"})
	m.applyResult("n1", cluster.LoadVector{}, nil) // become Active first

	for i := 0; i < TMiss-1; i++ {
		m.applyResult("n1", cluster.LoadVector{}, errors.New("miss"))
	}

	nodes := m.Snapshot()
	require.Len(t, nodes, 1)
	assert.Equal(t, cluster.StatusActive, nodes[0].Status, "a node that missed T_miss-1 heartbeats must stay Active")
}

func TestSuspectAfterTMissMisses(t *testing.T) {
	m := New(alwaysFail, nil)
	m.SetThresholds(3, time.Hour)
	m.Register(cluster.NodeInfo{ID: "n1", Addr: "n1:8080"})
	m.applyResult("n1", cluster.LoadVector{}, nil)

	for i := 0; i < TMiss; i++ {
		m.applyResult("n1", cluster.LoadVector{}, errors.New("miss"))
	}

	nodes := m.Snapshot()
	require.Len(t, nodes, 1)
	assert.Equal(t, cluster.StatusSuspect, nodes[0].Status)
}

func TestDeadAfterTDeadInSuspect(t *testing.T) {
	m := New(alwaysFail, nil)
	m.SetThresholds(1, 10*time.Millisecond)
	m.Register(cluster.NodeInfo{ID: "n1", Addr: "n1:8080"})
	m.applyResult("n1", cluster.LoadVector{}, nil)
	m.applyResult("n1", cluster.LoadVector{}, errors.New("miss")) // -> Suspect

	time.Sleep(20 * time.Millisecond)
	m.applyResult("n1", cluster.LoadVector{}, errors.New("miss")) // -> Dead

	nodes := m.Snapshot()
	require.Len(t, nodes, 1)
	assert.Equal(t, cluster.StatusDead, nodes[0].Status)
}

func TestDeadNodeReadmittedAsActiveOnRecovery(t *testing.T) {
	m := New(alwaysFail, nil)
	m.SetThresholds(1, time.Millisecond)
	m.Register(cluster.NodeInfo{ID: "n1", Addr: "n1:8080"})
	m.applyResult("n1", cluster.LoadVector{}, nil)
	m.applyResult("n1", cluster.LoadVector{}, errors.New("miss")) // -> Suspect
	time.Sleep(5 * time.Millisecond)
	m.applyResult("n1", cluster.LoadVector{}, errors.New("miss")) // -> Dead

	m.applyResult("n1", cluster.LoadVector{CPU: 0.2}, nil) // recovers

	nodes := m.Snapshot()
	require.Len(t, nodes, 1)
	assert.Equal(t, cluster.StatusActive, nodes[0].Status)
}

func TestTransitionCallbackFires(t *testing.T) {
	m := New(alwaysOK, nil)
	var mu sync.Mutex
	var got []string
	done := make(chan struct{}, 1)

	m.SetOnTransition(func(nodeID string, from, to cluster.Status) {
		mu.Lock()
		got = append(got, string(to))
		mu.Unlock()
		done <- struct{}{}
	})
	m.Register(cluster.NodeInfo{ID: "n1", Addr: "n1:8080"})
	m.pollOnce(context.Background())

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for transition callback")
	}

	mu.Lock()
	defer mu.Unlock()
	assert.Contains(t, got, string(cluster.StatusActive))
}

func TestActiveNodesFiltersOutSuspectAndDead(t *testing.T) {
	m := New(alwaysOK, nil)
	m.SetThresholds(1, 0)
	m.Register(cluster.NodeInfo{ID: "n1", Addr: "n1:8080"})
	m.Register(cluster.NodeInfo{ID: "n2", Addr: "n2:8080"})
	m.Register(cluster.NodeInfo{ID: "n3", Addr: "n3:8080"})
	m.Register(cluster.NodeInfo{ID: "n4", Addr: "n4:8080"})
	m.applyResult("n1", cluster.LoadVector{}, nil)

	m.applyResult("n3", cluster.LoadVector{}, nil)
	m.applyResult("n3", cluster.LoadVector{}, errors.New("miss")) // -> Suspect

	m.applyResult("n4", cluster.LoadVector{}, nil)
	m.applyResult("n4", cluster.LoadVector{}, errors.New("miss")) // -> Suspect
	m.applyResult("n4", cluster.LoadVector{}, errors.New("miss")) // -> Dead

	active := m.ActiveNodes()
	require.Len(t, active, 1)
	assert.Equal(t, "n1", active[0].ID)
}
