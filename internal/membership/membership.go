// Package membership implements the coordinator's heartbeat-driven
// failure detector: it polls every known node on an interval, tracks
// consecutive misses, and drives each node through the
// Joining -> Active -> Suspect -> Dead lifecycle (spec §3, §4.5).
package membership

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/dreamware/shardvault/internal/cluster"
)

const (
	// DefaultInterval is T_hb: how often the coordinator polls each node.
	DefaultInterval = time.Second

	// DefaultHeartbeatTimeout bounds a single heartbeat RPC so a slow
	// node is demoted quickly rather than stalling the poll round.
	DefaultHeartbeatTimeout = 200 * time.Millisecond

	// TMiss is the number of consecutive missed heartbeats before a
	// node transitions Active -> Suspect.
	TMiss = 3

	// TDead is how long a node may remain Suspect before it transitions
	// to Dead.
	TDead = 10 * time.Second
)

// HeartbeatFunc polls a single node's Heartbeat RPC and returns its load
// vector, or an error if the poll failed or timed out.
type HeartbeatFunc func(ctx context.Context, addr string) (cluster.LoadVector, error)

type nodeState struct {
	info              cluster.NodeInfo
	consecutiveMisses int
	suspectSince      time.Time
}

// TransitionFunc is invoked, off the monitor's lock, whenever a node's
// status changes.
type TransitionFunc func(nodeID string, from, to cluster.Status)

// Monitor is the coordinator's failure detector.
type Monitor struct {
	mu    sync.RWMutex
	nodes map[string]*nodeState

	heartbeat        HeartbeatFunc
	onTransition     TransitionFunc
	interval         time.Duration
	heartbeatTimeout time.Duration
	tMiss            int
	tDead            time.Duration
	logger           *zap.Logger

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New constructs a Monitor. hb performs the actual Heartbeat RPC; pass
// nil to use DefaultHeartbeatFunc.
func New(hb HeartbeatFunc, logger *zap.Logger) *Monitor {
	if hb == nil {
		hb = DefaultHeartbeatFunc
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Monitor{
		nodes:            make(map[string]*nodeState),
		heartbeat:        hb,
		interval:         DefaultInterval,
		heartbeatTimeout: DefaultHeartbeatTimeout,
		tMiss:            TMiss,
		tDead:            TDead,
		logger:           logger,
	}
}

// SetThresholds overrides T_miss/T_dead. cmd/coordinator sets them from
// the cluster config; tests use it to exercise the Suspect/Dead
// transitions without waiting in real time.
func (m *Monitor) SetThresholds(tMiss int, tDead time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.tMiss = tMiss
	m.tDead = tDead
}

// SetOnTransition registers the callback fired on every status change.
func (m *Monitor) SetOnTransition(fn TransitionFunc) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onTransition = fn
}

// Register adds a node in the Joining state. A node already registered
// is left untouched.
func (m *Monitor) Register(node cluster.NodeInfo) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.nodes[node.ID]; exists {
		return
	}
	node.Status = cluster.StatusJoining
	m.nodes[node.ID] = &nodeState{info: node}
}

// Snapshot returns a copy of every known node's current info.
func (m *Monitor) Snapshot() []cluster.NodeInfo {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]cluster.NodeInfo, 0, len(m.nodes))
	for _, ns := range m.nodes {
		out = append(out, ns.info)
	}
	return out
}

// ActiveNodes returns the subset of known nodes currently Active —
// placement's candidate filter (spec §4.3 step 1).
func (m *Monitor) ActiveNodes() []cluster.NodeInfo {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]cluster.NodeInfo, 0, len(m.nodes))
	for _, ns := range m.nodes {
		if ns.info.Status == cluster.StatusActive {
			out = append(out, ns.info)
		}
	}
	return out
}

// Start runs the poll loop until ctx is cancelled. It blocks; call it
// from its own goroutine.
func (m *Monitor) Start(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	m.cancel = cancel
	m.wg.Add(1)
	defer m.wg.Done()

	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	m.pollOnce(ctx)
	for {
		select {
		case <-ticker.C:
			m.pollOnce(ctx)
		case <-ctx.Done():
			return
		}
	}
}

// Stop cancels the poll loop and waits for it to exit.
func (m *Monitor) Stop() {
	if m.cancel != nil {
		m.cancel()
	}
	m.wg.Wait()
}

// pollOnce fans out a heartbeat to every known node concurrently,
// bounded by a single errgroup, and applies each result.
func (m *Monitor) pollOnce(ctx context.Context) {
	nodes := m.Snapshot()

	g, gctx := errgroup.WithContext(ctx)
	for _, n := range nodes {
		n := n
		g.Go(func() error {
			hctx, cancel := context.WithTimeout(gctx, m.heartbeatTimeout)
			defer cancel()

			load, err := m.heartbeat(hctx, n.Addr)
			m.applyResult(n.ID, load, err)
			return nil // a single node's failure never aborts the round
		})
	}
	_ = g.Wait()
}

func (m *Monitor) applyResult(nodeID string, load cluster.LoadVector, err error) {
	m.mu.Lock()
	ns, ok := m.nodes[nodeID]
	if !ok {
		m.mu.Unlock()
		return
	}
	from := ns.info.Status
	to := from

	if err == nil {
		ns.consecutiveMisses = 0
		ns.info.Load = load
		switch from {
		case cluster.StatusJoining, cluster.StatusSuspect, cluster.StatusDead:
			to = cluster.StatusActive
		}
	} else {
		ns.consecutiveMisses++
		switch {
		case from == cluster.StatusActive && ns.consecutiveMisses >= m.tMiss:
			to = cluster.StatusSuspect
			ns.suspectSince = time.Now()
		case from == cluster.StatusSuspect && time.Since(ns.suspectSince) >= m.tDead:
			to = cluster.StatusDead
		}
	}

	ns.info.Status = to
	cb := m.onTransition
	m.mu.Unlock()

	if to != from {
		m.logger.Info("node status transition",
			zap.String("node_id", nodeID), zap.String("from", string(from)), zap.String("to", string(to)))
		if cb != nil {
			go cb(nodeID, from, to)
		}
	}
}

// DefaultHeartbeatFunc calls the node's Heartbeat RPC over HTTP. addr is
// the node's registered base URL, scheme included.
func DefaultHeartbeatFunc(ctx context.Context, addr string) (cluster.LoadVector, error) {
	var resp struct {
		Load cluster.LoadVector `json:"load"`
	}
	url := fmt.Sprintf("%s/heartbeat", addr)
	if err := cluster.GetJSON(ctx, url, &resp); err != nil {
		return cluster.LoadVector{}, err
	}
	return resp.Load, nil
}
