package metadatalog

import (
	"context"
	"math/rand"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/dreamware/shardvault/internal/clustererr"
	"github.com/dreamware/shardvault/internal/rpc"
)

// role is a node's current position in the leader-election state machine.
type role string

const (
	roleFollower  role = "follower"
	roleCandidate role = "candidate"
	roleLeader    role = "leader"
)

const (
	electionTimeoutMin = 150 * time.Millisecond
	electionTimeoutMax = 300 * time.Millisecond
	heartbeatInterval  = 50 * time.Millisecond
)

// Transport is how a Log reaches its peers. Implemented over
// cluster.PostJSON against each peer's RPC endpoints.
type Transport interface {
	AppendEntries(ctx context.Context, peerID string, req rpc.AppendEntriesRequest) (rpc.AppendEntriesResponse, error)
	RequestVote(ctx context.Context, peerID string, req rpc.RequestVoteRequest) (rpc.RequestVoteResponse, error)
	InstallSnapshot(ctx context.Context, peerID string, req rpc.InstallSnapshotRequest) (rpc.InstallSnapshotResponse, error)
}

// Log is a leader-elected replicated log over a fixed peer set (spec
// §4.6). One Log instance runs per metadata-log participant; exactly
// one peer holds roleLeader at any term after a successful election.
type Log struct {
	mu sync.Mutex

	selfID string
	peers  []string // all participant ids, including selfID
	trans  Transport
	store  *segmentStore
	view   *View
	logger *zap.Logger

	currentTerm uint64
	votedFor    string
	role        role
	leaderID    string

	entries     []rpc.LogEntry // index 0 is a sentinel; real entries start at index 1
	commitIndex uint64
	lastApplied uint64

	// leader-only volatile state
	nextIndex  map[string]uint64
	matchIndex map[string]uint64

	appliedKeys map[string]uint64 // idempotency key -> committed index, dedup at apply time

	resetElection chan struct{}
	runCtx        context.Context
	cancel        context.CancelFunc
	wg            sync.WaitGroup

	onLeaderChange func(leaderID string, term uint64)
}

// Config bundles the fixed inputs a Log needs at construction.
type Config struct {
	SelfID    string
	Peers     []string // includes SelfID
	Transport Transport
	Store     *segmentStore
	View      *View
	Logger    *zap.Logger
}

// New constructs a Log in the follower role with an empty term.
func New(cfg Config) *Log {
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	l := &Log{
		selfID:        cfg.SelfID,
		peers:         cfg.Peers,
		trans:         cfg.Transport,
		store:         cfg.Store,
		view:          cfg.View,
		logger:        logger,
		role:          roleFollower,
		entries:       []rpc.LogEntry{{}},
		nextIndex:     make(map[string]uint64),
		matchIndex:    make(map[string]uint64),
		appliedKeys:   make(map[string]uint64),
		resetElection: make(chan struct{}, 1),
	}
	if cfg.Store != nil {
		l.entries = append(l.entries[:1], cfg.Store.Load()...)
	}
	return l
}

// SetOnLeaderChange registers a callback fired whenever this node
// observes a new leader (itself or a peer), for metrics and status.
func (l *Log) SetOnLeaderChange(fn func(leaderID string, term uint64)) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.onLeaderChange = fn
}

// Start runs the election timer and (once elected) the heartbeat
// broadcaster until ctx is cancelled.
func (l *Log) Start(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	l.mu.Lock()
	l.runCtx = ctx
	l.mu.Unlock()
	l.cancel = cancel
	l.wg.Add(1)
	go l.run(ctx)
}

// Stop halts all background loops.
func (l *Log) Stop() {
	if l.cancel != nil {
		l.cancel()
	}
	l.wg.Wait()
}

func (l *Log) run(ctx context.Context) {
	defer l.wg.Done()
	timer := time.NewTimer(randomElectionTimeout())
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-l.resetElection:
			if !timer.Stop() {
				<-timer.C
			}
			timer.Reset(randomElectionTimeout())
		case <-timer.C:
			l.mu.Lock()
			isLeader := l.role == roleLeader
			l.mu.Unlock()
			if !isLeader {
				l.startElection(ctx)
			}
			timer.Reset(randomElectionTimeout())
		}
	}
}

func randomElectionTimeout() time.Duration {
	span := electionTimeoutMax - electionTimeoutMin
	return electionTimeoutMin + time.Duration(rand.Int63n(int64(span)))
}

func (l *Log) startElection(ctx context.Context) {
	l.mu.Lock()
	l.currentTerm++
	term := l.currentTerm
	l.role = roleCandidate
	l.votedFor = l.selfID
	lastIdx, lastTerm := l.lastLogLocked()
	peers := append([]string(nil), l.peers...)
	l.mu.Unlock()

	l.logger.Info("starting election", zap.Uint64("term", term))

	votes := 1 // vote for self
	var voteMu sync.Mutex
	var wg sync.WaitGroup
	for _, peer := range peers {
		if peer == l.selfID {
			continue
		}
		wg.Add(1)
		go func(peer string) {
			defer wg.Done()
			reqCtx, cancel := context.WithTimeout(ctx, heartbeatInterval*2)
			defer cancel()
			resp, err := l.trans.RequestVote(reqCtx, peer, rpc.RequestVoteRequest{
				Term:         term,
				CandidateID:  l.selfID,
				LastLogIndex: lastIdx,
				LastLogTerm:  lastTerm,
			})
			if err != nil {
				return
			}
			l.mu.Lock()
			defer l.mu.Unlock()
			if resp.Term > l.currentTerm {
				l.becomeFollowerLocked(resp.Term)
				return
			}
			if resp.VoteGranted {
				voteMu.Lock()
				votes++
				voteMu.Unlock()
			}
		}(peer)
	}
	wg.Wait()

	l.mu.Lock()
	defer l.mu.Unlock()
	if l.role != roleCandidate || l.currentTerm != term {
		return // state moved on during the election round
	}
	if votes*2 > len(peers) {
		l.becomeLeaderLocked()
	}
}

func (l *Log) becomeLeaderLocked() {
	l.role = roleLeader
	l.leaderID = l.selfID
	lastIdx := uint64(len(l.entries) - 1)
	for _, p := range l.peers {
		l.nextIndex[p] = lastIdx + 1
		l.matchIndex[p] = 0
	}
	l.logger.Info("elected leader", zap.Uint64("term", l.currentTerm))
	l.notifyLeaderChangeLocked()
	l.wg.Add(1)
	go l.leaderHeartbeatLoop(l.runCtx, l.currentTerm)
}

func (l *Log) becomeFollowerLocked(term uint64) {
	if l.role == roleLeader {
		l.logger.Info("stepping down as leader", zap.Uint64("term", term))
	}
	l.currentTerm = term
	l.role = roleFollower
	l.votedFor = ""
}

func (l *Log) notifyLeaderChangeLocked() {
	if l.onLeaderChange != nil {
		leaderID, term := l.leaderID, l.currentTerm
		go l.onLeaderChange(leaderID, term)
	}
}

func (l *Log) leaderHeartbeatLoop(ctx context.Context, term uint64) {
	defer l.wg.Done()
	ticker := time.NewTicker(heartbeatInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
		l.mu.Lock()
		stillLeader := l.role == roleLeader && l.currentTerm == term
		peers := append([]string(nil), l.peers...)
		l.mu.Unlock()
		if !stillLeader {
			return
		}
		for _, p := range peers {
			if p == l.selfID {
				continue
			}
			go l.replicateTo(p)
		}
	}
}

// lastLogLocked returns the index and term of the last entry. Caller
// must hold l.mu.
func (l *Log) lastLogLocked() (uint64, uint64) {
	idx := uint64(len(l.entries) - 1)
	if idx == 0 {
		return 0, 0
	}
	return idx, l.entries[idx].Term
}

// IsLeader reports whether this node currently believes it is the
// metadata log leader.
func (l *Log) IsLeader() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.role == roleLeader
}

// LeaderID returns the last known leader id and current term, which
// may be stale if an election is in progress.
func (l *Log) LeaderID() (string, uint64) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.leaderID, l.currentTerm
}

// Propose submits a new entry for replication. Only the leader may
// propose; followers return clustererr.ErrLeaderChanged naming the
// current leader so the caller can retry against it with the same
// idempotencyKey. A duplicate idempotencyKey that was already
// committed returns the original committed index without appending
// again.
func (l *Log) Propose(ctx context.Context, kind rpc.EntryKind, idempotencyKey string, payload []byte) (uint64, error) {
	l.mu.Lock()
	if l.role != roleLeader {
		leaderID := l.leaderID
		l.mu.Unlock()
		return 0, clustererr.NewLeaderChanged(leaderID)
	}
	if idx, ok := l.appliedKeys[idempotencyKey]; ok {
		l.mu.Unlock()
		return idx, nil
	}

	entry := rpc.LogEntry{
		Term:           l.currentTerm,
		Index:          uint64(len(l.entries)),
		Kind:           kind,
		IdempotencyKey: idempotencyKey,
		Payload:        payload,
	}
	l.entries = append(l.entries, entry)
	if l.store != nil {
		l.store.Append(entry)
	}
	idx := entry.Index
	term := l.currentTerm
	peers := append([]string(nil), l.peers...)
	l.mu.Unlock()

	return idx, l.awaitCommit(ctx, idx, term, peers)
}

func (l *Log) awaitCommit(ctx context.Context, idx, term uint64, peers []string) error {
	for {
		l.mu.Lock()
		if l.role != roleLeader || l.currentTerm != term {
			leaderID := l.leaderID
			l.mu.Unlock()
			return clustererr.NewLeaderChanged(leaderID)
		}
		if l.commitIndex >= idx {
			l.mu.Unlock()
			return nil
		}
		l.mu.Unlock()

		acked := 1
		var wg sync.WaitGroup
		var ackMu sync.Mutex
		for _, p := range peers {
			if p == l.selfID {
				continue
			}
			wg.Add(1)
			go func(p string) {
				defer wg.Done()
				if l.replicateTo(p) {
					ackMu.Lock()
					acked++
					ackMu.Unlock()
				}
			}(p)
		}
		wg.Wait()

		if acked*2 > len(peers) {
			l.mu.Lock()
			if idx > l.commitIndex {
				l.commitIndex = idx
				l.applyCommittedLocked()
			}
			l.mu.Unlock()
			return nil
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(heartbeatInterval):
		}
	}
}

// replicateTo sends an AppendEntries to peer and returns whether it
// acknowledged the leader's current state.
func (l *Log) replicateTo(peer string) bool {
	l.mu.Lock()
	if l.role != roleLeader {
		l.mu.Unlock()
		return false
	}
	term := l.currentTerm
	next := l.nextIndex[peer]
	if next == 0 {
		next = 1
	}
	prevIdx := next - 1
	var prevTerm uint64
	if prevIdx > 0 && int(prevIdx) < len(l.entries) {
		prevTerm = l.entries[prevIdx].Term
	}
	var toSend []rpc.LogEntry
	if int(next) < len(l.entries) {
		toSend = append(toSend, l.entries[next:]...)
	}
	commit := l.commitIndex
	selfID := l.selfID
	l.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), heartbeatInterval*2)
	defer cancel()
	resp, err := l.trans.AppendEntries(ctx, peer, rpc.AppendEntriesRequest{
		Term:         term,
		LeaderID:     selfID,
		PrevLogIndex: prevIdx,
		PrevLogTerm:  prevTerm,
		Entries:      toSend,
		LeaderCommit: commit,
	})
	if err != nil {
		return false
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	if resp.Term > l.currentTerm {
		l.becomeFollowerLocked(resp.Term)
		return false
	}
	if l.role != roleLeader || l.currentTerm != term {
		return false
	}
	if resp.Success {
		l.matchIndex[peer] = prevIdx + uint64(len(toSend))
		l.nextIndex[peer] = l.matchIndex[peer] + 1
		return true
	}
	if resp.ConflictIndex > 0 && resp.ConflictIndex < l.nextIndex[peer] {
		l.nextIndex[peer] = resp.ConflictIndex
	} else if l.nextIndex[peer] > 1 {
		l.nextIndex[peer]--
	}
	return false
}

// HandleAppendEntries is the follower-side RPC handler.
func (l *Log) HandleAppendEntries(req rpc.AppendEntriesRequest) rpc.AppendEntriesResponse {
	l.mu.Lock()
	defer l.mu.Unlock()

	if req.Term < l.currentTerm {
		return rpc.AppendEntriesResponse{Term: l.currentTerm, Success: false}
	}
	if req.Term > l.currentTerm || l.role != roleFollower {
		l.becomeFollowerLocked(req.Term)
	}
	l.leaderID = req.LeaderID
	l.notifyLeaderChangeLocked()
	l.signalElectionReset()

	if req.PrevLogIndex > 0 {
		if req.PrevLogIndex >= uint64(len(l.entries)) {
			return rpc.AppendEntriesResponse{Term: l.currentTerm, Success: false, ConflictIndex: uint64(len(l.entries))}
		}
		if l.entries[req.PrevLogIndex].Term != req.PrevLogTerm {
			return rpc.AppendEntriesResponse{Term: l.currentTerm, Success: false, ConflictIndex: req.PrevLogIndex}
		}
	}

	for i, e := range req.Entries {
		idx := req.PrevLogIndex + 1 + uint64(i)
		if int(idx) < len(l.entries) {
			if l.entries[idx].Term != e.Term {
				l.entries = l.entries[:idx]
				l.entries = append(l.entries, e)
				if l.store != nil {
					l.store.Append(e)
				}
			}
			continue
		}
		l.entries = append(l.entries, e)
		if l.store != nil {
			l.store.Append(e)
		}
	}

	if req.LeaderCommit > l.commitIndex {
		last := uint64(len(l.entries) - 1)
		if req.LeaderCommit < last {
			l.commitIndex = req.LeaderCommit
		} else {
			l.commitIndex = last
		}
		l.applyCommittedLocked()
	}

	return rpc.AppendEntriesResponse{Term: l.currentTerm, Success: true}
}

// HandleRequestVote is the RPC handler deciding whether to grant a
// vote for a candidate in the given term.
func (l *Log) HandleRequestVote(req rpc.RequestVoteRequest) rpc.RequestVoteResponse {
	l.mu.Lock()
	defer l.mu.Unlock()

	if req.Term < l.currentTerm {
		return rpc.RequestVoteResponse{Term: l.currentTerm, VoteGranted: false}
	}
	if req.Term > l.currentTerm {
		l.becomeFollowerLocked(req.Term)
	}

	lastIdx, lastTerm := l.lastLogLocked()
	logOK := req.LastLogTerm > lastTerm || (req.LastLogTerm == lastTerm && req.LastLogIndex >= lastIdx)

	if (l.votedFor == "" || l.votedFor == req.CandidateID) && logOK {
		l.votedFor = req.CandidateID
		l.signalElectionReset()
		return rpc.RequestVoteResponse{Term: l.currentTerm, VoteGranted: true}
	}
	return rpc.RequestVoteResponse{Term: l.currentTerm, VoteGranted: false}
}

func (l *Log) signalElectionReset() {
	select {
	case l.resetElection <- struct{}{}:
	default:
	}
}

// applyCommittedLocked advances the materialized view over newly
// committed entries. Caller must hold l.mu.
func (l *Log) applyCommittedLocked() {
	for l.lastApplied < l.commitIndex {
		l.lastApplied++
		entry := l.entries[l.lastApplied]
		if entry.IdempotencyKey != "" {
			if _, dup := l.appliedKeys[entry.IdempotencyKey]; dup {
				continue
			}
			l.appliedKeys[entry.IdempotencyKey] = entry.Index
		}
		if l.view != nil {
			if err := l.view.Apply(entry); err != nil {
				l.logger.Warn("failed to apply committed entry",
					zap.Uint64("index", entry.Index), zap.Error(err))
			}
		}
	}
}

// CommitIndex reports the highest index known committed, for status
// reporting and tests.
func (l *Log) CommitIndex() uint64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.commitIndex
}

// View returns the materialized view this log applies committed
// entries into. Safe to read concurrently with the apply loop; every
// View accessor returns an independent copy.
func (l *Log) View() *View {
	return l.view
}
