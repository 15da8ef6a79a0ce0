// Package rpc defines the request/response schemas for every RPC named
// in the cluster's external interface: storage-node chunk operations,
// coordinator client-facing flows, and the metadata log's
// leader-election protocol. Every payload is an explicit record type —
// no ad-hoc maps cross an RPC boundary.
package rpc

import (
	"time"

	"github.com/dreamware/shardvault/internal/cluster"
	"github.com/dreamware/shardvault/internal/digest"
)

// --- Storage node surface ---

type PutChunkRequest struct {
	ShardID  int64         `json:"shard_id"`
	Bytes    []byte        `json:"bytes"`
	Expected digest.Digest `json:"expected_digest"`
}

type PutChunkResponse struct {
	Ack bool `json:"ack"`
}

type GetChunkResponse struct {
	ShardID int64  `json:"shard_id"`
	Bytes   []byte `json:"bytes"`
}

type DeleteChunkResponse struct {
	Ack bool `json:"ack"`
}

type HeartbeatResponse struct {
	NodeID string            `json:"node_id"`
	Load   cluster.LoadVector `json:"load"`
}

type ReplicateFromRequest struct {
	ShardID    int64  `json:"shard_id"`
	SourceNode string `json:"source_node"`
}

type ReplicateFromResponse struct {
	Ack bool `json:"ack"`
}

// --- Coordinator client-facing surface ---

type UploadRequest struct {
	Owner string `json:"owner"`
	Name  string `json:"name"`
}

type UploadResponse struct {
	Owner     string  `json:"owner"`
	Name      string  `json:"name"`
	SizeBytes int64   `json:"size_bytes"`
	ShardIDs  []int64 `json:"shard_ids"`
}

type DownloadRequest struct {
	Owner string `json:"owner"`
	Name  string `json:"name"`
}

type DeleteRequest struct {
	Owner string `json:"owner"`
	Name  string `json:"name"`
}

type DeleteResponse struct {
	Ack bool `json:"ack"`
}

type SearchRequest struct {
	Owner  string `json:"owner"`
	Prefix string `json:"prefix"`
}

type ListRequest struct {
	Owner string `json:"owner"`
}

type FileSummary struct {
	Owner     string    `json:"owner"`
	Name      string    `json:"name"`
	SizeBytes int64     `json:"size_bytes"`
	ShardIDs  []int64   `json:"shard_ids"`
	CreatedAt time.Time `json:"created_at"`
}

type ListResponse struct {
	Files []FileSummary `json:"files"`
}

// StatusResponse is the JSON document the coordinator exposes to the
// external web/CLI collaborators at its status endpoint.
type StatusResponse struct {
	Nodes         []cluster.NodeInfo `json:"nodes"`
	CacheHitRate  float64            `json:"cache_hit_rate"`
	LeaderID      string             `json:"leader_id"`
	LeaderTerm    uint64             `json:"leader_term"`
}

// --- Metadata log surface ---

type AppendEntriesRequest struct {
	Term         uint64     `json:"term"`
	LeaderID     string     `json:"leader_id"`
	PrevLogIndex uint64     `json:"prev_log_index"`
	PrevLogTerm  uint64     `json:"prev_log_term"`
	Entries      []LogEntry `json:"entries"`
	LeaderCommit uint64     `json:"leader_commit"`
}

type AppendEntriesResponse struct {
	Term    uint64 `json:"term"`
	Success bool   `json:"success"`
	// ConflictIndex lets the leader back up nextIndex by more than one
	// entry per round trip on a log mismatch.
	ConflictIndex uint64 `json:"conflict_index,omitempty"`
}

type RequestVoteRequest struct {
	Term         uint64 `json:"term"`
	CandidateID  string `json:"candidate_id"`
	LastLogIndex uint64 `json:"last_log_index"`
	LastLogTerm  uint64 `json:"last_log_term"`
}

type RequestVoteResponse struct {
	Term        uint64 `json:"term"`
	VoteGranted bool   `json:"vote_granted"`
}

type InstallSnapshotRequest struct {
	Term              uint64 `json:"term"`
	LeaderID          string `json:"leader_id"`
	LastIncludedIndex uint64 `json:"last_included_index"`
	LastIncludedTerm  uint64 `json:"last_included_term"`
	Snapshot          []byte `json:"snapshot"`
}

type InstallSnapshotResponse struct {
	Term uint64 `json:"term"`
}

// LogEntry is a record in the replicated metadata log. Kind is a closed
// tagged variant; Payload's schema depends on Kind.
type LogEntry struct {
	Term           uint64 `json:"term"`
	Index          uint64 `json:"index"`
	Kind           EntryKind `json:"kind"`
	IdempotencyKey string `json:"idempotency_key"`
	Payload        []byte `json:"payload"`
}

// EntryKind is the closed set of metadata log record types.
type EntryKind string

const (
	EntryFilePut           EntryKind = "file_put"
	EntryFileDelete        EntryKind = "file_delete"
	EntryShardReplicaAdd   EntryKind = "shard_replica_add"
	EntryShardReplicaRemove EntryKind = "shard_replica_remove"
)

// FilePutPayload is the Payload for an EntryFilePut record.
type FilePutPayload struct {
	Owner     string        `json:"owner"`
	Name      string        `json:"name"`
	SizeBytes int64         `json:"size_bytes"`
	ChunkSize int64         `json:"chunk_size"`
	ShardIDs  []int64       `json:"shard_ids"`
	Replicas  map[int64][]string `json:"replicas"` // shard id -> replica node ids
	CreatedAt time.Time     `json:"created_at"`
}

// FileDeletePayload is the Payload for an EntryFileDelete record.
type FileDeletePayload struct {
	Owner string `json:"owner"`
	Name  string `json:"name"`
}

// ShardReplicaAddPayload is the Payload for an EntryShardReplicaAdd record.
type ShardReplicaAddPayload struct {
	ShardID int64  `json:"shard_id"`
	NodeID  string `json:"node_id"`
}

// ShardReplicaRemovePayload is the Payload for an EntryShardReplicaRemove record.
type ShardReplicaRemovePayload struct {
	ShardID int64  `json:"shard_id"`
	NodeID  string `json:"node_id"`
}
