// Package cluster is the foundation every other component builds on: the
// node-identity and load-vector types that flow through registration,
// heartbeats, and placement, plus the HTTP+JSON transport helpers
// (PostJSON, GetJSON) every RPC in the system is built from — storage
// node chunk operations, coordinator upload/download/status, and the
// metadata log's AppendEntries/RequestVote/InstallSnapshot.
//
// The package intentionally holds no cluster state itself (no registry,
// no health monitor); those live in internal/membership and
// internal/coordinator, which depend on this package rather than the
// reverse.
package cluster
