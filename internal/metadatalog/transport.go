package metadatalog

import (
	"context"
	"fmt"

	"github.com/dreamware/shardvault/internal/cluster"
	"github.com/dreamware/shardvault/internal/rpc"
)

// httpTransport implements Transport over the cluster's JSON RPC
// helpers, one HTTP round trip per call, against each peer's address.
type httpTransport struct {
	addrs map[string]string // peer id -> base address
}

// NewHTTPTransport builds a Transport that looks up each peer's base
// URL in addrs (e.g. "node-2" -> "http://10.0.0.2:8090").
func NewHTTPTransport(addrs map[string]string) Transport {
	return &httpTransport{addrs: addrs}
}

func (t *httpTransport) AppendEntries(ctx context.Context, peerID string, req rpc.AppendEntriesRequest) (rpc.AppendEntriesResponse, error) {
	var resp rpc.AppendEntriesResponse
	err := cluster.PostJSON(ctx, t.url(peerID, "/raft/append-entries"), req, &resp)
	return resp, err
}

func (t *httpTransport) RequestVote(ctx context.Context, peerID string, req rpc.RequestVoteRequest) (rpc.RequestVoteResponse, error) {
	var resp rpc.RequestVoteResponse
	err := cluster.PostJSON(ctx, t.url(peerID, "/raft/request-vote"), req, &resp)
	return resp, err
}

func (t *httpTransport) InstallSnapshot(ctx context.Context, peerID string, req rpc.InstallSnapshotRequest) (rpc.InstallSnapshotResponse, error) {
	var resp rpc.InstallSnapshotResponse
	err := cluster.PostJSON(ctx, t.url(peerID, "/raft/install-snapshot"), req, &resp)
	return resp, err
}

func (t *httpTransport) url(peerID, path string) string {
	return fmt.Sprintf("%s%s", t.addrs[peerID], path)
}
