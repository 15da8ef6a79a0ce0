package node

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/dreamware/shardvault/internal/cluster"
	"github.com/dreamware/shardvault/internal/clustererr"
	"github.com/dreamware/shardvault/internal/digest"
	"github.com/dreamware/shardvault/internal/rpc"
)

// Handler builds the node's HTTP mux: PutChunk/GetChunk/DeleteChunk
// under /shard/, Heartbeat for the coordinator's failure detector, and
// ReplicateFrom for peer-to-peer repair.
func (n *Node) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/health", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	mux.HandleFunc("/heartbeat", n.handleHeartbeat)
	mux.HandleFunc("/shard/", n.handleShard)
	mux.HandleFunc("/replicate", n.handleReplicateFrom)
	mux.HandleFunc("/info", n.handleInfo)
	return mux
}

func (n *Node) handleHeartbeat(w http.ResponseWriter, r *http.Request) {
	load, err := n.LoadVector(r.Context())
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, rpc.HeartbeatResponse{NodeID: n.ID, Load: load})
}

func (n *Node) handleInfo(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, struct {
		NodeID string      `json:"node_id"`
		Shards interface{} `json:"shards"`
	}{NodeID: n.ID, Shards: n.ShardInfos()})
}

// handleShard dispatches PUT or POST (store), GET and DELETE against
// /shard/{shardID}.
func (n *Node) handleShard(w http.ResponseWriter, r *http.Request) {
	idStr := strings.TrimPrefix(r.URL.Path, "/shard/")
	idStr = strings.TrimSuffix(idStr, "/")
	shardID, err := strconv.ParseInt(idStr, 10, 64)
	if err != nil {
		http.Error(w, "invalid shard id", http.StatusBadRequest)
		return
	}

	switch r.Method {
	case http.MethodPut, http.MethodPost:
		n.handlePutChunk(w, r, shardID)
	case http.MethodGet:
		n.handleGetChunk(w, shardID)
	case http.MethodDelete:
		n.handleDeleteChunk(w, shardID)
	default:
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
	}
}

func (n *Node) handlePutChunk(w http.ResponseWriter, r *http.Request, shardID int64) {
	var req rpc.PutChunkRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "bad request body", http.StatusBadRequest)
		return
	}
	req.ShardID = shardID

	if err := n.PutChunk(req.ShardID, req.Bytes, req.Expected); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, rpc.PutChunkResponse{Ack: true})
}

func (n *Node) handleGetChunk(w http.ResponseWriter, shardID int64) {
	b, err := n.GetChunk(shardID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, rpc.GetChunkResponse{ShardID: shardID, Bytes: b})
}

func (n *Node) handleDeleteChunk(w http.ResponseWriter, shardID int64) {
	if err := n.DeleteChunk(shardID); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, rpc.DeleteChunkResponse{Ack: true})
}

func (n *Node) handleReplicateFrom(w http.ResponseWriter, r *http.Request) {
	var req rpc.ReplicateFromRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "bad request body", http.StatusBadRequest)
		return
	}

	fetch := func() ([]byte, digest.Digest, error) {
		ctx, cancel := context.WithTimeout(r.Context(), 30*time.Second)
		defer cancel()
		var resp rpc.GetChunkResponse
		url := req.SourceNode + "/shard/" + strconv.FormatInt(req.ShardID, 10)
		if err := cluster.GetJSON(ctx, url, &resp); err != nil {
			return nil, "", err
		}
		return resp.Bytes, digest.Compute(resp.Bytes), nil
	}

	if err := n.ReplicateFrom(req.ShardID, fetch); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, rpc.ReplicateFromResponse{Ack: true})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, clustererr.ErrNotFound):
		http.Error(w, err.Error(), http.StatusNotFound)
	case errors.Is(err, clustererr.ErrDigestMismatch):
		http.Error(w, err.Error(), http.StatusUnprocessableEntity)
	case errors.Is(err, clustererr.ErrOutOfSpace):
		http.Error(w, err.Error(), http.StatusInsufficientStorage)
	default:
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}
