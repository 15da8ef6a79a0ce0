package coordinator

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/dreamware/shardvault/internal/clustererr"
	"github.com/dreamware/shardvault/internal/cluster"
	"github.com/dreamware/shardvault/internal/rpc"
)

// Handler builds the coordinator's external HTTP surface: registration,
// upload/download/delete/search/list, and status (spec §4.7/§4.10).
func (c *Coordinator) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/health", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	mux.HandleFunc("/register", c.handleRegister)
	mux.HandleFunc("/status", c.handleStatus)
	mux.HandleFunc("/upload", c.handleUpload)
	mux.HandleFunc("/download", c.handleDownload)
	mux.HandleFunc("/delete", c.handleDelete)
	mux.HandleFunc("/search", c.handleSearch)
	mux.HandleFunc("/list", c.handleList)
	mux.HandleFunc("/raft/append-entries", c.handleAppendEntries)
	mux.HandleFunc("/raft/request-vote", c.handleRequestVote)
	return mux
}

func (c *Coordinator) handleRegister(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var req cluster.RegisterRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "bad request body", http.StatusBadRequest)
		return
	}
	if c.membership != nil {
		c.membership.Register(req.Node)
	}
	w.WriteHeader(http.StatusNoContent)
}

func (c *Coordinator) handleStatus(w http.ResponseWriter, r *http.Request) {
	status, err := c.Status(r.Context())
	if err != nil {
		writeCoordError(w, err)
		return
	}
	writeJSON(w, rpc.StatusResponse{
		Nodes:        status.Nodes,
		CacheHitRate: status.CacheHitRate,
		LeaderID:     status.LeaderID,
		LeaderTerm:   status.LeaderTerm,
	})
}

func (c *Coordinator) handleUpload(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	owner := r.URL.Query().Get("owner")
	name := r.URL.Query().Get("name")
	if owner == "" || name == "" {
		http.Error(w, "owner and name are required", http.StatusBadRequest)
		return
	}
	data, err := io.ReadAll(r.Body)
	if err != nil {
		http.Error(w, "read error", http.StatusBadRequest)
		return
	}

	result, err := c.Upload(r.Context(), owner, name, data)
	if err != nil {
		writeCoordError(w, err)
		return
	}
	writeJSON(w, rpc.UploadResponse{
		Owner: result.Owner, Name: result.Name,
		SizeBytes: result.SizeBytes, ShardIDs: result.ShardIDs,
	})
}

func (c *Coordinator) handleDownload(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	owner := r.URL.Query().Get("owner")
	name := r.URL.Query().Get("name")
	if owner == "" || name == "" {
		http.Error(w, "owner and name are required", http.StatusBadRequest)
		return
	}
	data, err := c.Download(r.Context(), owner, name)
	if err != nil {
		writeCoordError(w, err)
		return
	}
	w.Header().Set("Content-Type", "application/octet-stream")
	w.Write(data)
}

func (c *Coordinator) handleDelete(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodDelete && r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	owner := r.URL.Query().Get("owner")
	name := r.URL.Query().Get("name")
	if owner == "" || name == "" {
		http.Error(w, "owner and name are required", http.StatusBadRequest)
		return
	}
	if err := c.Delete(r.Context(), owner, name); err != nil {
		writeCoordError(w, err)
		return
	}
	writeJSON(w, rpc.DeleteResponse{Ack: true})
}

func (c *Coordinator) handleSearch(w http.ResponseWriter, r *http.Request) {
	owner := r.URL.Query().Get("owner")
	prefix := r.URL.Query().Get("prefix")
	writeJSON(w, toListResponse(c.Search(owner, prefix)))
}

func (c *Coordinator) handleList(w http.ResponseWriter, r *http.Request) {
	owner := r.URL.Query().Get("owner")
	writeJSON(w, toListResponse(c.List(owner)))
}

func (c *Coordinator) handleAppendEntries(w http.ResponseWriter, r *http.Request) {
	if c.log == nil {
		http.Error(w, "no metadata log configured", http.StatusServiceUnavailable)
		return
	}
	var req rpc.AppendEntriesRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "bad request body", http.StatusBadRequest)
		return
	}
	writeJSON(w, c.log.HandleAppendEntries(req))
}

func (c *Coordinator) handleRequestVote(w http.ResponseWriter, r *http.Request) {
	if c.log == nil {
		http.Error(w, "no metadata log configured", http.StatusServiceUnavailable)
		return
	}
	var req rpc.RequestVoteRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "bad request body", http.StatusBadRequest)
		return
	}
	writeJSON(w, c.log.HandleRequestVote(req))
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(v)
}

func writeCoordError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, clustererr.ErrInvalidRequest):
		http.Error(w, err.Error(), http.StatusBadRequest)
	case errors.Is(err, clustererr.ErrNotFound):
		http.Error(w, err.Error(), http.StatusNotFound)
	case errors.Is(err, clustererr.ErrDataUnavailable):
		http.Error(w, err.Error(), http.StatusServiceUnavailable)
	case errors.Is(err, clustererr.ErrInsufficientCapacity):
		http.Error(w, err.Error(), http.StatusInsufficientStorage)
	case errors.Is(err, clustererr.ErrLeaderChanged):
		var lc *clustererr.LeaderChangedError
		if errors.As(err, &lc) {
			w.Header().Set("X-Leader-Id", lc.LeaderID)
		}
		http.Error(w, err.Error(), http.StatusMisdirectedRequest)
	default:
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}
