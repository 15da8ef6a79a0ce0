package cluster

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestNodeInfoJSONRoundTrip(t *testing.T) {
	node := NodeInfo{
		ID:     "node-1",
		Addr:   "localhost:8081",
		Status: StatusActive,
		Load:   LoadVector{CPU: 0.5, DiskUsed: 100, DiskCapacity: 1000, ShardCount: 3},
	}

	data, err := json.Marshal(node)
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}

	var got NodeInfo
	if err := json.Unmarshal(data, &got); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if got != node {
		t.Errorf("round trip = %+v, want %+v", got, node)
	}
}

func TestPostJSON(t *testing.T) {
	type req struct {
		Value int `json:"value"`
	}
	type resp struct {
		Doubled int `json:"doubled"`
	}

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var in req
		if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
			t.Fatalf("server decode: %v", err)
		}
		json.NewEncoder(w).Encode(resp{Doubled: in.Value * 2})
	}))
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	var out resp
	if err := PostJSON(ctx, srv.URL, req{Value: 21}, &out); err != nil {
		t.Fatalf("PostJSON: %v", err)
	}
	if out.Doubled != 42 {
		t.Errorf("Doubled = %d, want 42", out.Doubled)
	}
}

func TestPostJSONHTTPError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	err := PostJSON(ctx, srv.URL, struct{}{}, nil)
	if err == nil {
		t.Fatal("expected error for HTTP 500")
	}
}

func TestGetJSONRespectsContextDeadline(t *testing.T) {
	block := make(chan struct{})

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-block
	}))
	defer srv.Close()
	// Runs before srv.Close: Close waits for the blocked handler to return.
	defer close(block)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	var out struct{}
	if err := GetJSON(ctx, srv.URL, &out); err == nil {
		t.Fatal("expected deadline-exceeded error")
	}
}
