package main

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"go.uber.org/zap"

	"github.com/dreamware/shardvault/internal/cluster"
)

func TestDiskHighWaterDefault(t *testing.T) {
	t.Setenv("NODE_DISK_BYTES", "")
	if got := diskHighWater(); got != 10<<30 {
		t.Fatalf("diskHighWater() = %d, want default", got)
	}
}

func TestDiskHighWaterOverride(t *testing.T) {
	t.Setenv("NODE_DISK_BYTES", "1024")
	if got := diskHighWater(); got != 1024 {
		t.Fatalf("diskHighWater() = %d, want 1024", got)
	}
}

func TestDiskHighWaterInvalidFallsBackToDefault(t *testing.T) {
	t.Setenv("NODE_DISK_BYTES", "not-a-number")
	if got := diskHighWater(); got != 10<<30 {
		t.Fatalf("diskHighWater() = %d, want default on invalid input", got)
	}
}

func TestRegisterRetriesUntilSuccess(t *testing.T) {
	attempts := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempts++
		if attempts < 3 {
			http.Error(w, "not ready", http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	register(context.Background(), srv.URL, "node-1", "http://127.0.0.1:9000", zap.NewNop())
	if attempts != 3 {
		t.Fatalf("attempts = %d, want 3", attempts)
	}
}

func TestRegisterFatalAfterExhaustingRetries(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "down", http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	called := false
	orig := logFatal
	logFatal = func(format string, args ...any) { called = true }
	defer func() { logFatal = orig }()

	register(context.Background(), srv.URL, "node-1", "http://127.0.0.1:9000", zap.NewNop())
	if !called {
		t.Fatal("expected logFatal to be called after exhausting retries")
	}
}

func TestRegisterSendsNodeInfo(t *testing.T) {
	var got cluster.RegisterRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Errorf("decode request: %v", err)
		}
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	register(context.Background(), srv.URL, "node-9", "http://node-9:8081", zap.NewNop())

	if got.Node.ID != "node-9" || got.Node.Addr != "http://node-9:8081" {
		t.Fatalf("register sent %+v, want node-9 @ http://node-9:8081", got.Node)
	}
}
