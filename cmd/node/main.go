// Command node runs a single storage node process: it owns a chunk
// store and cache on local disk, serves the coordinator's and peer
// nodes' shard RPCs, and registers itself with the coordinator on
// startup so it becomes a placement candidate.
//
// Configuration (environment variables):
//   - NODE_ID: unique node identifier (required)
//   - NODE_LISTEN: listen address (default ":8081")
//   - NODE_ADDR: public address advertised to the coordinator (default "http://127.0.0.1:8081")
//   - COORDINATOR_ADDR: coordinator base URL (required)
//   - NODE_DATA_DIR: chunk store directory (default "./data/<NODE_ID>")
//   - NODE_DISK_BYTES: disk high-water mark in bytes (default 10GiB)
package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/dreamware/shardvault/internal/cache"
	"github.com/dreamware/shardvault/internal/chunkstore"
	"github.com/dreamware/shardvault/internal/cluster"
	"github.com/dreamware/shardvault/internal/config"
	"github.com/dreamware/shardvault/internal/metrics"
	"github.com/dreamware/shardvault/internal/node"
)

// logFatal is a variable to allow mocking log.Fatal in tests.
var logFatal = func(format string, args ...any) {
	zap.S().Fatalf(format, args...)
}

func main() {
	logger, err := zap.NewProduction()
	if err != nil {
		logFatal("building logger: %v", err)
		return
	}
	defer logger.Sync()

	nodeID := config.MustGetenv("NODE_ID", logFatal)
	listen := config.Getenv("NODE_LISTEN", ":8081")
	public := config.Getenv("NODE_ADDR", "http://127.0.0.1:8081")
	coord := config.MustGetenv("COORDINATOR_ADDR", logFatal)
	dataDir := config.Getenv("NODE_DATA_DIR", "./data/"+nodeID)

	cfg, err := config.LoadCluster("")
	if err != nil {
		logFatal("loading cluster config: %v", err)
		return
	}

	store, err := chunkstore.New(dataDir, diskHighWater())
	if err != nil {
		logFatal("opening chunk store: %v", err)
		return
	}

	metric := metrics.NewSink(nodeID, nil)
	c := cache.New(cfg.LRUCapacity, nil)

	n := node.New(nodeID, store, c, cfg.WorkerPoolSize, metric, logger)

	s := &http.Server{
		Addr:              listen,
		Handler:           n.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		logger.Info("node listening", zap.String("node_id", nodeID), zap.String("addr", listen))
		if err := s.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logFatal("listen: %v", err)
		}
	}()

	register(context.Background(), coord, nodeID, public, logger)

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
	<-stop

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.Shutdown(ctx); err != nil {
		logger.Warn("server shutdown error", zap.Error(err))
	}
	n.Close()
	logger.Info("node stopped", zap.String("node_id", nodeID))
}

func diskHighWater() int64 {
	const defaultBytes = 10 << 30
	v := config.Getenv("NODE_DISK_BYTES", "")
	if v == "" {
		return defaultBytes
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil || n <= 0 {
		return defaultBytes
	}
	return n
}

// register attempts to register the node with the coordinator, retrying
// with a fixed backoff to ride out coordinator startup delays.
func register(ctx context.Context, coord, id, addr string, logger *zap.Logger) {
	body := cluster.RegisterRequest{Node: cluster.NodeInfo{ID: id, Addr: addr}}
	var lastErr error

	for i := 0; i < 10; i++ {
		lastErr = cluster.PostJSON(ctx, coord+"/register", body, nil)
		if lastErr == nil {
			logger.Info("registered with coordinator", zap.String("coordinator", coord))
			return
		}
		logger.Info("register retry", zap.Int("attempt", i+1), zap.Error(lastErr))
		time.Sleep(400 * time.Millisecond)
	}

	logFatal("failed to register with coordinator: %v", lastErr)
}
