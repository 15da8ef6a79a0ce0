// Command coordinator runs the cluster's control-plane process: node
// registration and failure detection, placement-driven upload/download/
// delete/search/list, and participation in the leader-elected metadata
// log.
//
// Configuration (environment variables):
//   - COORDINATOR_ADDR: listen address (default ":8080")
//   - COORDINATOR_ID: this coordinator's raft peer id (required)
//   - COORDINATOR_PEERS: comma-separated "id=addr" pairs for every
//     coordinator in the metadata-log quorum, including self
//   - COORDINATOR_DATA_DIR: directory for the log segment and view
//     (default "./data/coordinator")
package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/dreamware/shardvault/internal/config"
	"github.com/dreamware/shardvault/internal/coordinator"
	"github.com/dreamware/shardvault/internal/membership"
	"github.com/dreamware/shardvault/internal/metadatalog"
	"github.com/dreamware/shardvault/internal/metrics"
)

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

	addr := config.Getenv("COORDINATOR_ADDR", ":8080")
	selfID := config.MustGetenv("COORDINATOR_ID", logFatal)
	dataDir := config.Getenv("COORDINATOR_DATA_DIR", "./data/coordinator")
	peers, peerAddrs := parsePeers(config.Getenv("COORDINATOR_PEERS", selfID+"="+addr))

	cfg, err := config.LoadCluster("")
	if err != nil {
		logFatal("loading cluster config: %v", err)
		return
	}

	registry := prometheus.NewRegistry()
	metric := metrics.NewSink("coordinator", registry)

	mon := membership.New(nil, logger)
	mon.SetThresholds(cfg.SuspectThreshold, cfg.DeadThreshold)

	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		logFatal("creating data dir: %v", err)
		return
	}

	logCfg := metadatalog.Config{
		SelfID:    selfID,
		Peers:     peers,
		Transport: metadatalog.NewHTTPTransport(peerAddrs),
		Logger:    logger,
	}
	mlog, closeLog, err := metadatalog.Open(logCfg, filepath.Join(dataDir, "log.seg"), filepath.Join(dataDir, "view"))
	if err != nil {
		logFatal("opening metadata log: %v", err)
		return
	}
	defer closeLog()

	coord := coordinator.New(coordinator.Options{
		Config:     cfg,
		Membership: mon,
		Log:        mlog,
		Logger:     logger,
		Metrics:    metric,
	})

	ctx, cancel := context.WithCancel(context.Background())
	coord.Start(ctx)

	mux := http.NewServeMux()
	mux.Handle("/", coord.Handler())
	mux.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))

	httpSrv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		logger.Info("coordinator listening", zap.String("addr", addr), zap.String("id", selfID))
		if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logFatal("listen: %v", err)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
	<-stop

	logger.Info("shutting down")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("server shutdown error", zap.Error(err))
	}

	coord.Stop()
	cancel()
	logger.Info("coordinator stopped")
}

// parsePeers parses "id1=addr1,id2=addr2,..." into an ordered peer id
// list and an id->addr lookup for the raft transport.
func parsePeers(spec string) ([]string, map[string]string) {
	addrs := make(map[string]string)
	var ids []string
	for _, pair := range strings.Split(spec, ",") {
		pair = strings.TrimSpace(pair)
		if pair == "" {
			continue
		}
		parts := strings.SplitN(pair, "=", 2)
		if len(parts) != 2 {
			continue
		}
		ids = append(ids, parts[0])
		addrs[parts[0]] = parts[1]
	}
	return ids, addrs
}
