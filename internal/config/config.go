// Package config loads the cluster configuration document: replication
// factor, cache capacity, chunk size, and failure-detector thresholds
// shared by every node and the coordinator, layered with per-process
// environment overrides the way cmd/node and cmd/coordinator always
// have.
package config

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/viper"
)

// Cluster holds the settings spec §6 lists as the single configuration
// document, shared by every process in the cluster.
type Cluster struct {
	ReplicationFactor int           `mapstructure:"replication_factor"`
	MinReplicas       int           `mapstructure:"min_replicas"`
	LRUCapacity       int           `mapstructure:"lru_capacity"`
	UploadShardSize   int64         `mapstructure:"upload_shard_size"`
	HeartbeatInterval time.Duration `mapstructure:"heartbeat_interval"`
	SuspectThreshold  int           `mapstructure:"suspect_threshold"`
	DeadThreshold     time.Duration `mapstructure:"dead_threshold"`
	WorkerPoolSize    int           `mapstructure:"worker_pool_size"`
	SuperNodeAddress  string        `mapstructure:"super_node_address"`
}

func defaults() Cluster {
	return Cluster{
		ReplicationFactor: 3,
		MinReplicas:       2,
		LRUCapacity:       10000,
		UploadShardSize:   50 << 20,
		HeartbeatInterval: time.Second,
		SuspectThreshold:  3,
		DeadThreshold:     10 * time.Second,
		WorkerPoolSize:    4,
	}
}

// LoadCluster reads the cluster document from path (if non-empty) and
// layers SHARDVAULT_-prefixed environment variables on top, falling
// back to defaults for anything unset. A missing path is not an error:
// the cluster can run on env vars and defaults alone.
func LoadCluster(path string) (Cluster, error) {
	v := viper.New()
	d := defaults()
	v.SetDefault("replication_factor", d.ReplicationFactor)
	v.SetDefault("min_replicas", d.MinReplicas)
	v.SetDefault("lru_capacity", d.LRUCapacity)
	v.SetDefault("upload_shard_size", d.UploadShardSize)
	v.SetDefault("heartbeat_interval", d.HeartbeatInterval)
	v.SetDefault("suspect_threshold", d.SuspectThreshold)
	v.SetDefault("dead_threshold", d.DeadThreshold)
	v.SetDefault("worker_pool_size", d.WorkerPoolSize)

	v.SetEnvPrefix("shardvault")
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Cluster{}, fmt.Errorf("config: reading %s: %w", path, err)
		}
	}

	var c Cluster
	if err := v.Unmarshal(&c); err != nil {
		return Cluster{}, fmt.Errorf("config: decoding: %w", err)
	}
	if c.ReplicationFactor < c.MinReplicas {
		return Cluster{}, fmt.Errorf("config: replication_factor (%d) must be >= min_replicas (%d)", c.ReplicationFactor, c.MinReplicas)
	}
	return c, nil
}

// Getenv retrieves an environment variable with a default fallback,
// for process-local bootstrap flags (listen address, node id) that
// never belong in the shared cluster document.
func Getenv(k, def string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return def
}

// MustGetenv retrieves a required environment variable, calling fatal
// if it is unset. fatal is injected so callers (and tests) control
// what "terminate the process" means without this package importing
// log directly.
func MustGetenv(k string, fatal func(format string, args ...any)) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	fatal("missing env %s", k)
	return ""
}
