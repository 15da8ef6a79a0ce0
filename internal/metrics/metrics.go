// Package metrics exposes the observability surface spec §6 requires at
// each component's /metrics endpoint: cache hits/misses/size, chunks
// replicated, placement decisions, node/leader/election counts,
// heartbeat checks, and RPC latency. It follows the noop-vs-real sink
// pattern: a component wired with a nil registry pays nothing for
// metrics, one wired with a real registry gets labeled Prometheus
// counters and gauges.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Sink is everything a component needs to record into, independent of
// whether metrics are actually collected.
type Sink interface {
	IncCacheHit()
	IncCacheMiss()
	SetCacheSize(size, capacity int)
	IncReplication(success bool)
	IncPlacementDecision(nodeID string)
	SetActiveNodes(n int)
	SetTotalNodes(n int)
	IncNodeFailure()
	IncNodeRecovery()
	IncLeaderChange()
	IncElection()
	IncHeartbeatCheck(success bool)
	ObserveRPCLatency(rpc string, d time.Duration)
}

// NewSink returns a real Prometheus-backed sink registered against reg,
// or a no-op sink if reg is nil.
func NewSink(component string, reg *prometheus.Registry) Sink {
	if reg == nil {
		return noopSink{}
	}
	return newPromSink(component, reg)
}

type noopSink struct{}

func (noopSink) IncCacheHit()                               {}
func (noopSink) IncCacheMiss()                               {}
func (noopSink) SetCacheSize(size, capacity int)             {}
func (noopSink) IncReplication(success bool)                 {}
func (noopSink) IncPlacementDecision(nodeID string)          {}
func (noopSink) SetActiveNodes(n int)                        {}
func (noopSink) SetTotalNodes(n int)                         {}
func (noopSink) IncNodeFailure()                             {}
func (noopSink) IncNodeRecovery()                            {}
func (noopSink) IncLeaderChange()                            {}
func (noopSink) IncElection()                                {}
func (noopSink) IncHeartbeatCheck(success bool)              {}
func (noopSink) ObserveRPCLatency(rpc string, d time.Duration) {}

type promSink struct {
	cacheHits, cacheMisses   prometheus.Counter
	cacheSize, cacheCapacity prometheus.Gauge
	replicationOK, replicationFail prometheus.Counter
	placementDecisions       *prometheus.CounterVec
	activeNodes, totalNodes  prometheus.Gauge
	nodeFailures, nodeRecoveries prometheus.Counter
	leaderChanges, elections prometheus.Counter
	heartbeatOK, heartbeatFail prometheus.Counter
	rpcLatency               *prometheus.HistogramVec
}

func newPromSink(component string, reg *prometheus.Registry) *promSink {
	ns := "shardvault"
	labels := prometheus.Labels{"component": component}

	p := &promSink{
		cacheHits: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: ns, Name: "cache_hits_total", ConstLabels: labels,
		}),
		cacheMisses: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: ns, Name: "cache_misses_total", ConstLabels: labels,
		}),
		cacheSize: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: ns, Name: "cache_size", ConstLabels: labels,
		}),
		cacheCapacity: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: ns, Name: "cache_capacity", ConstLabels: labels,
		}),
		replicationOK: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: ns, Name: "replication_success_total", ConstLabels: labels,
		}),
		replicationFail: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: ns, Name: "replication_failure_total", ConstLabels: labels,
		}),
		placementDecisions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: ns, Name: "placement_decisions_total", ConstLabels: labels,
		}, []string{"node_id"}),
		activeNodes: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: ns, Name: "active_nodes", ConstLabels: labels,
		}),
		totalNodes: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: ns, Name: "total_nodes", ConstLabels: labels,
		}),
		nodeFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: ns, Name: "node_failures_total", ConstLabels: labels,
		}),
		nodeRecoveries: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: ns, Name: "node_recoveries_total", ConstLabels: labels,
		}),
		leaderChanges: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: ns, Name: "leader_changes_total", ConstLabels: labels,
		}),
		elections: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: ns, Name: "elections_total", ConstLabels: labels,
		}),
		heartbeatOK: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: ns, Name: "heartbeat_checks_total", ConstLabels: labels,
		}),
		heartbeatFail: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: ns, Name: "heartbeat_failures_total", ConstLabels: labels,
		}),
		rpcLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: ns, Name: "rpc_latency_seconds", ConstLabels: labels,
			Buckets: prometheus.DefBuckets,
		}, []string{"rpc"}),
	}

	reg.MustRegister(
		p.cacheHits, p.cacheMisses, p.cacheSize, p.cacheCapacity,
		p.replicationOK, p.replicationFail, p.placementDecisions,
		p.activeNodes, p.totalNodes, p.nodeFailures, p.nodeRecoveries,
		p.leaderChanges, p.elections, p.heartbeatOK, p.heartbeatFail,
		p.rpcLatency,
	)
	return p
}

func (p *promSink) IncCacheHit()  { p.cacheHits.Inc() }
func (p *promSink) IncCacheMiss() { p.cacheMisses.Inc() }

func (p *promSink) SetCacheSize(size, capacity int) {
	p.cacheSize.Set(float64(size))
	p.cacheCapacity.Set(float64(capacity))
}

func (p *promSink) IncReplication(success bool) {
	if success {
		p.replicationOK.Inc()
	} else {
		p.replicationFail.Inc()
	}
}

func (p *promSink) IncPlacementDecision(nodeID string) {
	p.placementDecisions.WithLabelValues(nodeID).Inc()
}

func (p *promSink) SetActiveNodes(n int) { p.activeNodes.Set(float64(n)) }
func (p *promSink) SetTotalNodes(n int)  { p.totalNodes.Set(float64(n)) }
func (p *promSink) IncNodeFailure()      { p.nodeFailures.Inc() }
func (p *promSink) IncNodeRecovery()     { p.nodeRecoveries.Inc() }
func (p *promSink) IncLeaderChange()     { p.leaderChanges.Inc() }
func (p *promSink) IncElection()         { p.elections.Inc() }

func (p *promSink) IncHeartbeatCheck(success bool) {
	if success {
		p.heartbeatOK.Inc()
	} else {
		p.heartbeatFail.Inc()
	}
}

func (p *promSink) ObserveRPCLatency(rpc string, d time.Duration) {
	p.rpcLatency.WithLabelValues(rpc).Observe(d.Seconds())
}
