// Package metrics exposes the node's Prometheus gauges: chain height,
// difficulty, hash rate, mempool depth, and peer count. Grounded on the
// teacher's HealthLogger (core/system_health_logging.go), which registers
// one gauge per stat against its own prometheus.Registry and serves it via
// promhttp -- the teacher imports the library but the gauges are mostly set
// from a single runtime snapshot. Here the node command sets chain height
// and the mined-block counter as chain/mining events arrive and samples
// mempool depth and peer count on a timer; the difficulty, hash-rate and
// reorg-depth metrics are registered but nothing in this repository sets
// them.
package metrics

import (
	"context"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds every gauge/counter this node reports.
type Metrics struct {
	registry *prometheus.Registry

	Height      prometheus.Gauge
	Difficulty  prometheus.Gauge
	HashRate    prometheus.Gauge
	MempoolSize prometheus.Gauge
	PeerCount   prometheus.Gauge
	BlocksMined prometheus.Counter
	ReorgDepth  prometheus.Histogram
}

// New creates and registers every gauge against a fresh registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	m := &Metrics{
		registry: reg,
		Height: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "veylan_chain_height",
			Help: "Current canonical chain height",
		}),
		Difficulty: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "veylan_difficulty",
			Help: "Current head block difficulty",
		}),
		HashRate: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "veylan_hash_rate",
			Help: "Estimated local hashes per second",
		}),
		MempoolSize: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "veylan_mempool_size",
			Help: "Number of transactions pending in the mempool",
		}),
		PeerCount: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "veylan_peer_count",
			Help: "Number of connected peers",
		}),
		BlocksMined: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "veylan_blocks_mined_total",
			Help: "Total blocks mined locally and successfully connected",
		}),
		ReorgDepth: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "veylan_reorg_depth",
			Help:    "Depth of chain reorganisations",
			Buckets: prometheus.LinearBuckets(1, 1, 10),
		}),
	}
	reg.MustRegister(m.Height, m.Difficulty, m.HashRate, m.MempoolSize, m.PeerCount, m.BlocksMined, m.ReorgDepth)
	return m
}

// Serve starts the /metrics HTTP endpoint and blocks until ctx is done.
func (m *Metrics) Serve(ctx context.Context, addr string) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{}))
	srv := &http.Server{Addr: addr, Handler: mux}

	errCh := make(chan error, 1)
	go func() { errCh <- srv.ListenAndServe() }()

	select {
	case <-ctx.Done():
		return srv.Close()
	case err := <-errCh:
		return err
	}
}
