// Package metrics provides the Prometheus-backed replication.MetricsSink:
// bounded-cardinality counters and gauges, no per-client or per-object
// labels.
package metrics

import (
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	capacityErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "snapshot_capacity_errors_total",
		Help: "Capacity errors hit while storing variables or spawns, by kind.",
	}, []string{"kind"}) // bounded: entries, spawns, allocator

	integrityErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "snapshot_integrity_errors_total",
		Help: "Sentinel mismatches detected while parsing an incoming snapshot message, by section.",
	}, []string{"sentinel"}) // bounded: sentinel0..sentinel3

	bytesSent = promauto.NewCounter(prometheus.CounterOpts{
		Name: "snapshot_bytes_sent_total",
		Help: "Total bytes written to peers across all snapshot messages.",
	})

	connectedPeers = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "snapshot_connected_peers",
		Help: "Number of peers with a live transport connection.",
	})
)

// Sink implements replication.MetricsSink against the package-level
// Prometheus collectors registered above.
type Sink struct {
	peerCount int64
}

// NewSink returns a ready-to-use metrics sink. Prometheus collectors are
// process-global, so constructing more than one Sink shares the same
// underlying series.
func NewSink() *Sink {
	return &Sink{}
}

func (s *Sink) CapacityError(kind string) {
	capacityErrors.WithLabelValues(kind).Inc()
}

func (s *Sink) IntegrityError(sentinel string) {
	integrityErrors.WithLabelValues(sentinel).Inc()
}

func (s *Sink) BytesSent(n int) {
	bytesSent.Add(float64(n))
}

func (s *Sink) PeerConnected(clientID uint64) {
	n := atomic.AddInt64(&s.peerCount, 1)
	connectedPeers.Set(float64(n))
}

func (s *Sink) PeerDisconnected(clientID uint64) {
	n := atomic.AddInt64(&s.peerCount, -1)
	if n < 0 {
		atomic.StoreInt64(&s.peerCount, 0)
		n = 0
	}
	connectedPeers.Set(float64(n))
}
