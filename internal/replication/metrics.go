package replication

// MetricsSink receives the error-kind and traffic events the snapshot
// system's error handling design requires to be surfaced rather than
// silently dropped. internal/metrics provides a Prometheus-backed
// implementation; nil is a valid Host/System configuration and simply
// discards every event.
type MetricsSink interface {
	CapacityError(kind string)
	IntegrityError(sentinel string)
	BytesSent(n int)
	PeerConnected(clientID uint64)
	PeerDisconnected(clientID uint64)
}

type noopMetrics struct{}

func (noopMetrics) CapacityError(string)    {}
func (noopMetrics) IntegrityError(string)   {}
func (noopMetrics) BytesSent(int)           {}
func (noopMetrics) PeerConnected(uint64)    {}
func (noopMetrics) PeerDisconnected(uint64) {}
