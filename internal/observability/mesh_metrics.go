package observability

import (
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Packet outcomes used as the "outcome" label of meshgraph_packets_total.
const (
	PacketApplied   = "applied"
	PacketIgnored   = "ignored"
	PacketMalformed = "malformed"
)

// MeshCollector exposes connection, dispatch, graph and analytics metrics.
type MeshCollector struct {
	gatherer prometheus.Gatherer

	PacketsTotal        *prometheus.CounterVec
	PacketsSentTotal    *prometheus.CounterVec
	ConnectionsTotal    *prometheus.CounterVec
	ConfigTimeoutsTotal prometheus.Counter
	ConnectedDevices    prometheus.Gauge
	QueueBacklog        *prometheus.GaugeVec
	GraphNodes          prometheus.Gauge
	GraphEdges          prometheus.Gauge
	RegenerateDuration  prometheus.Histogram
	AnalyticsDuration   prometheus.Histogram
	AlgorithmOutcomes   *prometheus.CounterVec
}

// NewMeshCollector registers mesh metrics against the provided registerer.
func NewMeshCollector(reg prometheus.Registerer) (*MeshCollector, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}

	packets, err := registerCounterVec(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "meshgraph_packets_total",
		Help: "Decoded packets handled by the dispatcher, labeled by kind and outcome.",
	}, []string{"kind", "outcome"}), "meshgraph_packets_total")
	if err != nil {
		return nil, err
	}

	sent, err := registerCounterVec(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "meshgraph_packets_sent_total",
		Help: "Packets written to devices, labeled by kind and outcome (sent, failed).",
	}, []string{"kind", "outcome"}), "meshgraph_packets_sent_total")
	if err != nil {
		return nil, err
	}

	connections, err := registerCounterVec(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "meshgraph_connections_total",
		Help: "Connection attempts, labeled by how they ended (configured, timeout, handshake_failed, transport_error, dropped).",
	}, []string{"outcome"}), "meshgraph_connections_total")
	if err != nil {
		return nil, err
	}

	timeouts, err := registerCounter(reg, prometheus.NewCounter(prometheus.CounterOpts{
		Name: "meshgraph_config_timeouts_total",
		Help: "Configuration handshakes that hit the timeout.",
	}), "meshgraph_config_timeouts_total")
	if err != nil {
		return nil, err
	}

	devices, err := registerGauge(reg, prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "meshgraph_connected_devices",
		Help: "Devices currently present in the registry.",
	}), "meshgraph_connected_devices")
	if err != nil {
		return nil, err
	}

	backlog, err := registerGaugeVec(reg, prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "meshgraph_packet_queue_backlog",
		Help: "Packets received but not yet dispatched, per device.",
	}, []string{"device"}), "meshgraph_packet_queue_backlog")
	if err != nil {
		return nil, err
	}

	graphNodes, err := registerGauge(reg, prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "meshgraph_graph_nodes",
		Help: "Nodes in the shared topology graph.",
	}), "meshgraph_graph_nodes")
	if err != nil {
		return nil, err
	}
	graphEdges, err := registerGauge(reg, prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "meshgraph_graph_edges",
		Help: "Edges in the shared topology graph.",
	}), "meshgraph_graph_edges")
	if err != nil {
		return nil, err
	}

	regenerate, err := registerHistogram(reg, prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "meshgraph_graph_regenerate_duration_seconds",
		Help:    "Time spent rebuilding the topology graph.",
		Buckets: []float64{0.0001, 0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1},
	}), "meshgraph_graph_regenerate_duration_seconds")
	if err != nil {
		return nil, err
	}

	analytics, err := registerHistogram(reg, prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "meshgraph_analytics_run_duration_seconds",
		Help:    "Duration of a full analytics run across all enabled algorithms.",
		Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2, 5},
	}), "meshgraph_analytics_run_duration_seconds")
	if err != nil {
		return nil, err
	}

	outcomes, err := registerCounterVec(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "meshgraph_algorithm_outcomes_total",
		Help: "Analytics algorithm results, labeled by algorithm and outcome (success, error, empty).",
	}, []string{"algorithm", "outcome"}), "meshgraph_algorithm_outcomes_total")
	if err != nil {
		return nil, err
	}

	return &MeshCollector{
		gatherer:            gathererFor(reg),
		PacketsTotal:        packets,
		PacketsSentTotal:    sent,
		ConnectionsTotal:    connections,
		ConfigTimeoutsTotal: timeouts,
		ConnectedDevices:    devices,
		QueueBacklog:        backlog,
		GraphNodes:          graphNodes,
		GraphEdges:          graphEdges,
		RegenerateDuration:  regenerate,
		AnalyticsDuration:   analytics,
		AlgorithmOutcomes:   outcomes,
	}, nil
}

// Gatherer returns the Prometheus gatherer associated with the collector.
func (c *MeshCollector) Gatherer() prometheus.Gatherer {
	if c == nil {
		return nil
	}
	return c.gatherer
}

// Handler exposes the collector's registry over HTTP.
func (c *MeshCollector) Handler() http.Handler {
	return handlerFor(c.Gatherer())
}

// ObservePacket counts one dispatched packet.
func (c *MeshCollector) ObservePacket(kind, outcome string) {
	if c == nil || c.PacketsTotal == nil {
		return
	}
	c.PacketsTotal.WithLabelValues(kind, outcome).Inc()
}

// ObservePacketSent counts one device write.
func (c *MeshCollector) ObservePacketSent(kind string, err error) {
	if c == nil || c.PacketsSentTotal == nil {
		return
	}
	outcome := "sent"
	if err != nil {
		outcome = "failed"
	}
	c.PacketsSentTotal.WithLabelValues(kind, outcome).Inc()
}

// ObserveConnection counts one resolved connection attempt.
func (c *MeshCollector) ObserveConnection(outcome string) {
	if c == nil || c.ConnectionsTotal == nil {
		return
	}
	c.ConnectionsTotal.WithLabelValues(outcome).Inc()
}

// IncConfigTimeouts increments the configuration-timeout counter.
func (c *MeshCollector) IncConfigTimeouts() {
	if c == nil || c.ConfigTimeoutsTotal == nil {
		return
	}
	c.ConfigTimeoutsTotal.Inc()
}

// SetConnectedDevices updates the registry size gauge.
func (c *MeshCollector) SetConnectedDevices(n int) {
	if c == nil || c.ConnectedDevices == nil {
		return
	}
	c.ConnectedDevices.Set(float64(n))
}

// SetQueueBacklog updates a device's queue depth.
func (c *MeshCollector) SetQueueBacklog(device string, n int) {
	if c == nil || c.QueueBacklog == nil {
		return
	}
	c.QueueBacklog.WithLabelValues(device).Set(float64(n))
}

// ForgetDevice drops the per-device series of a disconnected device.
func (c *MeshCollector) ForgetDevice(device string) {
	if c == nil || c.QueueBacklog == nil {
		return
	}
	c.QueueBacklog.DeleteLabelValues(device)
}

// SetGraphCounts updates the topology size gauges.
func (c *MeshCollector) SetGraphCounts(nodes, edges int) {
	if c == nil {
		return
	}
	if c.GraphNodes != nil {
		c.GraphNodes.Set(float64(nodes))
	}
	if c.GraphEdges != nil {
		c.GraphEdges.Set(float64(edges))
	}
}

// ObserveRegenerate records a graph rebuild duration.
func (c *MeshCollector) ObserveRegenerate(d time.Duration) {
	if c == nil || c.RegenerateDuration == nil {
		return
	}
	c.RegenerateDuration.Observe(d.Seconds())
}

// ObserveAnalyticsRun records a full analytics run duration.
func (c *MeshCollector) ObserveAnalyticsRun(d time.Duration) {
	if c == nil || c.AnalyticsDuration == nil {
		return
	}
	c.AnalyticsDuration.Observe(d.Seconds())
}

// ObserveAlgorithm counts one algorithm outcome.
func (c *MeshCollector) ObserveAlgorithm(algorithm, outcome string) {
	if c == nil || c.AlgorithmOutcomes == nil {
		return
	}
	c.AlgorithmOutcomes.WithLabelValues(algorithm, outcome).Inc()
}

func registerHistogram(reg prometheus.Registerer, hist prometheus.Histogram, name string) (prometheus.Histogram, error) {
	if err := reg.Register(hist); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(prometheus.Histogram); ok {
				return existing, nil
			}
			return nil, fmt.Errorf("collector %s already registered with incompatible type", name)
		}
		return nil, err
	}
	return hist, nil
}

func registerCounter(reg prometheus.Registerer, counter prometheus.Counter, name string) (prometheus.Counter, error) {
	if err := reg.Register(counter); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(prometheus.Counter); ok {
				return existing, nil
			}
			return nil, fmt.Errorf("collector %s already registered with incompatible type", name)
		}
		return nil, err
	}
	return counter, nil
}
