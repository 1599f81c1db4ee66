package observability

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	dto "github.com/prometheus/client_model/go"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

func TestUnaryInterceptorRecordsMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	collector, err := NewBridgeCollector(reg)
	if err != nil {
		t.Fatalf("NewBridgeCollector: %v", err)
	}

	interceptor := collector.UnaryServerInterceptor()
	info := &grpc.UnaryServerInfo{FullMethod: "/meshgraph.bridge.v1.MeshBridge/RunAlgorithms"}

	_, err = interceptor(context.Background(), struct{}{}, info, func(ctx context.Context, req interface{}) (interface{}, error) {
		time.Sleep(10 * time.Millisecond)
		return "ok", nil
	})
	if err != nil {
		t.Fatalf("interceptor handler returned error: %v", err)
	}

	if got := testutil.ToFloat64(collector.RPCRequests.WithLabelValues("MeshBridge", "RunAlgorithms", "OK")); got != 1 {
		t.Fatalf("meshgraph_bridge_requests_total = %v, want 1", got)
	}

	if count := histogramSampleCount(t, reg, "meshgraph_bridge_request_duration_seconds", map[string]string{
		"service": "MeshBridge",
		"method":  "RunAlgorithms",
	}); count != 1 {
		t.Fatalf("meshgraph_bridge_request_duration_seconds sample_count = %d, want 1", count)
	}
}

func TestUnaryInterceptorRecordsErrorCode(t *testing.T) {
	reg := prometheus.NewRegistry()
	collector, err := NewBridgeCollector(reg)
	if err != nil {
		t.Fatalf("NewBridgeCollector: %v", err)
	}

	interceptor := collector.UnaryServerInterceptor()
	info := &grpc.UnaryServerInfo{FullMethod: "/meshgraph.bridge.v1.MeshBridge/DropDevice"}

	_, _ = interceptor(context.Background(), struct{}{}, info, func(ctx context.Context, req interface{}) (interface{}, error) {
		return nil, status.Error(codes.NotFound, "device not connected")
	})

	if got := testutil.ToFloat64(collector.RPCRequests.WithLabelValues("MeshBridge", "DropDevice", "NotFound")); got != 1 {
		t.Fatalf("meshgraph_bridge_requests_total error label = %v, want 1", got)
	}
}

func TestStreamInterceptorRecordsMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	collector, err := NewBridgeCollector(reg)
	if err != nil {
		t.Fatalf("NewBridgeCollector: %v", err)
	}

	info := &grpc.StreamServerInfo{FullMethod: "/meshgraph.bridge.v1.MeshBridge/Subscribe", IsServerStream: true}
	err = collector.StreamServerInterceptor()(nil, nil, info, func(interface{}, grpc.ServerStream) error {
		return status.Error(codes.Canceled, "client gone")
	})
	if status.Code(err) != codes.Canceled {
		t.Fatalf("interceptor returned %v", err)
	}
	if got := testutil.ToFloat64(collector.RPCRequests.WithLabelValues("MeshBridge", "Subscribe", "Canceled")); got != 1 {
		t.Fatalf("stream requests = %v, want 1", got)
	}
}

func TestCollectorsReuseRegistration(t *testing.T) {
	reg := prometheus.NewRegistry()
	first, err := NewMeshCollector(reg)
	if err != nil {
		t.Fatalf("NewMeshCollector: %v", err)
	}
	second, err := NewMeshCollector(reg)
	if err != nil {
		t.Fatalf("second NewMeshCollector: %v", err)
	}

	first.IncConfigTimeouts()
	second.IncConfigTimeouts()
	if got := testutil.ToFloat64(first.ConfigTimeoutsTotal); got != 2 {
		t.Fatalf("shared timeout counter = %v, want 2", got)
	}
}

func TestMeshCollectorRecords(t *testing.T) {
	reg := prometheus.NewRegistry()
	c, err := NewMeshCollector(reg)
	if err != nil {
		t.Fatalf("NewMeshCollector: %v", err)
	}

	c.ObservePacket("node_info", PacketApplied)
	c.ObservePacket("node_info", PacketApplied)
	c.ObservePacket("channel", PacketMalformed)
	c.ObserveConnection("timeout")
	c.ObservePacketSent("text_message", nil)
	c.ObservePacketSent("config", errors.New("broken pipe"))
	c.SetConnectedDevices(2)
	c.SetQueueBacklog("tcp:radio", 7)
	c.SetGraphCounts(4, 3)
	c.ObserveRegenerate(2 * time.Millisecond)
	c.ObserveAnalyticsRun(20 * time.Millisecond)
	c.ObserveAlgorithm("articulation_points", "empty")

	if got := testutil.ToFloat64(c.PacketsTotal.WithLabelValues("node_info", PacketApplied)); got != 2 {
		t.Fatalf("packets applied = %v, want 2", got)
	}
	if got := testutil.ToFloat64(c.PacketsTotal.WithLabelValues("channel", PacketMalformed)); got != 1 {
		t.Fatalf("packets malformed = %v, want 1", got)
	}
	if got := testutil.ToFloat64(c.PacketsSentTotal.WithLabelValues("config", "failed")); got != 1 {
		t.Fatalf("failed writes = %v, want 1", got)
	}
	if got := testutil.ToFloat64(c.QueueBacklog.WithLabelValues("tcp:radio")); got != 7 {
		t.Fatalf("backlog = %v, want 7", got)
	}
	if got := testutil.ToFloat64(c.GraphEdges); got != 3 {
		t.Fatalf("graph edges = %v, want 3", got)
	}
	if got := testutil.ToFloat64(c.AlgorithmOutcomes.WithLabelValues("articulation_points", "empty")); got != 1 {
		t.Fatalf("algorithm outcome = %v, want 1", got)
	}

	c.ForgetDevice("tcp:radio")
	if n := testutil.CollectAndCount(c.QueueBacklog); n != 0 {
		t.Fatalf("backlog series after ForgetDevice = %d, want 0", n)
	}
}

func TestNilMeshCollectorIsSafe(t *testing.T) {
	var c *MeshCollector
	c.ObservePacket("x", PacketApplied)
	c.ObserveConnection("dropped")
	c.ObservePacketSent("x", nil)
	c.IncConfigTimeouts()
	c.SetQueueBacklog("d", 1)
	c.ForgetDevice("d")
	c.SetGraphCounts(1, 1)
	c.ObserveAnalyticsRun(time.Second)
	c.ObserveAlgorithm("a", "b")
}

func TestMetricsHandlerExposesMeshGauges(t *testing.T) {
	reg := prometheus.NewRegistry()
	collector, err := NewMeshCollector(reg)
	if err != nil {
		t.Fatalf("NewMeshCollector: %v", err)
	}
	if _, err := NewBridgeCollector(reg); err != nil {
		t.Fatalf("NewBridgeCollector: %v", err)
	}
	collector.SetGraphCounts(3, 4)
	collector.SetConnectedDevices(5)

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	rr := httptest.NewRecorder()
	collector.Handler().ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("/metrics status = %d, want 200", rr.Code)
	}
	body := rr.Body.String()
	for _, metric := range []string{
		"meshgraph_graph_nodes 3",
		"meshgraph_graph_edges 4",
		"meshgraph_connected_devices 5",
		"meshgraph_bridge_subscribers",
	} {
		if !strings.Contains(body, metric) {
			t.Fatalf("expected %q in /metrics output:\n%s", metric, body)
		}
	}
}

func TestSplitMethod(t *testing.T) {
	cases := []struct {
		in, service, method string
	}{
		{"", "unknown", "unknown"},
		{"/meshgraph.bridge.v1.MeshBridge/GetDevice", "MeshBridge", "GetDevice"},
		{"NoSlash", "unknown", "unknown"},
		{"/svc/", "svc", "unknown"},
	}
	for _, tc := range cases {
		svc, m := SplitMethod(tc.in)
		if svc != tc.service || m != tc.method {
			t.Errorf("SplitMethod(%q) = %q/%q, want %q/%q", tc.in, svc, m, tc.service, tc.method)
		}
	}
}

func histogramSampleCount(t *testing.T, gatherer prometheus.Gatherer, name string, labels map[string]string) uint64 {
	t.Helper()

	metrics, err := gatherer.Gather()
	if err != nil {
		t.Fatalf("gather metrics: %v", err)
	}
	for _, mf := range metrics {
		if mf.GetName() != name {
			continue
		}
		for _, m := range mf.Metric {
			if matchLabels(m.GetLabel(), labels) && m.GetHistogram() != nil {
				return m.GetHistogram().GetSampleCount()
			}
		}
	}
	return 0
}

func matchLabels(got []*dto.LabelPair, want map[string]string) bool {
	if len(got) < len(want) {
		return false
	}
	matched := 0
	for _, lp := range got {
		if val, ok := want[lp.GetName()]; ok && val == lp.GetValue() {
			matched++
		}
	}
	return matched == len(want)
}
