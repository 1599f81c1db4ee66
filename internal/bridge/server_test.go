package bridge

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/status"
	"google.golang.org/grpc/test/bufconn"

	"github.com/signalsfoundry/meshgraph/internal/analytics"
	"github.com/signalsfoundry/meshgraph/internal/observability"
	"github.com/signalsfoundry/meshgraph/internal/session"
	"github.com/signalsfoundry/meshgraph/internal/transport"
	"github.com/signalsfoundry/meshgraph/model"
	"github.com/signalsfoundry/meshgraph/packet"
	"github.com/signalsfoundry/meshgraph/timectrl"
)

const radio = "radio.local:4403"

type bridgeHarness struct {
	client  *Client
	dialer  *transport.PipeDialer
	hub     *Hub
	metrics *observability.BridgeCollector
}

func newBridgeHarness(t *testing.T) *bridgeHarness {
	t.Helper()

	metrics, err := observability.NewBridgeCollector(prometheus.NewRegistry())
	if err != nil {
		t.Fatalf("NewBridgeCollector: %v", err)
	}
	h := &bridgeHarness{
		dialer:  transport.NewPipeDialer(),
		metrics: metrics,
	}
	h.hub = NewHub(64, nil, metrics)
	sess := session.New(
		session.WithDialer(h.dialer),
		session.WithNotifier(h.hub),
		session.WithClock(timectrl.NewManualClock(time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC))),
	)

	lis := bufconn.Listen(1 << 20)
	server := grpc.NewServer(
		grpc.ChainUnaryInterceptor(
			RequestIDUnaryServerInterceptor(nil),
			TracingUnaryServerInterceptor(),
			metrics.UnaryServerInterceptor(),
		),
		grpc.ChainStreamInterceptor(
			RequestIDStreamServerInterceptor(nil),
			TracingStreamServerInterceptor(),
			metrics.StreamServerInterceptor(),
		),
	)
	RegisterMeshBridgeServer(server, NewServer(sess, h.hub, nil))
	go func() { _ = server.Serve(lis) }()

	conn, err := grpc.NewClient("passthrough:///bufnet",
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) {
			return lis.DialContext(ctx)
		}),
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	)
	if err != nil {
		t.Fatalf("grpc.NewClient: %v", err)
	}
	t.Cleanup(func() {
		_ = conn.Close()
		h.hub.Close()
		server.Stop()
		_ = sess.Close(context.Background())
	})
	h.client = NewClient(conn)
	return h
}

func chain(p *transport.Pipe, id uint32) {
	snr, hops := 5.0, uint32(0)
	pos := func(lat, lon float64) *model.PositionMetric {
		return &model.PositionMetric{
			LatitudeI:  int32(lat / model.PositionScale),
			LongitudeI: int32(lon / model.PositionScale),
			Time:       time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC),
		}
	}
	_ = p.Deliver(
		packet.MyNodeInfo{MyNodeNum: 1},
		packet.NodeInfo{Num: 1, Position: pos(47.0, 8.0)},
		packet.NodeInfo{Num: 2, Position: pos(47.01, 8.01), SNR: &snr, HopsAway: &hops},
		packet.NodeInfo{Num: 3, Position: pos(47.02, 8.02)},
		packet.NeighborInfo{NodeNum: 2, Neighbors: []model.Neighbor{{NodeNum: 3, SNR: -2}}},
		packet.ConfigComplete{ConfigID: id},
	)
}

func TestBridgeBeforeInitialization(t *testing.T) {
	h := newBridgeHarness(t)
	ctx := context.Background()

	if _, err := h.client.NodeEdges(ctx); status.Code(err) != codes.FailedPrecondition {
		t.Fatalf("NodeEdges code = %v, want FailedPrecondition (err=%v)", status.Code(err), err)
	}
	if _, err := h.client.RunAlgorithms(ctx, analytics.AllFlags()); status.Code(err) != codes.FailedPrecondition {
		t.Fatalf("RunAlgorithms code = %v, want FailedPrecondition (err=%v)", status.Code(err), err)
	}
}

func TestBridgeRequestValidationAndLookup(t *testing.T) {
	h := newBridgeHarness(t)
	ctx := context.Background()

	if _, err := h.client.ConnectTCP(ctx, ""); status.Code(err) != codes.InvalidArgument {
		t.Fatalf("ConnectTCP(\"\") code = %v, want InvalidArgument", status.Code(err))
	}
	if _, err := h.client.ConnectTCP(ctx, "unreachable:1"); status.Code(err) != codes.Unavailable {
		t.Fatalf("ConnectTCP unreachable code = %v, want Unavailable", status.Code(err))
	}
	if err := h.client.DropDevice(ctx, "missing"); status.Code(err) != codes.NotFound {
		t.Fatalf("DropDevice code = %v, want NotFound", status.Code(err))
	}
	_, err := h.client.Device(ctx, "missing")
	if st := status.Convert(err); st.Code() != codes.NotFound || st.Message() != "device not connected" {
		t.Fatalf("Device(missing) = %v, want NotFound device not connected", err)
	}
	if err := h.client.DropAll(ctx); err != nil {
		t.Fatalf("DropAll with no devices: %v", err)
	}

	got := testutil.ToFloat64(h.metrics.RPCRequests.WithLabelValues("MeshBridge", "DropDevice", codes.NotFound.String()))
	if got != 1 {
		t.Fatalf("DropDevice NotFound counter = %v, want 1", got)
	}
}

func TestBridgeSessionRoundTrip(t *testing.T) {
	h := newBridgeHarness(t)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	events, err := h.client.Subscribe(ctx)
	if err != nil {
		t.Fatalf("Subscribe: %v", err)
	}
	deadline := time.Now().Add(2 * time.Second)
	for h.hub.Subscribers() == 0 {
		if time.Now().After(deadline) {
			t.Fatalf("subscriber never attached")
		}
		time.Sleep(time.Millisecond)
	}

	if err := h.client.InitializeGraphState(ctx); err != nil {
		t.Fatalf("InitializeGraphState: %v", err)
	}
	h.dialer.Register(radio, transport.NewPipe().OnConfigure(chain))
	key, err := h.client.ConnectTCP(ctx, radio)
	if err != nil {
		t.Fatalf("ConnectTCP: %v", err)
	}
	if key != radio {
		t.Fatalf("device key = %q, want %q", key, radio)
	}
	if _, err := h.client.ConnectTCP(ctx, radio); status.Code(err) != codes.AlreadyExists {
		t.Fatalf("second ConnectTCP code = %v, want AlreadyExists", status.Code(err))
	}

	var (
		sawGraph bool
		cfg      model.ConfigurationStatus
	)
	for cfg.DeviceKey == "" {
		ev, err := events.Recv()
		if err != nil {
			t.Fatalf("Recv: %v", err)
		}
		switch ev.Type {
		case EventGraphUpdate:
			sawGraph = true
		case EventConfigurationStatus:
			if err := ev.Decode(&cfg); err != nil {
				t.Fatalf("decode status: %v", err)
			}
		}
	}
	if !cfg.Successful || cfg.DeviceKey != radio {
		t.Fatalf("configuration status = %+v, want success for %s", cfg, radio)
	}
	if !sawGraph {
		t.Fatalf("no graph update before configuration completed")
	}

	ne, err := h.client.NodeEdges(ctx)
	if err != nil {
		t.Fatalf("NodeEdges: %v", err)
	}
	if len(ne.Nodes.Features) != 3 || len(ne.Edges.Features) != 2 {
		t.Fatalf("NodeEdges = %d nodes, %d edges; want 3, 2", len(ne.Nodes.Features), len(ne.Edges.Features))
	}

	res, err := h.client.RunAlgorithms(ctx, analytics.AllFlags())
	if err != nil {
		t.Fatalf("RunAlgorithms: %v", err)
	}
	if len(res.APResult) != 1 || res.APResult[0] != 2 {
		t.Fatalf("APResult = %v, want [2]", res.APResult)
	}
	if len(res.MincutResult) != 1 || res.MincutResult[0] != [2]uint32{2, 3} {
		t.Fatalf("MincutResult = %v, want [[2 3]]", res.MincutResult)
	}
	if score := res.DiffcenResult[2][1][3]; score != 0.5 {
		t.Fatalf("DiffcenResult[2][1][3] = %v, want 0.5", score)
	}

	d, err := h.client.Device(ctx, radio)
	if err != nil {
		t.Fatalf("Device: %v", err)
	}
	if d.Status != model.StatusConnected || len(d.Nodes) != 3 {
		t.Fatalf("device = status %v with %d nodes, want connected with 3", d.Status, len(d.Nodes))
	}

	if err := h.client.DropDevice(ctx, radio); err != nil {
		t.Fatalf("DropDevice: %v", err)
	}
	if _, err := h.client.Device(ctx, radio); status.Code(err) != codes.NotFound {
		t.Fatalf("Device after drop code = %v, want NotFound", status.Code(err))
	}
}
