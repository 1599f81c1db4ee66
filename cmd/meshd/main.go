package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/contrib/instrumentation/google.golang.org/grpc/otelgrpc"
	"google.golang.org/grpc"

	"github.com/signalsfoundry/meshgraph/internal/bridge"
	"github.com/signalsfoundry/meshgraph/internal/config"
	"github.com/signalsfoundry/meshgraph/internal/logging"
	"github.com/signalsfoundry/meshgraph/internal/observability"
	"github.com/signalsfoundry/meshgraph/internal/session"
	"github.com/signalsfoundry/meshgraph/internal/transport"
	"github.com/signalsfoundry/meshgraph/model"
	"github.com/signalsfoundry/meshgraph/timectrl"
)

func main() {
	configPath := flag.String("config", "", "Path to a YAML config file")
	grpcAddr := flag.String("grpc-addr", "", "TCP address the bridge gRPC server listens on (overrides config)")
	metricsAddr := flag.String("metrics-addr", "", "HTTP address for Prometheus /metrics (overrides config)")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config: %v\n", err)
		os.Exit(1)
	}
	if *grpcAddr != "" {
		cfg.GRPCListen = *grpcAddr
	}
	if *metricsAddr != "" {
		cfg.MetricsListen = *metricsAddr
	}
	if err := config.Validate(cfg); err != nil {
		fmt.Fprintf(os.Stderr, "invalid config: %v\n", err)
		os.Exit(1)
	}

	log := logging.New(logging.Config{Level: cfg.Log.Level, Format: cfg.Log.Format, AddSource: true})
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	lis, err := net.Listen("tcp", cfg.GRPCListen)
	if err != nil {
		log.Error(ctx, "failed to listen for gRPC", logging.String("addr", cfg.GRPCListen), logging.Err(err))
		os.Exit(1)
	}

	if err := run(ctx, cfg, log, lis); err != nil {
		log.Error(ctx, "meshd exited with error", logging.Err(err))
		os.Exit(1)
	}
}

// run serves the bridge on lis until ctx is cancelled.
func run(ctx context.Context, cfg config.Config, log logging.Logger, lis net.Listener) error {
	shutdownTracing, err := observability.InitTracing(ctx, cfg.Tracing, log)
	if err != nil {
		return fmt.Errorf("init tracing: %w", err)
	}
	defer observability.ShutdownWithTimeout(context.Background(), shutdownTracing, log)

	reg := prometheus.NewRegistry()
	meshMetrics, err := observability.NewMeshCollector(reg)
	if err != nil {
		return fmt.Errorf("init mesh metrics: %w", err)
	}
	bridgeMetrics, err := observability.NewBridgeCollector(reg)
	if err != nil {
		return fmt.Errorf("init bridge metrics: %w", err)
	}
	metricsSrv := serveMetrics(cfg.MetricsListen, meshMetrics.Handler(), log)

	hub := bridge.NewHub(cfg.SubscriberBuffer, log, bridgeMetrics)
	sess := session.New(
		session.WithDialer(transport.TCPDialer{Timeout: cfg.DialTimeout}),
		session.WithLogger(log),
		session.WithMetrics(meshMetrics),
		session.WithNotifier(hub),
		session.WithConfigTimeout(cfg.ConfigTimeout),
		session.WithAnalyticsOptions(cfg.AnalyticsOptions()),
	)
	sess.InitializeGraphState(ctx)

	server := grpc.NewServer(
		grpc.StatsHandler(otelgrpc.NewServerHandler()),
		grpc.ChainUnaryInterceptor(
			bridge.RequestIDUnaryServerInterceptor(log),
			bridge.TracingUnaryServerInterceptor(),
			bridgeMetrics.UnaryServerInterceptor(),
		),
		grpc.ChainStreamInterceptor(
			bridge.RequestIDStreamServerInterceptor(log),
			bridge.TracingStreamServerInterceptor(),
			bridgeMetrics.StreamServerInterceptor(),
		),
	)
	bridge.RegisterMeshBridgeServer(server, bridge.NewServer(sess, hub, log))

	serveErr := make(chan error, 1)
	log.Info(ctx, "starting bridge gRPC server", logging.String("addr", lis.Addr().String()))
	go func() {
		serveErr <- server.Serve(lis)
	}()

	autoconnect(ctx, sess, cfg.Autoconnect, log)

	tickerCtx, stopTicker := context.WithCancel(ctx)
	defer stopTicker()
	ticker := timectrl.NewTicker(cfg.SnapshotInterval)
	ticker.AddListener(func(time.Time) {
		if err := sess.CaptureSnapshot(tickerCtx); err != nil {
			log.Warn(tickerCtx, "periodic snapshot skipped", logging.Err(err))
		}
	})
	tickerDone := ticker.Start(tickerCtx)

	var runErr error
	select {
	case <-ctx.Done():
	case err := <-serveErr:
		if err != nil && !errors.Is(err, grpc.ErrServerStopped) {
			runErr = fmt.Errorf("serve: %w", err)
		}
	}

	log.Info(context.Background(), "shutting down meshd")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	stopTicker()
	hub.Close()
	server.GracefulStop()
	if err := sess.Close(shutdownCtx); err != nil {
		log.Warn(shutdownCtx, "closing devices", logging.Err(err))
	}
	if metricsSrv != nil {
		_ = metricsSrv.Shutdown(shutdownCtx)
	}
	<-tickerDone
	return runErr
}

func autoconnect(ctx context.Context, sess *session.Session, addrs []string, log logging.Logger) {
	for _, addr := range addrs {
		key := model.DeviceKey(addr)
		if err := sess.Connect(ctx, key); err != nil {
			log.Warn(ctx, "autoconnect failed", logging.Device(key), logging.Err(err))
			continue
		}
		log.Info(ctx, "autoconnect started", logging.Device(key))
	}
}

func serveMetrics(addr string, handler http.Handler, log logging.Logger) *http.Server {
	if addr == "" {
		return nil
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", handler)

	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Warn(context.Background(), "metrics server exited", logging.Err(err))
		}
	}()

	log.Info(context.Background(), "serving Prometheus metrics", logging.String("addr", addr))
	return srv
}
