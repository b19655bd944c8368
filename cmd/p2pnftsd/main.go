package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/google.golang.org/grpc/otelgrpc"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	"google.golang.org/grpc/health/grpc_health_v1"

	"p2pnfts/config"
	"p2pnfts/core/events"
	"p2pnfts/observability"
	"p2pnfts/observability/logging"
	telemetry "p2pnfts/observability/otel"
	"p2pnfts/services/indexer"
	"p2pnfts/services/p2pnftsd"
	"p2pnfts/storage"
)

const shutdownTimeout = 5 * time.Second

func main() {
	var cfgPath, exportPath string
	flag.StringVar(&cfgPath, "config", "p2pnftsd.yaml", "path to p2pnftsd config")
	flag.StringVar(&exportPath, "export-loans", "", "write the indexed loans to this parquet file and exit")
	flag.Parse()

	cfg, err := p2pnftsd.LoadConfig(cfgPath)
	if err != nil {
		log.Fatalf("load config: %v", err)
	}

	logger, logCloser := logging.SetupWithOptions("p2pnftsd", cfg.Log.Env, cfg.Log.Options())
	defer logCloser.Close()

	otelCfg := telemetry.FromEnv("p2pnftsd", cfg.Log.Env)
	otelCfg.Attributes = map[string]string{
		"p2pnfts.genesis": cfg.GenesisPath,
		"p2pnfts.storage": cfg.Storage.Backend,
	}
	shutdownTelemetry, err := telemetry.Init(context.Background(), otelCfg)
	if err != nil {
		log.Fatalf("init telemetry: %v", err)
	}
	defer func() {
		if shutdownTelemetry != nil {
			_ = shutdownTelemetry(context.Background())
		}
	}()

	if exportPath != "" {
		if err := exportLoans(cfg, exportPath, logger); err != nil {
			logger.Error("export loans", slog.Any("error", err))
			os.Exit(1)
		}
		return
	}

	if err := run(cfg, logger); err != nil {
		logger.Error("p2pnftsd stopped", slog.Any("error", err))
		os.Exit(1)
	}
}

func run(cfg p2pnftsd.Config, logger *slog.Logger) error {
	genesis, err := config.Load(cfg.GenesisPath)
	if err != nil {
		return err
	}
	network, err := genesis.Resolve()
	if err != nil {
		return err
	}

	db, err := openStorage(cfg.Storage)
	if err != nil {
		return err
	}
	defer db.Close()

	metrics := observability.ProtocolMetrics()
	metrics.SetClassifier(p2pnftsd.Classify)

	hub := p2pnftsd.NewHub()
	cache, err := p2pnftsd.NewLoanCache(cfg.Cache.MaxLoans)
	if err != nil {
		return fmt.Errorf("loan cache: %w", err)
	}
	defer cache.Close()

	fanout := events.FanOut{observability.Events(), hub, cache}
	nodeOpts := p2pnftsd.NodeOptions{Metrics: metrics, Logger: logger}
	serverOpts := p2pnftsd.ServerOptions{
		Hub:          hub,
		Cache:        cache,
		Auth:         cfg.Auth.Middleware(),
		RateLimits:   cfg.RateLimits.Limits(),
		DevEndpoints: cfg.DevEndpoints,
		Observer:     metrics,
		Logger:       logger,
	}

	// The store sits first so cached lookups never race ahead of the index.
	if cfg.Indexer.Driver != "" {
		store, err := indexer.Open(cfg.Indexer.Driver, cfg.Indexer.DSN)
		if err != nil {
			return fmt.Errorf("open indexer: %w", err)
		}
		defer store.Close()
		store.SetLogger(logger)
		fanout = append(events.FanOut{store}, fanout...)
		nodeOpts.Offers = store
		serverOpts.Index = store
	}

	if cfg.NATS.URL != "" {
		publisher, conn, err := p2pnftsd.ConnectPublisher(cfg.NATS.URL, cfg.NATS.SubjectPrefix, logger)
		if err != nil {
			return fmt.Errorf("connect nats: %w", err)
		}
		defer drain(conn, logger)
		fanout = append(fanout, publisher)
	}
	nodeOpts.Emitter = fanout

	node, err := p2pnftsd.NewNode(network, db, nodeOpts)
	if err != nil {
		return err
	}
	server := p2pnftsd.NewServer(node, serverOpts)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	apiServer := &http.Server{
		Addr:              cfg.ListenAddress,
		Handler:           server.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	metricsMux := http.NewServeMux()
	metricsMux.Handle("/metrics", promhttp.Handler())
	metricsServer := &http.Server{
		Addr:              cfg.MetricsAddress,
		Handler:           metricsMux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	grpcListener, err := net.Listen("tcp", cfg.GRPCAddress)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", cfg.GRPCAddress, err)
	}
	grpcServer := grpc.NewServer(grpc.ChainUnaryInterceptor(otelgrpc.UnaryServerInterceptor()))
	healthServer := health.NewServer()
	grpc_health_v1.RegisterHealthServer(grpcServer, healthServer)
	healthServer.SetServingStatus("", grpc_health_v1.HealthCheckResponse_SERVING)

	serverErr := make(chan error, 3)
	go func() {
		logger.Info("p2pnftsd listening",
			slog.String("addr", cfg.ListenAddress),
			slog.String("chain_id", network.ChainID.String()),
			slog.Int("markets", len(node.Markets())))
		serverErr <- serveHTTP(apiServer)
	}()
	go func() {
		logger.Info("metrics listening", slog.String("addr", cfg.MetricsAddress))
		serverErr <- serveHTTP(metricsServer)
	}()
	go func() {
		logger.Info("grpc health listening", slog.String("addr", cfg.GRPCAddress))
		serverErr <- grpcServer.Serve(grpcListener)
	}()

	var runErr error
	select {
	case <-ctx.Done():
		logger.Info("shutdown signal received")
	case runErr = <-serverErr:
	}

	healthServer.Shutdown()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := apiServer.Shutdown(shutdownCtx); err != nil {
		logger.Warn("api shutdown", slog.Any("error", err))
	}
	if err := metricsServer.Shutdown(shutdownCtx); err != nil {
		logger.Warn("metrics shutdown", slog.Any("error", err))
	}
	done := make(chan struct{})
	go func() {
		grpcServer.GracefulStop()
		close(done)
	}()
	select {
	case <-done:
	case <-shutdownCtx.Done():
		logger.Warn("forcing grpc stop")
		grpcServer.Stop()
	}
	return runErr
}

func exportLoans(cfg p2pnftsd.Config, path string, logger *slog.Logger) error {
	if cfg.Indexer.Driver == "" {
		return p2pnftsd.ErrIndexerDisabled
	}
	store, err := indexer.Open(cfg.Indexer.Driver, cfg.Indexer.DSN)
	if err != nil {
		return fmt.Errorf("open indexer: %w", err)
	}
	defer store.Close()
	n, err := store.ExportLoans(path)
	if err != nil {
		return err
	}
	logger.Info("exported loans", slog.String("path", path), slog.Int("loans", n))
	return nil
}

func serveHTTP(srv *http.Server) error {
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("serve %s: %w", srv.Addr, err)
	}
	return nil
}

func openStorage(cfg p2pnftsd.StorageConfig) (storage.Database, error) {
	switch strings.ToLower(cfg.Backend) {
	case "", "memory":
		return storage.NewMemDB(), nil
	case "leveldb":
		db, err := storage.NewLevelDB(cfg.Path)
		if err != nil {
			return nil, fmt.Errorf("open leveldb %s: %w", cfg.Path, err)
		}
		return db, nil
	case "bolt":
		db, err := storage.NewBoltDB(cfg.Path, nil)
		if err != nil {
			return nil, fmt.Errorf("open bolt %s: %w", cfg.Path, err)
		}
		return db, nil
	default:
		return nil, fmt.Errorf("unknown storage backend %q", cfg.Backend)
	}
}

func drain(conn *nats.Conn, logger *slog.Logger) {
	if err := conn.Drain(); err != nil {
		logger.Warn("nats drain", slog.Any("error", err))
	}
}
