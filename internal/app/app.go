// Package app wires the log replica, its block store and the network
// surfaces together.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"path/filepath"

	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/otel"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/reflection"

	"github.com/systemshift/memex-log/internal/dag"
	"github.com/systemshift/memex-log/internal/kubo"
	"github.com/systemshift/memex-log/internal/observability/metrics"
	"github.com/systemshift/memex-log/internal/replica"
	blocksgrpc "github.com/systemshift/memex-log/internal/transport/grpc/blocks"
)

// App owns one replica and serves it.
type App struct {
	config Config
	logger *slog.Logger
	writer string

	registry prometheus.Registerer
	gatherer prometheus.Gatherer
	metrics  *metrics.Prometheus

	kubo    *kubo.Client
	repo    *dag.Repository
	replica *replica.Replica
}

// Option configures an App.
type Option func(*App)

// WithRegistry registers and serves metrics from reg instead of the
// process-wide default registry.
func WithRegistry(reg *prometheus.Registry) Option {
	return func(a *App) {
		a.registry = reg
		a.gatherer = reg
	}
}

// New validates cfg, resolves the writer id and opens the repository.
func New(cfg Config, logger *slog.Logger, opts ...Option) (*App, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		return nil, fmt.Errorf("app: nil logger")
	}
	a := &App{
		config:   cfg,
		logger:   logger,
		registry: prometheus.DefaultRegisterer,
		gatherer: prometheus.DefaultGatherer,
	}
	for _, opt := range opts {
		opt(a)
	}

	a.writer = cfg.WriterID
	if a.writer == "" {
		id, err := dag.LoadIdentity(cfg.IdentityPath)
		if err != nil {
			return nil, fmt.Errorf("app: load identity: %w", err)
		}
		a.writer = id.DID
	}

	m, err := metrics.NewPrometheus(a.registry)
	if err != nil {
		return nil, fmt.Errorf("app: metrics: %w", err)
	}
	a.metrics = m

	store, err := a.openStore()
	if err != nil {
		return nil, err
	}
	instrumented := metrics.NewInstrumentedStore(store, m, otel.Tracer("memexlog/store"))
	repo, err := dag.OpenRepositoryWithStore(cfg.DataDir, instrumented)
	if err != nil {
		return nil, fmt.Errorf("app: open repository: %w", err)
	}
	a.repo = repo
	a.replica = replica.New(repo, replica.WithListOptions(cfg.ListOptions()...), replica.WithMetrics(m))
	return a, nil
}

func (a *App) openStore() (dag.ContentStore, error) {
	switch a.config.Store {
	case StoreKubo:
		a.kubo = kubo.New(a.config.KuboAPI, kubo.WithPin(a.config.KuboPin))
		return a.kubo, nil
	default:
		store, err := dag.NewObjectStore(filepath.Join(a.config.DataDir, ".mx", "objects"))
		if err != nil {
			return nil, fmt.Errorf("app: %w", err)
		}
		return store, nil
	}
}

// Writer returns the local writer id.
func (a *App) Writer() string { return a.writer }

// Replica returns the replica served by a.
func (a *App) Replica() *replica.Replica { return a.replica }

// Run starts tracing, the gRPC block service, the metrics endpoint and the
// peer syncer, and blocks until ctx is canceled or a fatal error occurs.
func (a *App) Run(ctx context.Context) error {
	shutdownTracing, err := a.initTracing(ctx)
	if err != nil {
		return err
	}
	defer func() {
		if err := shutdownTracing(context.Background()); err != nil {
			a.logger.Warn("tracing shutdown failed", "error", err)
		}
	}()

	if a.kubo != nil && !a.kubo.IsAvailable(ctx) {
		a.logger.Warn("kubo daemon not reachable", "api", a.config.KuboAPI)
	}

	lis, err := net.Listen("tcp", a.config.GRPCAddr)
	if err != nil {
		return fmt.Errorf("listen grpc %s: %w", a.config.GRPCAddr, err)
	}
	defer func() { _ = lis.Close() }()

	a.logger.Info(
		"replica started",
		"writer", a.writer,
		"petname", dag.Petname(a.writer),
		"store", a.config.Store,
		"grpc_addr", a.config.GRPCAddr,
	)

	return a.serve(ctx, lis)
}

// serve registers the block service, starts goroutines, and blocks until
// ctx is canceled or a fatal error occurs.
func (a *App) serve(ctx context.Context, lis net.Listener) error {
	server := grpc.NewServer()
	blocksgrpc.RegisterBlockServiceServer(server, blocksgrpc.NewServer(a.replica, otel.Tracer("memexlog/blocks")))
	reflection.Register(server)

	peers, closePeers, err := a.dialPeers()
	if err != nil {
		return err
	}
	defer closePeers()

	if len(peers) > 0 {
		syncer := replica.NewSyncer(a.replica, a.writer, peers, a.config.SyncInterval, a.logger)
		syncer.Start(ctx)
		defer syncer.Stop()
		a.logger.Info("syncer started", "peers", len(peers), "interval", a.config.SyncInterval)
	}

	metricsSrv, metricsLis, err := a.metricsServer()
	if err != nil {
		return err
	}
	defer shutdownHTTPServer(metricsSrv, a.logger, "metrics server")

	errCh := make(chan error, 2)

	go func() {
		if err := server.Serve(lis); err != nil {
			errCh <- fmt.Errorf("grpc serve: %w", err)
		}
	}()
	if metricsSrv != nil {
		a.logger.Info("metrics listening", "addr", a.config.MetricsAddr)
		go func() {
			if err := metricsSrv.Serve(metricsLis); err != nil && !errors.Is(err, http.ErrServerClosed) {
				errCh <- fmt.Errorf("metrics serve: %w", err)
			}
		}()
	}

	select {
	case <-ctx.Done():
		server.GracefulStop()
		return nil
	case err := <-errCh:
		server.Stop()
		return err
	}
}

func (a *App) dialPeers() (map[string]replica.Peer, func(), error) {
	addrs, err := a.config.PeerAddrMap()
	if err != nil {
		return nil, nil, err
	}
	clients, err := blocksgrpc.DialPeers(addrs, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return nil, nil, err
	}
	peers := make(map[string]replica.Peer, len(clients))
	for id, c := range clients {
		peers[id] = c
	}
	closeAll := func() {
		for _, c := range clients {
			_ = c.Close()
		}
	}
	return peers, closeAll, nil
}
