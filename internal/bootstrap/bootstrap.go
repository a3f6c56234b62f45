// Package bootstrap wires the network components together from
// configuration.
package bootstrap

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/wendulem/distributed-print-shops/internal/config"
	"github.com/wendulem/distributed-print-shops/internal/discovery"
	"github.com/wendulem/distributed-print-shops/internal/eventbus"
	"github.com/wendulem/distributed-print-shops/internal/logging"
	"github.com/wendulem/distributed-print-shops/internal/node"
	"github.com/wendulem/distributed-print-shops/internal/optimizer"
	"github.com/wendulem/distributed-print-shops/internal/policy"
	"github.com/wendulem/distributed-print-shops/internal/registry"
	"github.com/wendulem/distributed-print-shops/internal/routing"
	"github.com/wendulem/distributed-print-shops/internal/server"
	"github.com/wendulem/distributed-print-shops/internal/storage"
	"github.com/wendulem/distributed-print-shops/internal/telemetry"
)

// Bootstrap initializes and owns the system components.
type Bootstrap struct {
	Config    *config.Config
	Logger    *zap.Logger
	Telemetry *telemetry.Telemetry
	Bus       eventbus.Bus
	Registry  *registry.Registry
	Discovery *discovery.Discovery
	Router    *routing.Router
	Archive   storage.OrderArchive
	Server    *server.Server

	cancel context.CancelFunc
}

// New creates a new bootstrap instance.
func New() *Bootstrap {
	return &Bootstrap{}
}

// Initialize builds every component from configuration. Nothing is started.
func (b *Bootstrap) Initialize(ctx context.Context, configFile string) error {
	cfg, err := b.loadConfig(configFile)
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}
	b.Config = cfg

	logger, err := logging.New(logging.Config{
		Level:      cfg.Logging.Level,
		Format:     cfg.Logging.Format,
		OutputPath: cfg.Logging.OutputPath,
		ErrorPath:  cfg.Logging.ErrorPath,
	})
	if err != nil {
		return fmt.Errorf("failed to initialize logging: %w", err)
	}
	b.Logger = logger

	logger.Info("configuration loaded",
		zap.String("config_file", configFile),
		zap.String("log_level", cfg.Logging.Level),
		zap.Float64("cluster_radius_miles", cfg.Network.ClusterRadiusMiles))

	tel, err := telemetry.New(cfg.Telemetry)
	if err != nil {
		logger.Error("failed to initialize telemetry", zap.Error(err))
		return fmt.Errorf("failed to initialize telemetry: %w", err)
	}
	b.Telemetry = tel

	bus, err := b.initBus(cfg.EventBus, logger)
	if err != nil {
		return fmt.Errorf("failed to initialize event bus: %w", err)
	}
	b.Bus = bus

	b.Registry = registry.New()
	b.Discovery = discovery.New(b.Registry,
		discovery.WithClusterRadius(cfg.Network.ClusterRadiusMiles),
		discovery.WithHealthCheckInterval(cfg.Network.HealthCheckInterval()),
		discovery.WithNodeTimeout(cfg.Network.NodeTimeout()),
		discovery.WithOptimizationInterval(cfg.Network.OptimizationInterval()),
		discovery.WithLogger(logger.Named("discovery")),
		discovery.WithBus(bus),
		discovery.WithTelemetry(tel),
	)

	opt := optimizer.New(
		optimizer.WithMaxDistance(cfg.Routing.MaxRoutingDistanceMiles),
		optimizer.WithNodeWeights(optimizer.NodeWeights{
			Distance:   cfg.Routing.NodeWeights.Distance,
			Capacity:   cfg.Routing.NodeWeights.Capacity,
			Inventory:  cfg.Routing.NodeWeights.Inventory,
			Capability: cfg.Routing.NodeWeights.Capability,
		}),
		optimizer.WithClusterWeights(optimizer.ClusterWeights{
			Distance:   cfg.Routing.ClusterWeights.Distance,
			Capacity:   cfg.Routing.ClusterWeights.Capacity,
			Capability: cfg.Routing.ClusterWeights.Capability,
		}),
	)

	admission, err := policy.NewEngine(policy.Limits{
		MaxOrderQuantity: cfg.Routing.MaxOrderQuantity,
	})
	if err != nil {
		return fmt.Errorf("failed to compile admission policy: %w", err)
	}

	b.Router = routing.New(b.Registry, b.Discovery,
		routing.WithOptimizer(opt),
		routing.WithAdmission(admission),
		routing.WithMaxSplitShops(cfg.Routing.MaxSplitShops),
		routing.WithMaxSplitClusters(cfg.Routing.MaxSplitClusters),
		routing.WithLogger(logger.Named("routing")),
		routing.WithBus(bus),
		routing.WithTelemetry(tel),
	)

	archive, err := b.initArchive(ctx, cfg.Archive, logger)
	if err != nil {
		return fmt.Errorf("failed to initialize order archive: %w", err)
	}
	b.Archive = archive

	b.Server = server.New(
		server.Config{
			Host:         cfg.Server.Host,
			Port:         cfg.Server.Port,
			ReadTimeout:  cfg.Server.ReadTimeout,
			WriteTimeout: cfg.Server.WriteTimeout,
			RateLimit:    cfg.Server.RateLimit,
			RateBurst:    cfg.Server.RateBurst,
		},
		b.Registry, b.Discovery, b.Router,
		server.WithArchive(archive),
		server.WithLogger(logger.Named("http")),
		server.WithNodeOptions(
			node.WithLogger(logger.Named("node")),
			node.WithBus(bus),
			node.WithHeartbeatInterval(cfg.Network.HeartbeatInterval()),
			node.WithMaxProductionWait(cfg.Network.MaxProductionWait()),
		),
	)

	return nil
}

// Start starts telemetry, the discovery background loops, and the HTTP
// server.
func (b *Bootstrap) Start(ctx context.Context) error {
	if b.Logger == nil {
		return fmt.Errorf("bootstrap not initialized")
	}

	b.Logger.Info("starting print shop network components")

	if b.Telemetry != nil {
		if err := b.Telemetry.Start(ctx); err != nil {
			b.Logger.Error("failed to start telemetry", zap.Error(err))
			return fmt.Errorf("failed to start telemetry: %w", err)
		}
	}

	runCtx, cancel := context.WithCancel(context.Background())
	b.cancel = cancel
	go b.Discovery.Run(runCtx)

	if err := b.Server.Start(ctx); err != nil {
		return fmt.Errorf("failed to start HTTP server: %w", err)
	}

	b.Logger.Info("all components started")
	return nil
}

// Stop shuts the components down in reverse order.
func (b *Bootstrap) Stop(ctx context.Context) error {
	if b.Logger == nil {
		return nil
	}

	b.Logger.Info("stopping print shop network components")

	if b.Server != nil {
		if err := b.Server.Stop(ctx); err != nil {
			b.Logger.Error("failed to stop HTTP server", zap.Error(err))
		}
	}

	if b.cancel != nil {
		b.cancel()
	}

	if b.Bus != nil {
		if err := b.Bus.Close(); err != nil {
			b.Logger.Error("failed to close event bus", zap.Error(err))
		}
	}

	if b.Archive != nil {
		if err := b.Archive.Close(ctx); err != nil {
			b.Logger.Error("failed to close order archive", zap.Error(err))
		}
	}

	if b.Telemetry != nil {
		if err := b.Telemetry.Stop(ctx); err != nil {
			b.Logger.Error("failed to stop telemetry", zap.Error(err))
		}
	}

	// Sync failures on stdout are benign.
	_ = b.Logger.Sync()
	return nil
}

func (b *Bootstrap) loadConfig(configFile string) (*config.Config, error) {
	if configFile != "" {
		return config.LoadFromFile(configFile)
	}
	return config.Load()
}

// initBus selects the event bus: NATS JetStream when a URL is configured,
// otherwise the in-process bus.
func (b *Bootstrap) initBus(cfg config.EventBusConfig, logger *zap.Logger) (eventbus.Bus, error) {
	if cfg.URL == "" {
		logger.Info("using in-process event bus")
		return eventbus.NewMemoryBus(logger.Named("eventbus")), nil
	}

	natsConfig := eventbus.DefaultNATSConfig()
	natsConfig.URL = cfg.URL
	if cfg.StreamName != "" {
		natsConfig.StreamName = cfg.StreamName
	}

	logger.Info("connecting to NATS",
		zap.String("url", cfg.URL),
		zap.String("stream", natsConfig.StreamName))
	return eventbus.NewNATSBus(natsConfig, logger.Named("eventbus"))
}

// initArchive builds the order archive: YDB behind a circuit breaker when
// enabled, otherwise in-memory.
func (b *Bootstrap) initArchive(ctx context.Context, cfg config.ArchiveConfig, logger *zap.Logger) (storage.OrderArchive, error) {
	if !cfg.Enabled {
		logger.Info("using in-memory order archive")
		return storage.NewMemoryArchive(), nil
	}

	connectionString := cfg.Endpoint + cfg.Database
	archive, err := storage.NewYDBArchive(ctx, connectionString, cfg.Table, logger.Named("archive"))
	if err != nil {
		return nil, err
	}
	if err := archive.InitializeSchema(ctx); err != nil {
		_ = archive.Close(ctx)
		return nil, fmt.Errorf("failed to initialize archive schema: %w", err)
	}

	logger.Info("connected to YDB order archive",
		zap.String("endpoint", cfg.Endpoint),
		zap.String("database", cfg.Database))
	return archive, nil
}
