// Package config loads application configuration from YAML files and
// PRINTSHOP_* environment variables, with sensible defaults for a
// single-process deployment.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/wendulem/distributed-print-shops/internal/telemetry"
)

// Config holds the application configuration.
type Config struct {
	Server    ServerConfig     `mapstructure:"server"`
	Network   NetworkConfig    `mapstructure:"network"`
	Routing   RoutingConfig    `mapstructure:"routing"`
	EventBus  EventBusConfig   `mapstructure:"eventbus"`
	Archive   ArchiveConfig    `mapstructure:"archive"`
	Telemetry telemetry.Config `mapstructure:"telemetry"`
	Logging   LoggingConfig    `mapstructure:"logging"`
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Host         string        `mapstructure:"host"`
	Port         int           `mapstructure:"port"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
	RateLimit    float64       `mapstructure:"rate_limit"`
	RateBurst    int           `mapstructure:"rate_burst"`
}

// NetworkConfig holds discovery and node lifecycle configuration.
type NetworkConfig struct {
	ClusterRadiusMiles       float64 `mapstructure:"cluster_radius_miles"`
	HealthCheckSeconds       int     `mapstructure:"health_check_interval_seconds"`
	NodeTimeoutSeconds       int     `mapstructure:"node_timeout_seconds"`
	HeartbeatSeconds         int     `mapstructure:"heartbeat_interval_seconds"`
	OptimizationSeconds      int     `mapstructure:"optimization_interval_seconds"`
	MaxProductionWaitSeconds int     `mapstructure:"max_production_wait_seconds"`
}

// RoutingConfig holds router and optimizer configuration.
type RoutingConfig struct {
	MaxSplitShops           int     `mapstructure:"max_split_shops"`
	MaxSplitClusters        int     `mapstructure:"max_split_clusters"`
	MaxRoutingDistanceMiles float64 `mapstructure:"max_routing_distance_miles"`
	MaxOrderQuantity        int     `mapstructure:"max_order_quantity"`

	NodeWeights    WeightsConfig `mapstructure:"node_weights"`
	ClusterWeights WeightsConfig `mapstructure:"cluster_weights"`
}

// WeightsConfig holds a scoring weight set. Inventory is ignored for
// cluster scoring.
type WeightsConfig struct {
	Distance   float64 `mapstructure:"distance"`
	Capacity   float64 `mapstructure:"capacity"`
	Inventory  float64 `mapstructure:"inventory"`
	Capability float64 `mapstructure:"capability"`
}

// EventBusConfig holds NATS configuration. An empty URL selects the
// in-process bus.
type EventBusConfig struct {
	URL        string `mapstructure:"url"`
	StreamName string `mapstructure:"stream_name"`
}

// ArchiveConfig holds YDB order archive configuration. Disabled by default;
// the core stays an in-memory authority either way.
type ArchiveConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	Endpoint string `mapstructure:"endpoint"`
	Database string `mapstructure:"database"`
	Table    string `mapstructure:"table"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level      string `mapstructure:"level"`
	Format     string `mapstructure:"format"`
	OutputPath string `mapstructure:"output_path"`
	ErrorPath  string `mapstructure:"error_path"`
}

// Load loads configuration from the default search paths.
func Load() (*Config, error) {
	return LoadFromFile("")
}

// LoadFromFile loads configuration from a specific file, falling back to
// defaults when no file is found.
func LoadFromFile(configFile string) (*Config, error) {
	v := viper.New()

	setDefaults(v)

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("./configs")
	v.AddConfigPath("/etc/printshop")

	if configFile != "" {
		v.SetConfigFile(configFile)
	}

	v.SetEnvPrefix("PRINTSHOP")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) validate() error {
	if c.Network.ClusterRadiusMiles <= 0 {
		return fmt.Errorf("network.cluster_radius_miles must be positive, got %v", c.Network.ClusterRadiusMiles)
	}
	if c.Routing.MaxSplitShops < 1 {
		return fmt.Errorf("routing.max_split_shops must be at least 1, got %d", c.Routing.MaxSplitShops)
	}
	if c.Routing.MaxSplitClusters < 1 {
		return fmt.Errorf("routing.max_split_clusters must be at least 1, got %d", c.Routing.MaxSplitClusters)
	}
	if c.Routing.MaxRoutingDistanceMiles <= 0 {
		return fmt.Errorf("routing.max_routing_distance_miles must be positive, got %v", c.Routing.MaxRoutingDistanceMiles)
	}
	return nil
}

// HealthCheckInterval returns the health check interval as a duration.
func (c *NetworkConfig) HealthCheckInterval() time.Duration {
	return time.Duration(c.HealthCheckSeconds) * time.Second
}

// NodeTimeout returns the heartbeat staleness cutoff as a duration.
func (c *NetworkConfig) NodeTimeout() time.Duration {
	return time.Duration(c.NodeTimeoutSeconds) * time.Second
}

// HeartbeatInterval returns the per-node heartbeat interval as a duration.
func (c *NetworkConfig) HeartbeatInterval() time.Duration {
	return time.Duration(c.HeartbeatSeconds) * time.Second
}

// OptimizationInterval returns the re-clustering interval as a duration.
func (c *NetworkConfig) OptimizationInterval() time.Duration {
	return time.Duration(c.OptimizationSeconds) * time.Second
}

// MaxProductionWait returns the simulated production cap as a duration.
func (c *NetworkConfig) MaxProductionWait() time.Duration {
	return time.Duration(c.MaxProductionWaitSeconds) * time.Second
}

func setDefaults(v *viper.Viper) {
	// Server defaults
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.read_timeout", "30s")
	v.SetDefault("server.write_timeout", "30s")
	v.SetDefault("server.rate_limit", 10.0)
	v.SetDefault("server.rate_burst", 20)

	// Network defaults
	v.SetDefault("network.cluster_radius_miles", 100.0)
	v.SetDefault("network.health_check_interval_seconds", 60)
	v.SetDefault("network.node_timeout_seconds", 300)
	v.SetDefault("network.heartbeat_interval_seconds", 30)
	v.SetDefault("network.optimization_interval_seconds", 300)
	v.SetDefault("network.max_production_wait_seconds", 10)

	// Routing defaults
	v.SetDefault("routing.max_split_shops", 3)
	v.SetDefault("routing.max_split_clusters", 2)
	v.SetDefault("routing.max_routing_distance_miles", 500.0)
	v.SetDefault("routing.max_order_quantity", 10000)
	v.SetDefault("routing.node_weights.distance", 0.4)
	v.SetDefault("routing.node_weights.capacity", 0.3)
	v.SetDefault("routing.node_weights.inventory", 0.2)
	v.SetDefault("routing.node_weights.capability", 0.1)
	v.SetDefault("routing.cluster_weights.distance", 0.5)
	v.SetDefault("routing.cluster_weights.capacity", 0.3)
	v.SetDefault("routing.cluster_weights.capability", 0.2)

	// Event bus defaults: empty URL keeps events in-process
	v.SetDefault("eventbus.url", "")
	v.SetDefault("eventbus.stream_name", "PRINTSHOP_EVENTS")

	// Archive defaults
	v.SetDefault("archive.enabled", false)
	v.SetDefault("archive.endpoint", "grpc://localhost:2136")
	v.SetDefault("archive.database", "/local")
	v.SetDefault("archive.table", "order_archive")

	// Telemetry defaults
	v.SetDefault("telemetry.enabled", true)
	v.SetDefault("telemetry.prometheus_port", 9091)
	v.SetDefault("telemetry.jaeger_endpoint", "")
	v.SetDefault("telemetry.service_name", "printshop-network")
	v.SetDefault("telemetry.service_version", "1.0.0")
	v.SetDefault("telemetry.sample_rate", 1.0)

	// Logging defaults
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
	v.SetDefault("logging.output_path", "stdout")
	v.SetDefault("logging.error_path", "stderr")
}
