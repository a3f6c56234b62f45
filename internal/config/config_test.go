package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load()
	if err != nil {
		t.Fatalf("Failed to load default config: %v", err)
	}

	if cfg.Server.Host != "0.0.0.0" {
		t.Errorf("Expected server host '0.0.0.0', got '%s'", cfg.Server.Host)
	}

	if cfg.Server.Port != 8080 {
		t.Errorf("Expected server port 8080, got %d", cfg.Server.Port)
	}

	if cfg.Network.ClusterRadiusMiles != 100.0 {
		t.Errorf("Expected cluster radius 100, got %v", cfg.Network.ClusterRadiusMiles)
	}

	if cfg.Network.NodeTimeout() != 300*time.Second {
		t.Errorf("Expected node timeout 300s, got %v", cfg.Network.NodeTimeout())
	}

	if cfg.Network.HeartbeatInterval() != 30*time.Second {
		t.Errorf("Expected heartbeat interval 30s, got %v", cfg.Network.HeartbeatInterval())
	}

	if cfg.Routing.MaxSplitShops != 3 {
		t.Errorf("Expected max split shops 3, got %d", cfg.Routing.MaxSplitShops)
	}

	if cfg.Routing.MaxSplitClusters != 2 {
		t.Errorf("Expected max split clusters 2, got %d", cfg.Routing.MaxSplitClusters)
	}

	if cfg.Routing.MaxRoutingDistanceMiles != 500.0 {
		t.Errorf("Expected max routing distance 500, got %v", cfg.Routing.MaxRoutingDistanceMiles)
	}

	if cfg.Routing.NodeWeights.Distance != 0.4 {
		t.Errorf("Expected node distance weight 0.4, got %v", cfg.Routing.NodeWeights.Distance)
	}

	if cfg.Routing.ClusterWeights.Distance != 0.5 {
		t.Errorf("Expected cluster distance weight 0.5, got %v", cfg.Routing.ClusterWeights.Distance)
	}

	if cfg.EventBus.URL != "" {
		t.Errorf("Expected empty event bus URL by default, got '%s'", cfg.EventBus.URL)
	}

	if cfg.Archive.Enabled {
		t.Error("Expected archive to be disabled by default")
	}

	if !cfg.Telemetry.Enabled {
		t.Error("Expected telemetry to be enabled by default")
	}

	if cfg.Telemetry.ServiceName != "printshop-network" {
		t.Errorf("Expected service name 'printshop-network', got '%s'", cfg.Telemetry.ServiceName)
	}

	if cfg.Logging.Level != "info" {
		t.Errorf("Expected logging level 'info', got '%s'", cfg.Logging.Level)
	}

	if cfg.Logging.Format != "json" {
		t.Errorf("Expected logging format 'json', got '%s'", cfg.Logging.Format)
	}
}

func TestLoadWithEnvironmentVariables(t *testing.T) {
	os.Setenv("PRINTSHOP_SERVER_PORT", "9999")
	os.Setenv("PRINTSHOP_NETWORK_CLUSTER_RADIUS_MILES", "150")
	os.Setenv("PRINTSHOP_ROUTING_MAX_SPLIT_SHOPS", "5")
	os.Setenv("PRINTSHOP_EVENTBUS_URL", "nats://test:4222")
	os.Setenv("PRINTSHOP_LOGGING_LEVEL", "debug")
	defer func() {
		os.Unsetenv("PRINTSHOP_SERVER_PORT")
		os.Unsetenv("PRINTSHOP_NETWORK_CLUSTER_RADIUS_MILES")
		os.Unsetenv("PRINTSHOP_ROUTING_MAX_SPLIT_SHOPS")
		os.Unsetenv("PRINTSHOP_EVENTBUS_URL")
		os.Unsetenv("PRINTSHOP_LOGGING_LEVEL")
	}()

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Failed to load config with env vars: %v", err)
	}

	if cfg.Server.Port != 9999 {
		t.Errorf("Expected server port 9999 from env var, got %d", cfg.Server.Port)
	}

	if cfg.Network.ClusterRadiusMiles != 150.0 {
		t.Errorf("Expected cluster radius 150 from env var, got %v", cfg.Network.ClusterRadiusMiles)
	}

	if cfg.Routing.MaxSplitShops != 5 {
		t.Errorf("Expected max split shops 5 from env var, got %d", cfg.Routing.MaxSplitShops)
	}

	if cfg.EventBus.URL != "nats://test:4222" {
		t.Errorf("Expected event bus URL 'nats://test:4222' from env var, got '%s'", cfg.EventBus.URL)
	}

	if cfg.Logging.Level != "debug" {
		t.Errorf("Expected logging level 'debug' from env var, got '%s'", cfg.Logging.Level)
	}
}

func TestLoadFromFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	content := `
server:
  port: 8181
network:
  cluster_radius_miles: 75
routing:
  max_split_shops: 4
archive:
  enabled: true
  endpoint: grpc://ydb:2136
`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("Failed to write config file: %v", err)
	}

	cfg, err := LoadFromFile(path)
	if err != nil {
		t.Fatalf("Failed to load config from file: %v", err)
	}

	if cfg.Server.Port != 8181 {
		t.Errorf("Expected server port 8181 from file, got %d", cfg.Server.Port)
	}

	if cfg.Network.ClusterRadiusMiles != 75.0 {
		t.Errorf("Expected cluster radius 75 from file, got %v", cfg.Network.ClusterRadiusMiles)
	}

	if cfg.Routing.MaxSplitShops != 4 {
		t.Errorf("Expected max split shops 4 from file, got %d", cfg.Routing.MaxSplitShops)
	}

	if !cfg.Archive.Enabled {
		t.Error("Expected archive enabled from file")
	}

	if cfg.Archive.Endpoint != "grpc://ydb:2136" {
		t.Errorf("Expected archive endpoint 'grpc://ydb:2136', got '%s'", cfg.Archive.Endpoint)
	}

	// Values absent from the file keep their defaults.
	if cfg.Network.NodeTimeoutSeconds != 300 {
		t.Errorf("Expected node timeout 300 from defaults, got %d", cfg.Network.NodeTimeoutSeconds)
	}
}

func TestValidation(t *testing.T) {
	os.Setenv("PRINTSHOP_ROUTING_MAX_SPLIT_SHOPS", "0")
	defer os.Unsetenv("PRINTSHOP_ROUTING_MAX_SPLIT_SHOPS")

	if _, err := Load(); err == nil {
		t.Error("Expected validation error for zero max_split_shops")
	}
}

func TestConfigTimeouts(t *testing.T) {
	cfg, err := Load()
	if err != nil {
		t.Fatalf("Failed to load config: %v", err)
	}

	expectedTimeout := 30 * time.Second
	if cfg.Server.ReadTimeout != expectedTimeout {
		t.Errorf("Expected read timeout %v, got %v", expectedTimeout, cfg.Server.ReadTimeout)
	}

	if cfg.Server.WriteTimeout != expectedTimeout {
		t.Errorf("Expected write timeout %v, got %v", expectedTimeout, cfg.Server.WriteTimeout)
	}
}
