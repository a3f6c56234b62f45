// Package discovery manages cluster formation and node health. Nodes joining
// the network are placed into the nearest qualifying cluster; background
// loops mark stale nodes offline and migrate nodes whose best-fit cluster
// changed.
package discovery

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"

	"github.com/wendulem/distributed-print-shops/internal/cluster"
	"github.com/wendulem/distributed-print-shops/internal/eventbus"
	"github.com/wendulem/distributed-print-shops/internal/models"
	"github.com/wendulem/distributed-print-shops/internal/node"
	"github.com/wendulem/distributed-print-shops/internal/registry"
	"github.com/wendulem/distributed-print-shops/internal/telemetry"
)

const offlineReason = "heartbeat timeout"

// Discovery owns the cluster map and the node health lifecycle.
type Discovery struct {
	registry *registry.Registry

	mu          sync.Mutex
	clusters    map[string]*cluster.Cluster
	nextCluster int

	clusterRadiusMiles   float64
	healthCheckInterval  time.Duration
	nodeTimeout          time.Duration
	optimizationInterval time.Duration

	clock     clockwork.Clock
	logger    *zap.Logger
	bus       eventbus.Bus
	telemetry *telemetry.Telemetry
}

// Option configures Discovery.
type Option func(*Discovery)

// WithClusterRadius overrides the default 100 mile cluster radius.
func WithClusterRadius(miles float64) Option {
	return func(d *Discovery) { d.clusterRadiusMiles = miles }
}

// WithHealthCheckInterval overrides the default 60s health check interval.
func WithHealthCheckInterval(interval time.Duration) Option {
	return func(d *Discovery) { d.healthCheckInterval = interval }
}

// WithNodeTimeout overrides the default 300s heartbeat staleness cutoff.
func WithNodeTimeout(timeout time.Duration) Option {
	return func(d *Discovery) { d.nodeTimeout = timeout }
}

// WithOptimizationInterval overrides the default 300s re-clustering interval.
func WithOptimizationInterval(interval time.Duration) Option {
	return func(d *Discovery) { d.optimizationInterval = interval }
}

// WithClock sets the clock driving the background loops.
func WithClock(clock clockwork.Clock) Option {
	return func(d *Discovery) { d.clock = clock }
}

// WithLogger sets the discovery logger.
func WithLogger(logger *zap.Logger) Option {
	return func(d *Discovery) { d.logger = logger }
}

// WithBus sets the event bus new clusters publish to.
func WithBus(bus eventbus.Bus) Option {
	return func(d *Discovery) { d.bus = bus }
}

// WithTelemetry sets the telemetry sink for discovery counters.
func WithTelemetry(tel *telemetry.Telemetry) Option {
	return func(d *Discovery) { d.telemetry = tel }
}

// New creates a Discovery over the given node arena.
func New(reg *registry.Registry, opts ...Option) *Discovery {
	d := &Discovery{
		registry:             reg,
		clusters:             make(map[string]*cluster.Cluster),
		clusterRadiusMiles:   100,
		healthCheckInterval:  60 * time.Second,
		nodeTimeout:          300 * time.Second,
		optimizationInterval: 300 * time.Second,
		clock:                clockwork.NewRealClock(),
		logger:               zap.NewNop(),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// AddNode registers a node and assigns it to the nearest cluster whose
// center lies within the cluster radius, creating a new cluster centered on
// the node when none qualifies.
func (d *Discovery) AddNode(n *node.Node) (*cluster.Cluster, error) {
	if err := d.registry.Add(n); err != nil {
		return nil, err
	}

	c, err := d.assignToCluster(n)
	if err != nil {
		d.registry.Remove(n.ID())
		return nil, err
	}

	d.incr(telemetry.MetricNodesRegistered)
	d.logger.Info("node joined network",
		zap.String("node_id", n.ID()),
		zap.String("cluster_id", c.ID))
	return c, nil
}

// assignToCluster places the node in the nearest qualifying cluster or
// creates one.
func (d *Discovery) assignToCluster(n *node.Node) (*cluster.Cluster, error) {
	if best := d.nearestClusterWithin(n.Shop.Location, d.clusterRadiusMiles); best != nil {
		if err := best.AddNode(n); err != nil {
			return nil, err
		}
		return best, nil
	}

	c := d.newCluster(n.Shop.Location)
	if err := c.AddNode(n); err != nil {
		return nil, err
	}
	return c, nil
}

func (d *Discovery) newCluster(center models.Location) *cluster.Cluster {
	d.mu.Lock()
	d.nextCluster++
	id := fmt.Sprintf("cluster-%d", d.nextCluster)
	c := cluster.New(id, center, d.clusterRadiusMiles, d.registry,
		cluster.WithLogger(d.logger),
		cluster.WithBus(d.bus))
	d.clusters[id] = c
	d.mu.Unlock()

	d.incr(telemetry.MetricClustersCreated)
	d.logger.Info("cluster created",
		zap.String("cluster_id", id),
		zap.Float64("center_lat", center.Latitude),
		zap.Float64("center_lon", center.Longitude))
	return c
}

// nearestClusterWithin returns the closest cluster whose center is within
// maxMiles of loc, or nil.
func (d *Discovery) nearestClusterWithin(loc models.Location, maxMiles float64) *cluster.Cluster {
	d.mu.Lock()
	defer d.mu.Unlock()

	var best *cluster.Cluster
	bestDistance := maxMiles
	for _, c := range d.clusters {
		if distance := c.DistanceTo(loc); distance <= bestDistance {
			best = c
			bestDistance = distance
		}
	}
	return best
}

// RemoveNode drops a node from the network, deleting its cluster if it was
// the last member.
func (d *Discovery) RemoveNode(id string) {
	d.mu.Lock()
	for cid, c := range d.clusters {
		if c.Contains(id) {
			c.RemoveNode(id)
			if c.Size() == 0 {
				delete(d.clusters, cid)
				d.logger.Info("empty cluster removed", zap.String("cluster_id", cid))
			}
			break
		}
	}
	d.mu.Unlock()

	d.registry.Remove(id)
}

// ClusterOf returns the cluster a node currently belongs to.
func (d *Discovery) ClusterOf(nodeID string) (*cluster.Cluster, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	for _, c := range d.clusters {
		if c.Contains(nodeID) {
			return c, true
		}
	}
	return nil, false
}

// FindClusterForLocation returns the nearest cluster to a location with no
// radius gate, or nil when no clusters exist.
func (d *Discovery) FindClusterForLocation(loc models.Location) *cluster.Cluster {
	d.mu.Lock()
	defer d.mu.Unlock()

	var best *cluster.Cluster
	bestDistance := 0.0
	for _, c := range d.clusters {
		distance := c.DistanceTo(loc)
		if best == nil || distance < bestDistance {
			best = c
			bestDistance = distance
		}
	}
	return best
}

// GetNearestNodes returns up to limit online nodes ordered by distance from
// loc.
func (d *Discovery) GetNearestNodes(loc models.Location, limit int) []*node.Node {
	var online []*node.Node
	for _, n := range d.registry.List() {
		if n.Status() == models.ShopStatusOnline {
			online = append(online, n)
		}
	}

	sort.Slice(online, func(i, j int) bool {
		return online[i].Shop.Location.Distance(loc) < online[j].Shop.Location.Distance(loc)
	})

	if limit > 0 && len(online) > limit {
		online = online[:limit]
	}
	return online
}

// Clusters returns a snapshot of all clusters in stable ID order.
func (d *Discovery) Clusters() []*cluster.Cluster {
	d.mu.Lock()
	defer d.mu.Unlock()

	out := make([]*cluster.Cluster, 0, len(d.clusters))
	for _, c := range d.clusters {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// NetworkStatus builds the full network report.
func (d *Discovery) NetworkStatus() models.NetworkStatus {
	clusters := d.Clusters()
	nodes := d.registry.List()

	status := models.NetworkStatus{
		Clusters: make([]models.ClusterSummary, 0, len(clusters)),
		Nodes:    make([]models.NodeSummary, 0, len(nodes)),
	}

	total, available := 0, 0
	for _, c := range clusters {
		status.Clusters = append(status.Clusters, c.Summary())
	}
	for _, n := range nodes {
		s := n.Summary()
		status.Nodes = append(status.Nodes, s)
		total += s.Capacity.Daily
		if s.Status == models.ShopStatusOnline {
			available += s.Capacity.Available
		}
	}

	status.Metrics = models.NetworkMetrics{
		TotalNodes:        len(nodes),
		ActiveNodes:       d.registry.OnlineCount(),
		TotalClusters:     len(clusters),
		TotalCapacity:     total,
		AvailableCapacity: available,
		LastUpdated:       d.clock.Now().UTC(),
	}
	return status
}

// Run drives the health check and optimization loops until ctx is cancelled.
func (d *Discovery) Run(ctx context.Context) {
	done := make(chan struct{})
	go func() {
		d.healthLoop(ctx)
		done <- struct{}{}
	}()
	go func() {
		d.optimizationLoop(ctx)
		done <- struct{}{}
	}()
	<-done
	<-done
}

func (d *Discovery) healthLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-d.clock.After(d.healthCheckInterval):
			d.CheckNodeHealth()
		}
	}
}

// CheckNodeHealth marks nodes with stale heartbeats offline. Nodes already
// offline are left alone.
func (d *Discovery) CheckNodeHealth() {
	for _, n := range d.registry.List() {
		if n.Status() == models.ShopStatusOffline {
			continue
		}
		if n.IsHealthy(d.nodeTimeout) {
			continue
		}
		n.UpdateStatus(models.ShopStatusOffline, offlineReason)
		d.incr(telemetry.MetricNodesMarkedOffline)
		d.logger.Warn("node marked offline",
			zap.String("node_id", n.ID()),
			zap.Duration("timeout", d.nodeTimeout))
	}
}

func (d *Discovery) optimizationLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-d.clock.After(d.optimizationInterval):
			d.OptimizeClusters()
		}
	}
}

// OptimizeClusters reassigns each node to its best-fit cluster when a closer
// one exists. The move is performed only after the target accepts the node,
// so a node is never left without a cluster.
func (d *Discovery) OptimizeClusters() {
	for _, n := range d.registry.List() {
		current, ok := d.ClusterOf(n.ID())
		if !ok {
			continue
		}

		best := d.nearestClusterWithin(n.Shop.Location, d.clusterRadiusMiles)
		if best == nil || best == current {
			continue
		}
		if best.DistanceTo(n.Shop.Location) >= current.DistanceTo(n.Shop.Location) {
			continue
		}

		if err := best.AddNode(n); err != nil {
			continue
		}
		current.RemoveNode(n.ID())
		d.logger.Info("node reassigned to closer cluster",
			zap.String("node_id", n.ID()),
			zap.String("from_cluster", current.ID),
			zap.String("to_cluster", best.ID))

		d.mu.Lock()
		if current.Size() == 0 {
			delete(d.clusters, current.ID)
		}
		d.mu.Unlock()
	}
}

// LowInventoryReport lists low-stock items per node across the network.
func (d *Discovery) LowInventoryReport() map[string][]models.InventoryItem {
	report := make(map[string][]models.InventoryItem)
	for _, n := range d.registry.List() {
		if low := n.LowInventoryItems(); len(low) > 0 {
			report[n.ID()] = low
		}
	}
	return report
}

func (d *Discovery) incr(name string) {
	if d.telemetry != nil {
		d.telemetry.IncrementCounter(context.Background(), name)
	}
}
