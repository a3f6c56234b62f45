// Package cluster groups geographically close print shop nodes. A cluster
// stores node IDs only; runtime node state is resolved through the registry
// arena.
package cluster

import (
	"fmt"
	"sort"
	"sync"

	"go.uber.org/zap"

	"github.com/wendulem/distributed-print-shops/internal/eventbus"
	"github.com/wendulem/distributed-print-shops/internal/models"
	"github.com/wendulem/distributed-print-shops/internal/node"
	"github.com/wendulem/distributed-print-shops/internal/registry"
)

// Cluster is a radius-gated group of nodes around a center location.
type Cluster struct {
	ID          string
	Center      models.Location
	RadiusMiles float64

	registry *registry.Registry
	logger   *zap.Logger
	bus      eventbus.Bus

	mu              sync.Mutex
	nodeIDs         []string
	ordersProcessed int
}

// Option configures a Cluster.
type Option func(*Cluster)

// WithLogger sets the cluster's logger.
func WithLogger(logger *zap.Logger) Option {
	return func(c *Cluster) { c.logger = logger }
}

// WithBus sets the bus cluster.status events are published to.
func WithBus(bus eventbus.Bus) Option {
	return func(c *Cluster) { c.bus = bus }
}

// New creates an empty cluster centered on a location.
func New(id string, center models.Location, radiusMiles float64, reg *registry.Registry, opts ...Option) *Cluster {
	c := &Cluster{
		ID:          id,
		Center:      center,
		RadiusMiles: radiusMiles,
		registry:    reg,
		logger:      zap.NewNop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// AddNode admits a node if its shop lies within the cluster radius.
func (c *Cluster) AddNode(n *node.Node) error {
	distance := c.Center.Distance(n.Shop.Location)
	if distance > c.RadiusMiles {
		return fmt.Errorf("node %s is %.1f miles from cluster %s center, radius is %.1f",
			n.ID(), distance, c.ID, c.RadiusMiles)
	}

	c.mu.Lock()
	for _, id := range c.nodeIDs {
		if id == n.ID() {
			c.mu.Unlock()
			return fmt.Errorf("node %s already in cluster %s", n.ID(), c.ID)
		}
	}
	c.nodeIDs = append(c.nodeIDs, n.ID())
	size := len(c.nodeIDs)
	c.mu.Unlock()

	c.logger.Info("node joined cluster",
		zap.String("cluster_id", c.ID),
		zap.String("node_id", n.ID()),
		zap.Float64("distance_miles", distance),
		zap.Int("cluster_size", size))

	c.publishStatus("node_added", n.ID())
	return nil
}

// RemoveNode drops a node from the membership list. Unknown IDs are a no-op.
func (c *Cluster) RemoveNode(id string) {
	c.mu.Lock()
	removed := false
	for i, nid := range c.nodeIDs {
		if nid == id {
			c.nodeIDs = append(c.nodeIDs[:i], c.nodeIDs[i+1:]...)
			removed = true
			break
		}
	}
	c.mu.Unlock()

	if removed {
		c.logger.Info("node left cluster",
			zap.String("cluster_id", c.ID),
			zap.String("node_id", id))
		c.publishStatus("node_removed", id)
	}
}

// Contains reports membership of a node ID.
func (c *Cluster) Contains(id string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, nid := range c.nodeIDs {
		if nid == id {
			return true
		}
	}
	return false
}

// NodeIDs returns a copy of the membership list.
func (c *Cluster) NodeIDs() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]string, len(c.nodeIDs))
	copy(out, c.nodeIDs)
	return out
}

// Size returns the number of member nodes.
func (c *Cluster) Size() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.nodeIDs)
}

// Nodes resolves the membership list through the registry.
func (c *Cluster) Nodes() []*node.Node {
	return c.registry.Resolve(c.NodeIDs())
}

// Capabilities returns the union of member shop capabilities.
func (c *Cluster) Capabilities() map[models.Capability]bool {
	caps := make(map[models.Capability]bool)
	for _, n := range c.Nodes() {
		for _, cap := range n.Shop.Capabilities {
			caps[cap] = true
		}
	}
	return caps
}

// TotalCapacity is the sum of member daily capacities.
func (c *Cluster) TotalCapacity() int {
	total := 0
	for _, n := range c.Nodes() {
		total += n.Shop.DailyCapacity
	}
	return total
}

// AvailableCapacity is the sum of reservable capacity across online members.
func (c *Cluster) AvailableCapacity() int {
	available := 0
	for _, n := range c.Nodes() {
		if n.Status() == models.ShopStatusOnline {
			available += n.CurrentCapacity()
		}
	}
	return available
}

// DistanceTo returns the distance in miles from the cluster center.
func (c *Cluster) DistanceTo(loc models.Location) float64 {
	return c.Center.Distance(loc)
}

// CanFulfillOrder is the admissibility filter: every required capability
// present somewhere in the cluster and aggregate capacity for the total
// quantity. Passing the filter does not guarantee allocation succeeds.
func (c *Cluster) CanFulfillOrder(order *models.Order) bool {
	caps := c.Capabilities()
	for required := range order.RequiredCapabilities() {
		if !caps[required] {
			return false
		}
	}
	return order.TotalQuantity() <= c.AvailableCapacity()
}

// AllocateOrder assigns every item to a member node, reserving capacity as it
// goes. Nodes are tried largest-available-first; each item goes whole to the
// first node that can take it. On any failure every reservation made for this
// order is released, item assignments are cleared, and the order is untouched.
//
// On success the returned map holds item indexes per node ID, with capacity
// reserved and item AssignedNodeID set. Enqueueing to nodes is the caller's
// step.
func (c *Cluster) AllocateOrder(order *models.Order) (map[string][]int, error) {
	nodes := c.Nodes()
	sort.Slice(nodes, func(i, j int) bool {
		return nodes[i].CurrentCapacity() > nodes[j].CurrentCapacity()
	})

	assignments := make(map[string][]int)
	reserved := make(map[string]int)

	rollback := func() {
		for id, units := range reserved {
			if n, ok := c.registry.Get(id); ok {
				n.ReleaseCapacity(units)
			}
		}
		for _, idxs := range assignments {
			for _, i := range idxs {
				order.Items[i].AssignedNodeID = ""
			}
		}
	}

	for i := range order.Items {
		item := &order.Items[i]
		placed := false
		for _, n := range nodes {
			if !n.CanFulfillItem(item.ProductType, item.Quantity, item.SKU) {
				continue
			}
			if !n.ReserveCapacity(item.Quantity) {
				continue
			}
			item.AssignedNodeID = n.ID()
			assignments[n.ID()] = append(assignments[n.ID()], i)
			reserved[n.ID()] += item.Quantity
			placed = true
			break
		}
		if !placed {
			rollback()
			return nil, fmt.Errorf("cluster %s cannot place item %d (%s x%d)",
				c.ID, i, item.ProductType, item.Quantity)
		}
	}

	c.mu.Lock()
	c.ordersProcessed++
	c.mu.Unlock()

	c.logger.Info("order allocated within cluster",
		zap.String("cluster_id", c.ID),
		zap.String("order_id", order.ID),
		zap.Int("nodes_used", len(assignments)))

	return assignments, nil
}

// DiscardAllocation reverses the processed-order count for an allocation
// the caller rolled back before committing it. TotalOrdersProcessed only
// reflects allocations that stuck.
func (c *Cluster) DiscardAllocation() {
	c.mu.Lock()
	if c.ordersProcessed > 0 {
		c.ordersProcessed--
	}
	c.mu.Unlock()
}

// Summary returns a point-in-time report for the cluster.
func (c *Cluster) Summary() models.ClusterSummary {
	nodes := c.Nodes()

	capSet := make(map[models.Capability]bool)
	total, available, active := 0, 0, 0
	for _, n := range nodes {
		total += n.Shop.DailyCapacity
		if n.Status() == models.ShopStatusOnline {
			available += n.CurrentCapacity()
		}
		active += n.ActiveOrderCount()
		for _, cap := range n.Shop.Capabilities {
			capSet[cap] = true
		}
	}

	caps := make([]models.Capability, 0, len(capSet))
	for cap := range capSet {
		caps = append(caps, cap)
	}
	sort.Slice(caps, func(i, j int) bool { return caps[i] < caps[j] })

	c.mu.Lock()
	processed := c.ordersProcessed
	c.mu.Unlock()

	return models.ClusterSummary{
		ID:             c.ID,
		CenterLocation: c.Center,
		RadiusMiles:    c.RadiusMiles,
		NodeCount:      len(nodes),
		Capabilities:   caps,
		Metrics: models.ClusterMetrics{
			TotalCapacity:        total,
			AvailableCapacity:    available,
			ActiveOrders:         active,
			TotalOrdersProcessed: processed,
		},
		NodeIDs: c.NodeIDs(),
	}
}

func (c *Cluster) publishStatus(change, nodeID string) {
	if c.bus == nil {
		return
	}
	event := eventbus.NewEvent(eventbus.EventClusterStatus, c.ID, map[string]interface{}{
		"cluster_id": c.ID,
		"change":     change,
		"node_id":    nodeID,
		"node_count": c.Size(),
	})
	if err := c.bus.Publish(event); err != nil {
		c.logger.Warn("failed to publish cluster status",
			zap.String("cluster_id", c.ID),
			zap.Error(err))
	}
}
