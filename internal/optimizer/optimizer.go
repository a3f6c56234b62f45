// Package optimizer ranks routing candidates. Scoring is stateless: every
// call reads current node and cluster state and returns a fresh ranking.
package optimizer

import (
	"sort"

	"github.com/wendulem/distributed-print-shops/internal/cluster"
	"github.com/wendulem/distributed-print-shops/internal/models"
	"github.com/wendulem/distributed-print-shops/internal/node"
)

// DefaultMaxDistanceMiles is the hard routing distance cutoff. Candidates
// farther than this from the customer are filtered out before scoring.
const DefaultMaxDistanceMiles = 500.0

// NodeWeights are the scoring weights for ranking individual nodes.
type NodeWeights struct {
	Distance   float64
	Capacity   float64
	Inventory  float64
	Capability float64
}

// ClusterWeights are the scoring weights for ranking clusters.
type ClusterWeights struct {
	Distance   float64
	Capacity   float64
	Capability float64
}

// DefaultNodeWeights favors proximity, then headroom.
func DefaultNodeWeights() NodeWeights {
	return NodeWeights{Distance: 0.4, Capacity: 0.3, Inventory: 0.2, Capability: 0.1}
}

// DefaultClusterWeights weighs proximity heavier for clusters since member
// spread already dilutes it.
func DefaultClusterWeights() ClusterWeights {
	return ClusterWeights{Distance: 0.5, Capacity: 0.3, Capability: 0.2}
}

// Optimizer scores nodes and clusters for an order.
type Optimizer struct {
	nodeWeights      NodeWeights
	clusterWeights   ClusterWeights
	maxDistanceMiles float64
}

// Option configures an Optimizer.
type Option func(*Optimizer)

// WithNodeWeights overrides the node scoring weights.
func WithNodeWeights(w NodeWeights) Option {
	return func(o *Optimizer) { o.nodeWeights = w }
}

// WithClusterWeights overrides the cluster scoring weights.
func WithClusterWeights(w ClusterWeights) Option {
	return func(o *Optimizer) { o.clusterWeights = w }
}

// WithMaxDistance overrides the hard distance cutoff in miles.
func WithMaxDistance(miles float64) Option {
	return func(o *Optimizer) { o.maxDistanceMiles = miles }
}

// New creates an optimizer with default weights and distance cutoff.
func New(opts ...Option) *Optimizer {
	o := &Optimizer{
		nodeWeights:      DefaultNodeWeights(),
		clusterWeights:   DefaultClusterWeights(),
		maxDistanceMiles: DefaultMaxDistanceMiles,
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// ScoredNode is a node with its composite routing score.
type ScoredNode struct {
	Node  *node.Node
	Score float64
}

// ScoredCluster is a cluster with its composite routing score.
type ScoredCluster struct {
	Cluster *cluster.Cluster
	Score   float64
}

// ScoreNodes filters out nodes failing the hard pre-check (online, every
// required capability, capacity for the full quantity, within the distance
// cutoff) and returns the rest sorted by descending composite score.
func (o *Optimizer) ScoreNodes(nodes []*node.Node, order *models.Order) []ScoredNode {
	required := order.RequiredCapabilities()
	totalQty := order.TotalQuantity()

	scored := make([]ScoredNode, 0, len(nodes))
	for _, n := range nodes {
		distance := n.Shop.Location.Distance(order.CustomerLocation)
		if distance > o.maxDistanceMiles {
			continue
		}
		if !hasAllCapabilities(n.Shop, required) {
			continue
		}
		if !n.HasCapacity(totalQty) {
			continue
		}

		score := o.nodeWeights.Distance*o.distanceScore(distance) +
			o.nodeWeights.Capacity*nodeCapacityScore(n, totalQty) +
			o.nodeWeights.Inventory*inventoryScore(n, order) +
			o.nodeWeights.Capability*capabilityScore(n.Shop.Capabilities, required)

		scored = append(scored, ScoredNode{Node: n, Score: score})
	}

	sort.SliceStable(scored, func(i, j int) bool { return scored[i].Score > scored[j].Score })
	return scored
}

// ScoreClusters filters out clusters failing the admissibility check or the
// distance cutoff and returns the rest sorted by descending composite score.
func (o *Optimizer) ScoreClusters(clusters []*cluster.Cluster, order *models.Order) []ScoredCluster {
	required := order.RequiredCapabilities()
	totalQty := order.TotalQuantity()

	scored := make([]ScoredCluster, 0, len(clusters))
	for _, c := range clusters {
		distance := c.DistanceTo(order.CustomerLocation)
		if distance > o.maxDistanceMiles {
			continue
		}
		if !c.CanFulfillOrder(order) {
			continue
		}

		score := o.clusterWeights.Distance*o.distanceScore(distance) +
			o.clusterWeights.Capacity*clusterCapacityScore(c, totalQty) +
			o.clusterWeights.Capability*capabilitySetScore(c.Capabilities(), required)

		scored = append(scored, ScoredCluster{Cluster: c, Score: score})
	}

	sort.SliceStable(scored, func(i, j int) bool { return scored[i].Score > scored[j].Score })
	return scored
}

// distanceScore maps distance to [0,1]: 1 at zero distance, 0 at the cutoff.
func (o *Optimizer) distanceScore(distance float64) float64 {
	if distance > o.maxDistanceMiles {
		return 0
	}
	return 1 - distance/o.maxDistanceMiles
}

// nodeCapacityScore is remaining headroom as a fraction of daily capacity,
// zero when the node cannot cover the order at all.
func nodeCapacityScore(n *node.Node, totalQty int) float64 {
	current := n.CurrentCapacity()
	if current < totalQty || n.Shop.DailyCapacity == 0 {
		return 0
	}
	return float64(current) / float64(n.Shop.DailyCapacity)
}

func clusterCapacityScore(c *cluster.Cluster, totalQty int) float64 {
	available := c.AvailableCapacity()
	total := c.TotalCapacity()
	if available < totalQty || total == 0 {
		return 0
	}
	return float64(available) / float64(total)
}

// inventoryScore averages per-item stock coverage over SKU-tracked items.
// An untracked required SKU scores zero for that item; an order with no
// SKU-specific items scores a full 1.0.
func inventoryScore(n *node.Node, order *models.Order) float64 {
	sum := 0.0
	counted := 0
	for _, item := range order.Items {
		if item.SKU == "" {
			continue
		}
		counted++
		level, tracked := n.InventoryLevel(item.SKU)
		if !tracked || item.Quantity == 0 {
			continue
		}
		coverage := float64(level) / float64(item.Quantity)
		if coverage > 1 {
			coverage = 1
		}
		sum += coverage
	}
	if counted == 0 {
		return 1.0
	}
	return sum / float64(counted)
}

// capabilityScore is the fraction of required capabilities the shop offers.
func capabilityScore(offered []models.Capability, required map[models.Capability]bool) float64 {
	if len(required) == 0 {
		return 1.0
	}
	offeredSet := make(map[models.Capability]bool, len(offered))
	for _, c := range offered {
		offeredSet[c] = true
	}
	return capabilitySetScore(offeredSet, required)
}

func capabilitySetScore(offered map[models.Capability]bool, required map[models.Capability]bool) float64 {
	if len(required) == 0 {
		return 1.0
	}
	matched := 0
	for c := range required {
		if offered[c] {
			matched++
		}
	}
	return float64(matched) / float64(len(required))
}

func hasAllCapabilities(shop *models.PrintShop, required map[models.Capability]bool) bool {
	for c := range required {
		if !shop.HasCapability(c) {
			return false
		}
	}
	return true
}
