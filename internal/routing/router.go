// Package routing orchestrates order placement across the network. Each
// order walks four fallback tiers in strict sequence: whole-cluster
// allocation, direct single-node assignment, item-level split across nodes,
// and finally a split across clusters. Every tier either commits completely
// or releases everything it reserved.
package routing

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/wendulem/distributed-print-shops/internal/cluster"
	"github.com/wendulem/distributed-print-shops/internal/discovery"
	"github.com/wendulem/distributed-print-shops/internal/eventbus"
	"github.com/wendulem/distributed-print-shops/internal/models"
	"github.com/wendulem/distributed-print-shops/internal/node"
	"github.com/wendulem/distributed-print-shops/internal/optimizer"
	"github.com/wendulem/distributed-print-shops/internal/policy"
	"github.com/wendulem/distributed-print-shops/internal/registry"
	"github.com/wendulem/distributed-print-shops/internal/telemetry"
)

// Routing tiers, in fallback order.
const (
	TierCluster      = "cluster"
	TierDirect       = "direct"
	TierSplitNode    = "split_node"
	TierSplitCluster = "split_cluster"
)

// Production time penalties for split results: coordination across shops
// slows the slowest path down.
const (
	splitNodePenalty    = 1.2
	splitClusterPenalty = 1.3
)

// RoutingResult is the outcome of routing one order.
type RoutingResult struct {
	Success         bool             `json:"success"`
	OrderID         string           `json:"order_id"`
	NodeAssignments map[string][]int `json:"node_assignments,omitempty"`
	EstimatedTime   time.Duration    `json:"estimated_time"`
	RoutingTier     string           `json:"routing_tier,omitempty"`
	Reason          string           `json:"reason,omitempty"`
}

// Stats are cumulative routing counters.
type Stats struct {
	TotalOrders      int            `json:"total_orders"`
	SuccessfulRoutes int            `json:"successful_routes"`
	FailedRoutes     int            `json:"failed_routes"`
	ByTier           map[string]int `json:"by_tier"`
}

// Router routes orders over the live registry and cluster map.
type Router struct {
	registry  *registry.Registry
	discovery *discovery.Discovery
	optimizer *optimizer.Optimizer
	admission *policy.Engine

	maxSplitShops    int
	maxSplitClusters int

	logger    *zap.Logger
	bus       eventbus.Bus
	telemetry *telemetry.Telemetry

	mu     sync.Mutex
	total  int
	ok     int
	failed int
	byTier map[string]int
}

// Option configures a Router.
type Option func(*Router)

// WithOptimizer overrides the default optimizer.
func WithOptimizer(o *optimizer.Optimizer) Option {
	return func(r *Router) { r.optimizer = o }
}

// WithAdmission enables policy-based admission checks before routing.
func WithAdmission(e *policy.Engine) Option {
	return func(r *Router) { r.admission = e }
}

// WithMaxSplitShops caps the distinct nodes used by split-node routing.
func WithMaxSplitShops(max int) Option {
	return func(r *Router) { r.maxSplitShops = max }
}

// WithMaxSplitClusters caps the clusters used by split-cluster routing.
func WithMaxSplitClusters(max int) Option {
	return func(r *Router) { r.maxSplitClusters = max }
}

// WithLogger sets the router's logger.
func WithLogger(logger *zap.Logger) Option {
	return func(r *Router) { r.logger = logger }
}

// WithBus sets the bus order.allocated events are published to.
func WithBus(bus eventbus.Bus) Option {
	return func(r *Router) { r.bus = bus }
}

// WithTelemetry sets the telemetry sink for routing metrics.
func WithTelemetry(tel *telemetry.Telemetry) Option {
	return func(r *Router) { r.telemetry = tel }
}

// New creates a Router over a registry and discovery instance.
func New(reg *registry.Registry, disc *discovery.Discovery, opts ...Option) *Router {
	r := &Router{
		registry:         reg,
		discovery:        disc,
		optimizer:        optimizer.New(),
		maxSplitShops:    3,
		maxSplitClusters: 2,
		logger:           zap.NewNop(),
		byTier:           make(map[string]int),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// RouteOrder routes one order through the fallback tiers, stopping at the
// first success. On success the order is ASSIGNED, accepted into each
// node's production queue, and an order.allocated event is published. On
// failure no capacity remains reserved anywhere.
func (r *Router) RouteOrder(ctx context.Context, order *models.Order) RoutingResult {
	start := time.Now()
	ctx, span := r.startSpan(ctx)
	defer span()

	r.mu.Lock()
	r.total++
	r.mu.Unlock()

	if r.admission != nil {
		decision, err := r.admission.Admit(ctx, order)
		if err != nil {
			return r.fail(ctx, order, fmt.Sprintf("admission check failed: %v", err))
		}
		if !decision.Allowed {
			reason := "order rejected by admission policy"
			if len(decision.Reasons) > 0 {
				reason = fmt.Sprintf("order rejected by admission policy: %s", decision.Reasons[0])
			}
			return r.fail(ctx, order, reason)
		}
	}

	if assignments, tier, estimate := r.tryTiers(order); assignments != nil {
		if result, ok := r.commit(ctx, order, assignments, tier, estimate); ok {
			r.record(ctx, start, tier, true)
			return result
		}
		r.record(ctx, start, "", false)
		return r.fail(ctx, order, "assigned node deregistered during allocation")
	}

	r.record(ctx, start, "", false)
	return r.fail(ctx, order, "no viable routing solution found")
}

// tryTiers walks the four tiers and returns the first successful
// assignment, its tier tag, and the estimated production time.
func (r *Router) tryTiers(order *models.Order) (map[string][]int, string, time.Duration) {
	base := order.EstimatedProductionTime()

	if assignments := r.tryClusterRouting(order); assignments != nil {
		return assignments, TierCluster, base
	}
	if assignments := r.tryDirectRouting(order); assignments != nil {
		return assignments, TierDirect, base
	}
	if assignments := r.trySplitNodeRouting(order); assignments != nil {
		return assignments, TierSplitNode, scale(base, splitNodePenalty)
	}
	if assignments := r.trySplitClusterRouting(order); assignments != nil {
		return assignments, TierSplitCluster, scale(base, splitClusterPenalty)
	}
	return nil, "", 0
}

// tryClusterRouting hands the whole order to the best-scoring cluster.
func (r *Router) tryClusterRouting(order *models.Order) map[string][]int {
	scored := r.optimizer.ScoreClusters(r.discovery.Clusters(), order)
	if len(scored) == 0 {
		return nil
	}

	best := scored[0].Cluster
	assignments, err := best.AllocateOrder(order)
	if err != nil {
		r.logger.Debug("cluster routing failed",
			zap.String("order_id", order.ID),
			zap.String("cluster_id", best.ID),
			zap.Error(err))
		return nil
	}
	return assignments
}

// tryDirectRouting assigns the entire order to the best single node that
// can take it whole.
func (r *Router) tryDirectRouting(order *models.Order) map[string][]int {
	for _, scored := range r.optimizer.ScoreNodes(r.registry.List(), order) {
		n := scored.Node
		if !n.CanFulfillOrder(order) {
			continue
		}
		if !n.ReserveCapacity(order.TotalQuantity()) {
			continue
		}

		indexes := make([]int, len(order.Items))
		for i := range order.Items {
			order.Items[i].AssignedNodeID = n.ID()
			indexes[i] = i
		}
		return map[string][]int{n.ID(): indexes}
	}
	return nil
}

// trySplitNodeRouting places each item individually on its best available
// node, bounded by maxSplitShops distinct nodes. Any unplaceable item or a
// blown cap rolls back every reservation made during the attempt.
func (r *Router) trySplitNodeRouting(order *models.Order) map[string][]int {
	assignments := make(map[string][]int)
	reserved := make(map[string]int)

	rollback := func() {
		r.releaseReservations(reserved)
		for _, idxs := range assignments {
			for _, i := range idxs {
				order.Items[i].AssignedNodeID = ""
			}
		}
	}

	nodes := r.registry.List()
	for i := range order.Items {
		item := &order.Items[i]
		// Rank nodes for this item alone so the aggregate-quantity filter
		// does not knock out shops that could take part of the order.
		itemOrder := &models.Order{
			CustomerLocation: order.CustomerLocation,
			Items:            []models.OrderItem{{ProductType: item.ProductType, Quantity: item.Quantity, SKU: item.SKU}},
			Priority:         order.Priority,
		}

		placed := false
		for _, scored := range r.optimizer.ScoreNodes(nodes, itemOrder) {
			n := scored.Node
			if _, used := assignments[n.ID()]; !used && len(assignments) >= r.maxSplitShops {
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
			return nil
		}
	}

	if len(assignments) == 0 {
		return nil
	}
	return assignments
}

// trySplitClusterRouting spreads the order over up to maxSplitClusters
// clusters. Each round scores every untried cluster against the subset of
// still-unassigned items it has capabilities for and offers that subset to
// the highest-scoring cluster; cluster allocation keeps its own
// all-or-nothing guarantee per subset. If items remain after the cap,
// everything reserved during the attempt is released and cluster order
// counts are discarded.
func (r *Router) trySplitClusterRouting(order *models.Order) map[string][]int {
	clusters := r.discovery.Clusters()
	if len(clusters) < 2 {
		return nil
	}

	unassigned := make([]int, len(order.Items))
	for i := range order.Items {
		unassigned[i] = i
	}

	assignments := make(map[string][]int)
	reserved := make(map[string]int)
	var allocated []*cluster.Cluster
	tried := make(map[string]bool)

	rollback := func() {
		r.releaseReservations(reserved)
		for _, idxs := range assignments {
			for _, i := range idxs {
				order.Items[i].AssignedNodeID = ""
			}
		}
		for _, c := range allocated {
			c.DiscardAllocation()
		}
	}

	for len(unassigned) > 0 && len(allocated) < r.maxSplitClusters {
		c, offer := r.bestClusterForItems(clusters, tried, order, unassigned)
		if c == nil {
			break
		}
		tried[c.ID] = true

		partial := partialOrder(order, offer)
		partialAssignments, err := c.AllocateOrder(partial)
		if err != nil {
			continue
		}
		allocated = append(allocated, c)

		// Map partial indexes back onto the original item list.
		taken := make(map[int]bool)
		for nodeID, idxs := range partialAssignments {
			for _, pi := range idxs {
				oi := offer[pi]
				order.Items[oi].AssignedNodeID = nodeID
				assignments[nodeID] = append(assignments[nodeID], oi)
				reserved[nodeID] += order.Items[oi].Quantity
				taken[oi] = true
			}
		}
		var remaining []int
		for _, oi := range unassigned {
			if !taken[oi] {
				remaining = append(remaining, oi)
			}
		}
		unassigned = remaining
	}

	if len(unassigned) > 0 {
		rollback()
		return nil
	}
	return assignments
}

// bestClusterForItems scores each candidate cluster on the subset of the
// given items it has capabilities for and returns the highest scorer with
// its subset. Clusters already tried, out of range, or without aggregate
// capacity for their subset fall out of the ranking.
func (r *Router) bestClusterForItems(clusters []*cluster.Cluster, tried map[string]bool, order *models.Order, itemIdxs []int) (*cluster.Cluster, []int) {
	var (
		best      *cluster.Cluster
		bestOffer []int
		bestScore float64
	)
	for _, c := range clusters {
		if tried[c.ID] {
			continue
		}
		caps := c.Capabilities()
		var offer []int
		for _, oi := range itemIdxs {
			if caps[order.Items[oi].ProductType] {
				offer = append(offer, oi)
			}
		}
		if len(offer) == 0 {
			continue
		}
		scored := r.optimizer.ScoreClusters([]*cluster.Cluster{c}, partialOrder(order, offer))
		if len(scored) == 0 {
			continue
		}
		if best == nil || scored[0].Score > bestScore {
			best, bestOffer, bestScore = c, offer, scored[0].Score
		}
	}
	return best, bestOffer
}

// partialOrder builds a scoring/allocation view of a subset of items. The
// copy shares the order's identity and priority but not its item slice, so
// allocation of the partial never mutates the original's assignments.
func partialOrder(order *models.Order, idxs []int) *models.Order {
	items := make([]models.OrderItem, len(idxs))
	for i, oi := range idxs {
		items[i] = models.OrderItem{
			ProductType: order.Items[oi].ProductType,
			Quantity:    order.Items[oi].Quantity,
			SKU:         order.Items[oi].SKU,
			DesignRef:   order.Items[oi].DesignRef,
		}
	}
	return &models.Order{
		ID:               order.ID,
		CustomerLocation: order.CustomerLocation,
		Items:            items,
		Priority:         order.Priority,
	}
}

func (r *Router) releaseReservations(reserved map[string]int) {
	for id, units := range reserved {
		if n, ok := r.registry.Get(id); ok {
			n.ReleaseCapacity(units)
		}
	}
}

// commit finalizes a successful tier: the order is marked ASSIGNED, each
// node accepts its share into the production queue, and order.allocated is
// published. If any assigned node was deregistered after reservation, the
// surviving reservations are released, assignments are cleared, and commit
// reports failure so no item stays bound to a vanished node.
func (r *Router) commit(ctx context.Context, order *models.Order, assignments map[string][]int, tier string, estimate time.Duration) (RoutingResult, bool) {
	resolved := make(map[string]*node.Node, len(assignments))
	missing := false
	for nodeID := range assignments {
		n, ok := r.registry.Get(nodeID)
		if !ok {
			missing = true
			continue
		}
		resolved[nodeID] = n
	}
	if missing {
		for nodeID, n := range resolved {
			units := 0
			for _, i := range assignments[nodeID] {
				units += order.Items[i].Quantity
			}
			n.ReleaseCapacity(units)
		}
		for _, idxs := range assignments {
			for _, i := range idxs {
				order.Items[i].AssignedNodeID = ""
			}
		}
		r.logger.Warn("assigned node deregistered before commit",
			zap.String("order_id", order.ID),
			zap.String("tier", tier))
		return RoutingResult{}, false
	}

	order.AddStatusUpdate(models.OrderStatusAssigned, fmt.Sprintf("routed via %s to %d node(s)", tier, len(assignments)))

	for nodeID, n := range resolved {
		units := 0
		for _, i := range assignments[nodeID] {
			units += order.Items[i].Quantity
		}
		if err := n.AcceptOrder(order, units); err != nil {
			// Capacity stays reserved; the node refused double enqueue only.
			r.logger.Warn("node rejected accepted order",
				zap.String("order_id", order.ID),
				zap.String("node_id", nodeID),
				zap.Error(err))
		}
	}

	r.mu.Lock()
	r.ok++
	r.byTier[tier]++
	r.mu.Unlock()

	r.logger.Info("order routed",
		zap.String("order_id", order.ID),
		zap.String("tier", tier),
		zap.Int("nodes", len(assignments)),
		zap.Duration("estimated_time", estimate))

	r.publishAllocated(order, assignments, tier)

	return RoutingResult{
		Success:         true,
		OrderID:         order.ID,
		NodeAssignments: assignments,
		EstimatedTime:   estimate,
		RoutingTier:     tier,
	}, true
}

func (r *Router) fail(ctx context.Context, order *models.Order, reason string) RoutingResult {
	r.mu.Lock()
	r.failed++
	r.mu.Unlock()

	r.logger.Warn("order routing failed",
		zap.String("order_id", order.ID),
		zap.String("reason", reason))

	return RoutingResult{
		Success: false,
		OrderID: order.ID,
		Reason:  reason,
	}
}

func (r *Router) publishAllocated(order *models.Order, assignments map[string][]int, tier string) {
	if r.bus == nil {
		return
	}

	nodeIDs := make([]interface{}, 0, len(assignments))
	for id := range assignments {
		nodeIDs = append(nodeIDs, id)
	}
	event := eventbus.NewEvent(eventbus.EventOrderAllocated, "router", map[string]interface{}{
		"order_id": order.ID,
		"tier":     tier,
		"node_ids": nodeIDs,
	})
	if err := r.bus.Publish(event); err != nil {
		r.logger.Warn("failed to publish order.allocated",
			zap.String("order_id", order.ID),
			zap.Error(err))
	}
}

func (r *Router) record(ctx context.Context, start time.Time, tier string, success bool) {
	if r.telemetry == nil {
		return
	}
	if success {
		r.telemetry.IncrementCounter(ctx, telemetry.MetricOrdersRouted, attribute.String("tier", tier))
	} else {
		r.telemetry.IncrementCounter(ctx, telemetry.MetricRoutingFailures)
	}
	r.telemetry.RecordDuration(ctx, telemetry.MetricRoutingDuration, time.Since(start))
}

func (r *Router) startSpan(ctx context.Context) (context.Context, func()) {
	if r.telemetry == nil {
		return ctx, func() {}
	}
	ctx, span := r.telemetry.StartSpan(ctx, "route_order")
	return ctx, func() { span.End() }
}

// Stats returns a snapshot of cumulative routing counters.
func (r *Router) Stats() Stats {
	r.mu.Lock()
	defer r.mu.Unlock()

	byTier := make(map[string]int, len(r.byTier))
	for k, v := range r.byTier {
		byTier[k] = v
	}
	return Stats{
		TotalOrders:      r.total,
		SuccessfulRoutes: r.ok,
		FailedRoutes:     r.failed,
		ByTier:           byTier,
	}
}

func scale(d time.Duration, factor float64) time.Duration {
	return time.Duration(float64(d) * factor)
}
