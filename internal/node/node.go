package node

import (
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"

	"github.com/wendulem/distributed-print-shops/internal/eventbus"
	"github.com/wendulem/distributed-print-shops/internal/models"
)

const (
	// defaultReorderPoint and defaultMaxQuantity apply to SKUs first seen
	// through an inventory update.
	defaultReorderPoint = 50
	defaultMaxQuantity  = 1000

	// DefaultHealthyHeartbeatAge is the maximum heartbeat age for a node to
	// be considered healthy.
	DefaultHealthyHeartbeatAge = 300 * time.Second
)

// Node is the runtime state of a single print shop. The static profile is
// immutable; all mutable state is guarded by mu so capacity reservations
// are linearizable across concurrent routing attempts.
type Node struct {
	Shop *models.PrintShop

	mu              sync.Mutex
	status          models.ShopStatus
	currentCapacity int
	inventory       map[string]*models.InventoryItem
	activeOrders    map[string]*models.Order
	orderUnits      map[string]int
	productionQueue []string
	orderHistory    []string
	lastHeartbeat   time.Time

	clock  clockwork.Clock
	logger *zap.Logger
	bus    eventbus.Bus

	heartbeatInterval time.Duration
	queuePollInterval time.Duration
	maxProductionWait time.Duration
}

// Option configures a Node.
type Option func(*Node)

// WithClock sets the clock used for heartbeats and production simulation.
func WithClock(clock clockwork.Clock) Option {
	return func(n *Node) { n.clock = clock }
}

// WithLogger sets the node's logger.
func WithLogger(logger *zap.Logger) Option {
	return func(n *Node) { n.logger = logger }
}

// WithBus sets the event bus lifecycle events are published to.
func WithBus(bus eventbus.Bus) Option {
	return func(n *Node) { n.bus = bus }
}

// WithHeartbeatInterval overrides the default 30s heartbeat interval.
func WithHeartbeatInterval(d time.Duration) Option {
	return func(n *Node) { n.heartbeatInterval = d }
}

// WithMaxProductionWait caps the simulated production wait per order.
func WithMaxProductionWait(d time.Duration) Option {
	return func(n *Node) { n.maxProductionWait = d }
}

// New creates a node for the given shop profile, online and at full capacity.
func New(shop *models.PrintShop, opts ...Option) *Node {
	n := &Node{
		Shop:              shop,
		status:            models.ShopStatusOnline,
		currentCapacity:   shop.DailyCapacity,
		inventory:         make(map[string]*models.InventoryItem),
		activeOrders:      make(map[string]*models.Order),
		orderUnits:        make(map[string]int),
		clock:             clockwork.NewRealClock(),
		logger:            zap.NewNop(),
		heartbeatInterval: 30 * time.Second,
		queuePollInterval: 5 * time.Second,
		maxProductionWait: 10 * time.Second,
	}
	for _, opt := range opts {
		opt(n)
	}
	n.lastHeartbeat = n.clock.Now()
	return n
}

// ID returns the node's identifier.
func (n *Node) ID() string { return n.Shop.ID }

// Status returns the node's current operational status.
func (n *Node) Status() models.ShopStatus {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.status
}

// CurrentCapacity returns the node's reservable capacity.
func (n *Node) CurrentCapacity() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.currentCapacity
}

// LastHeartbeat returns the time of the most recent heartbeat.
func (n *Node) LastHeartbeat() time.Time {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.lastHeartbeat
}

// HasCapacity reports whether the node is online with at least qty
// reservable units.
func (n *Node) HasCapacity(qty int) bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.hasCapacityLocked(qty)
}

func (n *Node) hasCapacityLocked(qty int) bool {
	return n.status == models.ShopStatusOnline && n.currentCapacity >= qty
}

// ReserveCapacity atomically reserves qty units. It returns false, with no
// state change, when the node is not online or capacity is insufficient.
func (n *Node) ReserveCapacity(qty int) bool {
	n.mu.Lock()
	defer n.mu.Unlock()

	if !n.hasCapacityLocked(qty) {
		return false
	}
	n.currentCapacity -= qty
	return true
}

// ReleaseCapacity returns qty units, clamped to the daily maximum so a
// double release can never over-credit the node.
func (n *Node) ReleaseCapacity(qty int) {
	n.mu.Lock()
	defer n.mu.Unlock()

	n.currentCapacity += qty
	if n.currentCapacity > n.Shop.DailyCapacity {
		n.currentCapacity = n.Shop.DailyCapacity
	}
}

// CanFulfillItem reports whether the node offers the product type, has
// capacity for qty, and (for tracked SKUs) has sufficient inventory.
func (n *Node) CanFulfillItem(productType models.Capability, qty int, sku string) bool {
	if !n.Shop.HasCapability(productType) {
		return false
	}

	n.mu.Lock()
	defer n.mu.Unlock()

	if !n.hasCapacityLocked(qty) {
		return false
	}
	if sku != "" {
		if item, tracked := n.inventory[sku]; tracked {
			return item.Quantity >= qty
		}
	}
	return true
}

// CanFulfillOrder reports whether the node can take the entire order: every
// item fulfillable and aggregate capacity available.
func (n *Node) CanFulfillOrder(order *models.Order) bool {
	if !n.HasCapacity(order.TotalQuantity()) {
		return false
	}
	for _, item := range order.Items {
		if !n.CanFulfillItem(item.ProductType, item.Quantity, item.SKU) {
			return false
		}
	}
	return true
}

// UpdateInventory upserts the stock level for a SKU. New SKUs get the
// default reorder point and maximum.
func (n *Node) UpdateInventory(sku string, qty int) {
	n.mu.Lock()
	defer n.mu.Unlock()

	if item, exists := n.inventory[sku]; exists {
		item.Quantity = qty
		item.LastUpdated = n.clock.Now()
		return
	}
	n.inventory[sku] = &models.InventoryItem{
		SKU:          sku,
		Quantity:     qty,
		ReorderPoint: defaultReorderPoint,
		MaxQuantity:  defaultMaxQuantity,
		LastUpdated:  n.clock.Now(),
	}
}

// InventoryLevel returns the tracked quantity for a SKU. The second return
// is false when the SKU is untracked.
func (n *Node) InventoryLevel(sku string) (int, bool) {
	n.mu.Lock()
	defer n.mu.Unlock()

	item, exists := n.inventory[sku]
	if !exists {
		return 0, false
	}
	return item.Quantity, true
}

// LowInventoryItems returns copies of all items at or below their reorder
// point.
func (n *Node) LowInventoryItems() []models.InventoryItem {
	n.mu.Lock()
	defer n.mu.Unlock()

	var low []models.InventoryItem
	for _, item := range n.inventory {
		if item.NeedsReorder() {
			low = append(low, *item)
		}
	}
	return low
}

// IsHealthy reports node health: offline nodes are never healthy; otherwise
// the last heartbeat must be within maxAge.
func (n *Node) IsHealthy(maxAge time.Duration) bool {
	n.mu.Lock()
	defer n.mu.Unlock()

	if n.status == models.ShopStatusOffline {
		return false
	}
	return n.clock.Since(n.lastHeartbeat) <= maxAge
}

// UpdateStatus transitions the node to a new status and returns a change
// record. A node.status event is published when a bus is attached.
func (n *Node) UpdateStatus(status models.ShopStatus, reason string) models.StatusChange {
	n.mu.Lock()
	old := n.status
	n.status = status
	n.lastHeartbeat = n.clock.Now()
	change := models.StatusChange{
		Timestamp: n.lastHeartbeat,
		ShopID:    n.Shop.ID,
		OldStatus: old,
		NewStatus: status,
		Reason:    reason,
	}
	n.mu.Unlock()

	n.logger.Info("node status changed",
		zap.String("node_id", n.Shop.ID),
		zap.String("old_status", string(old)),
		zap.String("new_status", string(status)),
		zap.String("reason", reason))

	n.publish(eventbus.EventNodeStatus, map[string]interface{}{
		"node_id":    change.ShopID,
		"old_status": string(change.OldStatus),
		"new_status": string(change.NewStatus),
		"reason":     change.Reason,
	})

	return change
}

// Summary returns a point-in-time status report for the node.
func (n *Node) Summary() models.NodeSummary {
	n.mu.Lock()
	defer n.mu.Unlock()

	utilization := 0.0
	if n.Shop.DailyCapacity > 0 {
		utilization = float64(n.Shop.DailyCapacity-n.currentCapacity) / float64(n.Shop.DailyCapacity)
	}

	lowStock := 0
	for _, item := range n.inventory {
		if item.NeedsReorder() {
			lowStock++
		}
	}

	return models.NodeSummary{
		ID:           n.Shop.ID,
		Name:         n.Shop.Name,
		Status:       n.status,
		Location:     n.Shop.Location,
		Capabilities: n.Shop.Capabilities,
		Capacity: models.CapacitySummary{
			Daily:       n.Shop.DailyCapacity,
			Available:   n.currentCapacity,
			Utilization: utilization,
		},
		ActiveOrders: len(n.activeOrders),
		QueuedOrders: len(n.productionQueue),
		Inventory: models.InventorySummary{
			TotalSKUs:     len(n.inventory),
			LowStockItems: lowStock,
		},
		LastHeartbeat: n.lastHeartbeat,
	}
}

func (n *Node) publish(eventType eventbus.EventType, data map[string]interface{}) {
	if n.bus == nil {
		return
	}
	if err := n.bus.Publish(eventbus.NewEvent(eventType, n.Shop.ID, data)); err != nil {
		n.logger.Warn("failed to publish event",
			zap.String("node_id", n.Shop.ID),
			zap.String("event_type", string(eventType)),
			zap.Error(err))
	}
}
