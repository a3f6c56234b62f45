package models

import "time"

// Capability represents a product type a print shop can produce.
type Capability string

const (
	CapabilityTShirt       Capability = "t-shirt"
	CapabilityHoodie       Capability = "hoodie"
	CapabilityMug          Capability = "mug"
	CapabilityBottle       Capability = "bottle"
	CapabilitySticker      Capability = "sticker"
	CapabilityPoster       Capability = "poster"
	CapabilityBusinessCard Capability = "business-card"
	CapabilityPostcard     Capability = "postcard"
)

// AllCapabilities lists every known product type.
var AllCapabilities = []Capability{
	CapabilityTShirt,
	CapabilityHoodie,
	CapabilityMug,
	CapabilityBottle,
	CapabilitySticker,
	CapabilityPoster,
	CapabilityBusinessCard,
	CapabilityPostcard,
}

// ShopStatus represents the operational status of a print shop node.
type ShopStatus string

const (
	ShopStatusOnline      ShopStatus = "online"
	ShopStatusOffline     ShopStatus = "offline"
	ShopStatusMaintenance ShopStatus = "maintenance"
	ShopStatusLimited     ShopStatus = "limited"
)

// PrintShop is the static profile of a production node. Runtime state
// (capacity, inventory, status) lives on node.Node, never here.
type PrintShop struct {
	ID            string       `json:"id"`
	Name          string       `json:"name"`
	Location      Location     `json:"location"`
	Capabilities  []Capability `json:"capabilities"`
	DailyCapacity int          `json:"daily_capacity"`
}

// HasCapability reports whether the shop offers the given product type.
func (p *PrintShop) HasCapability(c Capability) bool {
	for _, cap := range p.Capabilities {
		if cap == c {
			return true
		}
	}
	return false
}

// InventoryItem tracks stock for a single SKU at one shop.
type InventoryItem struct {
	SKU          string    `json:"sku"`
	Quantity     int       `json:"quantity"`
	ReorderPoint int       `json:"reorder_point"`
	MaxQuantity  int       `json:"max_quantity"`
	LastUpdated  time.Time `json:"last_updated"`
}

// NeedsReorder reports whether stock has fallen to the reorder point.
func (i *InventoryItem) NeedsReorder() bool {
	return i.Quantity <= i.ReorderPoint
}

// SpaceAvailable returns how many more units the shop can hold for this SKU.
func (i *InventoryItem) SpaceAvailable() int {
	return i.MaxQuantity - i.Quantity
}

// StatusChange records a node status transition.
type StatusChange struct {
	Timestamp time.Time  `json:"timestamp"`
	ShopID    string     `json:"shop_id"`
	OldStatus ShopStatus `json:"old_status"`
	NewStatus ShopStatus `json:"new_status"`
	Reason    string     `json:"reason,omitempty"`
}

// CapacitySummary describes a node's capacity in status reports.
type CapacitySummary struct {
	Daily       int     `json:"daily"`
	Available   int     `json:"available"`
	Utilization float64 `json:"utilization"`
}

// InventorySummary describes a node's inventory health in status reports.
type InventorySummary struct {
	TotalSKUs     int `json:"total_skus"`
	LowStockItems int `json:"low_stock_items"`
}

// NodeSummary is the JSON status report for a single node.
type NodeSummary struct {
	ID            string           `json:"id"`
	Name          string           `json:"name"`
	Status        ShopStatus       `json:"status"`
	Location      Location         `json:"location"`
	Capabilities  []Capability     `json:"capabilities"`
	Capacity      CapacitySummary  `json:"capacity"`
	ActiveOrders  int              `json:"active_orders"`
	QueuedOrders  int              `json:"queued_orders"`
	Inventory     InventorySummary `json:"inventory"`
	LastHeartbeat time.Time        `json:"last_heartbeat"`
}

// ClusterMetrics tracks operational metrics for a cluster.
type ClusterMetrics struct {
	TotalCapacity        int `json:"total_capacity"`
	AvailableCapacity    int `json:"available_capacity"`
	ActiveOrders         int `json:"active_orders"`
	TotalOrdersProcessed int `json:"total_orders_processed"`
}

// ClusterSummary is the JSON status report for a single cluster.
type ClusterSummary struct {
	ID             string         `json:"id"`
	CenterLocation Location       `json:"center_location"`
	RadiusMiles    float64        `json:"radius_miles"`
	NodeCount      int            `json:"node_count"`
	Capabilities   []Capability   `json:"capabilities"`
	Metrics        ClusterMetrics `json:"metrics"`
	NodeIDs        []string       `json:"node_ids"`
}

// NetworkMetrics aggregates fleet-wide counters.
type NetworkMetrics struct {
	TotalNodes        int       `json:"total_nodes"`
	ActiveNodes       int       `json:"active_nodes"`
	TotalClusters     int       `json:"total_clusters"`
	TotalCapacity     int       `json:"total_capacity"`
	AvailableCapacity int       `json:"available_capacity"`
	LastUpdated       time.Time `json:"last_updated"`
}

// NetworkStatus is the full network report served by the API.
type NetworkStatus struct {
	Metrics  NetworkMetrics   `json:"metrics"`
	Clusters []ClusterSummary `json:"clusters"`
	Nodes    []NodeSummary    `json:"nodes"`
}
