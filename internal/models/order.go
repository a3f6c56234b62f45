package models

import (
	"time"

	"github.com/google/uuid"
)

// OrderStatus represents the lifecycle state of an order. Transitions are
// monotonic: created -> assigned -> in_production -> completed | failed.
type OrderStatus string

const (
	OrderStatusCreated      OrderStatus = "created"
	OrderStatusAssigned     OrderStatus = "assigned"
	OrderStatusInProduction OrderStatus = "in_production"
	OrderStatusCompleted    OrderStatus = "completed"
	OrderStatusFailed       OrderStatus = "failed"
)

// OrderPriority affects production time estimates.
type OrderPriority string

const (
	PriorityLow    OrderPriority = "low"
	PriorityNormal OrderPriority = "normal"
	PriorityHigh   OrderPriority = "high"
	PriorityRush   OrderPriority = "rush"
)

// baseProductionHours is the production time for a normal-priority order.
const baseProductionHours = 24.0

// largeOrderThreshold is the total quantity above which production slows down.
const largeOrderThreshold = 100

var priorityMultipliers = map[OrderPriority]float64{
	PriorityLow:    1.5,
	PriorityNormal: 1.0,
	PriorityHigh:   0.75,
	PriorityRush:   0.5,
}

// OrderItem is a single line item within an order. The item list is immutable
// once the order is created; an item is either unassigned or assigned to
// exactly one node for its full quantity.
type OrderItem struct {
	ProductType    Capability `json:"product_type"`
	Quantity       int        `json:"quantity"`
	SKU            string     `json:"sku,omitempty"`
	DesignRef      string     `json:"design_ref"`
	AssignedNodeID string     `json:"assigned_node_id,omitempty"`
}

// StatusUpdate records one entry in an order's status history.
type StatusUpdate struct {
	Timestamp time.Time   `json:"timestamp"`
	Status    OrderStatus `json:"status"`
	Message   string      `json:"message,omitempty"`
}

// Order represents a customer order for printed products.
type Order struct {
	ID               string         `json:"id"`
	CustomerLocation Location       `json:"customer_location"`
	Items            []OrderItem    `json:"items"`
	Status           OrderStatus    `json:"status"`
	Priority         OrderPriority  `json:"priority"`
	CreatedAt        time.Time      `json:"created_at"`
	StatusHistory    []StatusUpdate `json:"status_history,omitempty"`
}

// NewOrder creates an order in the created state with a generated ID.
func NewOrder(customerLocation Location, items []OrderItem, priority OrderPriority) *Order {
	if priority == "" {
		priority = PriorityNormal
	}
	return &Order{
		ID:               uuid.New().String(),
		CustomerLocation: customerLocation,
		Items:            items,
		Status:           OrderStatusCreated,
		Priority:         priority,
		CreatedAt:        time.Now().UTC(),
	}
}

// AddStatusUpdate appends a history entry and moves the order to status.
func (o *Order) AddStatusUpdate(status OrderStatus, message string) {
	o.StatusHistory = append(o.StatusHistory, StatusUpdate{
		Timestamp: time.Now().UTC(),
		Status:    status,
		Message:   message,
	})
	o.Status = status
}

// TotalQuantity returns the summed quantity across all items.
func (o *Order) TotalQuantity() int {
	total := 0
	for _, item := range o.Items {
		total += item.Quantity
	}
	return total
}

// RequiredCapabilities returns the set of product types the order needs.
func (o *Order) RequiredCapabilities() map[Capability]bool {
	required := make(map[Capability]bool)
	for _, item := range o.Items {
		required[item.ProductType] = true
	}
	return required
}

// UnassignedItems returns the indices of items not yet assigned to a node.
func (o *Order) UnassignedItems() []int {
	var indices []int
	for i, item := range o.Items {
		if item.AssignedNodeID == "" {
			indices = append(indices, i)
		}
	}
	return indices
}

// IsFullyAssigned reports whether every item has a node assignment.
func (o *Order) IsFullyAssigned() bool {
	for _, item := range o.Items {
		if item.AssignedNodeID == "" {
			return false
		}
	}
	return true
}

// EstimatedProductionTime returns the estimated production duration.
// Base 24h scaled by priority, with a 1.5x penalty for orders over
// 100 total units.
func (o *Order) EstimatedProductionTime() time.Duration {
	multiplier, ok := priorityMultipliers[o.Priority]
	if !ok {
		multiplier = 1.0
	}

	hours := baseProductionHours * multiplier
	if o.TotalQuantity() > largeOrderThreshold {
		hours *= 1.5
	}

	return time.Duration(hours * float64(time.Hour))
}
