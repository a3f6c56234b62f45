// Package storage archives routed orders. The in-memory network state is
// authoritative; the archive is a durable record of routing outcomes for
// reporting and post-hoc inspection.
package storage

import (
	"context"
	"errors"
	"sort"
	"time"

	"github.com/wendulem/distributed-print-shops/internal/models"
	"github.com/wendulem/distributed-print-shops/internal/routing"
)

// ErrNotFound is returned when an archived order does not exist.
var ErrNotFound = errors.New("order not found in archive")

// OrderRecord is the archived form of a routed order.
type OrderRecord struct {
	OrderID       string        `json:"order_id"`
	Status        string        `json:"status"`
	Priority      string        `json:"priority"`
	RoutingTier   string        `json:"routing_tier"`
	TotalQuantity int           `json:"total_quantity"`
	NodeIDs       []string      `json:"node_ids"`
	EstimatedTime time.Duration `json:"estimated_time"`
	FailureReason string        `json:"failure_reason,omitempty"`
	Payload       []byte        `json:"-"`
	CreatedAt     time.Time     `json:"created_at"`
	ArchivedAt    time.Time     `json:"archived_at"`
}

// OrderArchive defines the interface for order archive operations.
type OrderArchive interface {
	Save(ctx context.Context, record *OrderRecord) error
	Get(ctx context.Context, orderID string) (*OrderRecord, error)
	ListRecent(ctx context.Context, limit int) ([]*OrderRecord, error)
	Close(ctx context.Context) error
}

// NewRecord builds an OrderRecord from an order and its routing result.
func NewRecord(order *models.Order, result *routing.RoutingResult, payload []byte) *OrderRecord {
	record := &OrderRecord{
		OrderID:       order.ID,
		Status:        string(order.Status),
		Priority:      string(order.Priority),
		TotalQuantity: order.TotalQuantity(),
		Payload:       payload,
		CreatedAt:     order.CreatedAt,
		ArchivedAt:    time.Now().UTC(),
	}
	if result != nil {
		record.RoutingTier = result.RoutingTier
		record.EstimatedTime = result.EstimatedTime
		if !result.Success {
			record.FailureReason = result.Reason
		}
		for nodeID := range result.NodeAssignments {
			record.NodeIDs = append(record.NodeIDs, nodeID)
		}
		sort.Strings(record.NodeIDs)
	}
	return record
}
