package node

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/wendulem/distributed-print-shops/internal/eventbus"
	"github.com/wendulem/distributed-print-shops/internal/models"
)

// AcceptOrder enqueues an order whose capacity for units has already been
// reserved on this node. The order enters the FIFO production queue and is
// picked up by the production loop.
func (n *Node) AcceptOrder(order *models.Order, units int) error {
	n.mu.Lock()
	if _, exists := n.activeOrders[order.ID]; exists {
		n.mu.Unlock()
		return fmt.Errorf("order %s already accepted by node %s", order.ID, n.Shop.ID)
	}
	n.activeOrders[order.ID] = order
	n.orderUnits[order.ID] = units
	n.productionQueue = append(n.productionQueue, order.ID)
	queued := len(n.productionQueue)
	n.mu.Unlock()

	n.logger.Info("order accepted",
		zap.String("node_id", n.Shop.ID),
		zap.String("order_id", order.ID),
		zap.Int("units", units),
		zap.Int("queue_depth", queued))

	return nil
}

// ActiveOrderCount returns the number of orders accepted and not yet
// completed or failed.
func (n *Node) ActiveOrderCount() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.activeOrders)
}

// FailOrder marks an active order failed, releases its reserved capacity,
// and publishes an order.failed event. It is a no-op for unknown orders.
func (n *Node) FailOrder(orderID, reason string) {
	n.mu.Lock()
	order, exists := n.activeOrders[orderID]
	if !exists {
		n.mu.Unlock()
		return
	}
	units := n.orderUnits[orderID]
	n.removeOrderLocked(orderID)
	n.mu.Unlock()

	order.AddStatusUpdate(models.OrderStatusFailed, reason)
	n.ReleaseCapacity(units)

	n.logger.Warn("order failed",
		zap.String("node_id", n.Shop.ID),
		zap.String("order_id", orderID),
		zap.String("reason", reason))

	n.publish(eventbus.EventOrderFailed, map[string]interface{}{
		"order_id": orderID,
		"node_id":  n.Shop.ID,
		"reason":   reason,
	})
}

// removeOrderLocked drops an order from active tracking and the queue and
// records it in history. Caller holds n.mu.
func (n *Node) removeOrderLocked(orderID string) {
	delete(n.activeOrders, orderID)
	delete(n.orderUnits, orderID)
	for i, id := range n.productionQueue {
		if id == orderID {
			n.productionQueue = append(n.productionQueue[:i], n.productionQueue[i+1:]...)
			break
		}
	}
	n.orderHistory = append(n.orderHistory, orderID)
}

// Run starts the heartbeat and production loops and blocks until ctx is
// cancelled.
func (n *Node) Run(ctx context.Context) {
	done := make(chan struct{})
	go func() {
		n.heartbeatLoop(ctx)
		done <- struct{}{}
	}()
	go func() {
		n.productionLoop(ctx)
		done <- struct{}{}
	}()
	<-done
	<-done
}

// heartbeatLoop publishes node.heartbeat on the configured interval and
// refreshes the node's own heartbeat timestamp.
func (n *Node) heartbeatLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-n.clock.After(n.heartbeatInterval):
			n.Heartbeat()
		}
	}
}

// Heartbeat refreshes the heartbeat timestamp and publishes a node.heartbeat
// event with a capacity snapshot.
func (n *Node) Heartbeat() {
	n.mu.Lock()
	n.lastHeartbeat = n.clock.Now()
	status := n.status
	capacity := n.currentCapacity
	queued := len(n.productionQueue)
	active := len(n.activeOrders)
	n.mu.Unlock()

	n.publish(eventbus.EventNodeHeartbeat, map[string]interface{}{
		"node_id":          n.Shop.ID,
		"status":           string(status),
		"current_capacity": capacity,
		"queued_orders":    queued,
		"active_orders":    active,
	})
}

// productionLoop drains the FIFO queue, simulating production for each
// order in turn.
func (n *Node) productionLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-n.clock.After(n.queuePollInterval):
			n.processNextOrder(ctx)
		}
	}
}

// processNextOrder dequeues one order and runs it through production. The
// simulated wait is the order's production estimate capped at
// maxProductionWait so tests and demos finish promptly.
func (n *Node) processNextOrder(ctx context.Context) {
	n.mu.Lock()
	if len(n.productionQueue) == 0 {
		n.mu.Unlock()
		return
	}
	orderID := n.productionQueue[0]
	n.productionQueue = n.productionQueue[1:]
	order, exists := n.activeOrders[orderID]
	n.mu.Unlock()

	if !exists {
		return
	}

	order.AddStatusUpdate(models.OrderStatusInProduction, "production started on "+n.Shop.ID)
	n.logger.Info("production started",
		zap.String("node_id", n.Shop.ID),
		zap.String("order_id", orderID))

	n.publish(eventbus.EventOrderStarted, map[string]interface{}{
		"order_id":       orderID,
		"node_id":        n.Shop.ID,
		"estimated_time": order.EstimatedProductionTime().String(),
	})

	wait := order.EstimatedProductionTime()
	if wait > n.maxProductionWait {
		wait = n.maxProductionWait
	}

	select {
	case <-ctx.Done():
		return
	case <-n.clock.After(wait):
	}

	n.completeOrder(order)
}

func (n *Node) completeOrder(order *models.Order) {
	n.mu.Lock()
	units := n.orderUnits[order.ID]
	n.removeOrderLocked(order.ID)
	n.mu.Unlock()

	order.AddStatusUpdate(models.OrderStatusCompleted, "production completed on "+n.Shop.ID)
	n.ReleaseCapacity(units)

	n.logger.Info("production completed",
		zap.String("node_id", n.Shop.ID),
		zap.String("order_id", order.ID),
		zap.Int("units", units))

	n.publish(eventbus.EventOrderCompleted, map[string]interface{}{
		"order_id": order.ID,
		"node_id":  n.Shop.ID,
		"units":    units,
	})
}

// ProductionWaitFor returns the simulated production duration for an order:
// the priority-adjusted estimate capped at the node's maximum wait.
func (n *Node) ProductionWaitFor(order *models.Order) time.Duration {
	wait := order.EstimatedProductionTime()
	if wait > n.maxProductionWait {
		wait = n.maxProductionWait
	}
	return wait
}
