// Package registry holds the canonical arena of print shop nodes. Every
// component that needs node state resolves IDs through a Registry instance;
// nothing holds copies of node runtime state.
package registry

import (
	"fmt"
	"sort"
	"sync"

	"github.com/wendulem/distributed-print-shops/internal/models"
	"github.com/wendulem/distributed-print-shops/internal/node"
)

// Registry is a thread-safe arena of nodes keyed by shop ID.
type Registry struct {
	mu    sync.RWMutex
	nodes map[string]*node.Node
}

// New creates an empty registry.
func New() *Registry {
	return &Registry{nodes: make(map[string]*node.Node)}
}

// Add registers a node. Registering the same ID twice is an error.
func (r *Registry) Add(n *node.Node) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.nodes[n.ID()]; exists {
		return fmt.Errorf("node %s already registered", n.ID())
	}
	r.nodes[n.ID()] = n
	return nil
}

// Remove drops a node from the arena. Unknown IDs are a no-op.
func (r *Registry) Remove(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.nodes, id)
}

// Get resolves a node by ID.
func (r *Registry) Get(id string) (*node.Node, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	n, ok := r.nodes[id]
	return n, ok
}

// List returns all registered nodes in stable ID order.
func (r *Registry) List() []*node.Node {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]*node.Node, 0, len(r.nodes))
	for _, n := range r.nodes {
		out = append(out, n)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID() < out[j].ID() })
	return out
}

// Resolve maps a set of node IDs to nodes, skipping IDs no longer registered.
func (r *Registry) Resolve(ids []string) []*node.Node {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]*node.Node, 0, len(ids))
	for _, id := range ids {
		if n, ok := r.nodes[id]; ok {
			out = append(out, n)
		}
	}
	return out
}

// Count returns the number of registered nodes.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.nodes)
}

// OnlineCount returns the number of nodes currently online.
func (r *Registry) OnlineCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	online := 0
	for _, n := range r.nodes {
		if n.Status() == models.ShopStatusOnline {
			online++
		}
	}
	return online
}
