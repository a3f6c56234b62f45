package storage

import (
	"context"
	"sync"
)

// MemoryArchive is an in-process OrderArchive for tests and deployments
// without a database.
type MemoryArchive struct {
	mu      sync.RWMutex
	records map[string]*OrderRecord
	order   []string
}

// NewMemoryArchive creates an empty in-memory archive.
func NewMemoryArchive() *MemoryArchive {
	return &MemoryArchive{
		records: make(map[string]*OrderRecord),
	}
}

// Save stores a record, replacing any previous record for the same order.
func (m *MemoryArchive) Save(_ context.Context, record *OrderRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.records[record.OrderID]; !exists {
		m.order = append(m.order, record.OrderID)
	}
	copied := *record
	m.records[record.OrderID] = &copied
	return nil
}

// Get returns the record for an order, or ErrNotFound.
func (m *MemoryArchive) Get(_ context.Context, orderID string) (*OrderRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	record, ok := m.records[orderID]
	if !ok {
		return nil, ErrNotFound
	}
	copied := *record
	return &copied, nil
}

// ListRecent returns up to limit records, most recently saved first.
func (m *MemoryArchive) ListRecent(_ context.Context, limit int) ([]*OrderRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if limit <= 0 || limit > len(m.order) {
		limit = len(m.order)
	}

	records := make([]*OrderRecord, 0, limit)
	for i := len(m.order) - 1; i >= 0 && len(records) < limit; i-- {
		copied := *m.records[m.order[i]]
		records = append(records, &copied)
	}
	return records, nil
}

// Close is a no-op for the in-memory archive.
func (m *MemoryArchive) Close(_ context.Context) error {
	return nil
}
