package store

import "sync"

// Memory is an in-memory Store used in tests and when persistence is
// disabled.
type Memory struct {
	mu          sync.RWMutex
	connections map[string]*ConnectionRecord
	operations  map[string]*OperationRecord
}

// NewMemory creates an empty in-memory store
func NewMemory() *Memory {
	return &Memory{
		connections: make(map[string]*ConnectionRecord),
		operations:  make(map[string]*OperationRecord),
	}
}

// SaveConnection saves or replaces a connection record
func (m *Memory) SaveConnection(rec *ConnectionRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *rec
	cp.Subscriptions = append([]string(nil), rec.Subscriptions...)
	cp.Acked = copyAcked(rec.Acked)
	m.connections[rec.ConnectionID] = &cp
	return nil
}

// GetConnection returns a connection record or nil if unknown
func (m *Memory) GetConnection(connectionID string) (*ConnectionRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	rec, ok := m.connections[connectionID]
	if !ok {
		return nil, nil
	}
	cp := *rec
	cp.Subscriptions = append([]string(nil), rec.Subscriptions...)
	cp.Acked = copyAcked(rec.Acked)
	return &cp, nil
}

// SaveOperation saves or replaces an operation record
func (m *Memory) SaveOperation(rec *OperationRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *rec
	m.operations[rec.OperationID] = &cp
	return nil
}

// GetOperation returns an operation record or nil if unknown
func (m *Memory) GetOperation(operationID string) (*OperationRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	rec, ok := m.operations[operationID]
	if !ok {
		return nil, nil
	}
	cp := *rec
	return &cp, nil
}

// ListOperations lists operation records, optionally filtered by feature
func (m *Memory) ListOperations(featureID string) ([]*OperationRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []*OperationRecord
	for _, rec := range m.operations {
		if featureID != "" && rec.FeatureID != featureID {
			continue
		}
		cp := *rec
		out = append(out, &cp)
	}
	return out, nil
}

// Close is a no-op for the in-memory store
func (m *Memory) Close() error {
	return nil
}

func copyAcked(in map[string]int64) map[string]int64 {
	if in == nil {
		return nil
	}
	out := make(map[string]int64, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}
