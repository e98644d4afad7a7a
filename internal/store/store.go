// Package store persists connection session and operation records so
// that operation state survives backend restarts. Live delivery state
// (subscriber sets, message history) is deliberately memory-only.
package store

import "time"

// ConnectionRecord is the storage shape of one WebSocket session
type ConnectionRecord struct {
	ConnectionID  string
	SessionID     string
	UserID        int64
	ConnectedAt   time.Time
	Connected     bool
	Subscriptions []string
	Acked         map[string]int64
}

// OperationRecord is the storage shape of one long-running operation
type OperationRecord struct {
	OperationID   string
	OperationType string
	FeatureID     string
	UserID        int64
	Status        string
	Progress      int
	StartedAt     time.Time
	CompletedAt   *time.Time
	MessageCount  int64
	Result        map[string]interface{}
	Error         string
}

// Store persists connection and operation records. Implementations
// must be safe for concurrent use. Write failures are reported but the
// real-time layer treats them as non-fatal.
type Store interface {
	SaveConnection(rec *ConnectionRecord) error
	GetConnection(connectionID string) (*ConnectionRecord, error)
	SaveOperation(rec *OperationRecord) error
	GetOperation(operationID string) (*OperationRecord, error)
	ListOperations(featureID string) ([]*OperationRecord, error)
	Close() error
}
