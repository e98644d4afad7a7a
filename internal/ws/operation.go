package ws

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/specstream/specstream/internal/logger"
	"github.com/specstream/specstream/internal/store"
)

// OperationStatus is the lifecycle state of an operation
type OperationStatus string

const (
	StatusPending   OperationStatus = "pending"
	StatusRunning   OperationStatus = "running"
	StatusPaused    OperationStatus = "paused"
	StatusCompleted OperationStatus = "completed"
	StatusFailed    OperationStatus = "failed"
	StatusCancelled OperationStatus = "cancelled"
)

// Terminal reports whether the status is final
func (s OperationStatus) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed || s == StatusCancelled
}

// Valid reports whether s is a known status
func (s OperationStatus) Valid() bool {
	switch s {
	case StatusPending, StatusRunning, StatusPaused, StatusCompleted, StatusFailed, StatusCancelled:
		return true
	}
	return false
}

// Operation is one long-running logical task. Operations live
// independently of connections; a client may disconnect mid-run and
// the operation keeps going.
type Operation struct {
	OperationID  string                 `json:"operation_id"`
	Type         string                 `json:"operation_type"`
	FeatureID    string                 `json:"feature_id"`
	UserID       int64                  `json:"user_id"`
	Status       OperationStatus        `json:"status"`
	Progress     int                    `json:"progress_percentage"`
	StartedAt    time.Time              `json:"started_at"`
	CompletedAt  *time.Time             `json:"completed_at,omitempty"`
	MessageCount int64                  `json:"message_count"`
	Result       map[string]interface{} `json:"result,omitempty"`
	Error        string                 `json:"error,omitempty"`
}

type operationState struct {
	op      Operation
	nextSeq int64
}

// OperationRegistry is the source of truth for which operations exist,
// independent of connection churn. Records are written through to the
// persistence store when one is configured; store failures are logged
// and never block the registry.
type OperationRegistry struct {
	mu    sync.RWMutex
	ops   map[string]*operationState
	store store.Store
}

// NewOperationRegistry creates an operation registry. st may be nil to
// disable persistence.
func NewOperationRegistry(st store.Store) *OperationRegistry {
	return &OperationRegistry{
		ops:   make(map[string]*operationState),
		store: st,
	}
}

// Create registers a fresh operation in status pending and returns a
// snapshot of it.
func (r *OperationRegistry) Create(operationType, featureID string, userID int64) Operation {
	op := Operation{
		OperationID: "op_" + uuid.NewString(),
		Type:        operationType,
		FeatureID:   featureID,
		UserID:      userID,
		Status:      StatusPending,
		StartedAt:   time.Now().UTC(),
	}

	r.mu.Lock()
	r.ops[op.OperationID] = &operationState{op: op}
	r.mu.Unlock()

	r.persist(&op)
	logger.Info("Operation created: %s (type: %s, feature: %s)", op.OperationID, operationType, featureID)
	return op
}

// UpdateStatus transitions an operation. Unknown operations are a
// logged no-op; the operation may have been evicted. Terminal states
// are entered exactly once: later updates are ignored.
func (r *OperationRegistry) UpdateStatus(operationID string, status OperationStatus, result map[string]interface{}, errMsg string) {
	r.mu.Lock()
	state, ok := r.ops[operationID]
	if !ok {
		r.mu.Unlock()
		logger.Warn("Status update for unknown operation %s ignored", operationID)
		return
	}
	if state.op.Status.Terminal() {
		r.mu.Unlock()
		logger.Warn("Status update for finished operation %s ignored (status: %s)", operationID, status)
		return
	}

	state.op.Status = status
	if result != nil {
		state.op.Result = result
	}
	if errMsg != "" {
		state.op.Error = errMsg
	}
	if status.Terminal() {
		now := time.Now().UTC()
		state.op.CompletedAt = &now
	}
	snapshot := state.op
	r.mu.Unlock()

	r.persist(&snapshot)
	logger.Debug("Operation %s status: %s", operationID, status)
}

// SetProgress updates the progress percentage, clamped to 0..100.
// Unknown operations are a logged no-op.
func (r *OperationRegistry) SetProgress(operationID string, pct int) {
	if pct < 0 {
		pct = 0
	} else if pct > 100 {
		pct = 100
	}

	r.mu.Lock()
	state, ok := r.ops[operationID]
	if !ok {
		r.mu.Unlock()
		logger.Warn("Progress update for unknown operation %s ignored", operationID)
		return
	}
	state.op.Progress = pct
	snapshot := state.op
	r.mu.Unlock()

	r.persist(&snapshot)
}

// NextSequence hands out the next message sequence for an operation,
// starting at 0. Sequences are monotonic per operation so that any one
// producer observes no gaps.
func (r *OperationRegistry) NextSequence(operationID string) int64 {
	r.mu.Lock()
	defer r.mu.Unlock()

	state, ok := r.ops[operationID]
	if !ok {
		// Allow producers that manage operations elsewhere; sequences
		// then start at 0 on first use.
		state = &operationState{op: Operation{OperationID: operationID, Status: StatusPending, StartedAt: time.Now().UTC()}}
		r.ops[operationID] = state
	}

	seq := state.nextSeq
	state.nextSeq++
	return seq
}

// recordMessage counts a published message against the operation and
// moves a pending operation to running on its first message.
func (r *OperationRegistry) recordMessage(operationID string) {
	r.mu.Lock()
	state, ok := r.ops[operationID]
	if !ok {
		r.mu.Unlock()
		return
	}
	state.op.MessageCount++
	if state.op.Status == StatusPending {
		state.op.Status = StatusRunning
	}
	snapshot := state.op
	r.mu.Unlock()

	r.persist(&snapshot)
}

// Get returns a snapshot of an operation
func (r *OperationRegistry) Get(operationID string) (Operation, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	state, ok := r.ops[operationID]
	if !ok {
		return Operation{}, false
	}
	return state.op, true
}

// ListFilter restricts List output. A zero filter lists everything.
type ListFilter struct {
	FeatureID string
	// IDs restricts the result to the given operation IDs, used for
	// per-connection listings driven by subscription sets.
	IDs []string
}

// List returns snapshots of matching operations
func (r *OperationRegistry) List(filter ListFilter) []Operation {
	var idSet map[string]struct{}
	if filter.IDs != nil {
		idSet = make(map[string]struct{}, len(filter.IDs))
		for _, id := range filter.IDs {
			idSet[id] = struct{}{}
		}
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []Operation
	for id, state := range r.ops {
		if filter.FeatureID != "" && state.op.FeatureID != filter.FeatureID {
			continue
		}
		if idSet != nil {
			if _, ok := idSet[id]; !ok {
				continue
			}
		}
		out = append(out, state.op)
	}
	return out
}

// Count returns the number of tracked operations
func (r *OperationRegistry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.ops)
}

func (r *OperationRegistry) persist(op *Operation) {
	if r.store == nil {
		return
	}

	rec := &store.OperationRecord{
		OperationID:   op.OperationID,
		OperationType: op.Type,
		FeatureID:     op.FeatureID,
		UserID:        op.UserID,
		Status:        string(op.Status),
		Progress:      op.Progress,
		StartedAt:     op.StartedAt,
		CompletedAt:   op.CompletedAt,
		MessageCount:  op.MessageCount,
		Result:        op.Result,
		Error:         op.Error,
	}
	if err := r.store.SaveOperation(rec); err != nil {
		logger.Error("Failed to persist operation %s: %v", op.OperationID, err)
	}
}
