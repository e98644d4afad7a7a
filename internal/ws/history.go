package ws

import (
	"fmt"
	"sync"
	"time"

	"github.com/specstream/specstream/internal/logger"
)

// operationLog is the append-only message log of one operation. Each
// log carries its own lock so unrelated operations never contend.
type operationLog struct {
	mu       sync.Mutex
	messages []*Message
	final    bool
}

// HistoryStore keeps per-operation ordered message logs with bounded
// retention, used for replay after reconnects. The outer lock guards
// only the log map; appends and reads lock the individual log.
type HistoryStore struct {
	mu       sync.RWMutex
	logs     map[string]*operationLog
	maxPerOp int
}

// NewHistoryStore creates a history store. maxPerOperation caps each
// operation's retained log length; zero or negative means unbounded.
func NewHistoryStore(maxPerOperation int) *HistoryStore {
	return &HistoryStore{
		logs:     make(map[string]*operationLog),
		maxPerOp: maxPerOperation,
	}
}

// Append adds a message to its operation's log. The producer assigns
// sequences; the store only verifies integrity. A duplicate or
// out-of-order sequence, or an append after a final message, is
// rejected without partial effects.
func (h *HistoryStore) Append(msg *Message) error {
	if err := msg.Validate(); err != nil {
		return err
	}

	h.mu.Lock()
	log, ok := h.logs[msg.OperationID]
	if !ok {
		log = &operationLog{}
		h.logs[msg.OperationID] = log
	}
	h.mu.Unlock()

	log.mu.Lock()
	defer log.mu.Unlock()

	if log.final {
		return fmt.Errorf("%w: operation %s", ErrOperationFinal, msg.OperationID)
	}
	if n := len(log.messages); n > 0 {
		last := log.messages[n-1].Sequence
		if msg.Sequence != last+1 {
			return fmt.Errorf("%w: operation %s got sequence %d after %d",
				ErrSequenceConflict, msg.OperationID, msg.Sequence, last)
		}
	}

	log.messages = append(log.messages, msg)
	if msg.IsFinal {
		log.final = true
	}

	// Bounded retention: drop from the head once over the cap.
	if h.maxPerOp > 0 && len(log.messages) > h.maxPerOp {
		over := len(log.messages) - h.maxPerOp
		log.messages = append([]*Message(nil), log.messages[over:]...)
		logger.Warn("History for operation %s exceeded cap, dropped %d oldest messages", msg.OperationID, over)
	}

	return nil
}

// Read returns the retained messages of an operation with sequence
// strictly greater than after, in ascending order. after = -1 reads
// from the start.
func (h *HistoryStore) Read(operationID string, after int64) []*Message {
	h.mu.RLock()
	log, ok := h.logs[operationID]
	h.mu.RUnlock()
	if !ok {
		return nil
	}

	log.mu.Lock()
	defer log.mu.Unlock()

	// Logs are ascending by construction; find the first retained
	// message past the cursor.
	idx := len(log.messages)
	for i, msg := range log.messages {
		if msg.Sequence > after {
			idx = i
			break
		}
	}
	if idx == len(log.messages) {
		return nil
	}

	out := make([]*Message, len(log.messages)-idx)
	copy(out, log.messages[idx:])
	return out
}

// LatestSequence returns the highest retained sequence of an operation
func (h *HistoryStore) LatestSequence(operationID string) (int64, bool) {
	h.mu.RLock()
	log, ok := h.logs[operationID]
	h.mu.RUnlock()
	if !ok {
		return 0, false
	}

	log.mu.Lock()
	defer log.mu.Unlock()
	if len(log.messages) == 0 {
		return 0, false
	}
	return log.messages[len(log.messages)-1].Sequence, true
}

// Prune removes messages older than the retention window and returns
// the number removed. An operation whose log empties loses its history
// key entirely; the Operation record itself is unaffected.
func (h *HistoryStore) Prune(window time.Duration) int {
	cutoff := time.Now().UTC().Add(-window)

	h.mu.Lock()
	keys := make([]string, 0, len(h.logs))
	for operationID := range h.logs {
		keys = append(keys, operationID)
	}
	h.mu.Unlock()

	removed := 0
	for _, operationID := range keys {
		h.mu.RLock()
		log, ok := h.logs[operationID]
		h.mu.RUnlock()
		if !ok {
			continue
		}

		log.mu.Lock()
		// Timestamps are non-decreasing with sequence, so expiry only
		// ever trims a prefix.
		keep := 0
		for keep < len(log.messages) && !log.messages[keep].Timestamp.After(cutoff) {
			keep++
		}
		if keep > 0 {
			removed += keep
			log.messages = append([]*Message(nil), log.messages[keep:]...)
		}
		empty := len(log.messages) == 0
		log.mu.Unlock()

		if empty {
			h.mu.Lock()
			// Re-check under the map lock; a concurrent append may
			// have revived the log.
			if current, ok := h.logs[operationID]; ok && current == log {
				current.mu.Lock()
				if len(current.messages) == 0 {
					delete(h.logs, operationID)
				}
				current.mu.Unlock()
			}
			h.mu.Unlock()
		}
	}

	return removed
}

// TotalMessages returns the total number of retained messages
func (h *HistoryStore) TotalMessages() int {
	h.mu.RLock()
	logs := make([]*operationLog, 0, len(h.logs))
	for _, log := range h.logs {
		logs = append(logs, log)
	}
	h.mu.RUnlock()

	total := 0
	for _, log := range logs {
		log.mu.Lock()
		total += len(log.messages)
		log.mu.Unlock()
	}
	return total
}

// OperationCount returns the number of operations with retained history
func (h *HistoryStore) OperationCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.logs)
}
