package ws

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/specstream/specstream/internal/logger"
)

// Broker routes published messages to the subscribers of their
// operation and drives replay and acknowledgments. Fan-out enqueues to
// per-connection outbound queues taken from a subscriber snapshot, so
// one slow or dead subscriber never blocks another, and no lock is
// held across a send.
type Broker struct {
	history *HistoryStore
	conns   *ConnectionRegistry
	ops     *OperationRegistry

	retention       time.Duration
	cleanupInterval time.Duration

	wg   sync.WaitGroup
	quit chan struct{}
	once sync.Once
}

// NewBroker wires the delivery engine to its registries
func NewBroker(history *HistoryStore, conns *ConnectionRegistry, ops *OperationRegistry, retention, cleanupInterval time.Duration) *Broker {
	return &Broker{
		history:         history,
		conns:           conns,
		ops:             ops,
		retention:       retention,
		cleanupInterval: cleanupInterval,
		quit:            make(chan struct{}),
	}
}

// Start launches the periodic retention sweep
func (b *Broker) Start() {
	b.wg.Add(1)
	go b.cleanupLoop()
	logger.Info("Broker started (retention: %v, sweep: %v)", b.retention, b.cleanupInterval)
}

// Stop halts the retention sweep and waits for it to finish
func (b *Broker) Stop() {
	b.once.Do(func() {
		close(b.quit)
	})
	b.wg.Wait()
	logger.Info("Broker stopped")
}

// Publish records a message in history and fans it out to the current
// subscribers of its operation. Delivery is fire-and-forget per
// recipient: a failed enqueue is an implicit disconnect of that one
// subscriber and never surfaces to the producer or other subscribers.
// The only error returned is a history integrity violation, which
// drops the message before any delivery.
func (b *Broker) Publish(msg *Message) error {
	// Durability of record precedes delivery: a subscriber that is
	// absent right now can still recover the message via replay.
	if err := b.history.Append(msg); err != nil {
		if errors.Is(err, ErrSequenceConflict) || errors.Is(err, ErrOperationFinal) {
			logger.Error("Rejected message %s: %v", msg.MessageID, err)
		}
		return err
	}

	b.ops.recordMessage(msg.OperationID)

	subscribers := b.conns.subscribers(msg.OperationID)
	delivered := 0
	for _, sub := range subscribers {
		if err := sub.sender.Enqueue(msg); err != nil {
			logger.Warn("Send to %s failed, dropping connection: %v", sub.connectionID, err)
			b.Disconnect(sub.connectionID)
			continue
		}
		b.conns.recordSent(sub.connectionID, msg.OperationID, msg.Sequence)
		delivered++
	}

	logger.Debug("Broadcast %s (op: %s, seq: %d) to %d/%d subscribers",
		msg.MessageID, msg.OperationID, msg.Sequence, delivered, len(subscribers))
	return nil
}

// BroadcastToUser delivers a message directly to every live connection
// of a user, bypassing operation history. Used for session-level
// notices.
func (b *Broker) BroadcastToUser(userID int64, msg *Message) int {
	targets := b.conns.connectionsOfUser(userID)
	delivered := 0
	for _, sub := range targets {
		if err := sub.sender.Enqueue(msg); err != nil {
			logger.Warn("Send to %s failed, dropping connection: %v", sub.connectionID, err)
			b.Disconnect(sub.connectionID)
			continue
		}
		delivered++
	}
	return delivered
}

// Subscribe adds a connection to an operation's subscriber set
func (b *Broker) Subscribe(connectionID, operationID string) error {
	if err := b.conns.Subscribe(connectionID, operationID); err != nil {
		logger.Warn("Subscribe %s -> %s: %v", connectionID, operationID, err)
		return err
	}
	return nil
}

// Unsubscribe removes a connection from an operation's subscriber set
func (b *Broker) Unsubscribe(connectionID, operationID string) {
	b.conns.Unsubscribe(connectionID, operationID)
}

// Replay re-sends retained history of an operation to one connection,
// in ascending sequence order, and returns the count replayed.
// fromSequence is exclusive; zero or negative replays from the start.
// Re-subscribing is a side effect so live messages resume after the
// replay. Messages published during the replay arrive live and may
// interleave; clients de-duplicate by (operation_id, sequence).
func (b *Broker) Replay(connectionID, operationID string, fromSequence int64) (int, error) {
	sender, ok := b.conns.senderOf(connectionID)
	if !ok {
		logger.Warn("Replay requested by unknown connection %s", connectionID)
		return 0, ErrUnknownConnection
	}

	if !b.conns.IsSubscribed(connectionID, operationID) {
		if err := b.conns.Subscribe(connectionID, operationID); err != nil {
			return 0, err
		}
	}

	after := fromSequence
	if after <= 0 {
		after = -1
	}

	messages := b.history.Read(operationID, after)
	for i, msg := range messages {
		if err := sender.Enqueue(msg); err != nil {
			logger.Warn("Replay to %s aborted after %d messages: %v", connectionID, i, err)
			b.Disconnect(connectionID)
			return i, fmt.Errorf("replay aborted: %w", err)
		}
		b.conns.recordSent(connectionID, operationID, msg.Sequence)
	}

	logger.Info("Replayed %d messages to %s for operation %s", len(messages), connectionID, operationID)
	return len(messages), nil
}

// Acknowledge advances a connection's acknowledged sequence for an
// operation. Never moves backward; unknown sequences are accepted as
// advisory upper bounds. Unknown connections are a logged no-op.
func (b *Broker) Acknowledge(connectionID, operationID string, sequence int64) (int64, error) {
	acked, err := b.conns.Acknowledge(connectionID, operationID, sequence)
	if err != nil {
		logger.Warn("Acknowledge from unknown connection %s ignored", connectionID)
		return 0, err
	}
	return acked, nil
}

// Disconnect tears down a connection: registry removal plus transport
// close. Safe to call multiple times.
func (b *Broker) Disconnect(connectionID string) {
	sender, ok := b.conns.senderOf(connectionID)
	b.conns.Remove(connectionID)
	if ok {
		if err := sender.Close(); err != nil {
			logger.Debug("Error closing transport for %s: %v", connectionID, err)
		}
	}
}

// CleanupNow prunes history past the retention window and returns the
// number of messages removed.
func (b *Broker) CleanupNow() int {
	removed := b.history.Prune(b.retention)
	if removed > 0 {
		logger.Info("Cleaned up %d expired messages", removed)
	}
	return removed
}

// Stats is the read-only introspection surface of the delivery engine
type Stats struct {
	Connections      int      `json:"active_connections"`
	ActiveOperations []string `json:"active_operations"`
	RetainedMessages int      `json:"retained_messages"`
	TrackedOps       int      `json:"tracked_operations"`
}

// Stats returns a point-in-time snapshot; no side effects
func (b *Broker) Stats() Stats {
	return Stats{
		Connections:      b.conns.Count(),
		ActiveOperations: b.conns.ActiveOperations(),
		RetainedMessages: b.history.TotalMessages(),
		TrackedOps:       b.ops.Count(),
	}
}

func (b *Broker) cleanupLoop() {
	defer b.wg.Done()

	ticker := time.NewTicker(b.cleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			b.CleanupNow()
		case <-b.quit:
			return
		}
	}
}
