package ws

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/specstream/specstream/internal/logger"
	"github.com/specstream/specstream/internal/store"
)

// Sender is the borrowed transport handle of one connection. Enqueue
// must never block: a saturated or dead transport returns an error and
// is treated as a disconnect by the caller. The registry borrows the
// handle; Close tears the transport down and must be idempotent.
type Sender interface {
	Enqueue(msg *Message) error
	Close() error
}

// Connection is a snapshot of one live transport session
type Connection struct {
	ConnectionID  string
	SessionID     string
	UserID        int64
	ConnectedAt   time.Time
	Subscriptions []string
	LastSent      map[string]int64
	Acked         map[string]int64
	Connected     bool
}

type connState struct {
	sender      Sender
	sessionID   string
	userID      int64
	connectedAt time.Time
	subs        map[string]struct{}
	lastSent    map[string]int64
	acked       map[string]int64
}

// subscriber pairs a connection ID with its transport handle for
// lock-free fan-out after a snapshot.
type subscriber struct {
	connectionID string
	sender       Sender
}

// ConnectionRegistry tracks live connections and their operation
// subscriptions. One mutex guards the connection and subscription
// maps; it is never held across a transport send.
type ConnectionRegistry struct {
	mu    sync.RWMutex
	conns map[string]*connState
	subs  map[string]map[string]struct{} // operationID -> connection IDs
	store store.Store
}

// NewConnectionRegistry creates a connection registry. st may be nil
// to disable persistence of session records.
func NewConnectionRegistry(st store.Store) *ConnectionRegistry {
	return &ConnectionRegistry{
		conns: make(map[string]*connState),
		subs:  make(map[string]map[string]struct{}),
		store: st,
	}
}

// Admit registers a live connection and assigns it a fresh connection
// ID. Connection IDs are never reused.
func (r *ConnectionRegistry) Admit(sender Sender, sessionID string, userID int64) Connection {
	state := &connState{
		sender:      sender,
		sessionID:   sessionID,
		userID:      userID,
		connectedAt: time.Now().UTC(),
		subs:        make(map[string]struct{}),
		lastSent:    make(map[string]int64),
		acked:       make(map[string]int64),
	}
	connectionID := "conn_" + uuid.NewString()

	r.mu.Lock()
	r.conns[connectionID] = state
	snapshot := r.snapshotLocked(connectionID, state)
	r.mu.Unlock()

	r.persist(&snapshot)
	logger.Info("Connection admitted: %s (user: %d)", connectionID, userID)
	return snapshot
}

// Remove drops a connection and clears it from every subscriber set.
// It is idempotent: the explicit disconnect path and the failed-send
// cleanup path may both call it.
func (r *ConnectionRegistry) Remove(connectionID string) {
	r.mu.Lock()
	state, ok := r.conns[connectionID]
	if !ok {
		r.mu.Unlock()
		return
	}
	delete(r.conns, connectionID)
	for operationID := range state.subs {
		if set, ok := r.subs[operationID]; ok {
			delete(set, connectionID)
			if len(set) == 0 {
				delete(r.subs, operationID)
			}
		}
	}
	snapshot := r.snapshotLocked(connectionID, state)
	snapshot.Connected = false
	r.mu.Unlock()

	r.persist(&snapshot)
	logger.Info("Connection removed: %s", connectionID)
}

// Subscribe adds a connection to an operation's subscriber set.
// Subscribing twice is a no-op.
func (r *ConnectionRegistry) Subscribe(connectionID, operationID string) error {
	r.mu.Lock()
	state, ok := r.conns[connectionID]
	if !ok {
		r.mu.Unlock()
		return ErrUnknownConnection
	}
	state.subs[operationID] = struct{}{}
	set, ok := r.subs[operationID]
	if !ok {
		set = make(map[string]struct{})
		r.subs[operationID] = set
	}
	set[connectionID] = struct{}{}
	snapshot := r.snapshotLocked(connectionID, state)
	r.mu.Unlock()

	r.persist(&snapshot)
	logger.Debug("Connection %s subscribed to operation %s", connectionID, operationID)
	return nil
}

// Unsubscribe removes a connection from an operation's subscriber set.
// Unsubscribing an unknown pair is a no-op.
func (r *ConnectionRegistry) Unsubscribe(connectionID, operationID string) {
	r.mu.Lock()
	state, ok := r.conns[connectionID]
	if !ok {
		r.mu.Unlock()
		return
	}
	delete(state.subs, operationID)
	if set, ok := r.subs[operationID]; ok {
		delete(set, connectionID)
		if len(set) == 0 {
			delete(r.subs, operationID)
		}
	}
	snapshot := r.snapshotLocked(connectionID, state)
	r.mu.Unlock()

	r.persist(&snapshot)
	logger.Debug("Connection %s unsubscribed from operation %s", connectionID, operationID)
}

// IsSubscribed reports whether a connection is subscribed to an operation
func (r *ConnectionRegistry) IsSubscribed(connectionID, operationID string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	state, ok := r.conns[connectionID]
	if !ok {
		return false
	}
	_, subscribed := state.subs[operationID]
	return subscribed
}

// subscribers returns a snapshot of an operation's subscriber set.
// Fan-out sends happen on the snapshot, outside the lock.
func (r *ConnectionRegistry) subscribers(operationID string) []subscriber {
	r.mu.RLock()
	defer r.mu.RUnlock()

	set, ok := r.subs[operationID]
	if !ok {
		return nil
	}
	out := make([]subscriber, 0, len(set))
	for connectionID := range set {
		if state, ok := r.conns[connectionID]; ok {
			out = append(out, subscriber{connectionID: connectionID, sender: state.sender})
		}
	}
	return out
}

// senderOf returns the transport handle of a connection
func (r *ConnectionRegistry) senderOf(connectionID string) (Sender, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	state, ok := r.conns[connectionID]
	if !ok {
		return nil, false
	}
	return state.sender, true
}

// connectionsOfUser returns the live connections belonging to a user
func (r *ConnectionRegistry) connectionsOfUser(userID int64) []subscriber {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []subscriber
	for connectionID, state := range r.conns {
		if state.userID == userID {
			out = append(out, subscriber{connectionID: connectionID, sender: state.sender})
		}
	}
	return out
}

// recordSent advances the last-sent sequence for a connection and
// operation. Informational only; the client's acknowledgment is the
// authoritative progress marker.
func (r *ConnectionRegistry) recordSent(connectionID, operationID string, sequence int64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	state, ok := r.conns[connectionID]
	if !ok {
		return
	}
	if cur, ok := state.lastSent[operationID]; !ok || sequence > cur {
		state.lastSent[operationID] = sequence
	}
}

// Acknowledge advances the acknowledged sequence for a connection and
// operation. Acknowledgments never move backward; a sequence the
// server never sent is accepted as an advisory upper bound.
func (r *ConnectionRegistry) Acknowledge(connectionID, operationID string, sequence int64) (int64, error) {
	r.mu.Lock()
	state, ok := r.conns[connectionID]
	if !ok {
		r.mu.Unlock()
		return 0, ErrUnknownConnection
	}
	if sequence > state.acked[operationID] {
		state.acked[operationID] = sequence
	}
	current := state.acked[operationID]
	snapshot := r.snapshotLocked(connectionID, state)
	r.mu.Unlock()

	r.persist(&snapshot)
	return current, nil
}

// Snapshot returns a copy of a connection's state
func (r *ConnectionRegistry) Snapshot(connectionID string) (Connection, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	state, ok := r.conns[connectionID]
	if !ok {
		return Connection{}, false
	}
	return r.snapshotLocked(connectionID, state), true
}

// Count returns the number of live connections
func (r *ConnectionRegistry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.conns)
}

// IsConnected reports whether a connection is currently admitted
func (r *ConnectionRegistry) IsConnected(connectionID string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.conns[connectionID]
	return ok
}

// ActiveOperations returns the operation IDs with at least one subscriber
func (r *ConnectionRegistry) ActiveOperations() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.subs))
	for operationID := range r.subs {
		out = append(out, operationID)
	}
	return out
}

// CloseAll tears down every connection; used during shutdown
func (r *ConnectionRegistry) CloseAll() {
	r.mu.Lock()
	senders := make([]Sender, 0, len(r.conns))
	for _, state := range r.conns {
		senders = append(senders, state.sender)
	}
	r.conns = make(map[string]*connState)
	r.subs = make(map[string]map[string]struct{})
	r.mu.Unlock()

	for _, sender := range senders {
		if err := sender.Close(); err != nil {
			logger.Debug("Error closing connection during shutdown: %v", err)
		}
	}
}

// snapshotLocked builds a Connection snapshot; caller holds r.mu.
func (r *ConnectionRegistry) snapshotLocked(connectionID string, state *connState) Connection {
	subs := make([]string, 0, len(state.subs))
	for operationID := range state.subs {
		subs = append(subs, operationID)
	}
	lastSent := make(map[string]int64, len(state.lastSent))
	for k, v := range state.lastSent {
		lastSent[k] = v
	}
	acked := make(map[string]int64, len(state.acked))
	for k, v := range state.acked {
		acked[k] = v
	}
	return Connection{
		ConnectionID:  connectionID,
		SessionID:     state.sessionID,
		UserID:        state.userID,
		ConnectedAt:   state.connectedAt,
		Subscriptions: subs,
		LastSent:      lastSent,
		Acked:         acked,
		Connected:     true,
	}
}

func (r *ConnectionRegistry) persist(conn *Connection) {
	if r.store == nil {
		return
	}

	rec := &store.ConnectionRecord{
		ConnectionID:  conn.ConnectionID,
		SessionID:     conn.SessionID,
		UserID:        conn.UserID,
		ConnectedAt:   conn.ConnectedAt,
		Connected:     conn.Connected,
		Subscriptions: conn.Subscriptions,
		Acked:         conn.Acked,
	}
	if err := r.store.SaveConnection(rec); err != nil {
		logger.Error("Failed to persist connection %s: %v", conn.ConnectionID, err)
	}
}
