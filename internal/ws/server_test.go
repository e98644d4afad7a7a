package ws

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/specstream/specstream/internal/auth"
	"github.com/specstream/specstream/internal/config"
)

type serverFixture struct {
	ts     *httptest.Server
	auth   *auth.Service
	broker *Broker
	conns  *ConnectionRegistry
	ops    *OperationRegistry
}

func newServerFixture(t *testing.T) *serverFixture {
	t.Helper()

	cfg := &config.Config{
		SendQueueSize: 16,
	}
	sessions := auth.NewService(time.Hour)

	history := NewHistoryStore(0)
	conns := NewConnectionRegistry(nil)
	ops := NewOperationRegistry(nil)
	broker := NewBroker(history, conns, ops, 10*time.Minute, time.Minute)

	srv := NewServer(cfg, sessions, broker, conns, ops)
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(func() {
		conns.CloseAll()
		ts.Close()
	})

	return &serverFixture{ts: ts, auth: sessions, broker: broker, conns: conns, ops: ops}
}

func (f *serverFixture) dial(t *testing.T, sessionID string) *websocket.Conn {
	t.Helper()

	url := "ws" + strings.TrimPrefix(f.ts.URL, "http") + "/ws/connect?session_id=" + sessionID
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func readMessage(t *testing.T, conn *websocket.Conn) *Message {
	t.Helper()

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	var msg Message
	require.NoError(t, conn.ReadJSON(&msg))
	return &msg
}

func TestConnectRejectsInvalidSession(t *testing.T) {
	f := newServerFixture(t)

	url := "ws" + strings.TrimPrefix(f.ts.URL, "http") + "/ws/connect?session_id=sess_bogus"
	_, resp, err := websocket.DefaultDialer.Dial(url, nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	assert.Equal(t, 0, f.conns.Count())
}

func TestConnectSendsConfirmation(t *testing.T) {
	f := newServerFixture(t)
	sess := f.auth.Create(42)
	conn := f.dial(t, sess.SessionID)

	confirm := readMessage(t, conn)
	assert.Equal(t, MessageTypeConnection, confirm.Type)
	assert.Equal(t, PriorityHigh, confirm.Priority)
	assert.Equal(t, float64(42), confirm.Data["user_id"])

	connectionID, _ := confirm.Data["connection_id"].(string)
	assert.True(t, f.conns.IsConnected(connectionID))
}

func TestSubscribeAndLiveDelivery(t *testing.T) {
	f := newServerFixture(t)
	sess := f.auth.Create(1)
	conn := f.dial(t, sess.SessionID)
	readMessage(t, conn) // confirmation

	op := f.ops.Create("clarify", "feat_1", 1)
	require.NoError(t, conn.WriteJSON(map[string]string{
		"type":         "subscribe",
		"operation_id": op.OperationID,
	}))

	ack := readMessage(t, conn)
	assert.Equal(t, MessageTypeConnection, ack.Type)
	assert.Contains(t, ack.Content, "Subscribed")

	require.NoError(t, f.broker.Publish(NewMessage(op.OperationID, 0, MessageTypeThinking, "analyzing")))

	live := readMessage(t, conn)
	assert.Equal(t, MessageTypeThinking, live.Type)
	assert.Equal(t, op.OperationID, live.OperationID)
	assert.Equal(t, int64(0), live.Sequence)
	assert.Equal(t, "analyzing", live.Content)
}

func TestReplayOverSocket(t *testing.T) {
	f := newServerFixture(t)
	op := f.ops.Create("clarify", "feat_1", 1)
	for i := 0; i < 3; i++ {
		require.NoError(t, f.broker.Publish(NewMessage(op.OperationID, int64(i), MessageTypeExecution, "step")))
	}

	sess := f.auth.Create(1)
	conn := f.dial(t, sess.SessionID)
	readMessage(t, conn) // confirmation

	require.NoError(t, conn.WriteJSON(map[string]interface{}{
		"type":          "replay",
		"operation_id":  op.OperationID,
		"from_sequence": 0,
	}))

	for want := int64(0); want < 3; want++ {
		msg := readMessage(t, conn)
		assert.Equal(t, want, msg.Sequence)
		assert.Equal(t, MessageTypeExecution, msg.Type)
	}

	summary := readMessage(t, conn)
	assert.Equal(t, MessageTypeConnection, summary.Type)
	assert.Equal(t, float64(3), summary.Data["replayed_count"])
}

func TestPingFrame(t *testing.T) {
	f := newServerFixture(t)
	sess := f.auth.Create(1)
	conn := f.dial(t, sess.SessionID)
	readMessage(t, conn) // confirmation

	require.NoError(t, conn.WriteJSON(map[string]string{"type": "ping"}))

	pong := readMessage(t, conn)
	assert.Equal(t, "pong", pong.Content)
}

func TestDisconnectClearsRegistry(t *testing.T) {
	f := newServerFixture(t)
	sess := f.auth.Create(1)
	conn := f.dial(t, sess.SessionID)
	confirm := readMessage(t, conn)
	connectionID, _ := confirm.Data["connection_id"].(string)

	require.NoError(t, conn.Close())

	deadline := time.After(2 * time.Second)
	for f.conns.IsConnected(connectionID) {
		select {
		case <-deadline:
			t.Fatal("connection still registered after close")
		case <-time.After(10 * time.Millisecond):
		}
	}
}

func TestHealthEndpoint(t *testing.T) {
	f := newServerFixture(t)

	resp, err := http.Get(f.ts.URL + "/health")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	var body map[string]interface{}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Equal(t, "healthy", body["status"])
}

func TestStatsEndpoint(t *testing.T) {
	f := newServerFixture(t)
	sess := f.auth.Create(1)
	conn := f.dial(t, sess.SessionID)
	readMessage(t, conn) // confirmation

	op := f.ops.Create("clarify", "feat_1", 1)
	require.NoError(t, f.broker.Publish(NewMessage(op.OperationID, 0, MessageTypeExecution, "step")))

	resp, err := http.Get(f.ts.URL + "/ws/stats")
	require.NoError(t, err)
	defer resp.Body.Close()

	var stats Stats
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&stats))
	assert.Equal(t, 1, stats.Connections)
	assert.Equal(t, 1, stats.RetainedMessages)
	assert.Equal(t, 1, stats.TrackedOps)
}

func TestCleanupEndpoint(t *testing.T) {
	f := newServerFixture(t)
	op := f.ops.Create("clarify", "feat_1", 1)

	old := NewMessage(op.OperationID, 0, MessageTypeExecution, "stale")
	old.Timestamp = time.Now().UTC().Add(-time.Hour)
	require.NoError(t, f.broker.Publish(old))

	resp, err := http.Post(f.ts.URL+"/ws/cleanup", "application/json", nil)
	require.NoError(t, err)
	defer resp.Body.Close()

	var body map[string]interface{}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Equal(t, "success", body["status"])
	assert.Equal(t, float64(1), body["removed_messages"])
}

func TestOperationEndpoints(t *testing.T) {
	f := newServerFixture(t)
	op := f.ops.Create("clarify", "feat_a", 1)
	f.ops.Create("analyze", "feat_b", 1)

	resp, err := http.Get(f.ts.URL + "/operations/" + op.OperationID)
	require.NoError(t, err)
	var single Operation
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&single))
	resp.Body.Close()
	assert.Equal(t, op.OperationID, single.OperationID)
	assert.Equal(t, StatusPending, single.Status)

	resp, err = http.Get(f.ts.URL + "/operations/op_missing")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp, err = http.Get(f.ts.URL + "/operations?feature_id=feat_a")
	require.NoError(t, err)
	var listing struct {
		Operations []Operation `json:"operations"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&listing))
	resp.Body.Close()
	require.Len(t, listing.Operations, 1)
	assert.Equal(t, op.OperationID, listing.Operations[0].OperationID)
}
