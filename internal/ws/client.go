package ws

import (
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/specstream/specstream/internal/consts"
	"github.com/specstream/specstream/internal/logger"
)

// Client owns one WebSocket connection: a read pump dispatching
// inbound control frames and a write pump draining the outbound queue.
// Publish enqueues instead of writing directly, so producer speed is
// decoupled from slow consumers.
type Client struct {
	ID     string
	conn   *websocket.Conn
	send   chan *Message
	broker *Broker

	done      chan struct{}
	closeOnce sync.Once
}

// NewClient wraps an upgraded WebSocket connection. The connection ID
// is assigned afterwards by ConnectionRegistry.Admit.
func NewClient(conn *websocket.Conn, broker *Broker, queueSize int) *Client {
	if queueSize <= 0 {
		queueSize = consts.SendQueueSize
	}
	return &Client{
		conn:   conn,
		send:   make(chan *Message, queueSize),
		broker: broker,
		done:   make(chan struct{}),
	}
}

// Enqueue places a message on the outbound queue without blocking. A
// full queue or closed client reports a transport failure; the broker
// treats that as an implicit disconnect.
func (c *Client) Enqueue(msg *Message) error {
	select {
	case <-c.done:
		return ErrConnectionClosed
	default:
	}

	select {
	case c.send <- msg:
		return nil
	default:
		return fmt.Errorf("%w: connection %s", ErrSendQueueFull, c.ID)
	}
}

// Close tears down the transport. Idempotent.
func (c *Client) Close() error {
	var err error
	c.closeOnce.Do(func() {
		close(c.done)
		err = c.conn.Close()
	})
	return err
}

// ReadPump pumps control frames from the WebSocket connection into the
// broker. It runs in its own goroutine per connection and triggers the
// disconnect path on any read failure.
func (c *Client) ReadPump() {
	defer func() {
		c.broker.Disconnect(c.ID)
	}()

	c.conn.SetReadLimit(consts.MaxFrameSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(consts.PongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(consts.PongWait))
	})

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) {
				logger.Error("WebSocket read error on %s: %v", c.ID, err)
			}
			return
		}

		var frame ClientFrame
		if err := json.Unmarshal(data, &frame); err != nil {
			logger.Warn("Unparseable frame from %s: %v", c.ID, err)
			continue
		}

		c.handleFrame(&frame)
	}
}

// WritePump drains the outbound queue to the WebSocket connection and
// keeps the transport alive with periodic pings.
func (c *Client) WritePump() {
	ticker := time.NewTicker(consts.PingPeriod)
	defer func() {
		ticker.Stop()
		c.Close()
	}()

	for {
		select {
		case msg := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(consts.WriteWait))
			if err := c.conn.WriteJSON(msg); err != nil {
				logger.Debug("Write to %s failed: %v", c.ID, err)
				c.broker.Disconnect(c.ID)
				return
			}

		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(consts.WriteWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				c.broker.Disconnect(c.ID)
				return
			}

		case <-c.done:
			_ = c.conn.SetWriteDeadline(time.Now().Add(consts.WriteWait))
			_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
			return
		}
	}
}

// handleFrame dispatches one inbound control frame
func (c *Client) handleFrame(frame *ClientFrame) {
	switch frame.Type {
	case FrameSubscribe:
		if frame.OperationID == "" {
			logger.Warn("Subscribe frame from %s missing operation_id", c.ID)
			return
		}
		if err := c.broker.Subscribe(c.ID, frame.OperationID); err != nil {
			return
		}
		c.notice(frame.OperationID, fmt.Sprintf("Subscribed to operation %s", frame.OperationID), nil)

	case FrameUnsubscribe:
		if frame.OperationID == "" {
			logger.Warn("Unsubscribe frame from %s missing operation_id", c.ID)
			return
		}
		c.broker.Unsubscribe(c.ID, frame.OperationID)

	case FrameReplay:
		if frame.OperationID == "" {
			logger.Warn("Replay frame from %s missing operation_id", c.ID)
			return
		}
		var from int64
		if frame.FromSequence != nil {
			from = *frame.FromSequence
		}
		count, err := c.broker.Replay(c.ID, frame.OperationID, from)
		if err != nil {
			return
		}
		c.notice(frame.OperationID, fmt.Sprintf("Replayed %d messages", count),
			map[string]interface{}{"replayed_count": count})

	case FrameAcknowledge:
		if frame.OperationID == "" || frame.Sequence == nil {
			logger.Warn("Acknowledge frame from %s missing operation_id or sequence", c.ID)
			return
		}
		_, _ = c.broker.Acknowledge(c.ID, frame.OperationID, *frame.Sequence)

	case FramePing:
		c.notice(systemOperationID, "pong", nil)

	default:
		logger.Warn("Unknown frame type %q from %s", frame.Type, c.ID)
	}
}

// notice sends a connection-status message directly to this client,
// outside any operation's history.
func (c *Client) notice(operationID, content string, data map[string]interface{}) {
	msg := NewMessage(operationID, 0, MessageTypeConnection, content)
	msg.Data = data
	if err := c.Enqueue(msg); err != nil {
		logger.Debug("Dropping notice to %s: %v", c.ID, err)
	}
}
