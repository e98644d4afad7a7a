package ws

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// MessageType classifies a real-time message
type MessageType string

const (
	// MessageTypeThinking carries AI thinking/planning output
	MessageTypeThinking MessageType = "thinking"
	// MessageTypeExecution carries task execution output
	MessageTypeExecution MessageType = "execution"
	// MessageTypeError carries an error report
	MessageTypeError MessageType = "error"
	// MessageTypeComplete marks an operation as complete
	MessageTypeComplete MessageType = "complete"
	// MessageTypeProgress carries a progress update
	MessageTypeProgress MessageType = "progress"
	// MessageTypeQuestion carries a question from the AI to the user
	MessageTypeQuestion MessageType = "question"
	// MessageTypeAnswer carries a user answer to a question
	MessageTypeAnswer MessageType = "answer"
	// MessageTypeConnection carries connection status notices
	MessageTypeConnection MessageType = "connection"
)

// Valid reports whether t is a known message type
func (t MessageType) Valid() bool {
	switch t {
	case MessageTypeThinking, MessageTypeExecution, MessageTypeError, MessageTypeComplete,
		MessageTypeProgress, MessageTypeQuestion, MessageTypeAnswer, MessageTypeConnection:
		return true
	}
	return false
}

// MessagePriority indicates delivery priority of a message
type MessagePriority string

const (
	PriorityLow      MessagePriority = "low"
	PriorityNormal   MessagePriority = "normal"
	PriorityHigh     MessagePriority = "high"
	PriorityCritical MessagePriority = "critical"
)

// Valid reports whether p is a known priority
func (p MessagePriority) Valid() bool {
	switch p {
	case PriorityLow, PriorityNormal, PriorityHigh, PriorityCritical:
		return true
	}
	return false
}

// Message is one notification unit sent over a connection. Messages
// are immutable once published; ordering within an operation is by
// Sequence, identity is by MessageID.
type Message struct {
	MessageID   string                 `json:"message_id"`
	OperationID string                 `json:"operation_id"`
	Sequence    int64                  `json:"sequence"`
	Type        MessageType            `json:"type"`
	Content     string                 `json:"content"`
	Data        map[string]interface{} `json:"data,omitempty"`
	Timestamp   time.Time              `json:"timestamp"`
	Priority    MessagePriority        `json:"priority"`
	IsFinal     bool                   `json:"is_final"`
	RequiresAck bool                   `json:"requires_acknowledgment"`

	// UI hints
	Collapsible bool `json:"collapsible"`
	Formatted   bool `json:"formatted"`
}

// NewMessage creates a message with a fresh ID, current timestamp and
// normal priority. The caller assigns the per-operation sequence.
func NewMessage(operationID string, sequence int64, msgType MessageType, content string) *Message {
	return &Message{
		MessageID:   "msg_" + uuid.NewString(),
		OperationID: operationID,
		Sequence:    sequence,
		Type:        msgType,
		Content:     content,
		Timestamp:   time.Now().UTC(),
		Priority:    PriorityNormal,
	}
}

// Validate checks the structural invariants of a message
func (m *Message) Validate() error {
	if m.MessageID == "" {
		return fmt.Errorf("%w: empty message_id", ErrInvalidMessage)
	}
	if m.OperationID == "" {
		return fmt.Errorf("%w: empty operation_id", ErrInvalidMessage)
	}
	if m.Sequence < 0 {
		return fmt.Errorf("%w: negative sequence %d", ErrInvalidMessage, m.Sequence)
	}
	if !m.Type.Valid() {
		return fmt.Errorf("%w: unknown type %q", ErrInvalidMessage, m.Type)
	}
	if m.Priority != "" && !m.Priority.Valid() {
		return fmt.Errorf("%w: unknown priority %q", ErrInvalidMessage, m.Priority)
	}
	return nil
}

// systemOperationID tags connection-level notices that belong to no
// real operation.
const systemOperationID = "system"

// Inbound frame types sent by clients
const (
	FrameSubscribe   = "subscribe"
	FrameUnsubscribe = "unsubscribe"
	FrameReplay      = "replay"
	FrameAcknowledge = "acknowledge"
	FramePing        = "ping"
)

// ClientFrame is one inbound control frame from a client
type ClientFrame struct {
	Type         string `json:"type"`
	OperationID  string `json:"operation_id,omitempty"`
	FromSequence *int64 `json:"from_sequence,omitempty"`
	Sequence     *int64 `json:"sequence,omitempty"`
}
