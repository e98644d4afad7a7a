package ws

import "errors"

var (
	// ErrInvalidMessage indicates a message failed structural validation
	ErrInvalidMessage = errors.New("invalid message")

	// ErrSequenceConflict indicates an append with a duplicate or
	// out-of-order sequence; the message is dropped, never reordered
	ErrSequenceConflict = errors.New("sequence conflict")

	// ErrOperationFinal indicates an append after a final message
	ErrOperationFinal = errors.New("operation already finalized")

	// ErrUnknownConnection indicates a reference to a connection that
	// is not currently admitted
	ErrUnknownConnection = errors.New("unknown connection")

	// ErrUnknownOperation indicates a reference to an operation that
	// is not currently tracked
	ErrUnknownOperation = errors.New("unknown operation")

	// ErrSendQueueFull indicates a connection's outbound queue is
	// saturated; treated as a transport failure
	ErrSendQueueFull = errors.New("send queue full")

	// ErrConnectionClosed indicates a send on a closed connection
	ErrConnectionClosed = errors.New("connection closed")
)
