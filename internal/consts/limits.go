package consts

import "time"

// WebSocket transport limits
const (
	// MaxFrameSize is the maximum inbound frame size accepted from a client
	MaxFrameSize = 8 * 1024
	// SendQueueSize is the default per-connection outbound queue capacity
	SendQueueSize = 256
	// ReadBufferSize is the WebSocket read buffer size
	ReadBufferSize = 1024
	// WriteBufferSize is the WebSocket write buffer size
	WriteBufferSize = 1024
)

// Message history limits
const (
	// DefaultRetentionWindow is how long published messages stay replayable
	DefaultRetentionWindow = 10 * time.Minute
	// DefaultCleanupInterval is how often the retention sweep runs
	DefaultCleanupInterval = time.Minute
	// MaxHistoryPerOperation caps the retained log length of one operation
	MaxHistoryPerOperation = 10000
)

// Timeouts for transport operations
const (
	// WriteWait is the time allowed to write a message to the peer
	WriteWait = 10 * time.Second
	// PongWait is the time allowed to read the next pong from the peer
	PongWait = 60 * time.Second
	// PingPeriod is the ping interval; must be less than PongWait
	PingPeriod = (PongWait * 9) / 10
	// ShutdownTimeout bounds graceful HTTP server shutdown
	ShutdownTimeout = 5 * time.Second
)
