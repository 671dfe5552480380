package connection

import (
	"encoding/json"
	"errors"
	"time"
)

// Errors
var (
	ErrNotConnected    = errors.New("not connected")
	ErrStaleConnection = errors.New("connection stale (no ping)")
	ErrAlreadyClosed   = errors.New("already closed")
)

// State is the manager's lifecycle state.
type State string

const (
	StateDisconnected State = "disconnected"
	StateConnecting   State = "connecting"
	StateConnected    State = "connected"
	StateReconnecting State = "reconnecting"
)

// TimestampedMessage wraps raw frame data with its receive timestamp.
type TimestampedMessage struct {
	Data       []byte
	ReceivedAt time.Time
}

// Frame is an inbound pub/sub frame: a topic plus its JSON payload.
type Frame struct {
	Topic   string          `json:"topic"`
	Payload json.RawMessage `json:"payload"`
}

// Command is an outbound control frame.
type Command struct {
	Action string `json:"action"` // "subscribe" or "unsubscribe"
	Topic  string `json:"topic"`
}

// ClientConfig configures a WebSocket client.
type ClientConfig struct {
	URL               string        // Pub/sub endpoint (e.g., wss://api.chowlane.com/ws)
	Token             string        // Bearer credential; empty allowed
	HeartbeatInterval time.Duration // Outbound ping cadence
	PingTimeout       time.Duration // Max quiet time before the connection is stale
	WriteTimeout      time.Duration // Write deadline for sends
	BufferSize        int           // Message channel buffer size
}

// DefaultClientConfig returns sensible defaults.
func DefaultClientConfig() ClientConfig {
	return ClientConfig{
		HeartbeatInterval: 15 * time.Second,
		PingTimeout:       45 * time.Second,
		WriteTimeout:      5 * time.Second,
		BufferSize:        256,
	}
}

// ManagerConfig configures the connection manager.
type ManagerConfig struct {
	WSURL             string
	Token             string
	ReconnectBaseWait time.Duration // First reconnect delay
	ReconnectMaxWait  time.Duration // Delay cap
	MaxReconnects     int           // Attempts before giving up
	HeartbeatInterval time.Duration
	PingTimeout       time.Duration
	WriteTimeout      time.Duration
	MessageBufferSize int
}

// DefaultManagerConfig returns sensible defaults.
func DefaultManagerConfig() ManagerConfig {
	return ManagerConfig{
		ReconnectBaseWait: 1 * time.Second,
		ReconnectMaxWait:  30 * time.Second,
		MaxReconnects:     5,
		HeartbeatInterval: 15 * time.Second,
		PingTimeout:       45 * time.Second,
		WriteTimeout:      5 * time.Second,
		MessageBufferSize: 1024,
	}
}

// BackoffDelay returns the wait before reconnect attempt k (1-based):
// min(base * 2^(k-1), max). Pure exponential, no jitter.
func BackoffDelay(base, max time.Duration, attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	delay := base
	for i := 1; i < attempt; i++ {
		delay *= 2
		if delay >= max {
			return max
		}
	}
	if delay > max {
		return max
	}
	return delay
}

// ManagerStats provides a point-in-time view of the manager.
type ManagerStats struct {
	State         State
	Retries       int
	Subscriptions int
}
