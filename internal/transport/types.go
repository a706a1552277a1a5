package transport

import "time"

// Status is the connection state reported by the client
type Status int

const (
	StatusOffline Status = iota
	StatusOnline
)

// String returns the string representation of Status
func (s Status) String() string {
	switch s {
	case StatusOffline:
		return "offline"
	case StatusOnline:
		return "online"
	default:
		return "unknown"
	}
}

// Config holds WebSocket client settings
type Config struct {
	URL string
	// ResponseTimeout is returned from Send as the time to wait for a reply
	ResponseTimeout   time.Duration
	MessageTimeout    time.Duration
	ReconnectInterval time.Duration
	PingInterval      time.Duration
	// QueueSize bounds the outgoing and incoming frame queues
	QueueSize int
}

const (
	DefaultResponseTimeout = 30 * time.Second
	DefaultMessageTimeout  = 60 * time.Second
	DefaultQueueSize       = 1024

	minReconnectInterval = 100 * time.Millisecond
	handshakeTimeout     = 10 * time.Second
	writeTimeout         = 10 * time.Second
)
