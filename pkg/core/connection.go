// pkg/core/connection.go
package core

import "time"

// ConnectionState is the lifecycle state of the server connection.
type ConnectionState int

const (
	Disconnected ConnectionState = iota
	Connecting
	Connected
	Reconnecting
	Exhausted
)

func (s ConnectionState) String() string {
	switch s {
	case Disconnected:
		return "disconnected"
	case Connecting:
		return "connecting"
	case Connected:
		return "connected"
	case Reconnecting:
		return "reconnecting"
	case Exhausted:
		return "exhausted"
	default:
		return "unknown"
	}
}

// ConnectionStatus is the observable health of the connection.
// RetryDelay is only meaningful while State is Reconnecting.
type ConnectionStatus struct {
	State         ConnectionState
	RetryDelay    time.Duration
	Failures      int
	LastAttemptAt time.Time
	LastMessageAt time.Time
}
