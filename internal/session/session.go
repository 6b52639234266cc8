// Package session supervises the lifetime of a single BLE peripheral link:
// discovery, selection, connection, notification ingest and recovery after
// the link drops.
package session

import (
	"fmt"
	"time"

	"github.com/srg/blelink/internal/device"
)

// State is the supervisor's view of the session.
type State int

const (
	Idle State = iota
	Selecting
	Connecting
	Connected
	Disconnected
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Selecting:
		return "selecting"
	case Connecting:
		return "connecting"
	case Connected:
		return "connected"
	case Disconnected:
		return "disconnected"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Event is posted to the supervisor loop from transport callbacks.
type Event int

const (
	// EventDisconnected signals that the peripheral dropped the link.
	EventDisconnected Event = iota + 1
)

func (e Event) String() string {
	if e == EventDisconnected {
		return "disconnected"
	}
	return fmt.Sprintf("event(%d)", int(e))
}

// Session is a point-in-time copy of the supervised session.
type Session struct {
	Target       device.Candidate
	State        State
	Connected    bool
	LastActivity time.Time
	// Attempts counts connect attempts made for the current target.
	Attempts int
}

// Options configure the supervisor loop.
type Options struct {
	ReadCharacteristic  string
	WriteCharacteristic string
	// WarmUp is waited before every discovery.
	WarmUp time.Duration
	// Backoff is waited after a failed discovery, selection or connect.
	Backoff time.Duration
	// PollInterval is how often the link liveness is checked while connected.
	PollInterval time.Duration
	// MaxAttempts caps consecutive failed cycles; 0 retries forever.
	MaxAttempts int
}

const (
	DefaultReadCharacteristic  = "00001143-0000-1000-8000-00805f9b34fb"
	DefaultWriteCharacteristic = "00001142-0000-1000-8000-00805f9b34fb"
	DefaultWarmUp              = 2 * time.Second
	DefaultBackoff             = 5 * time.Second
	DefaultPollInterval        = time.Second
)

// DefaultOptions returns the options the CLI starts from.
func DefaultOptions() Options {
	return Options{
		ReadCharacteristic:  DefaultReadCharacteristic,
		WriteCharacteristic: DefaultWriteCharacteristic,
		WarmUp:              DefaultWarmUp,
		Backoff:             DefaultBackoff,
		PollInterval:        DefaultPollInterval,
	}
}
