package device

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// NotFoundError represents an error when a BLE resource is not found
type NotFoundError struct {
	Resource string   // "service", "characteristic"
	UUIDs    []string // One or more UUIDs
}

func (e *NotFoundError) Error() string {
	if len(e.UUIDs) == 0 {
		return fmt.Sprintf("%s not found", e.Resource)
	}
	if len(e.UUIDs) == 1 {
		return fmt.Sprintf("%s %q not found", e.Resource, e.UUIDs[0])
	}
	return fmt.Sprintf("%s %q not found in service %q", e.Resource, e.UUIDs[len(e.UUIDs)-1], e.UUIDs[0])
}

// ConnectionState represents the specific kind of connection state failure
type ConnectionState string

const (
	NotConnected     ConnectionState = "not_connected"
	AlreadyConnected ConnectionState = "already_connected"
	NotInitialized   ConnectionState = "not_initialized"
	ConnectFailed    ConnectionState = "connect_failed"
)

// ConnectionError represents any connection-related problem
type ConnectionError struct {
	State   ConnectionState
	Address string
	Msg     string
	Err     error
}

// Error implements the error interface
func (e *ConnectionError) Error() string {
	if e == nil {
		return "<nil>"
	}
	msg := string(e.State)
	if e.Address != "" {
		msg = fmt.Sprintf("%s (%s)", msg, e.Address)
	}
	if e.Msg != "" {
		msg = fmt.Sprintf("%s: %s", msg, e.Msg)
	}
	if e.Err != nil {
		msg = fmt.Sprintf("%s: %v", msg, e.Err)
	}
	return msg
}

// Unwrap exposes the underlying transport error
func (e *ConnectionError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// Is allows errors.Is to compare ConnectionError values by State
func (e *ConnectionError) Is(target error) bool {
	if e == nil {
		return false
	}
	t, ok := target.(*ConnectionError)
	if !ok {
		return false
	}
	return e.State == t.State
}

// Predefined sentinel errors for connection states
var (
	ErrNotConnected     = &ConnectionError{State: NotConnected}
	ErrAlreadyConnected = &ConnectionError{State: AlreadyConnected}
	ErrNotInitialized   = &ConnectionError{State: NotInitialized}
	ErrConnectFailed    = &ConnectionError{State: ConnectFailed}
)

// Operation errors
var (
	ErrDiscovery    = errors.New("discovery failed")
	ErrBluetoothOff = errors.New("bluetooth is turned off")
	ErrUnsupported  = errors.New("unsupported")
)

// NewConnectError classifies err as a failed connect attempt against address.
func NewConnectError(address string, err error) error {
	if err == nil {
		return nil
	}
	return &ConnectionError{State: ConnectFailed, Address: address, Err: err}
}

// NormalizeError maps known go-ble error strings to structured ConnectionError types.
// Returns wrapped errors to preserve original context.
func NormalizeError(err error) error {
	if err == nil {
		return nil
	}

	msg := err.Error()
	switch {
	case msg == "central manager has invalid state: have=4 want=5: is Bluetooth turned on?":
		return fmt.Errorf("%w: %v", ErrBluetoothOff, err)
	case containsIgnoreCase(msg, "bluetooth is turned off"):
		return fmt.Errorf("%w: %v", ErrBluetoothOff, err)
	case containsIgnoreCase(msg, "device not connected"):
		return fmt.Errorf("%w: %v", ErrNotConnected, err)
	case containsIgnoreCase(msg, "device already connected"):
		return fmt.Errorf("%w: %v", ErrAlreadyConnected, err)
	case containsIgnoreCase(msg, "connection is not initialized"):
		return fmt.Errorf("%w: %v", ErrNotInitialized, err)
	default:
		return err
	}
}

// containsIgnoreCase checks substring case-insensitively
func containsIgnoreCase(s, substr string) bool {
	return strings.Contains(strings.ToLower(s), strings.ToLower(substr))
}

// IsConnectionState reports whether err is a ConnectionError with the given state
func IsConnectionState(err error, state ConnectionState) bool {
	var cerr *ConnectionError
	if errors.As(err, &cerr) {
		return cerr.State == state
	}
	return false
}

// Candidate is a single discovery result.
type Candidate struct {
	Name    string
	Address string
	RSSI    int
}

func (c Candidate) String() string {
	if c.Name == "" {
		return c.Address
	}
	return fmt.Sprintf("%s (%s)", c.Name, c.Address)
}

// placeholderNames are advertised names that identify nothing.
var placeholderNames = map[string]struct{}{
	"":        {},
	"Unknown": {},
}

// FilterNamed drops candidates without a usable name, keeping discovery order.
func FilterNamed(candidates []Candidate) []Candidate {
	result := make([]Candidate, 0, len(candidates))
	for _, c := range candidates {
		if _, placeholder := placeholderNames[strings.TrimSpace(c.Name)]; placeholder {
			continue
		}
		result = append(result, c)
	}
	return result
}

// NotificationHandler receives raw notification payloads.
type NotificationHandler func(data []byte)

// Transport is the wireless capability the session is built on.
type Transport interface {
	// Discover runs one bounded scan and returns candidates in first-seen order.
	Discover(ctx context.Context) ([]Candidate, error)
	Connect(ctx context.Context, address string) error
	IsConnected() bool
	Subscribe(characteristic string, handler NotificationHandler) error
	Unsubscribe(characteristic string) error
	Write(characteristic string, data []byte) error
	Disconnect() error
	// OnDisconnect registers a callback invoked when the peer drops the link.
	OnDisconnect(callback func())
}
