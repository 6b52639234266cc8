package goble

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/cornelk/hashmap"
	"github.com/go-ble/ble"
	"github.com/sirupsen/logrus"
	"github.com/srg/blelink/internal/device"
	"github.com/srg/blelink/internal/groutine"
)

const (
	// DefaultScanTimeout bounds a single discovery scan.
	DefaultScanTimeout = 5 * time.Second

	// DefaultConnectTimeout bounds dialing plus profile discovery.
	DefaultConnectTimeout = 30 * time.Second

	// DefaultBLEWriteChunkSize is the maximum number of bytes to write in a single BLE operation.
	// BLE 4.0/4.1 defines ATT_MTU of 23 bytes (20 bytes payload after ATT header overhead).
	DefaultBLEWriteChunkSize = 20

	// DefaultBLEWriteDelay is the delay between consecutive write chunks.
	DefaultBLEWriteDelay = 10 * time.Millisecond
)

// Options configures the go-ble transport
type Options struct {
	ScanTimeout     time.Duration
	ConnectTimeout  time.Duration
	AllowDuplicates bool
}

// DefaultOptions returns the transport defaults
func DefaultOptions() *Options {
	return &Options{
		ScanTimeout:    DefaultScanTimeout,
		ConnectTimeout: DefaultConnectTimeout,
	}
}

type subscription struct {
	char     *ble.Characteristic
	indicate bool
}

// Transport implements device.Transport on top of go-ble.
// One Transport holds at most one live client.
type Transport struct {
	opts   Options
	logger *logrus.Logger

	mu         sync.RWMutex
	writeMutex sync.Mutex
	dev        ble.Device
	client     ble.Client
	profile    *ble.Profile
	address    string
	connected  bool
	linkCancel context.CancelFunc

	subs *hashmap.Map[string, *subscription]

	cbMu         sync.Mutex
	onDisconnect []func()
}

var _ device.Transport = (*Transport)(nil)

// NewTransport creates a transport; the ble.Device is created lazily on first use.
func NewTransport(opts *Options, logger *logrus.Logger) *Transport {
	if logger == nil {
		logger = logrus.New()
	}
	if opts == nil {
		opts = DefaultOptions()
	}

	o := *opts
	if o.ScanTimeout <= 0 {
		o.ScanTimeout = DefaultScanTimeout
	}
	if o.ConnectTimeout <= 0 {
		o.ConnectTimeout = DefaultConnectTimeout
	}

	return &Transport{
		opts:   o,
		logger: logger,
		subs:   hashmap.New[string, *subscription](),
	}
}

// bleDevice returns the cached ble.Device, creating it on first call.
func (t *Transport) bleDevice() (ble.Device, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.dev != nil {
		return t.dev, nil
	}

	dev, err := DeviceFactory()
	if err != nil {
		t.logger.WithField("error", err).Error("Failed to create BLE device")
		return nil, fmt.Errorf("failed to create BLE device: %w", NormalizeError(err))
	}
	t.dev = dev
	return dev, nil
}

// OnDisconnect registers a callback fired when the peripheral drops the link.
// Callbacks are not fired for a Disconnect requested by the caller.
func (t *Transport) OnDisconnect(callback func()) {
	if callback == nil {
		return
	}
	t.cbMu.Lock()
	defer t.cbMu.Unlock()
	t.onDisconnect = append(t.onDisconnect, callback)
}

// Connect dials the peripheral and discovers its GATT profile
func (t *Transport) Connect(ctx context.Context, address string) error {
	if strings.TrimSpace(address) == "" {
		t.logger.Error("Connection attempt with empty address")
		return fmt.Errorf("device address is empty")
	}

	dev, err := t.bleDevice()
	if err != nil {
		return err
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	if t.isConnectedInternal() {
		t.logger.WithField("address", address).Warn("Connection attempt while already connected")
		return device.ErrAlreadyConnected
	}

	t.logger.WithFields(logrus.Fields{
		"address": address,
		"timeout": t.opts.ConnectTimeout,
	}).Info("Connecting to BLE device...")

	connCtx, cancel := context.WithTimeout(ctx, t.opts.ConnectTimeout)
	defer cancel()

	client, err := dev.Dial(connCtx, ble.NewAddr(address))
	if err != nil {
		t.logger.WithFields(logrus.Fields{
			"address": address,
			"error":   err,
		}).Error("Failed to dial BLE device")
		return fmt.Errorf("failed to connect to device with address %q: %w", address, NormalizeError(err))
	}

	t.logger.WithField("address", address).Debug("Discovering services and characteristics...")
	profile, err := client.DiscoverProfile(true)
	if err != nil {
		t.logger.WithFields(logrus.Fields{
			"address": address,
			"error":   err,
		}).Error("Failed to discover profile")
		if cancelErr := client.CancelConnection(); cancelErr != nil {
			t.logger.WithField("cancel_error", cancelErr).Warn("Failed to cancel connection during profile discovery failure")
		}
		return fmt.Errorf("failed to discover profile: %w", NormalizeError(err))
	}

	linkCtx, linkCancel := context.WithCancel(context.Background())
	t.client = client
	t.profile = profile
	t.address = address
	t.connected = true
	t.linkCancel = linkCancel

	t.watchLink(linkCtx, client)

	t.logger.WithFields(logrus.Fields{
		"address":  address,
		"services": len(profile.Services),
	}).Info("BLE device connected successfully")
	return nil
}

// watchLink monitors the client Disconnected() channel until linkCtx ends
func (t *Transport) watchLink(linkCtx context.Context, client ble.Client) {
	dc, ok := client.(interface{ Disconnected() <-chan struct{} })
	if !ok {
		t.logger.Debug("Client does not support Disconnected() channel")
		return
	}

	groutine.Go(linkCtx, "ble-link-monitor", func(ctx context.Context) {
		select {
		case <-dc.Disconnected():
			t.logger.WithField("address", t.Address()).Warn("Peripheral reported disconnection")
			t.markDisconnected(client)
		case <-ctx.Done():
		}
	})
}

// markDisconnected drops the link state for client and fires the callbacks.
// A stale client (already replaced or released) is ignored.
func (t *Transport) markDisconnected(client ble.Client) {
	t.mu.Lock()
	if t.client != client {
		t.mu.Unlock()
		return
	}
	cancel := t.linkCancel
	t.resetInternal()
	t.mu.Unlock()

	if cancel != nil {
		cancel()
	}

	t.cbMu.Lock()
	callbacks := append([]func(){}, t.onDisconnect...)
	t.cbMu.Unlock()

	for _, cb := range callbacks {
		cb()
	}
}

// resetInternal clears link state. Caller must hold mu.
func (t *Transport) resetInternal() {
	t.client = nil
	t.profile = nil
	t.address = ""
	t.connected = false
	t.linkCancel = nil
	t.subs = hashmap.New[string, *subscription]()
}

// Disconnect cancels the connection; calling it while disconnected is a no-op
func (t *Transport) Disconnect() error {
	t.mu.Lock()
	if t.client == nil || !t.connected {
		t.mu.Unlock()
		t.logger.Debug("Disconnect called but already disconnected")
		return nil
	}

	client := t.client
	cancel := t.linkCancel
	address := t.address
	t.resetInternal()
	t.mu.Unlock()

	if cancel != nil {
		cancel()
	}

	t.logger.WithField("address", address).Info("Disconnecting BLE device...")
	if err := client.CancelConnection(); err != nil {
		t.logger.WithField("error", err).Warn("BLE device disconnected with errors")
		return NormalizeError(err)
	}

	t.logger.WithField("address", address).Info("BLE device disconnected successfully")
	return nil
}

// isConnectedInternal checks the connection status without acquiring locks.
func (t *Transport) isConnectedInternal() bool {
	return t.client != nil && t.connected
}

// IsConnected reports whether a live client is held
func (t *Transport) IsConnected() bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.isConnectedInternal()
}

// Address returns the address of the connected peripheral or ""
func (t *Transport) Address() string {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.address
}
