package session

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/srg/blelink/internal/device"
)

// ErrAttemptsExhausted is returned by Run once MaxAttempts consecutive cycles failed.
var ErrAttemptsExhausted = errors.New("connect attempts exhausted")

// Selector resolves discovered candidates to the device to connect to.
type Selector interface {
	Select(ctx context.Context, candidates []device.Candidate) (device.Candidate, error)
}

// Sink receives every notification payload with its arrival time.
type Sink interface {
	Append(payload []byte, now time.Time)
}

// Supervisor drives the Idle → Selecting → Connecting → Connected loop and
// recovers from every failure by starting over with a fresh discovery.
//
// Session fields are written only by the goroutine running Run. The connected
// flag and the last activity time are also touched from transport callbacks
// and are therefore atomic.
type Supervisor struct {
	opts      Options
	transport device.Transport
	selector  Selector
	sink      Sink
	logger    *logrus.Logger
	out       io.Writer
	now       func() time.Time

	events chan Event

	mu      sync.RWMutex
	session Session

	connected    atomic.Bool
	lastActivity atomic.Int64

	// link state owned by the Run goroutine
	held       bool
	subscribed bool

	cleanupOnce sync.Once
}

// New creates a supervisor. out receives the user-facing progress messages.
func New(opts Options, transport device.Transport, selector Selector, sink Sink, logger *logrus.Logger, out io.Writer) *Supervisor {
	if opts.PollInterval <= 0 {
		opts.PollInterval = DefaultPollInterval
	}
	if opts.ReadCharacteristic == "" {
		opts.ReadCharacteristic = DefaultReadCharacteristic
	}
	if opts.WriteCharacteristic == "" {
		opts.WriteCharacteristic = DefaultWriteCharacteristic
	}
	if logger == nil {
		logger = logrus.New()
	}
	if out == nil {
		out = io.Discard
	}
	return &Supervisor{
		opts:      opts,
		transport: transport,
		selector:  selector,
		sink:      sink,
		logger:    logger,
		out:       out,
		now:       time.Now,
		events:    make(chan Event, 1),
	}
}

// Run supervises the session until ctx is cancelled, returning ctx.Err(), or
// until MaxAttempts consecutive cycles failed. The link is released exactly
// once on the way out.
func (s *Supervisor) Run(ctx context.Context) error {
	s.transport.OnDisconnect(s.handleDisconnect)
	defer s.cleanup()

	failures := 0
	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		err := s.cycle(ctx)
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		if err == nil {
			failures = 0
			continue
		}

		failures++
		s.logFailure(err, failures)
		if s.opts.MaxAttempts > 0 && failures >= s.opts.MaxAttempts {
			return fmt.Errorf("%w after %d attempts: %v", ErrAttemptsExhausted, failures, err)
		}
		if !sleep(ctx, s.opts.Backoff) {
			return ctx.Err()
		}
	}
}

// cycle runs one pass from Idle to the end of a connection. It returns nil
// when an established link was later lost.
func (s *Supervisor) cycle(ctx context.Context) error {
	s.setState(Idle)
	fmt.Fprintln(s.out, "Bluetooth LE hardware warming up...")
	if !sleep(ctx, s.opts.WarmUp) {
		return ctx.Err()
	}

	s.setState(Selecting)
	target, err := s.selectTarget(ctx)
	if err != nil {
		return err
	}

	if err := s.connect(ctx, target); err != nil {
		s.release()
		return err
	}

	s.monitor(ctx)
	if ctx.Err() != nil {
		return ctx.Err()
	}

	s.setState(Disconnected)
	fmt.Fprintf(s.out, "Disconnected from %s!\n", target.Name)
	s.logger.WithFields(logrus.Fields{
		"name":    target.Name,
		"address": target.Address,
	}).Warn("Device disconnected, restarting discovery")

	// A link the transport still reports as live would make the next
	// Connect fail with ErrAlreadyConnected.
	if s.transport.IsConnected() {
		s.release()
	}
	s.held = false
	s.subscribed = false
	return nil
}

func (s *Supervisor) selectTarget(ctx context.Context) (device.Candidate, error) {
	candidates, err := s.transport.Discover(ctx)
	if err != nil {
		if errors.Is(err, device.ErrDiscovery) || ctx.Err() != nil {
			return device.Candidate{}, err
		}
		return device.Candidate{}, fmt.Errorf("%w: %v", device.ErrDiscovery, err)
	}

	named := device.FilterNamed(candidates)
	s.logger.WithFields(logrus.Fields{
		"found": len(candidates),
		"named": len(named),
	}).Debug("Discovery finished")
	if len(named) == 0 {
		return device.Candidate{}, fmt.Errorf("%w: no named devices found", device.ErrDiscovery)
	}

	return s.selector.Select(ctx, named)
}

// connect establishes the link and subscribes the read characteristic.
// Panics raised by the transport are reported as connect failures.
func (s *Supervisor) connect(ctx context.Context, target device.Candidate) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = device.NewConnectError(target.Address, fmt.Errorf("panic: %v", r))
		}
	}()

	s.drainEvents()
	s.mu.Lock()
	if s.session.Target.Address != target.Address {
		s.session.Attempts = 0
	}
	s.session.Target = target
	s.session.Attempts++
	s.session.State = Connecting
	s.mu.Unlock()

	fmt.Fprintln(s.out, "Connecting..")
	s.logger.WithFields(logrus.Fields{
		"name":    target.Name,
		"address": target.Address,
	}).Info("Connecting to device")

	if err := s.transport.Connect(ctx, target.Address); err != nil {
		return device.NewConnectError(target.Address, err)
	}
	s.held = true

	if !s.transport.IsConnected() {
		return device.NewConnectError(target.Address, errors.New("link is not alive after connect"))
	}
	s.connected.Store(true)

	if err := s.transport.Subscribe(s.opts.ReadCharacteristic, s.ingest); err != nil {
		return device.NewConnectError(target.Address, err)
	}
	s.subscribed = true

	s.lastActivity.Store(s.now().UnixNano())
	s.mu.Lock()
	s.session.State = Connected
	s.session.Attempts = 0
	s.mu.Unlock()

	fmt.Fprintf(s.out, "Connected to %s\n", target.Name)
	s.logger.WithFields(logrus.Fields{
		"name":           target.Name,
		"address":        target.Address,
		"characteristic": s.opts.ReadCharacteristic,
	}).Info("Connected and subscribed")
	return nil
}

// monitor returns when the link is lost or ctx is done.
func (s *Supervisor) monitor(ctx context.Context) {
	ticker := time.NewTicker(s.opts.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case ev := <-s.events:
			s.logger.WithField("event", ev).Debug("Supervisor event")
			if ev == EventDisconnected {
				return
			}
		case <-ticker.C:
			if !s.connected.Load() || !s.transport.IsConnected() {
				s.connected.Store(false)
				return
			}
		}
	}
}

// ingest runs on the transport's delivery goroutine.
func (s *Supervisor) ingest(payload []byte) {
	now := s.now()
	s.lastActivity.Store(now.UnixNano())
	if s.sink != nil {
		s.sink.Append(payload, now)
	}
}

func (s *Supervisor) handleDisconnect() {
	s.connected.Store(false)
	select {
	case s.events <- EventDisconnected:
	default:
	}
}

func (s *Supervisor) drainEvents() {
	for {
		select {
		case <-s.events:
		default:
			return
		}
	}
}

// release tears down whatever part of the link is held.
func (s *Supervisor) release() {
	s.connected.Store(false)
	if s.subscribed {
		if err := s.transport.Unsubscribe(s.opts.ReadCharacteristic); err != nil {
			s.logger.WithError(err).Warn("Failed to unsubscribe")
		}
		s.subscribed = false
	}
	if s.held {
		if err := s.transport.Disconnect(); err != nil {
			s.logger.WithError(err).Warn("Failed to disconnect")
		}
		s.held = false
	}
}

func (s *Supervisor) cleanup() {
	s.cleanupOnce.Do(func() {
		if s.held {
			fmt.Fprintln(s.out, "Disconnecting...")
		}
		s.release()
		s.setState(Disconnected)
	})
}

func (s *Supervisor) logFailure(err error, failures int) {
	entry := s.logger.WithError(err).WithField("failures", failures)
	switch {
	case errors.Is(err, device.ErrDiscovery):
		entry.Warn("Discovery failed, retrying")
	case errors.Is(err, device.ErrConnectFailed):
		entry.Error("Connect failed, retrying")
	default:
		entry.Warn("Device selection failed, retrying")
	}
}

func (s *Supervisor) setState(state State) {
	s.mu.Lock()
	s.session.State = state
	s.mu.Unlock()
}

// Send writes data to the write characteristic of the connected device.
func (s *Supervisor) Send(data []byte) error {
	if !s.connected.Load() {
		return device.ErrNotConnected
	}
	return s.transport.Write(s.opts.WriteCharacteristic, data)
}

// Session returns a snapshot of the current session.
func (s *Supervisor) Session() Session {
	s.mu.RLock()
	snap := s.session
	s.mu.RUnlock()

	snap.Connected = s.connected.Load()
	if ns := s.lastActivity.Load(); ns != 0 {
		snap.LastActivity = time.Unix(0, ns)
	}
	return snap
}

// State returns the current supervisor state.
func (s *Supervisor) State() State {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.session.State
}

// ReportStatus logs a session snapshot every interval until ctx is done.
func (s *Supervisor) ReportStatus(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			snap := s.Session()
			fields := logrus.Fields{
				"state":     snap.State,
				"connected": snap.Connected,
				"attempts":  snap.Attempts,
			}
			if snap.Target.Address != "" {
				fields["target"] = snap.Target.String()
			}
			if !snap.LastActivity.IsZero() {
				fields["idle"] = s.now().Sub(snap.LastActivity).Truncate(time.Millisecond)
			}
			s.logger.WithFields(fields).Info("Session status")
		}
	}
}

// sleep waits d or until ctx is done; it reports whether the wait completed.
func sleep(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
