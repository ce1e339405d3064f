// Package lock drives a single Bluetooth serial lock controller: it finds
// the bonded controller, keeps one connection to it and toggles its state
// with one-byte commands once the operator has been authenticated.
package lock

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/oklog/ulid/v2"

	"github.com/chaz8081/btlock/internal/auth"
	"github.com/chaz8081/btlock/internal/metrics"
	"github.com/chaz8081/btlock/internal/radio"
)

// Phase is the session's position in the connect/toggle flow.
type Phase int

const (
	PhaseUninitialized Phase = iota
	PhasePermissionChecked
	PhaseScanning
	PhaseConnected
	PhaseAuthenticating
	PhaseSending
)

func (p Phase) String() string {
	switch p {
	case PhaseUninitialized:
		return "uninitialized"
	case PhasePermissionChecked:
		return "permission_checked"
	case PhaseScanning:
		return "scanning"
	case PhaseConnected:
		return "connected"
	case PhaseAuthenticating:
		return "authenticating"
	case PhaseSending:
		return "sending"
	}
	return fmt.Sprintf("Phase(%d)", int(p))
}

func (p Phase) busy() bool {
	return p == PhaseScanning || p == PhaseAuthenticating || p == PhaseSending
}

// Signal is a transient outcome for the presentation layer to display.
type Signal int

const (
	SignalNone Signal = iota
	SignalDeviceNotFound
	SignalAuthFailed
	SignalWriteFailed
	SignalPermissionDenied
)

func (s Signal) String() string {
	switch s {
	case SignalNone:
		return ""
	case SignalDeviceNotFound:
		return "device_not_found"
	case SignalAuthFailed:
		return "auth_failed"
	case SignalWriteFailed:
		return "write_failed"
	case SignalPermissionDenied:
		return "permission_denied"
	}
	return fmt.Sprintf("Signal(%d)", int(s))
}

// Snapshot is the observable session state.
type Snapshot struct {
	BLEAvailable bool
	Device       *radio.Device
	IsLocked     bool
	IsScanning   bool
	AuthSuccess  bool
	IsErrorAuth  bool
	Phase        Phase
	Signal       Signal
	// Attempt identifies the most recent scan or toggle attempt.
	Attempt string
}

// DeviceLabel is the device address, or "not available" before discovery.
func (s Snapshot) DeviceLabel() string {
	if s.Device == nil {
		return "not available"
	}
	return s.Device.Address
}

// PermissionGate reports whether the host lets us use the radio.
type PermissionGate interface {
	CheckAndRequest(ctx context.Context) bool
}

// SessionConfig wires the session's collaborators.
type SessionConfig struct {
	Gate        PermissionGate
	Registry    *Registry
	Connections *ConnectionManager
	Channel     *CommandChannel
	Auth        auth.Authenticator
	// Prompt is shown by the authenticator on each toggle.
	Prompt string
}

// Session orchestrates permission, discovery, connection, authentication and
// command delivery. One scan and one toggle may run at a time; callers that
// arrive while the session is busy get ErrBusy.
type Session struct {
	gate     PermissionGate
	registry *Registry
	conns    *ConnectionManager
	channel  *CommandChannel
	auth     auth.Authenticator
	prompt   string

	initInFlight atomic.Bool

	mu           sync.Mutex
	phase        Phase
	state        State
	device       *radio.Device
	conn         *Connection
	bleAvailable bool
	authSuccess  bool
	isErrorAuth  bool
	signal       Signal
	attempt      string
	listeners    []func(Snapshot)
}

// NewSession returns an uninitialized session. The lock is assumed LOCKED.
func NewSession(cfg SessionConfig) *Session {
	if cfg.Gate == nil || cfg.Registry == nil || cfg.Connections == nil || cfg.Channel == nil || cfg.Auth == nil {
		panic("lock: NewSession: missing collaborator")
	}
	prompt := cfg.Prompt
	if prompt == "" {
		prompt = "Unlock door"
	}
	metrics.SetLocked(true)
	return &Session{
		gate:     cfg.Gate,
		registry: cfg.Registry,
		conns:    cfg.Connections,
		channel:  cfg.Channel,
		auth:     cfg.Auth,
		prompt:   prompt,
		state:    StateLocked,
	}
}

// OnChange registers fn to receive a snapshot after every state change.
// fn is called without the session lock held.
func (s *Session) OnChange(fn func(Snapshot)) {
	s.mu.Lock()
	s.listeners = append(s.listeners, fn)
	s.mu.Unlock()
}

// Snapshot returns the current observable state.
func (s *Session) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshotLocked()
}

func (s *Session) snapshotLocked() Snapshot {
	var dev *radio.Device
	if s.device != nil {
		d := *s.device
		dev = &d
	}
	return Snapshot{
		BLEAvailable: s.bleAvailable,
		Device:       dev,
		IsLocked:     s.state == StateLocked,
		IsScanning:   s.phase == PhaseScanning,
		AuthSuccess:  s.authSuccess,
		IsErrorAuth:  s.isErrorAuth,
		Phase:        s.phase,
		Signal:       s.signal,
		Attempt:      s.attempt,
	}
}

// update applies fn under the lock and notifies listeners afterwards.
func (s *Session) update(fn func()) {
	_ = s.transition(func() error { fn(); return nil })
}

// transition runs fn under the lock. Listeners are only notified when fn
// returns nil.
func (s *Session) transition(fn func() error) error {
	s.mu.Lock()
	if err := fn(); err != nil {
		s.mu.Unlock()
		return err
	}
	snap := s.snapshotLocked()
	listeners := append([]func(Snapshot){}, s.listeners...)
	s.mu.Unlock()
	for _, l := range listeners {
		l(snap)
	}
	return nil
}

// AcknowledgeSignals clears the transient outcome flags once they have been
// shown.
func (s *Session) AcknowledgeSignals() {
	s.update(func() {
		s.signal = SignalNone
		s.authSuccess = false
		s.isErrorAuth = false
	})
}

// Init checks radio permission. On denial the session stays uninitialized
// and Scan refuses to run. Init can be repeated; it is a no-op once connected.
func (s *Session) Init(ctx context.Context) error {
	s.mu.Lock()
	phase := s.phase
	s.mu.Unlock()
	if phase.busy() {
		return ErrBusy
	}
	if phase == PhaseConnected {
		return nil
	}
	if !s.initInFlight.CompareAndSwap(false, true) {
		return ErrBusy
	}
	defer s.initInFlight.Store(false)

	ok := s.gate.CheckAndRequest(ctx)
	stale := false
	s.update(func() {
		// A scan that started from PermissionChecked while the gate was
		// pending owns the phase now.
		if s.phase != PhaseUninitialized && s.phase != PhasePermissionChecked {
			stale = true
			return
		}
		s.bleAvailable = ok
		if ok {
			s.phase = PhasePermissionChecked
			if s.signal == SignalPermissionDenied {
				s.signal = SignalNone
			}
		} else {
			s.phase = PhaseUninitialized
			s.signal = SignalPermissionDenied
		}
	})
	if stale {
		slog.Debug("[LOCK] permission result superseded by scan", "granted", ok)
		return nil
	}
	if !ok {
		slog.Warn("[LOCK] radio permission denied")
		return ErrPermissionDenied
	}
	slog.Debug("[LOCK] radio permission granted")
	return nil
}

// Scan finds the bonded controller and connects to it, reusing a live
// connection. On failure the session returns to its last good phase with
// SignalDeviceNotFound.
func (s *Session) Scan(ctx context.Context) (radio.Device, error) {
	var (
		prev    Phase
		attempt string
	)
	err := s.transition(func() error {
		switch {
		case s.phase == PhaseUninitialized:
			return ErrPermissionDenied
		case s.phase.busy():
			return ErrBusy
		}
		prev = s.phase
		attempt = ulid.Make().String()
		s.attempt = attempt
		s.phase = PhaseScanning
		return nil
	})
	if err != nil {
		return radio.Device{}, err
	}
	log := slog.With("attempt", attempt)
	log.Debug("[LOCK] scanning", "target", s.registry.Target())

	dev, err := s.registry.FindTarget(ctx)
	if err == nil {
		var conn *Connection
		conn, err = s.conns.Connect(ctx, dev)
		if err == nil {
			s.update(func() {
				d := dev
				s.device = &d
				s.conn = conn
				s.phase = PhaseConnected
				s.signal = SignalNone
			})
			log.Info("[LOCK] lock found", "address", dev.Address, "name", dev.Name)
			metrics.IncScan("found")
			return dev, nil
		}
	}

	log.Info("[LOCK] no locks available", "error", err)
	if errors.Is(err, ErrDeviceNotFound) {
		metrics.IncScan("not_found")
	} else {
		metrics.IncScan("connect_failed")
	}
	s.update(func() {
		s.signal = SignalDeviceNotFound
		// Fall back to Connected only if the link we had survived.
		if prev == PhaseConnected && s.conn.Open() {
			s.phase = PhaseConnected
			return
		}
		s.phase = PhasePermissionChecked
		s.device = nil
		s.conn = nil
	})
	return radio.Device{}, err
}

// Toggle authenticates the operator and sends the inverse of the tracked
// state. The tracked state flips only when the write succeeds. It returns
// the state after the attempt.
func (s *Session) Toggle(ctx context.Context) (State, error) {
	var (
		conn    *Connection
		cmd     Command
		current State
		attempt string
	)
	err := s.transition(func() error {
		current = s.state
		switch {
		case s.phase.busy():
			return ErrBusy
		case s.phase != PhaseConnected || !s.conn.Open():
			return ErrNotConnected
		}
		conn = s.conn
		cmd = ToggleCommand(s.state)
		attempt = ulid.Make().String()
		s.attempt = attempt
		s.authSuccess = false
		s.isErrorAuth = false
		s.signal = SignalNone
		s.phase = PhaseAuthenticating
		return nil
	})
	if err != nil {
		return current, err
	}
	log := slog.With("attempt", attempt, "command", cmd)

	res, authErr := s.auth.Authenticate(ctx, s.prompt)
	if authErr != nil {
		res = auth.Error
	}
	metrics.IncAuth(res.String())
	if res != auth.Granted {
		switch {
		case res == auth.Denied:
			err = ErrAuthDenied
		case authErr != nil:
			err = fmt.Errorf("%w: %w", ErrAuthError, authErr)
		default:
			err = ErrAuthError
		}
		log.Info("[LOCK] authentication failed", "result", res, "error", authErr)
		s.update(func() {
			s.isErrorAuth = true
			s.signal = SignalAuthFailed
			s.phase = PhaseConnected
		})
		return current, err
	}

	s.update(func() { s.phase = PhaseSending })
	if err := s.channel.Send(ctx, conn, cmd); err != nil {
		log.Warn("[LOCK] toggle not sent", "error", err)
		s.update(func() {
			s.signal = SignalWriteFailed
			s.phase = PhaseConnected
		})
		return current, err
	}

	next := After(cmd)
	s.update(func() {
		s.state = next
		s.authSuccess = true
		s.phase = PhaseConnected
	})
	metrics.SetLocked(next == StateLocked)
	log.Info("[LOCK] toggled", "state", next)
	return next, nil
}

// Close releases the connection. For process teardown only.
func (s *Session) Close() error {
	err := s.conns.Close()
	s.update(func() {
		s.conn = nil
		if s.phase == PhaseConnected {
			s.phase = PhasePermissionChecked
		}
	})
	return err
}
