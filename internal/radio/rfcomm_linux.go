//go:build linux

package radio

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"golang.org/x/sys/unix"
)

// DefaultRFCOMMChannel is where HC-05/HC-06 style modules expose SPP.
const DefaultRFCOMMChannel = 1

// RFCOMMStack talks to classic serial (SPP) peers through BlueZ for the
// bonded list and kernel RFCOMM sockets for the byte stream.
type RFCOMMStack struct {
	bz      *BlueZ
	channel uint8

	// mu protects conns.
	mu    sync.Mutex
	conns map[string]*rfcommConn // keyed by normalized address
}

// Compile-time check that RFCOMMStack implements Stack.
var _ Stack = (*RFCOMMStack)(nil)

// NewRFCOMMStack connects to BlueZ on the system bus. channel 0 selects
// DefaultRFCOMMChannel.
func NewRFCOMMStack(adapterPath string, channel uint8) (*RFCOMMStack, error) {
	if channel == 0 {
		channel = DefaultRFCOMMChannel
	}
	bz, err := NewBlueZ(adapterPath)
	if err != nil {
		return nil, fmt.Errorf("rfcomm: %w", err)
	}
	return &RFCOMMStack{
		bz:      bz,
		channel: channel,
		conns:   make(map[string]*rfcommConn),
	}, nil
}

func (s *RFCOMMStack) BondedDevices(_ context.Context) ([]Device, error) {
	devices, err := s.bz.BondedDevices()
	if err != nil {
		return nil, fmt.Errorf("rfcomm: %w", err)
	}
	return devices, nil
}

func (s *RFCOMMStack) IsConnected(_ context.Context, address string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.conns[NormalizeAddress(address)]
	return ok, nil
}

func (s *RFCOMMStack) Connect(ctx context.Context, address string) error {
	bdaddr, err := ParseAddress(address)
	if err != nil {
		return fmt.Errorf("rfcomm: %w", err)
	}

	fd, err := unix.Socket(unix.AF_BLUETOOTH, unix.SOCK_STREAM|unix.SOCK_CLOEXEC, unix.BTPROTO_RFCOMM)
	if err != nil {
		return fmt.Errorf("rfcomm: create socket: %w", err)
	}

	// connect(2) blocks until the baseband page times out. A late result
	// closes the socket so no untracked link survives.
	_, err = awaitConnect(ctx, func() (struct{}, error) {
		if err := unix.Connect(fd, &unix.SockaddrRFCOMM{Addr: bdaddr, Channel: s.channel}); err != nil {
			unix.Close(fd)
			return struct{}{}, err
		}
		return struct{}{}, nil
	}, func(_ struct{}, err error) {
		if err == nil {
			unix.Close(fd)
			slog.Debug("[RFCOMM] closed late connect", "address", address)
		}
	})
	if err != nil {
		return fmt.Errorf("rfcomm: connect to %s channel %d: %w", address, s.channel, err)
	}

	key := NormalizeAddress(address)
	s.mu.Lock()
	if old, ok := s.conns[key]; ok {
		old.Close()
	}
	s.conns[key] = &rfcommConn{fd: fd}
	s.mu.Unlock()

	slog.Info("[RFCOMM] connected", "address", key, "channel", s.channel)
	return nil
}

func (s *RFCOMMStack) Write(_ context.Context, address string, payload []byte) (int, error) {
	s.mu.Lock()
	conn, ok := s.conns[NormalizeAddress(address)]
	s.mu.Unlock()
	if !ok {
		return 0, fmt.Errorf("rfcomm: write to %s: %w", address, ErrNotConnected)
	}
	n, err := conn.Write(payload)
	if err != nil {
		if linkGone(err) {
			s.forget(NormalizeAddress(address), conn)
		}
		return n, fmt.Errorf("rfcomm: write to %s: %w", address, err)
	}
	return n, nil
}

// forget drops conn if it is still the socket held for key, so the next
// IsConnected reports the link as down.
func (s *RFCOMMStack) forget(key string, conn *rfcommConn) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.conns[key] == conn {
		delete(s.conns, key)
		conn.Close()
		slog.Info("[RFCOMM] link lost", "address", key)
	}
}

// linkGone reports whether a socket error means the peer is unreachable.
func linkGone(err error) bool {
	return errors.Is(err, unix.ENOTCONN) || errors.Is(err, unix.ECONNRESET) ||
		errors.Is(err, unix.EPIPE) || errors.Is(err, unix.EHOSTDOWN) || errors.Is(err, unix.ETIMEDOUT)
}

// Close closes every open socket and the D-Bus connection.
func (s *RFCOMMStack) Close() error {
	s.mu.Lock()
	for key, conn := range s.conns {
		if err := conn.Close(); err != nil {
			slog.Warn("[RFCOMM] close failed", "address", key, "error", err)
		}
		delete(s.conns, key)
	}
	s.mu.Unlock()
	return s.bz.Close()
}

// rfcommConn wraps a raw RFCOMM file descriptor.
type rfcommConn struct {
	fd int
}

func (rc *rfcommConn) Write(b []byte) (int, error) {
	for {
		n, err := unix.Write(rc.fd, b)
		if err == unix.EINTR {
			continue
		}
		if n < 0 {
			n = 0
		}
		return n, err
	}
}

func (rc *rfcommConn) Close() error {
	return unix.Close(rc.fd)
}
