package lock

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/chaz8081/btlock/internal/metrics"
	"github.com/chaz8081/btlock/internal/radio"
)

// Connection is the logical handle for an open link to one controller.
type Connection struct {
	address string
	open    atomic.Bool
}

// Address is the upper-case hardware address of the peer.
func (c *Connection) Address() string { return c.address }

// Open reports whether the manager still considers the link usable.
func (c *Connection) Open() bool { return c != nil && c.open.Load() }

func newConnection(address string) *Connection {
	c := &Connection{address: address}
	c.open.Store(true)
	return c
}

// ConnectionManager opens or reuses the single controller connection. It is
// the only code that creates or closes a Connection.
type ConnectionManager struct {
	stack   radio.Stack
	timeout time.Duration

	inflight atomic.Bool

	mu   sync.Mutex
	conn *Connection
}

// NewConnectionManager returns a manager over stack. A zero timeout leaves
// connect deadlines to the platform.
func NewConnectionManager(stack radio.Stack, timeout time.Duration) *ConnectionManager {
	return &ConnectionManager{stack: stack, timeout: timeout}
}

// Current returns the held connection, or nil.
func (m *ConnectionManager) Current() *Connection {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.conn
}

// Connect returns a handle to dev. If the stack already reports a live link
// the existing handle is returned and no open is issued. A call made while
// another is pending returns ErrBusy. Radio errors are wrapped in
// ErrConnectFailed.
func (m *ConnectionManager) Connect(ctx context.Context, dev radio.Device) (*Connection, error) {
	if !m.inflight.CompareAndSwap(false, true) {
		return nil, ErrBusy
	}
	defer m.inflight.Store(false)

	start := time.Now()
	addr := radio.NormalizeAddress(dev.Address)

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.conn.Open() && m.conn.address != addr {
		metrics.ObserveConnect("failed", time.Since(start))
		return nil, fmt.Errorf("%w: already connected to %s", ErrConnectFailed, m.conn.address)
	}

	if m.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, m.timeout)
		defer cancel()
	}

	live, err := m.stack.IsConnected(ctx, addr)
	if err != nil {
		metrics.ObserveConnect("failed", time.Since(start))
		return nil, fmt.Errorf("%w: query %s: %w", ErrConnectFailed, addr, err)
	}
	if live {
		if !m.conn.Open() {
			m.conn = newConnection(addr)
		}
		slog.Debug("[LOCK] reusing connection", "address", addr)
		metrics.ObserveConnect("reused", time.Since(start))
		metrics.SetConnected(true)
		return m.conn, nil
	}

	// The link dropped underneath a handle we still hold.
	if m.conn != nil {
		slog.Info("[LOCK] connection lost, reopening", "address", addr)
		m.conn.open.Store(false)
		m.conn = nil
		metrics.SetConnected(false)
	}

	if err := m.stack.Connect(ctx, addr); err != nil {
		slog.Warn("[LOCK] connect failed", "address", addr, "error", err)
		metrics.ObserveConnect("failed", time.Since(start))
		return nil, fmt.Errorf("%w: %s: %w", ErrConnectFailed, addr, err)
	}
	m.conn = newConnection(addr)
	slog.Info("[LOCK] connected", "address", addr, "elapsed", time.Since(start).Round(time.Millisecond))
	metrics.ObserveConnect("opened", time.Since(start))
	metrics.SetConnected(true)
	return m.conn, nil
}

// Close drops the held handle and tears down the stack. Only used at process
// exit; the session flow never disconnects.
func (m *ConnectionManager) Close() error {
	m.mu.Lock()
	if m.conn != nil {
		m.conn.open.Store(false)
		m.conn = nil
	}
	m.mu.Unlock()
	metrics.SetConnected(false)
	return m.stack.Close()
}
