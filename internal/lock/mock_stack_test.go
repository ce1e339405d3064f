package lock

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/chaz8081/btlock/internal/auth"
	"github.com/chaz8081/btlock/internal/radio"
)

const testAddr = "98:D3:31:FD:4B:2A"

// mockStack is an in-memory radio stack that records every call in order.
type mockStack struct {
	mu        sync.Mutex
	bonded    []radio.Device
	bondedErr error
	connected map[string]bool
	queryErr  error
	connErr   error
	writeErr  error
	shortN    bool

	// connectGate, when set, blocks Connect until it is closed.
	connectGate chan struct{}
	// connectStarted is signalled when Connect begins.
	connectStarted chan struct{}

	trace  []string
	opens  int
	writes [][]byte
	closed bool
}

var _ radio.Stack = (*mockStack)(nil)

func newMockStack(bonded ...radio.Device) *mockStack {
	return &mockStack{bonded: bonded, connected: map[string]bool{}}
}

func targetDevice() radio.Device {
	return radio.Device{Address: testAddr, Name: "HC-05", Bonded: true}
}

func (m *mockStack) record(s string) {
	m.mu.Lock()
	m.trace = append(m.trace, s)
	m.mu.Unlock()
}

func (m *mockStack) BondedDevices(context.Context) ([]radio.Device, error) {
	m.record("bonded")
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.bondedErr != nil {
		return nil, m.bondedErr
	}
	return append([]radio.Device(nil), m.bonded...), nil
}

func (m *mockStack) IsConnected(_ context.Context, addr string) (bool, error) {
	m.record("is_connected")
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.queryErr != nil {
		return false, m.queryErr
	}
	return m.connected[addr], nil
}

func (m *mockStack) Connect(ctx context.Context, addr string) error {
	m.record("connect")
	if m.connectStarted != nil {
		m.connectStarted <- struct{}{}
	}
	if m.connectGate != nil {
		select {
		case <-m.connectGate:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.opens++
	if m.connErr != nil {
		return m.connErr
	}
	m.connected[addr] = true
	return nil
}

func (m *mockStack) Write(_ context.Context, addr string, payload []byte) (int, error) {
	m.record("write")
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.connected[addr] {
		return 0, radio.ErrNotConnected
	}
	if m.writeErr != nil {
		return 0, m.writeErr
	}
	cp := append([]byte(nil), payload...)
	m.writes = append(m.writes, cp)
	if m.shortN {
		return 0, nil
	}
	return len(payload), nil
}

func (m *mockStack) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	m.connected = map[string]bool{}
	return nil
}

// dropLink simulates the radio link going away underneath the manager.
func (m *mockStack) dropLink(addr string) {
	m.mu.Lock()
	delete(m.connected, addr)
	m.mu.Unlock()
}

func (m *mockStack) openCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.opens
}

func (m *mockStack) writtenBytes() []byte {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []byte
	for _, w := range m.writes {
		out = append(out, w...)
	}
	return out
}

func (m *mockStack) calls() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.trace...)
}

// mockGate returns a fixed permission answer.
type mockGate struct {
	ok    bool
	calls int

	// block, when set, holds CheckAndRequest until closed. started is
	// signalled when a blocked call begins.
	block   chan struct{}
	started chan struct{}
}

func (g *mockGate) CheckAndRequest(ctx context.Context) bool {
	g.calls++
	if g.block != nil {
		if g.started != nil {
			g.started <- struct{}{}
		}
		select {
		case <-g.block:
		case <-ctx.Done():
			return false
		}
	}
	return g.ok
}

// mockAuth returns a scripted result and counts calls.
type mockAuth struct {
	mu     sync.Mutex
	result auth.Result
	err    error
	calls  int
	// gate, when set, blocks Authenticate until closed.
	gate    chan struct{}
	started chan struct{}
}

func (a *mockAuth) Authenticate(ctx context.Context, _ string) (auth.Result, error) {
	a.mu.Lock()
	a.calls++
	gate, started := a.gate, a.started
	a.mu.Unlock()
	if started != nil {
		started <- struct{}{}
	}
	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return auth.Error, ctx.Err()
		}
	}
	return a.result, a.err
}

func (a *mockAuth) callCount() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.calls
}

var errRadio = errors.New("radio: link lost")

type testRig struct {
	stack   *mockStack
	gate    *mockGate
	auth    *mockAuth
	session *Session
}

func newTestRig(stack *mockStack) *testRig {
	r := &testRig{
		stack: stack,
		gate:  &mockGate{ok: true},
		auth:  &mockAuth{result: auth.Granted},
	}
	r.session = NewSession(SessionConfig{
		Gate:        r.gate,
		Registry:    NewRegistry(stack, testAddr),
		Connections: NewConnectionManager(stack, 0),
		Channel:     NewCommandChannel(stack),
		Auth:        r.auth,
		Prompt:      "Unlock door",
	})
	return r
}

// connected returns a rig whose session has reached PhaseConnected.
func connectedRig(t *testing.T) *testRig {
	t.Helper()
	r := newTestRig(newMockStack(targetDevice()))
	ctx := context.Background()
	if err := r.session.Init(ctx); err != nil {
		t.Fatalf("Init() error = %v", err)
	}
	if _, err := r.session.Scan(ctx); err != nil {
		t.Fatalf("Scan() error = %v", err)
	}
	return r
}
