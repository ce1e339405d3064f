package lock

import (
	"context"
	"errors"
	"slices"
	"sync"
	"testing"

	"github.com/chaz8081/btlock/internal/auth"
)

func TestSessionStartsLocked(t *testing.T) {
	r := newTestRig(newMockStack(targetDevice()))
	snap := r.session.Snapshot()
	if !snap.IsLocked {
		t.Error("new session should report LOCKED")
	}
	if snap.Phase != PhaseUninitialized {
		t.Errorf("Phase = %v, want uninitialized", snap.Phase)
	}
	if snap.DeviceLabel() != "not available" {
		t.Errorf("DeviceLabel() = %q, want %q", snap.DeviceLabel(), "not available")
	}
}

func TestPermissionDeniedBlocksScan(t *testing.T) {
	r := newTestRig(newMockStack(targetDevice()))
	r.gate.ok = false
	ctx := context.Background()

	if err := r.session.Init(ctx); !errors.Is(err, ErrPermissionDenied) {
		t.Fatalf("Init() error = %v, want ErrPermissionDenied", err)
	}
	snap := r.session.Snapshot()
	if snap.BLEAvailable || snap.Phase != PhaseUninitialized || snap.Signal != SignalPermissionDenied {
		t.Errorf("snapshot after denial = %+v", snap)
	}

	if _, err := r.session.Scan(ctx); !errors.Is(err, ErrPermissionDenied) {
		t.Errorf("Scan() error = %v, want ErrPermissionDenied", err)
	}
	if calls := r.stack.calls(); len(calls) != 0 {
		t.Errorf("radio calls = %v, want none", calls)
	}
}

func TestInitCanBeRetried(t *testing.T) {
	r := newTestRig(newMockStack(targetDevice()))
	r.gate.ok = false
	ctx := context.Background()
	_ = r.session.Init(ctx)

	r.gate.ok = true
	if err := r.session.Init(ctx); err != nil {
		t.Fatalf("Init() retry error = %v", err)
	}
	snap := r.session.Snapshot()
	if !snap.BLEAvailable || snap.Phase != PhasePermissionChecked || snap.Signal != SignalNone {
		t.Errorf("snapshot after retry = %+v", snap)
	}
}

func TestLateInitKeepsConnection(t *testing.T) {
	r := newTestRig(newMockStack(targetDevice()))
	ctx := context.Background()
	if err := r.session.Init(ctx); err != nil {
		t.Fatalf("Init() error = %v", err)
	}

	r.gate.block = make(chan struct{})
	r.gate.started = make(chan struct{}, 1)
	done := make(chan error, 1)
	go func() { done <- r.session.Init(ctx) }()
	<-r.gate.started

	if _, err := r.session.Scan(ctx); err != nil {
		t.Fatalf("Scan() error = %v", err)
	}
	close(r.gate.block)
	if err := <-done; err != nil {
		t.Fatalf("late Init() error = %v", err)
	}

	snap := r.session.Snapshot()
	if snap.Phase != PhaseConnected || snap.Device == nil {
		t.Fatalf("snapshot after late Init = %+v, want connected with device", snap)
	}
	state, err := r.session.Toggle(ctx)
	if err != nil {
		t.Fatalf("Toggle() error = %v", err)
	}
	if state != StateUnlocked {
		t.Errorf("Toggle() state = %v, want %v", state, StateUnlocked)
	}
}

func TestLateInitDenialKeepsConnection(t *testing.T) {
	r := newTestRig(newMockStack(targetDevice()))
	ctx := context.Background()
	_ = r.session.Init(ctx)

	r.gate.ok = false
	r.gate.block = make(chan struct{})
	r.gate.started = make(chan struct{}, 1)
	done := make(chan error, 1)
	go func() { done <- r.session.Init(ctx) }()
	<-r.gate.started

	if _, err := r.session.Scan(ctx); err != nil {
		t.Fatalf("Scan() error = %v", err)
	}
	close(r.gate.block)
	<-done

	snap := r.session.Snapshot()
	if snap.Phase != PhaseConnected || !snap.BLEAvailable || snap.Signal == SignalPermissionDenied {
		t.Errorf("snapshot after superseded denial = %+v", snap)
	}
}

// Bonded list contains the target, not yet connected.
func TestScenarioConnectNewDevice(t *testing.T) {
	r := newTestRig(newMockStack(targetDevice()))
	ctx := context.Background()
	if err := r.session.Init(ctx); err != nil {
		t.Fatalf("Init() error = %v", err)
	}

	dev, err := r.session.Scan(ctx)
	if err != nil {
		t.Fatalf("Scan() error = %v", err)
	}
	if dev.Address != testAddr {
		t.Errorf("Scan() device = %q, want %q", dev.Address, testAddr)
	}
	if r.stack.openCount() != 1 {
		t.Errorf("open calls = %d, want 1", r.stack.openCount())
	}
	snap := r.session.Snapshot()
	if snap.Phase != PhaseConnected || !snap.IsLocked || snap.Device == nil {
		t.Errorf("snapshot = %+v, want connected, locked, device set", snap)
	}
	if snap.Attempt == "" {
		t.Error("scan attempt id should be set")
	}
}

// Bonded list empty.
func TestScenarioNoBondedDevices(t *testing.T) {
	r := newTestRig(newMockStack())
	ctx := context.Background()
	if err := r.session.Init(ctx); err != nil {
		t.Fatalf("Init() error = %v", err)
	}

	if _, err := r.session.Scan(ctx); !errors.Is(err, ErrDeviceNotFound) {
		t.Fatalf("Scan() error = %v, want ErrDeviceNotFound", err)
	}
	snap := r.session.Snapshot()
	if snap.Phase != PhasePermissionChecked {
		t.Errorf("Phase = %v, want permission_checked", snap.Phase)
	}
	if snap.Signal != SignalDeviceNotFound || snap.Device != nil || snap.IsScanning {
		t.Errorf("snapshot = %+v", snap)
	}
	if slices.Contains(r.stack.calls(), "connect") || slices.Contains(r.stack.calls(), "is_connected") {
		t.Errorf("no connect should be attempted, calls = %v", r.stack.calls())
	}
}

func TestScanConnectFailure(t *testing.T) {
	stack := newMockStack(targetDevice())
	stack.connErr = errRadio
	r := newTestRig(stack)
	ctx := context.Background()
	_ = r.session.Init(ctx)

	if _, err := r.session.Scan(ctx); !errors.Is(err, ErrConnectFailed) {
		t.Fatalf("Scan() error = %v, want ErrConnectFailed", err)
	}
	snap := r.session.Snapshot()
	if snap.Phase != PhasePermissionChecked || snap.Signal != SignalDeviceNotFound {
		t.Errorf("snapshot = %+v", snap)
	}
}

func TestRescanReusesConnection(t *testing.T) {
	r := connectedRig(t)
	if _, err := r.session.Scan(context.Background()); err != nil {
		t.Fatalf("second Scan() error = %v", err)
	}
	if r.stack.openCount() != 1 {
		t.Errorf("open calls = %d, want 1", r.stack.openCount())
	}
	if r.session.Snapshot().Phase != PhaseConnected {
		t.Error("session should stay connected")
	}
}

func TestRescanFailureKeepsLiveConnection(t *testing.T) {
	r := connectedRig(t)
	r.stack.mu.Lock()
	r.stack.bonded = nil
	r.stack.mu.Unlock()

	if _, err := r.session.Scan(context.Background()); !errors.Is(err, ErrDeviceNotFound) {
		t.Fatalf("Scan() error = %v, want ErrDeviceNotFound", err)
	}
	snap := r.session.Snapshot()
	if snap.Phase != PhaseConnected || snap.Device == nil {
		t.Errorf("snapshot = %+v, want still connected", snap)
	}
	if snap.Signal != SignalDeviceNotFound {
		t.Errorf("Signal = %v, want device_not_found", snap.Signal)
	}
}

// Connected, auth granted, lock LOCKED: UNLOCK is sent and state flips.
func TestScenarioToggleGranted(t *testing.T) {
	r := connectedRig(t)

	state, err := r.session.Toggle(context.Background())
	if err != nil {
		t.Fatalf("Toggle() error = %v", err)
	}
	if state != StateUnlocked {
		t.Errorf("Toggle() = %v, want UNLOCKED", state)
	}
	if got := string(r.stack.writtenBytes()); got != "1" {
		t.Errorf("wire bytes = %q, want %q", got, "1")
	}
	snap := r.session.Snapshot()
	if snap.IsLocked || !snap.AuthSuccess || snap.Phase != PhaseConnected {
		t.Errorf("snapshot = %+v", snap)
	}

	// Second toggle sends LOCK.
	state, err = r.session.Toggle(context.Background())
	if err != nil {
		t.Fatalf("second Toggle() error = %v", err)
	}
	if state != StateLocked {
		t.Errorf("second Toggle() = %v, want LOCKED", state)
	}
	if got := string(r.stack.writtenBytes()); got != "10" {
		t.Errorf("wire bytes = %q, want %q", got, "10")
	}
}

// Connected, auth denied or errored: no send, state unchanged.
func TestScenarioToggleAuthFailure(t *testing.T) {
	tests := []struct {
		name    string
		result  auth.Result
		err     error
		wantErr error
	}{
		{"denied", auth.Denied, nil, ErrAuthDenied},
		{"error", auth.Error, errors.New("sensor unavailable"), ErrAuthError},
		{"error without detail", auth.Error, nil, ErrAuthError},
		{"granted with error", auth.Granted, errors.New("prompt cancelled"), ErrAuthError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := connectedRig(t)
			r.auth.result = tt.result
			r.auth.err = tt.err

			state, err := r.session.Toggle(context.Background())
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("Toggle() error = %v, want %v", err, tt.wantErr)
			}
			if state != StateLocked {
				t.Errorf("Toggle() state = %v, want LOCKED", state)
			}
			if slices.Contains(r.stack.calls(), "write") {
				t.Error("no write should happen when authentication fails")
			}
			snap := r.session.Snapshot()
			if !snap.IsLocked || !snap.IsErrorAuth || snap.Signal != SignalAuthFailed || snap.Phase != PhaseConnected {
				t.Errorf("snapshot = %+v", snap)
			}
		})
	}
}

// Connected, write fails: state unchanged and the connection stays open.
func TestScenarioToggleWriteFailed(t *testing.T) {
	r := connectedRig(t)
	r.stack.mu.Lock()
	r.stack.writeErr = errRadio
	r.stack.mu.Unlock()

	state, err := r.session.Toggle(context.Background())
	if !errors.Is(err, ErrWriteFailed) {
		t.Fatalf("Toggle() error = %v, want ErrWriteFailed", err)
	}
	if state != StateLocked {
		t.Errorf("Toggle() state = %v, want LOCKED", state)
	}
	snap := r.session.Snapshot()
	if !snap.IsLocked || snap.Signal != SignalWriteFailed || snap.Phase != PhaseConnected {
		t.Errorf("snapshot = %+v", snap)
	}
	if !r.session.conns.Current().Open() {
		t.Error("connection should remain open after a write failure")
	}
	if r.stack.closed {
		t.Error("stack should not be torn down")
	}
}

func TestStateFlipsOnlyWhenSent(t *testing.T) {
	r := connectedRig(t)
	ctx := context.Background()
	steps := []struct {
		result   auth.Result
		writeErr error
		sent     bool
	}{
		{auth.Granted, nil, true},
		{auth.Denied, nil, false},
		{auth.Granted, errRadio, false},
		{auth.Error, nil, false},
		{auth.Granted, nil, true},
		{auth.Granted, nil, true},
	}
	want := StateLocked
	for i, st := range steps {
		r.auth.result = st.result
		r.stack.mu.Lock()
		r.stack.writeErr = st.writeErr
		r.stack.mu.Unlock()

		got, _ := r.session.Toggle(ctx)
		if st.sent {
			want = After(ToggleCommand(want))
		}
		if got != want {
			t.Fatalf("step %d: state = %v, want %v", i, got, want)
		}
	}
}

func TestToggleRequiresConnection(t *testing.T) {
	r := newTestRig(newMockStack(targetDevice()))
	ctx := context.Background()
	if _, err := r.session.Toggle(ctx); !errors.Is(err, ErrNotConnected) {
		t.Errorf("Toggle() before scan error = %v, want ErrNotConnected", err)
	}
	_ = r.session.Init(ctx)
	if _, err := r.session.Toggle(ctx); !errors.Is(err, ErrNotConnected) {
		t.Errorf("Toggle() after init error = %v, want ErrNotConnected", err)
	}
	if r.auth.callCount() != 0 {
		t.Error("authenticator should not be consulted before connecting")
	}
}

func TestSendOnlyAfterConnected(t *testing.T) {
	r := newTestRig(newMockStack(targetDevice()))
	ctx := context.Background()

	var mu sync.Mutex
	var phases []Phase
	r.session.OnChange(func(s Snapshot) {
		mu.Lock()
		phases = append(phases, s.Phase)
		mu.Unlock()
	})

	_, _ = r.session.Toggle(ctx)
	_ = r.session.Init(ctx)
	_, _ = r.session.Toggle(ctx)
	if _, err := r.session.Scan(ctx); err != nil {
		t.Fatalf("Scan() error = %v", err)
	}
	if _, err := r.session.Toggle(ctx); err != nil {
		t.Fatalf("Toggle() error = %v", err)
	}

	calls := r.stack.calls()
	firstWrite := slices.Index(calls, "write")
	lastConnect := slices.Index(calls, "connect")
	if firstWrite < 0 || lastConnect < 0 || firstWrite < lastConnect {
		t.Fatalf("radio trace = %v, want connect before write", calls)
	}

	mu.Lock()
	defer mu.Unlock()
	sending := slices.Index(phases, PhaseSending)
	connected := slices.Index(phases, PhaseConnected)
	if sending < 0 || connected < 0 || sending < connected {
		t.Errorf("phase trace = %v, want connected before sending", phases)
	}
}

func TestToggleSingleFlight(t *testing.T) {
	r := connectedRig(t)
	r.auth.gate = make(chan struct{})
	r.auth.started = make(chan struct{}, 1)
	ctx := context.Background()

	done := make(chan error, 1)
	go func() {
		_, err := r.session.Toggle(ctx)
		done <- err
	}()
	<-r.auth.started

	if _, err := r.session.Toggle(ctx); !errors.Is(err, ErrBusy) {
		t.Errorf("concurrent Toggle() error = %v, want ErrBusy", err)
	}
	if _, err := r.session.Scan(ctx); !errors.Is(err, ErrBusy) {
		t.Errorf("Scan() during toggle error = %v, want ErrBusy", err)
	}

	close(r.auth.gate)
	if err := <-done; err != nil {
		t.Fatalf("first Toggle() error = %v", err)
	}
	if r.auth.callCount() != 1 {
		t.Errorf("auth calls = %d, want 1", r.auth.callCount())
	}
	if got := string(r.stack.writtenBytes()); got != "1" {
		t.Errorf("wire bytes = %q, want one UNLOCK", got)
	}
}

func TestScanSingleFlight(t *testing.T) {
	stack := newMockStack(targetDevice())
	stack.connectGate = make(chan struct{})
	stack.connectStarted = make(chan struct{}, 1)
	r := newTestRig(stack)
	ctx := context.Background()
	_ = r.session.Init(ctx)

	done := make(chan error, 1)
	go func() {
		_, err := r.session.Scan(ctx)
		done <- err
	}()
	<-stack.connectStarted

	if !r.session.Snapshot().IsScanning {
		t.Error("IsScanning should be true while a scan is pending")
	}
	if _, err := r.session.Scan(ctx); !errors.Is(err, ErrBusy) {
		t.Errorf("concurrent Scan() error = %v, want ErrBusy", err)
	}
	if err := r.session.Init(ctx); !errors.Is(err, ErrBusy) {
		t.Errorf("Init() during scan error = %v, want ErrBusy", err)
	}

	close(stack.connectGate)
	if err := <-done; err != nil {
		t.Fatalf("first Scan() error = %v", err)
	}
	if stack.openCount() != 1 {
		t.Errorf("open calls = %d, want 1", stack.openCount())
	}
}

func TestAcknowledgeSignals(t *testing.T) {
	r := connectedRig(t)
	r.auth.result = auth.Denied
	_, _ = r.session.Toggle(context.Background())

	r.session.AcknowledgeSignals()
	snap := r.session.Snapshot()
	if snap.Signal != SignalNone || snap.IsErrorAuth || snap.AuthSuccess {
		t.Errorf("snapshot after ack = %+v", snap)
	}
	if snap.Phase != PhaseConnected {
		t.Error("ack should not change phase")
	}
}

func TestSnapshotDeviceIsCopy(t *testing.T) {
	r := connectedRig(t)
	snap := r.session.Snapshot()
	snap.Device.Address = "changed"
	if r.session.Snapshot().Device.Address != testAddr {
		t.Error("mutating a snapshot must not affect the session")
	}
}

func TestSessionClose(t *testing.T) {
	r := connectedRig(t)
	if err := r.session.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	if _, err := r.session.Toggle(context.Background()); !errors.Is(err, ErrNotConnected) {
		t.Errorf("Toggle() after Close error = %v, want ErrNotConnected", err)
	}
}

func TestNewSessionPanicsOnMissingCollaborator(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Error("NewSession() should panic without collaborators")
		}
	}()
	NewSession(SessionConfig{})
}
