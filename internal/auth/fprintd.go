package auth

import (
	"context"
	"fmt"
	"log/slog"
	"os/user"

	"github.com/godbus/dbus/v5"
)

const (
	fprintBus         = "net.reactivated.Fprint"
	fprintManagerPath = dbus.ObjectPath("/net/reactivated/Fprint/Manager")
	fprintManager     = "net.reactivated.Fprint.Manager"
	fprintDevice      = "net.reactivated.Fprint.Device"
	verifyStatus      = "VerifyStatus"
)

// Fprintd runs a fingerprint verification through the fprintd daemon on the
// system bus.
type Fprintd struct {
	conn     *dbus.Conn
	username string
	finger   string // "any" or a specific finger name
}

var _ Authenticator = (*Fprintd)(nil)

// NewFprintd connects to the system bus. finger defaults to "any".
func NewFprintd(finger string) (*Fprintd, error) {
	if finger == "" {
		finger = "any"
	}
	u, err := user.Current()
	if err != nil {
		return nil, fmt.Errorf("auth: current user: %w", err)
	}
	conn, err := dbus.ConnectSystemBus()
	if err != nil {
		return nil, fmt.Errorf("auth: connect to system bus: %w", err)
	}
	return &Fprintd{conn: conn, username: u.Username, finger: finger}, nil
}

// Close releases the D-Bus connection.
func (f *Fprintd) Close() error {
	return f.conn.Close()
}

// Authenticate claims the default reader, waits for a final VerifyStatus and
// releases the reader. The prompt is logged since fprintd has no UI.
func (f *Fprintd) Authenticate(ctx context.Context, prompt string) (Result, error) {
	var devPath dbus.ObjectPath
	mgr := f.conn.Object(fprintBus, fprintManagerPath)
	if err := mgr.CallWithContext(ctx, fprintManager+".GetDefaultDevice", 0).Store(&devPath); err != nil {
		return Error, fmt.Errorf("auth: fprintd default device: %w", err)
	}
	dev := f.conn.Object(fprintBus, devPath)

	matchOpts := []dbus.MatchOption{
		dbus.WithMatchObjectPath(devPath),
		dbus.WithMatchInterface(fprintDevice),
		dbus.WithMatchMember(verifyStatus),
	}
	if err := f.conn.AddMatchSignal(matchOpts...); err != nil {
		return Error, fmt.Errorf("auth: fprintd subscribe: %w", err)
	}
	defer f.conn.RemoveMatchSignal(matchOpts...)
	sigCh := make(chan *dbus.Signal, 8)
	f.conn.Signal(sigCh)
	defer f.conn.RemoveSignal(sigCh)

	if err := dev.CallWithContext(ctx, fprintDevice+".Claim", 0, f.username).Err; err != nil {
		return Error, fmt.Errorf("auth: fprintd claim: %w", err)
	}
	defer dev.Call(fprintDevice+".Release", 0)

	if err := dev.CallWithContext(ctx, fprintDevice+".VerifyStart", 0, f.finger).Err; err != nil {
		return Error, fmt.Errorf("auth: fprintd verify start: %w", err)
	}
	defer dev.Call(fprintDevice+".VerifyStop", 0)

	slog.Info("[AUTH] waiting for fingerprint", "prompt", prompt, "device", devPath)

	for {
		select {
		case <-ctx.Done():
			return Error, fmt.Errorf("auth: fprintd verify: %w", ctx.Err())
		case sig, ok := <-sigCh:
			if !ok {
				return Error, fmt.Errorf("auth: fprintd signal channel closed")
			}
			if sig.Path != devPath || sig.Name != fprintDevice+"."+verifyStatus || len(sig.Body) < 2 {
				continue
			}
			status, _ := sig.Body[0].(string)
			done, _ := sig.Body[1].(bool)
			res, final := classifyVerifyStatus(status, done)
			if !final {
				slog.Debug("[AUTH] fingerprint retry", "status", status)
				continue
			}
			if res == Error {
				return Error, fmt.Errorf("auth: fprintd verify: %s", status)
			}
			return res, nil
		}
	}
}

// classifyVerifyStatus maps an fprintd VerifyStatus result to a Result.
// final is false for retry hints that leave the verification running.
func classifyVerifyStatus(status string, done bool) (res Result, final bool) {
	switch status {
	case "verify-match":
		return Granted, true
	case "verify-no-match":
		return Denied, true
	case "verify-retry-scan", "verify-swipe-too-short", "verify-finger-not-centered", "verify-remove-and-retry":
		if done {
			return Error, true
		}
		return Error, false
	default: // verify-disconnected, verify-unknown-error
		return Error, true
	}
}
