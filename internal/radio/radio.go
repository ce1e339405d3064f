// Package radio abstracts the host Bluetooth stack used to reach the lock
// controller over a serial link. Backends enumerate bonded peers, open a
// byte-stream connection to one of them, and write raw payloads to it.
package radio

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
)

var (
	// ErrNotConnected is returned by Write when no connection is open for the address.
	ErrNotConnected = errors.New("radio: device not connected")
	// ErrUnsupported is returned by backends that cannot run on this platform.
	ErrUnsupported = errors.New("radio: backend not supported on this platform")
)

// Device is a peer known to the host radio stack.
type Device struct {
	Address string
	Name    string
	Bonded  bool
}

// Stack abstracts the platform radio stack for testing.
type Stack interface {
	// BondedDevices lists peers previously paired at the OS level.
	BondedDevices(ctx context.Context) ([]Device, error)
	// IsConnected reports whether this stack holds an open connection to address.
	IsConnected(ctx context.Context, address string) (bool, error)
	// Connect opens a byte-stream connection to address.
	Connect(ctx context.Context, address string) error
	// Write sends payload on the open connection to address.
	Write(ctx context.Context, address string, payload []byte) (int, error)
	// Close tears down every open connection.
	Close() error
}

// NormalizeAddress returns addr in the upper-case colon form BlueZ reports.
func NormalizeAddress(addr string) string {
	return strings.ToUpper(strings.TrimSpace(addr))
}

// SameAddress compares two hardware addresses ignoring case and padding.
func SameAddress(a, b string) bool {
	return NormalizeAddress(a) == NormalizeAddress(b)
}

// ParseAddress converts "98:D3:31:FD:4B:2A" into the little-endian byte
// order used by Bluetooth socket addresses.
func ParseAddress(addr string) ([6]byte, error) {
	var out [6]byte
	hw, err := net.ParseMAC(strings.TrimSpace(addr))
	if err != nil {
		return out, fmt.Errorf("radio: invalid address %q: %w", addr, err)
	}
	if len(hw) != 6 {
		return out, fmt.Errorf("radio: invalid address %q: want 6 bytes, got %d", addr, len(hw))
	}
	for i := 0; i < 6; i++ {
		out[i] = hw[5-i]
	}
	return out, nil
}
