//go:build linux

package permission

import (
	"context"
	"log/slog"

	"golang.org/x/sys/unix"

	"github.com/chaz8081/btlock/internal/radio"
)

// HostStack maps capabilities onto what a Linux host can actually check:
// scan needs a powered BlueZ adapter, connect needs the kernel to hand out
// Bluetooth sockets. Location has no host equivalent.
type HostStack struct {
	adapterPath string
	// probeRFCOMM selects the RFCOMM socket probe for CapConnect; BLE
	// bridges go through BlueZ and only need the adapter.
	probeRFCOMM bool
}

var _ Stack = (*HostStack)(nil)

func NewHostStack(adapterPath string, probeRFCOMM bool) *HostStack {
	return &HostStack{adapterPath: adapterPath, probeRFCOMM: probeRFCOMM}
}

// Platform reports the bundled model so scan and connect are checked together.
func (h *HostStack) Platform() Platform {
	return Platform{Name: "linux", APILevel: LegacyAPIThreshold}
}

func (h *HostStack) Request(_ context.Context, caps ...Capability) (map[Capability]bool, error) {
	out := make(map[Capability]bool, len(caps))
	var powered *bool
	adapterOK := func() bool {
		if powered == nil {
			p := h.adapterPowered()
			powered = &p
		}
		return *powered
	}
	for _, c := range caps {
		switch c {
		case CapScan:
			out[c] = adapterOK()
		case CapConnect:
			if h.probeRFCOMM {
				out[c] = adapterOK() && rfcommSocketAllowed()
			} else {
				out[c] = adapterOK()
			}
		case CapFineLocation:
			out[c] = true
		default:
			out[c] = false
		}
	}
	return out, nil
}

func (h *HostStack) adapterPowered() bool {
	bz, err := radio.NewBlueZ(h.adapterPath)
	if err != nil {
		slog.Warn("[PERMISSION] bluez unavailable", "error", err)
		return false
	}
	defer bz.Close()
	powered, err := bz.AdapterPowered()
	if err != nil {
		slog.Warn("[PERMISSION] adapter state unknown", "error", err)
		return false
	}
	return powered
}

// rfcommSocketAllowed creates and immediately closes an RFCOMM socket.
// It fails without kernel support or under a seccomp/namespace sandbox.
func rfcommSocketAllowed() bool {
	fd, err := unix.Socket(unix.AF_BLUETOOTH, unix.SOCK_STREAM|unix.SOCK_CLOEXEC, unix.BTPROTO_RFCOMM)
	if err != nil {
		slog.Warn("[PERMISSION] rfcomm socket denied", "error", err)
		return false
	}
	unix.Close(fd)
	return true
}
