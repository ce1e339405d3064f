//go:build !linux

package permission

import (
	"context"
	"runtime"
)

// HostStack on non-Linux hosts defers to the OS, which prompts for
// Bluetooth access on first use.
type HostStack struct{}

var _ Stack = (*HostStack)(nil)

func NewHostStack(_ string, _ bool) *HostStack {
	return &HostStack{}
}

func (h *HostStack) Platform() Platform {
	return Platform{Name: runtime.GOOS}
}

func (h *HostStack) Request(_ context.Context, caps ...Capability) (map[Capability]bool, error) {
	out := make(map[Capability]bool, len(caps))
	for _, c := range caps {
		out[c] = true
	}
	return out, nil
}
