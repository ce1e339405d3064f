package lock

import (
	"context"
	"log/slog"

	"github.com/chaz8081/btlock/internal/radio"
)

// Registry finds the one configured controller among the host's bonded
// devices.
type Registry struct {
	stack  radio.Stack
	target string
}

// NewRegistry returns a registry that only ever reports target.
func NewRegistry(stack radio.Stack, target string) *Registry {
	return &Registry{stack: stack, target: radio.NormalizeAddress(target)}
}

// Target is the configured controller address.
func (r *Registry) Target() string {
	return r.target
}

// FindTarget returns the bonded device matching the target address. Stack
// errors are logged and reported as ErrDeviceNotFound.
func (r *Registry) FindTarget(ctx context.Context) (radio.Device, error) {
	devices, err := r.stack.BondedDevices(ctx)
	if err != nil {
		slog.Warn("[LOCK] bonded device query failed", "error", err)
		return radio.Device{}, ErrDeviceNotFound
	}
	for _, d := range devices {
		if radio.SameAddress(d.Address, r.target) {
			slog.Debug("[LOCK] target found", "address", d.Address, "name", d.Name)
			return d, nil
		}
	}
	slog.Info("[LOCK] target not bonded", "target", r.target, "bonded", len(devices))
	return radio.Device{}, ErrDeviceNotFound
}
