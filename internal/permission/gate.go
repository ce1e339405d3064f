// Package permission decides whether the host currently lets us scan for and
// connect to Bluetooth peers.
package permission

import (
	"context"
	"log/slog"
)

// Capability is a named radio permission.
type Capability string

const (
	CapScan         Capability = "scan"
	CapConnect      Capability = "connect"
	CapFineLocation Capability = "fine_location"
)

// LegacyAPIThreshold is the first API level that splits radio access into
// separate scan and connect grants. Below it classic discovery only needs
// precise location.
const LegacyAPIThreshold = 31

// Platform describes the host permission model. APILevel 0 means the
// platform has no runtime radio permissions.
type Platform struct {
	Name     string
	APILevel int
}

// Stack abstracts the platform permission APIs.
type Stack interface {
	Platform() Platform
	// Request asks for every capability in one prompt and reports the
	// outcome per capability.
	Request(ctx context.Context, caps ...Capability) (map[Capability]bool, error)
}

// RequiredCapabilities returns the set requested on p, or nil when p has no
// runtime permission model.
func RequiredCapabilities(p Platform) []Capability {
	switch {
	case p.APILevel <= 0:
		return nil
	case p.APILevel < LegacyAPIThreshold:
		return []Capability{CapFineLocation}
	default:
		return []Capability{CapScan, CapConnect, CapFineLocation}
	}
}

// Gate is a pure query over a permission Stack.
type Gate struct {
	stack Stack
}

// NewGate creates a Gate. Panics if stack is nil (programmer error).
func NewGate(stack Stack) *Gate {
	if stack == nil {
		panic("permission: NewGate called with nil stack")
	}
	return &Gate{stack: stack}
}

// CheckAndRequest returns true only if every capability required on this
// platform is granted. A single request is made; there is no retry for
// partial grants.
func (g *Gate) CheckAndRequest(ctx context.Context) bool {
	p := g.stack.Platform()
	caps := RequiredCapabilities(p)
	if len(caps) == 0 {
		return true
	}

	granted, err := g.stack.Request(ctx, caps...)
	if err != nil {
		slog.Warn("[PERMISSION] request failed", "platform", p.Name, "error", err)
		return false
	}
	for _, c := range caps {
		if !granted[c] {
			slog.Info("[PERMISSION] capability denied", "platform", p.Name, "capability", c)
			return false
		}
	}
	return true
}
