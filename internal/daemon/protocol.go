// Package daemon serves a lock session over a local unix socket so that
// short-lived CLI invocations share one long-lived controller connection.
package daemon

import "github.com/chaz8081/btlock/internal/lock"

// Request commands.
const (
	CmdStatus = "status"
	CmdScan   = "scan"
	CmdToggle = "toggle"
	CmdAck    = "ack"
)

// Request is sent from the CLI client to the daemon, one JSON object per
// connection.
type Request struct {
	Command string `json:"command"` // status | scan | toggle | ack
}

// Response is the daemon's reply. Every response carries the session state
// after the command ran.
type Response struct {
	Phase        string `json:"phase"`
	Device       string `json:"device"` // "not available" before discovery
	DeviceName   string `json:"device_name,omitempty"`
	Locked       bool   `json:"locked"`
	Scanning     bool   `json:"scanning"`
	BLEAvailable bool   `json:"ble_available"`
	AuthSuccess  bool   `json:"auth_success"`
	ErrorAuth    bool   `json:"error_auth"`
	Signal       string `json:"signal,omitempty"`
	Attempt      string `json:"attempt,omitempty"`
	Error        string `json:"error,omitempty"`
}

// FromSnapshot converts session state to its wire form.
func FromSnapshot(s lock.Snapshot) Response {
	r := Response{
		Phase:        s.Phase.String(),
		Device:       s.DeviceLabel(),
		Locked:       s.IsLocked,
		Scanning:     s.IsScanning,
		BLEAvailable: s.BLEAvailable,
		AuthSuccess:  s.AuthSuccess,
		ErrorAuth:    s.IsErrorAuth,
		Signal:       s.Signal.String(),
		Attempt:      s.Attempt,
	}
	if s.Device != nil {
		r.DeviceName = s.Device.Name
	}
	return r
}

// LockLabel renders the lock state for humans.
func (r Response) LockLabel() string {
	if r.Locked {
		return "LOCKED"
	}
	return "UNLOCKED"
}
