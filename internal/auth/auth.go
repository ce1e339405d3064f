// Package auth provides the operator check that gates every lock toggle.
// The lock core only sees a yes/no/error outcome.
package auth

import (
	"context"
	"fmt"
)

// Result is the outcome of one authentication attempt.
type Result int

const (
	// Error means the check could not complete (sensor fault, cancelled prompt).
	Error Result = iota
	Granted
	Denied
)

func (r Result) String() string {
	switch r {
	case Granted:
		return "granted"
	case Denied:
		return "denied"
	case Error:
		return "error"
	}
	return fmt.Sprintf("Result(%d)", int(r))
}

// Authenticator verifies the operator. It is called once per toggle
// attempt and its result is never cached.
type Authenticator interface {
	Authenticate(ctx context.Context, prompt string) (Result, error)
}

// Func adapts a plain function to Authenticator.
type Func func(ctx context.Context, prompt string) (Result, error)

func (f Func) Authenticate(ctx context.Context, prompt string) (Result, error) {
	return f(ctx, prompt)
}

// None grants every attempt. For setups where the host itself is the trust
// boundary.
type None struct{}

func (None) Authenticate(context.Context, string) (Result, error) {
	return Granted, nil
}
