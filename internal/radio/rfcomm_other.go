//go:build !linux

package radio

import (
	"context"
	"fmt"
)

// DefaultRFCOMMChannel is where HC-05/HC-06 style modules expose SPP.
const DefaultRFCOMMChannel = 1

// RFCOMMStack is only available on Linux, where the kernel exposes
// AF_BLUETOOTH sockets. Use the bleuart backend elsewhere.
type RFCOMMStack struct{}

var _ Stack = (*RFCOMMStack)(nil)

func NewRFCOMMStack(_ string, _ uint8) (*RFCOMMStack, error) {
	return nil, fmt.Errorf("rfcomm: %w", ErrUnsupported)
}

func (s *RFCOMMStack) BondedDevices(context.Context) ([]Device, error) { return nil, ErrUnsupported }

func (s *RFCOMMStack) IsConnected(context.Context, string) (bool, error) { return false, ErrUnsupported }

func (s *RFCOMMStack) Connect(context.Context, string) error { return ErrUnsupported }

func (s *RFCOMMStack) Write(context.Context, string, []byte) (int, error) { return 0, ErrUnsupported }

func (s *RFCOMMStack) Close() error { return nil }
