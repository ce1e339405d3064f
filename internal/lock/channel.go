package lock

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"

	"github.com/chaz8081/btlock/internal/metrics"
	"github.com/chaz8081/btlock/internal/radio"
)

// CommandChannel writes encoded commands to an open connection. Writes are
// fire-and-forget: nothing is read back from the controller.
type CommandChannel struct {
	stack    radio.Stack
	inflight atomic.Bool
}

func NewCommandChannel(stack radio.Stack) *CommandChannel {
	return &CommandChannel{stack: stack}
}

// Send writes the one-byte encoding of cmd on conn. Any failure, including a
// closed connection or a short write, is reported as ErrWriteFailed. A call
// made while another is pending returns ErrBusy.
func (ch *CommandChannel) Send(ctx context.Context, conn *Connection, cmd Command) error {
	if !conn.Open() {
		return fmt.Errorf("%w: %w", ErrWriteFailed, ErrNotConnected)
	}
	if !ch.inflight.CompareAndSwap(false, true) {
		return ErrBusy
	}
	defer ch.inflight.Store(false)

	b, err := Encode(cmd)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrWriteFailed, err)
	}

	n, err := ch.stack.Write(ctx, conn.Address(), []byte{b})
	if err != nil {
		slog.Warn("[LOCK] write failed", "address", conn.Address(), "command", cmd, "error", err)
		metrics.IncCommand(cmd.String(), "failed")
		return fmt.Errorf("%w: %s: %w", ErrWriteFailed, conn.Address(), err)
	}
	if n != 1 {
		metrics.IncCommand(cmd.String(), "failed")
		return fmt.Errorf("%w: %s: short write (%d bytes)", ErrWriteFailed, conn.Address(), n)
	}
	slog.Debug("[LOCK] command sent", "address", conn.Address(), "command", cmd, "byte", string(b))
	metrics.IncCommand(cmd.String(), "sent")
	return nil
}
