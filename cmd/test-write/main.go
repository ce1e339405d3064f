// Command test-write is a bench tool that writes one raw command byte to the
// controller without operator authentication. Use it to check wiring and
// the RFCOMM channel against a controller on the bench, never on a door.
//
// Usage:
//
//	go run ./cmd/test-write [--addr 98:D3:31:FD:4B:2A] [--backend rfcomm|bleuart] [--channel 1] lock|unlock
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/chaz8081/btlock/internal/config"
	"github.com/chaz8081/btlock/internal/lock"
	"github.com/chaz8081/btlock/internal/radio"
)

func main() {
	addr := flag.String("addr", config.DefaultAddress, "controller hardware address")
	backend := flag.String("backend", "rfcomm", "radio backend: rfcomm or bleuart")
	channel := flag.Uint("channel", 1, "RFCOMM channel")
	timeout := flag.Duration("timeout", 15*time.Second, "overall deadline")
	flag.Parse()

	var cmd lock.Command
	switch flag.Arg(0) {
	case "lock":
		cmd = lock.CommandLock
	case "unlock":
		cmd = lock.CommandUnlock
	default:
		fmt.Fprintln(os.Stderr, "usage: test-write [flags] lock|unlock")
		os.Exit(2)
	}

	if err := run(*addr, *backend, uint8(*channel), *timeout, cmd); err != nil {
		fmt.Printf("Error: %v\n", err)
		os.Exit(1)
	}
	fmt.Println("\nDone!")
}

// run returns instead of exiting so the deferred stack Close always runs.
func run(addr, backend string, channel uint8, timeout time.Duration, cmd lock.Command) error {
	var stack radio.Stack
	switch backend {
	case "bleuart":
		stack = radio.NewBLEUARTStack(radio.DefaultScanTimeout)
	default:
		s, err := radio.NewRFCOMMStack("", channel)
		if err != nil {
			return err
		}
		stack = s
	}
	defer stack.Close()

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	dev, err := lock.NewRegistry(stack, addr).FindTarget(ctx)
	if err != nil {
		return fmt.Errorf("%w (is %s bonded?)", err, addr)
	}
	fmt.Printf("Found %s (%s)\n", dev.Address, dev.Name)

	start := time.Now()
	conn, err := lock.NewConnectionManager(stack, 0).Connect(ctx, dev)
	if err != nil {
		return err
	}
	fmt.Printf("Connected in %s\n", time.Since(start).Round(time.Millisecond))

	b, _ := lock.Encode(cmd)
	if err := lock.NewCommandChannel(stack).Send(ctx, conn, cmd); err != nil {
		return err
	}
	fmt.Printf("Sent %s (%q)\n", cmd, b)
	return nil
}
