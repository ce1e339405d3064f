// Command btlock toggles a Bluetooth serial lock controller.
//
// Usage:
//
//	btlock [--config path] run              interactive: scan, then toggle on hotkey or Enter
//	btlock [--config path] daemon           hold the connection and serve IPC requests
//	btlock status|scan|toggle|ack           talk to a running daemon
//	btlock init                             write the default config
//	btlock hash-passphrase                  print a bcrypt hash for auth.passphrase_hash
package main

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/chaz8081/btlock/internal/auth"
	"github.com/chaz8081/btlock/internal/config"
	"github.com/chaz8081/btlock/internal/daemon"
	"github.com/chaz8081/btlock/internal/hotkey"
	"github.com/chaz8081/btlock/internal/lock"
)

func main() {
	// CLI flags
	configPath := flag.String("config", "", "path to config file (default: ~/.config/btlock/config.yaml)")
	flag.Usage = func() {
		fmt.Fprintln(os.Stderr, "usage: btlock [--config path] <run|daemon|status|scan|toggle|ack|init|hash-passphrase>")
		flag.PrintDefaults()
	}
	flag.Parse()

	cmd := flag.Arg(0)
	if cmd == "" {
		cmd = "run"
	}

	var err error
	switch cmd {
	case "init":
		err = runInit()
	case "hash-passphrase":
		err = runHashPassphrase()
	case "run", "daemon", "status", "scan", "toggle", "ack":
		var cfg *config.Config
		cfg, err = loadConfig(*configPath)
		if err != nil {
			log.Fatalf("config: %v", err)
		}
		setupLogging(cfg)
		if cmd == "run" || cmd == "daemon" {
			if err := cfg.Validate(); err != nil {
				log.Fatalf("config validation: %v", err)
			}
		}
		switch cmd {
		case "run":
			err = runInteractive(cfg)
		case "daemon":
			err = runDaemon(cfg)
		default:
			err = runClient(cfg, cmd)
		}
	default:
		flag.Usage()
		os.Exit(2)
	}

	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

// loadConfig loads the config from the specified path, or falls back to
// the default config path, or uses built-in defaults.
func loadConfig(path string) (*config.Config, error) {
	var cfg *config.Config
	switch {
	case path != "":
		c, err := config.Load(path)
		if err != nil {
			return nil, err
		}
		cfg = c
	default:
		defaultPath := config.DefaultConfigPath()
		if _, err := os.Stat(defaultPath); err == nil {
			c, err := config.Load(defaultPath)
			if err != nil {
				return nil, fmt.Errorf("loading %s: %w", defaultPath, err)
			}
			log.Printf("Config loaded from %s", defaultPath)
			cfg = c
		} else {
			// No config file, use defaults
			log.Println("No config file found, using defaults (run `btlock init` to create one)")
			cfg = config.Default()
		}
	}
	return cfg, nil
}

// printBanner displays the startup configuration summary.
func printBanner(cfg *config.Config) {
	fmt.Println("=== btlock ===")
	fmt.Printf("  Device:  %s\n", cfg.Device.Address)
	if cfg.Radio.Backend == "rfcomm" {
		fmt.Printf("  Radio:   rfcomm (channel %d)\n", cfg.Device.RFCOMMChannel)
	} else {
		fmt.Printf("  Radio:   %s (scan %s)\n", cfg.Radio.Backend, cfg.Radio.ScanTimeout)
	}
	fmt.Printf("  Auth:    %s\n", cfg.Auth.Method)
	if len(cfg.Hotkey.Keys) > 0 {
		fmt.Printf("  Hotkey:  %s\n", strings.Join(cfg.Hotkey.Keys, "+"))
	}
	fmt.Printf("  Log:     %s\n", cfg.LogLevel)
	fmt.Println("==============")
}

func printOutcome(snap lock.Snapshot) {
	switch snap.Signal {
	case lock.SignalDeviceNotFound:
		fmt.Println("No locks available")
	case lock.SignalAuthFailed:
		fmt.Println("Authentication failed, lock state unchanged")
	case lock.SignalWriteFailed:
		fmt.Println("Command not sent, lock state unchanged")
	case lock.SignalPermissionDenied:
		fmt.Println("Bluetooth is not available (adapter off or permission denied)")
	}
	state := "UNLOCKED"
	if snap.IsLocked {
		state = "LOCKED"
	}
	fmt.Printf("Device: %s  State: %s\n", snap.DeviceLabel(), state)
}

func runInteractive(cfg *config.Config) error {
	printBanner(cfg)

	sess, cleanup, err := newSession(cfg)
	if err != nil {
		return err
	}
	defer cleanup()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	scan := func() {
		if _, err := (retryInit{sess}).Scan(ctx); err == nil {
			fmt.Println("Lock found")
		}
		printOutcome(sess.Snapshot())
		sess.AcknowledgeSignals()
	}
	toggle := func() {
		if _, err := sess.Toggle(ctx); errors.Is(err, lock.ErrNotConnected) {
			fmt.Println("Not connected, scanning first")
			scan()
			return
		}
		printOutcome(sess.Snapshot())
		sess.AcknowledgeSignals()
	}

	if err := sess.Init(ctx); err != nil {
		printOutcome(sess.Snapshot())
	}
	scan()

	if len(cfg.Hotkey.Keys) == 0 {
		return promptLoop(ctx, os.Stdin, scan, toggle)
	}

	listener := hotkey.NewListener(cfg.Hotkey.Keys)
	go listener.Start()
	log.Println("Ready! Press", strings.Join(cfg.Hotkey.Keys, "+"), "to toggle. Ctrl+C to quit.")

	events := listener.Events()
	for {
		select {
		case _, ok := <-events:
			if !ok {
				log.Println("Hotkey listener stopped")
				return nil
			}
			toggle()
		case <-ctx.Done():
			log.Println("Shutting down...")
			cleanup()
			// Exit directly to avoid gohook's C cleanup crash.
			// The OS reclaims the event hook on process exit.
			os.Exit(0)
		}
	}
}

// promptLoop reads commands from in: Enter toggles, "s" rescans, "q" quits.
// A line is only read between commands so the passphrase prompt owns the
// terminal while a toggle runs. ctx cancellation returns without waiting
// for input.
func promptLoop(ctx context.Context, in io.Reader, scan, toggle func()) error {
	log.Println("Ready! Press Enter to toggle, s+Enter to rescan, q+Enter to quit.")

	type line struct {
		text string
		ok   bool
	}
	lines := bufio.NewScanner(in)
	next := make(chan struct{})
	out := make(chan line)
	go func() {
		for {
			select {
			case <-next:
			case <-ctx.Done():
				return
			}
			ok := lines.Scan()
			select {
			case out <- line{text: lines.Text(), ok: ok}:
			case <-ctx.Done():
				return
			}
			if !ok {
				return
			}
		}
	}()

	for {
		select {
		case next <- struct{}{}:
		case <-ctx.Done():
			return nil
		}
		var l line
		select {
		case l = <-out:
		case <-ctx.Done():
			return nil
		}
		if !l.ok {
			return lines.Err()
		}
		switch strings.TrimSpace(l.text) {
		case "":
			toggle()
		case "s":
			scan()
		case "q":
			return nil
		default:
			fmt.Println("?")
		}
	}
}

func runDaemon(cfg *config.Config) error {
	printBanner(cfg)

	sess, cleanup, err := newSession(cfg)
	if err != nil {
		return err
	}
	defer cleanup()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	ctrl := retryInit{sess}
	if err := sess.Init(ctx); err != nil {
		log.Printf("Bluetooth unavailable: %v (will retry on scan)", err)
	} else if dev, err := ctrl.Scan(ctx); err != nil {
		log.Printf("No locks available: %v", err)
	} else {
		log.Printf("Lock found: %s (%s)", dev.Address, dev.Name)
	}

	if cfg.Daemon.MetricsListen != "" {
		go func() {
			if err := daemon.ServeMetrics(ctx, cfg.Daemon.MetricsListen); err != nil {
				log.Printf("metrics: %v", err)
			}
		}()
	}

	sock := daemon.SocketPath(cfg.Daemon.Socket)
	ln, err := daemon.Listen(sock)
	if err != nil {
		return err
	}
	defer os.Remove(sock)

	err = daemon.NewServer(ctrl).Serve(ctx, ln)
	log.Println("Goodbye!")
	return err
}

func runClient(cfg *config.Config, cmd string) error {
	resp, err := daemon.Call(context.Background(), daemon.SocketPath(cfg.Daemon.Socket), daemon.Request{Command: cmd})
	if err != nil {
		return err
	}
	if err := json.NewEncoder(os.Stdout).Encode(resp); err != nil {
		return err
	}
	if resp.Error != "" {
		return errors.New(resp.Error)
	}
	return nil
}

func runInit() error {
	path, err := config.WriteDefault()
	if err != nil {
		return err
	}
	if path == "" {
		fmt.Printf("Config already exists at %s\n", config.DefaultConfigPath())
		return nil
	}
	fmt.Printf("Wrote default config to %s\n", path)
	fmt.Println("Next: run `btlock hash-passphrase` and paste the hash into auth.passphrase_hash.")
	return nil
}

func runHashPassphrase() error {
	first, err := auth.ReadPassphrase(os.Stderr, "New passphrase")
	if err != nil {
		return err
	}
	second, err := auth.ReadPassphrase(os.Stderr, "Repeat passphrase")
	if err != nil {
		return err
	}
	if !bytes.Equal(first, second) {
		return errors.New("passphrases do not match")
	}
	hash, err := auth.HashPassphrase(first)
	if err != nil {
		return err
	}
	fmt.Println(hash)
	return nil
}
