package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/chaz8081/btlock/internal/auth"
	"github.com/chaz8081/btlock/internal/config"
	"github.com/chaz8081/btlock/internal/lock"
	"github.com/chaz8081/btlock/internal/permission"
	"github.com/chaz8081/btlock/internal/radio"
)

// setupLogging installs the default slog handler at the configured level.
func setupLogging(cfg *config.Config) {
	h := slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: config.ParseLogLevel(cfg.LogLevel)})
	slog.SetDefault(slog.New(h))
}

// newStack opens the configured radio backend.
func newStack(cfg *config.Config) (radio.Stack, error) {
	switch cfg.Radio.Backend {
	case "bleuart":
		return radio.NewBLEUARTStack(cfg.Radio.ScanTimeout), nil
	default:
		s, err := radio.NewRFCOMMStack("", cfg.Device.RFCOMMChannel)
		if err != nil {
			return nil, err
		}
		return s, nil
	}
}

// newAuthenticator returns the configured operator check and its cleanup.
func newAuthenticator(cfg *config.Config) (auth.Authenticator, func(), error) {
	switch cfg.Auth.Method {
	case "fprintd":
		f, err := auth.NewFprintd(cfg.Auth.FprintdFinger)
		if err != nil {
			return nil, nil, err
		}
		return f, func() { f.Close() }, nil
	case "none":
		slog.Warn("[AUTH] operator authentication disabled")
		return auth.None{}, func() {}, nil
	default:
		p, err := auth.NewPassphrase(cfg.Auth.PassphraseHash)
		if err != nil {
			return nil, nil, err
		}
		return p, func() {}, nil
	}
}

// newSession wires a lock session from config. The returned cleanup closes
// the radio stack and the authenticator.
func newSession(cfg *config.Config) (*lock.Session, func(), error) {
	stack, err := newStack(cfg)
	if err != nil {
		return nil, nil, fmt.Errorf("radio: %w", err)
	}
	authn, closeAuth, err := newAuthenticator(cfg)
	if err != nil {
		stack.Close()
		return nil, nil, fmt.Errorf("auth: %w", err)
	}

	host := permission.NewHostStack("", cfg.Radio.Backend == "rfcomm")
	conns := lock.NewConnectionManager(stack, cfg.Radio.ConnectTimeout)
	sess := lock.NewSession(lock.SessionConfig{
		Gate:        permission.NewGate(host),
		Registry:    lock.NewRegistry(stack, cfg.Device.Address),
		Connections: conns,
		Channel:     lock.NewCommandChannel(stack),
		Auth:        authn,
		Prompt:      cfg.Auth.Prompt,
	})
	cleanup := func() {
		if err := sess.Close(); err != nil {
			slog.Warn("[LOCK] close failed", "error", err)
		}
		closeAuth()
	}
	return sess, cleanup, nil
}

// retryInit re-checks radio permission before a scan when it was denied
// earlier, so a daemon started before the adapter was powered recovers.
type retryInit struct {
	*lock.Session
}

func (r retryInit) Scan(ctx context.Context) (radio.Device, error) {
	if !r.Snapshot().BLEAvailable {
		if err := r.Init(ctx); err != nil {
			return radio.Device{}, err
		}
	}
	return r.Session.Scan(ctx)
}
