package daemon

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/chaz8081/btlock/internal/lock"
	"github.com/chaz8081/btlock/internal/metrics"
	"github.com/chaz8081/btlock/internal/radio"
)

// Controller is the part of lock.Session the daemon drives.
type Controller interface {
	Scan(ctx context.Context) (radio.Device, error)
	Toggle(ctx context.Context) (lock.State, error)
	AcknowledgeSignals()
	Snapshot() lock.Snapshot
}

var _ Controller = (*lock.Session)(nil)

// SocketPath returns override if set, else $XDG_RUNTIME_DIR/btlock.sock.
func SocketPath(override string) string {
	if override != "" {
		return override
	}
	dir := os.Getenv("XDG_RUNTIME_DIR")
	if dir == "" {
		dir = os.TempDir()
	}
	return filepath.Join(dir, "btlock.sock")
}

// ErrAlreadyRunning is returned by Listen when another daemon answers on the socket.
var ErrAlreadyRunning = errors.New("daemon: already running")

// Listen listens on path, owner-only. A socket left behind by a dead daemon
// is removed; one that still accepts connections is left alone.
func Listen(path string) (net.Listener, error) {
	if conn, err := net.DialTimeout("unix", path, time.Second); err == nil {
		conn.Close()
		return nil, fmt.Errorf("%w on %s", ErrAlreadyRunning, path)
	}
	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("daemon: remove stale socket %s: %w", path, err)
	}
	ln, err := net.Listen("unix", path)
	if err != nil {
		return nil, fmt.Errorf("daemon: listen %s: %w", path, err)
	}
	if err := os.Chmod(path, 0700); err != nil {
		ln.Close()
		return nil, fmt.Errorf("daemon: chmod %s: %w", path, err)
	}
	return ln, nil
}

// Server answers IPC requests against one controller.
type Server struct {
	ctrl Controller
	wg   sync.WaitGroup
}

func NewServer(ctrl Controller) *Server {
	return &Server{ctrl: ctrl}
}

// Serve accepts connections until ctx is cancelled or ln fails. It waits for
// in-flight requests before returning.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	go func() {
		<-ctx.Done()
		ln.Close()
	}()

	slog.Info("[DAEMON] listening", "socket", ln.Addr().String())
	defer s.wg.Wait()
	for {
		conn, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				return nil
			}
			return fmt.Errorf("daemon: accept: %w", err)
		}
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.handleConn(ctx, conn)
		}()
	}
}

func (s *Server) handleConn(ctx context.Context, conn net.Conn) {
	defer conn.Close()

	var req Request
	if err := json.NewDecoder(conn).Decode(&req); err != nil {
		resp := FromSnapshot(s.ctrl.Snapshot())
		resp.Error = "invalid request: " + err.Error()
		json.NewEncoder(conn).Encode(resp)
		return
	}

	start := time.Now()
	resp := s.handleRequest(ctx, req)
	slog.Debug("[DAEMON] request", "command", req.Command, "elapsed", time.Since(start), "error", resp.Error)
	if err := json.NewEncoder(conn).Encode(resp); err != nil {
		slog.Warn("[DAEMON] write response failed", "error", err)
	}
}

func (s *Server) handleRequest(ctx context.Context, req Request) Response {
	var err error
	switch req.Command {
	case CmdStatus:
	case CmdScan:
		_, err = s.ctrl.Scan(ctx)
	case CmdToggle:
		_, err = s.ctrl.Toggle(ctx)
	case CmdAck:
		s.ctrl.AcknowledgeSignals()
	default:
		err = fmt.Errorf("unknown command: %q", req.Command)
	}
	resp := FromSnapshot(s.ctrl.Snapshot())
	if err != nil {
		resp.Error = err.Error()
	}
	return resp
}

// ServeMetrics exposes /metrics on addr until ctx is cancelled.
func ServeMetrics(ctx context.Context, addr string) error {
	metrics.Init()
	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler())
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		<-ctx.Done()
		shutCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		srv.Shutdown(shutCtx)
	}()

	slog.Info("[DAEMON] metrics listening", "addr", addr)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("daemon: metrics: %w", err)
	}
	return nil
}
