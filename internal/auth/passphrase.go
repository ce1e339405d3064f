package auth

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sync"

	"golang.org/x/crypto/bcrypt"
	"golang.org/x/term"
)

// Passphrase checks a typed passphrase against a bcrypt hash.
type Passphrase struct {
	hash []byte
	out  io.Writer
	read func() ([]byte, error)

	mu sync.Mutex
	// pending is a read left behind by a cancelled prompt. The next prompt
	// takes its answer instead of racing it for the terminal.
	pending chan readResult
}

type readResult struct {
	pass []byte
	err  error
}

var _ Authenticator = (*Passphrase)(nil)

// NewPassphrase reads from the controlling terminal without echo.
func NewPassphrase(hash string) (*Passphrase, error) {
	if _, err := bcrypt.Cost([]byte(hash)); err != nil {
		return nil, fmt.Errorf("auth: invalid passphrase hash: %w", err)
	}
	return &Passphrase{
		hash: []byte(hash),
		out:  os.Stderr,
		read: func() ([]byte, error) {
			return term.ReadPassword(int(os.Stdin.Fd()))
		},
	}, nil
}

// HashPassphrase returns a bcrypt hash suitable for auth.passphrase_hash.
func HashPassphrase(passphrase []byte) (string, error) {
	if len(passphrase) == 0 {
		return "", errors.New("auth: empty passphrase")
	}
	h, err := bcrypt.GenerateFromPassword(passphrase, bcrypt.DefaultCost)
	if err != nil {
		return "", fmt.Errorf("auth: hash passphrase: %w", err)
	}
	return string(h), nil
}

// ReadPassphrase prompts on w and reads one line from the terminal without echo.
func ReadPassphrase(w io.Writer, prompt string) ([]byte, error) {
	fmt.Fprintf(w, "%s: ", prompt)
	p, err := term.ReadPassword(int(os.Stdin.Fd()))
	fmt.Fprintln(w)
	if err != nil {
		return nil, fmt.Errorf("auth: read passphrase: %w", err)
	}
	return p, nil
}

// Authenticate prompts once. A terminal read cannot be interrupted, so on
// ctx cancellation the read is kept pending and answers the next prompt.
func (p *Passphrase) Authenticate(ctx context.Context, prompt string) (Result, error) {
	fmt.Fprintf(p.out, "%s: ", prompt)

	ch := p.startRead()
	var res readResult
	select {
	case <-ctx.Done():
		p.abandon(ch)
		fmt.Fprintln(p.out)
		return Error, fmt.Errorf("auth: passphrase prompt: %w", ctx.Err())
	case res = <-ch:
		fmt.Fprintln(p.out)
	}
	if res.err != nil {
		return Error, fmt.Errorf("auth: read passphrase: %w", res.err)
	}

	err := bcrypt.CompareHashAndPassword(p.hash, res.pass)
	switch {
	case err == nil:
		return Granted, nil
	case errors.Is(err, bcrypt.ErrMismatchedHashAndPassword):
		slog.Info("[AUTH] passphrase rejected")
		return Denied, nil
	default:
		return Error, fmt.Errorf("auth: compare passphrase: %w", err)
	}
}

// startRead returns the pending read if there is one, else starts a new one.
func (p *Passphrase) startRead() chan readResult {
	p.mu.Lock()
	defer p.mu.Unlock()
	if ch := p.pending; ch != nil {
		p.pending = nil
		return ch
	}
	ch := make(chan readResult, 1)
	go func() {
		pass, err := p.read()
		ch <- readResult{pass, err}
	}()
	return ch
}

func (p *Passphrase) abandon(ch chan readResult) {
	p.mu.Lock()
	p.pending = ch
	p.mu.Unlock()
}
