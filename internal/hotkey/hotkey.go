// Package hotkey provides a global hotkey listener using gohook.
// Each press of the configured combo emits one toggle request.
package hotkey

import (
	"sync"
	"time"

	hook "github.com/robotn/gohook"
)

// DefaultDebounce swallows key auto-repeat while the combo is held.
const DefaultDebounce = 750 * time.Millisecond

// Event is emitted on the channel returned by Events.
type Event struct {
	At time.Time
}

// Listener manages a global hotkey and emits toggle events.
type Listener struct {
	keys []string
	ch   chan Event
	done chan struct{}
	once sync.Once

	mu       sync.Mutex
	debounce time.Duration
	last     time.Time
}

// NewListener creates a Listener for the given key combo.
// keys should be lowercase key names (e.g., ["ctrl", "shift", "l"]).
func NewListener(keys []string) *Listener {
	return &Listener{
		keys:     keys,
		ch:       make(chan Event, 1),
		done:     make(chan struct{}),
		debounce: DefaultDebounce,
	}
}

// Events returns the channel that receives hotkey events.
// The channel is closed when Stop is called. A press that arrives while an
// earlier event is still unread is dropped.
func (l *Listener) Events() <-chan Event {
	return l.ch
}

// Start begins listening for the global hotkey.
// This function blocks until Stop is called. Run it in a goroutine.
func (l *Listener) Start() {
	hook.Register(hook.KeyDown, l.keys, func(e hook.Event) {
		l.press(time.Now())
	})

	evChan := hook.Start()
	go func() {
		<-l.done
		hook.End()
	}()
	<-hook.Process(evChan)
	close(l.ch)
}

// press emits an event unless one was emitted within the debounce window.
func (l *Listener) press(now time.Time) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	if !l.last.IsZero() && now.Sub(l.last) < l.debounce {
		return false
	}
	l.last = now
	select {
	case l.ch <- Event{At: now}:
		return true
	default: // don't block if a toggle is already pending
		return false
	}
}

// Stop terminates the hotkey listener.
// It is safe to call multiple times.
func (l *Listener) Stop() {
	l.once.Do(func() {
		close(l.done)
	})
}
