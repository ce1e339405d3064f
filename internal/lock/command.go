package lock

import "fmt"

// Command is a logical instruction for the lock controller.
type Command int

const (
	CommandLock Command = iota
	CommandUnlock
)

func (c Command) String() string {
	switch c {
	case CommandLock:
		return "LOCK"
	case CommandUnlock:
		return "UNLOCK"
	}
	return fmt.Sprintf("Command(%d)", int(c))
}

// Wire bytes understood by the controller firmware.
const (
	wireLock   byte = '0'
	wireUnlock byte = '1'
)

// Encode returns the single ASCII byte the controller expects for c.
func Encode(c Command) (byte, error) {
	switch c {
	case CommandLock:
		return wireLock, nil
	case CommandUnlock:
		return wireUnlock, nil
	}
	return 0, fmt.Errorf("lock: unknown command %d", int(c))
}

// State is the locally tracked lock state. It is never read back from the
// controller.
type State int

const (
	StateLocked State = iota
	StateUnlocked
)

func (s State) String() string {
	switch s {
	case StateLocked:
		return "LOCKED"
	case StateUnlocked:
		return "UNLOCKED"
	}
	return fmt.Sprintf("State(%d)", int(s))
}

// ToggleCommand returns the command that moves the lock away from s.
func ToggleCommand(s State) Command {
	if s == StateLocked {
		return CommandUnlock
	}
	return CommandLock
}

// After returns the state the lock is assumed to be in once c was sent.
func After(c Command) State {
	if c == CommandUnlock {
		return StateUnlocked
	}
	return StateLocked
}
