package trigger

import (
	"errors"
	"fmt"
)

var (
	ErrDeviceNotFound  = errors.New("device not found")
	ErrNoActiveSession = errors.New("no active session found for device")
	ErrAlreadyActive   = errors.New("device already has an active session")
	ErrSessionNotFound = errors.New("session not found")
	ErrInvalidInput    = errors.New("invalid input")
)

type Kind int

const (
	KindInternal Kind = iota
	KindNotFound
	KindConflict
	KindInvalidInput
)

// KindOf classifies err for transport mapping. Unknown errors are internal.
func KindOf(err error) Kind {
	switch {
	case errors.Is(err, ErrDeviceNotFound), errors.Is(err, ErrNoActiveSession), errors.Is(err, ErrSessionNotFound):
		return KindNotFound
	case errors.Is(err, ErrAlreadyActive):
		return KindConflict
	case errors.Is(err, ErrInvalidInput):
		return KindInvalidInput
	default:
		return KindInternal
	}
}

func invalid(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalidInput, fmt.Sprintf(format, args...))
}
