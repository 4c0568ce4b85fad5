package sim

import (
	"errors"
	"fmt"
)

// ErrInvalidSelection matches every InputError.
var ErrInvalidSelection = errors.New("invalid sprint selection")

// Input error codes.
const (
	CodeNoTickets      = "no_tickets"
	CodeOverCapacity   = "over_capacity"
	CodeGameFinished   = "game_finished"
	CodeSprintMismatch = "sprint_mismatch"
)

// InputError rejects a commit before any state changes.
type InputError struct {
	Code    string
	Message string
}

func (e *InputError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *InputError) Is(target error) bool {
	return target == ErrInvalidSelection
}

func inputErr(code, format string, args ...any) error {
	return &InputError{Code: code, Message: fmt.Sprintf(format, args...)}
}
