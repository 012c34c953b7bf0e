package transport

import (
	"errors"
	"fmt"
)

// ErrInvalidState is returned when a command is not allowed in the
// controller's current state. The command has no effect.
var ErrInvalidState = errors.New("invalid transport state")

// DeviceError reports an output sink failure.
type DeviceError struct {
	Op  string
	Err error
}

func (e *DeviceError) Error() string {
	return fmt.Sprintf("output %s: %v", e.Op, e.Err)
}

func (e *DeviceError) Unwrap() error { return e.Err }

func invalidState(op string, s State) error {
	return fmt.Errorf("%w: cannot %s while %s", ErrInvalidState, op, s)
}
