package chat

import (
	"errors"
	"fmt"
)

var (
	// ErrValidation is returned for empty, over-length or malformed input.
	ErrValidation = errors.New("validation error")

	// ErrInvalidState is returned when operating on a non-active or unknown room.
	ErrInvalidState = errors.New("invalid state")
)

// OpError is a typed operation error with a stable Op + Kind contract for callers/tests.
// Kind is one of the sentinel errors above.
type OpError struct {
	Op   string
	Kind error
	Msg  string
}

func (e OpError) Error() string {
	if e.Msg == "" {
		return fmt.Sprintf("%s: %v", e.Op, e.Kind)
	}
	return fmt.Sprintf("%s: %v: %s", e.Op, e.Kind, e.Msg)
}

func (e OpError) Unwrap() error { return e.Kind }

func validationErr(op, msg string) error {
	return OpError{Op: op, Kind: ErrValidation, Msg: msg}
}

func invalidStateErr(op, msg string) error {
	return OpError{Op: op, Kind: ErrInvalidState, Msg: msg}
}

// IsValidation reports whether err represents ErrValidation.
func IsValidation(err error) bool { return errors.Is(err, ErrValidation) }

// IsInvalidState reports whether err represents ErrInvalidState.
func IsInvalidState(err error) bool { return errors.Is(err, ErrInvalidState) }
