package flesh

import (
	"errors"
	"fmt"

	"github.com/hupe1980/flesh/internal/index"
)

var (
	// ErrUnsupported is returned by queries the broad phase cannot answer.
	ErrUnsupported = errors.New("flesh: unsupported query")
	// ErrInvalidArgument is returned for NaN, infinite or otherwise
	// malformed query and capture inputs.
	ErrInvalidArgument = errors.New("flesh: invalid argument")
	// ErrNotInitialized is returned by lifecycle operations before Init.
	ErrNotInitialized = errors.New("flesh: not initialized")
	// ErrArenaExhausted is returned when a rebuild runs out of arena memory
	// or memory budget. The previous generation keeps serving.
	ErrArenaExhausted = index.ErrArenaExhausted
	// ErrClosed is returned by operations on a closed broad phase.
	ErrClosed = index.ErrClosed
	// ErrIncompatibleCapture is returned when a capture was built with
	// parameters that differ from the broad phase's.
	ErrIncompatibleCapture = errors.New("flesh: incompatible capture")
)

// InvalidArgumentError describes a rejected input.
//
// It matches ErrInvalidArgument through errors.Is.
type InvalidArgumentError struct {
	Op     string
	Reason string
}

func (e *InvalidArgumentError) Error() string {
	return fmt.Sprintf("%s: %s: %s", ErrInvalidArgument, e.Op, e.Reason)
}

func (e *InvalidArgumentError) Unwrap() error { return ErrInvalidArgument }

func invalidArgument(op, reason string) error {
	return &InvalidArgumentError{Op: op, Reason: reason}
}

// ErrUnsupportedQuery names the unsupported query.
//
// It matches ErrUnsupported through errors.Is.
type ErrUnsupportedQuery struct {
	Query string
}

func (e *ErrUnsupportedQuery) Error() string {
	return fmt.Sprintf("%s: %s", ErrUnsupported, e.Query)
}

func (e *ErrUnsupportedQuery) Unwrap() error { return ErrUnsupported }
