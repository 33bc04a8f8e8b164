package capturestore

import (
	"context"
	"errors"
	"os"
)

// ErrNotFound is returned when a capture does not exist.
//
// Implementations return an error that satisfies `errors.Is(err, ErrNotFound)`.
// The default maps to `os.ErrNotExist`.
var ErrNotFound = os.ErrNotExist

// ErrInvalidName is returned for empty names or names that escape the store root.
var ErrInvalidName = errors.New("capturestore: invalid name")

// Store is a sink for encoded captures.
type Store interface {
	// Put writes a capture atomically, replacing any previous capture with
	// the same name.
	Put(ctx context.Context, name string, data []byte) error

	// Get returns the full contents of a capture.
	Get(ctx context.Context, name string) ([]byte, error)

	// List returns the sorted names of all captures matching the prefix.
	List(ctx context.Context, prefix string) ([]string, error)

	// Delete removes a capture. Deleting a missing capture is not an error.
	Delete(ctx context.Context, name string) error
}
