package capturestore

import (
	"context"

	"github.com/hupe1980/flesh/internal/resource"
)

// ThrottledStore caps the byte throughput of an underlying Store.
// Writes are charged before they start; reads are charged after they
// complete, so a burst of reads delays the next operation instead.
type ThrottledStore struct {
	Store
	rc *resource.Controller
}

// NewThrottledStore wraps s with a limit of bytesPerSec. A non-positive
// limit disables throttling.
func NewThrottledStore(s Store, bytesPerSec int64) *ThrottledStore {
	return &ThrottledStore{
		Store: s,
		rc:    resource.NewController(resource.Config{IOLimitBytesPerSec: bytesPerSec}),
	}
}

// Put waits for IO budget and then writes.
func (t *ThrottledStore) Put(ctx context.Context, name string, data []byte) error {
	if err := t.rc.AcquireIO(ctx, len(data)); err != nil {
		return err
	}
	return t.Store.Put(ctx, name, data)
}

// Get reads and then charges the bytes read.
func (t *ThrottledStore) Get(ctx context.Context, name string) ([]byte, error) {
	data, err := t.Store.Get(ctx, name)
	if err != nil {
		return nil, err
	}
	if err := t.rc.AcquireIO(ctx, len(data)); err != nil {
		return nil, err
	}
	return data, nil
}
