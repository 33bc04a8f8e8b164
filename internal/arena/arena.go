package arena

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"sync"
	"sync/atomic"
	"time"
	"unsafe"

	"github.com/hupe1980/flesh/internal/mmap"
)

// Trivial lists the element shapes an Arena can hold. Each is a fixed-size
// value without Go pointers, so zeroing its memory is a complete reset.
type Trivial interface {
	~uint8 | ~uint16 | ~uint32 | ~uint64 | ~int32 | ~int64 | ~float32 | ~float64 |
		~[2]uint32 | ~[4]uint32 | ~[6]uint32 | ~[8]uint32
}

// MemoryAcquirer is charged for every chunk the arena maps.
type MemoryAcquirer interface {
	AcquireMemory(ctx context.Context, amount int64) error
	ReleaseMemory(amount int64)
}

var (
	// ErrMaxBytesExceeded is returned when a chunk would take the arena past its byte limit.
	ErrMaxBytesExceeded = errors.New("arena: max bytes exceeded")
	// ErrClosed is returned when allocating from a freed arena.
	ErrClosed = errors.New("arena: closed")
)

const (
	// DefaultChunkSize is the size of a regular chunk (4 MiB).
	DefaultChunkSize = 4 << 20
	// DefaultAlignment is the minimum alignment of an allocation.
	DefaultAlignment = 8

	acquireTimeout = 100 * time.Millisecond
)

// Stats tracks arena memory usage.
//
//   - BytesReserved: memory currently mapped
//   - BytesUsed: bytes handed out since the last Reset
//   - BytesWasted: alignment padding since the last Reset
type Stats struct {
	Chunks        uint64
	BytesReserved uint64
	BytesUsed     uint64
	BytesWasted   uint64
	TotalAllocs   uint64
	Resets        uint64
}

type atomicStats struct {
	bytesUsed   atomic.Uint64
	bytesWasted atomic.Uint64
	totalAllocs atomic.Uint64
	resets      atomic.Uint64
}

type chunk struct {
	mapping *mmap.Mapping
	data    []byte
	offset  atomic.Int64
}

// tryAlloc bumps the chunk cursor. It reports false when the chunk is full.
func (c *chunk) tryAlloc(size, align int) ([]byte, int, bool) {
	mask := int64(align - 1)
	for {
		old := c.offset.Load()
		start := (old + mask) &^ mask
		end := start + int64(size)
		if end > int64(len(c.data)) {
			return nil, 0, false
		}
		if c.offset.CompareAndSwap(old, end) {
			return c.data[start:end:end], int(start - old), true
		}
	}
}

// Arena is a chunked bump allocator over anonymous mappings.
//
// Allocation is safe from multiple goroutines. Reset and Free must not run
// concurrently with allocation.
type Arena struct {
	chunkSize int
	maxBytes  int64
	acquirer  MemoryAcquirer

	mu      sync.Mutex
	chunks  []*chunk // retained across Reset
	cur     int      // index of current in chunks
	current atomic.Pointer[chunk]
	closed  bool

	reserved   atomic.Int64
	refs       atomic.Int64
	generation atomic.Uint32
	stats      atomicStats
}

// Option configures an Arena.
type Option func(*Arena)

// WithChunkSize sets the size of regular chunks. Larger allocations get a
// dedicated chunk rounded up to a multiple of this size.
func WithChunkSize(size int) Option {
	return func(a *Arena) {
		if size > 0 {
			a.chunkSize = size
		}
	}
}

// WithMaxBytes limits the total mapped memory. Zero means unlimited.
func WithMaxBytes(limit int64) Option {
	return func(a *Arena) {
		a.maxBytes = limit
	}
}

// WithMemoryAcquirer charges mapped chunks against a shared budget.
func WithMemoryAcquirer(acquirer MemoryAcquirer) Option {
	return func(a *Arena) {
		a.acquirer = acquirer
	}
}

// New creates an arena. No memory is mapped until the first allocation.
func New(opts ...Option) *Arena {
	a := &Arena{chunkSize: DefaultChunkSize}
	for _, opt := range opts {
		opt(a)
	}
	// The page size keeps dedicated chunks mmap friendly.
	if rem := a.chunkSize % pageSize; rem != 0 {
		a.chunkSize += pageSize - rem
	}
	a.generation.Store(1)
	a.current.Store(&chunk{})
	return a
}

const pageSize = 4096

// IncRef marks the arena as in use by a reader. Reset waits for the matching DecRef.
func (a *Arena) IncRef() {
	a.refs.Add(1)
}

// DecRef releases a reference taken with IncRef.
func (a *Arena) DecRef() {
	a.refs.Add(-1)
}

// Refs returns the current reference count.
func (a *Arena) Refs() int64 {
	return a.refs.Load()
}

// Generation returns a counter that advances on every Reset and Free.
func (a *Arena) Generation() uint32 {
	return a.generation.Load()
}

// Alloc returns size zeroed bytes aligned to align (DefaultAlignment when <= 0).
func (a *Arena) Alloc(ctx context.Context, size, align int) ([]byte, error) {
	if size <= 0 {
		return nil, nil
	}
	if align < DefaultAlignment {
		align = DefaultAlignment
	}

	for {
		c := a.current.Load()
		if c == nil {
			return nil, ErrClosed
		}
		if data, pad, ok := c.tryAlloc(size, align); ok {
			a.stats.bytesUsed.Add(uint64(size))
			a.stats.bytesWasted.Add(uint64(pad))
			a.stats.totalAllocs.Add(1)
			return data, nil
		}

		a.mu.Lock()
		if a.current.Load() != c {
			a.mu.Unlock()
			continue
		}
		err := a.advanceLocked(ctx, size+align)
		a.mu.Unlock()
		if err != nil {
			return nil, err
		}
	}
}

// advanceLocked moves to the next retained chunk that can hold need bytes,
// mapping a new one when none can.
func (a *Arena) advanceLocked(ctx context.Context, need int) error {
	if a.closed {
		return ErrClosed
	}

	for i := a.cur + 1; i < len(a.chunks); i++ {
		if len(a.chunks[i].data) >= need {
			a.cur = i
			a.current.Store(a.chunks[i])
			return nil
		}
	}

	size := a.chunkSize
	if need > size {
		size = ((need + a.chunkSize - 1) / a.chunkSize) * a.chunkSize
	}

	if a.maxBytes > 0 && a.reserved.Load()+int64(size) > a.maxBytes {
		return fmt.Errorf("%w: reserved %d, chunk %d, limit %d", ErrMaxBytesExceeded, a.reserved.Load(), size, a.maxBytes)
	}

	if a.acquirer != nil {
		if _, ok := ctx.Deadline(); !ok {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, acquireTimeout)
			defer cancel()
		}
		if err := a.acquirer.AcquireMemory(ctx, int64(size)); err != nil {
			return err
		}
	}

	mapping, err := mmap.MapAnon(size)
	if err != nil {
		if a.acquirer != nil {
			a.acquirer.ReleaseMemory(int64(size))
		}
		return fmt.Errorf("arena: map chunk: %w", err)
	}
	_ = mapping.Advise(mmap.AccessRandom)

	c := &chunk{mapping: mapping, data: mapping.Bytes()}
	a.chunks = append(a.chunks, c)
	a.cur = len(a.chunks) - 1
	a.reserved.Add(int64(size))
	a.current.Store(c)
	return nil
}

// MakeSlice allocates a zeroed slice of n elements of T.
func MakeSlice[T Trivial](ctx context.Context, a *Arena, n int) ([]T, error) {
	if n <= 0 {
		return nil, nil
	}
	var zero T
	size := int(unsafe.Sizeof(zero))
	data, err := a.Alloc(ctx, n*size, int(unsafe.Alignof(zero)))
	if err != nil {
		return nil, err
	}
	return unsafe.Slice((*T)(unsafe.Pointer(&data[0])), n), nil //nolint:gosec // arena memory is never moved
}

// Reset waits for all references to drop, zeroes every used byte and rewinds
// the arena. Chunks stay mapped and are reused by later allocations.
func (a *Arena) Reset() {
	for a.refs.Load() > 0 {
		runtime.Gosched()
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	a.generation.Add(1)
	for _, c := range a.chunks {
		clear(c.data[:c.offset.Load()])
		c.offset.Store(0)
	}
	if len(a.chunks) > 0 && !a.closed {
		a.cur = 0
		a.current.Store(a.chunks[0])
	}

	a.stats.bytesUsed.Store(0)
	a.stats.bytesWasted.Store(0)
	a.stats.resets.Add(1)
}

// Free waits for all references to drop and unmaps every chunk. The arena
// cannot be used afterwards.
func (a *Arena) Free() {
	for a.refs.Load() > 0 {
		runtime.Gosched()
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	if a.closed {
		return
	}
	a.closed = true
	a.generation.Add(1)
	a.current.Store(nil)

	for _, c := range a.chunks {
		_ = c.mapping.Close()
	}
	if a.acquirer != nil {
		if reserved := a.reserved.Load(); reserved > 0 {
			a.acquirer.ReleaseMemory(reserved)
		}
	}
	a.chunks = nil
	a.reserved.Store(0)
	a.stats.bytesUsed.Store(0)
	a.stats.bytesWasted.Store(0)
}

// Stats returns the current arena statistics.
func (a *Arena) Stats() Stats {
	a.mu.Lock()
	chunks := len(a.chunks)
	a.mu.Unlock()

	return Stats{
		Chunks:        uint64(chunks),
		BytesReserved: uint64(a.reserved.Load()),
		BytesUsed:     a.stats.bytesUsed.Load(),
		BytesWasted:   a.stats.bytesWasted.Load(),
		TotalAllocs:   a.stats.totalAllocs.Load(),
		Resets:        a.stats.resets.Load(),
	}
}

// Usage returns used bytes as a percentage of reserved bytes.
func (a *Arena) Usage() float64 {
	s := a.Stats()
	if s.BytesReserved == 0 {
		return 0
	}
	return float64(s.BytesUsed) / float64(s.BytesReserved) * 100
}

func (a *Arena) String() string {
	s := a.Stats()
	return fmt.Sprintf(
		"Arena{chunks: %d, reserved: %.2f MB, used: %.2f MB, wasted: %.2f KB, usage: %.1f%%, allocs: %d, resets: %d}",
		s.Chunks,
		float64(s.BytesReserved)/(1024*1024),
		float64(s.BytesUsed)/(1024*1024),
		float64(s.BytesWasted)/1024,
		a.Usage(),
		s.TotalAllocs,
		s.Resets,
	)
}
