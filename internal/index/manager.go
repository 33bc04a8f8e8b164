package index

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"github.com/chewxy/math32"
	"golang.org/x/sync/errgroup"

	"github.com/hupe1980/flesh/internal/arena"
	"github.com/hupe1980/flesh/internal/embed"
	"github.com/hupe1980/flesh/internal/geom"
	"github.com/hupe1980/flesh/internal/lsh"
	"github.com/hupe1980/flesh/internal/shadow"
)

var (
	// ErrArenaExhausted is returned when a rebuild runs out of arena memory.
	// The previous generation keeps serving.
	ErrArenaExhausted = errors.New("index: arena exhausted")
	// ErrClosed is returned by RebuildAll after Close.
	ErrClosed = errors.New("index: closed")
)

// BodyIndexMask extracts the slot of a body id; the bits above it carry a
// sequence number.
const BodyIndexMask = 0x7fffff

// InvalidBody marks a record without a body.
const InvalidBody = 0xffffffff

// BackgroundSlots bounds the number of concurrent rebuilds.
type BackgroundSlots interface {
	AcquireBackground(ctx context.Context) error
	ReleaseBackground()
}

// Options configures a Manager.
type Options struct {
	// Seed is shared by the embedder and the LSH cell assignment.
	Seed uint64
	// TopK caps the ids accepted per LSH query.
	TopK int
	// MaxReach caps the reach in cells. Records with a larger half extent
	// are kept in an oversized list that every query scans.
	MaxReach int32
	// MaxSamplesPerQuery is the voxel sample budget above which a query
	// falls back to a linear scan.
	MaxSamplesPerQuery int
	// MinCellSize and MaxCellSize clamp the derived cell size.
	MinCellSize float32
	MaxCellSize float32
	// LineScale is the coarse voxel edge in cells.
	LineScale int32
	// Workers is the number of goroutines that hash records.
	Workers int
	// ChunkSize is the arena chunk size.
	ChunkSize int
	// MaxArenaBytes limits each of the two arenas. Zero means unlimited.
	MaxArenaBytes int64
	// MemoryAcquirer is charged for every arena chunk.
	MemoryAcquirer arena.MemoryAcquirer
	// Slots, if set, is held for the duration of every rebuild.
	Slots BackgroundSlots
	// LSH configures the inverted index. Its seed is derived from Seed.
	LSH lsh.Options
}

// DefaultOptions returns the default manager options.
func DefaultOptions() Options {
	ec := embed.DefaultConfig()
	return Options{
		Seed:               ec.Seed,
		TopK:               20,
		MaxReach:           2,
		MaxSamplesPerQuery: 4096,
		MinCellSize:        ec.MinCellSize,
		MaxCellSize:        ec.MaxCellSize,
		LineScale:          ec.LineScale,
		Workers:            runtime.GOMAXPROCS(0),
		ChunkSize:          arena.DefaultChunkSize,
		LSH:                lsh.DefaultOptions,
	}
}

// BuildStats describes one rebuild.
type BuildStats struct {
	Stats
	Duration time.Duration
}

// Manager owns the live generation and the arena for the next one.
//
// Rebuilds are serialized; queries never block on them.
type Manager struct {
	opts Options

	mu      sync.Mutex
	spare   *arena.Arena
	retired chan struct{}
	epoch   uint64
	closed  bool

	front atomic.Pointer[Generation]
}

// New creates a manager with an empty live generation.
func New(optFns ...func(o *Options)) *Manager {
	opts := DefaultOptions()
	for _, fn := range optFns {
		fn(&opts)
	}
	opts.Workers = max(opts.Workers, 1)
	opts.TopK = max(opts.TopK, 1)
	opts.MaxReach = max(opts.MaxReach, 1)

	m := &Manager{opts: opts}
	m.front.Store(m.empty())
	m.spare = m.newArena()
	return m
}

// empty returns a generation without records. Its arena never maps memory.
func (m *Manager) empty() *Generation {
	return &Generation{arena: m.newArena(), opts: &m.opts, bounds: geom.EmptyBox()}
}

func (m *Manager) newArena() *arena.Arena {
	opts := []arena.Option{arena.WithChunkSize(m.opts.ChunkSize)}
	if m.opts.MaxArenaBytes > 0 {
		opts = append(opts, arena.WithMaxBytes(m.opts.MaxArenaBytes))
	}
	if m.opts.MemoryAcquirer != nil {
		opts = append(opts, arena.WithMemoryAcquirer(m.opts.MemoryAcquirer))
	}
	return arena.New(opts...)
}

// Options returns the manager options.
func (m *Manager) Options() Options { return m.opts }

// Acquire pins the live generation. Every Acquire must be paired with a
// Release on the returned generation.
func (m *Manager) Acquire() *Generation {
	for {
		g := m.front.Load()
		g.arena.IncRef()
		if m.front.Load() == g {
			return g
		}
		// Swapped out between the load and the pin; the arena may be
		// zeroed at any moment, so never read it.
		g.arena.DecRef()
	}
}

// Epoch returns the epoch of the live generation.
func (m *Manager) Epoch() uint64 {
	return m.front.Load().epoch
}

// RebuildAll builds a generation from records and makes it live. On
// failure the live generation is untouched; allocation failures wrap
// ErrArenaExhausted.
func (m *Manager) RebuildAll(ctx context.Context, records []shadow.Record) (BuildStats, error) {
	start := time.Now()

	if m.opts.Slots != nil {
		if err := m.opts.Slots.AcquireBackground(ctx); err != nil {
			return BuildStats{}, err
		}
		defer m.opts.Slots.ReleaseBackground()
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return BuildStats{}, ErrClosed
	}

	m.awaitRetired()
	a := m.spare
	a.Reset()

	g, err := m.build(ctx, a, records)
	if err != nil {
		a.Reset()
		return BuildStats{}, err
	}

	m.epoch++
	g.epoch = m.epoch
	old := m.front.Swap(g)
	m.spare = old.arena
	m.retire(old.arena)

	return BuildStats{Stats: g.Stats(), Duration: time.Since(start)}, nil
}

// retire zeroes a swapped-out arena once its readers are gone.
func (m *Manager) retire(a *arena.Arena) {
	done := make(chan struct{})
	m.retired = done
	go func() {
		defer close(done)
		a.Reset()
	}()
}

func (m *Manager) awaitRetired() {
	if m.retired != nil {
		<-m.retired
		m.retired = nil
	}
}

// Close waits for pinned generations and releases both arenas.
func (m *Manager) Close() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return
	}
	m.closed = true
	m.awaitRetired()

	old := m.front.Swap(m.empty())
	m.spare.Free()
	old.arena.Free()
}

func allocErr(ctx context.Context, err error) error {
	if ctx.Err() != nil || errors.Is(err, lsh.ErrInvalidOptions) {
		return err
	}
	return fmt.Errorf("%w: %w", ErrArenaExhausted, err)
}

func (m *Manager) build(ctx context.Context, a *arena.Arena, in []shadow.Record) (*Generation, error) {
	n := len(in)
	g := &Generation{arena: a, opts: &m.opts, bounds: geom.EmptyBox()}

	records, err := arena.MakeSlice[shadow.Record](ctx, a, n)
	if err != nil {
		return nil, allocErr(ctx, err)
	}
	copy(records, in)
	g.records = records

	// Scene statistics drive the cell size.
	var (
		sumHalf   float64
		finite    int
		maxExtent float32
	)
	for _, r := range records {
		b := r.Bounds()
		g.bounds = g.bounds.Encapsulate(b)
		if e := r.Extent(); e.IsFinite() {
			sumHalf += float64(e.X+e.Y+e.Z) / 3
			finite++
			maxExtent = math32.Max(maxExtent, math32.Max(b.Min.Abs().MaxComponent(), b.Max.Abs().MaxComponent()))
		} else {
			maxExtent = math32.Max(maxExtent, r.Center().Abs().MaxComponent())
		}
	}

	cfg := embed.DefaultConfig()
	cfg.Seed = m.opts.Seed
	if finite > 0 {
		cfg.MeanHalfExtent = float32(sumHalf / float64(finite))
	}
	cfg.MaxExtent = math32.Ceil(maxExtent)
	cfg.MinCellSize = m.opts.MinCellSize
	cfg.MaxCellSize = m.opts.MaxCellSize
	cfg.LineScale = m.opts.LineScale
	cfg.Bands = m.opts.LSH.Bands
	cfg.BandBits = m.opts.LSH.BandBits

	emb, err := embed.New(cfg)
	if err != nil {
		return nil, err
	}
	g.emb = emb

	if err := g.partition(ctx); err != nil {
		return nil, allocErr(ctx, err)
	}

	blobs, err := arena.MakeSlice[embed.Blob](ctx, a, 2*n)
	if err != nil {
		return nil, allocErr(ctx, err)
	}
	if err := m.hash(ctx, emb, records, blobs); err != nil {
		return nil, err
	}

	idx := lsh.New(a, func(o *lsh.Options) {
		*o = m.opts.LSH
		o.Seed = uint32(m.opts.Seed)
	})
	if err := idx.Build(ctx, len(blobs)); err != nil {
		return nil, allocErr(ctx, err)
	}
	if _, err := idx.AddPoints(blobs); err != nil {
		return nil, err
	}
	g.lsh = idx

	if err := g.buildLookup(ctx); err != nil {
		return nil, allocErr(ctx, err)
	}
	return g, nil
}

// hash embeds and hashes records in parallel. blobs[2i] and blobs[2i+1]
// receive the center and line hash of records[i].
func (m *Manager) hash(ctx context.Context, emb *embed.Embedder, records []shadow.Record, blobs []embed.Blob) error {
	n := len(records)
	if n == 0 {
		return nil
	}

	workers := m.opts.Workers
	chunk := max(256, (n+workers-1)/workers)

	eg, egCtx := errgroup.WithContext(ctx)
	eg.SetLimit(workers)
	for start := 0; start < n; start += chunk {
		end := min(start+chunk, n)
		eg.Go(func() error {
			if err := egCtx.Err(); err != nil {
				return err
			}
			for i := start; i < end; i++ {
				pts := emb.Embed(records[i])
				blobs[2*i] = emb.Hash(pts[0])
				blobs[2*i+1] = emb.Hash(pts[1])
			}
			return nil
		})
	}
	return eg.Wait()
}
