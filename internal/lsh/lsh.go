package lsh

import (
	"context"
	"errors"
	"fmt"

	"github.com/hupe1980/flesh/internal/arena"
	"github.com/hupe1980/flesh/internal/conv"
	"github.com/hupe1980/flesh/internal/count"
	"github.com/hupe1980/flesh/internal/embed"
	"github.com/hupe1980/flesh/internal/hash"
)

var (
	// ErrNotBuilt is returned when points are added before Build.
	ErrNotBuilt = errors.New("lsh: index not built")
	// ErrCapacity is returned when more points are added than were reserved.
	ErrCapacity = errors.New("lsh: capacity exceeded")
	// ErrInvalidOptions is returned by Build for an unusable layout.
	ErrInvalidOptions = errors.New("lsh: invalid options")
)

const maxRows = 8

// Options configures an Index.
type Options struct {
	// Seed decorrelates the cell assignment of different indexes.
	Seed uint32
	// Bands and BandBits describe the blob layout.
	Bands    int
	BandBits uint
	// RowsPerBand scales the admission threshold Bands*RowsPerBand-1.
	RowsPerBand int
	// CellsPerPoint is the number of rows; each point joins one cell per row.
	CellsPerPoint int
	// BucketCapacity is the number of cell ids a bucket holds.
	BucketCapacity int
	// CellCapacity is the number of point ids a cell holds.
	CellCapacity int
	// ProbeDistance is the number of alternates an overflowing bucket spills into.
	ProbeDistance int
}

// DefaultOptions contains the default index parameters.
var DefaultOptions = Options{
	Seed:           0x1bead,
	Bands:          4,
	BandBits:       14,
	RowsPerBand:    1,
	CellsPerPoint:  2,
	BucketCapacity: 31,
	CellCapacity:   15,
	ProbeDistance:  4,
}

// Stats describes the content and losses of an Index.
type Stats struct {
	Points       uint32
	Entries      uint64
	BucketSpills uint64
	BucketDrops  uint64
	CellDrops    uint64
}

// Index is the FLESH inverted index. It is built by a single goroutine and
// is read-only afterwards; queries are then safe for concurrent use.
type Index struct {
	opts  Options
	arena *arena.Arena

	buckets     probeTable
	cells       ringTable
	cellsPerRow uint32
	capacity    uint32
	points      uint32
	threshold   uint8
	built       bool
}

// New creates an index whose storage is allocated from a.
func New(a *arena.Arena, optFns ...func(o *Options)) *Index {
	opts := DefaultOptions
	for _, fn := range optFns {
		fn(&opts)
	}

	threshold := max(opts.Bands*max(opts.RowsPerBand, 1)-1, 1)

	return &Index{
		opts:      opts,
		arena:     a,
		threshold: uint8(min(threshold, 255)),
	}
}

// Options returns the index parameters.
func (x *Index) Options() Options { return x.opts }

// Threshold is the number of band hits that admits a cell.
func (x *Index) Threshold() uint8 { return x.threshold }

// Build reserves storage for up to points points.
func (x *Index) Build(ctx context.Context, points int) error {
	capacity, err := conv.IntToUint32(points)
	if err != nil {
		return err
	}

	o := x.opts
	if o.Bands < 1 || o.BandBits < 1 || o.BandBits > 24 || uint(o.Bands)*o.BandBits > 64 {
		return fmt.Errorf("%w: band layout %dx%d", ErrInvalidOptions, o.Bands, o.BandBits)
	}
	if o.CellsPerPoint < 1 || o.CellsPerPoint > maxRows || o.BucketCapacity < 1 || o.BucketCapacity > countMask ||
		o.CellCapacity < 1 || o.CellCapacity > countMask {
		return fmt.Errorf("%w: container sizes", ErrInvalidOptions)
	}

	totalBuckets := uint32(o.Bands) << o.BandBits
	cellsPerRow := max(capacity, 1)
	totalCells := uint64(cellsPerRow) * uint64(o.CellsPerPoint)
	if totalCells*uint64(o.CellCapacity+1) > 1<<32-1 {
		return fmt.Errorf("%w: %d cells", ErrCapacity, totalCells)
	}

	bucketWords, err := arena.MakeSlice[uint32](ctx, x.arena, int(totalBuckets)*(o.BucketCapacity+1))
	if err != nil {
		return err
	}
	cellWords, err := arena.MakeSlice[uint32](ctx, x.arena, int(totalCells)*(o.CellCapacity+1))
	if err != nil {
		return err
	}

	x.buckets = newProbeTable(bucketWords, totalBuckets, uint32(o.BucketCapacity), uint32(max(o.ProbeDistance, 1)))
	x.cells = newRingTable(cellWords, uint32(o.CellCapacity))
	x.cellsPerRow = cellsPerRow
	x.capacity = capacity
	x.points = 0
	x.built = true
	return nil
}

// cell returns the cell of point id in row.
func (x *Index) cell(row, id uint32) uint32 {
	h := hash.Mix32(hash.Mix32(row+x.opts.Seed) + hash.Mix32(id+x.opts.Seed))
	return row*x.cellsPerRow + hash.Reduce(h, x.cellsPerRow)
}

func (x *Index) bucket(band int, blob embed.Blob) uint32 {
	return uint32(band)<<x.opts.BandBits | blob.Band(band, x.opts.BandBits)
}

// AddPoints appends points with consecutive ids, starting at the current
// point count, and returns the id of the first one.
func (x *Index) AddPoints(hashes []embed.Blob) (uint32, error) {
	if !x.built {
		return 0, ErrNotBuilt
	}
	if uint64(x.points)+uint64(len(hashes)) > uint64(x.capacity) {
		return 0, fmt.Errorf("%w: %d + %d > %d", ErrCapacity, x.points, len(hashes), x.capacity)
	}

	first := x.points
	rows := uint32(x.opts.CellsPerPoint)
	var cells [maxRows]uint32
	for i, blob := range hashes {
		id := first + uint32(i)
		for r := range rows {
			c := x.cell(r, id)
			cells[r] = c
			x.cells.push(c, id)
		}
		for b := range x.opts.Bands {
			bid := x.bucket(b, blob)
			for _, c := range cells[:rows] {
				x.buckets.push(bid, c)
			}
		}
	}
	x.points += uint32(len(hashes))
	return first, nil
}

// Query streams the ids of points in admitted cells to fn until topK ids
// were accepted. fn reports whether it accepted the id, which lets the
// caller deduplicate. counts must be zeroed. Query returns the number of
// accepted ids and whether it stopped early because topK ids were
// accepted.
func (x *Index) Query(blob embed.Blob, topK int, counts *count.Table, fn func(id uint32) bool) (int, bool) {
	if !x.built || x.points == 0 || topK <= 0 {
		return 0, false
	}

	accepted := 0
	truncated := false
	for b := range x.opts.Bands {
		x.buckets.scan(x.bucket(b, blob), func(c uint32) bool {
			if counts.CountNoParityCheck(c) < x.threshold {
				return true
			}
			for _, id := range x.cells.values(c) {
				if fn(id) {
					accepted++
					if accepted >= topK {
						truncated = true
						return false
					}
				}
			}
			return true
		})
		if truncated {
			break
		}
	}
	return accepted, truncated
}

// Len returns the number of points.
func (x *Index) Len() int { return int(x.points) }

// Stats returns the index counters.
func (x *Index) Stats() Stats {
	return Stats{
		Points:       x.points,
		Entries:      x.buckets.entries,
		BucketSpills: x.buckets.spills,
		BucketDrops:  x.buckets.drops,
		CellDrops:    x.cells.drops,
	}
}
