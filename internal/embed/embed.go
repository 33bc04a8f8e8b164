package embed

import (
	"errors"
	"fmt"
	"math/bits"

	"github.com/chewxy/math32"

	"github.com/hupe1980/flesh/internal/geom"
	"github.com/hupe1980/flesh/internal/hash"
	"github.com/hupe1980/flesh/internal/shadow"
)

const (
	// CoordBits is the width of one unsigned voxel coordinate.
	CoordBits = 20
	// MaxCoord is the largest voxel coordinate on each side of the origin.
	MaxCoord = 1<<(CoordBits-1) - 1
	// MinCoord is the smallest voxel coordinate.
	MinCoord = -(1 << (CoordBits - 1))

	coordMask = 1<<CoordBits - 1

	tagCenter  = 1
	tagLineMin = 2
	tagLineMax = 3
	tagLineMid = 4
	tagSize    = 5
)

var (
	// ErrInvalidConfig is returned by New for unusable parameters.
	ErrInvalidConfig = errors.New("embed: invalid config")
)

// Config holds the parameters of an Embedder.
type Config struct {
	// Seed selects the min-hash permutation.
	Seed uint64
	// MeanHalfExtent is the mean half extent of the indexed records.
	MeanHalfExtent float32
	// MaxExtent is the largest absolute coordinate any record reaches.
	MaxExtent float32
	// MinCellSize and MaxCellSize clamp the derived cell size.
	MinCellSize float32
	MaxCellSize float32
	// LineScale is the number of cells per coarse voxel edge.
	LineScale int32
	// Bands is the number of sub-hashes in a Blob.
	Bands int
	// BandBits is the width of each sub-hash.
	BandBits uint
}

// DefaultConfig returns the default parameters. The caller fills in the
// scene statistics.
func DefaultConfig() Config {
	return Config{
		Seed:        0x1bead,
		MinCellSize: 0.25,
		MaxCellSize: 64,
		LineScale:   4,
		Bands:       4,
		BandBits:    14,
	}
}

// Voxel is a signed integer grid coordinate.
type Voxel [3]int32

// Point is an embedded feature vector.
type Point [4]uint64

// Blob packs the banded min-hash of a point.
type Blob uint64

// Band returns the i-th sub-hash.
func (b Blob) Band(i int, bandBits uint) uint32 {
	return uint32(uint64(b)>>(uint(i)*bandBits)) & (1<<bandBits - 1)
}

// Embedder maps geometry to points and points to blobs.
// It is immutable and safe for concurrent use.
type Embedder struct {
	cfg      Config
	cellSize float32
	inv      float32
	coarse   float32
}

// New derives the cell size from the scene statistics and returns an Embedder.
//
// The cell size starts at twice the mean half extent, clamped to
// [MinCellSize, MaxCellSize], and is raised until MaxExtent fits in the
// voxel coordinate range.
func New(cfg Config) (*Embedder, error) {
	if cfg.Bands < 1 || cfg.BandBits < 1 || uint(cfg.Bands)*cfg.BandBits > 64 {
		return nil, fmt.Errorf("%w: %d bands of %d bits", ErrInvalidConfig, cfg.Bands, cfg.BandBits)
	}
	if !(cfg.MinCellSize > 0) || cfg.MaxCellSize < cfg.MinCellSize {
		return nil, fmt.Errorf("%w: cell size range [%v, %v]", ErrInvalidConfig, cfg.MinCellSize, cfg.MaxCellSize)
	}
	if cfg.LineScale < 1 {
		cfg.LineScale = 1
	}

	cs := 2 * cfg.MeanHalfExtent
	if !(cs >= cfg.MinCellSize) {
		cs = cfg.MinCellSize
	}
	if cs > cfg.MaxCellSize {
		cs = cfg.MaxCellSize
	}
	if ext := cfg.MaxExtent; ext > 0 && !math32.IsInf(ext, 1) {
		// Keep one voxel of headroom on each side.
		if need := ext / (MaxCoord - 1); need > cs {
			cs = need
		}
	}

	return &Embedder{
		cfg:      cfg,
		cellSize: cs,
		inv:      1 / cs,
		coarse:   cs * float32(cfg.LineScale),
	}, nil
}

// Config returns the parameters the Embedder was built with.
func (e *Embedder) Config() Config { return e.cfg }

// CellSize returns the voxel edge length.
func (e *Embedder) CellSize() float32 { return e.cellSize }

// Voxel returns the voxel containing p, clamped to the coordinate range.
func (e *Embedder) Voxel(p geom.Vec3) Voxel {
	return Voxel{quantize(p.X, e.inv), quantize(p.Y, e.inv), quantize(p.Z, e.inv)}
}

func quantize(f, inv float32) int32 {
	v := math32.Floor(f * inv)
	switch {
	case v != v: // NaN
		return 0
	case v < MinCoord:
		return MinCoord
	case v > MaxCoord:
		return MaxCoord
	}
	return int32(v)
}

// VoxelRange returns the inclusive voxel range covered by b.
func (e *Embedder) VoxelRange(b geom.AABox) (lo, hi Voxel) {
	return e.Voxel(b.Min), e.Voxel(b.Max)
}

// Embed returns the center and line points of a record, in that order.
func (e *Embedder) Embed(r shadow.Record) [2]Point {
	return [2]Point{e.CenterPoint(e.Voxel(r.Center())), e.LinePoint(r.Bounds())}
}

// CenterPoint embeds a fine voxel: a tagged voxel key plus three rotations
// of its Morton code.
func (e *Embedder) CenterPoint(v Voxel) Point {
	x, y, z := unsigned(v[0]), unsigned(v[1]), unsigned(v[2])
	return Point{
		key(tagCenter, x, y, z),
		morton(x, y, z),
		morton(y, z, x) ^ 1<<62,
		morton(z, x, y) ^ 1<<63,
	}
}

// LinePoint embeds a region by the coarse voxels of its min corner, max
// corner and center, plus a size class.
func (e *Embedder) LinePoint(b geom.AABox) Point {
	inv := 1 / e.coarse
	lo := Voxel{quantize(b.Min.X, inv), quantize(b.Min.Y, inv), quantize(b.Min.Z, inv)}
	hi := Voxel{quantize(b.Max.X, inv), quantize(b.Max.Y, inv), quantize(b.Max.Z, inv)}
	c := b.Center()
	mid := Voxel{quantize(c.X, inv), quantize(c.Y, inv), quantize(c.Z, inv)}

	return Point{
		key(tagLineMin, unsigned(lo[0]), unsigned(lo[1]), unsigned(lo[2])),
		key(tagLineMax, unsigned(hi[0]), unsigned(hi[1]), unsigned(hi[2])),
		key(tagLineMid, unsigned(mid[0]), unsigned(mid[1]), unsigned(mid[2])),
		uint64(tagSize)<<60 | uint64(e.sizeClass(b)),
	}
}

func (e *Embedder) sizeClass(b geom.AABox) uint32 {
	m := b.Extent().MaxComponent() * e.inv
	if !(m >= 1) {
		return 0
	}
	if m > 1<<30 {
		return 31
	}
	return uint32(bits.Len32(uint32(m)))
}

// Hash computes the blob of p with the Embedder's seed and band layout.
func (e *Embedder) Hash(p Point) Blob {
	return Hash(p, e.cfg.Seed, e.cfg.Bands, e.cfg.BandBits)
}

// Hash computes a one-permutation min-hash of p over bands bins and packs
// the low bandBits of each bin into a Blob. Empty bins borrow the value of
// the next non-empty bin, re-mixed with their own index.
func Hash(p Point, seed uint64, bands int, bandBits uint) Blob {
	var mins [64]uint64
	var filled uint64

	for _, f := range p {
		h := hash.Seeded64(f, seed)
		bin := int((h >> 32) * uint64(bands) >> 32)
		if filled&(1<<bin) == 0 || h < mins[bin] {
			mins[bin] = h
			filled |= 1 << bin
		}
	}

	var out uint64
	mask := uint64(1)<<bandBits - 1
	for b := range bands {
		v := mins[b]
		if filled&(1<<b) == 0 {
			for j := 1; j < bands; j++ {
				src := (b + j) % bands
				if filled&(1<<src) != 0 {
					v = hash.Mix64(mins[src] + uint64(b)*0x9e3779b97f4a7c15)
					break
				}
			}
		}
		out |= (hash.Mix64(v) & mask) << (uint(b) * bandBits)
	}
	return Blob(out)
}

// WalkRay visits every voxel the segment origin + t*delta, t in [0, 1],
// passes through, in order. It stops early when fn returns false.
func (e *Embedder) WalkRay(origin, delta geom.Vec3, fn func(Voxel) bool) {
	cur := e.Voxel(origin)
	end := e.Voxel(origin.Add(delta))

	var (
		step   [3]int32
		tMax   [3]float32
		tDelta [3]float32
		steps  int64
	)
	for i := range 3 {
		o, d := origin.Component(i), delta.Component(i)
		switch {
		case d > 0:
			step[i] = 1
			tMax[i] = ((float32(cur[i])+1)*e.cellSize - o) / d
			tDelta[i] = e.cellSize / d
		case d < 0:
			step[i] = -1
			tMax[i] = (float32(cur[i])*e.cellSize - o) / d
			tDelta[i] = -e.cellSize / d
		default:
			tMax[i] = math32.Inf(1)
			tDelta[i] = math32.Inf(1)
		}
		diff := int64(end[i]) - int64(cur[i])
		if diff < 0 {
			diff = -diff
		}
		steps += diff
	}

	for range steps + 1 {
		if !fn(cur) || cur == end {
			return
		}
		axis := 0
		if tMax[1] < tMax[axis] {
			axis = 1
		}
		if tMax[2] < tMax[axis] {
			axis = 2
		}
		if tMax[axis] > 1 || math32.IsInf(tMax[axis], 1) {
			return
		}
		next := cur[axis] + step[axis]
		if next < MinCoord || next > MaxCoord {
			return
		}
		cur[axis] = next
		tMax[axis] += tDelta[axis]
	}
}

func unsigned(c int32) uint32 {
	return uint32(c-MinCoord) & coordMask
}

func key(tag uint64, x, y, z uint32) uint64 {
	return tag<<60 | uint64(x) | uint64(y)<<CoordBits | uint64(z)<<(2*CoordBits)
}

// morton interleaves three 20-bit coordinates into a 60-bit code.
func morton(x, y, z uint32) uint64 {
	return spread(x) | spread(y)<<1 | spread(z)<<2
}

func spread(v uint32) uint64 {
	x := uint64(v) & 0x1fffff
	x = (x | x<<32) & 0x1f00000000ffff
	x = (x | x<<16) & 0x1f0000ff0000ff
	x = (x | x<<8) & 0x100f00f00f00f00f
	x = (x | x<<4) & 0x10c30c30c30c30c3
	x = (x | x<<2) & 0x1249249249249249
	return x
}
