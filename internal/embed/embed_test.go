package embed

import (
	"math/bits"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/flesh/internal/geom"
	"github.com/hupe1980/flesh/internal/shadow"
)

func newEmbedder(t *testing.T, mean, maxExtent float32) *Embedder {
	t.Helper()
	cfg := DefaultConfig()
	cfg.MeanHalfExtent = mean
	cfg.MaxExtent = maxExtent
	e, err := New(cfg)
	require.NoError(t, err)
	return e
}

func TestNew_CellSize(t *testing.T) {
	tests := []struct {
		name      string
		mean      float32
		maxExtent float32
		want      float32
	}{
		{"twice the mean", 0.6, 100, 1.2},
		{"clamped low", 0.01, 100, 0.25},
		{"clamped high", 500, 100, 64},
		{"no records", 0, 0, 0.25},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := newEmbedder(t, tt.mean, tt.maxExtent)
			assert.InDelta(t, tt.want, e.CellSize(), 1e-6)
		})
	}

	t.Run("raised by max extent", func(t *testing.T) {
		e := newEmbedder(t, 0.5, 1e7)
		assert.Greater(t, e.CellSize(), float32(1))
		v := e.Voxel(geom.Splat(1e7))
		assert.Less(t, v[0], int32(MaxCoord), "max extent stays inside the coordinate range")
		v = e.Voxel(geom.Splat(-1e7))
		assert.Greater(t, v[0], int32(MinCoord))
	})
}

func TestNew_Invalid(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Bands = 5
	cfg.BandBits = 14
	_, err := New(cfg)
	assert.ErrorIs(t, err, ErrInvalidConfig)

	cfg = DefaultConfig()
	cfg.MinCellSize = 0
	_, err = New(cfg)
	assert.ErrorIs(t, err, ErrInvalidConfig)
}

func TestVoxel(t *testing.T) {
	e := newEmbedder(t, 0.5, 10) // cell size 1

	assert.Equal(t, Voxel{0, 0, 0}, e.Voxel(geom.V(0.5, 0.99, 0)))
	assert.Equal(t, Voxel{-1, 2, 3}, e.Voxel(geom.V(-0.1, 2, 3.5)))
	assert.Equal(t, Voxel{MaxCoord, MinCoord, 0}, e.Voxel(geom.V(1e30, -1e30, 0)))

	lo, hi := e.VoxelRange(geom.Box(geom.V(-1.5, 0, 0), geom.V(1.5, 0.5, 2)))
	assert.Equal(t, Voxel{-2, 0, 0}, lo)
	assert.Equal(t, Voxel{1, 0, 2}, hi)
}

func TestMorton(t *testing.T) {
	assert.Equal(t, uint64(1), morton(1, 0, 0))
	assert.Equal(t, uint64(2), morton(0, 1, 0))
	assert.Equal(t, uint64(4), morton(0, 0, 1))
	assert.Equal(t, uint64(8), morton(2, 0, 0))
	assert.Equal(t, 21, bits.OnesCount64(spread(0x1fffff)))
}

func TestEmbed_Deterministic(t *testing.T) {
	e := newEmbedder(t, 0.5, 100)
	r := shadow.New(geom.V(3.2, -7.9, 40), geom.V(0.5, 0.25, 1), 0, shadow.FlagRigid, 1)

	a := e.Embed(r)
	b := e.Embed(r)
	assert.Equal(t, a, b)
	assert.Equal(t, e.Hash(a[0]), e.Hash(b[0]))
	assert.Equal(t, e.Hash(a[1]), e.Hash(b[1]))

	// The center point depends only on the voxel of the center.
	assert.Equal(t, a[0], e.CenterPoint(e.Voxel(geom.V(3.7, -7.1, 40.3))))
	assert.NotEqual(t, a[0], a[1])
}

func TestHash_SeparatesVoxels(t *testing.T) {
	e := newEmbedder(t, 0.5, 100)
	bands, bb := e.Config().Bands, e.Config().BandBits

	base := e.Hash(e.CenterPoint(Voxel{0, 0, 0}))
	collisions := 0
	for x := int32(-5); x <= 5; x++ {
		for y := int32(-5); y <= 5; y++ {
			if x == 0 && y == 0 {
				continue
			}
			other := e.Hash(e.CenterPoint(Voxel{x, y, 0}))
			shared := 0
			for b := range bands {
				if base.Band(b, bb) == other.Band(b, bb) {
					shared++
				}
			}
			if shared >= bands-1 {
				collisions++
			}
		}
	}
	assert.Zero(t, collisions, "neighbouring voxels must not share three bands")
}

func TestHash_Layout(t *testing.T) {
	p := Point{1, 2, 3, 4}
	blob := Hash(p, 7, 4, 14)
	assert.Zero(t, uint64(blob)>>56, "only bands*bandBits bits are used")
	for b := range 4 {
		assert.Less(t, blob.Band(b, 14), uint32(1<<14))
	}
	assert.NotEqual(t, blob, Hash(p, 8, 4, 14), "seed changes the permutation")
}

func TestWalkRay(t *testing.T) {
	e := newEmbedder(t, 0.5, 100) // cell size 1

	t.Run("axis aligned", func(t *testing.T) {
		var got []Voxel
		e.WalkRay(geom.V(0.5, 0.5, 0.5), geom.V(4, 0, 0), func(v Voxel) bool {
			got = append(got, v)
			return true
		})
		assert.Equal(t, []Voxel{{0, 0, 0}, {1, 0, 0}, {2, 0, 0}, {3, 0, 0}, {4, 0, 0}}, got)
	})

	t.Run("negative diagonal is connected", func(t *testing.T) {
		var got []Voxel
		origin, delta := geom.V(3.3, 2.7, -0.4), geom.V(-6.1, -4.2, 3.9)
		e.WalkRay(origin, delta, func(v Voxel) bool {
			got = append(got, v)
			return true
		})
		require.NotEmpty(t, got)
		assert.Equal(t, e.Voxel(origin), got[0])
		assert.Equal(t, e.Voxel(origin.Add(delta)), got[len(got)-1])
		for i := 1; i < len(got); i++ {
			d := 0
			for k := range 3 {
				diff := got[i][k] - got[i-1][k]
				if diff < 0 {
					diff = -diff
				}
				d += int(diff)
			}
			assert.Equal(t, 1, d, "each step moves one voxel along one axis")
		}
	})

	t.Run("early stop", func(t *testing.T) {
		n := 0
		e.WalkRay(geom.V(0, 0, 0), geom.V(100, 0, 0), func(Voxel) bool {
			n++
			return n < 3
		})
		assert.Equal(t, 3, n)
	})

	t.Run("zero length", func(t *testing.T) {
		n := 0
		e.WalkRay(geom.V(1.5, 1.5, 1.5), geom.V(0, 0, 0), func(Voxel) bool {
			n++
			return true
		})
		assert.Equal(t, 1, n)
	})
}
