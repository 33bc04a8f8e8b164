package geom

import (
	"testing"

	"github.com/chewxy/math32"
	"github.com/stretchr/testify/assert"
)

func TestVec3(t *testing.T) {
	a := V(1, -2, 3)
	b := V(4, 5, -6)

	assert.Equal(t, V(5, 3, -3), a.Add(b))
	assert.Equal(t, V(-3, -7, 9), a.Sub(b))
	assert.Equal(t, V(2, -4, 6), a.Scale(2))
	assert.Equal(t, float32(4-10-18), a.Dot(b))
	assert.Equal(t, V(1, -2, -6), a.Min(b))
	assert.Equal(t, V(4, 5, 3), a.Max(b))
	assert.Equal(t, V(1, 2, 3), a.Abs())
	assert.Equal(t, float32(3), a.MaxComponent())
	assert.InDelta(t, 5.0, V(3, 4, 0).Length(), 1e-6)
	assert.Equal(t, float32(-2), a.Component(1))

	assert.True(t, a.IsFinite())
	assert.False(t, V(math32.NaN(), 0, 0).IsFinite())
	assert.False(t, V(0, math32.Inf(1), 0).IsFinite())
	assert.True(t, V(0, 0, math32.NaN()).HasNaN())
}

func TestAABox(t *testing.T) {
	b := FromCenterExtent(V(0, 0, 0), Splat(1))

	assert.Equal(t, Splat(-1), b.Min)
	assert.Equal(t, Splat(1), b.Max)
	assert.Equal(t, Splat(0), b.Center())
	assert.Equal(t, Splat(1), b.Extent())
	assert.True(t, b.IsValid())

	assert.True(t, b.Overlaps(FromCenterExtent(V(2, 0, 0), Splat(1))), "touching boxes overlap")
	assert.False(t, b.Overlaps(FromCenterExtent(V(2.5, 0, 0), Splat(1))))
	assert.True(t, b.Contains(V(1, 1, 1)))
	assert.False(t, b.Contains(V(1.01, 0, 0)))

	assert.Equal(t, float32(0), b.DistanceSq(V(0.5, 0, 0)))
	assert.Equal(t, float32(4), b.DistanceSq(V(3, 0, 0)))
	assert.True(t, b.OverlapsSphere(V(3, 0, 0), 2))
	assert.False(t, b.OverlapsSphere(V(3, 0, 0), 1.9))

	e := EmptyBox()
	assert.True(t, e.IsEmpty())
	assert.False(t, e.IsValid())
	u := e.Encapsulate(b).Encapsulate(FromCenterExtent(V(5, 0, 0), Splat(1)))
	assert.Equal(t, V(-1, -1, -1), u.Min)
	assert.Equal(t, V(6, 1, 1), u.Max)

	assert.Equal(t, Splat(-1.5), b.ExpandBy(Splat(0.5)).Min)
}

func TestRayBox(t *testing.T) {
	box := FromCenterExtent(V(5, 0, 0), Splat(1))

	tests := []struct {
		name     string
		origin   Vec3
		dir      Vec3
		hit      bool
		fraction float32
	}{
		{"straight hit", V(0, 0, 0), V(10, 0, 0), true, 0.4},
		{"too short", V(0, 0, 0), V(3, 0, 0), false, 0},
		{"pointing away", V(0, 0, 0), V(-10, 0, 0), false, 0},
		{"parallel miss", V(0, 2, 0), V(10, 0, 0), false, 0},
		{"parallel on face", V(0, 1, 0), V(10, 0, 0), true, 0.4},
		{"origin inside", V(5, 0, 0), V(1, 0, 0), true, 0},
		{"diagonal", V(0, -4, 0), V(10, 10, 0), true, 0.4},
		{"ends on face", V(0, 0, 0), V(4, 0, 0), true, 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f, hit := RayBox(tt.origin, tt.dir, box)
			assert.Equal(t, tt.hit, hit)
			if tt.hit {
				assert.InDelta(t, tt.fraction, f, 1e-5)
			}
		})
	}
}

func TestClipSegment(t *testing.T) {
	box := Box(V(0, 0, 0), V(10, 10, 10))

	t0, t1, ok := ClipSegment(V(-10, 5, 5), V(40, 0, 0), box)
	assert.True(t, ok)
	assert.InDelta(t, 0.25, t0, 1e-6)
	assert.InDelta(t, 0.5, t1, 1e-6)

	t0, t1, ok = ClipSegment(V(5, 5, 5), V(1, 1, 1), box)
	assert.True(t, ok)
	assert.Zero(t, t0)
	assert.Equal(t, float32(1), t1)

	_, _, ok = ClipSegment(V(-10, 5, 5), V(5, 0, 0), box)
	assert.False(t, ok)
}

func TestSweepBox(t *testing.T) {
	target := FromCenterExtent(V(10, 0, 0), Splat(1))
	cast := AABoxCast{Box: FromCenterExtent(V(0, 0, 0), Splat(1)), Direction: V(20, 0, 0)}

	f, hit := SweepBox(cast, target)
	assert.True(t, hit)
	assert.InDelta(t, 0.4, f, 1e-5)

	cast.Box = FromCenterExtent(V(0, 3, 0), Splat(1))
	_, hit = SweepBox(cast, target)
	assert.False(t, hit)

	assert.True(t, cast.IsValid())
	assert.False(t, AABoxCast{Box: EmptyBox()}.IsValid())
}

func TestRayCast(t *testing.T) {
	r := RayCast{Origin: V(1, 1, 1), Direction: V(2, 0, 0)}
	assert.Equal(t, V(2, 1, 1), r.PointAt(0.5))
	assert.True(t, r.IsValid())
	r.Origin.X = math32.NaN()
	assert.False(t, r.IsValid())
}
