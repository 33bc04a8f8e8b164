package geom

import "github.com/chewxy/math32"

// RayCast is the segment Origin + t*Direction for t in [0, 1].
type RayCast struct {
	Origin    Vec3
	Direction Vec3
}

// PointAt returns the point at fraction t.
func (r RayCast) PointAt(t float32) Vec3 {
	return r.Origin.Add(r.Direction.Scale(t))
}

// IsValid reports whether the ray is finite.
func (r RayCast) IsValid() bool {
	return r.Origin.IsFinite() && r.Direction.IsFinite()
}

// AABoxCast sweeps Box along Direction for t in [0, 1].
type AABoxCast struct {
	Box       AABox
	Direction Vec3
}

// IsValid reports whether the cast is finite and the box is not inverted.
func (c AABoxCast) IsValid() bool {
	return c.Box.IsValid() && c.Direction.IsFinite()
}

// OrientedBox is a box rotated into world space. Rows of Orientation are the
// box axes.
type OrientedBox struct {
	Orientation [3]Vec3
	Center      Vec3
	HalfExtent  Vec3
}

// RayBox intersects the segment origin + t*dir, t in [0, 1], with b. It
// returns the entry fraction, which is zero when the origin is inside.
func RayBox(origin, dir Vec3, b AABox) (float32, bool) {
	t0, _, ok := ClipSegment(origin, dir, b)
	return t0, ok
}

// ClipSegment returns the part of origin + t*dir, t in [0, 1], that lies
// inside b as the fraction range [t0, t1].
func ClipSegment(origin, dir Vec3, b AABox) (t0, t1 float32, ok bool) {
	tmin := math32.Inf(-1)
	tmax := math32.Inf(1)

	for axis := 0; axis < 3; axis++ {
		o := origin.Component(axis)
		d := dir.Component(axis)
		lo := b.Min.Component(axis)
		hi := b.Max.Component(axis)

		if d == 0 {
			if o < lo || o > hi {
				return 0, 0, false
			}
			continue
		}

		inv := 1 / d
		ta := (lo - o) * inv
		tb := (hi - o) * inv
		if ta > tb {
			ta, tb = tb, ta
		}
		tmin = math32.Max(tmin, ta)
		tmax = math32.Min(tmax, tb)
		if tmin > tmax {
			return 0, 0, false
		}
	}

	if tmax < 0 || tmin > 1 {
		return 0, 0, false
	}
	return math32.Max(tmin, 0), math32.Min(tmax, 1), true
}

// SweepBox returns the fraction at which the cast box first touches target.
func SweepBox(c AABoxCast, target AABox) (float32, bool) {
	return RayBox(c.Box.Center(), c.Direction, target.ExpandBy(c.Box.Extent()))
}
