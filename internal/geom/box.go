package geom

import "github.com/chewxy/math32"

// AABox is an axis-aligned bounding box.
type AABox struct {
	Min, Max Vec3
}

// Box returns the box spanning min and max.
func Box(min, max Vec3) AABox {
	return AABox{Min: min, Max: max}
}

// FromCenterExtent returns the box with the given center and half extent.
func FromCenterExtent(center, extent Vec3) AABox {
	return AABox{Min: center.Sub(extent), Max: center.Add(extent)}
}

// EmptyBox returns the identity for Encapsulate.
func EmptyBox() AABox {
	inf := math32.Inf(1)
	return AABox{Min: Splat(inf), Max: Splat(-inf)}
}

// IsEmpty reports whether Min exceeds Max on any axis.
func (b AABox) IsEmpty() bool {
	return b.Min.X > b.Max.X || b.Min.Y > b.Max.Y || b.Min.Z > b.Max.Z
}

// IsValid reports whether the box is finite and not inverted.
func (b AABox) IsValid() bool {
	return b.Min.IsFinite() && b.Max.IsFinite() && !b.IsEmpty()
}

// Center returns the box center.
func (b AABox) Center() Vec3 {
	return b.Min.Add(b.Max).Scale(0.5)
}

// Extent returns the half size.
func (b AABox) Extent() Vec3 {
	return b.Max.Sub(b.Min).Scale(0.5)
}

// ExpandBy grows the box by e on every side.
func (b AABox) ExpandBy(e Vec3) AABox {
	return AABox{Min: b.Min.Sub(e), Max: b.Max.Add(e)}
}

// Encapsulate returns the smallest box containing both boxes.
func (b AABox) Encapsulate(o AABox) AABox {
	return AABox{Min: b.Min.Min(o.Min), Max: b.Max.Max(o.Max)}
}

// Overlaps reports whether the boxes intersect. Touching counts.
func (b AABox) Overlaps(o AABox) bool {
	return b.Min.X <= o.Max.X && b.Max.X >= o.Min.X &&
		b.Min.Y <= o.Max.Y && b.Max.Y >= o.Min.Y &&
		b.Min.Z <= o.Max.Z && b.Max.Z >= o.Min.Z
}

// Contains reports whether p lies inside the box or on its boundary.
func (b AABox) Contains(p Vec3) bool {
	return p.X >= b.Min.X && p.X <= b.Max.X &&
		p.Y >= b.Min.Y && p.Y <= b.Max.Y &&
		p.Z >= b.Min.Z && p.Z <= b.Max.Z
}

// DistanceSq returns the squared distance from p to the box, zero inside.
func (b AABox) DistanceSq(p Vec3) float32 {
	closest := p.Max(b.Min).Min(b.Max)
	return closest.Sub(p).LengthSq()
}

// OverlapsSphere reports whether the sphere touches the box.
func (b AABox) OverlapsSphere(center Vec3, radius float32) bool {
	return b.DistanceSq(center) <= radius*radius
}
