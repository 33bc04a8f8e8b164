// Package shadow defines the shadow record: a packed, read-only copy of the
// part of a body the broad phase needs, taken at rebuild time.
package shadow

import (
	"math"

	"github.com/x448/float16"

	"github.com/hupe1980/flesh/internal/geom"
)

// Flags carries the motion and state bits of a body.
type Flags uint8

const (
	FlagKinematic Flags = 1 << iota
	FlagDynamic
	FlagSensor
	FlagRigid
	FlagStatic
	FlagActive
	FlagCollideKinematicVsNonDynamic
)

// Record is a 24-byte shadow of one body.
//
//	word 0..2  center x, y, z (float32 bits)
//	word 3     half extent x | y << 16 (binary16)
//	word 4     half extent z | layer << 16 | flags << 24
//	word 5     body id
//
// A record is never modified after construction; the next rebuild replaces it.
type Record [6]uint32

// New packs a record. Half extents are rounded up so the stored box always
// contains the one it was built from.
func New(center, extent geom.Vec3, layer uint8, flags Flags, body uint32) Record {
	return Record{
		math.Float32bits(center.X),
		math.Float32bits(center.Y),
		math.Float32bits(center.Z),
		uint32(halfUp(extent.X)) | uint32(halfUp(extent.Y))<<16,
		uint32(halfUp(extent.Z)) | uint32(layer)<<16 | uint32(flags)<<24,
		body,
	}
}

// FromBounds packs a record from world-space bounds.
func FromBounds(b geom.AABox, layer uint8, flags Flags, body uint32) Record {
	return New(b.Center(), b.Extent(), layer, flags, body)
}

func halfUp(v float32) uint16 {
	if !(v > 0) {
		return 0
	}
	h := float16.Fromfloat32(v)
	if h.Float32() < v {
		h = float16.Frombits(h.Bits() + 1)
	}
	return h.Bits()
}

func half(bits uint32) float32 {
	return float16.Frombits(uint16(bits)).Float32()
}

// Center returns the box center.
func (r Record) Center() geom.Vec3 {
	return geom.V(math.Float32frombits(r[0]), math.Float32frombits(r[1]), math.Float32frombits(r[2]))
}

// Extent returns the half extent.
func (r Record) Extent() geom.Vec3 {
	return geom.V(half(r[3]&0xffff), half(r[3]>>16), half(r[4]&0xffff))
}

// Bounds returns the world-space box of the record.
func (r Record) Bounds() geom.AABox {
	return geom.FromCenterExtent(r.Center(), r.Extent())
}

// Layer returns the object layer.
func (r Record) Layer() uint8 {
	return uint8(r[4] >> 16)
}

// Flags returns the flag bits.
func (r Record) Flags() Flags {
	return Flags(r[4] >> 24)
}

// Is reports whether all bits of f are set.
func (r Record) Is(f Flags) bool {
	return r.Flags()&f == f
}

// Body returns the owning body id.
func (r Record) Body() uint32 {
	return r[5]
}

// CanCollide is the physical eligibility of a pair, independent of order.
//
// Both bodies must be rigid. At least one of them must be dynamic, or allow
// kinematic vs non-dynamic contacts, or the pair must be a kinematic body
// against a sensor. A body never pairs with itself.
func CanCollide(a, b Record) bool {
	if !a.Is(FlagRigid) || !b.Is(FlagRigid) {
		return false
	}
	if !a.Is(FlagCollideKinematicVsNonDynamic) && !b.Is(FlagCollideKinematicVsNonDynamic) &&
		!a.Is(FlagDynamic) && !b.Is(FlagDynamic) &&
		!(a.Is(FlagKinematic) && b.Is(FlagSensor)) &&
		!(a.Is(FlagSensor) && b.Is(FlagKinematic)) {
		return false
	}
	return a.Body() != b.Body()
}
