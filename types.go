package flesh

import (
	"github.com/hupe1980/flesh/internal/geom"
	"github.com/hupe1980/flesh/internal/index"
	"github.com/hupe1980/flesh/internal/shadow"
)

// Geometry types shared with the physics layer.
type (
	// Vec3 is a float32 3-vector.
	Vec3 = geom.Vec3
	// AABox is an axis-aligned bounding box.
	AABox = geom.AABox
	// RayCast is the segment Origin + t*Direction for t in [0, 1].
	RayCast = geom.RayCast
	// AABoxCast sweeps Box along Direction for t in [0, 1].
	AABoxCast = geom.AABoxCast
	// OrientedBox is a rotated box. Queries with it are unsupported.
	OrientedBox = geom.OrientedBox
)

// V returns the vector (x, y, z).
func V(x, y, z float32) Vec3 { return geom.V(x, y, z) }

// Box returns the box spanning min and max.
func Box(min, max Vec3) AABox { return geom.Box(min, max) }

// BoxFromCenter returns the box with the given center and half extent.
func BoxFromCenter(center, halfExtent Vec3) AABox { return geom.FromCenterExtent(center, halfExtent) }

// BodyID identifies a body. The low 23 bits are the body slot; the high
// bits carry a sequence number that changes when a slot is reused.
type BodyID uint32

// InvalidBodyID marks "no body".
const InvalidBodyID BodyID = index.InvalidBody

// MaxBodyIndex is the largest body slot.
const MaxBodyIndex = index.BodyIndexMask

// NewBodyID combines a slot and a sequence number.
func NewBodyID(slot uint32, sequence uint8) BodyID {
	return BodyID(uint32(sequence)<<23 | slot&index.BodyIndexMask)
}

// Index returns the body slot.
func (id BodyID) Index() uint32 { return uint32(id) & index.BodyIndexMask }

// Sequence returns the slot reuse counter.
func (id BodyID) Sequence() uint8 { return uint8(uint32(id) >> 23) }

// IsInvalid reports whether id is InvalidBodyID.
func (id BodyID) IsInvalid() bool { return id == InvalidBodyID }

// MotionType describes how a body moves.
type MotionType uint8

const (
	MotionStatic MotionType = iota
	MotionKinematic
	MotionDynamic
)

func (m MotionType) String() string {
	switch m {
	case MotionStatic:
		return "static"
	case MotionKinematic:
		return "kinematic"
	case MotionDynamic:
		return "dynamic"
	default:
		return "unknown"
	}
}

// ObjectLayer is the collision layer of a body.
type ObjectLayer uint8

// BroadPhaseLayer is the coarse layer an object layer maps to.
type BroadPhaseLayer uint8

// Body is the view of a simulated body the broad phase snapshots at every
// rebuild.
type Body struct {
	ID     BodyID
	Bounds AABox
	Layer  ObjectLayer
	Motion MotionType
	// Soft marks a non-rigid body. Soft bodies never form pairs.
	Soft   bool
	Sensor bool
	Active bool
	// CollideKinematicVsNonDynamic lets a kinematic body pair with static
	// and other kinematic bodies.
	CollideKinematicVsNonDynamic bool
}

func (b Body) flags() shadow.Flags {
	var f shadow.Flags
	switch b.Motion {
	case MotionStatic:
		f |= shadow.FlagStatic
	case MotionKinematic:
		f |= shadow.FlagKinematic
	case MotionDynamic:
		f |= shadow.FlagDynamic
	}
	if !b.Soft {
		f |= shadow.FlagRigid
	}
	if b.Sensor {
		f |= shadow.FlagSensor
	}
	if b.Active {
		f |= shadow.FlagActive
	}
	if b.CollideKinematicVsNonDynamic {
		f |= shadow.FlagCollideKinematicVsNonDynamic
	}
	return f
}

// BodyManager enumerates the simulated bodies. VisitBodies must visit
// bodies in a stable order; fn returns false to stop.
type BodyManager interface {
	VisitBodies(fn func(Body) bool)
}

// BodyManagerFunc adapts a visit function to BodyManager.
type BodyManagerFunc func(fn func(Body) bool)

// VisitBodies implements BodyManager.
func (f BodyManagerFunc) VisitBodies(fn func(Body) bool) { f(fn) }

// BodyList is a slice-backed BodyManager.
type BodyList []Body

// VisitBodies implements BodyManager.
func (l BodyList) VisitBodies(fn func(Body) bool) {
	for _, b := range l {
		if !fn(b) {
			return
		}
	}
}

// BroadPhaseLayerInterface maps object layers to broad-phase layers.
type BroadPhaseLayerInterface interface {
	BroadPhaseLayer(layer ObjectLayer) BroadPhaseLayer
}

// BroadPhaseLayerMapper adapts a function to BroadPhaseLayerInterface.
type BroadPhaseLayerMapper func(ObjectLayer) BroadPhaseLayer

// BroadPhaseLayer implements BroadPhaseLayerInterface.
func (f BroadPhaseLayerMapper) BroadPhaseLayer(layer ObjectLayer) BroadPhaseLayer { return f(layer) }

// IdentityLayers maps every object layer to the broad-phase layer with the
// same number.
var IdentityLayers BroadPhaseLayerInterface = BroadPhaseLayerMapper(func(l ObjectLayer) BroadPhaseLayer {
	return BroadPhaseLayer(l)
})

// BroadPhaseLayerFilter selects broad-phase layers. A nil filter accepts all.
type BroadPhaseLayerFilter interface {
	ShouldCollide(layer BroadPhaseLayer) bool
}

// ObjectLayerFilter selects object layers. A nil filter accepts all.
type ObjectLayerFilter interface {
	ShouldCollide(layer ObjectLayer) bool
}

// ObjectVsBroadPhaseLayerFilter decides whether an object layer may touch a
// broad-phase layer. A nil filter accepts all.
type ObjectVsBroadPhaseLayerFilter interface {
	ShouldCollide(layer ObjectLayer, bp BroadPhaseLayer) bool
}

// ObjectLayerPairFilter decides whether two object layers may touch. A nil
// filter accepts all.
type ObjectLayerPairFilter interface {
	ShouldCollide(a, b ObjectLayer) bool
}

// BroadPhaseLayerFilterFunc adapts a function to BroadPhaseLayerFilter.
type BroadPhaseLayerFilterFunc func(BroadPhaseLayer) bool

func (f BroadPhaseLayerFilterFunc) ShouldCollide(layer BroadPhaseLayer) bool { return f(layer) }

// ObjectLayerFilterFunc adapts a function to ObjectLayerFilter.
type ObjectLayerFilterFunc func(ObjectLayer) bool

func (f ObjectLayerFilterFunc) ShouldCollide(layer ObjectLayer) bool { return f(layer) }

// ObjectVsBroadPhaseLayerFilterFunc adapts a function to ObjectVsBroadPhaseLayerFilter.
type ObjectVsBroadPhaseLayerFilterFunc func(ObjectLayer, BroadPhaseLayer) bool

func (f ObjectVsBroadPhaseLayerFilterFunc) ShouldCollide(layer ObjectLayer, bp BroadPhaseLayer) bool {
	return f(layer, bp)
}

// ObjectLayerPairFilterFunc adapts a function to ObjectLayerPairFilter.
type ObjectLayerPairFilterFunc func(a, b ObjectLayer) bool

func (f ObjectLayerPairFilterFunc) ShouldCollide(a, b ObjectLayer) bool { return f(a, b) }
