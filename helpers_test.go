package flesh_test

import (
	"math/rand/v2"
	"slices"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/hupe1980/flesh"
)

// setup creates an initialised broad phase over bodies, adds all of them
// and runs one update.
func setup(t *testing.T, bodies flesh.BodyList, opts ...flesh.Option) *flesh.BroadPhase {
	t.Helper()

	bp := flesh.New(opts...)
	t.Cleanup(func() { _ = bp.Close() })

	require.NoError(t, bp.Init(bodies, nil))
	ids := idsOf(bodies)
	st := bp.AddBodiesPrepare(ids)
	bp.AddBodiesFinalize(ids, st)
	require.NoError(t, bp.Update(t.Context()))
	return bp
}

func idsOf(bodies flesh.BodyList) []flesh.BodyID {
	ids := make([]flesh.BodyID, len(bodies))
	for i, b := range bodies {
		ids[i] = b.ID
	}
	return ids
}

// grid returns n*n*n unit boxes with spacing 2. Body (x, y, z) has id
// 1 + x*n*n + y*n + z.
func grid(n int) flesh.BodyList {
	bodies := make(flesh.BodyList, 0, n*n*n)
	for x := range n {
		for y := range n {
			for z := range n {
				lo := flesh.V(float32(2*x), float32(2*y), float32(2*z))
				bodies = append(bodies, flesh.Body{
					ID:     flesh.BodyID(1 + x*n*n + y*n + z),
					Bounds: flesh.Box(lo, lo.Add(flesh.V(1, 1, 1))),
					Motion: flesh.MotionDynamic,
					Active: true,
				})
			}
		}
	}
	return bodies
}

// randomBodies returns bodies whose coordinates are multiples of 1/4, so
// their bounds survive the half-float record encoding unchanged.
func randomBodies(n int, seed uint64, world float32) flesh.BodyList {
	rng := rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))
	q := func(max float32) float32 { return float32(rng.IntN(int(max*4))) / 4 }

	bodies := make(flesh.BodyList, n)
	for i := range bodies {
		c := flesh.V(q(world), q(world), q(world))
		h := flesh.V(0.25+q(2), 0.25+q(2), 0.25+q(2))
		bodies[i] = flesh.Body{
			ID:     flesh.NewBodyID(uint32(i), uint8(seed)),
			Bounds: flesh.BoxFromCenter(c, h),
			Layer:  flesh.ObjectLayer(rng.IntN(3)),
			Motion: flesh.MotionType(rng.IntN(3)),
			Soft:   rng.IntN(10) == 0,
			Sensor: rng.IntN(5) == 0,
			Active: true,
			// Set on a few kinematic bodies only.
			CollideKinematicVsNonDynamic: rng.IntN(8) == 0,
		}
	}
	return bodies
}

func sortedIDs(ids []flesh.BodyID) []flesh.BodyID {
	out := slices.Clone(ids)
	slices.Sort(out)
	return out
}

func castIDs(hits []flesh.CastResult) []flesh.BodyID {
	ids := make([]flesh.BodyID, len(hits))
	for i, h := range hits {
		ids[i] = h.BodyID
	}
	return sortedIDs(ids)
}

// canCollide mirrors the pair eligibility rules on public body fields.
func canCollide(a, b flesh.Body) bool {
	if a.Soft || b.Soft || a.ID == b.ID {
		return false
	}
	if a.CollideKinematicVsNonDynamic || b.CollideKinematicVsNonDynamic {
		return true
	}
	if a.Motion == flesh.MotionDynamic || b.Motion == flesh.MotionDynamic {
		return true
	}
	return (a.Motion == flesh.MotionKinematic && b.Sensor) || (a.Sensor && b.Motion == flesh.MotionKinematic)
}
