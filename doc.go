// Package flesh provides an approximate broad phase for real-time physics.
//
// FLESH (FLINNG plus line-embedding semi-hash) indexes the bounding boxes
// of simulated bodies with locality-sensitive hashing. Every candidate the
// index proposes is confirmed against an immutable shadow copy of the body
// before a collector sees it, so reported hits are always exact; the index
// only decides which bodies are looked at.
//
// # Quick Start
//
//	bp := flesh.New()
//	defer bp.Close()
//
//	bodies := flesh.BodyList{
//	    {ID: 1, Bounds: flesh.Box(flesh.V(0, 0, 0), flesh.V(1, 1, 1)), Motion: flesh.MotionDynamic, Active: true},
//	    {ID: 2, Bounds: flesh.Box(flesh.V(0.5, 0, 0), flesh.V(2, 1, 1)), Motion: flesh.MotionStatic},
//	}
//	_ = bp.Init(bodies, nil)
//
//	st := bp.AddBodiesPrepare([]flesh.BodyID{1, 2})
//	bp.AddBodiesFinalize([]flesh.BodyID{1, 2}, st)
//	_ = bp.Update(ctx) // bodies become visible here
//
//	var hits flesh.AllHitsCollector[flesh.CastResult]
//	_ = bp.CastRay(flesh.RayCast{Origin: flesh.V(-5, 0.5, 0.5), Direction: flesh.V(10, 0, 0)}, &hits, nil, nil)
//
// # Generations
//
// Each update snapshots the member bodies into shadow records, builds a
// complete new index in a spare arena and swaps it in with one atomic
// store. Queries pin the generation they started on; the previous arena
// is zeroed in the background once its last query has finished. Changes
// to bodies (bounds, layers, removals) therefore become visible at the
// next update and never earlier.
//
// # Determinism
//
// The same seed, options and ordered bodies always produce the same index
// and the same query results. Capture and Restore move a generation
// between processes; see package capturestore for durable sinks.
//
// # Limitations
//
// Oriented-box queries return ErrUnsupported. Collision groups are not
// modelled; pair eligibility uses motion types, sensor and rigid flags and
// the layer filters only.
package flesh
