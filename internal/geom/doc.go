// Package geom holds the float32 geometry of the broad phase: vectors,
// axis-aligned boxes, casts and the exact overlap tests used to confirm
// index candidates.
package geom
