// Package embed turns shadow records and query regions into hashable points.
//
// Space is quantised into cubic voxels of a fixed cell size. Every record
// yields two points: a center point that depends only on the voxel holding
// the record center, and a line point built from coarse voxels of its
// corners. A point is hashed into a Blob of banded min-hash signatures.
//
// Identical geometry always produces identical blobs, so a query that samples
// the voxel of a record center reproduces that record's center blob exactly.
package embed
