// Package lsh implements the FLESH index: a FLINNG-style grouping of points
// into random cells, with an inverted index from banded hashes to cells.
//
// Every point is placed in one cell per row. For each band of its blob, the
// point's cells are appended to the bucket addressed by that band's sub-hash.
// A query counts how often each cell appears across the query blob's
// buckets and admits the members of cells that reach the threshold.
//
// All storage lives in a caller-provided arena and has a fixed capacity.
// Buckets overflow into a nearby probe bucket (Probe policy); cells overflow
// by overwriting their oldest members (Ring policy). Every lost entry is
// counted in Stats.
package lsh
