// Package index manages the double-buffered generations of the FLESH index.
//
// A Generation is everything a query needs: the shadow records, their
// embedding parameters, the LSH index and the body lookup. All of it lives
// in one arena. The Manager owns two arenas; one backs the live generation
// while the other is rebuilt. A rebuild ends with a single atomic swap.
//
// Lifecycle of an arena:
//
//	Live ──swap──▶ Retiring ──refs drained──▶ zeroed ──▶ Rebuilding ──swap──▶ Live
//
// Readers pin a generation with Acquire and unpin it with Release. The
// retired arena is zeroed only after every pin taken on it is released.
package index
