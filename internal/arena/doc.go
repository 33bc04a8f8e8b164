// Package arena provides the off-heap allocator behind every index generation.
//
// All memory comes from anonymous mmap chunks, so a generation of several
// hundred megabytes adds no garbage-collector scan work.
//
// # Element Types
//
// Only Trivial types may be placed in an arena: fixed-size numeric words and
// word arrays. They hold no Go pointers and have nothing to release, which is
// what makes Reset a complete reclamation.
//
// # Reclamation
//
// Nothing allocated from an arena is ever freed on its own. Reset waits until
// the reference count drops to zero, zeroes every used byte and rewinds the
// chunks for reuse. Free unmaps the chunks and ends the arena's life.
//
// # Budget
//
// WithMaxBytes and WithMemoryAcquirer bound how much memory the arena may
// reserve. Hitting either bound fails the allocation with an error instead of
// growing.
package arena
