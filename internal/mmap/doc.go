// Package mmap provides off-heap memory for the arena and read-only file
// mappings for stored captures.
//
// # Anonymous Mappings
//
// MapAnon returns a private read-write region outside the Go heap. Arena
// chunks live in these regions so that a large index generation does not add
// to garbage-collector scan work, and so that the region can be zeroed and
// reused across rebuilds without ever being handed back to the allocator.
//
// # File Mappings
//
// Open maps a file read-only. It is used by the local capture store to load
// a capture without copying it through a read buffer.
//
// # Platform Support
//
//   - Unix: mmap(2), with madvise(2) for access hints
//   - Windows: VirtualAlloc for anonymous memory, MapViewOfFile for files
//     (access hints are a no-op)
package mmap
