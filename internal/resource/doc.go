// Package resource governs the shared budgets of a broad phase.
//
// A Controller manages three resources:
//
//   - Memory: arena chunks are charged against MemoryLimitBytes. A request
//     larger than the whole limit fails at once; otherwise it waits until
//     the context expires.
//   - Background slots: rebuilds hold a slot for their duration, so at most
//     MaxBackgroundWorkers rebuilds run at the same time.
//   - IO: capture uploads and downloads are throttled by a token bucket.
//
// The Controller satisfies arena.MemoryAcquirer:
//
//	rc := resource.NewController(resource.Config{MemoryLimitBytes: 256 << 20})
//	a := arena.New(arena.WithMemoryAcquirer(rc))
//
// All methods are safe for concurrent use and on a nil *Controller, which
// tracks nothing and limits nothing.
package resource
