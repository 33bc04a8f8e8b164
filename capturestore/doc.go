// Package capturestore persists encoded broad-phase captures.
//
// A capture is an immutable, name-addressed blob. Stores never modify a
// capture in place; a Put with an existing name replaces it atomically.
//
// Implementations:
//   - MemoryStore: in-process map, for tests and short-lived replays
//   - LocalStore: a directory on the local file system
//   - s3.Store: Amazon S3 (package capturestore/s3)
//   - minio.Store: MinIO and other S3-compatible services (package capturestore/minio)
//
// Any Store can be wrapped with NewThrottledStore to cap IO throughput.
package capturestore
