// Package s3 provides an Amazon S3 implementation of capturestore.Store.
//
// Captures are written through the SDK's multipart upload manager and read
// back with a single GetObject call.
package s3
