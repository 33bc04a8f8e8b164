// Package minio provides a capturestore.Store for MinIO and other
// S3-compatible object stores.
package minio
