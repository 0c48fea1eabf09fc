// Package blobstore defines the WARC storage boundary used by both
// engines: open/write/size. Two implementations are provided: a local
// afero-backed store (capture side, where WARCs are first written) and an
// S3-backed store (used when the blob store itself lives in object
// storage rather than on local disk).
package blobstore

import (
	"context"
	"io"
)

// BlobStore is the storage boundary: open a path for reading, write a
// stream to a path returning its size, and report a path's size.
type BlobStore interface {
	Open(ctx context.Context, path string) (io.ReadCloser, error)
	Write(ctx context.Context, path string, r io.Reader) (int64, error)
	Size(ctx context.Context, path string) (int64, error)
}
