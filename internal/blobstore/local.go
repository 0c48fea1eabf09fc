package blobstore

import (
	"context"
	"io"

	"github.com/spf13/afero"
)

// Local is an afero-backed BlobStore rooted at a base directory, used by
// the Capture Engine to stage WARCs before replication picks them up.
type Local struct {
	fs   afero.Fs
	base string
}

// NewLocal returns a Local BlobStore rooted at baseDir on the OS
// filesystem.
func NewLocal(baseDir string) *Local {
	return &Local{fs: afero.NewOsFs(), base: baseDir}
}

// NewLocalWithFs allows injecting an in-memory afero.Fs for tests.
func NewLocalWithFs(fs afero.Fs, baseDir string) *Local {
	return &Local{fs: fs, base: baseDir}
}

func (l *Local) fullPath(path string) string {
	return l.base + "/" + path
}

func (l *Local) Open(ctx context.Context, path string) (io.ReadCloser, error) {
	return l.fs.Open(l.fullPath(path))
}

func (l *Local) Write(ctx context.Context, path string, r io.Reader) (int64, error) {
	if err := l.fs.MkdirAll(l.base, 0o755); err != nil {
		return 0, err
	}

	f, err := l.fs.Create(l.fullPath(path))
	if err != nil {
		return 0, err
	}
	defer f.Close()

	n, err := io.Copy(f, r)
	if err != nil {
		return n, err
	}
	return n, nil
}

func (l *Local) Size(ctx context.Context, path string) (int64, error) {
	info, err := l.fs.Stat(l.fullPath(path))
	if err != nil {
		return 0, err
	}
	return info.Size(), nil
}
