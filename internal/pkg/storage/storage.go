// Package storage opens downloadable artifacts from local disk or an S3
// compatible bucket.
package storage

import (
	"context"
	"errors"
	"io"
	"path"
	"strings"
)

// ErrNotFound reports an artifact missing from the store.
var ErrNotFound = errors.New("storage: artifact not found")

// ArtifactStore opens artifacts by file name. The caller closes the reader.
type ArtifactStore interface {
	Open(ctx context.Context, name string) (io.ReadCloser, int64, error)
}

// cleanName rejects names that would escape the store root.
func cleanName(name string) (string, error) {
	if name == "" || strings.ContainsAny(name, "/\\") || strings.Contains(name, "..") {
		return "", errors.New("storage: invalid artifact name")
	}
	return path.Clean(name), nil
}
