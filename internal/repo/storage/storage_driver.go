package storage

import (
	"context"
	"errors"
	"io"
	"iter"

	"github.com/mkrupp/mediavault/internal/domain"
)

// ErrNotLocal is returned by AbsolutePath for drivers without a local filesystem.
var ErrNotLocal = errors.New("driver has no local path")

// Driver is the uniform contract over one physical storage backend.
// Paths are slash separated and relative to the backend root.
type Driver interface {
	// Name identifies the backend ("local", "s3") in logs and metrics.
	Name() string

	// Put stores body at path, replacing any existing object.
	// size is the exact body length; S3 requires body to be an io.ReadSeeker.
	Put(ctx context.Context, path string, body io.Reader, size int64) error

	// Get opens the object at path.
	// Returns domain.ErrObjectNotFound if the object does not exist.
	Get(ctx context.Context, path string) (io.ReadCloser, error)

	// Delete removes the object at path. Deleting a missing object is not an error.
	Delete(ctx context.Context, path string) error

	// Exists reports whether an object exists at path.
	Exists(ctx context.Context, path string) (bool, error)

	// Stat returns size and modification time of the object at path.
	// Returns domain.ErrObjectNotFound if the object does not exist.
	Stat(ctx context.Context, path string) (domain.ObjectInfo, error)

	// List lazily enumerates all objects whose path starts with prefix.
	// Iteration can be restarted by calling List again. A backend error is
	// yielded as the final element; callers must not treat it as "no objects".
	List(ctx context.Context, prefix string) iter.Seq2[domain.ObjectInfo, error]
}

// LocalPather is implemented by drivers that can expose an object as a local file,
// e.g. for http.ServeContent.
type LocalPather interface {
	AbsolutePath(path string) (string, error)
}

// AbsolutePath resolves path to a local file if the driver supports it.
func AbsolutePath(driver Driver, path string) (string, error) {
	pather, ok := driver.(LocalPather)
	if !ok {
		return "", ErrNotLocal
	}

	//nolint:wrapcheck
	return pather.AbsolutePath(path)
}
