package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"iter"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/mkrupp/mediavault/internal/domain"
	"github.com/mkrupp/mediavault/internal/infra/logging"
)

// ErrBytesWrittenMismatch is returned when fewer or more bytes than announced were stored.
var ErrBytesWrittenMismatch = errors.New("bytes written mismatch")

const (
	localDriverName = "local"
	tempFilePrefix  = ".mv-tmp-"
)

// LocalDriverConfig holds configuration for the filesystem-based driver.
type LocalDriverConfig struct {
	// Root is the directory all object paths are relative to
	Root string `env:"ROOT" default:"var/storage/media"`
}

// LocalDriver implements Driver on the local filesystem.
// Writes go to a temp file in the target directory and are renamed into place,
// so readers never observe partial objects.
type LocalDriver struct {
	root string
	log  logging.Logger
}

var (
	_ Driver      = (*LocalDriver)(nil)
	_ LocalPather = (*LocalDriver)(nil)
)

// NewLocalDriver creates the root directory if needed and returns a driver rooted there.
func NewLocalDriver(ctx context.Context, cfg LocalDriverConfig) (driver *LocalDriver, err error) {
	log := logging.GetLogger("repo.storage.local_driver").With(
		logging.Group("storage", "root", cfg.Root),
	)

	defer func() {
		if err != nil {
			log.ErrorContext(ctx, "init storage failed", "error", err)
		} else {
			log.DebugContext(ctx, "init storage")
		}
	}()

	root, err := filepath.Abs(cfg.Root)
	if err != nil {
		return nil, fmt.Errorf("abs root: %w", err)
	}

	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("mkdir all: %w", err)
	}

	return &LocalDriver{root: root, log: log}, nil
}

// Name implements Driver.
func (d *LocalDriver) Name() string {
	return localDriverName
}

// AbsolutePath implements LocalPather.
func (d *LocalDriver) AbsolutePath(objectPath string) (string, error) {
	return d.resolve(objectPath)
}

// resolve maps an object path to a filesystem path below root, rejecting
// anything that would escape it.
func (d *LocalDriver) resolve(objectPath string) (string, error) {
	if objectPath == "" || strings.ContainsRune(objectPath, 0) || strings.Contains(objectPath, "\\") {
		return "", fmt.Errorf("%w: %q", domain.ErrInvalidPath, objectPath)
	}

	cleaned := path.Clean(objectPath)
	if path.IsAbs(cleaned) || cleaned == "." || cleaned == ".." || strings.HasPrefix(cleaned, "../") {
		return "", fmt.Errorf("%w: %q", domain.ErrInvalidPath, objectPath)
	}

	full := filepath.Join(d.root, filepath.FromSlash(cleaned))
	if !strings.HasPrefix(full, d.root+string(os.PathSeparator)) {
		return "", fmt.Errorf("%w: %q", domain.ErrInvalidPath, objectPath)
	}

	return full, nil
}

// Put implements Driver.
func (d *LocalDriver) Put(ctx context.Context, objectPath string, body io.Reader, size int64) (err error) {
	log := d.log.With(logging.Group("object", "path", objectPath, "size", size))

	defer func() {
		if err != nil {
			log.ErrorContext(ctx, "object put failed", "error", err)
		} else {
			log.DebugContext(ctx, "object stored")
		}
	}()

	filename, err := d.resolve(objectPath)
	if err != nil {
		return err
	}

	if err := os.MkdirAll(filepath.Dir(filename), 0o755); err != nil {
		return fmt.Errorf("mkdir all: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(filename), tempFilePrefix+"*")
	if err != nil {
		return fmt.Errorf("create temp: %w", err)
	}

	committed := false

	defer func() {
		if !committed {
			_ = tmp.Close()
			_ = os.Remove(tmp.Name())
		}
	}()

	written, err := io.Copy(tmp, contextReader{ctx: ctx, r: body})
	if err != nil {
		return fmt.Errorf("write: %w", err)
	}

	if size >= 0 && written != size {
		return fmt.Errorf("%w: expected %d, got %d", ErrBytesWrittenMismatch, size, written)
	}

	if err := tmp.Sync(); err != nil {
		return fmt.Errorf("sync: %w", err)
	}

	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close: %w", err)
	}

	if err := os.Chmod(tmp.Name(), 0o644); err != nil {
		return fmt.Errorf("chmod: %w", err)
	}

	if err := os.Rename(tmp.Name(), filename); err != nil {
		return fmt.Errorf("rename: %w", err)
	}

	committed = true

	return nil
}

// Get implements Driver.
func (d *LocalDriver) Get(_ context.Context, objectPath string) (io.ReadCloser, error) {
	filename, err := d.resolve(objectPath)
	if err != nil {
		return nil, err
	}

	file, err := os.Open(filename)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			err = errors.Join(domain.ErrObjectNotFound, err)
		}

		return nil, fmt.Errorf("open: %w", err)
	}

	return file, nil
}

// Delete implements Driver. Emptied parent directories are pruned up to the root.
func (d *LocalDriver) Delete(ctx context.Context, objectPath string) (err error) {
	defer func() {
		if err != nil {
			d.log.ErrorContext(ctx, "object delete failed", "path", objectPath, "error", err)
		} else {
			d.log.DebugContext(ctx, "object deleted", "path", objectPath)
		}
	}()

	filename, err := d.resolve(objectPath)
	if err != nil {
		return err
	}

	if err := os.Remove(filename); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}

		return fmt.Errorf("remove: %w", err)
	}

	for dir := filepath.Dir(filename); dir != d.root && strings.HasPrefix(dir, d.root); dir = filepath.Dir(dir) {
		if os.Remove(dir) != nil {
			break // not empty
		}
	}

	return nil
}

// Exists implements Driver.
func (d *LocalDriver) Exists(ctx context.Context, objectPath string) (bool, error) {
	if _, err := d.Stat(ctx, objectPath); err != nil {
		if errors.Is(err, domain.ErrObjectNotFound) {
			return false, nil
		}

		return false, err
	}

	return true, nil
}

// Stat implements Driver.
func (d *LocalDriver) Stat(_ context.Context, objectPath string) (domain.ObjectInfo, error) {
	filename, err := d.resolve(objectPath)
	if err != nil {
		return domain.ObjectInfo{}, err
	}

	info, err := os.Stat(filename)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			err = errors.Join(domain.ErrObjectNotFound, err)
		}

		return domain.ObjectInfo{}, fmt.Errorf("stat: %w", err)
	}

	if info.IsDir() {
		return domain.ObjectInfo{}, fmt.Errorf("stat: %w: %q is a directory", domain.ErrObjectNotFound, objectPath)
	}

	return domain.ObjectInfo{Path: path.Clean(objectPath), Size: info.Size(), ModTime: info.ModTime()}, nil
}

// List implements Driver. In-flight temp files are never listed.
func (d *LocalDriver) List(ctx context.Context, prefix string) iter.Seq2[domain.ObjectInfo, error] {
	return func(yield func(domain.ObjectInfo, error) bool) {
		start := d.root

		if dir := listStartDir(prefix); dir != "" {
			resolved, err := d.resolve(dir)
			if err != nil {
				yield(domain.ObjectInfo{}, err)

				return
			}

			start = resolved
		}

		if _, err := os.Stat(start); errors.Is(err, fs.ErrNotExist) {
			return
		}

		stopped := false

		err := filepath.WalkDir(start, func(filename string, entry fs.DirEntry, err error) error {
			if err != nil {
				return err
			}

			if err := ctx.Err(); err != nil {
				return err
			}

			if entry.IsDir() || strings.HasPrefix(entry.Name(), tempFilePrefix) {
				return nil
			}

			rel, err := filepath.Rel(d.root, filename)
			if err != nil {
				return fmt.Errorf("rel: %w", err)
			}

			objectPath := filepath.ToSlash(rel)
			if !strings.HasPrefix(objectPath, prefix) {
				return nil
			}

			info, err := entry.Info()
			if err != nil {
				if errors.Is(err, fs.ErrNotExist) {
					return nil // deleted while walking
				}

				return fmt.Errorf("info: %w", err)
			}

			if !yield(domain.ObjectInfo{Path: objectPath, Size: info.Size(), ModTime: info.ModTime()}, nil) {
				stopped = true

				return fs.SkipAll
			}

			return nil
		})
		if err != nil && !stopped {
			yield(domain.ObjectInfo{}, fmt.Errorf("walk %q: %w", prefix, err))
		}
	}
}

// listStartDir returns the deepest directory that contains every path with the prefix.
func listStartDir(prefix string) string {
	if prefix == "" {
		return ""
	}

	if strings.HasSuffix(prefix, "/") {
		return strings.TrimSuffix(prefix, "/")
	}

	if dir := path.Dir(prefix); dir != "." {
		return dir
	}

	return ""
}

// contextReader aborts a copy once the context is cancelled.
type contextReader struct {
	ctx context.Context //nolint:containedctx
	r   io.Reader
}

func (cr contextReader) Read(p []byte) (int, error) {
	if err := cr.ctx.Err(); err != nil {
		return 0, err
	}

	//nolint:wrapcheck
	return cr.r.Read(p)
}
