package archive

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/coverdeck/coverdeck/internal/domain/port/driven"
)

// Compile-time interface satisfaction check.
var _ driven.ArchiveStore = (*Filesystem)(nil)

// Filesystem is a local-disk ArchiveStore. It backs development and
// single-node deployments; object-store backends implement the same port.
type Filesystem struct {
	root string
}

// NewFilesystem creates a filesystem archive rooted at the given directory.
func NewFilesystem(root string) (*Filesystem, error) {
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("create archive root: %w", err)
	}
	return &Filesystem{root: root}, nil
}

func (f *Filesystem) localPath(path string) string {
	return filepath.Join(f.root, filepath.FromSlash(path))
}

// Write stores data at path, creating parent directories as needed.
func (f *Filesystem) Write(ctx context.Context, path string, data []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	local := f.localPath(path)
	if err := os.MkdirAll(filepath.Dir(local), 0o755); err != nil {
		return fmt.Errorf("create archive dir for %s: %w", path, err)
	}
	if err := os.WriteFile(local, data, 0o644); err != nil {
		return fmt.Errorf("write archive blob %s: %w", path, err)
	}
	return nil
}

// Read returns the blob at path, or ErrNotFound if it does not exist.
func (f *Filesystem) Read(ctx context.Context, path string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	data, err := os.ReadFile(f.localPath(path))
	if os.IsNotExist(err) {
		return nil, fmt.Errorf("%w: %s", driven.ErrNotFound, path)
	}
	if err != nil {
		return nil, fmt.Errorf("read archive blob %s: %w", path, err)
	}
	return data, nil
}

// Delete removes the blob at path. Deleting a missing blob is not an error.
func (f *Filesystem) Delete(ctx context.Context, path string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	err := os.Remove(f.localPath(path))
	if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("delete archive blob %s: %w", path, err)
	}
	return nil
}

// DeleteMany removes all given paths, ignoring ones that never existed.
func (f *Filesystem) DeleteMany(ctx context.Context, paths []string) error {
	for _, path := range paths {
		if err := f.Delete(ctx, path); err != nil {
			return err
		}
	}
	return nil
}

// ListPrefix returns all blob paths under the given prefix.
func (f *Filesystem) ListPrefix(ctx context.Context, prefix string) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var paths []string
	err := filepath.WalkDir(f.root, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		rel, err := filepath.Rel(f.root, p)
		if err != nil {
			return err
		}
		blobPath := filepath.ToSlash(rel)
		if strings.HasPrefix(blobPath, prefix) {
			paths = append(paths, blobPath)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("list archive prefix %s: %w", prefix, err)
	}
	return paths, nil
}
