package store

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
)

const tombstonePrefix = ".trash-"

// FSBlobs keeps blobs as files below a base directory, one directory per
// namespace.
type FSBlobs struct {
	baseDir string
}

// NewFSBlobs creates the base directory if needed, checks it is writable and
// clears tombstones left by an interrupted namespace delete.
func NewFSBlobs(baseDir string) (*FSBlobs, error) {
	if strings.TrimSpace(baseDir) == "" {
		return nil, fmt.Errorf("base directory is required")
	}

	info, err := os.Stat(baseDir)
	switch {
	case errors.Is(err, fs.ErrNotExist):
		if err := os.MkdirAll(baseDir, 0o750); err != nil {
			return nil, fmt.Errorf("cannot create blob directory: %w", err)
		}
	case err != nil:
		return nil, fmt.Errorf("cannot stat blob directory: %w", err)
	case !info.IsDir():
		return nil, fmt.Errorf("blob path %s is not a directory", baseDir)
	}

	marker := filepath.Join(baseDir, ".writable_test")
	if err := os.WriteFile(marker, []byte("test"), 0o600); err != nil {
		return nil, fmt.Errorf("blob directory is not writable: %w", err)
	}
	if err := os.Remove(marker); err != nil {
		return nil, fmt.Errorf("failed to clean up test file: %w", err)
	}

	b := &FSBlobs{baseDir: baseDir}
	if err := b.clearTombstones(); err != nil {
		return nil, err
	}
	return b, nil
}

// path maps a key below baseDir and rejects traversal.
func (b *FSBlobs) path(key string) (string, error) {
	if strings.TrimSpace(key) == "" {
		return "", fmt.Errorf("key is required")
	}

	full := filepath.Clean(filepath.Join(b.baseDir, filepath.FromSlash(key)))
	base := filepath.Clean(b.baseDir)
	if !strings.HasPrefix(full, base+string(filepath.Separator)) {
		return "", fmt.Errorf("path traversal detected in %q", key)
	}
	return full, nil
}

// Put writes through a temporary file so readers never see a partial blob.
func (b *FSBlobs) Put(_ context.Context, key string, data []byte) error {
	full, err := b.path(key)
	if err != nil {
		return err
	}

	dir := filepath.Dir(full)
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return fmt.Errorf("failed to create parent directories: %w", err)
	}

	tmp, err := os.CreateTemp(dir, ".tmp-*")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmp.Name())
		return fmt.Errorf("failed to write blob: %w", err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmp.Name())
		return fmt.Errorf("failed to close blob: %w", err)
	}
	if err := os.Rename(tmp.Name(), full); err != nil {
		_ = os.Remove(tmp.Name())
		return fmt.Errorf("failed to move blob into place: %w", err)
	}
	return nil
}

func (b *FSBlobs) Get(_ context.Context, key string) ([]byte, error) {
	full, err := b.path(key)
	if err != nil {
		return nil, err
	}

	data, err := os.ReadFile(full)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("%s: %w", key, ErrBlobNotFound)
	}
	return data, err
}

func (b *FSBlobs) Delete(_ context.Context, key string) error {
	full, err := b.path(key)
	if err != nil {
		return err
	}

	if err := os.Remove(full); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("failed to delete blob: %w", err)
	}
	return nil
}

// DeleteNamespace renames the namespace directory to a tombstone, which
// removes every key from view at once, then deletes the tombstone.
func (b *FSBlobs) DeleteNamespace(_ context.Context, ns string) error {
	dir, err := b.path(ns)
	if err != nil {
		return err
	}
	if strings.Contains(ns, "/") {
		return fmt.Errorf("invalid namespace %q", ns)
	}

	if _, err := os.Stat(dir); errors.Is(err, fs.ErrNotExist) {
		return nil
	}

	tomb, err := os.MkdirTemp(b.baseDir, tombstonePrefix+ns+"-")
	if err != nil {
		return fmt.Errorf("failed to create tombstone for %s: %w", ns, err)
	}
	if err := os.Rename(dir, filepath.Join(tomb, ns)); err != nil {
		_ = os.Remove(tomb)
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("failed to retire namespace %s: %w", ns, err)
	}

	if err := os.RemoveAll(tomb); err != nil {
		return fmt.Errorf("failed to remove namespace %s: %w", ns, err)
	}
	return nil
}

func (b *FSBlobs) Namespaces(_ context.Context) ([]string, error) {
	entries, err := os.ReadDir(b.baseDir)
	if err != nil {
		return nil, fmt.Errorf("failed to list blob directory: %w", err)
	}

	var out []string
	for _, e := range entries {
		if e.IsDir() && !strings.HasPrefix(e.Name(), ".") {
			out = append(out, e.Name())
		}
	}
	return out, nil
}

func (b *FSBlobs) clearTombstones() error {
	entries, err := os.ReadDir(b.baseDir)
	if err != nil {
		return fmt.Errorf("failed to list blob directory: %w", err)
	}

	for _, e := range entries {
		if strings.HasPrefix(e.Name(), tombstonePrefix) {
			if err := os.RemoveAll(filepath.Join(b.baseDir, e.Name())); err != nil {
				return fmt.Errorf("failed to clear tombstone %s: %w", e.Name(), err)
			}
		}
	}
	return nil
}
