package fs

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/tendant/matbox/pkg/matbox"
)

// Backend is a filesystem implementation of the matbox.BlobStore interface.
// Objects are sharded by the first two characters of their key:
//
//	<base>/
//	  ab/
//	    abcdef0123...   (content files, named by hash)
type Backend struct {
	baseDir string
}

// Config options for the filesystem backend
type Config struct {
	BaseDir string // Base directory for storing files
}

// New creates a new filesystem storage backend
func New(config Config) (*Backend, error) {
	if config.BaseDir == "" {
		return nil, errors.New("base directory is required")
	}

	if err := os.MkdirAll(config.BaseDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create base directory: %w", err)
	}

	return &Backend{baseDir: config.BaseDir}, nil
}

// UploadIfAbsent writes content to a temp file and hard-links it into place.
// The link fails if the destination exists, which makes the
// check-and-create atomic across processes sharing the directory.
func (b *Backend) UploadIfAbsent(ctx context.Context, objectKey string, reader io.Reader, size int64) (bool, error) {
	destPath, err := b.path(objectKey)
	if err != nil {
		return false, err
	}

	if _, err := os.Stat(destPath); err == nil {
		return false, nil
	}

	dir := filepath.Dir(destPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return false, fmt.Errorf("failed to create directory: %w", err)
	}

	tmpFile, err := os.CreateTemp(dir, ".tmp-*")
	if err != nil {
		return false, fmt.Errorf("failed to create temp file: %w", err)
	}
	tmpPath := tmpFile.Name()
	defer os.Remove(tmpPath)

	written, err := io.Copy(tmpFile, reader)
	if err != nil {
		tmpFile.Close()
		return false, fmt.Errorf("failed to write file: %w", err)
	}
	if err := tmpFile.Sync(); err != nil {
		tmpFile.Close()
		return false, fmt.Errorf("failed to sync file: %w", err)
	}
	if err := tmpFile.Close(); err != nil {
		return false, fmt.Errorf("failed to close temp file: %w", err)
	}
	if written != size {
		return false, fmt.Errorf("size mismatch: expected %d bytes, got %d", size, written)
	}

	if err := os.Link(tmpPath, destPath); err != nil {
		if errors.Is(err, os.ErrExist) {
			return false, nil
		}
		return false, fmt.Errorf("failed to link file: %w", err)
	}

	return true, nil
}

// Download downloads content directly from the filesystem
func (b *Backend) Download(ctx context.Context, objectKey string) (io.ReadCloser, error) {
	filePath, err := b.path(objectKey)
	if err != nil {
		return nil, err
	}

	file, err := os.Open(filePath)
	if os.IsNotExist(err) {
		return nil, matbox.ErrBlobNotFound
	} else if err != nil {
		return nil, fmt.Errorf("failed to open file: %w", err)
	}

	return file, nil
}

// GetObjectMeta retrieves metadata for an object in the filesystem
func (b *Backend) GetObjectMeta(ctx context.Context, objectKey string) (*matbox.ObjectMeta, error) {
	filePath, err := b.path(objectKey)
	if err != nil {
		return nil, err
	}

	info, err := os.Stat(filePath)
	if os.IsNotExist(err) {
		return nil, matbox.ErrBlobNotFound
	} else if err != nil {
		return nil, fmt.Errorf("failed to get file info: %w", err)
	}

	return &matbox.ObjectMeta{
		Key:       objectKey,
		Size:      info.Size(),
		UpdatedAt: info.ModTime(),
	}, nil
}

// path maps a key to its sharded location. Keys are flat names.
func (b *Backend) path(objectKey string) (string, error) {
	if objectKey == "" || objectKey == "." || objectKey == ".." ||
		strings.ContainsAny(objectKey, `/\`) {
		return "", fmt.Errorf("invalid object key: %q", objectKey)
	}
	shard := objectKey
	if len(shard) > 2 {
		shard = shard[:2]
	}
	return filepath.Join(b.baseDir, shard, objectKey), nil
}

var _ matbox.BlobStore = (*Backend)(nil)
