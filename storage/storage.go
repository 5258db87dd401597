// Package storage abstracts the byte-level storage backing the local
// package store: NAR archives. Narinfo metadata lives in the key/value
// store in package store, not here.
package storage

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
)

// Storage is the blob storage capability used by the Store Gateway to
// read and write NAR archives.
type Storage interface {
	// Stat reports the size of filename, or exists=false if it is absent.
	Stat(ctx context.Context, filename string) (size int64, exists bool, err error)

	// Get opens filename for reading. The caller must close the reader.
	Get(ctx context.Context, filename string) (r io.ReadCloser, exists bool, err error)

	// Put opens filename for writing, creating or truncating it. The
	// caller must close the writer to complete the write.
	Put(ctx context.Context, filename string) (w io.WriteCloser, err error)
}

var _ Storage = (*FileSystem)(nil)

// FileSystem implements Storage using the local filesystem.
type FileSystem struct {
	basePath string
}

// NewFileSystem creates a new FileSystem storage backend rooted at basePath.
func NewFileSystem(basePath string) *FileSystem {
	return &FileSystem{basePath: basePath}
}

func (fs *FileSystem) Stat(_ context.Context, filename string) (size int64, exists bool, err error) {
	info, err := os.Stat(filepath.Join(fs.basePath, filename))
	if err != nil {
		if os.IsNotExist(err) {
			return 0, false, nil
		}
		return 0, false, err
	}
	return info.Size(), true, nil
}

func (fs *FileSystem) Get(_ context.Context, filename string) (r io.ReadCloser, exists bool, err error) {
	file, err := os.Open(filepath.Join(fs.basePath, filename))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, false, nil
		}
		return nil, false, err
	}
	return file, true, nil
}

func (fs *FileSystem) Put(_ context.Context, filename string) (w io.WriteCloser, err error) {
	fullPath := filepath.Join(fs.basePath, filename)
	if err := os.MkdirAll(filepath.Dir(fullPath), 0755); err != nil {
		return nil, fmt.Errorf("failed to create directory: %w", err)
	}
	file, err := os.Create(fullPath)
	if err != nil {
		return nil, fmt.Errorf("failed to create file: %w", err)
	}
	return file, nil
}
