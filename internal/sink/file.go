// Package sink provides the file output used when a request streams its
// body to disk instead of memory.
//
// This package is internal to httppool. A [File] writes into a temporary
// file next to the destination and renames it into place on Close, so a
// reader never observes a half-written download. Abort discards the
// temporary file.
package sink

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
)

// ErrClosed is returned when writing to a committed or aborted File.
var ErrClosed = errors.New("sink closed")

// File is an atomic file sink.
type File struct {
	path string
	tmp  *os.File
	n    int64
	done bool
}

// Create opens a temporary file in path's directory, creating parent
// directories as needed.
func Create(path string) (*File, error) {
	if path == "" {
		return nil, errors.New("empty output path")
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create output directory: %w", err)
	}

	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".*.part")
	if err != nil {
		return nil, fmt.Errorf("failed to create temporary file: %w", err)
	}

	return &File{path: path, tmp: tmp}, nil
}

// Write appends p to the temporary file.
func (f *File) Write(p []byte) (int, error) {
	if f.done {
		return 0, ErrClosed
	}
	n, err := f.tmp.Write(p)
	f.n += int64(n)
	return n, err
}

// Close syncs the temporary file and renames it to the destination path.
// Close after Close or Abort is a no-op.
func (f *File) Close() error {
	if f.done {
		return nil
	}
	f.done = true

	if err := f.tmp.Sync(); err != nil {
		f.discard()
		return fmt.Errorf("failed to sync output: %w", err)
	}
	if err := f.tmp.Close(); err != nil {
		_ = os.Remove(f.tmp.Name())
		return fmt.Errorf("failed to close output: %w", err)
	}
	if err := os.Rename(f.tmp.Name(), f.path); err != nil {
		_ = os.Remove(f.tmp.Name())
		return fmt.Errorf("failed to move output into place: %w", err)
	}
	return nil
}

// Abort removes the temporary file and leaves the destination untouched.
func (f *File) Abort() error {
	if f.done {
		return nil
	}
	f.done = true
	return f.discard()
}

// Path returns the destination path.
func (f *File) Path() string {
	return f.path
}

// Written returns the number of bytes written so far.
func (f *File) Written() int64 {
	return f.n
}

func (f *File) discard() error {
	_ = f.tmp.Close()
	if err := os.Remove(f.tmp.Name()); err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}
	return nil
}
