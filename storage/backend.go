// Package storage abstracts the file store underneath a table's meta folder.
// All timeline coordination reduces to CreateIfAbsent: the store must reject
// a second create of the same path, which gives writers a compare-and-swap
// primitive over an otherwise eventually-consistent backend.
package storage

import (
	"errors"
	"fmt"
)

// ErrAlreadyExists is returned by CreateIfAbsent when the target path is
// already present. Callers treat it as "lost the race", not as failure.
var ErrAlreadyExists = errors.New("storage: path already exists")

// ErrNotExist is returned by Read/Delete/Rename when the source path is absent.
var ErrNotExist = errors.New("storage: path does not exist")

// Backend is the minimal surface the timeline needs from a file store.
type Backend interface {
	// List returns the file names (not full paths) directly under dir,
	// excluding subdirectories. A missing dir yields an empty list.
	List(dir string) ([]string, error)
	Exists(path string) (bool, error)
	MkdirAll(path string) error
	// CreateIfAbsent atomically creates path with data, failing with
	// ErrAlreadyExists if any writer got there first.
	CreateIfAbsent(path string, data []byte) error
	// WriteAtomic writes data so that concurrent readers observe either the
	// previous content or the full new content, never a prefix.
	WriteAtomic(path string, data []byte) error
	Read(path string) ([]byte, error)
	Append(path string, data []byte) error
	Rename(oldPath, newPath string) error
	Delete(path string) error
}

// TransientError marks a storage failure as retryable (timeouts, throttling).
// The retrying decorator backs off and re-issues the operation; anything not
// wrapped in TransientError is surfaced immediately.
type TransientError struct {
	Err error
}

func (e *TransientError) Error() string {
	return fmt.Sprintf("transient storage error: %v", e.Err)
}

func (e *TransientError) Unwrap() error { return e.Err }

// IsTransient reports whether err is retryable by the storage layer.
func IsTransient(err error) bool {
	var te *TransientError
	return errors.As(err, &te)
}
