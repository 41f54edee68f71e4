package storage

import (
	"context"
	"errors"
)

var (
	// ErrNotFound is returned when a requested path does not exist in storage.
	ErrNotFound = errors.New("not found")
	// ErrConflict is returned by Swap when the object changed between read and write.
	ErrConflict = errors.New("conflicting write")
	// ErrUnavailable marks failures of the backing store itself. Callers may retry.
	ErrUnavailable = errors.New("storage unavailable")
)

// SwapFunc receives the current object (nil when it does not exist) and returns
// the bytes to store. Returning an error aborts the swap without writing.
type SwapFunc func(current []byte) ([]byte, error)

// Storage provides an abstraction over key-value style file storage.
type Storage interface {
	Read(ctx context.Context, path string) ([]byte, error)
	Write(ctx context.Context, path string, data []byte) error
	Delete(ctx context.Context, path string) error
	List(ctx context.Context, prefix string) ([]string, error)
	Exists(ctx context.Context, path string) (bool, error)
	// Swap atomically replaces the object at path with the result of fn.
	// Implementations guarantee that no other Write or Swap on the same path
	// lands between the read handed to fn and the write of its result.
	Swap(ctx context.Context, path string, fn SwapFunc) error
}
