package cerr

import (
	"errors"
	"fmt"

	"github.com/kazz187/taskdesk/pkg/storage"
)

func WrapStorageReadError(target string, err error) error {
	if errors.Is(err, storage.ErrNotFound) {
		return NewError(NotFound, fmt.Sprintf("%s not found", target), err)
	}
	return wrapStorageError(fmt.Errorf("failed to read %s: %w", target, err))
}

func WrapStorageWriteError(target string, err error) error {
	return wrapStorageError(fmt.Errorf("failed to write %s: %w", target, err))
}

func WrapStorageDeleteError(target string, err error) error {
	if errors.Is(err, storage.ErrNotFound) {
		return NewError(NotFound, fmt.Sprintf("%s not found", target), err)
	}
	return wrapStorageError(fmt.Errorf("failed to delete %s: %w", target, err))
}

func wrapStorageError(err error) error {
	if errors.Is(err, storage.ErrUnavailable) {
		return NewError(Unavailable, "store unavailable", err)
	}
	return NewError(Internal, "server error", err)
}
