// Package apperr defines the error taxonomy shared by the storage readers and
// the aggregation engine.
//
// Configuration problems are reported as ErrInvalidRequest before any segment
// is read. Anything that indicates the on-disk data cannot be trusted is
// reported as ErrStorage and aborts the whole field aggregation. Failures of
// a scalar function for one key are not errors at all from the caller's point
// of view; they are attached to that key's result as a KeyError.
package apperr

import (
	"errors"
	"fmt"
)

var (
	ErrInvalidRequest = errors.New("invalid request")
	ErrStorage        = errors.New("storage error")
)

// Invalidf returns a configuration error wrapping ErrInvalidRequest.
func Invalidf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalidRequest, fmt.Sprintf(format, args...))
}

// Storagef returns a storage error wrapping ErrStorage.
func Storagef(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrStorage, fmt.Sprintf(format, args...))
}

// WrapStorage marks err as a storage failure unless it already is one.
func WrapStorage(err error, op string) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, ErrStorage) {
		return fmt.Errorf("%s: %w", op, err)
	}
	return fmt.Errorf("%w: %s: %w", ErrStorage, op, err)
}

// IsInvalid reports whether err is a configuration error.
func IsInvalid(err error) bool {
	return errors.Is(err, ErrInvalidRequest)
}

// IsStorage reports whether err is a storage error.
func IsStorage(err error) bool {
	return errors.Is(err, ErrStorage)
}

// KeyError records a function failure for a single result key.
type KeyError struct {
	Key string
	Err error
}

func (e *KeyError) Error() string {
	return fmt.Sprintf("key %q: %v", e.Key, e.Err)
}

func (e *KeyError) Unwrap() error { return e.Err }
