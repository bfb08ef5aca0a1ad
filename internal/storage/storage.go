package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
)

// ErrNotFound indicates a key that does not exist on the backend.
// Never retried.
var ErrNotFound = errors.New("storage: key not found")

// Backend is the uniform contract over local disk, object storage and
// remote-sync targets. Implementations must be safe for concurrent use by
// multiple file transfers within a single run. A failed Put must leave no
// partial object visible to List or Exists.
type Backend interface {
	Put(ctx context.Context, key string, r io.Reader) error
	Get(ctx context.Context, key string) (io.ReadCloser, error)
	List(ctx context.Context, prefix string) ([]string, error)
	Exists(ctx context.Context, key string) (bool, error)
	Delete(ctx context.Context, key string) error
	// Ping reports connectivity health. A failure is returned as a
	// *ConnectivityError.
	Ping(ctx context.Context) error
}

// ConnectivityError reports an unreachable backend.
type ConnectivityError struct {
	Backend string
	Err     error
}

func (e *ConnectivityError) Error() string {
	return fmt.Sprintf("backend %s unreachable: %v", e.Backend, e.Err)
}

func (e *ConnectivityError) Unwrap() error { return e.Err }

// TransientError marks a backend failure as retryable. Remote backends
// wrap connection resets and timeouts with it; the retry decorator treats
// everything else as permanent.
type TransientError struct {
	Err error
}

func (e *TransientError) Error() string { return e.Err.Error() }

func (e *TransientError) Unwrap() error { return e.Err }

// IsTransient reports whether err is marked retryable.
func IsTransient(err error) bool {
	var te *TransientError
	return errors.As(err, &te)
}
