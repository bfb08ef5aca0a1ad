package storage

import (
	"context"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/the-luap/picpeak-backup/internal/config"
)

// retryBackend decorates a remote backend with exponential backoff on
// transient failures. Retry policy lives here and only here; call sites
// never retry. Local backends are not wrapped: local I/O failures are
// immediately fatal.
type retryBackend struct {
	inner  Backend
	policy config.RetryConfig
}

// WithRetry wraps a backend in the centralized retry policy.
func WithRetry(inner Backend, policy config.RetryConfig) Backend {
	return &retryBackend{inner: inner, policy: policy}
}

func (r *retryBackend) newBackOff(ctx context.Context) backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = r.policy.InitialInterval
	b.MaxInterval = r.policy.MaxInterval
	b.MaxElapsedTime = 0 // bounded by attempt count, not wall clock
	attempts := r.policy.MaxAttempts
	if attempts < 1 {
		attempts = 1
	}
	return backoff.WithContext(backoff.WithMaxRetries(b, uint64(attempts-1)), ctx)
}

// retry runs op under the backoff policy. Transient failures are retried
// until attempts exhaust; permanent failures (auth, not-found) return
// immediately.
func (r *retryBackend) retry(ctx context.Context, op func() error) error {
	return backoff.Retry(func() error {
		err := op()
		if err == nil {
			return nil
		}
		if IsTransient(err) {
			return err
		}
		return backoff.Permanent(err)
	}, r.newBackOff(ctx))
}

// Put rewinds the source and replays it on each attempt. A one-shot
// stream is first staged to a temp file: retrying a half-consumed
// reader would upload truncated data.
func (r *retryBackend) Put(ctx context.Context, key string, reader io.Reader) error {
	seeker, ok := reader.(io.Seeker)
	if !ok {
		tmp, err := os.CreateTemp("", "upload-*")
		if err != nil {
			return fmt.Errorf("stage upload for %s: %w", key, err)
		}
		defer os.Remove(tmp.Name())
		defer tmp.Close()

		if _, err := io.Copy(tmp, reader); err != nil {
			return fmt.Errorf("stage upload for %s: %w", key, err)
		}
		reader = tmp
		seeker = tmp
	}
	return r.retry(ctx, func() error {
		if _, err := seeker.Seek(0, io.SeekStart); err != nil {
			return backoff.Permanent(err)
		}
		return r.inner.Put(ctx, key, reader)
	})
}

func (r *retryBackend) Get(ctx context.Context, key string) (io.ReadCloser, error) {
	var rc io.ReadCloser
	err := r.retry(ctx, func() error {
		var err error
		rc, err = r.inner.Get(ctx, key)
		return err
	})
	return rc, err
}

func (r *retryBackend) List(ctx context.Context, prefix string) ([]string, error) {
	var keys []string
	err := r.retry(ctx, func() error {
		var err error
		keys, err = r.inner.List(ctx, prefix)
		return err
	})
	return keys, err
}

func (r *retryBackend) Exists(ctx context.Context, key string) (bool, error) {
	var ok bool
	err := r.retry(ctx, func() error {
		var err error
		ok, err = r.inner.Exists(ctx, key)
		return err
	})
	return ok, err
}

func (r *retryBackend) Delete(ctx context.Context, key string) error {
	return r.retry(ctx, func() error {
		return r.inner.Delete(ctx, key)
	})
}

// Ping is a health probe; one attempt with a short deadline.
func (r *retryBackend) Ping(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()
	return r.inner.Ping(ctx)
}
