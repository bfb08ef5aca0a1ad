package storage

import (
	"context"
	"errors"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/the-luap/picpeak-backup/internal/config"
)

// flakyBackend fails a fixed number of times before succeeding.
type flakyBackend struct {
	failures int
	err      error
	calls    int
	lastBody string
}

func (f *flakyBackend) attempt() error {
	f.calls++
	if f.calls <= f.failures {
		return f.err
	}
	return nil
}

func (f *flakyBackend) Put(ctx context.Context, key string, r io.Reader) error {
	if err := f.attempt(); err != nil {
		io.Copy(io.Discard, r) // consume like a real upload would
		return err
	}
	data, err := io.ReadAll(r)
	if err != nil {
		return err
	}
	f.lastBody = string(data)
	return nil
}

func (f *flakyBackend) Get(ctx context.Context, key string) (io.ReadCloser, error) {
	if err := f.attempt(); err != nil {
		return nil, err
	}
	return io.NopCloser(strings.NewReader("payload")), nil
}

func (f *flakyBackend) List(ctx context.Context, prefix string) ([]string, error) {
	return nil, f.attempt()
}

func (f *flakyBackend) Exists(ctx context.Context, key string) (bool, error) {
	return false, f.attempt()
}

func (f *flakyBackend) Delete(ctx context.Context, key string) error {
	return f.attempt()
}

func (f *flakyBackend) Ping(ctx context.Context) error {
	return f.attempt()
}

func fastRetry(inner Backend) Backend {
	return WithRetry(inner, config.RetryConfig{
		MaxAttempts:     5,
		InitialInterval: time.Millisecond,
		MaxInterval:     5 * time.Millisecond,
	})
}

func TestRetry_TransientFailuresEventuallySucceed(t *testing.T) {
	inner := &flakyBackend{failures: 2, err: &TransientError{Err: errors.New("connection reset")}}
	b := fastRetry(inner)

	_, err := b.Get(context.Background(), "manifests/m1.json")
	require.NoError(t, err)
	assert.Equal(t, 3, inner.calls)
}

func TestRetry_PermanentFailureNotRetried(t *testing.T) {
	inner := &flakyBackend{failures: 10, err: errors.New("access denied")}
	b := fastRetry(inner)

	_, err := b.Get(context.Background(), "manifests/m1.json")
	require.Error(t, err)
	assert.Equal(t, 1, inner.calls)
}

func TestRetry_AttemptsExhausted(t *testing.T) {
	inner := &flakyBackend{failures: 10, err: &TransientError{Err: errors.New("timeout")}}
	b := fastRetry(inner)

	err := b.Delete(context.Background(), "blobs/x")
	require.Error(t, err)
	assert.True(t, IsTransient(err))
	assert.Equal(t, 5, inner.calls)
}

// A seekable body is rewound and replayed on each attempt, so the
// successful upload carries the full content.
func TestRetry_PutRewindsSeekableBody(t *testing.T) {
	inner := &flakyBackend{failures: 1, err: &TransientError{Err: errors.New("timeout")}}
	b := fastRetry(inner)

	err := b.Put(context.Background(), "blobs/x", strings.NewReader("full content"))
	require.NoError(t, err)
	assert.Equal(t, 2, inner.calls)
	assert.Equal(t, "full content", inner.lastBody)
}

// A one-shot stream is staged to disk first, so transient failures are
// retried and the successful attempt still carries the full content.
func TestRetry_PutStagesOneShotStream(t *testing.T) {
	inner := &flakyBackend{failures: 2, err: &TransientError{Err: errors.New("timeout")}}
	b := fastRetry(inner)

	var stream io.Reader = io.NopCloser(strings.NewReader("stream content"))
	err := b.Put(context.Background(), "blobs/x", stream)
	require.NoError(t, err)
	assert.Equal(t, 3, inner.calls)
	assert.Equal(t, "stream content", inner.lastBody)
}
