package storage

import (
	"context"
	"errors"
	"io"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newLocalT(t *testing.T) *Local {
	t.Helper()
	l, err := NewLocal(t.TempDir())
	require.NoError(t, err)
	return l
}

func TestLocal_PutGetRoundTrip(t *testing.T) {
	l := newLocalT(t)
	ctx := context.Background()

	require.NoError(t, l.Put(ctx, "blobs/b1/events/photo.jpg", strings.NewReader("image bytes")))

	rc, err := l.Get(ctx, "blobs/b1/events/photo.jpg")
	require.NoError(t, err)
	defer rc.Close()
	data, err := io.ReadAll(rc)
	require.NoError(t, err)
	assert.Equal(t, "image bytes", string(data))
}

func TestLocal_GetMissingKey(t *testing.T) {
	l := newLocalT(t)

	_, err := l.Get(context.Background(), "manifests/nope.json")
	assert.ErrorIs(t, err, ErrNotFound)
}

// A failed Put must leave no partial object visible.
func TestLocal_FailedPutInvisible(t *testing.T) {
	l := newLocalT(t)
	ctx := context.Background()

	failing := io.MultiReader(strings.NewReader("partial"), &errReader{})
	require.Error(t, l.Put(ctx, "blobs/b1/broken.jpg", failing))

	ok, err := l.Exists(ctx, "blobs/b1/broken.jpg")
	require.NoError(t, err)
	assert.False(t, ok)

	keys, err := l.List(ctx, "blobs/")
	require.NoError(t, err)
	assert.Empty(t, keys)
}

func TestLocal_ListByPrefix(t *testing.T) {
	l := newLocalT(t)
	ctx := context.Background()

	require.NoError(t, l.Put(ctx, "manifests/m1.json", strings.NewReader("{}")))
	require.NoError(t, l.Put(ctx, "blobs/m1/a.jpg", strings.NewReader("a")))
	require.NoError(t, l.Put(ctx, "blobs/m1/b.jpg", strings.NewReader("b")))

	keys, err := l.List(ctx, "blobs/")
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"blobs/m1/a.jpg", "blobs/m1/b.jpg"}, keys)

	keys, err = l.List(ctx, "manifests/")
	require.NoError(t, err)
	assert.Equal(t, []string{"manifests/m1.json"}, keys)
}

func TestLocal_DeleteIdempotent(t *testing.T) {
	l := newLocalT(t)
	ctx := context.Background()

	require.NoError(t, l.Put(ctx, "blobs/x", strings.NewReader("x")))
	require.NoError(t, l.Delete(ctx, "blobs/x"))
	require.NoError(t, l.Delete(ctx, "blobs/x"))
}

func TestLocal_Ping(t *testing.T) {
	l := newLocalT(t)
	assert.NoError(t, l.Ping(context.Background()))
}

type errReader struct{}

func (*errReader) Read([]byte) (int, error) { return 0, errors.New("source failed") }
