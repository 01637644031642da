package blob

import (
	"bytes"
	"context"
	"io"
	"strings"
	"testing"

	"github.com/rs/zerolog"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var pngHeader = []byte("\x89PNG\r\n\x1a\n\x00\x00\x00\rIHDR\x00\x00\x00\x01\x00\x00\x00\x01\x08\x06\x00\x00\x00\x1f\x15\xc4\x89")

func newTestStore(t *testing.T, maxBytes int64) (*Store, afero.Fs) {
	t.Helper()
	fs := afero.NewMemMapFs()
	return New(fs, maxBytes, zerolog.Nop()), fs
}

func TestPutAndOpen(t *testing.T) {
	store, fs := newTestStore(t, 0)

	ref, err := store.Put(context.Background(), bytes.NewReader(pngHeader))
	require.NoError(t, err)
	assert.True(t, ValidRef(ref))
	assert.True(t, strings.HasSuffix(ref, ".png"))

	exists, err := afero.Exists(fs, ref)
	require.NoError(t, err)
	assert.True(t, exists)

	f, info, err := store.Open(ref)
	require.NoError(t, err)
	defer func() { _ = f.Close() }()

	assert.Equal(t, "image/png", info.ContentType)
	assert.Equal(t, int64(len(pngHeader)), info.Size)

	data, err := io.ReadAll(f)
	require.NoError(t, err)
	assert.Equal(t, pngHeader, data)
}

func TestPutRejectsNonImage(t *testing.T) {
	store, _ := newTestStore(t, 0)

	_, err := store.Put(context.Background(), strings.NewReader("just some text"))
	assert.ErrorIs(t, err, ErrUnsupported)
}

func TestPutRejectsOversize(t *testing.T) {
	store, _ := newTestStore(t, 16)

	_, err := store.Put(context.Background(), bytes.NewReader(pngHeader))
	assert.ErrorIs(t, err, ErrTooLarge)
}

func TestPutRejectsEmpty(t *testing.T) {
	store, _ := newTestStore(t, 0)

	_, err := store.Put(context.Background(), bytes.NewReader(nil))
	assert.ErrorIs(t, err, ErrEmpty)
}

func TestOpenRejectsForeignRefs(t *testing.T) {
	store, fs := newTestStore(t, 0)
	require.NoError(t, afero.WriteFile(fs, "secret.txt", []byte("x"), 0o644))

	for _, ref := range []string{
		"",
		"secret.txt",
		"../etc/passwd",
		"a/b.png",
		"6ba7b810-9dad-11d1-80b4-00c04fd430c8.png", // v1 uuid
		"0b7c3a5e-8f2d-4c1a-9e3b-2d5f6a7b8c9d/../x",
		"0B7C3A5E-8F2D-4C1A-9E3B-2D5F6A7B8C9D.png",
	} {
		_, _, err := store.Open(ref)
		assert.ErrorIs(t, err, ErrInvalidRef, "ref %q", ref)
	}
}

func TestOpenMissing(t *testing.T) {
	store, _ := newTestStore(t, 0)

	_, _, err := store.Open("0b7c3a5e-8f2d-4c1a-9e3b-2d5f6a7b8c9d.png")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestDelete(t *testing.T) {
	store, fs := newTestStore(t, 0)

	ref, err := store.Put(context.Background(), bytes.NewReader(pngHeader))
	require.NoError(t, err)

	require.NoError(t, store.Delete(ref))
	exists, err := afero.Exists(fs, ref)
	require.NoError(t, err)
	assert.False(t, exists)

	// Second delete is a no-op
	assert.NoError(t, store.Delete(ref))
	assert.ErrorIs(t, store.Delete("../x"), ErrInvalidRef)
}

func TestPutHonoursCancelledContext(t *testing.T) {
	store, _ := newTestStore(t, 0)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := store.Put(ctx, bytes.NewReader(pngHeader))
	assert.ErrorIs(t, err, context.Canceled)
}
