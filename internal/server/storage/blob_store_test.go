package storage

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newTestStore(t *testing.T) *LocalBlobStore {
	t.Helper()
	store, err := NewLocalBlobStore(t.TempDir(), zap.NewNop())
	require.NoError(t, err)
	return store
}

func TestBlobStoreSaveAndRead(t *testing.T) {
	store := newTestStore(t)

	require.NoError(t, store.Save("RC-ABC123-20250101", []byte("image bytes"), "image/png"))

	content, contentType, err := store.Read("RC-ABC123-20250101")
	require.NoError(t, err)
	assert.Equal(t, []byte("image bytes"), content)
	assert.Equal(t, "image/png", contentType)
}

func TestBlobStoreReadMissing(t *testing.T) {
	store := newTestStore(t)

	_, _, err := store.Read("missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestBlobStoreDelete(t *testing.T) {
	store := newTestStore(t)

	require.NoError(t, store.Save("evidence-RC-1", []byte("pdf"), "application/pdf"))
	require.NoError(t, store.Delete("evidence-RC-1"))

	_, _, err := store.Read("evidence-RC-1")
	assert.ErrorIs(t, err, ErrNotFound)

	// Deleting again is not an error.
	assert.NoError(t, store.Delete("evidence-RC-1"))
}

func TestBlobStoreRejectsTraversalKeys(t *testing.T) {
	store := newTestStore(t)

	tests := []struct {
		name string
		key  string
	}{
		{"empty", ""},
		{"slash", "a/b"},
		{"backslash", `a\b`},
		{"dotdot", ".."},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Error(t, store.Save(tt.key, []byte("x"), "text/plain"))
		})
	}
}

func TestBlobStoreOverwrite(t *testing.T) {
	store := newTestStore(t)

	require.NoError(t, store.Save("k", []byte("first"), "image/jpeg"))
	require.NoError(t, store.Save("k", []byte("second"), "image/png"))

	content, contentType, err := store.Read("k")
	require.NoError(t, err)
	assert.Equal(t, []byte("second"), content)
	assert.Equal(t, "image/png", contentType)
}
