package utils

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidateKey(t *testing.T) {
	assert.NoError(t, ValidateKey("avatars/p1/a.png"))
	for _, bad := range []string{"", "/abs", "../x", "a/../../b", "a//b", `a\b`, "a/./b"} {
		assert.ErrorIs(t, ValidateKey(bad), ErrBadKey, bad)
	}
}

func TestLocalStore_Put(t *testing.T) {
	dir := t.TempDir()
	store, err := NewLocalStore(filepath.Join(dir, "uploads"), "/uploads/")
	require.NoError(t, err)

	url, err := store.Put(context.Background(), "archives/s1.json", []byte(`{"ok":true}`), "application/json")
	require.NoError(t, err)
	assert.Equal(t, "/uploads/archives/s1.json", url)

	data, err := os.ReadFile(filepath.Join(dir, "uploads", "archives", "s1.json"))
	require.NoError(t, err)
	assert.JSONEq(t, `{"ok":true}`, string(data))
}

func TestLocalStore_RejectsTraversal(t *testing.T) {
	store, err := NewLocalStore(t.TempDir(), "/uploads")
	require.NoError(t, err)

	_, err = store.Put(context.Background(), "../escape.txt", []byte("x"), "text/plain")
	assert.ErrorIs(t, err, ErrBadKey)
}
