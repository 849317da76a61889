package storage

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDiskStoreSave(t *testing.T) {
	dir := t.TempDir()
	store, err := NewDiskStore(dir, "/media/")
	require.NoError(t, err)

	url, err := store.Save("photo.png", strings.NewReader("blob"))
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(url, "/media/"), url)
	assert.True(t, strings.HasSuffix(url, ".png"), url)

	data, err := os.ReadFile(filepath.Join(dir, filepath.Base(url)))
	require.NoError(t, err)
	assert.Equal(t, "blob", string(data))
}

func TestDiskStoreIgnoresPathInName(t *testing.T) {
	dir := t.TempDir()
	store, err := NewDiskStore(dir, "/media")
	require.NoError(t, err)

	url, err := store.Save("../../etc/passwd", strings.NewReader("x"))
	require.NoError(t, err)

	// The object lands inside the store directory regardless of the name.
	_, err = os.Stat(filepath.Join(dir, filepath.Base(url)))
	assert.NoError(t, err)
}

func TestDiskStoreUniqueNames(t *testing.T) {
	store, err := NewDiskStore(t.TempDir(), "/media")
	require.NoError(t, err)

	a, err := store.Save("a.jpg", strings.NewReader("1"))
	require.NoError(t, err)
	b, err := store.Save("a.jpg", strings.NewReader("2"))
	require.NoError(t, err)
	assert.NotEqual(t, a, b)
}
