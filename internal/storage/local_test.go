package storage

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestLocalProviderSave(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	p, err := NewLocalProvider(dir)
	require.NoError(t, err)
	defer p.Close()

	uri, err := p.Save(context.Background(), "images/abc123.jpg", []byte("image-bytes"))
	require.NoError(t, err)
	require.Equal(t, "file://"+filepath.Join(dir, "images", "abc123.jpg"), uri)

	data, err := os.ReadFile(filepath.Join(dir, "images", "abc123.jpg"))
	require.NoError(t, err)
	require.Equal(t, []byte("image-bytes"), data)
}

func TestLocalProviderRejectsTraversal(t *testing.T) {
	t.Parallel()

	p, err := NewLocalProvider(t.TempDir())
	require.NoError(t, err)

	_, err = p.Save(context.Background(), "../escape.jpg", []byte("x"))
	require.Error(t, err)

	_, err = p.Save(context.Background(), "", []byte("x"))
	require.Error(t, err)
}

func TestNewLocalProviderRequiresDir(t *testing.T) {
	t.Parallel()

	_, err := NewLocalProvider("  ")
	require.Error(t, err)
}

func TestNoOpProvider(t *testing.T) {
	t.Parallel()

	p := &NoOpProvider{}
	uri, err := p.Save(context.Background(), "anything", []byte("x"))
	require.NoError(t, err)
	require.Empty(t, uri)
	require.NoError(t, p.Close())
}
