package metastore

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/tanmay3107/reverse-image-search/internal/faceindex"
)

func TestFileStoreRoundTrip(t *testing.T) {
	t.Parallel()

	store, err := NewFileStore(filepath.Join(t.TempDir(), "nested", "faces.json"))
	require.NoError(t, err)
	defer store.Close()

	ctx := context.Background()

	records := []faceindex.Record{
		{URL: "https://img.example/a.jpg", PHash: "00ff00ff00ff00ff"},
		{URL: "https://img.example/b.jpg"},
	}
	require.NoError(t, store.Save(ctx, records))

	loaded, err := store.Load(ctx)
	require.NoError(t, err)
	require.Equal(t, records, loaded)
}

func TestFileStoreLoadMissingFile(t *testing.T) {
	t.Parallel()

	store, err := NewFileStore(filepath.Join(t.TempDir(), "absent.json"))
	require.NoError(t, err)

	loaded, err := store.Load(context.Background())
	require.NoError(t, err)
	require.Empty(t, loaded)
}

func TestFileStoreSaveOverwrites(t *testing.T) {
	t.Parallel()

	store, err := NewFileStore(filepath.Join(t.TempDir(), "faces.json"))
	require.NoError(t, err)

	ctx := context.Background()
	require.NoError(t, store.Save(ctx, []faceindex.Record{{URL: "https://img.example/old.jpg"}}))
	require.NoError(t, store.Save(ctx, []faceindex.Record{
		{URL: "https://img.example/new1.jpg"},
		{URL: "https://img.example/new2.jpg"},
	}))

	loaded, err := store.Load(ctx)
	require.NoError(t, err)
	require.Len(t, loaded, 2)
	require.Equal(t, "https://img.example/new1.jpg", loaded[0].URL)
}

func TestNewFileStoreRequiresPath(t *testing.T) {
	t.Parallel()

	_, err := NewFileStore("")
	require.Error(t, err)
}
