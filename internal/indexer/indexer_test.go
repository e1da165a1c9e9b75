package indexer

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/color"
	"image/png"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/tanmay3107/reverse-image-search/internal/embed"
	"github.com/tanmay3107/reverse-image-search/internal/faceindex"
	"github.com/tanmay3107/reverse-image-search/internal/metastore"
)

type fakeExtractor struct {
	vector []float32
	err    error
}

func (f *fakeExtractor) Extract(_ context.Context, _ []byte) ([]float32, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.vector, nil
}

func testPNG(t *testing.T) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, 8, 8))
	for y := 0; y < 8; y++ {
		for x := 0; x < 8; x++ {
			img.Set(x, y, color.RGBA{R: uint8(x * 30), G: uint8(y * 30), B: 128, A: 255})
		}
	}
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

func newTestPipeline(t *testing.T, ext embed.Extractor, handler http.Handler) (*Pipeline, *faceindex.Index, *httptest.Server, string) {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	idx := faceindex.New(4)
	dir := t.TempDir()
	records, err := metastore.NewFileStore(filepath.Join(dir, "records.json"))
	require.NoError(t, err)

	p, err := New(Options{
		Index:       idx,
		Extractor:   ext,
		Records:     records,
		VectorsPath: filepath.Join(dir, "vectors.idx"),
		Prefix:      "images",
	})
	require.NoError(t, err)
	return p, idx, srv, dir
}

func TestIngestIndexesImage(t *testing.T) {
	t.Parallel()

	pic := testPNG(t)
	ext := &fakeExtractor{vector: []float32{1, 0, 0, 0}}
	p, idx, srv, dir := newTestPipeline(t, ext, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write(pic)
	}))

	url := srv.URL + "/a.png"
	require.NoError(t, p.IngestURLs(context.Background(), []string{url}))

	require.Equal(t, 1, idx.Len())
	require.True(t, idx.Has(url))
	rec, ok := idx.Record(0)
	require.True(t, ok)
	require.Equal(t, url, rec.URL)
	require.NotEmpty(t, rec.PHash)

	// Both persistence artifacts exist after the batch.
	_, err := os.Stat(filepath.Join(dir, "vectors.idx"))
	require.NoError(t, err)
	_, err = os.Stat(filepath.Join(dir, "records.json"))
	require.NoError(t, err)
}

func TestProcessSkipsAlreadyIndexedURL(t *testing.T) {
	t.Parallel()

	pic := testPNG(t)
	ext := &fakeExtractor{vector: []float32{0, 1, 0, 0}}
	calls := 0
	p, idx, srv, _ := newTestPipeline(t, ext, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.Write(pic)
	}))

	url := srv.URL + "/a.png"
	require.NoError(t, p.IngestURLs(context.Background(), []string{url}))
	results := p.Process(context.Background(), []string{url})

	require.Equal(t, OutcomeDuplicate, results[0].Outcome)
	require.Equal(t, 1, idx.Len())
	require.Equal(t, 1, calls)
}

func TestProcessOutcomes(t *testing.T) {
	t.Parallel()

	pic := testPNG(t)

	t.Run("download failed", func(t *testing.T) {
		t.Parallel()
		ext := &fakeExtractor{vector: []float32{1, 0, 0, 0}}
		p, _, srv, _ := newTestPipeline(t, ext, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			http.NotFound(w, r)
		}))
		results := p.Process(context.Background(), []string{srv.URL + "/missing.png"})
		require.Equal(t, OutcomeDownloadFailed, results[0].Outcome)
		require.Error(t, results[0].Err)
	})

	t.Run("not an image", func(t *testing.T) {
		t.Parallel()
		ext := &fakeExtractor{vector: []float32{1, 0, 0, 0}}
		p, _, srv, _ := newTestPipeline(t, ext, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Write([]byte("<html>not a picture</html>"))
		}))
		results := p.Process(context.Background(), []string{srv.URL + "/page"})
		require.Equal(t, OutcomeNotImage, results[0].Outcome)
	})

	t.Run("no face", func(t *testing.T) {
		t.Parallel()
		ext := &fakeExtractor{err: embed.ErrNoFace}
		p, idx, srv, _ := newTestPipeline(t, ext, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Write(pic)
		}))
		results := p.Process(context.Background(), []string{srv.URL + "/landscape.png"})
		require.Equal(t, OutcomeNoFace, results[0].Outcome)
		require.Equal(t, 0, idx.Len())
	})

	t.Run("embed server failure", func(t *testing.T) {
		t.Parallel()
		ext := &fakeExtractor{err: errors.New("model server down")}
		p, idx, srv, _ := newTestPipeline(t, ext, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Write(pic)
		}))
		results := p.Process(context.Background(), []string{srv.URL + "/a.png"})
		require.Equal(t, OutcomeEmbedFailed, results[0].Outcome)
		require.Equal(t, 0, idx.Len())
	})
}

func TestIngestSkipsPersistWhenNothingIndexed(t *testing.T) {
	t.Parallel()

	ext := &fakeExtractor{vector: []float32{1, 0, 0, 0}}
	p, _, srv, dir := newTestPipeline(t, ext, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	}))

	require.NoError(t, p.IngestURLs(context.Background(), []string{srv.URL + "/gone.png"}))

	_, err := os.Stat(filepath.Join(dir, "vectors.idx"))
	require.True(t, os.IsNotExist(err))
}

func TestFixScheme(t *testing.T) {
	t.Parallel()

	require.Equal(t, "https://cdn.example.com/a.jpg", fixScheme("//cdn.example.com/a.jpg"))
	require.Equal(t, "http://cdn.example.com/a.jpg", fixScheme("http://cdn.example.com/a.jpg"))
}
