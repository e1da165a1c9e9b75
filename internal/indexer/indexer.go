// Package indexer turns discovered image URLs into searchable face records:
// download, blob storage, perceptual hash, identity embedding, index insert.
package indexer

import (
	"context"
	"crypto/sha256"
	"errors"
	"fmt"
	"io"
	"net/http"
	"path"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/tanmay3107/reverse-image-search/internal/embed"
	"github.com/tanmay3107/reverse-image-search/internal/faceindex"
	"github.com/tanmay3107/reverse-image-search/internal/metastore"
	"github.com/tanmay3107/reverse-image-search/internal/phash"
	"github.com/tanmay3107/reverse-image-search/internal/storage"
	"github.com/tanmay3107/reverse-image-search/internal/telemetry"
)

// maxImageBytes caps a single downloaded image.
const maxImageBytes = 32 << 20

// Outcome classifies what happened to one URL.
type Outcome string

// Per-URL pipeline outcomes.
const (
	OutcomeIndexed        Outcome = "indexed"
	OutcomeDuplicate      Outcome = "duplicate"
	OutcomeDownloadFailed Outcome = "download_failed"
	OutcomeNotImage       Outcome = "not_image"
	OutcomeNoFace         Outcome = "no_face"
	OutcomeEmbedFailed    Outcome = "embed_failed"
)

// ItemResult reports the outcome for one URL.
type ItemResult struct {
	URL     string
	Outcome Outcome
	Err     error
}

// Doer abstracts the HTTP client used for image downloads.
type Doer interface {
	Do(req *http.Request) (*http.Response, error)
}

// Options configures a Pipeline.
type Options struct {
	Index       *faceindex.Index
	Extractor   embed.Extractor
	Blobs       storage.Provider
	Records     metastore.Store
	VectorsPath string
	Prefix      string
	UserAgent   string
	HTTPClient  Doer
	Logger      *zap.Logger
}

// Pipeline ingests image URLs into the face index. It is the crawler's sink
// and is also driven directly by the reindex command.
type Pipeline struct {
	opts Options

	// mu serializes index mutation and the persistence that follows a batch.
	mu sync.Mutex
}

// New builds a Pipeline. Index and Extractor are required; the blob store
// defaults to a no-op and the HTTP client to a 30s-timeout default.
func New(opts Options) (*Pipeline, error) {
	if opts.Index == nil {
		return nil, fmt.Errorf("indexer requires an index")
	}
	if opts.Extractor == nil {
		return nil, fmt.Errorf("indexer requires an embedding extractor")
	}
	if opts.Blobs == nil {
		opts.Blobs = &storage.NoOpProvider{}
	}
	if opts.HTTPClient == nil {
		opts.HTTPClient = &http.Client{Timeout: 30 * time.Second}
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	return &Pipeline{opts: opts}, nil
}

// IngestURLs processes a batch and persists the index afterwards. Individual
// URL failures are recorded, never propagated; only persistence can fail the
// batch.
func (p *Pipeline) IngestURLs(ctx context.Context, urls []string) error {
	results := p.Process(ctx, urls)
	indexed := 0
	for _, r := range results {
		if r.Outcome == OutcomeIndexed {
			indexed++
		}
	}
	if indexed == 0 {
		return nil
	}
	return p.Persist(ctx)
}

// Process runs the pipeline over urls and returns one result per URL.
func (p *Pipeline) Process(ctx context.Context, urls []string) []ItemResult {
	results := make([]ItemResult, 0, len(urls))
	for _, rawURL := range urls {
		if err := ctx.Err(); err != nil {
			break
		}
		res := p.processOne(ctx, rawURL)
		telemetry.ObserveIndexItem(string(res.Outcome))
		if res.Err != nil {
			p.opts.Logger.Debug("image skipped",
				zap.String("url", res.URL),
				zap.String("outcome", string(res.Outcome)),
				zap.Error(res.Err),
			)
		}
		results = append(results, res)
	}
	return results
}

func (p *Pipeline) processOne(ctx context.Context, rawURL string) ItemResult {
	imageURL := fixScheme(rawURL)

	if p.opts.Index.Has(imageURL) {
		return ItemResult{URL: imageURL, Outcome: OutcomeDuplicate}
	}

	data, err := p.download(ctx, imageURL)
	if err != nil {
		return ItemResult{URL: imageURL, Outcome: OutcomeDownloadFailed, Err: err}
	}

	hash, err := phash.Compute(data)
	if err != nil {
		return ItemResult{URL: imageURL, Outcome: OutcomeNotImage, Err: err}
	}

	// The blob copy is auxiliary; losing it never blocks indexing.
	if uri, err := p.opts.Blobs.Save(ctx, p.objectName(data), data); err != nil {
		p.opts.Logger.Warn("blob save failed", zap.String("url", imageURL), zap.Error(err))
	} else if uri != "" {
		p.opts.Logger.Debug("blob saved", zap.String("uri", uri))
	}

	vector, err := p.opts.Extractor.Extract(ctx, data)
	if err != nil {
		if errors.Is(err, embed.ErrNoFace) || errors.Is(err, embed.ErrMultipleFaces) {
			return ItemResult{URL: imageURL, Outcome: OutcomeNoFace, Err: err}
		}
		return ItemResult{URL: imageURL, Outcome: OutcomeEmbedFailed, Err: err}
	}

	p.mu.Lock()
	_, err = p.opts.Index.Add(vector, faceindex.Record{URL: imageURL, PHash: hash})
	p.mu.Unlock()
	if err != nil {
		return ItemResult{URL: imageURL, Outcome: OutcomeEmbedFailed, Err: err}
	}
	return ItemResult{URL: imageURL, Outcome: OutcomeIndexed}
}

// Persist writes the vectors file and the metadata records.
func (p *Pipeline) Persist(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.opts.VectorsPath != "" {
		if err := p.opts.Index.SaveVectors(p.opts.VectorsPath); err != nil {
			return fmt.Errorf("persist vectors: %w", err)
		}
	}
	if p.opts.Records != nil {
		if err := p.opts.Records.Save(ctx, p.opts.Index.Records()); err != nil {
			return fmt.Errorf("persist records: %w", err)
		}
	}
	telemetry.SetIndexSize(p.opts.Index.Len())
	return nil
}

func (p *Pipeline) download(ctx context.Context, imageURL string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, imageURL, nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	if p.opts.UserAgent != "" {
		req.Header.Set("User-Agent", p.opts.UserAgent)
	}

	resp, err := p.opts.HTTPClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch image: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("fetch image: status %d", resp.StatusCode)
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxImageBytes+1))
	if err != nil {
		return nil, fmt.Errorf("read image body: %w", err)
	}
	if len(data) == 0 {
		return nil, fmt.Errorf("empty response body")
	}
	if len(data) > maxImageBytes {
		return nil, fmt.Errorf("image exceeds %d bytes", maxImageBytes)
	}
	return data, nil
}

// objectName keys a blob by content hash so re-downloads overwrite in place.
func (p *Pipeline) objectName(data []byte) string {
	return path.Join(p.opts.Prefix, fmt.Sprintf("%x.img", sha256.Sum256(data)))
}

// fixScheme upgrades scheme-relative URLs the way browsers resolve them on
// an https page.
func fixScheme(rawURL string) string {
	if strings.HasPrefix(rawURL, "//") {
		return "https:" + rawURL
	}
	return rawURL
}
