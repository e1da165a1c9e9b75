// Package crawler drives the sequential multi-source image crawl: pacing,
// CAPTCHA handling, cross-run URL deduplication and the observable run state.
package crawler

import "context"

// Status represents the lifecycle state of a crawl run.
type Status string

// Crawl run states. "paused" and "completed" are terminal for the run; a
// fresh external trigger is required to start another.
const (
	StatusIdle      Status = "idle"
	StatusRunning   Status = "running"
	StatusPaused    Status = "paused"
	StatusCompleted Status = "completed"
)

// SourceResult is what one crawl source returns. A CAPTCHA flag means the
// whole crawling identity is compromised, not just this source.
type SourceResult struct {
	URLs    []string
	Captcha bool
}

// Source produces candidate image URLs for one provider. Implementations
// are stateless per call and swallow their own fetch/parse failures; the
// returned error is reserved for conditions worth logging, and the
// orchestrator treats it as "zero URLs, no captcha".
type Source interface {
	Name() string
	Crawl(ctx context.Context) (SourceResult, error)
}

// Sink receives each source's freshly discovered URLs. Ingestion is additive
// and idempotent by URL; a sink failure never aborts the crawl run.
type Sink interface {
	IngestURLs(ctx context.Context, urls []string) error
}

// NoOpSink discards discovered URLs.
type NoOpSink struct{}

// IngestURLs discards the batch.
func (NoOpSink) IngestURLs(_ context.Context, _ []string) error { return nil }
