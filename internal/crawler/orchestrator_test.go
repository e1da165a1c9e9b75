package crawler

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/tanmay3107/reverse-image-search/internal/ledger"
	"github.com/tanmay3107/reverse-image-search/internal/publisher"
	"github.com/tanmay3107/reverse-image-search/internal/ratelimit"
)

type fakeSource struct {
	name    string
	result  SourceResult
	err     error
	calls   int
	started chan struct{} // closed on first Crawl, when non-nil
	release chan struct{} // Crawl blocks on this, when non-nil
}

func (s *fakeSource) Name() string { return s.name }

func (s *fakeSource) Crawl(_ context.Context) (SourceResult, error) {
	s.calls++
	if s.started != nil && s.calls == 1 {
		close(s.started)
	}
	if s.release != nil {
		<-s.release
	}
	return s.result, s.err
}

type recordingSink struct {
	mu      sync.Mutex
	batches [][]string
	err     error
}

func (s *recordingSink) IngestURLs(_ context.Context, urls []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := make([]string, len(urls))
	copy(cp, urls)
	s.batches = append(s.batches, cp)
	return s.err
}

func (s *recordingSink) all() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []string
	for _, b := range s.batches {
		out = append(out, b...)
	}
	return out
}

func newTestOrchestrator(t *testing.T, sources []Source, sink Sink) (*Orchestrator, *ledger.Ledger, *publisher.MemoryPublisher, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "ledger.txt")
	led, err := ledger.Open(path)
	require.NoError(t, err)
	limiter := ratelimit.New(ratelimit.Config{Delay: 0, Cooldown: time.Hour})
	pub := publisher.NewMemoryPublisher()
	o := New(sources, limiter, led, sink, NewState(), pub, zap.NewNop())
	return o, led, pub, path
}

func TestRunVisitsSourcesInOrder(t *testing.T) {
	t.Parallel()

	a := &fakeSource{name: "yahoo", result: SourceResult{URLs: []string{"https://a/1.jpg", "https://a/2.jpg"}}}
	b := &fakeSource{name: "flickr", result: SourceResult{URLs: []string{"https://b/3.jpg"}}}
	sink := &recordingSink{}
	o, led, pub, path := newTestOrchestrator(t, []Source{a, b}, sink)

	require.NoError(t, o.Run(context.Background()))

	require.Equal(t, 1, a.calls)
	require.Equal(t, 1, b.calls)

	snap := o.State().Snapshot()
	require.Equal(t, StatusCompleted, snap.Status)
	require.Equal(t, "flickr", snap.LastSource)
	require.Equal(t, []string{"https://a/1.jpg", "https://a/2.jpg", "https://b/3.jpg"}, snap.CollectedURLs)
	require.Equal(t, snap.CollectedURLs, sink.all())
	require.Equal(t, 3, led.Len())

	// The ledger file was written after the pass.
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	require.Contains(t, string(data), "https://a/1.jpg\n")

	msgs := pub.Messages()
	require.Len(t, msgs, 1)
	var ev map[string]any
	require.NoError(t, json.Unmarshal(msgs[0], &ev))
	require.Equal(t, "completed", ev["status"])
	require.Equal(t, false, ev["captcha_required"])
	require.Equal(t, float64(3), ev["new_urls"])
}

func TestRunSkipsKnownURLs(t *testing.T) {
	t.Parallel()

	src := &fakeSource{name: "yahoo", result: SourceResult{URLs: []string{"https://a/1.jpg", "https://a/2.jpg"}}}
	sink := &recordingSink{}
	o, led, _, _ := newTestOrchestrator(t, []Source{src}, sink)

	require.NoError(t, o.Run(context.Background()))
	require.NoError(t, o.Run(context.Background()))

	// The second run rediscovered the same URLs but none were fresh.
	require.Equal(t, 2, src.calls)
	require.Equal(t, 2, led.Len())
	require.Equal(t, []string{"https://a/1.jpg", "https://a/2.jpg"}, sink.all())
	require.Empty(t, o.State().Snapshot().CollectedURLs)
	require.Equal(t, StatusCompleted, o.State().Status())
}

func TestCaptchaAbortsWholeRun(t *testing.T) {
	t.Parallel()

	a := &fakeSource{name: "yahoo", result: SourceResult{URLs: []string{"https://a/1.jpg"}}}
	b := &fakeSource{name: "flickr", result: SourceResult{Captcha: true}}
	c := &fakeSource{name: "wikimedia", result: SourceResult{URLs: []string{"https://c/9.jpg"}}}
	sink := &recordingSink{}
	o, led, pub, path := newTestOrchestrator(t, []Source{a, b, c}, sink)

	require.NoError(t, o.Run(context.Background()))

	// Sources after the CAPTCHA are never touched.
	require.Equal(t, 1, a.calls)
	require.Equal(t, 1, b.calls)
	require.Equal(t, 0, c.calls)

	snap := o.State().Snapshot()
	require.Equal(t, StatusPaused, snap.Status)
	require.True(t, snap.CaptchaRequired)
	require.Equal(t, "yahoo", snap.LastSource)
	require.Equal(t, []string{"https://a/1.jpg"}, snap.CollectedURLs)

	// Earlier sources' URLs stay in memory but the file is not rewritten.
	require.True(t, led.Contains("https://a/1.jpg"))
	_, err := os.Stat(path)
	require.True(t, os.IsNotExist(err))

	// The paused event still goes out.
	msgs := pub.Messages()
	require.Len(t, msgs, 1)
	var ev map[string]any
	require.NoError(t, json.Unmarshal(msgs[0], &ev))
	require.Equal(t, "paused", ev["status"])
	require.Equal(t, true, ev["captcha_required"])

	// And the cooldown now rejects the next trigger.
	require.ErrorIs(t, o.Run(context.Background()), ErrCoolingDown)
}

func TestSourceErrorTreatedAsEmpty(t *testing.T) {
	t.Parallel()

	a := &fakeSource{name: "yahoo", err: errors.New("boom")}
	b := &fakeSource{name: "flickr", result: SourceResult{URLs: []string{"https://b/3.jpg"}}}
	sink := &recordingSink{}
	o, _, _, _ := newTestOrchestrator(t, []Source{a, b}, sink)

	require.NoError(t, o.Run(context.Background()))

	require.Equal(t, StatusCompleted, o.State().Status())
	require.Equal(t, []string{"https://b/3.jpg"}, sink.all())
}

func TestSinkFailureDoesNotAbortRun(t *testing.T) {
	t.Parallel()

	src := &fakeSource{name: "yahoo", result: SourceResult{URLs: []string{"https://a/1.jpg"}}}
	sink := &recordingSink{err: errors.New("pipeline down")}
	o, led, _, _ := newTestOrchestrator(t, []Source{src}, sink)

	require.NoError(t, o.Run(context.Background()))

	require.Equal(t, StatusCompleted, o.State().Status())
	require.Equal(t, 1, led.Len())
}

func TestTriggerRejectsConcurrentRun(t *testing.T) {
	t.Parallel()

	src := &fakeSource{
		name:    "yahoo",
		result:  SourceResult{URLs: []string{"https://a/1.jpg"}},
		started: make(chan struct{}),
		release: make(chan struct{}),
	}
	o, _, _, _ := newTestOrchestrator(t, []Source{src}, &recordingSink{})

	require.NoError(t, o.Trigger(context.Background()))
	<-src.started

	require.ErrorIs(t, o.Trigger(context.Background()), ErrAlreadyRunning)
	require.Equal(t, StatusRunning, o.State().Status())

	close(src.release)
	require.Eventually(t, func() bool {
		return o.State().Status() == StatusCompleted
	}, 2*time.Second, 10*time.Millisecond)

	// A fresh trigger is accepted once the run finished.
	require.NoError(t, o.Run(context.Background()))
}
