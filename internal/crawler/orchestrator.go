package crawler

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/tanmay3107/reverse-image-search/internal/ledger"
	"github.com/tanmay3107/reverse-image-search/internal/publisher"
	"github.com/tanmay3107/reverse-image-search/internal/ratelimit"
	"github.com/tanmay3107/reverse-image-search/internal/telemetry"
)

// Trigger rejection reasons. Both leave the previous run's state untouched.
var (
	// ErrAlreadyRunning means a crawl run is in flight; at most one runs at a time.
	ErrAlreadyRunning = errors.New("crawl already running")
	// ErrCoolingDown means the post-CAPTCHA cooldown deadline has not passed.
	ErrCoolingDown = errors.New("crawler is cooling down after CAPTCHA")
)

// Orchestrator walks the configured sources in a fixed order, pacing each
// request, diffing results against the ledger and feeding fresh URLs to the
// indexing sink. It owns the CrawlState and the Ledger exclusively.
type Orchestrator struct {
	sources []Source
	limiter *ratelimit.Limiter
	ledger  *ledger.Ledger
	sink    Sink
	state   *State
	pub     publisher.Publisher
	logger  *zap.Logger

	runMu chan struct{} // 1-slot token guaranteeing a single active run
}

// New constructs an Orchestrator. The source order given here is the crawl
// order. A nil sink or publisher is replaced with a no-op.
func New(
	sources []Source,
	limiter *ratelimit.Limiter,
	led *ledger.Ledger,
	sink Sink,
	state *State,
	pub publisher.Publisher,
	logger *zap.Logger,
) *Orchestrator {
	if sink == nil {
		sink = NoOpSink{}
	}
	if pub == nil {
		pub = &publisher.NoOpPublisher{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	o := &Orchestrator{
		sources: sources,
		limiter: limiter,
		ledger:  led,
		sink:    sink,
		state:   state,
		pub:     pub,
		logger:  logger,
		runMu:   make(chan struct{}, 1),
	}
	o.runMu <- struct{}{}
	return o
}

// State exposes the observable crawl state.
func (o *Orchestrator) State() *State {
	return o.state
}

// Snapshot returns the current crawl state snapshot.
func (o *Orchestrator) Snapshot() Snapshot {
	return o.state.Snapshot()
}

// CooldownUntil reports when the post-CAPTCHA cooldown ends, zero if none.
func (o *Orchestrator) CooldownUntil() time.Time {
	return o.limiter.BlockedUntil()
}

// Trigger starts a crawl run in the background. It rejects the trigger when a
// run is already active or the limiter cooldown still holds.
func (o *Orchestrator) Trigger(ctx context.Context) error {
	if err := o.acquire(); err != nil {
		return err
	}
	// The run outlives the triggering request.
	runCtx := context.WithoutCancel(ctx)
	go func() {
		defer o.release()
		o.run(runCtx)
	}()
	return nil
}

// Run executes a crawl run synchronously, with the same admission checks as
// Trigger.
func (o *Orchestrator) Run(ctx context.Context) error {
	if err := o.acquire(); err != nil {
		return err
	}
	defer o.release()
	o.run(ctx)
	return nil
}

func (o *Orchestrator) acquire() error {
	select {
	case <-o.runMu:
	default:
		return ErrAlreadyRunning
	}
	// The cooldown is advisory; this is the one place it is consulted.
	if o.limiter.IsBlocked() {
		o.runMu <- struct{}{}
		return ErrCoolingDown
	}
	return nil
}

func (o *Orchestrator) release() {
	o.runMu <- struct{}{}
}

// run drives one crawl pass over all sources, in order.
func (o *Orchestrator) run(ctx context.Context) {
	o.logger.Info("crawl run started", zap.Int("sources", len(o.sources)))
	o.state.beginRun()
	telemetry.IncCrawlRuns()

	for _, src := range o.sources {
		o.limiter.Wait(ctx)

		result, err := src.Crawl(ctx)
		if err != nil {
			// Collaborator failure: zero URLs, no captcha; move on.
			o.logger.Warn("source crawl failed",
				zap.String("source", src.Name()),
				zap.Error(err),
			)
			result = SourceResult{}
		}

		if result.Captcha {
			// The crawling identity is burned for every source, not just
			// this one: stop the whole run and arm the cooldown.
			o.logger.Warn("CAPTCHA detected, aborting crawl run",
				zap.String("source", src.Name()),
			)
			o.state.pause()
			o.limiter.Block()
			telemetry.IncCaptchaDetections(src.Name())
			o.publishEvent()
			return
		}

		fresh := o.ledger.Diff(result.URLs)
		o.ledger.Add(fresh)
		o.state.recordSource(src.Name(), fresh)
		telemetry.ObserveSourceCrawl(src.Name(), len(result.URLs), len(fresh))
		o.logger.Info("source crawled",
			zap.String("source", src.Name()),
			zap.Int("urls", len(result.URLs)),
			zap.Int("new", len(fresh)),
		)

		if len(fresh) > 0 {
			if err := o.sink.IngestURLs(ctx, fresh); err != nil {
				o.logger.Warn("indexing sink failed",
					zap.String("source", src.Name()),
					zap.Error(err),
				)
			}
		}
	}

	if err := o.ledger.Persist(); err != nil {
		o.logger.Error("ledger persist failed", zap.Error(err))
	}
	o.state.complete()
	o.publishEvent()
	o.logger.Info("crawl run completed",
		zap.Int("collected", len(o.state.Snapshot().CollectedURLs)),
		zap.Int("ledger_size", o.ledger.Len()),
	)
}

// crawlEvent is the payload published after every finished run.
type crawlEvent struct {
	Status          Status `json:"status"`
	CaptchaRequired bool   `json:"captcha_required"`
	LastSource      string `json:"last_source"`
	NewURLs         int    `json:"new_urls"`
}

func (o *Orchestrator) publishEvent() {
	snap := o.state.Snapshot()
	payload, err := json.Marshal(crawlEvent{
		Status:          snap.Status,
		CaptchaRequired: snap.CaptchaRequired,
		LastSource:      snap.LastSource,
		NewURLs:         len(snap.CollectedURLs),
	})
	if err != nil {
		o.logger.Warn("marshal crawl event failed", zap.Error(err))
		return
	}
	// Events are best-effort; delivery failures never affect the run.
	if err := o.pub.Publish(context.Background(), payload); err != nil {
		o.logger.Warn("publish crawl event failed", zap.Error(err))
	}
}
