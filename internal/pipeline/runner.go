// Package pipeline runs the clip stages for one URL (or a batch of URLs):
// fetch, wrapper rewrite, conversion, asset resolution and import.
package pipeline

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/famotime/siyuan-scripts/internal/clipper"
	"github.com/famotime/siyuan-scripts/internal/metrics"
	"github.com/famotime/siyuan-scripts/internal/progress"
)

// EventCompleted is published once per outcome.
const EventCompleted = "clip.completed"

// PageFetcher retrieves and decodes a page.
type PageFetcher interface {
	Fetch(ctx context.Context, rawURL string, timeout time.Duration, headers http.Header) (clipper.FetchResult, error)
}

// Rewriter detects wrapper pages that point at a canonical article.
type Rewriter interface {
	Inspect(pageURL, text string) (clipper.CanonicalTarget, bool)
}

// Converter turns decoded HTML into a draft.
type Converter interface {
	Convert(ctx context.Context, pageURL, page string) (clipper.DocumentDraft, error)
}

// AssetResolver downloads and stores embedded media.
type AssetResolver interface {
	Resolve(ctx context.Context, refs []clipper.AssetReference, limit int) (clipper.AssetMap, clipper.AssetReport)
}

// Importer writes the finished document.
type Importer interface {
	Import(ctx context.Context, draft clipper.DocumentDraft, assets clipper.AssetMap, target clipper.Target) (clipper.ImportArtifact, error)
	Send(ctx context.Context, artifact clipper.ImportArtifact) (clipper.ImportArtifact, error)
}

// Config controls Runner behavior.
type Config struct {
	Concurrency int
	PageTimeout time.Duration
	Headers     http.Header
	// Progress receives stage events. Optional.
	Progress progress.Emitter
}

// Stages groups the stage implementations a Runner drives.
type Stages struct {
	Fetcher   PageFetcher
	Rewriter  Rewriter
	Converter Converter
	Resolver  AssetResolver
	Importer  Importer
}

// Runner orchestrates clip runs. Each run owns its state, so a Runner may be
// shared by concurrent callers.
type Runner struct {
	stages    Stages
	retry     clipper.RetryPolicy
	recorder  clipper.OutcomeRecorder
	publisher clipper.Publisher
	ids       clipper.IDGenerator
	clock     clipper.Clock
	cfg       Config
	logger    *zap.Logger
}

// New constructs a Runner. recorder, publisher and retry are optional.
func New(
	stages Stages,
	retry clipper.RetryPolicy,
	recorder clipper.OutcomeRecorder,
	publisher clipper.Publisher,
	ids clipper.IDGenerator,
	clock clipper.Clock,
	cfg Config,
	logger *zap.Logger,
) *Runner {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 1
	}
	if cfg.PageTimeout <= 0 {
		cfg.PageTimeout = time.Minute
	}
	return &Runner{
		stages:    stages,
		retry:     retry,
		recorder:  recorder,
		publisher: publisher,
		ids:       ids,
		clock:     clock,
		cfg:       cfg,
		logger:    logger,
	}
}

// Run clips one URL into the folder named by target.Path.
func (r *Runner) Run(ctx context.Context, rawURL string, target clipper.Target) clipper.Outcome {
	metrics.IncActiveRuns()
	defer metrics.DecActiveRuns()

	outcome := r.begin(rawURL)
	logger := r.logger.With(zap.String("run_id", outcome.RunID), zap.String("url", rawURL))

	// Pages are fetched exactly as given; the normalized form is for logs.
	normalized, err := clipper.NormalizeURL(rawURL)
	if err != nil {
		return r.finish(ctx, outcome, target, 0, &clipper.NetworkError{URL: rawURL, Err: err})
	}
	logger = logger.With(zap.String("normalized_url", normalized))

	pageCtx, cancel := context.WithTimeout(ctx, r.cfg.PageTimeout)
	page, canonical, draft, err := r.preparePage(pageCtx, outcome.RunID, strings.TrimSpace(rawURL), logger)
	cancel()
	outcome.FinalURL = page.FinalURL
	outcome.Canonical = canonical
	if err != nil {
		return r.finish(ctx, outcome, target, len(page.Raw), err)
	}
	outcome.Strategy = draft.Strategy
	metrics.ObserveStrategy(draft.Strategy)

	started := r.clock.Now()
	assets, report := r.stages.Resolver.Resolve(ctx, draft.Assets, 0)
	outcome.Assets = report
	r.emit(progress.Event{
		RunID: outcome.RunID,
		Stage: progress.StageAssets,
		URL:   page.FinalURL,
		Dur:   r.since(started),
		Note:  fmt.Sprintf("%d/%d resolved", report.ResolvedCount(), len(report)),
	})

	docTarget := clipper.Target{
		Notebook: target.Notebook,
		Path:     clipper.JoinPath(target.Path, clipper.DocumentName(draft.Title)),
	}
	started = r.clock.Now()
	artifact, err := r.stages.Importer.Import(ctx, draft, assets, docTarget)
	outcome.Artifact = &artifact
	outcome.StorePath = artifact.Target.Path
	outcome.DocumentID = artifact.DocumentID
	if err == nil {
		r.emit(progress.Event{
			RunID: outcome.RunID,
			Stage: progress.StageImported,
			URL:   page.FinalURL,
			Dur:   r.since(started),
			Note:  artifact.Target.Path,
		})
	}
	return r.finish(ctx, outcome, target, len(page.Raw), err)
}

// preparePage fetches the page, follows a wrapper to its canonical article
// at most once, and converts the result.
func (r *Runner) preparePage(
	ctx context.Context,
	runID string,
	rawURL string,
	logger *zap.Logger,
) (clipper.FetchResult, *clipper.CanonicalTarget, clipper.DocumentDraft, error) {
	page, err := r.fetchWithRetry(ctx, runID, rawURL)
	if err != nil {
		return clipper.FetchResult{FinalURL: rawURL}, nil, clipper.DocumentDraft{}, err
	}

	var canonical *clipper.CanonicalTarget
	if r.stages.Rewriter != nil {
		if target, ok := r.stages.Rewriter.Inspect(page.FinalURL, page.Text); ok {
			logger.Info("wrapper page points at canonical article",
				zap.String("resolved_url", target.ResolvedURL),
				zap.String("source", target.Source),
			)
			resolved, fetchErr := r.fetchWithRetry(ctx, runID, target.ResolvedURL)
			if fetchErr != nil {
				metrics.ObserveFallback("canonical")
				logger.Warn("canonical fetch failed, keeping wrapper page", zap.Error(fetchErr))
			} else {
				page = resolved
				canonical = &target
				r.emit(progress.Event{
					RunID: runID,
					Stage: progress.StageCanonical,
					URL:   target.OriginalURL,
					Note:  target.ResolvedURL,
				})
			}
		}
	}

	started := r.clock.Now()
	draft, err := r.stages.Converter.Convert(ctx, page.FinalURL, page.Text)
	if err != nil {
		return page, canonical, clipper.DocumentDraft{}, err
	}
	r.emit(progress.Event{
		RunID: runID,
		Stage: progress.StageConverted,
		URL:   page.FinalURL,
		Dur:   r.since(started),
		Note:  draft.Strategy,
	})
	return page, canonical, draft, nil
}

func (r *Runner) fetchWithRetry(ctx context.Context, runID, rawURL string) (clipper.FetchResult, error) {
	for attempt := 1; ; attempt++ {
		started := r.clock.Now()
		page, err := r.stages.Fetcher.Fetch(ctx, rawURL, 0, r.cfg.Headers)
		if err == nil {
			r.emit(progress.Event{
				RunID:       runID,
				Stage:       progress.StageFetched,
				Site:        metrics.SanitizeSite(page.FinalURL),
				URL:         page.FinalURL,
				Bytes:       int64(len(page.Raw)),
				StatusClass: progress.ClassifyStatus(page.StatusCode),
				Dur:         r.since(started),
			})
			return page, nil
		}
		if r.retry == nil || ctx.Err() != nil || !r.retry.ShouldRetry(err, attempt) {
			return clipper.FetchResult{}, err
		}
		delay := r.retry.Backoff(attempt)
		r.logger.Debug("retrying fetch",
			zap.String("url", rawURL),
			zap.Int("attempt", attempt),
			zap.Duration("backoff", delay),
			zap.Error(err),
		)
		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return clipper.FetchResult{}, err
		case <-timer.C:
		}
	}
}

// RunBatch clips urls with bounded concurrency. Outcomes keep input order.
func (r *Runner) RunBatch(ctx context.Context, urls []string, target clipper.Target) []clipper.Outcome {
	outcomes := make([]clipper.Outcome, len(urls))
	var g errgroup.Group
	g.SetLimit(r.cfg.Concurrency)
	for i, u := range urls {
		g.Go(func() error {
			outcomes[i] = r.Run(ctx, u, target)
			return nil
		})
	}
	_ = g.Wait()
	return outcomes
}

// Resubmit re-sends an artifact retained from an ImportError without
// fetching anything.
func (r *Runner) Resubmit(ctx context.Context, artifact clipper.ImportArtifact) clipper.Outcome {
	outcome := r.begin(artifact.SourceURL)
	outcome.FinalURL = artifact.SourceURL
	for locator, asset := range artifact.Assets {
		outcome.Assets = append(outcome.Assets, clipper.AssetResult{Locator: locator, LocalID: asset.ID})
	}

	sent, err := r.stages.Importer.Send(ctx, artifact)
	outcome.Artifact = &sent
	outcome.StorePath = sent.Target.Path
	outcome.DocumentID = sent.DocumentID
	folder := clipper.Target{Notebook: artifact.Target.Notebook}
	return r.finish(ctx, outcome, folder, 0, err)
}

func (r *Runner) begin(rawURL string) clipper.Outcome {
	runID, err := r.ids.NewID()
	if err != nil {
		runID = fmt.Sprintf("run-%d", r.clock.Now().UnixNano())
		r.logger.Warn("id generation failed, using timestamp id", zap.Error(err))
	}
	outcome := clipper.Outcome{RunID: runID, URL: rawURL, StartedAt: r.clock.Now()}
	r.emit(progress.Event{RunID: runID, Stage: progress.StageRunStart, URL: rawURL})
	return outcome
}

func (r *Runner) emit(evt progress.Event) {
	if r.cfg.Progress == nil {
		return
	}
	if evt.TS.IsZero() {
		evt.TS = r.clock.Now()
	}
	r.cfg.Progress.Emit(evt)
}

func (r *Runner) since(t time.Time) time.Duration {
	if d := r.clock.Now().Sub(t); d > 0 {
		return d
	}
	return 0
}

// finish derives the status, then records, publishes and counts the outcome.
func (r *Runner) finish(
	ctx context.Context,
	outcome clipper.Outcome,
	target clipper.Target,
	bytesFetched int,
	err error,
) clipper.Outcome {
	outcome.FinishedAt = r.clock.Now()
	outcome.Status, outcome.Reason = deriveStatus(outcome.Assets, err)
	outcome.Err = err

	fields := []zap.Field{
		zap.String("run_id", outcome.RunID),
		zap.String("url", outcome.URL),
		zap.String("status", string(outcome.Status)),
		zap.String("store_path", outcome.StorePath),
		zap.Int("assets_total", len(outcome.Assets)),
		zap.Int("assets_resolved", outcome.Assets.ResolvedCount()),
		zap.Duration("duration", outcome.FinishedAt.Sub(outcome.StartedAt)),
	}
	if err != nil {
		r.logger.Error("clip failed", append(fields, zap.Error(err))...)
	} else {
		r.logger.Info("clip finished", fields...)
	}

	// Record and publish even when ctx was cancelled.
	bookCtx := context.WithoutCancel(ctx)
	if r.recorder != nil {
		if recErr := r.recorder.RecordOutcome(bookCtx, outcome.Record(target)); recErr != nil {
			r.logger.Error("record outcome failed", zap.String("run_id", outcome.RunID), zap.Error(recErr))
		}
	}
	if r.publisher != nil {
		if _, pubErr := r.publisher.Publish(bookCtx, EventCompleted, outcome); pubErr != nil {
			r.logger.Error("publish outcome failed", zap.String("run_id", outcome.RunID), zap.Error(pubErr))
		}
	}
	metrics.ObservePage(metrics.SanitizeSite(outcome.URL), string(outcome.Status), bytesFetched)

	final := progress.Event{
		RunID: outcome.RunID,
		Stage: progress.StageRunDone,
		URL:   outcome.URL,
		Dur:   outcome.FinishedAt.Sub(outcome.StartedAt),
		Note:  string(outcome.Status),
	}
	if outcome.Status == clipper.StatusFailed {
		final.Stage = progress.StageRunError
		final.Note = outcome.Reason
	}
	r.emit(final)
	return outcome
}

func deriveStatus(report clipper.AssetReport, err error) (clipper.Status, string) {
	switch {
	case err != nil:
		return clipper.StatusFailed, clipper.Reason(err)
	case len(report.Failed()) > 0:
		failed := report.Failed()
		return clipper.StatusPartial, fmt.Sprintf("%d of %d assets left remote: %s",
			len(failed), len(report), clipper.Reason(failed[0].Err))
	default:
		return clipper.StatusSucceeded, ""
	}
}
