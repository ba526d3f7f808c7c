// Package orchestrator drives one audit run: sitemap discovery, sequential
// measurement with a fixed pause between pages, and incremental report writes.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"path/filepath"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/pagespeed-auditor/internal/progress"
	"github.com/JakeFAU/pagespeed-auditor/internal/record"
)

// ErrNoURLs is returned when discovery fails or yields nothing to measure.
var ErrNoURLs = errors.New("no urls found in sitemap")

const (
	// DefaultDelay is the pause between consecutive audits.
	DefaultDelay = 5 * time.Second

	reportTimeLayout = "20060102_150405"
	unknownDomain    = "unknown"
	finalizeTimeout  = 2 * time.Minute
)

// Config tunes a run.
type Config struct {
	Delay     time.Duration
	ReportDir string
}

// Deps holds the collaborators of an Engine. Mirror, Archiver, Notifier and
// Progress are optional.
type Deps struct {
	Reader   SitemapReader
	Auditor  Auditor
	Reports  ReportCreator
	Clock    Clock
	IDs      IDGenerator
	Progress progress.Emitter
	Mirror   RecordMirror
	Archiver Archiver
	Notifier Notifier
	Logger   *zap.Logger
}

// Summary describes a finished or interrupted run.
type Summary struct {
	RunID      string    `json:"run_id"`
	Sitemap    string    `json:"sitemap"`
	ReportPath string    `json:"report_path,omitempty"`
	Archive    string    `json:"archive,omitempty"`
	Discovered int       `json:"discovered"`
	Measured   int       `json:"measured"`
	Failed     int       `json:"failed"`
	Aborted    bool      `json:"aborted"`
	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at"`
}

// Processed returns how many rows the report holds.
func (s Summary) Processed() int {
	return s.Measured + s.Failed
}

// Engine runs audits sequentially.
type Engine struct {
	cfg  Config
	deps Deps
	log  *zap.Logger
}

// New validates deps and builds an Engine.
func New(cfg Config, deps Deps) (*Engine, error) {
	switch {
	case deps.Reader == nil:
		return nil, errors.New("sitemap reader is required")
	case deps.Auditor == nil:
		return nil, errors.New("auditor is required")
	case deps.Reports == nil:
		return nil, errors.New("report creator is required")
	case deps.Clock == nil:
		return nil, errors.New("clock is required")
	case deps.IDs == nil:
		return nil, errors.New("id generator is required")
	}
	if cfg.Delay < 0 {
		return nil, fmt.Errorf("delay must be >= 0, got %s", cfg.Delay)
	}
	if deps.Progress == nil {
		deps.Progress = progress.NopEmitter{}
	}
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Engine{cfg: cfg, deps: deps, log: logger.Named("orchestrator")}, nil
}

// Run audits every page listed in sitemapURL and returns the run summary.
// A report row is appended and synced after each page. Discovery failure
// returns ErrNoURLs without creating a report; a failed append aborts the run.
func (e *Engine) Run(ctx context.Context, sitemapURL string) (Summary, error) {
	started := e.deps.Clock.Now()
	runID, err := e.deps.IDs.NewID()
	if err != nil {
		return Summary{}, fmt.Errorf("create run id: %w", err)
	}
	summary := Summary{RunID: runID, Sitemap: sitemapURL, StartedAt: started}
	log := e.log.With(zap.String("run_id", runID), zap.String("sitemap", sitemapURL))
	e.emit(progress.Event{RunID: runID, Stage: progress.StageRunStart, Sitemap: sitemapURL})

	urls, err := e.deps.Reader.URLs(ctx, sitemapURL)
	if err != nil || len(urls) == 0 {
		summary.FinishedAt = e.deps.Clock.Now()
		evt := progress.Event{RunID: runID, Stage: progress.StageDiscoveryFailed, Sitemap: sitemapURL}
		if err != nil {
			evt.Note = err.Error()
			log.Error("sitemap discovery failed", zap.Error(err))
			e.emit(evt)
			return summary, fmt.Errorf("%w: %w", ErrNoURLs, err)
		}
		log.Warn("sitemap listed no urls")
		e.emit(evt)
		return summary, ErrNoURLs
	}
	summary.Discovered = len(urls)

	path := filepath.Join(e.cfg.ReportDir, ReportName(sitemapURL, started))
	writer, err := e.deps.Reports(path)
	if err != nil {
		log.Error("report create failed", zap.String("report", path), zap.Error(err))
		return e.abort(ctx, summary, fmt.Errorf("create report %s: %w", path, err))
	}
	summary.ReportPath = writer.Path()
	log.Info("urls discovered", zap.Int("total", len(urls)), zap.String("report", summary.ReportPath))
	e.emit(progress.Event{
		RunID:   runID,
		Stage:   progress.StageDiscovered,
		Sitemap: sitemapURL,
		Total:   len(urls),
		Report:  summary.ReportPath,
	})

	for i, pageURL := range urls {
		if ctx.Err() != nil {
			return e.abort(ctx, summary, ctx.Err())
		}
		index := i + 1
		e.emit(progress.Event{RunID: runID, Stage: progress.StageAuditStart, URL: pageURL, Index: index, Total: len(urls)})

		began := e.deps.Clock.Now()
		outcome := e.deps.Auditor.Audit(ctx, pageURL)
		finished := e.deps.Clock.Now()
		if ctx.Err() != nil && !outcome.OK() {
			// the page was interrupted, not measured
			return e.abort(ctx, summary, ctx.Err())
		}
		rec := record.New(pageURL, outcome, finished, finished.Sub(began))
		if err := writer.Append(rec); err != nil {
			log.Error("report append failed", zap.String("url", pageURL), zap.Error(err))
			return e.abort(ctx, summary, fmt.Errorf("append report row: %w", err))
		}
		if outcome.OK() {
			summary.Measured++
		} else {
			summary.Failed++
		}
		e.mirror(ctx, log, runID, rec)
		e.emit(progress.Event{
			RunID:  runID,
			Stage:  progress.StageAuditDone,
			URL:    pageURL,
			Index:  index,
			Total:  len(urls),
			Record: &rec,
		})

		if index < len(urls) {
			e.emit(progress.Event{RunID: runID, Stage: progress.StagePause, Index: index, Total: len(urls), Dur: e.cfg.Delay})
			e.deps.Clock.Pause(ctx, e.cfg.Delay)
		}
	}

	summary.FinishedAt = e.deps.Clock.Now()
	fctx, cancel := finalizeContext(ctx)
	defer cancel()
	if e.deps.Archiver != nil {
		location, err := e.deps.Archiver.Upload(fctx, summary.ReportPath)
		if err != nil {
			log.Warn("report archive failed", zap.Error(err))
		} else {
			summary.Archive = location
		}
	}
	e.notify(fctx, log, summary)
	log.Info("run complete",
		zap.Int("measured", summary.Measured),
		zap.Int("failed", summary.Failed),
		zap.Duration("dur", summary.FinishedAt.Sub(started)),
	)
	e.emit(progress.Event{
		RunID:   runID,
		Stage:   progress.StageRunDone,
		Sitemap: sitemapURL,
		Total:   len(urls),
		Report:  summary.ReportPath,
		Archive: summary.Archive,
		Dur:     nonNegative(summary.FinishedAt.Sub(started)),
	})
	return summary, nil
}

func (e *Engine) abort(ctx context.Context, summary Summary, cause error) (Summary, error) {
	summary.Aborted = true
	summary.FinishedAt = e.deps.Clock.Now()
	fctx, cancel := finalizeContext(ctx)
	defer cancel()
	e.notify(fctx, e.log.With(zap.String("run_id", summary.RunID)), summary)
	e.emit(progress.Event{
		RunID:   summary.RunID,
		Stage:   progress.StageRunAborted,
		Sitemap: summary.Sitemap,
		Total:   summary.Discovered,
		Report:  summary.ReportPath,
		Dur:     nonNegative(summary.FinishedAt.Sub(summary.StartedAt)),
		Note:    cause.Error(),
	})
	return summary, fmt.Errorf("run aborted after %d of %d urls: %w", summary.Processed(), summary.Discovered, cause)
}

func (e *Engine) mirror(ctx context.Context, log *zap.Logger, runID string, rec record.Record) {
	if e.deps.Mirror == nil {
		return
	}
	if err := e.deps.Mirror.SaveRecord(ctx, runID, rec); err != nil {
		log.Warn("measurement mirror failed", zap.String("url", rec.URL), zap.Error(err))
	}
}

func (e *Engine) notify(ctx context.Context, log *zap.Logger, summary Summary) {
	if e.deps.Notifier == nil {
		return
	}
	if err := e.deps.Notifier.Publish(ctx, summary); err != nil {
		log.Warn("run notification failed", zap.Error(err))
	}
}

func (e *Engine) emit(evt progress.Event) {
	if evt.TS.IsZero() {
		evt.TS = e.deps.Clock.Now()
	}
	e.deps.Progress.Emit(evt)
}

// finalizeContext detaches from ctx cancellation so an interrupted run can
// still report where it stopped.
func finalizeContext(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.WithoutCancel(ctx), finalizeTimeout)
}

func nonNegative(d time.Duration) time.Duration {
	if d < 0 {
		return 0
	}
	return d
}

// ReportDomain derives the report file prefix from the sitemap host:
// lowercased, port and a leading "www." removed.
func ReportDomain(sitemapURL string) string {
	u, err := url.Parse(strings.TrimSpace(sitemapURL))
	if err != nil {
		return unknownDomain
	}
	host := strings.ToLower(u.Hostname())
	host = strings.TrimPrefix(host, "www.")
	if host == "" {
		return unknownDomain
	}
	return host
}

// ReportName returns <domain>_pagespeed_<YYYYMMDD_HHMMSS>.csv.
func ReportName(sitemapURL string, at time.Time) string {
	return fmt.Sprintf("%s_pagespeed_%s.csv", ReportDomain(sitemapURL), at.Format(reportTimeLayout))
}
