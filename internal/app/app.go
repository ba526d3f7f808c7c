// Package app builds the long-lived services of an audit run from
// configuration and owns their shutdown.
package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/zap"

	"github.com/JakeFAU/pagespeed-auditor/internal/audit"
	"github.com/JakeFAU/pagespeed-auditor/internal/clock/system"
	"github.com/JakeFAU/pagespeed-auditor/internal/config"
	"github.com/JakeFAU/pagespeed-auditor/internal/id/uuid"
	"github.com/JakeFAU/pagespeed-auditor/internal/logging"
	"github.com/JakeFAU/pagespeed-auditor/internal/orchestrator"
	"github.com/JakeFAU/pagespeed-auditor/internal/progress"
	progresssinks "github.com/JakeFAU/pagespeed-auditor/internal/progress/sinks"
	"github.com/JakeFAU/pagespeed-auditor/internal/publisher/pubsub"
	"github.com/JakeFAU/pagespeed-auditor/internal/report"
	"github.com/JakeFAU/pagespeed-auditor/internal/server"
	"github.com/JakeFAU/pagespeed-auditor/internal/sitemap"
	"github.com/JakeFAU/pagespeed-auditor/internal/storage/gcs"
	"github.com/JakeFAU/pagespeed-auditor/internal/storage/postgres"
)

const closeTimeout = 10 * time.Second

// Options overrides pieces of the container, mainly for tests.
type Options struct {
	// Stdout receives the run transcript (default os.Stdout).
	Stdout io.Writer
	// Logger replaces the logger built from cfg.Logging.
	Logger *zap.Logger
}

// App contains the application's dependencies.
type App struct {
	cfg      config.Config
	logger   *zap.Logger
	registry *prometheus.Registry
	hub      *progress.Hub
	status   *progresssinks.StatusSink
	engine   *orchestrator.Engine
	server   *server.Server

	archive   *gcs.Archive
	store     *postgres.MeasurementStore
	publisher *pubsub.Publisher
}

// Build creates the application's dependencies. Optional integrations are
// created only when configured.
func Build(ctx context.Context, cfg config.Config, opts Options) (*App, error) {
	logger := opts.Logger
	if logger == nil {
		var err error
		logger, err = logging.New(logging.Options{
			Development: cfg.Logging.Development,
			Level:       cfg.Logging.Level,
		})
		if err != nil {
			return nil, fmt.Errorf("logger init failed: %w", err)
		}
	}
	stdout := opts.Stdout
	if stdout == nil {
		stdout = os.Stdout
	}

	a := &App{cfg: cfg, logger: logger, registry: prometheus.NewRegistry()}
	a.logger.Info("building application dependencies",
		zap.String("report_dir", cfg.Report.Dir),
		zap.Duration("delay", cfg.Delay()),
		zap.Duration("audit_timeout", cfg.Audit.Timeout),
	)
	if err := a.setupProgress(ctx, stdout); err != nil {
		a.Close(ctx)
		return nil, err
	}
	deps := orchestrator.Deps{
		Reader: sitemap.New(sitemap.Config{
			UserAgent: cfg.Sitemap.UserAgent,
			Timeout:   cfg.Sitemap.Timeout,
		}, logger.Named("sitemap")),
		Auditor: audit.New(audit.Config{
			Command:          cfg.Audit.Command,
			Timeout:          cfg.Audit.Timeout,
			ChromeFlags:      cfg.Audit.ChromeFlags,
			ThrottlingMethod: cfg.Audit.ThrottlingMethod,
			TempDir:          cfg.Audit.TempDir,
		}, logger.Named("audit")),
		Reports:  createReport,
		Clock:    system.New(),
		IDs:      uuid.New(),
		Progress: a.hub,
		Logger:   logger,
	}
	if err := a.setupIntegrations(ctx, &deps); err != nil {
		a.Close(ctx)
		return nil, err
	}
	engine, err := orchestrator.New(orchestrator.Config{
		Delay:     cfg.Delay(),
		ReportDir: cfg.Report.Dir,
	}, deps)
	if err != nil {
		a.Close(ctx)
		return nil, fmt.Errorf("orchestrator init failed: %w", err)
	}
	a.engine = engine

	if cfg.Metrics.Addr != "" {
		a.server, err = server.New(a.status, a.registry, a.registry, logger.Named("server"))
		if err != nil {
			a.Close(ctx)
			return nil, fmt.Errorf("status server init failed: %w", err)
		}
	}
	return a, nil
}

func createReport(path string) (orchestrator.ReportWriter, error) {
	return report.Create(path)
}

func (a *App) setupProgress(ctx context.Context, stdout io.Writer) error {
	for _, c := range []prometheus.Collector{
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	} {
		if err := a.registry.Register(c); err != nil {
			return fmt.Errorf("register runtime collector: %w", err)
		}
	}
	promSink, err := progresssinks.NewPrometheusSink(a.registry)
	if err != nil {
		return fmt.Errorf("progress metrics init failed: %w", err)
	}
	a.status = progresssinks.NewStatusSink()
	a.hub = progress.NewHub(progress.Config{
		BaseContext: context.WithoutCancel(ctx),
		Logger:      a.logger.Named("progress_hub"),
	},
		progresssinks.NewConsoleSink(stdout),
		progresssinks.NewLogSink(a.logger.Named("progress")),
		promSink,
		a.status,
	)
	return nil
}

func (a *App) setupIntegrations(ctx context.Context, deps *orchestrator.Deps) error {
	if a.cfg.ArchiveEnabled() {
		client, err := gcs.NewClient(ctx)
		if err != nil {
			return fmt.Errorf("gcs client init failed: %w", err)
		}
		a.archive, err = gcs.New(client, gcs.Config{Bucket: a.cfg.Storage.GCSBucket, Prefix: a.cfg.Storage.Prefix})
		if err != nil {
			_ = client.Close()
			return fmt.Errorf("gcs archive init failed: %w", err)
		}
		deps.Archiver = a.archive
		a.logger.Info("report archive enabled", zap.String("bucket", a.cfg.Storage.GCSBucket))
	}
	if a.cfg.MirrorEnabled() {
		var err error
		a.store, err = postgres.NewMeasurementStore(ctx, postgres.Config{DSN: a.cfg.DB.DSN, Table: a.cfg.DB.Table})
		if err != nil {
			return fmt.Errorf("measurement store init failed: %w", err)
		}
		if err := a.store.EnsureSchema(ctx); err != nil {
			return fmt.Errorf("measurement store init failed: %w", err)
		}
		deps.Mirror = a.store
		a.logger.Info("measurement mirror enabled", zap.String("table", a.cfg.DB.Table))
	}
	if a.cfg.NotifyEnabled() {
		var err error
		a.publisher, err = pubsub.New(ctx, pubsub.Config{
			ProjectID: a.cfg.PubSub.ProjectID,
			TopicName: a.cfg.PubSub.TopicName,
		})
		if err != nil {
			return fmt.Errorf("pubsub publisher init failed: %w", err)
		}
		deps.Notifier = a.publisher
		a.logger.Info("run notifications enabled",
			zap.String("project", a.cfg.PubSub.ProjectID),
			zap.String("topic", a.cfg.PubSub.TopicName),
		)
	}
	return nil
}

// Logger returns the shared zap logger.
func (a *App) Logger() *zap.Logger {
	return a.logger
}

// Registry returns the Prometheus registry backing /metrics.
func (a *App) Registry() *prometheus.Registry {
	return a.registry
}

// Status returns the live run snapshot tracker.
func (a *App) Status() *progresssinks.StatusSink {
	return a.status
}

// Run audits sitemapURL. When a status address is configured the server runs
// for the duration of the audit.
func (a *App) Run(ctx context.Context, sitemapURL string) (orchestrator.Summary, error) {
	if a.server == nil {
		return a.engine.Run(ctx, sitemapURL)
	}
	ln, err := net.Listen("tcp", a.cfg.Metrics.Addr)
	if err != nil {
		return orchestrator.Summary{}, fmt.Errorf("listen %s: %w", a.cfg.Metrics.Addr, err)
	}
	srvCtx, stop := context.WithCancel(ctx)
	srvDone := make(chan error, 1)
	go func() { srvDone <- a.server.Serve(srvCtx, ln) }()

	summary, runErr := a.engine.Run(ctx, sitemapURL)
	stop()
	if err := <-srvDone; err != nil {
		a.logger.Warn("status server stopped with error", zap.Error(err))
	}
	return summary, runErr
}

// Close releases every service. It is safe to call on a partially built App.
func (a *App) Close(ctx context.Context) {
	if a == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), closeTimeout)
	defer cancel()
	if a.hub != nil {
		if err := a.hub.Close(ctx); err != nil {
			a.logger.Warn("progress hub close failed", zap.Error(err))
		}
	}
	if a.publisher != nil {
		if err := a.publisher.Close(); err != nil {
			a.logger.Warn("pubsub client close failed", zap.Error(err))
		}
	}
	if a.archive != nil {
		if err := a.archive.Close(); err != nil {
			a.logger.Warn("gcs client close failed", zap.Error(err))
		}
	}
	if a.store != nil {
		a.store.Close()
	}
	if err := a.logger.Sync(); err != nil && !errors.Is(err, os.ErrInvalid) {
		a.logger.Debug("logger sync failed", zap.Error(err))
	}
}
