package orchestrator

import (
	"context"
	"time"

	"github.com/JakeFAU/pagespeed-auditor/internal/record"
)

// SitemapReader lists the page URLs of a sitemap in document order.
type SitemapReader interface {
	URLs(ctx context.Context, sitemapURL string) ([]string, error)
}

// Auditor measures a single page. Failures are carried in the Outcome.
type Auditor interface {
	Audit(ctx context.Context, pageURL string) record.Outcome
}

// ReportWriter appends fully formed rows to a durable report.
type ReportWriter interface {
	Append(rec record.Record) error
	Path() string
}

// ReportCreator creates the report at path and writes its header.
type ReportCreator func(path string) (ReportWriter, error)

// Clock provides wall time and an interruptible pause.
type Clock interface {
	Now() time.Time
	Pause(ctx context.Context, delay time.Duration)
}

// IDGenerator creates run identifiers.
type IDGenerator interface {
	NewID() (string, error)
}

// RecordMirror copies each appended record to a secondary store.
type RecordMirror interface {
	SaveRecord(ctx context.Context, runID string, rec record.Record) error
}

// Archiver uploads the finished report and returns its remote location.
type Archiver interface {
	Upload(ctx context.Context, localPath string) (string, error)
}

// Notifier announces a finished run.
type Notifier interface {
	Publish(ctx context.Context, summary Summary) error
}
