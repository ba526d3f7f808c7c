package sinks

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"

	"github.com/JakeFAU/pagespeed-auditor/internal/progress"
	"github.com/JakeFAU/pagespeed-auditor/internal/record"
)

// ConsoleSink prints the human-readable run transcript.
type ConsoleSink struct {
	mu sync.Mutex
	w  io.Writer
}

// NewConsoleSink writes to w, or stdout when w is nil.
func NewConsoleSink(w io.Writer) *ConsoleSink {
	if w == nil {
		w = os.Stdout
	}
	return &ConsoleSink{w: w}
}

// Consume renders each event as one or more lines.
func (s *ConsoleSink) Consume(_ context.Context, batch []progress.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, evt := range batch {
		if _, err := io.WriteString(s.w, render(evt)); err != nil {
			return fmt.Errorf("write console line: %w", err)
		}
	}
	return nil
}

// Close implements progress.Sink.
func (s *ConsoleSink) Close(context.Context) error {
	return nil
}

func render(evt progress.Event) string {
	var b strings.Builder
	switch evt.Stage {
	case progress.StageRunStart:
		b.WriteString("Starting bulk PageSpeed checker\n")
		fmt.Fprintf(&b, "Fetching URLs from sitemap: %s\n", evt.Sitemap)
	case progress.StageDiscoveryFailed:
		b.WriteString("No URLs found in sitemap\n")
		if evt.Note != "" {
			fmt.Fprintf(&b, "Error fetching sitemap: %s\n", evt.Note)
		}
	case progress.StageDiscovered:
		fmt.Fprintf(&b, "Found %d URLs\n", evt.Total)
		fmt.Fprintf(&b, "Results will be saved to: %s\n", evt.Report)
	case progress.StageAuditStart:
		fmt.Fprintf(&b, "\n[%d/%d] Measuring %s\n", evt.Index, evt.Total, evt.URL)
	case progress.StageAuditDone:
		if evt.Record == nil {
			return ""
		}
		if line := failureLine(*evt.Record); line != "" {
			b.WriteString(line)
			b.WriteByte('\n')
		}
		b.WriteString(resultLine(*evt.Record))
		b.WriteByte('\n')
	case progress.StagePause:
		fmt.Fprintf(&b, "Waiting %s before the next measurement...\n", evt.Dur)
	case progress.StageRunDone:
		fmt.Fprintf(&b, "\nAll measurements complete! Full results saved to: %s\n", evt.Report)
		if evt.Archive != "" {
			fmt.Fprintf(&b, "Report archived to: %s\n", evt.Archive)
		}
	case progress.StageRunAborted:
		if evt.Report == "" {
			fmt.Fprintf(&b, "\nRun aborted before any results were saved: %s\n", evt.Note)
			break
		}
		fmt.Fprintf(&b, "\nRun interrupted; partial results saved to: %s\n", evt.Report)
	}
	return b.String()
}

func failureLine(rec record.Record) string {
	switch rec.Outcome.Kind {
	case record.KindMeasured:
		return ""
	case record.KindTimeout:
		return fmt.Sprintf("Timeout while measuring %s", rec.URL)
	case record.KindToolMissing:
		return "Lighthouse not found; install it with: npm install -g lighthouse"
	case record.KindInvalidOutput:
		return fmt.Sprintf("Failed to parse Lighthouse output for %s", rec.URL)
	default:
		msg := "unknown error"
		if rec.Outcome.Err != nil {
			msg = rec.Outcome.Err.Error()
		}
		return fmt.Sprintf("Unexpected error while measuring %s: %s", rec.URL, msg)
	}
}

func resultLine(rec record.Record) string {
	cols := rec.Outcome.Columns()
	return fmt.Sprintf("Result: Perf=%s | SI=%ss | LCP=%ss | INP=%sms | CLS=%s | Elapsed: %.1fs",
		cols[0], cols[1], cols[2], cols[3], cols[4], rec.Elapsed.Seconds())
}
