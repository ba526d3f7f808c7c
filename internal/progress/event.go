package progress

import (
	"errors"
	"fmt"
	"time"

	"github.com/JakeFAU/pagespeed-auditor/internal/record"
)

// Stage denotes the type of milestone represented by an Event.
type Stage string

// Supported progress stages.
const (
	StageRunStart        Stage = "RUN_START"
	StageDiscovered      Stage = "SITEMAP_DISCOVERED"
	StageDiscoveryFailed Stage = "SITEMAP_EMPTY"
	StageAuditStart      Stage = "AUDIT_START"
	StageAuditDone       Stage = "AUDIT_DONE"
	StagePause           Stage = "PAUSE"
	StageRunDone         Stage = "RUN_DONE"
	StageRunAborted      Stage = "RUN_ABORTED"
)

// Event captures a single milestone of an audit run.
type Event struct {
	// RunID identifies the run.
	RunID string
	// TS is the timestamp recorded by the emitter.
	TS time.Time
	// Stage denotes which milestone occurred.
	Stage Stage
	// Sitemap is the sitemap URL driving the run.
	Sitemap string
	// URL is the page being audited for AUDIT_* stages.
	URL string
	// Index is the 1-based position of URL among Total discovered pages.
	Index int
	// Total is the number of discovered pages.
	Total int
	// Record is the completed measurement for AUDIT_DONE.
	Record *record.Record
	// Report is the local report path.
	Report string
	// Archive is the remote report location, when the report was archived.
	Archive string
	// Dur is the pause length for PAUSE and the run duration for RUN_DONE.
	Dur time.Duration
	// Note carries low-volume context such as error text.
	Note string
}

// Validate performs coarse validation on Event payloads.
func (e Event) Validate() error {
	if e.RunID == "" {
		return errors.New("run id is required")
	}
	if e.TS.IsZero() {
		return errors.New("timestamp is required")
	}
	switch e.Stage {
	case StageRunStart, StageDiscoveryFailed, StageRunAborted:
	case StageDiscovered:
		if e.Total <= 0 {
			return errors.New("discovery requires a positive total")
		}
	case StageAuditStart:
		if e.URL == "" {
			return errors.New("audit start requires url")
		}
	case StageAuditDone:
		if e.URL == "" {
			return errors.New("audit done requires url")
		}
		if e.Record == nil {
			return errors.New("audit done requires record")
		}
	case StagePause, StageRunDone:
	default:
		return fmt.Errorf("unknown stage %q", e.Stage)
	}
	if e.Index < 0 || (e.Total > 0 && e.Index > e.Total) {
		return fmt.Errorf("index %d out of range for total %d", e.Index, e.Total)
	}
	if e.Dur < 0 {
		return errors.New("duration must be >= 0")
	}
	return nil
}
