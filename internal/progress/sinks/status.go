package sinks

import (
	"context"
	"sync"
	"time"

	"github.com/JakeFAU/pagespeed-auditor/internal/progress"
	"github.com/JakeFAU/pagespeed-auditor/internal/record"
)

// Run states reported by StatusSink.
const (
	StateIdle        = "idle"
	StateDiscovering = "discovering"
	StateMeasuring   = "measuring"
	StatePausing     = "pausing"
	StateEmpty       = "empty"
	StateDone        = "done"
	StateAborted     = "aborted"
)

// LastResult summarizes the most recent audit.
type LastResult struct {
	URL        string          `json:"url"`
	Outcome    record.Kind     `json:"outcome"`
	Metrics    *record.Metrics `json:"metrics,omitempty"`
	Error      string          `json:"error,omitempty"`
	ElapsedSec float64         `json:"elapsed_seconds"`
	MeasuredAt time.Time       `json:"measured_at"`
}

// Snapshot is the externally visible state of the current run.
type Snapshot struct {
	RunID     string         `json:"run_id,omitempty"`
	State     string         `json:"state"`
	Sitemap   string         `json:"sitemap,omitempty"`
	Report    string         `json:"report,omitempty"`
	Archive   string         `json:"archive,omitempty"`
	Total     int            `json:"total"`
	Completed int            `json:"completed"`
	Failed    int            `json:"failed"`
	Current   string         `json:"current,omitempty"`
	Outcomes  map[string]int `json:"outcomes"`
	Last      *LastResult    `json:"last,omitempty"`
	StartedAt time.Time      `json:"started_at,omitempty"`
	UpdatedAt time.Time      `json:"updated_at,omitempty"`
}

// StatusSink keeps an in-memory snapshot for the status endpoint.
type StatusSink struct {
	mu   sync.RWMutex
	snap Snapshot
}

// NewStatusSink starts in the idle state.
func NewStatusSink() *StatusSink {
	return &StatusSink{snap: Snapshot{State: StateIdle, Outcomes: map[string]int{}}}
}

// Consume folds the batch into the snapshot.
func (s *StatusSink) Consume(_ context.Context, batch []progress.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, evt := range batch {
		s.apply(evt)
	}
	return nil
}

func (s *StatusSink) apply(evt progress.Event) {
	if evt.Stage == progress.StageRunStart {
		s.snap = Snapshot{
			RunID:     evt.RunID,
			State:     StateDiscovering,
			Sitemap:   evt.Sitemap,
			Outcomes:  map[string]int{},
			StartedAt: evt.TS,
		}
	}
	s.snap.UpdatedAt = evt.TS
	switch evt.Stage {
	case progress.StageDiscovered:
		s.snap.Total = evt.Total
		s.snap.Report = evt.Report
		s.snap.State = StateMeasuring
	case progress.StageDiscoveryFailed:
		s.snap.State = StateEmpty
	case progress.StageAuditStart:
		s.snap.State = StateMeasuring
		s.snap.Current = evt.URL
	case progress.StageAuditDone:
		if evt.Record == nil {
			return
		}
		rec := evt.Record
		s.snap.Completed++
		if !rec.Outcome.OK() {
			s.snap.Failed++
		}
		s.snap.Outcomes[string(rec.Outcome.Kind)]++
		s.snap.Current = ""
		s.snap.Last = lastResult(*rec)
	case progress.StagePause:
		s.snap.State = StatePausing
	case progress.StageRunDone:
		s.snap.State = StateDone
		s.snap.Current = ""
		s.snap.Archive = evt.Archive
	case progress.StageRunAborted:
		s.snap.State = StateAborted
		s.snap.Current = ""
	}
}

func lastResult(rec record.Record) *LastResult {
	out := &LastResult{
		URL:        rec.URL,
		Outcome:    rec.Outcome.Kind,
		ElapsedSec: rec.Elapsed.Seconds(),
		MeasuredAt: rec.MeasuredAt,
	}
	if rec.Outcome.OK() {
		m := rec.Outcome.Metrics
		out.Metrics = &m
	} else if rec.Outcome.Err != nil {
		out.Error = rec.Outcome.Err.Error()
	}
	return out
}

// Snapshot returns a copy of the current state.
func (s *StatusSink) Snapshot() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := s.snap
	out.Outcomes = make(map[string]int, len(s.snap.Outcomes))
	for k, v := range s.snap.Outcomes {
		out.Outcomes[k] = v
	}
	if s.snap.Last != nil {
		last := *s.snap.Last
		out.Last = &last
	}
	return out
}

// Close implements progress.Sink.
func (s *StatusSink) Close(context.Context) error {
	return nil
}
