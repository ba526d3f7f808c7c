package sinks

import (
	"bytes"
	"context"
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/JakeFAU/pagespeed-auditor/internal/audit"
	"github.com/JakeFAU/pagespeed-auditor/internal/progress"
	"github.com/JakeFAU/pagespeed-auditor/internal/record"
)

var ts = time.Date(2024, 5, 1, 10, 0, 0, 0, time.Local)

func runEvents() []progress.Event {
	ok := record.New("https://example.com/a", record.Measured(record.Metrics{
		Performance: 87.5, SpeedIndex: 1.23, LCP: 2.5, INP: 120, CLS: 0.012,
	}), ts, 12300*time.Millisecond)
	timedOut := record.New("https://example.com/b", record.Failed(record.KindTimeout, audit.ErrTimeout), ts, 180*time.Second)
	base := progress.Event{RunID: "run-1", TS: ts, Sitemap: "https://example.com/sitemap.xml", Total: 2}
	with := func(mut func(*progress.Event)) progress.Event {
		evt := base
		mut(&evt)
		return evt
	}
	return []progress.Event{
		with(func(e *progress.Event) { e.Stage = progress.StageRunStart; e.Total = 0 }),
		with(func(e *progress.Event) { e.Stage = progress.StageDiscovered; e.Report = "example.com_pagespeed.csv" }),
		with(func(e *progress.Event) { e.Stage = progress.StageAuditStart; e.URL = ok.URL; e.Index = 1 }),
		with(func(e *progress.Event) { e.Stage = progress.StageAuditDone; e.URL = ok.URL; e.Index = 1; e.Record = &ok }),
		with(func(e *progress.Event) { e.Stage = progress.StagePause; e.Index = 1; e.Dur = 5 * time.Second }),
		with(func(e *progress.Event) { e.Stage = progress.StageAuditStart; e.URL = timedOut.URL; e.Index = 2 }),
		with(func(e *progress.Event) {
			e.Stage = progress.StageAuditDone
			e.URL = timedOut.URL
			e.Index = 2
			e.Record = &timedOut
		}),
		with(func(e *progress.Event) {
			e.Stage = progress.StageRunDone
			e.Report = "example.com_pagespeed.csv"
			e.Dur = 200 * time.Second
		}),
	}
}

func TestConsoleSinkTranscript(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	sink := NewConsoleSink(&buf)
	require.NoError(t, sink.Consume(context.Background(), runEvents()))

	out := buf.String()
	assert.Contains(t, out, "Fetching URLs from sitemap: https://example.com/sitemap.xml\n")
	assert.Contains(t, out, "Found 2 URLs\n")
	assert.Contains(t, out, "Results will be saved to: example.com_pagespeed.csv\n")
	assert.Contains(t, out, "[1/2] Measuring https://example.com/a\n")
	assert.Contains(t, out, "Result: Perf=87.5 | SI=1.23s | LCP=2.50s | INP=120.00ms | CLS=0.012 | Elapsed: 12.3s\n")
	assert.Contains(t, out, "Waiting 5s before the next measurement...\n")
	assert.Contains(t, out, "Result: Perf=Error | SI=Errors | LCP=Errors | INP=Errorms | CLS=Error | Elapsed: 180.0s\n")
	assert.Contains(t, out, "All measurements complete! Full results saved to: example.com_pagespeed.csv\n")
	assert.Equal(t, 1, bytes.Count(buf.Bytes(), []byte("Timeout while measuring https://example.com/b")))
}

func TestConsoleSinkFailureMessages(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		kind record.Kind
		err  error
		want string
	}{
		{name: "tool missing", kind: record.KindToolMissing, err: audit.ErrToolNotFound, want: "npm install -g lighthouse"},
		{name: "invalid output", kind: record.KindInvalidOutput, err: audit.ErrInvalidOutput, want: "Failed to parse Lighthouse output for https://example.com/"},
		{name: "failed", kind: record.KindFailed, err: errors.New("boom"), want: "Unexpected error while measuring https://example.com/: boom"},
		{name: "failed without error", kind: record.KindFailed, want: "unknown error"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			var buf bytes.Buffer
			rec := record.New("https://example.com/", record.Failed(tt.kind, tt.err), ts, time.Second)
			evt := progress.Event{RunID: "r", TS: ts, Stage: progress.StageAuditDone, URL: rec.URL, Index: 1, Total: 1, Record: &rec}
			require.NoError(t, NewConsoleSink(&buf).Consume(context.Background(), []progress.Event{evt}))
			assert.Contains(t, buf.String(), tt.want)
		})
	}
}

func TestConsoleSinkEmptyAndAborted(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	sink := NewConsoleSink(&buf)
	require.NoError(t, sink.Consume(context.Background(), []progress.Event{
		{RunID: "r", TS: ts, Stage: progress.StageDiscoveryFailed, Note: "status 404"},
		{RunID: "r", TS: ts, Stage: progress.StageRunAborted, Report: "out.csv"},
		{RunID: "r", TS: ts, Stage: progress.StageRunAborted, Note: "create report out.csv: permission denied"},
	}))
	assert.Contains(t, buf.String(), "No URLs found in sitemap\n")
	assert.Contains(t, buf.String(), "Error fetching sitemap: status 404\n")
	assert.Contains(t, buf.String(), "partial results saved to: out.csv")
	assert.Contains(t, buf.String(), "Run aborted before any results were saved: create report out.csv: permission denied\n")
}

func TestLogSinkLevels(t *testing.T) {
	t.Parallel()

	core, logs := observer.New(zap.DebugLevel)
	sink := NewLogSink(zap.New(core))
	require.NoError(t, sink.Consume(context.Background(), runEvents()))

	warned := logs.FilterLevelExact(zap.WarnLevel).All()
	require.Len(t, warned, 1)
	fields := warned[0].ContextMap()
	assert.Equal(t, "timeout", fields["outcome"])
	assert.Equal(t, "https://example.com/b", fields["url"])
	assert.Equal(t, len(runEvents())-1, logs.FilterLevelExact(zap.InfoLevel).Len())
}

func TestPrometheusSinkRecordsMetrics(t *testing.T) {
	t.Parallel()

	reg := prometheus.NewRegistry()
	sink, err := NewPrometheusSink(reg)
	require.NoError(t, err)
	require.NoError(t, sink.Consume(context.Background(), runEvents()))

	require.Equal(t, 1.0, testutil.ToFloat64(sink.runsStarted))
	require.Equal(t, 1.0, testutil.ToFloat64(sink.runsCompleted.WithLabelValues("done")))
	require.Equal(t, 2.0, testutil.ToFloat64(sink.discovered))
	require.Equal(t, 1.0, testutil.ToFloat64(sink.audits.WithLabelValues("measured")))
	require.Equal(t, 1.0, testutil.ToFloat64(sink.audits.WithLabelValues("timeout")))
	require.InDelta(t, 5.0, testutil.ToFloat64(sink.pauseSeconds), 1e-9)
	require.Equal(t, 2, testutil.CollectAndCount(sink.auditDuration, "pagespeed_audit_duration_seconds"))
	require.Equal(t, 1, testutil.CollectAndCount(sink.perfScore, "pagespeed_performance_score"))

	_, err = NewPrometheusSink(reg)
	require.Error(t, err)
}

func TestStatusSinkTracksRun(t *testing.T) {
	t.Parallel()

	sink := NewStatusSink()
	require.Equal(t, StateIdle, sink.Snapshot().State)

	events := runEvents()
	require.NoError(t, sink.Consume(context.Background(), events[:3]))
	mid := sink.Snapshot()
	assert.Equal(t, StateMeasuring, mid.State)
	assert.Equal(t, "https://example.com/a", mid.Current)
	assert.Equal(t, 2, mid.Total)

	require.NoError(t, sink.Consume(context.Background(), events[3:5]))
	assert.Equal(t, StatePausing, sink.Snapshot().State)

	require.NoError(t, sink.Consume(context.Background(), events[5:]))
	snap := sink.Snapshot()
	assert.Equal(t, StateDone, snap.State)
	assert.Equal(t, "run-1", snap.RunID)
	assert.Equal(t, 2, snap.Completed)
	assert.Equal(t, 1, snap.Failed)
	assert.Equal(t, map[string]int{"measured": 1, "timeout": 1}, snap.Outcomes)
	require.NotNil(t, snap.Last)
	assert.Equal(t, record.KindTimeout, snap.Last.Outcome)
	assert.Equal(t, audit.ErrTimeout.Error(), snap.Last.Error)
	assert.Nil(t, snap.Last.Metrics)

	snap.Outcomes["measured"] = 99
	assert.Equal(t, 1, sink.Snapshot().Outcomes["measured"])
}

func TestStatusSinkResetsOnNewRun(t *testing.T) {
	t.Parallel()

	sink := NewStatusSink()
	require.NoError(t, sink.Consume(context.Background(), runEvents()))
	require.NoError(t, sink.Consume(context.Background(), []progress.Event{
		{RunID: "run-2", TS: ts, Stage: progress.StageRunStart, Sitemap: "https://other.test/sitemap.xml"},
		{RunID: "run-2", TS: ts, Stage: progress.StageDiscoveryFailed},
	}))
	snap := sink.Snapshot()
	assert.Equal(t, "run-2", snap.RunID)
	assert.Equal(t, StateEmpty, snap.State)
	assert.Zero(t, snap.Completed)
	assert.Nil(t, snap.Last)
}
