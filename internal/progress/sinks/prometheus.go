package sinks

import (
	"context"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/JakeFAU/pagespeed-auditor/internal/progress"
)

// PrometheusSink exports audit progress metrics via Prometheus.
type PrometheusSink struct {
	runsStarted   prometheus.Counter
	runsCompleted *prometheus.CounterVec
	runRuntime    prometheus.Histogram
	discovered    prometheus.Gauge

	audits        *prometheus.CounterVec
	auditDuration *prometheus.HistogramVec
	perfScore     prometheus.Histogram
	pauseSeconds  prometheus.Counter
}

// NewPrometheusSink registers the collectors against the provided registry.
func NewPrometheusSink(reg prometheus.Registerer) (*PrometheusSink, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	s := &PrometheusSink{
		runsStarted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "pagespeed_runs_started_total",
			Help: "Total audit runs that have started.",
		}),
		runsCompleted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "pagespeed_runs_completed_total",
			Help: "Total audit runs completed partitioned by result.",
		}, []string{"result"}),
		runRuntime: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "pagespeed_run_runtime_seconds",
			Help:    "Wall time per completed run.",
			Buckets: []float64{10, 60, 300, 900, 1800, 3600, 7200, 14400},
		}),
		discovered: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "pagespeed_urls_discovered",
			Help: "URLs discovered in the sitemap of the latest run.",
		}),
		audits: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "pagespeed_audits_total",
			Help: "Audits completed partitioned by outcome.",
		}, []string{"outcome"}),
		auditDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "pagespeed_audit_duration_seconds",
			Help:    "Audit wall time partitioned by outcome.",
			Buckets: []float64{1, 5, 10, 20, 30, 60, 120, 180, 240},
		}, []string{"outcome"}),
		perfScore: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "pagespeed_performance_score",
			Help:    "Performance category score of measured pages.",
			Buckets: prometheus.LinearBuckets(10, 10, 10),
		}),
		pauseSeconds: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "pagespeed_pause_seconds_total",
			Help: "Seconds spent pausing between audits.",
		}),
	}
	for _, collector := range []prometheus.Collector{
		s.runsStarted,
		s.runsCompleted,
		s.runRuntime,
		s.discovered,
		s.audits,
		s.auditDuration,
		s.perfScore,
		s.pauseSeconds,
	} {
		if err := reg.Register(collector); err != nil {
			return nil, fmt.Errorf("register progress collector: %w", err)
		}
	}
	return s, nil
}

// Consume updates the Prometheus collectors using the provided batch.
func (s *PrometheusSink) Consume(_ context.Context, batch []progress.Event) error {
	for _, evt := range batch {
		s.consumeEvent(evt)
	}
	return nil
}

func (s *PrometheusSink) consumeEvent(evt progress.Event) {
	switch evt.Stage {
	case progress.StageRunStart:
		s.runsStarted.Inc()
	case progress.StageDiscovered:
		s.discovered.Set(float64(evt.Total))
	case progress.StageDiscoveryFailed:
		s.discovered.Set(0)
		s.runsCompleted.WithLabelValues("empty").Inc()
	case progress.StageAuditDone:
		if evt.Record == nil {
			return
		}
		outcome := string(evt.Record.Outcome.Kind)
		s.audits.WithLabelValues(outcome).Inc()
		s.auditDuration.WithLabelValues(outcome).Observe(evt.Record.Elapsed.Seconds())
		if evt.Record.Outcome.OK() {
			s.perfScore.Observe(evt.Record.Outcome.Metrics.Performance)
		}
	case progress.StagePause:
		s.pauseSeconds.Add(evt.Dur.Seconds())
	case progress.StageRunDone:
		s.runsCompleted.WithLabelValues("done").Inc()
		s.observeRuntime(evt)
	case progress.StageRunAborted:
		s.runsCompleted.WithLabelValues("aborted").Inc()
		s.observeRuntime(evt)
	}
}

func (s *PrometheusSink) observeRuntime(evt progress.Event) {
	if evt.Dur > 0 {
		s.runRuntime.Observe(evt.Dur.Seconds())
	}
}

// Close implements the Sink interface; it performs no action.
func (s *PrometheusSink) Close(context.Context) error {
	return nil
}
