package audit

import (
	"encoding/json"
	"fmt"

	"github.com/JakeFAU/pagespeed-auditor/internal/record"
)

// Lighthouse audit and category identifiers read from the JSON report.
const (
	categoryPerformance = "performance"
	auditSpeedIndex     = "speed-index"
	auditLCP            = "largest-contentful-paint"
	auditINP            = "interaction-to-next-paint"
	auditFID            = "first-input-delay"
	auditCLS            = "cumulative-layout-shift"

	unitMillisecond = "millisecond"
)

// Report is the subset of the Lighthouse JSON result this package reads.
// Every leaf is optional; the schema is not guaranteed stable across releases.
type Report struct {
	LighthouseVersion string                 `json:"lighthouseVersion"`
	FinalURL          string                 `json:"finalDisplayedUrl"`
	Categories        map[string]Category    `json:"categories"`
	Audits            map[string]AuditResult `json:"audits"`
	RuntimeError      *RuntimeError          `json:"runtimeError"`
}

// Category is a scored Lighthouse category.
type Category struct {
	Score *float64 `json:"score"`
}

// AuditResult is a single Lighthouse audit entry.
type AuditResult struct {
	NumericValue *float64 `json:"numericValue"`
	NumericUnit  string   `json:"numericUnit"`
}

// RuntimeError is set by Lighthouse when the page could not be loaded properly.
type RuntimeError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// ParseReport decodes raw Lighthouse JSON output.
func ParseReport(data []byte) (Report, error) {
	var rep Report
	if err := json.Unmarshal(data, &rep); err != nil {
		return Report{}, fmt.Errorf("%w: %v", ErrInvalidOutput, err)
	}
	return rep, nil
}

// Metrics extracts the report metrics. Absent values default to zero.
func (r Report) Metrics() record.Metrics {
	inp, _ := r.responsiveness()
	m := record.Metrics{
		Performance: r.categoryScore(categoryPerformance) * 100,
		SpeedIndex:  r.numeric(auditSpeedIndex) / 1000,
		LCP:         r.numeric(auditLCP) / 1000,
		INP:         inp,
		CLS:         r.numeric(auditCLS),
	}
	return m.Rounded()
}

// ResponsivenessUnit returns the unit of the audit used for the INP column, if reported.
func (r Report) ResponsivenessUnit() string {
	_, id := r.responsiveness()
	if id == "" {
		return ""
	}
	return r.Audits[id].NumericUnit
}

// responsiveness prefers interaction-to-next-paint and falls back to
// first-input-delay. Both are assumed to be milliseconds.
func (r Report) responsiveness() (float64, string) {
	if v, ok := r.lookup(auditINP); ok {
		return v, auditINP
	}
	if v, ok := r.lookup(auditFID); ok {
		return v, auditFID
	}
	return 0, ""
}

func (r Report) categoryScore(id string) float64 {
	c, ok := r.Categories[id]
	if !ok || c.Score == nil {
		return 0
	}
	return *c.Score
}

func (r Report) numeric(id string) float64 {
	v, _ := r.lookup(id)
	return v
}

func (r Report) lookup(id string) (float64, bool) {
	a, ok := r.Audits[id]
	if !ok || a.NumericValue == nil {
		return 0, false
	}
	return *a.NumericValue, true
}
