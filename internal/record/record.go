// Package record defines the per-URL measurement outcome and its report row shape.
package record

import (
	"math"
	"strconv"
	"time"
)

// Kind classifies how a single audit ended.
type Kind string

// Outcome kinds returned by the audit invoker.
const (
	KindMeasured      Kind = "measured"
	KindTimeout       Kind = "timeout"
	KindToolMissing   Kind = "tool_missing"
	KindInvalidOutput Kind = "invalid_output"
	KindFailed        Kind = "failed"
)

// ErrorValue is written in every metric column of a failed measurement.
const ErrorValue = "Error"

// TimeLayout formats the Measurement Time column.
const TimeLayout = "2006-01-02 15:04:05"

// Header is the fixed report header row. Column order is part of the report contract.
var Header = []string{
	"URL",
	"Performance Score",
	"Speed Index (s)",
	"LCP (s)",
	"INP (ms)",
	"CLS",
	"Measurement Time",
}

// Decimal places per metric column.
const (
	PerformancePrecision = 1
	SpeedIndexPrecision  = 2
	LCPPrecision         = 2
	INPPrecision         = 2
	CLSPrecision         = 3
)

// Metrics holds the numeric results of a successful audit.
type Metrics struct {
	// Performance is the category score scaled to 0-100.
	Performance float64 `json:"performance"`
	// SpeedIndex is in seconds.
	SpeedIndex float64 `json:"speed_index"`
	// LCP is the largest contentful paint in seconds.
	LCP float64 `json:"lcp"`
	// INP is interaction to next paint (or first input delay) in milliseconds.
	INP float64 `json:"inp"`
	// CLS is the unitless cumulative layout shift.
	CLS float64 `json:"cls"`
}

// Rounded returns m with every field rounded to its column precision.
func (m Metrics) Rounded() Metrics {
	return Metrics{
		Performance: Round(m.Performance, PerformancePrecision),
		SpeedIndex:  Round(m.SpeedIndex, SpeedIndexPrecision),
		LCP:         Round(m.LCP, LCPPrecision),
		INP:         Round(m.INP, INPPrecision),
		CLS:         Round(m.CLS, CLSPrecision),
	}
}

// Outcome is the single result of auditing one URL: either measured metrics
// or a failure kind whose metric columns all render as ErrorValue.
type Outcome struct {
	Kind    Kind
	Metrics Metrics
	Err     error
}

// Measured wraps successful metrics.
func Measured(m Metrics) Outcome {
	return Outcome{Kind: KindMeasured, Metrics: m}
}

// Failed builds a failure outcome. Metrics stay zero and are never rendered.
func Failed(kind Kind, err error) Outcome {
	if kind == KindMeasured || kind == "" {
		kind = KindFailed
	}
	return Outcome{Kind: kind, Err: err}
}

// OK reports whether the outcome carries real metrics.
func (o Outcome) OK() bool {
	return o.Kind == KindMeasured
}

// Columns renders the five metric columns in header order.
func (o Outcome) Columns() []string {
	if !o.OK() {
		return []string{ErrorValue, ErrorValue, ErrorValue, ErrorValue, ErrorValue}
	}
	m := o.Metrics
	return []string{
		FormatFixed(m.Performance, PerformancePrecision),
		FormatFixed(m.SpeedIndex, SpeedIndexPrecision),
		FormatFixed(m.LCP, LCPPrecision),
		FormatFixed(m.INP, INPPrecision),
		FormatFixed(m.CLS, CLSPrecision),
	}
}

// Record is one processed URL. It is built once and not modified afterwards.
type Record struct {
	URL        string
	Outcome    Outcome
	Elapsed    time.Duration
	MeasuredAt time.Time
}

// New builds a Record for url completed at measuredAt.
func New(url string, outcome Outcome, measuredAt time.Time, elapsed time.Duration) Record {
	if elapsed < 0 {
		elapsed = 0
	}
	return Record{
		URL:        url,
		Outcome:    outcome,
		Elapsed:    elapsed,
		MeasuredAt: measuredAt,
	}
}

// Row renders the record as a report row matching Header.
func (r Record) Row() []string {
	row := make([]string, 0, len(Header))
	row = append(row, r.URL)
	row = append(row, r.Outcome.Columns()...)
	row = append(row, r.MeasuredAt.Format(TimeLayout))
	return row
}

// Round rounds v half away from zero to the given number of decimals.
func Round(v float64, decimals int) float64 {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return 0
	}
	p := math.Pow10(decimals)
	out := math.Round(v*p) / p
	if out == 0 {
		// drop negative zero
		return 0
	}
	return out
}

// FormatFixed formats v with exactly decimals digits after the point, independent of locale.
func FormatFixed(v float64, decimals int) string {
	return strconv.FormatFloat(Round(v, decimals), 'f', decimals, 64)
}
