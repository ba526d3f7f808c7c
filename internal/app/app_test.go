package app_test

import (
	"bytes"
	"context"
	"encoding/csv"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"runtime"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/pagespeed-auditor/internal/app"
	"github.com/JakeFAU/pagespeed-auditor/internal/config"
	"github.com/JakeFAU/pagespeed-auditor/internal/orchestrator"
	"github.com/JakeFAU/pagespeed-auditor/internal/progress/sinks"
)

const lighthouseJSON = `{"lighthouseVersion":"12.0.0","categories":{"performance":{"score":0.91}},` +
	`"audits":{"speed-index":{"numericValue":1234},"largest-contentful-paint":{"numericValue":2500},` +
	`"interaction-to-next-paint":{"numericValue":75.456,"numericUnit":"millisecond"},` +
	`"cumulative-layout-shift":{"numericValue":0.0456}}}`

func fakeLighthouse(t *testing.T) string {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("shell script fakes require a POSIX shell")
	}
	script := filepath.Join(t.TempDir(), "lighthouse")
	content := fmt.Sprintf(`#!/bin/sh
for arg in "$@"; do
  case "$arg" in
    --output-path=*) out="${arg#--output-path=}" ;;
  esac
done
printf '%%s' '%s' > "$out"
`, lighthouseJSON)
	// #nosec G306 -- the fake must be executable.
	require.NoError(t, os.WriteFile(script, []byte(content), 0o755))
	return script
}

func sitemapServer(t *testing.T, locs ...string) string {
	t.Helper()
	body := `<?xml version="1.0" encoding="UTF-8"?><urlset xmlns="http://www.sitemaps.org/schemas/sitemap/0.9">`
	for _, loc := range locs {
		body += "<url><loc>" + loc + "</loc></url>"
	}
	body += "</urlset>"
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/xml")
		_, _ = w.Write([]byte(body))
	}))
	t.Cleanup(srv.Close)
	return srv.URL + "/sitemap.xml"
}

func testConfig(t *testing.T) config.Config {
	t.Helper()
	cfg, err := config.Load("")
	require.NoError(t, err)
	cfg.Run.DelaySeconds = 0
	cfg.Report.Dir = t.TempDir()
	cfg.Audit.Command = fakeLighthouse(t)
	cfg.Audit.TempDir = t.TempDir()
	return cfg
}

func TestRunWritesReport(t *testing.T) {
	cfg := testConfig(t)
	cfg.Metrics.Addr = "127.0.0.1:0"
	var out bytes.Buffer

	a, err := app.Build(context.Background(), cfg, app.Options{Stdout: &out, Logger: zap.NewNop()})
	require.NoError(t, err)
	defer a.Close(context.Background())

	summary, err := a.Run(context.Background(), sitemapServer(t, "https://example.com/a", "https://example.com/b"))
	require.NoError(t, err)
	assert.Equal(t, 2, summary.Measured)
	assert.Zero(t, summary.Failed)
	assert.Equal(t, cfg.Report.Dir, filepath.Dir(summary.ReportPath))
	assert.Regexp(t, `^127\.0\.0\.1_pagespeed_\d{8}_\d{6}\.csv$`, filepath.Base(summary.ReportPath))

	f, err := os.Open(summary.ReportPath)
	require.NoError(t, err)
	defer f.Close()
	rows, err := csv.NewReader(f).ReadAll()
	require.NoError(t, err)
	require.Len(t, rows, 3)
	assert.Equal(t, "URL", rows[0][0])
	assert.Equal(t, []string{"https://example.com/a", "91.0", "1.23", "2.50", "75.46", "0.046"}, rows[1][:6])
	assert.Equal(t, "https://example.com/b", rows[2][0])

	assert.Contains(t, out.String(), "Found 2 URLs")
	assert.Contains(t, out.String(), "[2/2] Measuring https://example.com/b")
	assert.Contains(t, out.String(), "All measurements complete!")

	snap := a.Status().Snapshot()
	assert.Equal(t, sinks.StateDone, snap.State)
	assert.Equal(t, 2, snap.Completed)

	count, err := testutil.GatherAndCount(a.Registry(), "pagespeed_audits_total")
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}

func TestRunEmptySitemapCreatesNoReport(t *testing.T) {
	cfg := testConfig(t)
	var out bytes.Buffer

	a, err := app.Build(context.Background(), cfg, app.Options{Stdout: &out, Logger: zap.NewNop()})
	require.NoError(t, err)
	defer a.Close(context.Background())

	_, err = a.Run(context.Background(), sitemapServer(t))
	require.ErrorIs(t, err, orchestrator.ErrNoURLs)

	entries, err := os.ReadDir(cfg.Report.Dir)
	require.NoError(t, err)
	assert.Empty(t, entries)
	assert.Contains(t, out.String(), "No URLs found in sitemap")
}

func TestRunMissingToolStillWritesErrorRows(t *testing.T) {
	cfg := testConfig(t)
	cfg.Audit.Command = filepath.Join(t.TempDir(), "no-such-lighthouse")
	var out bytes.Buffer

	a, err := app.Build(context.Background(), cfg, app.Options{Stdout: &out, Logger: zap.NewNop()})
	require.NoError(t, err)
	defer a.Close(context.Background())

	summary, err := a.Run(context.Background(), sitemapServer(t, "https://example.com/"))
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Failed)

	data, err := os.ReadFile(summary.ReportPath)
	require.NoError(t, err)
	assert.Contains(t, string(data), "https://example.com/,Error,Error,Error,Error,Error,")
	assert.Contains(t, out.String(), "npm install -g lighthouse")
}

func TestBuildFailsOnBadLogLevel(t *testing.T) {
	cfg := testConfig(t)
	cfg.Logging.Level = "chatty"
	_, err := app.Build(context.Background(), cfg, app.Options{})
	require.Error(t, err)
}

func TestCloseOnNilApp(t *testing.T) {
	var a *app.App
	a.Close(context.Background())
}
