package report

import (
	"encoding/csv"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/pagespeed-auditor/internal/record"
)

func readRows(t *testing.T, path string) [][]string {
	t.Helper()
	// #nosec G304 -- test reads from the controlled temp directory.
	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()
	rows, err := csv.NewReader(f).ReadAll()
	require.NoError(t, err)
	return rows
}

func TestCreateWritesHeader(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "nested", "example.com_pagespeed_20240101_000000.csv")
	w, err := Create(path)
	require.NoError(t, err)
	assert.Equal(t, path, w.Path())

	rows := readRows(t, path)
	require.Len(t, rows, 1)
	assert.Equal(t, []string{"URL", "Performance Score", "Speed Index (s)", "LCP (s)", "INP (ms)", "CLS", "Measurement Time"}, rows[0])
}

func TestCreateOverwritesStaleReport(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "report.csv")
	require.NoError(t, os.WriteFile(path, []byte("stale,data\n1,2\n"), 0o600))

	_, err := Create(path)
	require.NoError(t, err)
	rows := readRows(t, path)
	require.Len(t, rows, 1)
	assert.Equal(t, record.Header, rows[0])
}

func TestAppendIsVisibleImmediately(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "report.csv")
	w, err := Create(path)
	require.NoError(t, err)

	at := time.Date(2024, 5, 1, 10, 0, 0, 0, time.Local)
	ok := record.New("https://example.com/a", record.Measured(record.Metrics{Performance: 87.3, SpeedIndex: 1.2, LCP: 2.5, INP: 50, CLS: 0.01}), at, time.Second)
	bad := record.New("https://example.com/b, with comma", record.Failed(record.KindTimeout, errors.New("slow")), at.Add(time.Minute), time.Second)

	require.NoError(t, w.Append(ok))
	rows := readRows(t, path)
	require.Len(t, rows, 2)
	assert.Equal(t, []string{"https://example.com/a", "87.3", "1.20", "2.50", "50.00", "0.010", "2024-05-01 10:00:00"}, rows[1])

	require.NoError(t, w.Append(bad))
	rows = readRows(t, path)
	require.Len(t, rows, 3)
	assert.Equal(t, []string{"https://example.com/b, with comma", "Error", "Error", "Error", "Error", "Error", "2024-05-01 10:01:00"}, rows[2])
}

func TestAppendFailsWhenReportRemoved(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "report.csv")
	w, err := Create(path)
	require.NoError(t, err)
	require.NoError(t, os.Remove(path))

	err = w.Append(record.New("https://example.com", record.Measured(record.Metrics{}), time.Now(), 0))
	require.Error(t, err)
	_, statErr := os.Stat(path)
	assert.True(t, os.IsNotExist(statErr))
}

func TestCreateRequiresPath(t *testing.T) {
	t.Parallel()

	_, err := Create("  ")
	require.Error(t, err)
}
