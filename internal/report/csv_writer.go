// Package report persists measurement records to an append-only CSV file.
package report

import (
	"encoding/csv"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/JakeFAU/pagespeed-auditor/internal/record"
)

// CSVWriter appends records to a CSV report. The file handle is reopened for
// every row so the report can be inspected while a run is in progress.
type CSVWriter struct {
	path string
}

// Create truncates or creates the report at path and writes the header row.
func Create(path string) (*CSVWriter, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("report path is required")
	}
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o750); err != nil {
			return nil, fmt.Errorf("create report dir %s: %w", dir, err)
		}
	}
	// #nosec G304 -- the report path is operator supplied.
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return nil, fmt.Errorf("create report %s: %w", path, err)
	}
	if err := writeRow(f, record.Header); err != nil {
		return nil, fmt.Errorf("write report header: %w", err)
	}
	return &CSVWriter{path: path}, nil
}

// Path returns the report location.
func (w *CSVWriter) Path() string {
	return w.path
}

// Append writes rec as one row and syncs it to disk before returning.
func (w *CSVWriter) Append(rec record.Record) error {
	// #nosec G304 -- the report path is operator supplied.
	f, err := os.OpenFile(w.path, os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("open report %s: %w", w.path, err)
	}
	if err := writeRow(f, rec.Row()); err != nil {
		return fmt.Errorf("append %s: %w", rec.URL, err)
	}
	return nil
}

// writeRow writes a single row, then flushes, syncs and closes f.
func writeRow(f *os.File, row []string) error {
	cw := csv.NewWriter(f)
	if err := cw.Write(row); err != nil {
		return errors.Join(err, f.Close())
	}
	cw.Flush()
	if err := cw.Error(); err != nil {
		return errors.Join(err, f.Close())
	}
	if err := f.Sync(); err != nil {
		return errors.Join(fmt.Errorf("sync: %w", err), f.Close())
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("close: %w", err)
	}
	return nil
}
