// Package cmd defines and implements the CLI commands for the pagespeed executable.
package cmd

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

// newAuditCmd creates the 'audit' subcommand, which measures every page of a sitemap.
func newAuditCmd(v *viper.Viper) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "audit --sitemap <url> [--delay <seconds>]",
		Short: "Measure every page listed in a sitemap",
		Long: `Fetches the sitemap, runs Lighthouse against each listed page in order
with a fixed pause between pages, and appends one row per page to
<domain>_pagespeed_<timestamp>.csv. Rows are synced as they are written, so an
interrupted run leaves a valid partial report.`,
		Args:        cobra.NoArgs,
		Annotations: map[string]string{needsSitemap: "true"},
		RunE:        runAuditCommand,
	}

	flags := cmd.Flags()
	flags.String("sitemap", "", "sitemap XML URL (required)")
	flags.Int("delay", 5, "pause between measurements in seconds")
	flags.String("report-dir", ".", "directory for the CSV report")
	flags.Duration("timeout", 180*time.Second, "per-page Lighthouse timeout")
	flags.String("metrics-addr", "", "serve /healthz, /status and /metrics on this address")

	bindFlag(v, cmd, "run.sitemap", "sitemap")
	bindFlag(v, cmd, "run.delay_seconds", "delay")
	bindFlag(v, cmd, "report.dir", "report-dir")
	bindFlag(v, cmd, "metrics.addr", "metrics-addr")
	bindFlag(v, cmd, "audit.timeout", "timeout")
	return cmd
}

func runAuditCommand(cmd *cobra.Command, _ []string) error {
	ac, err := resolveApp(cmd.Context())
	if err != nil {
		return err
	}
	summary, err := ac.app.Run(cmd.Context(), ac.cfg.Run.Sitemap)
	if err != nil {
		// PersistentPostRun is skipped when RunE fails.
		ac.app.Close(cmd.Context())
		return fmt.Errorf("audit %s: %w", ac.cfg.Run.Sitemap, err)
	}
	ac.app.Logger().Info("Audit command finished.",
		zap.String("run_id", summary.RunID),
		zap.String("report", summary.ReportPath),
		zap.Int("measured", summary.Measured),
		zap.Int("failed", summary.Failed),
	)
	return nil
}
