// Package audit runs the Lighthouse CLI against a single page and extracts
// its performance metrics.
package audit

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/pagespeed-auditor/internal/record"
)

// Sentinel errors carried by failed outcomes.
var (
	ErrTimeout       = errors.New("lighthouse timed out")
	ErrToolNotFound  = errors.New("lighthouse command not found")
	ErrInvalidOutput = errors.New("lighthouse output is not valid json")
	ErrEmptyOutput   = errors.New("lighthouse produced no output")
)

// Throttling methods accepted by Lighthouse.
const (
	ThrottlingProvided = "provided"
	ThrottlingSimulate = "simulate"
	ThrottlingDevtools = "devtools"
)

const (
	defaultCommand     = "lighthouse"
	defaultTimeout     = 180 * time.Second
	defaultChromeFlags = "--headless --no-sandbox"
	defaultWaitDelay   = 5 * time.Second
	interruptGrace     = 2 * time.Second
	stderrTailBytes    = 512
)

// Config controls the Lighthouse invocation.
type Config struct {
	Command          string
	Timeout          time.Duration
	ChromeFlags      string
	ThrottlingMethod string
	TempDir          string
}

// ValidThrottlingMethod reports whether m is understood by Lighthouse.
func ValidThrottlingMethod(m string) bool {
	switch m {
	case ThrottlingProvided, ThrottlingSimulate, ThrottlingDevtools:
		return true
	default:
		return false
	}
}

// Lighthouse audits pages by running the Lighthouse CLI as a child process.
type Lighthouse struct {
	cfg      Config
	lookPath func(string) (string, error)
	logger   *zap.Logger
}

// New builds a Lighthouse invoker, filling unset fields with defaults.
func New(cfg Config, logger *zap.Logger) *Lighthouse {
	if strings.TrimSpace(cfg.Command) == "" {
		cfg.Command = defaultCommand
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	if cfg.ChromeFlags == "" {
		cfg.ChromeFlags = defaultChromeFlags
	}
	if cfg.ThrottlingMethod == "" {
		cfg.ThrottlingMethod = ThrottlingProvided
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Lighthouse{
		cfg:      cfg,
		lookPath: exec.LookPath,
		logger:   logger,
	}
}

// Audit measures pageURL. It never returns an error: every failure is folded
// into a failed Outcome so the caller can keep going.
func (l *Lighthouse) Audit(ctx context.Context, pageURL string) record.Outcome {
	bin, err := l.lookPath(l.cfg.Command)
	if err != nil {
		return l.fail(pageURL, record.KindToolMissing, fmt.Errorf("%w: %v", ErrToolNotFound, err))
	}

	artifact, err := os.CreateTemp(l.cfg.TempDir, "lighthouse-*.json")
	if err != nil {
		return l.fail(pageURL, record.KindFailed, fmt.Errorf("create report artifact: %w", err))
	}
	outputPath := artifact.Name()
	defer func() {
		if rmErr := os.Remove(outputPath); rmErr != nil && !errors.Is(rmErr, os.ErrNotExist) {
			l.logger.Warn("failed to remove lighthouse artifact", zap.String("path", outputPath), zap.Error(rmErr))
		}
	}()
	if err := artifact.Close(); err != nil {
		return l.fail(pageURL, record.KindFailed, fmt.Errorf("close report artifact: %w", err))
	}

	runCtx, cancel := context.WithTimeout(ctx, l.cfg.Timeout)
	defer cancel()

	var stderr bytes.Buffer
	cmd := exec.CommandContext(runCtx, bin, l.args(pageURL, outputPath)...)
	cmd.Stdout = &bytes.Buffer{}
	cmd.Stderr = &stderr
	cmd.WaitDelay = defaultWaitDelay
	group := supervise(cmd, interruptGrace)

	start := time.Now()
	runErr := cmd.Run()
	elapsed := time.Since(start)
	if runCtx.Err() != nil {
		group.reap()
	}

	if errors.Is(runCtx.Err(), context.DeadlineExceeded) && ctx.Err() == nil {
		return l.fail(pageURL, record.KindTimeout, fmt.Errorf("%w after %s", ErrTimeout, l.cfg.Timeout))
	}
	if ctx.Err() != nil {
		return l.fail(pageURL, record.KindFailed, fmt.Errorf("audit canceled: %w", ctx.Err()))
	}
	if runErr != nil && errors.Is(runErr, exec.ErrNotFound) {
		return l.fail(pageURL, record.KindToolMissing, fmt.Errorf("%w: %v", ErrToolNotFound, runErr))
	}

	data, err := os.ReadFile(outputPath)
	if err != nil {
		return l.fail(pageURL, record.KindFailed, fmt.Errorf("read report artifact: %w", err))
	}
	if len(bytes.TrimSpace(data)) == 0 {
		if runErr != nil {
			return l.fail(pageURL, record.KindFailed,
				fmt.Errorf("lighthouse exited: %w: %s", runErr, tail(stderr.String(), stderrTailBytes)))
		}
		return l.fail(pageURL, record.KindInvalidOutput, ErrEmptyOutput)
	}

	rep, err := ParseReport(data)
	if err != nil {
		return l.fail(pageURL, record.KindInvalidOutput, err)
	}
	if runErr != nil {
		l.logger.Warn("lighthouse exited with error but wrote a report",
			zap.String("url", pageURL), zap.Error(runErr))
	}
	if rep.RuntimeError != nil && rep.RuntimeError.Code != "" {
		l.logger.Warn("lighthouse reported a runtime error",
			zap.String("url", pageURL),
			zap.String("code", rep.RuntimeError.Code),
			zap.String("message", rep.RuntimeError.Message),
		)
	}
	if unit := rep.ResponsivenessUnit(); unit != "" && unit != unitMillisecond {
		l.logger.Warn("responsiveness audit is not in milliseconds; value written unconverted",
			zap.String("url", pageURL), zap.String("unit", unit))
	}

	metrics := rep.Metrics()
	l.logger.Debug("lighthouse audit complete",
		zap.String("url", pageURL),
		zap.String("lighthouse_version", rep.LighthouseVersion),
		zap.Duration("elapsed", elapsed),
		zap.Float64("performance", metrics.Performance),
	)
	return record.Measured(metrics)
}

func (l *Lighthouse) args(pageURL, outputPath string) []string {
	return []string{
		pageURL,
		"--quiet",
		"--only-categories=performance",
		"--output=json",
		"--output-path=" + outputPath,
		"--chrome-flags=" + l.cfg.ChromeFlags,
		"--throttling-method=" + l.cfg.ThrottlingMethod,
	}
}

func (l *Lighthouse) fail(pageURL string, kind record.Kind, err error) record.Outcome {
	l.logger.Warn("lighthouse audit failed",
		zap.String("url", pageURL),
		zap.String("kind", string(kind)),
		zap.Error(err),
	)
	return record.Failed(kind, err)
}

func tail(s string, n int) string {
	s = strings.TrimSpace(s)
	if len(s) <= n {
		return s
	}
	return s[len(s)-n:]
}
