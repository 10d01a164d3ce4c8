// Package runner spawns the external binaries the pipeline depends on
// (ffmpeg, ffprobe, yt-dlp, mediainfo, 7z). Binaries are looked up on PATH;
// cancellation kills the process through the supplied context.
package runner

import (
	"context"
	"log/slog"
	"time"

	"medialeech/internal/domain/ports"
	"medialeech/internal/metrics"
)

// DefaultProbeTimeout bounds short auxiliary commands.
const DefaultProbeTimeout = 60 * time.Second

type Runner struct {
	Logger *slog.Logger
}

func New(logger *slog.Logger) *Runner {
	return &Runner{Logger: logger}
}

// Run executes a command to completion. A non-zero exit is not an error at
// this layer; callers inspect CmdResult.ExitCode. Spawn failures and context
// cancellation are errors.
func (r *Runner) Run(ctx context.Context, timeout time.Duration, name string, args ...string) (ports.CmdResult, error) {
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}
	return r.run(ctx, nil, name, args...)
}

// Stream executes a long command, delivering each stderr line to onLine as
// it arrives.
func (r *Runner) Stream(ctx context.Context, onLine func(string), name string, args ...string) (ports.CmdResult, error) {
	return r.run(ctx, onLine, name, args...)
}

func (r *Runner) run(ctx context.Context, onLine func(string), name string, args ...string) (ports.CmdResult, error) {
	start := time.Now()
	p := NewProcess(ctx, name, args...)
	if onLine != nil {
		p.OnStderrLine(onLine)
	}
	if err := p.Start(); err != nil {
		return ports.CmdResult{ExitCode: -1}, err
	}
	metrics.SubprocessRuns.WithLabelValues(name).Inc()
	waitErr := p.Wait()

	res := ports.CmdResult{
		ExitCode: p.ExitCode(),
		Stdout:   p.Stdout(),
		Stderr:   p.Stderr(),
	}
	r.Logger.Debug("runner: command finished",
		slog.String("binary", name),
		slog.Int("exitCode", res.ExitCode),
		slog.Duration("elapsed", time.Since(start)),
	)
	if ctx.Err() != nil {
		return res, ctx.Err()
	}
	if waitErr != nil && res.ExitCode < 0 {
		return res, waitErr
	}
	return res, nil
}

// Tail returns the last n bytes of b as a string, for user-facing error
// excerpts.
func Tail(b []byte, n int) string {
	if len(b) <= n {
		return string(b)
	}
	return string(b[len(b)-n:])
}
