// Package tools routes a configured task to one of the processing recipes.
// Every recipe is built on pure argv-builder functions so the exact ffmpeg
// invocations are testable without running ffmpeg.
package tools

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"medialeech/internal/domain"
	"medialeech/internal/domain/ports"
	"medialeech/internal/metrics"
)

// ErrBadInputSet is returned before any ffmpeg call when the downloaded
// input set does not satisfy the recipe's counting rules.
var ErrBadInputSet = errors.New("input set does not match tool requirements")

// ExecError carries the tail of ffmpeg stderr for user display.
type ExecError struct {
	Binary   string
	ExitCode int
	Tail     string
}

func (e *ExecError) Error() string {
	return fmt.Sprintf("%s exit %d: %s", e.Binary, e.ExitCode, e.Tail)
}

const stderrTailBytes = 1000

// Input is one downloaded file with its stable input index.
type Input struct {
	Index int
	Path  string
	Class domain.MediaClass
}

// Job carries one processing request. OutputName may be rewritten by the
// recipe (container forcing); Outputs lists the produced files in order.
type Job struct {
	TaskID     string
	WorkDir    string
	OutputName string
	Inputs     []Input
	Config     domain.ToolConfig
	Outputs    []string
}

// StatusSink receives short progress notes between ffmpeg invocations.
type StatusSink func(note string)

type Service struct {
	Runner ports.Runner
	Prober ports.Prober
	Logger *slog.Logger
	FFmpeg string
}

func (s *Service) ffmpeg() string {
	if s.FFmpeg == "" {
		return "ffmpeg"
	}
	return s.FFmpeg
}

// Process dispatches the job to its recipe. The switch is exhaustive over
// the config union; an unknown config is a programming error.
func (s *Service) Process(ctx context.Context, job *Job, status StatusSink) error {
	if status == nil {
		status = func(string) {}
	}
	start := time.Now()
	tool := job.Config.Tool()
	defer func() {
		metrics.ProcessDuration.WithLabelValues(string(tool)).Observe(time.Since(start).Seconds())
	}()

	var err error
	switch cfg := job.Config.(type) {
	case domain.ConcatConfig:
		err = s.concatVideos(ctx, job, status)
	case domain.MuxConfig:
		err = s.muxAudio(ctx, job, cfg, status)
	case domain.AudioConcatConfig:
		err = s.concatAudio(ctx, job, status)
	case domain.SubtitleConfig:
		err = s.subtitles(ctx, job, cfg, status)
	case domain.CompressConfig:
		err = s.compress(ctx, job, cfg, status)
	case domain.WatermarkConfig:
		err = s.watermark(ctx, job, cfg, status)
	case domain.TrimConfig:
		err = s.trim(ctx, job, cfg, status)
	case domain.CutConfig:
		err = s.cut(ctx, job, cfg, status)
	case domain.ExtractAudioConfig:
		err = s.extractAudio(ctx, job, cfg, status)
	case domain.ExtractVideoConfig:
		err = s.extractVideo(ctx, job, status)
	default:
		err = fmt.Errorf("%w: no recipe for config %T", domain.ErrUnsupported, job.Config)
	}
	if err != nil {
		s.Logger.Warn("tools: recipe failed",
			slog.String("task", job.TaskID),
			slog.String("tool", string(tool)),
			slog.String("error", err.Error()),
		)
	}
	return err
}

// runFFmpeg executes one ffmpeg invocation, mapping non-zero exit to an
// ExecError with a bounded stderr excerpt.
func (s *Service) runFFmpeg(ctx context.Context, args []string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	res, err := s.Runner.Stream(ctx, nil, s.ffmpeg(), args...)
	if err != nil {
		return err
	}
	if res.ExitCode != 0 {
		tail := strings.TrimSpace(tailString(res.Stderr, stderrTailBytes))
		return &ExecError{Binary: s.ffmpeg(), ExitCode: res.ExitCode, Tail: tail}
	}
	return nil
}

func tailString(b []byte, n int) string {
	if len(b) <= n {
		return string(b)
	}
	return string(b[len(b)-n:])
}

// splitByClass buckets inputs, resolving unknown classes by extension.
func splitByClass(inputs []Input) (videos, audios, subs, rest []Input) {
	for _, in := range inputs {
		class := in.Class
		if class == domain.ClassDocument {
			class = domain.ClassifyName(in.Path)
		}
		switch class {
		case domain.ClassVideo:
			videos = append(videos, in)
		case domain.ClassAudio:
			audios = append(audios, in)
		case domain.ClassSubtitle:
			subs = append(subs, in)
		default:
			rest = append(rest, in)
		}
	}
	return
}

// writeConcatList writes an ffmpeg concat-demuxer list. Paths are absolute
// with forward slashes so the list survives the demuxer's quoting rules.
func writeConcatList(listPath string, paths []string) error {
	var b strings.Builder
	for _, p := range paths {
		abs, err := filepath.Abs(p)
		if err != nil {
			return err
		}
		b.WriteString("file '")
		b.WriteString(strings.ReplaceAll(abs, "\\", "/"))
		b.WriteString("'\n")
	}
	return os.WriteFile(listPath, []byte(b.String()), 0o644)
}

func splitName(name string) (base, ext string) {
	ext = filepath.Ext(name)
	return strings.TrimSuffix(name, ext), ext
}

// numberedName suffixes _k for per-input runs when the batch has more than
// one input.
func numberedName(base, ext string, k, total int) string {
	if total > 1 {
		return fmt.Sprintf("%s_%d%s", base, k, ext)
	}
	return base + ext
}
