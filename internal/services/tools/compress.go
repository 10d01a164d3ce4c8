package tools

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"

	"medialeech/internal/domain"
)

const (
	defaultAudioBitrate = 128000
	minVideoKbps        = 100
	fallbackDuration    = 60
)

var compressPresets = map[domain.CompressMode]struct {
	crf    int
	preset string
	label  string
}{
	domain.CompressHighQuality: {18, "medium", "High Quality"},
	domain.CompressBalanced:    {23, "medium", "Balanced"},
	domain.CompressSmall:       {28, "slow", "High Compression"},
}

func buildCRFArgs(inputPath string, crf int, preset, outputPath string) []string {
	return []string{
		"-y", "-i", inputPath,
		"-c:v", "libx264",
		"-crf", fmt.Sprintf("%d", crf),
		"-preset", preset,
		"-c:a", "copy",
		outputPath,
	}
}

// targetVideoKbps computes the video bitrate that fits targetBytes into
// duration seconds next to the probed audio bitrate, clamped to a floor.
func targetVideoKbps(targetBytes int64, duration float64, audioBitrate int64) int {
	if duration <= 0 {
		duration = fallbackDuration
	}
	if audioBitrate <= 0 {
		audioBitrate = defaultAudioBitrate
	}
	totalBitrate := float64(targetBytes*8) / duration
	kbps := int((totalBitrate - float64(audioBitrate)) / 1000)
	if kbps < minVideoKbps {
		return minVideoKbps
	}
	return kbps
}

func buildTargetSizeArgs(inputPath string, videoKbps int, outputPath string) []string {
	return []string{
		"-y", "-i", inputPath,
		"-c:v", "libx264",
		"-b:v", fmt.Sprintf("%dk", videoKbps),
		"-preset", "medium",
		"-c:a", "aac", "-b:a", "128k",
		outputPath,
	}
}

func (s *Service) compress(ctx context.Context, job *Job, cfg domain.CompressConfig, status StatusSink) error {
	if len(job.Inputs) == 0 {
		return fmt.Errorf("%w: no inputs", ErrBadInputSet)
	}
	base, ext := splitName(job.OutputName)
	if ext == "" {
		ext = ".mp4"
	}
	total := len(job.Inputs)

	for i, in := range job.Inputs {
		name := numberedName(base, ext, i+1, total)
		out := filepath.Join(job.WorkDir, name)

		var args []string
		switch cfg.Mode {
		case domain.CompressHighQuality, domain.CompressBalanced, domain.CompressSmall:
			p := compressPresets[cfg.Mode]
			status(fmt.Sprintf("Compressing %d/%d (%s)...", i+1, total, p.label))
			args = buildCRFArgs(in.Path, p.crf, p.preset, out)
		case domain.CompressTargetSize:
			status(fmt.Sprintf("Compressing %d/%d (target %s)...", i+1, total, domain.HumanBytes(cfg.TargetBytes)))
			args = s.targetSizeArgs(ctx, job.TaskID, in.Path, cfg.TargetBytes, out, status)
		case domain.CompressCustomCRF:
			crf := cfg.CRF
			if crf <= 0 {
				crf = 23
			}
			status(fmt.Sprintf("Compressing %d/%d (CRF %d)...", i+1, total, crf))
			args = buildCRFArgs(in.Path, crf, "medium", out)
		default:
			return fmt.Errorf("%w: unknown compress mode %d", domain.ErrUnsupported, cfg.Mode)
		}

		if err := s.runFFmpeg(ctx, args); err != nil {
			return err
		}
		job.Outputs = append(job.Outputs, out)
		if total == 1 {
			job.OutputName = name
		}
	}
	return nil
}

// targetSizeArgs probes the input for duration and audio bitrate. Probe
// failure falls back to balanced CRF encoding rather than failing the task.
func (s *Service) targetSizeArgs(ctx context.Context, taskID, inputPath string, targetBytes int64, outputPath string, status StatusSink) []string {
	info, err := s.Prober.Probe(ctx, inputPath)
	if err != nil {
		s.Logger.Warn("tools: probe failed, falling back to balanced compression",
			slog.String("task", taskID),
			slog.String("error", err.Error()),
		)
		p := compressPresets[domain.CompressBalanced]
		return buildCRFArgs(inputPath, p.crf, p.preset, outputPath)
	}
	kbps := targetVideoKbps(targetBytes, info.Duration, info.AudioBitrate())
	if kbps == minVideoKbps {
		status("Target size too small for duration, using minimum bitrate.")
	}
	return buildTargetSizeArgs(inputPath, kbps, outputPath)
}
