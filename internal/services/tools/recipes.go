package tools

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"medialeech/internal/domain"
)

// buildConcatArgs is the shared stream-copy concat invocation.
func buildConcatArgs(listPath, outputPath string) []string {
	return []string{
		"-y", "-f", "concat", "-safe", "0",
		"-i", listPath, "-c", "copy", outputPath,
	}
}

// concatVideos joins all inputs in index order via the concat demuxer.
func (s *Service) concatVideos(ctx context.Context, job *Job, status StatusSink) error {
	if len(job.Inputs) == 0 {
		return fmt.Errorf("%w: no inputs", ErrBadInputSet)
	}
	status(fmt.Sprintf("Merging %d videos...", len(job.Inputs)))

	paths := make([]string, len(job.Inputs))
	for i, in := range job.Inputs {
		paths[i] = in.Path
	}
	listPath := filepath.Join(job.WorkDir, "concat.txt")
	if err := writeConcatList(listPath, paths); err != nil {
		return err
	}
	out := filepath.Join(job.WorkDir, job.OutputName)
	if err := s.runFFmpeg(ctx, buildConcatArgs(listPath, out)); err != nil {
		return err
	}
	job.Outputs = append(job.Outputs, out)
	return nil
}

// buildMuxArgs muxes one video with uploaded audio tracks. Each uploaded
// audio becomes its own selectable stream; keepOriginal additionally maps
// the source audio.
func buildMuxArgs(videoPath string, audioPaths []string, keepOriginal bool, outputPath string) []string {
	args := []string{"-y", "-i", videoPath}
	for _, a := range audioPaths {
		args = append(args, "-i", a)
	}
	args = append(args, "-map", "0:v")
	if keepOriginal {
		args = append(args, "-map", "0:a?")
	}
	for i := range audioPaths {
		args = append(args, "-map", fmt.Sprintf("%d:a", i+1))
	}
	args = append(args, "-c", "copy", outputPath)
	return args
}

func (s *Service) muxAudio(ctx context.Context, job *Job, cfg domain.MuxConfig, status StatusSink) error {
	videos, audios, _, _ := splitByClass(job.Inputs)
	if len(videos) != 1 {
		return fmt.Errorf("%w: exactly one video required, got %d", ErrBadInputSet, len(videos))
	}
	if len(audios) == 0 {
		return fmt.Errorf("%w: at least one audio track required", ErrBadInputSet)
	}
	status(fmt.Sprintf("Muxing 1 video + %d audio track(s)...", len(audios)))

	// Independent audio inputs in mp4 are unreliable; force mkv.
	base, _ := splitName(job.OutputName)
	job.OutputName = base + ".mkv"
	out := filepath.Join(job.WorkDir, job.OutputName)

	audioPaths := make([]string, len(audios))
	for i, a := range audios {
		audioPaths[i] = a.Path
	}
	if err := s.runFFmpeg(ctx, buildMuxArgs(videos[0].Path, audioPaths, cfg.KeepOriginalAudio, out)); err != nil {
		return err
	}
	job.Outputs = append(job.Outputs, out)
	return nil
}

func (s *Service) concatAudio(ctx context.Context, job *Job, status StatusSink) error {
	videos, _, _, _ := splitByClass(job.Inputs)
	if len(videos) > 0 {
		return fmt.Errorf("%w: audio concat accepts audio files only, got %d video(s)", ErrBadInputSet, len(videos))
	}
	if len(job.Inputs) == 0 {
		return fmt.Errorf("%w: no inputs", ErrBadInputSet)
	}
	status(fmt.Sprintf("Merging %d audio files...", len(job.Inputs)))

	// The default output extension is a video one; swap it for audio.
	base, ext := splitName(job.OutputName)
	if strings.EqualFold(ext, ".mp4") {
		job.OutputName = base + ".mp3"
	}

	paths := make([]string, len(job.Inputs))
	for i, in := range job.Inputs {
		paths[i] = in.Path
	}
	listPath := filepath.Join(job.WorkDir, "concat.txt")
	if err := writeConcatList(listPath, paths); err != nil {
		return err
	}
	out := filepath.Join(job.WorkDir, job.OutputName)
	if err := s.runFFmpeg(ctx, buildConcatArgs(listPath, out)); err != nil {
		return err
	}
	job.Outputs = append(job.Outputs, out)
	return nil
}

// escapeSubtitlePath survives both the shell-free argv layer and ffmpeg's
// own filter-argument parsing, where ':' separates options.
func escapeSubtitlePath(path string) string {
	return strings.ReplaceAll(strings.ReplaceAll(path, "\\", "/"), ":", "\\:")
}

func buildBurnSubtitleArgs(videoPath, subPath, outputPath string) []string {
	return []string{
		"-y",
		"-i", videoPath,
		"-vf", fmt.Sprintf("subtitles='%s'", escapeSubtitlePath(subPath)),
		"-c:a", "copy",
		outputPath,
	}
}

func buildSoftSubtitleArgs(videoPath string, subPaths []string, outputPath string) []string {
	args := []string{"-y", "-i", videoPath}
	for _, p := range subPaths {
		args = append(args, "-i", p)
	}
	args = append(args, "-map", "0")
	for i := range subPaths {
		args = append(args, "-map", fmt.Sprintf("%d:s", i+1))
	}
	args = append(args, "-c", "copy", "-c:s", "srt", outputPath)
	return args
}

func (s *Service) subtitles(ctx context.Context, job *Job, cfg domain.SubtitleConfig, status StatusSink) error {
	videos, _, subs, _ := splitByClass(job.Inputs)
	if len(videos) != 1 {
		return fmt.Errorf("%w: exactly one video required, got %d", ErrBadInputSet, len(videos))
	}
	if len(subs) == 0 {
		return fmt.Errorf("%w: no subtitle files found", ErrBadInputSet)
	}

	if cfg.Burn {
		idx := cfg.TrackIndex
		if idx < 0 || idx >= len(subs) {
			idx = 0
		}
		status(fmt.Sprintf("Burning subtitle %d/%d into video...", idx+1, len(subs)))
		out := filepath.Join(job.WorkDir, job.OutputName)
		if err := s.runFFmpeg(ctx, buildBurnSubtitleArgs(videos[0].Path, subs[idx].Path, out)); err != nil {
			return err
		}
		job.Outputs = append(job.Outputs, out)
		return nil
	}

	status(fmt.Sprintf("Adding %d soft subtitle(s)...", len(subs)))
	base, _ := splitName(job.OutputName)
	job.OutputName = base + ".mkv"
	out := filepath.Join(job.WorkDir, job.OutputName)
	subPaths := make([]string, len(subs))
	for i, sub := range subs {
		subPaths[i] = sub.Path
	}
	if err := s.runFFmpeg(ctx, buildSoftSubtitleArgs(videos[0].Path, subPaths, out)); err != nil {
		return err
	}
	job.Outputs = append(job.Outputs, out)
	return nil
}

func buildTrimArgs(inputPath, start, end, outputPath string) []string {
	return []string{
		"-y",
		"-i", inputPath,
		"-ss", start,
		"-to", end,
		"-c", "copy",
		outputPath,
	}
}

func (s *Service) trim(ctx context.Context, job *Job, cfg domain.TrimConfig, status StatusSink) error {
	if cfg.Start == "" || cfg.End == "" {
		return fmt.Errorf("%w: trim requires start and end timestamps", ErrBadInputSet)
	}
	if len(job.Inputs) == 0 {
		return fmt.Errorf("%w: no inputs", ErrBadInputSet)
	}
	base, ext := splitName(job.OutputName)
	total := len(job.Inputs)
	for i, in := range job.Inputs {
		status(fmt.Sprintf("Trimming %d/%d (%s -> %s)...", i+1, total, cfg.Start, cfg.End))
		name := numberedName(base, ext, i+1, total)
		out := filepath.Join(job.WorkDir, name)
		if err := s.runFFmpeg(ctx, buildTrimArgs(in.Path, cfg.Start, cfg.End, out)); err != nil {
			return err
		}
		job.Outputs = append(job.Outputs, out)
		if total == 1 {
			job.OutputName = name
		}
	}
	return nil
}

// buildCutArgs produces the three invocations removing [start,end]: keep
// [0,start], keep [end,EOF], then concat the parts.
func buildCutPartAArgs(inputPath, start, partPath string) []string {
	return []string{"-y", "-i", inputPath, "-to", start, "-c", "copy", partPath}
}

func buildCutPartBArgs(inputPath, end, partPath string) []string {
	return []string{"-y", "-i", inputPath, "-ss", end, "-c", "copy", partPath}
}

func (s *Service) cut(ctx context.Context, job *Job, cfg domain.CutConfig, status StatusSink) error {
	if cfg.Start == "" || cfg.End == "" {
		return fmt.Errorf("%w: cut requires start and end timestamps", ErrBadInputSet)
	}
	if len(job.Inputs) == 0 {
		return fmt.Errorf("%w: no inputs", ErrBadInputSet)
	}
	base, ext := splitName(job.OutputName)
	total := len(job.Inputs)
	for i, in := range job.Inputs {
		status(fmt.Sprintf("Cutting %d/%d (removing %s -> %s)...", i+1, total, cfg.Start, cfg.End))

		partA := filepath.Join(job.WorkDir, fmt.Sprintf("cut_%d_partA%s", i, ext))
		partB := filepath.Join(job.WorkDir, fmt.Sprintf("cut_%d_partB%s", i, ext))
		listPath := filepath.Join(job.WorkDir, fmt.Sprintf("cut_%d_concat.txt", i))

		if err := s.runFFmpeg(ctx, buildCutPartAArgs(in.Path, cfg.Start, partA)); err != nil {
			return err
		}
		if err := s.runFFmpeg(ctx, buildCutPartBArgs(in.Path, cfg.End, partB)); err != nil {
			return err
		}
		if err := writeConcatList(listPath, []string{partA, partB}); err != nil {
			return err
		}
		name := numberedName(base, ext, i+1, total)
		out := filepath.Join(job.WorkDir, name)
		if err := s.runFFmpeg(ctx, buildConcatArgs(listPath, out)); err != nil {
			return err
		}
		for _, tmp := range []string{partA, partB, listPath} {
			os.Remove(tmp)
		}
		job.Outputs = append(job.Outputs, out)
		if total == 1 {
			job.OutputName = name
		}
	}
	return nil
}

var audioFormatCodecs = map[domain.AudioFormat]struct {
	codec string
	ext   string
}{
	domain.AudioMP3:  {"libmp3lame", ".mp3"},
	domain.AudioAAC:  {"aac", ".aac"},
	domain.AudioWAV:  {"pcm_s16le", ".wav"},
	domain.AudioCopy: {"copy", ".aac"},
}

func buildExtractAudioArgs(inputPath, codec, outputPath string) []string {
	return []string{"-y", "-i", inputPath, "-vn", "-c:a", codec, outputPath}
}

func (s *Service) extractAudio(ctx context.Context, job *Job, cfg domain.ExtractAudioConfig, status StatusSink) error {
	if len(job.Inputs) == 0 {
		return fmt.Errorf("%w: no inputs", ErrBadInputSet)
	}
	fmtInfo, ok := audioFormatCodecs[cfg.Format]
	if !ok {
		fmtInfo = audioFormatCodecs[domain.AudioMP3]
	}
	base, _ := splitName(job.OutputName)
	total := len(job.Inputs)
	for i, in := range job.Inputs {
		status(fmt.Sprintf("Extracting audio %d/%d (%s)...", i+1, total, cfg.Format))
		name := numberedName(base, fmtInfo.ext, i+1, total)
		out := filepath.Join(job.WorkDir, name)
		if err := s.runFFmpeg(ctx, buildExtractAudioArgs(in.Path, fmtInfo.codec, out)); err != nil {
			return err
		}
		job.Outputs = append(job.Outputs, out)
		if total == 1 {
			job.OutputName = name
		}
	}
	return nil
}

func buildExtractVideoArgs(inputPath, outputPath string) []string {
	return []string{"-y", "-i", inputPath, "-an", "-c:v", "copy", outputPath}
}

func (s *Service) extractVideo(ctx context.Context, job *Job, status StatusSink) error {
	if len(job.Inputs) == 0 {
		return fmt.Errorf("%w: no inputs", ErrBadInputSet)
	}
	base, ext := splitName(job.OutputName)
	total := len(job.Inputs)
	for i, in := range job.Inputs {
		status(fmt.Sprintf("Removing audio %d/%d...", i+1, total))
		name := numberedName(base, ext, i+1, total)
		out := filepath.Join(job.WorkDir, name)
		if err := s.runFFmpeg(ctx, buildExtractVideoArgs(in.Path, out)); err != nil {
			return err
		}
		job.Outputs = append(job.Outputs, out)
		if total == 1 {
			job.OutputName = name
		}
	}
	return nil
}
