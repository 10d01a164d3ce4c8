package tools

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"

	"medialeech/internal/domain"
)

// Overlay positions use the video/overlay variable set (W/H/w/h); drawtext
// uses its own (w/h/tw/th).
var overlayPositions = map[domain.WatermarkPosition][2]string{
	domain.PosTopLeft:     {"20", "20"},
	domain.PosTopRight:    {"W-w-20", "20"},
	domain.PosBottomLeft:  {"20", "H-h-20"},
	domain.PosBottomRight: {"W-w-20", "H-h-20"},
	domain.PosCenter:      {"(W-w)/2", "(H-h)/2"},
}

var textPositions = map[domain.WatermarkPosition][2]string{
	domain.PosTopLeft:     {"20", "20"},
	domain.PosTopRight:    {"w-tw-20", "20"},
	domain.PosBottomLeft:  {"20", "h-th-20"},
	domain.PosBottomRight: {"w-tw-20", "h-th-20"},
	domain.PosCenter:      {"(w-tw)/2", "(h-th)/2"},
}

// buildTextWatermarkFilter renders the drawtext filter for the animation
// mode. duration is only consulted by the fade-in-out mode.
func buildTextWatermarkFilter(cfg domain.WatermarkConfig, duration float64) string {
	pos := cfg.Position
	if _, ok := textPositions[pos]; !ok {
		pos = domain.PosBottomRight
	}
	xy := textPositions[pos]
	x, y := xy[0], xy[1]

	text := cfg.Text
	if text == "" {
		text = "Watermark"
	}
	text = strings.ReplaceAll(text, "'", "\\'")

	base := fmt.Sprintf(
		"drawtext=text='%s':fontsize=24:fontcolor=white@0.7:borderw=2:bordercolor=black@0.5",
		text,
	)

	switch cfg.Animation {
	case domain.AnimFadeIn:
		return fmt.Sprintf("%s:x=%s:y=%s:alpha='if(lt(t,2),t/2,1)'", base, x, y)
	case domain.AnimFadeInOut:
		if duration <= 0 {
			duration = fallbackDuration
		}
		return fmt.Sprintf(
			"%s:x=%s:y=%s:alpha='if(lt(t,2),t/2,if(gt(t,%.2f-2),(%.2f-t)/2,1))'",
			base, x, y, duration, duration,
		)
	case domain.AnimMoving:
		return fmt.Sprintf("%s:x='mod(t*50,w-tw)':y='mod(t*30,h-th)'", base)
	case domain.AnimBouncing:
		return fmt.Sprintf(
			"%s:x='abs(mod(t*100,2*(w-tw))-(w-tw))':y='abs(mod(t*70,2*(h-th))-(h-th))'",
			base,
		)
	case domain.AnimFloating:
		return fmt.Sprintf(
			"%s:x='(w-tw)/2+(w/4)*sin(t*0.7)':y='(h-th)/2+(h/4)*cos(t*0.5)'",
			base,
		)
	case domain.AnimScrolling:
		return fmt.Sprintf("%s:x='mod(t*80,w+tw)-tw':y=%s", base, y)
	case domain.AnimPulsing:
		return fmt.Sprintf("%s:x=%s:y=%s:alpha='0.3+0.7*abs(sin(t*2))'", base, x, y)
	default: // static
		return fmt.Sprintf("%s:x=%s:y=%s", base, x, y)
	}
}

const wmScale = "[1:v]scale=iw*0.15:-1,format=rgba,colorchannelmixer=aa=0.7[wm]"

// buildImageWatermarkFilter renders the overlay filter_complex for an image
// mark scaled to 15% of video width.
func buildImageWatermarkFilter(cfg domain.WatermarkConfig) string {
	pos := cfg.Position
	if _, ok := overlayPositions[pos]; !ok {
		pos = domain.PosBottomRight
	}
	xy := overlayPositions[pos]
	x, y := xy[0], xy[1]

	switch cfg.Animation {
	case domain.AnimFadeIn:
		return "[1:v]scale=iw*0.15:-1,format=rgba,colorchannelmixer=aa=0.7[wm_raw];" +
			"[wm_raw]fade=t=in:st=0:d=2:alpha=1[wm];" +
			fmt.Sprintf("[0:v][wm]overlay=%s:%s[out]", x, y)
	case domain.AnimFadeInOut:
		return "[1:v]scale=iw*0.15:-1,format=rgba,colorchannelmixer=aa=0.7[wm_raw];" +
			"[wm_raw]fade=t=in:st=0:d=2:alpha=1,fade=t=out:d=2:alpha=1[wm];" +
			fmt.Sprintf("[0:v][wm]overlay=%s:%s[out]", x, y)
	case domain.AnimMoving:
		return wmScale + ";[0:v][wm]overlay=x='mod(t*50,W-w)':y='mod(t*30,H-h)'[out]"
	case domain.AnimBouncing:
		return wmScale + ";[0:v][wm]overlay=" +
			"x='abs(mod(t*100,2*(W-w))-(W-w))':y='abs(mod(t*70,2*(H-h))-(H-h))'[out]"
	case domain.AnimFloating:
		return wmScale + ";[0:v][wm]overlay=" +
			"x='(W-w)/2+(W/4)*sin(t*0.7)':y='(H-h)/2+(H/4)*cos(t*0.5)'[out]"
	case domain.AnimScrolling:
		return wmScale + fmt.Sprintf(";[0:v][wm]overlay=x='mod(t*80,W+w)-w':y=%s[out]", y)
	case domain.AnimPulsing:
		// The overlay filter cannot modulate alpha over time; the mark is
		// rendered at fixed opacity.
		return "[1:v]scale=iw*0.15:-1,format=rgba[wm_raw];[wm_raw]colorchannelmixer=aa=0.7[wm];" +
			fmt.Sprintf("[0:v][wm]overlay=%s:%s:enable='1'[out]", x, y)
	default: // static
		return wmScale + fmt.Sprintf(";[0:v][wm]overlay=%s:%s[out]", x, y)
	}
}

func buildTextWatermarkArgs(inputPath, filter, outputPath string) []string {
	return []string{"-y", "-i", inputPath, "-vf", filter, "-c:a", "copy", outputPath}
}

func buildImageWatermarkArgs(inputPath, imagePath, filter, outputPath string) []string {
	return []string{
		"-y",
		"-i", inputPath,
		"-i", imagePath,
		"-filter_complex", filter,
		"-map", "[out]",
		"-map", "0:a?",
		"-c:a", "copy",
		outputPath,
	}
}

func (s *Service) watermark(ctx context.Context, job *Job, cfg domain.WatermarkConfig, status StatusSink) error {
	if len(job.Inputs) == 0 {
		return fmt.Errorf("%w: no inputs", ErrBadInputSet)
	}
	if cfg.Text == "" && cfg.ImagePath == "" {
		return fmt.Errorf("%w: watermark needs text or an image", ErrBadInputSet)
	}
	base, ext := splitName(job.OutputName)
	if ext == "" {
		ext = ".mp4"
	}
	total := len(job.Inputs)

	for i, in := range job.Inputs {
		status(fmt.Sprintf("Watermarking %d/%d...", i+1, total))
		name := numberedName(base, ext, i+1, total)
		out := filepath.Join(job.WorkDir, name)

		var args []string
		if cfg.ImagePath != "" {
			args = buildImageWatermarkArgs(in.Path, cfg.ImagePath, buildImageWatermarkFilter(cfg), out)
		} else {
			duration := 0.0
			if cfg.Animation == domain.AnimFadeInOut {
				if info, err := s.Prober.Probe(ctx, in.Path); err == nil {
					duration = info.Duration
				} else {
					s.Logger.Warn("tools: probe failed for fade timing",
						slog.String("task", job.TaskID),
						slog.String("error", err.Error()),
					)
				}
			}
			args = buildTextWatermarkArgs(in.Path, buildTextWatermarkFilter(cfg, duration), out)
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
