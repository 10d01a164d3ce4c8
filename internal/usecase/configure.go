package usecase

import (
	"context"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"medialeech/internal/domain"
	"medialeech/internal/domain/ports"
	"medialeech/internal/services/dialog"
)

const (
	toolMenuTimeout = 60 * time.Second
	optionTimeout   = 60 * time.Second
	textTimeout     = 90 * time.Second
)

var timestampRe = regexp.MustCompile(`^\d{1,2}:\d{2}:\d{2}$`)

// ValidTimestamp reports whether s is an HH:MM:SS timestamp.
func ValidTimestamp(s string) bool {
	if !timestampRe.MatchString(s) {
		return false
	}
	parts := strings.Split(s, ":")
	m, _ := strconv.Atoi(parts[1])
	sec, _ := strconv.Atoi(parts[2])
	return m < 60 && sec < 60
}

var toolLabels = map[domain.ToolTag]string{
	domain.ToolConcat:       "Video + Video",
	domain.ToolMux:          "Video + Audio",
	domain.ToolAudioConcat:  "Audio + Audio",
	domain.ToolSubtitle:     "Video + Subtitle",
	domain.ToolCompress:     "Compress",
	domain.ToolWatermark:    "Watermark",
	domain.ToolTrim:         "Trim",
	domain.ToolCut:          "Cut",
	domain.ToolExtractAudio: "Extract Audio",
	domain.ToolExtractVideo: "Extract Video",
}

func toolMenuRows() [][]ports.Button {
	var rows [][]ports.Button
	var row []ports.Button
	for _, tag := range domain.AllTools {
		row = append(row, ports.Button{
			Label: toolLabels[tag],
			Data:  dialog.PrefixTool + string(tag),
		})
		if len(row) == 2 {
			rows = append(rows, row)
			row = nil
		}
	}
	if len(row) > 0 {
		rows = append(rows, row)
	}
	rows = append(rows, []ports.Button{{Label: "Cancel", Data: dialog.DataCancel}})
	return rows
}

// ConfigParams carries flag values parsed from the command line; the dialog
// only asks for what the flags did not provide.
type ConfigParams struct {
	Tool  domain.ToolTag
	Start string
	End   string
}

// Configure drives the per-task dialogue until a complete tool config is
// assembled. A fresh tool button during any prompt re-opens tool selection.
func Configure(ctx context.Context, s *dialog.Session, p ConfigParams) (domain.ToolConfig, error) {
	tag := p.Tool
	for {
		if tag == "" {
			data, err := s.AskButtons(ctx, "Choose a tool:", toolMenuRows(), toolMenuTimeout)
			if err != nil {
				return nil, err
			}
			tag = domain.ToolTag(strings.TrimPrefix(data, dialog.PrefixTool))
		}
		cfg, retry, err := configureTool(ctx, s, tag, p)
		if err != nil {
			return nil, err
		}
		if retry != "" {
			// The user pressed another tool button mid-dialogue.
			tag = retry
			continue
		}
		return cfg, nil
	}
}

// configureTool collects the options for one tool. A non-empty retry tag
// means the user switched tools.
func configureTool(ctx context.Context, s *dialog.Session, tag domain.ToolTag, p ConfigParams) (domain.ToolConfig, domain.ToolTag, error) {
	switch tag {
	case domain.ToolConcat:
		return domain.ConcatConfig{}, "", nil

	case domain.ToolMux:
		data, err := s.AskButtons(ctx, "Original audio:", [][]ports.Button{
			{
				{Label: "Keep", Data: dialog.PrefixAudioMode + "keep"},
				{Label: "Drop", Data: dialog.PrefixAudioMode + "drop"},
			},
			{{Label: "Cancel", Data: dialog.DataCancel}},
		}, optionTimeout)
		if err != nil {
			return nil, "", err
		}
		if retry := toolSwitch(data); retry != "" {
			return nil, retry, nil
		}
		return domain.MuxConfig{KeepOriginalAudio: data == dialog.PrefixAudioMode + "keep"}, "", nil

	case domain.ToolAudioConcat:
		return domain.AudioConcatConfig{}, "", nil

	case domain.ToolSubtitle:
		data, err := s.AskButtons(ctx, "Subtitle mode:", [][]ports.Button{
			{
				{Label: "Burn in", Data: dialog.PrefixSubtitleMode + "burn"},
				{Label: "Soft streams", Data: dialog.PrefixSubtitleMode + "soft"},
			},
			{{Label: "Cancel", Data: dialog.DataCancel}},
		}, optionTimeout)
		if err != nil {
			return nil, "", err
		}
		if retry := toolSwitch(data); retry != "" {
			return nil, retry, nil
		}
		cfg := domain.SubtitleConfig{Burn: data == dialog.PrefixSubtitleMode + "burn"}
		if cfg.Burn {
			idx, err := askInt(ctx, s, "Subtitle number to burn (1 for the first):", 1, 99)
			if err != nil {
				return nil, "", err
			}
			cfg.TrackIndex = idx - 1
		}
		return cfg, "", nil

	case domain.ToolCompress:
		data, err := s.AskButtons(ctx, "Compression mode:", [][]ports.Button{
			{
				{Label: "High quality (CRF 18)", Data: dialog.PrefixCompressMode + "1"},
				{Label: "Balanced (CRF 23)", Data: dialog.PrefixCompressMode + "2"},
			},
			{
				{Label: "High compression (CRF 28)", Data: dialog.PrefixCompressMode + "3"},
				{Label: "Target size", Data: dialog.PrefixCompressMode + "4"},
			},
			{
				{Label: "Custom CRF", Data: dialog.PrefixCompressMode + "5"},
				{Label: "Cancel", Data: dialog.DataCancel},
			},
		}, optionTimeout)
		if err != nil {
			return nil, "", err
		}
		if retry := toolSwitch(data); retry != "" {
			return nil, retry, nil
		}
		mode, _ := strconv.Atoi(strings.TrimPrefix(data, dialog.PrefixCompressMode))
		cfg := domain.CompressConfig{Mode: domain.CompressMode(mode)}
		switch cfg.Mode {
		case domain.CompressTargetSize:
			mib, err := askInt(ctx, s, "Target size in MiB:", 1, 100*1024)
			if err != nil {
				return nil, "", err
			}
			cfg.TargetBytes = int64(mib) << 20
		case domain.CompressCustomCRF:
			crf, err := askInt(ctx, s, "CRF value (0-51, lower is better):", 0, 51)
			if err != nil {
				return nil, "", err
			}
			cfg.CRF = crf
		}
		return cfg, "", nil

	case domain.ToolWatermark:
		text, err := s.AskText(ctx, "Watermark text:", textTimeout)
		if err != nil {
			return nil, "", err
		}
		if text == "" {
			return nil, "", fmt.Errorf("%w: watermark text is required", ErrUserInput)
		}
		anim, retry, err := askWatermarkAnimation(ctx, s)
		if err != nil || retry != "" {
			return nil, retry, err
		}
		cfg := domain.WatermarkConfig{Text: text, Animation: anim, Position: domain.PosBottomRight}
		if needsPosition(anim) {
			pos, retry, err := askWatermarkPosition(ctx, s)
			if err != nil || retry != "" {
				return nil, retry, err
			}
			cfg.Position = pos
		}
		return cfg, "", nil

	case domain.ToolTrim:
		start, end, err := askRange(ctx, s, p.Start, p.End)
		if err != nil {
			return nil, "", err
		}
		return domain.TrimConfig{Start: start, End: end}, "", nil

	case domain.ToolCut:
		start, end, err := askRange(ctx, s, p.Start, p.End)
		if err != nil {
			return nil, "", err
		}
		return domain.CutConfig{Start: start, End: end}, "", nil

	case domain.ToolExtractAudio:
		data, err := s.AskButtons(ctx, "Audio format:", [][]ports.Button{
			{
				{Label: "MP3", Data: dialog.PrefixAudioFormat + "mp3"},
				{Label: "AAC", Data: dialog.PrefixAudioFormat + "aac"},
			},
			{
				{Label: "WAV", Data: dialog.PrefixAudioFormat + "wav"},
				{Label: "Keep original", Data: dialog.PrefixAudioFormat + "copy"},
			},
			{{Label: "Cancel", Data: dialog.DataCancel}},
		}, optionTimeout)
		if err != nil {
			return nil, "", err
		}
		if retry := toolSwitch(data); retry != "" {
			return nil, retry, nil
		}
		return domain.ExtractAudioConfig{
			Format: domain.AudioFormat(strings.TrimPrefix(data, dialog.PrefixAudioFormat)),
		}, "", nil

	case domain.ToolExtractVideo:
		return domain.ExtractVideoConfig{}, "", nil

	default:
		return nil, "", fmt.Errorf("%w: unknown tool %q", ErrUserInput, tag)
	}
}

// toolSwitch detects a tool button pressed while another prompt was open.
func toolSwitch(data string) domain.ToolTag {
	if strings.HasPrefix(data, dialog.PrefixTool) {
		return domain.ToolTag(strings.TrimPrefix(data, dialog.PrefixTool))
	}
	return ""
}

func needsPosition(anim domain.WatermarkAnimation) bool {
	switch anim {
	case domain.AnimMoving, domain.AnimBouncing, domain.AnimScrolling:
		return false
	}
	return true
}

func askWatermarkAnimation(ctx context.Context, s *dialog.Session) (domain.WatermarkAnimation, domain.ToolTag, error) {
	data, err := s.AskButtons(ctx, "Animation:", [][]ports.Button{
		{
			{Label: "Static", Data: dialog.PrefixWatermarkMode + string(domain.AnimStatic)},
			{Label: "Fade in", Data: dialog.PrefixWatermarkMode + string(domain.AnimFadeIn)},
		},
		{
			{Label: "Fade in/out", Data: dialog.PrefixWatermarkMode + string(domain.AnimFadeInOut)},
			{Label: "Moving", Data: dialog.PrefixWatermarkMode + string(domain.AnimMoving)},
		},
		{
			{Label: "Bouncing", Data: dialog.PrefixWatermarkMode + string(domain.AnimBouncing)},
			{Label: "Floating", Data: dialog.PrefixWatermarkMode + string(domain.AnimFloating)},
		},
		{
			{Label: "Scrolling", Data: dialog.PrefixWatermarkMode + string(domain.AnimScrolling)},
			{Label: "Pulsing", Data: dialog.PrefixWatermarkMode + string(domain.AnimPulsing)},
		},
		{{Label: "Cancel", Data: dialog.DataCancel}},
	}, optionTimeout)
	if err != nil {
		return "", "", err
	}
	if retry := toolSwitch(data); retry != "" {
		return "", retry, nil
	}
	return domain.WatermarkAnimation(strings.TrimPrefix(data, dialog.PrefixWatermarkMode)), "", nil
}

func askWatermarkPosition(ctx context.Context, s *dialog.Session) (domain.WatermarkPosition, domain.ToolTag, error) {
	data, err := s.AskButtons(ctx, "Position:", [][]ports.Button{
		{
			{Label: "Top left", Data: dialog.PrefixWatermarkPos + string(domain.PosTopLeft)},
			{Label: "Top right", Data: dialog.PrefixWatermarkPos + string(domain.PosTopRight)},
		},
		{
			{Label: "Bottom left", Data: dialog.PrefixWatermarkPos + string(domain.PosBottomLeft)},
			{Label: "Bottom right", Data: dialog.PrefixWatermarkPos + string(domain.PosBottomRight)},
		},
		{
			{Label: "Centre", Data: dialog.PrefixWatermarkPos + string(domain.PosCenter)},
			{Label: "Cancel", Data: dialog.DataCancel},
		},
	}, optionTimeout)
	if err != nil {
		return "", "", err
	}
	if retry := toolSwitch(data); retry != "" {
		return "", retry, nil
	}
	return domain.WatermarkPosition(strings.TrimPrefix(data, dialog.PrefixWatermarkPos)), "", nil
}

// askInt prompts until the user sends an integer in [min,max], bounded to
// three attempts.
func askInt(ctx context.Context, s *dialog.Session, prompt string, min, max int) (int, error) {
	for attempt := 0; attempt < 3; attempt++ {
		text, err := s.AskText(ctx, prompt, textTimeout)
		if err != nil {
			return 0, err
		}
		n, convErr := strconv.Atoi(strings.TrimSpace(text))
		if convErr == nil && n >= min && n <= max {
			return n, nil
		}
		prompt = fmt.Sprintf("Send a number between %d and %d:", min, max)
	}
	return 0, fmt.Errorf("%w: expected a number", ErrUserInput)
}

// askRange fills in missing trim/cut boundaries.
func askRange(ctx context.Context, s *dialog.Session, start, end string) (string, string, error) {
	var err error
	if start == "" {
		start, err = askTimestamp(ctx, s, "Start time (HH:MM:SS):")
		if err != nil {
			return "", "", err
		}
	}
	if end == "" {
		end, err = askTimestamp(ctx, s, "End time (HH:MM:SS):")
		if err != nil {
			return "", "", err
		}
	}
	if !ValidTimestamp(start) || !ValidTimestamp(end) {
		return "", "", fmt.Errorf("%w: timestamps must be HH:MM:SS", ErrUserInput)
	}
	return start, end, nil
}

func askTimestamp(ctx context.Context, s *dialog.Session, prompt string) (string, error) {
	for attempt := 0; attempt < 3; attempt++ {
		text, err := s.AskText(ctx, prompt, textTimeout)
		if err != nil {
			return "", err
		}
		text = strings.TrimSpace(text)
		if ValidTimestamp(text) {
			return text, nil
		}
		prompt = "That is not HH:MM:SS, try again:"
	}
	return "", fmt.Errorf("%w: expected HH:MM:SS", ErrUserInput)
}

// ConfirmDone waits for the user to type "done" before the pipeline starts.
func ConfirmDone(ctx context.Context, s *dialog.Session) error {
	prompt := "Type done to start."
	for attempt := 0; attempt < 3; attempt++ {
		text, err := s.AskText(ctx, prompt, optionTimeout)
		if err != nil {
			return err
		}
		switch strings.ToLower(strings.TrimSpace(text)) {
		case "done", "/done":
			return nil
		case "cancel", "/cancel":
			return dialog.ErrCancelled
		}
		prompt = "Type done to start, or cancel to abort."
	}
	return fmt.Errorf("%w: confirmation not received", ErrUserInput)
}
