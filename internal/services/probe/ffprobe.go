package probe

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"medialeech/internal/domain"
	"medialeech/internal/domain/ports"
)

const maxProbeTimeout = 30 * time.Second

// Prober extracts stream metadata with ffprobe. Inputs may be local paths or
// URLs; ffprobe handles both.
type Prober struct {
	binary string
	runner ports.Runner
}

func New(binary string, r ports.Runner) *Prober {
	bin := strings.TrimSpace(binary)
	if bin == "" {
		bin = "ffprobe"
	}
	return &Prober{binary: bin, runner: r}
}

func (p *Prober) Probe(ctx context.Context, input string) (domain.MediaInfo, error) {
	in := strings.TrimSpace(input)
	if in == "" {
		return domain.MediaInfo{}, errors.New("probe input is required")
	}

	res, err := p.runner.Run(ctx, maxProbeTimeout, p.binary,
		"-v", "quiet",
		"-print_format", "json",
		"-show_streams",
		"-show_format",
		in,
	)
	if err != nil {
		return domain.MediaInfo{}, fmt.Errorf("ffprobe failed: %w", err)
	}

	info, parseErr := parseProbeOutput(res.Stdout)
	if parseErr != nil {
		if res.ExitCode != 0 {
			msg := strings.TrimSpace(string(res.Stderr))
			if msg == "" {
				return domain.MediaInfo{}, fmt.Errorf("ffprobe exit %d", res.ExitCode)
			}
			return domain.MediaInfo{}, fmt.Errorf("ffprobe exit %d: %s", res.ExitCode, msg)
		}
		return domain.MediaInfo{}, fmt.Errorf("ffprobe output parse failed: %w", parseErr)
	}

	// ffprobe can exit non-zero for truncated files yet still emit usable
	// stream metadata. Keep it if present.
	if res.ExitCode != 0 && len(info.Tracks) == 0 {
		return domain.MediaInfo{}, fmt.Errorf("ffprobe exit %d: %s", res.ExitCode, strings.TrimSpace(string(res.Stderr)))
	}

	return info, nil
}

// probePayload is the subset of ffprobe JSON output we parse.
type probePayload struct {
	Streams []probeStream `json:"streams"`
	Format  probeFormat   `json:"format"`
}

type probeStream struct {
	CodecType   string            `json:"codec_type"`
	CodecName   string            `json:"codec_name"`
	BitRate     string            `json:"bit_rate"`
	Tags        map[string]string `json:"tags"`
	Disposition struct {
		Default int `json:"default"`
	} `json:"disposition"`
}

type probeFormat struct {
	Duration   string `json:"duration"`
	Size       string `json:"size"`
	FormatName string `json:"format_name"`
	BitRate    string `json:"bit_rate"`
}

// parseProbeOutput parses raw ffprobe JSON output into a domain.MediaInfo.
func parseProbeOutput(data []byte) (domain.MediaInfo, error) {
	var payload probePayload
	if err := json.Unmarshal(data, &payload); err != nil {
		return domain.MediaInfo{}, err
	}

	tracks := make([]domain.MediaTrack, 0, len(payload.Streams))
	perType := map[string]int{}

	for _, stream := range payload.Streams {
		switch stream.CodecType {
		case "video", "audio", "subtitle":
			tracks = append(tracks, domain.MediaTrack{
				Index:    perType[stream.CodecType],
				Type:     stream.CodecType,
				Codec:    stream.CodecName,
				Language: strings.TrimSpace(getTag(stream.Tags, "language")),
				Title:    strings.TrimSpace(getTag(stream.Tags, "title")),
				Bitrate:  parseInt64(stream.BitRate),
				Default:  stream.Disposition.Default == 1,
			})
			perType[stream.CodecType]++
		}
	}

	var duration float64
	if payload.Format.Duration != "" {
		if d, err := strconv.ParseFloat(payload.Format.Duration, 64); err == nil && d > 0 {
			duration = d
		}
	}

	return domain.MediaInfo{
		Tracks:   tracks,
		Duration: duration,
		Size:     parseInt64(payload.Format.Size),
		Format:   payload.Format.FormatName,
	}, nil
}

func parseInt64(raw string) int64 {
	if raw == "" {
		return 0
	}
	v, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || v < 0 {
		return 0
	}
	return v
}

func getTag(tags map[string]string, key string) string {
	if len(tags) == 0 {
		return ""
	}
	if value, ok := tags[key]; ok {
		return value
	}
	if value, ok := tags[strings.ToUpper(key)]; ok {
		return value
	}
	return ""
}
