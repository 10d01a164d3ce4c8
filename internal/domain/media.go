package domain

import (
	"fmt"
	"path/filepath"
	"strings"
)

type MediaTrack struct {
	Index    int    `json:"index"`
	Type     string `json:"type"`
	Codec    string `json:"codec"`
	Language string `json:"language"`
	Title    string `json:"title"`
	Bitrate  int64  `json:"bitrate"`
	Default  bool   `json:"default"`
}

type MediaInfo struct {
	Tracks   []MediaTrack `json:"tracks"`
	Duration float64      `json:"duration"`
	Size     int64        `json:"size"`
	Format   string       `json:"format"`
}

// AudioBitrate returns the bitrate of the first audio track, or 0.
func (m MediaInfo) AudioBitrate() int64 {
	for _, t := range m.Tracks {
		if t.Type == "audio" {
			return t.Bitrate
		}
	}
	return 0
}

// MediaClass buckets a file by what the chat platform should treat it as.
type MediaClass int

const (
	ClassDocument MediaClass = iota
	ClassVideo
	ClassAudio
	ClassImage
	ClassSubtitle
)

var videoExts = map[string]bool{
	".mp4": true, ".mkv": true, ".avi": true, ".webm": true,
	".mov": true, ".flv": true, ".ts": true, ".wmv": true, ".m4v": true,
}

var audioExts = map[string]bool{
	".mp3": true, ".aac": true, ".ogg": true, ".flac": true,
	".wav": true, ".m4a": true, ".opus": true, ".mka": true,
}

var imageExts = map[string]bool{
	".jpg": true, ".jpeg": true, ".png": true, ".webp": true,
}

var subtitleExts = map[string]bool{
	".srt": true, ".ass": true, ".ssa": true, ".vtt": true, ".sub": true,
}

// ClassifyName buckets a filename by extension.
func ClassifyName(name string) MediaClass {
	ext := strings.ToLower(filepath.Ext(name))
	switch {
	case videoExts[ext]:
		return ClassVideo
	case audioExts[ext]:
		return ClassAudio
	case imageExts[ext]:
		return ClassImage
	case subtitleExts[ext]:
		return ClassSubtitle
	default:
		return ClassDocument
	}
}

// HumanBytes renders a byte count for user-facing messages.
func HumanBytes(n int64) string {
	if n <= 0 {
		return "0 B"
	}
	units := []string{"B", "KiB", "MiB", "GiB", "TiB"}
	size := float64(n)
	i := 0
	for size >= 1024 && i < len(units)-1 {
		size /= 1024
		i++
	}
	if i == 0 {
		return fmt.Sprintf("%d B", n)
	}
	return fmt.Sprintf("%.2f %s", size, units[i])
}
