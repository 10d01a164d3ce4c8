package fetch

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"context"
)

func (f *Fetcher) ffmpeg() string {
	if f.FFmpeg == "" {
		return "ffmpeg"
	}
	return f.FFmpeg
}

// headerBlock renders headers in the CRLF form ffmpeg's -headers expects.
func headerBlock(headers map[string]string) string {
	keys := make([]string, 0, len(headers))
	for k := range headers {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	var b strings.Builder
	for _, k := range keys {
		b.WriteString(k)
		b.WriteString(": ")
		b.WriteString(headers[k])
		b.WriteString("\r\n")
	}
	return b.String()
}

func buildHLSArgs(streamURL, headers, outputPath string) []string {
	return []string{
		"-y",
		"-headers", headers,
		"-i", streamURL,
		"-c:v", "libx264",
		"-c:a", "aac",
		"-movflags", "+faststart",
		outputPath,
	}
}

// downloadHLS pulls an HLS playlist through ffmpeg, re-encoding into a
// seekable mp4. Browser headers are forwarded so origin checks pass.
func (f *Fetcher) downloadHLS(ctx context.Context, streamURL, referer, destDir string) (Result, error) {
	name := nameFromURL(streamURL)
	if ext := filepath.Ext(name); ext != "" {
		name = strings.TrimSuffix(name, ext)
	}
	name += ".mp4"
	name = unsafeNameChars.ReplaceAllString(name, "_")
	dest := filepath.Join(destDir, name)

	args := buildHLSArgs(streamURL, headerBlock(f.headers(referer)), dest)
	res, err := f.Runner.Stream(ctx, nil, f.ffmpeg(), args...)
	if err != nil {
		return Result{}, err
	}
	if res.ExitCode != 0 {
		os.Remove(dest)
		return Result{}, fmt.Errorf("ffmpeg HLS download exit %d", res.ExitCode)
	}
	info, err := os.Stat(dest)
	if err != nil || info.Size() == 0 {
		os.Remove(dest)
		return Result{}, fmt.Errorf("HLS download produced no output")
	}
	return Result{Path: dest, Name: name, Size: info.Size()}, nil
}
