package fetch

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"
)

const (
	infoTimeout     = 60 * time.Second
	downloadTimeout = 45 * time.Minute
)

// Flag sets tried in order, loosest last. The generic extractor handles
// pages yt-dlp has no dedicated extractor for.
var infoFlagSets = [][]string{
	nil,
	{"--allow-unplayable-formats"},
	{"--force-generic-extractor"},
}

var downloadFlagSets = [][]string{
	{"-f", "bv*+ba/b/best"},
	{"-f", "best/bv+ba"},
	{"-f", "best", "--allow-unplayable-formats"},
	{"--force-generic-extractor", "-f", "best"},
}

type ytdlpInfo struct {
	Title string `json:"title"`
	Ext   string `json:"ext"`
	URL   string `json:"url"`
}

func (f *Fetcher) ytdlp() string {
	if f.YTDLP == "" {
		return "yt-dlp"
	}
	return f.YTDLP
}

// fetchYTDLP probes the URL in JSON-info mode first, then iterates download
// flag sets. Produced files are discovered by diffing the destination
// directory before and after.
func (f *Fetcher) fetchYTDLP(ctx context.Context, pageURL, destDir string) ([]Result, error) {
	if !f.probeYTDLP(ctx, pageURL) {
		return nil, fmt.Errorf("yt-dlp has no extractor for %s", pageURL)
	}

	before, err := dirEntries(destDir)
	if err != nil {
		return nil, err
	}

	outTemplate := filepath.Join(destDir, "%(title)s.%(ext)s")
	var lastErr error
	for _, flags := range downloadFlagSets {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		args := append([]string{"--no-playlist", "--no-warnings", "-o", outTemplate}, flags...)
		args = append(args, pageURL)
		res, err := f.Runner.Run(ctx, downloadTimeout, f.ytdlp(), args...)
		if err != nil {
			return nil, err
		}
		if res.ExitCode == 0 {
			results, err := newFiles(destDir, before)
			if err != nil {
				return nil, err
			}
			if len(results) > 0 {
				return results, nil
			}
			lastErr = fmt.Errorf("yt-dlp exited cleanly but wrote no files")
			continue
		}
		lastErr = fmt.Errorf("yt-dlp exit %d", res.ExitCode)
		f.Logger.Debug("fetch: yt-dlp flag set failed",
			slog.String("url", pageURL),
			slog.String("flags", fmt.Sprint(flags)),
			slog.Int("exit", res.ExitCode),
		)
	}
	return nil, lastErr
}

// probeYTDLP runs the info-only pass. A successful parse with any flag set
// means a download attempt is worthwhile.
func (f *Fetcher) probeYTDLP(ctx context.Context, pageURL string) bool {
	for _, flags := range infoFlagSets {
		if ctx.Err() != nil {
			return false
		}
		args := append([]string{"-J", "--no-playlist", "--no-warnings"}, flags...)
		args = append(args, pageURL)
		res, err := f.Runner.Run(ctx, infoTimeout, f.ytdlp(), args...)
		if err != nil || res.ExitCode != 0 {
			continue
		}
		var info ytdlpInfo
		if json.Unmarshal(res.Stdout, &info) == nil && (info.Title != "" || info.URL != "") {
			return true
		}
	}
	return false
}

func dirEntries(dir string) (map[string]bool, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	seen := make(map[string]bool, len(entries))
	for _, e := range entries {
		seen[e.Name()] = true
	}
	return seen, nil
}

// newFiles lists non-empty regular files that appeared since the snapshot,
// skipping yt-dlp's in-progress artifacts.
func newFiles(dir string, before map[string]bool) ([]Result, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	var out []Result
	for _, e := range entries {
		name := e.Name()
		if before[name] || e.IsDir() {
			continue
		}
		ext := filepath.Ext(name)
		if ext == ".part" || ext == ".ytdl" || ext == ".tmp" {
			continue
		}
		info, err := e.Info()
		if err != nil || info.Size() == 0 {
			continue
		}
		out = append(out, Result{
			Path: filepath.Join(dir, name),
			Name: name,
			Size: info.Size(),
		})
	}
	return out, nil
}
