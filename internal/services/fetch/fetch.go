// Package fetch turns arbitrary URLs into local media files. A chain of
// strategies is tried in order; the first one producing a non-empty file
// set wins and the user only sees an error when every strategy failed.
package fetch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"path"
	"strings"
	"time"

	"medialeech/internal/domain/ports"
	"medialeech/internal/metrics"
)

const browserUA = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36"

// ErrNoMedia is returned when every strategy came back empty.
var ErrNoMedia = errors.New("no downloadable media found")

var directExts = map[string]bool{
	".mp4": true, ".mkv": true, ".avi": true, ".mov": true,
	".wmv": true, ".flv": true, ".webm": true, ".m3u8": true,
}

// Progress receives byte counts during long transfers. total is 0 when the
// server did not advertise a length.
type Progress func(downloaded, total int64)

// Result is one fetched file on disk.
type Result struct {
	Path string
	Name string
	Size int64
}

type Fetcher struct {
	Runner ports.Runner
	Cache  ports.FetchCache
	Client *http.Client
	Logger *slog.Logger
	YTDLP  string // binary name, default "yt-dlp"
	FFmpeg string // binary name, default "ffmpeg"
}

func (f *Fetcher) client() *http.Client {
	if f.Client != nil {
		return f.Client
	}
	return http.DefaultClient
}

func (f *Fetcher) headers(pageURL string) map[string]string {
	return map[string]string{
		"User-Agent": browserUA,
		"Referer":    pageURL,
	}
}

// Fetch resolves pageURL into local files under destDir. Strategies run in
// order: yt-dlp, HTML scrape, direct HTTP. Direct media links skip straight
// to the direct strategy.
func (f *Fetcher) Fetch(ctx context.Context, pageURL, destDir string, progress Progress) ([]Result, error) {
	if progress == nil {
		progress = func(int64, int64) {}
	}

	if isDirectMediaLink(pageURL) {
		f.Logger.Info("fetch: direct media link", slog.String("url", pageURL))
		if strings.Contains(pageURL, ".m3u8") {
			res, err := f.downloadHLS(ctx, pageURL, pageURL, destDir)
			if err != nil {
				return nil, err
			}
			return []Result{res}, nil
		}
		res, err := f.downloadDirect(ctx, pageURL, pageURL, destDir, "", progress)
		if err != nil {
			return nil, err
		}
		return []Result{res}, nil
	}

	type strategy struct {
		name string
		run  func(context.Context) ([]Result, error)
	}
	strategies := []strategy{
		{"ytdlp", func(ctx context.Context) ([]Result, error) {
			return f.fetchYTDLP(ctx, pageURL, destDir)
		}},
		{"scrape", func(ctx context.Context) ([]Result, error) {
			return f.fetchScrape(ctx, pageURL, destDir, progress)
		}},
		{"direct", func(ctx context.Context) ([]Result, error) {
			res, err := f.downloadDirect(ctx, pageURL, pageURL, destDir, "", progress)
			if err != nil {
				return nil, err
			}
			return []Result{res}, nil
		}},
	}

	var lastErr error
	for _, s := range strategies {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		metrics.FetchStrategyAttempts.WithLabelValues(s.name).Inc()
		start := time.Now()
		results, err := s.run(ctx)
		if err == nil && len(results) > 0 {
			metrics.FetchStrategyHits.WithLabelValues(s.name).Inc()
			f.Logger.Info("fetch: strategy succeeded",
				slog.String("strategy", s.name),
				slog.String("url", pageURL),
				slog.Int("files", len(results)),
				slog.Duration("elapsed", time.Since(start)),
			)
			return results, nil
		}
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return nil, err
		}
		if err != nil {
			lastErr = err
		}
		f.Logger.Debug("fetch: strategy failed, advancing",
			slog.String("strategy", s.name),
			slog.String("url", pageURL),
			slog.Any("error", err),
		)
	}
	if lastErr != nil {
		return nil, fmt.Errorf("%w: %v", ErrNoMedia, lastErr)
	}
	return nil, ErrNoMedia
}

// Direct treats rawURL as a file and downloads it without trying the
// extractor or scrape strategies. Used by the plain URL-upload command.
func (f *Fetcher) Direct(ctx context.Context, rawURL, destDir string, progress Progress) (Result, error) {
	if progress == nil {
		progress = func(int64, int64) {}
	}
	if strings.Contains(rawURL, ".m3u8") {
		return f.downloadHLS(ctx, rawURL, rawURL, destDir)
	}
	return f.downloadDirect(ctx, rawURL, rawURL, destDir, "", progress)
}

func isDirectMediaLink(raw string) bool {
	u, err := url.Parse(raw)
	if err != nil {
		return false
	}
	return directExts[strings.ToLower(path.Ext(u.Path))]
}

// nameFromURL derives a filename from the URL path, with a stable fallback.
func nameFromURL(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return "video.mp4"
	}
	name, err := url.PathUnescape(path.Base(u.Path))
	if err != nil || name == "" || name == "." || name == "/" {
		return "video.mp4"
	}
	return name
}
