package fetch

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"regexp"
	"sort"
	"strings"
	"time"

	"golang.org/x/net/html"
)

const (
	scrapeTimeout  = 30 * time.Second
	maxPageBytes   = 8 << 20
	maxCandidates  = 5
	scrapeCacheTTL = 15 * time.Minute
)

// Regexes covering the common ways players stash the stream URL in inline
// JavaScript when no <video> element is present.
var scrapePatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)source\s*:\s*["']([^"']+\.(?:mp4|m3u8|mkv)[^"']*)["']`),
	regexp.MustCompile(`(?i)"file"\s*:\s*"([^"]+\.(?:mp4|m3u8|mkv)[^"]*)"`),
	regexp.MustCompile(`(?i)"src"\s*:\s*"([^"]+\.(?:mp4|m3u8|mkv)[^"]*)"`),
	regexp.MustCompile(`(?i)"(?:url|video_url|stream_url|hls)"\s*:\s*"([^"]+\.(?:mp4|m3u8|webm)[^"]*)"`),
	regexp.MustCompile(`(?i)https?://[^\s"'<>]+\.(?:mp4|mkv|webm|m3u8)[^\s"'<>]*`),
}

// fetchScrape pulls the page with browser headers and mines it for media
// URLs. Candidates are tried best-first until one downloads.
func (f *Fetcher) fetchScrape(ctx context.Context, pageURL, destDir string, progress Progress) ([]Result, error) {
	body, err := f.fetchPage(ctx, pageURL)
	if err != nil {
		return nil, err
	}

	candidates := extractCandidates(body, pageURL)
	if len(candidates) == 0 {
		return nil, fmt.Errorf("no media candidates on page")
	}
	if len(candidates) > maxCandidates {
		candidates = candidates[:maxCandidates]
	}

	var lastErr error
	for _, cand := range candidates {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		var res Result
		if strings.Contains(cand, ".m3u8") {
			res, err = f.downloadHLS(ctx, cand, pageURL, destDir)
		} else {
			res, err = f.downloadDirect(ctx, cand, pageURL, destDir, "", progress)
		}
		if err == nil {
			return []Result{res}, nil
		}
		lastErr = err
	}
	return nil, lastErr
}

// fetchPage returns the page HTML, consulting the cache so repeated task
// attempts against the same page do not re-hit the origin.
func (f *Fetcher) fetchPage(ctx context.Context, pageURL string) (string, error) {
	if f.Cache != nil {
		if cached, err := f.Cache.Get(ctx, "page:"+pageURL); err == nil && cached != "" {
			return cached, nil
		}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, pageURL, nil)
	if err != nil {
		return "", err
	}
	for k, v := range f.headers(pageURL) {
		req.Header.Set(k, v)
	}
	cctx, cancel := context.WithTimeout(ctx, scrapeTimeout)
	defer cancel()
	resp, err := f.client().Do(req.WithContext(cctx))
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("page returned HTTP %d", resp.StatusCode)
	}
	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxPageBytes))
	if err != nil {
		return "", err
	}
	body := string(raw)
	if f.Cache != nil {
		_ = f.Cache.Set(ctx, "page:"+pageURL, body, scrapeCacheTTL)
	}
	return body, nil
}

// extractCandidates mines media URLs from the document. DOM sources win
// over regex hits; everything is resolved against the page URL and sorted
// by container preference.
func extractCandidates(body, pageURL string) []string {
	base, err := url.Parse(pageURL)
	if err != nil {
		base = nil
	}

	seen := map[string]bool{}
	var out []string
	add := func(raw string) {
		raw = strings.TrimSpace(raw)
		if raw == "" {
			return
		}
		if base != nil {
			if ref, err := url.Parse(raw); err == nil {
				raw = base.ResolveReference(ref).String()
			}
		}
		if !seen[raw] {
			seen[raw] = true
			out = append(out, raw)
		}
	}

	if doc, err := html.Parse(strings.NewReader(body)); err == nil {
		walkHTML(doc, add)
	}
	for _, re := range scrapePatterns {
		for _, m := range re.FindAllStringSubmatch(body, -1) {
			if len(m) > 1 {
				add(m[1])
			} else {
				add(m[0])
			}
		}
	}

	sort.SliceStable(out, func(i, j int) bool {
		return candidateRank(out[i]) < candidateRank(out[j])
	})
	return out
}

func walkHTML(n *html.Node, add func(string)) {
	if n.Type == html.ElementNode {
		switch n.Data {
		case "video", "source":
			for _, a := range n.Attr {
				if a.Key == "src" {
					add(a.Val)
				}
			}
		case "meta":
			var prop, content string
			for _, a := range n.Attr {
				switch a.Key {
				case "property", "name":
					prop = a.Val
				case "content":
					content = a.Val
				}
			}
			if prop == "og:video" || prop == "og:video:url" || prop == "og:video:secure_url" {
				add(content)
			}
		}
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		walkHTML(c, add)
	}
}

func candidateRank(u string) int {
	switch {
	case strings.Contains(u, ".mp4"):
		return 0
	case strings.Contains(u, ".m3u8"):
		return 1
	case strings.Contains(u, ".webm"):
		return 2
	default:
		return 3
	}
}
