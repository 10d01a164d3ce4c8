package fetch

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"regexp"
	"time"
)

// TweetURLPattern matches twitter.com and x.com status links, capturing the
// tweet id.
var TweetURLPattern = regexp.MustCompile(`(?:https?://)?(?:www\.)?(?:twitter|x)\.com/\w+/(?:status|web)/(\d+)`)

const tweetAPITimeout = 30 * time.Second

// TweetMedia is one downloadable item from a tweet.
type TweetMedia struct {
	URL          string `json:"url"`
	Type         string `json:"type"` // video, gif, image
	ThumbnailURL string `json:"thumbnail_url"`
}

type tweetResponse struct {
	MediaExtended []TweetMedia `json:"media_extended"`
}

// TweetID extracts the status id from a tweet URL, or "".
func TweetID(text string) string {
	m := TweetURLPattern.FindStringSubmatch(text)
	if m == nil {
		return ""
	}
	return m[1]
}

// TweetMediaList resolves a tweet into its media items through the proxy
// API at apiBase.
func (f *Fetcher) TweetMediaList(ctx context.Context, apiBase, tweetID string) ([]TweetMedia, error) {
	cctx, cancel := context.WithTimeout(ctx, tweetAPITimeout)
	defer cancel()
	endpoint := fmt.Sprintf("%s/Twitter/status/%s", apiBase, tweetID)
	req, err := http.NewRequestWithContext(cctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, err
	}
	resp, err := f.client().Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("tweet API returned HTTP %d", resp.StatusCode)
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, err
	}
	var parsed tweetResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return nil, fmt.Errorf("tweet API returned an invalid response: %w", err)
	}
	items := parsed.MediaExtended[:0:0]
	for _, m := range parsed.MediaExtended {
		if m.URL != "" {
			items = append(items, m)
		}
	}
	return items, nil
}

// DownloadTweetMedia fetches one media item (and its thumbnail when
// present) into destDir.
func (f *Fetcher) DownloadTweetMedia(ctx context.Context, item TweetMedia, destDir, name string, progress Progress) (Result, string, error) {
	if progress == nil {
		progress = func(int64, int64) {}
	}
	res, err := f.downloadDirect(ctx, item.URL, item.URL, destDir, name, progress)
	if err != nil {
		return Result{}, "", err
	}
	thumb := ""
	if item.ThumbnailURL != "" {
		if t, terr := f.downloadDirect(ctx, item.ThumbnailURL, item.URL, destDir, "thumb.jpg", nil); terr == nil {
			thumb = t.Path
		}
	}
	return res, thumb, nil
}
