// Package torrent talks to a qBittorrent WebUI instance. Downloads run in
// the external daemon; this client only submits, polls and deletes.
package torrent

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"medialeech/internal/domain/ports"
)

const apiTimeout = 30 * time.Second

// States reported by the daemon that mean the payload is fully on disk.
var doneStates = map[string]bool{
	"uploading": true, "pausedUP": true, "stalledUP": true, "queuedUP": true,
}

var errorStates = map[string]bool{
	"error": true, "missingFiles": true,
}

// Done reports whether a torrent state means the download finished.
func Done(state string, progress float64) bool {
	return progress >= 1 || doneStates[state]
}

// Failed reports whether a torrent state is unrecoverable.
func Failed(state string) bool {
	return errorStates[state]
}

type Config struct {
	BaseURL  string
	Username string
	Password string
}

// Client is a cookie-authenticated qBittorrent WebUI v2 client.
type Client struct {
	cfg    Config
	http   *http.Client
	logger *slog.Logger

	mu       sync.Mutex
	loggedIn bool
}

func NewClient(cfg Config, logger *slog.Logger) (*Client, error) {
	jar, err := cookiejar.New(nil)
	if err != nil {
		return nil, err
	}
	return &Client{
		cfg:    cfg,
		http:   &http.Client{Jar: jar, Timeout: apiTimeout},
		logger: logger,
	}, nil
}

func (c *Client) endpoint(p string) string {
	return strings.TrimRight(c.cfg.BaseURL, "/") + "/api/v2" + p
}

// login acquires the SID cookie. The daemon expires sessions, so callers
// retry once through ensureLogin on auth failures.
func (c *Client) login(ctx context.Context) error {
	form := url.Values{
		"username": {c.cfg.Username},
		"password": {c.cfg.Password},
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint("/auth/login"),
		strings.NewReader(form.Encode()))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 256))
	if resp.StatusCode != http.StatusOK || !strings.HasPrefix(string(body), "Ok") {
		return fmt.Errorf("qbittorrent login failed: HTTP %d %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}
	c.mu.Lock()
	c.loggedIn = true
	c.mu.Unlock()
	return nil
}

func (c *Client) ensureLogin(ctx context.Context) error {
	c.mu.Lock()
	ok := c.loggedIn
	c.mu.Unlock()
	if ok {
		return nil
	}
	return c.login(ctx)
}

func (c *Client) postForm(ctx context.Context, path string, form url.Values) error {
	if err := c.ensureLogin(ctx); err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint(path),
		strings.NewReader(form.Encode()))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode == http.StatusForbidden {
		// Session expired; log in again and retry once.
		c.mu.Lock()
		c.loggedIn = false
		c.mu.Unlock()
		if err := c.login(ctx); err != nil {
			return err
		}
		return c.postForm(ctx, path, form)
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("qbittorrent %s: HTTP %d", path, resp.StatusCode)
	}
	return nil
}

// AddMagnet submits a magnet link, downloading into savePath.
func (c *Client) AddMagnet(ctx context.Context, magnet, savePath string) error {
	return c.postForm(ctx, "/torrents/add", url.Values{
		"urls":     {magnet},
		"savepath": {savePath},
	})
}

// AddFile submits a .torrent file from disk.
func (c *Client) AddFile(ctx context.Context, torrentPath, savePath string) error {
	if err := c.ensureLogin(ctx); err != nil {
		return err
	}
	data, err := os.ReadFile(torrentPath)
	if err != nil {
		return err
	}
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	fw, err := w.CreateFormFile("torrents", filepath.Base(torrentPath))
	if err != nil {
		return err
	}
	if _, err := fw.Write(data); err != nil {
		return err
	}
	if err := w.WriteField("savepath", savePath); err != nil {
		return err
	}
	if err := w.Close(); err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint("/torrents/add"), &buf)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", w.FormDataContentType())
	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("qbittorrent torrents/add: HTTP %d", resp.StatusCode)
	}
	return nil
}

type torrentInfo struct {
	Hash        string  `json:"hash"`
	Name        string  `json:"name"`
	State       string  `json:"state"`
	Progress    float64 `json:"progress"`
	TotalSize   int64   `json:"total_size"`
	Downloaded  int64   `json:"downloaded"`
	DLSpeed     int64   `json:"dlspeed"`
	ETA         int64   `json:"eta"`
	ContentPath string  `json:"content_path"`
}

func (t torrentInfo) toStatus() ports.TorrentStatus {
	return ports.TorrentStatus{
		Hash:          t.Hash,
		Name:          t.Name,
		State:         t.State,
		Progress:      t.Progress,
		TotalSize:     t.TotalSize,
		Downloaded:    t.Downloaded,
		DownloadSpeed: t.DLSpeed,
		ETASeconds:    t.ETA,
		ContentPath:   t.ContentPath,
	}
}

func (c *Client) getInfo(ctx context.Context, query url.Values) ([]ports.TorrentStatus, error) {
	if err := c.ensureLogin(ctx); err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet,
		c.endpoint("/torrents/info")+"?"+query.Encode(), nil)
	if err != nil {
		return nil, err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode == http.StatusForbidden {
		c.mu.Lock()
		c.loggedIn = false
		c.mu.Unlock()
		if err := c.login(ctx); err != nil {
			return nil, err
		}
		return c.getInfo(ctx, query)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("qbittorrent torrents/info: HTTP %d", resp.StatusCode)
	}
	var infos []torrentInfo
	if err := json.NewDecoder(resp.Body).Decode(&infos); err != nil {
		return nil, err
	}
	out := make([]ports.TorrentStatus, len(infos))
	for i, t := range infos {
		out[i] = t.toStatus()
	}
	return out, nil
}

// Recent lists the most recently added torrents, newest first.
func (c *Client) Recent(ctx context.Context, limit int) ([]ports.TorrentStatus, error) {
	return c.getInfo(ctx, url.Values{
		"sort":    {"added_on"},
		"reverse": {"true"},
		"limit":   {fmt.Sprint(limit)},
	})
}

// Info fetches one torrent by hash.
func (c *Client) Info(ctx context.Context, hash string) (ports.TorrentStatus, error) {
	infos, err := c.getInfo(ctx, url.Values{"hashes": {hash}})
	if err != nil {
		return ports.TorrentStatus{}, err
	}
	if len(infos) == 0 {
		return ports.TorrentStatus{}, fmt.Errorf("torrent %s not found", hash)
	}
	return infos[0], nil
}

// Delete removes the torrent and its payload from the daemon.
func (c *Client) Delete(ctx context.Context, hash string, deleteFiles bool) error {
	return c.postForm(ctx, "/torrents/delete", url.Values{
		"hashes":      {hash},
		"deleteFiles": {fmt.Sprint(deleteFiles)},
	})
}
