package fetch

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"medialeech/internal/domain/ports"
)

type fakeRunner struct {
	exitCode int
	stdout   string
	calls    int
}

func (f *fakeRunner) Run(ctx context.Context, timeout time.Duration, name string, args ...string) (ports.CmdResult, error) {
	f.calls++
	return ports.CmdResult{ExitCode: f.exitCode, Stdout: []byte(f.stdout)}, nil
}

func (f *fakeRunner) Stream(ctx context.Context, onLine func(string), name string, args ...string) (ports.CmdResult, error) {
	return f.Run(ctx, 0, name, args...)
}

func TestExtractCandidates(t *testing.T) {
	body := `<html><head>
<meta property="og:video" content="/og.webm">
</head><body>
<video src="/player/main.mp4"></video>
<video><source src="https://cdn.example.com/alt.m3u8"></video>
<script>var cfg = {"file":"https://cdn.example.com/hidden.mp4?tok=1"};</script>
</body></html>`
	got := extractCandidates(body, "https://host.example/page")
	if len(got) == 0 {
		t.Fatal("no candidates extracted")
	}
	if !strings.Contains(got[0], ".mp4") {
		t.Errorf("first candidate %q is not an mp4", got[0])
	}
	joined := strings.Join(got, "\n")
	for _, want := range []string{
		"https://host.example/player/main.mp4",
		"https://cdn.example.com/alt.m3u8",
		"https://cdn.example.com/hidden.mp4?tok=1",
		"https://host.example/og.webm",
	} {
		if !strings.Contains(joined, want) {
			t.Errorf("candidates missing %q:\n%s", want, joined)
		}
	}
	// mp4 before m3u8 before webm.
	mp4 := strings.Index(joined, "main.mp4")
	m3u8 := strings.Index(joined, "alt.m3u8")
	webm := strings.Index(joined, "og.webm")
	if !(mp4 < m3u8 && m3u8 < webm) {
		t.Errorf("candidate preference order wrong:\n%s", joined)
	}
}

func TestExtractCandidatesDeduplicates(t *testing.T) {
	body := `<video src="https://h/x.mp4"></video>
<script>play("https://h/x.mp4")</script>`
	got := extractCandidates(body, "https://h/page")
	count := 0
	for _, c := range got {
		if c == "https://h/x.mp4" {
			count++
		}
	}
	if count != 1 {
		t.Errorf("duplicate candidate listed %d times", count)
	}
}

func TestFetchFallsBackToScrape(t *testing.T) {
	var gotReferer string
	mux := http.NewServeMux()
	srv := httptest.NewServer(mux)
	defer srv.Close()
	mux.HandleFunc("/page", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprintf(w, `<html><video src="%s/x.mp4"></video></html>`, srv.URL)
	})
	mux.HandleFunc("/x.mp4", func(w http.ResponseWriter, r *http.Request) {
		gotReferer = r.Header.Get("Referer")
		w.Header().Set("Content-Type", "video/mp4")
		w.Write([]byte("fake video payload"))
	})

	f := &Fetcher{
		Runner: &fakeRunner{exitCode: 1}, // yt-dlp has no extractor
		Logger: slog.Default(),
		Client: srv.Client(),
	}
	dir := t.TempDir()
	results, err := f.Fetch(context.Background(), srv.URL+"/page", dir, nil)
	if err != nil {
		t.Fatal(err)
	}
	if len(results) != 1 {
		t.Fatalf("%d results, want 1", len(results))
	}
	if results[0].Name != "x.mp4" {
		t.Errorf("name = %q", results[0].Name)
	}
	data, err := os.ReadFile(results[0].Path)
	if err != nil || string(data) != "fake video payload" {
		t.Errorf("payload mismatch: %q err %v", data, err)
	}
	if gotReferer != srv.URL+"/page" {
		t.Errorf("Referer = %q, want the page URL", gotReferer)
	}
}

func TestFetchAllStrategiesFail(t *testing.T) {
	mux := http.NewServeMux()
	srv := httptest.NewServer(mux)
	defer srv.Close()
	mux.HandleFunc("/page", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		w.Write([]byte("<html><p>nothing here</p></html>"))
	})

	f := &Fetcher{Runner: &fakeRunner{exitCode: 1}, Logger: slog.Default(), Client: srv.Client()}
	_, err := f.Fetch(context.Background(), srv.URL+"/page", t.TempDir(), nil)
	if err == nil {
		t.Fatal("expected an error when every strategy fails")
	}
}

func TestDownloadDirectNaming(t *testing.T) {
	mux := http.NewServeMux()
	srv := httptest.NewServer(mux)
	defer srv.Close()
	mux.HandleFunc("/dl", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Disposition", `attachment; filename="My: Video.mp4"`)
		w.Header().Set("Content-Type", "video/mp4")
		w.Write([]byte("data"))
	})

	f := &Fetcher{Logger: slog.Default(), Client: srv.Client()}
	res, err := f.downloadDirect(context.Background(), srv.URL+"/dl", srv.URL, t.TempDir(), "", nil)
	if err != nil {
		t.Fatal(err)
	}
	if res.Name != "My_ Video.mp4" {
		t.Errorf("name = %q, want sanitized disposition name", res.Name)
	}
	if res.Size != 4 {
		t.Errorf("size = %d", res.Size)
	}
}

func TestDownloadDirectRejectsHTML(t *testing.T) {
	mux := http.NewServeMux()
	srv := httptest.NewServer(mux)
	defer srv.Close()
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		w.Write([]byte("<html>login page</html>"))
	})
	f := &Fetcher{Logger: slog.Default(), Client: srv.Client()}
	if _, err := f.downloadDirect(context.Background(), srv.URL+"/v.bin", srv.URL, t.TempDir(), "", nil); err == nil {
		t.Fatal("HTML response should not be saved as media")
	}
}

func TestIsDirectMediaLink(t *testing.T) {
	cases := map[string]bool{
		"https://h/video.mp4":        true,
		"https://h/stream.m3u8?x=1":  true,
		"https://h/clip.MKV":         true,
		"https://h/watch?v=abc":      false,
		"https://h/page.html":        false,
		"https://h/file.mp4/related": false,
	}
	for in, want := range cases {
		if got := isDirectMediaLink(in); got != want {
			t.Errorf("isDirectMediaLink(%q) = %v, want %v", in, got, want)
		}
	}
}

func TestHeaderBlock(t *testing.T) {
	got := headerBlock(map[string]string{"Referer": "https://h/p", "User-Agent": "UA"})
	if got != "Referer: https://h/p\r\nUser-Agent: UA\r\n" {
		t.Errorf("header block = %q", got)
	}
}

func TestBuildHLSArgs(t *testing.T) {
	args := strings.Join(buildHLSArgs("https://h/s.m3u8", "Referer: r\r\n", "/w/out.mp4"), " ")
	for _, want := range []string{"-headers", "libx264", "aac", "+faststart", "/w/out.mp4"} {
		if !strings.Contains(args, want) {
			t.Errorf("HLS args missing %q: %s", want, args)
		}
	}
}

func TestTweetID(t *testing.T) {
	cases := map[string]string{
		"https://twitter.com/user/status/12345":   "12345",
		"https://x.com/someone/status/987?s=20":   "987",
		"check this https://x.com/a/status/42 ok": "42",
		"https://example.com/status/1":            "",
	}
	for in, want := range cases {
		if got := TweetID(in); got != want {
			t.Errorf("TweetID(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestTweetMediaList(t *testing.T) {
	mux := http.NewServeMux()
	srv := httptest.NewServer(mux)
	defer srv.Close()
	mux.HandleFunc("/Twitter/status/42", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"media_extended":[
			{"url":"https://cdn/v.mp4","type":"video","thumbnail_url":"https://cdn/t.jpg"},
			{"url":"","type":"image"},
			{"url":"https://cdn/i.jpg","type":"image"}
		]}`))
	})
	f := &Fetcher{Logger: slog.Default(), Client: srv.Client()}
	items, err := f.TweetMediaList(context.Background(), srv.URL, "42")
	if err != nil {
		t.Fatal(err)
	}
	if len(items) != 2 {
		t.Fatalf("%d items, want 2 (empty URL skipped)", len(items))
	}
	if items[0].Type != "video" || items[0].ThumbnailURL == "" {
		t.Errorf("first item = %+v", items[0])
	}
}

type stallingReader struct {
	block chan struct{}
}

func (s *stallingReader) Read(p []byte) (int, error) {
	<-s.block
	return 0, io.EOF
}

func TestIdleTimeoutReaderUnblocksOnStall(t *testing.T) {
	block := make(chan struct{})
	defer close(block)
	r := newIdleTimeoutReader(&stallingReader{block: block}, 50*time.Millisecond)
	defer r.Close()

	start := time.Now()
	if _, err := r.Read(make([]byte, 16)); err == nil {
		t.Fatal("expected an error from the stalled read")
	}
	if time.Since(start) > 2*time.Second {
		t.Fatal("stalled read did not fail within the idle window")
	}
	// The source is abandoned after the stall; later reads fail instead of
	// touching it again.
	if _, err := r.Read(make([]byte, 16)); err == nil {
		t.Fatal("second read succeeded after the stall")
	}
}

func TestIdleTimeoutReaderDeliversAllBytes(t *testing.T) {
	payload := strings.Repeat("abc123", 50000)
	r := newIdleTimeoutReader(strings.NewReader(payload), time.Second)
	defer r.Close()
	got, err := io.ReadAll(r)
	if err != nil {
		t.Fatal(err)
	}
	if string(got) != payload {
		t.Fatalf("payload corrupted: got %d bytes, want %d", len(got), len(payload))
	}
}

func TestMemoryCacheTTL(t *testing.T) {
	c := NewMemoryCache()
	now := time.Now()
	c.now = func() time.Time { return now }
	if err := c.Set(context.Background(), "k", "v", time.Minute); err != nil {
		t.Fatal(err)
	}
	if got, _ := c.Get(context.Background(), "k"); got != "v" {
		t.Errorf("got %q before expiry", got)
	}
	now = now.Add(2 * time.Minute)
	if got, _ := c.Get(context.Background(), "k"); got != "" {
		t.Errorf("got %q after expiry, want empty", got)
	}
}

func TestNewFilesSkipsPartials(t *testing.T) {
	dir := t.TempDir()
	before, err := dirEntries(dir)
	if err != nil {
		t.Fatal(err)
	}
	for name, data := range map[string]string{
		"done.mp4":     "video",
		"pending.part": "x",
		"meta.ytdl":    "y",
		"empty.mp4":    "",
	} {
		if err := os.WriteFile(filepath.Join(dir, name), []byte(data), 0o644); err != nil {
			t.Fatal(err)
		}
	}
	got, err := newFiles(dir, before)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 1 || got[0].Name != "done.mp4" {
		t.Errorf("newFiles = %+v, want only done.mp4", got)
	}
}
