package fetch

import (
	"context"
	"fmt"
	"io"
	"mime"
	"net/http"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"sync"
	"time"

	"medialeech/internal/metrics"
)

const (
	chunkSize   = 1 << 20
	readIdleMax = 10 * time.Minute
	headTimeout = 20 * time.Second
)

var unsafeNameChars = regexp.MustCompile(`[<>:"/\\|?*]`)

// Head reports the remote size via a HEAD request. 0 means unknown.
func (f *Fetcher) Head(ctx context.Context, rawURL string) (int64, error) {
	cctx, cancel := context.WithTimeout(ctx, headTimeout)
	defer cancel()
	req, err := http.NewRequestWithContext(cctx, http.MethodHead, rawURL, nil)
	if err != nil {
		return 0, err
	}
	for k, v := range f.headers(rawURL) {
		req.Header.Set(k, v)
	}
	resp, err := f.client().Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return 0, fmt.Errorf("HEAD returned HTTP %d", resp.StatusCode)
	}
	if resp.ContentLength > 0 {
		return resp.ContentLength, nil
	}
	return 0, nil
}

// downloadDirect streams the URL to disk in chunks. nameHint overrides
// filename derivation; otherwise Content-Disposition wins over the URL path.
func (f *Fetcher) downloadDirect(ctx context.Context, fileURL, referer, destDir, nameHint string, progress Progress) (Result, error) {
	if progress == nil {
		progress = func(int64, int64) {}
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, fileURL, nil)
	if err != nil {
		return Result{}, err
	}
	for k, v := range f.headers(referer) {
		req.Header.Set(k, v)
	}
	resp, err := f.client().Do(req)
	if err != nil {
		return Result{}, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return Result{}, fmt.Errorf("download returned HTTP %d", resp.StatusCode)
	}
	if ct := resp.Header.Get("Content-Type"); strings.HasPrefix(ct, "text/html") {
		return Result{}, fmt.Errorf("URL served HTML, not a file")
	}

	name := nameHint
	if name == "" {
		name = dispositionName(resp.Header.Get("Content-Disposition"))
	}
	if name == "" {
		name = nameFromURL(fileURL)
	}
	name = unsafeNameChars.ReplaceAllString(name, "_")

	dest := filepath.Join(destDir, name)
	out, err := os.Create(dest)
	if err != nil {
		return Result{}, err
	}
	defer out.Close()

	total := resp.ContentLength
	if total < 0 {
		total = 0
	}
	var written int64
	buf := make([]byte, chunkSize)
	body := newIdleTimeoutReader(resp.Body, readIdleMax)
	defer body.Close()
	for {
		if err := ctx.Err(); err != nil {
			os.Remove(dest)
			return Result{}, err
		}
		n, rerr := body.Read(buf)
		if n > 0 {
			if _, werr := out.Write(buf[:n]); werr != nil {
				os.Remove(dest)
				return Result{}, werr
			}
			written += int64(n)
			metrics.DownloadBytesTotal.Add(float64(n))
			progress(written, total)
		}
		if rerr == io.EOF {
			break
		}
		if rerr != nil {
			os.Remove(dest)
			return Result{}, rerr
		}
	}
	if written == 0 {
		os.Remove(dest)
		return Result{}, fmt.Errorf("download produced an empty file")
	}
	return Result{Path: dest, Name: name, Size: written}, nil
}

func dispositionName(header string) string {
	if header == "" {
		return ""
	}
	_, params, err := mime.ParseMediaType(header)
	if err != nil {
		return ""
	}
	return filepath.Base(params["filename"])
}

// idleTimeoutReader fails a Read that makes no progress within the idle
// window, so a stalled server does not pin the download forever. A single
// pump goroutine owns the underlying reader and each chunk is handed over
// by value, so a stalled source never races on the caller's buffer. Close
// releases the pump.
type idleTimeoutReader struct {
	idle   time.Duration
	chunks chan readChunk
	done   chan struct{}
	once   sync.Once
	rest   []byte
	err    error
}

type readChunk struct {
	data []byte
	err  error
}

func newIdleTimeoutReader(r io.Reader, idle time.Duration) *idleTimeoutReader {
	t := &idleTimeoutReader{
		idle:   idle,
		chunks: make(chan readChunk),
		done:   make(chan struct{}),
	}
	go func() {
		buf := make([]byte, 32*1024)
		for {
			n, err := r.Read(buf)
			data := append([]byte(nil), buf[:n]...)
			select {
			case t.chunks <- readChunk{data: data, err: err}:
			case <-t.done:
				return
			}
			if err != nil {
				return
			}
		}
	}()
	return t
}

func (t *idleTimeoutReader) Read(p []byte) (int, error) {
	if len(t.rest) > 0 {
		n := copy(p, t.rest)
		t.rest = t.rest[n:]
		return n, nil
	}
	if t.err != nil {
		return 0, t.err
	}
	timer := time.NewTimer(t.idle)
	defer timer.Stop()
	select {
	case c := <-t.chunks:
		if c.err != nil {
			t.err = c.err
		}
		n := copy(p, c.data)
		t.rest = c.data[n:]
		if n > 0 {
			return n, nil
		}
		return 0, c.err
	case <-timer.C:
		t.Close()
		t.err = fmt.Errorf("read stalled for %s", t.idle)
		return 0, t.err
	}
}

// Close stops the pump. Closing the underlying reader stays with the
// caller.
func (t *idleTimeoutReader) Close() error {
	t.once.Do(func() { close(t.done) })
	return nil
}
