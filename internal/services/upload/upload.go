// Package upload pushes finished files into the chat, splitting anything
// over the platform's single-file ceiling into reassemblable byte-range
// parts.
package upload

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"golang.org/x/time/rate"

	"medialeech/internal/domain"
	"medialeech/internal/domain/ports"
	"medialeech/internal/metrics"
)

// MaxFileSize stays a little under the platform's 2 GiB hard limit.
const MaxFileSize = int64(195 * 1024 * 1024 * 1024 / 100)

const splitChunk = 8 << 20

// Request is one file to deliver.
type Request struct {
	ChatID    int64
	Path      string
	FileName  string
	Caption   string
	ThumbPath string
	ReplyTo   int64
	Buttons   [][]ports.Button
}

type Uploader struct {
	Chat     ports.Chat
	Logger   *slog.Logger
	MaxBytes int64 // defaults to MaxFileSize

	// Status edits are throttled so long uploads do not flood the chat API.
	statusLimit *rate.Limiter
	StatusEdit  func(text string)
}

func New(chat ports.Chat, logger *slog.Logger) *Uploader {
	return &Uploader{
		Chat:        chat,
		Logger:      logger,
		statusLimit: rate.NewLimiter(rate.Every(3*time.Second), 1),
	}
}

func (u *Uploader) maxBytes() int64 {
	if u.MaxBytes > 0 {
		return u.MaxBytes
	}
	return MaxFileSize
}

func (u *Uploader) note(text string) {
	if u.StatusEdit == nil {
		return
	}
	if u.statusLimit == nil || u.statusLimit.Allow() {
		u.StatusEdit(text)
	}
}

// Send uploads one file, splitting when it exceeds the ceiling. Receipts
// come back in part order; a single-file upload yields one receipt.
func (u *Uploader) Send(ctx context.Context, req Request) ([]ports.Receipt, error) {
	info, err := os.Stat(req.Path)
	if err != nil {
		return nil, err
	}
	name := req.FileName
	if name == "" {
		name = filepath.Base(req.Path)
	}

	if info.Size() <= u.maxBytes() {
		rec, err := u.uploadOne(ctx, req, req.Path, name, req.Caption, domain.ClassifyName(name))
		if err != nil {
			return nil, err
		}
		return []ports.Receipt{rec}, nil
	}

	u.Logger.Info("upload: splitting oversized file",
		slog.String("file", name),
		slog.String("size", domain.HumanBytes(info.Size())),
	)
	parts, err := SplitFile(req.Path, u.maxBytes())
	if err != nil {
		return nil, err
	}
	metrics.SplitUploadsTotal.Inc()

	receipts := make([]ports.Receipt, 0, len(parts))
	for i, part := range parts {
		if err := ctx.Err(); err != nil {
			return receipts, err
		}
		partInfo, err := os.Stat(part)
		if err != nil {
			return receipts, err
		}
		partName := filepath.Base(part)
		caption := fmt.Sprintf("Split upload (%d/%d)\n%s\nSize: %s",
			i+1, len(parts), partName, domain.HumanBytes(partInfo.Size()))
		if i == 0 && req.Caption != "" {
			caption = req.Caption + "\n\n" + caption
		}
		u.note(fmt.Sprintf("Uploading part %d/%d...", i+1, len(parts)))

		// Parts always go up as documents so receivers get raw bytes back.
		rec, err := u.uploadOne(ctx, req, part, partName, caption, domain.ClassDocument)
		os.Remove(part)
		if err != nil {
			return receipts, fmt.Errorf("part %d/%d: %w", i+1, len(parts), err)
		}
		receipts = append(receipts, rec)
	}
	os.Remove(filepath.Dir(parts[0]))
	return receipts, nil
}

func (u *Uploader) uploadOne(ctx context.Context, req Request, path, name, caption string, class domain.MediaClass) (ports.Receipt, error) {
	rec, err := u.Chat.UploadFile(ctx, ports.Upload{
		ChatID:    req.ChatID,
		Path:      path,
		FileName:  name,
		Caption:   caption,
		Class:     class,
		ThumbPath: req.ThumbPath,
		ReplyTo:   req.ReplyTo,
		Buttons:   req.Buttons,
		Progress: func(done, total int64) {
			u.note(fmt.Sprintf("Uploading %s\n%s of %s",
				name, domain.HumanBytes(done), domain.HumanBytes(total)))
		},
	})
	if err != nil {
		return ports.Receipt{}, err
	}
	if info, serr := os.Stat(path); serr == nil {
		metrics.UploadBytesTotal.Add(float64(info.Size()))
	}
	return rec, nil
}

// SplitFile cuts the file into sequential parts of at most maxBytes each,
// written to a <name>_parts sibling directory. Concatenating the parts in
// order reproduces the original byte-for-byte.
func SplitFile(path string, maxBytes int64) ([]string, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, err
	}
	if info.Size() <= maxBytes {
		return []string{path}, nil
	}

	baseName := filepath.Base(path)
	splitDir := filepath.Join(filepath.Dir(path), baseName+"_parts")
	if err := os.MkdirAll(splitDir, 0o755); err != nil {
		return nil, err
	}

	src, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer src.Close()

	numParts := (info.Size() + maxBytes - 1) / maxBytes
	parts := make([]string, 0, numParts)
	buf := make([]byte, splitChunk)
	for i := int64(1); i <= numParts; i++ {
		partPath := filepath.Join(splitDir, fmt.Sprintf("%s.part%02d", baseName, i))
		written, err := writePart(src, partPath, maxBytes, buf)
		if err != nil {
			return nil, err
		}
		if written == 0 {
			os.Remove(partPath)
			break
		}
		parts = append(parts, partPath)
	}
	return parts, nil
}

func writePart(src io.Reader, partPath string, maxBytes int64, buf []byte) (int64, error) {
	out, err := os.Create(partPath)
	if err != nil {
		return 0, err
	}
	defer out.Close()

	var written int64
	for written < maxBytes {
		want := maxBytes - written
		if want > int64(len(buf)) {
			want = int64(len(buf))
		}
		n, rerr := src.Read(buf[:want])
		if n > 0 {
			if _, werr := out.Write(buf[:n]); werr != nil {
				return written, werr
			}
			written += int64(n)
		}
		if rerr == io.EOF {
			break
		}
		if rerr != nil {
			return written, rerr
		}
	}
	return written, nil
}
