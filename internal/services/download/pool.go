// Package download runs a task's input downloads as staggered parallel
// workers. The upstream platform rate-limits initial fetches, so download k
// starts k*Stagger after the first; all started downloads then overlap.
package download

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"regexp"
	"time"

	"golang.org/x/sync/errgroup"

	"medialeech/internal/domain"
)

// DefaultStagger is the inter-start delay between sibling downloads.
const DefaultStagger = 5 * time.Second

var unsafeNameChars = regexp.MustCompile(`[<>:"/\\|?*]`)

// FetchFunc downloads one input to destPath.
type FetchFunc func(ctx context.Context, in domain.InputRef, destPath string) error

type Pool struct {
	Stagger time.Duration
	Logger  *slog.Logger
}

// Run downloads every input into workDir and returns (index, path) pairs in
// input order. The first failure cancels all outstanding downloads and fails
// the whole batch: partial input sets must never reach the merge step.
func (p *Pool) Run(ctx context.Context, inputs []domain.InputRef, workDir string, fetch FetchFunc) ([]domain.Downloaded, error) {
	stagger := p.Stagger
	if stagger <= 0 {
		stagger = DefaultStagger
	}

	paths := make([]string, len(inputs))
	g, gctx := errgroup.WithContext(ctx)
	for i, in := range inputs {
		delay := time.Duration(i) * stagger
		g.Go(func() error {
			if delay > 0 {
				timer := time.NewTimer(delay)
				defer timer.Stop()
				select {
				case <-gctx.Done():
					return gctx.Err()
				case <-timer.C:
				}
			}
			dest := filepath.Join(workDir, indexedName(in))
			if err := fetch(gctx, in, dest); err != nil {
				return fmt.Errorf("input %d: %w", in.Index, err)
			}
			paths[i] = dest
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	out := make([]domain.Downloaded, len(inputs))
	for i, in := range inputs {
		out[i] = domain.Downloaded{Index: in.Index, Path: paths[i]}
	}
	p.Logger.Debug("download: batch finished",
		slog.String("dir", workDir),
		slog.Int("count", len(out)),
	)
	return out, nil
}

// indexedName prefixes the original name with the 3-digit input index so
// later stages see a deterministic order independent of directory listing.
func indexedName(in domain.InputRef) string {
	name := in.Name
	if name == "" {
		name = fmt.Sprintf("file_%03d.bin", in.Index)
	}
	name = unsafeNameChars.ReplaceAllString(name, "_")
	return fmt.Sprintf("%03d_%s", in.Index, name)
}
