package ports

import (
	"context"
	"time"

	"medialeech/internal/domain"
)

// CmdResult is the captured outcome of a finished subprocess.
type CmdResult struct {
	ExitCode int
	Stdout   []byte
	Stderr   []byte
}

// Runner spawns external binaries. Cancellation travels through ctx; the
// running process is killed when ctx is done.
type Runner interface {
	// Run executes a short command. timeout <= 0 means no timeout.
	Run(ctx context.Context, timeout time.Duration, name string, args ...string) (CmdResult, error)
	// Stream executes a long command, delivering each stderr line to onLine.
	Stream(ctx context.Context, onLine func(string), name string, args ...string) (CmdResult, error)
}

// Prober extracts media metadata from a local file or URL.
type Prober interface {
	Probe(ctx context.Context, input string) (domain.MediaInfo, error)
}
