package usecase

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"sync/atomic"
	"time"

	"medialeech/internal/domain/ports"
	"medialeech/internal/task"
)

// RestartExitCode tells the supervisor to start a fresh process. In-flight
// tasks are cancelled, not preserved.
const RestartExitCode = 0

// Restarter performs the single-shot graceful shutdown: notify, cancel
// everything, wait a short grace, wipe scratch roots, exit.
type Restarter struct {
	Registry     *task.Registry
	Chat         ports.Chat
	OwnerID      int64
	ScratchRoots []string
	Grace        time.Duration
	Logger       *slog.Logger

	// Exit is replaceable in tests; defaults to os.Exit.
	Exit func(code int)

	inProgress atomic.Bool
}

func (r *Restarter) grace() time.Duration {
	if r.Grace > 0 {
		return r.Grace
	}
	return 3 * time.Second
}

// InProgress reports whether a restart has been requested.
func (r *Restarter) InProgress() bool {
	return r.inProgress.Load()
}

// Trigger runs the shutdown sequence. Re-entry is a no-op. chatID is the
// conversation the request came from, 0 when the watchdog asked.
func (r *Restarter) Trigger(reason string, chatID int64) {
	if !r.inProgress.CompareAndSwap(false, true) {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	r.Logger.Info("restart: shutting down",
		slog.String("reason", reason),
		slog.Int("activeTasks", r.Registry.Active()),
	)

	text := fmt.Sprintf("Restarting: %s", reason)
	if r.OwnerID != 0 {
		if _, err := r.Chat.SendMessage(ctx, r.OwnerID, text); err != nil {
			r.Logger.Debug("restart: owner notify failed", slog.Any("error", err))
		}
	}
	if chatID != 0 && chatID != r.OwnerID {
		if _, err := r.Chat.SendMessage(ctx, chatID, text); err != nil {
			r.Logger.Debug("restart: chat notify failed", slog.Any("error", err))
		}
	}

	r.Registry.CancelAll()

	timer := time.NewTimer(r.grace())
	<-timer.C

	for _, root := range r.ScratchRoots {
		if root == "" {
			continue
		}
		if err := os.RemoveAll(root); err != nil {
			r.Logger.Warn("restart: scratch wipe failed",
				slog.String("dir", root),
				slog.Any("error", err),
			)
		}
	}

	exit := r.Exit
	if exit == nil {
		exit = os.Exit
	}
	exit(RestartExitCode)
}
