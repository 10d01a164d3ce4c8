// Package bot routes inbound chat events to command handlers and the
// per-task dialogues. A fixed pool of workers drains the transport so one
// slow handler cannot stall the bot.
package bot

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"sync"

	"medialeech/internal/app"
	"medialeech/internal/domain"
	"medialeech/internal/domain/ports"
	"medialeech/internal/services/dialog"
	"medialeech/internal/task"
	"medialeech/internal/usecase"
)

// MaintenanceFile is the sentinel toggled by the owner: present means only
// owners are served.
const MaintenanceFile = "maintenance.txt"

type Router struct {
	Cfg       app.Config
	Chat      ports.Chat
	Registry  *task.Registry
	Pipeline  *usecase.Pipeline
	Dialogs   *dialog.Manager
	Quota     *usecase.QuotaGate
	Store     ports.UserStore
	Restarter *usecase.Restarter
	Watchdog  *usecase.Watchdog
	Logger    *slog.Logger

	zip zipCollectors
}

// Run drains the transport with Cfg.Workers workers until ctx is done.
func (r *Router) Run(ctx context.Context) {
	workers := r.Cfg.Workers
	if workers <= 0 {
		workers = 4
	}
	updates := r.Chat.Updates()

	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				select {
				case <-ctx.Done():
					return
				case ev, ok := <-updates:
					if !ok {
						return
					}
					r.dispatch(ctx, ev)
				}
			}
		}()
	}
	wg.Wait()
}

func (r *Router) dispatch(ctx context.Context, ev ports.Event) {
	defer func() {
		if rec := recover(); rec != nil {
			r.Logger.Error("bot: handler panicked", slog.Any("panic", rec))
		}
	}()

	switch {
	case ev.Callback != nil:
		r.Watchdog.Touch()
		if !r.Dialogs.DeliverCallback(*ev.Callback) {
			_ = r.Chat.AnswerCallback(ctx, ev.Callback.ID, "Nothing is waiting for this button.")
		}
	case ev.Message != nil:
		r.handleMessage(ctx, *ev.Message)
	}
}

func (r *Router) handleMessage(ctx context.Context, msg ports.Message) {
	r.Watchdog.Touch()

	cmd, args := splitCommand(msg.Text)
	if cmd == "" {
		// Not a command: the active dialogue or zip collector may want it.
		if msg.Media != nil && r.zip.add(msg) {
			r.reply(ctx, msg, fmt.Sprintf("Added. %d file(s) collected, /done to archive.", r.zip.count(msg.AuthorID)))
			return
		}
		r.Dialogs.DeliverMessage(msg.AuthorID, msg.Text)
		return
	}

	if r.Restarter.InProgress() {
		return
	}
	if r.refuse(ctx, msg, cmd) {
		return
	}

	switch cmd {
	case "/leech":
		r.handleLeech(ctx, msg, args)
	case "/vt":
		r.handleVT(ctx, msg)
	case "/jl", "/twitter":
		r.handleJL(ctx, msg, args)
	case "/upload":
		r.handleUpload(ctx, msg, args)
	case "/qbl":
		r.handleTorrent(ctx, msg, args)
	case "/mediainfo":
		r.handleMediaInfo(ctx, msg, args)
	case "/zip":
		r.handleZip(ctx, msg, args)
	case "/done":
		if !r.handleZipDone(ctx, msg) {
			r.Dialogs.DeliverMessage(msg.AuthorID, msg.Text)
		}
	case "/unzip":
		r.handleUnzip(ctx, msg, args)
	case "/cancel":
		r.handleCancel(ctx, msg, args)
	case "/myplan":
		r.handleMyPlan(ctx, msg)
	case "/add_footer":
		r.handleAddFooter(ctx, msg)
	case "/remove_footer":
		r.handleRemoveFooter(ctx, msg)
	case "/restart":
		if r.isOwner(msg.AuthorID) {
			go r.Restarter.Trigger("owner request", msg.Ref.ChatID)
		}
	case "/authorize", "/unauthorize", "/ban", "/unban", "/set_tier",
		"/users", "/userinfo", "/maintenance", "/broadcast":
		r.handleAdmin(ctx, msg, cmd, args)
	default:
		// Unknown commands may still answer an open text prompt.
		r.Dialogs.DeliverMessage(msg.AuthorID, msg.Text)
	}
}

// refuse applies the maintenance sentinel and the ban list. Owner commands
// always pass.
func (r *Router) refuse(ctx context.Context, msg ports.Message, cmd string) bool {
	if r.isOwner(msg.AuthorID) {
		return false
	}
	if _, err := os.Stat(MaintenanceFile); err == nil {
		r.reply(ctx, msg, "The bot is under maintenance, try again later.")
		return true
	}
	rec, err := r.Store.Ensure(ctx, msg.AuthorID)
	if err != nil {
		r.Logger.Warn("bot: user lookup failed",
			slog.Int64("user", msg.AuthorID),
			slog.Any("error", err),
		)
		return false
	}
	if rec.Banned {
		return true
	}
	return false
}

func (r *Router) isOwner(id int64) bool {
	return r.Cfg.IsOwner(id)
}

// guardWriteHeavy enforces one active task per non-admin user for the
// write-heavy kinds.
func (r *Router) guardWriteHeavy(ctx context.Context, msg ports.Message, kind domain.TaskKind) bool {
	if !kind.WriteHeavy() || r.isOwner(msg.AuthorID) {
		return false
	}
	if r.Registry.OwnerHasKind(msg.AuthorID, kind) {
		r.reply(ctx, msg, "You already have a task of this type running, wait for it to finish.")
		return true
	}
	return false
}

func (r *Router) reply(ctx context.Context, msg ports.Message, text string) {
	if _, err := r.Chat.SendMessage(ctx, msg.Ref.ChatID, text); err != nil {
		r.Logger.Debug("bot: reply failed", slog.Any("error", err))
	}
}

// splitCommand returns the lowercased leading /command and the remainder.
// Non-commands yield an empty command.
func splitCommand(text string) (string, string) {
	text = strings.TrimSpace(text)
	if !strings.HasPrefix(text, "/") {
		return "", text
	}
	cmd, rest, _ := strings.Cut(text, " ")
	// Strip a @botname suffix.
	if at := strings.IndexByte(cmd, '@'); at > 0 {
		cmd = cmd[:at]
	}
	return strings.ToLower(cmd), strings.TrimSpace(rest)
}
