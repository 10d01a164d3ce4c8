package bot

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"time"

	"medialeech/internal/domain"
	"medialeech/internal/domain/ports"
	"medialeech/internal/services/fetch"
	"medialeech/internal/task"
)

const footerPromptTimeout = 60 * time.Second

func validURL(raw string) bool {
	u, err := url.Parse(raw)
	return err == nil && (u.Scheme == "http" || u.Scheme == "https") && u.Host != ""
}

// handleJL is the universal downloader. Tweet URLs divert to the tweet
// adapter; everything else runs the strategy chain.
func (r *Router) handleJL(ctx context.Context, msg ports.Message, raw string) {
	if raw == "" || !validURL(raw) {
		r.reply(ctx, msg, "Usage: /jl URL")
		return
	}
	if fetch.TweetID(raw) != "" {
		if r.guardWriteHeavy(ctx, msg, domain.KindTwitter) {
			return
		}
		t := r.Registry.Create(task.CreateParams{
			Kind:      domain.KindTwitter,
			Owner:     msg.AuthorID,
			Chat:      msg.Ref.ChatID,
			TasksRoot: r.Cfg.TasksRoot,
		})
		go r.Pipeline.RunTwitter(ctx, t, raw)
		return
	}
	t := r.Registry.Create(task.CreateParams{
		Kind:      domain.KindWebLink,
		Owner:     msg.AuthorID,
		Chat:      msg.Ref.ChatID,
		TasksRoot: r.Cfg.TasksRoot,
	})
	go r.Pipeline.RunURL(ctx, t, raw, false)
}

func (r *Router) handleUpload(ctx context.Context, msg ports.Message, raw string) {
	if raw == "" || !validURL(raw) {
		r.reply(ctx, msg, "Usage: /upload URL")
		return
	}
	if r.guardWriteHeavy(ctx, msg, domain.KindURLUpload) {
		return
	}
	t := r.Registry.Create(task.CreateParams{
		Kind:      domain.KindURLUpload,
		Owner:     msg.AuthorID,
		Chat:      msg.Ref.ChatID,
		TasksRoot: r.Cfg.TasksRoot,
	})
	go r.Pipeline.RunURL(ctx, t, raw, true)
}

func (r *Router) handleTorrent(ctx context.Context, msg ports.Message, raw string) {
	magnet := strings.TrimSpace(raw)
	isMagnet := strings.HasPrefix(magnet, "magnet:")
	repliedTorrent := msg.ReplyTo != 0 && msg.Media != nil &&
		strings.HasSuffix(strings.ToLower(msg.Media.Name), ".torrent")
	if !isMagnet && !validURL(magnet) && !repliedTorrent {
		r.reply(ctx, msg, "Usage: /qbl MAGNET, or reply to a .torrent file.")
		return
	}
	if r.guardWriteHeavy(ctx, msg, domain.KindTorrent) {
		return
	}
	t := r.Registry.Create(task.CreateParams{
		Kind:      domain.KindTorrent,
		Owner:     msg.AuthorID,
		Chat:      msg.Ref.ChatID,
		TasksRoot: r.Cfg.TasksRoot,
	})
	if repliedTorrent {
		t.Inputs = append(t.Inputs, domain.InputRef{Index: 0, MessageID: msg.ReplyTo, Name: msg.Media.Name})
		magnet = ""
	}
	go r.Pipeline.RunTorrent(ctx, t, magnet)
}

func (r *Router) handleMediaInfo(ctx context.Context, msg ports.Message, raw string) {
	probeURL := strings.TrimSpace(raw)
	if probeURL == "" && msg.ReplyTo == 0 {
		r.reply(ctx, msg, "Reply to a media file or pass a URL: /mediainfo URL")
		return
	}
	t := r.Registry.Create(task.CreateParams{
		Kind:      domain.KindMediaInfo,
		Owner:     msg.AuthorID,
		Chat:      msg.Ref.ChatID,
		TasksRoot: r.Cfg.TasksRoot,
	})
	if probeURL == "" {
		t.Inputs = append(t.Inputs, domain.InputRef{Index: 0, MessageID: msg.ReplyTo})
	}
	go r.Pipeline.RunMediaInfo(ctx, t, probeURL)
}

func (r *Router) handleUnzip(ctx context.Context, msg ports.Message, raw string) {
	archiveURL := strings.TrimSpace(raw)
	if archiveURL == "" && msg.ReplyTo == 0 {
		r.reply(ctx, msg, "Reply to an archive or pass a URL: /unzip URL")
		return
	}
	t := r.Registry.Create(task.CreateParams{
		Kind:      domain.KindUnzip,
		Owner:     msg.AuthorID,
		Chat:      msg.Ref.ChatID,
		TasksRoot: r.Cfg.TasksRoot,
	})
	if archiveURL == "" {
		t.Inputs = append(t.Inputs, domain.InputRef{Index: 0, MessageID: msg.ReplyTo})
	}
	go r.Pipeline.RunUnzip(ctx, t, archiveURL)
}

func (r *Router) handleCancel(ctx context.Context, msg ports.Message, raw string) {
	id := strings.TrimSpace(raw)
	if id == "" {
		r.reply(ctx, msg, "Usage: /cancel TASK_ID")
		return
	}
	t, ok := r.Registry.Get(id)
	if !ok {
		r.reply(ctx, msg, fmt.Sprintf("No active task %s.", id))
		return
	}
	if t.Owner != msg.AuthorID && !r.isOwner(msg.AuthorID) {
		r.reply(ctx, msg, "Only the task owner can cancel it.")
		return
	}
	if !t.Stage().Cancellable() {
		r.reply(ctx, msg, fmt.Sprintf("Task %s is already winding down.", id))
		return
	}
	t.Cancel()
	r.reply(ctx, msg, fmt.Sprintf("Cancelling task %s...", id))
}

func (r *Router) handleMyPlan(ctx context.Context, msg ports.Message) {
	rec, err := r.Quota.Refresh(ctx, msg.AuthorID)
	if err != nil {
		r.reply(ctx, msg, "Could not load your plan right now.")
		return
	}
	limit := r.Cfg.PlanLimitsGB[rec.Tier]
	var b strings.Builder
	fmt.Fprintf(&b, "Plan: %s\n", rec.Tier)
	if !rec.PlanExpiry.IsZero() {
		fmt.Fprintf(&b, "Expires: %s\n", rec.PlanExpiry.Format("2006-01-02"))
	}
	fmt.Fprintf(&b, "Today: %s of %d GiB\n", domain.HumanBytes(rec.DailyUsed), limit)
	fmt.Fprintf(&b, "Lifetime: %s over %d files", domain.HumanBytes(rec.TotalUsed), rec.FilesProcessed)
	r.reply(ctx, msg, b.String())
}

func (r *Router) handleAddFooter(ctx context.Context, msg ports.Message) {
	s := r.Dialogs.Open("footer", msg.AuthorID, msg.Ref.ChatID)
	defer r.Dialogs.Close(s)
	footer, err := s.AskText(ctx, "Send the footer text to append to your captions:", footerPromptTimeout)
	if err != nil || footer == "" {
		r.reply(ctx, msg, "Footer unchanged.")
		return
	}
	if err := r.Store.SetFooter(ctx, msg.AuthorID, footer); err != nil {
		r.reply(ctx, msg, "Could not save the footer.")
		return
	}
	r.reply(ctx, msg, "Footer saved.")
}

func (r *Router) handleRemoveFooter(ctx context.Context, msg ports.Message) {
	if err := r.Store.SetFooter(ctx, msg.AuthorID, ""); err != nil {
		r.reply(ctx, msg, "Could not remove the footer.")
		return
	}
	r.reply(ctx, msg, "Footer removed.")
}

// zipCollectors tracks per-user /zip sessions: media sent between /zip and
// /done becomes the archive's input set.
type zipCollectors struct {
	mu       sync.Mutex
	sessions map[int64]*zipSession
}

type zipSession struct {
	chatID int64
	name   string
	inputs []domain.InputRef
}

func (z *zipCollectors) open(userID, chatID int64, name string) {
	z.mu.Lock()
	defer z.mu.Unlock()
	if z.sessions == nil {
		z.sessions = make(map[int64]*zipSession)
	}
	z.sessions[userID] = &zipSession{chatID: chatID, name: name}
}

// add appends a media message to the sender's open session, if any.
func (z *zipCollectors) add(msg ports.Message) bool {
	z.mu.Lock()
	defer z.mu.Unlock()
	s := z.sessions[msg.AuthorID]
	if s == nil || s.chatID != msg.Ref.ChatID {
		return false
	}
	s.inputs = append(s.inputs, domain.InputRef{
		Index:     len(s.inputs),
		MessageID: msg.Ref.MessageID,
		Name:      msg.Media.Name,
		Size:      msg.Media.Size,
	})
	return true
}

func (z *zipCollectors) count(userID int64) int {
	z.mu.Lock()
	defer z.mu.Unlock()
	if s := z.sessions[userID]; s != nil {
		return len(s.inputs)
	}
	return 0
}

func (z *zipCollectors) close(userID int64) *zipSession {
	z.mu.Lock()
	defer z.mu.Unlock()
	s := z.sessions[userID]
	delete(z.sessions, userID)
	return s
}

func (r *Router) handleZip(ctx context.Context, msg ports.Message, raw string) {
	name := strings.TrimSpace(raw)
	if name == "" {
		name = "archive.zip"
	}
	r.zip.open(msg.AuthorID, msg.Ref.ChatID, name)
	r.reply(ctx, msg, "Send the files to archive, then /done.")
}

// handleZipDone finalises an open collector. Returns false when the user
// had none, so /done can fall through to an open dialogue.
func (r *Router) handleZipDone(ctx context.Context, msg ports.Message) bool {
	s := r.zip.close(msg.AuthorID)
	if s == nil {
		return false
	}
	if len(s.inputs) == 0 {
		r.reply(ctx, msg, "Nothing collected, zip aborted.")
		return true
	}
	t := r.Registry.Create(task.CreateParams{
		Kind:       domain.KindZip,
		Owner:      msg.AuthorID,
		Chat:       s.chatID,
		OutputName: s.name,
		TasksRoot:  r.Cfg.TasksRoot,
	})
	t.Inputs = s.inputs
	go r.Pipeline.RunZip(ctx, t)
	return true
}
