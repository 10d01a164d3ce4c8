package bot

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"medialeech/internal/domain"
	"medialeech/internal/domain/ports"
)

// handleAdmin serves the owner-only surface. Non-owners get no reply at
// all: the commands stay invisible.
func (r *Router) handleAdmin(ctx context.Context, msg ports.Message, cmd, raw string) {
	if !r.isOwner(msg.AuthorID) {
		return
	}
	switch cmd {
	case "/authorize", "/unauthorize":
		id, err := parseUserID(raw)
		if err != nil {
			r.reply(ctx, msg, fmt.Sprintf("Usage: %s USER_ID", cmd))
			return
		}
		if _, err := r.Store.Ensure(ctx, id); err == nil {
			err = r.Store.SetAuthorized(ctx, id, cmd == "/authorize")
		}
		r.replyResult(ctx, msg, err)

	case "/ban", "/unban":
		id, err := parseUserID(raw)
		if err != nil {
			r.reply(ctx, msg, fmt.Sprintf("Usage: %s USER_ID", cmd))
			return
		}
		if _, err := r.Store.Ensure(ctx, id); err == nil {
			err = r.Store.SetBanned(ctx, id, cmd == "/ban")
		}
		r.replyResult(ctx, msg, err)

	case "/set_tier":
		fields := strings.Fields(raw)
		if len(fields) < 2 {
			r.reply(ctx, msg, "Usage: /set_tier USER_ID TIER [DAYS]")
			return
		}
		id, err := parseUserID(fields[0])
		if err != nil {
			r.reply(ctx, msg, "USER_ID must be a number.")
			return
		}
		tier := strings.ToLower(fields[1])
		if _, ok := r.Cfg.PlanLimitsGB[tier]; !ok {
			r.reply(ctx, msg, fmt.Sprintf("Unknown tier %q.", tier))
			return
		}
		var expiry time.Time
		if len(fields) >= 3 {
			days, err := strconv.Atoi(fields[2])
			if err != nil || days < 1 {
				r.reply(ctx, msg, "DAYS must be a positive number.")
				return
			}
			expiry = time.Now().UTC().AddDate(0, 0, days)
		}
		if _, err := r.Store.Ensure(ctx, id); err == nil {
			err = r.Store.SetTier(ctx, id, tier, expiry)
		}
		r.replyResult(ctx, msg, err)

	case "/users":
		count, err := r.Store.Count(ctx)
		if err != nil {
			r.replyResult(ctx, msg, err)
			return
		}
		r.reply(ctx, msg, fmt.Sprintf("%d users, %d active tasks.", count, r.Registry.Active()))

	case "/userinfo":
		id, err := parseUserID(raw)
		if err != nil {
			r.reply(ctx, msg, "Usage: /userinfo USER_ID")
			return
		}
		rec, err := r.Store.Get(ctx, id)
		if err != nil {
			r.reply(ctx, msg, "No such user.")
			return
		}
		r.reply(ctx, msg, renderUserInfo(rec))

	case "/maintenance":
		switch strings.ToLower(strings.TrimSpace(raw)) {
		case "on":
			err := os.WriteFile(MaintenanceFile, []byte(time.Now().UTC().Format(time.RFC3339)+"\n"), 0o644)
			r.replyResult(ctx, msg, err)
		case "off":
			err := os.Remove(MaintenanceFile)
			if os.IsNotExist(err) {
				err = nil
			}
			r.replyResult(ctx, msg, err)
		default:
			_, statErr := os.Stat(MaintenanceFile)
			state := "off"
			if statErr == nil {
				state = "on"
			}
			r.reply(ctx, msg, fmt.Sprintf("Maintenance is %s. Usage: /maintenance on|off", state))
		}

	case "/broadcast":
		text := strings.TrimSpace(raw)
		if text == "" {
			r.reply(ctx, msg, "Usage: /broadcast TEXT")
			return
		}
		go r.broadcast(text, msg)
	}
}

func (r *Router) broadcast(text string, msg ports.Message) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Minute)
	defer cancel()
	ids, err := r.Store.ListIDs(ctx)
	if err != nil {
		r.replyResult(ctx, msg, err)
		return
	}
	sent := 0
	for _, id := range ids {
		if _, err := r.Chat.SendMessage(ctx, id, text); err == nil {
			sent++
		}
	}
	r.reply(ctx, msg, fmt.Sprintf("Broadcast delivered to %d/%d users.", sent, len(ids)))
}

func (r *Router) replyResult(ctx context.Context, msg ports.Message, err error) {
	if err != nil {
		r.reply(ctx, msg, fmt.Sprintf("Failed: %v", err))
		return
	}
	r.reply(ctx, msg, "Done.")
}

func parseUserID(raw string) (int64, error) {
	return strconv.ParseInt(strings.TrimSpace(raw), 10, 64)
}

func renderUserInfo(rec domain.UserRecord) string {
	var b strings.Builder
	fmt.Fprintf(&b, "User %d\n", rec.UserID)
	fmt.Fprintf(&b, "Tier: %s\n", rec.Tier)
	if !rec.PlanExpiry.IsZero() {
		fmt.Fprintf(&b, "Expires: %s\n", rec.PlanExpiry.Format("2006-01-02"))
	}
	fmt.Fprintf(&b, "Today: %s (reset %s)\n", domain.HumanBytes(rec.DailyUsed), rec.LastResetDate)
	fmt.Fprintf(&b, "Lifetime: %s over %d files\n", domain.HumanBytes(rec.TotalUsed), rec.FilesProcessed)
	fmt.Fprintf(&b, "Banned: %v, authorized: %v", rec.Banned, rec.Authorized)
	if !rec.JoinedAt.IsZero() {
		fmt.Fprintf(&b, "\nJoined: %s", rec.JoinedAt.Format("2006-01-02"))
	}
	return b.String()
}
