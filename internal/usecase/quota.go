package usecase

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"medialeech/internal/domain"
	"medialeech/internal/domain/ports"
	"medialeech/internal/metrics"
)

const gib = int64(1) << 30

// QuotaGate enforces the per-user daily byte budget. Admit runs once per
// file before any work starts; Commit records the transfer afterwards.
// Accounting is at-least-once: a small over-count beats an under-count.
type QuotaGate struct {
	Store       ports.UserStore
	DefaultTier string
	LimitsGB    map[string]int64
	IsAdmin     func(userID int64) bool
	Now         func() time.Time
	Logger      *slog.Logger
}

func (g *QuotaGate) now() time.Time {
	if g.Now != nil {
		return g.Now()
	}
	return time.Now()
}

func (g *QuotaGate) limitBytes(tier string) int64 {
	if lim, ok := g.LimitsGB[tier]; ok {
		return lim * gib
	}
	return g.LimitsGB[g.DefaultTier] * gib
}

// Refresh applies plan expiry and daily rollover to the user's record and
// returns the up-to-date view. Every access path goes through it.
func (g *QuotaGate) Refresh(ctx context.Context, userID int64) (domain.UserRecord, error) {
	rec, err := g.Store.Ensure(ctx, userID)
	if err != nil {
		return domain.UserRecord{}, err
	}
	now := g.now()

	if rec.PlanExpired(now) {
		if err := g.Store.SetTier(ctx, userID, g.DefaultTier, time.Time{}); err != nil {
			return domain.UserRecord{}, err
		}
		g.Logger.Info("quota: plan expired, reverted to default",
			slog.Int64("user", userID),
			slog.String("wasTier", rec.Tier),
		)
		rec.Tier = g.DefaultTier
		rec.PlanExpiry = time.Time{}
	}

	today := now.Format("2006-01-02")
	if rec.LastResetDate != today {
		if err := g.Store.ResetDaily(ctx, userID, today); err != nil {
			return domain.UserRecord{}, err
		}
		rec.DailyUsed = 0
		rec.LastResetDate = today
	}
	return rec, nil
}

// Admit decides whether a transfer of incoming bytes may start. Admins
// bypass the gate entirely.
func (g *QuotaGate) Admit(ctx context.Context, userID, incoming int64) error {
	if g.IsAdmin != nil && g.IsAdmin(userID) {
		return nil
	}
	rec, err := g.Refresh(ctx, userID)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrTransient, err)
	}
	limit := g.limitBytes(rec.Tier)
	if rec.DailyUsed+incoming > limit {
		metrics.QuotaRejectionsTotal.Inc()
		return fmt.Errorf("%w: %s used of %s daily limit (%s plan), this file needs %s",
			ErrQuota,
			domain.HumanBytes(rec.DailyUsed),
			domain.HumanBytes(limit),
			rec.Tier,
			domain.HumanBytes(incoming),
		)
	}
	return nil
}

// Commit records a finished transfer against the user's counters.
func (g *QuotaGate) Commit(ctx context.Context, userID, bytes, files int64) error {
	return g.Store.AddUsage(ctx, userID, domain.UserStats{Bytes: bytes, Files: files})
}
