package ports

import (
	"context"
	"time"

	"medialeech/internal/domain"
)

// UserStore is the persistent user / quota / footer store.
type UserStore interface {
	// Ensure returns the record for userID, creating a default one if absent.
	Ensure(ctx context.Context, userID int64) (domain.UserRecord, error)
	Get(ctx context.Context, userID int64) (domain.UserRecord, error)
	SetTier(ctx context.Context, userID int64, tier string, expiry time.Time) error
	ResetDaily(ctx context.Context, userID int64, date string) error
	// AddUsage atomically increments daily, lifetime and file counters.
	AddUsage(ctx context.Context, userID int64, stats domain.UserStats) error
	SetFooter(ctx context.Context, userID int64, footer string) error
	SetBanned(ctx context.Context, userID int64, banned bool) error
	SetAuthorized(ctx context.Context, userID int64, authorized bool) error
	Count(ctx context.Context) (int64, error)
	ListIDs(ctx context.Context) ([]int64, error)
}
