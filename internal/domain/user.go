package domain

import (
	"errors"
	"time"
)

// UserRecord is the per-user persistent state: plan tier, daily quota
// accounting and caption footer.
type UserRecord struct {
	UserID         int64     `json:"userId"`
	Tier           string    `json:"tier"`
	PlanExpiry     time.Time `json:"planExpiry,omitzero"` // zero = no expiry
	DailyUsed      int64     `json:"dailyUsed"`
	LastResetDate  string    `json:"lastResetDate"` // YYYY-MM-DD
	TotalUsed      int64     `json:"totalUsed"`
	FilesProcessed int64     `json:"filesProcessed"`
	Footer         string    `json:"footer,omitempty"`
	Banned         bool      `json:"banned"`
	Authorized     bool      `json:"authorized"`
	JoinedAt       time.Time `json:"joinedAt"`
}

// Validate checks domain invariants for UserRecord.
func (u UserRecord) Validate() error {
	if u.UserID == 0 {
		return errors.New("user id is required")
	}
	if u.DailyUsed < 0 {
		return errors.New("dailyUsed must not be negative")
	}
	if u.TotalUsed < 0 {
		return errors.New("totalUsed must not be negative")
	}
	return nil
}

// PlanExpired reports whether the plan expiry has passed relative to now.
func (u UserRecord) PlanExpired(now time.Time) bool {
	return !u.PlanExpiry.IsZero() && now.After(u.PlanExpiry)
}

// UserStats is the increment applied after a successful transfer.
type UserStats struct {
	Bytes int64
	Files int64
}
