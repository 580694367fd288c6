package models

import (
	"time"

	"gorm.io/gorm"
)

// Profile mirrors identity data from the external auth provider (synced by
// the profile sync worker) and carries the locally-owned competition
// aggregates. The aggregates are only ever bumped together with the first
// CompetitionHistory insert for a competition.
type Profile struct {
	ID        string     `json:"id" gorm:"primaryKey"`
	UserID    string     `json:"user_id" gorm:"uniqueIndex;not null"` // external auth provider ID
	Username  string     `json:"username"`
	Email     string     `json:"email"`
	AvatarURL *string    `json:"avatar_url,omitempty"`

	// Competition aggregates (locally owned)
	TotalGames int64 `json:"total_games" gorm:"default:0"`
	TotalWins  int64 `json:"total_wins" gorm:"default:0"`
	XP         int64 `json:"xp" gorm:"default:0"`

	SyncedAt *time.Time `json:"synced_at,omitempty"`

	Timestamps
}

// UserCredits is the per-user wallet aggregate. Prize payouts touch
// winnings_credits only, and always through an atomic SQL increment.
type UserCredits struct {
	ID               string `json:"id" gorm:"primaryKey"`
	UserID           string `json:"user_id" gorm:"uniqueIndex;not null"`
	PurchasedCredits int64  `json:"purchased_credits" gorm:"default:0"`
	WinningsCredits  int64  `json:"winnings_credits" gorm:"default:0"`
	ReferralCredits  int64  `json:"referral_credits" gorm:"default:0"`

	Timestamps
}

// TotalCredits is the spendable balance across all three buckets.
func (u *UserCredits) TotalCredits() int64 {
	return u.PurchasedCredits + u.WinningsCredits + u.ReferralCredits
}

// Timestamps adds GORM auto-times
type Timestamps struct {
	CreatedAt time.Time      `json:"created_at" gorm:"autoCreateTime"`
	UpdatedAt time.Time      `json:"updated_at" gorm:"autoUpdateTime"`
	DeletedAt gorm.DeletedAt `json:"deleted_at,omitempty" gorm:"index"`
}
