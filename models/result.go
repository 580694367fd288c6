package models

import (
	"time"
)

// CompetitionResult is the final standing of one user in one competition.
// Exactly one row per (competition, user); the finalizer upserts it with an
// ON CONFLICT DO NOTHING so a retried run leaves computed rows untouched.
// Existing rows double as the "already finalized" marker.
type CompetitionResult struct {
	ID            string    `json:"id" gorm:"primaryKey"`
	CompetitionID string    `json:"competition_id" gorm:"not null;uniqueIndex:idx_results_competition_user;index"`
	UserID        string    `json:"user_id" gorm:"not null;uniqueIndex:idx_results_competition_user;index"`
	Score         int       `json:"score"`
	Rank          int       `json:"rank"` // 1-based, dense, ties broken by earlier finish
	XPAwarded     int64     `json:"xp_awarded"`
	TrophyAwarded bool      `json:"trophy_awarded"`
	PrizeAmount   int64     `json:"prize_amount"` // credits, >= 0
	CreatedAt     time.Time `json:"created_at" gorm:"autoCreateTime"`
}

// CompetitionTrophy is a persistent award record for top-N finishers.
type CompetitionTrophy struct {
	ID            string    `json:"id" gorm:"primaryKey"`
	CompetitionID string    `json:"competition_id" gorm:"not null;uniqueIndex:idx_trophies_competition_user"`
	UserID        string    `json:"user_id" gorm:"not null;uniqueIndex:idx_trophies_competition_user;index"`
	Name          string    `json:"name"` // e.g. "Champion", "Runner-Up"
	Rank          int       `json:"rank"`
	AwardedAt     time.Time `json:"awarded_at"`
	CreatedAt     time.Time `json:"created_at" gorm:"autoCreateTime"`
}

// CompetitionHistory records one user's participation in one competition.
// Its first (and only) insert drives the one-time profile aggregate bump, so
// the unique key is what keeps total_games/total_wins/xp from double counting.
type CompetitionHistory struct {
	ID            string    `json:"id" gorm:"primaryKey"`
	CompetitionID string    `json:"competition_id" gorm:"not null;uniqueIndex:idx_history_competition_user"`
	UserID        string    `json:"user_id" gorm:"not null;uniqueIndex:idx_history_competition_user;index"`
	Score         int       `json:"score"`
	Rank          int       `json:"rank"`
	PrizeAmount   int64     `json:"prize_amount"`
	Won           bool      `json:"won"`
	PlayedAt      time.Time `json:"played_at"`
	CreatedAt     time.Time `json:"created_at" gorm:"autoCreateTime"`
}
