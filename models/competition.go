package models

import (
	"time"
)

// Competition lifecycle states. "completed" is terminal and never reverts;
// "finalizing" is held only while one finalizer run owns the competition.
const (
	CompetitionStatusScheduled  = "scheduled"
	CompetitionStatusUpcoming   = "upcoming"
	CompetitionStatusActive     = "active"
	CompetitionStatusRunning    = "running"
	CompetitionStatusFinalizing = "finalizing"
	CompetitionStatusCompleted  = "completed"
)

// Competition represents a timed, credit-gated trivia event.
type Competition struct {
	ID              string    `json:"id" gorm:"primaryKey"`
	Name            string    `json:"name" gorm:"not null"`
	Slug            string    `json:"slug" gorm:"uniqueIndex"`
	Description     string    `json:"description"`
	MainPhotoURL    string    `json:"main_photo_url"`
	Status          string    `json:"status" gorm:"default:'scheduled';index"`
	StartTime       time.Time `json:"start_time" gorm:"not null"`
	EndTime         time.Time `json:"end_time" gorm:"index"`
	DurationMinutes int       `json:"duration_minutes" gorm:"default:0"`
	CreditCost      int64     `json:"credit_cost" gorm:"default:0"`
	QuestionCount   int       `json:"question_count" gorm:"default:0"`
	CreatedAt       time.Time `json:"created_at" gorm:"autoCreateTime"`
	UpdatedAt       time.Time `json:"updated_at" gorm:"autoUpdateTime"`

	// Calculated fields (not stored in DB)
	ParticipantCount int64 `json:"participant_count,omitempty" gorm:"-"`
}

// EffectiveEndTime returns EndTime when set, otherwise StartTime plus the
// configured duration. The create path materializes EndTime so queries can
// filter on the column directly; this helper covers legacy rows where only
// duration_minutes was written.
func (c *Competition) EffectiveEndTime() time.Time {
	if !c.EndTime.IsZero() {
		return c.EndTime
	}
	return c.StartTime.Add(time.Duration(c.DurationMinutes) * time.Minute)
}

// HasEnded reports whether the competition's play window is over at t.
func (c *Competition) HasEnded(t time.Time) bool {
	return !c.EffectiveEndTime().After(t)
}

// CompetitionSession is one user's single attempt at a competition.
// The quiz flow owns it; the finalizer only reads it. A session is complete
// iff EndTime is non-nil, and it is immutable once complete.
type CompetitionSession struct {
	ID             string     `json:"id" gorm:"primaryKey"`
	CompetitionID  string     `json:"competition_id" gorm:"not null;uniqueIndex:idx_sessions_competition_user"`
	UserID         string     `json:"user_id" gorm:"not null;uniqueIndex:idx_sessions_competition_user;index"`
	CorrectAnswers int        `json:"correct_answers" gorm:"default:0"`
	StartTime      time.Time  `json:"start_time" gorm:"not null"`
	EndTime        *time.Time `json:"end_time,omitempty"`
	CreatedAt      time.Time  `json:"created_at" gorm:"autoCreateTime"`
	UpdatedAt      time.Time  `json:"updated_at" gorm:"autoUpdateTime"`
}

// IsComplete reports whether the session has been finished and scored.
func (s *CompetitionSession) IsComplete() bool {
	return s.EndTime != nil
}
