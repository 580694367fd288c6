package services

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sort"
	"time"

	"trivia-competition-system/models"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// ErrCompetitionNotFound is returned by FinalizeCompetition for unknown IDs.
// The sweep treats it (like every per-competition error) as non-fatal.
var ErrCompetitionNotFound = errors.New("competition not found")

// A "finalizing" row whose updated_at is older than this is treated as the
// leftover of a crashed run and may be re-claimed. The competition row is
// touched only at claim and completion, so a healthy run holds the claim for
// well under this window.
const finalizingReclaimAfter = 5 * time.Minute

// FinalizerService turns the completed sessions of an ended competition into
// final standings, prizes, trophies and history — exactly once, safely
// retryable. Every row write is individually idempotent, so a crashed or
// partially-failed run is resumed by simply invoking finalization again.
type FinalizerService struct {
	DB       *gorm.DB
	Notifier *NotifierClient   // optional; nil disables result emails
	Cache    *LeaderboardCache // optional; nil disables leaderboard caching
}

func NewFinalizerService(db *gorm.DB, notifier *NotifierClient, cache *LeaderboardCache) *FinalizerService {
	return &FinalizerService{DB: db, Notifier: notifier, Cache: cache}
}

// SessionOutcome reports what happened to one participant's row writes.
// Partial failures stay observable instead of disappearing into logs.
type SessionOutcome struct {
	UserID  string `json:"user_id"`
	Rank    int    `json:"rank"`
	Outcome string `json:"outcome"` // "ok" or the failure description
}

// FinalizationSummary is the caller-visible result of one finalization attempt.
type FinalizationSummary struct {
	CompetitionID string                     `json:"competition_id"`
	Finalized     bool                       `json:"finalized"`
	Message       string                     `json:"message"`
	TotalPlayers  int                        `json:"total_players"`
	PrizePool     int64                      `json:"prize_pool"`
	Results       []models.CompetitionResult `json:"results,omitempty"`
	Outcomes      []SessionOutcome           `json:"outcomes,omitempty"`
}

// SweepOutcome is one competition's result within a sweep run.
type SweepOutcome struct {
	CompetitionID string `json:"competition_id"`
	Success       bool   `json:"success"`
	Finalized     bool   `json:"finalized"`
	Message       string `json:"message"`
}

// rankSessions orders completed sessions into final standings: higher score
// first, ties broken by earlier finish. Equal scores do NOT share a rank —
// this is strict ordering by finish time, the implemented product behavior.
// User ID is the last resort so the order is total even for identical
// timestamps.
func rankSessions(sessions []models.CompetitionSession) []models.CompetitionSession {
	ranked := make([]models.CompetitionSession, len(sessions))
	copy(ranked, sessions)
	sort.Slice(ranked, func(i, j int) bool {
		if ranked[i].CorrectAnswers != ranked[j].CorrectAnswers {
			return ranked[i].CorrectAnswers > ranked[j].CorrectAnswers
		}
		ti, tj := ranked[i].EndTime, ranked[j].EndTime
		if ti != nil && tj != nil && !ti.Equal(*tj) {
			return ti.Before(*tj)
		}
		return ranked[i].UserID < ranked[j].UserID
	})
	return ranked
}

// FinalizeCompetition finalizes a single competition by ID. Benign
// conditions — not yet ended, already finalized, another run in progress —
// come back as a non-finalized summary with a descriptive message, not an
// error. Only unknown IDs and database failures are errors.
func (s *FinalizerService) FinalizeCompetition(competitionID string) (*FinalizationSummary, error) {
	var comp models.Competition
	if err := s.DB.First(&comp, "id = ?", competitionID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrCompetitionNotFound
		}
		return nil, fmt.Errorf("failed to load competition %s: %w", competitionID, err)
	}

	now := time.Now()
	if !comp.HasEnded(now) {
		return &FinalizationSummary{
			CompetitionID: comp.ID,
			Message:       fmt.Sprintf("competition has not ended yet (ends %s)", comp.EffectiveEndTime().Format(time.RFC3339)),
		}, nil
	}

	// "completed" is terminal: a finalized competition is never recomputed.
	if comp.Status == models.CompetitionStatusCompleted {
		return s.alreadyFinalized(comp.ID)
	}

	// CAS on status is the mutual-exclusion gate: only the invocation that
	// flips the row to "finalizing" proceeds, so a sweep and a manual trigger
	// racing each other cannot both run the payout loop. A stale "finalizing"
	// row — a run that died between claiming and completing — may be
	// re-claimed: every downstream write is idempotent, so the resumed run
	// only fills in whatever is still missing.
	claim := s.DB.Model(&models.Competition{}).
		Where("id = ? AND (status IN ? OR (status = ? AND updated_at < ?))", comp.ID,
			[]string{
				models.CompetitionStatusScheduled,
				models.CompetitionStatusUpcoming,
				models.CompetitionStatusActive,
				models.CompetitionStatusRunning,
			},
			models.CompetitionStatusFinalizing,
			now.Add(-finalizingReclaimAfter),
		).
		Update("status", models.CompetitionStatusFinalizing)
	if claim.Error != nil {
		return nil, fmt.Errorf("failed to claim competition for finalization: %w", claim.Error)
	}
	if claim.RowsAffected == 0 {
		var current models.Competition
		if err := s.DB.First(&current, "id = ?", comp.ID).Error; err != nil {
			return nil, fmt.Errorf("failed to re-read competition status: %w", err)
		}
		if current.Status == models.CompetitionStatusCompleted {
			return s.alreadyFinalized(comp.ID)
		}
		return &FinalizationSummary{
			CompetitionID: comp.ID,
			Message:       "finalization already in progress",
		}, nil
	}

	var sessions []models.CompetitionSession
	if err := s.DB.Where("competition_id = ? AND end_time IS NOT NULL", comp.ID).
		Find(&sessions).Error; err != nil {
		return nil, fmt.Errorf("failed to load sessions: %w", err)
	}

	if len(sessions) == 0 {
		if err := s.markCompleted(comp.ID); err != nil {
			return nil, err
		}
		return &FinalizationSummary{
			CompetitionID: comp.ID,
			Finalized:     true,
			Message:       "no completed sessions; competition closed without results",
		}, nil
	}

	ranked := rankSessions(sessions)
	plan := CalculatePrizePool(len(ranked))
	totalRevenue := int64(len(ranked)) * comp.CreditCost
	prizePool := int64(float64(totalRevenue) * plan.Percentage)

	summary := &FinalizationSummary{
		CompetitionID: comp.ID,
		Finalized:     true,
		Message:       "competition finalized",
		TotalPlayers:  len(ranked),
		PrizePool:     prizePool,
	}

	for i, sess := range ranked {
		rank := i + 1
		result, err := s.finalizeSession(&comp, &sess, rank, plan, totalRevenue, now)
		outcome := SessionOutcome{UserID: sess.UserID, Rank: rank, Outcome: "ok"}
		if err != nil {
			// Best effort: one participant's failure must not abort the rest.
			// A re-run repairs the missing writes.
			log.Printf("[Finalizer] competition %s rank %d (user %s): %v", comp.ID, rank, sess.UserID, err)
			outcome.Outcome = err.Error()
		} else {
			summary.Results = append(summary.Results, *result)
		}
		summary.Outcomes = append(summary.Outcomes, outcome)
	}

	if err := s.markCompleted(comp.ID); err != nil {
		return nil, err
	}

	if s.Cache != nil && len(summary.Results) > 0 {
		if err := s.Cache.SetFinalStandings(context.Background(), comp.ID, summary.Results); err != nil {
			log.Printf("[Finalizer] leaderboard cache warm failed for %s: %v", comp.ID, err)
		}
	}

	log.Printf("[Finalizer] competition %s finalized: %d players, pool %d credits", comp.ID, len(ranked), prizePool)
	return summary, nil
}

// finalizeSession performs the per-participant writes in order: result row,
// reward transaction + credit payout, trophy, history + profile aggregates,
// result email. Every write is keyed on a natural unique index, so re-running
// after a partial failure only performs whatever is still missing.
func (s *FinalizerService) finalizeSession(comp *models.Competition, sess *models.CompetitionSession, rank int, plan PrizePlan, totalRevenue int64, now time.Time) (*models.CompetitionResult, error) {
	isWinner := rank <= plan.WinnerCount

	var prize int64
	if isWinner {
		prize = PrizeAmount(totalRevenue, plan.Distribution[rank-1])
	}

	var xp int64
	if isWinner {
		xp = WinnerXP(sess.CorrectAnswers)
	} else {
		xp = NonWinnerXP(comp.Name)
	}

	result := models.CompetitionResult{
		ID:            uuid.NewString(),
		CompetitionID: comp.ID,
		UserID:        sess.UserID,
		Score:         sess.CorrectAnswers,
		Rank:          rank,
		XPAwarded:     xp,
		TrophyAwarded: isWinner,
		PrizeAmount:   prize,
	}
	if err := s.DB.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "competition_id"}, {Name: "user_id"}},
		DoNothing: true,
	}).Create(&result).Error; err != nil {
		return nil, fmt.Errorf("result upsert failed: %w", err)
	}

	if prize > 0 {
		if err := s.payReward(sess, prize, comp.ID, rank); err != nil {
			return nil, err
		}
	}

	if isWinner {
		trophy := models.CompetitionTrophy{
			ID:            uuid.NewString(),
			CompetitionID: comp.ID,
			UserID:        sess.UserID,
			Name:          TrophyNameForRank(rank, plan.WinnerCount),
			Rank:          rank,
			AwardedAt:     now,
		}
		if err := s.DB.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "competition_id"}, {Name: "user_id"}},
			DoNothing: true,
		}).Create(&trophy).Error; err != nil {
			return nil, fmt.Errorf("trophy upsert failed: %w", err)
		}
	}

	if err := s.recordHistory(comp, sess, rank, prize, xp, isWinner, now); err != nil {
		return nil, err
	}

	if s.Notifier != nil {
		email := CompetitionResultEmail{
			UserID:          sess.UserID,
			CompetitionID:   comp.ID,
			CompetitionName: comp.Name,
			Rank:            rank,
			Score:           sess.CorrectAnswers,
			PrizeAmount:     prize,
			XPAwarded:       xp,
			TrophyAwarded:   isWinner,
		}
		if err := s.Notifier.SendCompetitionResult(email); err != nil {
			// Never fatal: the email is a courtesy, the ledger is the truth.
			log.Printf("[Finalizer] result email failed for user %s in %s: %v", sess.UserID, comp.ID, err)
		}
	}

	return &result, nil
}

// payReward inserts the reward ledger entry and credits the winner. The
// unique index on (session_id, type) is the exactly-once gate: only the
// invocation whose insert actually lands performs the balance increment, and
// the increment itself is a single atomic UPDATE so concurrent finalizer runs
// cannot lose updates.
func (s *FinalizerService) payReward(sess *models.CompetitionSession, prize int64, competitionID string, rank int) error {
	sessionID := sess.ID
	txn := models.Transaction{
		ID:        uuid.NewString(),
		UserID:    sess.UserID,
		Type:      models.TransactionTypeReward,
		Amount:    prize,
		Status:    models.TransactionStatusCompleted,
		SessionID: &sessionID,
		Metadata:  fmt.Sprintf(`{"competition_id":%q,"rank":%d}`, competitionID, rank),
	}
	ins := s.DB.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "type"}, {Name: "session_id"}},
		DoNothing: true,
	}).Create(&txn)
	if ins.Error != nil {
		return fmt.Errorf("reward transaction insert failed: %w", ins.Error)
	}
	if ins.RowsAffected == 0 {
		// Already paid by an earlier (or concurrent) run.
		return nil
	}

	if err := s.ensureCreditsRow(sess.UserID); err != nil {
		return err
	}
	if err := s.DB.Model(&models.UserCredits{}).
		Where("user_id = ?", sess.UserID).
		Update("winnings_credits", gorm.Expr("winnings_credits + ?", prize)).Error; err != nil {
		return fmt.Errorf("winnings credit failed: %w", err)
	}
	return nil
}

// recordHistory writes the one-per-competition participation row; only the
// insert that lands bumps the profile aggregates, keeping total_games,
// total_wins and xp monotonic under retries.
func (s *FinalizerService) recordHistory(comp *models.Competition, sess *models.CompetitionSession, rank int, prize, xp int64, won bool, now time.Time) error {
	playedAt := now
	if sess.EndTime != nil {
		playedAt = *sess.EndTime
	}
	hist := models.CompetitionHistory{
		ID:            uuid.NewString(),
		CompetitionID: comp.ID,
		UserID:        sess.UserID,
		Score:         sess.CorrectAnswers,
		Rank:          rank,
		PrizeAmount:   prize,
		Won:           won,
		PlayedAt:      playedAt,
	}
	ins := s.DB.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "competition_id"}, {Name: "user_id"}},
		DoNothing: true,
	}).Create(&hist)
	if ins.Error != nil {
		return fmt.Errorf("history insert failed: %w", ins.Error)
	}
	if ins.RowsAffected == 0 {
		return nil
	}

	if err := s.ensureProfileRow(sess.UserID); err != nil {
		return err
	}
	winInc := 0
	if won {
		winInc = 1
	}
	if err := s.DB.Model(&models.Profile{}).
		Where("user_id = ?", sess.UserID).
		Updates(map[string]interface{}{
			"total_games": gorm.Expr("total_games + 1"),
			"total_wins":  gorm.Expr("total_wins + ?", winInc),
			"xp":          gorm.Expr("xp + ?", xp),
		}).Error; err != nil {
		return fmt.Errorf("profile aggregate update failed: %w", err)
	}
	return nil
}

func (s *FinalizerService) ensureCreditsRow(userID string) error {
	credits := models.UserCredits{ID: uuid.NewString(), UserID: userID}
	if err := s.DB.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "user_id"}},
		DoNothing: true,
	}).Create(&credits).Error; err != nil {
		return fmt.Errorf("user credits row ensure failed: %w", err)
	}
	return nil
}

func (s *FinalizerService) ensureProfileRow(userID string) error {
	profile := models.Profile{ID: uuid.NewString(), UserID: userID}
	if err := s.DB.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "user_id"}},
		DoNothing: true,
	}).Create(&profile).Error; err != nil {
		return fmt.Errorf("profile row ensure failed: %w", err)
	}
	return nil
}

func (s *FinalizerService) markCompleted(competitionID string) error {
	if err := s.DB.Model(&models.Competition{}).
		Where("id = ?", competitionID).
		Update("status", models.CompetitionStatusCompleted).Error; err != nil {
		return fmt.Errorf("failed to mark competition completed: %w", err)
	}
	return nil
}

func (s *FinalizerService) alreadyFinalized(competitionID string) (*FinalizationSummary, error) {
	var results []models.CompetitionResult
	if err := s.DB.Where("competition_id = ?", competitionID).
		Order("rank ASC").
		Find(&results).Error; err != nil {
		return nil, fmt.Errorf("failed to load existing results: %w", err)
	}
	return &FinalizationSummary{
		CompetitionID: competitionID,
		Message:       "competition already finalized",
		TotalPlayers:  len(results),
		Results:       results,
	}, nil
}

// SweepDueCompetitions finalizes every competition whose play window has
// closed. Each competition is independent: an error is recorded and the sweep
// moves on. "finalizing" rows are included so a crashed run is eventually
// resumed; FinalizeCompetition refuses them until the claim has gone stale.
func (s *FinalizerService) SweepDueCompetitions() ([]SweepOutcome, error) {
	var due []models.Competition
	if err := s.DB.
		Where("status IN ? AND end_time <= ?", []string{
			models.CompetitionStatusActive,
			models.CompetitionStatusRunning,
			models.CompetitionStatusFinalizing,
		}, time.Now()).
		Find(&due).Error; err != nil {
		return nil, fmt.Errorf("failed to list due competitions: %w", err)
	}

	outcomes := make([]SweepOutcome, 0, len(due))
	for _, comp := range due {
		summary, err := s.FinalizeCompetition(comp.ID)
		if err != nil {
			log.Printf("[Sweep] finalize %s failed: %v", comp.ID, err)
			outcomes = append(outcomes, SweepOutcome{CompetitionID: comp.ID, Success: false, Message: err.Error()})
			continue
		}
		outcomes = append(outcomes, SweepOutcome{CompetitionID: comp.ID, Success: true, Finalized: summary.Finalized, Message: summary.Message})
	}
	return outcomes, nil
}
