package services

import (
	"fmt"
	"testing"
	"time"

	"trivia-competition-system/models"

	"github.com/glebarez/sqlite"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

func sessionAt(userID string, score int, end time.Time) models.CompetitionSession {
	return models.CompetitionSession{
		ID:             "sess-" + userID,
		CompetitionID:  "comp-1",
		UserID:         userID,
		CorrectAnswers: score,
		StartTime:      end.Add(-10 * time.Minute),
		EndTime:        &end,
	}
}

func TestRankSessionsScoreThenFinishTime(t *testing.T) {
	base := time.Date(2026, 3, 1, 18, 0, 0, 0, time.UTC)

	sessions := []models.CompetitionSession{
		sessionAt("user-a", 5, base.Add(2*time.Minute)),
		sessionAt("user-b", 3, base.Add(1*time.Minute)),
		sessionAt("user-c", 5, base.Add(3*time.Minute)),
		sessionAt("user-d", 2, base),
	}

	ranked := rankSessions(sessions)
	require.Len(t, ranked, 4)

	// Higher score first; equal scores ordered by earlier finish.
	assert.Equal(t, "user-a", ranked[0].UserID)
	assert.Equal(t, "user-c", ranked[1].UserID)
	assert.Equal(t, "user-b", ranked[2].UserID)
	assert.Equal(t, "user-d", ranked[3].UserID)
}

func TestRankSessionsIdenticalScoreAndTimeFallsBackToUserID(t *testing.T) {
	base := time.Date(2026, 3, 1, 18, 0, 0, 0, time.UTC)

	sessions := []models.CompetitionSession{
		sessionAt("user-z", 4, base),
		sessionAt("user-a", 4, base),
		sessionAt("user-m", 4, base),
	}

	ranked := rankSessions(sessions)
	require.Len(t, ranked, 3)
	assert.Equal(t, "user-a", ranked[0].UserID)
	assert.Equal(t, "user-m", ranked[1].UserID)
	assert.Equal(t, "user-z", ranked[2].UserID)
}

func TestRankSessionsDoesNotMutateInput(t *testing.T) {
	base := time.Date(2026, 3, 1, 18, 0, 0, 0, time.UTC)

	sessions := []models.CompetitionSession{
		sessionAt("user-low", 1, base),
		sessionAt("user-high", 9, base),
	}

	_ = rankSessions(sessions)
	assert.Equal(t, "user-low", sessions[0].UserID)
	assert.Equal(t, "user-high", sessions[1].UserID)
}

func TestRankSessionsIsDeterministic(t *testing.T) {
	base := time.Date(2026, 3, 1, 18, 0, 0, 0, time.UTC)

	sessions := []models.CompetitionSession{
		sessionAt("user-a", 5, base.Add(time.Minute)),
		sessionAt("user-b", 5, base.Add(time.Minute)),
		sessionAt("user-c", 5, base),
		sessionAt("user-d", 7, base.Add(5*time.Minute)),
	}

	first := rankSessions(sessions)
	for i := 0; i < 10; i++ {
		again := rankSessions(sessions)
		for j := range first {
			assert.Equal(t, first[j].UserID, again[j].UserID)
		}
	}
}

// --- DB-backed finalizer tests ---

func newFinalizerTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	// the in-memory database lives on a single connection
	sqlDB.SetMaxOpenConns(1)

	require.NoError(t, db.AutoMigrate(
		&models.Competition{},
		&models.CompetitionSession{},
		&models.CompetitionResult{},
		&models.CompetitionTrophy{},
		&models.CompetitionHistory{},
		&models.Transaction{},
		&models.UserCredits{},
		&models.Profile{},
	))
	return db
}

func seedCompetition(t *testing.T, db *gorm.DB, name string, cost int64, status string, endedAgo time.Duration) *models.Competition {
	t.Helper()
	now := time.Now()
	comp := &models.Competition{
		ID:            uuid.NewString(),
		Name:          name,
		Slug:          "c-" + uuid.NewString()[:8],
		Status:        status,
		StartTime:     now.Add(-endedAgo - time.Hour),
		EndTime:       now.Add(-endedAgo),
		CreditCost:    cost,
		QuestionCount: 50,
	}
	require.NoError(t, db.Create(comp).Error)
	return comp
}

func seedSession(t *testing.T, db *gorm.DB, compID, userID string, score int, end time.Time) models.CompetitionSession {
	t.Helper()
	sess := models.CompetitionSession{
		ID:             uuid.NewString(),
		CompetitionID:  compID,
		UserID:         userID,
		CorrectAnswers: score,
		StartTime:      end.Add(-10 * time.Minute),
		EndTime:        &end,
	}
	require.NoError(t, db.Create(&sess).Error)
	return sess
}

func TestFinalizeCompetitionEndToEnd(t *testing.T) {
	db := newFinalizerTestDB(t)
	svc := NewFinalizerService(db, nil, nil)

	comp := seedCompetition(t, db, "Sunday Trivia", 10, models.CompetitionStatusActive, time.Hour)
	base := time.Now().Add(-90 * time.Minute)
	for i := 1; i <= 40; i++ {
		seedSession(t, db, comp.ID, fmt.Sprintf("user-%02d", i), 41-i, base.Add(time.Duration(i)*time.Second))
	}

	summary, err := svc.FinalizeCompetition(comp.ID)
	require.NoError(t, err)

	assert.True(t, summary.Finalized)
	assert.Equal(t, 40, summary.TotalPlayers)
	// 40 players × 10 credits → revenue 400, small tier keeps 40%
	assert.Equal(t, int64(160), summary.PrizePool)

	var updated models.Competition
	require.NoError(t, db.First(&updated, "id = ?", comp.ID).Error)
	assert.Equal(t, models.CompetitionStatusCompleted, updated.Status)

	var results []models.CompetitionResult
	require.NoError(t, db.Where("competition_id = ?", comp.ID).Order("rank ASC").Find(&results).Error)
	require.Len(t, results, 40)

	// Rank 1: 20% of revenue, trophy, score-scaled XP
	assert.Equal(t, "user-01", results[0].UserID)
	assert.Equal(t, int64(80), results[0].PrizeAmount)
	assert.True(t, results[0].TrophyAwarded)
	assert.Equal(t, int64(200), results[0].XPAwarded) // 40 correct × 5

	// Rank 4 is outside the small tier: no prize, flat participation XP
	assert.Equal(t, "user-04", results[3].UserID)
	assert.Equal(t, int64(0), results[3].PrizeAmount)
	assert.False(t, results[3].TrophyAwarded)
	assert.Equal(t, int64(10), results[3].XPAwarded)

	var trophies []models.CompetitionTrophy
	require.NoError(t, db.Where("competition_id = ?", comp.ID).Order("rank ASC").Find(&trophies).Error)
	require.Len(t, trophies, 3)
	assert.Equal(t, "Champion", trophies[0].Name)
	assert.Equal(t, "Runner-Up", trophies[1].Name)
	assert.Equal(t, "Third Place", trophies[2].Name)

	var rewardCount int64
	require.NoError(t, db.Model(&models.Transaction{}).
		Where("type = ?", models.TransactionTypeReward).Count(&rewardCount).Error)
	assert.Equal(t, int64(3), rewardCount)

	var credits models.UserCredits
	require.NoError(t, db.Where("user_id = ?", "user-01").First(&credits).Error)
	assert.Equal(t, int64(80), credits.WinningsCredits)

	var profile models.Profile
	require.NoError(t, db.Where("user_id = ?", "user-01").First(&profile).Error)
	assert.Equal(t, int64(1), profile.TotalGames)
	assert.Equal(t, int64(1), profile.TotalWins)
	assert.Equal(t, int64(200), profile.XP)
}

func TestFinalizeCompetitionIsIdempotent(t *testing.T) {
	db := newFinalizerTestDB(t)
	svc := NewFinalizerService(db, nil, nil)

	comp := seedCompetition(t, db, "Starter Cup", 10, models.CompetitionStatusActive, time.Hour)
	base := time.Now().Add(-90 * time.Minute)
	for i := 1; i <= 4; i++ {
		seedSession(t, db, comp.ID, fmt.Sprintf("user-%d", i), 10-i, base.Add(time.Duration(i)*time.Second))
	}

	first, err := svc.FinalizeCompetition(comp.ID)
	require.NoError(t, err)
	require.True(t, first.Finalized)

	var rewardsBefore int64
	require.NoError(t, db.Model(&models.Transaction{}).
		Where("type = ?", models.TransactionTypeReward).Count(&rewardsBefore).Error)
	var winnerBefore models.UserCredits
	require.NoError(t, db.Where("user_id = ?", "user-1").First(&winnerBefore).Error)

	second, err := svc.FinalizeCompetition(comp.ID)
	require.NoError(t, err)

	assert.False(t, second.Finalized)
	assert.Equal(t, "competition already finalized", second.Message)
	assert.Equal(t, 4, second.TotalPlayers)

	var rewardsAfter int64
	require.NoError(t, db.Model(&models.Transaction{}).
		Where("type = ?", models.TransactionTypeReward).Count(&rewardsAfter).Error)
	assert.Equal(t, rewardsBefore, rewardsAfter)

	var winnerAfter models.UserCredits
	require.NoError(t, db.Where("user_id = ?", "user-1").First(&winnerAfter).Error)
	assert.Equal(t, winnerBefore.WinningsCredits, winnerAfter.WinningsCredits)

	var resultCount int64
	require.NoError(t, db.Model(&models.CompetitionResult{}).
		Where("competition_id = ?", comp.ID).Count(&resultCount).Error)
	assert.Equal(t, int64(4), resultCount)

	var profile models.Profile
	require.NoError(t, db.Where("user_id = ?", "user-1").First(&profile).Error)
	assert.Equal(t, int64(1), profile.TotalGames)
}

func TestFinalizeCompetitionNoCompletedSessions(t *testing.T) {
	db := newFinalizerTestDB(t)
	svc := NewFinalizerService(db, nil, nil)

	comp := seedCompetition(t, db, "Ghost Town Cup", 10, models.CompetitionStatusActive, time.Hour)

	summary, err := svc.FinalizeCompetition(comp.ID)
	require.NoError(t, err)

	assert.True(t, summary.Finalized)
	assert.Contains(t, summary.Message, "no completed sessions")
	assert.Empty(t, summary.Results)

	var updated models.Competition
	require.NoError(t, db.First(&updated, "id = ?", comp.ID).Error)
	assert.Equal(t, models.CompetitionStatusCompleted, updated.Status)
}

func TestFinalizeCompetitionNotYetEnded(t *testing.T) {
	db := newFinalizerTestDB(t)
	svc := NewFinalizerService(db, nil, nil)

	comp := seedCompetition(t, db, "Future Cup", 10, models.CompetitionStatusActive, -time.Hour)

	summary, err := svc.FinalizeCompetition(comp.ID)
	require.NoError(t, err)

	assert.False(t, summary.Finalized)
	assert.Contains(t, summary.Message, "has not ended yet")

	var updated models.Competition
	require.NoError(t, db.First(&updated, "id = ?", comp.ID).Error)
	assert.Equal(t, models.CompetitionStatusActive, updated.Status)
}

func TestFinalizeCompetitionUnknownID(t *testing.T) {
	db := newFinalizerTestDB(t)
	svc := NewFinalizerService(db, nil, nil)

	_, err := svc.FinalizeCompetition(uuid.NewString())
	assert.ErrorIs(t, err, ErrCompetitionNotFound)
}

func TestFinalizeCompetitionRespectsFreshClaim(t *testing.T) {
	db := newFinalizerTestDB(t)
	svc := NewFinalizerService(db, nil, nil)

	comp := seedCompetition(t, db, "Busy Cup", 10, models.CompetitionStatusActive, time.Hour)
	seedSession(t, db, comp.ID, "user-1", 8, time.Now().Add(-80*time.Minute))

	// Another run claimed the competition moments ago.
	require.NoError(t, db.Model(&models.Competition{}).
		Where("id = ?", comp.ID).
		UpdateColumns(map[string]interface{}{
			"status":     models.CompetitionStatusFinalizing,
			"updated_at": time.Now(),
		}).Error)

	summary, err := svc.FinalizeCompetition(comp.ID)
	require.NoError(t, err)

	assert.False(t, summary.Finalized)
	assert.Equal(t, "finalization already in progress", summary.Message)

	var resultCount int64
	require.NoError(t, db.Model(&models.CompetitionResult{}).
		Where("competition_id = ?", comp.ID).Count(&resultCount).Error)
	assert.Equal(t, int64(0), resultCount)
}

func TestFinalizeCompetitionResumesStaleRun(t *testing.T) {
	db := newFinalizerTestDB(t)
	svc := NewFinalizerService(db, nil, nil)

	comp := seedCompetition(t, db, "Crashed Cup", 10, models.CompetitionStatusActive, time.Hour)
	base := time.Now().Add(-90 * time.Minute)
	var sessions []models.CompetitionSession
	for i := 1; i <= 4; i++ {
		sessions = append(sessions, seedSession(t, db, comp.ID, fmt.Sprintf("user-%d", i), 10-i, base.Add(time.Duration(i)*time.Second)))
	}

	// Recreate the on-disk state of a run that died after paying rank 1:
	// result row, reward ledger entry, credited winnings, history and profile
	// aggregates all written, then nothing else.
	totalRevenue := int64(4) * comp.CreditCost
	plan := CalculatePrizePool(4)
	prize1 := PrizeAmount(totalRevenue, plan.Distribution[0])

	winner := sessions[0]
	require.NoError(t, db.Create(&models.CompetitionResult{
		ID: uuid.NewString(), CompetitionID: comp.ID, UserID: winner.UserID,
		Score: winner.CorrectAnswers, Rank: 1, XPAwarded: WinnerXP(winner.CorrectAnswers),
		TrophyAwarded: true, PrizeAmount: prize1,
	}).Error)
	sessionID := winner.ID
	require.NoError(t, db.Create(&models.Transaction{
		ID: uuid.NewString(), UserID: winner.UserID, Type: models.TransactionTypeReward,
		Amount: prize1, Status: models.TransactionStatusCompleted, SessionID: &sessionID,
	}).Error)
	require.NoError(t, db.Create(&models.UserCredits{
		ID: uuid.NewString(), UserID: winner.UserID, WinningsCredits: prize1,
	}).Error)
	require.NoError(t, db.Create(&models.CompetitionHistory{
		ID: uuid.NewString(), CompetitionID: comp.ID, UserID: winner.UserID,
		Score: winner.CorrectAnswers, Rank: 1, PrizeAmount: prize1, Won: true,
		PlayedAt: *winner.EndTime,
	}).Error)
	require.NoError(t, db.Create(&models.Profile{
		ID: uuid.NewString(), UserID: winner.UserID,
		TotalGames: 1, TotalWins: 1, XP: WinnerXP(winner.CorrectAnswers),
	}).Error)

	// The crashed run's claim, now well past the reclaim window.
	require.NoError(t, db.Model(&models.Competition{}).
		Where("id = ?", comp.ID).
		UpdateColumns(map[string]interface{}{
			"status":     models.CompetitionStatusFinalizing,
			"updated_at": time.Now().Add(-10 * time.Minute),
		}).Error)

	summary, err := svc.FinalizeCompetition(comp.ID)
	require.NoError(t, err)
	assert.True(t, summary.Finalized)

	var updated models.Competition
	require.NoError(t, db.First(&updated, "id = ?", comp.ID).Error)
	assert.Equal(t, models.CompetitionStatusCompleted, updated.Status)

	// All four participants now have rows, and rank 1 was not paid twice.
	var resultCount int64
	require.NoError(t, db.Model(&models.CompetitionResult{}).
		Where("competition_id = ?", comp.ID).Count(&resultCount).Error)
	assert.Equal(t, int64(4), resultCount)

	var winnerCredits models.UserCredits
	require.NoError(t, db.Where("user_id = ?", winner.UserID).First(&winnerCredits).Error)
	assert.Equal(t, prize1, winnerCredits.WinningsCredits)

	var winnerRewards int64
	require.NoError(t, db.Model(&models.Transaction{}).
		Where("session_id = ? AND type = ?", winner.ID, models.TransactionTypeReward).
		Count(&winnerRewards).Error)
	assert.Equal(t, int64(1), winnerRewards)

	var winnerProfile models.Profile
	require.NoError(t, db.Where("user_id = ?", winner.UserID).First(&winnerProfile).Error)
	assert.Equal(t, int64(1), winnerProfile.TotalGames)

	// The rest of the field got their missing payouts and trophies.
	var runnerUpCredits models.UserCredits
	require.NoError(t, db.Where("user_id = ?", sessions[1].UserID).First(&runnerUpCredits).Error)
	assert.Equal(t, PrizeAmount(totalRevenue, plan.Distribution[1]), runnerUpCredits.WinningsCredits)

	var trophyCount int64
	require.NoError(t, db.Model(&models.CompetitionTrophy{}).
		Where("competition_id = ?", comp.ID).Count(&trophyCount).Error)
	assert.Equal(t, int64(3), trophyCount)
}

func TestSweepDueCompetitionsRetriesStaleFinalizing(t *testing.T) {
	db := newFinalizerTestDB(t)
	svc := NewFinalizerService(db, nil, nil)

	stale := seedCompetition(t, db, "Stuck Cup", 10, models.CompetitionStatusActive, time.Hour)
	seedSession(t, db, stale.ID, "user-1", 7, time.Now().Add(-70*time.Minute))
	require.NoError(t, db.Model(&models.Competition{}).
		Where("id = ?", stale.ID).
		UpdateColumns(map[string]interface{}{
			"status":     models.CompetitionStatusFinalizing,
			"updated_at": time.Now().Add(-10 * time.Minute),
		}).Error)

	// Still in play; must not be touched.
	ongoing := seedCompetition(t, db, "Ongoing Cup", 10, models.CompetitionStatusActive, -time.Hour)

	outcomes, err := svc.SweepDueCompetitions()
	require.NoError(t, err)
	require.Len(t, outcomes, 1)
	assert.Equal(t, stale.ID, outcomes[0].CompetitionID)
	assert.True(t, outcomes[0].Success)
	assert.True(t, outcomes[0].Finalized)

	var updated models.Competition
	require.NoError(t, db.First(&updated, "id = ?", stale.ID).Error)
	assert.Equal(t, models.CompetitionStatusCompleted, updated.Status)

	var ongoingRow models.Competition
	require.NoError(t, db.First(&ongoingRow, "id = ?", ongoing.ID).Error)
	assert.Equal(t, models.CompetitionStatusActive, ongoingRow.Status)
}
