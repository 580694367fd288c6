package services

import (
	"context"
	"errors"
	"fmt"
	"log"
	"path/filepath"
	"strconv"
	"time"

	"trivia-competition-system/models"
	"trivia-competition-system/utils"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"github.com/gosimple/slug"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type CompetitionService struct {
	DB    *gorm.DB
	Cache *LeaderboardCache // optional
}

func NewCompetitionService(db *gorm.DB, cache *LeaderboardCache) *CompetitionService {
	return &CompetitionService{DB: db, Cache: cache}
}

// CreateCompetition creates a scheduled competition (admin tooling).
// Multipart form so the cover photo can ride along.
func (s *CompetitionService) CreateCompetition(c *fiber.Ctx) error {
	name := c.FormValue("name")
	description := c.FormValue("description")
	startTimeStr := c.FormValue("start_time")
	endTimeStr := c.FormValue("end_time")
	durationStr := c.FormValue("duration_minutes")
	creditCostStr := c.FormValue("credit_cost")
	questionCountStr := c.FormValue("question_count")

	if name == "" || startTimeStr == "" {
		return c.Status(400).JSON(fiber.Map{"error": "name and start_time are required"})
	}

	startTime, err := time.Parse(time.RFC3339, startTimeStr)
	if err != nil {
		return c.Status(400).JSON(fiber.Map{"error": "invalid start_time (use RFC3339)"})
	}

	durationMinutes := 0
	if durationStr != "" {
		if n, err := strconv.Atoi(durationStr); err == nil && n >= 0 {
			durationMinutes = n
		} else {
			return c.Status(400).JSON(fiber.Map{"error": "duration_minutes must be a non-negative integer"})
		}
	}

	var endTime time.Time
	if endTimeStr != "" {
		endTime, err = time.Parse(time.RFC3339, endTimeStr)
		if err != nil {
			return c.Status(400).JSON(fiber.Map{"error": "invalid end_time (use RFC3339)"})
		}
	} else if durationMinutes > 0 {
		// Materialize end_time so the sweep predicate stays a plain column
		// comparison.
		endTime = startTime.Add(time.Duration(durationMinutes) * time.Minute)
	} else {
		return c.Status(400).JSON(fiber.Map{"error": "either end_time or duration_minutes is required"})
	}

	if !endTime.After(startTime) {
		return c.Status(400).JSON(fiber.Map{"error": "end_time must be after start_time"})
	}

	creditCost := int64(0)
	if creditCostStr != "" {
		if n, err := strconv.ParseInt(creditCostStr, 10, 64); err == nil && n >= 0 {
			creditCost = n
		} else {
			return c.Status(400).JSON(fiber.Map{"error": "credit_cost must be a non-negative integer"})
		}
	}

	questionCount := 0
	if questionCountStr != "" {
		if n, err := strconv.Atoi(questionCountStr); err == nil && n > 0 {
			questionCount = n
		} else {
			return c.Status(400).JSON(fiber.Map{"error": "question_count must be a positive integer"})
		}
	}

	// Cover photo → R2 (optional)
	var mainPhotoURL string
	if mainPhoto, err := c.FormFile("main_photo"); err == nil && mainPhoto.Size > 0 {
		ext := filepath.Ext(mainPhoto.Filename)
		if ext == "" {
			ext = ".jpg"
		}
		key := "competitions/covers/" + uuid.NewString() + ext
		url, err := utils.UploadFileToR2(mainPhoto, key)
		if err != nil {
			log.Printf("ERROR uploading competition cover: %v", err)
			return c.Status(500).JSON(fiber.Map{"error": "failed to upload cover photo"})
		}
		mainPhotoURL = url
	}

	competition := &models.Competition{
		ID:              uuid.NewString(),
		Name:            name,
		Slug:            slug.Make(name) + "-" + uuid.NewString()[:8],
		Description:     description,
		MainPhotoURL:    mainPhotoURL,
		Status:          models.CompetitionStatusScheduled,
		StartTime:       startTime,
		EndTime:         endTime,
		DurationMinutes: durationMinutes,
		CreditCost:      creditCost,
		QuestionCount:   questionCount,
	}

	if err := s.DB.Create(competition).Error; err != nil {
		log.Printf("DB Error creating competition: %v", err)
		return c.Status(500).JSON(fiber.Map{"error": "failed to create competition"})
	}

	return c.Status(201).JSON(competition)
}

// GetAllCompetitions lists competitions, optionally filtered by status.
func (s *CompetitionService) GetAllCompetitions(c *fiber.Ctx) error {
	query := s.DB.Model(&models.Competition{}).Order("start_time DESC")
	if status := c.Query("status"); status != "" {
		query = query.Where("status = ?", status)
	}

	var competitions []models.Competition
	if err := query.Find(&competitions).Error; err != nil {
		log.Printf("DB Error fetching competitions: %v", err)
		return c.Status(500).JSON(fiber.Map{"error": "failed to fetch competitions"})
	}
	return c.JSON(competitions)
}

// GetCompetitionByID returns one competition plus its participant count.
func (s *CompetitionService) GetCompetitionByID(c *fiber.Ctx) error {
	id := c.Params("id")

	var competition models.Competition
	if err := s.DB.First(&competition, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return c.Status(404).JSON(fiber.Map{"error": "competition not found"})
		}
		return c.Status(500).JSON(fiber.Map{"error": "DB error"})
	}

	var count int64
	s.DB.Model(&models.CompetitionSession{}).
		Where("competition_id = ?", id).
		Count(&count)
	competition.ParticipantCount = count

	return c.JSON(&competition)
}

// UpdateCompetitionStatus is an admin escape hatch for lifecycle transitions.
// "completed" is terminal: no transition may leave it.
func (s *CompetitionService) UpdateCompetitionStatus(c *fiber.Ctx) error {
	id := c.Params("id")
	type Req struct {
		Status string `json:"status"`
	}
	var req Req
	if err := c.BodyParser(&req); err != nil {
		return c.Status(400).JSON(fiber.Map{"error": "invalid JSON"})
	}

	switch req.Status {
	case models.CompetitionStatusScheduled, models.CompetitionStatusUpcoming,
		models.CompetitionStatusActive, models.CompetitionStatusRunning:
	default:
		return c.Status(400).JSON(fiber.Map{"error": "invalid status"})
	}

	result := s.DB.Model(&models.Competition{}).
		Where("id = ? AND status NOT IN ?", id, []string{
			models.CompetitionStatusCompleted,
			models.CompetitionStatusFinalizing,
		}).
		Update("status", req.Status)
	if result.Error != nil {
		return c.Status(500).JSON(fiber.Map{"error": "DB update failed"})
	}
	if result.RowsAffected == 0 {
		var comp models.Competition
		if err := s.DB.First(&comp, "id = ?", id).Error; err != nil {
			return c.Status(404).JSON(fiber.Map{"error": "competition not found"})
		}
		return c.Status(409).JSON(fiber.Map{"error": fmt.Sprintf("cannot change status of a %s competition", comp.Status)})
	}

	var updated models.Competition
	s.DB.First(&updated, "id = ?", id)
	return c.JSON(updated)
}

// GetLeaderboard returns the standings for a competition. Completed
// competitions serve the immutable final standings (Redis-cached); in-flight
// competitions get a live ranking of the sessions completed so far.
func (s *CompetitionService) GetLeaderboard(c *fiber.Ctx) error {
	id := c.Params("id")

	var competition models.Competition
	if err := s.DB.First(&competition, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return c.Status(404).JSON(fiber.Map{"error": "competition not found"})
		}
		return c.Status(500).JSON(fiber.Map{"error": "DB error"})
	}

	if competition.Status == models.CompetitionStatusCompleted {
		if s.Cache != nil {
			if results, err := s.Cache.GetFinalStandings(c.Context(), id); err == nil {
				return c.JSON(fiber.Map{"competition_id": id, "final": true, "entries": results})
			} else if !errors.Is(err, ErrLeaderboardMiss) {
				log.Printf("[Leaderboard] cache read failed for %s: %v", id, err)
			}
		}

		var results []models.CompetitionResult
		if err := s.DB.Where("competition_id = ?", id).
			Order("rank ASC").
			Find(&results).Error; err != nil {
			return c.Status(500).JSON(fiber.Map{"error": "failed to fetch results"})
		}
		if s.Cache != nil && len(results) > 0 {
			if err := s.Cache.SetFinalStandings(context.Background(), id, results); err != nil {
				log.Printf("[Leaderboard] cache backfill failed for %s: %v", id, err)
			}
		}
		return c.JSON(fiber.Map{"competition_id": id, "final": true, "entries": results})
	}

	// Live view: rank whatever sessions have finished so far. No prizes or
	// XP here — those exist only after finalization.
	var sessions []models.CompetitionSession
	if err := s.DB.Where("competition_id = ? AND end_time IS NOT NULL", id).
		Find(&sessions).Error; err != nil {
		return c.Status(500).JSON(fiber.Map{"error": "failed to fetch sessions"})
	}

	type LiveEntry struct {
		UserID string `json:"user_id"`
		Score  int    `json:"score"`
		Rank   int    `json:"rank"`
	}
	ranked := rankSessions(sessions)
	entries := make([]LiveEntry, len(ranked))
	for i, sess := range ranked {
		entries[i] = LiveEntry{UserID: sess.UserID, Score: sess.CorrectAnswers, Rank: i + 1}
	}
	return c.JSON(fiber.Map{"competition_id": id, "final": false, "entries": entries})
}

// StartCompetition enters the authenticated user into a competition: debits
// the entry fee from the wallet, records the ledger entry, and opens a
// session. The whole thing is one DB transaction; the unique session index
// and the (session_id, type) ledger index keep double entry impossible.
func (s *CompetitionService) StartCompetition(c *fiber.Ctx) error {
	userID := c.Locals("user_id").(string)
	competitionID := c.Params("id")

	var competition models.Competition
	if err := s.DB.First(&competition, "id = ?", competitionID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return c.Status(404).JSON(fiber.Map{"error": "competition not found"})
		}
		return c.Status(500).JSON(fiber.Map{"error": "DB error"})
	}

	now := time.Now()
	switch competition.Status {
	case models.CompetitionStatusActive, models.CompetitionStatusRunning:
	default:
		return c.Status(403).JSON(fiber.Map{"error": "competition is not open for play", "status": competition.Status})
	}
	if competition.HasEnded(now) {
		return c.Status(403).JSON(fiber.Map{"error": "competition has already ended"})
	}

	var existing models.CompetitionSession
	if err := s.DB.Where("competition_id = ? AND user_id = ?", competitionID, userID).
		First(&existing).Error; err == nil {
		return c.Status(409).JSON(fiber.Map{"error": "user already has a session for this competition", "session": existing})
	}

	session := models.CompetitionSession{
		ID:            uuid.NewString(),
		CompetitionID: competitionID,
		UserID:        userID,
		StartTime:     now,
	}

	err := s.DB.Transaction(func(tx *gorm.DB) error {
		if competition.CreditCost > 0 {
			// Lock the wallet row so the balance check and the debit are one
			// unit.
			var credits models.UserCredits
			if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
				Where("user_id = ?", userID).
				First(&credits).Error; err != nil {
				if errors.Is(err, gorm.ErrRecordNotFound) {
					return fmt.Errorf("insufficient credits (need %d, have 0)", competition.CreditCost)
				}
				return fmt.Errorf("failed to lock wallet: %w", err)
			}
			if credits.TotalCredits() < competition.CreditCost {
				return fmt.Errorf("insufficient credits (need %d, have %d)", competition.CreditCost, credits.TotalCredits())
			}

			// Spend purchased credits first, then referral, winnings last so
			// withdrawable balance survives longest.
			remaining := competition.CreditCost
			spend := func(bucket *int64) {
				take := remaining
				if take > *bucket {
					take = *bucket
				}
				*bucket -= take
				remaining -= take
			}
			spend(&credits.PurchasedCredits)
			spend(&credits.ReferralCredits)
			spend(&credits.WinningsCredits)

			if err := tx.Model(&models.UserCredits{}).
				Where("user_id = ?", userID).
				Updates(map[string]interface{}{
					"purchased_credits": credits.PurchasedCredits,
					"referral_credits":  credits.ReferralCredits,
					"winnings_credits":  credits.WinningsCredits,
				}).Error; err != nil {
				return fmt.Errorf("failed to debit wallet: %w", err)
			}
		}

		if err := tx.Create(&session).Error; err != nil {
			return fmt.Errorf("failed to create session: %w", err)
		}

		if competition.CreditCost > 0 {
			sessionID := session.ID
			entry := models.Transaction{
				ID:        uuid.NewString(),
				UserID:    userID,
				Type:      models.TransactionTypeCompetitionEntry,
				Amount:    competition.CreditCost,
				Status:    models.TransactionStatusCompleted,
				SessionID: &sessionID,
				Metadata:  fmt.Sprintf(`{"competition_id":%q}`, competitionID),
			}
			if err := tx.Create(&entry).Error; err != nil {
				return fmt.Errorf("failed to record entry fee: %w", err)
			}
		}
		return nil
	})
	if err != nil {
		log.Printf("[StartCompetition] %s / user %s: %v", competitionID, userID, err)
		return c.Status(400).JSON(fiber.Map{"error": err.Error()})
	}

	return c.Status(201).JSON(fiber.Map{
		"message": "competition started",
		"session": session,
	})
}

// CompleteSession closes the authenticated user's session with its score.
// Sessions are immutable once complete.
func (s *CompetitionService) CompleteSession(c *fiber.Ctx) error {
	userID := c.Locals("user_id").(string)
	sessionID := c.Params("id")

	type Req struct {
		CorrectAnswers int `json:"correctAnswers"`
	}
	var req Req
	if err := c.BodyParser(&req); err != nil {
		return c.Status(400).JSON(fiber.Map{"error": "invalid JSON"})
	}
	if req.CorrectAnswers < 0 {
		return c.Status(400).JSON(fiber.Map{"error": "correctAnswers must be non-negative"})
	}

	var session models.CompetitionSession
	if err := s.DB.Where("id = ? AND user_id = ?", sessionID, userID).First(&session).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return c.Status(404).JSON(fiber.Map{"error": "session not found or not owned by user"})
		}
		return c.Status(500).JSON(fiber.Map{"error": "DB error"})
	}
	if session.IsComplete() {
		return c.Status(409).JSON(fiber.Map{"error": "session already completed"})
	}

	var competition models.Competition
	if err := s.DB.First(&competition, "id = ?", session.CompetitionID).Error; err != nil {
		return c.Status(500).JSON(fiber.Map{"error": "DB error fetching competition"})
	}
	score := req.CorrectAnswers
	if competition.QuestionCount > 0 && score > competition.QuestionCount {
		return c.Status(400).JSON(fiber.Map{"error": fmt.Sprintf("correctAnswers cannot exceed question count (%d)", competition.QuestionCount)})
	}

	now := time.Now()
	if err := s.DB.Model(&session).
		Where("end_time IS NULL").
		Updates(map[string]interface{}{
			"correct_answers": score,
			"end_time":        now,
		}).Error; err != nil {
		return c.Status(500).JSON(fiber.Map{"error": "failed to complete session"})
	}

	session.CorrectAnswers = score
	session.EndTime = &now
	return c.JSON(fiber.Map{"message": "session completed", "session": session})
}
