package services

import (
	"errors"
	"log"
	"strconv"
	"strings"

	"trivia-competition-system/models"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

type ProfileService struct {
	DB *gorm.DB
}

func NewProfileService(db *gorm.DB) *ProfileService {
	return &ProfileService{DB: db}
}

// EnsureProfile makes sure a Profile row exists for a user (idempotent).
func (s *ProfileService) EnsureProfile(userID string) (*models.Profile, error) {
	var profile models.Profile
	err := s.DB.Where("user_id = ?", userID).First(&profile).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		profile = models.Profile{
			ID:     uuid.NewString(),
			UserID: userID,
		}
		if err := s.DB.Create(&profile).Error; err != nil {
			return nil, err
		}
		return &profile, nil
	}
	if err != nil {
		return nil, err
	}
	return &profile, nil
}

// GetProfile returns the authenticated user's profile with its competition
// aggregates, creating the row on first access.
func (s *ProfileService) GetProfile(c *fiber.Ctx) error {
	userID := c.Locals("user_id").(string)

	profile, err := s.EnsureProfile(userID)
	if err != nil {
		log.Printf("DB Error fetching profile for %s: %v", userID, err)
		return c.Status(500).JSON(fiber.Map{"error": "failed to fetch profile"})
	}
	return c.JSON(profile)
}

// GetTrophies lists the authenticated user's trophies, newest first.
func (s *ProfileService) GetTrophies(c *fiber.Ctx) error {
	userID := c.Locals("user_id").(string)

	var trophies []models.CompetitionTrophy
	if err := s.DB.Where("user_id = ?", userID).
		Order("awarded_at DESC").
		Find(&trophies).Error; err != nil {
		log.Printf("DB Error fetching trophies: %v", err)
		return c.Status(500).JSON(fiber.Map{"error": "failed to fetch trophies"})
	}
	return c.JSON(trophies)
}

// GetHistory lists the authenticated user's competition history.
func (s *ProfileService) GetHistory(c *fiber.Ctx) error {
	userID := c.Locals("user_id").(string)

	limit := 50
	if limitStr := c.Query("limit"); limitStr != "" {
		l, err := strconv.Atoi(limitStr)
		if err != nil || l <= 0 || l > 200 {
			return c.Status(400).JSON(fiber.Map{"error": "invalid limit parameter"})
		}
		limit = l
	}

	var history []models.CompetitionHistory
	if err := s.DB.Where("user_id = ?", userID).
		Order("played_at DESC").
		Limit(limit).
		Find(&history).Error; err != nil {
		log.Printf("DB Error fetching history: %v", err)
		return c.Status(500).JSON(fiber.Map{"error": "failed to fetch history"})
	}
	return c.JSON(history)
}

// SearchUsers searches the local profile mirror (admin tooling).
func (s *ProfileService) SearchUsers(c *fiber.Ctx) error {
	query := c.Query("q", "")
	limitStr := c.Query("limit", "50")
	limit, err := strconv.Atoi(limitStr)
	if err != nil || limit <= 0 || limit > 100 {
		limit = 50
	}

	db := s.DB.Model(&models.Profile{}).Limit(limit)
	if query != "" {
		searchTerm := "%" + strings.ToLower(strings.TrimSpace(query)) + "%"
		db = db.Where("LOWER(username) LIKE ? OR LOWER(email) LIKE ?", searchTerm, searchTerm)
	}

	var profiles []models.Profile
	if err := db.Find(&profiles).Error; err != nil {
		return c.Status(500).JSON(fiber.Map{"error": "search failed", "details": err.Error()})
	}

	type UserSummary struct {
		UserID     string `json:"user_id"`
		Username   string `json:"username"`
		Email      string `json:"email"`
		TotalGames int64  `json:"total_games"`
		TotalWins  int64  `json:"total_wins"`
		XP         int64  `json:"xp"`
	}
	res := make([]UserSummary, len(profiles))
	for i, p := range profiles {
		res[i] = UserSummary{
			UserID:     p.UserID,
			Username:   p.Username,
			Email:      p.Email,
			TotalGames: p.TotalGames,
			TotalWins:  p.TotalWins,
			XP:         p.XP,
		}
	}
	return c.JSON(res)
}
