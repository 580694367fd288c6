package services

import (
	"math"
	"strings"
)

// PrizePlan describes how a competition's revenue is split between winners.
type PrizePlan struct {
	Percentage   float64   `json:"percentage"`   // share of total revenue that forms the pool
	WinnerCount  int       `json:"winner_count"` // ranks 1..WinnerCount receive a prize
	Distribution []float64 `json:"distribution"` // per-rank revenue fraction, index 0 = rank 1
}

// Prize tiers keyed on the *actual* number of completed sessions, not
// pre-registrations. Boundaries: 50 participants falls in the middle tier,
// 100 in the top tier.
var (
	prizeTierSmall = PrizePlan{
		Percentage:   0.40,
		WinnerCount:  3,
		Distribution: []float64{0.20, 0.12, 0.08},
	}
	prizeTierMedium = PrizePlan{
		Percentage:   0.45,
		WinnerCount:  5,
		Distribution: []float64{0.20, 0.12, 0.07, 0.03, 0.03},
	}
	prizeTierLarge = PrizePlan{
		Percentage:   0.50,
		WinnerCount:  10,
		Distribution: []float64{0.20, 0.10, 0.07, 0.04, 0.03, 0.02, 0.01, 0.01, 0.01, 0.01},
	}
)

// CalculatePrizePool returns the prize plan for a given participant count.
// Pure and deterministic; the finalizer derives every payout from it.
func CalculatePrizePool(participantCount int) PrizePlan {
	switch {
	case participantCount < 50:
		return prizeTierSmall
	case participantCount < 100:
		return prizeTierMedium
	default:
		return prizeTierLarge
	}
}

// PrizeAmount converts a revenue fraction to whole credits, rounding up so a
// winner is never short-changed by integer truncation.
func PrizeAmount(totalRevenue int64, fraction float64) int64 {
	return int64(math.Ceil(float64(totalRevenue) * fraction))
}

// XP for winners scales with their score.
const winnerXPPerCorrectAnswer = 5

// WinnerXP returns the XP award for a winning session.
func WinnerXP(correctAnswers int) int64 {
	return int64(correctAnswers) * winnerXPPerCorrectAnswer
}

// NonWinnerXP returns the flat participation XP, tiered by competition name.
func NonWinnerXP(competitionName string) int64 {
	name := strings.ToLower(competitionName)
	switch {
	case strings.Contains(name, "elite"):
		return 30
	case strings.Contains(name, "pro"):
		return 20
	case strings.Contains(name, "starter"):
		return 10
	default:
		return 10
	}
}

// TrophyNameForRank names the award record for a winning rank.
func TrophyNameForRank(rank, winnerCount int) string {
	switch rank {
	case 1:
		return "Champion"
	case 2:
		return "Runner-Up"
	case 3:
		return "Third Place"
	default:
		if winnerCount <= 5 {
			return "Top 5 Finisher"
		}
		return "Top 10 Finisher"
	}
}
