package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"trivia-competition-system/models"

	"github.com/redis/go-redis/v9"
)

// ErrLeaderboardMiss is returned when no cached standings exist for a
// competition.
var ErrLeaderboardMiss = errors.New("leaderboard_cache: no cached standings")

const (
	keyFinalStandings = "leaderboard:final:"

	// Standings are immutable once a competition completes; the TTL only
	// bounds memory for competitions nobody looks at anymore.
	finalStandingsTTL = 24 * time.Hour
)

// LeaderboardCache stores finished leaderboards in Redis so the hot
// read path (everyone checking results right after a competition ends) never
// touches Postgres. Standings are written once by the finalizer and served
// as an opaque JSON blob.
type LeaderboardCache struct {
	client *redis.Client
}

// NewLeaderboardCache connects to Redis using a redis:// URL.
func NewLeaderboardCache(redisURL string) (*LeaderboardCache, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("leaderboard_cache: invalid redis url: %w", err)
	}
	client := redis.NewClient(opts)
	if err := client.Ping(context.Background()).Err(); err != nil {
		return nil, fmt.Errorf("leaderboard_cache: ping failed: %w", err)
	}
	return &LeaderboardCache{client: client}, nil
}

// SetFinalStandings caches the finalized, rank-ordered results of a
// competition.
func (c *LeaderboardCache) SetFinalStandings(ctx context.Context, competitionID string, results []models.CompetitionResult) error {
	data, err := json.Marshal(results)
	if err != nil {
		return fmt.Errorf("leaderboard_cache: marshal failed: %w", err)
	}
	if err := c.client.Set(ctx, keyFinalStandings+competitionID, data, finalStandingsTTL).Err(); err != nil {
		return fmt.Errorf("leaderboard_cache: set failed: %w", err)
	}
	return nil
}

// GetFinalStandings returns the cached standings, or ErrLeaderboardMiss when
// the competition has never been cached (or the entry expired).
func (c *LeaderboardCache) GetFinalStandings(ctx context.Context, competitionID string) ([]models.CompetitionResult, error) {
	data, err := c.client.Get(ctx, keyFinalStandings+competitionID).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrLeaderboardMiss
	}
	if err != nil {
		return nil, fmt.Errorf("leaderboard_cache: get failed: %w", err)
	}
	var results []models.CompetitionResult
	if err := json.Unmarshal(data, &results); err != nil {
		return nil, fmt.Errorf("leaderboard_cache: unmarshal failed: %w", err)
	}
	return results, nil
}

// Invalidate drops a cached leaderboard.
func (c *LeaderboardCache) Invalidate(ctx context.Context, competitionID string) error {
	return c.client.Del(ctx, keyFinalStandings+competitionID).Err()
}
