package services

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// NotifierClient talks to the transactional email service. Delivery is that
// service's problem; callers treat every error here as non-fatal.
type NotifierClient struct {
	BaseURL string
	Token   string
	Client  *http.Client
}

func NewNotifierClient(baseURL, token string) *NotifierClient {
	return &NotifierClient{
		BaseURL: baseURL,
		Token:   token,
		Client: &http.Client{
			Timeout: 10 * time.Second,
		},
	}
}

// CompetitionResultEmail is the per-participant payload for the result email.
type CompetitionResultEmail struct {
	UserID          string `json:"user_id"`
	CompetitionID   string `json:"competition_id"`
	CompetitionName string `json:"competition_name"`
	Rank            int    `json:"rank"`
	Score           int    `json:"score"`
	PrizeAmount     int64  `json:"prize_amount"`
	XPAwarded       int64  `json:"xp_awarded"`
	TrophyAwarded   bool   `json:"trophy_awarded"`
}

// SendCompetitionResult posts one result email request to the notifier.
func (c *NotifierClient) SendCompetitionResult(email CompetitionResultEmail) error {
	url := fmt.Sprintf("%s/api/v1/emails/competition-result", c.BaseURL)

	body, err := json.Marshal(email)
	if err != nil {
		return fmt.Errorf("failed to marshal email payload: %w", err)
	}

	req, err := http.NewRequest("POST", url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to build notifier request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Service-Token", c.Token)

	resp, err := c.Client.Do(req)
	if err != nil {
		return fmt.Errorf("notifier call failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("notifier returned status %d: %s", resp.StatusCode, string(snippet))
	}
	return nil
}
