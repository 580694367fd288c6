package workers

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"os"
	"time"

	"trivia-competition-system/services"
)

// PayoutStatus is one payout state change reported by the payments service
// (which fronts Stripe and PayPal).
type PayoutStatus struct {
	TransactionID string    `json:"transaction_id"` // our ledger transaction ID
	Status        string    `json:"status"`         // "paid" or "failed"
	ProviderRef   string    `json:"provider_ref"`   // e.g. Stripe payout ID, PayPal batch ID
	UpdatedAt     time.Time `json:"updated_at"`
}

// PayoutSyncClient polls the payments service for withdrawal outcomes and
// resolves the matching pending ledger entries. Payment capture stays in the
// payments service; this worker only reconciles state.
type PayoutSyncClient struct {
	BaseURL    string
	Token      string
	HTTPClient *http.Client
	Wallet     *services.WalletService
}

func NewPayoutSyncClient(wallet *services.WalletService) *PayoutSyncClient {
	baseURL := os.Getenv("PAYMENTS_SERVICE_URL")
	if baseURL == "" {
		log.Fatal("PAYMENTS_SERVICE_URL environment variable is required")
	}
	token := os.Getenv("SERVICE_TOKEN")
	if token == "" {
		log.Fatal("SERVICE_TOKEN environment variable is required for payout sync")
	}

	return &PayoutSyncClient{
		BaseURL: baseURL,
		Token:   token,
		Wallet:  wallet,
		HTTPClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

// GetSettledPayouts fetches payout state changes since the given time.
func (c *PayoutSyncClient) GetSettledPayouts(ctx context.Context, since time.Time) ([]PayoutStatus, error) {
	u, err := url.Parse(fmt.Sprintf("%s/api/v1/public/payouts", c.BaseURL))
	if err != nil {
		return nil, fmt.Errorf("failed to parse base URL: %w", err)
	}

	q := u.Query()
	q.Set("since", since.UTC().Format(time.RFC3339))
	u.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, "GET", u.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("X-Service-Token", c.Token)

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to call payments service: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return nil, fmt.Errorf("payments service returned status %d: %s", resp.StatusCode, string(body))
	}

	var response struct {
		Payouts []PayoutStatus `json:"payouts"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&response); err != nil {
		return nil, fmt.Errorf("failed to decode payments service response: %w", err)
	}
	return response.Payouts, nil
}

// PollPayouts resolves pending withdrawals on a fixed interval. Both
// resolution paths are idempotent (the pending→terminal status flip is the
// gate), so seeing the same payout twice is harmless.
func PollPayouts(ctx context.Context, client *PayoutSyncClient, pollInterval time.Duration) {
	log.Println("Starting payout polling…")
	lastSyncTime := time.Now().UTC().Add(-24 * time.Hour)

	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Println("Payout polling stopped.")
			return
		case <-ticker.C:
			payouts, err := client.GetSettledPayouts(ctx, lastSyncTime)
			if err != nil {
				log.Printf("❌ Payout poll failed: %v", err)
				continue
			}

			for _, payout := range payouts {
				switch payout.Status {
				case "paid":
					if err := client.Wallet.SettleWithdrawal(payout.TransactionID, payout.ProviderRef); err != nil {
						log.Printf("❌ Failed to settle withdrawal %s: %v", payout.TransactionID, err)
						continue
					}
				case "failed":
					if err := client.Wallet.RefundWithdrawal(payout.TransactionID); err != nil {
						log.Printf("❌ Failed to refund withdrawal %s: %v", payout.TransactionID, err)
						continue
					}
					log.Printf("↩️  Withdrawal %s failed at provider; credits refunded", payout.TransactionID)
				default:
					log.Printf("⚠️ Unknown payout status %q for %s", payout.Status, payout.TransactionID)
					continue
				}
				if payout.UpdatedAt.After(lastSyncTime) {
					lastSyncTime = payout.UpdatedAt
				}
			}
		}
	}
}
