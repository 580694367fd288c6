package services

import (
	"errors"
	"fmt"
	"log"
	"strconv"

	"trivia-competition-system/models"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// ErrInsufficientWinnings is returned when a withdrawal asks for more than
// the winnings balance holds.
var ErrInsufficientWinnings = errors.New("insufficient winnings credits")

type WalletService struct {
	DB *gorm.DB
}

func NewWalletService(db *gorm.DB) *WalletService {
	return &WalletService{DB: db}
}

// GetWallet returns the authenticated user's credit balances. A user who has
// never touched credits gets a zeroed wallet rather than a 404.
func (s *WalletService) GetWallet(c *fiber.Ctx) error {
	userID := c.Locals("user_id").(string)

	var credits models.UserCredits
	if err := s.DB.Where("user_id = ?", userID).First(&credits).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return c.JSON(fiber.Map{
				"user_id":           userID,
				"purchased_credits": 0,
				"winnings_credits":  0,
				"referral_credits":  0,
				"total_credits":     0,
			})
		}
		return c.Status(500).JSON(fiber.Map{"error": "DB error"})
	}

	return c.JSON(fiber.Map{
		"user_id":           credits.UserID,
		"purchased_credits": credits.PurchasedCredits,
		"winnings_credits":  credits.WinningsCredits,
		"referral_credits":  credits.ReferralCredits,
		"total_credits":     credits.TotalCredits(),
	})
}

// GetTransactions lists the authenticated user's ledger entries, newest
// first, optionally filtered by type and capped by limit.
func (s *WalletService) GetTransactions(c *fiber.Ctx) error {
	userID := c.Locals("user_id").(string)

	query := s.DB.Where("user_id = ?", userID)
	if txType := c.Query("type"); txType != "" {
		query = query.Where("type = ?", txType)
	}

	limit := 50
	if limitStr := c.Query("limit"); limitStr != "" {
		l, err := strconv.Atoi(limitStr)
		if err != nil || l <= 0 || l > 200 {
			return c.Status(400).JSON(fiber.Map{"error": "invalid limit parameter"})
		}
		limit = l
	}

	var transactions []models.Transaction
	if err := query.Order("created_at DESC").Limit(limit).Find(&transactions).Error; err != nil {
		log.Printf("DB Error fetching transactions: %v", err)
		return c.Status(500).JSON(fiber.Map{"error": "failed to fetch transactions"})
	}
	return c.JSON(transactions)
}

// Withdraw moves winnings credits into a pending withdrawal. The actual
// payout (Stripe/PayPal) happens in the external payments service; the payout
// sync worker later resolves the pending row to completed or failed. Only
// winnings are withdrawable.
func (s *WalletService) Withdraw(c *fiber.Ctx) error {
	userID := c.Locals("user_id").(string)

	type Req struct {
		Amount int64  `json:"amount"`
		Method string `json:"method"` // "stripe" or "paypal"
	}
	var req Req
	if err := c.BodyParser(&req); err != nil {
		return c.Status(400).JSON(fiber.Map{"error": "invalid JSON"})
	}
	if req.Amount <= 0 {
		return c.Status(400).JSON(fiber.Map{"error": "amount must be positive"})
	}
	if req.Method != "stripe" && req.Method != "paypal" {
		return c.Status(400).JSON(fiber.Map{"error": "method must be 'stripe' or 'paypal'"})
	}

	var txn models.Transaction
	err := s.DB.Transaction(func(tx *gorm.DB) error {
		// Guarded atomic decrement: zero rows affected means the balance was
		// too low, without a read-then-write window.
		debit := tx.Model(&models.UserCredits{}).
			Where("user_id = ? AND winnings_credits >= ?", userID, req.Amount).
			Update("winnings_credits", gorm.Expr("winnings_credits - ?", req.Amount))
		if debit.Error != nil {
			return fmt.Errorf("failed to debit winnings: %w", debit.Error)
		}
		if debit.RowsAffected == 0 {
			return ErrInsufficientWinnings
		}

		txn = models.Transaction{
			ID:       uuid.NewString(),
			UserID:   userID,
			Type:     models.TransactionTypeWithdrawal,
			Amount:   req.Amount,
			Status:   models.TransactionStatusPending,
			Metadata: fmt.Sprintf(`{"method":%q}`, req.Method),
		}
		if err := tx.Create(&txn).Error; err != nil {
			return fmt.Errorf("failed to record withdrawal: %w", err)
		}
		return nil
	})
	if err != nil {
		if errors.Is(err, ErrInsufficientWinnings) {
			return c.Status(400).JSON(fiber.Map{"error": err.Error()})
		}
		log.Printf("[Withdraw] user %s: %v", userID, err)
		return c.Status(500).JSON(fiber.Map{"error": "withdrawal failed"})
	}

	return c.Status(201).JSON(fiber.Map{
		"message":     "withdrawal requested",
		"transaction": txn,
	})
}

// RefundWithdrawal returns a failed withdrawal's credits to the wallet.
// Called by the payout sync worker; idempotent because the transaction status
// transition is the gate.
func (s *WalletService) RefundWithdrawal(transactionID string) error {
	return s.DB.Transaction(func(tx *gorm.DB) error {
		flip := tx.Model(&models.Transaction{}).
			Where("id = ? AND type = ? AND status = ?", transactionID,
				models.TransactionTypeWithdrawal, models.TransactionStatusPending).
			Update("status", models.TransactionStatusFailed)
		if flip.Error != nil {
			return flip.Error
		}
		if flip.RowsAffected == 0 {
			// Already resolved by an earlier poll.
			return nil
		}

		var txn models.Transaction
		if err := tx.First(&txn, "id = ?", transactionID).Error; err != nil {
			return err
		}
		credits := models.UserCredits{ID: uuid.NewString(), UserID: txn.UserID}
		if err := tx.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "user_id"}},
			DoNothing: true,
		}).Create(&credits).Error; err != nil {
			return err
		}
		return tx.Model(&models.UserCredits{}).
			Where("user_id = ?", txn.UserID).
			Update("winnings_credits", gorm.Expr("winnings_credits + ?", txn.Amount)).Error
	})
}

// SettleWithdrawal marks a pending withdrawal as paid out by the provider.
func (s *WalletService) SettleWithdrawal(transactionID, providerRef string) error {
	return s.DB.Model(&models.Transaction{}).
		Where("id = ? AND type = ? AND status = ?", transactionID,
			models.TransactionTypeWithdrawal, models.TransactionStatusPending).
		Updates(map[string]interface{}{
			"status":       models.TransactionStatusCompleted,
			"provider_ref": providerRef,
		}).Error
}
