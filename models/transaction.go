package models

type TransactionType string

const (
	TransactionTypeReward           TransactionType = "reward"
	TransactionTypeRefund           TransactionType = "refund"
	TransactionTypeCompetitionEntry TransactionType = "competition_entry"
	TransactionTypePurchase         TransactionType = "purchase"
	TransactionTypeWithdrawal       TransactionType = "withdrawal"
)

type TransactionStatus string

const (
	TransactionStatusPending   TransactionStatus = "pending"
	TransactionStatusCompleted TransactionStatus = "completed"
	TransactionStatusFailed    TransactionStatus = "failed"
)

// Transaction is an append-only credit ledger entry.
//
// SessionID carries the natural dedupe key for session-driven movements: the
// unique index on (session_id, type) is what makes a reward payout or an entry
// fee exactly-once — a retried insert hits the constraint instead of paying
// twice. SessionID is a pointer so ledger entries without a session (purchases,
// withdrawals) can coexist; Postgres treats NULLs as distinct in the index.
type Transaction struct {
	ID          string            `json:"id" gorm:"primaryKey"`
	UserID      string            `json:"user_id" gorm:"not null;index"`
	Type        TransactionType   `json:"type" gorm:"type:varchar(32);not null;uniqueIndex:idx_transactions_session_type"`
	Amount      int64             `json:"amount" gorm:"not null"`
	Status      TransactionStatus `json:"status" gorm:"type:varchar(16);default:'pending'"`
	SessionID   *string           `json:"session_id,omitempty" gorm:"uniqueIndex:idx_transactions_session_type"`
	ProviderRef string            `json:"provider_ref,omitempty"` // e.g. Stripe payout ID, PayPal batch ID
	Metadata    string            `json:"metadata,omitempty" gorm:"type:text"`

	Timestamps
}
