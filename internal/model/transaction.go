package model

import (
	"errors"
	"time"

	"github.com/shopspring/decimal"
)

type TransactionType string

const (
	TransactionTypeDeposit    TransactionType = "deposit"
	TransactionTypeWithdrawal TransactionType = "withdrawal"
	TransactionTypeBet        TransactionType = "bet"
	TransactionTypeWinning    TransactionType = "winning"
)

// TransactionStatus is the lifecycle state of a money movement.
// Allowed transitions: pending -> processing -> completed | failed.
type TransactionStatus string

const (
	TransactionStatusPending    TransactionStatus = "pending"
	TransactionStatusProcessing TransactionStatus = "processing"
	TransactionStatusCompleted  TransactionStatus = "completed"
	TransactionStatusFailed     TransactionStatus = "failed"
)

// IsTerminal reports whether the status forbids further lifecycle transitions.
// completed is strictly terminal; failed may still be corrected administratively.
func (s TransactionStatus) IsTerminal() bool {
	return s == TransactionStatusCompleted || s == TransactionStatusFailed
}

type Transaction struct {
	ID            int64             `json:"id"`
	TransactionID string            `json:"transaction_id"` // provider-facing correlation id, globally unique
	Type          TransactionType   `json:"type"`
	Status        TransactionStatus `json:"status"`
	Amount        decimal.Decimal   `json:"amount"`
	Currency      string            `json:"currency"`
	Reference     string            `json:"reference"`
	MSISDN        string            `json:"msisdn"` // stored normalized once processing begins
	AirtelMoneyID string            `json:"airtel_money_id,omitempty"`
	AirtelRefID   string            `json:"airtel_reference_id,omitempty"`
	Description   string            `json:"description,omitempty"`
	UserID        int64             `json:"user_id"`
	User          *User             `json:"-"`
	CreatedAt     time.Time         `json:"created_at"`
	UpdatedAt     time.Time         `json:"updated_at"`
}

// TransactionCreateRequest is the input for creating a transaction.
type TransactionCreateRequest struct {
	UserID      int64
	Amount      decimal.Decimal
	Type        TransactionType
	MSISDN      string
	Description string
}

func (p TransactionCreateRequest) Validate() error {
	if p.UserID == 0 {
		return errors.New("user_id is required")
	}
	if !p.Amount.IsPositive() {
		return errors.New("amount must be positive")
	}
	switch p.Type {
	case TransactionTypeDeposit, TransactionTypeWithdrawal, TransactionTypeBet, TransactionTypeWinning:
	default:
		return errors.New("unknown transaction type")
	}
	return nil
}

// TransactionFilter controls List queries.
type TransactionFilter struct {
	UserID   *int64
	Statuses []TransactionStatus
	Types    []TransactionType
	From     *time.Time
	To       *time.Time
	Limit    int  // default 50
	Offset   int  // for pagination
	Desc     bool // order by created_at
}
