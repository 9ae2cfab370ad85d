package fixtures

import (
	"github.com/minibet/payment-gateway/internal/model"
	"github.com/shopspring/decimal"
)

var (
	TestUser1 = model.User{
		ID:       1,
		Email:    "user1@minibet.test",
		Username: "user1",
		MSISDN:   "712345678",
		Balance:  decimal.RequireFromString("1000.00"),
		IsActive: true,
	}

	TestUser2 = model.User{
		ID:       2,
		Email:    "user2@minibet.test",
		Username: "user2",
		MSISDN:   "798765432",
		Balance:  decimal.RequireFromString("500.00"),
		IsActive: true,
	}

	TestUserLowBalance = model.User{
		ID:       3,
		Email:    "user3@minibet.test",
		Username: "user3",
		MSISDN:   "711111111",
		Balance:  decimal.RequireFromString("1.00"),
		IsActive: true,
	}

	TestUserZeroBalance = model.User{
		ID:       4,
		Email:    "user4@minibet.test",
		Username: "user4",
		MSISDN:   "722222222",
		Balance:  decimal.Zero,
		IsActive: true,
	}
)

func NewTestTransaction(userID int64, transactionID string, txnType model.TransactionType, amount string) *model.Transaction {
	return &model.Transaction{
		TransactionID: transactionID,
		Type:          txnType,
		Status:        model.TransactionStatusPending,
		Amount:        decimal.RequireFromString(amount),
		Currency:      "KES",
		Reference:     "MiniBet-" + transactionID,
		UserID:        userID,
	}
}

func DepositRequest(userID int64, amount string) model.TransactionCreateRequest {
	return model.TransactionCreateRequest{
		UserID: userID,
		Amount: decimal.RequireFromString(amount),
		Type:   model.TransactionTypeDeposit,
		MSISDN: "254712345678",
	}
}

func WithdrawalRequest(userID int64, amount string) model.TransactionCreateRequest {
	return model.TransactionCreateRequest{
		UserID: userID,
		Amount: decimal.RequireFromString(amount),
		Type:   model.TransactionTypeWithdrawal,
		MSISDN: "254712345678",
	}
}

var (
	ValidMSISDNs = []string{
		"254712345678",
		"0712345678",
		"712345678",
		"+254 798 765 432",
	}

	SuccessCallback = `{"data":{"transaction":{"id":"%s","airtel_money_id":"%s","status":"TS"}}}`
	FailureCallback = `{"data":{"transaction":{"id":"%s","airtel_money_id":"%s","status":"TF"}}}`
)
