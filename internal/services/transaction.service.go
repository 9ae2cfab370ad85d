package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/minibet/payment-gateway/internal/gateways"
	"github.com/minibet/payment-gateway/internal/model"
	"github.com/minibet/payment-gateway/internal/msisdn"
	"github.com/minibet/payment-gateway/internal/repository"
	"github.com/minibet/payment-gateway/pkg/logger"
	"github.com/minibet/payment-gateway/pkg/prom"
	"github.com/shopspring/decimal"
)

var (
	ErrUserNotFound           = errors.New("user not found")
	ErrTransactionNotFound    = errors.New("transaction not found")
	ErrInactiveUser           = errors.New("user account is not active")
	ErrInsufficientBalance    = errors.New("insufficient balance")
	ErrInvalidTransactionType = errors.New("invalid transaction type for this operation")
	ErrAlreadyFinalized       = errors.New("transaction already finalized")
	ErrAlreadyProcessing      = errors.New("transaction already sent to the provider")
)

type TransactionRepository interface {
	Create(ctx context.Context, txn *model.Transaction) (*model.Transaction, error)
	GetByID(ctx context.Context, id int64) (*model.Transaction, error)
	GetByTransactionID(ctx context.Context, transactionID string) (*model.Transaction, error)
	FindForCallback(ctx context.Context, airtelMoneyID, airtelRefID, transactionID string) (*model.Transaction, error)
	Update(ctx context.Context, txn *model.Transaction) error
	FinalizeIfNotCompleted(ctx context.Context, id int64, status model.TransactionStatus, airtelMoneyID, airtelRefID string) (bool, error)
	List(ctx context.Context, f model.TransactionFilter) ([]*model.Transaction, int64, error)
}

type UserRepository interface {
	Get(ctx context.Context, id int64) (*model.User, error)
	GetBalance(ctx context.Context, userID int64) (decimal.Decimal, error)
	AddBalance(ctx context.Context, userID int64, amount decimal.Decimal) error
	DeductBalance(ctx context.Context, userID int64, amount decimal.Decimal) error
}

type AirtelGateway interface {
	CollectPayment(ctx context.Context, req *gateway.PaymentRequest) (*gateway.ProviderResponse, error)
	DisburseFunds(ctx context.Context, req *gateway.DisbursementRequest) (*gateway.ProviderResponse, error)
}

// CallbackDeduplicator filters redelivered provider callbacks.
type CallbackDeduplicator interface {
	MarkProcessed(callbackID string) bool
	Forget(callbackID string)
}

// TransactionService drives the transaction lifecycle: create a pending
// record, push it through the provider, and settle it from either the
// synchronous provider response or the asynchronous callback, whichever
// reaches a conclusive status first. Balance moves at most once per
// transaction no matter which path wins.
type TransactionService struct {
	transactionRepo TransactionRepository
	userRepo        UserRepository
	gateway         AirtelGateway
	dedup           CallbackDeduplicator
	country         string
	currency        string
	now             func() time.Time
}

func NewTransactionService(transactionRepo TransactionRepository, userRepo UserRepository, gw AirtelGateway, dedup CallbackDeduplicator, country, currency string) *TransactionService {
	return &TransactionService{
		transactionRepo: transactionRepo,
		userRepo:        userRepo,
		gateway:         gw,
		dedup:           dedup,
		country:         country,
		currency:        currency,
		now:             time.Now,
	}
}

// outcome classifies what a provider response (or callback) tells us about
// settlement.
type outcome int

const (
	outcomeCompleted outcome = iota
	outcomeFailed
	outcomeAwaitingCallback
)

func classifyResponse(resp *gateway.ProviderResponse) outcome {
	status := resp.Data.Transaction.Status
	switch status {
	case gateway.TxnStatusFailed, gateway.TxnStatusFailedAlt:
		return outcomeFailed
	}
	if resp.Status.Success != nil && !*resp.Status.Success {
		return outcomeFailed
	}
	switch status {
	case gateway.TxnStatusSuccess, gateway.TxnStatusSuccessAlt:
		return outcomeCompleted
	}
	if resp.Status.Success != nil && *resp.Status.Success && status != "" {
		// success with an unrecognized settlement code, trust the success flag
		return outcomeCompleted
	}
	// no explicit verdict either way, the callback decides
	return outcomeAwaitingCallback
}

// providerIDs extracts the correlation ids from a provider response, filling
// deterministic fallbacks so a later callback can always find the row.
func providerIDs(resp *gateway.ProviderResponse, txn *model.Transaction) (airtelMoneyID, airtelRefID string) {
	airtelMoneyID = resp.Data.Transaction.AirtelMoneyID
	if airtelMoneyID == "" {
		airtelMoneyID = "AM_" + txn.TransactionID
	}
	airtelRefID = resp.Data.Transaction.ID
	if airtelRefID == "" {
		airtelRefID = resp.Data.Transaction.ReferenceID
	}
	if airtelRefID == "" {
		airtelRefID = txn.Reference
	}
	return airtelMoneyID, airtelRefID
}

func (s *TransactionService) newTransactionID() string {
	suffix := strings.ToUpper(strings.ReplaceAll(uuid.NewString(), "-", ""))[:6]
	return fmt.Sprintf("TXN%d%s", s.now().UnixMilli(), suffix)
}

func (s *TransactionService) newReference() string {
	return fmt.Sprintf("MiniBet%d", s.now().UnixMilli())
}

// Create records a new pending transaction for a user. The msisdn is kept as
// given (the user's registered number when the request carries none) and is
// normalized once processing begins.
func (s *TransactionService) Create(ctx context.Context, p model.TransactionCreateRequest) (*model.Transaction, error) {
	if err := p.Validate(); err != nil {
		return nil, err
	}

	user, err := s.userRepo.Get(ctx, p.UserID)
	if err != nil {
		if errors.Is(err, repository.ErrUserNotFound) {
			return nil, ErrUserNotFound
		}
		return nil, fmt.Errorf("load user: %w", err)
	}
	if !user.IsActive {
		return nil, ErrInactiveUser
	}

	number := p.MSISDN
	if number == "" {
		number = user.MSISDN
	}

	txn := &model.Transaction{
		TransactionID: s.newTransactionID(),
		Type:          p.Type,
		Status:        model.TransactionStatusPending,
		Amount:        p.Amount,
		Currency:      s.currency,
		Reference:     s.newReference(),
		MSISDN:        number,
		Description:   p.Description,
		UserID:        p.UserID,
	}

	created, err := s.transactionRepo.Create(ctx, txn)
	if err != nil {
		return nil, fmt.Errorf("create transaction: %w", err)
	}

	logger.Info("transaction created",
		"transaction_id", created.TransactionID,
		"type", created.Type,
		"amount", created.Amount,
		"user_id", created.UserID)

	return created, nil
}

// ProcessDeposit pushes a pending deposit to the provider and settles it when
// the synchronous response is conclusive. An inconclusive response leaves the
// transaction processing, to be settled by the callback.
func (s *TransactionService) ProcessDeposit(ctx context.Context, transactionID string) (*model.Transaction, error) {
	txn, err := s.transactionRepo.GetByTransactionID(ctx, transactionID)
	if err != nil {
		if errors.Is(err, repository.ErrTransactionNotFound) {
			return nil, ErrTransactionNotFound
		}
		return nil, err
	}
	if txn.Type != model.TransactionTypeDeposit {
		return nil, ErrInvalidTransactionType
	}
	if txn.Status.IsTerminal() {
		return nil, ErrAlreadyFinalized
	}

	txn.Status = model.TransactionStatusProcessing
	txn.MSISDN = msisdn.Normalize(txn.MSISDN)
	if err := s.transactionRepo.Update(ctx, txn); err != nil {
		return nil, fmt.Errorf("mark processing: %w", err)
	}

	resp, err := s.gateway.CollectPayment(ctx, &gateway.PaymentRequest{
		Reference: txn.Reference,
		Subscriber: gateway.Subscriber{
			Country:  s.country,
			Currency: txn.Currency,
			MSISDN:   txn.MSISDN,
		},
		Transaction: gateway.PaymentTransaction{
			Amount:   json.Number(txn.Amount.String()),
			Country:  s.country,
			Currency: txn.Currency,
			ID:       txn.TransactionID,
		},
	})
	if err != nil {
		if _, ferr := s.transactionRepo.FinalizeIfNotCompleted(ctx, txn.ID, model.TransactionStatusFailed, "", ""); ferr != nil {
			logger.Error("failed to mark deposit failed", "transaction_id", txn.TransactionID, "error", ferr)
		}
		return nil, err
	}

	airtelMoneyID, airtelRefID := providerIDs(resp, txn)

	switch classifyResponse(resp) {
	case outcomeCompleted:
		if err := s.settleDeposit(ctx, txn, airtelMoneyID, airtelRefID); err != nil {
			return nil, err
		}
	case outcomeFailed:
		logger.Info("deposit rejected by provider",
			"transaction_id", txn.TransactionID,
			"response_code", resp.Status.ResponseCode,
			"message", resp.Status.Message)
		if _, err := s.transactionRepo.FinalizeIfNotCompleted(ctx, txn.ID, model.TransactionStatusFailed, airtelMoneyID, airtelRefID); err != nil {
			return nil, fmt.Errorf("mark failed: %w", err)
		}
	case outcomeAwaitingCallback:
		txn.AirtelMoneyID = airtelMoneyID
		txn.AirtelRefID = airtelRefID
		if err := s.transactionRepo.Update(ctx, txn); err != nil {
			return nil, fmt.Errorf("record provider ids: %w", err)
		}
		logger.Info("deposit awaiting callback", "transaction_id", txn.TransactionID)
	}

	return s.transactionRepo.GetByID(ctx, txn.ID)
}

// settleDeposit completes the deposit and credits the wallet exactly once.
// The conditional status update decides the winner when the synchronous path
// races the callback.
func (s *TransactionService) settleDeposit(ctx context.Context, txn *model.Transaction, airtelMoneyID, airtelRefID string) error {
	won, err := s.transactionRepo.FinalizeIfNotCompleted(ctx, txn.ID, model.TransactionStatusCompleted, airtelMoneyID, airtelRefID)
	if err != nil {
		return fmt.Errorf("finalize deposit: %w", err)
	}
	if !won {
		logger.Info("deposit already settled elsewhere", "transaction_id", txn.TransactionID)
		return nil
	}
	if err := s.userRepo.AddBalance(ctx, txn.UserID, txn.Amount); err != nil {
		return fmt.Errorf("credit balance: %w", err)
	}
	prom.IncBalanceMutation(string(txn.Type))
	logger.Info("deposit completed",
		"transaction_id", txn.TransactionID,
		"amount", txn.Amount,
		"user_id", txn.UserID)
	return nil
}

// CreateWithdrawal creates a withdrawal and runs it end to end. The balance
// precondition is checked first so an underfunded request never reaches the
// provider; the wallet itself is only debited once the disbursement is
// confirmed.
func (s *TransactionService) CreateWithdrawal(ctx context.Context, p model.TransactionCreateRequest) (*model.Transaction, error) {
	p.Type = model.TransactionTypeWithdrawal

	txn, err := s.Create(ctx, p)
	if err != nil {
		return nil, err
	}

	return s.runWithdrawal(ctx, txn)
}

// ProcessWithdrawal runs a previously created withdrawal that has not been
// pushed to the provider yet. A withdrawal already in flight is rejected so a
// re-drive cannot send a second disbursement.
func (s *TransactionService) ProcessWithdrawal(ctx context.Context, transactionID string) (*model.Transaction, error) {
	txn, err := s.transactionRepo.GetByTransactionID(ctx, transactionID)
	if err != nil {
		if errors.Is(err, repository.ErrTransactionNotFound) {
			return nil, ErrTransactionNotFound
		}
		return nil, err
	}
	if txn.Type != model.TransactionTypeWithdrawal {
		return nil, ErrInvalidTransactionType
	}
	if txn.Status.IsTerminal() {
		return nil, ErrAlreadyFinalized
	}
	if txn.Status == model.TransactionStatusProcessing {
		return nil, ErrAlreadyProcessing
	}

	return s.runWithdrawal(ctx, txn)
}

func (s *TransactionService) runWithdrawal(ctx context.Context, txn *model.Transaction) (*model.Transaction, error) {
	balance, err := s.userRepo.GetBalance(ctx, txn.UserID)
	if err != nil {
		return nil, fmt.Errorf("load balance: %w", err)
	}
	if balance.LessThan(txn.Amount) {
		if _, ferr := s.transactionRepo.FinalizeIfNotCompleted(ctx, txn.ID, model.TransactionStatusFailed, "", ""); ferr != nil {
			logger.Error("failed to mark withdrawal failed", "transaction_id", txn.TransactionID, "error", ferr)
		}
		return nil, ErrInsufficientBalance
	}

	txn.Status = model.TransactionStatusProcessing
	txn.MSISDN = msisdn.Normalize(txn.MSISDN)
	if err := s.transactionRepo.Update(ctx, txn); err != nil {
		return nil, fmt.Errorf("mark processing: %w", err)
	}

	resp, err := s.gateway.DisburseFunds(ctx, &gateway.DisbursementRequest{
		Payee: gateway.Payee{
			Currency: txn.Currency,
			MSISDN:   txn.MSISDN,
		},
		Reference: txn.Reference,
		Transaction: gateway.DisbursementTransaction{
			Amount: json.Number(txn.Amount.String()),
			ID:     txn.TransactionID,
		},
	})
	if err != nil {
		if _, ferr := s.transactionRepo.FinalizeIfNotCompleted(ctx, txn.ID, model.TransactionStatusFailed, "", ""); ferr != nil {
			logger.Error("failed to mark withdrawal failed", "transaction_id", txn.TransactionID, "error", ferr)
		}
		return nil, err
	}

	airtelMoneyID, airtelRefID := providerIDs(resp, txn)

	switch classifyResponse(resp) {
	case outcomeCompleted:
		if err := s.settleWithdrawal(ctx, txn, airtelMoneyID, airtelRefID); err != nil {
			return nil, err
		}
	case outcomeFailed:
		logger.Info("withdrawal rejected by provider",
			"transaction_id", txn.TransactionID,
			"response_code", resp.Status.ResponseCode,
			"message", resp.Status.Message)
		if _, err := s.transactionRepo.FinalizeIfNotCompleted(ctx, txn.ID, model.TransactionStatusFailed, airtelMoneyID, airtelRefID); err != nil {
			return nil, fmt.Errorf("mark failed: %w", err)
		}
	case outcomeAwaitingCallback:
		txn.AirtelMoneyID = airtelMoneyID
		txn.AirtelRefID = airtelRefID
		if err := s.transactionRepo.Update(ctx, txn); err != nil {
			return nil, fmt.Errorf("record provider ids: %w", err)
		}
		logger.Info("withdrawal awaiting callback", "transaction_id", txn.TransactionID)
	}

	return s.transactionRepo.GetByID(ctx, txn.ID)
}

// settleWithdrawal completes the withdrawal and debits the wallet exactly
// once, mirroring settleDeposit: the balance moves only on confirmed success,
// and only for the winner of the conditional status update.
func (s *TransactionService) settleWithdrawal(ctx context.Context, txn *model.Transaction, airtelMoneyID, airtelRefID string) error {
	won, err := s.transactionRepo.FinalizeIfNotCompleted(ctx, txn.ID, model.TransactionStatusCompleted, airtelMoneyID, airtelRefID)
	if err != nil {
		return fmt.Errorf("finalize withdrawal: %w", err)
	}
	if !won {
		logger.Info("withdrawal already settled elsewhere", "transaction_id", txn.TransactionID)
		return nil
	}
	if err := s.userRepo.DeductBalance(ctx, txn.UserID, txn.Amount); err != nil {
		logger.Error("withdrawal debit failed after disbursement, balance must be reconciled manually",
			"transaction_id", txn.TransactionID,
			"amount", txn.Amount,
			"user_id", txn.UserID,
			"error", err)
		return fmt.Errorf("debit balance: %w", err)
	}
	prom.IncBalanceMutation(string(txn.Type))
	logger.Info("withdrawal completed",
		"transaction_id", txn.TransactionID,
		"amount", txn.Amount,
		"user_id", txn.UserID)
	return nil
}

// HandleCallback settles a transaction from an asynchronous provider
// callback. Correlation tries the provider money id, then the provider
// reference, then our transaction id. Unmatched and duplicate callbacks are
// dropped without error, the provider only needs an acknowledgment.
func (s *TransactionService) HandleCallback(ctx context.Context, payload []byte) error {
	envelope, err := gateway.NormalizeCallback(payload)
	if err != nil {
		prom.IncCallback("malformed")
		logger.Warn("malformed callback payload", "error", err)
		return nil
	}
	if !envelope.HasTransaction() {
		prom.IncCallback("ignored")
		logger.Warn("callback without transaction data, ignoring")
		return nil
	}

	cb := envelope.Data.Transaction

	callbackID := cb.AirtelMoneyID
	if callbackID == "" {
		callbackID = cb.ID
	}
	if callbackID == "" {
		callbackID = cb.ReferenceID
	}
	if !s.dedup.MarkProcessed(callbackID) {
		prom.IncCallback("duplicate")
		logger.Info("duplicate callback dropped", "callback_id", callbackID)
		return nil
	}

	txn, err := s.transactionRepo.FindForCallback(ctx, cb.AirtelMoneyID, cb.ReferenceID, cb.ID)
	if err != nil {
		if errors.Is(err, repository.ErrTransactionNotFound) {
			prom.IncCallback("unmatched")
			logger.Warn("callback does not match any transaction",
				"airtel_money_id", cb.AirtelMoneyID,
				"reference_id", cb.ReferenceID,
				"id", cb.ID)
			return nil
		}
		s.dedup.Forget(callbackID)
		prom.IncCallback("error")
		return fmt.Errorf("resolve callback: %w", err)
	}

	if txn.Status == model.TransactionStatusCompleted {
		prom.IncCallback("duplicate")
		logger.Info("callback for already completed transaction", "transaction_id", txn.TransactionID)
		return nil
	}

	airtelMoneyID := cb.AirtelMoneyID
	airtelRefID := cb.ReferenceID

	if envelope.Status.Success {
		if txn.Type == model.TransactionTypeWithdrawal {
			if err := s.settleWithdrawal(ctx, txn, airtelMoneyID, airtelRefID); err != nil {
				s.dedup.Forget(callbackID)
				prom.IncCallback("error")
				return err
			}
		} else {
			if err := s.settleDeposit(ctx, txn, airtelMoneyID, airtelRefID); err != nil {
				s.dedup.Forget(callbackID)
				prom.IncCallback("error")
				return err
			}
		}
	} else {
		if _, err := s.transactionRepo.FinalizeIfNotCompleted(ctx, txn.ID, model.TransactionStatusFailed, airtelMoneyID, airtelRefID); err != nil {
			s.dedup.Forget(callbackID)
			prom.IncCallback("error")
			return fmt.Errorf("mark failed: %w", err)
		}
		logger.Info("transaction failed via callback",
			"transaction_id", txn.TransactionID,
			"status_code", cb.StatusCode)
	}

	prom.IncCallback("processed")
	return nil
}

// RequestPayment forwards a raw collect request to the provider. It backs the
// passthrough endpoint used by internal tooling.
func (s *TransactionService) RequestPayment(ctx context.Context, req *gateway.PaymentRequest) (*gateway.ProviderResponse, error) {
	return s.gateway.CollectPayment(ctx, req)
}

func (s *TransactionService) Get(ctx context.Context, transactionID string) (*model.Transaction, error) {
	txn, err := s.transactionRepo.GetByTransactionID(ctx, transactionID)
	if err != nil {
		if errors.Is(err, repository.ErrTransactionNotFound) {
			return nil, ErrTransactionNotFound
		}
		return nil, err
	}
	return txn, nil
}

func (s *TransactionService) List(ctx context.Context, f model.TransactionFilter) ([]*model.Transaction, int64, error) {
	return s.transactionRepo.List(ctx, f)
}
