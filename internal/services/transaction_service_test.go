package services

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/minibet/payment-gateway/internal/gateways"
	"github.com/minibet/payment-gateway/internal/model"
	"github.com/minibet/payment-gateway/internal/repository"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type MockTransactionRepository struct {
	mock.Mock
}

func (m *MockTransactionRepository) Create(ctx context.Context, txn *model.Transaction) (*model.Transaction, error) {
	args := m.Called(ctx, txn)
	if rf, ok := args.Get(0).(func(context.Context, *model.Transaction) *model.Transaction); ok {
		return rf(ctx, txn), args.Error(1)
	}
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.Transaction), args.Error(1)
}

func (m *MockTransactionRepository) GetByID(ctx context.Context, id int64) (*model.Transaction, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.Transaction), args.Error(1)
}

func (m *MockTransactionRepository) GetByTransactionID(ctx context.Context, transactionID string) (*model.Transaction, error) {
	args := m.Called(ctx, transactionID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.Transaction), args.Error(1)
}

func (m *MockTransactionRepository) FindForCallback(ctx context.Context, airtelMoneyID, airtelRefID, transactionID string) (*model.Transaction, error) {
	args := m.Called(ctx, airtelMoneyID, airtelRefID, transactionID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.Transaction), args.Error(1)
}

func (m *MockTransactionRepository) Update(ctx context.Context, txn *model.Transaction) error {
	args := m.Called(ctx, txn)
	return args.Error(0)
}

func (m *MockTransactionRepository) FinalizeIfNotCompleted(ctx context.Context, id int64, status model.TransactionStatus, airtelMoneyID, airtelRefID string) (bool, error) {
	args := m.Called(ctx, id, status, airtelMoneyID, airtelRefID)
	return args.Bool(0), args.Error(1)
}

func (m *MockTransactionRepository) List(ctx context.Context, f model.TransactionFilter) ([]*model.Transaction, int64, error) {
	args := m.Called(ctx, f)
	if args.Get(0) == nil {
		return nil, args.Get(1).(int64), args.Error(2)
	}
	return args.Get(0).([]*model.Transaction), args.Get(1).(int64), args.Error(2)
}

type MockUserRepository struct {
	mock.Mock
}

func (m *MockUserRepository) Get(ctx context.Context, id int64) (*model.User, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.User), args.Error(1)
}

func (m *MockUserRepository) GetBalance(ctx context.Context, userID int64) (decimal.Decimal, error) {
	args := m.Called(ctx, userID)
	return args.Get(0).(decimal.Decimal), args.Error(1)
}

func (m *MockUserRepository) AddBalance(ctx context.Context, userID int64, amount decimal.Decimal) error {
	args := m.Called(ctx, userID, amount)
	return args.Error(0)
}

func (m *MockUserRepository) DeductBalance(ctx context.Context, userID int64, amount decimal.Decimal) error {
	args := m.Called(ctx, userID, amount)
	return args.Error(0)
}

type MockAirtelGateway struct {
	mock.Mock
}

func (m *MockAirtelGateway) CollectPayment(ctx context.Context, req *gateway.PaymentRequest) (*gateway.ProviderResponse, error) {
	args := m.Called(ctx, req)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*gateway.ProviderResponse), args.Error(1)
}

func (m *MockAirtelGateway) DisburseFunds(ctx context.Context, req *gateway.DisbursementRequest) (*gateway.ProviderResponse, error) {
	args := m.Called(ctx, req)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*gateway.ProviderResponse), args.Error(1)
}

type MockDeduplicator struct {
	mock.Mock
}

func (m *MockDeduplicator) MarkProcessed(callbackID string) bool {
	args := m.Called(callbackID)
	return args.Bool(0)
}

func (m *MockDeduplicator) Forget(callbackID string) {
	m.Called(callbackID)
}

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func newTestService() (*TransactionService, *MockTransactionRepository, *MockUserRepository, *MockAirtelGateway, *MockDeduplicator) {
	txnRepo := new(MockTransactionRepository)
	userRepo := new(MockUserRepository)
	gw := new(MockAirtelGateway)
	dedup := new(MockDeduplicator)
	service := NewTransactionService(txnRepo, userRepo, gw, dedup, "KE", "KES")
	return service, txnRepo, userRepo, gw, dedup
}

func activeUser(id int64) *model.User {
	return &model.User{
		ID:       id,
		Email:    "player@minibet.test",
		Username: "player",
		MSISDN:   "712345678",
		Balance:  dec("100.00"),
		IsActive: true,
	}
}

func providerResponse(status string, success bool) *gateway.ProviderResponse {
	return providerAck(status, &success)
}

func boolPtr(b bool) *bool { return &b }

func providerAck(status string, success *bool) *gateway.ProviderResponse {
	return &gateway.ProviderResponse{
		Data: gateway.ProviderData{
			Transaction: gateway.ProviderTransaction{
				ID:            "prov-ref-1",
				AirtelMoneyID: "MP210603.1234.L06941",
				Status:        status,
			},
		},
		Status: gateway.ProviderStatus{
			Success: success,
			Message: "ok",
		},
	}
}

func TestTransactionService_Create(t *testing.T) {
	service, txnRepo, userRepo, _, _ := newTestService()
	ctx := context.Background()

	userRepo.On("Get", ctx, int64(1)).Return(activeUser(1), nil)
	txnRepo.On("Create", ctx, mock.AnythingOfType("*model.Transaction")).
		Return(func(ctx context.Context, txn *model.Transaction) *model.Transaction {
			created := *txn
			created.ID = 42
			return &created
		}, nil)

	created, err := service.Create(ctx, model.TransactionCreateRequest{
		UserID: 1,
		Amount: dec("100.00"),
		Type:   model.TransactionTypeDeposit,
		MSISDN: "254712345678",
	})
	require.NoError(t, err)

	assert.Equal(t, int64(42), created.ID)
	assert.Equal(t, model.TransactionStatusPending, created.Status)
	// kept as given; normalization happens when processing begins
	assert.Equal(t, "254712345678", created.MSISDN)
	assert.Equal(t, "KES", created.Currency)
	assert.True(t, strings.HasPrefix(created.TransactionID, "TXN"))
	assert.True(t, strings.HasPrefix(created.Reference, "MiniBet"))

	txnRepo.AssertExpectations(t)
	userRepo.AssertExpectations(t)
}

func TestTransactionService_Create_UserNotFound(t *testing.T) {
	service, _, userRepo, _, _ := newTestService()
	ctx := context.Background()

	userRepo.On("Get", ctx, int64(7)).Return(nil, repository.ErrUserNotFound)

	_, err := service.Create(ctx, model.TransactionCreateRequest{
		UserID: 7,
		Amount: dec("10.00"),
		Type:   model.TransactionTypeDeposit,
	})
	assert.ErrorIs(t, err, ErrUserNotFound)
}

func TestTransactionService_Create_InactiveUser(t *testing.T) {
	service, _, userRepo, _, _ := newTestService()
	ctx := context.Background()

	user := activeUser(1)
	user.IsActive = false
	userRepo.On("Get", ctx, int64(1)).Return(user, nil)

	_, err := service.Create(ctx, model.TransactionCreateRequest{
		UserID: 1,
		Amount: dec("10.00"),
		Type:   model.TransactionTypeDeposit,
	})
	assert.ErrorIs(t, err, ErrInactiveUser)
}

func TestTransactionService_Create_InvalidRequest(t *testing.T) {
	service, _, _, _, _ := newTestService()
	ctx := context.Background()

	_, err := service.Create(ctx, model.TransactionCreateRequest{
		UserID: 1,
		Amount: dec("-5.00"),
		Type:   model.TransactionTypeDeposit,
	})
	assert.Error(t, err)
}

func pendingDeposit() *model.Transaction {
	return &model.Transaction{
		ID:            10,
		TransactionID: "TXN1700000000000ABCDEF",
		Type:          model.TransactionTypeDeposit,
		Status:        model.TransactionStatusPending,
		Amount:        dec("50.00"),
		Currency:      "KES",
		Reference:     "MiniBet1700000000000",
		MSISDN:        "0712345678",
		UserID:        1,
	}
}

func TestTransactionService_ProcessDeposit_Settles(t *testing.T) {
	service, txnRepo, userRepo, gw, _ := newTestService()
	ctx := context.Background()

	txn := pendingDeposit()
	txnRepo.On("GetByTransactionID", ctx, txn.TransactionID).Return(txn, nil)
	txnRepo.On("Update", ctx, mock.AnythingOfType("*model.Transaction")).Return(nil)

	gw.On("CollectPayment", ctx, mock.MatchedBy(func(req *gateway.PaymentRequest) bool {
		return req.Transaction.ID == txn.TransactionID &&
			req.Transaction.Amount.String() == "50" &&
			req.Subscriber.MSISDN == "712345678"
	})).Return(providerResponse(gateway.TxnStatusSuccess, true), nil)

	txnRepo.On("FinalizeIfNotCompleted", ctx, txn.ID, model.TransactionStatusCompleted, "MP210603.1234.L06941", "prov-ref-1").
		Return(true, nil)
	userRepo.On("AddBalance", ctx, int64(1), dec("50.00")).Return(nil)

	settled := *txn
	settled.Status = model.TransactionStatusCompleted
	txnRepo.On("GetByID", ctx, txn.ID).Return(&settled, nil)

	result, err := service.ProcessDeposit(ctx, txn.TransactionID)
	require.NoError(t, err)
	assert.Equal(t, model.TransactionStatusCompleted, result.Status)

	txnRepo.AssertExpectations(t)
	userRepo.AssertExpectations(t)
	gw.AssertExpectations(t)
}

func TestTransactionService_ProcessDeposit_LostRace_NoDoubleCredit(t *testing.T) {
	service, txnRepo, userRepo, gw, _ := newTestService()
	ctx := context.Background()

	txn := pendingDeposit()
	txnRepo.On("GetByTransactionID", ctx, txn.TransactionID).Return(txn, nil)
	txnRepo.On("Update", ctx, mock.AnythingOfType("*model.Transaction")).Return(nil)
	gw.On("CollectPayment", ctx, mock.Anything).Return(providerResponse(gateway.TxnStatusSuccess, true), nil)

	// the callback settled first, the conditional update reports no change
	txnRepo.On("FinalizeIfNotCompleted", ctx, txn.ID, model.TransactionStatusCompleted, "MP210603.1234.L06941", "prov-ref-1").
		Return(false, nil)
	txnRepo.On("GetByID", ctx, txn.ID).Return(txn, nil)

	_, err := service.ProcessDeposit(ctx, txn.TransactionID)
	require.NoError(t, err)

	userRepo.AssertNotCalled(t, "AddBalance", mock.Anything, mock.Anything, mock.Anything)
}

func TestTransactionService_ProcessDeposit_ProviderRejects(t *testing.T) {
	service, txnRepo, userRepo, gw, _ := newTestService()
	ctx := context.Background()

	txn := pendingDeposit()
	txnRepo.On("GetByTransactionID", ctx, txn.TransactionID).Return(txn, nil)
	txnRepo.On("Update", ctx, mock.AnythingOfType("*model.Transaction")).Return(nil)
	gw.On("CollectPayment", ctx, mock.Anything).Return(providerResponse(gateway.TxnStatusFailed, true), nil)

	txnRepo.On("FinalizeIfNotCompleted", ctx, txn.ID, model.TransactionStatusFailed, "MP210603.1234.L06941", "prov-ref-1").
		Return(true, nil)

	failed := *txn
	failed.Status = model.TransactionStatusFailed
	txnRepo.On("GetByID", ctx, txn.ID).Return(&failed, nil)

	result, err := service.ProcessDeposit(ctx, txn.TransactionID)
	require.NoError(t, err)
	assert.Equal(t, model.TransactionStatusFailed, result.Status)

	userRepo.AssertNotCalled(t, "AddBalance", mock.Anything, mock.Anything, mock.Anything)
}

func TestTransactionService_ProcessDeposit_AmbiguousWaitsForCallback(t *testing.T) {
	service, txnRepo, userRepo, gw, _ := newTestService()
	ctx := context.Background()

	txn := pendingDeposit()
	txnRepo.On("GetByTransactionID", ctx, txn.TransactionID).Return(txn, nil)
	txnRepo.On("Update", ctx, mock.AnythingOfType("*model.Transaction")).Return(nil)

	// success acknowledgment without a settlement status
	resp := providerResponse("", true)
	gw.On("CollectPayment", ctx, mock.Anything).Return(resp, nil)

	processing := *txn
	processing.Status = model.TransactionStatusProcessing
	txnRepo.On("GetByID", ctx, txn.ID).Return(&processing, nil)

	result, err := service.ProcessDeposit(ctx, txn.TransactionID)
	require.NoError(t, err)
	assert.Equal(t, model.TransactionStatusProcessing, result.Status)

	txnRepo.AssertNotCalled(t, "FinalizeIfNotCompleted", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything)
	userRepo.AssertNotCalled(t, "AddBalance", mock.Anything, mock.Anything, mock.Anything)
}

func TestTransactionService_ProcessDeposit_GatewayError(t *testing.T) {
	service, txnRepo, userRepo, gw, _ := newTestService()
	ctx := context.Background()

	txn := pendingDeposit()
	txnRepo.On("GetByTransactionID", ctx, txn.TransactionID).Return(txn, nil)
	txnRepo.On("Update", ctx, mock.AnythingOfType("*model.Transaction")).Return(nil)
	gw.On("CollectPayment", ctx, mock.Anything).Return(nil, gateway.ErrGateway)

	txnRepo.On("FinalizeIfNotCompleted", ctx, txn.ID, model.TransactionStatusFailed, "", "").
		Return(true, nil)

	_, err := service.ProcessDeposit(ctx, txn.TransactionID)
	assert.ErrorIs(t, err, gateway.ErrGateway)

	userRepo.AssertNotCalled(t, "AddBalance", mock.Anything, mock.Anything, mock.Anything)
	txnRepo.AssertExpectations(t)
}

func TestTransactionService_ProcessDeposit_WrongType(t *testing.T) {
	service, txnRepo, _, _, _ := newTestService()
	ctx := context.Background()

	txn := pendingDeposit()
	txn.Type = model.TransactionTypeWithdrawal
	txnRepo.On("GetByTransactionID", ctx, txn.TransactionID).Return(txn, nil)

	_, err := service.ProcessDeposit(ctx, txn.TransactionID)
	assert.ErrorIs(t, err, ErrInvalidTransactionType)
}

func TestTransactionService_ProcessDeposit_AlreadyFinalized(t *testing.T) {
	service, txnRepo, _, gw, _ := newTestService()
	ctx := context.Background()

	txn := pendingDeposit()
	txn.Status = model.TransactionStatusCompleted
	txnRepo.On("GetByTransactionID", ctx, txn.TransactionID).Return(txn, nil)

	_, err := service.ProcessDeposit(ctx, txn.TransactionID)
	assert.ErrorIs(t, err, ErrAlreadyFinalized)
	gw.AssertNotCalled(t, "CollectPayment", mock.Anything, mock.Anything)
}

func TestTransactionService_CreateWithdrawal_InsufficientBalance(t *testing.T) {
	service, txnRepo, userRepo, gw, _ := newTestService()
	ctx := context.Background()

	userRepo.On("Get", ctx, int64(1)).Return(activeUser(1), nil)
	txnRepo.On("Create", ctx, mock.AnythingOfType("*model.Transaction")).
		Return(func(ctx context.Context, txn *model.Transaction) *model.Transaction {
			created := *txn
			created.ID = 11
			return &created
		}, nil)
	userRepo.On("GetBalance", ctx, int64(1)).Return(dec("30.00"), nil)
	txnRepo.On("FinalizeIfNotCompleted", ctx, int64(11), model.TransactionStatusFailed, "", "").
		Return(true, nil)

	_, err := service.CreateWithdrawal(ctx, model.TransactionCreateRequest{
		UserID: 1,
		Amount: dec("50.00"),
		Type:   model.TransactionTypeWithdrawal,
	})
	assert.ErrorIs(t, err, ErrInsufficientBalance)

	// the provider must never see an underfunded withdrawal
	gw.AssertNotCalled(t, "DisburseFunds", mock.Anything, mock.Anything)
	userRepo.AssertNotCalled(t, "DeductBalance", mock.Anything, mock.Anything, mock.Anything)
}

func TestTransactionService_CreateWithdrawal_Settles(t *testing.T) {
	service, txnRepo, userRepo, gw, _ := newTestService()
	ctx := context.Background()

	userRepo.On("Get", ctx, int64(1)).Return(activeUser(1), nil)
	txnRepo.On("Create", ctx, mock.AnythingOfType("*model.Transaction")).
		Return(func(ctx context.Context, txn *model.Transaction) *model.Transaction {
			created := *txn
			created.ID = 12
			return &created
		}, nil)
	userRepo.On("GetBalance", ctx, int64(1)).Return(dec("100.00"), nil)
	userRepo.On("DeductBalance", ctx, int64(1), dec("40.00")).Return(nil)
	txnRepo.On("Update", ctx, mock.AnythingOfType("*model.Transaction")).Return(nil)

	gw.On("DisburseFunds", ctx, mock.MatchedBy(func(req *gateway.DisbursementRequest) bool {
		return req.Transaction.Amount.String() == "40" && req.Payee.MSISDN == "712345678"
	})).Return(providerResponse(gateway.TxnStatusSuccess, true), nil)

	txnRepo.On("FinalizeIfNotCompleted", ctx, int64(12), model.TransactionStatusCompleted, "MP210603.1234.L06941", "prov-ref-1").
		Return(true, nil)
	txnRepo.On("GetByID", ctx, int64(12)).Return(&model.Transaction{
		ID:     12,
		Status: model.TransactionStatusCompleted,
	}, nil)

	result, err := service.CreateWithdrawal(ctx, model.TransactionCreateRequest{
		UserID: 1,
		Amount: dec("40.00"),
		MSISDN: "0712345678",
	})
	require.NoError(t, err)
	assert.Equal(t, model.TransactionStatusCompleted, result.Status)

	userRepo.AssertExpectations(t)
	gw.AssertExpectations(t)
}

func TestTransactionService_ProcessWithdrawal_Settles(t *testing.T) {
	service, txnRepo, userRepo, gw, _ := newTestService()
	ctx := context.Background()

	txnRepo.On("GetByTransactionID", ctx, "TXN-W1").Return(&model.Transaction{
		ID:            12,
		TransactionID: "TXN-W1",
		Type:          model.TransactionTypeWithdrawal,
		Status:        model.TransactionStatusPending,
		Amount:        dec("40.00"),
		Currency:      "KES",
		Reference:     "MiniBet1700000000000",
		MSISDN:        "712345678",
		UserID:        1,
	}, nil)
	userRepo.On("GetBalance", ctx, int64(1)).Return(dec("100.00"), nil)
	userRepo.On("DeductBalance", ctx, int64(1), dec("40.00")).Return(nil)
	txnRepo.On("Update", ctx, mock.AnythingOfType("*model.Transaction")).Return(nil)

	gw.On("DisburseFunds", ctx, mock.AnythingOfType("*gateway.DisbursementRequest")).
		Return(providerResponse(gateway.TxnStatusSuccess, true), nil)

	txnRepo.On("FinalizeIfNotCompleted", ctx, int64(12), model.TransactionStatusCompleted, "MP210603.1234.L06941", "prov-ref-1").
		Return(true, nil)
	txnRepo.On("GetByID", ctx, int64(12)).Return(&model.Transaction{
		ID:     12,
		Status: model.TransactionStatusCompleted,
	}, nil)

	result, err := service.ProcessWithdrawal(ctx, "TXN-W1")
	require.NoError(t, err)
	assert.Equal(t, model.TransactionStatusCompleted, result.Status)

	userRepo.AssertExpectations(t)
	gw.AssertExpectations(t)
}

func TestTransactionService_ProcessWithdrawal_WrongType(t *testing.T) {
	service, txnRepo, _, gw, _ := newTestService()
	ctx := context.Background()

	txnRepo.On("GetByTransactionID", ctx, "TXN-D1").Return(&model.Transaction{
		ID:            3,
		TransactionID: "TXN-D1",
		Type:          model.TransactionTypeDeposit,
		Status:        model.TransactionStatusPending,
	}, nil)

	_, err := service.ProcessWithdrawal(ctx, "TXN-D1")
	assert.ErrorIs(t, err, ErrInvalidTransactionType)
	gw.AssertNotCalled(t, "DisburseFunds", mock.Anything, mock.Anything)
}

func TestTransactionService_ProcessWithdrawal_AlreadyInFlight(t *testing.T) {
	service, txnRepo, userRepo, gw, _ := newTestService()
	ctx := context.Background()

	txnRepo.On("GetByTransactionID", ctx, "TXN-W2").Return(&model.Transaction{
		ID:            15,
		TransactionID: "TXN-W2",
		Type:          model.TransactionTypeWithdrawal,
		Status:        model.TransactionStatusProcessing,
		Amount:        dec("40.00"),
		UserID:        1,
	}, nil)

	_, err := service.ProcessWithdrawal(ctx, "TXN-W2")
	assert.ErrorIs(t, err, ErrAlreadyProcessing)

	// a re-drive must not disburse or debit a second time
	gw.AssertNotCalled(t, "DisburseFunds", mock.Anything, mock.Anything)
	userRepo.AssertNotCalled(t, "DeductBalance", mock.Anything, mock.Anything, mock.Anything)
}

func TestTransactionService_CreateWithdrawal_ProviderRejects_NoDebit(t *testing.T) {
	service, txnRepo, userRepo, gw, _ := newTestService()
	ctx := context.Background()

	userRepo.On("Get", ctx, int64(1)).Return(activeUser(1), nil)
	txnRepo.On("Create", ctx, mock.AnythingOfType("*model.Transaction")).
		Return(func(ctx context.Context, txn *model.Transaction) *model.Transaction {
			created := *txn
			created.ID = 13
			return &created
		}, nil)
	userRepo.On("GetBalance", ctx, int64(1)).Return(dec("100.00"), nil)
	txnRepo.On("Update", ctx, mock.AnythingOfType("*model.Transaction")).Return(nil)
	gw.On("DisburseFunds", ctx, mock.Anything).Return(providerResponse(gateway.TxnStatusFailed, false), nil)

	txnRepo.On("FinalizeIfNotCompleted", ctx, int64(13), model.TransactionStatusFailed, "MP210603.1234.L06941", "prov-ref-1").
		Return(true, nil)
	txnRepo.On("GetByID", ctx, int64(13)).Return(&model.Transaction{
		ID:     13,
		Status: model.TransactionStatusFailed,
	}, nil)

	result, err := service.CreateWithdrawal(ctx, model.TransactionCreateRequest{
		UserID: 1,
		Amount: dec("40.00"),
	})
	require.NoError(t, err)
	assert.Equal(t, model.TransactionStatusFailed, result.Status)

	// the balance only moves on confirmed success
	userRepo.AssertNotCalled(t, "DeductBalance", mock.Anything, mock.Anything, mock.Anything)
	userRepo.AssertNotCalled(t, "AddBalance", mock.Anything, mock.Anything, mock.Anything)
}

func TestTransactionService_CreateWithdrawal_GatewayError_NoDebit(t *testing.T) {
	service, txnRepo, userRepo, gw, _ := newTestService()
	ctx := context.Background()

	userRepo.On("Get", ctx, int64(1)).Return(activeUser(1), nil)
	txnRepo.On("Create", ctx, mock.AnythingOfType("*model.Transaction")).
		Return(func(ctx context.Context, txn *model.Transaction) *model.Transaction {
			created := *txn
			created.ID = 14
			return &created
		}, nil)
	userRepo.On("GetBalance", ctx, int64(1)).Return(dec("100.00"), nil)
	txnRepo.On("Update", ctx, mock.AnythingOfType("*model.Transaction")).Return(nil)
	gw.On("DisburseFunds", ctx, mock.Anything).Return(nil, gateway.ErrGateway)

	txnRepo.On("FinalizeIfNotCompleted", ctx, int64(14), model.TransactionStatusFailed, "", "").
		Return(true, nil)

	_, err := service.CreateWithdrawal(ctx, model.TransactionCreateRequest{
		UserID: 1,
		Amount: dec("40.00"),
	})
	assert.ErrorIs(t, err, gateway.ErrGateway)

	userRepo.AssertNotCalled(t, "DeductBalance", mock.Anything, mock.Anything, mock.Anything)
	userRepo.AssertNotCalled(t, "AddBalance", mock.Anything, mock.Anything, mock.Anything)
	txnRepo.AssertExpectations(t)
}

func TestTransactionService_CreateWithdrawal_AmbiguousAck_NoDebitUntilCallback(t *testing.T) {
	service, txnRepo, userRepo, gw, _ := newTestService()
	ctx := context.Background()

	userRepo.On("Get", ctx, int64(1)).Return(activeUser(1), nil)
	txnRepo.On("Create", ctx, mock.AnythingOfType("*model.Transaction")).
		Return(func(ctx context.Context, txn *model.Transaction) *model.Transaction {
			created := *txn
			created.ID = 16
			return &created
		}, nil)
	userRepo.On("GetBalance", ctx, int64(1)).Return(dec("100.00"), nil)
	txnRepo.On("Update", ctx, mock.AnythingOfType("*model.Transaction")).Return(nil)

	// acknowledgment that carries neither a settlement code nor a success flag
	gw.On("DisburseFunds", ctx, mock.Anything).Return(providerAck("", nil), nil)

	processing := &model.Transaction{ID: 16, Status: model.TransactionStatusProcessing}
	txnRepo.On("GetByID", ctx, int64(16)).Return(processing, nil)

	result, err := service.CreateWithdrawal(ctx, model.TransactionCreateRequest{
		UserID: 1,
		Amount: dec("40.00"),
	})
	require.NoError(t, err)
	assert.Equal(t, model.TransactionStatusProcessing, result.Status)

	txnRepo.AssertNotCalled(t, "FinalizeIfNotCompleted", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything)
	userRepo.AssertNotCalled(t, "DeductBalance", mock.Anything, mock.Anything, mock.Anything)
}

func processingDeposit() *model.Transaction {
	txn := pendingDeposit()
	txn.Status = model.TransactionStatusProcessing
	txn.AirtelMoneyID = "MP210603.1234.L06941"
	txn.AirtelRefID = "AM_" + txn.TransactionID
	return txn
}

func TestTransactionService_HandleCallback_SettlesDeposit(t *testing.T) {
	service, txnRepo, userRepo, _, dedup := newTestService()
	ctx := context.Background()

	txn := processingDeposit()
	payload := []byte(`{
		"data": {
			"transaction": {
				"id": "` + txn.TransactionID + `",
				"airtel_money_id": "MP210603.1234.L06941",
				"status": "TS"
			}
		}
	}`)

	dedup.On("MarkProcessed", "MP210603.1234.L06941").Return(true)
	txnRepo.On("FindForCallback", ctx, "MP210603.1234.L06941", "", txn.TransactionID).Return(txn, nil)
	txnRepo.On("FinalizeIfNotCompleted", ctx, txn.ID, model.TransactionStatusCompleted, "MP210603.1234.L06941", "").
		Return(true, nil)
	userRepo.On("AddBalance", ctx, int64(1), dec("50.00")).Return(nil)

	err := service.HandleCallback(ctx, payload)
	require.NoError(t, err)

	txnRepo.AssertExpectations(t)
	userRepo.AssertExpectations(t)
	dedup.AssertExpectations(t)
}

func TestTransactionService_HandleCallback_DuplicateDropped(t *testing.T) {
	service, txnRepo, userRepo, _, dedup := newTestService()
	ctx := context.Background()

	payload := []byte(`{"data":{"transaction":{"airtel_money_id":"MP1","status":"TS"}}}`)

	dedup.On("MarkProcessed", "MP1").Return(false)

	err := service.HandleCallback(ctx, payload)
	require.NoError(t, err)

	txnRepo.AssertNotCalled(t, "FindForCallback", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
	userRepo.AssertNotCalled(t, "AddBalance", mock.Anything, mock.Anything, mock.Anything)
}

func TestTransactionService_HandleCallback_AlreadyCompleted_NoDoubleCredit(t *testing.T) {
	service, txnRepo, userRepo, _, dedup := newTestService()
	ctx := context.Background()

	txn := processingDeposit()
	txn.Status = model.TransactionStatusCompleted
	payload := []byte(`{"data":{"transaction":{"airtel_money_id":"MP210603.1234.L06941","status":"TS"}}}`)

	dedup.On("MarkProcessed", "MP210603.1234.L06941").Return(true)
	txnRepo.On("FindForCallback", ctx, "MP210603.1234.L06941", "", "MP210603.1234.L06941").Return(txn, nil)

	err := service.HandleCallback(ctx, payload)
	require.NoError(t, err)

	txnRepo.AssertNotCalled(t, "FinalizeIfNotCompleted", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything)
	userRepo.AssertNotCalled(t, "AddBalance", mock.Anything, mock.Anything, mock.Anything)
}

func TestTransactionService_HandleCallback_ResolvesByReferenceOnly(t *testing.T) {
	service, txnRepo, userRepo, _, dedup := newTestService()
	ctx := context.Background()

	txn := processingDeposit()
	payload := []byte(`{"transaction":{"reference_id":"AM_` + txn.TransactionID + `","status_code":"TS"}}`)

	dedup.On("MarkProcessed", "AM_"+txn.TransactionID).Return(true)
	txnRepo.On("FindForCallback", ctx, "", "AM_"+txn.TransactionID, "").Return(txn, nil)
	txnRepo.On("FinalizeIfNotCompleted", ctx, txn.ID, model.TransactionStatusCompleted, "", "AM_"+txn.TransactionID).
		Return(true, nil)
	userRepo.On("AddBalance", ctx, int64(1), dec("50.00")).Return(nil)

	err := service.HandleCallback(ctx, payload)
	require.NoError(t, err)

	txnRepo.AssertExpectations(t)
}

func TestTransactionService_HandleCallback_FailureMarksFailed(t *testing.T) {
	service, txnRepo, userRepo, _, dedup := newTestService()
	ctx := context.Background()

	txn := processingDeposit()
	payload := []byte(`{"data":{"transaction":{"airtel_money_id":"MP210603.1234.L06941","status":"TF"}}}`)

	dedup.On("MarkProcessed", "MP210603.1234.L06941").Return(true)
	txnRepo.On("FindForCallback", ctx, "MP210603.1234.L06941", "", "MP210603.1234.L06941").Return(txn, nil)
	txnRepo.On("FinalizeIfNotCompleted", ctx, txn.ID, model.TransactionStatusFailed, "MP210603.1234.L06941", "").
		Return(true, nil)

	err := service.HandleCallback(ctx, payload)
	require.NoError(t, err)

	userRepo.AssertNotCalled(t, "AddBalance", mock.Anything, mock.Anything, mock.Anything)
	txnRepo.AssertExpectations(t)
}

func TestTransactionService_HandleCallback_SettlesWithdrawal(t *testing.T) {
	service, txnRepo, userRepo, _, dedup := newTestService()
	ctx := context.Background()

	txn := processingDeposit()
	txn.Type = model.TransactionTypeWithdrawal
	payload := []byte(`{"data":{"transaction":{"airtel_money_id":"MP210603.1234.L06941","status":"TS"}}}`)

	dedup.On("MarkProcessed", "MP210603.1234.L06941").Return(true)
	txnRepo.On("FindForCallback", ctx, "MP210603.1234.L06941", "", "MP210603.1234.L06941").Return(txn, nil)
	txnRepo.On("FinalizeIfNotCompleted", ctx, txn.ID, model.TransactionStatusCompleted, "MP210603.1234.L06941", "").
		Return(true, nil)
	userRepo.On("DeductBalance", ctx, int64(1), dec("50.00")).Return(nil)

	err := service.HandleCallback(ctx, payload)
	require.NoError(t, err)

	txnRepo.AssertExpectations(t)
	userRepo.AssertExpectations(t)
}

func TestTransactionService_HandleCallback_CompletesFailedWithdrawal_AppliesDebit(t *testing.T) {
	service, txnRepo, userRepo, _, dedup := newTestService()
	ctx := context.Background()

	// the synchronous path timed out and marked the withdrawal failed, but the
	// disbursement actually landed and the provider reports success
	txn := processingDeposit()
	txn.Type = model.TransactionTypeWithdrawal
	txn.Status = model.TransactionStatusFailed
	payload := []byte(`{"data":{"transaction":{"airtel_money_id":"MP210603.1234.L06941","status":"TS"}}}`)

	dedup.On("MarkProcessed", "MP210603.1234.L06941").Return(true)
	txnRepo.On("FindForCallback", ctx, "MP210603.1234.L06941", "", "MP210603.1234.L06941").Return(txn, nil)
	txnRepo.On("FinalizeIfNotCompleted", ctx, txn.ID, model.TransactionStatusCompleted, "MP210603.1234.L06941", "").
		Return(true, nil)
	userRepo.On("DeductBalance", ctx, int64(1), dec("50.00")).Return(nil)

	err := service.HandleCallback(ctx, payload)
	require.NoError(t, err)

	// funds left the merchant, so the ledger must record the debit
	userRepo.AssertCalled(t, "DeductBalance", ctx, int64(1), dec("50.00"))
}

func TestTransactionService_HandleCallback_WithdrawalFailure_NoBalanceChange(t *testing.T) {
	service, txnRepo, userRepo, _, dedup := newTestService()
	ctx := context.Background()

	txn := processingDeposit()
	txn.Type = model.TransactionTypeWithdrawal
	payload := []byte(`{"data":{"transaction":{"airtel_money_id":"MP210603.1234.L06941","status":"TF"}}}`)

	dedup.On("MarkProcessed", "MP210603.1234.L06941").Return(true)
	txnRepo.On("FindForCallback", ctx, "MP210603.1234.L06941", "", "MP210603.1234.L06941").Return(txn, nil)
	txnRepo.On("FinalizeIfNotCompleted", ctx, txn.ID, model.TransactionStatusFailed, "MP210603.1234.L06941", "").
		Return(true, nil)

	err := service.HandleCallback(ctx, payload)
	require.NoError(t, err)

	// nothing was debited while processing, so there is nothing to move back
	userRepo.AssertNotCalled(t, "DeductBalance", mock.Anything, mock.Anything, mock.Anything)
	userRepo.AssertNotCalled(t, "AddBalance", mock.Anything, mock.Anything, mock.Anything)
}

func TestTransactionService_HandleCallback_TransientFailureReleasesDedup(t *testing.T) {
	service, txnRepo, _, _, dedup := newTestService()
	ctx := context.Background()

	payload := []byte(`{"data":{"transaction":{"airtel_money_id":"MP1","status":"TS"}}}`)

	dedup.On("MarkProcessed", "MP1").Return(true)
	txnRepo.On("FindForCallback", ctx, "MP1", "", "MP1").Return(nil, errBoom)
	dedup.On("Forget", "MP1").Return()

	err := service.HandleCallback(ctx, payload)
	assert.ErrorIs(t, err, errBoom)

	// the marker is released so the provider's redelivery is handled again
	dedup.AssertCalled(t, "Forget", "MP1")
}

func TestTransactionService_HandleCallback_Unmatched(t *testing.T) {
	service, txnRepo, _, _, dedup := newTestService()
	ctx := context.Background()

	payload := []byte(`{"data":{"transaction":{"airtel_money_id":"MP-unknown","status":"TS"}}}`)

	dedup.On("MarkProcessed", "MP-unknown").Return(true)
	txnRepo.On("FindForCallback", ctx, "MP-unknown", "", "MP-unknown").Return(nil, repository.ErrTransactionNotFound)

	err := service.HandleCallback(ctx, payload)
	assert.NoError(t, err)
}

func TestTransactionService_HandleCallback_NoTransactionData(t *testing.T) {
	service, txnRepo, _, _, dedup := newTestService()
	ctx := context.Background()

	err := service.HandleCallback(ctx, []byte(`{"status":{"success":true}}`))
	assert.NoError(t, err)

	dedup.AssertNotCalled(t, "MarkProcessed", mock.Anything)
	txnRepo.AssertNotCalled(t, "FindForCallback", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestTransactionService_Get_NotFound(t *testing.T) {
	service, txnRepo, _, _, _ := newTestService()
	ctx := context.Background()

	txnRepo.On("GetByTransactionID", ctx, "TXN-missing").Return(nil, repository.ErrTransactionNotFound)

	_, err := service.Get(ctx, "TXN-missing")
	assert.ErrorIs(t, err, ErrTransactionNotFound)
}

func TestClassifyResponse(t *testing.T) {
	cases := []struct {
		name    string
		status  string
		success bool
		want    outcome
	}{
		{"settled TS", gateway.TxnStatusSuccess, true, outcomeCompleted},
		{"settled SUCCESS", gateway.TxnStatusSuccessAlt, true, outcomeCompleted},
		{"failed TF", gateway.TxnStatusFailed, true, outcomeFailed},
		{"failed FAILED", gateway.TxnStatusFailedAlt, true, outcomeFailed},
		{"explicit failure flag", "", false, outcomeFailed},
		{"accepted without settlement", "", true, outcomeAwaitingCallback},
		{"unknown code with success flag", "XX", true, outcomeCompleted},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := classifyResponse(providerAck(tc.status, boolPtr(tc.success)))
			assert.Equal(t, tc.want, got)
		})
	}
}

// the provider sometimes acknowledges with a status code only; the flag being
// absent must not be read as a failure
func TestClassifyResponse_NoSuccessFlag(t *testing.T) {
	cases := []struct {
		name   string
		status string
		want   outcome
	}{
		{"settled code", gateway.TxnStatusSuccess, outcomeCompleted},
		{"failed code", gateway.TxnStatusFailed, outcomeFailed},
		{"unrecognized code", "AMBIG", outcomeAwaitingCallback},
		{"empty ack", "", outcomeAwaitingCallback},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := classifyResponse(providerAck(tc.status, nil))
			assert.Equal(t, tc.want, got)
		})
	}
}

func TestClassifyResponse_ExplicitFalseOverridesCode(t *testing.T) {
	got := classifyResponse(providerAck(gateway.TxnStatusSuccess, boolPtr(false)))
	assert.Equal(t, outcomeFailed, got)
}

func TestProviderIDs_Fallbacks(t *testing.T) {
	txn := pendingDeposit()

	resp := &gateway.ProviderResponse{}
	moneyID, refID := providerIDs(resp, txn)
	assert.Equal(t, "AM_"+txn.TransactionID, moneyID)
	assert.Equal(t, txn.Reference, refID)

	resp.Data.Transaction.ReferenceID = "prov-ref"
	_, refID = providerIDs(resp, txn)
	assert.Equal(t, "prov-ref", refID)

	resp.Data.Transaction.ID = "prov-id"
	resp.Data.Transaction.AirtelMoneyID = "MP9"
	moneyID, refID = providerIDs(resp, txn)
	assert.Equal(t, "MP9", moneyID)
	assert.Equal(t, "prov-id", refID)
}

var errBoom = errors.New("boom")

func TestTransactionService_ProcessDeposit_CreditFailureSurfaces(t *testing.T) {
	service, txnRepo, userRepo, gw, _ := newTestService()
	ctx := context.Background()

	txn := pendingDeposit()
	txnRepo.On("GetByTransactionID", ctx, txn.TransactionID).Return(txn, nil)
	txnRepo.On("Update", ctx, mock.AnythingOfType("*model.Transaction")).Return(nil)
	gw.On("CollectPayment", ctx, mock.Anything).Return(providerResponse(gateway.TxnStatusSuccess, true), nil)
	txnRepo.On("FinalizeIfNotCompleted", ctx, txn.ID, model.TransactionStatusCompleted, "MP210603.1234.L06941", "prov-ref-1").
		Return(true, nil)
	userRepo.On("AddBalance", ctx, int64(1), dec("50.00")).Return(errBoom)

	_, err := service.ProcessDeposit(ctx, txn.TransactionID)
	assert.ErrorIs(t, err, errBoom)
}
