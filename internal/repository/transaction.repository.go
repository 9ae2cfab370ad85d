package repository

import (
	"context"
	"errors"

	"github.com/minibet/payment-gateway/internal/model"
	"github.com/minibet/payment-gateway/pkg/pg"
	"gorm.io/gorm"
)

var (
	// ErrTransactionNotFound is returned when no transaction matches a lookup.
	ErrTransactionNotFound = errors.New("transaction not found")
)

type TransactionRepository struct {
	*pg.DB
}

func NewTransactionRepository(db *pg.DB) *TransactionRepository {
	return &TransactionRepository{
		db,
	}
}

func (r *TransactionRepository) Create(ctx context.Context, txn *model.Transaction) (*model.Transaction, error) {
	entity := toTransactionEntity(txn)

	if err := r.Write(ctx).WithContext(ctx).Create(entity).Error; err != nil {
		return nil, err
	}

	return toTransactionModel(entity), nil
}

// GetByID loads a transaction aggregate (with its user) by internal id.
func (r *TransactionRepository) GetByID(ctx context.Context, id int64) (*model.Transaction, error) {
	return r.getOne(ctx, "id = ?", id)
}

// GetByTransactionID loads a transaction aggregate by the provider-facing id.
func (r *TransactionRepository) GetByTransactionID(ctx context.Context, transactionID string) (*model.Transaction, error) {
	return r.getOne(ctx, "transaction_id = ?", transactionID)
}

// FindForCallback resolves a callback to a stored transaction, trying the
// correlation ids in order: provider transaction id, provider reference id,
// internal transaction id. First hit wins.
func (r *TransactionRepository) FindForCallback(ctx context.Context, airtelMoneyID, airtelRefID, transactionID string) (*model.Transaction, error) {
	if airtelMoneyID != "" {
		txn, err := r.getOne(ctx, "airtel_money_id = ?", airtelMoneyID)
		if err == nil {
			return txn, nil
		}
		if !errors.Is(err, ErrTransactionNotFound) {
			return nil, err
		}
	}
	if airtelRefID != "" {
		txn, err := r.getOne(ctx, "airtel_reference_id = ?", airtelRefID)
		if err == nil {
			return txn, nil
		}
		if !errors.Is(err, ErrTransactionNotFound) {
			return nil, err
		}
	}
	if transactionID != "" {
		txn, err := r.getOne(ctx, "transaction_id = ?", transactionID)
		if err == nil {
			return txn, nil
		}
		if !errors.Is(err, ErrTransactionNotFound) {
			return nil, err
		}
	}
	return nil, ErrTransactionNotFound
}

func (r *TransactionRepository) getOne(ctx context.Context, query string, arg any) (*model.Transaction, error) {
	var entity TransactionEntity
	err := r.Read(ctx).WithContext(ctx).
		Preload("User").
		Where(query, arg).
		First(&entity).
		Error

	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrTransactionNotFound
		}
		return nil, err
	}

	return toTransactionModel(&entity), nil
}

// Update persists mutable transaction fields (status, msisdn, provider
// correlation ids). The updated_at stamp is refreshed by gorm.
func (r *TransactionRepository) Update(ctx context.Context, txn *model.Transaction) error {
	result := r.Write(ctx).WithContext(ctx).
		Model(&TransactionEntity{}).
		Where("id = ?", txn.ID).
		Updates(map[string]any{
			"status":              string(txn.Status),
			"msisdn":              txn.MSISDN,
			"airtel_money_id":     txn.AirtelMoneyID,
			"airtel_reference_id": txn.AirtelRefID,
		})

	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrTransactionNotFound
	}
	return nil
}

// FinalizeIfNotCompleted applies a terminal (or deferred) status and the
// provider correlation ids, but only when the transaction has not already
// reached completed. Reports whether the row actually changed, which is the
// guard callers use before mutating a balance: the synchronous path and the
// callback path may race, at most one of them wins this update with a
// completed status.
func (r *TransactionRepository) FinalizeIfNotCompleted(ctx context.Context, id int64, status model.TransactionStatus, airtelMoneyID, airtelRefID string) (bool, error) {
	updates := map[string]any{
		"status": string(status),
	}
	if airtelMoneyID != "" {
		updates["airtel_money_id"] = airtelMoneyID
	}
	if airtelRefID != "" {
		updates["airtel_reference_id"] = airtelRefID
	}

	result := r.Write(ctx).WithContext(ctx).
		Model(&TransactionEntity{}).
		Where("id = ? AND status <> ?", id, string(model.TransactionStatusCompleted)).
		Updates(updates)

	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected > 0, nil
}

func (r *TransactionRepository) List(ctx context.Context, f model.TransactionFilter) ([]*model.Transaction, int64, error) {
	q := r.Read(ctx).WithContext(ctx).Model(&TransactionEntity{})

	if f.UserID != nil {
		q = q.Where("user_id = ?", *f.UserID)
	}
	if len(f.Statuses) > 0 {
		q = q.Where("status IN ?", f.Statuses)
	}
	if len(f.Types) > 0 {
		q = q.Where("type IN ?", f.Types)
	}
	if f.From != nil {
		q = q.Where("created_at >= ?", *f.From)
	}
	if f.To != nil {
		q = q.Where("created_at < ?", *f.To)
	}

	// Count before pagination
	var total int64
	if err := q.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	order := "created_at"
	if f.Desc {
		order += " DESC"
	} else {
		order += " ASC"
	}

	limit := f.Limit
	if limit <= 0 || limit > 1000 {
		limit = 50
	}
	offset := f.Offset
	if offset < 0 {
		offset = 0
	}

	var entities []*TransactionEntity
	if err := q.Preload("User").Order(order).Limit(limit).Offset(offset).Find(&entities).Error; err != nil {
		return nil, 0, err
	}

	return toTransactionModels(entities), total, nil
}
