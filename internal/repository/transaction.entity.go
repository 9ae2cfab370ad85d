package repository

import (
	"time"

	"github.com/minibet/payment-gateway/internal/model"
	"github.com/shopspring/decimal"
)

type TransactionEntity struct {
	ID            int64           `db:"id"                  gorm:"primaryKey;autoIncrement;column:id"`
	TransactionID string          `db:"transaction_id"      gorm:"column:transaction_id;not null;unique"`
	Type          string          `db:"type"                gorm:"column:type;not null"`
	Status        string          `db:"status"              gorm:"column:status;not null;default:pending;index"`
	Amount        decimal.Decimal `db:"amount"              gorm:"column:amount;type:decimal(10,2);not null"`
	Currency      string          `db:"currency"            gorm:"column:currency;not null"`
	Reference     string          `db:"reference"           gorm:"column:reference;not null"`
	MSISDN        string          `db:"msisdn"              gorm:"column:msisdn"`
	AirtelMoneyID string          `db:"airtel_money_id"     gorm:"column:airtel_money_id;index"`
	AirtelRefID   string          `db:"airtel_reference_id" gorm:"column:airtel_reference_id;index"`
	Description   string          `db:"description"         gorm:"column:description"`
	UserID        int64           `db:"user_id"             gorm:"column:user_id;not null;index"`
	User          *UserEntity     `gorm:"foreignKey:UserID;references:ID;constraint:OnDelete:CASCADE"`
	CreatedAt     time.Time       `db:"created_at"          gorm:"column:created_at;autoCreateTime"`
	UpdatedAt     time.Time       `db:"updated_at"          gorm:"column:updated_at;autoUpdateTime"`
}

func (TransactionEntity) TableName() string {
	return "transactions"
}

func toTransactionEntity(m *model.Transaction) *TransactionEntity {
	if m == nil {
		return nil
	}
	return &TransactionEntity{
		ID:            m.ID,
		TransactionID: m.TransactionID,
		Type:          string(m.Type),
		Status:        string(m.Status),
		Amount:        m.Amount,
		Currency:      m.Currency,
		Reference:     m.Reference,
		MSISDN:        m.MSISDN,
		AirtelMoneyID: m.AirtelMoneyID,
		AirtelRefID:   m.AirtelRefID,
		Description:   m.Description,
		UserID:        m.UserID,
		CreatedAt:     m.CreatedAt,
		UpdatedAt:     m.UpdatedAt,
	}
}

func toTransactionModel(e *TransactionEntity) *model.Transaction {
	if e == nil {
		return nil
	}
	return &model.Transaction{
		ID:            e.ID,
		TransactionID: e.TransactionID,
		Type:          model.TransactionType(e.Type),
		Status:        model.TransactionStatus(e.Status),
		Amount:        e.Amount,
		Currency:      e.Currency,
		Reference:     e.Reference,
		MSISDN:        e.MSISDN,
		AirtelMoneyID: e.AirtelMoneyID,
		AirtelRefID:   e.AirtelRefID,
		Description:   e.Description,
		UserID:        e.UserID,
		User:          toUserModel(e.User),
		CreatedAt:     e.CreatedAt,
		UpdatedAt:     e.UpdatedAt,
	}
}

func toTransactionModels(entities []*TransactionEntity) []*model.Transaction {
	if entities == nil {
		return nil
	}
	models := make([]*model.Transaction, len(entities))
	for i, e := range entities {
		models[i] = toTransactionModel(e)
	}
	return models
}
