package repository

import (
	"time"

	"github.com/minibet/payment-gateway/internal/model"
	"github.com/shopspring/decimal"
)

type UserEntity struct {
	ID        int64           `db:"id"         gorm:"primaryKey;autoIncrement;column:id"`
	Email     string          `db:"email"      gorm:"column:email;not null;unique"`
	Username  string          `db:"username"   gorm:"column:username;not null"`
	Password  string          `db:"password"   gorm:"column:password;not null"`
	MSISDN    string          `db:"msisdn"     gorm:"column:msisdn"`
	Balance   decimal.Decimal `db:"balance"    gorm:"column:balance;type:decimal(10,2);not null;default:0"`
	IsActive  bool            `db:"is_active"  gorm:"column:is_active;not null;default:true"`
	CreatedAt time.Time       `db:"created_at" gorm:"column:created_at;autoCreateTime"`
	UpdatedAt time.Time       `db:"updated_at" gorm:"column:updated_at;autoUpdateTime"`
}

func (UserEntity) TableName() string {
	return "users"
}

func toUserEntity(m *model.User) *UserEntity {
	if m == nil {
		return nil
	}
	return &UserEntity{
		ID:        m.ID,
		Email:     m.Email,
		Username:  m.Username,
		Password:  m.Password,
		MSISDN:    m.MSISDN,
		Balance:   m.Balance,
		IsActive:  m.IsActive,
		CreatedAt: m.CreatedAt,
		UpdatedAt: m.UpdatedAt,
	}
}

func toUserModel(e *UserEntity) *model.User {
	if e == nil {
		return nil
	}
	return &model.User{
		ID:        e.ID,
		Email:     e.Email,
		Username:  e.Username,
		Password:  e.Password,
		MSISDN:    e.MSISDN,
		Balance:   e.Balance,
		IsActive:  e.IsActive,
		CreatedAt: e.CreatedAt,
		UpdatedAt: e.UpdatedAt,
	}
}

func toUserModels(entities []*UserEntity) []*model.User {
	if entities == nil {
		return nil
	}
	models := make([]*model.User, len(entities))
	for i, e := range entities {
		models[i] = toUserModel(e)
	}
	return models
}
