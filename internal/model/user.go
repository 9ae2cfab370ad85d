package model

import (
	"errors"
	"time"

	"github.com/shopspring/decimal"
)

type User struct {
	ID        int64           `json:"id"`
	Email     string          `json:"email"`
	Username  string          `json:"username"`
	Password  string          `json:"-"`
	MSISDN    string          `json:"msisdn"` // default funding number for mobile money
	Balance   decimal.Decimal `json:"balance"`
	IsActive  bool            `json:"is_active"`
	CreatedAt time.Time       `json:"created_at"`
	UpdatedAt time.Time       `json:"updated_at"`
}

type UserCreateRequest struct {
	Email    string
	Username string
	Password string
	MSISDN   string
}

func (p UserCreateRequest) Validate() error {
	if p.Email == "" {
		return errors.New("email is required")
	}
	if p.Username == "" {
		return errors.New("username is required")
	}
	if p.Password == "" {
		return errors.New("password is required")
	}
	return nil
}

// UserUpdateRequest carries partial updates; nil fields are left untouched.
// Balance is deliberately absent, it only moves through the transaction engine.
type UserUpdateRequest struct {
	Email    *string
	Username *string
	MSISDN   *string
	IsActive *bool
}
