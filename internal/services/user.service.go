package services

import (
	"context"
	"errors"
	"fmt"

	"github.com/minibet/payment-gateway/internal/model"
	"github.com/minibet/payment-gateway/internal/msisdn"
	"github.com/minibet/payment-gateway/internal/repository"
	"github.com/shopspring/decimal"
)

var (
	ErrDuplicateEmail = errors.New("email already registered")
)

type UserStore interface {
	Create(ctx context.Context, user *model.User) (*model.User, error)
	Get(ctx context.Context, id int64) (*model.User, error)
	List(ctx context.Context) ([]*model.User, error)
	Update(ctx context.Context, id int64, p model.UserUpdateRequest) (*model.User, error)
	Delete(ctx context.Context, id int64) error
	GetBalance(ctx context.Context, userID int64) (decimal.Decimal, error)
}

type UserService struct {
	userRepo UserStore
}

func NewUserService(userRepo UserStore) *UserService {
	return &UserService{
		userRepo: userRepo,
	}
}

func (s *UserService) Create(ctx context.Context, p model.UserCreateRequest) (*model.User, error) {
	if err := p.Validate(); err != nil {
		return nil, err
	}

	user := &model.User{
		Email:    p.Email,
		Username: p.Username,
		Password: p.Password,
		MSISDN:   msisdn.Normalize(p.MSISDN),
		Balance:  decimal.Zero,
		IsActive: true,
	}

	created, err := s.userRepo.Create(ctx, user)
	if err != nil {
		if errors.Is(err, repository.ErrDuplicateEmail) {
			return nil, ErrDuplicateEmail
		}
		return nil, fmt.Errorf("create user: %w", err)
	}
	return created, nil
}

func (s *UserService) Get(ctx context.Context, id int64) (*model.User, error) {
	user, err := s.userRepo.Get(ctx, id)
	if err != nil {
		if errors.Is(err, repository.ErrUserNotFound) {
			return nil, ErrUserNotFound
		}
		return nil, err
	}
	return user, nil
}

func (s *UserService) List(ctx context.Context) ([]*model.User, error) {
	return s.userRepo.List(ctx)
}

func (s *UserService) Update(ctx context.Context, id int64, p model.UserUpdateRequest) (*model.User, error) {
	if p.MSISDN != nil {
		normalized := msisdn.Normalize(*p.MSISDN)
		p.MSISDN = &normalized
	}
	user, err := s.userRepo.Update(ctx, id, p)
	if err != nil {
		if errors.Is(err, repository.ErrUserNotFound) {
			return nil, ErrUserNotFound
		}
		return nil, err
	}
	return user, nil
}

func (s *UserService) Delete(ctx context.Context, id int64) error {
	err := s.userRepo.Delete(ctx, id)
	if errors.Is(err, repository.ErrUserNotFound) {
		return ErrUserNotFound
	}
	return err
}

func (s *UserService) GetBalance(ctx context.Context, id int64) (decimal.Decimal, error) {
	balance, err := s.userRepo.GetBalance(ctx, id)
	if err != nil {
		if errors.Is(err, repository.ErrUserNotFound) {
			return decimal.Zero, ErrUserNotFound
		}
		return decimal.Zero, err
	}
	return balance, nil
}
