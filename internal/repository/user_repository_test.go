package repository

import (
	"context"
	"sync"
	"testing"

	"github.com/minibet/payment-gateway/internal/model"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func TestUserRepository_DeductBalance(t *testing.T) {
	db := setupTestDB(t).DB
	repo := NewUserRepository(db)
	ctx := context.Background()

	t.Run("successful deduction", func(t *testing.T) {
		user := &UserEntity{
			ID:       1,
			Email:    "one@minibet.test",
			Username: "one",
			Password: "secret",
			Balance:  dec("100.00"),
			IsActive: true,
		}
		err := db.Write(ctx).Create(user).Error
		require.NoError(t, err)

		err = repo.DeductBalance(ctx, 1, dec("30.00"))
		assert.NoError(t, err)

		balance, err := repo.GetBalance(ctx, 1)
		require.NoError(t, err)
		assert.True(t, dec("70.00").Equal(balance), "got %s", balance)
	})

	t.Run("insufficient balance", func(t *testing.T) {
		user := &UserEntity{
			ID:       2,
			Email:    "two@minibet.test",
			Username: "two",
			Password: "secret",
			Balance:  dec("30.00"),
		}
		err := db.Write(ctx).Create(user).Error
		require.NoError(t, err)

		err = repo.DeductBalance(ctx, 2, dec("50.00"))
		assert.ErrorIs(t, err, ErrInsufficientBalance)

		balance, err := repo.GetBalance(ctx, 2)
		require.NoError(t, err)
		assert.True(t, dec("30.00").Equal(balance))
	})

	t.Run("user not found", func(t *testing.T) {
		err := repo.DeductBalance(ctx, 999, dec("10.00"))
		assert.ErrorIs(t, err, ErrUserNotFound)
	})

	t.Run("exact balance deduction", func(t *testing.T) {
		user := &UserEntity{
			ID:       3,
			Email:    "three@minibet.test",
			Username: "three",
			Password: "secret",
			Balance:  dec("25.50"),
		}
		err := db.Write(ctx).Create(user).Error
		require.NoError(t, err)

		err = repo.DeductBalance(ctx, 3, dec("25.50"))
		assert.NoError(t, err)

		balance, err := repo.GetBalance(ctx, 3)
		require.NoError(t, err)
		assert.True(t, balance.IsZero())
	})
}

func TestUserRepository_AddBalance(t *testing.T) {
	db := setupTestDB(t).DB
	repo := NewUserRepository(db)
	ctx := context.Background()

	t.Run("successful addition", func(t *testing.T) {
		user := &UserEntity{
			ID:       1,
			Email:    "one@minibet.test",
			Username: "one",
			Password: "secret",
			Balance:  dec("100.00"),
		}
		err := db.Write(ctx).Create(user).Error
		require.NoError(t, err)

		err = repo.AddBalance(ctx, 1, dec("50.00"))
		assert.NoError(t, err)

		balance, err := repo.GetBalance(ctx, 1)
		require.NoError(t, err)
		assert.True(t, dec("150.00").Equal(balance), "got %s", balance)
	})

	t.Run("user not found", func(t *testing.T) {
		err := repo.AddBalance(ctx, 999, dec("10.00"))
		assert.ErrorIs(t, err, ErrUserNotFound)
	})

	t.Run("concurrent credits do not lose updates", func(t *testing.T) {
		user := &UserEntity{
			ID:       5,
			Email:    "five@minibet.test",
			Username: "five",
			Password: "secret",
			Balance:  dec("0.00"),
		}
		err := db.Write(ctx).Create(user).Error
		require.NoError(t, err)

		const workers = 10
		var wg sync.WaitGroup
		wg.Add(workers)
		for i := 0; i < workers; i++ {
			go func() {
				defer wg.Done()
				_ = repo.AddBalance(ctx, 5, dec("1.00"))
			}()
		}
		wg.Wait()

		balance, err := repo.GetBalance(ctx, 5)
		require.NoError(t, err)
		assert.True(t, dec("10.00").Equal(balance), "got %s", balance)
	})
}

func TestUserRepository_CRUD(t *testing.T) {
	db := setupTestDB(t).DB
	repo := NewUserRepository(db)
	ctx := context.Background()

	created, err := repo.Create(ctx, &model.User{
		Email:    "punter@minibet.test",
		Username: "punter",
		Password: "secret",
		MSISDN:   "0712345678",
		Balance:  dec("0.00"),
		IsActive: true,
	})
	require.NoError(t, err)
	require.NotZero(t, created.ID)

	got, err := repo.Get(ctx, created.ID)
	require.NoError(t, err)
	assert.Equal(t, "punter", got.Username)
	assert.Equal(t, "0712345678", got.MSISDN)

	newMSISDN := "254712345678"
	inactive := false
	updated, err := repo.Update(ctx, created.ID, model.UserUpdateRequest{
		MSISDN:   &newMSISDN,
		IsActive: &inactive,
	})
	require.NoError(t, err)
	assert.Equal(t, "254712345678", updated.MSISDN)
	assert.False(t, updated.IsActive)

	users, err := repo.List(ctx)
	require.NoError(t, err)
	assert.Len(t, users, 1)

	require.NoError(t, repo.Delete(ctx, created.ID))
	_, err = repo.Get(ctx, created.ID)
	assert.ErrorIs(t, err, ErrUserNotFound)

	err = repo.Delete(ctx, created.ID)
	assert.ErrorIs(t, err, ErrUserNotFound)
}
