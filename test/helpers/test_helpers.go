package helpers

import (
	"context"
	"reflect"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/minibet/payment-gateway/internal/repository"
	"github.com/minibet/payment-gateway/pkg/pg"
	"github.com/minibet/payment-gateway/pkg/redis"
	goredis "github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	_ "modernc.org/sqlite"
)

func SetupTestDB(t *testing.T) *pg.DB {
	// DriverName selects the cgo-free modernc.org/sqlite driver; the default
	// mattn/go-sqlite3 is a non-functional stub under CGO_ENABLED=0
	db, err := gorm.Open(&sqlite.Dialector{DriverName: "sqlite", DSN: ":memory:"}, &gorm.Config{})
	require.NoError(t, err)

	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)

	err = db.AutoMigrate(
		&repository.UserEntity{},
		&repository.TransactionEntity{},
	)
	require.NoError(t, err)

	pgDB := &pg.DB{}
	pgDBValue := reflect.ValueOf(pgDB).Elem()

	readField := pgDBValue.FieldByName("read")
	writeField := pgDBValue.FieldByName("write")

	readField = reflect.NewAt(readField.Type(), readField.Addr().UnsafePointer()).Elem()
	writeField = reflect.NewAt(writeField.Type(), writeField.Addr().UnsafePointer()).Elem()

	readField.Set(reflect.ValueOf(db))
	writeField.Set(reflect.ValueOf(db))

	return pgDB
}

func SetupTestRedis(t *testing.T) (*miniredis.Miniredis, redis.RedisAdapter) {
	mr, err := miniredis.Run()
	require.NoError(t, err)

	adapter, err := redis.NewRedisAdapter(t.Name()+"-"+mr.Addr(), "", &goredis.UniversalOptions{
		Addrs: []string{mr.Addr()},
	})
	require.NoError(t, err)

	return mr, adapter
}

func CreateTestUser(t *testing.T, db *pg.DB, id int64, balance string) *repository.UserEntity {
	ctx := context.Background()
	user := &repository.UserEntity{
		ID:       id,
		Email:    RandomEmail(id),
		Username: "user",
		Password: "secret",
		MSISDN:   "712345678",
		Balance:  decimal.RequireFromString(balance),
		IsActive: true,
	}
	err := db.Write(ctx).Create(user).Error
	require.NoError(t, err)
	return user
}

func CreateTestTransaction(t *testing.T, db *pg.DB, userID int64, transactionID, txnType, status, amount string) *repository.TransactionEntity {
	ctx := context.Background()
	txn := &repository.TransactionEntity{
		TransactionID: transactionID,
		Type:          txnType,
		Status:        status,
		Amount:        decimal.RequireFromString(amount),
		Currency:      "KES",
		Reference:     "MiniBet-" + transactionID,
		UserID:        userID,
		CreatedAt:     time.Now(),
	}
	err := db.Write(ctx).Create(txn).Error
	require.NoError(t, err)
	return txn
}

func WaitForCondition(t *testing.T, timeout time.Duration, condition func() bool) bool {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if condition() {
			return true
		}
		time.Sleep(10 * time.Millisecond)
	}
	return false
}

func AssertEventually(t *testing.T, timeout time.Duration, condition func() bool, msg string) {
	if !WaitForCondition(t, timeout, condition) {
		t.Fatal(msg)
	}
}

func ContextWithTimeout(timeout time.Duration) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), timeout)
}

func RandomEmail(id int64) string {
	return "user-" + time.Now().Format("20060102150405") + "-" + string(rune('a'+id%26)) + "@minibet.test"
}

func Ptr[T any](v T) *T {
	return &v
}
