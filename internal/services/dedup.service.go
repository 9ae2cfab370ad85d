package services

import (
	"time"

	"github.com/minibet/payment-gateway/pkg/logger"
	"github.com/minibet/payment-gateway/pkg/redis"
)

type DedupConfig struct {
	// ProcessedTTL bounds how long a callback id is remembered.
	ProcessedTTL time.Duration

	ProcessedKeyPrefix string
}

func DefaultDedupConfig() DedupConfig {
	return DedupConfig{
		ProcessedTTL:       24 * time.Hour,
		ProcessedKeyPrefix: "callback:processed:",
	}
}

// CallbackDedupService remembers which provider callbacks have already been
// handled so redelivered callbacks are dropped before they reach the engine.
// It is a fast-path filter only: the conditional status update in the
// transaction store remains the guard of record against double settlement.
type CallbackDedupService struct {
	redis  redis.RedisAdapter
	config DedupConfig
}

func NewCallbackDedupService(redisAdapter redis.RedisAdapter, config DedupConfig) *CallbackDedupService {
	return &CallbackDedupService{
		redis:  redisAdapter,
		config: config,
	}
}

// MarkProcessed claims the callback id atomically. It returns true when this
// caller is the first to see the id, false when it was already claimed.
// Redis failures degrade to "not a duplicate": better to hand a redelivery to
// the engine, which tolerates it, than to drop a first delivery.
func (s *CallbackDedupService) MarkProcessed(callbackID string) bool {
	key := s.config.ProcessedKeyPrefix + callbackID
	ok, err := s.redis.SetNX(key, []byte("1"), s.config.ProcessedTTL)
	if err != nil {
		logger.Warn("callback dedup check failed, treating as first delivery",
			"callback_id", callbackID,
			"error", err)
		return true
	}
	return ok
}

// Forget releases a claimed callback id so the provider's redelivery is
// handled again. Called when processing fails after the claim; otherwise the
// transaction would stay unsettled until the marker expires.
func (s *CallbackDedupService) Forget(callbackID string) {
	key := s.config.ProcessedKeyPrefix + callbackID
	if err := s.redis.Del(key); err != nil {
		logger.Warn("callback dedup release failed",
			"callback_id", callbackID,
			"error", err)
	}
}
