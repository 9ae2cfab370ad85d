package services

import (
	"context"

	"github.com/minibet/payment-gateway/pkg/pg"
)

// HealthService answers the liveness probe. It touches the read replica so a
// dead database surfaces as unhealthy instead of a flood of 500s later.
type HealthService struct {
	db *pg.DB
}

func NewHealthService(db *pg.DB) *HealthService {
	return &HealthService{
		db: db,
	}
}

func (s *HealthService) Get() error {
	if s.db == nil {
		return nil
	}
	var one int
	return s.db.Read(context.Background()).Raw("SELECT 1").Scan(&one).Error
}
