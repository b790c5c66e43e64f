package seeder

import (
	"context"

	"github.com/ECHOITWEB/teampulse-sub005/internal/auth"
	"go.uber.org/zap"
)

const (
	TestAPIKey   = "test-api-key-12345"
	TestTenantID = "00000000-0000-0000-0000-000000000001"
	TestUserID   = "00000000-0000-0000-0000-0000000000a1"
)

// SeedTestAPIKey inserts a development key bound to the test tenant and user.
// An existing key is left alone.
func SeedTestAPIKey(ctx context.Context, store auth.Store, logger *zap.Logger) error {
	apiKey := &auth.APIKey{
		TenantID:  TestTenantID,
		UserID:    TestUserID,
		KeyHash:   auth.HashKey(TestAPIKey),
		RateLimit: 1000000,
		Active:    true,
	}

	if err := store.Create(ctx, apiKey); err != nil {
		logger.Info("seed api key may already exist, skipping", zap.Error(err))
		return err
	}
	logger.Info("seed api key created",
		zap.String("key", TestAPIKey),
		zap.String("tenant_id", TestTenantID),
		zap.String("user_id", TestUserID),
	)
	return nil
}
