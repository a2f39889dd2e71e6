package app

import (
	"context"
	"testing"

	"github.com/ayo6706/deal-escrow/internal/config"
	"github.com/ayo6706/deal-escrow/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"
)

func TestNewLoggerLevels(t *testing.T) {
	tests := map[string]zapcore.Level{
		"debug":   zapcore.DebugLevel,
		"INFO":    zapcore.InfoLevel,
		"":        zapcore.InfoLevel,
		"warn":    zapcore.WarnLevel,
		"error":   zapcore.ErrorLevel,
		"verbose": zapcore.InfoLevel,
	}
	for level, want := range tests {
		logger, err := newLogger(level)
		require.NoError(t, err)
		assert.True(t, logger.Core().Enabled(want), level)
		if want > zapcore.DebugLevel {
			assert.False(t, logger.Core().Enabled(want-1), level)
		}
	}
}

func TestMemoryBackendSeedsOperator(t *testing.T) {
	cfg := &config.Config{StoreDriver: config.StoreDriverMemory}
	be, err := openBackend(context.Background(), cfg, nil)
	require.NoError(t, err)
	defer be.close()

	assert.Nil(t, be.pinger)
	require.NotNil(t, be.idempotency)

	admin, err := be.store.GetUser(context.Background(), bootstrapAdminID)
	require.NoError(t, err)
	assert.True(t, admin.IsAdmin())
	assert.Equal(t, domain.KYCApproved, admin.KYCStatus)
}
