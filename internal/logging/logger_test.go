// Package logging includes tests for the zap logger helpers.
package logging

import (
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"
)

// TestNewDevelopmentLogger confirms the development logger builds and logs.
func TestNewDevelopmentLogger(t *testing.T) {
	t.Parallel()

	logger, err := New(true)
	require.NoError(t, err)
	require.NotNil(t, logger)
	defer logger.Sync() //nolint:errcheck // best-effort flush
	logger.Info("development logger ready")
	require.True(t, logger.Core().Enabled(zapcore.DebugLevel))
}

// TestNewProductionLogger ensures the production logger configuration succeeds.
func TestNewProductionLogger(t *testing.T) {
	t.Parallel()

	logger, err := New(false)
	require.NoError(t, err)
	require.NotNil(t, logger)
	defer logger.Sync() //nolint:errcheck // best-effort flush
	logger.Info("production logger ready")
	require.False(t, logger.Core().Enabled(zapcore.DebugLevel))
}

func TestProductionConfigUsesCloudLoggingKeys(t *testing.T) {
	t.Parallel()

	cfg := buildConfig(false)
	require.Equal(t, "severity", cfg.EncoderConfig.LevelKey)
	require.Equal(t, "message", cfg.EncoderConfig.MessageKey)
	require.Equal(t, "ts", cfg.EncoderConfig.TimeKey)
	require.Nil(t, cfg.Sampling)
	require.Equal(t, "json", cfg.Encoding)
}
