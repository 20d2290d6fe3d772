package logger_test

import (
	"testing"

	"bookstore/internal/logger"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

func TestParseLevel(t *testing.T) {
	assert.Equal(t, zapcore.DebugLevel, logger.ParseLevel("debug"))
	assert.Equal(t, zapcore.WarnLevel, logger.ParseLevel("warn"))
	assert.Equal(t, zapcore.ErrorLevel, logger.ParseLevel("error"))
	assert.Equal(t, zapcore.InfoLevel, logger.ParseLevel("info"))
	assert.Equal(t, zapcore.InfoLevel, logger.ParseLevel("verbose"))
}

func TestInitLogger(t *testing.T) {
	restore := zap.ReplaceGlobals(zap.NewNop())
	defer restore()

	for _, env := range []string{"production", "development"} {
		t.Run(env, func(t *testing.T) {
			log, err := logger.InitLogger(logger.LogConfig{Level: "warn", Environment: env, ServiceName: "inventory"})
			require.NoError(t, err)
			require.NotNil(t, log)

			assert.False(t, log.Core().Enabled(zapcore.InfoLevel))
			assert.True(t, log.Core().Enabled(zapcore.WarnLevel))
			assert.Same(t, log, zap.L())
		})
	}
}
