package logger

import (
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestNewBuildsLoggerForBothEnvironments(t *testing.T) {
	for _, env := range []string{"development", "production"} {
		log, err := New(Config{Environment: env, LogLevel: "debug", ServiceName: "coordinator"})
		require.NoError(t, err)
		require.NotNil(t, log)
		log.Info("hello", zap.String("env", env))
		require.NoError(t, log.Sync())
	}
}

func TestWithAddsFieldsWithoutMutatingParent(t *testing.T) {
	base, err := New(DefaultConfig())
	require.NoError(t, err)

	child := base.With(zap.String("correlation_id", "corr-1"))
	require.NotNil(t, child)
	require.NotSame(t, base.GetZapLogger(), child.GetZapLogger())
}

func TestParseLogLevelDefaultsToInfo(t *testing.T) {
	require.Equal(t, parseLogLevel("bogus"), parseLogLevel("info"))
}
