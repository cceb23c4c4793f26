package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func setRequiredEnv(t *testing.T) {
	t.Helper()
	env := map[string]string{
		"APP_ENV":      "test",
		"APP_NAME":     "contracts-worker",
		"DB_HOST":      "localhost",
		"DB_PORT":      "5432",
		"DB_USER":      "saga",
		"DB_PASSWORD":  "saga",
		"DB_NAME":      "saga",
		"BUS_BROKERS":  "localhost:9092,localhost:9093",
	}
	for k, v := range env {
		t.Setenv(k, v)
	}
}

func TestLoadSucceedsWithRequiredVars(t *testing.T) {
	setRequiredEnv(t)

	cfg, err := Load()
	require.NoError(t, err)
	require.Equal(t, "disable", cfg.DBSSLMode)
	require.Equal(t, "kafka", cfg.BusKind)
	require.Equal(t, []string{"localhost:9092", "localhost:9093"}, cfg.BusBrokers)
	require.Equal(t, 10*time.Minute, cfg.StepTimeout)
}

func TestLoadFailsWithoutRequiredVars(t *testing.T) {
	_, err := Load()
	require.Error(t, err)
}

func TestLoadRejectsInvalidStepTimeout(t *testing.T) {
	setRequiredEnv(t)
	t.Setenv("STEP_TIMEOUT", "not-a-duration")

	_, err := Load()
	require.Error(t, err)
}
