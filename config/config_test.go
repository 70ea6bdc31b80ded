package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestLoadConfigDefaults(t *testing.T) {
	t.Setenv("SEQUENCE_SEND_HOUR", "")
	t.Setenv("DB_DRIVER", "")
	LoadConfig()

	assert.Equal(t, "postgres", AppConfig.DBDriver)
	assert.Equal(t, time.Hour, AppConfig.SequenceInitialDelay)
	assert.Equal(t, 9, AppConfig.SequenceSendHour)
	assert.Equal(t, "@every 5m", AppConfig.SequenceCron)
	assert.Equal(t, "fixed", AppConfig.DfyAssignmentPolicy)
	assert.Equal(t, 1, AppConfig.BundleConcurrency)
	assert.False(t, AppConfig.DedupeNotifications)
}

func TestLoadConfigOverrides(t *testing.T) {
	t.Setenv("DB_DRIVER", "SQLite")
	t.Setenv("APP_BASE_URL", "https://academy.example/")
	t.Setenv("SEQUENCE_INITIAL_DELAY", "30m")
	t.Setenv("SEQUENCE_SEND_HOUR", "25")
	t.Setenv("DFY_ASSIGNMENT_POLICY", "Round_Robin")
	t.Setenv("BUNDLE_CONCURRENCY", "4")
	t.Setenv("DEDUPE_NOTIFICATIONS", "true")
	LoadConfig()

	assert.Equal(t, "sqlite", AppConfig.DBDriver)
	assert.Equal(t, "https://academy.example", AppConfig.AppBaseURL)
	assert.Equal(t, 30*time.Minute, AppConfig.SequenceInitialDelay)
	assert.Equal(t, 9, AppConfig.SequenceSendHour)
	assert.Equal(t, "round_robin", AppConfig.DfyAssignmentPolicy)
	assert.Equal(t, 4, AppConfig.BundleConcurrency)
	assert.True(t, AppConfig.DedupeNotifications)
}

func TestEnvHelpersFallBack(t *testing.T) {
	t.Setenv("X_INT", "many")
	t.Setenv("X_BOOL", "maybe")
	t.Setenv("X_DURATION", "-5s")

	assert.Equal(t, 3, getEnvInt("X_INT", 3))
	assert.True(t, getEnvBool("X_BOOL", true))
	assert.Equal(t, time.Second, getEnvDuration("X_DURATION", time.Second))
	assert.Equal(t, "fallback", getEnv("X_MISSING", "fallback"))
}
