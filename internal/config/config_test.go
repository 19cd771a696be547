package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"gate-service/internal/gate"
)

func TestLoadGateConfig(t *testing.T) {
	t.Setenv("GATE_FEEDBACK_ENABLED", "true")
	t.Setenv("GATE_FEEDBACK_DOOR_CODE", "open-sesame")
	t.Setenv("GATE_FEEDBACK_TARGET_GROUP", "moderators")
	t.Setenv("GATE_FEEDBACK_RATE_LIMIT_PER_HOUR", "30")
	t.Setenv("GATE_FEEDBACK_MAX_MESSAGE_LENGTH", "5000")

	gc := loadGateConfig("GATE_FEEDBACK")
	require.True(t, gc.Enabled)
	require.Equal(t, "open-sesame", gc.DoorCode)
	require.Equal(t, "moderators", gc.TargetGroup)
	require.Equal(t, 30, gc.RateLimitPerHour)
	require.Equal(t, 5000, gc.MaxMessageLength)
	require.Equal(t, 24, gc.SecretRotationHours)
}

func TestLoadGateConfig_Defaults(t *testing.T) {
	gc := loadGateConfig("GATE_NOSUCH")
	require.False(t, gc.Enabled)
	require.Zero(t, gc.RateLimitPerHour)
	require.Zero(t, gc.MaxMessageLength)
}

func TestGateFor_UnconfiguredKindIsDisabled(t *testing.T) {
	cfg := &Config{Gates: map[string]GateConfig{}}
	gc := cfg.GateFor(gate.KindFeedback)
	require.False(t, gc.Enabled)
	require.Zero(t, gc.RateLimitPerHour)
}

func TestSecretRotation(t *testing.T) {
	require.Equal(t, 6*time.Hour, GateConfig{SecretRotationHours: 6}.SecretRotation())
	require.Equal(t, 24*time.Hour, GateConfig{SecretRotationHours: 0}.SecretRotation())
	require.Equal(t, 24*time.Hour, GateConfig{SecretRotationHours: -1}.SecretRotation())
}

func TestGetEnvHelpers(t *testing.T) {
	t.Setenv("GATE_TEST_INT", "17")
	t.Setenv("GATE_TEST_BAD_INT", "seventeen")
	t.Setenv("GATE_TEST_BOOL", "true")
	t.Setenv("GATE_TEST_DURATION", "90s")

	require.Equal(t, 17, getEnvInt("GATE_TEST_INT", 1))
	require.Equal(t, 1, getEnvInt("GATE_TEST_BAD_INT", 1))
	require.Equal(t, 1, getEnvInt("GATE_TEST_UNSET", 1))
	require.True(t, getEnvBool("GATE_TEST_BOOL", false))
	require.Equal(t, 90*time.Second, getEnvDuration("GATE_TEST_DURATION", time.Second))
	require.Equal(t, time.Second, getEnvDuration("GATE_TEST_UNSET", time.Second))
}

func TestSplitList(t *testing.T) {
	require.Equal(t, []string{"a:9092", "b:9092"}, splitList("a:9092, b:9092"))
	require.Equal(t, []string{"a:9092"}, splitList("a:9092"))
	require.Empty(t, splitList(" , "))
}
