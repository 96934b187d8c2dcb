// File: internal/observability/logger_test.go
package observability

import (
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/sbrtools/gcbot/internal/config"
)

func initTestLogger(t *testing.T, cfg config.LoggerConfig) *bytes.Buffer {
	t.Helper()
	ResetForTest()
	t.Cleanup(ResetForTest)
	var buf bytes.Buffer
	Initialize(cfg, zapcore.AddSync(&buf))
	return &buf
}

func TestInitializeJSONOutput(t *testing.T) {
	buf := initTestLogger(t, config.LoggerConfig{
		Level:       "debug",
		Format:      "json",
		ServiceName: "gcbot-test",
	})

	GetLogger().Info("engine started", zap.String("idsbr", "1234567"))

	out := buf.String()
	assert.Contains(t, out, `"msg":"engine started"`)
	assert.Contains(t, out, `"idsbr":"1234567"`)
	assert.Contains(t, out, "gcbot-test")
}

func TestInitializeLevelFiltering(t *testing.T) {
	buf := initTestLogger(t, config.LoggerConfig{
		Level:       "warn",
		Format:      "json",
		ServiceName: "gcbot-test",
	})

	GetLogger().Info("too quiet")
	GetLogger().Warn("loud enough")

	out := buf.String()
	assert.NotContains(t, out, "too quiet")
	assert.Contains(t, out, "loud enough")
}

func TestInitializeIsOnce(t *testing.T) {
	buf := initTestLogger(t, config.LoggerConfig{Level: "info", Format: "json", ServiceName: "first"})

	var second bytes.Buffer
	Initialize(config.LoggerConfig{Level: "info", Format: "json", ServiceName: "second"}, zapcore.AddSync(&second))

	GetLogger().Info("routed")
	assert.Contains(t, buf.String(), "routed")
	assert.Empty(t, second.String(), "second Initialize must be a no-op")
}

func TestInvalidLevelFallsBackToInfo(t *testing.T) {
	buf := initTestLogger(t, config.LoggerConfig{Level: "chatty", Format: "json", ServiceName: "gcbot-test"})

	GetLogger().Debug("below fallback level")
	GetLogger().Info("at fallback level")

	assert.NotContains(t, buf.String(), "below fallback level")
	assert.Contains(t, buf.String(), "at fallback level")
}

func TestGetLoggerBeforeInitialize(t *testing.T) {
	ResetForTest()
	t.Cleanup(ResetForTest)

	logger := GetLogger()
	require.NotNil(t, logger)
	assert.True(t, strings.Contains(logger.Name(), "fallback") || logger.Name() == "",
		"uninitialized access returns the fallback logger")
}
