// File: internal/observability/logger_test.go
package observability

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/xkilldash9x/veritrail-cli/internal/config"
)

// syncBuffer adapts bytes.Buffer to zapcore.WriteSyncer.
type syncBuffer struct {
	bytes.Buffer
}

func (s *syncBuffer) Sync() error { return nil }

func newTestConfig(format string) config.LoggerConfig {
	return config.LoggerConfig{
		Level:       "debug",
		Format:      format,
		ServiceName: "veritrail-test",
	}
}

func TestInitializeJSONFormat(t *testing.T) {
	ResetForTest()
	t.Cleanup(ResetForTest)

	buf := &syncBuffer{}
	Initialize(newTestConfig("json"), buf)

	GetLogger().Info("hello", zap.String("key", "value"))
	require.NoError(t, GetLogger().Sync())

	line := strings.TrimSpace(buf.String())
	var entry map[string]interface{}
	require.NoError(t, json.Unmarshal([]byte(line), &entry), "JSON format must emit parseable lines")
	assert.Equal(t, "INFO", entry["level"])
	assert.Equal(t, "hello", entry["msg"])
	assert.Equal(t, "value", entry["key"])
	assert.Equal(t, "veritrail-test", entry["logger"])
}

func TestInitializeConsoleFormat(t *testing.T) {
	ResetForTest()
	t.Cleanup(ResetForTest)

	buf := &syncBuffer{}
	Initialize(newTestConfig("console"), buf)

	GetLogger().Named("bridge").Warn("something happened")
	out := buf.String()
	assert.Contains(t, out, "WARN")
	assert.Contains(t, out, "veritrail-test.bridge.")
	assert.Contains(t, out, "something happened")
}

func TestInitializeOnlyOnce(t *testing.T) {
	ResetForTest()
	t.Cleanup(ResetForTest)

	first := &syncBuffer{}
	second := &syncBuffer{}
	Initialize(newTestConfig("json"), first)
	Initialize(newTestConfig("json"), second)

	GetLogger().Info("once")
	assert.NotEmpty(t, first.String(), "first initialization wins")
	assert.Empty(t, second.String(), "second initialization must be a no-op")
}

func TestGetLoggerFallback(t *testing.T) {
	ResetForTest()
	t.Cleanup(ResetForTest)

	logger := GetLogger()
	require.NotNil(t, logger)
	// The fallback must be usable without panicking.
	logger.Debug("fallback logger in use")
}

func TestInvalidLevelDefaultsToInfo(t *testing.T) {
	ResetForTest()
	t.Cleanup(ResetForTest)

	buf := &syncBuffer{}
	cfg := newTestConfig("json")
	cfg.Level = "not-a-level"
	Initialize(cfg, buf)

	GetLogger().Debug("should be suppressed")
	GetLogger().Info("should appear")

	out := buf.String()
	assert.NotContains(t, out, "should be suppressed")
	assert.Contains(t, out, "should appear")
}
