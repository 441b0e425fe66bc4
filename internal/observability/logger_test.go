// internal/observability/logger_test.go
package observability

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xkilldash9x/rtsm-probe/internal/config"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// syncBuffer lets a bytes.Buffer act as a WriteSyncer.
type syncBuffer struct {
	bytes.Buffer
}

func (s *syncBuffer) Sync() error { return nil }

func TestInitialize(t *testing.T) {
	t.Run("console output is colorized", func(t *testing.T) {
		ResetForTest()
		t.Cleanup(ResetForTest)
		buf := &syncBuffer{}

		Initialize(config.LoggerConfig{
			Level:       "debug",
			Format:      "console",
			ServiceName: "ConsoleTest",
			Colors:      config.ColorConfig{Info: "green"},
		}, buf)
		GetLogger().Info("popup dismissed")
		Sync()

		out := buf.String()
		assert.Contains(t, out, "INFO")
		assert.Contains(t, out, "popup dismissed")
		assert.Contains(t, out, colorMap["green"])
		assert.Contains(t, out, colorReset)
		assert.Contains(t, out, "ConsoleTest.")
	})

	t.Run("json output", func(t *testing.T) {
		ResetForTest()
		t.Cleanup(ResetForTest)
		buf := &syncBuffer{}

		Initialize(config.LoggerConfig{Level: "info", Format: "json", ServiceName: "JSONTest"}, buf)
		GetLogger().Warn("readiness timed out", zap.String("scenario", "study-list"))
		Sync()

		var entry map[string]interface{}
		require.NoError(t, json.Unmarshal(buf.Bytes(), &entry), "log output should be valid JSON")
		assert.Equal(t, "WARN", entry["level"])
		assert.Equal(t, "JSONTest", entry["logger"])
		assert.Equal(t, "readiness timed out", entry["msg"])
		assert.Equal(t, "study-list", entry["scenario"])
	})

	t.Run("level filtering", func(t *testing.T) {
		ResetForTest()
		t.Cleanup(ResetForTest)
		buf := &syncBuffer{}

		Initialize(config.LoggerConfig{Level: "warn", Format: "json"}, buf)
		GetLogger().Info("hidden")
		Sync()
		assert.Empty(t, buf.String())
	})

	t.Run("log file receives entries", func(t *testing.T) {
		ResetForTest()
		t.Cleanup(ResetForTest)
		path := filepath.Join(t.TempDir(), "probe.log")

		Initialize(config.LoggerConfig{Level: "debug", Format: "json", LogFile: path, MaxSize: 1}, zapcore.AddSync(&syncBuffer{}))
		GetLogger().Error("written to file")
		Sync()

		content, err := os.ReadFile(path)
		require.NoError(t, err)
		assert.Contains(t, string(content), "written to file")
	})

	t.Run("only the first call takes effect", func(t *testing.T) {
		ResetForTest()
		t.Cleanup(ResetForTest)
		buf := &syncBuffer{}

		Initialize(config.LoggerConfig{Level: "info", Format: "json", ServiceName: "First"}, buf)
		first := GetLogger()
		Initialize(config.LoggerConfig{Level: "debug", Format: "json", ServiceName: "Second"}, buf)
		second := GetLogger()

		assert.Same(t, first, second)
		second.Info("test")
		Sync()
		assert.Contains(t, buf.String(), "First")
		assert.NotContains(t, buf.String(), "Second")
	})
}

func TestGetLogger(t *testing.T) {
	t.Run("fallback before initialization", func(t *testing.T) {
		ResetForTest()
		assert.NotNil(t, GetLogger())
	})

	t.Run("global after initialization", func(t *testing.T) {
		ResetForTest()
		t.Cleanup(ResetForTest)
		Initialize(config.LoggerConfig{Level: "info"}, &syncBuffer{})
		assert.Same(t, globalLogger.Load(), GetLogger())
	})
}
