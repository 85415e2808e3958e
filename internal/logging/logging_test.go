package logging

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestParseLevel(t *testing.T) {
	assert.Equal(t, zap.DebugLevel, ParseLevel("trace"))
	assert.Equal(t, zap.DebugLevel, ParseLevel("debug"))
	assert.Equal(t, zap.WarnLevel, ParseLevel("warn"))
	assert.Equal(t, zap.ErrorLevel, ParseLevel("error"))
	assert.Equal(t, zap.InfoLevel, ParseLevel("verbose"))
}

func TestConsoleLevelFilter(t *testing.T) {
	var buf bytes.Buffer
	cfg := DefaultConfig()
	cfg.Level = LevelWarn
	cfg.NoColor = true
	cfg.Stderr = &buf

	log, err := New(cfg)
	require.NoError(t, err)
	log.Info("hidden")
	log.Warn("shown", zap.String("host", "h1"))
	_ = log.Sync()

	out := buf.String()
	assert.NotContains(t, out, "hidden")
	assert.Contains(t, out, "WARN")
	assert.Contains(t, out, `"host": "h1"`)
}

func TestFileCore(t *testing.T) {
	dir := t.TempDir()
	cfg := DefaultConfig()
	cfg.Console = false
	cfg.File = true
	cfg.Dir = filepath.Join(dir, "nested")
	cfg.JSON = true

	log, err := New(cfg)
	require.NoError(t, err)
	log.Info("to file")
	_ = log.Sync()

	data, err := os.ReadFile(filepath.Join(cfg.Dir, cfg.Filename))
	require.NoError(t, err)
	assert.True(t, strings.Contains(string(data), `"msg":"to file"`))
}

func TestNoOutputsIsNop(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Console = false
	log, err := New(cfg)
	require.NoError(t, err)
	log.Error("dropped")
}
