package logging

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newFileLogger(t *testing.T, cfg *Config) (*Logger, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.log")
	if cfg == nil {
		cfg = DefaultConfig()
	}
	cfg.Output = "file"
	cfg.FilePath = path
	l, err := New(cfg)
	require.NoError(t, err)
	t.Cleanup(func() { l.Close() })
	return l, path
}

func readLog(t *testing.T, path string) string {
	t.Helper()
	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	return string(raw)
}

func TestRedactsSensitiveKeys(t *testing.T) {
	l, path := newFileLogger(t, nil)

	l.Info("check prepared",
		"identity_key", "aabbcc",
		"profile_key", "ddeeff",
		"account", "fine")
	require.NoError(t, l.Close())

	out := readLog(t, path)
	assert.NotContains(t, out, "aabbcc")
	assert.NotContains(t, out, "ddeeff")
	assert.Contains(t, out, "[REDACTED]")
	assert.Contains(t, out, "fine")
}

func TestJSONFormat(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Format = FormatJSON
	cfg.Component = "test-component"
	l, path := newFileLogger(t, cfg)

	l.Info("hello", "k", "v")
	require.NoError(t, l.Close())

	var entry map[string]any
	line := strings.TrimSpace(readLog(t, path))
	require.NoError(t, json.Unmarshal([]byte(line), &entry))
	assert.Equal(t, "hello", entry["msg"])
	assert.Equal(t, "v", entry["k"])
	assert.Equal(t, "test-component", entry["component"])
}

func TestSetLevelSharedWithChildren(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Level = LevelInfo
	l, path := newFileLogger(t, cfg)
	child := l.WithComponent("child")

	child.Debug("hidden")
	l.SetLevel(LevelDebug)
	child.Debug("visible")
	require.NoError(t, l.Close())

	out := readLog(t, path)
	assert.NotContains(t, out, "hidden")
	assert.Contains(t, out, "visible")
}

func TestFileOutputRequiresPath(t *testing.T) {
	_, err := New(&Config{Output: "file"})
	require.Error(t, err)
}

func TestParseLevel(t *testing.T) {
	for in, want := range map[string]Level{
		"debug": LevelDebug, "info": LevelInfo, "warn": LevelWarn,
		"warning": LevelWarn, "error": LevelError, "ERROR": LevelError,
	} {
		got, err := ParseLevel(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got, in)
	}
	_, err := ParseLevel("loud")
	assert.Error(t, err)
}

func TestParseFormat(t *testing.T) {
	got, err := ParseFormat("")
	require.NoError(t, err)
	assert.Equal(t, FormatText, got)

	got, err = ParseFormat("json")
	require.NoError(t, err)
	assert.Equal(t, FormatJSON, got)

	_, err = ParseFormat("xml")
	assert.Error(t, err)
}
