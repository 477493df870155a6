package logging

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewLogger_WritesFile(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "logs")

	logger, err := NewLogger(Options{Level: "debug", Format: "json", Dir: dir})
	require.NoError(t, err)

	logger.Debug("hello from test")
	_ = logger.Sync()

	data, err := os.ReadFile(filepath.Join(dir, LogFileName))
	require.NoError(t, err)
	assert.True(t, strings.Contains(string(data), "hello from test"))
}

func TestNewLogger_Level(t *testing.T) {
	logger, err := NewLogger(Options{Level: "warn", Format: "console"})
	require.NoError(t, err)
	assert.False(t, logger.Core().Enabled(-1), "debug disabled")
	assert.True(t, logger.Core().Enabled(1), "warn enabled")
}

func TestNewLogger_InvalidOptions(t *testing.T) {
	_, err := NewLogger(Options{Level: "loud"})
	assert.Error(t, err)

	_, err = NewLogger(Options{Format: "xml"})
	assert.Error(t, err)
}
