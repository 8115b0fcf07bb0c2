package logger

import (
	"bytes"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseLevel(t *testing.T) {
	cases := map[string]slog.Level{
		"debug":   slog.LevelDebug,
		"INFO":    slog.LevelInfo,
		" warn ":  slog.LevelWarn,
		"warning": slog.LevelWarn,
		"error":   slog.LevelError,
		"verbose": slog.LevelInfo,
	}
	for in, want := range cases {
		assert.Equal(t, want, ParseLevel(in), in)
	}
}

func TestNewHandler(t *testing.T) {
	t.Run("jsonがデフォルト", func(t *testing.T) {
		var buf bytes.Buffer
		slog.New(newHandler(Config{Level: slog.LevelInfo}, &buf)).Info("ジョブを開始", "jobID", "job_a")
		assert.Contains(t, buf.String(), `"jobID":"job_a"`)
	})

	t.Run("レベル未満は出力しない", func(t *testing.T) {
		var buf bytes.Buffer
		slog.New(newHandler(Config{Level: slog.LevelWarn, Format: "text"}, &buf)).Info("ignored")
		assert.Empty(t, buf.String())
	})
}

func TestNew_WritesFile(t *testing.T) {
	prev := slog.Default()
	t.Cleanup(func() { slog.SetDefault(prev) })

	path := filepath.Join(t.TempDir(), "teardown.log")
	logger := New(Config{Level: slog.LevelInfo, Format: "json", File: path, MaxSizeMB: 1})
	logger.Info("ファイル出力", "collector", "website")

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"collector":"website"`)
	assert.Same(t, logger, slog.Default())
}
