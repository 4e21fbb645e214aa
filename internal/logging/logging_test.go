package logging

import (
	"bytes"
	"context"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseLevel(t *testing.T) {
	assert.Equal(t, slog.LevelDebug, ParseLevel("DEBUG"))
	assert.Equal(t, slog.LevelWarn, ParseLevel("warning"))
	assert.Equal(t, slog.LevelError, ParseLevel("err"))
	assert.Equal(t, slog.LevelInfo, ParseLevel("bogus"))
}

func TestNewHandler_JSON(t *testing.T) {
	var buf bytes.Buffer
	log := slog.New(NewHandler(&buf, "json", slog.LevelInfo))
	log.Debug("hidden")
	log.Info("shown", "repo", "standard")

	out := buf.String()
	assert.NotContains(t, out, "hidden")
	assert.Contains(t, out, `"repo":"standard"`)
}

func TestMirror(t *testing.T) {
	var buf bytes.Buffer
	var lines []string
	sink := func(_ context.Context, _ time.Time, line string) {
		lines = append(lines, line)
	}
	log := slog.New(Mirror(NewHandler(&buf, "plain", slog.LevelWarn), slog.LevelInfo, sink))

	log.Debug("not mirrored")
	log.With("request", 42).Info("checking", "password", `password="hunter2hunter2"`)
	log.WithGroup("repo").Warn("dirty", "arch", "x86_64")

	require.Len(t, lines, 2)
	assert.Contains(t, lines[0], "INFO checking")
	assert.Contains(t, lines[0], "request=42")
	assert.NotContains(t, lines[0], "hunter2hunter2")
	assert.Equal(t, "WARN dirty repo.arch=x86_64", lines[1])

	// Only the warning reaches the wrapped handler.
	assert.NotContains(t, buf.String(), "checking")
	assert.Contains(t, buf.String(), "dirty")
}
