package logger

import (
	"bytes"
	"context"
	"encoding/json"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func decodeLines(t *testing.T, buf *bytes.Buffer) []map[string]any {
	t.Helper()

	var out []map[string]any
	for _, line := range strings.Split(strings.TrimSpace(buf.String()), "\n") {
		if line == "" {
			continue
		}
		var m map[string]any
		require.NoError(t, json.Unmarshal([]byte(line), &m))
		out = append(out, m)
	}
	return out
}

func TestLogger_WritesServiceAndAttributes(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	log := New(&buf, LevelInfo, "leakwalk", func(context.Context) string { return "trace-1" })

	log.With("component", "walker").Info(context.Background(), "resolved", "commits", 3)
	log.Debug(context.Background(), "dropped")

	lines := decodeLines(t, &buf)
	require.Len(t, lines, 1)
	assert.Equal(t, "leakwalk", lines[0]["service"])
	assert.Equal(t, "walker", lines[0]["component"])
	assert.Equal(t, "resolved", lines[0]["msg"])
	assert.Equal(t, float64(3), lines[0]["commits"])
	assert.Equal(t, "trace-1", lines[0]["trace_id"])
	assert.Contains(t, lines[0]["file"], "logger_test.go")
}

func TestLogger_Events(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	var got []Record
	events := Events{Error: func(_ context.Context, r Record) { got = append(got, r) }}
	log := NewWithMetadata(&buf, LevelDebug, "leakwalk", nil, events, map[string]string{"hostname": "ci-1"})

	log.Warn(context.Background(), "skipped file")
	log.Error(context.Background(), "resolution failed", "ref", "deadbeef")

	require.Len(t, got, 1)
	assert.Equal(t, "resolution failed", got[0].Message)
	assert.Equal(t, "deadbeef", got[0].Attributes["ref"])

	lines := decodeLines(t, &buf)
	require.Len(t, lines, 2)
	assert.Equal(t, "ci-1", lines[1]["hostname"])
}

func TestLoggerContext_Add(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	lc := NewLoggerContext(New(&buf, LevelInfo, "leakwalk", nil))
	lc.Add("target", "repo-a")
	lc.Info(context.Background(), "scan started")
	lc.Add("commits", 2)
	lc.Info(context.Background(), "scan finished")

	lines := decodeLines(t, &buf)
	require.Len(t, lines, 2)
	assert.Equal(t, "repo-a", lines[0]["target"])
	assert.NotContains(t, lines[0], "commits")
	assert.Equal(t, float64(2), lines[1]["commits"])
}

func TestNoop(t *testing.T) {
	t.Parallel()

	log := Noop()
	assert.False(t, log.Enabled(context.Background(), LevelError))
	assert.NotPanics(t, func() {
		log.With("k", "v").Error(context.Background(), "ignored")
		NewLoggerContext(log).Info(context.Background(), "ignored")
	})
}

func TestParseLevel(t *testing.T) {
	t.Parallel()

	assert.Equal(t, LevelDebug, ParseLevel("debug"))
	assert.Equal(t, LevelWarn, ParseLevel("warn"))
	assert.Equal(t, LevelError, ParseLevel("error"))
	assert.Equal(t, LevelInfo, ParseLevel("bogus"))
}
