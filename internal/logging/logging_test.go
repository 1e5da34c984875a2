package logging

import (
	"bytes"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRedactEmail(t *testing.T) {
	assert.Equal(t, "ad***@example.com", RedactEmail("ada@example.com"))
	assert.Equal(t, "***@example.com", RedactEmail("al@example.com"))
	assert.Equal(t, "***@***", RedactEmail("not-an-address"))
}

func TestRedactPhone(t *testing.T) {
	assert.Equal(t, "***001", RedactPhone("+447700900001"))
	assert.Equal(t, "***", RedactPhone("12"))
}

func TestNew_LevelFilters(t *testing.T) {
	var buf bytes.Buffer
	l := New(&buf, Config{Level: "warn"})
	l.Info("hidden")
	l.Warn("shown", "k", "v")
	assert.NotContains(t, buf.String(), "hidden")
	assert.Contains(t, buf.String(), `"msg":"shown"`)
	assert.Equal(t, slog.LevelDebug, ParseLevel("DEBUG"))
}
