package logging

import (
	"bytes"
	"context"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestParseLevel(t *testing.T) {
	assert.Equal(t, slog.LevelDebug, ParseLevel("DEBUG"))
	assert.Equal(t, slog.LevelWarn, ParseLevel("warn"))
	assert.Equal(t, LevelCritical, ParseLevel("critical"))
	assert.Equal(t, slog.LevelInfo, ParseLevel(""))
}

func TestNew_JSONRendersCriticalLevel(t *testing.T) {
	var buf bytes.Buffer
	logger := New(&buf, slog.LevelInfo, "json")

	logger.Log(context.Background(), LevelCritical, "ledger unbalanced", "payment_link_id", "pl-1")

	assert.Contains(t, buf.String(), `"level":"CRIT"`)
	assert.Contains(t, buf.String(), `"payment_link_id":"pl-1"`)
}
