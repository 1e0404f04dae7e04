package logger

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewWritesJSONOutsideDevelopment(t *testing.T) {
	var buf bytes.Buffer
	log := newWithWriter("production", "debug", &buf)

	log.Info().Str("conversation_id", "7").Msg("hello")

	var line map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
	assert.Equal(t, "hello", line["message"])
	assert.Equal(t, "staff-chat", line["service"])
	assert.Equal(t, "7", line["conversation_id"])
}

func TestNewFallsBackToInfoOnBadLevel(t *testing.T) {
	var buf bytes.Buffer
	log := newWithWriter("production", "nonsense", &buf)

	log.Debug().Msg("hidden")
	assert.Empty(t, buf.String())

	log.Info().Msg("shown")
	assert.NotEmpty(t, buf.String())
}

func TestBootstrapWritesJSON(t *testing.T) {
	var buf bytes.Buffer
	log := bootstrapWithWriter(&buf)

	log.Error().Str("key", "DB_DSN").Msg("load config")

	var line map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
	assert.Equal(t, "error", line["level"])
	assert.Equal(t, "load config", line["message"])
	assert.Equal(t, "staff-chat", line["service"])
}
