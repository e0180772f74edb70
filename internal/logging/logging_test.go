package logging

import (
	"bytes"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
)

func TestNewJSON(t *testing.T) {
	var buf bytes.Buffer
	log := New(&buf, "warn", "json", "nexchat-service")
	assert.Equal(t, zerolog.WarnLevel, log.GetLevel())

	log.Info().Msg("dropped")
	assert.Empty(t, buf.String())

	log.Warn().Msg("kept")
	assert.Contains(t, buf.String(), `"service":"nexchat-service"`)
	assert.Contains(t, buf.String(), `"message":"kept"`)
}

func TestNewUnknownLevel(t *testing.T) {
	log := New(&bytes.Buffer{}, "loud", "console", "svc")
	assert.Equal(t, zerolog.InfoLevel, log.GetLevel())
}
