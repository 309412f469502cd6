package logging

import (
	"bytes"
	"context"
	"errors"
	"testing"

	color "github.com/odysseia/protect/src/ansicolor"
	"github.com/odysseia/protect/src/oops"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
)

func init() {
	color.Disable()
}

func TestPrettyWriter(t *testing.T) {
	var buf bytes.Buffer
	w := NewPrettyZerologWriter(&buf)
	logger := zerolog.New(w)

	t.Run("single line", func(t *testing.T) {
		buf.Reset()
		logger.Info().Msg("bot connected")
		assert.Equal(t, "INFO: bot connected\n", trimTimestamp(buf.String()))
	})
	t.Run("fields and errors", func(t *testing.T) {
		buf.Reset()
		logger.Error().Err(errors.New("no archive")).Str("thread", "42").Msg("upload failed")
		out := buf.String()
		assert.Contains(t, out, "ERROR: upload failed")
		assert.Contains(t, out, "ERROR: no archive")
		assert.Contains(t, out, `thread: "42"`)
	})
	t.Run("stack trace", func(t *testing.T) {
		buf.Reset()
		logger.Error().Stack().Err(oops.New(nil, "boom")).Msg("failed")
		assert.Contains(t, buf.String(), "Stack trace:")
		assert.Contains(t, buf.String(), "TestPrettyWriter")
	})
	t.Run("not json", func(t *testing.T) {
		buf.Reset()
		_, err := w.Write([]byte("plain text\n"))
		assert.NoError(t, err)
		assert.Equal(t, "plain text\n", buf.String())
	})
}

func TestExtractLogger(t *testing.T) {
	assert.Same(t, GlobalLogger(), ExtractLogger(context.Background()))

	logger := zerolog.Nop()
	ctx := AttachLoggerToContext(&logger, context.Background())
	assert.Same(t, &logger, ExtractLogger(ctx))
}

func trimTimestamp(s string) string {
	// Entries without a timestamp still start with the separating space.
	if len(s) > 0 && s[0] == ' ' {
		return s[1:]
	}
	return s
}
