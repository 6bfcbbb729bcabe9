package logging

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func TestLogger_JSONOutput(t *testing.T) {
	var buf bytes.Buffer
	logger := newLogger(LevelInfo, FormatJSON, &buf)

	logger.WithFields(map[string]interface{}{
		"userId":   "user-1",
		"currency": "EUR",
	}).Info("exposure computed")

	var entry map[string]interface{}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "info", entry["level"])
	assert.Equal(t, "exposure computed", entry["message"])
	assert.Equal(t, "user-1", entry["userId"])
	assert.Equal(t, "EUR", entry["currency"])
	assert.Contains(t, entry, "timestamp")
}

func TestLogger_LevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	logger := newLogger(LevelWarn, FormatJSON, &buf)

	logger.Info("dropped")
	assert.Zero(t, buf.Len())

	logger.Warn("kept")
	assert.Contains(t, buf.String(), "kept")

	buf.Reset()
	logger.SetLevel(LevelDebug)
	logger.WithField("k", "v").Debug("now visible")
	assert.Contains(t, buf.String(), "now visible")
}

func TestLogger_WithErrorAddsField(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	logger := NewFromZap(zap.New(core))

	logger.WithError(errors.New("rate lookup failed")).Warn("account skipped")

	require.Equal(t, 1, logs.Len())
	entry := logs.All()[0]
	assert.Equal(t, "account skipped", entry.Message)
	assert.Equal(t, "rate lookup failed", entry.ContextMap()["error"])
}

func TestLogger_WithErrorNil(t *testing.T) {
	logger := NewLogger(LevelInfo, FormatJSON)
	assert.Same(t, logger, logger.WithError(nil))
}

func TestFromContext(t *testing.T) {
	core, logs := observer.New(zapcore.InfoLevel)
	logger := NewFromZap(zap.New(core))

	ctx := WithLogger(context.Background(), logger)
	FromContext(ctx).Info("from context")
	assert.Equal(t, 1, logs.Len())

	assert.NotNil(t, FromContext(context.Background()))
}

func TestParseLogLevel(t *testing.T) {
	assert.Equal(t, LevelDebug, ParseLogLevel("debug"))
	assert.Equal(t, LevelWarn, ParseLogLevel("warning"))
	assert.Equal(t, LevelInfo, ParseLogLevel("bogus"))
	assert.Equal(t, FormatText, ParseLogFormat("text"))
	assert.Equal(t, FormatJSON, ParseLogFormat("xml"))
}
