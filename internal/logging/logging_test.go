package logging_test

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"

	"github.com/dshills/coachgraph/internal/logging"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestJSONOutputKeys(t *testing.T) {
	var buf bytes.Buffer
	logger, err := logging.NewWriter(&buf, "info", logging.FormatJSON)
	require.NoError(t, err)

	logger.Info("stage failed", zap.String("node_id", "mood_check"))

	var entry map[string]interface{}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "stage failed", entry["message"])
	assert.Equal(t, "INFO", entry["lvl"])
	assert.Equal(t, "mood_check", entry["node_id"])
	assert.Contains(t, entry, "ts")
	assert.Contains(t, entry, "caller")
}

func TestSetLevel(t *testing.T) {
	var buf bytes.Buffer
	logger, err := logging.NewWriter(&buf, "warn", logging.FormatConsole)
	require.NoError(t, err)

	child := logger.With(zap.String("thread_id", "t1"))
	child.Info("hidden")
	assert.Empty(t, buf.String())

	require.NoError(t, logger.SetLevel("debug"))
	child.Debug("shown")
	assert.True(t, strings.Contains(buf.String(), "shown"))
	assert.Equal(t, "debug", logger.Level())

	assert.Error(t, logger.SetLevel("loud"))
}

func TestNewRejectsUnknownOptions(t *testing.T) {
	_, err := logging.New("verbose", "")
	assert.Error(t, err)
	_, err = logging.New("info", "xml")
	assert.Error(t, err)
}
