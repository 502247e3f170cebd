package logging_test

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/jihwankim/tiermemctl/pkg/logging"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoggerJSONFields(t *testing.T) {
	var buf bytes.Buffer
	logger := logging.NewLogger(logging.LoggerConfig{
		Level:  logging.LogLevelDebug,
		Format: logging.LogFormatJSON,
		Output: &buf,
	})

	logger.Info("migration batch submitted", "pid", 1234, "pages", 42)

	var line map[string]interface{}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
	assert.Equal(t, "migration batch submitted", line["message"])
	assert.EqualValues(t, 1234, line["pid"])
	assert.EqualValues(t, 42, line["pages"])
}

func TestLoggerOddFieldsMarksError(t *testing.T) {
	var buf bytes.Buffer
	logger := logging.NewLogger(logging.LoggerConfig{
		Format: logging.LogFormatJSON,
		Output: &buf,
	})

	logger.Info("bad call", "pid")

	var line map[string]interface{}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
	assert.Equal(t, "odd number of fields", line["error"])
}

func TestComponentTagsSubLogger(t *testing.T) {
	var buf bytes.Buffer
	logger := logging.NewLogger(logging.LoggerConfig{
		Format: logging.LogFormatJSON,
		Output: &buf,
	})

	logger.Component("placement").Warn("skipping tick")

	var line map[string]interface{}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
	assert.Equal(t, "placement", line["component"])
}
