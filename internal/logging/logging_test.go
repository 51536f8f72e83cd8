package logging

import (
	"bytes"
	"encoding/json"
	"os"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func restore(t *testing.T) {
	t.Cleanup(func() {
		_, _ = Setup(Config{Output: os.Stderr})
	})
}

func TestSetupJSON(t *testing.T) {
	restore(t)
	var buf bytes.Buffer
	logger, err := Setup(Config{Level: "debug", Format: "json", Output: &buf})
	require.NoError(t, err)
	assert.Equal(t, logrus.DebugLevel, logger.GetLevel())

	logrus.WithField("component", "pipeline").Debug("artifact produced")
	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "artifact produced", entry["msg"])
	assert.Equal(t, "pipeline", entry["component"])
}

func TestSetupDefaults(t *testing.T) {
	restore(t)
	var buf bytes.Buffer
	logger, err := Setup(Config{Output: &buf})
	require.NoError(t, err)
	assert.Equal(t, logrus.InfoLevel, logger.GetLevel())
	logrus.Debug("hidden")
	assert.Empty(t, buf.String())
}

func TestSetupRejectsBadInput(t *testing.T) {
	restore(t)
	_, err := Setup(Config{Level: "loud"})
	assert.Error(t, err)
	_, err = Setup(Config{Format: "xml"})
	assert.Error(t, err)
}
