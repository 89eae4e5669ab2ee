package logging

import (
	"bytes"
	"testing"

	"github.com/charmbracelet/log"
	"github.com/stretchr/testify/assert"
)

func TestLevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	logger := New(&buf, "warn")

	logger.Info("hidden")
	logger.Warn("shown")

	assert.NotContains(t, buf.String(), "hidden")
	assert.Contains(t, buf.String(), "shown")
}

func TestUnknownLevelFallsBack(t *testing.T) {
	var buf bytes.Buffer
	logger := New(&buf, "loud")
	assert.Equal(t, log.InfoLevel, logger.GetLevel())
	assert.Contains(t, buf.String(), "unknown log level")
}

func TestClusterPrefix(t *testing.T) {
	var buf bytes.Buffer
	logger := ForCluster(New(&buf, "info"), 2)
	logger.Info("ready")
	assert.Contains(t, buf.String(), "Cluster #2")
}
