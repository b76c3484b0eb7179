package logging

import (
	"bytes"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewProducesJSONAtRequestedLevel(t *testing.T) {
	log := New(logrus.DebugLevel)
	assert.Equal(t, logrus.DebugLevel, log.GetLevel())
	_, ok := log.Formatter.(*logrus.JSONFormatter)
	assert.True(t, ok)
}

func TestCriticalAttachesJobAndLogFields(t *testing.T) {
	log := New(logrus.InfoLevel)
	var buf bytes.Buffer
	log.SetOutput(&buf)

	Critical(log, "job failed", "/jobs/a.job", "log contents", "slave log contents")

	out := buf.String()
	assert.Contains(t, out, "job failed")
	assert.Contains(t, out, "/jobs/a.job")
	assert.Contains(t, out, "log contents")
	assert.Contains(t, out, "slave log contents")
	require.Contains(t, out, `"alert":true`)
}
