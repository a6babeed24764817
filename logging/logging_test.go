package logging

import (
	"bytes"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
)

func TestParseLevel(t *testing.T) {
	assert.Equal(t, logrus.DebugLevel, ParseLevel("debug"))
	assert.Equal(t, logrus.WarnLevel, ParseLevel(" WARN "))
	assert.Equal(t, DefaultLevel, ParseLevel(""))
	assert.Equal(t, DefaultLevel, ParseLevel("chatty"))
}

func TestNewWithOutput_WritesFields(t *testing.T) {
	var buf bytes.Buffer
	log := NewWithOutput("info", &buf)

	log.WithField("remote", "127.0.0.1:5000").Info("accepted")
	log.Debug("hidden")

	out := buf.String()
	assert.Contains(t, out, "msg=accepted")
	assert.Contains(t, out, "remote=\"127.0.0.1:5000\"")
	assert.NotContains(t, out, "hidden")
}
