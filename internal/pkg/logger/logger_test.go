package logger

import (
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"

	"github.com/qs3c/style_go_server/config"
)

func TestSetup(t *testing.T) {
	defer logrus.SetLevel(logrus.InfoLevel)

	Setup(config.LogConfig{Level: "debug", Format: "json"})
	assert.Equal(t, logrus.DebugLevel, logrus.GetLevel())
	_, ok := logrus.StandardLogger().Formatter.(*logrus.JSONFormatter)
	assert.True(t, ok)

	Setup(config.LogConfig{Level: "nonsense", Format: "text"})
	assert.Equal(t, logrus.InfoLevel, logrus.GetLevel())
	_, ok = logrus.StandardLogger().Formatter.(*logrus.TextFormatter)
	assert.True(t, ok)
}
