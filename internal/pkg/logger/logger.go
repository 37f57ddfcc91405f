package logger

import (
	"os"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/qs3c/style_go_server/config"
)

// Setup 按配置初始化全局 logrus
func Setup(cfg config.LogConfig) {
	logrus.SetOutput(os.Stdout)

	level, err := logrus.ParseLevel(cfg.Level)
	if err != nil {
		level = logrus.InfoLevel
	}
	logrus.SetLevel(level)

	if strings.EqualFold(cfg.Format, "json") {
		logrus.SetFormatter(&logrus.JSONFormatter{})
	} else {
		logrus.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	}
}
