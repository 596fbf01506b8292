package main

import (
	"io"
	"os"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"github.com/tiiuae/motionplanning/internal/config"
	"gopkg.in/natefinch/lumberjack.v2"
)

// setupLogging configures the standard logrus logger. When a log file is
// configured, output is also written to it with rotation; the returned closer
// is nil otherwise.
func setupLogging(c config.LogConfig) (io.Closer, error) {
	level, err := logrus.ParseLevel(c.Level)
	if err != nil {
		return nil, errors.Wrap(err, "log level")
	}
	logrus.SetLevel(level)

	if c.JSON {
		logrus.SetFormatter(&logrus.JSONFormatter{})
	} else {
		logrus.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	}

	if c.File == "" {
		logrus.SetOutput(os.Stdout)
		return nil, nil
	}

	w := &lumberjack.Logger{
		Filename:   c.File,
		MaxSize:    c.MaxSizeMB, // MB
		MaxBackups: c.MaxBackups,
	}
	logrus.SetOutput(io.MultiWriter(os.Stdout, w))
	return w, nil
}
