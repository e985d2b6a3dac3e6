package utils

import (
	"os"

	"github.com/sirupsen/logrus"
)

// timestampLayout keeps log timestamps aligned with the block timestamps the
// tracker reports on delivered records.
const timestampLayout = "2006-01-02T15:04:05.000Z07:00"

var Logger *logrus.Logger

// InitLogger initializes the global logger used by every tracker component.
// format selects "json" (the default for daemons scraped by log shippers) or
// "text"; output is "stdout" or "file" with a path.
func InitLogger(level, format, output, file string) error {
	Logger = logrus.New()

	logLevel, err := logrus.ParseLevel(level)
	if err != nil {
		return err
	}
	Logger.SetLevel(logLevel)

	switch format {
	case "text":
		Logger.SetFormatter(&logrus.TextFormatter{
			FullTimestamp:   true,
			TimestampFormat: timestampLayout,
		})
	default:
		Logger.SetFormatter(&logrus.JSONFormatter{
			TimestampFormat: timestampLayout,
		})
	}

	if output == "file" && file != "" {
		f, err := os.OpenFile(file, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0666)
		if err != nil {
			return err
		}
		Logger.SetOutput(f)
	} else {
		Logger.SetOutput(os.Stdout)
	}

	return nil
}

// GetLogger returns the global logger, initializing it with defaults when a
// component asks for it before InitLogger runs (tests do this).
func GetLogger() *logrus.Logger {
	if Logger == nil {
		InitLogger("info", "json", "stdout", "")
	}
	return Logger
}
