package logger

import (
	"io"
	"os"
	"strings"

	"github.com/sirupsen/logrus"
	"gopkg.in/natefinch/lumberjack.v2"
)

var log *logrus.Logger

const timestampFormat = "2006-01-02T15:04:05.000Z07:00"

// Init initializes the global logger with the specified log level
// logLevel should be one of: DEBUG, INFO, WARN, ERROR
// If invalid, defaults to INFO
func Init(logLevel string) {
	log = logrus.New()
	log.SetOutput(os.Stdout)
	log.SetFormatter(&logrus.JSONFormatter{
		TimestampFormat: timestampFormat,
	})

	level, err := logrus.ParseLevel(strings.ToLower(logLevel))
	if err != nil {
		level = logrus.InfoLevel
		log.Warnf("Invalid log level '%s', defaulting to INFO", logLevel)
	}
	log.SetLevel(level)

	log.Infof("Logger initialized with level: %s", logLevel)
}

// SetOutput redirects the global logger, mostly useful to silence tests
func SetOutput(w io.Writer) {
	GetLogger().SetOutput(w)
}

// GetLogger returns the global logger instance
func GetLogger() *logrus.Logger {
	if log == nil {
		Init("INFO")
	}
	return log
}

// NewFileLogger returns a standalone JSON logger appending to a size-rotated
// file. Used for the deploy event journal, which must stay machine-readable
// one object per line.
func NewFileLogger(path string) *logrus.Logger {
	l := logrus.New()
	l.SetOutput(&lumberjack.Logger{
		Filename:   path,
		MaxSize:    20, // megabytes
		MaxBackups: 5,
		MaxAge:     30, // days
	})
	l.SetFormatter(&logrus.JSONFormatter{
		TimestampFormat: timestampFormat,
		FieldMap: logrus.FieldMap{
			logrus.FieldKeyTime: "ts",
			logrus.FieldKeyMsg:  "event",
		},
	})
	l.SetLevel(logrus.InfoLevel)
	return l
}

// Debug logs a debug message
func Debug(args ...interface{}) {
	GetLogger().Debug(args...)
}

// Debugf logs a formatted debug message
func Debugf(format string, args ...interface{}) {
	GetLogger().Debugf(format, args...)
}

// Info logs an info message
func Info(args ...interface{}) {
	GetLogger().Info(args...)
}

// Infof logs a formatted info message
func Infof(format string, args ...interface{}) {
	GetLogger().Infof(format, args...)
}

// Warn logs a warning message
func Warn(args ...interface{}) {
	GetLogger().Warn(args...)
}

// Warnf logs a formatted warning message
func Warnf(format string, args ...interface{}) {
	GetLogger().Warnf(format, args...)
}

// Error logs an error message
func Error(args ...interface{}) {
	GetLogger().Error(args...)
}

// Errorf logs a formatted error message
func Errorf(format string, args ...interface{}) {
	GetLogger().Errorf(format, args...)
}

// Fatalf logs a formatted fatal message and exits
func Fatalf(format string, args ...interface{}) {
	GetLogger().Fatalf(format, args...)
}

// WithField returns a logger entry with a single field
func WithField(key string, value interface{}) *logrus.Entry {
	return GetLogger().WithField(key, value)
}

// WithFields returns a logger entry with multiple fields
func WithFields(fields logrus.Fields) *logrus.Entry {
	return GetLogger().WithFields(fields)
}
