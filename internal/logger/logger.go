// Package logger provides the agent-wide zap logger.
//
// Components obtain a named logger via For("component"); the global logger
// is initialized once, either explicitly from config via Init or lazily with
// defaults on first use.
package logger

import (
	"os"
	"strings"
	"sync"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

const (
	FormatConsole = "CONSOLE"
	FormatJSON    = "JSON"
)

var (
	once   sync.Once
	global *zap.Logger
)

func parseLevel(level string) zapcore.Level {
	switch strings.ToUpper(level) {
	case "DEBUG":
		return zapcore.DebugLevel
	case "INFO":
		return zapcore.InfoLevel
	case "WARN":
		return zapcore.WarnLevel
	case "ERROR":
		return zapcore.ErrorLevel
	default:
		return zapcore.InfoLevel
	}
}

// New builds a logger with the given level and format, independent of the
// global one. Tests use it to capture output.
func New(level, format string) *zap.Logger {
	encoderConfig := zapcore.EncoderConfig{
		TimeKey:        "time",
		LevelKey:       "level",
		NameKey:        "component",
		MessageKey:     "msg",
		StacktraceKey:  "stacktrace",
		LineEnding:     zapcore.DefaultLineEnding,
		EncodeTime:     zapcore.ISO8601TimeEncoder,
		EncodeDuration: zapcore.StringDurationEncoder,
		EncodeLevel:    zapcore.CapitalLevelEncoder,
	}

	var encoder zapcore.Encoder
	if strings.ToUpper(format) == FormatJSON {
		encoder = zapcore.NewJSONEncoder(encoderConfig)
	} else {
		encoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
		encoderConfig.ConsoleSeparator = " | "
		encoder = zapcore.NewConsoleEncoder(encoderConfig)
	}

	core := zapcore.NewCore(encoder, zapcore.Lock(os.Stderr), parseLevel(level))
	return zap.New(core)
}

// Init installs the global logger. Only the first call wins.
func Init(level, format string) {
	once.Do(func() {
		global = New(level, format)
	})
}

// For returns a named sugared logger for a component.
func For(component string) *zap.SugaredLogger {
	Init("INFO", FormatConsole)
	return global.Named(component).Sugar()
}

// Sync flushes buffered log entries. Called on shutdown.
func Sync() {
	if global != nil {
		_ = global.Sync()
	}
}
