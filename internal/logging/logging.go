// Package logging builds the process logger.
package logging

import (
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// New returns a zap logger writing to stderr. json selects the JSON encoder over the
// console one; debug lowers the level to debug.
func New(json bool, debug bool) (*zap.Logger, error) {
	level := zapcore.InfoLevel
	encoding := "console"

	if json {
		encoding = "json"
	}
	if debug {
		level = zapcore.DebugLevel
	}

	cfg := zap.Config{
		Encoding:         encoding,
		Level:            zap.NewAtomicLevelAt(level),
		OutputPaths:      []string{"stderr"},
		ErrorOutputPaths: []string{"stderr"},
		EncoderConfig: zapcore.EncoderConfig{
			MessageKey: "msg",

			LevelKey:    "level",
			EncodeLevel: zapcore.LowercaseLevelEncoder,

			TimeKey:    "time",
			EncodeTime: zapcore.RFC3339TimeEncoder,

			NameKey:    "logger",
			EncodeName: zapcore.FullNameEncoder,

			CallerKey:    "caller",
			EncodeCaller: zapcore.ShortCallerEncoder,

			EncodeDuration: zapcore.StringDurationEncoder,
		},
	}
	return cfg.Build()
}

// Must is New for command entry points, falling back to a no-op logger on error.
func Must(json bool, debug bool) *zap.Logger {
	logger, err := New(json, debug)
	if err != nil {
		return zap.NewNop()
	}
	return logger
}
