// Package logging builds the zap.Logger every component of this
// module logs through: JSON in production, console in development,
// level driven by an environment variable rather than a flag so it
// can be changed without touching the config file.
package logging

import (
	"os"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// EnvLevel is the environment variable New consults for the log
// level; unset or unrecognized values mean info.
const EnvLevel = "MUCHSYNC_LOG_LEVEL"

// New builds a logger. development switches the encoder to a
// human-readable console format and enables caller/stacktrace
// annotations on warnings and above; it is true for the `test` CLI
// subcommand and false for `serve`/`pipe`.
func New(development bool) (*zap.Logger, error) {
	level := levelFromEnv()

	var cfg zap.Config
	if development {
		cfg = zap.NewDevelopmentConfig()
	} else {
		cfg = zap.NewProductionConfig()
	}
	cfg.Level = zap.NewAtomicLevelAt(level)
	cfg.EncoderConfig.TimeKey = "ts"
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder

	return cfg.Build()
}

func levelFromEnv() zapcore.Level {
	raw := strings.ToLower(strings.TrimSpace(os.Getenv(EnvLevel)))
	switch raw {
	case "debug":
		return zapcore.DebugLevel
	case "warn", "warning":
		return zapcore.WarnLevel
	case "error":
		return zapcore.ErrorLevel
	case "":
		return zapcore.InfoLevel
	default:
		return zapcore.InfoLevel
	}
}
