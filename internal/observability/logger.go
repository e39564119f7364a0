package observability

import (
	"math/rand"
	"os"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// InitLogger builds the default service logger.
func InitLogger() (*zap.Logger, error) {
	return InitLoggerWithLevel(LevelFromEnv(), "modserve")
}

// InitLoggerWithService builds a logger for serviceName at the level taken
// from ENV and LOG_LEVEL, and installs it as the global logger.
func InitLoggerWithService(serviceName string) (*zap.Logger, error) {
	return InitLoggerWithLevel(LevelFromEnv(), serviceName)
}

// InitLoggerWithLevel builds a JSON logger writing to stdout and installs it
// as the global logger.
func InitLoggerWithLevel(level zapcore.Level, serviceName string) (*zap.Logger, error) {
	logger, err := buildLogger(level, serviceName, "stdout")
	if err != nil {
		return nil, err
	}
	zap.ReplaceGlobals(logger)
	return logger, nil
}

// InitStderrLogger builds a logger that never writes to stdout, for
// processes whose stdout carries a protocol. It is not installed globally.
func InitStderrLogger(serviceName string) (*zap.Logger, error) {
	return buildLogger(LevelFromEnv(), serviceName, "stderr")
}

func buildLogger(level zapcore.Level, serviceName, output string) (*zap.Logger, error) {
	cfg := zap.NewProductionConfig()
	cfg.Level = zap.NewAtomicLevelAt(level)
	cfg.OutputPaths = []string{output}
	cfg.ErrorOutputPaths = []string{"stderr"}

	// field names expected by the log shipper
	cfg.EncoderConfig.TimeKey = "ts"
	cfg.EncoderConfig.LevelKey = "level"
	cfg.EncoderConfig.NameKey = "logger"
	cfg.EncoderConfig.CallerKey = "caller"
	cfg.EncoderConfig.MessageKey = "msg"
	cfg.EncoderConfig.StacktraceKey = "stacktrace"

	logger, err := cfg.Build()
	if err != nil {
		return nil, err
	}
	return logger.Named(serviceName).With(zap.String("service", serviceName)), nil
}

// LevelFromEnv returns LOG_LEVEL when it parses, otherwise debug for
// development environments and info everywhere else.
func LevelFromEnv() zapcore.Level {
	if raw := os.Getenv("LOG_LEVEL"); raw != "" {
		if lvl, err := zapcore.ParseLevel(strings.ToLower(raw)); err == nil {
			return lvl
		}
	}
	if isDev(os.Getenv("ENV")) {
		return zapcore.DebugLevel
	}
	return zapcore.InfoLevel
}

func isDev(env string) bool {
	switch strings.ToLower(env) {
	case "development", "dev", "local":
		return true
	}
	return false
}

// ShouldSample reports whether a high-volume log line should be emitted at
// the given rate (0.0 to 1.0).
func ShouldSample(rate float64) bool {
	if rate >= 1.0 {
		return true
	}
	if rate <= 0.0 {
		return false
	}
	return rand.Float64() < rate
}

// GetSamplingRate returns the share of allow decisions that are logged.
// Non-allow decisions are always logged.
func GetSamplingRate() float64 {
	env := strings.ToLower(os.Getenv("ENV"))
	switch {
	case isDev(env):
		return 1.0
	case env == "staging" || env == "test":
		return 0.5
	default:
		return 0.1
	}
}
