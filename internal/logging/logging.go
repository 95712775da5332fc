// Package logging wraps a process-wide zap SugaredLogger.
package logging

import (
	"os"
	"path/filepath"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

var sugar = zap.NewNop().Sugar()

// Init builds the global logger. Until it is called every helper is a no-op,
// which keeps tests quiet.
func Init(level, format, outputPath string) error {
	return initTo("stdout", level, format, outputPath)
}

// InitStderr is Init for processes whose stdout carries a protocol, such as
// stdio MCP servers.
func InitStderr(level, format string) error {
	return initTo("stderr", level, format, "")
}

func initTo(stream, level, format, outputPath string) error {
	logLevel := zap.NewAtomicLevel()
	if err := logLevel.UnmarshalText([]byte(level)); err != nil {
		logLevel.SetLevel(zap.InfoLevel)
	}

	var zapConfig zap.Config
	if format == "console" {
		zapConfig = zap.NewDevelopmentConfig()
		zapConfig.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
		zapConfig.Encoding = "console"
	} else {
		zapConfig = zap.NewProductionConfig()
		zapConfig.Encoding = "json"
	}
	zapConfig.Level = logLevel
	zapConfig.OutputPaths = []string{stream}
	if outputPath != "" {
		if err := os.MkdirAll(outputPath, 0o755); err != nil {
			return err
		}
		zapConfig.OutputPaths = append(zapConfig.OutputPaths, filepath.Join(outputPath, "bot.log"))
	}

	logger, err := zapConfig.Build()
	if err != nil {
		return err
	}
	sugar = logger.Sugar()
	return nil
}

// Sync flushes buffered entries.
func Sync() { _ = sugar.Sync() }

func Debugf(template string, args ...interface{}) { sugar.Debugf(template, args...) }

func Infof(template string, args ...interface{}) { sugar.Infof(template, args...) }

// Infow logs a message with key/value pairs.
func Infow(msg string, keysAndValues ...interface{}) { sugar.Infow(msg, keysAndValues...) }

func Warnf(template string, args ...interface{}) { sugar.Warnf(template, args...) }

func Warnw(msg string, keysAndValues ...interface{}) { sugar.Warnw(msg, keysAndValues...) }

func Errorf(template string, args ...interface{}) { sugar.Errorf(template, args...) }

func Errorw(msg string, keysAndValues ...interface{}) { sugar.Errorw(msg, keysAndValues...) }

func Fatalf(template string, args ...interface{}) { sugar.Fatalf(template, args...) }
