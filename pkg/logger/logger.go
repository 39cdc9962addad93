// Package logger builds the structured zap loggers shared by every component.
package logger

import (
	"os"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// New returns an info level JSON logger tagged with the service name and pid.
func New(service string, outputPaths ...string) *zap.SugaredLogger {
	return zap.Must(config(service, zapcore.InfoLevel, outputPaths...).Build()).Sugar()
}

// NewWithLevel is like New but parses the minimum level ("debug", "info", "warn", ...).
func NewWithLevel(service, level string, outputPaths ...string) (*zap.SugaredLogger, error) {
	lvl, err := zapcore.ParseLevel(level)
	if err != nil {
		return nil, err
	}

	log, err := config(service, lvl, outputPaths...).Build()
	if err != nil {
		return nil, err
	}
	return log.Sugar(), nil
}

func config(service string, level zapcore.Level, outputPaths ...string) zap.Config {
	encoderCfg := zap.NewProductionEncoderConfig()

	encoderCfg.TimeKey = "timestamp"
	encoderCfg.EncodeTime = zapcore.ISO8601TimeEncoder

	cfg := zap.Config{
		Development:       false,
		DisableCaller:     false,
		DisableStacktrace: false,
		Sampling:          nil,
		Encoding:          "json",
		EncoderConfig:     encoderCfg,
		OutputPaths:       []string{"stderr"},
		ErrorOutputPaths:  []string{"stderr"},
		Level:             zap.NewAtomicLevelAt(level),
		InitialFields:     map[string]any{"service": service, "pid": os.Getpid()},
	}

	if len(outputPaths) != 0 {
		cfg.OutputPaths = outputPaths
	}
	return cfg
}
