// Package logging builds the zap loggers used across crm-reconciler and
// scrubs credentials from anything that might end up in a log line.
package logging

import (
	"fmt"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// NewLogger returns a development logger for local and test environments
// and a JSON production logger otherwise.
func NewLogger(env string, verbose bool) (*zap.Logger, error) {
	var cfg zap.Config
	switch env {
	case "local", "test", "dev":
		cfg = zap.NewDevelopmentConfig()
		cfg.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	default:
		cfg = zap.NewProductionConfig()
	}

	if verbose {
		cfg.Level = zap.NewAtomicLevelAt(zap.DebugLevel)
	} else if env != "local" && env != "dev" {
		cfg.Level = zap.NewAtomicLevelAt(zap.InfoLevel)
	}

	// Notices go to stdout; keep the logger on stderr so the two never interleave.
	cfg.OutputPaths = []string{"stderr"}

	logger, err := cfg.Build()
	if err != nil {
		return nil, fmt.Errorf("failed to build logger: %w", err)
	}
	return logger, nil
}
