// Package logging provides zap logger helpers.
package logging

import (
	"fmt"
	"sync/atomic"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// New builds a zap.Logger configured for development or production.
func New(development bool) (*zap.Logger, error) {
	if development {
		cfg := zap.NewDevelopmentConfig()
		cfg.EncoderConfig.TimeKey = "ts"
		cfg.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
		logger, err := cfg.Build()
		if err != nil {
			return nil, fmt.Errorf("build dev logger: %w", err)
		}
		return logger, nil
	}
	cfg := zap.NewProductionConfig()
	cfg.DisableStacktrace = false
	cfg.EncoderConfig.TimeKey = "ts"
	logger, err := cfg.Build()
	if err != nil {
		return nil, fmt.Errorf("build prod logger: %w", err)
	}
	return logger, nil
}

// ErrorCounter accumulates the number of ERROR-or-worse log entries.
type ErrorCounter struct {
	n atomic.Int64
}

// Inc adds one error.
func (c *ErrorCounter) Inc() {
	c.n.Add(1)
}

// Count returns the errors seen so far.
func (c *ErrorCounter) Count() int64 {
	return c.n.Load()
}

// WithErrorCounter returns a logger that increments counter every time an
// entry at ERROR level or above is written.
func WithErrorCounter(logger *zap.Logger, counter *ErrorCounter) *zap.Logger {
	if logger == nil || counter == nil {
		return logger
	}
	return logger.WithOptions(zap.Hooks(func(entry zapcore.Entry) error {
		if entry.Level >= zapcore.ErrorLevel {
			counter.Inc()
		}
		return nil
	}))
}
