// Package logging builds the category-scoped zap loggers used across navvoice.
// Each subsystem logs through its own named logger; categories can be switched off
// individually in the logging section of the config.
package logging

import (
	"fmt"
	"strings"

	"navvoice/internal/config"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Category represents a log category/system
type Category string

const (
	CategoryKernel  Category = "kernel"  // Mangle rule base operations
	CategoryVoice   Category = "voice"   // Pack loading, certification, resolution
	CategoryMode    Category = "mode"    // Application mode synchronization
	CategoryAudio   Category = "audio"   // Focus and auxiliary link routing
	CategoryWatcher Category = "watcher" // Voice pack file watching
	CategoryCLI     Category = "cli"     // Command line front end
)

// New builds the root logger from cfg.
func New(cfg config.LoggingConfig) (*zap.Logger, error) {
	zc := zap.NewProductionConfig()
	if strings.EqualFold(cfg.Format, "text") || strings.EqualFold(cfg.Format, "console") {
		zc.Encoding = "console"
		zc.EncoderConfig.EncodeLevel = zapcore.CapitalLevelEncoder
		zc.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	}

	level, err := ParseLevel(cfg.Level)
	if err != nil {
		return nil, err
	}
	if cfg.DebugMode {
		level = zapcore.DebugLevel
	}
	zc.Level = zap.NewAtomicLevelAt(level)

	if cfg.File != "" {
		zc.OutputPaths = []string{cfg.File}
	}

	logger, err := zc.Build()
	if err != nil {
		return nil, fmt.Errorf("failed to initialize logger: %w", err)
	}
	return logger, nil
}

// ParseLevel maps a config level string to a zap level. Empty means info.
func ParseLevel(s string) (zapcore.Level, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "info":
		return zapcore.InfoLevel, nil
	case "debug":
		return zapcore.DebugLevel, nil
	case "warn", "warning":
		return zapcore.WarnLevel, nil
	case "error":
		return zapcore.ErrorLevel, nil
	default:
		return zapcore.InfoLevel, fmt.Errorf("unknown log level %q", s)
	}
}

// For returns the logger for a category. A nil base yields a no-op logger, and so does
// a category disabled in cfg.
func For(base *zap.Logger, cfg config.LoggingConfig, cat Category) *zap.Logger {
	if base == nil || !cfg.IsCategoryEnabled(string(cat)) {
		return zap.NewNop()
	}
	return base.Named(string(cat))
}

// OrNop returns l, or a no-op logger when l is nil.
func OrNop(l *zap.Logger) *zap.Logger {
	if l == nil {
		return zap.NewNop()
	}
	return l
}
