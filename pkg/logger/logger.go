// Package logger holds the process-wide zap logger.
package logger

import (
	"fmt"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Log is the shared logger. It starts as a nop so packages may log before
// Init runs (tests mostly).
var Log = zap.NewNop()

// Init replaces the shared logger with a console logger at the given level
// ("debug", "info", "warn", "error"; empty means info). Log output goes to
// stderr so it never interleaves with the rendered chat on stdout.
func Init(level string) error {
	lv := zapcore.InfoLevel
	if level != "" {
		var err error
		lv, err = zapcore.ParseLevel(level)
		if err != nil {
			return fmt.Errorf("parse log level %q: %w", level, err)
		}
	}

	cfg := zap.NewProductionConfig()
	cfg.Level = zap.NewAtomicLevelAt(lv)
	cfg.OutputPaths = []string{"stderr"}
	cfg.ErrorOutputPaths = []string{"stderr"}

	l, err := cfg.Build()
	if err != nil {
		return fmt.Errorf("build logger: %w", err)
	}
	Log = l
	return nil
}

// Sync flushes buffered log entries. Safe to call on the nop logger.
func Sync() {
	_ = Log.Sync()
}
