// Package obslog builds the structured loggers threaded explicitly through
// every supervisor component, and the per-call field helper that attaches
// case_id/operation/error_category/is_retryable the way spec §7 requires.
package obslog

import (
	"fmt"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// New builds a production zap logger at the given level ("debug", "info",
// "warn", "error"). Output is structured JSON, matching the teacher's
// convention of threading one explicit *zap.Logger value rather than
// depending on a package-level global or thread-local context.
func New(level string) (*zap.Logger, error) {
	var zl zapcore.Level
	if err := zl.UnmarshalText([]byte(level)); err != nil {
		return nil, fmt.Errorf("obslog: invalid log level %q: %w", level, err)
	}

	cfg := zap.NewProductionConfig()
	cfg.Level = zap.NewAtomicLevelAt(zl)
	cfg.EncoderConfig.TimeKey = "ts"
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder

	logger, err := cfg.Build()
	if err != nil {
		return nil, fmt.Errorf("obslog: build logger: %w", err)
	}
	return logger, nil
}

// CaseFields returns the standard field set attached to any log line about a
// specific case and operation.
func CaseFields(caseID int64, operation string) []zap.Field {
	return []zap.Field{
		zap.Int64("case_id", caseID),
		zap.String("operation", operation),
	}
}

// ErrorFields adds error_category/is_retryable fields for a classified
// error, per spec §7's "logs are structured and carry... error_category,
// is_retryable".
func ErrorFields(category string, retryable bool) []zap.Field {
	return []zap.Field{
		zap.String("error_category", category),
		zap.Bool("is_retryable", retryable),
	}
}
