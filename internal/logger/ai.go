package logger

import (
	"strings"
	"unicode/utf8"

	"go.uber.org/zap"
)

// Field keys shared by the AI-backed components so log pipelines can filter
// scorer and tailor traffic the same way.
const (
	FieldProvider = "ai_provider"
	FieldModel    = "ai_model"
)

// WithAI tags the logger with the provider and model a component talks to.
// Blank values are dropped and a nil logger becomes a no-op, so constructors
// can chain this unconditionally.
func WithAI(logger *zap.Logger, provider, model string) *zap.Logger {
	if logger == nil {
		logger = zap.NewNop()
	}

	fields := make([]zap.Field, 0, 2)
	if v := strings.TrimSpace(provider); v != "" {
		fields = append(fields, zap.String(FieldProvider, v))
	}
	if v := strings.TrimSpace(model); v != "" {
		fields = append(fields, zap.String(FieldModel, v))
	}

	if len(fields) == 0 {
		return logger
	}

	return logger.With(fields...)
}

// Preview renders s as a single-line excerpt of at most limit runes for debug
// logging of prompt and response payloads. Whitespace runs collapse to single
// spaces and truncation is marked with an ellipsis. A non-positive limit
// disables truncation.
func Preview(s string, limit int) string {
	s = strings.Join(strings.Fields(s), " ")
	if limit <= 0 || utf8.RuneCountInString(s) <= limit {
		return s
	}

	return string([]rune(s)[:limit]) + "..."
}
