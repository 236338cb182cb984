// Package audit writes one structured log entry per state refresh.
package audit

import (
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/rs/zerolog"

	"git.cscs.ch/openchami/chamicore-ui/internal/state"
)

var (
	bearerTokenPattern = regexp.MustCompile(`(?i)\bBearer\s+[A-Za-z0-9\-._~+/]+=*`)
	keyValuePattern    = regexp.MustCompile(`(?i)\b(token|secret|password|authorization)\s*[:=]\s*([^\s,;]+)`)
)

// statusCoder is implemented by remote API errors.
type statusCoder interface {
	Status() int
}

// Logger emits refresh completion entries. It satisfies state.Recorder.
type Logger struct {
	logger zerolog.Logger
}

var _ state.Recorder = (*Logger)(nil)

// NewLogger creates an audit logger.
func NewLogger(logger zerolog.Logger) *Logger {
	return &Logger{
		logger: logger.With().Str("component", "audit").Logger(),
	}
}

// RecordRefresh writes a single entry for one finished refresh.
func (l *Logger) RecordRefresh(c state.Completion) {
	if l == nil {
		return
	}

	resource := strings.TrimSpace(c.Resource)
	if resource == "" {
		resource = "unknown"
	}
	result := string(c.Outcome)
	if result == "" {
		result = string(state.OutcomeFailed)
	}
	duration := c.Duration
	if duration < 0 {
		duration = 0
	}

	entry := l.logger.Info()
	if c.Outcome == state.OutcomeFailed {
		entry = l.logger.Warn()
	}
	entry = entry.
		Str("event", "ui.refresh.completed").
		Str("resource", resource).
		Str("result", result).
		Int64("duration_ms", duration.Milliseconds())

	if key := strings.TrimSpace(c.Key); key != "" {
		entry = entry.Str("key", key)
	}
	if c.Err != nil {
		var sc statusCoder
		if errors.As(c.Err, &sc) && sc.Status() > 0 {
			entry = entry.Int("response_code", sc.Status())
		}
		if detail := RedactSensitiveText(c.Err.Error()); detail != "" {
			entry = entry.Str("error_detail", detail)
		}
	}

	entry.Msg("refresh completed")
}

// RedactSensitiveText removes obvious secrets from free-text error details.
func RedactSensitiveText(raw string) string {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return ""
	}

	redacted := bearerTokenPattern.ReplaceAllString(trimmed, "Bearer [REDACTED]")
	redacted = keyValuePattern.ReplaceAllStringFunc(redacted, func(match string) string {
		idx := strings.IndexAny(match, ":=")
		if idx < 0 {
			return "[REDACTED]"
		}
		name := strings.TrimSpace(match[:idx])
		if match[idx] == ':' {
			return fmt.Sprintf("%s: [REDACTED]", name)
		}
		return fmt.Sprintf("%s=[REDACTED]", name)
	})
	return redacted
}
