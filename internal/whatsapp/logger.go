package whatsapp

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	waLog "go.mau.fi/whatsmeow/util/log"
)

// slogLogger bridges whatsmeow's printf-style logger onto slog.
type slogLogger struct {
	log *slog.Logger
	min slog.Level
}

// NewLogger returns a waLog.Logger writing to l at or above level
// ("DEBUG", "INFO", "WARN", "ERROR").
func NewLogger(l *slog.Logger, level string) waLog.Logger {
	if l == nil {
		l = slog.Default()
	}
	return slogLogger{log: l, min: parseLevel(level)}
}

func parseLevel(level string) slog.Level {
	switch strings.ToUpper(strings.TrimSpace(level)) {
	case "DEBUG":
		return slog.LevelDebug
	case "INFO":
		return slog.LevelInfo
	case "ERROR":
		return slog.LevelError
	default:
		return slog.LevelWarn
	}
}

func (s slogLogger) emit(level slog.Level, msg string, args []any) {
	if level < s.min || !s.log.Enabled(context.Background(), level) {
		return
	}
	s.log.Log(context.Background(), level, fmt.Sprintf(msg, args...))
}

func (s slogLogger) Debugf(msg string, args ...any) { s.emit(slog.LevelDebug, msg, args) }
func (s slogLogger) Infof(msg string, args ...any)  { s.emit(slog.LevelInfo, msg, args) }
func (s slogLogger) Warnf(msg string, args ...any)  { s.emit(slog.LevelWarn, msg, args) }
func (s slogLogger) Errorf(msg string, args ...any) { s.emit(slog.LevelError, msg, args) }

func (s slogLogger) Sub(module string) waLog.Logger {
	return slogLogger{log: s.log.With("module", module), min: s.min}
}
