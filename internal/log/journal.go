package log

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/coreos/go-systemd/v22/journal"
)

// JournalHandler is a custom slog.Handler for systemd journal.
type JournalHandler struct {
	attrs []slog.Attr
}

// Handle handles a log record.
func (h *JournalHandler) Handle(_ context.Context, record slog.Record) error {
	return journal.Send(record.Message, mapPriority(record.Level), h.fields(record))
}

// fields flattens the handler and record attributes into journal fields.
// Journal field names must be uppercase.
func (h *JournalHandler) fields(record slog.Record) map[string]string {
	fields := make(map[string]string, len(h.attrs)+record.NumAttrs())
	for _, a := range h.attrs {
		fields[journalKey(a.Key)] = fmt.Sprintf("%v", a.Value.Any())
	}
	record.Attrs(func(a slog.Attr) bool {
		fields[journalKey(a.Key)] = fmt.Sprintf("%v", a.Value.Any())
		return true
	})
	return fields
}

// Enabled implements slog.Handler.
func (h *JournalHandler) Enabled(_ context.Context, level slog.Level) bool {
	return level >= globalLevel.Level()
}

// WithAttrs implements slog.Handler.
func (h *JournalHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &JournalHandler{attrs: append(append([]slog.Attr{}, h.attrs...), attrs...)}
}

// WithGroup implements slog.Handler.
func (h *JournalHandler) WithGroup(_ string) slog.Handler {
	return h
}

func journalKey(key string) string {
	b := []byte(key)
	for i, c := range b {
		switch {
		case c >= 'a' && c <= 'z':
			b[i] = c - 'a' + 'A'
		case c >= 'A' && c <= 'Z', c >= '0' && c <= '9':
		default:
			b[i] = '_'
		}
	}
	return string(b)
}

func mapPriority(level slog.Level) journal.Priority {
	if level <= slog.LevelDebug {
		return journal.PriDebug
	}
	if level <= slog.LevelInfo {
		return journal.PriInfo
	}
	if level <= slog.LevelWarn {
		return journal.PriWarning
	}
	if level <= slog.LevelError {
		return journal.PriErr
	}
	return journal.PriCrit
}
