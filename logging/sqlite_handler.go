package logging

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"time"

	"github.com/goccy/go-json"
	"github.com/icodeforyou/netztransparenz-go/database"
)

type LogAttrFormat string

const (
	LogAttrFormatText LogAttrFormat = "TEXT"
	LogAttrFormatJSON LogAttrFormat = "JSON"
)

// LogStore is where the SQLite handler writes, *database.Database in production.
type LogStore interface {
	SaveLogEntry(ctx context.Context, r database.LogEntryRow) error
}

type SQLiteHandler struct {
	db       LogStore
	minLevel slog.Level
	format   LogAttrFormat
	attrs    []slog.Attr
	group    string
}

func NewSQLiteHandler(db LogStore, minLevel slog.Level, format LogAttrFormat) *SQLiteHandler {
	return &SQLiteHandler{db: db, minLevel: minLevel, format: format}
}

func (h *SQLiteHandler) Handle(ctx context.Context, r slog.Record) error {
	if r.Level < h.minLevel {
		return nil
	}

	attrs := slices.Clone(h.attrs)
	r.Attrs(func(a slog.Attr) bool {
		if h.group != "" {
			a.Key = h.group + "." + a.Key
		}
		attrs = append(attrs, a)
		return true
	})

	// The log row must be written even when the request that logged it was cancelled.
	return h.db.SaveLogEntry(context.WithoutCancel(ctx), database.LogEntryRow{
		Timestamp: time.Now(),
		Level:     int(r.Level),
		Message:   r.Message,
		Attrs:     h.formatAttrs(attrs),
	})
}

func (h *SQLiteHandler) formatAttrs(attrs []slog.Attr) string {
	if len(attrs) == 0 {
		return ""
	}
	if strings.EqualFold(string(h.format), string(LogAttrFormatText)) {
		var b strings.Builder
		for _, a := range attrs {
			if b.Len() > 0 {
				b.WriteString("; ")
			}
			b.WriteString(a.Key)
			b.WriteString("=")
			b.WriteString(strings.ReplaceAll(strings.ReplaceAll(a.Value.String(), "=", "\\="), ";", "\\;"))
		}
		return b.String()
	}

	out := make([]map[string]string, 0, len(attrs))
	for _, a := range attrs {
		out = append(out, map[string]string{a.Key: a.Value.String()})
	}
	data, err := json.Marshal(out)
	if err != nil {
		return fmt.Sprintf(`{"error": "%v"}`, err)
	}
	return string(data)
}

func (h *SQLiteHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	if len(attrs) == 0 {
		return h
	}
	h2 := *h
	h2.attrs = slices.Clone(h.attrs)
	for _, a := range attrs {
		if h.group != "" {
			a.Key = h.group + "." + a.Key
		}
		h2.attrs = append(h2.attrs, a)
	}
	return &h2
}

func (h *SQLiteHandler) WithGroup(name string) slog.Handler {
	if name == "" {
		return h
	}
	h2 := *h
	if h.group != "" {
		name = h.group + "." + name
	}
	h2.group = name
	return &h2
}

func (h *SQLiteHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return level >= h.minLevel
}
