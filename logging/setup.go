package logging

import (
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/lmittmann/tint"
	"gopkg.in/natefinch/lumberjack.v2"
)

// FileOptions configures the rotating JSON log file.
type FileOptions struct {
	Path       string
	Level      slog.Level
	MaxSizeMB  int
	MaxAgeDays int
	MaxBackups int
}

// Console returns the coloured console handler used before and after the database
// is available.
func Console(w io.Writer, level slog.Level) slog.Handler {
	if w == nil {
		w = os.Stdout
	}
	return tint.NewHandler(w, &tint.Options{
		Level:      level,
		TimeFormat: time.RFC3339,
	})
}

// File returns a JSON handler writing to a size-rotated file and the closer of
// that file.
func File(o FileOptions) (slog.Handler, io.Closer) {
	if o.MaxSizeMB <= 0 {
		o.MaxSizeMB = 100
	}
	w := &lumberjack.Logger{
		Filename:   o.Path,
		MaxSize:    o.MaxSizeMB,
		MaxAge:     o.MaxAgeDays,
		MaxBackups: o.MaxBackups,
		Compress:   true,
	}
	return slog.NewJSONHandler(w, &slog.HandlerOptions{Level: o.Level}), w
}
