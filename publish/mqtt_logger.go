package publish

import (
	"fmt"
	"log/slog"
	"strings"
)

// mqttLogger routes paho's package loggers into slog at a fixed level.
type mqttLogger struct {
	logger *slog.Logger
	level  slog.Level
}

func newMqttLogger(logger *slog.Logger, level slog.Level) *mqttLogger {
	return &mqttLogger{logger: logger, level: level}
}

func (l *mqttLogger) Println(v ...any) {
	l.print(fmt.Sprintln(v...))
}

func (l *mqttLogger) Printf(format string, v ...any) {
	l.print(fmt.Sprintf(format, v...))
}

func (l *mqttLogger) print(msg string) {
	msg = strings.TrimSpace(msg)
	switch l.level {
	case slog.LevelError:
		l.logger.Error(msg)
	case slog.LevelWarn:
		l.logger.Warn(msg)
	case slog.LevelDebug:
		l.logger.Debug(msg)
	default:
		l.logger.Info(msg)
	}
}
