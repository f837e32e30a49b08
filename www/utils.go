package www

import (
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/goccy/go-json"
	"github.com/icodeforyou/netztransparenz-go/timerange"
)

func intOrDefault(u *url.URL, key string, defaultValue int) int {
	if v := u.Query().Get(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return defaultValue
}

func boolOrDefault(u *url.URL, key string, defaultValue bool) bool {
	if v := u.Query().Get(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return defaultValue
}

// timeParam returns the zero time when the parameter is absent. Values without
// an offset are taken as UTC wall clock.
func timeParam(u *url.URL, key string) (time.Time, error) {
	v := u.Query().Get(key)
	if v == "" {
		return time.Time{}, nil
	}
	t, err := timerange.ParseInstant(v, time.UTC)
	if err != nil {
		return time.Time{}, fmt.Errorf("%s: %w", key, err)
	}
	return t, nil
}

func writeJSON(logger *slog.Logger, w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.Error("writing response", slog.Any("error", err))
	}
}

func writeError(logger *slog.Logger, w http.ResponseWriter, status int, err error) {
	if status >= http.StatusInternalServerError {
		logger.Error("handling request", slog.Any("error", err))
	} else {
		logger.Debug("rejecting request", slog.Any("error", err))
	}
	writeJSON(logger, w, status, map[string]string{"error": err.Error()})
}
