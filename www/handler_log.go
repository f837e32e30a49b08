package www

import (
	"log/slog"
	"net/http"

	"github.com/icodeforyou/netztransparenz-go/database"
	"github.com/icodeforyou/netztransparenz-go/logging"
)

// NewLogHandler pages through the persisted log, newest first. The level
// parameter sets the minimum level, DEBUG by default.
func NewLogHandler(logger *slog.Logger, db Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		page := intOrDefault(r.URL, "page", 1)
		pageSize := intOrDefault(r.URL, "pageSize", 25)
		level := slog.LevelDebug
		if v := r.URL.Query().Get("level"); v != "" {
			level = logging.LevelFromString(&v)
		}

		e, err := db.GetLogEntries(r.Context(), level, page, pageSize)
		if err != nil {
			writeError(logger, w, http.StatusInternalServerError, err)
			return
		}
		if e == nil {
			e = []database.LogEntryRow{}
		}

		writeJSON(logger, w, http.StatusOK, struct {
			Page     int                    `json:"page"`
			PageSize int                    `json:"page_size"`
			Entries  []database.LogEntryRow `json:"entries"`
		}{
			Page:     page,
			PageSize: pageSize,
			Entries:  e,
		})
	}
}

func NewFetchLogHandler(logger *slog.Logger, db Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		rows, err := db.GetFetchLog(r.Context(), r.URL.Query().Get("endpoint"), intOrDefault(r.URL, "limit", 100))
		if err != nil {
			writeError(logger, w, http.StatusInternalServerError, err)
			return
		}
		if rows == nil {
			rows = []database.FetchLogRow{}
		}
		writeJSON(logger, w, http.StatusOK, rows)
	}
}

// NewBackupsHandler lists the database backups, newest first.
func NewBackupsHandler(logger *slog.Logger, db Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		backups, err := db.Backups()
		if err != nil {
			writeError(logger, w, http.StatusInternalServerError, err)
			return
		}
		if backups == nil {
			backups = []database.BackupInfo{}
		}
		writeJSON(logger, w, http.StatusOK, backups)
	}
}
