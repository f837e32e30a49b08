package www

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/icodeforyou/netztransparenz-go/database"
)

type Store interface {
	GetSeries(ctx context.Context, endpoint string, from, to time.Time) ([]database.SeriesRow, error)
	GetLogEntries(ctx context.Context, minLvl slog.Level, page, pageSize int) ([]database.LogEntryRow, error)
	GetFetchLog(ctx context.Context, endpoint string, limit int) ([]database.FetchLogRow, error)
	Backups() ([]database.BackupInfo, error)
}

// NewSeriesHandler serves stored rows of one endpoint, the last 24 hours by default.
func NewSeriesHandler(logger *slog.Logger, client Querier, db Store, now func() time.Time) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		name := r.PathValue("name")
		if _, ok := client.Registry().Lookup(name); !ok {
			writeError(logger, w, http.StatusNotFound, fmt.Errorf("unknown endpoint %q", name))
			return
		}

		from, err := timeParam(r.URL, "from")
		if err != nil {
			writeError(logger, w, http.StatusBadRequest, err)
			return
		}
		to, err := timeParam(r.URL, "to")
		if err != nil {
			writeError(logger, w, http.StatusBadRequest, err)
			return
		}
		if to.IsZero() {
			to = now()
		}
		if from.IsZero() {
			from = to.Add(-24 * time.Hour)
		}
		if from.After(to) {
			writeError(logger, w, http.StatusBadRequest, fmt.Errorf("from %s is after to %s", from, to))
			return
		}

		rows, err := db.GetSeries(r.Context(), name, from, to)
		if err != nil {
			writeError(logger, w, http.StatusInternalServerError, err)
			return
		}
		if rows == nil {
			rows = []database.SeriesRow{}
		}
		writeJSON(logger, w, http.StatusOK, rows)
	}
}
