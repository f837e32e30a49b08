package www

import (
	"fmt"
	"log/slog"
	"net/http"
)

type Harvester interface {
	Trigger(job string) bool
	Jobs() []string
}

func NewHarvestJobsHandler(logger *slog.Logger, tasks Harvester) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(logger, w, http.StatusOK, tasks.Jobs())
	}
}

// NewHarvestHandler starts a harvest job outside its schedule. Results arrive
// over the websocket feed.
func NewHarvestHandler(logger *slog.Logger, tasks Harvester) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		job := r.PathValue("job")
		if !tasks.Trigger(job) {
			writeError(logger, w, http.StatusNotFound, fmt.Errorf("unknown harvest job %q", job))
			return
		}
		logger.Info("harvest triggered", slog.String("job", job))
		writeJSON(logger, w, http.StatusAccepted, map[string]string{"job": job})
	}
}
