package www

import (
	"log/slog"
	"net/http"
	"time"
)

type SysInfo struct {
	Version   string    `json:"version"`
	StartedAt time.Time `json:"started_at"`
}

func NewSysInfoHandler(logger *slog.Logger, client Querier, sysInfo SysInfo) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(logger, w, http.StatusOK, struct {
			SysInfo
			Uptime    string `json:"uptime"`
			Endpoints int    `json:"endpoints"`
			MaxSpan   string `json:"max_span"`
		}{
			SysInfo:   sysInfo,
			Uptime:    time.Since(sysInfo.StartedAt).Round(time.Second).String(),
			Endpoints: client.Registry().Len(),
			MaxSpan:   client.MaxSpan().String(),
		})
	}
}
