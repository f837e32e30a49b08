package www

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/goccy/go-json"
	"github.com/icodeforyou/netztransparenz-go/config"
	"github.com/icodeforyou/netztransparenz-go/metrics"
	"github.com/icodeforyou/netztransparenz-go/task"
)

type Server struct {
	logger *slog.Logger
	config config.AppConfigApi
	hub    *Hub
	mux    *http.ServeMux
}

func NewServer(client Querier, db Store, tasks Harvester, m *metrics.Metrics, sysInfo SysInfo, config config.AppConfigApi) *Server {
	logger := slog.Default().With("module", "www")

	s := &Server{
		logger: logger,
		config: config,
		hub:    NewHub(logger),
		mux:    http.NewServeMux(),
	}

	logReqMW := func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			s.logger.Debug("http request",
				slog.String("method", r.Method),
				slog.String("url", r.URL.String()),
				slog.String("remoteAddr", r.RemoteAddr))
			next.ServeHTTP(w, r)
		})
	}
	handle := func(pattern string, h http.HandlerFunc) {
		s.mux.Handle(pattern, logReqMW(h))
	}

	handle("GET /api/info", NewSysInfoHandler(logger.With(slog.String("handler", "sys_info")), client, sysInfo))
	handle("GET /api/endpoints", NewEndpointsHandler(logger.With(slog.String("handler", "endpoints")), client))
	handle("GET /api/query/{name}", NewQueryHandler(logger.With(slog.String("handler", "query")), client))
	handle("GET /api/series/{name}", NewSeriesHandler(logger.With(slog.String("handler", "series")), client, db, time.Now))
	handle("GET /api/log", NewLogHandler(logger.With(slog.String("handler", "log")), db))
	handle("GET /api/fetch_log", NewFetchLogHandler(logger.With(slog.String("handler", "fetch_log")), db))
	handle("GET /api/backups", NewBackupsHandler(logger.With(slog.String("handler", "backups")), db))
	handle("GET /api/harvest", NewHarvestJobsHandler(logger.With(slog.String("handler", "harvest")), tasks))
	handle("POST /api/harvest/{job}", NewHarvestHandler(logger.With(slog.String("handler", "harvest")), tasks))

	if m != nil {
		s.mux.Handle("GET /metrics", m.Handler())
	}

	s.mux.HandleFunc("/ws", func(w http.ResponseWriter, r *http.Request) {
		name := r.Header.Get("User-Agent")
		client, err := NewClient(s.hub, w, r, name)
		if err != nil {
			s.logger.Error("new websocket client failed", slog.Any("error", err))
			return
		}
		select {
		case s.hub.Register <- client:
		case <-s.hub.done:
			client.conn.Close()
			return
		}
		go client.WritePump()
		go client.ReadPump()
	})

	return s
}

func (s *Server) Handler() http.Handler {
	return s.mux
}

// Notify sends a harvest event to every websocket client.
func (s *Server) Notify(ev task.HarvestEvent) {
	data, err := json.Marshal(struct {
		Type string `json:"type"`
		task.HarvestEvent
	}{Type: "harvest", HarvestEvent: ev})
	if err != nil {
		s.logger.Error("encoding harvest event", slog.Any("error", err))
		return
	}
	select {
	case s.hub.Broadcast <- data:
	default:
		s.logger.Warn("broadcast queue full, dropping harvest event", slog.String("endpoint", ev.Endpoint))
	}
}

// Run serves until ctx is done and then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	s.logger.Info("starting server...", "port", s.config.Port)
	srv := &http.Server{
		Addr:              fmt.Sprintf("%s:%d", s.config.Address, s.config.Port),
		Handler:           s.mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go s.hub.Run(ctx)

	srvErrors := make(chan error, 1)
	go func() {
		srvErrors <- srv.ListenAndServe()
	}()

	select {
	case err := <-srvErrors:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("server error: %w", err)

	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), time.Second*5)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("server shutdown failed: %w", err)
		}
		return nil
	}
}
