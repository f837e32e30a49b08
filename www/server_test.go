package www

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/goccy/go-json"
	ws "github.com/gorilla/websocket"
	"github.com/icodeforyou/netztransparenz-go/auth"
	"github.com/icodeforyou/netztransparenz-go/config"
	"github.com/icodeforyou/netztransparenz-go/database"
	"github.com/icodeforyou/netztransparenz-go/metrics"
	"github.com/icodeforyou/netztransparenz-go/netztransparenz"
	"github.com/icodeforyou/netztransparenz-go/table"
	"github.com/icodeforyou/netztransparenz-go/task"
	"github.com/icodeforyou/netztransparenz-go/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type bodies map[string]string

func (b bodies) Get(_ context.Context, url string, _ map[string]string) (types.Response, error) {
	for suffix, body := range b {
		if strings.HasSuffix(url, suffix) {
			return types.Response{Status: http.StatusOK, Body: []byte(body)}, nil
		}
	}
	return types.Response{}, fmt.Errorf("no fixture for %s", url)
}

type fakeTasks struct {
	triggered []string
}

func (f *fakeTasks) Trigger(job string) bool {
	if job != "daily" {
		return false
	}
	f.triggered = append(f.triggered, job)
	return true
}

func (f *fakeTasks) Jobs() []string { return []string{"daily"} }

type fixture struct {
	server *Server
	db     *database.Database
	tasks  *fakeTasks
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	client, err := netztransparenz.New(netztransparenz.Config{},
		netztransparenz.WithFetcher(bodies{
			"Spotmarktpreise/2025-01-01T00:00:00/2025-01-02T00:00:00": "Datum;von;Zeitzone von;bis;Zeitzone bis;Spotmarktpreis in ct/kWh\n" +
				"01.01.2025;00:00;UTC;01:00;UTC;5,087\n",
		}),
		netztransparenz.WithTokenProvider(auth.Static("token")),
		netztransparenz.WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))),
		netztransparenz.WithClock(func() time.Time { return time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC) }))
	require.NoError(t, err)

	db, err := database.New(context.Background(), filepath.Join(t.TempDir(), "nt.db"))
	require.NoError(t, err)
	t.Cleanup(db.Close)

	tasks := &fakeTasks{}
	s := NewServer(client, db, tasks, metrics.New(), SysInfo{Version: "test", StartedAt: time.Now()}, config.AppConfigApi{})
	return &fixture{server: s, db: db, tasks: tasks}
}

func (f *fixture) do(t *testing.T, method, target string) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	f.server.Handler().ServeHTTP(rec, httptest.NewRequest(method, target, nil))
	return rec
}

func TestQuery(t *testing.T) {
	f := newFixture(t)
	rec := f.do(t, http.MethodGet, "/api/query/spotmarktpreise?from=2025-01-01&to=2025-01-02T00:00:00")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var got struct {
		Endpoint string `json:"endpoint"`
		Table    struct {
			Columns []string `json:"columns"`
			Rows    [][]any  `json:"rows"`
		} `json:"table"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	assert.Equal(t, "spotmarktpreise", got.Endpoint)
	assert.Equal(t, []string{"von", "bis", "Spotmarktpreis in ct/kWh"}, got.Table.Columns)
	require.Len(t, got.Table.Rows, 1)
	assert.Equal(t, 5.087, got.Table.Rows[0][2])
}

func TestQueryText(t *testing.T) {
	f := newFixture(t)
	rec := f.do(t, http.MethodGet, "/api/query/spotmarktpreise?from=2025-01-01&to=2025-01-02&transform=false&format=text")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t,
		"Datum;von;Zeitzone von;bis;Zeitzone bis;Spotmarktpreis in ct/kWh\n"+
			"2025-01-01T00:00:00;00:00;UTC;01:00;UTC;5.087\n",
		rec.Body.String())
}

func TestQueryErrors(t *testing.T) {
	f := newFixture(t)
	tests := []struct {
		target string
		status int
	}{
		{"/api/query/nope?from=2025-01-01&to=2025-01-02", http.StatusNotFound},
		{"/api/query/spotmarktpreise?from=yesterday&to=2025-01-02", http.StatusBadRequest},
		{"/api/query/spotmarktpreise?from=2025-01-02&to=2025-01-01", http.StatusBadRequest},
		{"/api/query/spotmarktpreise?from=2025-02-01&to=2025-02-02", http.StatusBadGateway},
	}
	for _, tt := range tests {
		t.Run(tt.target, func(t *testing.T) {
			rec := f.do(t, http.MethodGet, tt.target)
			assert.Equal(t, tt.status, rec.Code)
			assert.Contains(t, rec.Body.String(), `"error"`)
		})
	}
}

func TestQueryLenientInvalidRange(t *testing.T) {
	f := newFixture(t)
	rec := f.do(t, http.MethodGet, "/api/query/spotmarktpreise?from=2025-01-02&to=2025-01-01&strict=false")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"rows":[]`)
}

func TestEndpoints(t *testing.T) {
	f := newFixture(t)
	rec := f.do(t, http.MethodGet, "/api/endpoints")
	require.Equal(t, http.StatusOK, rec.Code)

	var got []endpointInfo
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	assert.GreaterOrEqual(t, len(got), 60)

	byName := map[string]endpointInfo{}
	for _, e := range got {
		byName[e.Name] = e
	}
	assert.Equal(t, "static", byName["jahresmarktpraemie"].Mode)
	assert.True(t, byName["prognose_solar"].Forecast)
	assert.Equal(t, []string{"von", "bis", "Spotmarktpreis in ct/kWh"}, byName["spotmarktpreise"].Columns)
}

func TestSeries(t *testing.T) {
	f := newFixture(t)
	from := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	tbl := table.New("von", "bis", "Wert")
	require.NoError(t, tbl.Append([]table.Cell{
		table.InstantCell(from, false),
		table.InstantCell(from.Add(time.Hour), false),
		table.NumberCell(1.5),
	}))
	_, err := f.db.SaveSeries(context.Background(), "spotmarktpreise", "run", "von", "bis", tbl)
	require.NoError(t, err)

	rec := f.do(t, http.MethodGet, "/api/series/spotmarktpreise?from=2025-01-01&to=2025-01-02")
	require.Equal(t, http.StatusOK, rec.Code)
	var rows []database.SeriesRow
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &rows))
	require.Len(t, rows, 1)
	assert.JSONEq(t, `{"Wert":1.5}`, string(rows[0].Values))

	rec = f.do(t, http.MethodGet, "/api/series/spotmarktpreise?from=2024-01-01&to=2024-01-02")
	assert.Equal(t, "[]\n", rec.Body.String())

	assert.Equal(t, http.StatusNotFound, f.do(t, http.MethodGet, "/api/series/nope").Code)
	assert.Equal(t, http.StatusBadRequest, f.do(t, http.MethodGet, "/api/series/spotmarktpreise?from=2025-01-02&to=2025-01-01").Code)
}

func TestLogs(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	require.NoError(t, f.db.SaveLogEntry(ctx, database.LogEntryRow{Timestamp: time.Now(), Level: int(slog.LevelInfo), Message: "info"}))
	require.NoError(t, f.db.SaveLogEntry(ctx, database.LogEntryRow{Timestamp: time.Now(), Level: int(slog.LevelError), Message: "boom"}))
	require.NoError(t, f.db.SaveFetchLog(ctx, database.FetchLogRow{RunID: "r", Job: "daily", Endpoint: "redispatch", Rows: 3}))

	rec := f.do(t, http.MethodGet, "/api/log?level=error")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "boom")
	assert.NotContains(t, rec.Body.String(), `"info"`)

	rec = f.do(t, http.MethodGet, "/api/fetch_log?endpoint=redispatch")
	require.Equal(t, http.StatusOK, rec.Code)
	var rows []database.FetchLogRow
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &rows))
	require.Len(t, rows, 1)
	assert.Equal(t, 3, rows[0].Rows)
}

func TestBackups(t *testing.T) {
	f := newFixture(t)
	rec := f.do(t, http.MethodGet, "/api/backups")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "[]\n", rec.Body.String())

	_, err := f.db.Backup(context.Background(), "manual")
	require.NoError(t, err)

	rec = f.do(t, http.MethodGet, "/api/backups")
	var backups []database.BackupInfo
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &backups))
	require.Len(t, backups, 1)
	assert.Equal(t, "manual", backups[0].Reason)
}

func TestHarvest(t *testing.T) {
	f := newFixture(t)
	assert.Equal(t, http.StatusAccepted, f.do(t, http.MethodPost, "/api/harvest/daily").Code)
	assert.Equal(t, http.StatusNotFound, f.do(t, http.MethodPost, "/api/harvest/weekly").Code)
	assert.Equal(t, http.StatusMethodNotAllowed, f.do(t, http.MethodGet, "/api/harvest/daily").Code)
	assert.Equal(t, []string{"daily"}, f.tasks.triggered)

	rec := f.do(t, http.MethodGet, "/api/harvest")
	assert.JSONEq(t, `["daily"]`, rec.Body.String())
}

func TestInfoAndMetrics(t *testing.T) {
	f := newFixture(t)
	rec := f.do(t, http.MethodGet, "/api/info")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"version":"test"`)
	assert.Contains(t, rec.Body.String(), `"max_span":"8760h0m0s"`)

	assert.Equal(t, http.StatusOK, f.do(t, http.MethodGet, "/metrics").Code)
}

func TestWebsocketNotify(t *testing.T) {
	f := newFixture(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go f.server.hub.Run(ctx)

	srv := httptest.NewServer(f.server.Handler())
	defer srv.Close()

	conn, _, err := ws.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http")+"/ws", nil)
	require.NoError(t, err)
	defer conn.Close()

	require.Eventually(t, func() bool { return f.server.hub.Clients() == 1 }, 2*time.Second, 10*time.Millisecond)

	f.server.Notify(task.HarvestEvent{Job: "daily", Endpoint: "spotmarktpreise", Rows: 24})

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, msg, err := conn.ReadMessage()
	require.NoError(t, err)

	var got map[string]any
	require.NoError(t, json.Unmarshal(msg, &got))
	assert.Equal(t, "harvest", got["type"])
	assert.Equal(t, "spotmarktpreise", got["endpoint"])
	assert.Equal(t, float64(24), got["rows"])
}
