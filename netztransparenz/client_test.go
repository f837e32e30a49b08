package netztransparenz

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/icodeforyou/netztransparenz-go/fetch"
	"github.com/icodeforyou/netztransparenz-go/metrics"
	"github.com/icodeforyou/netztransparenz-go/table"
	"github.com/icodeforyou/netztransparenz-go/timerange"
	"github.com/icodeforyou/netztransparenz-go/transport"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	start = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	end   = time.Date(2024, 2, 1, 0, 0, 0, 0, time.UTC)
)

// upstream fakes the identity server and the data API.
type upstream struct {
	*httptest.Server
	mu     sync.Mutex
	bodies map[string]string
	hits   map[string]int
}

func newUpstream(t *testing.T) *upstream {
	t.Helper()
	u := &upstream{bodies: map[string]string{}, hits: map[string]int{}}
	mux := http.NewServeMux()
	mux.HandleFunc("POST /token", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"access_token":"placeholder_token"}`))
	})
	mux.HandleFunc("GET /api/v1/data/", func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer placeholder_token" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		u.mu.Lock()
		body, ok := u.bodies[r.URL.Path]
		u.hits[r.URL.Path]++
		u.mu.Unlock()
		if !ok {
			http.NotFound(w, r)
			return
		}
		w.Write([]byte(body))
	})
	u.Server = httptest.NewServer(mux)
	t.Cleanup(u.Close)
	return u
}

func (u *upstream) serve(path, body string) {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.bodies["/api/v1/data/"+path] = body
}

func (u *upstream) hitCount(path string) int {
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.hits["/api/v1/data/"+path]
}

func newTestClient(t *testing.T, u *upstream, opts ...Option) *Client {
	t.Helper()
	cfg := Config{
		BaseURL:      u.URL + "/api/v1",
		TokenURL:     u.URL + "/token",
		ClientID:     "PLACEHOLDER_ID",
		ClientSecret: "PLACEHOLDER_SECRET",
		Transport:    transport.Config{Timeout: 5 * time.Second},
	}
	opts = append([]Option{
		WithHTTPClient(u.Client()),
		WithClock(func() time.Time { return time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC) }),
	}, opts...)
	c, err := New(cfg, opts...)
	require.NoError(t, err)
	return c
}

func number(t *testing.T, tb *table.Table, row int, col string) float64 {
	t.Helper()
	c, ok := tb.Value(row, col)
	require.True(t, ok, "no column %q", col)
	f, ok := c.Float()
	require.True(t, ok, "%s is %s", col, c.Kind())
	return f
}

func instant(t *testing.T, tb *table.Table, row int, col string) time.Time {
	t.Helper()
	c, ok := tb.Value(row, col)
	require.True(t, ok, "no column %q", col)
	at, ok := c.Time()
	require.True(t, ok, "%s is %s", col, c.Kind())
	return at
}

func TestHochrechnungSolar(t *testing.T) {
	u := newUpstream(t)
	u.serve("hochrechnung/Solar/2020-01-01T00:00:00/2020-02-01T00:00:00",
		"Datum;von;Zeitzone von;bis;Zeitzone bis;50Hertz (MW);Amprion (MW);TenneT TSO (MW);TransnetBW (MW)\n"+
			"2020-01-01;07:45;UTC;08:00;UTC;18,990;13,292;87,903;24,228")
	c := newTestClient(t, u)

	tb, err := c.Query(context.Background(), "hochrechnung_solar",
		time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC), time.Date(2020, 2, 1, 0, 0, 0, 0, time.UTC), true)
	require.NoError(t, err)
	require.Equal(t, 1, tb.Len())
	assert.Equal(t, 18.99, number(t, tb, 0, "50Hertz (MW)"))
	assert.Equal(t, time.Date(2020, 1, 1, 7, 45, 0, 0, time.UTC), instant(t, tb, 0, "von").UTC())
}

func TestOnlineHochrechnungWindoffshoreMissingValues(t *testing.T) {
	u := newUpstream(t)
	u.serve("OnlineHochrechnung/Windoffshore/2024-01-01T00:00:00/2024-02-01T00:00:00",
		"Datum;von;Zeitzone von;bis;Zeitzone bis;50Hertz (MW);Amprion (MW);TenneT TSO (MW);TransnetBW (MW)\n"+
			"2020-01-01;00:00;UTC;01:00;UTC;641,670;N.E.;526,230;N.E.")
	c := newTestClient(t, u)

	tb, err := c.Query(context.Background(), "online_hochrechnung_windoffshore", start, end, true)
	require.NoError(t, err)
	assert.Equal(t, 641.67, number(t, tb, 0, "50Hertz (MW)"))
	missing, _ := tb.Value(0, "TransnetBW (MW)")
	assert.True(t, missing.IsMissing())
}

func TestSpotmarktpreiseRollover(t *testing.T) {
	u := newUpstream(t)
	u.serve("Spotmarktpreise/2024-01-01T00:00:00/2024-02-01T00:00:00",
		"Datum;von;Zeitzone von;bis;Zeitzone bis;Spotmarktpreis in ct/kWh\n"+
			"31.12.2024;23:00;UTC;00:00;UTC;5,087")
	m := metrics.New()
	c := newTestClient(t, u, WithMetrics(m))

	tb, err := c.Query(context.Background(), "spotmarktpreise", start, end, true)
	require.NoError(t, err)
	assert.Equal(t, []string{"von", "bis", "Spotmarktpreis in ct/kWh"}, tb.Columns())
	assert.Equal(t, 5.087, number(t, tb, 0, "Spotmarktpreis in ct/kWh"))
	assert.Equal(t, time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC), instant(t, tb, 0, "bis").UTC())

	raw, err := c.Query(context.Background(), "spotmarktpreise", start, end, false)
	require.NoError(t, err)
	assert.Equal(t, []string{"Datum", "von", "Zeitzone von", "bis", "Zeitzone bis", "Spotmarktpreis in ct/kWh"}, raw.Columns())

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Contains(t, rec.Body.String(), `netztransparenz_fetches_total{endpoint="spotmarktpreise",outcome="ok"} 2`)
	assert.Contains(t, rec.Body.String(), `netztransparenz_http_requests_total{code="200"} 2`)
}

func TestNrvSaldoSplitByMaxSpan(t *testing.T) {
	header := "Datum;Zeitzone;von;bis;Datenkategorie;Datentyp;Einheit;Deutschland;AEP Knappheitskomponente;Mrl-Mol-Abweichung;Srl-Mol-Abweichung\n"
	u := newUpstream(t)
	u.serve("NrvSaldo/NRVSaldo/Betrieblich/2025-01-01T00:00:00/2025-01-02T00:00:00",
		header+"01.01.2025;UTC;13:00;13:15;NRV-Saldo;Betrieblich;MW;-1142,535;N.A.;0;0\n")
	u.serve("NrvSaldo/NRVSaldo/Betrieblich/2025-01-02T00:00:00/2025-01-03T00:00:00",
		header+"02.01.2025;UTC;13:00;13:15;NRV-Saldo;Betrieblich;MW;250,5;N.A.;0;0\n")
	c := newTestClient(t, u)
	require.NoError(t, c.SetMaxSpan(24*time.Hour))
	assert.Equal(t, 24*time.Hour, c.MaxSpan())

	tb, err := c.Query(context.Background(), "nrvsaldo_nrvsaldo_betrieblich",
		time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC), time.Date(2025, 1, 3, 0, 0, 0, 0, time.UTC), true)
	require.NoError(t, err)
	require.Equal(t, 2, tb.Len())
	assert.Equal(t, -1142.535, number(t, tb, 0, "Deutschland"))
	assert.Equal(t, 250.5, number(t, tb, 1, "Deutschland"))
	aep, _ := tb.Value(0, "AEP Knappheitskomponente")
	assert.True(t, aep.IsMissing())
}

func TestTrafficLight(t *testing.T) {
	u := newUpstream(t)
	u.serve("TrafficLight/2024-01-01T00:00:00/2024-02-01T00:00:00",
		`[{"From":"2024-10-10T13:00:00Z","To":"2024-10-10T13:01:00Z","Value":"GREEN"},`+
			`{"From":"2024-10-10T13:01:00Z","To":"2024-10-10T13:02:00Z","Value":"GREEN"}]`)
	c := newTestClient(t, u)

	tb, err := c.TrafficLight(context.Background(), start, end)
	require.NoError(t, err)
	require.Equal(t, 2, tb.Len())
	v, _ := tb.Value(0, "Value")
	s, _ := v.Text()
	assert.Equal(t, "GREEN", s)
	assert.Equal(t, time.Date(2024, 10, 10, 13, 1, 0, 0, time.UTC), instant(t, tb, 1, "From").UTC())
}

func TestJahresmarktpraemie(t *testing.T) {
	body := "Alle Werte in ct/kWh;2024;2021;2022;2023;2024\r\n" +
		"JW;3,047;9,685;23,545;9,518;7,946\r\n" +
		"JW Solar;2,458;7,552;22,306;7,2;4,624\r\n"
	u := newUpstream(t)
	u.serve("Jahresmarktpraemie/", body)
	u.serve("Jahresmarktpraemie/2023", body)
	c := newTestClient(t, u)

	tb, err := c.Jahresmarktpraemie(context.Background(), 0, false)
	require.NoError(t, err)
	assert.Equal(t, 3.047, number(t, tb, 0, "2024"))

	tb, err = c.Jahresmarktpraemie(context.Background(), 2023, true)
	require.NoError(t, err)
	assert.Equal(t, []string{"Alle Werte in ct/kWh", "JW", "JW Solar"}, tb.Columns())
	assert.Equal(t, 9.518, number(t, tb, 3, "JW"))
}

func TestLenientRangeReturnsEmptyTable(t *testing.T) {
	u := newUpstream(t)
	c := newTestClient(t, u)

	tb, err := c.Query(context.Background(), "spotmarktpreise", end, start, true)
	require.NoError(t, err)
	assert.Equal(t, 0, tb.Len())
	assert.Equal(t, []string{"von", "bis", "Spotmarktpreis in ct/kWh"}, tb.Columns())

	c.SetStrict(true)
	_, err = c.Query(context.Background(), "spotmarktpreise", end, start, true)
	var invalid *timerange.InvalidRangeError
	assert.True(t, errors.As(err, &invalid))
}

func TestQueryWithPartial(t *testing.T) {
	header := "Datum;von;Zeitzone von;bis;Zeitzone bis;Spotmarktpreis in ct/kWh\n"
	u := newUpstream(t)
	u.serve("Spotmarktpreise/2024-01-01T00:00:00/2024-01-02T00:00:00", header+"01.01.2024;00:00;UTC;01:00;UTC;5,087\n")
	u.serve("Spotmarktpreise/2024-01-03T00:00:00/2024-01-04T00:00:00", header+"03.01.2024;00:00;UTC;01:00;UTC;4,5\n")
	c := newTestClient(t, u)
	require.NoError(t, c.SetMaxSpan(24*time.Hour))

	var issues []error
	var mu sync.Mutex
	tb, err := c.QueryWith(context.Background(), "spotmarktpreise", start, start.Add(72*time.Hour), fetch.Options{
		Partial:     true,
		Materialize: true,
		OnIssue: func(err error) {
			mu.Lock()
			issues = append(issues, err)
			mu.Unlock()
		},
	})
	require.NoError(t, err)
	assert.Equal(t, 2, tb.Len())
	require.Len(t, issues, 1)
	var te *transport.TransportError
	assert.True(t, errors.As(issues[0], &te))
	assert.Equal(t, http.StatusNotFound, te.Status)
	assert.Equal(t, 1, u.hitCount("Spotmarktpreise/2024-01-02T00:00:00/2024-01-03T00:00:00"))
}

func TestUnknownEndpoint(t *testing.T) {
	c := newTestClient(t, newUpstream(t))
	_, err := c.Query(context.Background(), "nope", start, end, true)
	assert.True(t, errors.Is(err, ErrUnknownEndpoint))

	_, err = c.EmptyTable("nope", false)
	assert.True(t, errors.Is(err, ErrUnknownEndpoint))
}

func TestEmptyTable(t *testing.T) {
	c := newTestClient(t, newUpstream(t))
	tb, err := c.EmptyTable("spotmarktpreise", false)
	require.NoError(t, err)
	assert.Equal(t, []string{"Datum", "von", "Zeitzone von", "bis", "Zeitzone bis", "Spotmarktpreis in ct/kWh"}, tb.Columns())
	assert.Contains(t, c.Endpoints(), "spotmarktpreise")
}

func TestNewRequiresCredentials(t *testing.T) {
	_, err := New(Config{})
	assert.Error(t, err)

	_, err = New(Config{ClientID: "a", ClientSecret: "b", MaxSpan: -time.Hour})
	assert.Error(t, err)
}
