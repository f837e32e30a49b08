package fetch

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/icodeforyou/netztransparenz-go/auth"
	"github.com/icodeforyou/netztransparenz-go/endpoint"
	"github.com/icodeforyou/netztransparenz-go/materialize"
	"github.com/icodeforyou/netztransparenz-go/metrics"
	"github.com/icodeforyou/netztransparenz-go/payload"
	"github.com/icodeforyou/netztransparenz-go/timerange"
	"github.com/icodeforyou/netztransparenz-go/transport"
	"github.com/icodeforyou/netztransparenz-go/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const base = "https://api.test/api/v1"

// hourlyFetcher answers ranged requests with one row per hour of the requested window.
type hourlyFetcher struct {
	mu    sync.Mutex
	urls  []string
	calls atomic.Int32
	delay func(from time.Time) time.Duration
	fail  func(from time.Time) error
	body  func(from, to time.Time) string
}

func (f *hourlyFetcher) Get(ctx context.Context, url string, headers map[string]string) (types.Response, error) {
	f.calls.Add(1)
	f.mu.Lock()
	f.urls = append(f.urls, url)
	f.mu.Unlock()

	if headers["Authorization"] != "Bearer placeholder_token" {
		return types.Response{}, &transport.TransportError{URL: url, Status: http.StatusUnauthorized}
	}
	parts := strings.Split(url, "/")
	from, err := time.Parse(timerange.PathLayout, parts[len(parts)-2])
	if err != nil {
		return types.Response{}, err
	}
	to, err := time.Parse(timerange.PathLayout, parts[len(parts)-1])
	if err != nil {
		return types.Response{}, err
	}

	if f.delay != nil {
		select {
		case <-ctx.Done():
			return types.Response{}, ctx.Err()
		case <-time.After(f.delay(from)):
		}
	}
	if f.fail != nil {
		if err := f.fail(from); err != nil {
			return types.Response{}, err
		}
	}
	if f.body != nil {
		return types.Response{Status: http.StatusOK, Body: []byte(f.body(from, to))}, nil
	}
	return types.Response{Status: http.StatusOK, Body: []byte(hourly(from, to))}, nil
}

func hourly(from, to time.Time) string {
	var b strings.Builder
	b.WriteString("Datum;von;Zeitzone von;bis;Zeitzone bis;Wert\r\n")
	for t := from; t.Before(to); t = t.Add(time.Hour) {
		fmt.Fprintf(&b, "%s;%s;UTC;%s;UTC;%s\r\n",
			t.Format(payload.ISODate), t.Format(payload.HourMinute), t.Add(time.Hour).Format(payload.HourMinute),
			payload.FormatNumber(float64(t.Hour())+0.25))
	}
	return b.String()
}

func testDescriptor() *endpoint.Descriptor {
	return &endpoint.Descriptor{
		Name: "hochrechnung_solar",
		Path: "hochrechnung/Solar",
		Schema: payload.Schema{
			Columns: []payload.Column{
				{Raw: "Datum", Kind: payload.Date},
				{Raw: "von", Kind: payload.Time},
				{Raw: "Zeitzone von", Kind: payload.Zone},
				{Raw: "bis", Kind: payload.Time},
				{Raw: "Zeitzone bis", Kind: payload.Zone},
				{Raw: "Wert", Kind: payload.Number},
			},
			Policy: payload.FormatPolicy{DateLayout: payload.ISODate},
		},
		Von: &materialize.Instant{Name: "von", Date: "Datum", Time: "von", Zone: "Zeitzone von"},
		Bis: &materialize.Instant{Name: "bis", Date: "Datum", Time: "bis", Zone: "Zeitzone bis"},
	}
}

func day(d int) time.Time {
	return time.Date(2024, 1, d, 0, 0, 0, 0, time.UTC)
}

func fixedNow() time.Time {
	return time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)
}

func newOrchestrator(f types.Fetcher, span time.Duration, opts ...Option) *Orchestrator {
	return New(base, f, auth.Static("placeholder_token"), timerange.NewSplitPolicy(span), opts...)
}

func TestFetchMergesInChronologicalOrder(t *testing.T) {
	f := &hourlyFetcher{
		// the first sub-range finishes last
		delay: func(from time.Time) time.Duration {
			if from.Equal(day(1)) {
				return 30 * time.Millisecond
			}
			return 0
		},
	}
	o := newOrchestrator(f, 24*time.Hour, WithWorkers(3), WithMetrics(metrics.New()))

	tb, err := o.Fetch(context.Background(), testDescriptor(), day(1), day(4), Options{Strict: true, Materialize: true, Now: fixedNow})
	require.NoError(t, err)
	assert.Equal(t, int32(3), f.calls.Load())
	require.Equal(t, 72, tb.Len())
	assert.Equal(t, []string{"von", "bis", "Wert"}, tb.Columns())

	var prev time.Time
	for i, c := range tb.Column("von") {
		at, ok := c.Time()
		require.True(t, ok)
		assert.True(t, at.After(prev), "row %d not after previous", i)
		prev = at
	}
}

func TestFetchSplitEqualsUnsplit(t *testing.T) {
	opts := Options{Strict: true, Materialize: true, Now: fixedNow}
	from, to := day(1), day(3).Add(7*time.Hour)

	split, err := newOrchestrator(&hourlyFetcher{}, 5*time.Hour).Fetch(context.Background(), testDescriptor(), from, to, opts)
	require.NoError(t, err)
	whole, err := newOrchestrator(&hourlyFetcher{}, 30*24*time.Hour).Fetch(context.Background(), testDescriptor(), from, to, opts)
	require.NoError(t, err)

	assert.Equal(t, whole.Format(";"), split.Format(";"))
	assert.Equal(t, 55, split.Len())
}

func TestFetchMaterializesRollover(t *testing.T) {
	tb, err := newOrchestrator(&hourlyFetcher{}, 24*time.Hour).
		Fetch(context.Background(), testDescriptor(), day(1), day(2), Options{Strict: true, Materialize: true, Now: fixedNow})
	require.NoError(t, err)
	require.Equal(t, 24, tb.Len())

	last, ok := tb.Value(23, "bis")
	require.True(t, ok)
	at, ok := last.Time()
	require.True(t, ok)
	assert.True(t, at.Equal(day(2)), "got %s", at)
}

func TestFetchWithoutMaterialize(t *testing.T) {
	tb, err := newOrchestrator(&hourlyFetcher{}, 24*time.Hour).
		Fetch(context.Background(), testDescriptor(), day(1), day(2), Options{Now: fixedNow})
	require.NoError(t, err)
	assert.Equal(t, []string{"Datum", "von", "Zeitzone von", "bis", "Zeitzone bis", "Wert"}, tb.Columns())
}

func TestFetchInvalidRange(t *testing.T) {
	tests := []struct {
		name     string
		from, to time.Time
		rule     timerange.Rule
	}{
		{"from after to", day(3), day(2), timerange.RuleFromAfterTo},
		{"missing from", time.Time{}, day(2), timerange.RuleFromMissing},
		{"to in the future", day(1), fixedNow().Add(time.Hour), timerange.RuleToAfterNow},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := &hourlyFetcher{}
			o := newOrchestrator(f, 24*time.Hour)

			_, err := o.Fetch(context.Background(), testDescriptor(), tt.from, tt.to, Options{Strict: true, Now: fixedNow})
			var invalid *timerange.InvalidRangeError
			require.True(t, errors.As(err, &invalid), "got %v", err)
			assert.Equal(t, tt.rule, invalid.Rule)

			tb, err := o.Fetch(context.Background(), testDescriptor(), tt.from, tt.to, Options{Materialize: true, Now: fixedNow})
			require.NoError(t, err)
			assert.Equal(t, 0, tb.Len())
			assert.Equal(t, []string{"von", "bis", "Wert"}, tb.Columns())

			assert.Equal(t, int32(0), f.calls.Load())
		})
	}
}

func TestFetchForecastMayReachIntoFuture(t *testing.T) {
	d := testDescriptor()
	d.Forecast = true
	from := fixedNow()
	tb, err := newOrchestrator(&hourlyFetcher{}, 24*time.Hour).
		Fetch(context.Background(), d, from, from.Add(48*time.Hour), Options{Strict: true, Now: fixedNow})
	require.NoError(t, err)
	assert.Equal(t, 48, tb.Len())
}

func TestFetchZeroLengthRange(t *testing.T) {
	f := &hourlyFetcher{}
	tb, err := newOrchestrator(f, time.Hour).
		Fetch(context.Background(), testDescriptor(), day(1), day(1), Options{Strict: true, Now: fixedNow})
	require.NoError(t, err)
	assert.Equal(t, 0, tb.Len())
	assert.Equal(t, int32(1), f.calls.Load())
}

func TestFetchFailsOnSubRangeError(t *testing.T) {
	f := &hourlyFetcher{
		fail: func(from time.Time) error {
			if from.Equal(day(2)) {
				return &transport.TransportError{URL: "x", Status: http.StatusInternalServerError}
			}
			return nil
		},
	}
	_, err := newOrchestrator(f, 24*time.Hour).
		Fetch(context.Background(), testDescriptor(), day(1), day(4), Options{Strict: true, Now: fixedNow})

	var sub *SubRangeError
	require.True(t, errors.As(err, &sub), "got %v", err)
	assert.Equal(t, "hochrechnung_solar", sub.Endpoint)
	assert.True(t, sub.Range.From.Equal(day(2)))

	var te *transport.TransportError
	require.True(t, errors.As(err, &te))
	assert.Equal(t, http.StatusInternalServerError, te.Status)
}

func TestFetchStopsDispatchAfterFailure(t *testing.T) {
	f := &hourlyFetcher{
		fail: func(from time.Time) error {
			if from.Equal(day(1)) {
				return errors.New("boom")
			}
			return nil
		},
	}
	_, err := newOrchestrator(f, 24*time.Hour, WithWorkers(1)).
		Fetch(context.Background(), testDescriptor(), day(1), day(11), Options{Strict: true, Now: fixedNow})

	var sub *SubRangeError
	require.True(t, errors.As(err, &sub), "got %v", err)
	assert.True(t, sub.Range.From.Equal(day(1)))
	assert.EqualError(t, errors.Unwrap(err), "boom")
	assert.Equal(t, int32(1), f.calls.Load())
}

func TestFetchAuthFailure(t *testing.T) {
	o := New(base, &hourlyFetcher{}, auth.Static(""), timerange.NewSplitPolicy(24*time.Hour))
	_, err := o.Fetch(context.Background(), testDescriptor(), day(1), day(2), Options{Now: fixedNow})
	var authErr *auth.AuthError
	assert.True(t, errors.As(err, &authErr), "got %v", err)
}

func TestFetchPartialKeepsSuccessfulRanges(t *testing.T) {
	f := &hourlyFetcher{
		fail: func(from time.Time) error {
			if from.Equal(day(2)) {
				return &transport.TransportError{URL: "x", Status: http.StatusBadGateway}
			}
			return nil
		},
	}
	var mu sync.Mutex
	var issues []error
	opts := Options{
		Partial:     true,
		Materialize: true,
		Now:         fixedNow,
		OnIssue: func(err error) {
			mu.Lock()
			issues = append(issues, err)
			mu.Unlock()
		},
	}

	tb, err := newOrchestrator(f, 24*time.Hour).Fetch(context.Background(), testDescriptor(), day(1), day(4), opts)
	require.NoError(t, err)
	assert.Equal(t, 48, tb.Len())
	require.Len(t, issues, 1)

	first, _ := tb.Value(0, "von")
	at, _ := first.Time()
	assert.True(t, at.Equal(day(1)))
	afterGap, _ := tb.Value(24, "von")
	at, _ = afterGap.Time()
	assert.True(t, at.Equal(day(3)))
}

func TestFetchPartialSkipsBadRows(t *testing.T) {
	f := &hourlyFetcher{
		body: func(from, to time.Time) string {
			return "Datum;von;Zeitzone von;bis;Zeitzone bis;Wert\n" +
				"2024-01-01;00:00;UTC;01:00;UTC;1,5\n" +
				"2024-01-01;01:00;UTC;02:00;UTC\n" +
				"2024-01-01;02:00;UTC;03:00;UTC;abc\n" +
				"2024-01-01;03:00;UTC;04:00;UTC;N.A.\n"
		},
	}
	var count atomic.Int32
	opts := Options{Partial: true, Now: fixedNow, OnIssue: func(error) { count.Add(1) }}

	tb, err := newOrchestrator(f, 24*time.Hour).Fetch(context.Background(), testDescriptor(), day(1), day(2), opts)
	require.NoError(t, err)
	assert.Equal(t, 2, tb.Len())
	assert.Equal(t, int32(2), count.Load())

	_, err = newOrchestrator(f, 24*time.Hour).Fetch(context.Background(), testDescriptor(), day(1), day(2), Options{Now: fixedNow})
	var malformed *payload.MalformedRowError
	assert.True(t, errors.As(err, &malformed), "got %v", err)
}

func TestFetchCancelled(t *testing.T) {
	f := &hourlyFetcher{}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := newOrchestrator(f, 24*time.Hour).Fetch(ctx, testDescriptor(), day(1), day(10), Options{Now: fixedNow})
	assert.True(t, errors.Is(err, context.Canceled), "got %v", err)
	assert.Equal(t, int32(0), f.calls.Load())
}

func TestFetchCancelledMidway(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	f := &hourlyFetcher{
		delay: func(from time.Time) time.Duration {
			if from.Equal(day(1)) {
				cancel()
			}
			return 10 * time.Millisecond
		},
	}

	_, err := newOrchestrator(f, 24*time.Hour, WithWorkers(1)).
		Fetch(ctx, testDescriptor(), day(1), day(20), Options{Partial: true, Now: fixedNow})
	assert.True(t, errors.Is(err, context.Canceled), "got %v", err)
	assert.Less(t, f.calls.Load(), int32(19))
}

func TestFetchWindowIsNotSplit(t *testing.T) {
	reg := endpoint.Default()
	d := reg.MustLookup(endpoint.Marktpraemie)
	var urls []string
	f := &recordingFetcher{body: "Monat;MW-EPEX in ct/kWh;MW Wind Onshore in ct/kWh;PM Wind Onshore fernsteuerbar in ct/kWh;" +
		"MW Wind Offshore in ct/kWh;PM Wind Offshore fernsteuerbar in ct/kWh;MW Solar in ct/kWh;PM Solar fernsteuerbar in ct/kWh;" +
		"MW steuerbar in ct/kWh;PM steuerbar in ct/kWh\n" +
		"1/2024;7,604;6,029;6,029;7,177;7,177;7,604;7,604;7,604;7,604\n", urls: &urls}

	tb, err := newOrchestrator(f, time.Hour).Fetch(context.Background(), d, day(1), time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC), Options{Strict: true, Now: fixedNow})
	require.NoError(t, err)
	assert.Equal(t, 1, tb.Len())
	require.Len(t, urls, 1)
	assert.Equal(t, base+"/data/marktpraemie/1/2024/3/2024", urls[0])
}

func TestFetchStaticTranspose(t *testing.T) {
	reg := endpoint.Default()
	d := reg.MustLookup(endpoint.Jahresmarktpraemie)
	var urls []string
	f := &recordingFetcher{body: "Alle Werte in ct/kWh;2024;2021;2022;2023;2024\r\n" +
		"JW;3,047;9,685;23,545;9,518;7,946\r\n" +
		"JW Solar;2,458;7,552;22,306;7,2;4,624\r\n", urls: &urls}
	o := newOrchestrator(f, time.Hour)

	tb, err := o.Fetch(context.Background(), d, time.Time{}, time.Time{}, Options{Strict: true, Year: 2024, Transpose: true})
	require.NoError(t, err)
	assert.Equal(t, []string{"Alle Werte in ct/kWh", "JW", "JW Solar"}, tb.Columns())
	assert.Equal(t, 5, tb.Len())
	assert.Equal(t, base+"/data/Jahresmarktpraemie/2024", urls[0])

	tb, err = o.Fetch(context.Background(), d, time.Time{}, time.Time{}, Options{Strict: true})
	require.NoError(t, err)
	assert.Equal(t, 2, tb.Len())
}

type recordingFetcher struct {
	mu   sync.Mutex
	body string
	urls *[]string
}

func (f *recordingFetcher) Get(_ context.Context, url string, _ map[string]string) (types.Response, error) {
	f.mu.Lock()
	*f.urls = append(*f.urls, url)
	f.mu.Unlock()
	return types.Response{Status: http.StatusOK, Body: []byte(f.body)}, nil
}
