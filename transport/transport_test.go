package transport

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fastBackOff() backoff.BackOff {
	return backoff.NewConstantBackOff(time.Millisecond)
}

func TestGetSendsHeaders(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer abc", r.Header.Get("Authorization"))
		assert.Equal(t, "nt-test", r.Header.Get("User-Agent"))
		w.Write([]byte("Datum;Wert\n"))
	}))
	defer srv.Close()

	f := New(Config{UserAgent: "nt-test"})
	resp, err := f.Get(context.Background(), srv.URL, map[string]string{"Authorization": "Bearer abc"})
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.Status)
	assert.Equal(t, "Datum;Wert\n", string(resp.Body))
}

func TestGetNoContent(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	resp, err := New(Config{}).Get(context.Background(), srv.URL, nil)
	require.NoError(t, err)
	assert.Equal(t, http.StatusNoContent, resp.Status)
	assert.Empty(t, resp.Body)
}

func TestGetRetriesServerErrors(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.Write([]byte("ok"))
	}))
	defer srv.Close()

	f := New(Config{Retries: 3}, WithBackOff(fastBackOff))
	resp, err := f.Get(context.Background(), srv.URL, nil)
	require.NoError(t, err)
	assert.Equal(t, "ok", string(resp.Body))
	assert.Equal(t, int32(3), calls.Load())
}

func TestGetGivesUpAfterRetries(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		http.Error(w, "busy", http.StatusTooManyRequests)
	}))
	defer srv.Close()

	f := New(Config{Retries: 2}, WithBackOff(fastBackOff))
	_, err := f.Get(context.Background(), srv.URL, nil)

	var te *TransportError
	require.True(t, errors.As(err, &te), "got %v", err)
	assert.Equal(t, http.StatusTooManyRequests, te.Status)
	assert.Contains(t, te.Body, "busy")
	assert.Equal(t, int32(3), calls.Load())
}

func TestGetDoesNotRetryClientErrors(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer srv.Close()

	_, err := New(Config{Retries: 5}, WithBackOff(fastBackOff)).Get(context.Background(), srv.URL, nil)
	var te *TransportError
	require.True(t, errors.As(err, &te))
	assert.Equal(t, http.StatusUnauthorized, te.Status)
	assert.False(t, te.Temporary())
	assert.Equal(t, int32(1), calls.Load())
}

func TestGetNetworkError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	url := srv.URL
	srv.Close()

	_, err := New(Config{}).Get(context.Background(), url, nil)
	var te *TransportError
	require.True(t, errors.As(err, &te))
	assert.Equal(t, 0, te.Status)
	assert.True(t, te.Temporary())
}

func TestGetCancelledDuringBackOff(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	slow := func() backoff.BackOff { return backoff.NewConstantBackOff(time.Hour) }

	_, err := New(Config{Retries: 1}, WithBackOff(slow)).Get(ctx, srv.URL, nil)
	require.Error(t, err)
	assert.True(t, errors.Is(err, context.DeadlineExceeded))
}

func TestRetryAfter(t *testing.T) {
	now := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
	assert.Equal(t, 3*time.Second, retryAfter("3", now))
	assert.Equal(t, 10*time.Second, retryAfter(now.Add(10*time.Second).Format(http.TimeFormat), now))
	assert.Equal(t, time.Duration(0), retryAfter("", now))
	assert.Equal(t, time.Duration(0), retryAfter("soon", now))
}
