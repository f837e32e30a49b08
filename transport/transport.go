package transport

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/icodeforyou/netztransparenz-go/metrics"
	"github.com/icodeforyou/netztransparenz-go/types"
	"golang.org/x/time/rate"
)

const maxErrorBody = 512

// TransportError is a failed upstream request: a network failure (Status 0) or
// a non-success status code.
type TransportError struct {
	URL    string
	Status int
	Body   string
	Err    error
}

func (e *TransportError) Error() string {
	if e.Status == 0 {
		return fmt.Sprintf("request to %s failed: %v", e.URL, e.Err)
	}
	if e.Body != "" {
		return fmt.Sprintf("request to %s returned %d: %s", e.URL, e.Status, e.Body)
	}
	return fmt.Sprintf("request to %s returned %d", e.URL, e.Status)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

// Temporary reports whether a later attempt might succeed.
func (e *TransportError) Temporary() bool {
	return e.Status == 0 || retryableStatus(e.Status)
}

type Config struct {
	Timeout           time.Duration
	RequestsPerSecond float64
	Burst             int
	// Retries is the number of additional attempts after the first.
	Retries   int
	UserAgent string
}

type Option func(*HTTPFetcher)

func WithHTTPClient(c *http.Client) Option {
	return func(f *HTTPFetcher) { f.client = c }
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(f *HTTPFetcher) { f.metrics = m }
}

func WithLogger(l *slog.Logger) Option {
	return func(f *HTTPFetcher) { f.logger = l }
}

// WithBackOff replaces the exponential back-off between attempts.
func WithBackOff(newBackOff func() backoff.BackOff) Option {
	return func(f *HTTPFetcher) { f.newBackOff = newBackOff }
}

// HTTPFetcher issues GET requests with throttling and bounded retries.
type HTTPFetcher struct {
	client     *http.Client
	limiter    *rate.Limiter
	retries    int
	userAgent  string
	metrics    *metrics.Metrics
	logger     *slog.Logger
	newBackOff func() backoff.BackOff
}

var _ types.Fetcher = (*HTTPFetcher)(nil)

func New(cfg Config, opts ...Option) *HTTPFetcher {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 60 * time.Second
	}
	limit := rate.Inf
	if cfg.RequestsPerSecond > 0 {
		limit = rate.Limit(cfg.RequestsPerSecond)
	}
	if cfg.Burst <= 0 {
		cfg.Burst = 1
	}
	f := &HTTPFetcher{
		client:    &http.Client{Timeout: cfg.Timeout},
		limiter:   rate.NewLimiter(limit, cfg.Burst),
		retries:   max(cfg.Retries, 0),
		userAgent: cfg.UserAgent,
		logger:    slog.Default().With("module", "transport"),
		newBackOff: func() backoff.BackOff {
			b := backoff.NewExponentialBackOff()
			b.InitialInterval = 500 * time.Millisecond
			b.MaxInterval = 30 * time.Second
			return b
		},
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

func (f *HTTPFetcher) Get(ctx context.Context, url string, headers map[string]string) (types.Response, error) {
	b := f.newBackOff()
	for attempt := 0; ; attempt++ {
		resp, wait, err := f.do(ctx, url, headers)
		if err == nil {
			return resp, nil
		}

		var te *TransportError
		if !errors.As(err, &te) || !te.Temporary() || attempt >= f.retries || ctx.Err() != nil {
			return types.Response{}, err
		}

		sleep := b.NextBackOff()
		if sleep == backoff.Stop {
			return types.Response{}, err
		}
		if wait > sleep {
			sleep = wait
		}
		f.metrics.IncRetry()
		f.logger.Warn("request failed, retrying",
			slog.String("url", url),
			slog.Int("attempt", attempt+1),
			slog.Int("max_attempts", f.retries+1),
			slog.Duration("backoff", sleep),
			slog.Any("error", err))

		select {
		case <-ctx.Done():
			return types.Response{}, &TransportError{URL: url, Err: ctx.Err()}
		case <-time.After(sleep):
		}
	}
}

// do runs one attempt. The returned duration is the server's Retry-After hint.
func (f *HTTPFetcher) do(ctx context.Context, url string, headers map[string]string) (types.Response, time.Duration, error) {
	if err := f.limiter.Wait(ctx); err != nil {
		return types.Response{}, 0, &TransportError{URL: url, Err: err}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return types.Response{}, 0, fmt.Errorf("failed to create request: %w", err)
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	if f.userAgent != "" {
		req.Header.Set("User-Agent", f.userAgent)
	}

	start := time.Now()
	resp, err := f.client.Do(req)
	if err != nil {
		f.metrics.ObserveRequest(0, time.Since(start))
		return types.Response{}, 0, &TransportError{URL: url, Err: err}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	f.metrics.ObserveRequest(resp.StatusCode, time.Since(start))
	if err != nil {
		return types.Response{}, 0, &TransportError{URL: url, Status: 0, Err: fmt.Errorf("failed to read body: %w", err)}
	}
	f.logger.Debug("upstream response",
		slog.String("url", url),
		slog.Int("status", resp.StatusCode),
		slog.Int("bytes", len(body)),
		slog.Duration("elapsed", time.Since(start)))

	switch {
	case resp.StatusCode == http.StatusNoContent:
		return types.Response{Status: resp.StatusCode}, 0, nil
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		return types.Response{Status: resp.StatusCode, Body: body}, 0, nil
	}

	if len(body) > maxErrorBody {
		body = body[:maxErrorBody]
	}
	return types.Response{}, retryAfter(resp.Header.Get("Retry-After"), time.Now()), &TransportError{
		URL:    url,
		Status: resp.StatusCode,
		Body:   string(body),
	}
}

func retryableStatus(code int) bool {
	return code == http.StatusTooManyRequests || code >= 500
}

// retryAfter reads delay-seconds or an HTTP date.
func retryAfter(v string, now time.Time) time.Duration {
	if v == "" {
		return 0
	}
	if secs, err := strconv.Atoi(v); err == nil && secs > 0 {
		return time.Duration(secs) * time.Second
	}
	if t, err := http.ParseTime(v); err == nil && t.After(now) {
		return t.Sub(now)
	}
	return 0
}
