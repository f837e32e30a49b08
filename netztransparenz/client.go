package netztransparenz

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/icodeforyou/netztransparenz-go/auth"
	"github.com/icodeforyou/netztransparenz-go/endpoint"
	"github.com/icodeforyou/netztransparenz-go/fetch"
	"github.com/icodeforyou/netztransparenz-go/metrics"
	"github.com/icodeforyou/netztransparenz-go/table"
	"github.com/icodeforyou/netztransparenz-go/timerange"
	"github.com/icodeforyou/netztransparenz-go/transport"
	"github.com/icodeforyou/netztransparenz-go/types"
)

const DefaultBaseURL = "https://ds.netztransparenz.de/api/v1"

var ErrUnknownEndpoint = errors.New("unknown endpoint")

type Config struct {
	BaseURL      string
	TokenURL     string
	ClientID     string
	ClientSecret string
	// MaxSpan is the longest range a single upstream call may cover.
	MaxSpan time.Duration
	// Workers bounds the concurrent sub-range requests of one query.
	Workers int
	// Strict makes Query fail on invalid ranges instead of returning an empty table.
	Strict    bool
	Transport transport.Config
}

type Option func(*Client)

func WithFetcher(f types.Fetcher) Option {
	return func(c *Client) { c.fetcher = f }
}

func WithTokenProvider(p types.TokenProvider) Option {
	return func(c *Client) { c.tokens = p }
}

func WithRegistry(r *endpoint.Registry) Option {
	return func(c *Client) { c.registry = r }
}

// WithLogger sets the base logger, each package adds its own module attribute.
func WithLogger(l *slog.Logger) Option {
	return func(c *Client) { c.base = l }
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(c *Client) { c.metrics = m }
}

// WithHTTPClient is used by the default fetcher and token provider.
func WithHTTPClient(h *http.Client) Option {
	return func(c *Client) { c.http = h }
}

func WithClock(now func() time.Time) Option {
	return func(c *Client) { c.now = now }
}

type Client struct {
	cfg      Config
	fetcher  types.Fetcher
	tokens   types.TokenProvider
	registry *endpoint.Registry
	policy   *timerange.SplitPolicy
	strict   atomic.Bool
	base     *slog.Logger
	logger   *slog.Logger
	metrics  *metrics.Metrics
	http     *http.Client
	now      func() time.Time
	orch     *fetch.Orchestrator
}

func New(cfg Config, opts ...Option) (*Client, error) {
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	if cfg.MaxSpan == 0 {
		cfg.MaxSpan = timerange.DefaultMaxSpan
	}
	if cfg.MaxSpan < 0 {
		return nil, fmt.Errorf("max span must be positive, got %s", cfg.MaxSpan)
	}

	c := &Client{
		cfg:    cfg,
		policy: timerange.NewSplitPolicy(cfg.MaxSpan),
		base:   slog.Default(),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	c.strict.Store(cfg.Strict)
	c.logger = c.base.With("module", "netztransparenz")

	if c.registry == nil {
		c.registry = endpoint.Default()
	}
	if c.tokens == nil {
		if cfg.ClientID == "" || cfg.ClientSecret == "" {
			return nil, fmt.Errorf("client id and secret are required")
		}
		c.tokens = auth.NewClientCredentials(cfg.ClientID, cfg.ClientSecret, cfg.TokenURL, c.http)
	}
	if c.fetcher == nil {
		topts := []transport.Option{
			transport.WithMetrics(c.metrics),
			transport.WithLogger(c.base.With("module", "transport")),
		}
		if c.http != nil {
			topts = append(topts, transport.WithHTTPClient(c.http))
		}
		c.fetcher = transport.New(cfg.Transport, topts...)
	}

	c.orch = fetch.New(cfg.BaseURL, c.fetcher, c.tokens, c.policy,
		fetch.WithWorkers(cfg.Workers),
		fetch.WithMetrics(c.metrics),
		fetch.WithLogger(c.base.With("module", "fetch")))
	return c, nil
}

// Query fetches one named quantity. With transformDates the date, time and zone
// columns are replaced by zone-aware von/bis instants.
func (c *Client) Query(ctx context.Context, name string, from, to time.Time, transformDates bool) (*table.Table, error) {
	return c.QueryWith(ctx, name, from, to, fetch.Options{Strict: c.strict.Load(), Materialize: transformDates})
}

func (c *Client) QueryWith(ctx context.Context, name string, from, to time.Time, opts fetch.Options) (*table.Table, error) {
	d, ok := c.registry.Lookup(name)
	if !ok {
		return nil, fmt.Errorf("%w %q", ErrUnknownEndpoint, name)
	}
	if opts.Now == nil {
		opts.Now = c.now
	}
	return c.orch.Fetch(ctx, d, from, to, opts)
}

func (c *Client) SetMaxSpan(d time.Duration) error {
	if err := c.policy.SetMaxSpan(d); err != nil {
		return err
	}
	c.logger.Info("max query span changed", slog.Duration("max_span", d))
	return nil
}

func (c *Client) MaxSpan() time.Duration {
	return c.policy.MaxSpan()
}

// SetStrict changes the strictness used by Query.
func (c *Client) SetStrict(strict bool) {
	c.strict.Store(strict)
}

// Jahresmarktpraemie returns the annual market values, all years when year is 0.
func (c *Client) Jahresmarktpraemie(ctx context.Context, year int, transpose bool) (*table.Table, error) {
	return c.QueryWith(ctx, endpoint.Jahresmarktpraemie, time.Time{}, time.Time{}, fetch.Options{
		Strict:    c.strict.Load(),
		Year:      year,
		Transpose: transpose,
	})
}

// Marktpraemie returns the monthly market premiums of the months from..to.
func (c *Client) Marktpraemie(ctx context.Context, from, to time.Time) (*table.Table, error) {
	return c.QueryWith(ctx, endpoint.Marktpraemie, from, to, fetch.Options{Strict: c.strict.Load()})
}

func (c *Client) TrafficLight(ctx context.Context, from, to time.Time) (*table.Table, error) {
	return c.QueryWith(ctx, endpoint.TrafficLight, from, to, fetch.Options{Strict: c.strict.Load()})
}

// EmptyTable is the canonical table of an endpoint without rows.
func (c *Client) EmptyTable(name string, transformDates bool) (*table.Table, error) {
	d, ok := c.registry.Lookup(name)
	if !ok {
		return nil, fmt.Errorf("%w %q", ErrUnknownEndpoint, name)
	}
	return endpoint.EmptyTable(d, transformDates), nil
}

func (c *Client) Endpoints() []string {
	return c.registry.Names()
}

func (c *Client) Registry() *endpoint.Registry {
	return c.registry
}
