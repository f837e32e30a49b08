package fetch

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/icodeforyou/netztransparenz-go/endpoint"
	"github.com/icodeforyou/netztransparenz-go/materialize"
	"github.com/icodeforyou/netztransparenz-go/metrics"
	"github.com/icodeforyou/netztransparenz-go/payload"
	"github.com/icodeforyou/netztransparenz-go/table"
	"github.com/icodeforyou/netztransparenz-go/timerange"
	"github.com/icodeforyou/netztransparenz-go/types"
	"github.com/icodeforyou/netztransparenz-go/types/maybe"
	"github.com/sourcegraph/conc/pool"
)

const defaultWorkers = 4

// SubRangeError is the failure of one sub-range request or its payload.
type SubRangeError struct {
	Endpoint string
	Range    timerange.TimeRange
	Err      error
}

func (e *SubRangeError) Error() string {
	return fmt.Sprintf("%s %s: %v", e.Endpoint, e.Range, e.Err)
}

func (e *SubRangeError) Unwrap() error {
	return e.Err
}

type Options struct {
	// Strict turns an invalid range into an error instead of an empty table.
	Strict bool
	// Materialize replaces date, time and zone columns with von/bis instants.
	Materialize bool
	// Partial keeps the successful sub-ranges and rows when others fail.
	Partial bool
	// Transpose is honoured by endpoints that support it.
	Transpose bool
	// Year selects one year of a static endpoint, 0 for all.
	Year int
	// OnIssue receives every failure skipped in partial mode. Calls never overlap.
	OnIssue func(error)
	// Now is the upper bound for historical ranges. Defaults to time.Now.
	Now func() time.Time
}

type Option func(*Orchestrator)

func WithWorkers(n int) Option {
	return func(o *Orchestrator) {
		if n > 0 {
			o.workers = n
		}
	}
}

func WithLogger(l *slog.Logger) Option {
	return func(o *Orchestrator) { o.logger = l }
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(o *Orchestrator) { o.metrics = m }
}

// Orchestrator turns one endpoint query into sub-range requests and merges the
// parsed tables in chronological order. It keeps no state between calls.
type Orchestrator struct {
	base    string
	fetcher types.Fetcher
	tokens  types.TokenProvider
	policy  *timerange.SplitPolicy
	workers int
	logger  *slog.Logger
	metrics *metrics.Metrics
	issueMu sync.Mutex
}

func New(base string, fetcher types.Fetcher, tokens types.TokenProvider, policy *timerange.SplitPolicy, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		base:    base,
		fetcher: fetcher,
		tokens:  tokens,
		policy:  policy,
		workers: defaultWorkers,
		logger:  slog.Default().With("module", "fetch"),
	}
	if o.policy == nil {
		o.policy = timerange.NewSplitPolicy(timerange.DefaultMaxSpan)
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

func (o *Orchestrator) Fetch(ctx context.Context, d *endpoint.Descriptor, from, to time.Time, opts Options) (*table.Table, error) {
	ranges, ok, err := o.plan(d, from, to, opts)
	if err != nil {
		o.metrics.ObserveFetch(d.Name, "invalid", 0)
		return nil, err
	}
	if !ok || len(ranges) == 0 {
		o.metrics.ObserveFetch(d.Name, "empty", 0)
		return endpoint.EmptyTable(d, opts.Materialize), nil
	}

	merged, err := o.run(ctx, d, ranges, opts)
	if err != nil {
		o.metrics.ObserveFetch(d.Name, "error", len(ranges))
		return nil, err
	}

	out, err := o.finish(d, merged, opts)
	if err != nil {
		o.metrics.ObserveFetch(d.Name, "error", len(ranges))
		return nil, err
	}
	o.metrics.ObserveFetch(d.Name, "ok", len(ranges))
	return out, nil
}

// plan validates the request and cuts it into sub-ranges. ok is false when a
// lenient validation failed.
func (o *Orchestrator) plan(d *endpoint.Descriptor, from, to time.Time, opts Options) ([]timerange.TimeRange, bool, error) {
	if d.Mode == endpoint.Static {
		return []timerange.TimeRange{timerange.New(from, to)}, true, nil
	}

	now := maybe.None[time.Time]()
	if !d.Forecast {
		clock := opts.Now
		if clock == nil {
			clock = time.Now
		}
		now = maybe.Some(clock())
	}
	valid, err := timerange.Validate(maybe.Time(from), maybe.Time(to), now, opts.Strict)
	if err != nil {
		return nil, false, err
	}
	if !valid {
		o.logger.Warn("invalid time range, returning empty table",
			slog.String("endpoint", d.Name),
			slog.Time("from", from),
			slog.Time("to", to))
		return nil, false, nil
	}

	r := timerange.New(from, to)
	if d.Mode == endpoint.Window {
		return []timerange.TimeRange{r}, true, nil
	}
	span := o.policy.MaxSpan()
	if d.MaxSpan > 0 {
		span = d.MaxSpan
	}
	ranges, err := timerange.Split(r, span)
	return ranges, true, err
}

func (o *Orchestrator) run(ctx context.Context, d *endpoint.Descriptor, ranges []timerange.TimeRange, opts Options) (*table.Table, error) {
	results := make([]*table.Table, len(ranges))

	// dispatch stops as soon as the caller cancels or, outside partial mode,
	// a sub-range has failed
	runCtx, stop := context.WithCancel(ctx)
	defer stop()

	p := pool.New().WithContext(runCtx).WithMaxGoroutines(o.workers)
	if !opts.Partial {
		p = p.WithCancelOnError().WithFirstError()
	}
	for i, r := range ranges {
		if runCtx.Err() != nil {
			break
		}
		o.logger.Debug("dispatching sub-range",
			slog.String("endpoint", d.Name),
			slog.Int("index", i),
			slog.String("range", r.String()))
		p.Go(func(ctx context.Context) error {
			if err := ctx.Err(); err != nil {
				return err
			}
			t, err := o.fetchOne(ctx, d, r, opts)
			if err != nil {
				err = &SubRangeError{Endpoint: d.Name, Range: r, Err: err}
				if opts.Partial && ctx.Err() == nil {
					o.report(opts, err)
					return nil
				}
				stop()
				return err
			}
			results[i] = t
			return nil
		})
	}
	if err := p.Wait(); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	parts := make([]*table.Table, 0, len(results))
	for _, t := range results {
		if t != nil {
			parts = append(parts, t)
		}
	}
	if len(parts) == 0 {
		return endpoint.EmptyTable(d, false), nil
	}
	merged, err := table.Concat(parts...)
	if err != nil {
		return nil, fmt.Errorf("merging %s: %w", d.Name, err)
	}
	return merged, nil
}

func (o *Orchestrator) fetchOne(ctx context.Context, d *endpoint.Descriptor, r timerange.TimeRange, opts Options) (*table.Table, error) {
	token, err := o.tokens.Token(ctx)
	if err != nil {
		return nil, err
	}
	url := d.URL(o.base, r, opts.Year)
	resp, err := o.fetcher.Get(ctx, url, map[string]string{
		"Authorization": "Bearer " + token,
		"Accept":        "text/csv, application/json",
	})
	if err != nil {
		return nil, err
	}

	var t *table.Table
	if opts.Partial {
		var issues []error
		t, issues, err = payload.ParseTolerant(resp.Body, d.Schema)
		for _, issue := range issues {
			o.report(opts, &SubRangeError{Endpoint: d.Name, Range: r, Err: issue})
		}
	} else {
		t, err = payload.Parse(resp.Body, d.Schema)
	}
	if err != nil {
		return nil, err
	}
	o.metrics.AddRows(d.Name, t.Len())
	return t, nil
}

func (o *Orchestrator) finish(d *endpoint.Descriptor, t *table.Table, opts Options) (*table.Table, error) {
	var err error
	if opts.Materialize && d.Materializes() {
		if t, err = materialize.Materialize(t, *d.Von, *d.Bis); err != nil {
			return nil, fmt.Errorf("materializing %s: %w", d.Name, err)
		}
	}
	if opts.Transpose && d.Transpose {
		if t, err = t.Transpose(); err != nil {
			return nil, fmt.Errorf("transposing %s: %w", d.Name, err)
		}
	}
	return t, nil
}

func (o *Orchestrator) report(opts Options, err error) {
	o.logger.Warn("skipping failed part of fetch", slog.Any("error", err))
	if opts.OnIssue != nil {
		o.issueMu.Lock()
		defer o.issueMu.Unlock()
		opts.OnIssue(err)
	}
}
