package task

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/icodeforyou/netztransparenz-go/config"
	"github.com/icodeforyou/netztransparenz-go/database"
	"github.com/icodeforyou/netztransparenz-go/endpoint"
	"github.com/icodeforyou/netztransparenz-go/fetch"
	"github.com/icodeforyou/netztransparenz-go/metrics"
	"github.com/icodeforyou/netztransparenz-go/table"
)

const harvestTimeout = 10 * time.Minute

type Querier interface {
	QueryWith(ctx context.Context, name string, from, to time.Time, opts fetch.Options) (*table.Table, error)
	Registry() *endpoint.Registry
}

type SeriesStore interface {
	SaveSeries(ctx context.Context, endpoint, runID, vonCol, bisCol string, t *table.Table) (int, error)
	LatestSeries(ctx context.Context, endpoint string) (time.Time, bool, error)
	SaveFetchLog(ctx context.Context, r database.FetchLogRow) error
}

type Publisher interface {
	Publish(ctx context.Context, endpoint, runID string, t *table.Table) error
}

// HarvestEvent is emitted once per endpoint and run.
type HarvestEvent struct {
	Job      string    `json:"job"`
	RunID    string    `json:"run_id"`
	Endpoint string    `json:"endpoint"`
	From     time.Time `json:"from"`
	To       time.Time `json:"to"`
	Rows     int       `json:"rows"`
	Stored   int       `json:"stored"`
	Error    string    `json:"error,omitempty"`
	At       time.Time `json:"at"`
}

type HarvestDeps struct {
	Client    Querier
	Store     SeriesStore
	Publisher Publisher
	Metrics   *metrics.Metrics
	OnHarvest func(HarvestEvent)
	Now       func() time.Time
}

// NewHarvestTask returns the cron function of one harvest job. Every run fetches
// the job's endpoints over [now-lookback, now], reaching back further when the
// stored series has a gap, and stores materialized rows.
func NewHarvestTask(logger *slog.Logger, job config.AppConfigHarvestJob, deps HarvestDeps) func() {
	if deps.Now == nil {
		deps.Now = time.Now
	}
	return func() {
		runID := uuid.NewString()
		logger := logger.With(slog.String("run_id", runID))
		logger.Debug("running harvest task...")

		ctx, cancel := context.WithTimeout(context.Background(), harvestTimeout)
		defer cancel()

		now := deps.Now()
		var errs []error
		for _, name := range job.Endpoints {
			ev := harvestEndpoint(ctx, logger, job, deps, runID, name, now)
			if ev.Error != "" {
				errs = append(errs, fmt.Errorf("%s: %s", name, ev.Error))
			}
			if deps.OnHarvest != nil {
				deps.OnHarvest(ev)
			}
		}

		err := errors.Join(errs...)
		deps.Metrics.ObserveHarvest(job.Name, err, now)
		if err != nil {
			logger.Error("harvest task failed", slog.Any("error", err))
			return
		}
		logger.Info("harvest task done", slog.Int("endpoints", len(job.Endpoints)))
	}
}

func harvestEndpoint(
	ctx context.Context,
	logger *slog.Logger,
	job config.AppConfigHarvestJob,
	deps HarvestDeps,
	runID, name string,
	now time.Time,
) (ev HarvestEvent) {
	logger = logger.With(slog.String("endpoint", name))
	ev = HarvestEvent{Job: job.Name, RunID: runID, Endpoint: name, To: now, From: now.Add(-job.GetLookback())}

	started := time.Now()
	defer func() {
		ev.At = time.Now()
		row := database.FetchLogRow{
			RunID:     runID,
			Job:       job.Name,
			Endpoint:  name,
			From:      ev.From,
			To:        ev.To,
			StartedAt: started,
			Duration:  time.Since(started),
			Rows:      ev.Rows,
			Error:     ev.Error,
		}
		if err := deps.Store.SaveFetchLog(context.WithoutCancel(ctx), row); err != nil {
			logger.Error("saving fetch log failed", slog.Any("error", err))
		}
	}()

	d, ok := deps.Client.Registry().Lookup(name)
	if !ok {
		ev.Error = "unknown endpoint"
		logger.Error("unknown endpoint in harvest job")
		return ev
	}

	if d.Forecast {
		ev.To = now.Add(job.Lookahead)
	}
	if d.Materializes() {
		latest, found, err := deps.Store.LatestSeries(ctx, name)
		if err != nil {
			logger.Warn("reading latest stored row failed", slog.Any("error", err))
		} else if found && latest.Before(ev.From) {
			logger.Info("filling gap in stored series", slog.Time("since", latest))
			ev.From = latest
		}
	}

	t, err := deps.Client.QueryWith(ctx, name, ev.From, ev.To, fetch.Options{
		Materialize: true,
		Partial:     job.Partial,
		Now:         func() time.Time { return now },
		OnIssue: func(err error) {
			logger.Warn("skipped part of harvest", slog.Any("error", err))
		},
	})
	if err != nil {
		ev.Error = err.Error()
		logger.Error("fetching failed", slog.Any("error", err))
		return ev
	}
	ev.Rows = t.Len()

	if d.Materializes() && t.Len() > 0 {
		n, err := deps.Store.SaveSeries(ctx, name, runID, d.Von.Name, d.Bis.Name, t)
		if err != nil {
			ev.Error = err.Error()
			logger.Error("storing series failed", slog.Any("error", err))
			return ev
		}
		ev.Stored = n
	}

	if job.Publish && deps.Publisher != nil && t.Len() > 0 {
		if err := deps.Publisher.Publish(ctx, name, runID, t); err != nil {
			// Stored rows stay valid, publishing is best effort.
			logger.Warn("publishing failed", slog.Any("error", err))
		}
	}

	logger.Debug("endpoint harvested", slog.Int("rows", ev.Rows), slog.Int("stored", ev.Stored))
	return ev
}
