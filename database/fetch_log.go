package database

import (
	"context"
	"fmt"
	"time"
)

// FetchLogRow records one harvest of one endpoint.
type FetchLogRow struct {
	RunID     string        `json:"run_id"`
	Job       string        `json:"job"`
	Endpoint  string        `json:"endpoint"`
	From      time.Time     `json:"from"`
	To        time.Time     `json:"to"`
	StartedAt time.Time     `json:"started_at"`
	Duration  time.Duration `json:"duration"`
	Rows      int           `json:"rows"`
	Error     string        `json:"error,omitempty"`
}

func (d *Database) SaveFetchLog(ctx context.Context, r FetchLogRow) error {
	_, err := d.write.ExecContext(ctx, `
		INSERT INTO fetch_log (run_id, job, endpoint, range_from, range_to, started_at, duration_ms, rows, error)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		r.RunID,
		r.Job,
		r.Endpoint,
		formatTime(r.From),
		formatTime(r.To),
		formatTime(r.StartedAt),
		r.Duration.Milliseconds(),
		r.Rows,
		r.Error)
	if err != nil {
		return fmt.Errorf("saving fetch log: %w", err)
	}
	return nil
}

// GetFetchLog returns the newest entries first, optionally for one endpoint.
func (d *Database) GetFetchLog(ctx context.Context, endpoint string, limit int) ([]FetchLogRow, error) {
	if limit < 1 {
		limit = 50
	}
	rows, err := d.read.QueryContext(ctx, `
		SELECT run_id, job, endpoint, range_from, range_to, started_at, duration_ms, rows, error
		FROM fetch_log
		WHERE ? = '' OR endpoint = ?
		ORDER BY id DESC
		LIMIT ?`,
		endpoint, endpoint, limit)
	if err != nil {
		return nil, fmt.Errorf("fetching fetch log: %w", err)
	}
	defer rows.Close()

	var out []FetchLogRow
	for rows.Next() {
		var r FetchLogRow
		var from, to, started string
		var ms int64
		if err := rows.Scan(&r.RunID, &r.Job, &r.Endpoint, &from, &to, &started, &ms, &r.Rows, &r.Error); err != nil {
			return nil, fmt.Errorf("scanning fetch log row: %w", err)
		}
		if r.From, err = parseTime(from); err != nil {
			return nil, err
		}
		if r.To, err = parseTime(to); err != nil {
			return nil, err
		}
		if r.StartedAt, err = parseTime(started); err != nil {
			return nil, err
		}
		r.Duration = time.Duration(ms) * time.Millisecond
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("reading fetch log rows: %w", err)
	}
	return out, nil
}

func (d *Database) PurgeFetchLog(ctx context.Context, retentionDays int) (int64, error) {
	return d.purgeBefore(ctx, "fetch_log", "started_at", retention(retentionDays))
}
