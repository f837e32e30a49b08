package database

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/goccy/go-json"
	"github.com/icodeforyou/netztransparenz-go/table"
)

// SeriesRow is one stored row of a materialized endpoint table. Values holds the
// remaining columns as a JSON object.
type SeriesRow struct {
	Endpoint  string          `json:"endpoint"`
	Von       time.Time       `json:"von"`
	Bis       time.Time       `json:"bis"`
	Seq       int             `json:"seq"`
	RunID     string          `json:"run_id"`
	FetchedAt time.Time       `json:"fetched_at"`
	Values    json.RawMessage `json:"values"`
}

// SaveSeries upserts every row of t keyed by endpoint, von, bis and the row's
// position among rows sharing the same interval.
func (d *Database) SaveSeries(ctx context.Context, endpoint, runID, vonCol, bisCol string, t *table.Table) (int, error) {
	vi, ok := t.ColumnIndex(vonCol)
	if !ok {
		return 0, fmt.Errorf("saving series %s: no column %q", endpoint, vonCol)
	}
	bi, ok := t.ColumnIndex(bisCol)
	if !ok {
		return 0, fmt.Errorf("saving series %s: no column %q", endpoint, bisCol)
	}
	columns := t.Columns()
	now := formatTime(time.Now())

	tx, err := d.write.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("saving series %s: %w", endpoint, err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO series (endpoint, von, bis, seq, run_id, fetched_at, vals)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(endpoint, von, bis, seq) DO UPDATE SET
			run_id = excluded.run_id,
			fetched_at = excluded.fetched_at,
			vals = excluded.vals`)
	if err != nil {
		return 0, fmt.Errorf("saving series %s: %w", endpoint, err)
	}
	defer stmt.Close()

	seq := map[[2]string]int{}
	for i := 0; i < t.Len(); i++ {
		row := t.Row(i)
		von, ok := row[vi].Time()
		if !ok {
			return 0, fmt.Errorf("saving series %s: row %d has no %s instant", endpoint, i, vonCol)
		}
		bis, ok := row[bi].Time()
		if !ok {
			return 0, fmt.Errorf("saving series %s: row %d has no %s instant", endpoint, i, bisCol)
		}

		values := make(map[string]table.Cell, len(columns)-2)
		for c, name := range columns {
			if c != vi && c != bi {
				values[name] = row[c]
			}
		}
		data, err := json.Marshal(values)
		if err != nil {
			return 0, fmt.Errorf("saving series %s: encoding row %d: %w", endpoint, i, err)
		}

		key := [2]string{formatTime(von), formatTime(bis)}
		n := seq[key]
		seq[key] = n + 1
		if _, err := stmt.ExecContext(ctx, key[0], key[1], n, runID, now, string(data)); err != nil {
			return 0, fmt.Errorf("saving series %s: row %d: %w", endpoint, i, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("saving series %s: %w", endpoint, err)
	}
	return t.Len(), nil
}

// GetSeries returns the stored rows of an endpoint starting in [from, to), oldest first.
func (d *Database) GetSeries(ctx context.Context, endpoint string, from, to time.Time) ([]SeriesRow, error) {
	rows, err := d.read.QueryContext(ctx, `
		SELECT endpoint, von, bis, seq, run_id, fetched_at, vals
		FROM series
		WHERE endpoint = ? AND von >= ? AND von < ?
		ORDER BY von, bis, seq ASC`,
		endpoint, formatTime(from), formatTime(to))
	if err != nil {
		return nil, fmt.Errorf("fetching series %s: %w", endpoint, err)
	}
	defer rows.Close()

	var out []SeriesRow
	for rows.Next() {
		var r SeriesRow
		var von, bis, fetched, vals string
		if err := rows.Scan(&r.Endpoint, &von, &bis, &r.Seq, &r.RunID, &fetched, &vals); err != nil {
			return nil, fmt.Errorf("scanning series row: %w", err)
		}
		if r.Von, err = parseTime(von); err != nil {
			return nil, err
		}
		if r.Bis, err = parseTime(bis); err != nil {
			return nil, err
		}
		if r.FetchedAt, err = parseTime(fetched); err != nil {
			return nil, err
		}
		r.Values = json.RawMessage(vals)
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("reading series rows: %w", err)
	}
	return out, nil
}

// LatestSeries is the end of the newest stored interval of an endpoint.
func (d *Database) LatestSeries(ctx context.Context, endpoint string) (time.Time, bool, error) {
	var bis sql.NullString
	err := d.read.QueryRowContext(ctx, `SELECT MAX(bis) FROM series WHERE endpoint = ?`, endpoint).Scan(&bis)
	if err != nil {
		return time.Time{}, false, fmt.Errorf("fetching latest series %s: %w", endpoint, err)
	}
	if !bis.Valid {
		return time.Time{}, false, nil
	}
	t, err := parseTime(bis.String)
	if err != nil {
		return time.Time{}, false, err
	}
	return t, true, nil
}

func (d *Database) PurgeSeries(ctx context.Context, retentionDays int) (int64, error) {
	return d.purgeBefore(ctx, "series", "bis", retention(retentionDays))
}
