package materialize

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/icodeforyou/netztransparenz-go/payload"
	"github.com/icodeforyou/netztransparenz-go/table"
)

// Instant names the columns that make up one instant and the column it becomes.
type Instant struct {
	Name string `yaml:"name"`
	Date string `yaml:"date"`
	Time string `yaml:"time"`
	Zone string `yaml:"zone"`
}

func (s Instant) sources() []string {
	return []string{s.Date, s.Time, s.Zone}
}

var errMissing = errors.New("value is missing")

var fixedZones = map[string]*time.Location{
	"UTC":  time.UTC,
	"GMT":  time.UTC,
	"Z":    time.UTC,
	"CET":  time.FixedZone("CET", 3600),
	"MEZ":  time.FixedZone("CET", 3600),
	"CEST": time.FixedZone("CEST", 7200),
	"MESZ": time.FixedZone("CEST", 7200),
}

// ZoneLocation resolves a published zone label, falling back to the IANA database.
func ZoneLocation(label string) (*time.Location, error) {
	label = strings.TrimSpace(label)
	if loc, ok := fixedZones[strings.ToUpper(label)]; ok {
		return loc, nil
	}
	return time.LoadLocation(label)
}

// Columns returns the column set a table with the given columns has after materialization.
func Columns(columns []string, von, bis Instant) []string {
	drop := map[string]bool{}
	for _, c := range append(von.sources(), bis.sources()...) {
		drop[c] = true
	}
	out := []string{von.Name, bis.Name}
	for _, c := range columns {
		if !drop[c] {
			out = append(out, c)
		}
	}
	return out
}

// Materialize replaces the date, time and zone columns of both specs with two
// zone-aware instant columns placed first. An interval ending at 00:00 on its
// start date is moved to the next day.
func Materialize(t *table.Table, von, bis Instant) (*table.Table, error) {
	for _, c := range append(von.sources(), bis.sources()...) {
		if !t.HasColumn(c) {
			return nil, &payload.SchemaError{Column: c, Reason: "required to build instants"}
		}
	}

	columns := Columns(t.Columns(), von, bis)
	out := table.New(columns...)
	keep := make([]int, 0, len(columns)-2)
	for _, c := range columns[2:] {
		i, _ := t.ColumnIndex(c)
		keep = append(keep, i)
	}

	for r := 0; r < t.Len(); r++ {
		vd, vt, vz, err := parts(t, r, von)
		if err != nil {
			return nil, err
		}
		bd, bt, bz, err := parts(t, r, bis)
		if err != nil {
			return nil, err
		}

		vc, err := clock(r, von, vt)
		if err != nil {
			return nil, err
		}
		bc, err := clock(r, bis, bt)
		if err != nil {
			return nil, err
		}
		if bc == 0 && vc > 0 && sameDay(vd, bd) {
			bd = bd.AddDate(0, 0, 1)
		}

		from, err := combine(r, von, vd, vc, vz)
		if err != nil {
			return nil, err
		}
		to, err := combine(r, bis, bd, bc, bz)
		if err != nil {
			return nil, err
		}

		src := t.Row(r)
		row := make([]table.Cell, 0, len(columns))
		row = append(row, table.InstantCell(from, false), table.InstantCell(to, false))
		for _, i := range keep {
			row = append(row, src[i])
		}
		if err := out.Append(row); err != nil {
			return nil, err
		}
	}
	return out, nil
}

func parts(t *table.Table, row int, s Instant) (time.Time, string, string, error) {
	dc, _ := t.Value(row, s.Date)
	d, ok := dc.Time()
	if !ok {
		return time.Time{}, "", "", unparseable(row, s.Date, dc)
	}
	tc, _ := t.Value(row, s.Time)
	hm, ok := tc.Text()
	if !ok {
		return time.Time{}, "", "", unparseable(row, s.Time, tc)
	}
	zc, _ := t.Value(row, s.Zone)
	zone, ok := zc.Text()
	if !ok {
		return time.Time{}, "", "", unparseable(row, s.Zone, zc)
	}
	return d, hm, zone, nil
}

// clock returns the offset of an HH:MM value from the start of its day.
func clock(row int, s Instant, hm string) (time.Duration, error) {
	c, err := time.Parse(payload.HourMinute, hm)
	if err != nil {
		return 0, &payload.UnparseableValueError{Row: row, Column: s.Time, Value: hm, Err: err}
	}
	return time.Duration(c.Hour())*time.Hour + time.Duration(c.Minute())*time.Minute, nil
}

func combine(row int, s Instant, date time.Time, offset time.Duration, zone string) (time.Time, error) {
	loc, err := ZoneLocation(zone)
	if err != nil {
		return time.Time{}, &payload.UnparseableValueError{Row: row, Column: s.Zone, Value: zone, Err: err}
	}
	y, m, d := date.Date()
	// published wall clock, not elapsed time since midnight
	hour, minute := int(offset/time.Hour), int(offset%time.Hour/time.Minute)
	return time.Date(y, m, d, hour, minute, 0, 0, loc), nil
}

func sameDay(a, b time.Time) bool {
	ay, am, ad := a.Date()
	by, bm, bd := b.Date()
	return ay == by && am == bm && ad == bd
}

func unparseable(row int, column string, c table.Cell) error {
	if c.IsMissing() {
		return &payload.UnparseableValueError{Row: row, Column: column, Err: errMissing}
	}
	return &payload.UnparseableValueError{Row: row, Column: column, Value: c.String(),
		Err: fmt.Errorf("unexpected %s value", c.Kind())}
}
