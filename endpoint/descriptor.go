package endpoint

import (
	"fmt"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/icodeforyou/netztransparenz-go/materialize"
	"github.com/icodeforyou/netztransparenz-go/payload"
	"github.com/icodeforyou/netztransparenz-go/table"
	"github.com/icodeforyou/netztransparenz-go/timerange"
)

type Mode uint8

const (
	// Ranged endpoints take a from/to pair and are split by the max span.
	Ranged Mode = iota
	// Window endpoints take month/year bounds and are fetched in one call.
	Window
	// Static endpoints take no range, optionally a year.
	Static
)

func (m Mode) String() string {
	switch m {
	case Window:
		return "window"
	case Static:
		return "static"
	default:
		return "ranged"
	}
}

func parseMode(s string) (Mode, error) {
	switch strings.ToLower(s) {
	case "", "ranged":
		return Ranged, nil
	case "window":
		return Window, nil
	case "static":
		return Static, nil
	}
	return Ranged, fmt.Errorf("unknown endpoint mode %q", s)
}

const (
	rangedTemplate = "{path}/{from}/{to}"
	windowTemplate = "{path}/{from_month}/{from_year}/{to_month}/{to_year}"
	staticTemplate = "{path}/{year}"
)

// Descriptor is the read-only description of one upstream quantity.
type Descriptor struct {
	Name     string
	Path     string
	Template string
	Mode     Mode
	Schema   payload.Schema
	Von      *materialize.Instant
	Bis      *materialize.Instant
	// Transpose turns row labels into columns on request.
	Transpose bool
	// MaxSpan overrides the client's split policy when positive.
	MaxSpan time.Duration
	// Forecast endpoints may reach into the future.
	Forecast bool
}

func (d *Descriptor) Materializes() bool {
	return d.Von != nil && d.Bis != nil
}

func (d *Descriptor) template() string {
	if d.Template != "" {
		return d.Template
	}
	switch d.Mode {
	case Window:
		return windowTemplate
	case Static:
		return staticTemplate
	default:
		return rangedTemplate
	}
}

// URL builds the request URL for one sub-range. Instants are formatted as wall
// clock without an offset.
func (d *Descriptor) URL(base string, r timerange.TimeRange, year int) string {
	y := ""
	if year > 0 {
		y = strconv.Itoa(year)
	}
	rep := strings.NewReplacer(
		"{path}", d.Path,
		"{from}", timerange.FormatPath(r.From),
		"{to}", timerange.FormatPath(r.To),
		"{from_month}", strconv.Itoa(int(r.From.Month())),
		"{from_year}", strconv.Itoa(r.From.Year()),
		"{to_month}", strconv.Itoa(int(r.To.Month())),
		"{to_year}", strconv.Itoa(r.To.Year()),
		"{year}", y,
	)
	return strings.TrimRight(base, "/") + "/data/" + rep.Replace(d.template())
}

// Columns is the canonical column set of the endpoint's tables.
func (d *Descriptor) Columns(materialized bool) []string {
	cols := d.Schema.OutputColumns()
	if materialized && d.Materializes() {
		return materialize.Columns(cols, *d.Von, *d.Bis)
	}
	return cols
}

// EmptyTable returns the endpoint's canonical table without rows.
func EmptyTable(d *Descriptor, materialized bool) *table.Table {
	return table.Empty(d.Columns(materialized))
}

func (d *Descriptor) validate() error {
	if d.Name == "" {
		return fmt.Errorf("endpoint without name")
	}
	if d.Path == "" {
		return fmt.Errorf("endpoint %s: empty path", d.Name)
	}
	if len(d.Schema.Columns) == 0 && d.Schema.Extra == nil {
		return fmt.Errorf("endpoint %s: no columns declared", d.Name)
	}
	if (d.Von == nil) != (d.Bis == nil) {
		return fmt.Errorf("endpoint %s: von and bis must be declared together", d.Name)
	}
	if d.Materializes() {
		cols := d.Schema.OutputColumns()
		for _, c := range []string{d.Von.Date, d.Von.Time, d.Von.Zone, d.Bis.Date, d.Bis.Time, d.Bis.Zone} {
			if !slices.Contains(cols, c) {
				return fmt.Errorf("endpoint %s: instant column %q not in schema", d.Name, c)
			}
		}
	}
	if d.MaxSpan < 0 {
		return fmt.Errorf("endpoint %s: negative max span", d.Name)
	}
	return nil
}

func (d *Descriptor) clone() *Descriptor {
	c := *d
	c.Schema.Columns = append([]payload.Column(nil), d.Schema.Columns...)
	if d.Schema.Extra != nil {
		extra := *d.Schema.Extra
		c.Schema.Extra = &extra
	}
	if d.Von != nil {
		von := *d.Von
		c.Von = &von
	}
	if d.Bis != nil {
		bis := *d.Bis
		c.Bis = &bis
	}
	return &c
}
