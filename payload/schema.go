package payload

import (
	"time"
)

// Kind is the declared type of a raw column.
type Kind uint8

const (
	Text Kind = iota
	Number
	Date
	Time
	DateTime
	Timestamp
	Zone
)

var kindNames = map[Kind]string{
	Text:      "text",
	Number:    "number",
	Date:      "date",
	Time:      "time",
	DateTime:  "datetime",
	Timestamp: "timestamp",
	Zone:      "zone",
}

func (k Kind) String() string {
	if s, ok := kindNames[k]; ok {
		return s
	}
	return "unknown"
}

// ParseKind maps the lower case kind names used in endpoint files.
func ParseKind(s string) (Kind, bool) {
	for k, name := range kindNames {
		if name == s {
			return k, true
		}
	}
	return Text, false
}

type Layout uint8

const (
	LayoutDelimited Layout = iota
	LayoutJSON
)

const (
	GermanDate  = "02.01.2006"
	ISODate     = "2006-01-02"
	HourMinute  = "15:04"
	ISODateTime = "2006-01-02 15:04"
)

// FormatPolicy describes the textual conventions of one endpoint.
type FormatPolicy struct {
	Delimiter      string
	DateLayout     string
	TimeLayout     string
	DateTimeLayout string
	Sentinels      []string
	// Location naive dates and date-times are read in.
	Location *time.Location
}

func DefaultPolicy() FormatPolicy {
	return FormatPolicy{
		Delimiter:      ";",
		DateLayout:     GermanDate,
		TimeLayout:     HourMinute,
		DateTimeLayout: ISODateTime,
		Sentinels:      []string{"N.A.", "N.E.", ""},
		Location:       time.UTC,
	}
}

func (p FormatPolicy) withDefaults() FormatPolicy {
	d := DefaultPolicy()
	if p.Delimiter == "" {
		p.Delimiter = d.Delimiter
	}
	if p.DateLayout == "" {
		p.DateLayout = d.DateLayout
	}
	if p.TimeLayout == "" {
		p.TimeLayout = d.TimeLayout
	}
	if p.DateTimeLayout == "" {
		p.DateTimeLayout = d.DateTimeLayout
	}
	if p.Sentinels == nil {
		p.Sentinels = d.Sentinels
	}
	if p.Location == nil {
		p.Location = d.Location
	}
	return p
}

func (p FormatPolicy) isSentinel(s string) bool {
	for _, v := range p.Sentinels {
		if s == v {
			return true
		}
	}
	return false
}

// Column maps one raw upstream column to its output name and type.
type Column struct {
	Raw  string
	Name string
	Kind Kind
	// Droppable columns are accepted in the payload but not emitted.
	Droppable bool
	// Optional columns may be absent from the payload, the output column is then all missing.
	Optional bool
}

func (c Column) OutputName() string {
	if c.Name != "" {
		return c.Name
	}
	return c.Raw
}

type Schema struct {
	Columns []Column
	// Extra types any raw column not listed in Columns. Nil means unknown columns are an error.
	Extra  *Column
	Layout Layout
	Policy FormatPolicy
}

// OutputColumns returns the emitted column names of the declared columns in schema order.
func (s Schema) OutputColumns() []string {
	out := make([]string, 0, len(s.Columns))
	for _, c := range s.Columns {
		if !c.Droppable {
			out = append(out, c.OutputName())
		}
	}
	return out
}

func (s Schema) Lookup(raw string) (Column, bool) {
	for _, c := range s.Columns {
		if c.Raw == raw {
			return c, true
		}
	}
	return Column{}, false
}
