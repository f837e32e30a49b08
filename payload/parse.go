package payload

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/icodeforyou/netztransparenz-go/table"
	"github.com/shopspring/decimal"
)

var (
	errGrouping = errors.New("digit grouping is not allowed")
	errExponent = errors.New("exponent notation is not allowed")
)

// Parse converts one upstream response body into a typed table. Any malformed
// row or unparseable value fails the whole payload.
func Parse(raw []byte, schema Schema) (*table.Table, error) {
	t, _, err := parse(raw, schema, false)
	return t, err
}

// ParseTolerant skips rows that cannot be converted and returns them as issues.
// Header and schema mismatches still fail.
func ParseTolerant(raw []byte, schema Schema) (*table.Table, []error, error) {
	return parse(raw, schema, true)
}

func parse(raw []byte, schema Schema, tolerant bool) (*table.Table, []error, error) {
	schema.Policy = schema.Policy.withDefaults()
	if schema.Layout == LayoutJSON {
		return parseJSON(raw, schema, tolerant)
	}

	lines := splitLines(raw)
	if len(lines) == 0 {
		return table.Empty(schema.OutputColumns()), nil, nil
	}

	header := disambiguate(strings.Split(lines[0], schema.Policy.Delimiter))
	p, err := newPlan(header, schema)
	if err != nil {
		return nil, nil, err
	}

	out := table.New(p.columns...)
	var issues []error
	row := 0
	for _, line := range lines[1:] {
		if strings.TrimSpace(line) == "" {
			continue
		}
		fields := strings.Split(line, schema.Policy.Delimiter)
		cells, err := p.convert(row, line, fields)
		row++
		if err != nil {
			if !tolerant {
				return nil, nil, err
			}
			issues = append(issues, err)
			continue
		}
		if err := out.Append(cells); err != nil {
			return nil, nil, err
		}
	}
	return out, issues, nil
}

func splitLines(raw []byte) []string {
	s := strings.TrimPrefix(string(raw), "\ufeff")
	s = strings.ReplaceAll(s, "\r\n", "\n")
	s = strings.TrimRight(s, "\n\r\t ")
	if s == "" {
		return nil
	}
	return strings.Split(s, "\n")
}

// disambiguate renames repeated header names to name.1, name.2 ...
func disambiguate(header []string) []string {
	out := make([]string, len(header))
	seen := make(map[string]int, len(header))
	for i, h := range header {
		h = strings.TrimSpace(h)
		n, dup := seen[h]
		seen[h] = n + 1
		if dup {
			name := fmt.Sprintf("%s.%d", h, n)
			for seen[name] > 0 {
				n++
				name = fmt.Sprintf("%s.%d", h, n)
			}
			seen[name] = 1
			h = name
		}
		out[i] = h
	}
	return out
}

// plan is the mapping from raw header positions to output columns.
type plan struct {
	policy  FormatPolicy
	columns []string
	width   int
	// per raw field: output position or -1 when dropped
	target []int
	kinds  []Kind
	names  []string
	// per raw field: declared and not optional
	required []bool
}

func newPlan(header []string, schema Schema) (*plan, error) {
	present := make(map[string]bool, len(header))
	var extras []int
	for i, h := range header {
		present[h] = true
		if _, ok := schema.Lookup(h); ok {
			continue
		}
		if schema.Extra == nil {
			return nil, &SchemaError{Column: h, Reason: "not declared for this endpoint"}
		}
		extras = append(extras, i)
	}

	p := &plan{
		policy: schema.Policy,
		width:  len(header),
		target: make([]int, len(header)),
		kinds:  make([]Kind, len(header)),
		names:  make([]string, len(header)),

		required: make([]bool, len(header)),
	}
	for i := range p.target {
		p.target[i] = -1
	}

	position := make(map[string]int, len(schema.Columns))
	for _, c := range schema.Columns {
		if !present[c.Raw] && !c.Optional {
			return nil, &SchemaError{Column: c.Raw, Reason: "missing from payload"}
		}
		if c.Droppable {
			continue
		}
		position[c.Raw] = len(p.columns)
		p.columns = append(p.columns, c.OutputName())
	}
	for i, h := range header {
		c, ok := schema.Lookup(h)
		if !ok {
			continue
		}
		p.kinds[i] = c.Kind
		p.names[i] = c.OutputName()
		p.required[i] = !c.Optional
		if pos, ok := position[h]; ok {
			p.target[i] = pos
		}
	}
	for _, i := range extras {
		p.kinds[i] = schema.Extra.Kind
		p.names[i] = header[i]
		p.target[i] = len(p.columns)
		p.columns = append(p.columns, header[i])
	}
	return p, nil
}

func (p *plan) convert(row int, line string, fields []string) ([]table.Cell, error) {
	if len(fields) != p.width {
		return nil, &MalformedRowError{Row: row, Line: line, Want: p.width, Got: len(fields)}
	}
	cells := make([]table.Cell, len(p.columns))
	for i, f := range fields {
		if p.target[i] < 0 {
			continue
		}
		c, err := p.policy.cell(p.kinds[i], f)
		if err != nil {
			return nil, &UnparseableValueError{Row: row, Column: p.names[i], Value: f, Err: err}
		}
		cells[p.target[i]] = c
	}
	return cells, nil
}

// cell converts one raw value. Sentinels are missing for every kind.
func (p FormatPolicy) cell(kind Kind, raw string) (table.Cell, error) {
	s := strings.TrimSpace(raw)
	if p.isSentinel(s) {
		return table.MissingCell(), nil
	}
	switch kind {
	case Number:
		f, err := ParseNumber(s)
		if err != nil {
			return table.Cell{}, err
		}
		return table.NumberCell(f), nil
	case Date:
		t, err := time.ParseInLocation(p.DateLayout, s, p.Location)
		if err != nil {
			return table.Cell{}, err
		}
		return table.InstantCell(t, true), nil
	case DateTime:
		t, err := time.ParseInLocation(p.DateTimeLayout, s, p.Location)
		if err != nil {
			return table.Cell{}, err
		}
		return table.InstantCell(t, true), nil
	case Timestamp:
		t, err := time.Parse(time.RFC3339, s)
		if err != nil {
			return table.Cell{}, err
		}
		return table.InstantCell(t, false), nil
	case Time:
		if _, err := time.Parse(p.TimeLayout, s); err != nil {
			return table.Cell{}, err
		}
		return table.TextCell(s), nil
	default:
		return table.TextCell(s), nil
	}
}

// ParseNumber reads a decimal comma number without digit grouping, e.g. "-1142,535".
func ParseNumber(s string) (float64, error) {
	if strings.Contains(s, ".") || strings.Count(s, ",") > 1 {
		return 0, errGrouping
	}
	if strings.ContainsAny(s, "eE") {
		return 0, errExponent
	}
	d, err := decimal.NewFromString(strings.Replace(s, ",", ".", 1))
	if err != nil {
		return 0, err
	}
	f, _ := d.Float64()
	return f, nil
}

// FormatNumber writes f with a decimal comma, the inverse of ParseNumber.
func FormatNumber(f float64) string {
	return strings.Replace(strconv.FormatFloat(f, 'f', -1, 64), ".", ",", 1)
}
