package payload

import (
	"bytes"
	"fmt"
	"sort"

	json "github.com/goccy/go-json"
	"github.com/icodeforyou/netztransparenz-go/table"
)

// parseJSON reads an array of flat objects, e.g. [{"From":"…","To":"…","Value":"GREEN"}].
// Keys play the role of header names.
func parseJSON(raw []byte, schema Schema, tolerant bool) (*table.Table, []error, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 {
		return table.Empty(schema.OutputColumns()), nil, nil
	}

	var items []json.RawMessage
	if err := json.Unmarshal(raw, &items); err != nil {
		return nil, nil, fmt.Errorf("decoding json payload: %w", err)
	}

	objects := make([]map[string]any, len(items))
	keys := map[string]bool{}
	for i, item := range items {
		dec := json.NewDecoder(bytes.NewReader(item))
		dec.UseNumber()
		if err := dec.Decode(&objects[i]); err != nil {
			return nil, nil, &MalformedRowError{Row: i, Line: string(item), Want: len(schema.Columns)}
		}
		for k := range objects[i] {
			keys[k] = true
		}
	}

	// Header in schema order, unknown keys sorted after it.
	var header []string
	for _, c := range schema.Columns {
		if keys[c.Raw] {
			header = append(header, c.Raw)
		}
	}
	var extra []string
	for k := range keys {
		if _, ok := schema.Lookup(k); !ok {
			extra = append(extra, k)
		}
	}
	sort.Strings(extra)
	header = append(header, extra...)

	if len(items) == 0 {
		return table.Empty(schema.OutputColumns()), nil, nil
	}

	p, err := newPlan(header, schema)
	if err != nil {
		return nil, nil, err
	}

	out := table.New(p.columns...)
	var issues []error
	for i, obj := range objects {
		cells, err := p.convertObject(i, string(items[i]), header, obj)
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

func (p *plan) convertObject(row int, line string, header []string, obj map[string]any) ([]table.Cell, error) {
	cells := make([]table.Cell, len(p.columns))
	for i, key := range header {
		if p.target[i] < 0 {
			continue
		}
		v, ok := obj[key]
		if !ok {
			if p.required[i] {
				return nil, &MalformedRowError{Row: row, Line: line, Want: len(header), Got: len(obj)}
			}
			continue
		}
		if v == nil {
			continue
		}
		var s string
		switch x := v.(type) {
		case string:
			s = x
		case json.Number:
			if p.kinds[i] == Number {
				f, err := x.Float64()
				if err != nil {
					return nil, &UnparseableValueError{Row: row, Column: p.names[i], Value: x.String(), Err: err}
				}
				cells[p.target[i]] = table.NumberCell(f)
				continue
			}
			s = x.String()
		case bool:
			s = fmt.Sprint(x)
		default:
			return nil, &MalformedRowError{Row: row, Line: line, Want: len(header), Got: len(obj)}
		}
		c, err := p.policy.cell(p.kinds[i], s)
		if err != nil {
			return nil, &UnparseableValueError{Row: row, Column: p.names[i], Value: s, Err: err}
		}
		cells[p.target[i]] = c
	}
	return cells, nil
}
