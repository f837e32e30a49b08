package table

import (
	"bytes"
	"fmt"
	"slices"
	"strings"

	json "github.com/goccy/go-json"
)

// Table is an ordered sequence of rows sharing one fixed column set.
type Table struct {
	columns []string
	index   map[string]int
	rows    [][]Cell
}

func New(columns ...string) *Table {
	t := &Table{
		columns: slices.Clone(columns),
		index:   make(map[string]int, len(columns)),
	}
	for i, c := range t.columns {
		t.index[c] = i
	}
	return t
}

// Empty returns a table with the given columns and no rows.
func Empty(columns []string) *Table {
	return New(columns...)
}

func (t *Table) Columns() []string {
	return slices.Clone(t.columns)
}

func (t *Table) HasColumn(name string) bool {
	_, ok := t.index[name]
	return ok
}

func (t *Table) ColumnIndex(name string) (int, bool) {
	i, ok := t.index[name]
	return i, ok
}

func (t *Table) Len() int {
	return len(t.rows)
}

func (t *Table) Append(row []Cell) error {
	if len(row) != len(t.columns) {
		return fmt.Errorf("row has %d cells, table has %d columns", len(row), len(t.columns))
	}
	t.rows = append(t.rows, row)
	return nil
}

// Row returns the cells of row i; the slice must not be modified.
func (t *Table) Row(i int) []Cell {
	return t.rows[i]
}

func (t *Table) Value(row int, column string) (Cell, bool) {
	i, ok := t.index[column]
	if !ok || row < 0 || row >= len(t.rows) {
		return Cell{}, false
	}
	return t.rows[row][i], true
}

func (t *Table) Column(name string) []Cell {
	i, ok := t.index[name]
	if !ok {
		return nil
	}
	out := make([]Cell, len(t.rows))
	for r, row := range t.rows {
		out[r] = row[i]
	}
	return out
}

// Records maps every row to column name → cell.
func (t *Table) Records() []map[string]Cell {
	out := make([]map[string]Cell, len(t.rows))
	for r, row := range t.rows {
		m := make(map[string]Cell, len(t.columns))
		for i, c := range t.columns {
			m[c] = row[i]
		}
		out[r] = m
	}
	return out
}

func (t *Table) sameColumns(o *Table) bool {
	return slices.Equal(t.columns, o.columns)
}

// Concat appends the rows of all tables in argument order. All tables must share
// the column set of the first one.
func Concat(tables ...*Table) (*Table, error) {
	if len(tables) == 0 {
		return New(), nil
	}
	total := 0
	for i, t := range tables {
		if !tables[0].sameColumns(t) {
			return nil, fmt.Errorf("table %d has columns %v, expected %v", i, t.columns, tables[0].columns)
		}
		total += len(t.rows)
	}
	out := New(tables[0].columns...)
	out.rows = make([][]Cell, 0, total)
	for _, t := range tables {
		out.rows = append(out.rows, t.rows...)
	}
	return out, nil
}

// Transpose turns the values of the first column into column names. The first
// column of the result is named after the original first column and holds the
// remaining original column names.
func (t *Table) Transpose() (*Table, error) {
	if len(t.columns) == 0 {
		return New(), nil
	}
	cols := make([]string, 0, len(t.rows)+1)
	cols = append(cols, t.columns[0])
	seen := make(map[string]bool, len(t.rows))
	for r, row := range t.rows {
		name := row[0].String()
		if name == "" || seen[name] {
			return nil, fmt.Errorf("row %d has an empty or duplicate label %q", r, name)
		}
		seen[name] = true
		cols = append(cols, name)
	}

	out := New(cols...)
	for c := 1; c < len(t.columns); c++ {
		row := make([]Cell, 0, len(cols))
		row = append(row, TextCell(t.columns[c]))
		for _, src := range t.rows {
			row = append(row, src[c])
		}
		out.rows = append(out.rows, row)
	}
	return out, nil
}

func (t *Table) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		Columns []string `json:"columns"`
		Rows    [][]Cell `json:"rows"`
	}{
		Columns: t.columns,
		Rows:    t.rows,
	})
}

// Format writes the table as delimited text, header first.
func (t *Table) Format(delimiter string) string {
	var b bytes.Buffer
	b.WriteString(strings.Join(t.columns, delimiter))
	b.WriteByte('\n')
	for _, row := range t.rows {
		for i, c := range row {
			if i > 0 {
				b.WriteString(delimiter)
			}
			b.WriteString(c.String())
		}
		b.WriteByte('\n')
	}
	return b.String()
}
