// Package dataset holds the raw tabular input of a run: ordered rows of named
// float64 columns (NaN marks a missing value) with an optional parsed date
// column.
package dataset

import (
	"math"
	"sort"
	"time"

	"github.com/ezoic/hydrocast/pkg/errors"
)

// Table is an ordered, column-oriented numeric table.
type Table struct {
	columns    []string
	data       map[string][]float64
	nonNumeric []string
	rows       int

	// DateColumn is the name of the parsed date column, empty when absent.
	DateColumn string
	// Dates holds one timestamp per row when DateColumn is set.
	Dates []time.Time
}

// NewTable creates an empty table with the given number of rows.
func NewTable(rows int) *Table {
	return &Table{data: make(map[string][]float64), rows: rows}
}

// FromColumns builds a table from equally long columns, in the given order.
func FromColumns(names []string, cols [][]float64) (*Table, error) {
	if len(names) != len(cols) {
		return nil, errors.NewDimensionError("dataset.FromColumns", len(names), len(cols), 1)
	}
	rows := 0
	if len(cols) > 0 {
		rows = len(cols[0])
	}
	t := NewTable(rows)
	for i, name := range names {
		if err := t.SetColumn(name, cols[i]); err != nil {
			return nil, err
		}
	}
	return t, nil
}

// Len returns the number of rows.
func (t *Table) Len() int { return t.rows }

// Columns returns the numeric column names in order.
func (t *Table) Columns() []string { return append([]string{}, t.columns...) }

// NonNumeric returns the names of columns dropped because they held text.
func (t *Table) NonNumeric() []string { return append([]string{}, t.nonNumeric...) }

// HasColumn reports whether name is a numeric column.
func (t *Table) HasColumn(name string) bool {
	_, ok := t.data[name]
	return ok
}

// IsNonNumeric reports whether name was present in the source but not numeric.
func (t *Table) IsNonNumeric(name string) bool {
	for _, n := range t.nonNumeric {
		if n == name {
			return true
		}
	}
	return false
}

// Column returns the values of a column. The slice is shared with the table.
func (t *Table) Column(name string) ([]float64, bool) {
	v, ok := t.data[name]
	return v, ok
}

// SetColumn adds or replaces a column. New columns are appended to the order.
func (t *Table) SetColumn(name string, values []float64) error {
	if len(t.data) == 0 && t.rows == 0 {
		t.rows = len(values)
	}
	if len(values) != t.rows {
		return errors.NewDimensionError("Table.SetColumn("+name+")", t.rows, len(values), 0)
	}
	if _, ok := t.data[name]; !ok {
		t.columns = append(t.columns, name)
	}
	t.data[name] = values
	return nil
}

// DropColumn removes a column if present.
func (t *Table) DropColumn(name string) {
	if _, ok := t.data[name]; !ok {
		return
	}
	delete(t.data, name)
	for i, c := range t.columns {
		if c == name {
			t.columns = append(t.columns[:i:i], t.columns[i+1:]...)
			break
		}
	}
}

// HasDates reports whether the table carries a parsed date column.
func (t *Table) HasDates() bool {
	return t.DateColumn != "" && len(t.Dates) == t.rows
}

// Clone returns a deep copy.
func (t *Table) Clone() *Table {
	out := &Table{
		columns:    append([]string{}, t.columns...),
		data:       make(map[string][]float64, len(t.data)),
		nonNumeric: append([]string{}, t.nonNumeric...),
		rows:       t.rows,
		DateColumn: t.DateColumn,
	}
	for k, v := range t.data {
		out.data[k] = append([]float64{}, v...)
	}
	if t.Dates != nil {
		out.Dates = append([]time.Time{}, t.Dates...)
	}
	return out
}

// SelectRows returns a new table holding the given rows in order.
func (t *Table) SelectRows(idx []int) *Table {
	out := &Table{
		columns:    append([]string{}, t.columns...),
		data:       make(map[string][]float64, len(t.data)),
		nonNumeric: append([]string{}, t.nonNumeric...),
		rows:       len(idx),
		DateColumn: t.DateColumn,
	}
	for k, v := range t.data {
		col := make([]float64, len(idx))
		for i, r := range idx {
			col[i] = v[r]
		}
		out.data[k] = col
	}
	if t.HasDates() {
		out.Dates = make([]time.Time, len(idx))
		for i, r := range idx {
			out.Dates[i] = t.Dates[r]
		}
	}
	return out
}

// SliceRows returns rows [start, end) as a new table.
func (t *Table) SliceRows(start, end int) *Table {
	if start < 0 {
		start = 0
	}
	if end > t.rows {
		end = t.rows
	}
	idx := make([]int, 0, max(end-start, 0))
	for i := start; i < end; i++ {
		idx = append(idx, i)
	}
	return t.SelectRows(idx)
}

// Tail returns the last n rows.
func (t *Table) Tail(n int) *Table {
	return t.SliceRows(t.rows-n, t.rows)
}

// SortByDate stably sorts the rows chronologically. No-op without dates.
func (t *Table) SortByDate() {
	if !t.HasDates() {
		return
	}
	idx := make([]int, t.rows)
	for i := range idx {
		idx[i] = i
	}
	sort.SliceStable(idx, func(a, b int) bool { return t.Dates[idx[a]].Before(t.Dates[idx[b]]) })
	sorted := t.SelectRows(idx)
	t.data = sorted.data
	t.Dates = sorted.Dates
}

// MissingCount returns the number of NaN values in a column.
func (t *Table) MissingCount(name string) int {
	n := 0
	for _, v := range t.data[name] {
		if math.IsNaN(v) {
			n++
		}
	}
	return n
}
