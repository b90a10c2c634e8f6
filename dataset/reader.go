package dataset

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/xuri/excelize/v2"

	"github.com/ezoic/hydrocast/pkg/errors"
	"github.com/ezoic/hydrocast/pkg/log"
)

// ReadOptions controls how a file is turned into a Table.
type ReadOptions struct {
	// Sheet selects the worksheet of an .xlsx file. Empty means the first sheet.
	Sheet string
	// DateColumn forces the date column. Empty enables detection; "none"
	// disables dates entirely.
	DateColumn string
}

// DateLayouts are the timestamp formats recognised in date columns.
var DateLayouts = []string{
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"2006-01-02 15:04",
	"2006-01-02",
	"2006/01/02",
	"01/02/2006",
	"02.01.2006",
}

// ParseDate parses s with the first matching layout of DateLayouts.
func ParseDate(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	for _, layout := range DateLayouts {
		if ts, err := time.Parse(layout, s); err == nil {
			return ts, nil
		}
	}
	return time.Time{}, errors.Newf("unrecognised date %q", s)
}

// ReadFile loads a .csv, .xlsx or .json file.
func ReadFile(path string, opts ReadOptions) (*Table, error) {
	ext := strings.ToLower(filepath.Ext(path))
	switch ext {
	case ".xlsx":
		return ReadXLSX(path, opts)
	case ".csv":
		f, err := os.Open(path)
		if err != nil {
			return nil, errors.Wrapf(err, "failed to open %s", path)
		}
		defer func() { _ = f.Close() }()
		return ReadCSV(f, opts)
	case ".json":
		f, err := os.Open(path)
		if err != nil {
			return nil, errors.Wrapf(err, "failed to open %s", path)
		}
		defer func() { _ = f.Close() }()
		return ReadJSON(f, opts)
	default:
		return nil, errors.NewValueError("dataset.ReadFile", fmt.Sprintf("unsupported input extension: %s", ext))
	}
}

// ReadCSV parses CSV with a header row.
func ReadCSV(r io.Reader, opts ReadOptions) (*Table, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	cr.TrimLeadingSpace = true
	rows, err := cr.ReadAll()
	if err != nil {
		return nil, errors.Wrap(err, "failed to read csv")
	}
	return FromRows(rows, opts)
}

// ReadXLSX parses a worksheet with a header row.
func ReadXLSX(path string, opts ReadOptions) (*Table, error) {
	f, err := excelize.OpenFile(path)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to open %s", path)
	}
	defer func() { _ = f.Close() }()

	sheet := opts.Sheet
	if sheet == "" {
		sheet = f.GetSheetName(0)
	}
	rows, err := f.GetRows(sheet)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to read sheet %q", sheet)
	}
	return FromRows(rows, opts)
}

// ReadJSON parses either an array of records ([{"col": v, ...}, ...]) or a
// column map ({"col": [v, ...], ...}). Columns are ordered by name.
func ReadJSON(r io.Reader, opts ReadOptions) (*Table, error) {
	dec := json.NewDecoder(r)
	dec.UseNumber()

	var raw interface{}
	if err := dec.Decode(&raw); err != nil {
		return nil, errors.Wrap(err, "failed to decode json")
	}

	switch v := raw.(type) {
	case []interface{}:
		return recordsToTable(v, opts)
	case map[string]interface{}:
		return columnsToTable(v, opts)
	default:
		return nil, errors.NewValueError("dataset.ReadJSON", "expected an array of records or a column map")
	}
}

func recordsToTable(records []interface{}, opts ReadOptions) (*Table, error) {
	keySet := make(map[string]struct{})
	for _, rec := range records {
		m, ok := rec.(map[string]interface{})
		if !ok {
			return nil, errors.NewValueError("dataset.ReadJSON", "record is not an object")
		}
		for k := range m {
			keySet[k] = struct{}{}
		}
	}
	keys := sortedKeys(keySet)

	rows := make([][]string, 0, len(records)+1)
	rows = append(rows, keys)
	for _, rec := range records {
		m := rec.(map[string]interface{})
		row := make([]string, len(keys))
		for i, k := range keys {
			row[i] = jsonCell(m[k])
		}
		rows = append(rows, row)
	}
	return FromRows(rows, opts)
}

func columnsToTable(cols map[string]interface{}, opts ReadOptions) (*Table, error) {
	keySet := make(map[string]struct{}, len(cols))
	n := -1
	for k, v := range cols {
		arr, ok := v.([]interface{})
		if !ok {
			return nil, errors.NewValueError("dataset.ReadJSON", fmt.Sprintf("column %q is not an array", k))
		}
		if n >= 0 && len(arr) != n {
			return nil, errors.NewDimensionError("dataset.ReadJSON("+k+")", n, len(arr), 0)
		}
		n = len(arr)
		keySet[k] = struct{}{}
	}
	keys := sortedKeys(keySet)

	rows := make([][]string, 0, n+1)
	rows = append(rows, keys)
	for r := 0; r < n; r++ {
		row := make([]string, len(keys))
		for i, k := range keys {
			row[i] = jsonCell(cols[k].([]interface{})[r])
		}
		rows = append(rows, row)
	}
	return FromRows(rows, opts)
}

func jsonCell(v interface{}) string {
	switch x := v.(type) {
	case nil:
		return ""
	case json.Number:
		return x.String()
	case string:
		return x
	case bool:
		if x {
			return "1"
		}
		return "0"
	default:
		return fmt.Sprint(x)
	}
}

func sortedKeys(set map[string]struct{}) []string {
	keys := make([]string, 0, len(set))
	for k := range set {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// FromRows builds a Table from a header row followed by data rows.
// Empty cells and "NaN"/"NA"/"null" become NaN. Columns holding other text are
// recorded as non-numeric and excluded. When a date column is found, its
// values are parsed and the rows sorted chronologically.
func FromRows(rows [][]string, opts ReadOptions) (*Table, error) {
	if len(rows) < 2 {
		return nil, errors.NewModelError("dataset.FromRows", "need header + at least one row", errors.ErrEmptyData)
	}

	headers := make([]string, len(rows[0]))
	for ci, h := range rows[0] {
		h = strings.TrimSpace(strings.TrimPrefix(h, "\ufeff"))
		if h == "" {
			h = fmt.Sprintf("col_%d", ci)
		}
		headers[ci] = h
	}
	dataRows := rows[1:]

	cell := func(row []string, ci int) string {
		if ci >= len(row) {
			return ""
		}
		return strings.TrimSpace(row[ci])
	}

	dateIdx := detectDateColumn(headers, dataRows, opts.DateColumn)
	if opts.DateColumn != "" && !strings.EqualFold(opts.DateColumn, "none") && dateIdx < 0 {
		return nil, errors.NewValidationError("date_column", "column not found", opts.DateColumn)
	}

	t := NewTable(len(dataRows))
	for ci, h := range headers {
		if ci == dateIdx {
			dates := make([]time.Time, len(dataRows))
			for ri, row := range dataRows {
				ts, err := ParseDate(cell(row, ci))
				if err != nil {
					return nil, errors.NewValueError("dataset.FromRows",
						fmt.Sprintf("row %d: column %s: %v", ri+1, h, err))
				}
				dates[ri] = ts
			}
			t.DateColumn = h
			t.Dates = dates
			continue
		}

		vals := make([]float64, len(dataRows))
		numeric := true
		for ri, row := range dataRows {
			v, ok := parseNumber(cell(row, ci))
			if !ok {
				numeric = false
				break
			}
			vals[ri] = v
		}
		if !numeric {
			t.nonNumeric = append(t.nonNumeric, h)
			continue
		}
		if err := t.SetColumn(h, vals); err != nil {
			return nil, err
		}
	}

	if t.HasDates() {
		t.SortByDate()
	}

	log.GetLoggerWithName("dataset").Debug("Table loaded",
		log.SamplesKey, t.Len(),
		log.FeaturesKey, len(t.columns),
		"date_column", t.DateColumn,
	)
	return t, nil
}

func parseNumber(s string) (float64, bool) {
	switch strings.ToLower(s) {
	case "", "nan", "na", "n/a", "null", "none":
		return math.NaN(), true
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, false
	}
	return v, true
}

// DateCandidates lists columns whose values all parse as dates. Columns
// whose name contains "date" come first.
func DateCandidates(rows [][]string) []string {
	if len(rows) < 2 {
		return nil
	}
	var named, other []string
	for ci, h := range rows[0] {
		if !isDateColumn(rows[1:], ci) {
			continue
		}
		h = strings.TrimSpace(h)
		if strings.Contains(strings.ToLower(h), "date") {
			named = append(named, h)
		} else {
			other = append(other, h)
		}
	}
	return append(named, other...)
}

func detectDateColumn(headers []string, data [][]string, forced string) int {
	if strings.EqualFold(forced, "none") {
		return -1
	}
	if forced != "" {
		for ci, h := range headers {
			if h == forced {
				return ci
			}
		}
		return -1
	}
	fallback := -1
	for ci, h := range headers {
		if !isDateColumn(data, ci) {
			continue
		}
		if strings.Contains(strings.ToLower(h), "date") {
			return ci
		}
		if fallback < 0 {
			fallback = ci
		}
	}
	return fallback
}

func isDateColumn(data [][]string, ci int) bool {
	seen := 0
	for _, row := range data {
		if ci >= len(row) {
			return false
		}
		s := strings.TrimSpace(row[ci])
		if s == "" {
			return false
		}
		if _, err := strconv.ParseFloat(s, 64); err == nil {
			return false
		}
		if _, err := ParseDate(s); err != nil {
			return false
		}
		seen++
	}
	return seen > 0
}
