package dataset_test

import (
	"math"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"

	"github.com/ezoic/hydrocast/dataset"
	"github.com/ezoic/hydrocast/pkg/errors"
)

const sampleCSV = `Date,Rainfall,Discharge,Station
2024-01-03,3.0,30,A
2024-01-01,1.0,10,B
2024-01-02,,20,C
`

func TestReadCSVDetectsAndSortsDates(t *testing.T) {
	tbl, err := dataset.ReadCSV(strings.NewReader(sampleCSV), dataset.ReadOptions{})
	require.NoError(t, err)

	assert.Equal(t, 3, tbl.Len())
	assert.Equal(t, "Date", tbl.DateColumn)
	assert.Equal(t, []string{"Rainfall", "Discharge"}, tbl.Columns())
	assert.Equal(t, []string{"Station"}, tbl.NonNumeric())
	assert.True(t, tbl.IsNonNumeric("Station"))

	q, ok := tbl.Column("Discharge")
	require.True(t, ok)
	assert.Equal(t, []float64{10, 20, 30}, q)

	rain, _ := tbl.Column("Rainfall")
	assert.True(t, math.IsNaN(rain[1]))
	assert.Equal(t, 1, tbl.MissingCount("Rainfall"))
	assert.Equal(t, 1, tbl.Dates[0].Day())
}

func TestReadCSVWithoutDates(t *testing.T) {
	csv := "a,b\n1,2\n3,4\n"
	tbl, err := dataset.ReadCSV(strings.NewReader(csv), dataset.ReadOptions{})
	require.NoError(t, err)
	assert.False(t, tbl.HasDates())
	assert.Equal(t, 2, tbl.Len())
}

func TestReadCSVForcedDateColumnMissing(t *testing.T) {
	_, err := dataset.ReadCSV(strings.NewReader("a,b\n1,2\n"), dataset.ReadOptions{DateColumn: "when"})
	assert.True(t, errors.Is(err, errors.ErrInvalidInput))
}

func TestReadCSVDatesDisabled(t *testing.T) {
	tbl, err := dataset.ReadCSV(strings.NewReader(sampleCSV), dataset.ReadOptions{DateColumn: "none"})
	require.NoError(t, err)
	assert.False(t, tbl.HasDates())
	assert.Contains(t, tbl.NonNumeric(), "Date")
}

func TestReadCSVEmpty(t *testing.T) {
	_, err := dataset.ReadCSV(strings.NewReader("a,b\n"), dataset.ReadOptions{})
	assert.True(t, errors.Is(err, errors.ErrEmptyData))
}

func TestReadJSONRecords(t *testing.T) {
	js := `[{"date":"2024-01-02","q":2.5,"p":null},{"date":"2024-01-01","q":1.5,"p":4}]`
	tbl, err := dataset.ReadJSON(strings.NewReader(js), dataset.ReadOptions{})
	require.NoError(t, err)

	assert.Equal(t, "date", tbl.DateColumn)
	assert.Equal(t, []string{"p", "q"}, tbl.Columns())
	q, _ := tbl.Column("q")
	assert.Equal(t, []float64{1.5, 2.5}, q)
	p, _ := tbl.Column("p")
	assert.Equal(t, 4.0, p[0])
	assert.True(t, math.IsNaN(p[1]))
}

func TestReadJSONColumns(t *testing.T) {
	js := `{"flow":[1,2,3],"rain":[0,1,0]}`
	tbl, err := dataset.ReadJSON(strings.NewReader(js), dataset.ReadOptions{})
	require.NoError(t, err)
	assert.Equal(t, 3, tbl.Len())
	assert.Equal(t, []string{"flow", "rain"}, tbl.Columns())

	_, err = dataset.ReadJSON(strings.NewReader(`{"a":[1,2],"b":[1]}`), dataset.ReadOptions{})
	assert.True(t, errors.Is(err, errors.ErrDimensionMismatch))

	_, err = dataset.ReadJSON(strings.NewReader(`42`), dataset.ReadOptions{})
	assert.Error(t, err)
}

func TestReadXLSX(t *testing.T) {
	path := filepath.Join(t.TempDir(), "flows.xlsx")

	f := excelize.NewFile()
	sheet := f.GetSheetName(0)
	rows := [][]interface{}{
		{"Date", "Rainfall", "Discharge"},
		{"2024-02-01", 1.5, 12},
		{"2024-02-02", 0.5, 14},
	}
	for i, row := range rows {
		cell, err := excelize.CoordinatesToCellName(1, i+1)
		require.NoError(t, err)
		require.NoError(t, f.SetSheetRow(sheet, cell, &row))
	}
	require.NoError(t, f.SaveAs(path))
	require.NoError(t, f.Close())

	tbl, err := dataset.ReadFile(path, dataset.ReadOptions{})
	require.NoError(t, err)
	assert.Equal(t, 2, tbl.Len())
	assert.Equal(t, "Date", tbl.DateColumn)
	q, _ := tbl.Column("Discharge")
	assert.Equal(t, []float64{12, 14}, q)
}

func TestReadFileUnsupported(t *testing.T) {
	_, err := dataset.ReadFile("data.parquet", dataset.ReadOptions{})
	assert.True(t, errors.Is(err, errors.ErrInvalidInput))
}

func TestDateCandidates(t *testing.T) {
	rows := [][]string{
		{"obs", "timestamp", "update_count", "Date"},
		{"1", "2024-01-01 10:00:00", "7", "2024-01-01"},
	}
	assert.Equal(t, []string{"Date", "timestamp"}, dataset.DateCandidates(rows))
}
