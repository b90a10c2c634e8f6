package evaluation

import (
	"encoding/csv"
	"io"
	"os"
	"path/filepath"
	"strconv"

	"github.com/ezoic/hydrocast/pkg/errors"
)

// DateLayout formats record timestamps in exported files.
const DateLayout = "2006-01-02 15:04:05"

// RecordsHeader returns the CSV header for records of the output column.
func RecordsHeader(output string) []string {
	return []string{"Date", "Actual_" + output, "Predicted_" + output, "Uncertainty"}
}

// WriteRecordsCSV writes one row per record. Date falls back to the record
// index and Actual is empty when unknown.
func WriteRecordsCSV(w io.Writer, output string, recs []PredictionRecord) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(RecordsHeader(output)); err != nil {
		return errors.Wrap(err, "write csv header")
	}
	for _, r := range recs {
		date := strconv.Itoa(r.Index)
		if r.Time != nil {
			date = r.Time.Format(DateLayout)
		}
		actual := ""
		if r.Actual != nil {
			actual = formatFloat(*r.Actual)
		}
		row := []string{date, actual, formatFloat(r.Mean), formatFloat(r.Std)}
		if err := cw.Write(row); err != nil {
			return errors.Wrap(err, "write csv row")
		}
	}
	cw.Flush()
	return errors.Wrap(cw.Error(), "flush csv")
}

// WriteMetricsCSV writes the report's MetricsTable.
func WriteMetricsCSV(w io.Writer, r *Report) error {
	header, rows := r.MetricsTable()
	cw := csv.NewWriter(w)
	if err := cw.Write(header); err != nil {
		return errors.Wrap(err, "write csv header")
	}
	if err := cw.WriteAll(rows); err != nil {
		return errors.Wrap(err, "write csv rows")
	}
	return nil
}

// SaveCSV creates path (and its directory) and writes into it with fn.
func SaveCSV(path string, fn func(io.Writer) error) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return errors.Wrapf(err, "create directory for %s", path)
	}
	f, err := os.Create(path)
	if err != nil {
		return errors.Wrapf(err, "create file %s", path)
	}
	if err := fn(f); err != nil {
		_ = f.Close()
		return err
	}
	return errors.Wrap(f.Close(), "close file")
}

// ExportRun writes <split>_results.csv for every split plus metrics.csv into
// dir and returns the written paths.
func ExportRun(dir string, r *Report) ([]string, error) {
	var paths []string
	for _, sp := range splitOrder {
		s, ok := r.Splits[sp]
		if !ok {
			continue
		}
		path := filepath.Join(dir, string(sp)+"_results.csv")
		if err := SaveCSV(path, func(w io.Writer) error { return WriteRecordsCSV(w, r.Output, s.Records) }); err != nil {
			return paths, err
		}
		paths = append(paths, path)
	}
	path := filepath.Join(dir, "metrics.csv")
	if err := SaveCSV(path, func(w io.Writer) error { return WriteMetricsCSV(w, r) }); err != nil {
		return paths, err
	}
	return append(paths, path), nil
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}
