// Package evaluation aligns predictions with actuals, scores them with the
// metric library and exports the results as CSV files and PNG plots.
package evaluation

import (
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/ezoic/hydrocast/metrics"
	"github.com/ezoic/hydrocast/pkg/log"
	"github.com/ezoic/hydrocast/predictor"
)

// Split names a partition of a run.
type Split string

const (
	Training   Split = "training"
	Validation Split = "validation"
	Testing    Split = "testing"
	NewData    Split = "new_data"
	Forecast   Split = "forecast"
)

// splitOrder is the column order of MetricsTable.
var splitOrder = []Split{Training, Validation, Testing, NewData, Forecast}

// PredictionRecord is one predicted step.
type PredictionRecord struct {
	Index  int        `json:"index"`
	Time   *time.Time `json:"time,omitempty"`
	Actual *float64   `json:"actual,omitempty"`
	Mean   float64    `json:"predicted"`
	Std    float64    `json:"std"`
}

// Lower and Upper bound the 95% band mean ± 1.96·std.
func (r PredictionRecord) Lower() float64 { return r.Mean - 1.96*r.Std }
func (r PredictionRecord) Upper() float64 { return r.Mean + 1.96*r.Std }

// NewRecords zips the arrays into records, truncating to the shortest of
// them. A nil dates or actual slice is omitted rather than truncating to 0.
func NewRecords(dates []time.Time, actual, mean, std []float64) []PredictionRecord {
	n := min(len(mean), len(std))
	if dates != nil {
		n = min(n, len(dates))
	}
	if actual != nil {
		n = min(n, len(actual))
	}
	out := make([]PredictionRecord, n)
	for i := range out {
		out[i] = PredictionRecord{Index: i, Mean: mean[i], Std: std[i]}
		if dates != nil {
			d := dates[i]
			out[i].Time = &d
		}
		if actual != nil {
			a := actual[i]
			out[i].Actual = &a
		}
	}
	return out
}

// Scores holds metric values by display name. A metric that could not be
// computed is listed in Errors instead of Values.
type Scores struct {
	Names  []string           `json:"names"`
	Values map[string]float64 `json:"values"`
	Errors map[string]string  `json:"errors,omitempty"`
}

// Get returns the value of a metric and whether it was computed.
func (s Scores) Get(name string) (float64, bool) {
	if c, ok := metrics.Canonical(name); ok {
		name = c
	}
	v, ok := s.Values[name]
	return v, ok
}

// Evaluate scores predicted against actual after truncating both to the
// shorter length. Empty names selects metrics.DefaultNames.
func Evaluate(actual, predicted []float64, names []string) Scores {
	if len(names) == 0 {
		names = metrics.DefaultNames
	}
	n := min(len(actual), len(predicted))
	if len(actual) != len(predicted) {
		log.GetLoggerWithName("evaluation").Debug("Length mismatch, truncating",
			"actual", len(actual),
			"predicted", len(predicted),
		)
	}
	a, p := actual[:n], predicted[:n]

	s := Scores{Values: map[string]float64{}, Errors: map[string]string{}}
	for _, name := range names {
		display := name
		if c, ok := metrics.Canonical(name); ok {
			display = c
		}
		s.Names = append(s.Names, display)
		v, err := metrics.Compute(display, a, p)
		if err != nil {
			s.Errors[display] = err.Error()
			continue
		}
		s.Values[display] = v
	}
	return s
}

// SplitResult is the scored output of one partition.
type SplitResult struct {
	Split   Split              `json:"split"`
	Records []PredictionRecord `json:"records"`
	Scores  *Scores            `json:"scores,omitempty"`
}

// NewSplitResult builds the records of a split and, when actuals are given,
// scores the predicted means.
func NewSplitResult(split Split, dates []time.Time, actual, mean, std []float64, names []string) *SplitResult {
	res := &SplitResult{Split: split, Records: NewRecords(dates, actual, mean, std)}
	if actual != nil {
		s := Evaluate(actual, mean, names)
		res.Scores = &s
	}
	return res
}

// Means returns the predicted means of the records.
func (s *SplitResult) Means() []float64 {
	out := make([]float64, len(s.Records))
	for i, r := range s.Records {
		out[i] = r.Mean
	}
	return out
}

// Report collects the splits of one run.
type Report struct {
	RunID     uuid.UUID              `json:"run_id"`
	Model     predictor.Kind         `json:"model"`
	Output    string                 `json:"output"`
	CreatedAt time.Time              `json:"created_at"`
	Splits    map[Split]*SplitResult `json:"splits"`
	History   *predictor.History     `json:"history,omitempty"`
}

// NewReport creates an empty report with a fresh run id.
func NewReport(model predictor.Kind, output string) *Report {
	return &Report{
		RunID:     uuid.New(),
		Model:     model,
		Output:    output,
		CreatedAt: time.Now().UTC(),
		Splits:    map[Split]*SplitResult{},
	}
}

// Add stores a split result, replacing any previous one for the same split.
func (r *Report) Add(s *SplitResult) {
	r.Splits[s.Split] = s
}

// Scored returns the splits that carry scores, in table order.
func (r *Report) Scored() []*SplitResult {
	var out []*SplitResult
	for _, sp := range splitOrder {
		if s, ok := r.Splits[sp]; ok && s.Scores != nil {
			out = append(out, s)
		}
	}
	return out
}

// MetricsTable lays the scored splits out as rows of
// [metric, value per split]. Metrics that failed are reported as "n/a".
func (r *Report) MetricsTable() (header []string, rows [][]string) {
	header = []string{"Metric"}
	splits := r.Scored()
	for _, s := range splits {
		header = append(header, string(s.Split))
	}
	if len(splits) == 0 {
		return header, nil
	}

	seen := map[string]bool{}
	for _, s := range splits {
		for _, name := range s.Scores.Names {
			if seen[name] {
				continue
			}
			seen[name] = true
			row := []string{name}
			for _, other := range splits {
				if v, ok := other.Scores.Values[name]; ok {
					row = append(row, fmt.Sprintf("%.4f", v))
				} else {
					row = append(row, "n/a")
				}
			}
			rows = append(rows, row)
		}
	}
	return header, rows
}
