package features

import (
	"fmt"
	"math"

	"github.com/ezoic/hydrocast/dataset"
	"github.com/ezoic/hydrocast/pkg/errors"
	"github.com/ezoic/hydrocast/pkg/log"
)

// Frame is a new-data table laid out on a training FeatureSet.
type Frame struct {
	// Table holds exactly the FeatureSet columns plus the output column.
	Table *dataset.Table
	// HasActuals is false when the new data carried no output column; the
	// output column is then all zeros.
	HasActuals bool
	// Missing lists FeatureSet columns absent from the new data, filled with 0.
	Missing []string
}

// PrepareNewData lays new data out on the FeatureSet learned at training.
//
// Only inputs known at training are used. Dynamic inputs and the output are
// lag expanded; a missing output column is treated as zeros. Rows where
// every lag column is missing are dropped, then every remaining gap and every
// FeatureSet column absent from the data is filled with 0. At least
// opts.Lags+1 rows are required when any input is dynamic.
func PrepareNewData(t *dataset.Table, opts Options, featureSet []string) (*Frame, error) {
	if t == nil || t.Len() == 0 {
		return nil, errors.NewValidationError("data", "table is empty", 0)
	}

	known := make([]string, 0, len(opts.Inputs))
	for _, in := range opts.Inputs {
		if t.HasColumn(in) {
			known = append(known, in)
		}
	}
	if len(known) == 0 {
		return nil, errors.NewValidationError("inputs",
			fmt.Sprintf("no recognised input variables, include: %v", opts.Inputs), t.Columns())
	}
	opts.Inputs = known

	minRows := 1
	if opts.HasDynamic() {
		minRows = opts.Lags + 1
	}
	if t.Len() < minRows {
		return nil, errors.NewValidationError("data",
			fmt.Sprintf("insufficient rows for %d lags", opts.Lags), t.Len())
	}

	work := t.Clone()
	hasActuals := work.HasColumn(opts.Output)
	if !hasActuals {
		if err := work.SetColumn(opts.Output, make([]float64, work.Len())); err != nil {
			return nil, err
		}
	}

	for _, in := range opts.Inputs {
		if opts.Kind(in) == Dynamic {
			if err := addLags(work, in, opts.Lags); err != nil {
				return nil, err
			}
		}
	}
	if err := addLags(work, opts.Output, opts.Lags); err != nil {
		return nil, err
	}

	// drop rows where all lag columns are missing
	var lagCols [][]float64
	for _, name := range FeatureSet(opts) {
		if IsLagColumn(name) {
			col, _ := work.Column(name)
			lagCols = append(lagCols, col)
		}
	}
	kept := make([]int, 0, work.Len())
	for r := 0; r < work.Len(); r++ {
		observed := len(lagCols) == 0
		for _, col := range lagCols {
			if !math.IsNaN(col[r]) {
				observed = true
				break
			}
		}
		if observed {
			kept = append(kept, r)
		}
	}
	work = work.SelectRows(kept)

	out := dataset.NewTable(work.Len())
	out.DateColumn = work.DateColumn
	out.Dates = work.Dates
	var missing []string
	for _, name := range append(append([]string{}, featureSet...), opts.Output) {
		col, ok := work.Column(name)
		if !ok {
			missing = append(missing, name)
			col = make([]float64, work.Len())
		} else {
			col = append([]float64{}, col...)
			for i, v := range col {
				if math.IsNaN(v) {
					col[i] = 0
				}
			}
		}
		if err := out.SetColumn(name, col); err != nil {
			return nil, err
		}
	}

	if len(missing) > 0 {
		log.GetLoggerWithName("features").Warn("New data lacks training features, filled with 0",
			log.PhaseKey, log.PhaseInference,
			"missing", missing,
		)
	}
	return &Frame{Table: out, HasActuals: hasActuals, Missing: missing}, nil
}
