package features

import (
	"math"
	"time"

	"github.com/ezoic/hydrocast/dataset"
	"github.com/ezoic/hydrocast/pkg/errors"
	"github.com/ezoic/hydrocast/pkg/log"
)

// Result is the outcome of Preprocess.
type Result struct {
	// Table holds the cleaned columns plus the lag columns, with rows missing
	// any lag value dropped.
	Table *dataset.Table
	// Features is the ordered FeatureSet.
	Features []string
	// Degraded is non-nil when preprocessing failed and Table is the
	// original, unlagged input. Features is then the plain input list.
	Degraded error
}

// Preprocess cleans the table and builds the lag features described by opts.
//
// The stage never fails the caller: any error or panic degrades to the
// original table with the unlagged input list, Degraded set to the reason
// and a warning logged. Call Validate first to reject bad user input.
//
// Example:
//
//	res := features.Preprocess(tbl, features.Options{
//	    Inputs:  []string{"Rainfall"},
//	    Output:  "Discharge",
//	    Lags:    3,
//	    Missing: features.MissingMedian,
//	})
//	if res.Degraded != nil {
//	    logger.Warn("running on unlagged inputs", "error", res.Degraded)
//	}
func Preprocess(t *dataset.Table, opts Options) (res Result) {
	logger := log.GetLoggerWithName("features")
	start := time.Now()

	degrade := func(err error) Result {
		logger.Warn("Preprocessing failed, continuing with unlagged inputs",
			log.OperationKey, log.OperationTransform,
			log.PhaseKey, log.PhasePreprocessing,
			"error", err,
		)
		return Result{Table: t, Features: append([]string{}, opts.Inputs...), Degraded: err}
	}

	var err error
	defer func() {
		if err != nil {
			res = degrade(err)
		}
	}()
	defer errors.Recover(&err, "features.Preprocess")

	out, err := preprocess(t, opts)
	if err != nil {
		return Result{}
	}

	logger.Info("Lag generation completed",
		log.OperationKey, log.OperationTransform,
		log.PhaseKey, log.PhasePreprocessing,
		log.SamplesKey, out.Table.Len(),
		log.FeaturesKey, len(out.Features),
		log.DurationMsKey, time.Since(start).Milliseconds(),
	)
	return out
}

func preprocess(t *dataset.Table, opts Options) (Result, error) {
	if t == nil || t.Len() == 0 {
		return Result{}, errors.NewModelError("features.Preprocess", "empty table", errors.ErrEmptyData)
	}
	if opts.Lags < 1 {
		return Result{}, errors.NewValidationError("lags", "must be >= 1", opts.Lags)
	}

	work := t.Clone()
	vars := append(append([]string{}, opts.Inputs...), opts.Output)

	for _, v := range vars {
		col, ok := work.Column(v)
		if !ok {
			return Result{}, errors.NewValueError("features.Preprocess", "column not found: "+v)
		}
		filled, err := FillMissing(col, opts.Missing)
		if err != nil {
			return Result{}, err
		}
		if opts.RemoveOutliers {
			threshold := opts.OutlierThreshold
			if threshold == 0 {
				threshold = DefaultOutlierThreshold
			}
			var n int
			filled, n = ReplaceOutliers(filled, threshold)
			if n > 0 {
				log.GetLoggerWithName("features").Debug("Outliers replaced", "column", v, "count", n)
			}
		}
		if err := work.SetColumn(v, filled); err != nil {
			return Result{}, err
		}
	}

	for _, in := range opts.Inputs {
		if opts.Kind(in) == Dynamic {
			if err := addLags(work, in, opts.Lags); err != nil {
				return Result{}, err
			}
		}
	}
	if err := addLags(work, opts.Output, opts.Lags); err != nil {
		return Result{}, err
	}

	names := FeatureSet(opts)
	lagCols := make([]string, 0, len(names))
	for _, n := range names {
		if IsLagColumn(n) {
			lagCols = append(lagCols, n)
		}
	}
	kept := completeRows(work, lagCols)
	if len(kept) == 0 {
		return Result{}, errors.NewModelError("features.Preprocess", "no rows left after lagging", errors.ErrInsufficientData)
	}

	return Result{Table: work.SelectRows(kept), Features: names}, nil
}

// addLags appends the columns <v>_Lag_1..<v>_Lag_lags. Shifted-in positions
// are NaN.
func addLags(t *dataset.Table, v string, lags int) error {
	col, ok := t.Column(v)
	if !ok {
		return errors.NewValueError("features.addLags", "column not found: "+v)
	}
	for k := 1; k <= lags; k++ {
		if err := t.SetColumn(LagName(v, k), Shift(col, k)); err != nil {
			return err
		}
	}
	return nil
}

// Shift returns col delayed by k positions, NaN padded at the start.
func Shift(col []float64, k int) []float64 {
	out := make([]float64, len(col))
	for i := range out {
		if i-k >= 0 && i-k < len(col) {
			out[i] = col[i-k]
		} else {
			out[i] = math.NaN()
		}
	}
	return out
}

// completeRows returns the indices of rows with no NaN in cols.
func completeRows(t *dataset.Table, cols []string) []int {
	data := make([][]float64, len(cols))
	for i, c := range cols {
		data[i], _ = t.Column(c)
	}
	kept := make([]int, 0, t.Len())
rows:
	for r := 0; r < t.Len(); r++ {
		for _, col := range data {
			if math.IsNaN(col[r]) {
				continue rows
			}
		}
		kept = append(kept, r)
	}
	return kept
}
