package features

import (
	"math"
	"strings"
	"time"

	"gonum.org/v1/gonum/stat"

	"github.com/ezoic/hydrocast/dataset"
	"github.com/ezoic/hydrocast/pkg/errors"
	"github.com/ezoic/hydrocast/pkg/log"
)

// Engineering limits.
const (
	RollingWindow       = 3
	MaxInteractionBase  = 10
	MaxInteractionPairs = 4
)

// Calendar feature names.
var CalendarFeatures = []string{"hour", "day", "month", "day_of_week", "is_weekend"}

// EngineerResult is the outcome of Engineer.
type EngineerResult struct {
	Table *dataset.Table
	// Added lists the new feature columns, to be appended to the FeatureSet.
	Added []string
	// Degraded is non-nil when engineering failed; Table is then unmodified.
	Degraded error
}

// Engineer adds optional derived features to a preprocessed table: calendar
// fields when dates are present, rolling mean/std over each lagged base
// variable's _Lag_1 column, and pairwise products between the first
// non-lag features. Best effort: failures are reported in Degraded.
func Engineer(t *dataset.Table, features []string, output string) (res EngineerResult) {
	logger := log.GetLoggerWithName("features")

	var err error
	defer func() {
		if err != nil {
			logger.Warn("Feature engineering failed, keeping base features",
				log.PhaseKey, log.PhasePreprocessing,
				"error", err,
			)
			res = EngineerResult{Table: t, Degraded: err}
		}
	}()
	defer errors.Recover(&err, "features.Engineer")

	if t == nil || t.Len() == 0 {
		err = errors.NewModelError("features.Engineer", "empty table", errors.ErrEmptyData)
		return EngineerResult{}
	}

	work := t.Clone()
	var added []string

	if work.HasDates() {
		added = append(added, addCalendar(work)...)
	}

	rolling, err := addRolling(work, features)
	if err != nil {
		return EngineerResult{}
	}
	added = append(added, rolling...)

	inter, err := addInteractions(work, features, output)
	if err != nil {
		return EngineerResult{}
	}
	added = append(added, inter...)

	logger.Info("Feature engineering completed",
		log.PhaseKey, log.PhasePreprocessing,
		log.FeaturesKey, len(features)+len(added),
		"added", len(added),
	)
	return EngineerResult{Table: work, Added: added}
}

func addCalendar(t *dataset.Table) []string {
	n := t.Len()
	cols := make([][]float64, len(CalendarFeatures))
	for i := range cols {
		cols[i] = make([]float64, n)
	}
	for r, ts := range t.Dates {
		cols[0][r] = float64(ts.Hour())
		cols[1][r] = float64(ts.Day())
		cols[2][r] = float64(ts.Month())
		// Monday = 0
		cols[3][r] = float64((int(ts.Weekday()) + 6) % 7)
		if ts.Weekday() == time.Saturday || ts.Weekday() == time.Sunday {
			cols[4][r] = 1
		}
	}
	added := make([]string, 0, len(CalendarFeatures))
	for i, name := range CalendarFeatures {
		if t.HasColumn(name) {
			continue
		}
		_ = t.SetColumn(name, cols[i])
		added = append(added, name)
	}
	return added
}

// RollingName returns the name of a rolling statistic column.
func RollingName(base, kind string) string {
	return base + "_Rolling_" + kind + "_3"
}

func addRolling(t *dataset.Table, features []string) ([]string, error) {
	var added []string
	for _, f := range features {
		if !strings.HasSuffix(f, "_Lag_1") {
			continue
		}
		base := strings.TrimSuffix(f, "_Lag_1")
		col, ok := t.Column(f)
		if !ok {
			return nil, errors.NewValueError("features.Engineer", "column not found: "+f)
		}
		mean, std := Rolling(col, RollingWindow)
		meanName, stdName := RollingName(base, "Mean"), RollingName(base, "Std")
		if err := t.SetColumn(meanName, mean); err != nil {
			return nil, err
		}
		if err := t.SetColumn(stdName, std); err != nil {
			return nil, err
		}
		added = append(added, meanName, stdName)
	}
	return added, nil
}

// Rolling computes the trailing rolling mean and sample standard deviation
// with the given window and a minimum of one period. The std of a single
// value is 0.
func Rolling(col []float64, window int) (mean, std []float64) {
	mean = make([]float64, len(col))
	std = make([]float64, len(col))
	for i := range col {
		lo := max(0, i-window+1)
		w := finite(col[lo : i+1])
		if len(w) == 0 {
			mean[i], std[i] = math.NaN(), math.NaN()
			continue
		}
		if len(w) == 1 {
			mean[i] = w[0]
			continue
		}
		mean[i], std[i] = stat.MeanStdDev(w, nil)
	}
	return mean, std
}

func addInteractions(t *dataset.Table, features []string, output string) ([]string, error) {
	base := make([]string, 0, MaxInteractionBase)
	for _, f := range features {
		if IsLagColumn(f) || f == output {
			continue
		}
		base = append(base, f)
		if len(base) == MaxInteractionBase {
			break
		}
	}

	var added []string
	for i, a := range base {
		ca, ok := t.Column(a)
		if !ok {
			return nil, errors.NewValueError("features.Engineer", "column not found: "+a)
		}
		for j := i + 1; j < len(base) && j <= i+MaxInteractionPairs; j++ {
			b := base[j]
			cb, ok := t.Column(b)
			if !ok {
				return nil, errors.NewValueError("features.Engineer", "column not found: "+b)
			}
			prod := make([]float64, len(ca))
			for r := range ca {
				prod[r] = ca[r] * cb[r]
			}
			name := a + "_x_" + b
			if err := t.SetColumn(name, prod); err != nil {
				return nil, err
			}
			added = append(added, name)
		}
	}
	return added, nil
}
