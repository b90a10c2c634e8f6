// Package features turns a raw table into the lagged feature frame consumed
// by the scaler and sequence builder.
//
// The pipeline is: validate, fill missing values, optionally replace
// outliers, then expand every dynamic input and the output into lag columns
// named "<var>_Lag_<k>". The resulting FeatureSet (ordered column names) is
// reproduced identically at train, test and inference time.
package features

import (
	"fmt"
	"strings"

	"github.com/ezoic/hydrocast/dataset"
	"github.com/ezoic/hydrocast/pkg/errors"
)

// VarKind tells whether an input is lag expanded.
type VarKind int

const (
	// Dynamic inputs are expanded into lag columns.
	Dynamic VarKind = iota
	// Static inputs are used as is.
	Static
)

func (k VarKind) String() string {
	if k == Static {
		return "Static"
	}
	return "Dynamic"
}

// ParseVarKind parses "Dynamic" or "Static" (case-insensitive).
func ParseVarKind(s string) (VarKind, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "dynamic":
		return Dynamic, nil
	case "static":
		return Static, nil
	}
	return Dynamic, errors.NewValidationError("var_type", "must be Dynamic or Static", s)
}

// MissingPolicy selects how missing values are filled.
type MissingPolicy string

const (
	MissingMedian   MissingPolicy = "median"
	MissingMean     MissingPolicy = "mean"
	MissingForward  MissingPolicy = "forward"
	MissingBackward MissingPolicy = "backward"
)

// ParseMissingPolicy accepts the policy names, plus "ffill"/"bfill".
func ParseMissingPolicy(s string) (MissingPolicy, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "median":
		return MissingMedian, nil
	case "mean":
		return MissingMean, nil
	case "forward", "ffill", "forward fill":
		return MissingForward, nil
	case "backward", "bfill", "backward fill":
		return MissingBackward, nil
	}
	return "", errors.NewValidationError("missing_policy", "must be one of median, mean, forward, backward", s)
}

// Outlier threshold bounds and default, in standard deviations.
const (
	DefaultOutlierThreshold = 3.0
	MinOutlierThreshold     = 1.0
	MaxOutlierThreshold     = 5.0
)

// Options configures Preprocess.
type Options struct {
	Inputs  []string
	Output  string
	Kinds   map[string]VarKind
	Lags    int
	Missing MissingPolicy

	RemoveOutliers   bool
	OutlierThreshold float64
}

// Kind returns the kind of an input, Dynamic when unspecified.
func (o Options) Kind(name string) VarKind {
	if k, ok := o.Kinds[name]; ok {
		return k
	}
	return Dynamic
}

// HasDynamic reports whether any input is lag expanded.
func (o Options) HasDynamic() bool {
	for _, in := range o.Inputs {
		if o.Kind(in) == Dynamic {
			return true
		}
	}
	return false
}

// LagName returns the name of the k-th lag column of v.
func LagName(v string, k int) string {
	return fmt.Sprintf("%s_Lag_%d", v, k)
}

// IsLagColumn reports whether name was produced by LagName.
func IsLagColumn(name string) bool {
	return strings.Contains(name, "_Lag_")
}

// FeatureSet returns the ordered derived column names for opts: each input in
// order (Dynamic gives its lags, Static itself), then the output lags.
func FeatureSet(opts Options) []string {
	out := make([]string, 0, (len(opts.Inputs)+1)*opts.Lags)
	for _, in := range opts.Inputs {
		if opts.Kind(in) == Static {
			out = append(out, in)
			continue
		}
		for k := 1; k <= opts.Lags; k++ {
			out = append(out, LagName(in, k))
		}
	}
	for k := 1; k <= opts.Lags; k++ {
		out = append(out, LagName(opts.Output, k))
	}
	return out
}

// Validate checks user supplied options against the table. Errors are
// ValidationErrors and must abort the run before any predictor is built.
func Validate(t *dataset.Table, opts Options) error {
	if t == nil || t.Len() == 0 {
		return errors.NewValidationError("data", "table is empty", 0)
	}
	if len(opts.Inputs) == 0 {
		return errors.NewValidationError("inputs", "select at least one input variable", opts.Inputs)
	}
	if opts.Output == "" {
		return errors.NewValidationError("output", "select an output variable", opts.Output)
	}
	if t.IsNonNumeric(opts.Output) {
		return errors.NewValidationError("output", "output variable must be numeric", opts.Output)
	}
	if !t.HasColumn(opts.Output) {
		return errors.NewValidationError("output", "column not found", opts.Output)
	}

	seen := make(map[string]bool, len(opts.Inputs))
	for _, in := range opts.Inputs {
		if in == opts.Output {
			return errors.NewValidationError("inputs", "output variable cannot be an input", in)
		}
		if seen[in] {
			return errors.NewValidationError("inputs", "duplicate input variable", in)
		}
		seen[in] = true
		if t.IsNonNumeric(in) {
			return errors.NewValidationError("inputs", "input variable must be numeric", in)
		}
		if !t.HasColumn(in) {
			return errors.NewValidationError("inputs", "column not found", in)
		}
	}

	if opts.Lags < 1 {
		return errors.NewValidationError("lags", "must be >= 1", opts.Lags)
	}
	if opts.RemoveOutliers && (opts.OutlierThreshold < MinOutlierThreshold || opts.OutlierThreshold > MaxOutlierThreshold) {
		return errors.NewValidationError("outlier_threshold",
			fmt.Sprintf("must be within [%.1f, %.1f]", MinOutlierThreshold, MaxOutlierThreshold), opts.OutlierThreshold)
	}
	if _, err := ParseMissingPolicy(string(opts.Missing)); err != nil {
		return err
	}
	if t.Len() < opts.Lags+1 {
		return errors.NewValidationError("data",
			fmt.Sprintf("need at least %d rows for %d lags", opts.Lags+1, opts.Lags), t.Len())
	}
	return nil
}
