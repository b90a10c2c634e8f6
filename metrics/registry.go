package metrics

import (
	"sort"
	"strings"

	"gonum.org/v1/gonum/mat"

	"github.com/ezoic/hydrocast/pkg/errors"
)

// Func is the common signature of every metric.
type Func func(yTrue, yPred *mat.VecDense) (float64, error)

// Display names.
const (
	NameRMSE          = "RMSE"
	NameMAE           = "MAE"
	NameR2            = "R²"
	NameNSE           = "NSE"
	NameKGE           = "KGE"
	NameMAPE          = "MAPE"
	NamePBIAS         = "PBIAS"
	NamePeakFlowError = "PeakFlowError"
	NameHighFlowBias  = "HighFlowBias"
	NameLowFlowBias   = "LowFlowBias"
	NameVolumeError   = "VolumeError"
	NameMSE           = "MSE"
)

var registry = map[string]Func{
	NameMSE:           MSE,
	NameRMSE:          RMSE,
	NameMAE:           MAE,
	NameR2:            R2Score,
	NameNSE:           NSE,
	NameKGE:           KGE,
	NameMAPE:          MAPE,
	NamePBIAS:         PBias,
	NamePeakFlowError: PeakFlowError,
	NameHighFlowBias:  HighFlowBias,
	NameLowFlowBias:   LowFlowBias,
	NameVolumeError:   VolumeError,
}

var aliases = map[string]string{
	"R2":              NameR2,
	"R2SCORE":         NameR2,
	"PEAK_FLOW_ERROR": NamePeakFlowError,
	"HIGH_FLOW_BIAS":  NameHighFlowBias,
	"LOW_FLOW_BIAS":   NameLowFlowBias,
	"VOLUME_ERROR":    NameVolumeError,
}

// DefaultNames are the metrics reported when the user selects none.
var DefaultNames = []string{NameRMSE, NameMAE, NameR2, NameNSE, NameKGE, NameMAPE}

// Canonical resolves a display name or alias (case-insensitive) to its
// registered display name.
func Canonical(name string) (string, bool) {
	if _, ok := registry[name]; ok {
		return name, true
	}
	upper := strings.ToUpper(strings.TrimSpace(name))
	if c, ok := aliases[upper]; ok {
		return c, true
	}
	for k := range registry {
		if strings.ToUpper(k) == upper {
			return k, true
		}
	}
	return "", false
}

// Lookup returns the metric registered under name.
func Lookup(name string) (Func, error) {
	c, ok := Canonical(name)
	if !ok {
		return nil, errors.NewValidationError("metric", "unknown metric", name)
	}
	return registry[c], nil
}

// Names returns every registered display name, sorted.
func Names() []string {
	out := make([]string, 0, len(registry))
	for k := range registry {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// Compute evaluates a metric by name over plain slices.
func Compute(name string, actual, predicted []float64) (float64, error) {
	fn, err := Lookup(name)
	if err != nil {
		return 0, err
	}
	if len(actual) == 0 || len(predicted) == 0 {
		return 0, errors.NewModelError(name, "empty vector", errors.ErrEmptyData)
	}
	return fn(mat.NewVecDense(len(actual), append([]float64{}, actual...)),
		mat.NewVecDense(len(predicted), append([]float64{}, predicted...)))
}
