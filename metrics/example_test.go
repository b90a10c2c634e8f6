package metrics_test

import (
	"fmt"
	"log/slog"

	"gonum.org/v1/gonum/mat"

	"github.com/ezoic/hydrocast/metrics"
)

// observed and simulated daily discharge (m³/s) for one flood week.
var (
	observedFlow  = []float64{12.0, 15.0, 30.0, 22.0, 18.0}
	simulatedFlow = []float64{13.0, 14.0, 27.0, 23.0, 18.0}
)

func flows() (*mat.VecDense, *mat.VecDense) {
	return mat.NewVecDense(len(observedFlow), append([]float64{}, observedFlow...)),
		mat.NewVecDense(len(simulatedFlow), append([]float64{}, simulatedFlow...))
}

// ExampleRMSE reports the error in discharge units.
func ExampleRMSE() {
	observed, simulated := flows()

	rmse, err := metrics.RMSE(observed, simulated)
	if err != nil {
		slog.Error("Test failed", "error", err)
		return
	}
	mae, err := metrics.MAE(observed, simulated)
	if err != nil {
		slog.Error("Test failed", "error", err)
		return
	}

	fmt.Printf("RMSE: %.3f m³/s\n", rmse)
	fmt.Printf("MAE: %.2f m³/s\n", mae)

	// Output: RMSE: 1.549 m³/s
	// MAE: 1.20 m³/s
}

// ExampleNSE demonstrates Nash–Sutcliffe Efficiency on a discharge series
func ExampleNSE() {
	observed, simulated := flows()

	nse, err := metrics.NSE(observed, simulated)
	if err != nil {
		slog.Error("Test failed", "error", err)
		return
	}
	r2, err := metrics.R2Score(observed, simulated)
	if err != nil {
		slog.Error("Test failed", "error", err)
		return
	}

	// NSE and R² share a formula on a single series
	fmt.Printf("NSE: %.3f\n", nse)
	fmt.Printf("R²: %.3f\n", r2)

	// Output: NSE: 0.939
	// R²: 0.939
}

func ExampleKGE() {
	observed, simulated := flows()

	kge, err := metrics.KGE(observed, simulated)
	if err != nil {
		slog.Error("Test failed", "error", err)
		return
	}

	fmt.Printf("KGE: %.3f\n", kge)

	// Output: KGE: 0.850
}

// ExampleMAPE skips days without flow.
func ExampleMAPE() {
	observed := mat.NewVecDense(4, []float64{0.0, 4.0, 8.0, 10.0})
	simulated := mat.NewVecDense(4, []float64{0.5, 5.0, 6.0, 10.0})

	mape, err := metrics.MAPE(observed, simulated)
	if err != nil {
		slog.Error("Test failed", "error", err)
		return
	}

	fmt.Printf("MAPE: %.2f%%\n", mape)

	// Output: MAPE: 16.67%
}

// ExampleLookup demonstrates selecting metrics by display name
func ExampleLookup() {
	observed := mat.NewVecDense(3, []float64{10.0, 20.0, 30.0})
	simulated := mat.NewVecDense(3, []float64{11.0, 22.0, 33.0})

	for _, name := range []string{"PBIAS", "VolumeError", "PeakFlowError"} {
		fn, err := metrics.Lookup(name)
		if err != nil {
			slog.Error("Test failed", "error", err)
			return
		}
		v, _ := fn(observed, simulated)
		fmt.Printf("%s: %.1f\n", name, v)
	}

	// Output: PBIAS: 10.0
	// VolumeError: 10.0
	// PeakFlowError: 10.0
}

// ExampleCompute resolves aliases case-insensitively.
func ExampleCompute() {
	for _, alias := range []string{"r2", "mse", "peak_flow_error"} {
		name, _ := metrics.Canonical(alias)
		v, err := metrics.Compute(alias, observedFlow, simulatedFlow)
		if err != nil {
			slog.Error("Test failed", "error", err)
			return
		}
		fmt.Printf("%s: %.3f\n", name, v)
	}

	// Output: R²: 0.939
	// MSE: 2.400
	// PeakFlowError: -10.000
}
