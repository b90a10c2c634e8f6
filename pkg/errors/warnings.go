package errors

import (
	"fmt"
	"math"
	"sync"

	zlog "github.com/rs/zerolog/log"
)

// ConvergenceWarning is reported when an iterative optimiser stops before converging.
type ConvergenceWarning struct {
	Algorithm  string
	Iterations int
	Message    string
}

// NewConvergenceWarning creates a ConvergenceWarning.
func NewConvergenceWarning(algorithm string, iterations int, message string) *ConvergenceWarning {
	return &ConvergenceWarning{Algorithm: algorithm, Iterations: iterations, Message: message}
}

func (w *ConvergenceWarning) Error() string {
	return fmt.Sprintf("hydrocast: %s did not converge after %d iterations: %s", w.Algorithm, w.Iterations, w.Message)
}

// NumericalWarning describes a non-finite value detected during computation.
type NumericalWarning struct {
	Name      string
	Value     float64
	Iteration int
}

func (w *NumericalWarning) Error() string {
	return fmt.Sprintf("hydrocast: non-finite %s (%v) at iteration %d", w.Name, w.Value, w.Iteration)
}

// Is makes errors.Is(w, ErrNumericalInstability) true.
func (w *NumericalWarning) Is(target error) bool { return target == ErrNumericalInstability }

var (
	warnMu      sync.RWMutex
	warnHandler = func(err error) {
		zlog.Warn().Err(err).Msg("warning")
	}
)

// SetWarningHandler replaces the function receiving warnings. A nil handler
// silences warnings. Returns the previous handler.
func SetWarningHandler(h func(error)) func(error) {
	warnMu.Lock()
	defer warnMu.Unlock()
	prev := warnHandler
	if h == nil {
		h = func(error) {}
	}
	warnHandler = h
	return prev
}

// Warn reports a non-fatal condition.
func Warn(err error) {
	if err == nil {
		return
	}
	warnMu.RLock()
	h := warnHandler
	warnMu.RUnlock()
	h(err)
}

// CheckScalar returns a NumericalWarning when v is NaN or infinite.
func CheckScalar(name string, v float64, iteration int) error {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return &NumericalWarning{Name: name, Value: v, Iteration: iteration}
	}
	return nil
}

// ClipGradient rescales g in place so that its L2 norm does not exceed maxNorm.
func ClipGradient(g []float64, maxNorm float64) []float64 {
	if maxNorm <= 0 {
		return g
	}
	var sq float64
	for _, v := range g {
		sq += v * v
	}
	norm := math.Sqrt(sq)
	if norm <= maxNorm || norm == 0 {
		return g
	}
	scale := maxNorm / norm
	for i := range g {
		g[i] *= scale
	}
	return g
}
