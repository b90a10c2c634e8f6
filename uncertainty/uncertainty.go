// Package uncertainty turns point predictors into (mean, std) estimators.
//
// Predictors that emit a distribution natively are queried once. For every
// other predictor MonteCarlo perturbs the inputs with small Gaussian noise and
// reports the spread of the resulting predictions. This measures how
// sensitive the predictor is to its inputs; it is an approximation and not an
// estimate of model (epistemic) uncertainty.
package uncertainty

import (
	"context"
	"math/rand/v2"
	"runtime"
	"time"

	"golang.org/x/sync/errgroup"
	"gonum.org/v1/gonum/stat"

	"github.com/ezoic/hydrocast/core/tensor"
	"github.com/ezoic/hydrocast/pkg/errors"
	"github.com/ezoic/hydrocast/pkg/log"
	"github.com/ezoic/hydrocast/predictor"
)

// Monte Carlo defaults.
const (
	DefaultNoiseStd = 0.01
	DefaultSamples  = 100
	// Inputs with more than LargeInput samples use at most LargeInputSamples passes.
	LargeInput        = 1000
	LargeInputSamples = 20
)

// Estimator produces a per-sample mean and standard deviation.
type Estimator interface {
	Estimate(ctx context.Context, p predictor.SequencePredictor, X *tensor.Tensor) (mean, std []float64, err error)
}

// MonteCarlo estimates uncertainty from repeated inference on noisy copies
// of the input.
type MonteCarlo struct {
	NoiseStd float64
	Samples  int
	Seed     uint64
	// Workers bounds concurrent inference passes; 0 means GOMAXPROCS.
	Workers int
}

// Option configures a MonteCarlo estimator.
type Option func(*MonteCarlo)

// WithNoiseStd sets the standard deviation of the input noise.
func WithNoiseStd(std float64) Option {
	return func(m *MonteCarlo) { m.NoiseStd = std }
}

// WithSamples sets the number of noisy passes.
func WithSamples(n int) Option {
	return func(m *MonteCarlo) { m.Samples = n }
}

// WithSeed sets the noise seed; 0 seeds from the clock.
func WithSeed(seed uint64) Option {
	return func(m *MonteCarlo) { m.Seed = seed }
}

// WithWorkers bounds the number of concurrent passes.
func WithWorkers(n int) Option {
	return func(m *MonteCarlo) { m.Workers = n }
}

// NewMonteCarlo creates an estimator with 100 passes of std 0.01 noise.
func NewMonteCarlo(options ...Option) *MonteCarlo {
	m := &MonteCarlo{NoiseStd: DefaultNoiseStd, Samples: DefaultSamples, Seed: 42}
	for _, opt := range options {
		opt(m)
	}
	return m
}

// SamplesFor returns the number of passes used for an input of n samples.
func (m *MonteCarlo) SamplesFor(n int) int {
	s := m.Samples
	if s < 1 {
		s = DefaultSamples
	}
	if n > LargeInput && s > LargeInputSamples {
		s = LargeInputSamples
	}
	return s
}

// Estimate runs the noisy passes concurrently. The result depends only on
// the seed, not on scheduling: pass k draws its noise from its own stream.
func (m *MonteCarlo) Estimate(ctx context.Context, p predictor.SequencePredictor, X *tensor.Tensor) (mean, std []float64, err error) {
	defer errors.Recover(&err, "MonteCarlo.Estimate")
	if p == nil || X == nil {
		return nil, nil, errors.NewValueError("MonteCarlo.Estimate", "predictor and input are required")
	}
	if !p.IsFitted() {
		return nil, nil, errors.NewNotFittedError(string(p.Kind()), "Estimate")
	}

	n := X.Len()
	samples := m.SamplesFor(n)
	seed := m.Seed
	if seed == 0 {
		seed = uint64(time.Now().UnixNano())
	}
	workers := m.Workers
	if workers < 1 {
		workers = runtime.GOMAXPROCS(0)
	}
	start := time.Now()

	preds := make([][]float64, samples)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)
	for k := 0; k < samples; k++ {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			rng := rand.New(rand.NewPCG(seed, uint64(k)))
			noisy := X.Map(func(v float64) float64 { return v + rng.NormFloat64()*m.NoiseStd })
			out, err := p.Predict(noisy)
			if err != nil {
				return err
			}
			preds[k] = make([]float64, n)
			for i := range preds[k] {
				preds[k][i] = out.At(i, 0)
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, nil, err
	}

	mean = make([]float64, n)
	std = make([]float64, n)
	col := make([]float64, samples)
	for i := 0; i < n; i++ {
		for k := range preds {
			col[k] = preds[k][i]
		}
		mean[i], std[i] = stat.PopMeanStdDev(col, nil)
	}

	log.GetLoggerWithName("uncertainty").Debug("Monte Carlo estimate",
		log.SamplesKey, n,
		"passes", samples,
		log.DurationMsKey, time.Since(start).Milliseconds(),
	)
	return mean, std, nil
}

// Native queries a DistributionPredictor once.
type Native struct{}

func (Native) Estimate(_ context.Context, p predictor.SequencePredictor, X *tensor.Tensor) (mean, std []float64, err error) {
	defer errors.Recover(&err, "Native.Estimate")
	dp, ok := p.(predictor.DistributionPredictor)
	if !ok {
		return nil, nil, errors.NewModelError("Native.Estimate", "predictor has no distribution output", errors.ErrNotImplemented)
	}
	return dp.PredictDistribution(X)
}

// For returns Native for distribution predictors and a MonteCarlo estimator
// with numSamples passes otherwise.
func For(p predictor.SequencePredictor, numSamples int, options ...Option) Estimator {
	if _, ok := p.(predictor.DistributionPredictor); ok {
		return Native{}
	}
	return NewMonteCarlo(append([]Option{WithSamples(numSamples)}, options...)...)
}

// PredictWithUncertainty estimates mean and std for X with the estimator
// chosen by For.
func PredictWithUncertainty(ctx context.Context, p predictor.SequencePredictor, X *tensor.Tensor, numSamples int) (mean, std []float64, err error) {
	return For(p, numSamples).Estimate(ctx, p, X)
}

// ClipNonNegative returns a copy of v with negative values replaced by 0.
func ClipNonNegative(v []float64) []float64 {
	out := make([]float64, len(v))
	for i, x := range v {
		if x < 0 {
			x = 0
		}
		out[i] = x
	}
	return out
}
