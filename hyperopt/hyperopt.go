// Package hyperopt searches predictor hyperparameters with a small number of
// sequential, independent trials.
//
// The first StartupTrials trials sample the space uniformly; later trials
// perturb the best parameters found so far. Every trial builds a fresh
// predictor from its own seed so trials never share state.
package hyperopt

import (
	"context"
	"math"
	"math/rand/v2"
	"time"

	"gonum.org/v1/gonum/mat"

	"github.com/ezoic/hydrocast/core/tensor"
	"github.com/ezoic/hydrocast/pkg/errors"
	"github.com/ezoic/hydrocast/pkg/log"
	"github.com/ezoic/hydrocast/predictor"
	"github.com/ezoic/hydrocast/sequence"
)

// Range is a uniform float interval.
type Range struct{ Min, Max float64 }

func (r Range) sample(rng *rand.Rand) float64 { return r.Min + rng.Float64()*(r.Max-r.Min) }

func (r Range) clamp(v float64) float64 { return math.Max(r.Min, math.Min(r.Max, v)) }

// LogRange is sampled uniformly in log space.
type LogRange struct{ Min, Max float64 }

func (r LogRange) sample(rng *rand.Rand) float64 {
	lo, hi := math.Log(r.Min), math.Log(r.Max)
	return math.Exp(lo + rng.Float64()*(hi-lo))
}

func (r LogRange) clamp(v float64) float64 { return math.Max(r.Min, math.Min(r.Max, v)) }

// IntRange is a closed integer interval.
type IntRange struct{ Min, Max int }

func (r IntRange) sample(rng *rand.Rand) int { return r.Min + rng.IntN(r.Max-r.Min+1) }

func (r IntRange) clamp(v int) int { return max(r.Min, min(r.Max, v)) }

// Choice is a categorical integer dimension.
type Choice []int

func (c Choice) sample(rng *rand.Rand) int { return c[rng.IntN(len(c))] }

// Space is the searched region.
type Space struct {
	LearningRate LogRange
	Dropout      Range
	Layers       IntRange
	Units        Choice
}

// DefaultSpace: learning rate 1e-4..1e-2 (log), dropout 0.1..0.5, 1..3
// recurrent layers of 32, 64 or 128 units.
func DefaultSpace() Space {
	return Space{
		LearningRate: LogRange{Min: 1e-4, Max: 1e-2},
		Dropout:      Range{Min: 0.1, Max: 0.5},
		Layers:       IntRange{Min: 1, Max: 3},
		Units:        Choice{32, 64, 128},
	}
}

func (s Space) validate() error {
	if !(s.LearningRate.Min > 0) || s.LearningRate.Max < s.LearningRate.Min {
		return errors.NewValidationError("learning_rate", "invalid range", s.LearningRate)
	}
	if s.Dropout.Min < 0 || s.Dropout.Max >= 1 || s.Dropout.Max < s.Dropout.Min {
		return errors.NewValidationError("dropout", "invalid range", s.Dropout)
	}
	if s.Layers.Min < 1 || s.Layers.Max < s.Layers.Min {
		return errors.NewValidationError("layers", "invalid range", s.Layers)
	}
	if len(s.Units) == 0 {
		return errors.NewValidationError("units", "no choices", s.Units)
	}
	return nil
}

// Params is one point of the space.
type Params struct {
	LearningRate float64 `json:"learning_rate"`
	Dropout      float64 `json:"dropout_rate"`
	Layers       int     `json:"num_layers"`
	Units        int     `json:"units"`
}

// Apply returns cfg with the searched values: Layers recurrent layers of
// Units each.
func (p Params) Apply(cfg predictor.Config) predictor.Config {
	cfg.LearningRate = p.LearningRate
	cfg.Dropout = p.Dropout
	cfg.Units = make([]int, p.Layers)
	for i := range cfg.Units {
		cfg.Units[i] = p.Units
	}
	return cfg
}

func (s Space) sample(rng *rand.Rand) Params {
	return Params{
		LearningRate: s.LearningRate.sample(rng),
		Dropout:      s.Dropout.sample(rng),
		Layers:       s.Layers.sample(rng),
		Units:        s.Units.sample(rng),
	}
}

// perturb samples near best.
func (s Space) perturb(best Params, rng *rand.Rand) Params {
	p := best
	p.LearningRate = s.LearningRate.clamp(best.LearningRate * math.Exp(rng.NormFloat64()*0.5))
	p.Dropout = s.Dropout.clamp(best.Dropout + rng.NormFloat64()*0.05)
	if rng.Float64() < 0.3 {
		p.Layers = s.Layers.clamp(best.Layers + rng.IntN(3) - 1)
	}
	if rng.Float64() < 0.3 {
		p.Units = s.Units.sample(rng)
	}
	return p
}

// Trial is the outcome of one evaluation.
type Trial struct {
	Number   int           `json:"number"`
	Params   Params        `json:"params"`
	Score    float64       `json:"score"`
	Err      string        `json:"error,omitempty"`
	Duration time.Duration `json:"duration"`
}

// Objective scores params; lower is better. seed is unique per trial.
type Objective func(ctx context.Context, params Params, seed uint64) (float64, error)

// Options control Search.
type Options struct {
	Trials        int
	StartupTrials int
	Space         Space
	Seed          uint64
	// OnTrial is called after every trial.
	OnTrial func(Trial)
}

// Search defaults.
const (
	DefaultTrials        = 8
	DefaultStartupTrials = 5
)

// DefaultOptions returns 8 trials, 5 of them random, over DefaultSpace.
func DefaultOptions() Options {
	return Options{Trials: DefaultTrials, StartupTrials: DefaultStartupTrials, Space: DefaultSpace(), Seed: 42}
}

// Result holds every trial and the best one.
type Result struct {
	Best   Trial   `json:"best"`
	Trials []Trial `json:"trials"`
}

// Search runs opts.Trials trials sequentially. A failing trial is recorded
// and skipped; Search fails only when every trial failed or ctx is done.
func Search(ctx context.Context, obj Objective, opts Options) (_ *Result, err error) {
	defer errors.Recover(&err, "hyperopt.Search")
	if opts.Trials < 1 {
		return nil, errors.NewValidationError("trials", "must be >= 1", opts.Trials)
	}
	if err := opts.Space.validate(); err != nil {
		return nil, err
	}
	logger := log.GetLoggerWithName("hyperopt")
	rng := rand.New(rand.NewPCG(opts.Seed, opts.Seed^0x9e3779b97f4a7c15))

	res := &Result{}
	found := false
	for i := 0; i < opts.Trials; i++ {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		var p Params
		if !found || i < opts.StartupTrials {
			p = opts.Space.sample(rng)
		} else {
			p = opts.Space.perturb(res.Best.Params, rng)
		}

		start := time.Now()
		score, err := obj(ctx, p, rng.Uint64()|1)
		tr := Trial{Number: i, Params: p, Score: score, Duration: time.Since(start)}
		if err == nil && (math.IsNaN(score) || math.IsInf(score, 0)) {
			err = errors.NewModelError("hyperopt.Search", "non-finite score", errors.ErrNumericalInstability)
		}
		if err != nil {
			if ctx.Err() != nil {
				return res, ctx.Err()
			}
			tr.Err = err.Error()
			tr.Score = math.Inf(1)
			logger.Warn("Trial failed", log.TrialKey, i, log.ReasonKey, err.Error())
		} else if !found || score < res.Best.Score {
			res.Best, found = tr, true
		}
		res.Trials = append(res.Trials, tr)

		logger.Info("Trial completed",
			log.OperationKey, log.OperationTune,
			log.TrialKey, i,
			"score", tr.Score,
			"learning_rate", p.LearningRate,
			"dropout", p.Dropout,
			"layers", p.Layers,
			"units", p.Units,
		)
		if opts.OnTrial != nil {
			opts.OnTrial(tr)
		}
	}
	if !found {
		return res, errors.NewModelError("hyperopt.Search", "every trial failed", errors.ErrNumericalInstability)
	}
	return res, nil
}

// PredictorSetup describes how each trial trains a predictor.
type PredictorSetup struct {
	Kind  predictor.Kind
	Shape predictor.InputShape
	// Base is the configuration the searched values are applied to.
	Base               predictor.Config
	Fit                predictor.FitOptions
	MaxSamples         int
	ValidationFraction float64
}

// Tuning defaults.
const (
	DefaultMaxSamples  = 1000
	DefaultTrialEpochs = 10
)

// PredictorObjective returns an objective that trains a fresh predictor on
// (a stride subsample of) X and scores it by its best validation loss on
// the last ValidationFraction of the samples.
func PredictorObjective(setup PredictorSetup, X *tensor.Tensor, y *mat.Dense) (Objective, error) {
	limit := setup.MaxSamples
	if limit <= 0 {
		limit = DefaultMaxSamples
	}
	frac := setup.ValidationFraction
	if frac == 0 {
		frac = sequence.DefaultValidationFraction
	}
	sx, sy, err := sequence.Subsample(X, y, limit)
	if err != nil {
		return nil, err
	}
	trX, trY, valX, valY, err := sequence.ValidationSplit(sx, sy, frac)
	if err != nil {
		return nil, err
	}
	if trX == nil || trX.Len() == 0 {
		return nil, errors.NewModelError("hyperopt.PredictorObjective", "no training samples", errors.ErrInsufficientData)
	}
	var val *predictor.Validation
	if valX != nil {
		val = &predictor.Validation{X: valX, Y: valY}
	}
	fit := setup.Fit
	if fit.Epochs == 0 {
		fit.Epochs = DefaultTrialEpochs
	}
	if fit.BatchSize == 0 {
		fit.BatchSize = predictor.DefaultBatchSize
	}

	return func(ctx context.Context, params Params, seed uint64) (float64, error) {
		cfg := params.Apply(setup.Base)
		cfg.Seed = seed
		p, err := predictor.Build(setup.Kind, setup.Shape, cfg)
		if err != nil {
			return 0, err
		}
		opts := fit
		opts.Callbacks = append([]predictor.Callback{predictor.NewEarlyStopping(3, false)}, fit.Callbacks...)
		hist, err := p.Fit(ctx, trX, trY, val, opts)
		if err != nil {
			return 0, err
		}
		return hist.BestValLoss(), nil
	}, nil
}
