package pipeline

import (
	"context"
	"time"

	"gonum.org/v1/gonum/stat"

	"github.com/ezoic/hydrocast/dataset"
	"github.com/ezoic/hydrocast/evaluation"
	"github.com/ezoic/hydrocast/hyperopt"
	"github.com/ezoic/hydrocast/pkg/errors"
	"github.com/ezoic/hydrocast/pkg/log"
	"github.com/ezoic/hydrocast/predictor"
	"github.com/ezoic/hydrocast/preprocessing"
	"github.com/ezoic/hydrocast/sequence"
	"github.com/ezoic/hydrocast/uncertainty"
)

// FoldResult is the test score of one cross-validation fold.
type FoldResult struct {
	Fold      int                `json:"fold"`
	TrainRows int                `json:"train_rows"`
	TestRows  int                `json:"test_rows"`
	Scores    evaluation.Scores  `json:"scores"`
	History   *predictor.History `json:"history,omitempty"`
}

// CVResult holds every fold and the per-metric mean over the folds where the
// metric could be computed.
type CVResult struct {
	Folds []FoldResult       `json:"folds"`
	Mean  map[string]float64 `json:"mean"`
}

// CrossValidate runs expanding-window time-series cross-validation over the
// preprocessed rows of t. Every fold fits its own scaler and predictor on
// its training rows and scores the point predictions of its test rows in
// original units. The session state is not modified.
func (c *Context) CrossValidate(ctx context.Context, t *dataset.Table) (_ *CVResult, err error) {
	defer errors.Recover(&err, "pipeline.CrossValidate")
	p, err := c.prepare(t)
	if err != nil {
		return nil, err
	}
	folds, err := sequence.TimeSeriesFolds(p.table.Len(), c.cfg.CV.Folds)
	if err != nil {
		return nil, err
	}
	window := c.cfg.Data.Window
	kind := c.cfg.ModelKind()
	res := &CVResult{Mean: map[string]float64{}}

	for i, f := range folds {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		start := time.Now()
		train, test := p.table.SliceRows(0, f.TrainEnd), p.table.SliceRows(f.TrainEnd, f.TestEnd)
		if train.Len() < window || test.Len() < window {
			return nil, errors.NewModelError("pipeline.CrossValidate", "fold too short for the window", errors.ErrInsufficientData)
		}
		state, err := preprocessing.FitState(train, p.features, c.opts.Output, c.cfg.ScalerKind())
		if err != nil {
			return nil, err
		}
		trX, trY, _, err := sequences(state, train, window)
		if err != nil {
			return nil, err
		}
		teX, teY, _, err := sequences(state, test, window)
		if err != nil {
			return nil, err
		}
		fitX, fitY, valX, valY, err := sequence.ValidationSplit(trX, trY, c.cfg.Training.ValidationFraction)
		if err != nil {
			return nil, err
		}
		var val *predictor.Validation
		if valX != nil {
			val = &predictor.Validation{X: valX, Y: valY}
		}

		model, err := predictor.Build(kind, predictor.InputShape{Window: window, Features: state.NumFeatures()}, c.cfg.PredictorConfig())
		if err != nil {
			return nil, err
		}
		hist, err := model.Fit(ctx, fitX, fitY, val, c.cfg.FitOptions(""))
		if err != nil {
			return nil, err
		}
		pred, err := model.Predict(teX)
		if err != nil {
			return nil, err
		}
		mean, err := state.InverseOutput(sequence.Targets(pred))
		if err != nil {
			return nil, err
		}
		actual, err := state.InverseOutput(sequence.Targets(teY))
		if err != nil {
			return nil, err
		}
		scores := evaluation.Evaluate(actual, uncertainty.ClipNonNegative(mean), c.cfg.Evaluation.Metrics)
		res.Folds = append(res.Folds, FoldResult{
			Fold:      i,
			TrainRows: train.Len(),
			TestRows:  test.Len(),
			Scores:    scores,
			History:   hist,
		})
		c.logger.Info("Fold completed",
			log.FoldKey, i,
			log.SamplesKey, trX.Len(),
			log.DurationMsKey, time.Since(start).Milliseconds(),
		)
	}

	if len(res.Folds) > 0 {
		for _, name := range res.Folds[0].Scores.Names {
			var vals []float64
			for _, f := range res.Folds {
				if v, ok := f.Scores.Values[name]; ok {
					vals = append(vals, v)
				}
			}
			if len(vals) > 0 {
				res.Mean[name] = stat.Mean(vals, nil)
			}
		}
	}
	return res, nil
}

// Tune searches hyperparameters on the training partition of t. Each trial
// trains a fresh predictor on a stride subsample and is scored by its best
// validation loss. onTrial, when non-nil, is called after every trial. The
// session state is not modified; apply Result.Best.Params to a
// configuration to use them.
func (c *Context) Tune(ctx context.Context, t *dataset.Table, onTrial func(hyperopt.Trial)) (_ *hyperopt.Result, err error) {
	defer errors.Recover(&err, "pipeline.Tune")
	p, err := c.prepare(t)
	if err != nil {
		return nil, err
	}
	window := c.cfg.Data.Window
	cut := sequence.SplitIndex(p.table.Len(), c.cfg.Data.TrainSplit)
	if cut < window {
		return nil, errors.NewModelError("pipeline.Tune", "not enough training rows", errors.ErrInsufficientData)
	}
	train := p.table.SliceRows(0, cut)
	state, err := preprocessing.FitState(train, p.features, c.opts.Output, c.cfg.ScalerKind())
	if err != nil {
		return nil, err
	}
	X, y, _, err := sequences(state, train, window)
	if err != nil {
		return nil, err
	}

	tc := c.cfg.Tuning
	obj, err := hyperopt.PredictorObjective(hyperopt.PredictorSetup{
		Kind:               c.cfg.ModelKind(),
		Shape:              predictor.InputShape{Window: window, Features: state.NumFeatures()},
		Base:               c.cfg.PredictorConfig(),
		Fit:                predictor.FitOptions{Epochs: tc.Epochs, BatchSize: c.cfg.Training.BatchSize, Shuffle: c.cfg.Training.Shuffle},
		MaxSamples:         tc.MaxSamples,
		ValidationFraction: c.cfg.Training.ValidationFraction,
	}, X, y)
	if err != nil {
		return nil, err
	}
	opts := hyperopt.DefaultOptions()
	opts.Trials = tc.Trials
	opts.StartupTrials = tc.StartupTrials
	opts.Seed = c.cfg.Model.Seed
	opts.OnTrial = onTrial
	return hyperopt.Search(ctx, obj, opts)
}
