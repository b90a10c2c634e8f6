// Package pipeline runs the end-to-end workflow on an explicit session
// Context: preprocessing, scaling, sequence building, training, uncertainty
// estimation, evaluation and persistence.
//
// A Context owns an immutable configuration. Train fits the ScalerState and
// the predictor, which are then reused unchanged by Test, Predict and
// Forecast until the next Train or Load. CrossValidate and Tune never touch
// the session state.
//
// Example:
//
//	pc, err := pipeline.New(cfg)
//	if err != nil {
//		return err
//	}
//	report, err := pc.Train(ctx, table)
//	if err != nil {
//		return err
//	}
//	fc, err := pc.Forecast(ctx, nil, 7)
package pipeline

import (
	"context"
	"math"
	"sync"
	"time"

	"gonum.org/v1/gonum/mat"

	"github.com/ezoic/hydrocast/config"
	"github.com/ezoic/hydrocast/core/tensor"
	"github.com/ezoic/hydrocast/dataset"
	"github.com/ezoic/hydrocast/evaluation"
	"github.com/ezoic/hydrocast/features"
	"github.com/ezoic/hydrocast/pkg/errors"
	"github.com/ezoic/hydrocast/pkg/log"
	"github.com/ezoic/hydrocast/predictor"
	"github.com/ezoic/hydrocast/preprocessing"
	"github.com/ezoic/hydrocast/sequence"
	"github.com/ezoic/hydrocast/store"
	"github.com/ezoic/hydrocast/uncertainty"
)

// Context is one session. Its methods are safe for concurrent use; stateful
// operations are serialised.
type Context struct {
	cfg    *config.Config
	opts   features.Options
	store  *store.Store
	logger log.Logger

	mu         sync.Mutex
	base       []string // lag features, before engineering
	featureSet []string
	scaler     *preprocessing.ScalerState
	model      predictor.SequencePredictor
	report     *evaluation.Report
	holdout    *dataset.Table // test partition of the last Train
	history    *dataset.Table // preprocessed table of the last Train
}

// session is the state a Train replaces.
type session struct {
	base, featureSet []string
	scaler           *preprocessing.ScalerState
	model            predictor.SequencePredictor
	report           *evaluation.Report
	holdout, history *dataset.Table
}

func (c *Context) snapshot() session {
	return session{
		base:       c.base,
		featureSet: c.featureSet,
		scaler:     c.scaler,
		model:      c.model,
		report:     c.report,
		holdout:    c.holdout,
		history:    c.history,
	}
}

func (c *Context) restore(s session) {
	c.base, c.featureSet, c.scaler, c.model = s.base, s.featureSet, s.scaler, s.model
	c.report, c.holdout, c.history = s.report, s.holdout, s.history
}

// Option configures a Context.
type Option func(*Context)

// WithStore records every trained run in s.
func WithStore(s *store.Store) Option {
	return func(c *Context) { c.store = s }
}

// WithLogger replaces the default "pipeline" logger.
func WithLogger(l log.Logger) Option {
	return func(c *Context) { c.logger = l }
}

// New creates an untrained session.
func New(cfg *config.Config, options ...Option) (*Context, error) {
	if cfg == nil {
		return nil, errors.NewValidationError("config", "is required", nil)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	opts, err := cfg.FeatureOptions()
	if err != nil {
		return nil, err
	}
	c := &Context{cfg: cfg, opts: opts, logger: log.GetLoggerWithName("pipeline")}
	for _, o := range options {
		o(c)
	}
	return c, nil
}

// ReadTable loads the configured data file.
func ReadTable(cfg *config.Config) (*dataset.Table, error) {
	if cfg.Data.Path == "" {
		return nil, errors.NewValidationError("data.path", "is required", "")
	}
	return dataset.ReadFile(cfg.Data.Path, dataset.ReadOptions{Sheet: cfg.Data.Sheet, DateColumn: cfg.Data.DateColumn})
}

func (c *Context) Config() *config.Config { return c.cfg }

// FeatureSet returns the trained feature columns in order.
func (c *Context) FeatureSet() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string{}, c.featureSet...)
}

// Predictor returns the trained predictor, nil before Train or Load.
func (c *Context) Predictor() predictor.SequencePredictor {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.model
}

// Report returns the report of the last run, nil before Train.
func (c *Context) Report() *evaluation.Report {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.report
}

// IsTrained reports whether Test, Predict and Forecast can run.
func (c *Context) IsTrained() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.trained()
}

func (c *Context) trained() bool {
	return c.model != nil && c.model.IsFitted() && c.scaler != nil && c.scaler.IsFitted()
}

// prepared is a validated, lagged and optionally engineered table.
type prepared struct {
	table    *dataset.Table
	base     []string
	features []string
}

func (c *Context) prepare(t *dataset.Table) (*prepared, error) {
	if err := features.Validate(t, c.opts); err != nil {
		return nil, err
	}
	t = t.Clone()
	t.SortByDate()
	res := features.Preprocess(t, c.opts)
	p := &prepared{table: res.Table, base: res.Features, features: res.Features}
	if res.Degraded != nil || !c.cfg.Data.Engineer {
		return p, nil
	}
	er := features.Engineer(res.Table, res.Features, c.opts.Output)
	if er.Degraded == nil {
		p.table = er.Table
		p.features = append(append([]string{}, res.Features...), er.Added...)
	}
	return p, nil
}

// sequences scales t with state and builds its sequence tensors. dates is
// aligned with the samples, nil when t has no dates.
func sequences(state *preprocessing.ScalerState, t *dataset.Table, window int) (*tensor.Tensor, *mat.Dense, []time.Time, error) {
	scaled, err := state.Transform(t)
	if err != nil {
		return nil, nil, nil, err
	}
	X, y, err := sequence.Build(scaled, window)
	if err != nil {
		return nil, nil, nil, err
	}
	return X, y, alignDates(t, window), nil
}

func alignDates(t *dataset.Table, window int) []time.Time {
	if !t.HasDates() {
		return nil
	}
	return t.Dates[sequence.Offset(window):]
}

// estimate returns de-scaled, clipped means and de-scaled stds for X.
func (c *Context) estimate(ctx context.Context, X *tensor.Tensor, samples int) (mean, std []float64, err error) {
	u := c.cfg.Uncertainty
	est := uncertainty.For(c.model, samples, uncertainty.WithNoiseStd(u.NoiseStd), uncertainty.WithSeed(u.Seed))
	mean, std, err = est.Estimate(ctx, c.model, X)
	if err != nil {
		return nil, nil, err
	}
	if mean, err = c.scaler.InverseOutput(mean); err != nil {
		return nil, nil, err
	}
	if std, err = c.scaler.InverseOutputSpread(std); err != nil {
		return nil, nil, err
	}
	return uncertainty.ClipNonNegative(mean), std, nil
}

// score predicts X with uncertainty and scores it against the de-scaled y.
func (c *Context) score(ctx context.Context, split evaluation.Split, X *tensor.Tensor, y *mat.Dense, dates []time.Time, samples int) (*evaluation.SplitResult, error) {
	mean, std, err := c.estimate(ctx, X, samples)
	if err != nil {
		return nil, err
	}
	var actual []float64
	if y != nil {
		if actual, err = c.scaler.InverseOutput(sequence.Targets(y)); err != nil {
			return nil, err
		}
	}
	res := evaluation.NewSplitResult(split, dates, actual, mean, std, c.cfg.Evaluation.Metrics)
	if res.Scores != nil {
		fields := []interface{}{log.SplitKey, string(split), log.SamplesKey, len(mean)}
		for _, name := range res.Scores.Names {
			if v, ok := res.Scores.Values[name]; ok && !math.IsNaN(v) {
				fields = append(fields, name, v)
			}
		}
		c.logger.Info("Split evaluated", fields...)
	}
	return res, nil
}

func (c *Context) requireTrained(op string) error {
	if !c.trained() {
		return errors.NewNotFittedError("pipeline.Context", op)
	}
	return nil
}

// Progress adapts a per-epoch progress function to a training callback.
func Progress(fn func(predictor.EpochLogs)) predictor.Callback {
	return predictor.CallbackFunc(func(logs predictor.EpochLogs) error {
		fn(logs)
		return nil
	})
}
