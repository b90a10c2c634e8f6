package pipeline

import (
	"context"
	"fmt"
	"time"

	"github.com/ezoic/hydrocast/dataset"
	"github.com/ezoic/hydrocast/evaluation"
	"github.com/ezoic/hydrocast/features"
	"github.com/ezoic/hydrocast/pkg/errors"
	"github.com/ezoic/hydrocast/pkg/log"
	"github.com/ezoic/hydrocast/predictor"
	"github.com/ezoic/hydrocast/preprocessing"
	"github.com/ezoic/hydrocast/sequence"
)

// Train preprocesses t, splits it chronologically, fits a fresh scaler and
// predictor on the training partition and scores both partitions.
//
// On success the session state is replaced, saved to the artifacts directory
// and, when a store is configured, recorded. A failed or cancelled Train
// leaves the previous session state untouched. callbacks run after the
// standard ones every epoch.
func (c *Context) Train(ctx context.Context, t *dataset.Table, callbacks ...predictor.Callback) (_ *evaluation.Report, err error) {
	defer errors.Recover(&err, "pipeline.Train")
	c.mu.Lock()
	defer c.mu.Unlock()
	start := time.Now()

	p, err := c.prepare(t)
	if err != nil {
		return nil, err
	}
	window := c.cfg.Data.Window
	n := p.table.Len()
	cut := sequence.SplitIndex(n, c.cfg.Data.TrainSplit)
	if cut < window {
		return nil, errors.NewModelError("pipeline.Train",
			fmt.Sprintf("%d training rows cannot fill a window of %d", cut, window), errors.ErrInsufficientData)
	}
	train, test := p.table.SliceRows(0, cut), p.table.SliceRows(cut, n)

	state, err := preprocessing.FitState(train, p.features, c.opts.Output, c.cfg.ScalerKind())
	if err != nil {
		return nil, err
	}
	trX, trY, trDates, err := sequences(state, train, window)
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

	kind := c.cfg.ModelKind()
	shape := predictor.InputShape{Window: window, Features: state.NumFeatures()}
	model, err := predictor.Build(kind, shape, c.cfg.PredictorConfig())
	if err != nil {
		return nil, err
	}
	fit := c.cfg.FitOptions(c.artifact(CheckpointFile))
	fit.Callbacks = append(fit.Callbacks, callbacks...)

	c.logger.Info("Training started",
		log.OperationKey, log.OperationFit,
		log.ModelNameKey, string(kind),
		log.SamplesKey, fitX.Len(),
		log.FeaturesKey, shape.Features,
		"window", window,
	)
	hist, err := model.Fit(ctx, fitX, fitY, val, fit)
	if err != nil {
		c.logger.Error("Training failed", log.ModelNameKey, string(kind), "error", err)
		return nil, err
	}

	prev := c.snapshot()
	committed := false
	defer func() {
		if !committed {
			c.restore(prev)
		}
	}()
	c.base, c.featureSet, c.scaler, c.model = p.base, p.features, state, model
	c.history, c.holdout, c.report = p.table, test, nil

	report := evaluation.NewReport(kind, c.opts.Output)
	report.History = hist
	samples := c.cfg.Uncertainty.TestSamples
	tr, err := c.score(ctx, evaluation.Training, trX, trY, trDates, samples)
	if err != nil {
		return nil, err
	}
	report.Add(tr)
	if test.Len() >= window {
		teX, teY, teDates, err := sequences(state, test, window)
		if err != nil {
			return nil, err
		}
		te, err := c.score(ctx, evaluation.Testing, teX, teY, teDates, samples)
		if err != nil {
			return nil, err
		}
		report.Add(te)
	} else {
		c.logger.Warn("Test partition too short, not scored", log.SamplesKey, test.Len())
	}
	c.report = report

	if err := c.save(c.cfg.Artifacts.Dir); err != nil {
		return nil, err
	}
	committed = true
	c.record(ctx, report)

	c.logger.Info("Training completed",
		log.OperationKey, log.OperationFit,
		log.RunIDKey, report.RunID.String(),
		log.EpochKey, hist.Epochs(),
		log.DurationMsKey, time.Since(start).Milliseconds(),
	)
	return report, nil
}

// record stores report; failures are logged, never returned.
func (c *Context) record(ctx context.Context, report *evaluation.Report) {
	if c.store == nil {
		return
	}
	if err := c.store.SaveReport(ctx, report, c.cfg); err != nil {
		c.logger.Warn("Run not recorded", log.RunIDKey, report.RunID.String(), "error", err)
	}
}

// Test scores the trained session on t, or on the held-out partition of the
// last Train when t is nil. t must carry the output column.
func (c *Context) Test(ctx context.Context, t *dataset.Table) (_ *evaluation.SplitResult, err error) {
	defer errors.Recover(&err, "pipeline.Test")
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.requireTrained("Test"); err != nil {
		return nil, err
	}

	tbl := c.holdout
	if t != nil {
		p, err := c.prepare(t)
		if err != nil {
			return nil, err
		}
		tbl = p.table
	}
	if tbl == nil || tbl.Len() < c.cfg.Data.Window {
		return nil, errors.NewModelError("pipeline.Test", "no test data", errors.ErrInsufficientData)
	}
	X, y, dates, err := sequences(c.scaler, tbl, c.cfg.Data.Window)
	if err != nil {
		return nil, err
	}
	res, err := c.score(ctx, evaluation.Testing, X, y, dates, c.cfg.Uncertainty.TestSamples)
	if err != nil {
		return nil, err
	}
	c.attach(res)
	return res, nil
}

// Predict sorts new data by date, lays it out on the trained FeatureSet and
// predicts it with uncertainty. Actuals are reported and scored only when t carries the
// output column.
func (c *Context) Predict(ctx context.Context, t *dataset.Table) (_ *evaluation.SplitResult, err error) {
	defer errors.Recover(&err, "pipeline.Predict")
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.requireTrained("Predict"); err != nil {
		return nil, err
	}

	if t != nil && t.HasDates() {
		t = t.Clone()
		t.SortByDate()
	}
	frame, err := features.PrepareNewData(t, c.opts, c.base)
	if err != nil {
		return nil, err
	}
	tbl := frame.Table
	if len(c.featureSet) > len(c.base) {
		if er := features.Engineer(tbl, c.base, c.opts.Output); er.Degraded == nil {
			tbl = er.Table
		}
	}
	for _, name := range c.featureSet {
		if !tbl.HasColumn(name) {
			if err := tbl.SetColumn(name, make([]float64, tbl.Len())); err != nil {
				return nil, err
			}
		}
	}
	if tbl.Len() < c.cfg.Data.Window {
		return nil, errors.NewValidationError("data",
			fmt.Sprintf("need at least %d rows after lagging", c.cfg.Data.Window), tbl.Len())
	}

	X, y, dates, err := sequences(c.scaler, tbl, c.cfg.Data.Window)
	if err != nil {
		return nil, err
	}
	if !frame.HasActuals {
		y = nil
	}
	res, err := c.score(ctx, evaluation.NewData, X, y, dates, c.cfg.Uncertainty.Samples)
	if err != nil {
		return nil, err
	}
	c.attach(res)
	c.logger.Info("Prediction completed",
		log.OperationKey, log.OperationPredict,
		log.PredsKey, len(res.Records),
		"actuals", frame.HasActuals,
	)
	return res, nil
}

// attach adds res to the current report, starting one after Load.
func (c *Context) attach(res *evaluation.SplitResult) {
	if c.report == nil {
		c.report = evaluation.NewReport(c.model.Kind(), c.opts.Output)
	}
	c.report.Add(res)
}
