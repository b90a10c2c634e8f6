package pipeline

import (
	"context"
	"fmt"
	"time"

	"gonum.org/v1/gonum/mat"

	"github.com/ezoic/hydrocast/dataset"
	"github.com/ezoic/hydrocast/evaluation"
	"github.com/ezoic/hydrocast/features"
	"github.com/ezoic/hydrocast/pkg/errors"
	"github.com/ezoic/hydrocast/pkg/log"
	"github.com/ezoic/hydrocast/sequence"
)

// Forecast horizon bounds.
const (
	MinHorizon = 1
	MaxHorizon = 30
)

// Forecast predicts horizon steps past the last row of t, or of the table
// of the last Train when t is nil. Steps are recursive: output lags roll
// forward with the predicted means, dynamic inputs keep their last observed
// value and every other feature is held constant. horizon 0 uses the
// configured default.
func (c *Context) Forecast(ctx context.Context, t *dataset.Table, horizon int) (_ *evaluation.SplitResult, err error) {
	defer errors.Recover(&err, "pipeline.Forecast")
	if horizon == 0 {
		horizon = c.cfg.Evaluation.Horizon
	}
	if horizon < MinHorizon || horizon > MaxHorizon {
		return nil, errors.NewValidationError("horizon", fmt.Sprintf("must be in [%d, %d]", MinHorizon, MaxHorizon), horizon)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.requireTrained("Forecast"); err != nil {
		return nil, err
	}

	tbl := c.history
	if t != nil {
		p, err := c.prepare(t)
		if err != nil {
			return nil, err
		}
		tbl = p.table
	}
	window := c.cfg.Data.Window
	if tbl == nil || tbl.Len() < window {
		return nil, errors.NewModelError("pipeline.Forecast", "no rows to forecast from", errors.ErrInsufficientData)
	}

	cols := c.scaler.Columns()
	index := make(map[string]int, len(cols))
	for j, name := range cols {
		index[name] = j
	}
	rows := make([][]float64, 0, window)
	for r := tbl.Len() - window; r < tbl.Len(); r++ {
		row := make([]float64, len(cols))
		for j, name := range cols {
			col, ok := tbl.Column(name)
			if !ok {
				return nil, errors.NewValueError("pipeline.Forecast", "column not found: "+name)
			}
			row[j] = col[r]
		}
		rows = append(rows, row)
	}
	// inputs persist their last observed value
	last := map[string]float64{}
	for _, in := range c.opts.Inputs {
		if c.opts.Kind(in) != features.Dynamic {
			continue
		}
		if col, ok := tbl.Column(in); ok {
			last[in] = col[len(col)-1]
		}
	}

	out := len(cols) - 1
	means := make([]float64, horizon)
	stds := make([]float64, horizon)
	for h := 0; h < horizon; h++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		prev := rows[len(rows)-1]
		next := append([]float64{}, prev...)
		c.roll(next, prev, index, c.opts.Output, prev[out])
		for in, v := range last {
			c.roll(next, prev, index, in, v)
		}
		next[out] = 0
		rows = append(rows[1:], next)

		m := mat.NewDense(window, len(cols), nil)
		for i, row := range rows {
			m.SetRow(i, row)
		}
		scaled, err := c.scaler.TransformMatrix(m)
		if err != nil {
			return nil, err
		}
		X, _, err := sequence.Build(scaled, window)
		if err != nil {
			return nil, err
		}
		mean, std, err := c.estimate(ctx, X, c.cfg.Uncertainty.Samples)
		if err != nil {
			return nil, err
		}
		means[h], stds[h] = mean[0], std[0]
		next[out] = mean[0]
	}

	res := evaluation.NewSplitResult(evaluation.Forecast, forecastDates(tbl, horizon), nil, means, stds, nil)
	c.attach(res)
	c.logger.Info("Forecast completed",
		log.OperationKey, log.OperationPredict,
		"horizon", horizon,
	)
	return res, nil
}

// roll shifts the lag columns of v by one step; Lag_1 becomes current.
func (c *Context) roll(next, prev []float64, index map[string]int, v string, current float64) {
	for k := c.opts.Lags; k > 1; k-- {
		dst, ok1 := index[features.LagName(v, k)]
		src, ok2 := index[features.LagName(v, k-1)]
		if ok1 && ok2 {
			next[dst] = prev[src]
		}
	}
	if j, ok := index[features.LagName(v, 1)]; ok {
		next[j] = current
	}
}

// forecastDates continues the last sampling interval of t, nil without dates.
func forecastDates(t *dataset.Table, horizon int) []time.Time {
	if !t.HasDates() || len(t.Dates) < 2 {
		return nil
	}
	n := len(t.Dates)
	step := t.Dates[n-1].Sub(t.Dates[n-2])
	if step <= 0 {
		step = 24 * time.Hour
	}
	out := make([]time.Time, horizon)
	for i := range out {
		out[i] = t.Dates[n-1].Add(time.Duration(i+1) * step)
	}
	return out
}
