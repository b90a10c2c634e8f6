package predictor

import (
	"context"
	"math"
	"math/rand/v2"
	"sync"

	"gonum.org/v1/gonum/mat"

	"github.com/ezoic/hydrocast/core/model"
	"github.com/ezoic/hydrocast/core/tensor"
	"github.com/ezoic/hydrocast/pkg/errors"
)

// LinearRegressor fits y = w·x + b over the flattened window with per-sample
// SGD and an inverse-scaling learning rate.
type LinearRegressor struct {
	state *model.StateManager

	shape   InputShape
	loss    string  // "squared_error", "huber", "epsilon_insensitive"
	alpha   float64 // L2 strength
	epsilon float64
	powerT  float64
	lr      float64

	coef      []float64
	intercept float64
	t         int64

	mu  sync.RWMutex
	rng *rand.Rand
}

// NewLinear creates an unfitted linear predictor.
func NewLinear(shape InputShape, cfg Config) (*LinearRegressor, error) {
	if !(cfg.LearningRate > 0) {
		return nil, errors.NewValidationError("learning_rate", "must be > 0", cfg.LearningRate)
	}
	switch cfg.Loss {
	case "", "squared_error", "huber", "epsilon_insensitive":
	default:
		return nil, errors.NewValidationError("loss", "unknown loss", cfg.Loss)
	}
	loss := cfg.Loss
	if loss == "" {
		loss = "squared_error"
	}
	l := &LinearRegressor{
		state:   model.NewStateManager(),
		shape:   shape,
		loss:    loss,
		alpha:   cfg.Alpha,
		epsilon: 0.1,
		powerT:  0.25,
		lr:      cfg.LearningRate,
		rng:     newRNG(cfg.Seed),
	}
	n := shape.Window * shape.Features
	l.coef = make([]float64, n)
	// Xavier初期化
	scale := math.Sqrt(2.0 / float64(n))
	for i := range l.coef {
		l.coef[i] = l.rng.NormFloat64() * scale
	}
	return l, nil
}

func (l *LinearRegressor) Kind() Kind             { return Linear }
func (l *LinearRegressor) InputShape() InputShape { return l.shape }
func (l *LinearRegressor) IsFitted() bool         { return l.state.IsFitted() }

// Coef returns a copy of the weights and the intercept.
func (l *LinearRegressor) Coef() ([]float64, float64) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return append([]float64(nil), l.coef...), l.intercept
}

func (l *LinearRegressor) Fit(ctx context.Context, X *tensor.Tensor, y *mat.Dense, val *Validation, opts FitOptions) (_ *History, err error) {
	defer errors.Recover(&err, "LinearRegressor.Fit")
	if err := checkInput("Linear.Fit", l.shape, X); err != nil {
		return nil, err
	}
	if err := checkTargets("Linear.Fit", X, y); err != nil {
		return nil, err
	}
	if val != nil && val.X != nil {
		if err := checkInput("Linear.Fit", l.shape, val.X); err != nil {
			return nil, err
		}
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	hist, err := fitLoop(ctx, l, X, y, val, opts, loopConfig{
		name:    string(Linear),
		lr:      l.lr,
		shuffle: opts.Shuffle,
		rng:     l.rng,
		save:    l.saveWeights,
	})
	if err != nil {
		return hist, err
	}
	l.state.SetFitted()
	l.state.SetDimensions(len(l.coef), X.Len())
	return hist, nil
}

func (l *LinearRegressor) Predict(X *tensor.Tensor) (*mat.Dense, error) {
	if !l.state.IsFitted() {
		return nil, errors.NewNotFittedError("LinearRegressor", "Predict")
	}
	if err := checkInput("Linear.Predict", l.shape, X); err != nil {
		return nil, err
	}
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := mat.NewDense(X.Len(), 1, nil)
	for i := 0; i < X.Len(); i++ {
		out.Set(i, 0, l.predictOne(X.Sample(i)))
	}
	return out, nil
}

func (l *LinearRegressor) predictOne(x []float64) float64 {
	pred := l.intercept
	for i, xi := range x {
		pred += l.coef[i] * xi
	}
	return pred
}

// lossGrad returns the loss and its derivative with respect to the prediction.
func (l *LinearRegressor) lossGrad(pred, y float64) (loss, dloss float64) {
	diff := pred - y
	switch l.loss {
	case "huber":
		if math.Abs(diff) <= l.epsilon {
			return 0.5 * diff * diff, diff
		}
		return l.epsilon * (math.Abs(diff) - 0.5*l.epsilon), l.epsilon * sign(diff)
	case "epsilon_insensitive":
		if math.Abs(diff) <= l.epsilon {
			return 0, 0
		}
		return math.Abs(diff) - l.epsilon, sign(diff)
	default:
		return 0.5 * diff * diff, diff
	}
}

// learner

func (l *LinearRegressor) trainBatch(X *tensor.Tensor, y *mat.Dense, idx []int, lr float64) (float64, error) {
	total := 0.0
	for _, i := range idx {
		total += l.updateWeights(X.Sample(i), y.At(i, 0), lr)
	}
	return total / float64(len(idx)), nil
}

// updateWeights は単一サンプルで重みを更新
func (l *LinearRegressor) updateWeights(x []float64, y, eta float64) float64 {
	pred := l.predictOne(x)
	if err := errors.CheckScalar("prediction", pred, int(l.t)); err != nil {
		errors.Warn(err)
		return 0
	}
	loss, dloss := l.lossGrad(pred, y)

	lr := eta / math.Pow(float64(l.t)+1, l.powerT)
	l.t++

	gradients := make([]float64, len(x))
	for i, xi := range x {
		gradients[i] = dloss*xi + l.alpha*l.coef[i]
	}
	// 勾配クリッピング
	gradients = errors.ClipGradient(gradients, 10.0)

	for i, grad := range gradients {
		l.coef[i] -= lr * grad
		if err := errors.CheckScalar("weight_update", l.coef[i], int(l.t)); err != nil {
			errors.Warn(err)
			// ロールバック
			l.coef[i] += lr * grad
		}
	}
	l.intercept -= lr * dloss
	return loss
}

func (l *LinearRegressor) evaluate(X *tensor.Tensor, y *mat.Dense) (float64, error) {
	total := 0.0
	for i := 0; i < X.Len(); i++ {
		loss, _ := l.lossGrad(l.predictOne(X.Sample(i)), y.At(i, 0))
		total += loss
	}
	return total / float64(X.Len()), nil
}

func (l *LinearRegressor) snapshot() []float64 {
	return append(append([]float64(nil), l.coef...), l.intercept)
}

func (l *LinearRegressor) restore(w []float64) {
	copy(l.coef, w)
	l.intercept = w[len(w)-1]
}

type linearWeights struct {
	Shape     InputShape
	Coef      []float64
	Intercept float64
}

func (l *LinearRegressor) SaveWeights(path string) error {
	if !l.state.IsFitted() {
		return errors.NewNotFittedError("LinearRegressor", "SaveWeights")
	}
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.saveWeights(path)
}

func (l *LinearRegressor) saveWeights(path string) error {
	return model.SaveModel(linearWeights{Shape: l.shape, Coef: l.coef, Intercept: l.intercept}, path)
}

func (l *LinearRegressor) LoadWeights(path string) error {
	var w linearWeights
	if err := model.LoadModel(&w, path); err != nil {
		return err
	}
	if w.Shape != l.shape || len(w.Coef) != len(l.coef) {
		return errors.NewDimensionError("Linear.LoadWeights", len(l.coef), len(w.Coef), 0)
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	copy(l.coef, w.Coef)
	l.intercept = w.Intercept
	l.state.SetFitted()
	return nil
}

func sign(x float64) float64 {
	switch {
	case x > 0:
		return 1
	case x < 0:
		return -1
	}
	return 0
}
