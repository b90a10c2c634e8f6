// Package predictor provides the sequence regressors trained by the pipeline.
//
// Every variant implements SequencePredictor and is created through Build
// from a Kind, the input shape and a Config:
//
//   - GRU, LSTM, RNN: stacked recurrent layers followed by a dense head
//   - PINN: a GRU network trained with mass-conservation and smoothness
//     penalties on the ordered predictions of each batch
//   - Hybrid: an ensemble of recurrent members whose outputs are averaged
//   - Linear: a stochastic gradient descent regressor over the flattened window
//
// Recurrent variants with Config.Probabilistic set emit a Gaussian (mean,
// log-sigma) and additionally implement DistributionPredictor.
//
// Example:
//
//	p, err := predictor.Build(predictor.GRU, predictor.InputShape{Window: 1, Features: 6}, predictor.DefaultConfig(predictor.GRU))
//	if err != nil {
//		return err
//	}
//	hist, err := p.Fit(ctx, Xtr, ytr, &predictor.Validation{X: Xval, Y: yval}, predictor.DefaultFitOptions())
package predictor

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	"gonum.org/v1/gonum/mat"

	"github.com/ezoic/hydrocast/core/tensor"
	"github.com/ezoic/hydrocast/pkg/errors"
)

// Kind names a predictor variant.
type Kind string

const (
	GRU    Kind = "GRU"
	LSTM   Kind = "LSTM"
	RNN    Kind = "RNN"
	PINN   Kind = "PINN"
	Hybrid Kind = "Hybrid"
	Linear Kind = "Linear"
)

// ParseKind is case-insensitive.
func ParseKind(s string) (Kind, error) {
	want := strings.TrimSpace(s)
	mu.RLock()
	defer mu.RUnlock()
	for k := range registry {
		if strings.EqualFold(string(k), want) {
			return k, nil
		}
	}
	return "", errors.NewValidationError("model_type", "unknown predictor", s)
}

// InputShape is the per-sample tensor shape (window, features).
type InputShape struct {
	Window   int `json:"window"`
	Features int `json:"features"`
}

// Config holds the architecture and optimiser settings. Fields irrelevant to
// a Kind are ignored.
type Config struct {
	// Units per recurrent layer.
	Units []int `json:"units" mapstructure:"units" yaml:"units"`
	// DenseUnits per hidden dense layer of the head.
	DenseUnits   []int   `json:"dense_units" mapstructure:"dense_units" yaml:"dense_units"`
	LearningRate float64 `json:"learning_rate" mapstructure:"learning_rate" yaml:"learning_rate"`
	Dropout      float64 `json:"dropout" mapstructure:"dropout" yaml:"dropout"`
	// ClipNorm bounds the L2 norm of every parameter gradient.
	ClipNorm float64 `json:"clip_norm" mapstructure:"clip_norm" yaml:"clip_norm"`

	PhysicsWeight    float64 `json:"physics_weight" mapstructure:"physics_weight" yaml:"physics_weight"`
	MassConservation bool    `json:"mass_conservation" mapstructure:"mass_conservation" yaml:"mass_conservation"`
	Smoothness       bool    `json:"smoothness" mapstructure:"smoothness" yaml:"smoothness"`

	Probabilistic bool `json:"probabilistic" mapstructure:"probabilistic" yaml:"probabilistic"`

	// Members of a Hybrid ensemble.
	Members []Kind `json:"members" mapstructure:"members" yaml:"members"`

	// Linear only.
	Loss  string  `json:"loss" mapstructure:"loss" yaml:"loss"`
	Alpha float64 `json:"alpha" mapstructure:"alpha" yaml:"alpha"`

	Seed uint64 `json:"seed" mapstructure:"seed" yaml:"seed"`
}

// Default architecture values.
const (
	DefaultUnits         = 64
	DefaultPINNUnits     = 128
	DefaultDenseUnits    = 32
	DefaultLearningRate  = 0.001
	DefaultDropout       = 0.2
	DefaultPhysicsWeight = 0.1
	DefaultClipNorm      = 5.0
)

// DefaultConfig returns the defaults for kind.
func DefaultConfig(kind Kind) Config {
	units := DefaultUnits
	if kind == PINN {
		units = DefaultPINNUnits
	}
	return Config{
		Units:            []int{units},
		DenseUnits:       []int{DefaultDenseUnits},
		LearningRate:     DefaultLearningRate,
		Dropout:          DefaultDropout,
		ClipNorm:         DefaultClipNorm,
		PhysicsWeight:    DefaultPhysicsWeight,
		MassConservation: true,
		Smoothness:       true,
		Members:          []Kind{GRU},
		Loss:             "squared_error",
		Alpha:            0.0001,
		Seed:             42,
	}
}

// Validate checks value ranges shared by every Kind.
func (c Config) Validate() error {
	if len(c.Units) == 0 {
		return errors.NewValidationError("units", "at least one recurrent layer is required", c.Units)
	}
	for _, u := range append(append([]int{}, c.Units...), c.DenseUnits...) {
		if u < 1 {
			return errors.NewValidationError("units", "must be >= 1", u)
		}
	}
	if !(c.LearningRate > 0) {
		return errors.NewValidationError("learning_rate", "must be > 0", c.LearningRate)
	}
	if c.Dropout < 0 || c.Dropout >= 1 {
		return errors.NewValidationError("dropout", "must be in [0, 1)", c.Dropout)
	}
	if c.PhysicsWeight < 0 {
		return errors.NewValidationError("physics_weight", "must be >= 0", c.PhysicsWeight)
	}
	return nil
}

// Validation is a held-out set monitored during training.
type Validation struct {
	X *tensor.Tensor
	Y *mat.Dense
}

// FitOptions control a training run.
type FitOptions struct {
	Epochs    int
	BatchSize int
	// Shuffle the batch order every epoch. PINN never shuffles.
	Shuffle   bool
	Callbacks []Callback
}

// Default training values.
const (
	DefaultEpochs    = 50
	DefaultBatchSize = 16
)

// DefaultFitOptions returns 50 epochs of batch 16 with shuffling.
func DefaultFitOptions() FitOptions {
	return FitOptions{Epochs: DefaultEpochs, BatchSize: DefaultBatchSize, Shuffle: true}
}

// History records per-epoch training metrics.
type History struct {
	Loss         []float64 `json:"loss"`
	ValLoss      []float64 `json:"val_loss,omitempty"`
	LearningRate []float64 `json:"learning_rate"`
	// Stopped is true when a callback ended training early.
	Stopped bool `json:"stopped"`
}

// Epochs is the number of completed epochs.
func (h *History) Epochs() int { return len(h.Loss) }

// BestValLoss returns the lowest monitored loss: validation loss when
// recorded, training loss otherwise.
func (h *History) BestValLoss() float64 {
	src := h.ValLoss
	if len(src) == 0 {
		src = h.Loss
	}
	best := 0.0
	for i, v := range src {
		if i == 0 || v < best {
			best = v
		}
	}
	return best
}

// SequencePredictor is the capability the pipeline trains and queries.
type SequencePredictor interface {
	Kind() Kind
	InputShape() InputShape
	Fit(ctx context.Context, X *tensor.Tensor, y *mat.Dense, val *Validation, opts FitOptions) (*History, error)
	// Predict returns the point prediction, shape (N, 1). Safe for
	// concurrent use once fitted.
	Predict(X *tensor.Tensor) (*mat.Dense, error)
	SaveWeights(path string) error
	LoadWeights(path string) error
	IsFitted() bool
}

// DistributionPredictor is implemented by predictors that output a Gaussian
// per sample.
type DistributionPredictor interface {
	SequencePredictor
	PredictDistribution(X *tensor.Tensor) (mean, std []float64, err error)
}

// Factory creates an unfitted predictor.
type Factory func(shape InputShape, cfg Config) (SequencePredictor, error)

var (
	mu       sync.RWMutex
	registry = map[Kind]Factory{}
)

// Register adds or replaces the factory for kind.
func Register(kind Kind, f Factory) {
	mu.Lock()
	defer mu.Unlock()
	registry[kind] = f
}

// Kinds returns the registered kinds in sorted order.
func Kinds() []Kind {
	mu.RLock()
	defer mu.RUnlock()
	out := make([]Kind, 0, len(registry))
	for k := range registry {
		out = append(out, k)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Build creates an unfitted predictor of the given kind.
func Build(kind Kind, shape InputShape, cfg Config) (_ SequencePredictor, err error) {
	defer errors.Recover(&err, "predictor.Build")
	mu.RLock()
	f, ok := registry[kind]
	mu.RUnlock()
	if !ok {
		return nil, errors.NewValidationError("model_type", "unknown predictor", kind)
	}
	if shape.Window < 1 || shape.Features < 1 {
		return nil, errors.NewValidationError("input_shape",
			fmt.Sprintf("window and features must be >= 1, got (%d, %d)", shape.Window, shape.Features), shape)
	}
	return f(shape, cfg)
}

func init() {
	for _, k := range []Kind{GRU, LSTM, RNN, PINN, Hybrid} {
		kind := k
		Register(kind, func(shape InputShape, cfg Config) (SequencePredictor, error) {
			r, err := NewRecurrent(kind, shape, cfg)
			if err != nil {
				return nil, err
			}
			if cfg.Probabilistic {
				return &GaussianRecurrent{Recurrent: r}, nil
			}
			return r, nil
		})
	}
	Register(Linear, func(shape InputShape, cfg Config) (SequencePredictor, error) {
		l, err := NewLinear(shape, cfg)
		if err != nil {
			return nil, err
		}
		return l, nil
	})
}

func checkInput(op string, shape InputShape, X *tensor.Tensor) error {
	if X == nil {
		return errors.NewModelError(op, "nil input", errors.ErrEmptyData)
	}
	_, w, f := X.Dims()
	if w != shape.Window {
		return errors.NewDimensionError(op, shape.Window, w, 1)
	}
	if f != shape.Features {
		return errors.NewDimensionError(op, shape.Features, f, 2)
	}
	return nil
}

func checkTargets(op string, X *tensor.Tensor, y *mat.Dense) error {
	if y == nil {
		return errors.NewModelError(op, "nil targets", errors.ErrEmptyData)
	}
	if r, _ := y.Dims(); r != X.Len() {
		return errors.NewDimensionError(op, X.Len(), r, 0)
	}
	return nil
}
