package predictor

import (
	"context"
	"math"
	"math/rand/v2"
	"time"

	"gonum.org/v1/gonum/mat"

	"github.com/ezoic/hydrocast/core/tensor"
	"github.com/ezoic/hydrocast/pkg/errors"
	"github.com/ezoic/hydrocast/pkg/log"
)

// learner is the part of a predictor the shared training loop drives.
type learner interface {
	// trainBatch updates the weights on samples idx and returns the batch loss.
	trainBatch(X *tensor.Tensor, y *mat.Dense, idx []int, lr float64) (float64, error)
	// evaluate returns the loss on X without updating anything.
	evaluate(X *tensor.Tensor, y *mat.Dense) (float64, error)
	snapshot() []float64
	restore(w []float64)
}

// run implements Trainer for one Fit call.
type run struct {
	l       learner
	lr      float64
	stopped bool
	save    func(path string) error
}

func (r *run) LearningRate() float64         { return r.lr }
func (r *run) SetLearningRate(lr float64)    { r.lr = lr }
func (r *run) Stop()                         { r.stopped = true }
func (r *run) Snapshot() []float64           { return r.l.snapshot() }
func (r *run) Restore(w []float64)           { r.l.restore(w) }
func (r *run) SaveWeights(path string) error { return r.save(path) }

type loopConfig struct {
	name    string
	lr      float64
	shuffle bool
	rng     *rand.Rand
	save    func(path string) error
}

// fitLoop runs mini-batch epochs over X in order (or shuffled), evaluates the
// validation set after every epoch and drives the callbacks.
func fitLoop(ctx context.Context, l learner, X *tensor.Tensor, y *mat.Dense, val *Validation, opts FitOptions, cfg loopConfig) (*History, error) {
	if opts.Epochs < 1 {
		return nil, errors.NewValidationError("epochs", "must be >= 1", opts.Epochs)
	}
	batch := opts.BatchSize
	if batch < 1 {
		return nil, errors.NewValidationError("batch_size", "must be >= 1", opts.BatchSize)
	}
	if val != nil && (val.X == nil || val.Y == nil) {
		val = nil
	}

	logger := log.GetLoggerWithName("predictor").With(log.ModelNameKey, cfg.name)
	callbacks := NewCallbackList(opts.Callbacks...)
	r := &run{l: l, lr: cfg.lr, save: cfg.save}
	hist := &History{}
	n := X.Len()
	order := make([]int, n)
	for i := range order {
		order[i] = i
	}
	start := time.Now()

	for epoch := 0; epoch < opts.Epochs; epoch++ {
		if err := ctx.Err(); err != nil {
			return hist, err
		}
		if cfg.shuffle {
			cfg.rng.Shuffle(n, func(i, j int) { order[i], order[j] = order[j], order[i] })
		}

		total := 0.0
		for lo := 0; lo < n; lo += batch {
			hi := min(lo+batch, n)
			loss, err := l.trainBatch(X, y, order[lo:hi], r.lr)
			if err != nil {
				return hist, err
			}
			total += loss * float64(hi-lo)
		}
		loss := total / float64(n)
		if err := errors.CheckScalar("loss", loss, epoch); err != nil {
			return hist, errors.NewModelError(cfg.name+".Fit", "training diverged", err)
		}

		logs := EpochLogs{Epoch: epoch, Loss: loss, ValLoss: math.NaN(), LearningRate: r.lr}
		hist.Loss = append(hist.Loss, loss)
		hist.LearningRate = append(hist.LearningRate, r.lr)
		if val != nil {
			vl, err := l.evaluate(val.X, val.Y)
			if err != nil {
				return hist, err
			}
			logs.ValLoss = vl
			hist.ValLoss = append(hist.ValLoss, vl)
		}

		logger.Debug("Epoch completed",
			log.EpochKey, epoch,
			log.LossKey, loss,
			log.ValLossKey, logs.ValLoss,
		)
		if err := callbacks.OnEpochEnd(r, logs); err != nil {
			return hist, err
		}
		if r.stopped {
			hist.Stopped = true
			break
		}
	}

	if err := callbacks.OnTrainEnd(r); err != nil {
		return hist, err
	}
	logger.Info("Training completed",
		log.OperationKey, log.OperationFit,
		log.PhaseKey, log.PhaseTraining,
		log.SamplesKey, n,
		"epochs", hist.Epochs(),
		log.LossKey, hist.Loss[len(hist.Loss)-1],
		log.DurationMsKey, time.Since(start).Milliseconds(),
	)
	return hist, nil
}

// newRNG seeds a PCG source; seed 0 takes the wall clock.
func newRNG(seed uint64) *rand.Rand {
	if seed == 0 {
		now := uint64(time.Now().UnixNano())
		return rand.New(rand.NewPCG(now, now^0xdeadbeef))
	}
	return rand.New(rand.NewPCG(seed, seed))
}
