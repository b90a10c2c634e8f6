package predictor

import (
	"math"

	"github.com/ezoic/hydrocast/pkg/log"
)

// EpochLogs is reported to callbacks after every epoch. ValLoss is NaN when
// no validation set was given.
type EpochLogs struct {
	Epoch        int
	Loss         float64
	ValLoss      float64
	LearningRate float64
}

// Monitored returns ValLoss, or Loss when there is no validation set.
func (l EpochLogs) Monitored() float64 {
	if math.IsNaN(l.ValLoss) {
		return l.Loss
	}
	return l.ValLoss
}

// Trainer is the handle callbacks use to steer a running Fit.
type Trainer interface {
	LearningRate() float64
	SetLearningRate(lr float64)
	// Stop ends training after the current epoch.
	Stop()
	// Snapshot copies the current weights; Restore writes a snapshot back.
	Snapshot() []float64
	Restore(weights []float64)
	SaveWeights(path string) error
}

// Callback is invoked once per epoch.
type Callback interface {
	OnEpochEnd(t Trainer, logs EpochLogs) error
}

// TrainEndCallback is an optional extension called once after the last epoch.
type TrainEndCallback interface {
	OnTrainEnd(t Trainer) error
}

// CallbackFunc adapts a progress function to Callback.
type CallbackFunc func(logs EpochLogs) error

func (f CallbackFunc) OnEpochEnd(_ Trainer, logs EpochLogs) error { return f(logs) }

// CallbackList runs callbacks in order.
type CallbackList struct {
	callbacks []Callback
}

// NewCallbackList creates a list, skipping nil entries.
func NewCallbackList(callbacks ...Callback) *CallbackList {
	cl := &CallbackList{}
	for _, c := range callbacks {
		if c != nil {
			cl.callbacks = append(cl.callbacks, c)
		}
	}
	return cl
}

// OnEpochEnd stops at the first callback error.
func (cl *CallbackList) OnEpochEnd(t Trainer, logs EpochLogs) error {
	for _, c := range cl.callbacks {
		if err := c.OnEpochEnd(t, logs); err != nil {
			return err
		}
	}
	return nil
}

// OnTrainEnd calls every TrainEndCallback.
func (cl *CallbackList) OnTrainEnd(t Trainer) error {
	for _, c := range cl.callbacks {
		if te, ok := c.(TrainEndCallback); ok {
			if err := te.OnTrainEnd(t); err != nil {
				return err
			}
		}
	}
	return nil
}

// plateau tracks the best monitored value and epochs without improvement.
type plateau struct {
	best float64
	wait int
	seen bool
}

func (p *plateau) update(v float64) (improved bool) {
	if !p.seen || v < p.best {
		p.best, p.wait, p.seen = v, 0, true
		return true
	}
	p.wait++
	return false
}

// EarlyStopping stops training once the monitored loss has not improved for
// Patience epochs. With RestoreBest the best weights are written back when
// training ends.
type EarlyStopping struct {
	Patience    int
	RestoreBest bool

	plateau
	bestWeights []float64
	StoppedAt   int
}

// NewEarlyStopping creates the callback.
func NewEarlyStopping(patience int, restoreBest bool) *EarlyStopping {
	return &EarlyStopping{Patience: patience, RestoreBest: restoreBest, StoppedAt: -1}
}

func (e *EarlyStopping) OnEpochEnd(t Trainer, logs EpochLogs) error {
	if e.update(logs.Monitored()) {
		if e.RestoreBest {
			e.bestWeights = t.Snapshot()
		}
		return nil
	}
	if e.wait >= e.Patience {
		e.StoppedAt = logs.Epoch
		t.Stop()
		log.GetLoggerWithName("predictor").Info("Early stopping",
			log.EpochKey, logs.Epoch,
			"best", e.best,
		)
	}
	return nil
}

func (e *EarlyStopping) OnTrainEnd(t Trainer) error {
	if e.RestoreBest && e.bestWeights != nil {
		t.Restore(e.bestWeights)
	}
	return nil
}

// ReduceLROnPlateau multiplies the learning rate by Factor after Patience
// epochs without improvement, never going below MinLR.
type ReduceLROnPlateau struct {
	Factor   float64
	Patience int
	MinLR    float64

	plateau
}

// NewReduceLROnPlateau creates the callback.
func NewReduceLROnPlateau(factor float64, patience int, minLR float64) *ReduceLROnPlateau {
	return &ReduceLROnPlateau{Factor: factor, Patience: patience, MinLR: minLR}
}

func (r *ReduceLROnPlateau) OnEpochEnd(t Trainer, logs EpochLogs) error {
	if r.update(logs.Monitored()) || r.wait < r.Patience {
		return nil
	}
	lr := t.LearningRate()
	if lr > r.MinLR {
		next := math.Max(lr*r.Factor, r.MinLR)
		t.SetLearningRate(next)
		log.GetLoggerWithName("predictor").Debug("Learning rate reduced",
			log.EpochKey, logs.Epoch,
			"from", lr,
			"to", next,
		)
	}
	r.wait = 0
	return nil
}

// Checkpoint saves the weights to Path whenever the monitored loss improves.
type Checkpoint struct {
	Path string

	plateau
}

// NewCheckpoint creates the callback.
func NewCheckpoint(path string) *Checkpoint {
	return &Checkpoint{Path: path}
}

func (c *Checkpoint) OnEpochEnd(t Trainer, logs EpochLogs) error {
	if !c.update(logs.Monitored()) || c.Path == "" {
		return nil
	}
	return t.SaveWeights(c.Path)
}

// StandardCallbacks returns early stopping (patience 10, restore best),
// reduce-on-plateau (factor 0.5, patience 5, min 1e-6) and, when
// checkpointPath is non-empty, a best-weights checkpoint.
func StandardCallbacks(checkpointPath string) []Callback {
	cbs := []Callback{
		NewEarlyStopping(10, true),
		NewReduceLROnPlateau(0.5, 5, 1e-6),
	}
	if checkpointPath != "" {
		cbs = append(cbs, NewCheckpoint(checkpointPath))
	}
	return cbs
}
