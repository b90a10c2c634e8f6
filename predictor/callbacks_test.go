package predictor_test

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/ezoic/hydrocast/predictor"
)

type fakeTrainer struct {
	lr      float64
	stopped bool
	weights []float64
	saves   []string
}

func (f *fakeTrainer) LearningRate() float64      { return f.lr }
func (f *fakeTrainer) SetLearningRate(lr float64) { f.lr = lr }
func (f *fakeTrainer) Stop()                      { f.stopped = true }
func (f *fakeTrainer) Snapshot() []float64        { return append([]float64(nil), f.weights...) }
func (f *fakeTrainer) Restore(w []float64)        { f.weights = w }
func (f *fakeTrainer) SaveWeights(p string) error { f.saves = append(f.saves, p); return nil }

func logs(epoch int, val float64) predictor.EpochLogs {
	return predictor.EpochLogs{Epoch: epoch, Loss: 1, ValLoss: val}
}

func TestEarlyStoppingRestoresBest(t *testing.T) {
	tr := &fakeTrainer{}
	es := predictor.NewEarlyStopping(2, true)
	cl := predictor.NewCallbackList(es, nil)

	for i, v := range []float64{1.0, 0.5, 0.6, 0.7} {
		tr.weights = []float64{float64(i)}
		assert.NoError(t, cl.OnEpochEnd(tr, logs(i, v)))
	}
	assert.True(t, tr.stopped)
	assert.Equal(t, 3, es.StoppedAt)

	assert.NoError(t, cl.OnTrainEnd(tr))
	assert.Equal(t, []float64{1}, tr.weights)
}

func TestReduceLROnPlateau(t *testing.T) {
	tr := &fakeTrainer{lr: 0.01}
	rl := predictor.NewReduceLROnPlateau(0.5, 2, 0.004)

	for i, v := range []float64{1, 1, 1, 1, 1, 1, 1} {
		assert.NoError(t, rl.OnEpochEnd(tr, logs(i, v)))
	}
	// 0.01 -> 0.005 -> 0.004 (floor)
	assert.InDelta(t, 0.004, tr.lr, 1e-12)
}

func TestCheckpointSavesOnImprovement(t *testing.T) {
	tr := &fakeTrainer{}
	cp := predictor.NewCheckpoint("best")
	for i, v := range []float64{3, 2, 2.5, 1} {
		assert.NoError(t, cp.OnEpochEnd(tr, logs(i, v)))
	}
	assert.Len(t, tr.saves, 3)
}

func TestMonitoredFallsBackToLoss(t *testing.T) {
	l := predictor.EpochLogs{Loss: 0.3, ValLoss: math.NaN()}
	assert.Equal(t, 0.3, l.Monitored())
	l.ValLoss = 0.2
	assert.Equal(t, 0.2, l.Monitored())

	h := &predictor.History{Loss: []float64{3, 2, 4}}
	assert.Equal(t, 2.0, h.BestValLoss())
}
