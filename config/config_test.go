package config_test

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"

	"github.com/ezoic/hydrocast/config"
	"github.com/ezoic/hydrocast/features"
	"github.com/ezoic/hydrocast/pkg/errors"
	"github.com/ezoic/hydrocast/predictor"
	"github.com/ezoic/hydrocast/preprocessing"
)

func TestDefaults(t *testing.T) {
	cfg := config.Default()
	assert.Equal(t, 3, cfg.Data.Lags)
	assert.Equal(t, 0.8, cfg.Data.TrainSplit)
	assert.Equal(t, 1, cfg.Data.Window)
	assert.Equal(t, predictor.GRU, cfg.ModelKind())
	assert.Equal(t, []int{predictor.DefaultUnits}, cfg.Model.Units)
	assert.Equal(t, predictor.DefaultLearningRate, cfg.Model.LearningRate)
	assert.Equal(t, preprocessing.KindMinMax, cfg.ScalerKind())
	assert.Equal(t, 50, cfg.Training.Epochs)
	assert.Equal(t, 16, cfg.Training.BatchSize)
	assert.Equal(t, 100, cfg.Uncertainty.Samples)
	assert.Equal(t, 7, cfg.Evaluation.Horizon)
	assert.Equal(t, 5, cfg.CV.Folds)
	assert.Equal(t, 8, cfg.Tuning.Trials)
}

func writeFile(t *testing.T, name, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestLoadYAML(t *testing.T) {
	path := writeFile(t, "run.yaml", `
data:
  path: flows.csv
  inputs: [Rainfall, Temperature, Area]
  static: [Area]
  output: Discharge
  lags: 2
  missing: ffill
model:
  type: pinn
  dropout: 0.3
training:
  epochs: 5
`)
	cfg, err := config.Load(path)
	require.NoError(t, err)
	assert.Equal(t, predictor.PINN, cfg.ModelKind())
	// PINN gets its wider default
	assert.Equal(t, []int{predictor.DefaultPINNUnits}, cfg.PredictorConfig().Units)
	assert.Equal(t, 0.3, cfg.Model.Dropout)
	assert.Equal(t, 5, cfg.Training.Epochs)
	// untouched keys keep defaults
	assert.Equal(t, 16, cfg.Training.BatchSize)

	opts, err := cfg.FeatureOptions()
	require.NoError(t, err)
	assert.Equal(t, features.MissingForward, opts.Missing)
	assert.Equal(t, features.Static, opts.Kind("Area"))
	assert.Equal(t, features.Dynamic, opts.Kind("Rainfall"))
	assert.Equal(t, []string{
		"Rainfall_Lag_1", "Rainfall_Lag_2",
		"Temperature_Lag_1", "Temperature_Lag_2",
		"Area",
		"Discharge_Lag_1", "Discharge_Lag_2",
	}, features.FeatureSet(opts))
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("HYDROCAST_TRAINING_EPOCHS", "7")
	t.Setenv("HYDROCAST_MODEL_TYPE", "LSTM")
	cfg, err := config.Load("")
	require.NoError(t, err)
	assert.Equal(t, 7, cfg.Training.Epochs)
	assert.Equal(t, predictor.LSTM, cfg.ModelKind())
}

func TestValidate(t *testing.T) {
	cases := map[string]string{
		"lags":    "data:\n  lags: 0\n",
		"split":   "data:\n  train_split: 1.0\n",
		"missing": "data:\n  missing: zero\n",
		"model":   "model:\n  type: transformer\n",
		"dropout": "model:\n  dropout: 1.5\n",
		"horizon": "evaluation:\n  horizon: 31\n",
		"folds":   "cv:\n  folds: 1\n",
	}
	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := config.Load(writeFile(t, "bad.yaml", body))
			require.Error(t, err)
			assert.True(t, errors.Is(err, errors.ErrInvalidInput), err.Error())
		})
	}

	_, err := config.Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestFitOptions(t *testing.T) {
	cfg := config.Default()
	opts := cfg.FitOptions(filepath.Join(t.TempDir(), "best.gob.xz"))
	assert.Equal(t, 50, opts.Epochs)
	assert.True(t, opts.Shuffle)
	assert.Len(t, opts.Callbacks, 3)

	cfg.Training.Checkpoint = false
	assert.Len(t, cfg.FitOptions("ignored").Callbacks, 2)
}

func TestDump(t *testing.T) {
	cfg := config.Default()
	var buf bytes.Buffer
	require.NoError(t, cfg.Dump(&buf))

	var back config.Config
	require.NoError(t, yaml.Unmarshal(buf.Bytes(), &back))
	assert.Equal(t, cfg.Model.Units, back.Model.Units)
	assert.Equal(t, cfg.Training, back.Training)
	assert.Contains(t, buf.String(), "learning_rate: 0.001")
}
