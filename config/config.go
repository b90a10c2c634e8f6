// Package config loads the run configuration from defaults, an optional
// YAML/JSON/TOML file and HYDROCAST_* environment variables, in increasing
// order of precedence.
//
// Example:
//
//	cfg, err := config.Load("hydrocast.yaml")
//	if err != nil {
//		return err
//	}
//	opts, err := cfg.FeatureOptions()
package config

import (
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/ezoic/hydrocast/features"
	"github.com/ezoic/hydrocast/pkg/errors"
	"github.com/ezoic/hydrocast/predictor"
	"github.com/ezoic/hydrocast/preprocessing"
)

// EnvPrefix prefixes every environment override, e.g. HYDROCAST_TRAINING_EPOCHS.
const EnvPrefix = "HYDROCAST"

// Config is the full run configuration.
type Config struct {
	Data        DataConfig        `mapstructure:"data" yaml:"data" json:"data"`
	Model       ModelConfig       `mapstructure:"model" yaml:"model" json:"model"`
	Training    TrainingConfig    `mapstructure:"training" yaml:"training" json:"training"`
	Uncertainty UncertaintyConfig `mapstructure:"uncertainty" yaml:"uncertainty" json:"uncertainty"`
	Evaluation  EvaluationConfig  `mapstructure:"evaluation" yaml:"evaluation" json:"evaluation"`
	Artifacts   ArtifactsConfig   `mapstructure:"artifacts" yaml:"artifacts" json:"artifacts"`
	Tuning      TuningConfig      `mapstructure:"tuning" yaml:"tuning" json:"tuning"`
	CV          CVConfig          `mapstructure:"cv" yaml:"cv" json:"cv"`
	Log         LogConfig         `mapstructure:"log" yaml:"log" json:"log"`
	Server      ServerConfig      `mapstructure:"server" yaml:"server" json:"server"`
	Store       StoreConfig       `mapstructure:"store" yaml:"store" json:"store"`
}

// DataConfig selects the input file, the variables and the preprocessing.
type DataConfig struct {
	Path       string `mapstructure:"path" yaml:"path" json:"path"`
	Sheet      string `mapstructure:"sheet" yaml:"sheet" json:"sheet"`
	DateColumn string `mapstructure:"date_column" yaml:"date_column" json:"date_column"`

	Inputs []string `mapstructure:"inputs" yaml:"inputs" json:"inputs"`
	// Static inputs are used as is, every other input is lag expanded.
	Static []string `mapstructure:"static" yaml:"static" json:"static"`
	Output string   `mapstructure:"output" yaml:"output" json:"output"`

	Lags             int     `mapstructure:"lags" yaml:"lags" json:"lags"`
	Missing          string  `mapstructure:"missing" yaml:"missing" json:"missing"`
	RemoveOutliers   bool    `mapstructure:"remove_outliers" yaml:"remove_outliers" json:"remove_outliers"`
	OutlierThreshold float64 `mapstructure:"outlier_threshold" yaml:"outlier_threshold" json:"outlier_threshold"`
	Engineer         bool    `mapstructure:"engineer" yaml:"engineer" json:"engineer"`

	TrainSplit float64 `mapstructure:"train_split" yaml:"train_split" json:"train_split"`
	Window     int     `mapstructure:"window" yaml:"window" json:"window"`
	Scaler     string  `mapstructure:"scaler" yaml:"scaler" json:"scaler"`
}

// ModelConfig selects the predictor.
type ModelConfig struct {
	Type             string `mapstructure:"type" yaml:"type" json:"type"`
	predictor.Config `mapstructure:",squash" yaml:",inline"`
}

// TrainingConfig controls Fit and its callbacks.
type TrainingConfig struct {
	Epochs             int     `mapstructure:"epochs" yaml:"epochs" json:"epochs"`
	BatchSize          int     `mapstructure:"batch_size" yaml:"batch_size" json:"batch_size"`
	Shuffle            bool    `mapstructure:"shuffle" yaml:"shuffle" json:"shuffle"`
	ValidationFraction float64 `mapstructure:"validation_fraction" yaml:"validation_fraction" json:"validation_fraction"`

	EarlyStoppingPatience int     `mapstructure:"early_stopping_patience" yaml:"early_stopping_patience" json:"early_stopping_patience"`
	ReduceLRFactor        float64 `mapstructure:"reduce_lr_factor" yaml:"reduce_lr_factor" json:"reduce_lr_factor"`
	ReduceLRPatience      int     `mapstructure:"reduce_lr_patience" yaml:"reduce_lr_patience" json:"reduce_lr_patience"`
	MinLearningRate       float64 `mapstructure:"min_learning_rate" yaml:"min_learning_rate" json:"min_learning_rate"`
	Checkpoint            bool    `mapstructure:"checkpoint" yaml:"checkpoint" json:"checkpoint"`
}

// UncertaintyConfig controls the Monte Carlo estimator.
type UncertaintyConfig struct {
	Samples int `mapstructure:"samples" yaml:"samples" json:"samples"`
	// TestSamples is used when predicting the test split.
	TestSamples int     `mapstructure:"test_samples" yaml:"test_samples" json:"test_samples"`
	NoiseStd    float64 `mapstructure:"noise_std" yaml:"noise_std" json:"noise_std"`
	Seed        uint64  `mapstructure:"seed" yaml:"seed" json:"seed"`
}

// EvaluationConfig selects metrics and outputs.
type EvaluationConfig struct {
	Metrics []string `mapstructure:"metrics" yaml:"metrics" json:"metrics"`
	Horizon int      `mapstructure:"horizon" yaml:"horizon" json:"horizon"`
	Plots   bool     `mapstructure:"plots" yaml:"plots" json:"plots"`
}

// ArtifactsConfig locates persisted state and exports.
type ArtifactsConfig struct {
	Dir string `mapstructure:"dir" yaml:"dir" json:"dir"`
}

// TuningConfig controls hyperparameter search.
type TuningConfig struct {
	Trials        int `mapstructure:"trials" yaml:"trials" json:"trials"`
	StartupTrials int `mapstructure:"startup_trials" yaml:"startup_trials" json:"startup_trials"`
	MaxSamples    int `mapstructure:"max_samples" yaml:"max_samples" json:"max_samples"`
	Epochs        int `mapstructure:"epochs" yaml:"epochs" json:"epochs"`
}

// CVConfig controls time-series cross-validation.
type CVConfig struct {
	Folds int `mapstructure:"folds" yaml:"folds" json:"folds"`
}

type LogConfig struct {
	Level string `mapstructure:"level" yaml:"level" json:"level"`
}

// ServerConfig configures the HTTP API.
type ServerConfig struct {
	Addr string `mapstructure:"addr" yaml:"addr" json:"addr"`
	// RateLimit is requests per second across all clients; 0 disables it.
	RateLimit float64 `mapstructure:"rate_limit" yaml:"rate_limit" json:"rate_limit"`
	Burst     int     `mapstructure:"burst" yaml:"burst" json:"burst"`
	// MaxUploadMB bounds request bodies.
	MaxUploadMB int `mapstructure:"max_upload_mb" yaml:"max_upload_mb" json:"max_upload_mb"`
}

// StoreConfig locates the run history database. An empty driver disables it.
type StoreConfig struct {
	Driver string `mapstructure:"driver" yaml:"driver" json:"driver"`
	DSN    string `mapstructure:"dsn" yaml:"dsn" json:"dsn"`
}

// SetDefaults registers every default on v.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("data.path", "")
	v.SetDefault("data.sheet", "")
	v.SetDefault("data.date_column", "")
	v.SetDefault("data.inputs", []string{})
	v.SetDefault("data.static", []string{})
	v.SetDefault("data.output", "")
	v.SetDefault("data.lags", 3)
	v.SetDefault("data.missing", string(features.MissingMedian))
	v.SetDefault("data.remove_outliers", false)
	v.SetDefault("data.outlier_threshold", features.DefaultOutlierThreshold)
	v.SetDefault("data.engineer", false)
	v.SetDefault("data.train_split", 0.8)
	v.SetDefault("data.window", 1)
	v.SetDefault("data.scaler", string(preprocessing.KindMinMax))

	mc := predictor.DefaultConfig(predictor.GRU)
	v.SetDefault("model.type", string(predictor.GRU))
	v.SetDefault("model.dense_units", mc.DenseUnits)
	v.SetDefault("model.learning_rate", mc.LearningRate)
	v.SetDefault("model.dropout", mc.Dropout)
	v.SetDefault("model.clip_norm", mc.ClipNorm)
	v.SetDefault("model.physics_weight", mc.PhysicsWeight)
	v.SetDefault("model.mass_conservation", mc.MassConservation)
	v.SetDefault("model.smoothness", mc.Smoothness)
	v.SetDefault("model.probabilistic", false)
	v.SetDefault("model.members", []string{string(predictor.GRU)})
	v.SetDefault("model.loss", mc.Loss)
	v.SetDefault("model.alpha", mc.Alpha)
	v.SetDefault("model.seed", mc.Seed)

	v.SetDefault("training.epochs", predictor.DefaultEpochs)
	v.SetDefault("training.batch_size", predictor.DefaultBatchSize)
	v.SetDefault("training.shuffle", true)
	v.SetDefault("training.validation_fraction", 0.2)
	v.SetDefault("training.early_stopping_patience", 10)
	v.SetDefault("training.reduce_lr_factor", 0.5)
	v.SetDefault("training.reduce_lr_patience", 5)
	v.SetDefault("training.min_learning_rate", 1e-6)
	v.SetDefault("training.checkpoint", true)

	v.SetDefault("uncertainty.samples", 100)
	v.SetDefault("uncertainty.test_samples", 20)
	v.SetDefault("uncertainty.noise_std", 0.01)
	v.SetDefault("uncertainty.seed", 42)

	v.SetDefault("evaluation.metrics", []string{"RMSE", "MAE", "R²", "NSE", "KGE", "MAPE"})
	v.SetDefault("evaluation.horizon", 7)
	v.SetDefault("evaluation.plots", true)

	v.SetDefault("artifacts.dir", filepath.Join(os.TempDir(), "hydrocast"))

	v.SetDefault("tuning.trials", 8)
	v.SetDefault("tuning.startup_trials", 5)
	v.SetDefault("tuning.max_samples", 1000)
	v.SetDefault("tuning.epochs", 10)

	v.SetDefault("cv.folds", 5)

	v.SetDefault("log.level", "info")

	v.SetDefault("server.addr", ":8080")
	v.SetDefault("server.rate_limit", 10.0)
	v.SetDefault("server.burst", 20)
	v.SetDefault("server.max_upload_mb", 32)

	v.SetDefault("store.driver", "sqlite3")
	v.SetDefault("store.dsn", filepath.Join(os.TempDir(), "hydrocast", "runs.db"))
}

// New returns a viper instance with defaults and environment overrides.
func New() *viper.Viper {
	v := viper.New()
	SetDefaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	return v
}

// Load reads path (when non-empty) over the defaults and validates the result.
func Load(path string) (*Config, error) {
	v := New()
	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, errors.Wrapf(err, "read config %s", path)
		}
	}
	return FromViper(v)
}

// FromViper decodes and validates v.
func FromViper(v *viper.Viper) (*Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, errors.Wrap(err, "decode config")
	}
	// units default per kind (PINN is wider)
	if len(cfg.Model.Units) == 0 {
		if k, err := predictor.ParseKind(cfg.Model.Type); err == nil {
			cfg.Model.Units = predictor.DefaultConfig(k).Units
		}
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Default returns the validated defaults.
func Default() *Config {
	cfg, err := FromViper(New())
	if err != nil {
		// defaults always validate
		panic(err)
	}
	return cfg
}

// Validate checks ranges that do not depend on the data.
func (c *Config) Validate() error {
	if c.Data.Lags < 1 {
		return errors.NewValidationError("data.lags", "must be >= 1", c.Data.Lags)
	}
	if c.Data.TrainSplit <= 0 || c.Data.TrainSplit >= 1 {
		return errors.NewValidationError("data.train_split", "must be in (0, 1)", c.Data.TrainSplit)
	}
	if c.Data.Window < 1 {
		return errors.NewValidationError("data.window", "must be >= 1", c.Data.Window)
	}
	if _, err := features.ParseMissingPolicy(c.Data.Missing); err != nil {
		return err
	}
	if c.Data.RemoveOutliers && (c.Data.OutlierThreshold < features.MinOutlierThreshold || c.Data.OutlierThreshold > features.MaxOutlierThreshold) {
		return errors.NewValidationError("data.outlier_threshold", "must be in [1, 5]", c.Data.OutlierThreshold)
	}
	if _, err := preprocessing.ParseScalerKind(c.Data.Scaler); err != nil {
		return err
	}
	if _, err := predictor.ParseKind(c.Model.Type); err != nil {
		return err
	}
	if err := c.Model.Config.Validate(); err != nil {
		return err
	}
	if c.Training.Epochs < 1 {
		return errors.NewValidationError("training.epochs", "must be >= 1", c.Training.Epochs)
	}
	if c.Training.BatchSize < 1 {
		return errors.NewValidationError("training.batch_size", "must be >= 1", c.Training.BatchSize)
	}
	if c.Training.ValidationFraction < 0 || c.Training.ValidationFraction >= 1 {
		return errors.NewValidationError("training.validation_fraction", "must be in [0, 1)", c.Training.ValidationFraction)
	}
	if c.Uncertainty.Samples < 1 || c.Uncertainty.TestSamples < 1 {
		return errors.NewValidationError("uncertainty.samples", "must be >= 1", c.Uncertainty.Samples)
	}
	if c.Evaluation.Horizon < 1 || c.Evaluation.Horizon > 30 {
		return errors.NewValidationError("evaluation.horizon", "must be in [1, 30]", c.Evaluation.Horizon)
	}
	if c.CV.Folds < 2 {
		return errors.NewValidationError("cv.folds", "must be >= 2", c.CV.Folds)
	}
	if c.Tuning.Trials < 1 {
		return errors.NewValidationError("tuning.trials", "must be >= 1", c.Tuning.Trials)
	}
	return nil
}

// ModelKind returns the parsed predictor kind.
func (c *Config) ModelKind() predictor.Kind {
	k, _ := predictor.ParseKind(c.Model.Type)
	return k
}

// PredictorConfig returns the predictor section.
func (c *Config) PredictorConfig() predictor.Config {
	return c.Model.Config
}

// FeatureOptions converts the data section for the feature pipeline.
func (c *Config) FeatureOptions() (features.Options, error) {
	missing, err := features.ParseMissingPolicy(c.Data.Missing)
	if err != nil {
		return features.Options{}, err
	}
	kinds := make(map[string]features.VarKind, len(c.Data.Inputs))
	for _, in := range c.Data.Inputs {
		kinds[in] = features.Dynamic
	}
	for _, s := range c.Data.Static {
		kinds[s] = features.Static
	}
	return features.Options{
		Inputs:           append([]string{}, c.Data.Inputs...),
		Output:           c.Data.Output,
		Kinds:            kinds,
		Lags:             c.Data.Lags,
		Missing:          missing,
		RemoveOutliers:   c.Data.RemoveOutliers,
		OutlierThreshold: c.Data.OutlierThreshold,
	}, nil
}

// ScalerKind returns the parsed scaler kind.
func (c *Config) ScalerKind() preprocessing.ScalerKind {
	k, _ := preprocessing.ParseScalerKind(c.Data.Scaler)
	return k
}

// FitOptions returns the training options with the standard callbacks.
// checkpoint is the best-weights path, ignored unless enabled.
func (c *Config) FitOptions(checkpoint string) predictor.FitOptions {
	t := c.Training
	cbs := []predictor.Callback{
		predictor.NewEarlyStopping(t.EarlyStoppingPatience, true),
		predictor.NewReduceLROnPlateau(t.ReduceLRFactor, t.ReduceLRPatience, t.MinLearningRate),
	}
	if t.Checkpoint && checkpoint != "" {
		cbs = append(cbs, predictor.NewCheckpoint(checkpoint))
	}
	return predictor.FitOptions{Epochs: t.Epochs, BatchSize: t.BatchSize, Shuffle: t.Shuffle, Callbacks: cbs}
}

// Dump writes c as YAML.
func (c *Config) Dump(w io.Writer) error {
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(c); err != nil {
		return errors.Wrap(err, "encode config")
	}
	return errors.Wrap(enc.Close(), "encode config")
}
