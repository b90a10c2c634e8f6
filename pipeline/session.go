package pipeline

import (
	"encoding/json"
	"os"
	"path/filepath"
	"time"

	"github.com/ezoic/hydrocast/config"
	"github.com/ezoic/hydrocast/evaluation"
	"github.com/ezoic/hydrocast/pkg/errors"
	"github.com/ezoic/hydrocast/pkg/log"
	"github.com/ezoic/hydrocast/predictor"
	"github.com/ezoic/hydrocast/preprocessing"
)

// Artifact file names inside the artifacts directory.
const (
	SessionFile    = "session.json"
	WeightsFile    = "model_weights.gob.xz"
	CheckpointFile = "best_weights.gob.xz"
	HistoryPlot    = "history.png"
)

const sessionVersion = 1

// sessionFile is everything besides the weights needed to resume a session.
type sessionFile struct {
	Version      int                        `json:"version"`
	Config       *config.Config             `json:"config"`
	Model        predictor.Kind             `json:"model"`
	Shape        predictor.InputShape       `json:"input_shape"`
	BaseFeatures []string                   `json:"base_features"`
	Features     []string                   `json:"features"`
	Scaler       *preprocessing.ScalerState `json:"scaler"`
	SavedAt      time.Time                  `json:"saved_at"`
}

func (c *Context) artifact(name string) string {
	if c.cfg.Artifacts.Dir == "" {
		return ""
	}
	return filepath.Join(c.cfg.Artifacts.Dir, name)
}

// Save writes session.json and the predictor weights to dir.
func (c *Context) Save(dir string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.requireTrained("Save"); err != nil {
		return err
	}
	if dir == "" {
		return errors.NewValidationError("artifacts.dir", "is required", dir)
	}
	return c.save(dir)
}

// save is a no-op for an empty dir.
func (c *Context) save(dir string) error {
	if dir == "" {
		return nil
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return errors.Wrapf(err, "create artifacts directory %s", dir)
	}
	sf := sessionFile{
		Version:      sessionVersion,
		Config:       c.cfg,
		Model:        c.model.Kind(),
		Shape:        c.model.InputShape(),
		BaseFeatures: c.base,
		Features:     c.featureSet,
		Scaler:       c.scaler,
		SavedAt:      time.Now().UTC(),
	}
	raw, err := json.MarshalIndent(sf, "", "  ")
	if err != nil {
		return errors.Wrap(err, "encode session")
	}
	if err := c.model.SaveWeights(filepath.Join(dir, WeightsFile)); err != nil {
		return err
	}
	if err := os.WriteFile(filepath.Join(dir, SessionFile), raw, 0o644); err != nil {
		return errors.Wrap(err, "write session")
	}
	c.logger.Debug("Session saved", "dir", dir, log.ModelNameKey, string(sf.Model))
	return nil
}

// Load resumes a session saved in dir. The saved configuration is used.
func Load(dir string, options ...Option) (_ *Context, err error) {
	defer errors.Recover(&err, "pipeline.Load")
	raw, err := os.ReadFile(filepath.Join(dir, SessionFile))
	if err != nil {
		return nil, errors.Wrap(err, "read session")
	}
	var sf sessionFile
	if err := json.Unmarshal(raw, &sf); err != nil {
		return nil, errors.Wrap(err, "decode session")
	}
	if sf.Version != sessionVersion {
		return nil, errors.NewValidationError("session.version", "unsupported", sf.Version)
	}
	if sf.Scaler == nil || !sf.Scaler.IsFitted() {
		return nil, errors.NewModelError("pipeline.Load", "session has no fitted scaler", errors.ErrNotFitted)
	}

	c, err := New(sf.Config, options...)
	if err != nil {
		return nil, err
	}
	model, err := predictor.Build(sf.Model, sf.Shape, sf.Config.PredictorConfig())
	if err != nil {
		return nil, err
	}
	if err := model.LoadWeights(filepath.Join(dir, WeightsFile)); err != nil {
		return nil, err
	}
	c.base, c.featureSet, c.scaler, c.model = sf.BaseFeatures, sf.Features, sf.Scaler, model
	c.logger.Info("Session loaded", "dir", dir, log.ModelNameKey, string(sf.Model), log.FeaturesKey, len(sf.Features))
	return c, nil
}

// Export writes the current report to dir: one CSV per split, metrics.csv
// and, when plots are enabled, one PNG per split plus the training history.
func (c *Context) Export(dir string) ([]string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.report == nil {
		return nil, errors.NewValueError("pipeline.Export", "nothing to export")
	}
	paths, err := evaluation.ExportRun(dir, c.report)
	if err != nil {
		return nil, err
	}
	if !c.cfg.Evaluation.Plots {
		return paths, nil
	}
	for split, res := range c.report.Splits {
		if len(res.Records) == 0 {
			continue
		}
		path := filepath.Join(dir, string(split)+".png")
		if err := evaluation.PlotPredictions(path, string(split), c.opts.Output, res.Records); err != nil {
			return paths, err
		}
		paths = append(paths, path)
	}
	if h := c.report.History; h != nil && h.Epochs() > 0 {
		path := filepath.Join(dir, HistoryPlot)
		if err := evaluation.PlotHistory(path, h); err != nil {
			return paths, err
		}
		paths = append(paths, path)
	}
	return paths, nil
}
