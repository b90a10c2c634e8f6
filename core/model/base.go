// Package model provides the fit lifecycle and persistence shared by every
// stateful hydrocast component.
//
// Scalers and predictors follow the same lifecycle: they are created unfitted,
// become fitted after Fit (or after loading persisted weights) and reject
// inference calls before that point. The lifecycle is tracked by a
// StateManager held by composition:
//
//	type GRU struct {
//		state *model.StateManager
//		// network parameters
//	}
//
//	func (g *GRU) Fit(...) error {
//		// training logic
//		g.state.SetFitted()
//		return nil
//	}
//
// Trained parameters are persisted with SaveModel / LoadModel, which write an
// xz compressed gob stream.
package model

import (
	"github.com/ezoic/hydrocast/pkg/log"
)

// EstimatorState represents the learning state of a component.
type EstimatorState int

const (
	// NotFitted indicates the component is not yet trained
	NotFitted EstimatorState = iota
	// Fitted indicates the component has been trained or loaded
	Fitted
)

func (s EstimatorState) String() string {
	if s == Fitted {
		return "fitted"
	}
	return "not_fitted"
}

// BaseEstimator carries the metadata common to persisted components.
// Embedded by types that are serialised as a whole (e.g. the scaler state).
type BaseEstimator struct {
	// State holds the learning state. Public for gob encoding.
	State EstimatorState

	// ModelType identifies the component, e.g. "MinMaxScaler" or "GRU".
	ModelType string

	// Version is the artifact format version.
	Version string

	logger log.Logger
	params map[string]interface{}
}

// IsFitted returns whether the component has been fitted.
//
// Returns:
//   - bool: true after SetFitted, false after construction or Reset
//
// Example:
//
//	if !scaler.IsFitted() {
//	    return errors.NewNotFittedError("MinMaxScaler", "Transform")
//	}
func (e *BaseEstimator) IsFitted() bool {
	return e.State == Fitted
}

// SetFitted marks the component as fitted. Called by implementations at the
// end of a successful Fit, never by users.
func (e *BaseEstimator) SetFitted() {
	e.State = Fitted
}

// Reset returns the component to its unfitted state.
func (e *BaseEstimator) Reset() {
	e.State = NotFitted
}

// SetLogger sets the logger used by LogInfo / LogDebug / LogError.
func (e *BaseEstimator) SetLogger(logger log.Logger) {
	e.logger = logger
}

// Logger returns the configured logger, or a no-op logger.
func (e *BaseEstimator) Logger() log.Logger {
	if e.logger == nil {
		return log.Nop()
	}
	return e.logger
}

// LogInfo logs at info level if a logger is configured.
func (e *BaseEstimator) LogInfo(msg string, fields ...interface{}) {
	if e.logger != nil {
		e.logger.Info(msg, fields...)
	}
}

// LogDebug logs at debug level if a logger is configured.
func (e *BaseEstimator) LogDebug(msg string, fields ...interface{}) {
	if e.logger != nil {
		e.logger.Debug(msg, fields...)
	}
}

// LogError logs at error level if a logger is configured.
func (e *BaseEstimator) LogError(msg string, fields ...interface{}) {
	if e.logger != nil {
		e.logger.Error(msg, fields...)
	}
}

// GetParams returns a copy of the recorded hyperparameters.
func (e *BaseEstimator) GetParams() map[string]interface{} {
	params := make(map[string]interface{}, len(e.params))
	for k, v := range e.params {
		params[k] = v
	}
	return params
}

// SetParams merges params into the recorded hyperparameters.
func (e *BaseEstimator) SetParams(params map[string]interface{}) {
	if e.params == nil {
		e.params = make(map[string]interface{}, len(params))
	}
	for k, v := range params {
		e.params[k] = v
	}
}
