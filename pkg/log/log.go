// Package log provides structured logging for hydrocast on top of zerolog.
//
// Components obtain a named Logger and attach key-value pairs:
//
//	logger := log.GetLoggerWithName("features").With(log.ComponentKey, "features")
//	logger.Info("Lag generation completed",
//		log.SamplesKey, rows,
//		log.FeaturesKey, len(names),
//	)
//
// The global zerolog logger is also available through GetLogger for call
// sites that prefer zerolog's fluent API.
package log

import (
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// Well-known field keys.
const (
	ModelNameKey  = "model_name"
	ComponentKey  = "component"
	OperationKey  = "operation"
	PhaseKey      = "phase"
	SamplesKey    = "n_samples"
	FeaturesKey   = "n_features"
	DurationMsKey = "duration_ms"
	PredsKey      = "n_predictions"
	EpochKey      = "epoch"
	LossKey       = "loss"
	ValLossKey    = "val_loss"
	SplitKey      = "split"
	RunIDKey      = "run_id"
	TrialKey      = "trial"
	FoldKey       = "fold"
	ReasonKey     = "reason"
)

// Operation values for OperationKey.
const (
	OperationFit       = "fit"
	OperationPredict   = "predict"
	OperationTransform = "transform"
	OperationEvaluate  = "evaluate"
	OperationTune      = "tune"
)

// Phase values for PhaseKey.
const (
	PhasePreprocessing = "preprocessing"
	PhaseTraining      = "training"
	PhaseInference     = "inference"
	PhaseEvaluation    = "evaluation"
)

// Logger is the structured logging interface used by every package.
// Fields are alternating keys and values.
type Logger interface {
	Debug(msg string, fields ...interface{})
	Info(msg string, fields ...interface{})
	Warn(msg string, fields ...interface{})
	Error(msg string, fields ...interface{})
	With(fields ...interface{}) Logger
}

// LoggerProvider creates named loggers.
type LoggerProvider interface {
	GetLogger() Logger
	GetLoggerWithName(name string) Logger
}

// ZerologProvider is a LoggerProvider backed by a zerolog.Logger.
type ZerologProvider struct {
	base zerolog.Logger
}

// NewZerologProvider creates a provider writing human readable output to stderr.
func NewZerologProvider(level zerolog.Level) *ZerologProvider {
	return NewZerologProviderWithWriter(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339}, level)
}

// NewZerologProviderWithWriter creates a provider writing to w.
func NewZerologProviderWithWriter(w io.Writer, level zerolog.Level) *ZerologProvider {
	return &ZerologProvider{base: zerolog.New(w).Level(level).With().Timestamp().Logger()}
}

// GetLogger returns the provider's root logger.
func (p *ZerologProvider) GetLogger() Logger {
	return &zerologLogger{l: p.base}
}

// GetLoggerWithName returns a logger tagged with name.
func (p *ZerologProvider) GetLoggerWithName(name string) Logger {
	return &zerologLogger{l: p.base.With().Str("logger", name).Logger()}
}

type zerologLogger struct {
	l zerolog.Logger
}

func (z *zerologLogger) Debug(msg string, fields ...interface{}) {
	emit(z.l.Debug(), msg, fields)
}

func (z *zerologLogger) Info(msg string, fields ...interface{}) {
	emit(z.l.Info(), msg, fields)
}

func (z *zerologLogger) Warn(msg string, fields ...interface{}) {
	emit(z.l.Warn(), msg, fields)
}

func (z *zerologLogger) Error(msg string, fields ...interface{}) {
	emit(z.l.Error(), msg, fields)
}

func (z *zerologLogger) With(fields ...interface{}) Logger {
	ctx := z.l.With()
	for i := 0; i < len(fields); i += 2 {
		key := fmt.Sprint(fields[i])
		if i+1 >= len(fields) {
			ctx = ctx.Interface(key, nil)
			break
		}
		ctx = ctx.Interface(key, fields[i+1])
	}
	return &zerologLogger{l: ctx.Logger()}
}

func emit(e *zerolog.Event, msg string, fields []interface{}) {
	if e == nil {
		return
	}
	for i := 0; i < len(fields); i += 2 {
		key := fmt.Sprint(fields[i])
		if i+1 >= len(fields) {
			e = e.Interface(key, nil)
			break
		}
		switch v := fields[i+1].(type) {
		case error:
			e = e.AnErr(key, v)
		default:
			e = e.Interface(key, v)
		}
	}
	e.Msg(msg)
}

var (
	mu       sync.RWMutex
	provider LoggerProvider = NewZerologProvider(zerolog.InfoLevel)
	global                  = zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339}).
				Level(zerolog.InfoLevel).With().Timestamp().Logger()
)

// ToLogLevel parses a level name, defaulting to info.
func ToLogLevel(level string) zerolog.Level {
	lvl, err := zerolog.ParseLevel(strings.ToLower(strings.TrimSpace(level)))
	if err != nil || level == "" {
		return zerolog.InfoLevel
	}
	return lvl
}

// SetupLogger configures the global logger and provider at the given level.
func SetupLogger(level string) {
	SetupLoggerWithWriter(level, zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})
}

// SetupLoggerWithWriter configures the global logger and provider to write to w.
func SetupLoggerWithWriter(level string, w io.Writer) {
	lvl := ToLogLevel(level)
	mu.Lock()
	defer mu.Unlock()
	global = zerolog.New(w).Level(lvl).With().Timestamp().Logger()
	provider = NewZerologProviderWithWriter(w, lvl)
}

// SetProvider replaces the global provider.
func SetProvider(p LoggerProvider) {
	mu.Lock()
	defer mu.Unlock()
	provider = p
}

// GetLogger returns the global zerolog logger.
func GetLogger() *zerolog.Logger {
	mu.RLock()
	defer mu.RUnlock()
	l := global
	return &l
}

// GetLoggerWithName returns a named logger from the global provider.
func GetLoggerWithName(name string) Logger {
	mu.RLock()
	defer mu.RUnlock()
	return provider.GetLoggerWithName(name)
}

// LogError logs err at error level with msg.
func LogError(err error, msg string) {
	GetLogger().Error().Err(err).Msg(msg)
}

// Nop returns a logger that discards everything.
func Nop() Logger {
	return &zerologLogger{l: zerolog.Nop()}
}
