// Package cmd implements the hydrocast command line.
package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/ezoic/hydrocast/config"
	"github.com/ezoic/hydrocast/dataset"
	"github.com/ezoic/hydrocast/pipeline"
	"github.com/ezoic/hydrocast/pkg/errors"
	"github.com/ezoic/hydrocast/pkg/log"
	"github.com/ezoic/hydrocast/store"
)

var (
	cfgFile      string
	logLevel     string
	dataPath     string
	artifactsDir string
	record       bool

	cfg *config.Config
)

var rootCmd = &cobra.Command{
	Use:   "hydrocast",
	Short: "Hydrological time-series forecasting",
	Long: `hydrocast trains a sequence model on a hydrological series (rainfall,
temperature, discharge, ...), scores it with NSE/KGE and friends, predicts
new data with Monte Carlo uncertainty and forecasts a short horizon ahead.

Configuration comes from --config (YAML, JSON or TOML), HYDROCAST_* environment
variables (HYDROCAST_DATA_PATH, HYDROCAST_MODEL_TYPE, ...) and the flags below.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		return loadConfig(cmd)
	},
}

// Execute runs the root command and exits non-zero on failure.
func Execute() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		stop()
		os.Exit(1)
	}
}

func init() {
	pf := rootCmd.PersistentFlags()
	pf.StringVar(&cfgFile, "config", "", "configuration file")
	pf.StringVar(&logLevel, "log-level", "", "log level (debug, info, warn, error)")
	pf.StringVar(&dataPath, "data", "", "data file (.csv, .xlsx or .json); overrides data.path")
	pf.StringVar(&artifactsDir, "artifacts", "", "session and artifact directory; overrides artifacts.dir")
	pf.BoolVar(&record, "record", false, "record training runs in the configured store")
}

func loadConfig(cmd *cobra.Command) error {
	v := config.New()
	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
		if err := v.ReadInConfig(); err != nil {
			return errors.Wrapf(err, "read config %s", cfgFile)
		}
	}
	pf := cmd.Root().PersistentFlags()
	for key, name := range map[string]string{
		"log.level":     "log-level",
		"data.path":     "data",
		"artifacts.dir": "artifacts",
	} {
		if err := v.BindPFlag(key, pf.Lookup(name)); err != nil {
			return errors.Wrap(err, "bind flag")
		}
	}
	c, err := config.FromViper(v)
	if err != nil {
		return err
	}
	cfg = c
	log.SetupLogger(cfg.Log.Level)
	return nil
}

// viperFor exposes the merged settings for `config view --all`.
func viperFor() *viper.Viper {
	v := config.New()
	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
		_ = v.ReadInConfig()
	}
	return v
}

func openStore(ctx context.Context) (*store.Store, error) {
	return store.Open(ctx, store.Config{Driver: cfg.Store.Driver, DSN: cfg.Store.DSN})
}

// newSession starts an untrained session. The returned func releases it.
func newSession(ctx context.Context) (*pipeline.Context, func(), error) {
	var opts []pipeline.Option
	done := func() {}
	if record {
		st, err := openStore(ctx)
		if err != nil {
			return nil, nil, err
		}
		opts = append(opts, pipeline.WithStore(st))
		done = func() { st.Close() }
	}
	pc, err := pipeline.New(cfg, opts...)
	if err != nil {
		done()
		return nil, nil, err
	}
	return pc, done, nil
}

// loadSession restores the session saved under the artifacts directory.
func loadSession() (*pipeline.Context, error) {
	return pipeline.Load(cfg.Artifacts.Dir)
}

// readData reads the first argument, or data.path when there is none.
func readData(args []string) (*dataset.Table, error) {
	if len(args) > 0 {
		return dataset.ReadFile(args[0], dataset.ReadOptions{Sheet: cfg.Data.Sheet, DateColumn: cfg.Data.DateColumn})
	}
	return pipeline.ReadTable(cfg)
}

// optionalData is readData that yields nil when no data is configured.
func optionalData(args []string) (*dataset.Table, error) {
	if len(args) == 0 && cfg.Data.Path == "" {
		return nil, nil
	}
	return readData(args)
}
