package cmd

import (
	"context"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"github.com/ezoic/hydrocast/api"
	"github.com/ezoic/hydrocast/pipeline"
	"github.com/ezoic/hydrocast/pkg/log"
	"github.com/ezoic/hydrocast/store"
)

var addr string

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the HTTP API",
	Long: `serve exposes train, test, predict and forecast over HTTP. A session
saved under the artifacts directory is loaded at start-up; otherwise the
server starts untrained and waits for POST /v1/train.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		logger := log.GetLoggerWithName("cli")
		var (
			st   *store.Store
			opts []pipeline.Option
		)
		if record {
			s, err := openStore(cmd.Context())
			if err != nil {
				return err
			}
			defer s.Close()
			st = s
			opts = append(opts, pipeline.WithStore(st))
		}

		var pc *pipeline.Context
		var err error
		if _, statErr := os.Stat(filepath.Join(cfg.Artifacts.Dir, pipeline.SessionFile)); statErr == nil {
			pc, err = pipeline.Load(cfg.Artifacts.Dir, opts...)
		} else {
			pc, err = pipeline.New(cfg, opts...)
		}
		if err != nil {
			return err
		}
		logger.Info("Session ready", "trained", pc.IsTrained(), "artifacts", cfg.Artifacts.Dir)

		scfg := cfg.Server
		if addr != "" {
			scfg.Addr = addr
		}
		var sopts []api.Option
		if st != nil {
			sopts = append(sopts, api.WithStore(st))
		}
		srv := api.New(pc, scfg, sopts...)

		errc := make(chan error, 1)
		go func() { errc <- srv.ListenAndServe() }()
		select {
		case err := <-errc:
			return err
		case <-cmd.Context().Done():
		}
		logger.Info("Shutting down")
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(ctx)
	},
}

func init() {
	serveCmd.Flags().StringVar(&addr, "addr", "", "listen address; overrides server.addr")
	rootCmd.AddCommand(serveCmd)
}
