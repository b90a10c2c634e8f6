package cmd

import (
	"encoding/json"
	"fmt"
	"sort"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/ezoic/hydrocast/hyperopt"
	"github.com/ezoic/hydrocast/pkg/log"
)

var asJSON bool

var cvCmd = &cobra.Command{
	Use:   "cv [data-file]",
	Short: "Time-series cross-validation",
	Long: `cv trains one model per expanding-window fold (cv.folds) and reports
each fold's test scores and their mean. The saved session is not touched.`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		tbl, err := readData(args)
		if err != nil {
			return err
		}
		pc, done, err := newSession(cmd.Context())
		if err != nil {
			return err
		}
		defer done()
		res, err := pc.CrossValidate(cmd.Context(), tbl)
		if err != nil {
			return err
		}
		out := cmd.OutOrStdout()
		if asJSON {
			enc := json.NewEncoder(out)
			enc.SetIndent("", "  ")
			return enc.Encode(res)
		}
		tw := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
		fmt.Fprintln(tw, "fold\ttrain\ttest\tmetric\tvalue")
		for _, f := range res.Folds {
			for _, name := range f.Scores.Names {
				if v, ok := f.Scores.Get(name); ok {
					fmt.Fprintf(tw, "%d\t%d\t%d\t%s\t%.4f\n", f.Fold, f.TrainRows, f.TestRows, name, v)
				}
			}
		}
		names := make([]string, 0, len(res.Mean))
		for name := range res.Mean {
			names = append(names, name)
		}
		sort.Strings(names)
		for _, name := range names {
			fmt.Fprintf(tw, "mean\t\t\t%s\t%.4f\n", name, res.Mean[name])
		}
		return tw.Flush()
	},
}

var tuneCmd = &cobra.Command{
	Use:   "tune [data-file]",
	Short: "Search hyperparameters",
	Long: `tune runs tuning.trials short training runs on the training partition
and prints the parameters with the lowest validation loss. Copy them into
the model section of the configuration to use them.`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		tbl, err := readData(args)
		if err != nil {
			return err
		}
		pc, done, err := newSession(cmd.Context())
		if err != nil {
			return err
		}
		defer done()
		logger := log.GetLoggerWithName("cli")
		res, err := pc.Tune(cmd.Context(), tbl, func(tr hyperopt.Trial) {
			logger.Info("Trial finished", log.TrialKey, tr.Number, "score", tr.Score, "error", tr.Err)
		})
		if err != nil {
			return err
		}
		out := cmd.OutOrStdout()
		if asJSON {
			enc := json.NewEncoder(out)
			enc.SetIndent("", "  ")
			return enc.Encode(res)
		}
		b := res.Best
		fmt.Fprintf(out, "best trial %d  val_loss %.6f\n", b.Number, b.Score)
		fmt.Fprintf(out, "learning_rate: %g\ndropout_rate: %g\nnum_layers: %d\nunits: %d\n",
			b.Params.LearningRate, b.Params.Dropout, b.Params.Layers, b.Params.Units)
		return nil
	},
}

func init() {
	for _, c := range []*cobra.Command{cvCmd, tuneCmd} {
		c.Flags().BoolVar(&asJSON, "json", false, "print the full result as JSON")
	}
	rootCmd.AddCommand(cvCmd, tuneCmd)
}
