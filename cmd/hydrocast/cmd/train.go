package cmd

import (
	"fmt"
	"io"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/ezoic/hydrocast/evaluation"
	"github.com/ezoic/hydrocast/pipeline"
	"github.com/ezoic/hydrocast/pkg/log"
	"github.com/ezoic/hydrocast/predictor"
)

var (
	exportDir string
	outFile   string
	horizon   int
)

var trainCmd = &cobra.Command{
	Use:   "train [data-file]",
	Short: "Train a model and save the session",
	Long: `Train preprocesses the data, splits it chronologically, fits the
configured model and scores both partitions. The session is saved to the
artifacts directory for later test, predict and forecast runs.`,
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
		report, err := pc.Train(cmd.Context(), tbl, pipeline.Progress(func(l predictor.EpochLogs) {
			logger.Debug("Epoch", log.EpochKey, l.Epoch, log.LossKey, l.Loss, log.ValLossKey, l.ValLoss)
		}))
		if err != nil {
			return err
		}
		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "run %s  model %s  features %s\n", report.RunID, report.Model, strings.Join(pc.FeatureSet(), ","))
		if h := report.History; h != nil {
			fmt.Fprintf(out, "epochs %d  stopped early %v\n", h.Epochs(), h.Stopped)
		}
		if err := printMetrics(out, report); err != nil {
			return err
		}
		return export(out, pc)
	},
}

var testCmd = &cobra.Command{
	Use:   "test [data-file]",
	Short: "Score the saved session on labelled data",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		pc, err := loadSession()
		if err != nil {
			return err
		}
		tbl, err := readData(args)
		if err != nil {
			return err
		}
		res, err := pc.Test(cmd.Context(), tbl)
		if err != nil {
			return err
		}
		if err := printScores(cmd.OutOrStdout(), res); err != nil {
			return err
		}
		return writeRecords(cmd.OutOrStdout(), pc, res)
	},
}

var predictCmd = &cobra.Command{
	Use:   "predict [data-file]",
	Short: "Predict new data with uncertainty",
	Long: `Predict lays new data out on the trained feature set and writes one
row per step: date, actual (when the output column is present), predicted
mean and standard deviation.`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		pc, err := loadSession()
		if err != nil {
			return err
		}
		tbl, err := readData(args)
		if err != nil {
			return err
		}
		res, err := pc.Predict(cmd.Context(), tbl)
		if err != nil {
			return err
		}
		if res.Scores != nil {
			if err := printScores(cmd.ErrOrStderr(), res); err != nil {
				return err
			}
		}
		return writeRecords(cmd.OutOrStdout(), pc, res)
	},
}

var forecastCmd = &cobra.Command{
	Use:   "forecast [history-file]",
	Short: "Forecast the output variable ahead",
	Long: `Forecast predicts the next --horizon steps recursively, feeding each
predicted value back as the next lag. The history file must end with the
latest observations and carry the output column.`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		pc, err := loadSession()
		if err != nil {
			return err
		}
		tbl, err := readData(args)
		if err != nil {
			return err
		}
		res, err := pc.Forecast(cmd.Context(), tbl, horizon)
		if err != nil {
			return err
		}
		return writeRecords(cmd.OutOrStdout(), pc, res)
	},
}

func init() {
	trainCmd.Flags().StringVar(&exportDir, "export", "", "write predictions, metrics and plots to this directory")
	for _, c := range []*cobra.Command{testCmd, predictCmd, forecastCmd} {
		c.Flags().StringVarP(&outFile, "out", "o", "", "write records CSV to a file instead of stdout")
	}
	forecastCmd.Flags().IntVar(&horizon, "horizon", 0, fmt.Sprintf("steps ahead, %d..%d (0 = evaluation.horizon)", pipeline.MinHorizon, pipeline.MaxHorizon))
	rootCmd.AddCommand(trainCmd, testCmd, predictCmd, forecastCmd)
}

func export(out io.Writer, pc *pipeline.Context) error {
	if exportDir == "" {
		return nil
	}
	paths, err := pc.Export(exportDir)
	if err != nil {
		return err
	}
	for _, p := range paths {
		fmt.Fprintln(out, "wrote", p)
	}
	return nil
}

func printMetrics(w io.Writer, r *evaluation.Report) error {
	header, rows := r.MetricsTable()
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, strings.Join(header, "\t"))
	for _, row := range rows {
		fmt.Fprintln(tw, strings.Join(row, "\t"))
	}
	return tw.Flush()
}

func printScores(w io.Writer, res *evaluation.SplitResult) error {
	if res.Scores == nil {
		return nil
	}
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	for _, name := range res.Scores.Names {
		if v, ok := res.Scores.Get(name); ok {
			fmt.Fprintf(tw, "%s\t%.4f\n", name, v)
		} else {
			fmt.Fprintf(tw, "%s\tn/a\t%s\n", name, res.Scores.Errors[name])
		}
	}
	return tw.Flush()
}

func writeRecords(stdout io.Writer, pc *pipeline.Context, res *evaluation.SplitResult) error {
	output := pc.Config().Data.Output
	if outFile == "" {
		return evaluation.WriteRecordsCSV(stdout, output, res.Records)
	}
	return evaluation.SaveCSV(outFile, func(w io.Writer) error {
		return evaluation.WriteRecordsCSV(w, output, res.Records)
	})
}
