package cmd

import (
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/ezoic/hydrocast/pkg/errors"
)

var runsLimit int

var runsCmd = &cobra.Command{
	Use:   "runs",
	Short: "List recorded training runs",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		st, err := openStore(cmd.Context())
		if err != nil {
			return err
		}
		defer st.Close()
		runs, err := st.Runs(cmd.Context(), runsLimit)
		if err != nil {
			return err
		}
		tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
		fmt.Fprintln(tw, "id\tmodel\toutput\tcreated")
		for _, r := range runs {
			fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", r.ID, r.Model, r.Output, r.CreatedAt.Format(time.RFC3339))
		}
		return tw.Flush()
	},
}

var runsShowCmd = &cobra.Command{
	Use:   "show <id>",
	Short: "Show the scores of a run",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		st, err := openStore(cmd.Context())
		if err != nil {
			return err
		}
		defer st.Close()
		run, err := st.Run(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		if run == nil {
			return errors.Newf("run %s not found", args[0])
		}
		scores, err := st.Scores(cmd.Context(), run.ID)
		if err != nil {
			return err
		}
		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "run %s  model %s  output %s  created %s\n", run.ID, run.Model, run.Output, run.CreatedAt.Format(time.RFC3339))
		tw := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
		fmt.Fprintln(tw, "split\tmetric\tvalue")
		for _, s := range scores {
			fmt.Fprintf(tw, "%s\t%s\t%.4f\n", s.Split, s.Metric, s.Value)
		}
		return tw.Flush()
	},
}

var runsDeleteCmd = &cobra.Command{
	Use:   "delete <id>",
	Short: "Delete a run and its scores",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		st, err := openStore(cmd.Context())
		if err != nil {
			return err
		}
		defer st.Close()
		return st.Delete(cmd.Context(), args[0])
	},
}

func init() {
	runsCmd.Flags().IntVar(&runsLimit, "limit", 20, "maximum runs to list (0 = all)")
	runsCmd.AddCommand(runsShowCmd, runsDeleteCmd)
	rootCmd.AddCommand(runsCmd)
}
