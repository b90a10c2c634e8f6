package cmd

import (
	"fmt"
	"sort"

	"github.com/spf13/cobra"
)

var showAll bool

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Inspect configuration",
}

var configViewCmd = &cobra.Command{
	Use:   "view",
	Short: "Print the effective configuration as YAML",
	RunE: func(cmd *cobra.Command, args []string) error {
		if showAll {
			settings := viperFor().AllSettings()
			keys := make([]string, 0, len(settings))
			for k := range settings {
				keys = append(keys, k)
			}
			sort.Strings(keys)
			for _, k := range keys {
				fmt.Fprintf(cmd.OutOrStdout(), "%s: %v\n", k, settings[k])
			}
			return nil
		}
		return cfg.Dump(cmd.OutOrStdout())
	},
}

var configValidateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Check the configuration and exit",
	RunE: func(cmd *cobra.Command, args []string) error {
		// loadConfig already validated
		fmt.Fprintln(cmd.OutOrStdout(), "ok")
		return nil
	},
}

func init() {
	configViewCmd.Flags().BoolVar(&showAll, "all", false, "print raw settings by section")
	configCmd.AddCommand(configViewCmd, configValidateCmd)
	rootCmd.AddCommand(configCmd)
}
