package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

var sweepCmd = &cobra.Command{
	Use:   "sweep",
	Short: "Run one document validation pass and exit",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		env, err := initEnv(ctx, "sweep")
		if err != nil {
			return err
		}
		defer env.Close()
		if env.Queue == nil {
			return errNoVerifier
		}

		stats, err := env.Queue.Sweep(ctx)
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "selected=%d processed=%d skipped=%d errors=%d\n",
			stats.Selected, stats.Processed, stats.Skipped, stats.Errors)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(sweepCmd)
}
