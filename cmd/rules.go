package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/sells-group/visa-checklist/internal/ruletable"
)

var rulesCmd = &cobra.Command{
	Use:   "rules",
	Short: "Rule table maintenance",
}

var rulesValidateCmd = &cobra.Command{
	Use:   "validate [dir]",
	Short: "Validate rule files, or the configured rule source when no dir is given",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		var (
			src ruletable.Source
			err error
		)
		if len(args) == 1 {
			src = ruletable.FileSource{Dir: args[0]}
		} else if src, err = initRuleSource(); err != nil {
			return err
		}
		return validateRules(cmd, src)
	},
}

func validateRules(cmd *cobra.Command, src ruletable.Source) error {
	sets, err := src.LoadAll(cmd.Context())
	if err != nil {
		return err
	}
	n, err := ruletable.ValidateAll(sets)
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "%d rule sets valid, %d approved pairs\n", len(sets), n)
	return nil
}

func init() {
	rulesCmd.AddCommand(rulesValidateCmd)
	rootCmd.AddCommand(rulesCmd)
}
