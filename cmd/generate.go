package main

import (
	"encoding/json"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/sells-group/visa-checklist/internal/model"
)

var generateRegenerate bool

var generateCmd = &cobra.Command{
	Use:   "generate <application-id>",
	Short: "Generate a checklist for one application and print it",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		env, err := initEnv(ctx, "generate")
		if err != nil {
			return err
		}
		defer env.Close()

		appID := args[0]
		request := env.Generations.RequestGeneration
		if generateRegenerate {
			request = env.Generations.Regenerate
		}
		if _, err := request(ctx, appID); err != nil {
			return err
		}
		env.Generations.Wait()

		g, err := env.Generations.Get(ctx, appID)
		if err != nil {
			return err
		}
		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		if err := enc.Encode(g); err != nil {
			return eris.Wrap(err, "encode generation")
		}
		if g.Status == model.GenerationFailed {
			return eris.Errorf("generation failed (%s): %s", g.ErrorCategory, g.Error)
		}
		return nil
	},
}

func init() {
	generateCmd.Flags().BoolVar(&generateRegenerate, "regenerate", false, "request an explicit regeneration")
	rootCmd.AddCommand(generateCmd)
}
