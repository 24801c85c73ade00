package cmd

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

func newAggregateCmd() *cobra.Command {
	var quiet bool
	cmd := &cobra.Command{
		Use:   "aggregate",
		Short: "Runs one aggregation and prints the collection",
		Long: `Evaluates every rule once, persists the sorted collection to the
configured backend and writes it to stdout as a JSON array.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			appInstance, err := resolveApp(cmd.Context())
			if err != nil {
				return err
			}
			run, res, err := appInstance.RunOnce(cmd.Context())
			if err != nil {
				return err
			}
			for _, ruleErr := range res.RuleErrors {
				zap.L().Warn("rule failed", zap.String("run_id", run.ID), zap.Error(ruleErr))
			}
			if quiet {
				return nil
			}
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			if err := enc.Encode(res.Records); err != nil {
				return fmt.Errorf("write records: %w", err)
			}
			return nil
		},
	}
	cmd.Flags().BoolVarP(&quiet, "quiet", "q", false, "persist without printing records")
	return cmd
}
