package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

// newBootstrapCmd creates the 'bootstrap' subcommand.
func newBootstrapCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "bootstrap",
		Short: "Creates the content and tag indices with their mappings",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			appInstance, err := resolveApp(cmd.Context())
			if err != nil {
				return err
			}
			if err := appInstance.EnsureIndices(cmd.Context()); err != nil {
				return fmt.Errorf("bootstrap: %w", err)
			}
			cfg := appInstance.Config()
			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "indices ready: %s, %s\n", cfg.Index.Content.Name, cfg.Index.Tags.Name)
			return nil
		},
	}
}
