package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"latecomers/internal/app"
)

func init() {
	rootCmd.AddCommand(resetCmd)
	resetCmd.AddCommand(resetMonthlyCmd)
	resetCmd.AddCommand(resetClearFieldsCmd)
}

var resetCmd = &cobra.Command{
	Use:   "reset",
	Short: "Run late-comers reset jobs now",
}

var resetMonthlyCmd = &cobra.Command{
	Use:   "monthly",
	Short: "Empty every late-comers document in one batch",
	RunE: withApp(func(cmd *cobra.Command, a *app.App, _ []string) error {
		n, err := a.Reset.ResetMonthly(cmd.Context())
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "reset %d documents\n", n)
		return nil
	}),
}

var resetClearFieldsCmd = &cobra.Command{
	Use:   "clear-fields",
	Short: "Clear attendance fields of every late-comers document",
	RunE: withApp(func(cmd *cobra.Command, a *app.App, _ []string) error {
		n, err := a.Reset.ClearFields(cmd.Context())
		if err != nil {
			return fmt.Errorf("cleared %d documents before failing: %w", n, err)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Successfully cleared fields in %d documents\n", n)
		return nil
	}),
}
