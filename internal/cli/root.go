// Package cli implements the lateadm administration commands.
package cli

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"latecomers/internal/app"
	"latecomers/internal/config"
)

var rootCmd = &cobra.Command{
	Use:   "lateadm",
	Short: "Administer the late-comers ledger",
	Long: `lateadm registers scanning-station accounts, runs the monthly reset
jobs by hand and exports settled fines as spreadsheets. It reads the same
environment and .env file as the API server.`,
	SilenceUsage: true,
}

// openApp is replaced in tests.
var openApp = func(ctx context.Context) (*app.App, error) {
	return app.Open(ctx, config.Load())
}

// Execute runs the root command.
func Execute() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	return rootCmd.ExecuteContext(ctx)
}

// withApp opens the backends for the duration of one command.
func withApp(fn func(cmd *cobra.Command, a *app.App, args []string) error) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) error {
		a, err := openApp(cmd.Context())
		if err != nil {
			return err
		}
		defer a.Close()
		return fn(cmd, a, args)
	}
}
