package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"latecomers/internal/app"
	"latecomers/internal/auth"
)

func init() {
	rootCmd.AddCommand(accountCmd)
	accountCmd.AddCommand(accountRegisterCmd)

	accountRegisterCmd.Flags().String("id", "", "Account id (Firebase uid in firebase auth mode)")
	accountRegisterCmd.Flags().String("dept", "", "Department shown on reports")
	_ = accountRegisterCmd.MarkFlagRequired("id")
	_ = accountRegisterCmd.MarkFlagRequired("dept")
}

var accountCmd = &cobra.Command{
	Use:   "account",
	Short: "Manage scanning-station accounts",
}

var accountRegisterCmd = &cobra.Command{
	Use:   "register",
	Short: "Register an account and print its scanner token",
	Long: `Create or update a scanning-station account with its department. In jwt
auth mode a scanner token is issued and printed; in firebase mode the station
signs in with Firebase instead.`,
	RunE: withApp(runAccountRegister),
}

func runAccountRegister(cmd *cobra.Command, a *app.App, _ []string) error {
	id, _ := cmd.Flags().GetString("id")
	dept, _ := cmd.Flags().GetString("dept")

	if err := a.Ledger.RegisterAccount(cmd.Context(), id, dept); err != nil {
		return fmt.Errorf("register account: %w", err)
	}
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "registered account %s (%s)\n", id, dept)

	if a.Config.AuthMode != "jwt" {
		return nil
	}
	tok, err := auth.Issue(id, a.Config.JWTIssuer, a.Config.JWTSigningKey, a.Config.AccessTTL)
	if err != nil {
		return fmt.Errorf("issue token: %w", err)
	}
	fmt.Fprintf(out, "token: %s\nexpires: %s\n", tok.AccessToken, tok.ExpiresAt.Format("2006-01-02"))
	return nil
}
