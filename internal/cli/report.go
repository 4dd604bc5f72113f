package cli

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"latecomers/internal/app"
	"latecomers/internal/report"
)

func init() {
	rootCmd.AddCommand(reportCmd)
	reportCmd.AddCommand(reportExportCmd)

	reportExportCmd.Flags().String("month", "", "Month, 1-12 (default: current month in the policy timezone)")
	reportExportCmd.Flags().String("year", "", "Four digit year (default: current year in the policy timezone)")
	reportExportCmd.Flags().String("out", ".", "Directory to write the workbook to")
}

// clock is replaced in tests.
var clock = time.Now

var reportCmd = &cobra.Command{
	Use:   "report",
	Short: "Settled fine reports",
}

var reportExportCmd = &cobra.Command{
	Use:   "export",
	Short: "Write a month's settled fines to an xlsx workbook",
	RunE:  withApp(runReportExport),
}

func runReportExport(cmd *cobra.Command, a *app.App, _ []string) error {
	month, _ := cmd.Flags().GetString("month")
	year, _ := cmd.Flags().GetString("year")
	dir, _ := cmd.Flags().GetString("out")

	now := clock().In(a.Config.Policy.Location())
	if month == "" {
		month = strconv.Itoa(int(now.Month()))
	}
	if year == "" {
		year = strconv.Itoa(now.Year())
	}

	p, err := report.ParsePeriod(month, year)
	if err != nil {
		return err
	}
	out, err := a.Reports.Export(cmd.Context(), p)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	path := filepath.Join(dir, out.Filename)
	if err := os.WriteFile(path, out.Data, 0o644); err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "wrote %d records to %s\n", out.Rows, path)
	return nil
}
