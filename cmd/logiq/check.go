package main

import (
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/versalogiq/logiq/internal/bulk"
	"github.com/versalogiq/logiq/internal/inventory"
	"github.com/versalogiq/logiq/internal/metrics"
	"github.com/versalogiq/logiq/internal/output"
)

// checkCmd tests connectivity to every inventory host
var checkCmd = &cobra.Command{
	Use:   "check",
	Short: "Test SSH connectivity to every host in the inventory",
	Long: `Connect to each inventory host, run a whoami command test, elevate
with sudo and detect its flavor. Hosts whose detected flavor differs from
the configured one are flagged.

Examples:
  logiq check
  logiq check -i hosts.json --sequential
  logiq check -w 10 -t 30s --export-csv`,
	Args: cobra.NoArgs,
	RunE: runCheck,
}

func init() {
	checkCmd.Flags().StringP("inventory", "i", "", "Inventory file (default from LOGIQ_INVENTORY)")
	checkCmd.Flags().Bool("sequential", false, "Test hosts one at a time")
	checkCmd.Flags().IntP("workers", "w", 0, "Parallel connections (default from LOGIQ_WORKERS)")
	checkCmd.Flags().DurationP("timeout", "t", 0, "Connection timeout (default from LOGIQ_CONNECT_TIMEOUT)")
	checkCmd.Flags().Bool("export-csv", false, "Export results to CSV")
	checkCmd.Flags().String("csv-file", "", "CSV file name (default ssh_test_results_<timestamp>.csv)")
	checkCmd.Flags().Bool("export-json", false, "Export results to JSON")
	checkCmd.Flags().String("json-file", "", "JSON file name (default ssh_test_results_<timestamp>.json)")
}

func runCheck(cmd *cobra.Command, args []string) error {
	s, err := loadSettings()
	if err != nil {
		return err
	}
	flags := cmd.Flags()
	invPath, _ := flags.GetString("inventory")
	if invPath == "" {
		invPath = s.InventoryPath
	}
	sequential, _ := flags.GetBool("sequential")
	workers, _ := flags.GetInt("workers")
	if workers <= 0 {
		workers = s.Workers
	}
	if timeout, _ := flags.GetDuration("timeout"); timeout > 0 {
		s.ConnectTimeout = timeout
	}

	log, err := newLogger(s, false)
	if err != nil {
		return err
	}
	defer func() { _ = log.Sync() }()

	inv, err := inventory.LoadFile(invPath)
	if err != nil {
		return err
	}

	out := newOutput()
	out.Info("Loaded %d host configurations from %s", inv.Len(), invPath)

	checker := bulk.New(loadCatalog(s.CatalogPath, log),
		bulk.WithOptions(bulk.Options{Parallel: !sequential, Workers: workers}),
		bulk.WithSessionOptions(s.SessionOptions()),
		bulk.WithLogger(log),
		bulk.WithMetrics(metrics.New()),
		bulk.WithProgress(out.HostResult),
	)

	ctx, cancel := signalContext()
	defer cancel()

	out.RunStart(inv.Len(), workers, !sequential)
	report := checker.Run(ctx, inv.Hosts)
	out.Summary(report)

	if ok, _ := flags.GetBool("export-csv"); ok {
		name, _ := flags.GetString("csv-file")
		if path, err := output.ExportCSV(name, report); err != nil {
			out.Error("Error exporting to CSV: %v", err)
		} else {
			out.Info("Results exported to CSV: %s", path)
		}
	}
	if ok, _ := flags.GetBool("export-json"); ok {
		name, _ := flags.GetString("json-file")
		if path, err := output.ExportJSON(name, report); err != nil {
			out.Error("Error exporting to JSON: %v", err)
		} else {
			out.Info("Results exported to JSON: %s", path)
		}
	}

	if failed := report.Failed(); failed > 0 {
		out.Warn("%d of %d hosts failed (%s)", failed, len(report.Results), report.Duration().Round(time.Millisecond))
		os.Exit(1)
	}
	return nil
}
