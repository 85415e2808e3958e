// Package main is the entrypoint for the logiq CLI.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/versalogiq/logiq/internal/config"
	"github.com/versalogiq/logiq/internal/flavor"
	"github.com/versalogiq/logiq/internal/inventory"
	"github.com/versalogiq/logiq/internal/logging"
	"github.com/versalogiq/logiq/internal/output"
)

var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

// Global flags
var (
	debug       bool
	noColor     bool
	catalogPath string
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "logiq",
	Short: "LogIQ - appliance log access and flavor detection over SSH",
	Long: `LogIQ connects to appliances over SSH, elevates to root with sudo,
works out what kind of host it is from a catalog of detection rules,
and lists or tails its log files.

Run "logiq serve" for the websocket API, or "logiq check" to test a
whole inventory from the terminal.`,
	Version:       fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, date),
	SilenceUsage:  true,
	SilenceErrors: false,
}

func init() {
	// Global flags
	rootCmd.PersistentFlags().BoolVarP(&debug, "debug", "d", false, "Enable debug output")
	rootCmd.PersistentFlags().BoolVar(&noColor, "no-color", false, "Disable colored output")
	rootCmd.PersistentFlags().StringVar(&catalogPath, "catalog", "", "Flavor catalog file (default from LOGIQ_CATALOG)")

	// Add subcommands
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(checkCmd)
	rootCmd.AddCommand(classifyCmd)
	rootCmd.AddCommand(flavorsCmd)
	rootCmd.AddCommand(validateCmd)
}

// loadSettings reads LOGIQ_* settings and applies global flag overrides.
func loadSettings() (*config.Settings, error) {
	s, err := config.Load()
	if err != nil {
		return nil, err
	}
	if catalogPath != "" {
		s.CatalogPath = catalogPath
	}
	return s, nil
}

// newLogger builds the process logger. Long-running commands log at the
// configured level, one-shot commands only warnings unless --debug is set.
func newLogger(s *config.Settings, server bool) (*zap.Logger, error) {
	cfg := logging.DefaultConfig()
	cfg.Level = logging.LevelWarn
	if server {
		cfg.Level = s.LogLevel
	}
	if debug {
		cfg.Level = logging.LevelDebug
	}
	cfg.NoColor = noColor
	cfg.File = s.LogToFile
	cfg.Dir = s.LogDir
	cfg.JSON = s.LogJSON
	cfg.MaxSize = s.LogMaxSizeMB
	cfg.MaxBackups = s.LogMaxBackups
	cfg.MaxAge = s.LogMaxAgeDays
	return logging.New(cfg)
}

// loadCatalog reads the flavor catalog. A missing or broken catalog is
// logged and replaced by an empty one, which classifies every host as
// Unknown.
func loadCatalog(path string, log *zap.Logger) *flavor.Catalog {
	c, err := flavor.LoadFile(path)
	if err != nil {
		log.Warn("Flavor catalog unavailable, classification disabled", zap.String("path", path), zap.Error(err))
		return flavor.Empty()
	}
	log.Info("Loaded flavor catalog", zap.String("path", path), zap.Int("rules", c.Len()))
	return c
}

func newOutput() *output.Output {
	out := output.New(os.Stdout)
	out.SetColor(!noColor)
	out.SetDebug(debug)
	return out
}

// signalContext is cancelled on SIGINT or SIGTERM.
func signalContext() (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.Background())

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		select {
		case <-sigCh:
			fmt.Fprintln(os.Stderr, "\nInterrupted, cleaning up...")
			cancel()
		case <-ctx.Done():
		}
		signal.Stop(sigCh)
	}()
	return ctx, cancel
}

// flavorsCmd lists the catalog rules in evaluation order
var flavorsCmd = &cobra.Command{
	Use:   "flavors",
	Short: "List flavor detection rules",
	Long:  `Display the flavor catalog's rules in the order they are tried.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		s, err := loadSettings()
		if err != nil {
			return err
		}
		c, err := flavor.LoadFile(s.CatalogPath)
		if err != nil {
			return err
		}
		if c.Len() == 0 {
			fmt.Println("No detection rules defined.")
			return nil
		}

		fmt.Printf("Detection rules from %s:\n\n", s.CatalogPath)
		for _, r := range c.Rules() {
			kind := "rule"
			if r.Fallback {
				kind = "fallback"
			}
			sudo := ""
			if r.UseSudo {
				sudo = " [sudo]"
			}
			fmt.Printf("  %4d  %-14s %-8s %s%s\n", r.Priority, r.FlavorName, kind, r.Command, sudo)
		}
		fmt.Println()
		fmt.Printf("Total: %d rules across %d flavors\n", c.Len(), len(c.Keys()))
		return nil
	},
}

// validateCmd checks the catalog and inventory files without connecting
var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate the flavor catalog and host inventory",
	Long: `Parse the flavor catalog and the host inventory without connecting
to any host.

Examples:
  logiq validate
  logiq validate --catalog flavors.yaml --inventory hosts.json`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		s, err := loadSettings()
		if err != nil {
			return err
		}
		invPath, _ := cmd.Flags().GetString("inventory")
		if invPath == "" {
			invPath = s.InventoryPath
		}

		var hasErrors bool
		if c, err := flavor.LoadFile(s.CatalogPath); err != nil {
			fmt.Printf("FAIL: %s - %v\n", s.CatalogPath, err)
			hasErrors = true
		} else {
			fmt.Printf("OK: %s (%d rules)\n", s.CatalogPath, c.Len())
		}

		if inv, err := inventory.LoadFile(invPath); err != nil {
			fmt.Printf("FAIL: %s - %v\n", invPath, err)
			hasErrors = true
		} else {
			fmt.Printf("OK: %s (%d hosts)\n", invPath, inv.Len())
		}

		if hasErrors {
			return fmt.Errorf("one or more files failed validation")
		}
		return nil
	},
}

func init() {
	validateCmd.Flags().StringP("inventory", "i", "", "Inventory file (default from LOGIQ_INVENTORY)")
}
