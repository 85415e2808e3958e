package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/versalogiq/logiq/internal/api"
	"github.com/versalogiq/logiq/internal/bulk"
	"github.com/versalogiq/logiq/internal/events"
	"github.com/versalogiq/logiq/internal/hostsession"
	"github.com/versalogiq/logiq/internal/inventory"
	"github.com/versalogiq/logiq/internal/metrics"
	"github.com/versalogiq/logiq/internal/registry"
)

// serveCmd runs the websocket and HTTP API
var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the websocket and HTTP API",
	Long: `Start the API server. Each websocket client gets its own host session;
closing the socket disconnects it.

Examples:
  logiq serve
  logiq serve --listen 0.0.0.0:5000`,
	Args: cobra.NoArgs,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().StringP("listen", "l", "", "Listen address (default from LOGIQ_LISTEN)")
}

func runServe(cmd *cobra.Command, args []string) error {
	s, err := loadSettings()
	if err != nil {
		return err
	}
	if listen, _ := cmd.Flags().GetString("listen"); listen != "" {
		s.Listen = listen
	}

	log, err := newLogger(s, true)
	if err != nil {
		return err
	}
	defer func() { _ = log.Sync() }()

	catalog := loadCatalog(s.CatalogPath, log)
	m := metrics.New()
	sessOpts := s.SessionOptions()

	activity, err := events.OpenFile(s.ActivityLog, events.FileOptions{
		MaxSize:    s.LogMaxSizeMB,
		MaxBackups: s.LogMaxBackups,
		MaxAge:     s.LogMaxAgeDays,
	})
	if err != nil {
		return fmt.Errorf("failed to open activity log: %w", err)
	}
	defer activity.Close()

	reg := registry.New(func(id string, sink events.Sink) *hostsession.Session {
		return hostsession.New(id,
			hostsession.WithOptions(sessOpts),
			hostsession.WithCatalog(catalog),
			hostsession.WithSink(sink),
			hostsession.WithLogger(log),
			hostsession.WithMetrics(m),
		)
	}, registry.WithLogger(log), registry.WithMetrics(m))

	checker := bulk.New(catalog,
		bulk.WithOptions(bulk.Options{Parallel: true, Workers: s.Workers}),
		bulk.WithSessionOptions(sessOpts),
		bulk.WithLogger(log),
		bulk.WithMetrics(m),
	)

	srv := api.New(reg, checker,
		api.WithLogger(log),
		api.WithMetrics(m),
		api.WithActivityLog(activity),
		api.WithVersion(version),
		api.WithInventory(func() (*inventory.Inventory, error) {
			return inventory.LoadFile(s.InventoryPath)
		}),
	)

	httpSrv := &http.Server{
		Addr:              s.Listen,
		Handler:           srv.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	ctx, cancel := signalContext()
	defer cancel()

	errCh := make(chan error, 1)
	go func() {
		log.Info("Listening", zap.String("addr", s.Listen), zap.String("version", version))
		errCh <- httpSrv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server failed: %w", err)
		}
	case <-ctx.Done():
	}

	log.Info("Shutting down")
	reg.CloseAll()
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	return httpSrv.Shutdown(shutdownCtx)
}
