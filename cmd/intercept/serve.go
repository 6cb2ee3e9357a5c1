package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/prasenjit/go-intercept/internal/api"
	"github.com/prasenjit/go-intercept/internal/bundle"
	"github.com/prasenjit/go-intercept/internal/registry"
	"github.com/prasenjit/go-intercept/internal/stats"
	"github.com/prasenjit/go-intercept/internal/tracing"
	"github.com/prasenjit/go-intercept/internal/transport"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the intercept stub server",
	Long: `Starts the intercept stub server.

The server will:
  - Register the bundles matched by the configured glob patterns
  - Expose the Admin API at /_api/
  - Answer every other request from the registered rules

Requests may be sent directly with the Host header of the intercepted
service, or through the server as an HTTP proxy.

Configuration is loaded from config.yaml in the current directory,
or specify a custom config file with the --config flag.`,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().IntP("port", "p", 0, "Override server port")
	serveCmd.Flags().StringSliceP("bundle", "b", nil, "Bundle file or glob pattern (repeatable)")
	serveCmd.Flags().Bool("passthrough", false, "Send unmatched requests to the network")

	// Bind flags to viper
	_ = viper.BindPFlag("server.port", serveCmd.Flags().Lookup("port"))
	_ = viper.BindPFlag("interception.passthrough", serveCmd.Flags().Lookup("passthrough"))
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if extra, _ := cmd.Flags().GetStringSlice("bundle"); len(extra) > 0 {
		cfg.Bundles = append(cfg.Bundles, extra...)
	}

	logger, err := newLogger(cfg)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	reg := registry.New(
		registry.WithLogger(logger),
		registry.WithThrowOnMissingRegistration(cfg.Interception.ThrowOnMissingRegistration),
	)

	// Initialize statistics collector
	statsCollector := stats.NewCollector()

	// Initialize tracing service
	journal := tracing.NewJournal(cfg.Tracing.MaxTraces)

	opts := []transport.Option{
		transport.WithLogger(logger),
		transport.WithStats(statsCollector),
		transport.WithTracing(journal),
	}
	if cfg.Interception.Passthrough {
		opts = append(opts, transport.WithInner(api.Forwarder(http.DefaultTransport)))
	}
	interceptor := transport.New(reg, opts...)

	if len(cfg.Bundles) > 0 {
		loader := bundle.NewLoader(bundle.WithLogger(logger))
		result, err := loader.RegisterFiles(ctx, reg, cfg.Bundles...)
		if err != nil {
			return err
		}
		logger.WithFields(logrus.Fields{
			"bundles": len(result.Bundles),
			"rules":   len(result.Rules),
			"skipped": len(result.Skipped),
		}).Info("bundles registered")
	}

	// Setup router
	router := api.NewRouter(reg, interceptor, statsCollector, journal, logger)

	// Create HTTP server
	addr := cfg.Server.Addr()
	server := &http.Server{
		Addr:         addr,
		Handler:      router.Handler(),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	serveErr := make(chan error, 1)
	go func() {
		logger.WithField("addr", addr).Info("starting intercept server")
		logger.Infof("Admin API available at http://%s/_api/", addr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	// Wait for interrupt signal
	select {
	case err := <-serveErr:
		if err != nil {
			return fmt.Errorf("server failed: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	logger.Info("shutting down server")

	// Graceful shutdown with timeout
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown: %w", err)
	}

	logger.Info("server stopped")
	return nil
}
