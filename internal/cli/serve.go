package cli

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/viant/hitloop"
)

const shutdownTimeout = 15 * time.Second

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run callback ingress, recovery and overdue sweep",
	Args:  cobra.NoArgs,
	Run:   runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	cfg, logger, err := loadConfig(ctx)
	if err != nil {
		slog.Error("Failed to load config", "error", err)
		os.Exit(1)
	}
	srv, err := hitloop.New(ctx, cfg, hitloop.WithLogger(logger))
	if err != nil {
		logger.Error("Failed to initialize service", "error", err)
		os.Exit(1)
	}
	report, err := srv.Start(ctx)
	if err != nil {
		logger.Error("Failed to recover pending requests", "error", err)
		os.Exit(1)
	}
	logger.Info("Recovered pending requests", "rearmed", len(report.Recovered), "expired", len(report.Expired))

	server := &http.Server{Addr: cfg.Server.Addr, Handler: srv.Handler(), ReadHeaderTimeout: 10 * time.Second}
	errs := make(chan error, 2)
	go func() {
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errs <- err
		}
	}()
	if addr := cfg.Health.GRPCAddr; addr != "" {
		go func() {
			if err := srv.Health().ListenAndServe(addr); err != nil {
				errs <- err
			}
		}()
	}
	logger.Info("hitloop started", "addr", cfg.Server.Addr, "grpcHealth", cfg.Health.GRPCAddr, "config", cfgPath)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	exitCode := 0
	select {
	case sig := <-sigChan:
		logger.Info("Received signal, shutting down...", "signal", sig)
	case err := <-errs:
		logger.Error("Server failed", "error", err)
		exitCode = 1
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("Error during http shutdown", "error", err)
		exitCode = 1
	}
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("Error during shutdown", "error", err)
		exitCode = 1
	}
	if exitCode != 0 {
		os.Exit(exitCode)
	}
	logger.Info("hitloop stopped gracefully")
}
