package cmd

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	stdhttp "net/http"

	"github.com/riptide-ws/riptide/internal/auth"
	"github.com/riptide-ws/riptide/internal/config"
	"github.com/riptide-ws/riptide/internal/domain/channel"
	"github.com/riptide-ws/riptide/internal/domain/ratelimit"
	"github.com/riptide-ws/riptide/internal/domain/rpc"
	"github.com/riptide-ws/riptide/internal/obsv"
	"github.com/riptide-ws/riptide/internal/service"
)

var devMode bool

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the riptide server",
	RunE:  runServe,
}

func init() {
	serveCmd.Flags().BoolVar(&devMode, "dev", false, "enable verbose logging")
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("serve: loading config: %w", err)
	}
	if devMode {
		cfg.DevMode = true
	}

	logLevel := slog.LevelInfo
	if cfg.DevMode {
		logLevel = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: logLevel}))

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	providers, err := obsv.InitProviders(ctx, cfg.Observability.ServiceName, tracingWriter(cfg.Observability.TracingOut))
	if err != nil {
		return fmt.Errorf("serve: observability init: %w", err)
	}
	defer func() {
		shCtx, shCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer shCancel()
		_ = providers.Shutdown(shCtx)
	}()

	reg := prometheus.NewRegistry()
	metrics := obsv.NewMetrics(reg)

	if cfg.Observability.MetricsAddr != "" {
		go serveMetrics(cfg.Observability.MetricsAddr, reg, logger)
	}

	var admitter *auth.Admitter
	if cfg.Admission.Enabled {
		admitter = auth.NewAdmitter(cfg.Admission.TokenHash, true)
	}

	limiter := ratelimit.New()
	defer limiter.Stop(context.Background())

	registry := channel.New(channel.WithMetrics(metrics))
	dispatcher := rpc.New(limiter,
		rpc.WithLogger(logger),
		rpc.WithMaxConcurrency(cfg.MaxConcurrentCalls),
		rpc.WithCallTimeout(cfg.RPCCallTimeout),
	)

	registerMethods(dispatcher, registry, cfg)

	srv := service.New(*cfg, registry, dispatcher,
		service.WithLogger(logger),
		service.WithMetrics(metrics),
		service.WithAdmitter(admitter),
	)

	if err := srv.Start(ctx); err != nil {
		return fmt.Errorf("serve: starting server: %w", err)
	}

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	return srv.Shutdown(shutdownCtx)
}

func tracingWriter(mode string) io.Writer {
	if mode == "stdout" {
		return os.Stdout
	}
	return io.Discard
}

func serveMetrics(addr string, reg *prometheus.Registry, logger *slog.Logger) {
	mux := stdhttp.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	if err := stdhttp.ListenAndServe(addr, mux); err != nil {
		logger.Error("metrics server exited", "error", err)
	}
}
