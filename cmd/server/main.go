package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ilyakaznacheev/cleanenv"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/tendant/matbox/pkg/matbox/api"
	"github.com/tendant/matbox/pkg/matbox/config"
)

// ProcessConfig holds settings of the server process itself. Service
// settings are read by config.WithEnv using the same prefix.
type ProcessConfig struct {
	LogLevel        string        `env:"MATBOX_LOG_LEVEL" env-default:"info"`
	LogFormat       string        `env:"MATBOX_LOG_FORMAT" env-default:"text"`
	RequestTimeout  time.Duration `env:"MATBOX_REQUEST_TIMEOUT" env-default:"60s"`
	ShutdownTimeout time.Duration `env:"MATBOX_SHUTDOWN_TIMEOUT" env-default:"10s"`
	ReadTimeout     time.Duration `env:"MATBOX_READ_HEADER_TIMEOUT" env-default:"10s"`
}

func main() {
	// Load .env file if it exists
	_ = godotenv.Load()

	var processCfg ProcessConfig
	if err := cleanenv.ReadEnv(&processCfg); err != nil {
		slog.Error("Failed to read process configuration", "error", err)
		os.Exit(1)
	}
	logger := newLogger(processCfg)
	slog.SetDefault(logger)

	if err := run(processCfg, logger); err != nil {
		logger.Error("Server failed", "error", err)
		os.Exit(1)
	}
}

func run(processCfg ProcessConfig, logger *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	serverConfig, err := config.Load(config.WithEnv("MATBOX_"))
	if err != nil {
		return fmt.Errorf("failed to load server configuration: %w", err)
	}

	var registry *prometheus.Registry
	if serverConfig.EnableMetrics {
		registry = prometheus.NewRegistry()
		registry.MustRegister(
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		)
		serverConfig.Registerer = registry
	}

	runtime, err := serverConfig.BuildService(ctx, logger)
	if err != nil {
		return fmt.Errorf("failed to build service: %w", err)
	}
	defer runtime.Close()

	routerCfg := api.RouterConfig{
		Logger:         logger,
		JWTSecret:      serverConfig.JWTSecret,
		MaxUploadBytes: serverConfig.MaxUploadBytes,
		RequestTimeout: processCfg.RequestTimeout,
		Ready:          runtime.Ping,
	}
	if runtime.Metrics != nil {
		routerCfg.Observer = runtime.Metrics
		routerCfg.Metrics = promhttp.HandlerFor(registry, promhttp.HandlerOpts{Registry: registry})
	}

	httpServer := &http.Server{
		Addr:              ":" + serverConfig.Port,
		Handler:           api.NewRouter(runtime.Service, routerCfg),
		ReadHeaderTimeout: processCfg.ReadTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("Materials server starting",
			"port", serverConfig.Port,
			"environment", serverConfig.Environment,
			"database", serverConfig.DatabaseType,
			"storage", serverConfig.Storage.Type,
			"jwt", serverConfig.JWTSecret != "",
			"metrics", serverConfig.EnableMetrics)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	case <-ctx.Done():
	}
	logger.Info("Shutting down server")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), processCfg.ShutdownTimeout)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server forced to shutdown: %w", err)
	}

	logger.Info("Server exiting")
	return nil
}

func newLogger(cfg ProcessConfig) *slog.Logger {
	var level slog.Level
	if err := level.UnmarshalText([]byte(cfg.LogLevel)); err != nil {
		level = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: level}
	if cfg.LogFormat == "json" {
		return slog.New(slog.NewJSONHandler(os.Stdout, opts))
	}
	return slog.New(slog.NewTextHandler(os.Stdout, opts))
}
