package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"vetoken/config"
	"vetoken/core"
	"vetoken/observability/logging"
	telemetry "vetoken/observability/otel"
	"vetoken/rpc"
	"vetoken/storage"
)

func main() {
	configFile := flag.String("config", "./config.toml", "Path to the configuration file")
	flag.Parse()

	env := strings.TrimSpace(os.Getenv("VETOKEN_ENV"))

	cfg, err := config.Load(*configFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}

	logger := logging.Setup("vetokend", env, logging.Options{
		Level:      cfg.Node.LogLevel,
		File:       cfg.Node.LogFile,
		MaxSizeMB:  cfg.Node.LogMaxSizeMB,
		MaxBackups: cfg.Node.LogMaxBackups,
		MaxAgeDays: cfg.Node.LogMaxAgeDays,
	})

	if err := run(cfg, env, logger); err != nil {
		logger.Error("vetokend failed", slog.Any("error", err))
		os.Exit(1)
	}
}

func run(cfg *config.Config, env string, logger *slog.Logger) error {
	if err := config.Validate(cfg); err != nil {
		return err
	}
	rt, err := cfg.Protocol.Parse()
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if endpoint := strings.TrimSpace(cfg.Node.OTLPEndpoint); endpoint != "" {
		shutdownTelemetry, err := telemetry.Init(ctx, telemetry.Config{
			ServiceName: "vetokend",
			Environment: env,
			Endpoint:    endpoint,
			Insecure:    true,
			Metrics:     true,
			Traces:      true,
		})
		if err != nil {
			return fmt.Errorf("init telemetry: %w", err)
		}
		defer func() {
			_ = shutdownTelemetry(context.Background())
		}()
	}

	db, err := openDatabase(cfg.Node)
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer db.Close()

	node, err := core.NewNode(db, rt)
	if err != nil {
		return fmt.Errorf("create node: %w", err)
	}
	logger.Info("node initialised",
		slog.Uint64("epoch", node.CurrentEpoch()),
		slog.Time("genesis", node.Clock().StartTime()),
		slog.String("owner", node.OwnerAddress().String()),
	)

	server, err := rpc.NewServer(rpc.Config{
		Node:              node,
		Logger:            logger,
		RequestsPerMinute: cfg.Node.RPCRequestsPerMinute,
		Burst:             cfg.Node.RPCBurst,
		MetricsEnabled:    cfg.Node.MetricsEnabled,
	})
	if err != nil {
		return fmt.Errorf("create rpc server: %w", err)
	}

	srv := &http.Server{
		Addr:         cfg.Node.RPCAddress,
		Handler:      otelhttp.NewHandler(server.Handler(), "vetokend-rpc"),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("rpc listening", slog.String("address", cfg.Node.RPCAddress))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

func openDatabase(cfg config.Node) (storage.Database, error) {
	switch strings.ToLower(strings.TrimSpace(cfg.Backend)) {
	case "", "leveldb":
		return storage.NewLevelDB(filepath.Join(cfg.DataDir, "state"))
	case "bolt":
		return storage.NewBoltDB(filepath.Join(cfg.DataDir, "state.db"))
	case "memory":
		return storage.NewMemDB(), nil
	default:
		return nil, fmt.Errorf("unknown storage backend %q", cfg.Backend)
	}
}
