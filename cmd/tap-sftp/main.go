package main

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/sendinblue/tap-sftp/internal/config"
	"github.com/sendinblue/tap-sftp/internal/logging"
	"github.com/sendinblue/tap-sftp/internal/tap"
)

func main() {
	mode := "sync"
	if len(os.Args) > 1 {
		mode = os.Args[1]
	}

	// Health check mode for container orchestration
	if mode == "health" {
		os.Exit(healthCheck())
	}

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	logger, err := logging.NewLogger(logging.Config{
		Level:  cfg.GetString("LOG_LEVEL", "info"),
		Format: cfg.GetString("LOG_FORMAT", "json"),
		Fields: map[string]string{"service": "tap-sftp"},
	})
	if err != nil {
		log.Fatalf("Failed to create logger: %v", err)
	}
	defer logger.Sync()

	handler, err := tap.NewHandler(cfg, logger)
	if err != nil {
		logger.Fatal("Failed to create handler", zap.Error(err))
	}
	defer handler.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Handle graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-quit
		logger.Info("Shutting down...", zap.String("signal", sig.String()))
		cancel()
	}()

	if port := cfg.GetString("METRICS_PORT", ""); port != "" {
		go serveMetrics(port, logger)
	}

	tables, err := config.LoadTables(cfg.GetString("TAP_SFTP_TABLES_FILE", "tables.yaml"))
	if err != nil {
		logger.Fatal("Failed to load tables file", zap.Error(err))
	}

	switch mode {
	case "discover":
		runDiscover(ctx, handler, tables, logger)
	case "sync":
		runSync(ctx, handler, tables, logger)
	default:
		logger.Fatal("Unknown mode", zap.String("mode", mode))
	}
}

func runSync(ctx context.Context, handler *tap.Handler, tables []config.TableSpec, logger *logging.TapLogger) {
	sink := tap.NewJSONSink(os.Stdout, logger.Logger)

	if err := handler.Sync(ctx, tables, sink); err != nil {
		sink.Flush()
		logger.Fatal("Sync failed", zap.Error(err))
	}
	if err := sink.Flush(); err != nil {
		logger.Fatal("Failed to flush output", zap.Error(err))
	}

	logger.Info("Sync finished",
		zap.Int64("records", sink.RecordsEmitted()),
		zap.Int64("bytes", sink.BytesEmitted()))
}

func runDiscover(ctx context.Context, handler *tap.Handler, tables []config.TableSpec, logger *logging.TapLogger) {
	entries, err := handler.Discover(ctx, tables)
	if err != nil {
		logger.Fatal("Discovery failed", zap.Error(err))
	}

	streams := make([]map[string]any, 0, len(entries))
	for _, entry := range entries {
		streams = append(streams, map[string]any{
			"stream":         entry.Stream,
			"tap_stream_id":  entry.Stream,
			"schema":         entry.Schema.ToMap(),
			"key_properties": entry.KeyProperties,
		})
	}

	encoder := json.NewEncoder(os.Stdout)
	encoder.SetIndent("", "  ")
	if err := encoder.Encode(map[string]any{"streams": streams}); err != nil {
		logger.Fatal("Failed to write catalog", zap.Error(err))
	}
}

func serveMetrics(port string, logger *logging.TapLogger) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())

	logger.Info("Metrics listener starting", zap.String("port", port))
	server := &http.Server{
		Addr:              ":" + port,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}
	if err := server.ListenAndServe(); err != nil {
		logger.Error("Metrics listener failed", zap.Error(err))
	}
}

func healthCheck() int {
	logger := logging.NewDefaultLogger()
	defer logger.Sync()

	cfg, err := config.Load()
	if err != nil {
		logger.Error("Failed to load configuration", zap.Error(err))
		return 1
	}

	handler, err := tap.NewHandler(cfg, logger)
	if err != nil {
		logger.Error("Failed to create handler", zap.Error(err))
		return 1
	}
	defer handler.Close()

	ctx, cancel := context.WithTimeout(context.Background(), cfg.GetDuration("TAP_SFTP_CONNECT_TIMEOUT", 30*time.Second))
	defer cancel()

	if err := handler.CheckConnection(ctx, cfg.GetSSHConfig()); err != nil {
		logger.Error("Health check failed", zap.Error(err))
		return 1
	}
	return 0
}
