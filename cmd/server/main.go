// Command server runs the invoice orchestration service: the HTTP control
// API and the task workers in a single process.
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
	"syscall"
	"time"

	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"

	"github.com/learn-automated-testing/invoiceflow/activities"
	"github.com/learn-automated-testing/invoiceflow/activities/fixtures"
	"github.com/learn-automated-testing/invoiceflow/api"
	"github.com/learn-automated-testing/invoiceflow/backend"
	"github.com/learn-automated-testing/invoiceflow/backend/sqlite"
	"github.com/learn-automated-testing/invoiceflow/blob"
	"github.com/learn-automated-testing/invoiceflow/client"
	"github.com/learn-automated-testing/invoiceflow/internal/config"
	"github.com/learn-automated-testing/invoiceflow/invoice"
	"github.com/learn-automated-testing/invoiceflow/worker"
	"github.com/learn-automated-testing/invoiceflow/workflow"
)

func main() {
	configPath := flag.String("config", "", "path to the configuration file")
	flag.Parse()

	if err := run(*configPath); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	logger := newLogger(cfg.Logger)

	tp, shutdownTracing, err := newTracerProvider(cfg.Tracing)
	if err != nil {
		return err
	}

	b, err := newBackend(cfg.Database, logger, tp)
	if err != nil {
		return err
	}

	store, err := blob.NewFilesystemStore(cfg.Storage.DocumentDir)
	if err != nil {
		return err
	}

	var notifier activities.Notifier = activities.NoopNotifier{}
	if cfg.Notify.SMTPAddr != "" {
		notifier = activities.NewSMTPNotifier(cfg.Notify.SMTPAddr, cfg.Notify.From)
	}

	retryOptions := workflow.DefaultRetryOptions
	retryOptions.MaxAttempts = cfg.Worker.MaxRetryAttempts

	w := worker.New(b,
		worker.WithPollers(cfg.Worker.Pollers),
		worker.WithMaxParallelTasks(cfg.Worker.MaxParallelTasks),
		worker.WithPollingInterval(cfg.Worker.PollingInterval),
		worker.WithHeartbeatInterval(cfg.Worker.HeartbeatInterval),
		worker.WithActivityTimeout(cfg.Worker.ActivityTimeout),
		worker.WithRetryOptions(retryOptions),
	)

	if err := w.RegisterWorkflow(invoice.WorkflowName, invoice.ProcessInvoice); err != nil {
		return err
	}

	if err := activities.New(fixtures.NewEmbedded(), store, notifier).Register(w); err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := w.Start(ctx); err != nil {
		return fmt.Errorf("starting worker: %w", err)
	}

	a := api.New(client.New(b), logger)

	server := &http.Server{
		Addr:         cfg.Server.Addr(),
		Handler:      a.Router(),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	serverErr := make(chan error, 1)
	go func() {
		logger.Info("Serving control API", "addr", server.Addr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
	}()

	select {
	case err := <-serverErr:
		stop()
		return fmt.Errorf("serving control API: %w", err)
	case <-ctx.Done():
	}

	logger.Info("Shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("HTTP server shutdown failed", "error", err)
	}
	a.Close()

	if err := w.WaitForCompletion(); err != nil {
		logger.Error("Worker shutdown failed", "error", err)
	}

	if err := b.Close(); err != nil {
		logger.Error("Closing backend failed", "error", err)
	}

	if shutdownTracing != nil {
		if err := shutdownTracing(shutdownCtx); err != nil {
			logger.Error("Tracer shutdown failed", "error", err)
		}
	}

	return nil
}

func newLogger(cfg config.LoggerConfig) *slog.Logger {
	var level slog.Level
	switch cfg.Level {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{Level: level}

	var handler slog.Handler
	if cfg.Format == "json" {
		handler = slog.NewJSONHandler(os.Stderr, opts)
	} else {
		handler = slog.NewTextHandler(os.Stderr, opts)
	}

	return slog.New(handler)
}

func newTracerProvider(cfg config.TracingConfig) (trace.TracerProvider, func(context.Context) error, error) {
	if !cfg.Enabled {
		return noop.NewTracerProvider(), nil, nil
	}

	exporter, err := stdouttrace.New(stdouttrace.WithPrettyPrint())
	if err != nil {
		return nil, nil, fmt.Errorf("creating trace exporter: %w", err)
	}

	tp := sdktrace.NewTracerProvider(sdktrace.WithBatcher(exporter))
	return tp, tp.Shutdown, nil
}

func newBackend(cfg config.DatabaseConfig, logger *slog.Logger, tp trace.TracerProvider) (backend.Backend, error) {
	opts := []backend.BackendOption{
		backend.WithLogger(logger),
		backend.WithTracerProvider(tp),
	}

	if cfg.Path == ":memory:" {
		return sqlite.NewInMemoryBackend(opts...)
	}

	return sqlite.NewSqliteBackend(cfg.Path, opts...)
}
