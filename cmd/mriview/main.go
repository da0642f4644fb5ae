package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"sync"
	"syscall"
	"time"

	"github.com/Graylog2/go-gelf/gelf"
	"github.com/mriview/viewer/internal/config"
	"github.com/mriview/viewer/internal/dispatcher"
	"github.com/mriview/viewer/internal/export"
	"github.com/mriview/viewer/internal/influx"
	"github.com/mriview/viewer/internal/logging"
	"github.com/mriview/viewer/internal/monitor"
	intOtel "github.com/mriview/viewer/internal/otel"
	"github.com/mriview/viewer/internal/render"
	"github.com/mriview/viewer/internal/series"
	"github.com/mriview/viewer/internal/server"
	"github.com/mriview/viewer/internal/storage"
	"github.com/mriview/viewer/internal/store"
	"github.com/mriview/viewer/internal/worker"
)

// BuildDate can be set at build time via ldflags
var (
	CurrentVersion string = "0.0.1"
	BuildDate      string = "unknown"

	AppName string = "mriview"
)

var (
	configDir = flag.String("config", ".", "Directory containing "+config.FileName)
	serverURL = flag.String("server", "", "Base URL of a running viewer for client commands (defaults to server.address)")
)

// global variables
var (
	SessionStartTime time.Time = time.Now()

	LogFilePath string
	LogFile     *os.File

	// SlogManager handles all slog-based logging
	SlogManager *logging.SlogManager

	// Logger is the slog logger (convenience reference)
	Logger *slog.Logger

	// OTelProvider handles OpenTelemetry
	OTelProvider *intOtel.Provider

	gelfWriter *gelf.Writer

	// Services
	storageBackend  storage.Backend
	influxManager   *influx.Manager
	workerManager   *worker.Manager
	monitorService  *monitor.Service
	eventDispatcher *dispatcher.Dispatcher
)

func main() {
	flag.Parse()

	if err := config.Load(*configDir); err != nil {
		// run on defaults when there is no config file
		fmt.Fprintf(os.Stderr, "%v, using defaults\n", err)
		config.SetDefaults()
	}

	args := flag.Args()
	if len(args) > 0 && args[0] != "serve" {
		if err := runCLI(args); err != nil {
			fmt.Fprintln(os.Stderr, err)
			os.Exit(1)
		}
		return
	}

	if err := initLogging(); err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialize logging: %v\n", err)
		os.Exit(1)
	}
	defer closeLogging()

	if err := serve(); err != nil {
		Logger.Error("Viewer stopped with error", "error", err)
		closeLogging()
		os.Exit(1)
	}
}

// initLogging opens the session log file and builds the slog handlers: the
// file, OTel when enabled and GELF when graylog is enabled.
func initLogging() error {
	logsDir := config.GetString("logsDir")
	if err := os.MkdirAll(logsDir, 0o755); err != nil {
		return fmt.Errorf("failed to create logs dir: %w", err)
	}

	LogFilePath = logging.LogFilePath(logsDir, AppName, SessionStartTime)
	var err error
	LogFile, err = os.OpenFile(LogFilePath, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("failed to open log file: %w", err)
	}

	otelCfg := config.GetOTelConfig()
	OTelProvider, err = intOtel.New(intOtel.Config{
		Enabled:      otelCfg.Enabled,
		ServiceName:  otelCfg.ServiceName,
		BatchTimeout: otelCfg.BatchTimeout,
		LogWriter:    LogFile,
		Endpoint:     otelCfg.Endpoint,
		Insecure:     otelCfg.Insecure,
	})
	if err != nil {
		return fmt.Errorf("failed to initialize OTel: %w", err)
	}

	SlogManager = logging.NewSlogManager()
	opts := logging.Options{
		File:     io.MultiWriter(os.Stdout, LogFile),
		Level:    config.GetString("logLevel"),
		Provider: OTelProvider.LoggerProvider(),
	}

	graylogCfg := config.GetGraylogConfig()
	var gelfErr error
	if graylogCfg.Enabled {
		var h slog.Handler
		h, gelfWriter, gelfErr = logging.NewGELFHandler(graylogCfg.Address, SlogManager.HandlerOptions())
		if gelfErr == nil {
			opts.Extra = append(opts.Extra, h)
		}
	}

	SlogManager.SetupWith(opts)
	Logger = SlogManager.Logger()
	Logger.Info("Starting viewer", "version", CurrentVersion, "buildDate", BuildDate, "logFile", LogFilePath)
	if gelfErr != nil {
		Logger.Warn("Graylog output disabled", "address", graylogCfg.Address, "error", gelfErr)
	}
	return nil
}

func closeLogging() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if SlogManager != nil {
		_ = SlogManager.Flush(ctx)
	}
	if OTelProvider != nil {
		if err := OTelProvider.Shutdown(ctx); err != nil {
			fmt.Fprintf(os.Stderr, "failed to shut down OTel: %v\n", err)
		}
		OTelProvider = nil
	}
	if gelfWriter != nil {
		_ = gelfWriter.Close()
		gelfWriter = nil
	}
	if LogFile != nil {
		_ = LogFile.Close()
		LogFile = nil
	}
}

func serve() error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := initStorage(); err != nil {
		return err
	}
	defer func() {
		if err := storageBackend.Close(); err != nil {
			Logger.Error("Failed to close storage backend", "error", err)
		}
	}()

	dataCfg := config.GetDataConfig()
	catalog, err := series.Load(dataCfg.Root, dataCfg.SeriesFile, Logger.With("component", "catalog"))
	if err != nil {
		return fmt.Errorf("failed to load series catalog: %w", err)
	}
	Logger.Info("Series catalog loaded", "series", len(catalog.List()))

	viewerCfg := config.GetViewerConfig()
	annotations := store.New(store.Options{
		Backend:     storageBackend,
		Spacing:     catalog,
		Logger:      Logger.With("component", "store"),
		MarkerColor: viewerCfg.MarkerColor,
	})

	style := render.DefaultStyle()
	if viewerCfg.MarkerColor != "" {
		style.MarkerColor = viewerCfg.MarkerColor
	}
	if viewerCfg.CrosshairLength > 0 {
		style.CrossHalfLength = viewerCfg.CrosshairLength
	}

	exportCfg := config.GetExportConfig()
	exporter := export.New(export.Options{
		Source:    annotations,
		Images:    catalog,
		Style:     style,
		OutputDir: exportCfg.OutputDir,
		Logger:    Logger.With("component", "export"),
	})

	if err := initWorker(ctx); err != nil {
		return err
	}
	defer closeWorker()
	unsubscribe := annotations.Subscribe(workerManager.Forward(eventDispatcher))
	defer unsubscribe()

	srv := server.New(server.Dependencies{
		Store:         annotations,
		Catalog:       catalog,
		Exporter:      exporter,
		Style:         style,
		ConfirmDelete: viewerCfg.ConfirmDelete,
		Logger:        Logger.With("component", "server"),
	})
	// websocket sessions outlive httpServer.Shutdown and must end before
	// the worker and storage backend close
	defer srv.Close()

	monitorService = monitor.NewService(monitor.Dependencies{
		LogManager:    SlogManager,
		WorkerManager: workerManager,
		Sessions:      func() int { return len(srv.Sessions()) },
		StatusPath:    filepath.Join(config.GetString("logsDir"), "status.json"),
	})
	if err := monitorService.Start(); err != nil {
		Logger.Warn("Failed to start status monitor", "error", err)
	}
	defer monitorService.Stop()

	httpServer := &http.Server{
		Addr:              config.GetServerConfig().Address,
		Handler:           srv.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	var wg sync.WaitGroup
	errCh := make(chan error, 1)
	wg.Add(1)
	go func() {
		defer wg.Done()
		Logger.Info("HTTP server listening", "address", httpServer.Addr)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
	case err := <-errCh:
		return fmt.Errorf("failed to start server: %w", err)
	}
	Logger.Info("Shutting down HTTP server")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		Logger.Error("HTTP server shutdown error", "error", err)
	}
	wg.Wait()

	Logger.Info("Graceful shutdown complete")
	return nil
}

// initWorker starts the event dispatcher and the change worker. The worker
// writes audit points to InfluxDB when it is enabled and reachable.
func initWorker(ctx context.Context) error {
	var err error
	eventDispatcher, err = dispatcher.NewWithMeter(
		logging.NewDispatcherLogger(Logger),
		OTelProvider.Meter(dispatcher.MeterName),
	)
	if err != nil {
		return fmt.Errorf("failed to create dispatcher: %w", err)
	}

	deps := worker.Dependencies{LogManager: SlogManager}
	influxCfg := config.GetInfluxConfig()
	if influxCfg.Enabled {
		influxManager = influx.NewManager(
			logging.NewZerolog(LogFile, config.GetString("logLevel"), "influx"),
			influxCfg,
		)
		connectCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
		err := influxManager.Connect(connectCtx)
		cancel()
		if err != nil {
			Logger.Warn("InfluxDB unavailable, annotation changes will only be logged", "error", err)
			influxManager = nil
		} else {
			deps.Points = influxManager
		}
	}

	workerManager = worker.NewManager(deps)
	workerManager.RegisterHandlers(eventDispatcher)
	Logger.Debug("Worker handlers registered with dispatcher")
	return nil
}

func closeWorker() {
	if eventDispatcher != nil {
		eventDispatcher.Close()
	}
	if influxManager != nil {
		if err := influxManager.Close(); err != nil {
			Logger.Error("Failed to close InfluxDB manager", "error", err)
		}
	}
}
