package main

import (
	"context"
	"errors"
	"expvar"
	"fmt"
	"io"
	stlog "log"
	"log/slog"
	"net/http"
	_ "net/http/pprof" // Register pprof handlers
	"os"
	"runtime"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"go.opentelemetry.io/otel"
	promexporter "go.opentelemetry.io/otel/exporters/prometheus"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"

	"github.com/shehackedyou/dcdcomplete"
)

// App version (set via linker flags -ldflags="-X main.appVersion=...")
var appVersion = "dev"

func main() {
	var logLevelFlag, logFilePath string

	rootCmd := &cobra.Command{
		Use:           "dcdcomplete-lsp",
		Short:         "Language server exposing dcd-client completion and navigation for D",
		Version:       appVersion,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd.Context(), logLevelFlag, logFilePath)
		},
	}
	rootCmd.Flags().StringVar(&logLevelFlag, "log-level", "", "Override log level (debug, info, warn, error)")
	rootCmd.Flags().StringVar(&logFilePath, "log-file", "dcdcomplete-lsp.log", "File that receives a copy of the log")

	if err := rootCmd.ExecuteContext(context.Background()); err != nil {
		stlog.Fatalf("dcdcomplete-lsp: %v", err)
	}
}

func run(ctx context.Context, logLevelFlag, logFilePath string) error {
	// --- Basic Setup ---
	logFile, err := os.OpenFile(logFilePath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0660)
	if err != nil {
		return fmt.Errorf("failed to open log file: %w", err)
	}
	defer logFile.Close()
	// Stdout carries the protocol, so logs go to stderr and the file.
	logWriter := io.MultiWriter(os.Stderr, logFile)

	tempLogger := slog.New(slog.NewTextHandler(logWriter, &slog.HandlerOptions{Level: slog.LevelInfo}))

	// --- Initialize Core Service ---
	completer, initErr := dcdcomplete.NewCompleter(tempLogger)
	if initErr != nil {
		tempLogger.Error("Failed to initialize Completer service", "error", initErr)
		if !errors.Is(initErr, dcdcomplete.ErrConfig) || completer == nil {
			return initErr
		}
	}
	defer func() {
		slog.Info("Closing Completer service...")
		if err := completer.Close(); err != nil {
			slog.Error("Error closing completer", "error", err)
		}
	}()

	// --- Setup Global Logger ---
	initialConfig := completer.GetCurrentConfig()
	levelSetting := initialConfig.LogLevel
	if logLevelFlag != "" {
		levelSetting = logLevelFlag
	}
	logLevel, parseLevelErr := dcdcomplete.ParseLogLevel(levelSetting)
	if parseLevelErr != nil {
		logLevel = slog.LevelInfo
		tempLogger.Warn("Invalid log level, using default 'info'", "level", levelSetting, "error", parseLevelErr)
	}
	levelVar := new(slog.LevelVar)
	levelVar.Set(logLevel)
	logger := slog.New(slog.NewTextHandler(logWriter, &slog.HandlerOptions{Level: levelVar, AddSource: true}))
	slog.SetDefault(logger)

	slog.Info("dcdcomplete LSP server starting...", "version", appVersion, "log_level", logLevel.String(), "binary", completer.Binary())
	if initErr != nil {
		slog.Warn("Completer initialized with configuration warnings", "error", initErr)
	}

	// --- Setup Profiling & Metrics ---
	meterProvider, err := setupMetrics()
	if err != nil {
		slog.Warn("Metrics exporter unavailable, continuing without /metrics", "error", err)
	} else {
		defer func() {
			if err := meterProvider.Shutdown(context.Background()); err != nil {
				slog.Error("Error shutting down meter provider", "error", err)
			}
		}()
	}
	runtime.SetBlockProfileRate(1)
	runtime.SetMutexProfileFraction(1)
	startDebugServer(initialConfig.DebugAddr, meterProvider != nil)

	// --- Initialize and Run LSP Server ---
	lspServer := dcdcomplete.NewServer(completer, logger, appVersion)
	if logLevelFlag == "" {
		lspServer.SetLevelVar(levelVar)
	}

	watchCtx, stopWatch := context.WithCancel(ctx)
	defer stopWatch()
	if primary, _, pathErr := dcdcomplete.GetConfigPaths(logger); pathErr == nil && primary != "" {
		if err := completer.WatchConfigFile(watchCtx, primary, lspServer.ApplyConfig); err != nil {
			slog.Warn("Config file changes will not be picked up", "path", primary, "error", err)
		}
	}

	lspServer.Run(os.Stdin, os.Stdout)

	slog.Info("LSP server has shut down.", "clean_shutdown", lspServer.ShutdownRequested())
	return nil
}

// setupMetrics installs an SDK meter provider that exports through the default Prometheus registry.
func setupMetrics() (*sdkmetric.MeterProvider, error) {
	exporter, err := promexporter.New()
	if err != nil {
		return nil, fmt.Errorf("create prometheus exporter: %w", err)
	}
	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(exporter))
	otel.SetMeterProvider(provider)
	return provider, nil
}

// startDebugServer starts the HTTP server for pprof, expvar and metrics. An empty addr disables it.
func startDebugServer(addr string, withMetrics bool) {
	if addr == "" {
		slog.Info("Debug server disabled")
		return
	}
	go func() {
		slog.Info("Starting debug server for pprof/expvar", "addr", addr)
		debugMux := http.NewServeMux()
		debugMux.HandleFunc("/debug/pprof/", http.DefaultServeMux.ServeHTTP)
		debugMux.HandleFunc("/debug/pprof/cmdline", http.DefaultServeMux.ServeHTTP)
		debugMux.HandleFunc("/debug/pprof/profile", http.DefaultServeMux.ServeHTTP)
		debugMux.HandleFunc("/debug/pprof/symbol", http.DefaultServeMux.ServeHTTP)
		debugMux.HandleFunc("/debug/pprof/trace", http.DefaultServeMux.ServeHTTP)
		debugMux.Handle("/debug/vars", expvar.Handler())
		if withMetrics {
			debugMux.Handle("/metrics", promhttp.Handler())
		}
		if err := http.ListenAndServe(addr, debugMux); err != nil {
			slog.Error("Debug server failed", "error", err)
		}
	}()
}
