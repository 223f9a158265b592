package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"github.com/surftrail/surftrail/internal/adapter/inbound/bridge"
	httpx "github.com/surftrail/surftrail/internal/adapter/inbound/http"
	"github.com/surftrail/surftrail/internal/adapter/outbound/cel"
	"github.com/surftrail/surftrail/internal/adapter/outbound/collect"
	"github.com/surftrail/surftrail/internal/adapter/outbound/journal"
	"github.com/surftrail/surftrail/internal/adapter/outbound/sqlite"
	"github.com/surftrail/surftrail/internal/adapter/outbound/state"
	"github.com/surftrail/surftrail/internal/config"
	"github.com/surftrail/surftrail/internal/service"
)

var startCmd = &cobra.Command{
	Use:   "start",
	Short: "Start the daemon",
	Long: `Start the surftrail daemon.

The daemon listens locally for the browser extension, opens a fresh
global session against the collection API, and begins correlating
window and tab events into sessions.

Examples:
  # Start with config file settings
  surftrail start

  # Start with a specific config file
  surftrail --config /path/to/surftrail.yaml start

  # Development mode against a local mock API
  surftrail start --dev`,
	RunE: runStart,
}

var devMode bool

func init() {
	startCmd.Flags().BoolVar(&devMode, "dev", false, "Enable development mode (verbose logging, local API defaults)")
	rootCmd.AddCommand(startCmd)
}

func runStart(cmd *cobra.Command, args []string) error {
	// Load without validation so the --dev flag can override first.
	cfg, err := config.LoadConfigRaw()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	if devMode {
		cfg.DevMode = true
	}
	cfg.SetDevDefaults()

	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("config validation failed: %w", err)
	}
	durations, err := cfg.ParseDurations()
	if err != nil {
		return err
	}

	// Signal context for graceful shutdown. stop() restores default
	// signal handling so a second Ctrl+C does a hard kill.
	ctx, stop := signal.NotifyContext(context.Background(), gracefulSignals()...)
	go func() {
		<-ctx.Done()
		stop()
	}()

	logLevel := parseLogLevel(cfg.Server.LogLevel)
	if cfg.DevMode {
		logLevel = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: logLevel,
	}))

	if configFile := config.ConfigFileUsed(); configFile != "" {
		logger.Info("loaded config", "file", configFile)
	}

	// Write PID file so "surftrail stop" can find us.
	pidPath := cfg.Store.PIDPath()
	if err := writePIDFile(pidPath); err != nil {
		logger.Warn("failed to write PID file", "path", pidPath, "error", err)
	} else {
		defer os.Remove(pidPath)
	}

	if err := run(ctx, cfg, durations, logger); err != nil {
		return err
	}

	logger.Info("surftrail stopped")
	return nil
}

// run wires all components together and blocks until shutdown.
func run(ctx context.Context, cfg *config.Config, d config.Durations, logger *slog.Logger) error {
	if cfg.DevMode {
		logger.Warn("development mode enabled, do not use in production")
	}

	// Persistent state: the state file and the session database.
	stateStore := state.NewFileStateStore(cfg.Store.StatePath(), logger)
	appState, err := stateStore.Load()
	if err != nil {
		return fmt.Errorf("failed to load state: %w", err)
	}
	if err := stateStore.Save(appState); err != nil {
		return fmt.Errorf("failed to save initial state: %w", err)
	}

	db, err := sqlite.Open(cfg.Store.DatabasePath(), logger)
	if err != nil {
		return fmt.Errorf("failed to open session database: %w", err)
	}
	defer db.Close()

	registry := prometheus.NewRegistry()
	metrics := httpx.NewMetrics(registry)

	// Outbound: collection API client and CEL rule conditions.
	client := collect.NewClient(cfg.API.BaseURL, cfg.API.Token, logger,
		collect.WithTimeout(d.APITimeout),
		collect.WithRequestCounter(metrics.RemoteRequests))

	evaluator, err := cel.NewEvaluator()
	if err != nil {
		return fmt.Errorf("failed to build condition evaluator: %w", err)
	}

	var jour service.Journal
	if cfg.Journal.Enabled {
		fj, err := journal.NewFileJournal(journal.Config{
			Dir:           cfg.Journal.Dir,
			RetentionDays: cfg.Journal.RetentionDays,
			MaxFileSizeMB: cfg.Journal.MaxFileSizeMB,
		}, logger)
		if err != nil {
			return fmt.Errorf("failed to open journal: %w", err)
		}
		defer fj.Close()
		jour = fj
	}

	// Inbound: the extension bridge.
	bridgeSrv := bridge.NewServer(logger)

	// Services. The window manager is built before the global session
	// is created so it can tell this run's session from the last one.
	globals := service.NewGlobalSessionService(client, stateStore, logger, jour)

	privateMode, err := service.NewPrivateModeService(stateStore, logger)
	if err != nil {
		return fmt.Errorf("failed to restore private mode: %w", err)
	}

	hostSync := service.NewHostSyncService(client, db, stateStore, evaluator, logger, metrics,
		service.WithSyncInterval(d.HostSync))

	heartbeat := service.NewHeartbeatService(stateStore, logger, d.Heartbeat)

	windows := service.NewWindowEventManager(globals, client, db, bridgeSrv, logger, metrics, jour,
		service.WithDebounce(d.Debounce),
		service.WithStartupWait(cfg.Session.StartupAttempts, d.StartupInterval))

	domains := service.NewDomainEventManager(client, db, hostSync, privateMode, logger, metrics, jour)

	tabs := service.NewTabEventManager(globals, client, db, bridgeSrv, windows, domains, logger, metrics, jour)
	windows.SetFocusHooks(tabs.ActiveTabBlur, tabs.ActiveTabFocus)

	events := service.NewEventManager(bridgeSrv, windows, tabs, logger, metrics)

	// Local HTTP listener: bridge, metrics, health, private mode.
	status := httpx.Status{
		Version:         Version,
		BridgeConnected: bridgeSrv.Connected,
		LastHeartbeat:   heartbeat.Last,
		GlobalSessionID: func() string {
			id, err := globals.ActiveID()
			if err != nil {
				return ""
			}
			return id
		},
	}
	httpSrv := httpx.NewServer(cfg.Server.ListenAddr, bridgeSrv.Handler(), registry, status, privateMode, logger)

	httpErr := make(chan error, 1)
	go func() {
		httpErr <- httpSrv.Start(ctx)
	}()

	// A fresh global session supersedes whatever the previous run left
	// behind.
	if _, err := globals.Create(ctx); err != nil {
		return fmt.Errorf("failed to create global session: %w", err)
	}

	if err := heartbeat.Start(ctx); err != nil {
		return fmt.Errorf("failed to start heartbeat: %w", err)
	}
	defer heartbeat.Stop()

	if err := hostSync.Start(ctx); err != nil {
		return fmt.Errorf("failed to start host sync: %w", err)
	}
	defer hostSync.Stop()

	if err := events.Start(ctx); err != nil {
		return fmt.Errorf("failed to start event dispatch: %w", err)
	}
	defer events.Stop()

	// Mirror bridge connectivity into the gauge.
	gaugeDone := make(chan struct{})
	go func() {
		defer close(gaugeDone)
		ticker := time.NewTicker(5 * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if bridgeSrv.Connected() {
					metrics.BridgeConnected.Set(1)
				} else {
					metrics.BridgeConnected.Set(0)
				}
			}
		}
	}()
	defer func() { <-gaugeDone }()

	logger.Info("surftrail started",
		"listen_addr", cfg.Server.ListenAddr,
		"api", cfg.API.BaseURL)

	select {
	case err := <-httpErr:
		if err != nil {
			return err
		}
	case <-ctx.Done():
		logger.Info("shutdown signal received")
	}

	// Stop the pipeline before closing the global session so no event
	// opens a session against a closed global. Stops are idempotent;
	// the deferred calls become no-ops.
	events.Stop()
	hostSync.Stop()
	heartbeat.Stop()

	// Close the global session with a fresh context; the signal
	// context is already cancelled.
	closeCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := globals.Close(closeCtx); err != nil {
		logger.Warn("failed to close global session on shutdown", "error", err)
	}

	return nil
}

// parseLogLevel converts a string log level to slog.Level, defaulting
// to info for unrecognized values.
func parseLogLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// writePIDFile writes the current process PID to the given path,
// creating parent directories as needed.
func writePIDFile(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	return os.WriteFile(path, []byte(fmt.Sprintf("%d\n", os.Getpid())), 0o644)
}

// readPIDFile reads a PID from the given file path. Returns 0 if
// unreadable.
func readPIDFile(path string) int {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0
	}
	pid, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil {
		return 0
	}
	return pid
}
