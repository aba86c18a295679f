package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"feedhub/internal/config"
	"feedhub/internal/database"
	"feedhub/internal/dedup"
	"feedhub/internal/feedparse"
	"feedhub/internal/fetch"
	"feedhub/internal/importer"
	"feedhub/internal/policy"
	"feedhub/internal/push"
	"feedhub/internal/refresh"
	"feedhub/internal/server"
)

func init() {
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: "2006-01-02 15:04:05"})
	zerolog.SetGlobalLevel(zerolog.DebugLevel)
}

func usage() {
	fmt.Println("Usage: feedhub [command] [options]")
	fmt.Println("Commands: import, refresh, serve")
	fmt.Println("\nFor command-specific options, use: feedhub [command] -h")
}

func main() {
	cfg := config.DefaultConfig()

	if len(os.Args) < 2 {
		usage()
		os.Exit(1)
	}
	command := os.Args[1]
	args := os.Args[2:]

	// The config file loads before the flag sets parse, so explicit flags
	// always win over file keys. The environment re-applies on top of the
	// file: defaults < file < environment < flags.
	configPath := config.GetEnvString("FEEDHUB_CONFIG", "")
	if p := configPathArg(args); p != "" {
		configPath = p
	}
	if configPath != "" {
		if err := config.LoadFile(cfg, configPath); err != nil {
			log.Error().Err(err).Str("path", configPath).Msg("Failed to load config file")
			os.Exit(1)
		}
		cfg.ApplyEnv()
	}

	var logLevelStr string

	importCmd := flag.NewFlagSet("import", flag.ExitOnError)
	importCmd.StringVar(&cfg.FeedsCSVPath, "csv", cfg.FeedsCSVPath,
		"Path to the feeds CSV file (env: FEEDHUB_CSV_PATH)")
	addCommonFlags(importCmd, cfg, configPath, &logLevelStr)

	refreshCmd := flag.NewFlagSet("refresh", flag.ExitOnError)
	var intervalMinutes int
	refreshCmd.IntVar(&intervalMinutes, "interval", int(cfg.Interval.Minutes()),
		"Interval in minutes between refresh cycles, 0 for one-shot mode (env: FEEDHUB_INTERVAL)")
	refreshCmd.IntVar(&cfg.Parallelism, "parallelism", cfg.Parallelism,
		"Number of simultaneous feed fetches (env: FEEDHUB_PARALLELISM)")
	refreshCmd.IntVar(&cfg.RetentionDays, "retention", cfg.RetentionDays,
		"Number of days to retain entries, 0 to keep forever (env: FEEDHUB_RETENTION_DAYS)")
	addCommonFlags(refreshCmd, cfg, configPath, &logLevelStr)

	serveCmd := flag.NewFlagSet("serve", flag.ExitOnError)
	serveCmd.StringVar(&cfg.ServerHost, "host", cfg.ServerHost,
		"Host to bind the server to (env: FEEDHUB_HOST)")
	serveCmd.IntVar(&cfg.ServerPort, "port", cfg.ServerPort,
		"Port to listen on (env: FEEDHUB_PORT)")
	serveCmd.StringVar(&cfg.BaseURL, "base-url", cfg.BaseURL,
		"Public base URL used to build push callback URLs (env: FEEDHUB_BASE_URL)")
	addCommonFlags(serveCmd, cfg, configPath, &logLevelStr)

	var run func(*config.Config) error

	switch command {
	case "import":
		importCmd.Parse(args)
		run = runImport

	case "refresh":
		refreshCmd.Parse(args)
		cfg.Interval = time.Duration(intervalMinutes) * time.Minute
		run = runRefresh

	case "serve":
		serveCmd.Parse(args)
		run = runServe

	case "-h", "--help", "help":
		usage()
		os.Exit(0)

	default:
		log.Error().Str("command", command).Msg("Unknown command")
		usage()
		os.Exit(1)
	}

	if level, err := zerolog.ParseLevel(logLevelStr); err == nil {
		cfg.LogLevel = level
	}
	zerolog.SetGlobalLevel(cfg.LogLevel)

	if err := cfg.Validate(); err != nil {
		log.Error().Err(err).Msg("Invalid configuration")
		os.Exit(1)
	}

	if err := run(cfg); err != nil {
		log.Error().Err(err).Str("command", command).Msg("Command failed")
		os.Exit(1)
	}
}

// configPathArg pre-scans the arguments for the -config flag. The file has
// to load before the flag set parses; otherwise its keys would clobber
// flags given on the same command line.
func configPathArg(args []string) string {
	for i, arg := range args {
		if !strings.HasPrefix(arg, "-") {
			continue
		}
		name, value, hasValue := strings.Cut(strings.TrimLeft(arg, "-"), "=")
		if name != "config" {
			continue
		}
		if hasValue {
			return value
		}
		if i+1 < len(args) {
			return args[i+1]
		}
	}
	return ""
}

func addCommonFlags(fs *flag.FlagSet, cfg *config.Config, configPath string, logLevelStr *string) {
	fs.StringVar(&cfg.DBPath, "db", cfg.DBPath,
		"Path to the SQLite database file (env: FEEDHUB_DB_PATH)")
	// Already consumed by the pre-scan; registered so parsing accepts it.
	fs.String("config", configPath, "Path to a TOML config file (env: FEEDHUB_CONFIG)")
	fs.StringVar(logLevelStr, "log-level", cfg.LogLevel.String(),
		"Log level: debug, info, warn, error (env: FEEDHUB_LOG_LEVEL)")
}

func openDB(cfg *config.Config) (*database.DB, error) {
	db, err := database.NewDB(database.NewConfig(cfg.DBPath))
	if err != nil {
		log.Error().Err(err).Str("path", cfg.DBPath).Msg("Failed to initialize database")
		return nil, fmt.Errorf("failed to initialize database: %w", err)
	}
	return db, nil
}

// runImport registers feeds from a CSV file.
func runImport(cfg *config.Config) error {
	db, err := openDB(cfg)
	if err != nil {
		return err
	}
	defer db.Close()

	return importer.New(db, cfg.MaxFeeds, cfg.MaxCategories).ImportFeeds(context.Background(), cfg.FeedsCSVPath)
}

// buildOrchestrator wires the refresh pipeline. The returned manager is nil
// when push is disabled or no public base URL is configured.
func buildOrchestrator(cfg *config.Config, db *database.DB, coalescer *push.Coalescer) (*refresh.Orchestrator, *push.Manager) {
	fetcher := fetch.New(fetch.Options{
		Timeout:      cfg.FetchTimeout,
		MaxRedirects: cfg.MaxRedirects,
		MaxBodyBytes: cfg.MaxBodyBytes,
	})
	parser := feedparse.New(cfg.MaxEntries)

	var manager *push.Manager
	opts := refresh.Options{
		Workers:       cfg.Parallelism,
		CycleTimeout:  cfg.CycleTimeout,
		Fingerprinter: dedup.Fingerprinter{},
	}
	if cfg.PushEnabled && cfg.BaseURL != "" {
		manager = push.NewManager(db, coalescer, cfg.BaseURL, cfg.PushLeaseSeconds)
		opts.Subscriber = manager
	}

	return refresh.New(db, fetcher, parser, policy.FromConfig(cfg), coalescer, opts), manager
}

// runRefresh executes refresh cycles either once or periodically.
func runRefresh(cfg *config.Config) error {
	db, err := openDB(cfg)
	if err != nil {
		return err
	}
	defer db.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		sig := <-shutdown
		log.Info().Str("signal", sig.String()).Msg("Shutdown signal received")
		cancel()
	}()

	coalescer := push.NewCoalescer(cfg.MaxFeeds)
	orch, manager := buildOrchestrator(cfg, db, coalescer)

	if cfg.Interval <= 0 {
		log.Info().Msg("Running in one-shot mode")
		return runCycle(ctx, cfg, db, orch, manager)
	}

	log.Info().Dur("interval", cfg.Interval).Msg("Running in periodic mode")
	return refreshLoop(ctx, cfg, db, orch, manager)
}

func refreshLoop(ctx context.Context, cfg *config.Config, db *database.DB, orch *refresh.Orchestrator, manager *push.Manager) error {
	if err := runCycle(ctx, cfg, db, orch, manager); err != nil {
		if errors.Is(err, context.Canceled) {
			log.Info().Msg("Refresh cycle canceled by shutdown signal")
			return nil
		}
		return err
	}

	ticker := time.NewTicker(cfg.Interval)
	defer ticker.Stop()

	log.Info().
		Time("next_run", time.Now().Add(cfg.Interval)).
		Msg("Waiting for next refresh cycle")

	for {
		select {
		case <-ticker.C:
			if err := runCycle(ctx, cfg, db, orch, manager); err != nil {
				if errors.Is(err, context.Canceled) {
					log.Info().Msg("Refresh cycle canceled by shutdown signal")
					return nil
				}
				// Keep the loop alive; the next tick retries.
				log.Error().Err(err).Msg("Refresh cycle failed")
			}

			log.Info().
				Time("next_run", time.Now().Add(cfg.Interval)).
				Msg("Waiting for next refresh cycle")

		case <-ctx.Done():
			log.Info().Msg("Shutting down periodic refresh")
			return nil
		}
	}
}

// runCycle executes one refresh cycle plus the housekeeping that rides
// along with it: entry purging and push lease renewal.
func runCycle(ctx context.Context, cfg *config.Config, db *database.DB, orch *refresh.Orchestrator, manager *push.Manager) error {
	summary, err := orch.RunCycle(ctx)
	if err != nil {
		return err
	}

	log.Info().
		Int("processed", summary.Processed).
		Int("updated", summary.Updated).
		Int("entries_added", summary.EntriesAdded).
		Dur("duration", summary.Duration).
		Msg("Refresh cycle finished")

	if cfg.RetentionDays > 0 {
		purgeCtx, purgeCancel := context.WithTimeout(ctx, 5*time.Minute)
		purged, purgeErr := db.PurgeOldEntries(purgeCtx, cfg.RetentionDays)
		purgeCancel()
		if purgeErr != nil {
			log.Error().Err(purgeErr).Msg("Failed to purge old entries")
		} else if purged > 0 {
			log.Info().Int64("purged", purged).Msg("Purged old entries")
		}
	}

	if manager != nil {
		renewed, renewErr := manager.RenewExpiring(ctx)
		if renewErr != nil {
			log.Error().Err(renewErr).Msg("Failed to renew push subscriptions")
		} else if renewed > 0 {
			log.Info().Int("renewed", renewed).Msg("Renewed push subscriptions")
		}
	}

	return nil
}

// runServe runs the HTTP surface and the periodic refresh loop in one
// process, so push notifications land in the same coalescer the
// orchestrator drains.
func runServe(cfg *config.Config) error {
	db, err := openDB(cfg)
	if err != nil {
		return err
	}
	defer db.Close()

	coalescer := push.NewCoalescer(cfg.MaxFeeds)
	orch, manager := buildOrchestrator(cfg, db, coalescer)

	deps := server.Deps{DB: db, Summary: orch}
	if cfg.PushEnabled {
		trusted, err := cfg.TrustedNetworks()
		if err != nil {
			return err
		}
		deps.Push = push.NewHandler(db, coalescer, trusted)
	}
	if cfg.PushEnabled && manager == nil {
		log.Warn().Msg("Push enabled but no base URL configured; hub subscriptions will not be requested")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	loopDone := make(chan struct{})
	go func() {
		defer close(loopDone)
		if cfg.Interval <= 0 {
			log.Info().Msg("Refresh interval disabled; refreshing only on push notifications is not supported, serving API only")
			return
		}
		if err := refreshLoop(ctx, cfg, db, orch, manager); err != nil {
			log.Error().Err(err).Msg("Refresh loop stopped")
		}
	}()

	err = server.Run(cfg, deps, log.Logger)
	cancel()
	<-loopDone
	return err
}
