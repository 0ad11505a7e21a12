// Package main implements the standalone blocklog daemon. It serves the
// read-only HTTP API over an existing database and runs retention and
// snapshot maintenance. No game host is attached.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"go.uber.org/zap"

	"github.com/blocklog/blocklog/internal/app"
	"github.com/blocklog/blocklog/internal/config"
	"github.com/blocklog/blocklog/internal/host"
	"github.com/blocklog/blocklog/internal/logging"
	"github.com/blocklog/blocklog/internal/server"
)

var (
	version = "dev"
	commit  = "unknown"
)

func main() {
	var (
		configFile    string
		dataDir       string
		httpAddr      string
		logLevel      string
		retentionDays int
		backup        bool
		showVersion   bool
	)

	flag.StringVar(&configFile, "config", "", "Path to configuration file (YAML or JSON)")
	flag.StringVar(&dataDir, "data-dir", "", "Base directory for the database and local snapshots")
	flag.StringVar(&httpAddr, "http-addr", "", "HTTP listen address (e.g. :8180)")
	flag.StringVar(&logLevel, "log-level", "", "Log level: debug, info, warn, error")
	flag.IntVar(&retentionDays, "retention-days", -1, "Delete history older than this many days (0 keeps everything)")
	flag.BoolVar(&backup, "backup", false, "Enable periodic snapshots")
	flag.BoolVar(&showVersion, "version", false, "Show version information")

	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "blocklog - block history daemon\n\n")
		fmt.Fprintf(os.Stderr, "Usage: blocklog [options]\n\n")
		fmt.Fprintf(os.Stderr, "Options:\n")
		flag.PrintDefaults()
		fmt.Fprintf(os.Stderr, "\nEnvironment Variables:\n")
		fmt.Fprintf(os.Stderr, "  BLOCKLOG_DATA_DIR         Base directory for data files\n")
		fmt.Fprintf(os.Stderr, "  BLOCKLOG_HTTP_ADDR        HTTP listen address\n")
		fmt.Fprintf(os.Stderr, "  BLOCKLOG_RETENTION_DAYS   Retention window in days\n")
		fmt.Fprintf(os.Stderr, "  BLOCKLOG_BACKUP_ENABLED   Enable snapshots\n")
		fmt.Fprintf(os.Stderr, "  BLOCKLOG_STORAGE_TYPE     Snapshot storage (local, s3)\n")
	}
	flag.Parse()

	if showVersion {
		fmt.Printf("blocklog version %s (commit: %s)\n", version, commit)
		return
	}

	cfg, err := loadConfig(configFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	// Flags take precedence over the file and the environment.
	if dataDir != "" {
		cfg.DataDir = dataDir
	}
	if httpAddr != "" {
		cfg.HTTP.Addr = httpAddr
	}
	if logLevel != "" {
		cfg.Log.Level = logLevel
	}
	if retentionDays >= 0 {
		cfg.Retention.Days = retentionDays
	}
	if backup {
		cfg.Backup.Enabled = true
	}

	logger, err := logging.New(cfg.Log)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to build logger: %v\n", err)
		os.Exit(1)
	}
	logger.Info("starting blocklog", zap.String("version", version), zap.String("commit", commit))

	application, err := app.New(cfg, host.Host{}, logger)
	if err != nil {
		logger.Fatal("failed to create application", zap.Error(err))
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := application.Start(ctx); err != nil {
		logger.Fatal("failed to start application", zap.Error(err))
	}

	shutdown := server.NewShutdownManager(30*time.Second, logger)
	shutdown.RegisterCloser("app", application)

	if err := shutdown.ListenForSignals(ctx); err != nil {
		logger.Error("shutdown error", zap.Error(err))
		os.Exit(1)
	}
}

func loadConfig(path string) (*config.Config, error) {
	cfg := config.DefaultConfig()
	if path != "" {
		var err error
		if cfg, err = config.LoadFromFile(path); err != nil {
			return nil, err
		}
	}
	if err := config.LoadFromEnv(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}
