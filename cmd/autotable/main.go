// Package main implements the autotable server binary.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/autotable/autotable/internal/app"
	"github.com/autotable/autotable/internal/config"
	"github.com/autotable/autotable/internal/logging"
)

var (
	version = "dev"
	commit  = "unknown"
)

func main() {
	var (
		configFile  string
		dataDir     string
		namespace   string
		httpAddr    string
		grpcAddr    string
		logLevel    string
		strict      bool
		verbose     bool
		showVersion bool
		showHelp    bool
	)

	flag.StringVar(&configFile, "config", "", "Path to configuration file (YAML or JSON)")
	flag.StringVar(&dataDir, "data-dir", "", "Base directory for the store and local snapshots")
	flag.StringVar(&namespace, "namespace", "", "Schema that tables are created in")
	flag.StringVar(&httpAddr, "http-addr", "", "HTTP listen address")
	flag.StringVar(&grpcAddr, "grpc-addr", "", "gRPC listen address")
	flag.StringVar(&logLevel, "log-level", "info", "Log level: debug, info, warn, error")
	flag.BoolVar(&strict, "strict", false, "Fail updates of unknown keys with NOT_FOUND")
	flag.BoolVar(&verbose, "v", false, "Enable debug logging")
	flag.BoolVar(&showVersion, "version", false, "Show version information")
	flag.BoolVar(&showHelp, "help", false, "Show help message")

	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "AutoTable - schema-less writes into a relational store\n\n")
		fmt.Fprintf(os.Stderr, "Usage: autotable [options]\n\n")
		fmt.Fprintf(os.Stderr, "Options:\n")
		flag.PrintDefaults()
		fmt.Fprintf(os.Stderr, "\nExamples:\n")
		fmt.Fprintf(os.Stderr, "  autotable --data-dir /var/lib/autotable\n")
		fmt.Fprintf(os.Stderr, "  autotable --config /etc/autotable/config.yaml --strict\n")
		fmt.Fprintf(os.Stderr, "\nEnvironment Variables:\n")
		fmt.Fprintf(os.Stderr, "  AUTOTABLE_DATA_DIR          Base directory for data files\n")
		fmt.Fprintf(os.Stderr, "  AUTOTABLE_STORE_NAMESPACE   Schema that tables are created in\n")
		fmt.Fprintf(os.Stderr, "  AUTOTABLE_HTTP_ADDR         HTTP listen address\n")
		fmt.Fprintf(os.Stderr, "  AUTOTABLE_GRPC_ADDR         gRPC listen address\n")
		fmt.Fprintf(os.Stderr, "  AUTOTABLE_BACKUP_ENABLED    Run the snapshot daemon\n")
		fmt.Fprintf(os.Stderr, "  AUTOTABLE_STORAGE_TYPE      Snapshot storage (local, s3)\n")
	}

	flag.Parse()

	if showHelp {
		flag.Usage()
		os.Exit(0)
	}
	if showVersion {
		fmt.Printf("autotable version %s (commit: %s)\n", version, commit)
		os.Exit(0)
	}

	ll := &slog.LevelVar{}
	lvl, err := logging.ParseLevel(logLevel)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}
	ll.Set(lvl)
	if verbose {
		ll.Set(slog.LevelDebug)
	}
	logger := logging.New(os.Stderr, ll)
	slog.SetDefault(logger)

	cfg, err := loadConfig(configFile, dataDir, namespace, httpAddr, grpcAddr, strict)
	if err != nil {
		logger.Error("failed to load configuration", "err", err)
		os.Exit(1)
	}

	application, err := app.New(cfg, logger)
	if err != nil {
		logger.Error("failed to create application", "err", err)
		os.Exit(1)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := application.Start(ctx); err != nil {
		logger.Error("failed to start application", "err", err)
		os.Exit(1)
	}
	logger.Info("autotable ready", "version", version, "http", application.HTTPAddr(), "grpc", application.GRPCAddr())

	if err := application.WaitForShutdown(ctx); err != nil {
		logger.Warn("shutdown reported errors", "err", err)
	}

	stopCtx, stopCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer stopCancel()
	if err := application.Stop(stopCtx); err != nil {
		logger.Error("shutdown error", "err", err)
		os.Exit(1)
	}
}

// loadConfig layers the config file, the environment and command line
// flags, in increasing priority.
func loadConfig(configFile, dataDir, namespace, httpAddr, grpcAddr string, strict bool) (*config.Config, error) {
	var cfg *config.Config
	var err error

	if configFile != "" {
		cfg, err = config.LoadFromFile(configFile)
		if err != nil {
			return nil, fmt.Errorf("failed to load config file: %w", err)
		}
	} else {
		cfg = config.DefaultConfig()
	}

	if err := config.LoadFromEnv(cfg); err != nil {
		return nil, err
	}

	if dataDir != "" {
		cfg.DataDir = dataDir
	}
	if namespace != "" {
		cfg.Store.Namespace = namespace
	}
	if httpAddr != "" {
		cfg.HTTP.Addr = httpAddr
	}
	if grpcAddr != "" {
		cfg.GRPC.Addr = grpcAddr
	}
	if strict {
		cfg.Engine.StrictUpdate = true
	}
	return cfg, nil
}
