// Package main implements autotable-snapshot, a one-shot tool that takes,
// lists and restores compressed store snapshots.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/autotable/autotable/internal/app"
	"github.com/autotable/autotable/internal/backup"
	"github.com/autotable/autotable/internal/config"
	"github.com/autotable/autotable/internal/logging"
)

func main() {
	var (
		configFile string
		dataDir    string
		list       bool
		prune      bool
		restore    string
		out        string
		verbose    bool
	)

	flag.StringVar(&configFile, "config", "", "Path to configuration file (YAML or JSON)")
	flag.StringVar(&dataDir, "data-dir", "", "Base directory for the store and local snapshots")
	flag.BoolVar(&list, "list", false, "List snapshots of the configured namespace")
	flag.BoolVar(&prune, "prune", false, "Apply the retention policy after taking a snapshot")
	flag.StringVar(&restore, "restore", "", "Snapshot object to restore")
	flag.StringVar(&out, "out", "", "Destination database file for -restore")
	flag.BoolVar(&verbose, "v", false, "Enable debug logging")
	flag.Parse()

	ll := &slog.LevelVar{}
	if verbose {
		ll.Set(slog.LevelDebug)
	}
	logger := logging.New(os.Stderr, ll)
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, logger, configFile, dataDir, list, prune, restore, out); err != nil {
		logger.Error("autotable-snapshot failed", "err", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, logger *slog.Logger, configFile, dataDir string, list, prune bool, restore, out string) error {
	cfg := config.DefaultConfig()
	if configFile != "" {
		var err error
		if cfg, err = config.LoadFromFile(configFile); err != nil {
			return err
		}
	}
	if err := config.LoadFromEnv(cfg); err != nil {
		return err
	}
	if dataDir != "" {
		cfg.DataDir = dataDir
	}
	cfg.Resolve()
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	if err := cfg.EnsureDirectories(); err != nil {
		return err
	}

	objects, err := app.OpenStorage(ctx, cfg)
	if err != nil {
		return fmt.Errorf("failed to open storage: %w", err)
	}

	switch {
	case restore != "":
		if out == "" {
			return fmt.Errorf("-restore requires -out")
		}
		if err := backup.Restore(ctx, objects, restore, out); err != nil {
			return err
		}
		logger.Info("snapshot restored", "object", restore, "path", out)
		return nil

	case list:
		infos, err := backup.List(ctx, objects, cfg.Backup.Prefix, cfg.Store.Namespace)
		if err != nil {
			return err
		}
		tw := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(tw, "OBJECT\tSIZE\tMODIFIED")
		for _, info := range infos {
			fmt.Fprintf(tw, "%s\t%d\t%s\n", info.Path, info.Size, info.LastModified.UTC().Format(time.RFC3339))
		}
		return tw.Flush()
	}

	st, err := app.OpenStore(cfg)
	if err != nil {
		return fmt.Errorf("failed to open store: %w", err)
	}
	defer st.Close()

	snap := backup.NewSnapshotter(st, objects, app.SnapshotConfig(cfg), logger)
	res, err := snap.Snapshot(ctx)
	if err != nil {
		return err
	}
	fmt.Println(res.Object)

	if prune {
		n, err := snap.Prune(ctx)
		if err != nil {
			return err
		}
		logger.Info("old snapshots pruned", "count", n)
	}
	return nil
}
