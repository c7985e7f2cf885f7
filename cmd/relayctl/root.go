package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"feed_relay/internal/config"
	"feed_relay/internal/registry"
	"feed_relay/internal/storage"
)

type app struct {
	dbPath  string
	verbose bool

	out   io.Writer
	cfg   *config.Config
	log   *slog.Logger
	store *storage.SQLite
	reg   *registry.Registry
}

func run(ctx context.Context, args []string, out io.Writer) error {
	a := &app{out: out}
	defer a.close()

	root := a.rootCmd()
	root.SetArgs(args)
	root.SetOut(out)
	return root.ExecuteContext(ctx)
}

func (a *app) rootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "relayctl",
		Short: "Administer feed relay groups and settings",
		Long: `relayctl edits the database used by the relay daemon.

Example usage:
  relayctl group add news -u jane -w https://discord.com/api/webhooks/...
  relayctl group apply -f group.json
  relayctl group list
  relayctl settings set delay_minutes 5
  relayctl run`,
		SilenceUsage:      true,
		SilenceErrors:     true,
		PersistentPreRunE: a.open,
	}

	root.PersistentFlags().StringVar(&a.dbPath, "db", "", "path to sqlite database (default $DATABASE_PATH or ./data/relay.db)")
	root.PersistentFlags().BoolVarP(&a.verbose, "verbose", "v", false, "verbose output")

	root.AddCommand(a.groupCmd(), a.settingsCmd(), a.runCmd())
	return root
}

func (a *app) open(cmd *cobra.Command, _ []string) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if a.dbPath != "" {
		cfg.DatabasePath = a.dbPath
	}
	a.cfg = cfg

	lvl := slog.LevelWarn
	if a.verbose {
		lvl = slog.LevelDebug
	}
	a.log = slog.New(slog.NewTextHandler(cmd.ErrOrStderr(), &slog.HandlerOptions{Level: lvl}))

	if dir := filepath.Dir(cfg.DatabasePath); dir != "." {
		if err := os.MkdirAll(dir, 0o750); err != nil {
			return fmt.Errorf("create data directory: %w", err)
		}
	}
	store, err := storage.NewSQLite(cfg.DatabasePath)
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	a.store = store
	a.reg = registry.New(store, a.log)
	return nil
}

func (a *app) close() {
	if a.store != nil {
		_ = a.store.Close()
	}
}
