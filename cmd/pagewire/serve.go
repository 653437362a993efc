package main

import (
	"context"
	"database/sql"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	_ "modernc.org/sqlite"

	"github.com/vango-dev/pagewire/internal/config"
	"github.com/vango-dev/pagewire/internal/errors"
	"github.com/vango-dev/pagewire/pkg/server"
	"github.com/vango-dev/pagewire/pkg/session"
)

type serveOptions struct {
	configPath string
	addr       string
	ajax       bool
	crash      bool
	debug      bool
	store      string
	dbPath     string
}

func serveCmd() *cobra.Command {
	var opts serveOptions

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the demo pages",
		Long: `Serve a handful of demo pages: a click counter at /, a clock that the
server updates every second at /clock, and a per-session visit counter at
/visits.

Settings come from pagewire.yaml, pagewire.yml or pagewire.json in the
current directory (or --config), then PAGEWIRE_* environment variables,
then flags.

Examples:
  pagewire serve
  pagewire serve --addr=127.0.0.1:9000 --ajax
  pagewire serve --store=sqlite --db=sessions.db`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd, opts)
		},
	}

	cmd.Flags().StringVarP(&opts.configPath, "config", "c", "", "Config file (default: pagewire.yaml in the working directory)")
	cmd.Flags().StringVarP(&opts.addr, "addr", "a", "", "Address to listen on")
	cmd.Flags().BoolVar(&opts.ajax, "ajax", false, "Poll instead of opening websocket channels")
	cmd.Flags().BoolVar(&opts.crash, "crash", false, "Exit when an event handler fails")
	cmd.Flags().BoolVar(&opts.debug, "debug", false, "Log every dispatched event")
	cmd.Flags().StringVar(&opts.store, "store", "memory", "Session value store: memory or sqlite")
	cmd.Flags().StringVar(&opts.dbPath, "db", "pagewire.db", "SQLite file for --store=sqlite")

	return cmd
}

func runServe(cmd *cobra.Command, opts serveOptions) error {
	path := opts.configPath
	if path == "" {
		path = config.Find(".")
	}
	cfg, err := config.Load(path)
	if err != nil {
		return err
	}

	flags := cmd.Flags()
	if flags.Changed("addr") {
		cfg.Address = opts.addr
	}
	if flags.Changed("ajax") {
		cfg.AjaxOnly = opts.ajax
	}
	if flags.Changed("crash") {
		cfg.Crash = opts.crash
	}
	if flags.Changed("debug") {
		cfg.Debug = opts.debug
	}

	logger := cfg.Logger(os.Stderr)

	store, closeStore, err := openStore(cmd.Context(), opts)
	if err != nil {
		return err
	}
	defer closeStore()

	app, err := server.New(cfg.Server(), server.WithLogger(logger))
	if err != nil {
		return err
	}
	mountDemo(app, session.NewValues(store, 0))

	fmt.Println()
	info("pagewire %s", version)
	if cfg.Path() != "" {
		info("config:  %s", cfg.Path())
	}
	info("listen:  %s", cfg.Address)
	info("store:   %s", opts.store)
	fmt.Println()

	if err := app.Run(context.Background()); err != nil {
		return errors.New("X001").Wrap(err)
	}
	return nil
}

func openStore(ctx context.Context, opts serveOptions) (session.Store, func(), error) {
	switch opts.store {
	case "memory":
		store := session.NewMemoryStore()
		return store, func() { store.Close() }, nil
	case "sqlite":
		db, err := sql.Open("sqlite", opts.dbPath)
		if err != nil {
			return nil, nil, fmt.Errorf("open %s: %w", opts.dbPath, err)
		}
		db.SetMaxOpenConns(1)
		store := session.NewSQLStore(db, session.WithSQLDialect(session.DialectSQLite))
		if ctx == nil {
			ctx = context.Background()
		}
		if err := store.Migrate(ctx); err != nil {
			db.Close()
			return nil, nil, err
		}
		return store, func() {
			store.Close()
			db.Close()
		}, nil
	default:
		return nil, nil, fmt.Errorf("unknown store %q: use memory or sqlite", opts.store)
	}
}
