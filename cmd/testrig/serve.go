package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/seantiz/testrig/internal/api"
	"github.com/seantiz/testrig/internal/config"
	"github.com/seantiz/testrig/internal/engine"
	"github.com/seantiz/testrig/internal/executor"
	"github.com/seantiz/testrig/internal/executor/local"
	"github.com/seantiz/testrig/internal/store"
)

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Serve the invocation API",
		Long: `serve runs invocations submitted over HTTP with the internal executor.

The server runs any command it is sent on this host, so it listens on
127.0.0.1:8080 unless TESTRIG_LISTEN_ADDR says otherwise. Browser access is
off unless TESTRIG_CORS_ORIGINS lists the allowed origins.

Other settings: TESTRIG_DB_PATH, TESTRIG_LOG_LEVEL, TESTRIG_KILL_GRACE.`,
		Args: cobra.NoArgs,
		RunE: func(_ *cobra.Command, _ []string) error {
			return serve(config.Load())
		},
	}
}

func serve(cfg config.Config) error {
	logger := config.NewLogger(os.Stdout, cfg.LogLevel)

	logger.Info("testrig: starting",
		"listen_addr", cfg.ListenAddr,
		"db_path", cfg.DBPath,
	)

	db, err := store.NewSQLiteStore(cfg.DBPath)
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer db.Close()

	// Only the internal executor is registered so a server never forwards
	// invocations to another server, itself included.
	reg := executor.NewRegistry()
	reg.Register(executor.InternalName, local.New(logger, local.WithGrace(cfg.KillGrace)))
	reg.SetDefault(executor.InternalName)

	eng := engine.NewEngine(db, reg, logger)
	srv := api.NewServer(cfg.ListenAddr, db, reg, eng, logger, api.WithAllowedOrigins(cfg.CORSOrigins...))

	if err := srv.Run(); err != nil {
		return fmt.Errorf("server: %w", err)
	}
	return nil
}
