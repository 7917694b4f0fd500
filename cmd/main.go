package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/Dosada05/tournament-dispatch/config"
	"github.com/Dosada05/tournament-dispatch/db"
	"github.com/Dosada05/tournament-dispatch/logging"
	"github.com/Dosada05/tournament-dispatch/repositories"
)

const dbConnectTimeout = 5 * time.Second

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "dispatch",
		Short:         "Live tournament table dispatch service",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	serve := newServeCmd()
	root.AddCommand(serve, newMigrateCmd(), newImportTablesCmd())
	// Без подкоманды запускаем сервер
	root.RunE = serve.RunE
	root.Flags().AddFlagSet(serve.Flags())
	return root
}

// bootstrap loads configuration and builds the logger.
func bootstrap() (*config.Config, *slog.Logger, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load configuration: %w", err)
	}
	logger := logging.NewLogger(logging.ParseLevel(cfg.LogLevel), cfg.LogFormat)
	slog.SetDefault(logger)
	return cfg, logger, nil
}

// openStore returns the configured store. With postgres, migrate applies the schema first.
func openStore(ctx context.Context, cfg *config.Config, logger *slog.Logger, migrate bool) (repositories.Store, error) {
	if cfg.Store == config.StoreMemory {
		logger.Warn("using in-memory store, data is lost on restart")
		return repositories.NewMemoryStore(), nil
	}

	dbConn, err := db.Connect(cfg.DatabaseURL, dbConnectTimeout, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	logger.Info("database connection established")

	if migrate {
		if err := db.Migrate(ctx, dbConn); err != nil {
			_ = dbConn.Close()
			return nil, err
		}
		logger.Info("database schema is up to date")
	}
	return repositories.NewPostgresStore(dbConn, logger), nil
}

func newMigrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply the database schema",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := bootstrap()
			if err != nil {
				return err
			}
			if cfg.Store != config.StorePostgres {
				return fmt.Errorf("migrate requires STORE=%s", config.StorePostgres)
			}
			store, err := openStore(cmd.Context(), cfg, logger, true)
			if err != nil {
				return err
			}
			return store.Close()
		},
	}
}
