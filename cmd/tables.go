package main

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/spf13/cobra"

	"github.com/Dosada05/tournament-dispatch/config"
	"github.com/Dosada05/tournament-dispatch/models"
	"github.com/Dosada05/tournament-dispatch/services"
)

func newImportTablesCmd() *cobra.Command {
	var (
		file   string
		asUser int
		admin  bool
	)
	cmd := &cobra.Command{
		Use:   "import-tables",
		Short: "Create the tables of a venue layout file",
		Example: `  dispatch import-tables --file venue.yaml --as-user 7
  dispatch import-tables --file venue.yaml --admin`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if asUser <= 0 && !admin {
				return fmt.Errorf("either --as-user or --admin is required")
			}
			layout, err := config.LoadVenueFile(file)
			if err != nil {
				return err
			}

			cfg, logger, err := bootstrap()
			if err != nil {
				return err
			}
			ctx := cmd.Context()
			if ctx == nil {
				ctx = context.Background()
			}
			store, err := openStore(ctx, cfg, logger, false)
			if err != nil {
				return err
			}
			defer store.Close()

			p := models.Principal{UserID: asUser, Role: models.RoleOrganizer, Device: "cli"}
			if admin {
				p.Role = models.RoleAdmin
			}
			tables := services.NewTableService(store, logger, services.TableServiceOptions{
				Turnaround: cfg.Scheduler.TableTurnaround,
				Now:        time.Now,
			})
			created, err := tables.BulkCreateTables(ctx, p, layout.TournamentID, layout.Labels())
			if err != nil {
				return fmt.Errorf("failed to import tables: %w", err)
			}
			logger.Info("venue imported",
				slog.Int("tournament_id", layout.TournamentID),
				slog.Int("tables", len(created)),
				slog.String("file", file))
			return nil
		},
	}
	cmd.Flags().StringVar(&file, "file", "", "venue layout YAML file")
	cmd.Flags().IntVar(&asUser, "as-user", 0, "organizer user id that owns the tournament")
	cmd.Flags().BoolVar(&admin, "admin", false, "act as an administrator")
	_ = cmd.MarkFlagRequired("file")
	return cmd
}
