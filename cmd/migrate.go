package cmd

import (
	"errors"

	"github.com/spf13/cobra"

	"github.com/JakeFAU/social-crawl-orchestrator/internal/database"
)

// migrateUp and migrateDown are swapped in tests.
var (
	migrateUp   = database.MigrateUp
	migrateDown = database.MigrateDown
)

func newMigrateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Apply or roll back the Postgres schema",
	}
	cmd.AddCommand(
		&cobra.Command{
			Use:   "up",
			Short: "Apply all pending migrations",
			RunE: func(cmd *cobra.Command, _ []string) error {
				e, err := migrationEnv(cmd)
				if err != nil {
					return err
				}
				return migrateUp(e.cfg.DB.DSN, e.logger)
			},
		},
		&cobra.Command{
			Use:   "down",
			Short: "Roll back the most recent migration",
			RunE: func(cmd *cobra.Command, _ []string) error {
				e, err := migrationEnv(cmd)
				if err != nil {
					return err
				}
				return migrateDown(e.cfg.DB.DSN, e.logger)
			},
		},
	)
	return cmd
}

func migrationEnv(cmd *cobra.Command) (*env, error) {
	e, err := resolveEnv(cmd.Context())
	if err != nil {
		return nil, err
	}
	if e.cfg.DB.DSN == "" {
		return nil, errors.New("db.dsn is required for migrations")
	}
	return e, nil
}
