// Command manage runs one-off administrative tasks against the database.
package main

import (
	"context"
	"database/sql"
	"fmt"
	"os"

	_ "github.com/joho/godotenv/autoload"
	"github.com/spf13/cobra"

	"projectapi/internal/config"
	"projectapi/internal/database"
	"projectapi/internal/database/migration"
	"projectapi/internal/logger"
	"projectapi/internal/repository/postgres"
	"projectapi/internal/service"
)

// opener connects to the database; swapped in tests.
type opener func(ctx context.Context, cfg *config.AppConfig) (*sql.DB, error)

func openPostgres(ctx context.Context, cfg *config.AppConfig) (*sql.DB, error) {
	return database.NewPostgres(ctx, cfg.Database)
}

func main() {
	cfg := config.Load()
	logger.Init(logger.Config{Level: cfg.Log.Level, Format: cfg.Log.Format})

	cmd := newRootCmd(cfg, openPostgres)
	if err := cmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		logger.Sync()
		os.Exit(1)
	}
	logger.Sync()
}

func newRootCmd(cfg *config.AppConfig, open opener) *cobra.Command {
	cmd := &cobra.Command{
		Use:           "manage",
		Short:         "Administrative commands for projectapi",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.AddCommand(
		migrateCmd(cfg, open),
		showMigrationsCmd(cfg, open),
		createSuperuserCmd(cfg, open),
	)
	return cmd
}

func withDB(cmd *cobra.Command, cfg *config.AppConfig, open opener, fn func(ctx context.Context, db *sql.DB) error) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	db, err := open(ctx, cfg)
	if err != nil {
		return fmt.Errorf("connect database: %w", err)
	}
	defer db.Close()
	return fn(ctx, db)
}

func migrateCmd(cfg *config.AppConfig, open opener) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply pending schema migrations",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withDB(cmd, cfg, open, func(ctx context.Context, db *sql.DB) error {
				pending, err := migration.Pending(ctx, db)
				if err != nil {
					return err
				}
				if len(pending) == 0 {
					fmt.Fprintln(cmd.OutOrStdout(), "No migrations to apply.")
					return nil
				}
				if err := migration.Migrate(ctx, db); err != nil {
					return err
				}
				for _, name := range pending {
					fmt.Fprintf(cmd.OutOrStdout(), "Applying %s... OK\n", name)
				}
				return nil
			})
		},
	}
}

func showMigrationsCmd(cfg *config.AppConfig, open opener) *cobra.Command {
	return &cobra.Command{
		Use:   "showmigrations",
		Short: "List schema migrations and whether each is applied",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withDB(cmd, cfg, open, func(ctx context.Context, db *sql.DB) error {
				status, err := migration.Status(ctx, db)
				if err != nil {
					return err
				}
				for _, s := range status {
					mark := " "
					if s.Applied {
						mark = "X"
					}
					fmt.Fprintf(cmd.OutOrStdout(), " [%s] %s\n", mark, s.Name)
				}
				return nil
			})
		},
	}
}

func createSuperuserCmd(cfg *config.AppConfig, open opener) *cobra.Command {
	var in service.RegisterInput

	cmd := &cobra.Command{
		Use:   "createsuperuser",
		Short: "Create a staff account with every permission",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withDB(cmd, cfg, open, func(ctx context.Context, db *sql.DB) error {
				auth := service.NewAuthService(postgres.NewUserPostgres(db), cfg.JWT)
				u, err := auth.CreateSuperuser(ctx, in)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Superuser created: %s\n", u)
				return nil
			})
		},
	}

	cmd.Flags().StringVar(&in.Email, "email", "", "e-mail address (login name)")
	cmd.Flags().StringVar(&in.Password, "password", "", "password, at least 8 characters")
	cmd.Flags().StringVar(&in.FirstName, "first-name", "", "first name")
	cmd.Flags().StringVar(&in.LastName, "last-name", "", "last name")
	for _, f := range []string{"email", "password", "first-name", "last-name"} {
		_ = cmd.MarkFlagRequired(f)
	}
	return cmd
}
