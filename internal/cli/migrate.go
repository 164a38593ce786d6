package cli

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/JannisRoesner/PICARD-sub000/internal/adapter/postgres"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/spf13/cobra"
)

const connectTimeout = 10 * time.Second

var errNoDatabaseURL = errors.New("database URL required (--database-url or DATABASE_URL env)")

func NewMigrateCommand() *cobra.Command {
	var (
		databaseURL string
		statusOnly  bool
	)

	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Apply pending database migrations",
		Long: `Apply all pending PostgreSQL migrations while holding the advisory
migration lock, then print the schema version. The server applies the same
migrations on startup; this command lets operators run them ahead of a deploy.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			pool, err := openPool(cmd.Context(), databaseURL)
			if err != nil {
				return err
			}
			defer pool.Close()

			if !statusOnly {
				if err := postgres.RunMigrationsWithLock(cmd.Context(), pool); err != nil {
					return fmt.Errorf("migration failed: %w", err)
				}
			}

			current, latest, err := postgres.SchemaVersion(cmd.Context(), pool)
			if err != nil {
				return err
			}
			_, err = fmt.Fprintf(cmd.OutOrStdout(), "schema version %d of %d\n", current, latest)
			return err
		},
	}

	cmd.Flags().StringVar(&databaseURL, "database-url", "", "PostgreSQL URL (or set DATABASE_URL env)")
	cmd.Flags().BoolVar(&statusOnly, "status", false, "only print the schema version")

	return cmd
}

func openPool(ctx context.Context, databaseURL string) (*pgxpool.Pool, error) {
	databaseURL = envOr(databaseURL, "DATABASE_URL")
	if databaseURL == "" {
		return nil, errNoDatabaseURL
	}

	ctx, cancel := context.WithTimeout(ctx, connectTimeout)
	defer cancel()
	return postgres.Connect(ctx, databaseURL, nil)
}
